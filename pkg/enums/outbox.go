package enums

import "fmt"

// OutboxEventType names the lifecycle events published through the outbox.
type OutboxEventType string

const (
	OutboxEventOrderCreated       OutboxEventType = "order.created"
	OutboxEventOrderStatusChanged OutboxEventType = "order.status_changed"
	OutboxEventOrderCancelled     OutboxEventType = "order.cancelled"
	OutboxEventPaymentCaptured    OutboxEventType = "payment.captured"
	OutboxEventPaymentFailed      OutboxEventType = "payment.failed"
	OutboxEventRefundRequested    OutboxEventType = "refund.requested"
	OutboxEventRefundCompleted    OutboxEventType = "refund.completed"
	OutboxEventReturnRequested    OutboxEventType = "return.requested"
	OutboxEventReturnCompleted    OutboxEventType = "return.completed"
)

var validOutboxEventTypes = []OutboxEventType{
	OutboxEventOrderCreated,
	OutboxEventOrderStatusChanged,
	OutboxEventOrderCancelled,
	OutboxEventPaymentCaptured,
	OutboxEventPaymentFailed,
	OutboxEventRefundRequested,
	OutboxEventRefundCompleted,
	OutboxEventReturnRequested,
	OutboxEventReturnCompleted,
}

// String implements fmt.Stringer.
func (o OutboxEventType) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OutboxEventType.
func (o OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	OutboxAggregateOrder   OutboxAggregateType = "order"
	OutboxAggregatePayment OutboxAggregateType = "payment"
	OutboxAggregateRefund  OutboxAggregateType = "refund"
	OutboxAggregateReturn  OutboxAggregateType = "return"
)

var validOutboxAggregateTypes = []OutboxAggregateType{
	OutboxAggregateOrder,
	OutboxAggregatePayment,
	OutboxAggregateRefund,
	OutboxAggregateReturn,
}

// String implements fmt.Stringer.
func (o OutboxAggregateType) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OutboxAggregateType.
func (o OutboxAggregateType) IsValid() bool {
	for _, candidate := range validOutboxAggregateTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into an OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
