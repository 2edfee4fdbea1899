package enums

import "fmt"

// PaymentStatus tracks payment progress for orders and payment records.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusSuccess           PaymentStatus = "success"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusRefunded          PaymentStatus = "refunded"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusSuccess,
	PaymentStatusFailed,
	PaymentStatusPartiallyRefunded,
	PaymentStatusRefunded,
}

// Webhooks can arrive out of order and the reconcile path can flip a failed
// payment to success, so failed is not terminal.
var paymentStatusGraph = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:           {PaymentStatusSuccess, PaymentStatusFailed},
	PaymentStatusSuccess:           {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
	PaymentStatusFailed:            {PaymentStatusSuccess},
	PaymentStatusPartiallyRefunded: {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
	PaymentStatusRefunded:          nil,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether target is reachable in one step.
func (p PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, candidate := range paymentStatusGraph[p] {
		if candidate == target {
			return true
		}
	}
	return false
}

// AllowedNext returns the statuses legally reachable from the current one.
func (p PaymentStatus) AllowedNext() []PaymentStatus {
	next := paymentStatusGraph[p]
	out := make([]PaymentStatus, len(next))
	copy(out, next)
	return out
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
