package enums

import "fmt"

// RefundStatus drives the refund lifecycle.
type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusApproved   RefundStatus = "approved"
	RefundStatusRejected   RefundStatus = "rejected"
	RefundStatusCancelled  RefundStatus = "cancelled"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
)

var validRefundStatuses = []RefundStatus{
	RefundStatusPending,
	RefundStatusApproved,
	RefundStatusRejected,
	RefundStatusCancelled,
	RefundStatusProcessing,
	RefundStatusCompleted,
	RefundStatusFailed,
}

var refundStatusGraph = map[RefundStatus][]RefundStatus{
	RefundStatusPending:    {RefundStatusApproved, RefundStatusRejected, RefundStatusCancelled},
	RefundStatusApproved:   {RefundStatusProcessing, RefundStatusCancelled},
	RefundStatusProcessing: {RefundStatusCompleted, RefundStatusFailed},
	RefundStatusFailed:     {RefundStatusProcessing},
	RefundStatusRejected:   nil,
	RefundStatusCancelled:  nil,
	RefundStatusCompleted:  nil,
}

// String implements fmt.Stringer.
func (r RefundStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundStatus.
func (r RefundStatus) IsValid() bool {
	for _, candidate := range validRefundStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist.
func (r RefundStatus) IsTerminal() bool {
	return len(refundStatusGraph[r]) == 0 && r.IsValid()
}

// CanTransitionTo reports whether target is reachable in one step.
func (r RefundStatus) CanTransitionTo(target RefundStatus) bool {
	for _, candidate := range refundStatusGraph[r] {
		if candidate == target {
			return true
		}
	}
	return false
}

// AllowedNext returns the statuses legally reachable from the current one.
func (r RefundStatus) AllowedNext() []RefundStatus {
	next := refundStatusGraph[r]
	out := make([]RefundStatus, len(next))
	copy(out, next)
	return out
}

// ParseRefundStatus converts raw input into a RefundStatus.
func ParseRefundStatus(value string) (RefundStatus, error) {
	for _, candidate := range validRefundStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund status %q", value)
}
