package enums

import "fmt"

// ReturnStatus drives the return lifecycle from request to inspection.
type ReturnStatus string

const (
	ReturnStatusPending                 ReturnStatus = "pending"
	ReturnStatusApproved                ReturnStatus = "approved"
	ReturnStatusRejected                ReturnStatus = "rejected"
	ReturnStatusCancelled               ReturnStatus = "cancelled"
	ReturnStatusPickupScheduled         ReturnStatus = "pickup_scheduled"
	ReturnStatusPickedUp                ReturnStatus = "picked_up"
	ReturnStatusAccepted                ReturnStatus = "accepted"
	ReturnStatusRejectedAfterInspection ReturnStatus = "rejected_after_inspection"
	ReturnStatusCompleted               ReturnStatus = "completed"
)

var validReturnStatuses = []ReturnStatus{
	ReturnStatusPending,
	ReturnStatusApproved,
	ReturnStatusRejected,
	ReturnStatusCancelled,
	ReturnStatusPickupScheduled,
	ReturnStatusPickedUp,
	ReturnStatusAccepted,
	ReturnStatusRejectedAfterInspection,
	ReturnStatusCompleted,
}

var returnStatusGraph = map[ReturnStatus][]ReturnStatus{
	ReturnStatusPending:                 {ReturnStatusApproved, ReturnStatusRejected, ReturnStatusCancelled},
	ReturnStatusApproved:                {ReturnStatusPickupScheduled, ReturnStatusCancelled},
	ReturnStatusPickupScheduled:         {ReturnStatusPickedUp, ReturnStatusCancelled},
	ReturnStatusPickedUp:                {ReturnStatusAccepted, ReturnStatusRejectedAfterInspection},
	ReturnStatusAccepted:                {ReturnStatusCompleted},
	ReturnStatusRejected:                nil,
	ReturnStatusCancelled:               nil,
	ReturnStatusRejectedAfterInspection: nil,
	ReturnStatusCompleted:               nil,
}

// String implements fmt.Stringer.
func (r ReturnStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReturnStatus.
func (r ReturnStatus) IsValid() bool {
	for _, candidate := range validReturnStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist.
func (r ReturnStatus) IsTerminal() bool {
	return len(returnStatusGraph[r]) == 0 && r.IsValid()
}

// CanTransitionTo reports whether target is reachable in one step.
func (r ReturnStatus) CanTransitionTo(target ReturnStatus) bool {
	for _, candidate := range returnStatusGraph[r] {
		if candidate == target {
			return true
		}
	}
	return false
}

// AllowedNext returns the statuses legally reachable from the current one.
func (r ReturnStatus) AllowedNext() []ReturnStatus {
	next := returnStatusGraph[r]
	out := make([]ReturnStatus, len(next))
	copy(out, next)
	return out
}

// ParseReturnStatus converts raw input into a ReturnStatus.
func ParseReturnStatus(value string) (ReturnStatus, error) {
	for _, candidate := range validReturnStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return status %q", value)
}
