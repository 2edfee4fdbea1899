package enums

import "fmt"

// FulfillmentStatus summarizes how much of an order has shipped or come back.
type FulfillmentStatus string

const (
	FulfillmentStatusUnfulfilled        FulfillmentStatus = "unfulfilled"
	FulfillmentStatusPartiallyFulfilled FulfillmentStatus = "partially_fulfilled"
	FulfillmentStatusFulfilled          FulfillmentStatus = "fulfilled"
	FulfillmentStatusReturned           FulfillmentStatus = "returned"
)

var validFulfillmentStatuses = []FulfillmentStatus{
	FulfillmentStatusUnfulfilled,
	FulfillmentStatusPartiallyFulfilled,
	FulfillmentStatusFulfilled,
	FulfillmentStatusReturned,
}

var fulfillmentStatusGraph = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentStatusUnfulfilled:        {FulfillmentStatusPartiallyFulfilled, FulfillmentStatusFulfilled},
	FulfillmentStatusPartiallyFulfilled: {FulfillmentStatusFulfilled},
	FulfillmentStatusFulfilled:          {FulfillmentStatusReturned},
	FulfillmentStatusReturned:           nil,
}

// String implements fmt.Stringer.
func (f FulfillmentStatus) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FulfillmentStatus.
func (f FulfillmentStatus) IsValid() bool {
	for _, candidate := range validFulfillmentStatuses {
		if candidate == f {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether target is reachable in one step.
func (f FulfillmentStatus) CanTransitionTo(target FulfillmentStatus) bool {
	for _, candidate := range fulfillmentStatusGraph[f] {
		if candidate == target {
			return true
		}
	}
	return false
}

// AllowedNext returns the statuses legally reachable from the current one.
func (f FulfillmentStatus) AllowedNext() []FulfillmentStatus {
	next := fulfillmentStatusGraph[f]
	out := make([]FulfillmentStatus, len(next))
	copy(out, next)
	return out
}

// ParseFulfillmentStatus converts raw input into a FulfillmentStatus.
func ParseFulfillmentStatus(value string) (FulfillmentStatus, error) {
	for _, candidate := range validFulfillmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment status %q", value)
}
