package enums

import "fmt"

// StatusType names which order dimension a history entry tracks.
type StatusType string

const (
	StatusTypeOrder       StatusType = "order"
	StatusTypePayment     StatusType = "payment"
	StatusTypeFulfillment StatusType = "fulfillment"
)

var validStatusTypes = []StatusType{
	StatusTypeOrder,
	StatusTypePayment,
	StatusTypeFulfillment,
}

// String implements fmt.Stringer.
func (s StatusType) String() string {
	return string(s)
}

// IsValid reports whether the value is a known StatusType.
func (s StatusType) IsValid() bool {
	for _, candidate := range validStatusTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStatusType converts raw input into a StatusType.
func ParseStatusType(value string) (StatusType, error) {
	for _, candidate := range validStatusTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid status type %q", value)
}
