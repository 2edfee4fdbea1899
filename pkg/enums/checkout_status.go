package enums

import "fmt"

// CheckoutStatus drives the checkout session state machine.
type CheckoutStatus string

const (
	CheckoutStatusInitiated      CheckoutStatus = "initiated"
	CheckoutStatusAddressEntered CheckoutStatus = "address_entered"
	CheckoutStatusPaymentPending CheckoutStatus = "payment_pending"
	CheckoutStatusCompleted      CheckoutStatus = "completed"
	CheckoutStatusFailed         CheckoutStatus = "failed"
	CheckoutStatusExpired        CheckoutStatus = "expired"
)

var validCheckoutStatuses = []CheckoutStatus{
	CheckoutStatusInitiated,
	CheckoutStatusAddressEntered,
	CheckoutStatusPaymentPending,
	CheckoutStatusCompleted,
	CheckoutStatusFailed,
	CheckoutStatusExpired,
}

// String implements fmt.Stringer.
func (c CheckoutStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CheckoutStatus.
func (c CheckoutStatus) IsValid() bool {
	for _, candidate := range validCheckoutStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a session in this status can still move.
func (c CheckoutStatus) IsTerminal() bool {
	switch c {
	case CheckoutStatusCompleted, CheckoutStatusFailed, CheckoutStatusExpired:
		return true
	default:
		return false
	}
}

// ParseCheckoutStatus converts raw input into a CheckoutStatus.
func ParseCheckoutStatus(value string) (CheckoutStatus, error) {
	for _, candidate := range validCheckoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout status %q", value)
}
