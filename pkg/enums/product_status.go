package enums

import "fmt"

// ProductStatus is the availability flag the cart validation pass stamps on a
// cart line when reconciling against catalog and inventory.
type ProductStatus string

const (
	ProductStatusAvailable   ProductStatus = "available"
	ProductStatusOutOfStock  ProductStatus = "out_of_stock"
	ProductStatusUnavailable ProductStatus = "unavailable"
)

var validProductStatuses = []ProductStatus{
	ProductStatusAvailable,
	ProductStatusOutOfStock,
	ProductStatusUnavailable,
}

// String implements fmt.Stringer.
func (p ProductStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known ProductStatus.
func (p ProductStatus) IsValid() bool {
	for _, candidate := range validProductStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProductStatus converts raw input into a ProductStatus.
func ParseProductStatus(value string) (ProductStatus, error) {
	for _, candidate := range validProductStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid product status %q", value)
}
