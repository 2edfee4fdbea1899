package types

// AppliedCoupon is the per-cart snapshot of a validated coupon.
type AppliedCoupon struct {
	Code          string `json:"code"`
	DiscountPaise int64  `json:"discount_paise"`
	ValueType     string `json:"value_type"`
	Value         string `json:"value"`
}

// AppliedCoupons is stored as a jsonb column on carts and orders.
type AppliedCoupons []AppliedCoupon

// Has reports whether a coupon with the given code is already applied.
func (c AppliedCoupons) Has(code string) bool {
	for _, coupon := range c {
		if coupon.Code == code {
			return true
		}
	}
	return false
}

// TotalDiscountPaise sums the discount carried by every applied coupon.
func (c AppliedCoupons) TotalDiscountPaise() int64 {
	var total int64
	for _, coupon := range c {
		total += coupon.DiscountPaise
	}
	return total
}

// Without returns a copy with the named coupon removed.
func (c AppliedCoupons) Without(code string) AppliedCoupons {
	out := make(AppliedCoupons, 0, len(c))
	for _, coupon := range c {
		if coupon.Code != code {
			out = append(out, coupon)
		}
	}
	return out
}
