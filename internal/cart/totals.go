package cart

import (
	"github.com/shopspring/decimal"

	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/types"
)

// Totals is a fully derived money snapshot. The identity
// total = subtotal - discount + tax + shipping always holds.
type Totals struct {
	SubtotalPaise int64
	DiscountPaise int64
	TaxPaise      int64
	ShippingPaise int64
	TotalPaise    int64
}

// ComputeTotals derives cart totals from the item lines, applied coupons, the
// shipping rate and the tax rate in basis points. Line discounts are already
// inside the lines; coupon discounts stack on top, clamped so the combined
// discount never exceeds the subtotal. Tax applies to the post-discount
// amount, rounded half-up.
func ComputeTotals(items []models.CartItem, coupons types.AppliedCoupons, shippingPaise int64, taxRateBps int) Totals {
	var subtotal, lineDiscounts int64
	for _, item := range items {
		subtotal += item.UnitPricePaise * int64(item.Qty)
		lineDiscounts += item.DiscountPaise
	}

	discount := lineDiscounts + coupons.TotalDiscountPaise()
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}

	taxable := subtotal - discount
	tax := TaxFor(taxable, taxRateBps)

	if shippingPaise < 0 {
		shippingPaise = 0
	}

	return Totals{
		SubtotalPaise: subtotal,
		DiscountPaise: discount,
		TaxPaise:      tax,
		ShippingPaise: shippingPaise,
		TotalPaise:    subtotal - discount + tax + shippingPaise,
	}
}

// TaxFor computes tax on the taxable amount at rate basis points, rounding
// half-up to the nearest paisa.
func TaxFor(taxablePaise int64, rateBps int) int64 {
	if taxablePaise <= 0 || rateBps <= 0 {
		return 0
	}
	taxable := decimal.NewFromInt(taxablePaise)
	rate := decimal.NewFromInt(int64(rateBps)).Div(decimal.NewFromInt(10000))
	return taxable.Mul(rate).Round(0).IntPart()
}

// ApplyTotals copies derived totals onto the cart model.
func ApplyTotals(cart *models.Cart, totals Totals) {
	cart.SubtotalPaise = totals.SubtotalPaise
	cart.DiscountPaise = totals.DiscountPaise
	cart.TaxPaise = totals.TaxPaise
	cart.ShippingPaise = totals.ShippingPaise
	cart.TotalPaise = totals.TotalPaise
}
