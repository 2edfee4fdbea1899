package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/anshulkhatri/cartful-backend/pkg/config"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
	"github.com/anshulkhatri/cartful-backend/pkg/types"
)

// PricingClient talks to the pricing service for unit prices, coupon
// validation and tax rates.
type PricingClient struct {
	base *baseClient
}

func NewPricingClient(cfg config.CollaboratorConfig, authCfg config.ServiceAuthConfig, logg *logger.Logger) (*PricingClient, error) {
	base, err := newBaseClient("pricing", cfg.PricingURL, cfg, authCfg, logg)
	if err != nil {
		return nil, err
	}
	return &PricingClient{base: base}, nil
}

// QuoteLine is one priced variant in a quote.
type QuoteLine struct {
	VariantID      uuid.UUID `json:"variantId"`
	UnitPricePaise int64     `json:"unitPricePaise"`
	MRPPaise       int64     `json:"mrpPaise"`
	DiscountPaise  int64     `json:"discountPaise"`
}

// Quote is the pricing service's answer for a set of lines and coupons.
type Quote struct {
	Lines   []QuoteLine           `json:"lines"`
	Coupons []types.AppliedCoupon `json:"coupons"`
}

// QuoteRequest describes the lines and coupon codes to price.
type QuoteRequest struct {
	Items       []AvailabilityQuery `json:"items"`
	CouponCodes []string            `json:"couponCodes,omitempty"`
	UserID      *uuid.UUID          `json:"userId,omitempty"`
}

// GetQuote returns current unit prices and per-coupon discounts for the
// requested lines.
func (c *PricingClient) GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	var quote Quote
	if err := c.base.doJSON(ctx, http.MethodPost, "/v1/quotes", req, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

// TaxRate is the pricing service's tax answer for a destination.
type TaxRate struct {
	RateBps int `json:"rateBps"`
}

// GetTaxRate resolves the tax rate for a destination pincode. Callers fall
// back to the configured flat rate when this errors.
func (c *PricingClient) GetTaxRate(ctx context.Context, pincode string) (*TaxRate, error) {
	var rate TaxRate
	body := map[string]any{"pincode": pincode}
	if err := c.base.doJSON(ctx, http.MethodPost, "/v1/tax/rate", body, &rate); err != nil {
		return nil, err
	}
	return &rate, nil
}

// MarkCouponUsage records coupon redemptions for a placed order. Failures are
// non-fatal to checkout; the caller logs and continues.
func (c *PricingClient) MarkCouponUsage(ctx context.Context, orderID uuid.UUID, codes []string) error {
	body := map[string]any{
		"orderId": orderID,
		"codes":   codes,
	}
	return c.base.doJSON(ctx, http.MethodPost, "/v1/coupons/usage", body, nil)
}

// ReleaseCouponUsage undoes redemptions when an order is cancelled.
func (c *PricingClient) ReleaseCouponUsage(ctx context.Context, orderID uuid.UUID) error {
	body := map[string]any{"orderId": orderID}
	return c.base.doJSON(ctx, http.MethodPost, "/v1/coupons/usage/release", body, nil)
}
