package types

// ShippingMethod is the quote snapshot frozen onto a checkout session and its
// order at selection time.
type ShippingMethod struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	RatePaise    int64  `json:"rate_paise"`
	EtaDays      int    `json:"eta_days,omitempty"`
	CourierName  string `json:"courier_name,omitempty"`
	QuoteContext string `json:"quote_context,omitempty"`
}

// TaxBreakdown records how a session's tax total was computed.
type TaxBreakdown struct {
	TaxablePaise int64  `json:"taxable_paise"`
	RateBps      int    `json:"rate_bps"`
	TaxPaise     int64  `json:"tax_paise"`
	Source       string `json:"source"`
}

const (
	TaxSourcePricing  = "pricing"
	TaxSourceFallback = "fallback"
)
