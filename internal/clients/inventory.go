package clients

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/anshulkhatri/cartful-backend/pkg/config"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
)

// InventoryClient talks to the inventory service for availability checks and
// the reserve/release/convert reservation lifecycle.
type InventoryClient struct {
	base *baseClient
}

func NewInventoryClient(cfg config.CollaboratorConfig, authCfg config.ServiceAuthConfig, logg *logger.Logger) (*InventoryClient, error) {
	base, err := newBaseClient("inventory", cfg.InventoryURL, cfg, authCfg, logg)
	if err != nil {
		return nil, err
	}
	return &InventoryClient{base: base}, nil
}

// AvailabilityQuery asks about one variant.
type AvailabilityQuery struct {
	VariantID uuid.UUID `json:"variantId"`
	Qty       int       `json:"qty"`
}

// Availability is the inventory service's answer for one variant.
type Availability struct {
	VariantID    uuid.UUID `json:"variantId"`
	Available    bool      `json:"available"`
	AvailableQty int       `json:"availableQty"`
}

// CheckAvailability reports current stock for the queried variants.
func (c *InventoryClient) CheckAvailability(ctx context.Context, queries []AvailabilityQuery) ([]Availability, error) {
	var resp struct {
		Results []Availability `json:"results"`
	}
	body := map[string]any{"items": queries}
	if err := c.base.doJSON(ctx, http.MethodPost, "/v1/availability/check", body, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// ReservationRequest asks for a TTL-bound hold on stock.
type ReservationRequest struct {
	Items []AvailabilityQuery
	TTL   time.Duration
	Ref   string
}

// Reservation is a TTL-bound hold returned by the inventory service.
type Reservation struct {
	ReservationIDs []string  `json:"reservationIds"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Reserve places TTL-bound holds for the requested quantities. All-or-nothing
// on the inventory side.
func (c *InventoryClient) Reserve(ctx context.Context, req ReservationRequest) (*Reservation, error) {
	body := map[string]any{
		"items":      req.Items,
		"ttlSeconds": int(req.TTL.Seconds()),
		"ref":        req.Ref,
	}
	var resp Reservation
	if err := c.base.doJSON(ctx, http.MethodPost, "/v1/reservations", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Release frees holds that are no longer needed. Compensation path.
func (c *InventoryClient) Release(ctx context.Context, reservationIDs []string) error {
	body := map[string]any{"reservationIds": reservationIDs}
	return c.base.doJSON(ctx, http.MethodPost, "/v1/reservations/release", body, nil)
}

// Convert turns holds into committed stock deductions for a placed order.
func (c *InventoryClient) Convert(ctx context.Context, reservationIDs []string, orderID uuid.UUID) error {
	body := map[string]any{
		"reservationIds": reservationIDs,
		"orderId":        orderID,
	}
	return c.base.doJSON(ctx, http.MethodPost, "/v1/reservations/convert", body, nil)
}

// Restock returns quantities to sellable stock after a cancel or accepted
// return.
func (c *InventoryClient) Restock(ctx context.Context, orderID uuid.UUID, items []AvailabilityQuery) error {
	body := map[string]any{
		"orderId": orderID,
		"items":   items,
	}
	return c.base.doJSON(ctx, http.MethodPost, "/v1/stock/restock", body, nil)
}
