package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/anshulkhatri/cartful-backend/pkg/config"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
)

// CatalogClient talks to the catalog service for variant snapshots.
type CatalogClient struct {
	base *baseClient
}

func NewCatalogClient(cfg config.CollaboratorConfig, authCfg config.ServiceAuthConfig, logg *logger.Logger) (*CatalogClient, error) {
	base, err := newBaseClient("catalog", cfg.CatalogURL, cfg, authCfg, logg)
	if err != nil {
		return nil, err
	}
	return &CatalogClient{base: base}, nil
}

// Variant is the catalog's sellable unit snapshot.
type Variant struct {
	VariantID uuid.UUID `json:"variantId"`
	ProductID uuid.UUID `json:"productId"`
	SKU       string    `json:"sku"`
	Title     string    `json:"title"`
	ImageURL  *string   `json:"imageUrl,omitempty"`
	Active    bool      `json:"active"`
}

// GetVariants fetches snapshots for the requested variant IDs. Missing IDs
// are simply absent from the result.
func (c *CatalogClient) GetVariants(ctx context.Context, variantIDs []uuid.UUID) ([]Variant, error) {
	var resp struct {
		Variants []Variant `json:"variants"`
	}
	body := map[string]any{"variantIds": variantIDs}
	if err := c.base.doJSON(ctx, http.MethodPost, "/v1/variants/batch", body, &resp); err != nil {
		return nil, err
	}
	return resp.Variants, nil
}
