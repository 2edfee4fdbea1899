package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/anshulkhatri/cartful-backend/pkg/config"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
)

// EngagementClient sends customer notifications. Notification delivery never
// blocks the money path: when DegradeGracefully is on, failures are logged
// and swallowed.
type EngagementClient struct {
	base    *baseClient
	degrade bool
	logger  *logger.Logger
}

func NewEngagementClient(cfg config.CollaboratorConfig, engCfg config.EngagementConfig, authCfg config.ServiceAuthConfig, logg *logger.Logger) (*EngagementClient, error) {
	if cfg.EngagementURL == "" {
		// engagement is optional; a nil client no-ops
		return nil, nil
	}
	base, err := newBaseClient("engagement", cfg.EngagementURL, cfg, authCfg, logg)
	if err != nil {
		return nil, err
	}
	return &EngagementClient{base: base, degrade: engCfg.DegradeGracefully, logger: logg}, nil
}

// Notification is a customer-facing event to deliver.
type Notification struct {
	Kind        string     `json:"kind"`
	OrderID     uuid.UUID  `json:"orderId"`
	OrderNumber string     `json:"orderNumber,omitempty"`
	UserID      *uuid.UUID `json:"userId,omitempty"`
	Status      string     `json:"status,omitempty"`
}

// Notify delivers one notification, degrading gracefully when configured.
func (c *EngagementClient) Notify(ctx context.Context, n Notification) error {
	if c == nil {
		return nil
	}
	err := c.base.doJSON(ctx, http.MethodPost, "/v1/notifications", n, nil)
	if err == nil {
		return nil
	}
	if c.degrade {
		if c.logger != nil {
			logCtx := c.logger.WithFields(ctx, map[string]any{
				"order_id": n.OrderID.String(),
				"kind":     n.Kind,
			})
			c.logger.Warn(logCtx, "notification delivery failed, degrading")
		}
		return nil
	}
	return err
}
