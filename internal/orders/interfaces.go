package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/internal/clients"
	"github.com/anshulkhatri/cartful-backend/internal/history"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	"github.com/anshulkhatri/cartful-backend/pkg/outbox"
	"github.com/anshulkhatri/cartful-backend/pkg/pagination"
)

// ListFilter narrows an order listing.
type ListFilter struct {
	UserID    *uuid.UUID
	SessionID *string
	Status    *enums.OrderStatus
	Page      pagination.Params
}

// OrderRepository defines the persistence surface for orders.
type OrderRepository interface {
	WithTx(tx *gorm.DB) OrderRepository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	List(ctx context.Context, filter ListFilter) ([]models.Order, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	SaveItem(ctx context.Context, item *models.OrderItem) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type historyRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry history.Entry) error
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type restocker interface {
	Restock(ctx context.Context, orderID uuid.UUID, items []clients.AvailabilityQuery) error
}

type couponReleaser interface {
	ReleaseCouponUsage(ctx context.Context, orderID uuid.UUID) error
}

// refundInitiator kicks off the money-back flow when a paid order is
// cancelled. Implemented by the refunds service.
type refundInitiator interface {
	RefundOnCancellation(ctx context.Context, orderID uuid.UUID, actor enums.ActorType) error
}

// codSettler records the cash leg of a delivered cash-on-delivery order.
// Implemented by the payments service.
type codSettler interface {
	SettleCashOnDelivery(ctx context.Context, orderID uuid.UUID) error
}

type notifier interface {
	Notify(ctx context.Context, n clients.Notification) error
}
