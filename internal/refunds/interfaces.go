package refunds

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/internal/history"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/gateway"
	"github.com/anshulkhatri/cartful-backend/pkg/outbox"
)

// RefundRepository defines the persistence surface for refunds.
type RefundRepository interface {
	WithTx(tx *gorm.DB) RefundRepository
	Create(ctx context.Context, refund *models.Refund) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	FindByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*models.Refund, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error)
	SumActiveForOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type refundCreator interface {
	CreateRefund(ctx context.Context, gatewayPaymentID string, amountPaise int64, notes map[string]string) (*gateway.RefundResult, error)
}

type historyRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry history.Entry) error
}

type idempotentEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}
