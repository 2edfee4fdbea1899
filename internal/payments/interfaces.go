package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/internal/clients"
	"github.com/anshulkhatri/cartful-backend/internal/history"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/gateway"
	"github.com/anshulkhatri/cartful-backend/pkg/outbox"
)

// PaymentRepository defines the persistence surface for payments.
type PaymentRepository interface {
	WithTx(tx *gorm.DB) PaymentRepository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
	FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type paymentGateway interface {
	VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) error
	CreateIntent(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error)
	FetchPayment(ctx context.Context, gatewayPaymentID string) (*gateway.PaymentState, error)
	CreateRefund(ctx context.Context, gatewayPaymentID string, amountPaise int64, notes map[string]string) (*gateway.RefundResult, error)
}

type stockChecker interface {
	CheckAvailability(ctx context.Context, queries []clients.AvailabilityQuery) ([]clients.Availability, error)
}

type historyRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry history.Entry) error
}

type idempotentEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// refundApplier settles a gateway-confirmed refund onto the local ledgers.
// Implemented by the refunds service.
type refundApplier interface {
	ApplyGatewayRefund(ctx context.Context, gatewayRefundID, gatewayPaymentID string, amountPaise int64) error
}
