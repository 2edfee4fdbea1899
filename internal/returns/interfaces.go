package returns

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/internal/clients"
	"github.com/anshulkhatri/cartful-backend/internal/history"
	"github.com/anshulkhatri/cartful-backend/internal/refunds"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	"github.com/anshulkhatri/cartful-backend/pkg/outbox"
)

// ReturnRepository defines the persistence surface for returns.
type ReturnRepository interface {
	WithTx(tx *gorm.DB) ReturnRepository
	Create(ctx context.Context, ret *models.Return) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Return, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Return, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type restocker interface {
	Restock(ctx context.Context, orderID uuid.UUID, items []clients.AvailabilityQuery) error
}

type refundOpener interface {
	RequestForReturn(ctx context.Context, orderID, returnID uuid.UUID, lines []refunds.RequestLine, actor enums.ActorType) (*models.Refund, error)
}

type historyRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry history.Entry) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}
