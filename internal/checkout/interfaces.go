package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/internal/cart"
	"github.com/anshulkhatri/cartful-backend/internal/clients"
	"github.com/anshulkhatri/cartful-backend/internal/history"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/gateway"
	"github.com/anshulkhatri/cartful-backend/pkg/outbox"
)

// SessionRepository defines the persistence surface for checkout sessions.
type SessionRepository interface {
	WithTx(tx *gorm.DB) SessionRepository
	Create(ctx context.Context, session *models.CheckoutSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
	FindActiveForCart(ctx context.Context, cartID uuid.UUID) (*models.CheckoutSession, error)
	Save(ctx context.Context, session *models.CheckoutSession) error
	FailActiveForCart(ctx context.Context, cartID uuid.UUID, reason string) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.CheckoutSession, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type cartValidator interface {
	Validate(ctx context.Context, owner cart.Owner) (*cart.ValidationReport, error)
}

type reserver interface {
	CheckAvailability(ctx context.Context, queries []clients.AvailabilityQuery) ([]clients.Availability, error)
	Reserve(ctx context.Context, req clients.ReservationRequest) (*clients.Reservation, error)
	Release(ctx context.Context, reservationIDs []string) error
	Convert(ctx context.Context, reservationIDs []string, orderID uuid.UUID) error
}

type pricer interface {
	GetQuote(ctx context.Context, req clients.QuoteRequest) (*clients.Quote, error)
	GetTaxRate(ctx context.Context, pincode string) (*clients.TaxRate, error)
	MarkCouponUsage(ctx context.Context, orderID uuid.UUID, codes []string) error
}

type intentCreator interface {
	CreateIntent(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error)
}

type numberMinter interface {
	NextOrderNumber(ctx context.Context, tx *gorm.DB, now time.Time) (string, error)
}

type historyRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry history.Entry) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}
