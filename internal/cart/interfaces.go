package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
)

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	FindActiveByOwner(ctx context.Context, owner Owner) (*models.Cart, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) (*models.Cart, error)
	UpsertItem(ctx context.Context, item *models.CartItem) error
	UpdateItem(ctx context.Context, item *models.CartItem) error
	DeleteItem(ctx context.Context, cartID, variantID uuid.UUID) error
	ListItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error)
	// SaveGuarded persists cart totals and coupons only if the stored version
	// still matches cart.Version, bumping it by one. Returns false when the
	// version moved.
	SaveGuarded(ctx context.Context, cart *models.Cart) (bool, error)
	UpdateStatusGuarded(ctx context.Context, id uuid.UUID, version int, status enums.CartStatus) (bool, error)
}
