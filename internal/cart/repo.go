package cart

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
)

// Repository exposes persistence operations for carts and their items.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts a new Cart.
func (r *Repository) Create(ctx context.Context, cart *models.Cart) (*models.Cart, error) {
	if cart.Status == "" {
		cart.Status = enums.CartStatusActive
	}
	if cart.Version == 0 {
		cart.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(cart).Error; err != nil {
		return nil, err
	}
	return cart, nil
}

// FindActiveByOwner loads the latest active cart for the user or guest session.
func (r *Repository) FindActiveByOwner(ctx context.Context, owner Owner) (*models.Cart, error) {
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where("status = ?", enums.CartStatusActive)
	if owner.UserID != nil {
		query = query.Where("user_id = ?", *owner.UserID)
	} else {
		query = query.Where("session_id = ?", *owner.SessionID)
	}

	var cart models.Cart
	if err := query.Order("created_at DESC").First(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// FindByID loads a cart with its items.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// UpsertItem inserts the line or, when the (cart, variant) pair exists,
// overwrites its quantity and pricing snapshot.
func (r *Repository) UpsertItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cart_id"}, {Name: "variant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"qty", "unit_price_paise", "mrp_paise", "discount_paise",
			"line_subtotal_paise", "line_total_paise",
			"price_changed", "prev_unit_price_paise", "product_status",
			"sku", "title", "image_url", "updated_at",
		}),
	}).Create(item).Error
}

// UpdateItem saves an existing line.
func (r *Repository) UpdateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

// DeleteItem removes one variant line from the cart.
func (r *Repository) DeleteItem(ctx context.Context, cartID, variantID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("cart_id = ? AND variant_id = ?", cartID, variantID).
		Delete(&models.CartItem{}).Error
}

// ListItems returns items belonging to a cart.
func (r *Repository) ListItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error) {
	var rows []models.CartItem
	if err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SaveGuarded writes totals, coupons and status behind a version check.
func (r *Repository) SaveGuarded(ctx context.Context, cart *models.Cart) (bool, error) {
	coupons, err := json.Marshal(cart.AppliedCoupons)
	if err != nil {
		return false, err
	}
	result := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND version = ?", cart.ID, cart.Version).
		Updates(map[string]any{
			"subtotal_paise":  cart.SubtotalPaise,
			"discount_paise":  cart.DiscountPaise,
			"tax_paise":       cart.TaxPaise,
			"shipping_paise":  cart.ShippingPaise,
			"total_paise":     cart.TotalPaise,
			"applied_coupons": string(coupons),
			"status":          cart.Status,
			"version":         gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	cart.Version++
	return true, nil
}

// UpdateStatusGuarded flips the cart status behind a version check.
func (r *Repository) UpdateStatusGuarded(ctx context.Context, id uuid.UUID, version int, status enums.CartStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"status":  status,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
