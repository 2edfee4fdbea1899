package returns

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
)

// Repository persists returns and their line quantities.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a return repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) ReturnRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts a return with its items.
func (r *Repository) Create(ctx context.Context, ret *models.Return) error {
	return r.db.WithContext(ctx).Create(ret).Error
}

// FindByID loads a return with its items.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Return, error) {
	var ret models.Return
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&ret).Error
	if err != nil {
		return nil, err
	}
	return &ret, nil
}

// ListForOrder returns an order's returns, newest first.
func (r *Repository) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Return, error) {
	var rows []models.Return
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateFields applies a partial update to a return row.
func (r *Repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Return{}).
		Where("id = ?", id).
		Updates(fields).Error
}
