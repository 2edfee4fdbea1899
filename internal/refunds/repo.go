package refunds

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
)

// Repository persists refunds and their line allocations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a refund repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) RefundRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts a refund with its items.
func (r *Repository) Create(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

// FindByID loads a refund with its items.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&refund).Error
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// FindByGatewayRefundID resolves the refund behind a gateway refund.
func (r *Repository) FindByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("gateway_refund_id = ?", gatewayRefundID).
		First(&refund).Error
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

// ListForOrder returns an order's refunds, newest first.
func (r *Repository) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	var rows []models.Refund
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

// SumActiveForOrder totals refund amounts that are still live: everything
// except rejected and cancelled. Used to cap new requests.
func (r *Repository) SumActiveForOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Select("COALESCE(SUM(amount_paise), 0)").
		Where("order_id = ? AND status NOT IN ?", orderID, []enums.RefundStatus{
			enums.RefundStatusRejected,
			enums.RefundStatusCancelled,
		}).
		Scan(&total).Error
	return total, err
}

// UpdateFields applies a partial update to a refund row.
func (r *Repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ?", id).
		Updates(fields).Error
}
