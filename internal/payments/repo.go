package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
)

// Repository persists payment attempts.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a payment repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) PaymentRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts a payment row.
func (r *Repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

// FindByID loads a payment.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByOrderID lists an order's payment attempts, newest first.
func (r *Repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindByGatewayOrderID resolves the payment behind a gateway intent.
func (r *Repository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("gateway_order_id = ?", gatewayOrderID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByGatewayPaymentID resolves the payment behind a gateway capture.
func (r *Repository) FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("gateway_payment_id = ?", gatewayPaymentID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindByIdempotencyKey resolves a payment by its initiation key.
func (r *Repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdateFields applies a partial update to a payment row.
func (r *Repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(fields).Error
}
