package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
)

// Repository persists checkout sessions.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a session repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) SessionRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts a new session.
func (r *Repository) Create(ctx context.Context, session *models.CheckoutSession) error {
	if session.Status == "" {
		session.Status = enums.CheckoutStatusInitiated
	}
	return r.db.WithContext(ctx).Create(session).Error
}

// FindByID loads a session.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindActiveForCart returns the most recent non-terminal session for the cart.
func (r *Repository) FindActiveForCart(ctx context.Context, cartID uuid.UUID) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND status IN ?", cartID, []enums.CheckoutStatus{
			enums.CheckoutStatusInitiated,
			enums.CheckoutStatusAddressEntered,
			enums.CheckoutStatusPaymentPending,
		}).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Save writes the full session row.
func (r *Repository) Save(ctx context.Context, session *models.CheckoutSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

// FailActiveForCart marks every non-terminal session for the cart as failed.
// Starting a new checkout supersedes any abandoned one.
func (r *Repository) FailActiveForCart(ctx context.Context, cartID uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("cart_id = ? AND status IN ?", cartID, []enums.CheckoutStatus{
			enums.CheckoutStatusInitiated,
			enums.CheckoutStatusAddressEntered,
			enums.CheckoutStatusPaymentPending,
		}).
		Updates(map[string]any{
			"status":         enums.CheckoutStatusFailed,
			"failure_reason": reason,
		}).Error
}

// ListExpired returns non-terminal sessions whose deadline has passed.
func (r *Repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.CheckoutSession, error) {
	var rows []models.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("expires_at < ? AND status IN ?", now, []enums.CheckoutStatus{
			enums.CheckoutStatusInitiated,
			enums.CheckoutStatusAddressEntered,
			enums.CheckoutStatusPaymentPending,
		}).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
