package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/pkg/enums"
)

// Payment tracks a single payment attempt against an order. IdempotencyKey is
// unique so a retried initiation returns the existing row instead of creating
// a duplicate gateway intent.
type Payment struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID          uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	Method           enums.PaymentMethod `gorm:"column:method;type:payment_method;not null"`
	Status           enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	IdempotencyKey   string              `gorm:"column:idempotency_key;not null;uniqueIndex:ux_payments_idempotency_key"`
	GatewayOrderID   *string             `gorm:"column:gateway_order_id;index"`
	GatewayPaymentID *string             `gorm:"column:gateway_payment_id"`
	AmountPaise      int64               `gorm:"column:amount_paise;not null"`
	CapturedPaise    int64               `gorm:"column:captured_paise;not null;default:0"`
	RefundedPaise    int64               `gorm:"column:refunded_paise;not null;default:0"`
	FailureCode      *string             `gorm:"column:failure_code"`
	FailureMessage   *string             `gorm:"column:failure_message"`
	CapturedAt       *time.Time          `gorm:"column:captured_at"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
