package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/pkg/enums"
)

// Refund tracks a full or partial refund against an order's payment.
type Refund struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	PaymentID       *uuid.UUID         `gorm:"column:payment_id;type:uuid"`
	ReturnID        *uuid.UUID         `gorm:"column:return_id;type:uuid"`
	Status          enums.RefundStatus `gorm:"column:status;type:refund_status;not null;default:'pending'"`
	AmountPaise     int64              `gorm:"column:amount_paise;not null"`
	GatewayRefundID *string            `gorm:"column:gateway_refund_id"`
	Reason          *string            `gorm:"column:reason"`
	FailureReason   *string            `gorm:"column:failure_reason"`
	RequestedBy     enums.ActorType    `gorm:"column:requested_by;type:actor_type;not null;default:'customer'"`
	ProcessedAt     *time.Time         `gorm:"column:processed_at"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`

	Items []RefundItem `gorm:"foreignKey:RefundID"`
}

func (r *Refund) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// RefundItem pins a refund to specific order line quantities.
type RefundItem struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	RefundID    uuid.UUID `gorm:"column:refund_id;type:uuid;not null;index"`
	OrderItemID uuid.UUID `gorm:"column:order_item_id;type:uuid;not null"`
	Qty         int       `gorm:"column:qty;not null"`
	AmountPaise int64     `gorm:"column:amount_paise;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (r *RefundItem) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
