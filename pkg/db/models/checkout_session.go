package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	"github.com/anshulkhatri/cartful-backend/pkg/types"
)

// CheckoutSession snapshots a cart mid-checkout and tracks the session state
// machine. CartVersion pins the cart revision the totals were computed from.
type CheckoutSession struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	CartID          uuid.UUID             `gorm:"column:cart_id;type:uuid;not null;index"`
	UserID          *uuid.UUID            `gorm:"column:user_id;type:uuid;index"`
	SessionID       *string               `gorm:"column:session_id"`
	Status          enums.CheckoutStatus  `gorm:"column:status;type:checkout_status;not null;default:'initiated'"`
	CartVersion     int                   `gorm:"column:cart_version;not null"`
	ShippingAddress *types.Address        `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	BillingAddress  *types.Address        `gorm:"column:billing_address;type:jsonb;serializer:json"`
	ShippingMethod  *types.ShippingMethod `gorm:"column:shipping_method;type:jsonb;serializer:json"`
	PaymentMethod   *enums.PaymentMethod  `gorm:"column:payment_method;type:payment_method"`
	SubtotalPaise   int64                 `gorm:"column:subtotal_paise;not null;default:0"`
	DiscountPaise   int64                 `gorm:"column:discount_paise;not null;default:0"`
	TaxPaise        int64                 `gorm:"column:tax_paise;not null;default:0"`
	ShippingPaise   int64                 `gorm:"column:shipping_paise;not null;default:0"`
	TotalPaise      int64                 `gorm:"column:total_paise;not null;default:0"`
	TaxBreakdown    *types.TaxBreakdown   `gorm:"column:tax_breakdown;type:jsonb;serializer:json"`
	ReservationIDs  []string              `gorm:"column:reservation_ids;type:jsonb;serializer:json"`
	OrderID         *uuid.UUID            `gorm:"column:order_id;type:uuid"`
	FailureReason   *string               `gorm:"column:failure_reason"`
	ExpiresAt       time.Time             `gorm:"column:expires_at;not null"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *CheckoutSession) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
