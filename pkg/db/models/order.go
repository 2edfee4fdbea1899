package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	"github.com/anshulkhatri/cartful-backend/pkg/types"
)

// Order is the immutable post-checkout aggregate. Monetary fields and
// address/shipping snapshots are frozen at placement; only the status columns
// and RefundedPaise move afterwards.
type Order struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber       string                  `gorm:"column:order_number;not null;uniqueIndex"`
	UserID            *uuid.UUID              `gorm:"column:user_id;type:uuid;index"`
	SessionID         *string                 `gorm:"column:session_id"`
	CheckoutSessionID uuid.UUID               `gorm:"column:checkout_session_id;type:uuid;not null"`
	CartID            uuid.UUID               `gorm:"column:cart_id;type:uuid;not null"`
	Status            enums.OrderStatus       `gorm:"column:status;type:order_status;not null;default:'pending'"`
	PaymentStatus     enums.PaymentStatus     `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	FulfillmentStatus enums.FulfillmentStatus `gorm:"column:fulfillment_status;type:fulfillment_status;not null;default:'unfulfilled'"`
	PaymentMethod     enums.PaymentMethod     `gorm:"column:payment_method;type:payment_method;not null"`
	CurrencyCode      string                  `gorm:"column:currency_code;not null;default:'INR'"`
	SubtotalPaise     int64                   `gorm:"column:subtotal_paise;not null"`
	DiscountPaise     int64                   `gorm:"column:discount_paise;not null;default:0"`
	TaxPaise          int64                   `gorm:"column:tax_paise;not null;default:0"`
	ShippingPaise     int64                   `gorm:"column:shipping_paise;not null;default:0"`
	TotalPaise        int64                   `gorm:"column:total_paise;not null"`
	RefundedPaise     int64                   `gorm:"column:refunded_paise;not null;default:0"`
	AppliedCoupons    types.AppliedCoupons    `gorm:"column:applied_coupons;type:jsonb;serializer:json"`
	ShippingAddress   types.Address           `gorm:"column:shipping_address;type:jsonb;serializer:json;not null"`
	BillingAddress    types.Address           `gorm:"column:billing_address;type:jsonb;serializer:json;not null"`
	ShippingMethod    types.ShippingMethod    `gorm:"column:shipping_method;type:jsonb;serializer:json;not null"`
	TaxBreakdown      *types.TaxBreakdown     `gorm:"column:tax_breakdown;type:jsonb;serializer:json"`
	TrackingNumber    *string                 `gorm:"column:tracking_number"`
	PlacedAt          time.Time               `gorm:"column:placed_at;not null"`
	CancelledAt       *time.Time              `gorm:"column:cancelled_at"`
	CancelReason      *string                 `gorm:"column:cancel_reason"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`

	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}
