package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	"github.com/anshulkhatri/cartful-backend/pkg/types"
)

// Cart is the mutable pre-checkout aggregate. Totals are always recomputed
// from the items; Version guards concurrent writers.
type Cart struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	UserID         *uuid.UUID           `gorm:"column:user_id;type:uuid;index"`
	SessionID      *string              `gorm:"column:session_id;index"`
	Status         enums.CartStatus     `gorm:"column:status;type:cart_status;not null;default:'active'"`
	CurrencyCode   string               `gorm:"column:currency_code;not null;default:'INR'"`
	SubtotalPaise  int64                `gorm:"column:subtotal_paise;not null;default:0"`
	DiscountPaise  int64                `gorm:"column:discount_paise;not null;default:0"`
	TaxPaise       int64                `gorm:"column:tax_paise;not null;default:0"`
	ShippingPaise  int64                `gorm:"column:shipping_paise;not null;default:0"`
	TotalPaise     int64                `gorm:"column:total_paise;not null;default:0"`
	AppliedCoupons types.AppliedCoupons `gorm:"column:applied_coupons;type:jsonb;serializer:json"`
	Version        int                  `gorm:"column:version;not null;default:1"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`

	Items []CartItem `gorm:"foreignKey:CartID"`
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
