package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/pkg/enums"
)

// CartItem persists a priced line snapshot tied to a Cart. One row per
// variant per cart.
type CartItem struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	CartID             uuid.UUID           `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:ux_cart_items_cart_variant"`
	ProductID          uuid.UUID           `gorm:"column:product_id;type:uuid;not null"`
	VariantID          uuid.UUID           `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:ux_cart_items_cart_variant"`
	SKU                string              `gorm:"column:sku;not null"`
	Title              string              `gorm:"column:title;not null"`
	ImageURL           *string             `gorm:"column:image_url"`
	Qty                int                 `gorm:"column:qty;not null"`
	UnitPricePaise     int64               `gorm:"column:unit_price_paise;not null"`
	MRPPaise           int64               `gorm:"column:mrp_paise;not null;default:0"`
	DiscountPaise      int64               `gorm:"column:discount_paise;not null;default:0"`
	LineSubtotalPaise  int64               `gorm:"column:line_subtotal_paise;not null"`
	LineTotalPaise     int64               `gorm:"column:line_total_paise;not null"`
	PriceChanged       bool                `gorm:"column:price_changed;not null;default:false"`
	PrevUnitPricePaise *int64              `gorm:"column:prev_unit_price_paise"`
	ProductStatus      enums.ProductStatus `gorm:"column:product_status;type:product_status;not null;default:'available'"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *CartItem) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
