package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderItem is a frozen line snapshot plus the per-line quantity ledger used
// by fulfillment, returns and refunds. A unit is counted once: in qty_returned
// when it came back through a return, in qty_refunded when it was refunded
// without a return. The ledger invariant is qty_returned + qty_refunded <= qty
// and qty_returned <= qty_fulfilled.
type OrderItem struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID      uuid.UUID  `gorm:"column:variant_id;type:uuid;not null"`
	SKU            string     `gorm:"column:sku;not null"`
	Title          string     `gorm:"column:title;not null"`
	ImageURL       *string    `gorm:"column:image_url"`
	Qty            int        `gorm:"column:qty;not null"`
	UnitPricePaise int64      `gorm:"column:unit_price_paise;not null"`
	DiscountPaise  int64      `gorm:"column:discount_paise;not null;default:0"`
	TaxPaise       int64      `gorm:"column:tax_paise;not null;default:0"`
	LineTotalPaise int64      `gorm:"column:line_total_paise;not null"`
	QtyFulfilled   int        `gorm:"column:qty_fulfilled;not null;default:0"`
	QtyReturned    int        `gorm:"column:qty_returned;not null;default:0"`
	QtyRefunded    int        `gorm:"column:qty_refunded;not null;default:0"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// RefundableQty returns how many units can still be refunded outside the
// return flow. Returned units are refunded through their return.
func (o *OrderItem) RefundableQty() int {
	return o.Qty - o.QtyRefunded - o.QtyReturned
}

// ReturnableQty returns how many fulfilled units can still be returned.
func (o *OrderItem) ReturnableQty() int {
	return o.QtyFulfilled - o.QtyReturned
}
