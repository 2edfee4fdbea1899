package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/pkg/enums"
)

// Return tracks a physical return request through pickup and inspection.
type Return struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	Status            enums.ReturnStatus `gorm:"column:status;type:return_status;not null;default:'pending'"`
	Reason            string             `gorm:"column:reason;not null"`
	Note              *string            `gorm:"column:note"`
	PickupScheduledAt *time.Time         `gorm:"column:pickup_scheduled_at"`
	PickedUpAt        *time.Time         `gorm:"column:picked_up_at"`
	InspectedAt       *time.Time         `gorm:"column:inspected_at"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`

	Items []ReturnItem `gorm:"foreignKey:ReturnID"`
}

func (r *Return) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// ReturnItem pins a return to specific order line quantities.
type ReturnItem struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ReturnID    uuid.UUID `gorm:"column:return_id;type:uuid;not null;index"`
	OrderItemID uuid.UUID `gorm:"column:order_item_id;type:uuid;not null"`
	Qty         int       `gorm:"column:qty;not null"`
	Reason      *string   `gorm:"column:reason"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (r *ReturnItem) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
