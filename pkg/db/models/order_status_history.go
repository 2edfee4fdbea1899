package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/pkg/enums"
)

// OrderStatusHistory is the append-only ledger of status transitions across
// the order, payment and fulfillment dimensions. Rows are never updated.
type OrderStatusHistory struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID        `gorm:"column:order_id;type:uuid;not null;index"`
	StatusType enums.StatusType `gorm:"column:status_type;type:status_type;not null"`
	FromStatus *string          `gorm:"column:from_status"`
	ToStatus   string           `gorm:"column:to_status;not null"`
	ActorType  enums.ActorType  `gorm:"column:actor_type;type:actor_type;not null"`
	ActorID    *string          `gorm:"column:actor_id"`
	Note       *string          `gorm:"column:note"`
	Metadata   json.RawMessage  `gorm:"column:metadata;type:jsonb"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
}

func (o *OrderStatusHistory) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}
