// Package history maintains the append-only order status ledger.
package history

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
)

// Entry describes one status transition to record.
type Entry struct {
	OrderID    uuid.UUID
	StatusType enums.StatusType
	FromStatus *string
	ToStatus   string
	ActorType  enums.ActorType
	ActorID    *string
	Note       *string
	Metadata   any
}

// Service records and reads the ledger. Writes happen inside the caller's
// transaction so a transition and its ledger row commit together.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
}

type service struct {
	db *gorm.DB
}

// NewService builds the history service.
func NewService(db *gorm.DB) (Service, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &service{db: db}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !entry.StatusType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid status type")
	}
	if entry.ToStatus == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "target status is required")
	}
	if !entry.ActorType.IsValid() {
		entry.ActorType = enums.ActorTypeSystem
	}

	var metadata json.RawMessage
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding history metadata")
		}
		metadata = encoded
	}

	row := models.OrderStatusHistory{
		OrderID:    entry.OrderID,
		StatusType: entry.StatusType,
		FromStatus: entry.FromStatus,
		ToStatus:   entry.ToStatus,
		ActorType:  entry.ActorType,
		ActorID:    entry.ActorID,
		Note:       entry.Note,
		Metadata:   metadata,
	}
	return tx.WithContext(ctx).Create(&row).Error
}

func (s *service) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var rows []models.OrderStatusHistory
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
