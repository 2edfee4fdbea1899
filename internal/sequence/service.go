// Package sequence issues human-readable order numbers from a database
// counter. Numbers are unique and monotonic per year; gaps are acceptable.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
)

const orderCounterName = "order_number"

// Service mints order numbers inside the caller's transaction.
type Service interface {
	NextOrderNumber(ctx context.Context, tx *gorm.DB, now time.Time) (string, error)
}

type service struct{}

// NewService builds the sequence service.
func NewService() Service {
	return &service{}
}

// NextOrderNumber bumps the (order_number, year) counter atomically and
// formats the result as ORD-<year>-<seq>. The upsert takes a row lock, so
// concurrent placements serialize on the counter row and never share a
// number.
func (s *service) NextOrderNumber(ctx context.Context, tx *gorm.DB, now time.Time) (string, error) {
	if tx == nil {
		return "", errors.New("transaction required")
	}

	year := now.UTC().Year()
	var seq int64
	err := tx.WithContext(ctx).Raw(
		`INSERT INTO counters (name, year, sequence) VALUES (?, ?, 1)
		 ON CONFLICT(name, year) DO UPDATE SET sequence = counters.sequence + 1
		 RETURNING sequence`,
		orderCounterName, year,
	).Scan(&seq).Error
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "bumping order number counter")
	}
	if seq <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "order number counter returned no value")
	}

	return fmt.Sprintf("ORD-%d-%06d", year, seq), nil
}
