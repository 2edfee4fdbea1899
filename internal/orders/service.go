package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/internal/clients"
	"github.com/anshulkhatri/cartful-backend/internal/history"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
	"github.com/anshulkhatri/cartful-backend/pkg/metrics"
	"github.com/anshulkhatri/cartful-backend/pkg/outbox"
	"github.com/anshulkhatri/cartful-backend/pkg/pagination"
)

// Actor identifies who drives a transition.
type Actor struct {
	Type enums.ActorType
	ID   *string
}

// TransitionInput carries one lifecycle step for an order. TrackingNumber is
// required when the target is shipped and ignored otherwise.
type TransitionInput struct {
	Target         enums.OrderStatus
	Actor          Actor
	Note           *string
	TrackingNumber *string
}

// FulfillmentLine records shipped quantity for one order item.
type FulfillmentLine struct {
	OrderItemID uuid.UUID
	Qty         int
}

// Page is one listing page plus the cursor for the next one.
type Page struct {
	Orders     []models.Order
	NextCursor string
}

// BulkStatusResult is the per-order outcome of a bulk status update.
type BulkStatusResult struct {
	OrderID uuid.UUID
	Order   *models.Order
	Err     error
}

// Service drives the order lifecycle after placement.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	List(ctx context.Context, filter ListFilter) (*Page, error)
	History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, input TransitionInput) (*models.Order, error)
	BulkUpdateStatus(ctx context.Context, orderIDs []uuid.UUID, input TransitionInput) []BulkStatusResult
	Cancel(ctx context.Context, orderID uuid.UUID, actor Actor, reason string) (*models.Order, error)
	Fulfill(ctx context.Context, orderID uuid.UUID, lines []FulfillmentLine, actor Actor) (*models.Order, error)
}

type service struct {
	repo       OrderRepository
	tx         txRunner
	history    historyRecorder
	outbox     eventEmitter
	inventory  restocker
	pricing    couponReleaser
	refunds    refundInitiator
	payments   codSettler
	engagement notifier
	metrics    *metrics.PipelineMetrics
	logg       *logger.Logger
}

// NewService wires the order lifecycle service. The refund initiator may be
// nil until the refunds service is attached via SetRefundInitiator; the
// engagement notifier may be nil permanently.
func NewService(
	repo OrderRepository,
	tx txRunner,
	hist historyRecorder,
	box eventEmitter,
	inventory restocker,
	pricing couponReleaser,
	engagement notifier,
	m *metrics.PipelineMetrics,
	logg *logger.Logger,
) (*ServiceImpl, error) {
	if repo == nil || tx == nil {
		return nil, fmt.Errorf("order persistence dependencies required")
	}
	if hist == nil || box == nil {
		return nil, fmt.Errorf("history and outbox services required")
	}
	if inventory == nil || pricing == nil {
		return nil, fmt.Errorf("inventory and pricing clients required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &ServiceImpl{service{
		repo:       repo,
		tx:         tx,
		history:    hist,
		outbox:     box,
		inventory:  inventory,
		pricing:    pricing,
		engagement: engagement,
		metrics:    m,
		logg:       logg,
	}}, nil
}

// ServiceImpl is the concrete order service. It is exported so the refunds
// service, which depends on orders and is depended on by Cancel, can be wired
// in after construction.
type ServiceImpl struct {
	service
}

// SetRefundInitiator attaches the refunds service. Must be called before any
// Cancel of a paid order; a nil initiator downgrades those to manual refunds.
func (s *ServiceImpl) SetRefundInitiator(r refundInitiator) {
	s.refunds = r
}

// SetPaymentSettler attaches the payments service so delivering a COD order
// can settle its cash leg. A nil settler leaves the payment pending.
func (s *ServiceImpl) SetPaymentSettler(p codSettler) {
	s.payments = p
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	return order, nil
}

func (s *service) GetByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := s.repo.FindByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	return order, nil
}

// List returns one page of orders plus the cursor for the next.
func (s *service) List(ctx context.Context, filter ListFilter) (*Page, error) {
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	limit := pagination.NormalizeLimit(filter.Page.Limit)
	page := &Page{Orders: rows}
	if len(rows) > limit {
		page.Orders = rows[:limit]
		last := page.Orders[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.PlacedAt, ID: last.ID})
	}
	return page, nil
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	if _, err := s.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return s.history.ListForOrder(ctx, orderID)
}

// UpdateStatus moves the order one legal step along the lifecycle graph.
// Cancellation goes through Cancel so its compensations run. Delivering a
// cash-on-delivery order settles its pending payment.
func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, input TransitionInput) (*models.Order, error) {
	target := input.Target
	actor := input.Actor
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	if target == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "use the cancel operation to cancel an order")
	}

	var tracking *string
	if target == enums.OrderStatusShipped {
		trimmed := ""
		if input.TrackingNumber != nil {
			trimmed = strings.TrimSpace(*input.TrackingNumber)
		}
		if trimmed == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "a tracking number is required to mark an order shipped")
		}
		tracking = &trimmed
	}

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.checkTransition(order.Status, target); err != nil {
		return nil, err
	}

	from := string(order.Status)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		fields := map[string]any{"status": target}
		if tracking != nil {
			fields["tracking_number"] = *tracking
		}
		if err := s.repo.WithTx(tx).UpdateFields(ctx, order.ID, fields); err != nil {
			return err
		}
		if err := s.history.Record(ctx, tx, history.Entry{
			OrderID:    order.ID,
			StatusType: enums.StatusTypeOrder,
			FromStatus: &from,
			ToStatus:   string(target),
			ActorType:  actor.Type,
			ActorID:    actor.ID,
			Note:       input.Note,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventOrderStatusChanged,
			AggregateType: enums.OutboxAggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{ActorType: actor.Type, ActorID: derefStr(actor.ID)},
			Data: map[string]any{
				"orderId":     order.ID,
				"orderNumber": order.OrderNumber,
				"fromStatus":  from,
				"toStatus":    target,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	order.Status = target
	if tracking != nil {
		order.TrackingNumber = tracking
	}
	s.metrics.IncStatusTransition(string(target))
	s.settleOnDelivery(ctx, order)
	s.notifyStatus(ctx, order)
	return order, nil
}

// settleOnDelivery records the cash leg of a delivered COD order. The order
// is already delivered; a settlement failure is an operator problem, not a
// reason to unwind the transition.
func (s *service) settleOnDelivery(ctx context.Context, order *models.Order) {
	if order.Status != enums.OrderStatusDelivered ||
		order.PaymentMethod != enums.PaymentMethodCashOnDelivery ||
		order.PaymentStatus != enums.PaymentStatusPending {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":     order.ID.String(),
		"order_number": order.OrderNumber,
	})
	if s.payments == nil {
		s.logg.Warn(logCtx, "delivered cash order with no payment settler wired")
		return
	}
	if err := s.payments.SettleCashOnDelivery(ctx, order.ID); err != nil {
		s.logg.Error(logCtx, "settling cash on delivery", err)
		return
	}
	order.PaymentStatus = enums.PaymentStatusSuccess
}

// BulkUpdateStatus applies the single-order transition per id, independently.
// One bad order never fails the batch; partial success is the contract.
func (s *service) BulkUpdateStatus(ctx context.Context, orderIDs []uuid.UUID, input TransitionInput) []BulkStatusResult {
	results := make([]BulkStatusResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		order, err := s.UpdateStatus(ctx, id, input)
		results = append(results, BulkStatusResult{OrderID: id, Order: order, Err: err})
	}
	return results
}

// Cancel moves the order to cancelled and runs the compensations: restock,
// refund any captured payment, release coupon redemptions. Compensation
// failures never un-cancel the order; they are aggregated, logged and, for
// refunds, flagged for manual operator action.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, actor Actor, reason string) (*models.Order, error) {
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancel reason is required")
	}
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.checkTransition(order.Status, enums.OrderStatusCancelled); err != nil {
		return nil, err
	}

	from := string(order.Status)
	now := time.Now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		fields := map[string]any{
			"status":        enums.OrderStatusCancelled,
			"cancelled_at":  now,
			"cancel_reason": reason,
		}
		if err := s.repo.WithTx(tx).UpdateFields(ctx, order.ID, fields); err != nil {
			return err
		}
		if err := s.history.Record(ctx, tx, history.Entry{
			OrderID:    order.ID,
			StatusType: enums.StatusTypeOrder,
			FromStatus: &from,
			ToStatus:   string(enums.OrderStatusCancelled),
			ActorType:  actor.Type,
			ActorID:    actor.ID,
			Note:       &reason,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventOrderCancelled,
			AggregateType: enums.OutboxAggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{ActorType: actor.Type, ActorID: derefStr(actor.ID)},
			Data: map[string]any{
				"orderId":     order.ID,
				"orderNumber": order.OrderNumber,
				"fromStatus":  from,
				"reason":      reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	order.Status = enums.OrderStatusCancelled
	order.CancelledAt = &now
	order.CancelReason = &reason
	s.metrics.IncStatusTransition(string(enums.OrderStatusCancelled))

	if compErr := s.compensate(ctx, order, actor); compErr != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":     order.ID.String(),
			"order_number": order.OrderNumber,
		})
		s.logg.Error(logCtx, "cancel compensations incomplete", compErr)
	}

	s.notifyStatus(ctx, order)
	return order, nil
}

// compensate runs every compensation and keeps going past failures so one
// broken collaborator cannot block the others.
func (s *service) compensate(ctx context.Context, order *models.Order, actor Actor) error {
	var errs error

	items := make([]clients.AvailabilityQuery, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, clients.AvailabilityQuery{VariantID: item.VariantID, Qty: item.Qty})
	}
	if len(items) > 0 {
		if err := s.inventory.Restock(ctx, order.ID, items); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("restock: %w", err))
		}
	}

	if order.PaymentStatus == enums.PaymentStatusSuccess || order.PaymentStatus == enums.PaymentStatusPartiallyRefunded {
		if s.refunds == nil {
			s.metrics.IncManualRefundRequired()
			errs = multierr.Append(errs, fmt.Errorf("refund: no refund initiator wired"))
		} else if err := s.refunds.RefundOnCancellation(ctx, order.ID, actor.Type); err != nil {
			s.metrics.IncManualRefundRequired()
			errs = multierr.Append(errs, fmt.Errorf("refund: %w", err))
		}
	}

	if len(order.AppliedCoupons) > 0 {
		if err := s.pricing.ReleaseCouponUsage(ctx, order.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("release coupons: %w", err))
		}
	}

	return errs
}

// Fulfill bumps the per-line fulfilled quantities and derives the order's
// fulfillment status from the full ledger.
func (s *service) Fulfill(ctx context.Context, orderID uuid.UUID, lines []FulfillmentLine, actor Actor) (*models.Order, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one fulfillment line is required")
	}
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case enums.OrderStatusProcessing, enums.OrderStatusShipped, enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not in a fulfillable status").
			WithDetails(map[string]any{"status": order.Status})
	}

	itemsByID := make(map[uuid.UUID]*models.OrderItem, len(order.Items))
	for i := range order.Items {
		itemsByID[order.Items[i].ID] = &order.Items[i]
	}
	for _, line := range lines {
		item, ok := itemsByID[line.OrderItemID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}
		if line.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "fulfillment quantity must be positive")
		}
		if item.QtyFulfilled+line.Qty > item.Qty {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "fulfillment exceeds ordered quantity").
				WithDetails(map[string]any{
					"orderItemId": item.ID,
					"qty":         item.Qty,
					"fulfilled":   item.QtyFulfilled,
					"requested":   line.Qty,
				})
		}
	}

	prev := order.FulfillmentStatus
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		for _, line := range lines {
			item := itemsByID[line.OrderItemID]
			item.QtyFulfilled += line.Qty
			if err := txRepo.SaveItem(ctx, item); err != nil {
				return err
			}
		}

		next := deriveFulfillment(order.Items)
		if next != prev {
			if err := txRepo.UpdateFields(ctx, order.ID, map[string]any{"fulfillment_status": next}); err != nil {
				return err
			}
			from := string(prev)
			if err := s.history.Record(ctx, tx, history.Entry{
				OrderID:    order.ID,
				StatusType: enums.StatusTypeFulfillment,
				FromStatus: &from,
				ToStatus:   string(next),
				ActorType:  actor.Type,
				ActorID:    actor.ID,
			}); err != nil {
				return err
			}
			order.FulfillmentStatus = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) checkTransition(current, target enums.OrderStatus) error {
	if current.CanTransitionTo(target) {
		return nil
	}
	allowed := current.AllowedNext()
	next := make([]string, 0, len(allowed))
	for _, status := range allowed {
		next = append(next, string(status))
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict,
		fmt.Sprintf("cannot move order from %s to %s", current, target)).
		WithDetails(map[string]any{
			"currentStatus": current,
			"targetStatus":  target,
			"allowedNext":   next,
		})
}

func (s *service) notifyStatus(ctx context.Context, order *models.Order) {
	if s.engagement == nil {
		return
	}
	err := s.engagement.Notify(ctx, clients.Notification{
		Kind:        "order.status_changed",
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
	})
	if err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String()})
		s.logg.Warn(logCtx, "order notification failed")
	}
}

// deriveFulfillment folds the item ledger into the order-level status.
func deriveFulfillment(items []models.OrderItem) enums.FulfillmentStatus {
	total, fulfilled, returned := 0, 0, 0
	for _, item := range items {
		total += item.Qty
		fulfilled += item.QtyFulfilled
		returned += item.QtyReturned
	}
	switch {
	case total > 0 && returned >= fulfilled && fulfilled == total:
		return enums.FulfillmentStatusReturned
	case fulfilled == 0:
		return enums.FulfillmentStatusUnfulfilled
	case fulfilled < total:
		return enums.FulfillmentStatusPartiallyFulfilled
	default:
		return enums.FulfillmentStatusFulfilled
	}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
