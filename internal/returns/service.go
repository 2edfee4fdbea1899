package returns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/internal/clients"
	"github.com/anshulkhatri/cartful-backend/internal/history"
	"github.com/anshulkhatri/cartful-backend/internal/orders"
	"github.com/anshulkhatri/cartful-backend/internal/refunds"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
	"github.com/anshulkhatri/cartful-backend/pkg/metrics"
	"github.com/anshulkhatri/cartful-backend/pkg/outbox"
)

// RequestLine asks to return a quantity of one order line.
type RequestLine struct {
	OrderItemID uuid.UUID
	Qty         int
	Reason      *string
}

// RequestInput describes a return request.
type RequestInput struct {
	OrderID uuid.UUID
	Lines   []RequestLine
	Reason  string
	Note    *string
	Actor   enums.ActorType
}

// InspectionInput records the warehouse verdict on picked up goods.
type InspectionInput struct {
	Accepted bool
	Note     *string
	Actor    enums.ActorType
}

// Service drives the return lifecycle: request, approval, pickup, inspection.
// An accepted inspection opens the refund, restocks the goods and closes the
// return.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Return, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Return, error)
	Request(ctx context.Context, input RequestInput) (*models.Return, error)
	Approve(ctx context.Context, id uuid.UUID, actor enums.ActorType) (*models.Return, error)
	Reject(ctx context.Context, id uuid.UUID, actor enums.ActorType, note string) (*models.Return, error)
	Cancel(ctx context.Context, id uuid.UUID, actor enums.ActorType) (*models.Return, error)
	SchedulePickup(ctx context.Context, id uuid.UUID, at time.Time) (*models.Return, error)
	MarkPickedUp(ctx context.Context, id uuid.UUID) (*models.Return, error)
	CompleteInspection(ctx context.Context, id uuid.UUID, input InspectionInput) (*models.Return, error)
}

type service struct {
	repo      ReturnRepository
	orders    orders.OrderRepository
	tx        txRunner
	inventory restocker
	refunds   refundOpener
	history   historyRecorder
	outbox    eventEmitter
	metrics   *metrics.PipelineMetrics
	logg      *logger.Logger
}

// NewService wires the returns service.
func NewService(
	repo ReturnRepository,
	orderRepo orders.OrderRepository,
	tx txRunner,
	inventory restocker,
	refundSvc refundOpener,
	hist historyRecorder,
	box eventEmitter,
	m *metrics.PipelineMetrics,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil || orderRepo == nil || tx == nil {
		return nil, fmt.Errorf("return persistence dependencies required")
	}
	if inventory == nil || refundSvc == nil {
		return nil, fmt.Errorf("inventory and refund services required")
	}
	if hist == nil || box == nil {
		return nil, fmt.Errorf("history and outbox services required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      repo,
		orders:    orderRepo,
		tx:        tx,
		inventory: inventory,
		refunds:   refundSvc,
		history:   hist,
		outbox:    box,
		metrics:   m,
		logg:      logg,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Return, error) {
	ret, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "return not found")
		}
		return nil, err
	}
	return ret, nil
}

func (s *service) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Return, error) {
	return s.repo.ListForOrder(ctx, orderID)
}

// Request opens a pending return. Every line must stay within the item's
// returnable quantity after subtracting units already claimed by other open
// returns.
func (s *service) Request(ctx context.Context, input RequestInput) (*models.Return, error) {
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a return reason is required")
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a return needs at least one line")
	}

	order, err := s.orders.FindByID(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	if order.Status != enums.OrderStatusDelivered && order.Status != enums.OrderStatusReturned {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only delivered orders can be returned").
			WithDetails(map[string]any{"currentStatus": order.Status})
	}

	claimed, err := s.openQtyByItem(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	itemsByID := make(map[uuid.UUID]*models.OrderItem, len(order.Items))
	for i := range order.Items {
		itemsByID[order.Items[i].ID] = &order.Items[i]
	}

	seen := make(map[uuid.UUID]bool, len(input.Lines))
	returnItems := make([]models.ReturnItem, 0, len(input.Lines))
	for _, line := range input.Lines {
		item, ok := itemsByID[line.OrderItemID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}
		if seen[line.OrderItemID] {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate order item in return request")
		}
		seen[line.OrderItemID] = true
		if line.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "return quantity must be positive")
		}
		available := item.ReturnableQty() - claimed[item.ID]
		if line.Qty > available {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "return exceeds returnable quantity").
				WithDetails(map[string]any{
					"orderItemId": item.ID,
					"returnable":  available,
					"requested":   line.Qty,
				})
		}
		returnItems = append(returnItems, models.ReturnItem{
			OrderItemID: line.OrderItemID,
			Qty:         line.Qty,
			Reason:      line.Reason,
		})
	}

	ret := &models.Return{
		OrderID: order.ID,
		Status:  enums.ReturnStatusPending,
		Reason:  input.Reason,
		Note:    input.Note,
		Items:   returnItems,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, ret); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventReturnRequested,
			AggregateType: enums.OutboxAggregateReturn,
			AggregateID:   ret.ID,
			Actor:         &outbox.ActorRef{ActorType: input.Actor},
			Data: map[string]any{
				"returnId": ret.ID,
				"orderId":  order.ID,
				"reason":   input.Reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *service) Approve(ctx context.Context, id uuid.UUID, actor enums.ActorType) (*models.Return, error) {
	_ = actor
	return s.transition(ctx, id, enums.ReturnStatusApproved, nil)
}

func (s *service) Reject(ctx context.Context, id uuid.UUID, actor enums.ActorType, note string) (*models.Return, error) {
	_ = actor
	fields := map[string]any{}
	if note != "" {
		fields["note"] = note
	}
	return s.transition(ctx, id, enums.ReturnStatusRejected, fields)
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID, actor enums.ActorType) (*models.Return, error) {
	_ = actor
	return s.transition(ctx, id, enums.ReturnStatusCancelled, nil)
}

func (s *service) SchedulePickup(ctx context.Context, id uuid.UUID, at time.Time) (*models.Return, error) {
	if at.Before(time.Now()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pickup must be scheduled in the future")
	}
	return s.transition(ctx, id, enums.ReturnStatusPickupScheduled, map[string]any{
		"pickup_scheduled_at": at,
	})
}

func (s *service) MarkPickedUp(ctx context.Context, id uuid.UUID) (*models.Return, error) {
	return s.transition(ctx, id, enums.ReturnStatusPickedUp, map[string]any{
		"picked_up_at": time.Now(),
	})
}

// CompleteInspection settles a picked up return. Acceptance bumps the item
// ledger, opens the refund, restocks the goods and closes the return. The
// ledger and order state commit first; a refund or restock failure leaves the
// return completed and is flagged for manual follow-up.
func (s *service) CompleteInspection(ctx context.Context, id uuid.UUID, input InspectionInput) (*models.Return, error) {
	extra := map[string]any{"inspected_at": time.Now()}
	if input.Note != nil {
		extra["note"] = input.Note
	}
	if !input.Accepted {
		return s.transition(ctx, id, enums.ReturnStatusRejectedAfterInspection, extra)
	}

	ret, err := s.transition(ctx, id, enums.ReturnStatusAccepted, extra)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.FindByID(ctx, ret.OrderID)
	if err != nil {
		return nil, err
	}
	itemsByID := make(map[uuid.UUID]*models.OrderItem, len(order.Items))
	for i := range order.Items {
		itemsByID[order.Items[i].ID] = &order.Items[i]
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txOrders := s.orders.WithTx(tx)
		for _, line := range ret.Items {
			item, ok := itemsByID[line.OrderItemID]
			if !ok {
				continue
			}
			item.QtyReturned += line.Qty
			if err := txOrders.SaveItem(ctx, item); err != nil {
				return err
			}
		}

		if fullyReturned(order.Items) {
			fields := map[string]any{"fulfillment_status": enums.FulfillmentStatusReturned}
			if order.Status.CanTransitionTo(enums.OrderStatusReturned) {
				fields["status"] = enums.OrderStatusReturned
				from := string(order.Status)
				if err := s.history.Record(ctx, tx, history.Entry{
					OrderID:    order.ID,
					StatusType: enums.StatusTypeOrder,
					FromStatus: &from,
					ToStatus:   string(enums.OrderStatusReturned),
					ActorType:  input.Actor,
					Metadata:   map[string]any{"returnId": ret.ID},
				}); err != nil {
					return err
				}
			}
			if err := txOrders.UpdateFields(ctx, order.ID, fields); err != nil {
				return err
			}
		}

		if err := s.repo.WithTx(tx).UpdateFields(ctx, ret.ID, map[string]any{
			"status": enums.ReturnStatusCompleted,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventReturnCompleted,
			AggregateType: enums.OutboxAggregateReturn,
			AggregateID:   ret.ID,
			Actor:         &outbox.ActorRef{ActorType: input.Actor},
			Data: map[string]any{
				"returnId": ret.ID,
				"orderId":  order.ID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.settleSideEffects(ctx, order, ret, input.Actor)
	return s.Get(ctx, ret.ID)
}

// settleSideEffects runs the refund and restock legs after the ledger commit.
// Failures are collected and logged; the return stays completed either way.
func (s *service) settleSideEffects(ctx context.Context, order *models.Order, ret *models.Return, actor enums.ActorType) {
	var errs error

	lines := make([]refunds.RequestLine, 0, len(ret.Items))
	for _, line := range ret.Items {
		lines = append(lines, refunds.RequestLine{OrderItemID: line.OrderItemID, Qty: line.Qty})
	}
	if _, err := s.refunds.RequestForReturn(ctx, order.ID, ret.ID, lines, actor); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("opening refund: %w", err))
	}

	itemsByID := make(map[uuid.UUID]*models.OrderItem, len(order.Items))
	for i := range order.Items {
		itemsByID[order.Items[i].ID] = &order.Items[i]
	}
	restock := make([]clients.AvailabilityQuery, 0, len(ret.Items))
	for _, line := range ret.Items {
		if item, ok := itemsByID[line.OrderItemID]; ok {
			restock = append(restock, clients.AvailabilityQuery{VariantID: item.VariantID, Qty: line.Qty})
		}
	}
	if len(restock) > 0 {
		if err := s.inventory.Restock(ctx, order.ID, restock); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("restocking returned goods: %w", err))
		}
	}

	if errs != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"return_id": ret.ID.String(),
			"order_id":  order.ID.String(),
		})
		s.logg.Error(logCtx, "return settlement incomplete", errs)
	}
}

// openQtyByItem sums per-line quantities claimed by returns that are still in
// flight, so overlapping requests cannot oversubscribe a line.
func (s *service) openQtyByItem(ctx context.Context, orderID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := s.repo.ListForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	claimed := make(map[uuid.UUID]int)
	for _, ret := range rows {
		switch ret.Status {
		case enums.ReturnStatusRejected, enums.ReturnStatusCancelled,
			enums.ReturnStatusRejectedAfterInspection, enums.ReturnStatusCompleted:
			// Completed returns are already reflected in qty_returned;
			// the dead ones never will be.
			continue
		}
		for _, line := range ret.Items {
			claimed[line.OrderItemID] += line.Qty
		}
	}
	return claimed, nil
}

func (s *service) transition(ctx context.Context, id uuid.UUID, target enums.ReturnStatus, extra map[string]any) (*models.Return, error) {
	ret, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ret.Status.CanTransitionTo(target) {
		allowed := ret.Status.AllowedNext()
		next := make([]string, 0, len(allowed))
		for _, status := range allowed {
			next = append(next, string(status))
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot move return from %s to %s", ret.Status, target)).
			WithDetails(map[string]any{"allowedNext": next})
	}
	fields := map[string]any{"status": target}
	for k, v := range extra {
		fields[k] = v
	}
	if err := s.repo.UpdateFields(ctx, ret.ID, fields); err != nil {
		return nil, err
	}
	ret.Status = target
	return ret, nil
}

func fullyReturned(items []models.OrderItem) bool {
	for _, item := range items {
		if item.QtyReturned < item.Qty {
			return false
		}
	}
	return len(items) > 0
}
