package refunds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/internal/history"
	"github.com/anshulkhatri/cartful-backend/internal/orders"
	"github.com/anshulkhatri/cartful-backend/internal/payments"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
	"github.com/anshulkhatri/cartful-backend/pkg/metrics"
	"github.com/anshulkhatri/cartful-backend/pkg/outbox"
)

// RequestLine asks to refund a quantity of one order line.
type RequestLine struct {
	OrderItemID uuid.UUID
	Qty         int
}

// RequestInput describes a refund request. Empty Lines means everything still
// refundable on the order, shipping included.
type RequestInput struct {
	OrderID uuid.UUID
	Lines   []RequestLine
	Reason  *string
	Actor   enums.ActorType
}

// Service drives the refund lifecycle and keeps the per-line quantity ledger
// consistent: a unit is never refunded twice, and partial refund amounts for
// a line always sum to exactly the line's charged amount.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error)
	Request(ctx context.Context, input RequestInput) (*models.Refund, error)
	Approve(ctx context.Context, id uuid.UUID, actor enums.ActorType) (*models.Refund, error)
	Reject(ctx context.Context, id uuid.UUID, actor enums.ActorType, note string) (*models.Refund, error)
	Cancel(ctx context.Context, id uuid.UUID, actor enums.ActorType) (*models.Refund, error)
	Process(ctx context.Context, id uuid.UUID) (*models.Refund, error)

	// RefundOnCancellation backs the order cancel compensation: everything
	// not yet refunded goes back.
	RefundOnCancellation(ctx context.Context, orderID uuid.UUID, actor enums.ActorType) error
	// RequestForReturn opens and processes a refund for an accepted return.
	RequestForReturn(ctx context.Context, orderID, returnID uuid.UUID, lines []RequestLine, actor enums.ActorType) (*models.Refund, error)
	// ApplyGatewayRefund settles a gateway-confirmed refund. Webhook path.
	ApplyGatewayRefund(ctx context.Context, gatewayRefundID, gatewayPaymentID string, amountPaise int64) error
}

type service struct {
	repo     RefundRepository
	orders   orders.OrderRepository
	payments payments.PaymentRepository
	tx       txRunner
	gateway  refundCreator
	history  historyRecorder
	outbox   idempotentEmitter
	metrics  *metrics.PipelineMetrics
	logg     *logger.Logger
}

// NewService wires the refund service.
func NewService(
	repo RefundRepository,
	orderRepo orders.OrderRepository,
	paymentRepo payments.PaymentRepository,
	tx txRunner,
	gw refundCreator,
	hist historyRecorder,
	box idempotentEmitter,
	m *metrics.PipelineMetrics,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil || orderRepo == nil || paymentRepo == nil || tx == nil {
		return nil, fmt.Errorf("refund persistence dependencies required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if hist == nil || box == nil {
		return nil, fmt.Errorf("history and outbox services required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		orders:   orderRepo,
		payments: paymentRepo,
		tx:       tx,
		gateway:  gw,
		history:  hist,
		outbox:   box,
		metrics:  m,
		logg:     logg,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	refund, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund not found")
		}
		return nil, err
	}
	return refund, nil
}

func (s *service) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	return s.repo.ListForOrder(ctx, orderID)
}

// Request opens a pending refund after validating every line against the
// quantity ledger and the order's remaining refundable amount.
func (s *service) Request(ctx context.Context, input RequestInput) (*models.Refund, error) {
	refund, err := s.buildRefund(ctx, input.OrderID, nil, input.Lines, input.Actor, input.Reason, enums.RefundStatusPending)
	if err != nil {
		return nil, err
	}
	if err := s.persistRequest(ctx, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

// Approve moves a pending refund forward and immediately kicks off gateway
// processing.
func (s *service) Approve(ctx context.Context, id uuid.UUID, actor enums.ActorType) (*models.Refund, error) {
	refund, err := s.transition(ctx, id, enums.RefundStatusApproved, nil)
	if err != nil {
		return nil, err
	}
	_ = actor
	return s.Process(ctx, refund.ID)
}

func (s *service) Reject(ctx context.Context, id uuid.UUID, actor enums.ActorType, note string) (*models.Refund, error) {
	fields := map[string]any{}
	if note != "" {
		fields["failure_reason"] = note
	}
	_ = actor
	return s.transition(ctx, id, enums.RefundStatusRejected, fields)
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID, actor enums.ActorType) (*models.Refund, error) {
	_ = actor
	return s.transition(ctx, id, enums.RefundStatusCancelled, nil)
}

// Process moves an approved (or retried failed) refund through the gateway.
// Cash on delivery refunds have no gateway leg and settle as recorded, to be
// paid out offline. A gateway error parks the refund in failed and flags it
// for manual operator action.
func (s *service) Process(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	refund, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if refund.Status == enums.RefundStatusCompleted {
		return refund, nil
	}
	if !refund.Status.CanTransitionTo(enums.RefundStatusProcessing) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund cannot be processed from "+refund.Status.String())
	}

	order, err := s.orders.FindByID(ctx, refund.OrderID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateFields(ctx, refund.ID, map[string]any{"status": enums.RefundStatusProcessing}); err != nil {
		return nil, err
	}
	refund.Status = enums.RefundStatusProcessing

	if order.PaymentMethod == enums.PaymentMethodCashOnDelivery {
		if err := s.settle(ctx, refund, nil); err != nil {
			return nil, err
		}
		return s.Get(ctx, refund.ID)
	}

	payment, err := s.capturedPayment(ctx, order.ID)
	if err != nil || payment.GatewayPaymentID == nil {
		s.markFailed(ctx, refund, "no captured gateway payment to refund against")
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no captured gateway payment to refund against")
	}

	result, err := s.gateway.CreateRefund(ctx, *payment.GatewayPaymentID, refund.AmountPaise, map[string]string{
		"order_id":  order.ID.String(),
		"refund_id": refund.ID.String(),
	})
	if err != nil {
		s.markFailed(ctx, refund, "gateway refund failed: "+err.Error())
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating gateway refund")
	}

	fields := map[string]any{
		"gateway_refund_id": result.GatewayRefundID,
		"payment_id":        payment.ID,
	}
	if err := s.repo.UpdateFields(ctx, refund.ID, fields); err != nil {
		return nil, err
	}
	// The refund stays in processing until the gateway confirms it via
	// webhook; ApplyGatewayRefund finishes the job.
	return s.Get(ctx, refund.ID)
}

func (s *service) RefundOnCancellation(ctx context.Context, orderID uuid.UUID, actor enums.ActorType) error {
	reason := "order cancelled"
	refund, err := s.buildRefund(ctx, orderID, nil, nil, actor, &reason, enums.RefundStatusApproved)
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeStateConflict {
			// Nothing left to refund.
			return nil
		}
		return err
	}
	if err := s.persistRequest(ctx, refund); err != nil {
		return err
	}
	_, err = s.Process(ctx, refund.ID)
	return err
}

func (s *service) RequestForReturn(ctx context.Context, orderID, returnID uuid.UUID, lines []RequestLine, actor enums.ActorType) (*models.Refund, error) {
	reason := "return accepted"
	refund, err := s.buildRefund(ctx, orderID, &returnID, lines, actor, &reason, enums.RefundStatusApproved)
	if err != nil {
		return nil, err
	}
	if err := s.persistRequest(ctx, refund); err != nil {
		return nil, err
	}
	return s.Process(ctx, refund.ID)
}

// ApplyGatewayRefund settles the refund the gateway just confirmed. Replays
// find the refund already completed and return. A refund opened outside this
// system (for example from the gateway dashboard) lands as a completed
// line-less refund so the money ledgers still reconcile.
func (s *service) ApplyGatewayRefund(ctx context.Context, gatewayRefundID, gatewayPaymentID string, amountPaise int64) error {
	refund, err := s.repo.FindByGatewayRefundID(ctx, gatewayRefundID)
	if err == nil {
		if refund.Status == enums.RefundStatusCompleted {
			return nil
		}
		return s.settle(ctx, refund, nil)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	payment, err := s.payments.FindByGatewayPaymentID(ctx, gatewayPaymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no payment matches the gateway refund")
		}
		return err
	}
	if amountPaise <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway refund amount must be positive")
	}

	reason := "refund issued at the gateway"
	external := &models.Refund{
		OrderID:         payment.OrderID,
		PaymentID:       &payment.ID,
		Status:          enums.RefundStatusProcessing,
		AmountPaise:     amountPaise,
		GatewayRefundID: &gatewayRefundID,
		Reason:          &reason,
		RequestedBy:     enums.ActorTypeGateway,
	}
	if err := s.repo.Create(ctx, external); err != nil {
		return err
	}
	return s.settle(ctx, external, payment)
}

// buildRefund validates the request against the ledger and assembles the
// refund row. Empty lines expand to everything still refundable plus the
// order's unrefunded shipping and any rounding remainder, so a full refund
// always equals what was charged.
func (s *service) buildRefund(ctx context.Context, orderID uuid.UUID, returnID *uuid.UUID, lines []RequestLine, actor enums.ActorType, reason *string, status enums.RefundStatus) (*models.Refund, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	if order.PaymentStatus == enums.PaymentStatusPending || order.PaymentStatus == enums.PaymentStatusFailed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no settled payment to refund")
	}

	activeSum, err := s.repo.SumActiveForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	remaining := order.TotalPaise - activeSum
	if remaining <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already fully refunded")
	}

	itemsByID := make(map[uuid.UUID]*models.OrderItem, len(order.Items))
	for i := range order.Items {
		itemsByID[order.Items[i].ID] = &order.Items[i]
	}

	fullRemainder := len(lines) == 0
	if fullRemainder {
		for _, item := range order.Items {
			if item.RefundableQty() > 0 {
				lines = append(lines, RequestLine{OrderItemID: item.ID, Qty: item.RefundableQty()})
			}
		}
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing left to refund")
	}

	seen := make(map[uuid.UUID]bool, len(lines))
	var amount int64
	refundItems := make([]models.RefundItem, 0, len(lines))
	for _, line := range lines {
		item, ok := itemsByID[line.OrderItemID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}
		if seen[line.OrderItemID] {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate order item in refund request")
		}
		seen[line.OrderItemID] = true
		if line.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund quantity must be positive")
		}
		if returnID != nil {
			// The return already moved these units into qty_returned.
			if line.Qty > item.QtyReturned {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds returned quantity").
					WithDetails(map[string]any{
						"orderItemId": item.ID,
						"returned":    item.QtyReturned,
						"requested":   line.Qty,
					})
			}
		} else if line.Qty > item.RefundableQty() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds refundable quantity").
				WithDetails(map[string]any{
					"orderItemId": item.ID,
					"refundable":  item.RefundableQty(),
					"requested":   line.Qty,
				})
		}
		accounted := item.QtyRefunded + item.QtyReturned
		if returnID != nil {
			accounted -= line.Qty
		}
		lineAmount := amountForQty(item, line.Qty, accounted)
		amount += lineAmount
		refundItems = append(refundItems, models.RefundItem{
			OrderItemID: item.ID,
			Qty:         line.Qty,
			AmountPaise: lineAmount,
		})
	}

	if fullRemainder {
		// Full refunds settle the whole outstanding balance, shipping and
		// rounding included.
		amount = remaining
	}
	if amount > remaining {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds the order's refundable amount").
			WithDetails(map[string]any{"remainingPaise": remaining, "requestedPaise": amount})
	}

	return &models.Refund{
		OrderID:     order.ID,
		ReturnID:    returnID,
		Status:      status,
		AmountPaise: amount,
		Reason:      reason,
		RequestedBy: actor,
		Items:       refundItems,
	}, nil
}

func (s *service) persistRequest(ctx context.Context, refund *models.Refund) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, refund); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventRefundRequested,
			AggregateType: enums.OutboxAggregateRefund,
			AggregateID:   refund.ID,
			Actor:         &outbox.ActorRef{ActorType: refund.RequestedBy},
			Data: map[string]any{
				"refundId":    refund.ID,
				"orderId":     refund.OrderID,
				"amountPaise": refund.AmountPaise,
			},
		})
	})
}

// settle finalizes a refund: ledger bumps on the order items, the payment and
// order refunded totals, the payment status, and the refund.completed event,
// all in one transaction.
func (s *service) settle(ctx context.Context, refund *models.Refund, payment *models.Payment) error {
	order, err := s.orders.FindByID(ctx, refund.OrderID)
	if err != nil {
		return err
	}
	if payment == nil {
		payment, err = s.capturedPayment(ctx, order.ID)
		if err != nil && order.PaymentMethod != enums.PaymentMethodCashOnDelivery {
			return err
		}
	}

	itemsByID := make(map[uuid.UUID]*models.OrderItem, len(order.Items))
	for i := range order.Items {
		itemsByID[order.Items[i].ID] = &order.Items[i]
	}

	now := time.Now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).UpdateFields(ctx, refund.ID, map[string]any{
			"status":       enums.RefundStatusCompleted,
			"processed_at": now,
		}); err != nil {
			return err
		}

		txOrders := s.orders.WithTx(tx)
		if refund.ReturnID == nil {
			// Return-driven refunds leave qty_refunded alone; those units
			// are already counted in qty_returned.
			for _, line := range refund.Items {
				item, ok := itemsByID[line.OrderItemID]
				if !ok {
					continue
				}
				item.QtyRefunded += line.Qty
				if err := txOrders.SaveItem(ctx, item); err != nil {
					return err
				}
			}
		}

		newRefunded := order.RefundedPaise + refund.AmountPaise
		paymentStatus := enums.PaymentStatusPartiallyRefunded
		if newRefunded >= order.TotalPaise {
			paymentStatus = enums.PaymentStatusRefunded
		}
		if err := txOrders.UpdateFields(ctx, order.ID, map[string]any{
			"refunded_paise": newRefunded,
			"payment_status": paymentStatus,
		}); err != nil {
			return err
		}

		if payment != nil {
			if err := s.payments.WithTx(tx).UpdateFields(ctx, payment.ID, map[string]any{
				"refunded_paise": payment.RefundedPaise + refund.AmountPaise,
				"status":         paymentStatus,
			}); err != nil {
				return err
			}
		}

		from := string(order.PaymentStatus)
		if err := s.history.Record(ctx, tx, history.Entry{
			OrderID:    order.ID,
			StatusType: enums.StatusTypePayment,
			FromStatus: &from,
			ToStatus:   string(paymentStatus),
			ActorType:  refund.RequestedBy,
			Metadata:   map[string]any{"refundId": refund.ID, "amountPaise": refund.AmountPaise},
		}); err != nil {
			return err
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventRefundCompleted,
			AggregateType: enums.OutboxAggregateRefund,
			AggregateID:   refund.ID,
			Actor:         &outbox.ActorRef{ActorType: refund.RequestedBy},
			Data: map[string]any{
				"refundId":    refund.ID,
				"orderId":     order.ID,
				"amountPaise": refund.AmountPaise,
			},
		})
	})
	if err != nil {
		return err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"refund_id":    refund.ID.String(),
		"order_id":     order.ID.String(),
		"amount_paise": refund.AmountPaise,
	})
	s.logg.Info(logCtx, "refund completed")
	return nil
}

func (s *service) transition(ctx context.Context, id uuid.UUID, target enums.RefundStatus, extra map[string]any) (*models.Refund, error) {
	refund, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !refund.Status.CanTransitionTo(target) {
		allowed := refund.Status.AllowedNext()
		next := make([]string, 0, len(allowed))
		for _, status := range allowed {
			next = append(next, string(status))
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot move refund from %s to %s", refund.Status, target)).
			WithDetails(map[string]any{"allowedNext": next})
	}
	fields := map[string]any{"status": target}
	for k, v := range extra {
		fields[k] = v
	}
	if err := s.repo.UpdateFields(ctx, refund.ID, fields); err != nil {
		return nil, err
	}
	refund.Status = target
	return refund, nil
}

func (s *service) markFailed(ctx context.Context, refund *models.Refund, reason string) {
	s.metrics.IncManualRefundRequired()
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"refund_id": refund.ID.String(),
		"order_id":  refund.OrderID.String(),
	})
	s.logg.Error(logCtx, "refund needs manual action: "+reason, nil)
	if err := s.repo.UpdateFields(ctx, refund.ID, map[string]any{
		"status":         enums.RefundStatusFailed,
		"failure_reason": reason,
	}); err != nil {
		s.logg.Error(ctx, "marking refund failed", err)
	}
}

// capturedPayment finds the payment that actually took the money.
func (s *service) capturedPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	rows, err := s.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].CapturedPaise > 0 {
			return &rows[i], nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no captured payment for order")
}

// amountForQty prices a refund for qty units of a line. accounted is how many
// units of the line have already been paid out, via earlier refunds or
// returns. The last units absorb the integer-division remainder, so successive
// partial refunds of a line sum to exactly the line's charged amount.
func amountForQty(item *models.OrderItem, qty, accounted int) int64 {
	gross := item.LineTotalPaise + item.TaxPaise
	if item.Qty <= 0 {
		return 0
	}
	perUnit := gross / int64(item.Qty)
	if accounted+qty == item.Qty {
		return gross - perUnit*int64(accounted)
	}
	return perUnit * int64(qty)
}
