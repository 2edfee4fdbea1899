package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/internal/clients"
	"github.com/anshulkhatri/cartful-backend/internal/history"
	"github.com/anshulkhatri/cartful-backend/internal/orders"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/gateway"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
	"github.com/anshulkhatri/cartful-backend/pkg/metrics"
	"github.com/anshulkhatri/cartful-backend/pkg/outbox"
)

// VerifyInput is the client-side callback after a hosted gateway payment.
type VerifyInput struct {
	OrderID          uuid.UUID
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Service orchestrates payment state against gateway callbacks and webhooks.
// Every handler is idempotent: replayed deliveries find the state already
// applied and return without mutating.
// ReconcileInput identifies the gateway payment to reconcile manually.
type ReconcileInput struct {
	GatewayOrderID   string
	GatewayPaymentID string
}

type Service interface {
	GetForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	InitiateRetry(ctx context.Context, orderID uuid.UUID, idempotencyKey string) (*models.Payment, error)
	VerifyClientCallback(ctx context.Context, input VerifyInput) (*models.Payment, error)
	HandleWebhookEvent(ctx context.Context, event *gateway.Event) error
	Reconcile(ctx context.Context, input ReconcileInput) (*models.Payment, error)
	// SettleCashOnDelivery records the cash collected when a COD order is
	// delivered.
	SettleCashOnDelivery(ctx context.Context, orderID uuid.UUID) error
}

type service struct {
	repo      PaymentRepository
	orders    orders.OrderRepository
	tx        txRunner
	gateway   paymentGateway
	inventory stockChecker
	history   historyRecorder
	outbox    idempotentEmitter
	refunds   refundApplier
	metrics   *metrics.PipelineMetrics
	logg      *logger.Logger
}

// ServiceImpl is the concrete payment service, exported so the refunds
// service can be attached after construction.
type ServiceImpl struct {
	service
}

// NewService wires the payment service.
func NewService(
	repo PaymentRepository,
	orderRepo orders.OrderRepository,
	tx txRunner,
	gw paymentGateway,
	inventory stockChecker,
	hist historyRecorder,
	box idempotentEmitter,
	m *metrics.PipelineMetrics,
	logg *logger.Logger,
) (*ServiceImpl, error) {
	if repo == nil || orderRepo == nil || tx == nil {
		return nil, fmt.Errorf("payment persistence dependencies required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory client required")
	}
	if hist == nil || box == nil {
		return nil, fmt.Errorf("history and outbox services required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &ServiceImpl{service{
		repo:      repo,
		orders:    orderRepo,
		tx:        tx,
		gateway:   gw,
		inventory: inventory,
		history:   hist,
		outbox:    box,
		metrics:   m,
		logg:      logg,
	}}, nil
}

// SetRefundApplier attaches the refunds service for refund webhooks.
func (s *ServiceImpl) SetRefundApplier(r refundApplier) {
	s.refunds = r
}

func (s *service) GetForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	return s.repo.FindByOrderID(ctx, orderID)
}

// InitiateRetry opens a fresh gateway intent for an order whose previous
// attempt failed. The idempotency key makes client retries of this call
// return the already opened attempt instead of a second intent.
func (s *service) InitiateRetry(ctx context.Context, orderID uuid.UUID, idempotencyKey string) (*models.Payment, error) {
	if idempotencyKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}

	if existing, err := s.repo.FindByIdempotencyKey(ctx, idempotencyKey); err == nil {
		if existing.OrderID != orderID {
			return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for another order")
		}
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	if order.PaymentMethod != enums.PaymentMethodPrepaid {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only prepaid orders take gateway payments")
	}
	if order.PaymentStatus == enums.PaymentStatusSuccess {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
	}
	if order.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is "+order.Status.String())
	}

	intent, err := s.gateway.CreateIntent(ctx, gateway.CreateIntentRequest{
		AmountPaise: order.TotalPaise,
		Currency:    order.CurrencyCode,
		Receipt:     order.OrderNumber,
		Notes:       map[string]string{"order_id": order.ID.String()},
	})
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		OrderID:        order.ID,
		Method:         enums.PaymentMethodPrepaid,
		Status:         enums.PaymentStatusPending,
		IdempotencyKey: idempotencyKey,
		GatewayOrderID: &intent.GatewayOrderID,
		AmountPaise:    order.TotalPaise,
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		// Lost a race with an identical retry; return the winner's row.
		if existing, findErr := s.repo.FindByIdempotencyKey(ctx, idempotencyKey); findErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return payment, nil
}

// VerifyClientCallback validates the signature the client got back from the
// hosted gateway flow and applies the capture. The webhook applying first is
// fine; this becomes a no-op.
func (s *service) VerifyClientCallback(ctx context.Context, input VerifyInput) (*models.Payment, error) {
	if input.GatewayOrderID == "" || input.GatewayPaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway order and payment ids are required")
	}
	if err := s.gateway.VerifyPaymentSignature(input.GatewayOrderID, input.GatewayPaymentID, input.Signature); err != nil {
		return nil, err
	}

	payment, err := s.repo.FindByGatewayOrderID(ctx, input.GatewayOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found for gateway order")
		}
		return nil, err
	}
	if input.OrderID != uuid.Nil && payment.OrderID != input.OrderID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment does not belong to the order")
	}

	if err := s.applyCapture(ctx, payment, input.GatewayPaymentID, payment.AmountPaise); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, payment.ID)
}

// HandleWebhookEvent routes one verified webhook delivery. Unknown kinds are
// acked without processing.
func (s *service) HandleWebhookEvent(ctx context.Context, event *gateway.Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event is required")
	}
	if !event.Known {
		logCtx := s.logg.WithFields(ctx, map[string]any{"event_kind": string(event.Kind)})
		s.logg.Info(logCtx, "ignoring unknown webhook event")
		return nil
	}

	switch event.Kind {
	case gateway.EventPaymentCaptured, gateway.EventOrderPaid:
		return s.handleCaptured(ctx, event.Payment)
	case gateway.EventPaymentFailed:
		return s.handleFailed(ctx, event.Payment)
	case gateway.EventRefundCreated:
		return s.handleRefundCreated(ctx, event.Refund)
	default:
		return nil
	}
}

// Reconcile fetches the authoritative payment state from the gateway,
// bypassing webhooks. This is the recovery path for deliveries that were lost
// or arrive late. A capture that lands on an order whose stock is now gone is
// refunded in full and the order cancelled; a refund failure there is
// surfaced as manual-refund-required, never swallowed.
func (s *service) Reconcile(ctx context.Context, input ReconcileInput) (*models.Payment, error) {
	if input.GatewayOrderID == "" || input.GatewayPaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway order and payment ids are required")
	}

	payment, err := s.repo.FindByGatewayOrderID(ctx, input.GatewayOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found for gateway order")
		}
		return nil, err
	}

	state, err := s.gateway.FetchPayment(ctx, input.GatewayPaymentID)
	if err != nil {
		return nil, err
	}
	if state.GatewayOrderID != "" && state.GatewayOrderID != input.GatewayOrderID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway payment belongs to another gateway order")
	}

	if state.Failed() {
		if err := s.handleFailed(ctx, &gateway.PaymentEntity{
			ID:               state.GatewayPaymentID,
			OrderID:          state.GatewayOrderID,
			ErrorCode:        state.ErrorCode,
			ErrorDescription: state.ErrorDescription,
		}); err != nil {
			return nil, err
		}
		return s.repo.FindByID(ctx, payment.ID)
	}
	if !state.Captured() {
		// Still in flight at the gateway; nothing to apply yet.
		return payment, nil
	}

	order, err := s.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}

	// Payment already settled locally; the capture below would no-op anyway,
	// and the stock re-check only matters for a first-time late capture.
	if payment.Status == enums.PaymentStatusSuccess ||
		payment.Status == enums.PaymentStatusPartiallyRefunded ||
		payment.Status == enums.PaymentStatusRefunded {
		return payment, nil
	}

	short, err := s.shortOnStock(ctx, order)
	if err != nil {
		return nil, err
	}
	if short {
		return s.refundUnfulfillable(ctx, order, payment, state)
	}

	if err := s.applyCapture(ctx, payment, state.GatewayPaymentID, state.AmountPaise); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, payment.ID)
}

// shortOnStock re-checks availability for every line of the order.
func (s *service) shortOnStock(ctx context.Context, order *models.Order) (bool, error) {
	if len(order.Items) == 0 {
		return false, nil
	}
	queries := make([]clients.AvailabilityQuery, 0, len(order.Items))
	for _, item := range order.Items {
		queries = append(queries, clients.AvailabilityQuery{VariantID: item.VariantID, Qty: item.Qty})
	}
	results, err := s.inventory.CheckAvailability(ctx, queries)
	if err != nil {
		return false, err
	}
	for _, result := range results {
		if !result.Available {
			return true, nil
		}
	}
	return false, nil
}

// refundUnfulfillable settles a paid-but-out-of-stock reconciliation: refund
// the full capture at the gateway, then record the refund and cancel the
// order locally.
func (s *service) refundUnfulfillable(ctx context.Context, order *models.Order, payment *models.Payment, state *gateway.PaymentState) (*models.Payment, error) {
	amount := state.AmountPaise
	if amount <= 0 {
		amount = payment.AmountPaise
	}
	reason := "insufficient stock at payment reconciliation"

	result, refundErr := s.gateway.CreateRefund(ctx, state.GatewayPaymentID, amount, map[string]string{
		"order_id": order.ID.String(),
		"reason":   reason,
	})
	if refundErr != nil {
		s.metrics.IncManualRefundRequired()
		note := "manual refund required: gateway refund failed during reconciliation"
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":           order.ID.String(),
			"gateway_payment_id": state.GatewayPaymentID,
			"amount_paise":       amount,
		})
		s.logg.Warn(logCtx, note)
		if histErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.history.Record(ctx, tx, history.Entry{
				OrderID:    order.ID,
				StatusType: enums.StatusTypePayment,
				ToStatus:   string(payment.Status),
				ActorType:  enums.ActorTypeSystem,
				Note:       &note,
			})
		}); histErr != nil {
			s.logg.Error(ctx, "recording manual refund marker", histErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, refundErr, "manual refund required")
	}

	fromPayment := string(payment.Status)
	fromOrder := string(order.Status)
	now := time.Now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).UpdateFields(ctx, payment.ID, map[string]any{
			"status":             enums.PaymentStatusRefunded,
			"gateway_payment_id": state.GatewayPaymentID,
			"captured_paise":     amount,
			"refunded_paise":     amount,
			"captured_at":        now,
		}); err != nil {
			return err
		}
		if err := s.orders.WithTx(tx).UpdateFields(ctx, order.ID, map[string]any{
			"status":         enums.OrderStatusCancelled,
			"payment_status": enums.PaymentStatusRefunded,
			"refunded_paise": amount,
			"cancelled_at":   now,
			"cancel_reason":  reason,
		}); err != nil {
			return err
		}
		if err := s.history.Record(ctx, tx, history.Entry{
			OrderID:    order.ID,
			StatusType: enums.StatusTypePayment,
			FromStatus: &fromPayment,
			ToStatus:   string(enums.PaymentStatusRefunded),
			ActorType:  enums.ActorTypeSystem,
			Metadata:   map[string]string{"gatewayRefundId": result.GatewayRefundID},
		}); err != nil {
			return err
		}
		if err := s.history.Record(ctx, tx, history.Entry{
			OrderID:    order.ID,
			StatusType: enums.StatusTypeOrder,
			FromStatus: &fromOrder,
			ToStatus:   string(enums.OrderStatusCancelled),
			ActorType:  enums.ActorTypeSystem,
			Note:       &reason,
		}); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventOrderCancelled,
			AggregateType: enums.OutboxAggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{ActorType: enums.ActorTypeSystem},
			Data: map[string]any{
				"orderId":         order.ID,
				"reason":          reason,
				"refundedPaise":   amount,
				"gatewayRefundId": result.GatewayRefundID,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncStatusTransition(string(enums.OrderStatusCancelled))
	return s.repo.FindByID(ctx, payment.ID)
}

func (s *service) handleCaptured(ctx context.Context, entity *gateway.PaymentEntity) error {
	payment, err := s.findForEntity(ctx, entity)
	if err != nil {
		return err
	}
	return s.applyCapture(ctx, payment, entity.ID, entity.AmountPaise)
}

// applyCapture settles a capture onto the payment and its order. Replays and
// out-of-order deliveries are absorbed: an already successful payment is left
// untouched, and a failed one is flipped to success.
func (s *service) applyCapture(ctx context.Context, payment *models.Payment, gatewayPaymentID string, amountPaise int64) error {
	if payment.Status == enums.PaymentStatusSuccess ||
		payment.Status == enums.PaymentStatusPartiallyRefunded ||
		payment.Status == enums.PaymentStatusRefunded {
		return nil
	}
	if !payment.Status.CanTransitionTo(enums.PaymentStatusSuccess) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment cannot be captured from "+payment.Status.String())
	}
	if amountPaise <= 0 {
		amountPaise = payment.AmountPaise
	}

	order, err := s.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return err
	}

	from := string(payment.Status)
	now := time.Now()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		err := s.repo.WithTx(tx).UpdateFields(ctx, payment.ID, map[string]any{
			"status":             enums.PaymentStatusSuccess,
			"gateway_payment_id": gatewayPaymentID,
			"captured_paise":     amountPaise,
			"captured_at":        now,
			"failure_code":       nil,
			"failure_message":    nil,
		})
		if err != nil {
			return err
		}
		payment.Status = enums.PaymentStatusSuccess

		orderFields := map[string]any{"payment_status": enums.PaymentStatusSuccess}
		confirmOrder := order.Status == enums.OrderStatusPending && order.Status.CanTransitionTo(enums.OrderStatusConfirmed)
		if confirmOrder {
			orderFields["status"] = enums.OrderStatusConfirmed
		}
		if err := s.orders.WithTx(tx).UpdateFields(ctx, order.ID, orderFields); err != nil {
			return err
		}

		if err := s.history.Record(ctx, tx, history.Entry{
			OrderID:    order.ID,
			StatusType: enums.StatusTypePayment,
			FromStatus: &from,
			ToStatus:   string(enums.PaymentStatusSuccess),
			ActorType:  enums.ActorTypeGateway,
		}); err != nil {
			return err
		}
		if confirmOrder {
			pending := string(enums.OrderStatusPending)
			if err := s.history.Record(ctx, tx, history.Entry{
				OrderID:    order.ID,
				StatusType: enums.StatusTypeOrder,
				FromStatus: &pending,
				ToStatus:   string(enums.OrderStatusConfirmed),
				ActorType:  enums.ActorTypeGateway,
			}); err != nil {
				return err
			}
			s.metrics.IncStatusTransition(string(enums.OrderStatusConfirmed))
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventPaymentCaptured,
			AggregateType: enums.OutboxAggregatePayment,
			AggregateID:   payment.ID,
			Actor:         &outbox.ActorRef{ActorType: enums.ActorTypeGateway},
			Data: map[string]any{
				"paymentId":     payment.ID,
				"orderId":       order.ID,
				"capturedPaise": amountPaise,
			},
		})
	})
}

// SettleCashOnDelivery flips the pending COD payment to success once the
// courier hands the parcel over and collects the cash. Replays find the
// payment already settled and return without mutating.
func (s *service) SettleCashOnDelivery(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return err
	}
	if order.PaymentMethod != enums.PaymentMethodCashOnDelivery {
		return pkgerrors.New(pkgerrors.CodeValidation, "order is not cash on delivery")
	}

	rows, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	var payment *models.Payment
	for i := range rows {
		if rows[i].Status == enums.PaymentStatusSuccess ||
			rows[i].Status == enums.PaymentStatusPartiallyRefunded ||
			rows[i].Status == enums.PaymentStatusRefunded {
			return nil
		}
		if rows[i].Status == enums.PaymentStatusPending && payment == nil {
			payment = &rows[i]
		}
	}
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no pending payment for order")
	}

	from := string(payment.Status)
	note := "cash collected on delivery"
	now := time.Now()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).UpdateFields(ctx, payment.ID, map[string]any{
			"status":         enums.PaymentStatusSuccess,
			"captured_paise": payment.AmountPaise,
			"captured_at":    now,
		}); err != nil {
			return err
		}
		if err := s.orders.WithTx(tx).UpdateFields(ctx, order.ID, map[string]any{
			"payment_status": enums.PaymentStatusSuccess,
		}); err != nil {
			return err
		}
		if err := s.history.Record(ctx, tx, history.Entry{
			OrderID:    order.ID,
			StatusType: enums.StatusTypePayment,
			FromStatus: &from,
			ToStatus:   string(enums.PaymentStatusSuccess),
			ActorType:  enums.ActorTypeSystem,
			Note:       &note,
		}); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventPaymentCaptured,
			AggregateType: enums.OutboxAggregatePayment,
			AggregateID:   payment.ID,
			Actor:         &outbox.ActorRef{ActorType: enums.ActorTypeSystem},
			Data: map[string]any{
				"paymentId":     payment.ID,
				"orderId":       order.ID,
				"capturedPaise": payment.AmountPaise,
			},
		})
	})
}

func (s *service) handleFailed(ctx context.Context, entity *gateway.PaymentEntity) error {
	payment, err := s.findForEntity(ctx, entity)
	if err != nil {
		return err
	}
	// A late failure after a capture is stale news; the capture wins.
	if payment.Status != enums.PaymentStatusPending {
		return nil
	}

	order, err := s.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		return err
	}

	from := string(payment.Status)
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		fields := map[string]any{"status": enums.PaymentStatusFailed}
		if entity.ErrorCode != "" {
			fields["failure_code"] = entity.ErrorCode
		}
		if entity.ErrorDescription != "" {
			fields["failure_message"] = entity.ErrorDescription
		}
		if entity.ID != "" {
			fields["gateway_payment_id"] = entity.ID
		}
		if err := s.repo.WithTx(tx).UpdateFields(ctx, payment.ID, fields); err != nil {
			return err
		}

		if err := s.orders.WithTx(tx).UpdateFields(ctx, order.ID, map[string]any{
			"payment_status": enums.PaymentStatusFailed,
		}); err != nil {
			return err
		}

		if err := s.history.Record(ctx, tx, history.Entry{
			OrderID:    order.ID,
			StatusType: enums.StatusTypePayment,
			FromStatus: &from,
			ToStatus:   string(enums.PaymentStatusFailed),
			ActorType:  enums.ActorTypeGateway,
			Metadata: map[string]string{
				"errorCode":        entity.ErrorCode,
				"errorDescription": entity.ErrorDescription,
			},
		}); err != nil {
			return err
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventPaymentFailed,
			AggregateType: enums.OutboxAggregatePayment,
			AggregateID:   payment.ID,
			Actor:         &outbox.ActorRef{ActorType: enums.ActorTypeGateway},
			Data: map[string]any{
				"paymentId": payment.ID,
				"orderId":   order.ID,
				"errorCode": entity.ErrorCode,
			},
		})
	})
}

func (s *service) handleRefundCreated(ctx context.Context, entity *gateway.RefundEntity) error {
	if s.refunds == nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"gateway_refund_id": entity.ID})
		s.logg.Warn(logCtx, "refund webhook received with no refund applier wired")
		return nil
	}
	return s.refunds.ApplyGatewayRefund(ctx, entity.ID, entity.PaymentID, entity.AmountPaise)
}

// findForEntity resolves the local payment row for a gateway payment payload,
// preferring the capture id and falling back to the intent id.
func (s *service) findForEntity(ctx context.Context, entity *gateway.PaymentEntity) (*models.Payment, error) {
	if entity.ID != "" {
		if payment, err := s.repo.FindByGatewayPaymentID(ctx, entity.ID); err == nil {
			return payment, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if entity.OrderID != "" {
		payment, err := s.repo.FindByGatewayOrderID(ctx, entity.OrderID)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no payment matches the webhook payload")
}
