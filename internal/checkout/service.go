package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/internal/cart"
	"github.com/anshulkhatri/cartful-backend/internal/clients"
	"github.com/anshulkhatri/cartful-backend/internal/history"
	"github.com/anshulkhatri/cartful-backend/pkg/config"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/gateway"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
	"github.com/anshulkhatri/cartful-backend/pkg/metrics"
	"github.com/anshulkhatri/cartful-backend/pkg/outbox"
	"github.com/anshulkhatri/cartful-backend/pkg/types"
)

// AddressInput carries the destination for a session. Billing defaults to the
// shipping address when omitted.
type AddressInput struct {
	Shipping types.Address
	Billing  *types.Address
}

// Result is the outcome of a completed checkout.
type Result struct {
	Session *models.CheckoutSession
	Order   *models.Order
	Payment *models.Payment
}

type orderFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

// Service orchestrates the checkout session state machine from start to order
// placement.
type Service interface {
	Start(ctx context.Context, owner cart.Owner) (*models.CheckoutSession, error)
	Get(ctx context.Context, owner cart.Owner, sessionID uuid.UUID) (*models.CheckoutSession, error)
	SetAddress(ctx context.Context, owner cart.Owner, sessionID uuid.UUID, input AddressInput) (*models.CheckoutSession, error)
	SetShipping(ctx context.Context, owner cart.Owner, sessionID uuid.UUID, method types.ShippingMethod) (*models.CheckoutSession, error)
	SetPaymentMethod(ctx context.Context, owner cart.Owner, sessionID uuid.UUID, method enums.PaymentMethod) (*models.CheckoutSession, error)
	Complete(ctx context.Context, owner cart.Owner, sessionID uuid.UUID) (*Result, error)
	Cancel(ctx context.Context, owner cart.Owner, sessionID uuid.UUID) (*models.CheckoutSession, error)
	ExpireStale(ctx context.Context, now time.Time, limit int) (int, error)
}

type service struct {
	sessions  SessionRepository
	carts     cart.CartRepository
	cartSvc   cartValidator
	orders    orderFinder
	tx        txRunner
	inventory reserver
	pricing   pricer
	gateway   intentCreator
	sequence  numberMinter
	history   historyRecorder
	outbox    eventEmitter
	metrics   *metrics.PipelineMetrics
	logg      *logger.Logger
	cfg       config.CheckoutConfig
}

// NewService wires the checkout orchestrator.
func NewService(
	sessions SessionRepository,
	carts cart.CartRepository,
	cartSvc cartValidator,
	orders orderFinder,
	tx txRunner,
	inventory reserver,
	pricing pricer,
	gw intentCreator,
	seq numberMinter,
	hist historyRecorder,
	box eventEmitter,
	m *metrics.PipelineMetrics,
	logg *logger.Logger,
	cfg config.CheckoutConfig,
) (Service, error) {
	if sessions == nil || carts == nil || cartSvc == nil || orders == nil || tx == nil {
		return nil, fmt.Errorf("checkout persistence dependencies required")
	}
	if inventory == nil || pricing == nil || gw == nil {
		return nil, fmt.Errorf("checkout collaborator clients required")
	}
	if seq == nil || hist == nil || box == nil {
		return nil, fmt.Errorf("sequence, history and outbox services required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = cfg.SessionTTL
	}
	return &service{
		sessions:  sessions,
		carts:     carts,
		cartSvc:   cartSvc,
		orders:    orders,
		tx:        tx,
		inventory: inventory,
		pricing:   pricing,
		gateway:   gw,
		sequence:  seq,
		history:   hist,
		outbox:    box,
		metrics:   m,
		logg:      logg,
		cfg:       cfg,
	}, nil
}

// Start validates the cart, reserves stock and opens a session pinned to the
// cart's current version. Starting again while the cart is unchanged returns
// the session already open; only a cart that moved on supersedes it.
func (s *service) Start(ctx context.Context, owner cart.Owner) (*models.CheckoutSession, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	if existing, err := s.openSessionForOwner(ctx, owner); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	report, err := s.cartSvc.Validate(ctx, owner)
	if err != nil {
		return nil, err
	}
	cartModel := report.Cart
	if cartModel == nil || len(cartModel.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot start checkout with an empty cart")
	}
	if report.Blocking {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart has unavailable items")
	}

	if err := s.supersedeSessions(ctx, cartModel.ID); err != nil {
		return nil, err
	}

	queries := make([]clients.AvailabilityQuery, 0, len(cartModel.Items))
	for _, item := range cartModel.Items {
		queries = append(queries, clients.AvailabilityQuery{VariantID: item.VariantID, Qty: item.Qty})
	}
	reservation, err := s.inventory.Reserve(ctx, clients.ReservationRequest{
		Items: queries,
		TTL:   s.cfg.ReservationTTL,
		Ref:   cartModel.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &models.CheckoutSession{
		CartID:         cartModel.ID,
		UserID:         cartModel.UserID,
		SessionID:      cartModel.SessionID,
		Status:         enums.CheckoutStatusInitiated,
		CartVersion:    cartModel.Version,
		SubtotalPaise:  cartModel.SubtotalPaise,
		DiscountPaise:  cartModel.DiscountPaise,
		TaxPaise:       0,
		ShippingPaise:  0,
		TotalPaise:     cartModel.SubtotalPaise - cartModel.DiscountPaise,
		ReservationIDs: reservation.ReservationIDs,
		ExpiresAt:      now.Add(s.cfg.SessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		s.releaseReservations(ctx, reservation.ReservationIDs)
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"checkout_session_id": session.ID.String(),
		"cart_id":             cartModel.ID.String(),
		"cart_version":        cartModel.Version,
	})
	s.logg.Info(logCtx, "checkout session started")
	return session, nil
}

// openSessionForOwner finds a still-open session whose cart pin is current.
// The cart is read without revalidation so a repeated Start cannot bump the
// version out from under the pin it is checking.
func (s *service) openSessionForOwner(ctx context.Context, owner cart.Owner) (*models.CheckoutSession, error) {
	cartModel, err := s.carts.FindActiveByOwner(ctx, owner)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	session, err := s.sessions.FindActiveForCart(ctx, cartModel.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if session.CartVersion != cartModel.Version || time.Now().After(session.ExpiresAt) {
		return nil, nil
	}
	return session, nil
}

// supersedeSessions fails any open session for the cart and hands back its
// reservations before a fresh session takes over.
func (s *service) supersedeSessions(ctx context.Context, cartID uuid.UUID) error {
	stale, err := s.sessions.FindActiveForCart(ctx, cartID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err := s.sessions.FailActiveForCart(ctx, cartID, "superseded by a new checkout"); err != nil {
		return err
	}
	if stale != nil {
		s.releaseReservations(ctx, stale.ReservationIDs)
	}
	return nil
}

// Get loads an owner's session.
func (s *service) Get(ctx context.Context, owner cart.Owner, sessionID uuid.UUID) (*models.CheckoutSession, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	return s.loadOwned(ctx, owner, sessionID)
}

// SetAddress stores the destination and computes tax for it. The pricing
// service resolves the destination rate; on failure the configured flat rate
// applies so checkout is never blocked on tax lookup.
func (s *service) SetAddress(ctx context.Context, owner cart.Owner, sessionID uuid.UUID, input AddressInput) (*models.CheckoutSession, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if missing := input.Shipping.Validate(); missing != "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address missing "+missing)
	}
	billing := input.Shipping
	if input.Billing != nil {
		billing = *input.Billing
		if missing := billing.Validate(); missing != "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "billing address missing "+missing)
		}
	}

	session, err := s.loadOwned(ctx, owner, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureOpen(ctx, session); err != nil {
		return nil, err
	}
	if session.Status != enums.CheckoutStatusInitiated && session.Status != enums.CheckoutStatusAddressEntered {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "address can no longer be changed for this session")
	}

	rateBps := s.cfg.DefaultTaxRateBps
	source := types.TaxSourceFallback
	if rate, err := s.pricing.GetTaxRate(ctx, input.Shipping.PostalCode); err == nil && rate.RateBps >= 0 {
		rateBps = rate.RateBps
		source = types.TaxSourcePricing
	} else {
		s.metrics.IncTaxFallback()
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"checkout_session_id": session.ID.String(),
			"pincode":             input.Shipping.PostalCode,
		})
		s.logg.Warn(logCtx, "tax rate lookup failed, using fallback rate")
	}

	shipping := input.Shipping
	session.ShippingAddress = &shipping
	session.BillingAddress = &billing
	s.applyTax(session, rateBps, source)
	session.Status = enums.CheckoutStatusAddressEntered

	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// SetShipping freezes the courier quote onto the session and folds its rate
// into the totals.
func (s *service) SetShipping(ctx context.Context, owner cart.Owner, sessionID uuid.UUID, method types.ShippingMethod) (*models.CheckoutSession, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if method.Code == "" || method.Name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping method code and name are required")
	}
	if method.RatePaise < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping rate cannot be negative")
	}

	session, err := s.loadOwned(ctx, owner, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureOpen(ctx, session); err != nil {
		return nil, err
	}
	if session.Status != enums.CheckoutStatusAddressEntered {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "shipping requires an address on the session")
	}

	session.ShippingMethod = &method
	session.ShippingPaise = method.RatePaise
	rateBps, source := s.taxContext(session)
	s.applyTax(session, rateBps, source)

	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// SetPaymentMethod picks prepaid or cash on delivery and moves the session to
// payment_pending.
func (s *service) SetPaymentMethod(ctx context.Context, owner cart.Owner, sessionID uuid.UUID, method enums.PaymentMethod) (*models.CheckoutSession, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}

	session, err := s.loadOwned(ctx, owner, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureOpen(ctx, session); err != nil {
		return nil, err
	}
	if session.Status != enums.CheckoutStatusAddressEntered && session.Status != enums.CheckoutStatusPaymentPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment method requires address and shipping first")
	}
	if session.ShippingMethod == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "shipping method must be chosen first")
	}

	session.PaymentMethod = &method
	session.Status = enums.CheckoutStatusPaymentPending

	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Complete places the order. The cart gets one last look first: coupons,
// prices and stock are re-checked against the collaborators. Then the order
// number is minted, the cart snapshot frozen into an order, the payment
// opened, reservations converted and the cart flipped to converted, all in
// one transaction. Re-running a completed session returns the already placed
// order.
func (s *service) Complete(ctx context.Context, owner cart.Owner, sessionID uuid.UUID) (*Result, error) {
	start := time.Now()
	outcome := "failure"
	defer func() {
		s.metrics.ObserveCheckout(outcome, time.Since(start))
	}()

	if err := owner.Validate(); err != nil {
		return nil, err
	}
	session, err := s.loadOwned(ctx, owner, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status == enums.CheckoutStatusCompleted && session.OrderID != nil {
		order, err := s.orders.FindByID(ctx, *session.OrderID)
		if err != nil {
			return nil, err
		}
		outcome = "success"
		return &Result{Session: session, Order: order}, nil
	}

	if err := s.ensureOpen(ctx, session); err != nil {
		return nil, err
	}
	if session.Status != enums.CheckoutStatusPaymentPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session is not ready for completion")
	}

	cartModel, err := s.carts.FindByID(ctx, session.CartID)
	if err != nil {
		return nil, err
	}
	if cartModel.Version != session.CartVersion {
		s.failSession(ctx, session, "cart changed during checkout")
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart changed during checkout, start again")
	}
	if len(cartModel.Items) == 0 {
		s.failSession(ctx, session, "cart emptied during checkout")
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart is empty")
	}
	if err := s.revalidate(ctx, session, cartModel); err != nil {
		return nil, err
	}

	var (
		order   *models.Order
		payment *models.Payment
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := time.Now()
		orderNumber, err := s.sequence.NextOrderNumber(ctx, tx, now)
		if err != nil {
			return err
		}

		order = buildOrder(orderNumber, session, cartModel, now)
		if err := tx.WithContext(ctx).Create(order).Error; err != nil {
			return err
		}

		payment = &models.Payment{
			OrderID:        order.ID,
			Method:         *session.PaymentMethod,
			Status:         enums.PaymentStatusPending,
			IdempotencyKey: "checkout-" + session.ID.String(),
			AmountPaise:    session.TotalPaise,
		}
		if *session.PaymentMethod == enums.PaymentMethodPrepaid {
			intent, err := s.gateway.CreateIntent(ctx, gateway.CreateIntentRequest{
				AmountPaise: session.TotalPaise,
				Currency:    cartModel.CurrencyCode,
				Receipt:     orderNumber,
				Notes:       map[string]string{"order_id": order.ID.String()},
			})
			if err != nil {
				return err
			}
			payment.GatewayOrderID = &intent.GatewayOrderID
		}
		if err := tx.WithContext(ctx).Create(payment).Error; err != nil {
			return err
		}

		if len(session.ReservationIDs) > 0 {
			if err := s.inventory.Convert(ctx, session.ReservationIDs, order.ID); err != nil {
				return err
			}
		}

		ok, err := s.carts.WithTx(tx).UpdateStatusGuarded(ctx, cartModel.ID, cartModel.Version, enums.CartStatusConverted)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart changed during checkout, start again")
		}

		if err := s.history.Record(ctx, tx, history.Entry{
			OrderID:    order.ID,
			StatusType: enums.StatusTypeOrder,
			ToStatus:   string(enums.OrderStatusPending),
			ActorType:  enums.ActorTypeCustomer,
		}); err != nil {
			return err
		}

		if *session.PaymentMethod == enums.PaymentMethodCashOnDelivery {
			from := string(enums.OrderStatusPending)
			order.Status = enums.OrderStatusConfirmed
			if err := tx.WithContext(ctx).Model(&models.Order{}).
				Where("id = ?", order.ID).
				Update("status", enums.OrderStatusConfirmed).Error; err != nil {
				return err
			}
			note := "cash on delivery order confirmed at placement"
			if err := s.history.Record(ctx, tx, history.Entry{
				OrderID:    order.ID,
				StatusType: enums.StatusTypeOrder,
				FromStatus: &from,
				ToStatus:   string(enums.OrderStatusConfirmed),
				ActorType:  enums.ActorTypeSystem,
				Note:       &note,
			}); err != nil {
				return err
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventOrderCreated,
			AggregateType: enums.OutboxAggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{ActorType: enums.ActorTypeCustomer},
			Data: map[string]any{
				"orderId":       order.ID,
				"orderNumber":   order.OrderNumber,
				"totalPaise":    order.TotalPaise,
				"paymentMethod": order.PaymentMethod,
				"status":        order.Status,
			},
		}); err != nil {
			return err
		}

		session.Status = enums.CheckoutStatusCompleted
		session.OrderID = &order.ID
		return s.sessions.WithTx(tx).Save(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	if len(cartModel.AppliedCoupons) > 0 {
		codes := make([]string, 0, len(cartModel.AppliedCoupons))
		for _, coupon := range cartModel.AppliedCoupons {
			codes = append(codes, coupon.Code)
		}
		if err := s.pricing.MarkCouponUsage(ctx, order.ID, codes); err != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String()})
			s.logg.Warn(logCtx, "marking coupon usage failed, continuing")
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":     order.ID.String(),
		"order_number": order.OrderNumber,
		"total_paise":  order.TotalPaise,
	})
	s.logg.Info(logCtx, "order placed")

	outcome = "success"
	return &Result{Session: session, Order: order, Payment: payment}, nil
}

// revalidate re-checks coupons, prices and stock one last time before the
// order is minted. A coupon that lapsed mid-session is stripped and the totals
// recomputed without it; price drift and stock shortfalls surface as conflicts
// so the shopper confirms the cart they will actually be charged for.
func (s *service) revalidate(ctx context.Context, session *models.CheckoutSession, cartModel *models.Cart) error {
	queries := make([]clients.AvailabilityQuery, 0, len(cartModel.Items))
	for _, item := range cartModel.Items {
		queries = append(queries, clients.AvailabilityQuery{VariantID: item.VariantID, Qty: item.Qty})
	}
	codes := make([]string, 0, len(cartModel.AppliedCoupons))
	for _, coupon := range cartModel.AppliedCoupons {
		codes = append(codes, coupon.Code)
	}

	quote, err := s.pricing.GetQuote(ctx, clients.QuoteRequest{
		Items:       queries,
		CouponCodes: codes,
		UserID:      cartModel.UserID,
	})
	if err != nil {
		return err
	}

	valid := make(map[string]bool, len(quote.Coupons))
	for _, coupon := range quote.Coupons {
		valid[coupon.Code] = true
	}
	var lapsed []string
	for _, coupon := range cartModel.AppliedCoupons {
		if !valid[coupon.Code] {
			lapsed = append(lapsed, coupon.Code)
		}
	}
	if len(lapsed) > 0 {
		return s.stripCoupons(ctx, session, cartModel, quote, lapsed)
	}

	lineByVariant := make(map[uuid.UUID]clients.QuoteLine, len(quote.Lines))
	for _, line := range quote.Lines {
		lineByVariant[line.VariantID] = line
	}
	var drifted []map[string]any
	for _, item := range cartModel.Items {
		line, ok := lineByVariant[item.VariantID]
		if !ok {
			return pkgerrors.New(pkgerrors.CodeDependency, "pricing returned no quote for a cart line")
		}
		if line.UnitPricePaise != item.UnitPricePaise {
			drifted = append(drifted, map[string]any{
				"variantId":          item.VariantID,
				"prevUnitPricePaise": item.UnitPricePaise,
				"unitPricePaise":     line.UnitPricePaise,
				"differencePaise":    line.UnitPricePaise - item.UnitPricePaise,
			})
		}
	}
	if len(drifted) > 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "prices changed since the cart was priced").
			WithDetails(map[string]any{"changes": drifted})
	}

	availability, err := s.inventory.CheckAvailability(ctx, queries)
	if err != nil {
		return err
	}
	var short []string
	for _, result := range availability {
		if !result.Available {
			short = append(short, result.VariantID.String())
		}
	}
	if len(short) > 0 {
		s.failSession(ctx, session, "items went out of stock during checkout")
		return pkgerrors.New(pkgerrors.CodeConflict, "items went out of stock during checkout").
			WithDetails(map[string]any{"variantIds": short})
	}
	return nil
}

// stripCoupons drops coupons the pricing service no longer honours, reprices
// the cart with what survived and re-pins the session to the new version. The
// conflict returned carries the recomputed totals; retrying Complete proceeds
// with them.
func (s *service) stripCoupons(ctx context.Context, session *models.CheckoutSession, cartModel *models.Cart, quote *clients.Quote, lapsed []string) error {
	cartModel.AppliedCoupons = quote.Coupons
	totals := cart.ComputeTotals(cartModel.Items, cartModel.AppliedCoupons, cartModel.ShippingPaise, 0)
	cart.ApplyTotals(cartModel, totals)
	ok, err := s.carts.SaveGuarded(ctx, cartModel)
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cart changed during checkout, start again")
	}

	session.CartVersion = cartModel.Version
	session.SubtotalPaise = cartModel.SubtotalPaise
	session.DiscountPaise = cartModel.DiscountPaise
	rateBps, source := s.taxContext(session)
	s.applyTax(session, rateBps, source)
	if err := s.sessions.Save(ctx, session); err != nil {
		return err
	}

	return pkgerrors.New(pkgerrors.CodeConflict, "coupon no longer valid, totals recomputed").
		WithDetails(map[string]any{
			"removedCoupons": lapsed,
			"discountPaise":  session.DiscountPaise,
			"totalPaise":     session.TotalPaise,
		})
}

// Cancel closes an open session and releases its reservations. Completed
// sessions are immutable; cancelling the order is the path after placement.
func (s *service) Cancel(ctx context.Context, owner cart.Owner, sessionID uuid.UUID) (*models.CheckoutSession, error) {
	session, err := s.loadOwned(ctx, owner, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureOpen(ctx, session); err != nil {
		return nil, err
	}

	session.Status = enums.CheckoutStatusFailed
	reason := "cancelled by shopper"
	session.FailureReason = &reason
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	s.releaseReservations(ctx, session.ReservationIDs)
	return session, nil
}

// ExpireStale sweeps sessions past their deadline, marking them expired and
// releasing their reservations. Returns how many were swept.
func (s *service) ExpireStale(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	stale, err := s.sessions.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	swept := 0
	for i := range stale {
		session := &stale[i]
		session.Status = enums.CheckoutStatusExpired
		reason := "session deadline passed"
		session.FailureReason = &reason
		if err := s.sessions.Save(ctx, session); err != nil {
			s.logg.Error(ctx, "expiring checkout session", err)
			continue
		}
		s.releaseReservations(ctx, session.ReservationIDs)
		swept++
	}
	return swept, nil
}

func (s *service) loadOwned(ctx context.Context, owner cart.Owner, sessionID uuid.UUID) (*models.CheckoutSession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
		}
		return nil, err
	}
	if !ownsSession(owner, session) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
	}
	return session, nil
}

// ensureOpen rejects terminal sessions and lazily expires overdue ones.
func (s *service) ensureOpen(ctx context.Context, session *models.CheckoutSession) error {
	if session.Status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "checkout session is "+session.Status.String())
	}
	if time.Now().After(session.ExpiresAt) {
		session.Status = enums.CheckoutStatusExpired
		reason := "session deadline passed"
		session.FailureReason = &reason
		if err := s.sessions.Save(ctx, session); err != nil {
			return err
		}
		s.releaseReservations(ctx, session.ReservationIDs)
		return pkgerrors.New(pkgerrors.CodeStateConflict, "checkout session expired")
	}
	return nil
}

func (s *service) failSession(ctx context.Context, session *models.CheckoutSession, reason string) {
	session.Status = enums.CheckoutStatusFailed
	session.FailureReason = &reason
	if err := s.sessions.Save(ctx, session); err != nil {
		s.logg.Error(ctx, "marking checkout session failed", err)
		return
	}
	s.releaseReservations(ctx, session.ReservationIDs)
}

func (s *service) releaseReservations(ctx context.Context, reservationIDs []string) {
	if len(reservationIDs) == 0 {
		return
	}
	if err := s.inventory.Release(ctx, reservationIDs); err != nil {
		s.logg.Error(ctx, "releasing inventory reservations", err)
	}
}

// applyTax recomputes tax and the grand total from the session's money fields.
// The taxable base is the discounted goods amount plus shipping.
func (s *service) applyTax(session *models.CheckoutSession, rateBps int, source string) {
	taxable := session.SubtotalPaise - session.DiscountPaise + session.ShippingPaise
	if taxable < 0 {
		taxable = 0
	}
	tax := cart.TaxFor(taxable, rateBps)
	session.TaxPaise = tax
	session.TaxBreakdown = &types.TaxBreakdown{
		TaxablePaise: taxable,
		RateBps:      rateBps,
		TaxPaise:     tax,
		Source:       source,
	}
	session.TotalPaise = session.SubtotalPaise - session.DiscountPaise + session.ShippingPaise + tax
}

func (s *service) taxContext(session *models.CheckoutSession) (int, string) {
	if session.TaxBreakdown != nil {
		return session.TaxBreakdown.RateBps, session.TaxBreakdown.Source
	}
	return s.cfg.DefaultTaxRateBps, types.TaxSourceFallback
}

func ownsSession(owner cart.Owner, session *models.CheckoutSession) bool {
	if owner.UserID != nil {
		return session.UserID != nil && *session.UserID == *owner.UserID
	}
	if owner.SessionID != nil {
		return session.SessionID != nil && *session.SessionID == *owner.SessionID
	}
	return false
}

func buildOrder(orderNumber string, session *models.CheckoutSession, cartModel *models.Cart, now time.Time) *models.Order {
	items := make([]models.OrderItem, 0, len(cartModel.Items))
	for _, line := range cartModel.Items {
		items = append(items, models.OrderItem{
			ProductID:      line.ProductID,
			VariantID:      line.VariantID,
			SKU:            line.SKU,
			Title:          line.Title,
			ImageURL:       line.ImageURL,
			Qty:            line.Qty,
			UnitPricePaise: line.UnitPricePaise,
			DiscountPaise:  line.DiscountPaise,
			LineTotalPaise: line.LineTotalPaise,
		})
	}
	allocateTax(items, session.TaxPaise)

	return &models.Order{
		OrderNumber:       orderNumber,
		UserID:            session.UserID,
		SessionID:         session.SessionID,
		CheckoutSessionID: session.ID,
		CartID:            cartModel.ID,
		Status:            enums.OrderStatusPending,
		PaymentStatus:     enums.PaymentStatusPending,
		FulfillmentStatus: enums.FulfillmentStatusUnfulfilled,
		PaymentMethod:     *session.PaymentMethod,
		CurrencyCode:      cartModel.CurrencyCode,
		SubtotalPaise:     session.SubtotalPaise,
		DiscountPaise:     session.DiscountPaise,
		TaxPaise:          session.TaxPaise,
		ShippingPaise:     session.ShippingPaise,
		TotalPaise:        session.TotalPaise,
		AppliedCoupons:    cartModel.AppliedCoupons,
		ShippingAddress:   *session.ShippingAddress,
		BillingAddress:    *session.BillingAddress,
		ShippingMethod:    *session.ShippingMethod,
		TaxBreakdown:      session.TaxBreakdown,
		PlacedAt:          now,
		Items:             items,
	}
}

// allocateTax apportions the order-level tax across lines by line total, with
// the rounding remainder on the last line so the per-line sum matches.
func allocateTax(items []models.OrderItem, totalTax int64) {
	if totalTax <= 0 || len(items) == 0 {
		return
	}
	var base int64
	for _, item := range items {
		base += item.LineTotalPaise
	}
	if base <= 0 {
		items[len(items)-1].TaxPaise = totalTax
		return
	}
	var allocated int64
	for i := range items {
		if i == len(items)-1 {
			items[i].TaxPaise = totalTax - allocated
			break
		}
		share := totalTax * items[i].LineTotalPaise / base
		items[i].TaxPaise = share
		allocated += share
	}
}
