package checkout

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/internal/cart"
	"github.com/anshulkhatri/cartful-backend/internal/clients"
	"github.com/anshulkhatri/cartful-backend/internal/sequence"
	"github.com/anshulkhatri/cartful-backend/pkg/config"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/gateway"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
	"github.com/anshulkhatri/cartful-backend/pkg/outbox"
	"github.com/anshulkhatri/cartful-backend/pkg/types"

	historysvc "github.com/anshulkhatri/cartful-backend/internal/history"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Cart{}, &models.CartItem{},
		&models.CheckoutSession{},
		&models.Order{}, &models.OrderItem{},
		&models.Payment{},
		&models.OrderStatusHistory{},
		&models.OutboxEvent{},
		&models.Counter{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (g gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return g.db.WithContext(ctx).Transaction(fn)
}

type stubCatalog struct {
	variants map[uuid.UUID]clients.Variant
}

func (s *stubCatalog) GetVariants(_ context.Context, variantIDs []uuid.UUID) ([]clients.Variant, error) {
	out := make([]clients.Variant, 0, len(variantIDs))
	for _, id := range variantIDs {
		if v, ok := s.variants[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

type stubPricing struct {
	prices     map[uuid.UUID]clients.QuoteLine
	coupons    map[string]types.AppliedCoupon
	rateBps    int
	taxErr     error
	markedFor  []uuid.UUID
	markedCode []string
}

func (s *stubPricing) GetQuote(_ context.Context, req clients.QuoteRequest) (*clients.Quote, error) {
	quote := &clients.Quote{}
	for _, item := range req.Items {
		if line, ok := s.prices[item.VariantID]; ok {
			quote.Lines = append(quote.Lines, line)
		}
	}
	for _, code := range req.CouponCodes {
		if coupon, ok := s.coupons[code]; ok {
			quote.Coupons = append(quote.Coupons, coupon)
		}
	}
	return quote, nil
}

func (s *stubPricing) GetTaxRate(_ context.Context, _ string) (*clients.TaxRate, error) {
	if s.taxErr != nil {
		return nil, s.taxErr
	}
	return &clients.TaxRate{RateBps: s.rateBps}, nil
}

func (s *stubPricing) MarkCouponUsage(_ context.Context, orderID uuid.UUID, codes []string) error {
	s.markedFor = append(s.markedFor, orderID)
	s.markedCode = append(s.markedCode, codes...)
	return nil
}

type stubInventory struct {
	reserved    int
	released    [][]string
	converted   []string
	unavailable map[uuid.UUID]bool
}

func (s *stubInventory) CheckAvailability(_ context.Context, queries []clients.AvailabilityQuery) ([]clients.Availability, error) {
	out := make([]clients.Availability, 0, len(queries))
	for _, q := range queries {
		out = append(out, clients.Availability{VariantID: q.VariantID, Available: !s.unavailable[q.VariantID]})
	}
	return out, nil
}

func (s *stubInventory) Reserve(_ context.Context, req clients.ReservationRequest) (*clients.Reservation, error) {
	s.reserved++
	ids := make([]string, 0, len(req.Items))
	for i := range req.Items {
		ids = append(ids, "res-"+uuid.NewString()[:8]+"-"+string(rune('a'+i)))
	}
	return &clients.Reservation{ReservationIDs: ids, ExpiresAt: time.Now().Add(req.TTL)}, nil
}

func (s *stubInventory) Release(_ context.Context, reservationIDs []string) error {
	s.released = append(s.released, reservationIDs)
	return nil
}

func (s *stubInventory) Convert(_ context.Context, reservationIDs []string, _ uuid.UUID) error {
	s.converted = append(s.converted, reservationIDs...)
	return nil
}

type stubGateway struct {
	intents   int
	intentErr error
}

func (s *stubGateway) CreateIntent(_ context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error) {
	if s.intentErr != nil {
		return nil, s.intentErr
	}
	s.intents++
	return &gateway.Intent{GatewayOrderID: "order_gw_" + uuid.NewString()[:8], AmountPaise: req.AmountPaise, Currency: req.Currency, Status: "created"}, nil
}

type testOrderFinder struct {
	db *gorm.DB
}

func (f testOrderFinder) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := f.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

type fixture struct {
	db        *gorm.DB
	svc       Service
	cartSvc   cart.Service
	inventory *stubInventory
	pricing   *stubPricing
	gateway   *stubGateway
	variantA  uuid.UUID
	variantB  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	logg := logger.NewNop()

	variantA := uuid.New()
	variantB := uuid.New()

	catalog := &stubCatalog{variants: map[uuid.UUID]clients.Variant{
		variantA: {VariantID: variantA, ProductID: uuid.New(), SKU: "TSHIRT-M-BLK", Title: "Crew Tee M Black", Active: true},
		variantB: {VariantID: variantB, ProductID: uuid.New(), SKU: "MUG-350", Title: "Ceramic Mug 350ml", Active: true},
	}}
	pricing := &stubPricing{
		prices: map[uuid.UUID]clients.QuoteLine{
			variantA: {VariantID: variantA, UnitPricePaise: 49900, MRPPaise: 59900},
			variantB: {VariantID: variantB, UnitPricePaise: 24900, MRPPaise: 24900},
		},
		rateBps: 1800,
	}
	inventory := &stubInventory{}
	gw := &stubGateway{}

	cartRepo := cart.NewRepository(db)
	cartSvc, err := cart.NewService(cartRepo, gormTxRunner{db: db}, catalog, pricing, inventory, nil, config.CartConfig{
		MaxItems:        50,
		RecalcAttempts:  3,
		RecalcBaseDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("cart service: %v", err)
	}

	hist, err := historysvc.NewService(db)
	if err != nil {
		t.Fatalf("history service: %v", err)
	}
	box := outbox.NewService(outbox.NewRepository(db), logg)

	svc, err := NewService(
		NewRepository(db),
		cartRepo,
		cartSvc,
		testOrderFinder{db: db},
		gormTxRunner{db: db},
		inventory,
		pricing,
		gw,
		sequence.NewService(),
		hist,
		box,
		nil,
		logg,
		config.CheckoutConfig{SessionTTL: 30 * time.Minute, ReservationTTL: 30 * time.Minute, DefaultTaxRateBps: 1800},
	)
	if err != nil {
		t.Fatalf("checkout service: %v", err)
	}
	return &fixture{db: db, svc: svc, cartSvc: cartSvc, inventory: inventory, pricing: pricing, gateway: gw, variantA: variantA, variantB: variantB}
}

func userOwner() cart.Owner {
	id := uuid.New()
	return cart.Owner{UserID: &id}
}

func testAddress() types.Address {
	return types.Address{
		Name:       "Asha Rao",
		Phone:      "+919876543210",
		Line1:      "12 MG Road",
		City:       "Bengaluru",
		State:      "Karnataka",
		PostalCode: "560001",
		Country:    "IN",
	}
}

func standardShipping() types.ShippingMethod {
	return types.ShippingMethod{Code: "standard", Name: "Standard", RatePaise: 4900, EtaDays: 4, CourierName: "Delhivery"}
}

func (f *fixture) startSession(t *testing.T, owner cart.Owner) *models.CheckoutSession {
	t.Helper()
	ctx := context.Background()
	if _, err := f.cartSvc.AddItem(ctx, owner, cart.AddItemInput{VariantID: f.variantA, Qty: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	session, err := f.svc.Start(ctx, owner)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return session
}

func TestCheckoutHappyPathPrepaid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()
	session := f.startSession(t, owner)

	if session.Status != enums.CheckoutStatusInitiated {
		t.Fatalf("status = %s", session.Status)
	}
	if len(session.ReservationIDs) == 0 {
		t.Fatal("expected reservations on session")
	}

	session, err := f.svc.SetAddress(ctx, owner, session.ID, AddressInput{Shipping: testAddress()})
	if err != nil {
		t.Fatalf("set address: %v", err)
	}
	if session.Status != enums.CheckoutStatusAddressEntered {
		t.Fatalf("status = %s", session.Status)
	}
	if session.TaxBreakdown == nil || session.TaxBreakdown.Source != types.TaxSourcePricing {
		t.Fatalf("tax breakdown = %+v", session.TaxBreakdown)
	}
	if session.TaxPaise != 8982 { // 18% of 49900
		t.Fatalf("tax = %d, want 8982", session.TaxPaise)
	}

	session, err = f.svc.SetShipping(ctx, owner, session.ID, standardShipping())
	if err != nil {
		t.Fatalf("set shipping: %v", err)
	}
	if session.TaxPaise != 9864 { // 18% of 49900 + 4900 shipping
		t.Fatalf("tax = %d, want 9864", session.TaxPaise)
	}
	if session.TotalPaise != 49900+4900+9864 {
		t.Fatalf("total = %d", session.TotalPaise)
	}

	session, err = f.svc.SetPaymentMethod(ctx, owner, session.ID, enums.PaymentMethodPrepaid)
	if err != nil {
		t.Fatalf("set payment method: %v", err)
	}
	if session.Status != enums.CheckoutStatusPaymentPending {
		t.Fatalf("status = %s", session.Status)
	}

	result, err := f.svc.Complete(ctx, owner, session.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	order := result.Order
	if !strings.HasPrefix(order.OrderNumber, "ORD-") {
		t.Fatalf("order number = %s", order.OrderNumber)
	}
	if order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("order statuses = %s/%s", order.Status, order.PaymentStatus)
	}
	if order.TotalPaise != 64664 {
		t.Fatalf("order total = %d", order.TotalPaise)
	}
	if result.Payment == nil || result.Payment.GatewayOrderID == nil {
		t.Fatalf("payment = %+v", result.Payment)
	}
	if result.Session.Status != enums.CheckoutStatusCompleted {
		t.Fatalf("session status = %s", result.Session.Status)
	}

	// Per-line tax sums to the order tax.
	var lineTax int64
	var items []models.OrderItem
	if err := f.db.Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
		t.Fatalf("load items: %v", err)
	}
	for _, item := range items {
		lineTax += item.TaxPaise
	}
	if lineTax != order.TaxPaise {
		t.Fatalf("line tax sum %d != order tax %d", lineTax, order.TaxPaise)
	}

	// Cart converted, reservations committed.
	var cartRow models.Cart
	if err := f.db.First(&cartRow, "id = ?", order.CartID).Error; err != nil {
		t.Fatalf("load cart: %v", err)
	}
	if cartRow.Status != enums.CartStatusConverted {
		t.Fatalf("cart status = %s", cartRow.Status)
	}
	if len(f.inventory.converted) == 0 {
		t.Fatal("reservations not converted")
	}

	// Ledger and outbox rows landed with the order.
	var historyCount int64
	f.db.Model(&models.OrderStatusHistory{}).Where("order_id = ?", order.ID).Count(&historyCount)
	if historyCount != 1 {
		t.Fatalf("history rows = %d, want 1", historyCount)
	}
	var outboxCount int64
	f.db.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", order.ID).Count(&outboxCount)
	if outboxCount != 1 {
		t.Fatalf("outbox rows = %d, want 1", outboxCount)
	}
}

func TestCheckoutCashOnDeliveryConfirmsAtPlacement(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()
	session := f.startSession(t, owner)

	var err error
	if session, err = f.svc.SetAddress(ctx, owner, session.ID, AddressInput{Shipping: testAddress()}); err != nil {
		t.Fatalf("set address: %v", err)
	}
	if session, err = f.svc.SetShipping(ctx, owner, session.ID, standardShipping()); err != nil {
		t.Fatalf("set shipping: %v", err)
	}
	if session, err = f.svc.SetPaymentMethod(ctx, owner, session.ID, enums.PaymentMethodCashOnDelivery); err != nil {
		t.Fatalf("set payment method: %v", err)
	}

	result, err := f.svc.Complete(ctx, owner, session.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.Order.Status != enums.OrderStatusConfirmed {
		t.Fatalf("order status = %s, want confirmed", result.Order.Status)
	}
	if f.gateway.intents != 0 {
		t.Fatalf("gateway intents = %d, want 0 for COD", f.gateway.intents)
	}

	var historyCount int64
	f.db.Model(&models.OrderStatusHistory{}).Where("order_id = ?", result.Order.ID).Count(&historyCount)
	if historyCount != 2 {
		t.Fatalf("history rows = %d, want 2", historyCount)
	}
}

func TestStartRejectsEmptyCart(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	if _, err := f.cartSvc.GetOrCreate(ctx, owner); err != nil {
		t.Fatalf("create cart: %v", err)
	}
	_, err := f.svc.Start(ctx, owner)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCompleteRejectsCartVersionDrift(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()
	session := f.startSession(t, owner)

	var err error
	if session, err = f.svc.SetAddress(ctx, owner, session.ID, AddressInput{Shipping: testAddress()}); err != nil {
		t.Fatalf("set address: %v", err)
	}
	if session, err = f.svc.SetShipping(ctx, owner, session.ID, standardShipping()); err != nil {
		t.Fatalf("set shipping: %v", err)
	}
	if session, err = f.svc.SetPaymentMethod(ctx, owner, session.ID, enums.PaymentMethodPrepaid); err != nil {
		t.Fatalf("set payment method: %v", err)
	}

	// Cart mutated mid-checkout bumps its version past the pinned one.
	if _, err := f.cartSvc.AddItem(ctx, owner, cart.AddItemInput{VariantID: f.variantB, Qty: 1}); err != nil {
		t.Fatalf("mutate cart: %v", err)
	}

	_, err = f.svc.Complete(ctx, owner, session.ID)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}

	reloaded, err := NewRepository(f.db).FindByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.Status != enums.CheckoutStatusFailed {
		t.Fatalf("session status = %s, want failed", reloaded.Status)
	}
	if len(f.inventory.released) == 0 {
		t.Fatal("expected reservations released on failure")
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()
	session := f.startSession(t, owner)

	var err error
	if session, err = f.svc.SetAddress(ctx, owner, session.ID, AddressInput{Shipping: testAddress()}); err != nil {
		t.Fatalf("set address: %v", err)
	}
	if session, err = f.svc.SetShipping(ctx, owner, session.ID, standardShipping()); err != nil {
		t.Fatalf("set shipping: %v", err)
	}
	if session, err = f.svc.SetPaymentMethod(ctx, owner, session.ID, enums.PaymentMethodPrepaid); err != nil {
		t.Fatalf("set payment method: %v", err)
	}

	first, err := f.svc.Complete(ctx, owner, session.ID)
	if err != nil {
		t.Fatalf("first complete: %v", err)
	}
	second, err := f.svc.Complete(ctx, owner, session.ID)
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if first.Order.ID != second.Order.ID {
		t.Fatalf("expected same order, got %s and %s", first.Order.ID, second.Order.ID)
	}

	var orderCount int64
	f.db.Model(&models.Order{}).Count(&orderCount)
	if orderCount != 1 {
		t.Fatalf("order count = %d, want 1", orderCount)
	}
}

func TestSetShippingRequiresAddress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()
	session := f.startSession(t, owner)

	_, err := f.svc.SetShipping(ctx, owner, session.ID, standardShipping())
	if pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestTaxFallbackWhenPricingUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()
	session := f.startSession(t, owner)

	f.pricing.taxErr = pkgerrors.New(pkgerrors.CodeDependency, "pricing down")

	session, err := f.svc.SetAddress(ctx, owner, session.ID, AddressInput{Shipping: testAddress()})
	if err != nil {
		t.Fatalf("set address: %v", err)
	}
	if session.TaxBreakdown == nil || session.TaxBreakdown.Source != types.TaxSourceFallback {
		t.Fatalf("expected fallback tax source, got %+v", session.TaxBreakdown)
	}
	if session.TaxPaise != 8982 {
		t.Fatalf("tax = %d, want 8982 at the default 18%%", session.TaxPaise)
	}
}

func TestExpiredSessionRejectsOperations(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()
	session := f.startSession(t, owner)

	session.ExpiresAt = time.Now().Add(-time.Minute)
	if err := NewRepository(f.db).Save(ctx, session); err != nil {
		t.Fatalf("age session: %v", err)
	}

	_, err := f.svc.SetAddress(ctx, owner, session.ID, AddressInput{Shipping: testAddress()})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(f.inventory.released) == 0 {
		t.Fatal("expected reservations released on expiry")
	}

	reloaded, _ := NewRepository(f.db).FindByID(ctx, session.ID)
	if reloaded.Status != enums.CheckoutStatusExpired {
		t.Fatalf("session status = %s, want expired", reloaded.Status)
	}
}

func TestExpireStaleSweep(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		owner := userOwner()
		session := f.startSession(t, owner)
		session.ExpiresAt = time.Now().Add(-time.Hour)
		if err := NewRepository(f.db).Save(ctx, session); err != nil {
			t.Fatalf("age session: %v", err)
		}
	}

	swept, err := f.svc.ExpireStale(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if swept != 2 {
		t.Fatalf("swept = %d, want 2", swept)
	}
	if len(f.inventory.released) != 2 {
		t.Fatalf("released batches = %d, want 2", len(f.inventory.released))
	}
}

func TestSessionNotVisibleToOtherOwner(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()
	session := f.startSession(t, owner)

	_, err := f.svc.Get(ctx, userOwner(), session.ID)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for foreign owner, got %v", err)
	}
}

func TestCancelReleasesReservations(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()
	session := f.startSession(t, owner)

	cancelled, err := f.svc.Cancel(ctx, owner, session.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != enums.CheckoutStatusFailed {
		t.Fatalf("status = %s, want failed", cancelled.Status)
	}
	if cancelled.FailureReason == nil || *cancelled.FailureReason != "cancelled by shopper" {
		t.Fatalf("failure reason = %v", cancelled.FailureReason)
	}
	if len(f.inventory.released) != 1 {
		t.Fatalf("released batches = %d, want 1", len(f.inventory.released))
	}

	_, err = f.svc.Cancel(ctx, owner, session.ID)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict on second cancel, got %v", err)
	}
}

// readySession walks a session to payment_pending so Complete can run.
func (f *fixture) readySession(t *testing.T, owner cart.Owner, method enums.PaymentMethod) *models.CheckoutSession {
	t.Helper()
	ctx := context.Background()
	session := f.startSession(t, owner)
	var err error
	if session, err = f.svc.SetAddress(ctx, owner, session.ID, AddressInput{Shipping: testAddress()}); err != nil {
		t.Fatalf("set address: %v", err)
	}
	if session, err = f.svc.SetShipping(ctx, owner, session.ID, standardShipping()); err != nil {
		t.Fatalf("set shipping: %v", err)
	}
	if session, err = f.svc.SetPaymentMethod(ctx, owner, session.ID, method); err != nil {
		t.Fatalf("set payment method: %v", err)
	}
	return session
}

func TestStartReturnsOpenSessionForUnchangedCart(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()
	session := f.startSession(t, owner)

	again, err := f.svc.Start(ctx, owner)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if again.ID != session.ID {
		t.Fatalf("expected the open session back, got %s and %s", session.ID, again.ID)
	}
	if f.inventory.reserved != 1 {
		t.Fatalf("reserve calls = %d, want 1", f.inventory.reserved)
	}
	if len(f.inventory.released) != 0 {
		t.Fatalf("released batches = %d, want 0", len(f.inventory.released))
	}
}

func TestStartSupersedesAfterCartMutation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()
	session := f.startSession(t, owner)

	// The cart moved past the pinned version; the old session cannot complete.
	if _, err := f.cartSvc.AddItem(ctx, owner, cart.AddItemInput{VariantID: f.variantB, Qty: 1}); err != nil {
		t.Fatalf("mutate cart: %v", err)
	}

	fresh, err := f.svc.Start(ctx, owner)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if fresh.ID == session.ID {
		t.Fatal("expected a fresh session after the cart changed")
	}
	if f.inventory.reserved != 2 {
		t.Fatalf("reserve calls = %d, want 2", f.inventory.reserved)
	}
	if len(f.inventory.released) != 1 {
		t.Fatalf("released batches = %d, want 1", len(f.inventory.released))
	}

	stale, err := NewRepository(f.db).FindByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("reload stale session: %v", err)
	}
	if stale.Status != enums.CheckoutStatusFailed {
		t.Fatalf("stale session status = %s, want failed", stale.Status)
	}
}

func TestCompleteRejectsPriceDrift(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()
	session := f.readySession(t, owner, enums.PaymentMethodPrepaid)

	// Pricing repriced the variant between checkout start and completion.
	line := f.pricing.prices[f.variantA]
	line.UnitPricePaise = 52900
	f.pricing.prices[f.variantA] = line

	_, err := f.svc.Complete(ctx, owner, session.ID)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	if !ok {
		t.Fatalf("expected details map, got %T", pkgerrors.As(err).Details())
	}
	if _, ok := details["changes"]; !ok {
		t.Fatalf("details missing per-line changes: %+v", details)
	}

	var orderCount int64
	f.db.Model(&models.Order{}).Count(&orderCount)
	if orderCount != 0 {
		t.Fatalf("order count = %d, want 0", orderCount)
	}
	reloaded, _ := NewRepository(f.db).FindByID(ctx, session.ID)
	if reloaded.Status != enums.CheckoutStatusPaymentPending {
		t.Fatalf("session status = %s, want payment_pending for the shopper to retry", reloaded.Status)
	}
}

func TestCompleteStripsLapsedCoupon(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	f.pricing.coupons = map[string]types.AppliedCoupon{
		"FEST10": {Code: "FEST10", DiscountPaise: 5000},
	}
	if _, err := f.cartSvc.AddItem(ctx, owner, cart.AddItemInput{VariantID: f.variantA, Qty: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := f.cartSvc.ApplyCoupon(ctx, owner, "FEST10"); err != nil {
		t.Fatalf("apply coupon: %v", err)
	}
	session, err := f.svc.Start(ctx, owner)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if session, err = f.svc.SetAddress(ctx, owner, session.ID, AddressInput{Shipping: testAddress()}); err != nil {
		t.Fatalf("set address: %v", err)
	}
	if session, err = f.svc.SetShipping(ctx, owner, session.ID, standardShipping()); err != nil {
		t.Fatalf("set shipping: %v", err)
	}
	if session, err = f.svc.SetPaymentMethod(ctx, owner, session.ID, enums.PaymentMethodPrepaid); err != nil {
		t.Fatalf("set payment method: %v", err)
	}

	// The coupon expired while the shopper was filling in the address.
	delete(f.pricing.coupons, "FEST10")

	_, err = f.svc.Complete(ctx, owner, session.ID)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	cartRow, err := cart.NewRepository(f.db).FindByID(ctx, session.CartID)
	if err != nil {
		t.Fatalf("reload cart: %v", err)
	}
	if len(cartRow.AppliedCoupons) != 0 {
		t.Fatalf("coupons still applied: %+v", cartRow.AppliedCoupons)
	}

	// The session was repriced and re-pinned; retrying completes at full price.
	result, err := f.svc.Complete(ctx, owner, session.ID)
	if err != nil {
		t.Fatalf("retry complete: %v", err)
	}
	if result.Order.DiscountPaise != 0 {
		t.Fatalf("order discount = %d, want 0", result.Order.DiscountPaise)
	}
	if result.Order.TotalPaise != 64664 {
		t.Fatalf("order total = %d, want 64664", result.Order.TotalPaise)
	}
}

func TestCompleteFailsOnStockShortfall(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()
	session := f.readySession(t, owner, enums.PaymentMethodPrepaid)

	f.inventory.unavailable = map[uuid.UUID]bool{f.variantA: true}

	_, err := f.svc.Complete(ctx, owner, session.ID)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(f.inventory.released) != 1 {
		t.Fatalf("released batches = %d, want 1", len(f.inventory.released))
	}
	reloaded, _ := NewRepository(f.db).FindByID(ctx, session.ID)
	if reloaded.Status != enums.CheckoutStatusFailed {
		t.Fatalf("session status = %s, want failed", reloaded.Status)
	}
	var orderCount int64
	f.db.Model(&models.Order{}).Count(&orderCount)
	if orderCount != 0 {
		t.Fatalf("order count = %d, want 0", orderCount)
	}
}

func TestCancelNotVisibleToOtherOwner(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()
	session := f.startSession(t, owner)

	_, err := f.svc.Cancel(ctx, userOwner(), session.ID)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for foreign owner, got %v", err)
	}
	if len(f.inventory.released) != 0 {
		t.Fatalf("reservations must stay held, released = %v", f.inventory.released)
	}
}
