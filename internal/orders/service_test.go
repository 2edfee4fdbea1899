package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/internal/clients"
	historysvc "github.com/anshulkhatri/cartful-backend/internal/history"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
	"github.com/anshulkhatri/cartful-backend/pkg/outbox"
	"github.com/anshulkhatri/cartful-backend/pkg/pagination"
	"github.com/anshulkhatri/cartful-backend/pkg/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Order{}, &models.OrderItem{},
		&models.OrderStatusHistory{},
		&models.OutboxEvent{},
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

type stubRestocker struct {
	calls int
	items []clients.AvailabilityQuery
}

func (s *stubRestocker) Restock(_ context.Context, _ uuid.UUID, items []clients.AvailabilityQuery) error {
	s.calls++
	s.items = append(s.items, items...)
	return nil
}

type stubCouponReleaser struct {
	released []uuid.UUID
}

func (s *stubCouponReleaser) ReleaseCouponUsage(_ context.Context, orderID uuid.UUID) error {
	s.released = append(s.released, orderID)
	return nil
}

type stubRefundInitiator struct {
	calls int
	err   error
}

func (s *stubRefundInitiator) RefundOnCancellation(_ context.Context, _ uuid.UUID, _ enums.ActorType) error {
	s.calls++
	return s.err
}

type stubSettler struct {
	calls int
	err   error
}

func (s *stubSettler) SettleCashOnDelivery(_ context.Context, _ uuid.UUID) error {
	s.calls++
	return s.err
}

type fixture struct {
	db       *gorm.DB
	svc      *ServiceImpl
	restock  *stubRestocker
	coupons  *stubCouponReleaser
	refunder *stubRefundInitiator
	settler  *stubSettler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	logg := logger.NewNop()

	hist, err := historysvc.NewService(db)
	if err != nil {
		t.Fatalf("history service: %v", err)
	}
	box := outbox.NewService(outbox.NewRepository(db), logg)
	restock := &stubRestocker{}
	coupons := &stubCouponReleaser{}
	refunder := &stubRefundInitiator{}
	settler := &stubSettler{}

	svc, err := NewService(NewRepository(db), gormTxRunner{db: db}, hist, box, restock, coupons, nil, nil, logg)
	if err != nil {
		t.Fatalf("orders service: %v", err)
	}
	svc.SetRefundInitiator(refunder)
	svc.SetPaymentSettler(settler)
	return &fixture{db: db, svc: svc, restock: restock, coupons: coupons, refunder: refunder, settler: settler}
}

func seedOrder(t *testing.T, db *gorm.DB, status enums.OrderStatus, paymentStatus enums.PaymentStatus) *models.Order {
	t.Helper()
	userID := uuid.New()
	order := &models.Order{
		OrderNumber:       "ORD-2026-" + uuid.NewString()[:6],
		UserID:            &userID,
		CheckoutSessionID: uuid.New(),
		CartID:            uuid.New(),
		Status:            status,
		PaymentStatus:     paymentStatus,
		FulfillmentStatus: enums.FulfillmentStatusUnfulfilled,
		PaymentMethod:     enums.PaymentMethodPrepaid,
		CurrencyCode:      "INR",
		SubtotalPaise:     74800,
		TaxPaise:          13464,
		ShippingPaise:     4900,
		TotalPaise:        93164,
		AppliedCoupons:    types.AppliedCoupons{{Code: "WELCOME10", DiscountPaise: 0}},
		ShippingAddress:   types.Address{Name: "Asha Rao", Line1: "12 MG Road", City: "Bengaluru", State: "Karnataka", PostalCode: "560001", Country: "IN"},
		BillingAddress:    types.Address{Name: "Asha Rao", Line1: "12 MG Road", City: "Bengaluru", State: "Karnataka", PostalCode: "560001", Country: "IN"},
		ShippingMethod:    types.ShippingMethod{Code: "standard", Name: "Standard", RatePaise: 4900},
		PlacedAt:          time.Now(),
		Items: []models.OrderItem{
			{ProductID: uuid.New(), VariantID: uuid.New(), SKU: "TSHIRT-M-BLK", Title: "Crew Tee", Qty: 2, UnitPricePaise: 24950, LineTotalPaise: 49900},
			{ProductID: uuid.New(), VariantID: uuid.New(), SKU: "MUG-350", Title: "Mug", Qty: 1, UnitPricePaise: 24900, LineTotalPaise: 24900},
		},
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func TestUpdateStatusAlongGraph(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusPending, enums.PaymentStatusPending)
	actor := Actor{Type: enums.ActorTypeAdmin}

	order2, err := f.svc.UpdateStatus(ctx, order.ID, TransitionInput{Target: enums.OrderStatusConfirmed, Actor: actor})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if order2.Status != enums.OrderStatusConfirmed {
		t.Fatalf("status = %s", order2.Status)
	}
	if _, err := f.svc.UpdateStatus(ctx, order.ID, TransitionInput{Target: enums.OrderStatusProcessing, Actor: actor}); err != nil {
		t.Fatalf("processing: %v", err)
	}

	rows, err := f.svc.History(ctx, order.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("history rows = %d, want 2", len(rows))
	}
	if rows[0].ToStatus != "confirmed" || rows[1].ToStatus != "processing" {
		t.Fatalf("history out of order: %+v", rows)
	}

	var outboxCount int64
	f.db.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", order.ID).Count(&outboxCount)
	if outboxCount != 2 {
		t.Fatalf("outbox rows = %d, want 2", outboxCount)
	}
}

func TestUpdateStatusRejectsIllegalJump(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusPending, enums.PaymentStatusPending)

	tracking := "AWB123456789"
	_, err := f.svc.UpdateStatus(ctx, order.ID, TransitionInput{Target: enums.OrderStatusShipped, Actor: Actor{Type: enums.ActorTypeAdmin}, TrackingNumber: &tracking})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	typed := pkgerrors.As(err)
	details, ok := typed.Details().(map[string]any)
	if !ok {
		t.Fatalf("expected details map, got %T", typed.Details())
	}
	if _, ok := details["allowedNext"]; !ok {
		t.Fatalf("details missing allowedNext: %+v", details)
	}
}

func TestUpdateStatusRefusesCancelTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusPending, enums.PaymentStatusPending)

	_, err := f.svc.UpdateStatus(ctx, order.ID, TransitionInput{Target: enums.OrderStatusCancelled, Actor: Actor{Type: enums.ActorTypeAdmin}})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestShippedRequiresTrackingNumber(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusProcessing, enums.PaymentStatusSuccess)
	actor := Actor{Type: enums.ActorTypeAdmin}

	_, err := f.svc.UpdateStatus(ctx, order.ID, TransitionInput{Target: enums.OrderStatusShipped, Actor: actor})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error without tracking, got %v", err)
	}
	blank := "   "
	_, err = f.svc.UpdateStatus(ctx, order.ID, TransitionInput{Target: enums.OrderStatusShipped, Actor: actor, TrackingNumber: &blank})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for blank tracking, got %v", err)
	}

	tracking := "AWB998877665"
	shipped, err := f.svc.UpdateStatus(ctx, order.ID, TransitionInput{Target: enums.OrderStatusShipped, Actor: actor, TrackingNumber: &tracking})
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if shipped.TrackingNumber == nil || *shipped.TrackingNumber != tracking {
		t.Fatalf("tracking number = %v", shipped.TrackingNumber)
	}

	var row models.Order
	f.db.First(&row, "id = ?", order.ID)
	if row.TrackingNumber == nil || *row.TrackingNumber != tracking {
		t.Fatalf("persisted tracking number = %v", row.TrackingNumber)
	}
}

func TestDeliveredCashOrderSettlesPayment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	actor := Actor{Type: enums.ActorTypeAdmin}

	order := seedOrder(t, f.db, enums.OrderStatusOutForDelivery, enums.PaymentStatusPending)
	f.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("payment_method", enums.PaymentMethodCashOnDelivery)

	delivered, err := f.svc.UpdateStatus(ctx, order.ID, TransitionInput{Target: enums.OrderStatusDelivered, Actor: actor})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if f.settler.calls != 1 {
		t.Fatalf("settler calls = %d, want 1", f.settler.calls)
	}
	if delivered.PaymentStatus != enums.PaymentStatusSuccess {
		t.Fatalf("payment status = %s, want success", delivered.PaymentStatus)
	}
}

func TestDeliveredPrepaidOrderSkipsSettlement(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusOutForDelivery, enums.PaymentStatusSuccess)

	if _, err := f.svc.UpdateStatus(ctx, order.ID, TransitionInput{Target: enums.OrderStatusDelivered, Actor: Actor{Type: enums.ActorTypeAdmin}}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if f.settler.calls != 0 {
		t.Fatalf("settler calls = %d, want 0 for prepaid", f.settler.calls)
	}
}

func TestDeliveredSurvivesSettlementFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusOutForDelivery, enums.PaymentStatusPending)
	f.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("payment_method", enums.PaymentMethodCashOnDelivery)
	f.settler.err = errors.New("payments down")

	delivered, err := f.svc.UpdateStatus(ctx, order.ID, TransitionInput{Target: enums.OrderStatusDelivered, Actor: Actor{Type: enums.ActorTypeAdmin}})
	if err != nil {
		t.Fatalf("deliver must succeed despite settlement failure: %v", err)
	}
	if delivered.Status != enums.OrderStatusDelivered {
		t.Fatalf("status = %s", delivered.Status)
	}
	if delivered.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("payment status = %s, must stay pending for the operator", delivered.PaymentStatus)
	}
}

func TestCancelRunsCompensations(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusConfirmed, enums.PaymentStatusSuccess)

	cancelled, err := f.svc.Cancel(ctx, order.ID, Actor{Type: enums.ActorTypeCustomer}, "changed my mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != enums.OrderStatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	if cancelled.CancelledAt == nil || cancelled.CancelReason == nil {
		t.Fatalf("cancel metadata missing: %+v", cancelled)
	}
	if f.restock.calls != 1 || len(f.restock.items) != 2 {
		t.Fatalf("restock calls = %d items = %d", f.restock.calls, len(f.restock.items))
	}
	if f.refunder.calls != 1 {
		t.Fatalf("refund calls = %d, want 1", f.refunder.calls)
	}
	if len(f.coupons.released) != 1 {
		t.Fatalf("coupon releases = %d, want 1", len(f.coupons.released))
	}
}

func TestCancelWithoutCaptureSkipsRefund(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusPending, enums.PaymentStatusPending)

	if _, err := f.svc.Cancel(ctx, order.ID, Actor{Type: enums.ActorTypeCustomer}, "placed by mistake"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.refunder.calls != 0 {
		t.Fatalf("refund calls = %d, want 0 for uncaptured payment", f.refunder.calls)
	}
}

func TestCancelSurvivesRefundFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusConfirmed, enums.PaymentStatusSuccess)
	f.refunder.err = errors.New("gateway down")

	cancelled, err := f.svc.Cancel(ctx, order.ID, Actor{Type: enums.ActorTypeCustomer}, "changed my mind")
	if err != nil {
		t.Fatalf("cancel must succeed despite refund failure: %v", err)
	}
	if cancelled.Status != enums.OrderStatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
}

func TestCancelRejectedAfterShipping(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusShipped, enums.PaymentStatusSuccess)

	_, err := f.svc.Cancel(ctx, order.ID, Actor{Type: enums.ActorTypeCustomer}, "too late")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if f.restock.calls != 0 {
		t.Fatal("compensations must not run on rejected cancel")
	}
}

func TestFulfillLedger(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusProcessing, enums.PaymentStatusSuccess)
	actor := Actor{Type: enums.ActorTypeAdmin}

	// Partial: 1 of 2 units on the first line.
	updated, err := f.svc.Fulfill(ctx, order.ID, []FulfillmentLine{{OrderItemID: order.Items[0].ID, Qty: 1}}, actor)
	if err != nil {
		t.Fatalf("partial fulfill: %v", err)
	}
	if updated.FulfillmentStatus != enums.FulfillmentStatusPartiallyFulfilled {
		t.Fatalf("fulfillment = %s", updated.FulfillmentStatus)
	}

	// Complete the rest.
	updated, err = f.svc.Fulfill(ctx, order.ID, []FulfillmentLine{
		{OrderItemID: order.Items[0].ID, Qty: 1},
		{OrderItemID: order.Items[1].ID, Qty: 1},
	}, actor)
	if err != nil {
		t.Fatalf("full fulfill: %v", err)
	}
	if updated.FulfillmentStatus != enums.FulfillmentStatusFulfilled {
		t.Fatalf("fulfillment = %s", updated.FulfillmentStatus)
	}

	// Over-fulfilling is rejected.
	_, err = f.svc.Fulfill(ctx, order.ID, []FulfillmentLine{{OrderItemID: order.Items[0].ID, Qty: 1}}, actor)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFulfillRequiresProcessingOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedOrder(t, f.db, enums.OrderStatusPending, enums.PaymentStatusPending)

	_, err := f.svc.Fulfill(ctx, order.ID, []FulfillmentLine{{OrderItemID: order.Items[0].ID, Qty: 1}}, Actor{Type: enums.ActorTypeAdmin})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestListPagination(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		order := seedOrder(t, f.db, enums.OrderStatusPending, enums.PaymentStatusPending)
		placedAt := time.Now().Add(time.Duration(-i) * time.Hour)
		f.db.Model(&models.Order{}).Where("id = ?", order.ID).
			Updates(map[string]any{"user_id": userID, "placed_at": placedAt})
	}

	first, err := f.svc.List(ctx, ListFilter{UserID: &userID, Page: pagination.Params{Limit: 2}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Orders) != 2 {
		t.Fatalf("page size = %d, want 2", len(first.Orders))
	}
	if first.NextCursor == "" {
		t.Fatal("expected next cursor")
	}
	if first.Orders[0].PlacedAt.Before(first.Orders[1].PlacedAt) {
		t.Fatal("orders not sorted newest first")
	}

	second, err := f.svc.List(ctx, ListFilter{UserID: &userID, Page: pagination.Params{Limit: 2, Cursor: first.NextCursor}})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Orders) != 1 {
		t.Fatalf("second page size = %d, want 1", len(second.Orders))
	}
	if second.NextCursor != "" {
		t.Fatal("unexpected cursor on last page")
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), uuid.New())
	if pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBulkUpdateStatusPartialSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	good := seedOrder(t, f.db, enums.OrderStatusPending, enums.PaymentStatusPending)
	shipped := seedOrder(t, f.db, enums.OrderStatusShipped, enums.PaymentStatusSuccess)
	missing := uuid.New()

	results := f.svc.BulkUpdateStatus(ctx, []uuid.UUID{good.ID, shipped.ID, missing}, TransitionInput{Target: enums.OrderStatusConfirmed, Actor: Actor{Type: enums.ActorTypeAdmin}})
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}

	if results[0].Err != nil {
		t.Fatalf("good order: %v", results[0].Err)
	}
	if results[0].Order.Status != enums.OrderStatusConfirmed {
		t.Fatalf("good order status = %s", results[0].Order.Status)
	}
	if pkgerrors.CodeOf(results[1].Err) != pkgerrors.CodeStateConflict {
		t.Fatalf("shipped order: expected state conflict, got %v", results[1].Err)
	}
	if pkgerrors.CodeOf(results[2].Err) != pkgerrors.CodeNotFound {
		t.Fatalf("missing order: expected not found, got %v", results[2].Err)
	}

	reloaded, err := f.svc.Get(ctx, shipped.ID)
	if err != nil {
		t.Fatalf("reload shipped: %v", err)
	}
	if reloaded.Status != enums.OrderStatusShipped {
		t.Fatalf("shipped order mutated to %s", reloaded.Status)
	}
}
