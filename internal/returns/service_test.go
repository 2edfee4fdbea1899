package returns

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
	"github.com/anshulkhatri/cartful-backend/internal/orders"
	"github.com/anshulkhatri/cartful-backend/internal/payments"
	"github.com/anshulkhatri/cartful-backend/internal/refunds"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/gateway"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
	"github.com/anshulkhatri/cartful-backend/pkg/outbox"
	"github.com/anshulkhatri/cartful-backend/pkg/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:returns_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Order{}, &models.OrderItem{},
		&models.Payment{},
		&models.Refund{}, &models.RefundItem{},
		&models.Return{}, &models.ReturnItem{},
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

type stubRefundGateway struct {
	fail  bool
	calls int
}

func (s *stubRefundGateway) CreateRefund(_ context.Context, _ string, amountPaise int64, _ map[string]string) (*gateway.RefundResult, error) {
	s.calls++
	if s.fail {
		return nil, errors.New("gateway unavailable")
	}
	return &gateway.RefundResult{
		GatewayRefundID: "rfnd_" + uuid.NewString()[:8],
		AmountPaise:     amountPaise,
		Status:          "processed",
	}, nil
}

type stubRestocker struct {
	orderIDs []uuid.UUID
	items    [][]clients.AvailabilityQuery
	err      error
}

func (s *stubRestocker) Restock(_ context.Context, orderID uuid.UUID, items []clients.AvailabilityQuery) error {
	if s.err != nil {
		return s.err
	}
	s.orderIDs = append(s.orderIDs, orderID)
	s.items = append(s.items, items)
	return nil
}

type fixture struct {
	db       *gorm.DB
	svc      Service
	gateway  *stubRefundGateway
	restocks *stubRestocker
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
	gw := &stubRefundGateway{}
	restocks := &stubRestocker{}

	refundSvc, err := refunds.NewService(
		refunds.NewRepository(db),
		orders.NewRepository(db),
		payments.NewRepository(db),
		gormTxRunner{db: db},
		gw,
		hist,
		box,
		nil,
		logg,
	)
	if err != nil {
		t.Fatalf("refunds service: %v", err)
	}

	svc, err := NewService(
		NewRepository(db),
		orders.NewRepository(db),
		gormTxRunner{db: db},
		restocks,
		refundSvc,
		hist,
		box,
		nil,
		logg,
	)
	if err != nil {
		t.Fatalf("returns service: %v", err)
	}
	return &fixture{db: db, svc: svc, gateway: gw, restocks: restocks}
}

// seedDeliveredOrder places a delivered two-line order, fully fulfilled, with
// a captured payment. Line A: 2 units, gross 23600. Line B: 1 unit, gross
// 11800. Total 35400.
func seedDeliveredOrder(t *testing.T, db *gorm.DB) *models.Order {
	t.Helper()
	userID := uuid.New()
	gatewayOrderID := "order_gw_" + uuid.NewString()[:8]
	gatewayPaymentID := "pay_" + uuid.NewString()[:8]
	now := time.Now()

	order := &models.Order{
		OrderNumber:       "ORD-2026-" + uuid.NewString()[:6],
		UserID:            &userID,
		CheckoutSessionID: uuid.New(),
		CartID:            uuid.New(),
		Status:            enums.OrderStatusDelivered,
		PaymentStatus:     enums.PaymentStatusSuccess,
		FulfillmentStatus: enums.FulfillmentStatusFulfilled,
		PaymentMethod:     enums.PaymentMethodPrepaid,
		CurrencyCode:      "INR",
		SubtotalPaise:     30000,
		TaxPaise:          5400,
		TotalPaise:        35400,
		ShippingAddress:   types.Address{Name: "Asha Rao", Line1: "12 MG Road", City: "Bengaluru", State: "Karnataka", PostalCode: "560001", Country: "IN"},
		BillingAddress:    types.Address{Name: "Asha Rao", Line1: "12 MG Road", City: "Bengaluru", State: "Karnataka", PostalCode: "560001", Country: "IN"},
		ShippingMethod:    types.ShippingMethod{Code: "standard", Name: "Standard"},
		PlacedAt:          now,
		Items: []models.OrderItem{
			{
				ProductID: uuid.New(), VariantID: uuid.New(),
				SKU: "TSHIRT-M-BLK", Title: "Crew Tee",
				Qty: 2, UnitPricePaise: 10000, TaxPaise: 3600, LineTotalPaise: 20000,
				QtyFulfilled: 2,
			},
			{
				ProductID: uuid.New(), VariantID: uuid.New(),
				SKU: "MUG-CER-WHT", Title: "Ceramic Mug",
				Qty: 1, UnitPricePaise: 10000, TaxPaise: 1800, LineTotalPaise: 10000,
				QtyFulfilled: 1,
			},
		},
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	payment := &models.Payment{
		OrderID:          order.ID,
		Method:           enums.PaymentMethodPrepaid,
		Status:           enums.PaymentStatusSuccess,
		IdempotencyKey:   "checkout-" + uuid.NewString(),
		GatewayOrderID:   &gatewayOrderID,
		GatewayPaymentID: &gatewayPaymentID,
		AmountPaise:      35400,
		CapturedPaise:    35400,
		CapturedAt:       &now,
	}
	if err := db.Create(payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return order
}

func advanceToPickedUp(t *testing.T, f *fixture, ret *models.Return) *models.Return {
	t.Helper()
	ctx := context.Background()
	var err error
	if ret, err = f.svc.Approve(ctx, ret.ID, enums.ActorTypeAdmin); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if ret, err = f.svc.SchedulePickup(ctx, ret.ID, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("schedule pickup: %v", err)
	}
	if ret, err = f.svc.MarkPickedUp(ctx, ret.ID); err != nil {
		t.Fatalf("mark picked up: %v", err)
	}
	return ret
}

func TestAcceptedReturnSettlesRefundAndRestock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedDeliveredOrder(t, f.db)
	lineA := order.Items[0]

	reason := "size did not fit"
	ret, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID,
		Lines:   []RequestLine{{OrderItemID: lineA.ID, Qty: 1, Reason: &reason}},
		Reason:  reason,
		Actor:   enums.ActorTypeCustomer,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	ret = advanceToPickedUp(t, f, ret)

	ret, err = f.svc.CompleteInspection(ctx, ret.ID, InspectionInput{Accepted: true, Actor: enums.ActorTypeAdmin})
	if err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if ret.Status != enums.ReturnStatusCompleted {
		t.Fatalf("return status = %s, want completed", ret.Status)
	}

	var item models.OrderItem
	f.db.First(&item, "id = ?", lineA.ID)
	if item.QtyReturned != 1 {
		t.Fatalf("qty returned = %d, want 1", item.QtyReturned)
	}

	// One unit of line A: gross 23600 over 2 units.
	var refundRows []models.Refund
	f.db.Where("order_id = ?", order.ID).Find(&refundRows)
	if len(refundRows) != 1 {
		t.Fatalf("refund rows = %d, want 1", len(refundRows))
	}
	if refundRows[0].AmountPaise != 11800 {
		t.Fatalf("refund amount = %d, want 11800", refundRows[0].AmountPaise)
	}
	if refundRows[0].ReturnID == nil || *refundRows[0].ReturnID != ret.ID {
		t.Fatalf("refund not linked to return: %+v", refundRows[0])
	}
	if f.gateway.calls != 1 {
		t.Fatalf("gateway refund calls = %d, want 1", f.gateway.calls)
	}

	if len(f.restocks.items) != 1 || len(f.restocks.items[0]) != 1 {
		t.Fatalf("restock calls: %+v", f.restocks.items)
	}
	if f.restocks.items[0][0].VariantID != lineA.VariantID || f.restocks.items[0][0].Qty != 1 {
		t.Fatalf("restock line: %+v", f.restocks.items[0][0])
	}

	var outboxCount int64
	f.db.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND aggregate_type = ?", ret.ID, enums.OutboxAggregateReturn).
		Count(&outboxCount)
	if outboxCount != 2 { // requested + completed
		t.Fatalf("outbox rows = %d, want 2", outboxCount)
	}
}

func TestRequestValidatesLedgerAndOrderState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedDeliveredOrder(t, f.db)
	lineA := order.Items[0]

	cases := []struct {
		name  string
		input RequestInput
		code  pkgerrors.Code
	}{
		{
			"missing reason",
			RequestInput{OrderID: order.ID, Lines: []RequestLine{{OrderItemID: lineA.ID, Qty: 1}}},
			pkgerrors.CodeValidation,
		},
		{
			"no lines",
			RequestInput{OrderID: order.ID, Reason: "damaged"},
			pkgerrors.CodeValidation,
		},
		{
			"over quantity",
			RequestInput{OrderID: order.ID, Reason: "damaged", Lines: []RequestLine{{OrderItemID: lineA.ID, Qty: 3}}},
			pkgerrors.CodeValidation,
		},
		{
			"unknown line",
			RequestInput{OrderID: order.ID, Reason: "damaged", Lines: []RequestLine{{OrderItemID: uuid.New(), Qty: 1}}},
			pkgerrors.CodeNotFound,
		},
	}
	for _, tc := range cases {
		tc.input.Actor = enums.ActorTypeCustomer
		if _, err := f.svc.Request(ctx, tc.input); pkgerrors.CodeOf(err) != tc.code {
			t.Fatalf("%s: got %v, want %s", tc.name, err, tc.code)
		}
	}

	// Undelivered orders cannot be returned.
	f.db.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", enums.OrderStatusShipped)
	_, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID,
		Reason:  "damaged",
		Lines:   []RequestLine{{OrderItemID: lineA.ID, Qty: 1}},
		Actor:   enums.ActorTypeCustomer,
	})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict for undelivered order, got %v", err)
	}
}

func TestOpenReturnsCannotOversubscribeALine(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedDeliveredOrder(t, f.db)
	lineA := order.Items[0]

	first, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID,
		Reason:  "damaged",
		Lines:   []RequestLine{{OrderItemID: lineA.ID, Qty: 2}},
		Actor:   enums.ActorTypeCustomer,
	})
	if err != nil {
		t.Fatalf("first request: %v", err)
	}

	_, err = f.svc.Request(ctx, RequestInput{
		OrderID: order.ID,
		Reason:  "damaged",
		Lines:   []RequestLine{{OrderItemID: lineA.ID, Qty: 1}},
		Actor:   enums.ActorTypeCustomer,
	})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for oversubscribed line, got %v", err)
	}

	// Rejection frees the claimed units.
	if _, err := f.svc.Reject(ctx, first.ID, enums.ActorTypeAdmin, "photos show normal wear"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID,
		Reason:  "damaged",
		Lines:   []RequestLine{{OrderItemID: lineA.ID, Qty: 2}},
		Actor:   enums.ActorTypeCustomer,
	}); err != nil {
		t.Fatalf("request after rejection: %v", err)
	}
}

func TestFullReturnFlipsOrderStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedDeliveredOrder(t, f.db)

	ret, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID,
		Reason:  "changed my mind",
		Lines: []RequestLine{
			{OrderItemID: order.Items[0].ID, Qty: 2},
			{OrderItemID: order.Items[1].ID, Qty: 1},
		},
		Actor: enums.ActorTypeCustomer,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	ret = advanceToPickedUp(t, f, ret)
	if _, err := f.svc.CompleteInspection(ctx, ret.ID, InspectionInput{Accepted: true, Actor: enums.ActorTypeAdmin}); err != nil {
		t.Fatalf("inspection: %v", err)
	}

	var orderRow models.Order
	f.db.First(&orderRow, "id = ?", order.ID)
	if orderRow.Status != enums.OrderStatusReturned {
		t.Fatalf("order status = %s, want returned", orderRow.Status)
	}
	if orderRow.FulfillmentStatus != enums.FulfillmentStatusReturned {
		t.Fatalf("fulfillment status = %s, want returned", orderRow.FulfillmentStatus)
	}

	var historyCount int64
	f.db.Model(&models.OrderStatusHistory{}).
		Where("order_id = ? AND to_status = ?", order.ID, enums.OrderStatusReturned).
		Count(&historyCount)
	if historyCount != 1 {
		t.Fatalf("history rows for returned = %d, want 1", historyCount)
	}
}

func TestInspectionRejectionLeavesLedgerUntouched(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedDeliveredOrder(t, f.db)
	lineA := order.Items[0]

	ret, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID,
		Reason:  "damaged",
		Lines:   []RequestLine{{OrderItemID: lineA.ID, Qty: 1}},
		Actor:   enums.ActorTypeCustomer,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	ret = advanceToPickedUp(t, f, ret)

	note := "item shows heavy use"
	ret, err = f.svc.CompleteInspection(ctx, ret.ID, InspectionInput{Accepted: false, Note: &note, Actor: enums.ActorTypeAdmin})
	if err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if ret.Status != enums.ReturnStatusRejectedAfterInspection {
		t.Fatalf("return status = %s", ret.Status)
	}

	var item models.OrderItem
	f.db.First(&item, "id = ?", lineA.ID)
	if item.QtyReturned != 0 {
		t.Fatalf("qty returned = %d, want 0", item.QtyReturned)
	}
	var refundCount int64
	f.db.Model(&models.Refund{}).Where("order_id = ?", order.ID).Count(&refundCount)
	if refundCount != 0 {
		t.Fatalf("refund rows = %d, want 0", refundCount)
	}
	if f.gateway.calls != 0 || len(f.restocks.items) != 0 {
		t.Fatalf("no settlement expected, got gateway=%d restocks=%d", f.gateway.calls, len(f.restocks.items))
	}
}

func TestSchedulePickupRejectsPastTime(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedDeliveredOrder(t, f.db)

	ret, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID,
		Reason:  "damaged",
		Lines:   []RequestLine{{OrderItemID: order.Items[0].ID, Qty: 1}},
		Actor:   enums.ActorTypeCustomer,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := f.svc.Approve(ctx, ret.ID, enums.ActorTypeAdmin); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err = f.svc.SchedulePickup(ctx, ret.ID, time.Now().Add(-time.Hour))
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for past pickup, got %v", err)
	}

	// Pickup cannot be scheduled before approval either.
	other, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID,
		Reason:  "damaged",
		Lines:   []RequestLine{{OrderItemID: order.Items[1].ID, Qty: 1}},
		Actor:   enums.ActorTypeCustomer,
	})
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	_, err = f.svc.SchedulePickup(ctx, other.ID, time.Now().Add(time.Hour))
	if pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRefundFailureDoesNotBlockTheReturn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order := seedDeliveredOrder(t, f.db)
	f.gateway.fail = true

	ret, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID,
		Reason:  "damaged",
		Lines:   []RequestLine{{OrderItemID: order.Items[0].ID, Qty: 1}},
		Actor:   enums.ActorTypeCustomer,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	ret = advanceToPickedUp(t, f, ret)

	ret, err = f.svc.CompleteInspection(ctx, ret.ID, InspectionInput{Accepted: true, Actor: enums.ActorTypeAdmin})
	if err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if ret.Status != enums.ReturnStatusCompleted {
		t.Fatalf("return status = %s, want completed despite refund failure", ret.Status)
	}

	// The refund is parked for manual follow-up.
	var refundRow models.Refund
	f.db.First(&refundRow, "order_id = ?", order.ID)
	if refundRow.Status != enums.RefundStatusFailed {
		t.Fatalf("refund status = %s, want failed", refundRow.Status)
	}
	// Goods still went back to stock.
	if len(f.restocks.items) != 1 {
		t.Fatalf("restock calls = %d, want 1", len(f.restocks.items))
	}
}
