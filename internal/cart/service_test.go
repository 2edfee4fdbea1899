package cart

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/internal/clients"
	"github.com/anshulkhatri/cartful-backend/pkg/config"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:cart_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Cart{}, &models.CartItem{}); err != nil {
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
	prices  map[uuid.UUID]clients.QuoteLine
	coupons map[string]types.AppliedCoupon
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

type stubInventory struct {
	unavailable map[uuid.UUID]bool
}

func (s *stubInventory) CheckAvailability(_ context.Context, queries []clients.AvailabilityQuery) ([]clients.Availability, error) {
	out := make([]clients.Availability, 0, len(queries))
	for _, q := range queries {
		out = append(out, clients.Availability{
			VariantID: q.VariantID,
			Available: !s.unavailable[q.VariantID],
		})
	}
	return out, nil
}

type fixture struct {
	db        *gorm.DB
	svc       Service
	catalog   *stubCatalog
	pricing   *stubPricing
	inventory *stubInventory
	variantA  uuid.UUID
	variantB  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)

	variantA := uuid.New()
	variantB := uuid.New()
	productA := uuid.New()
	productB := uuid.New()

	catalog := &stubCatalog{variants: map[uuid.UUID]clients.Variant{
		variantA: {VariantID: variantA, ProductID: productA, SKU: "TSHIRT-M-BLK", Title: "Crew Tee M Black", Active: true},
		variantB: {VariantID: variantB, ProductID: productB, SKU: "MUG-350", Title: "Ceramic Mug 350ml", Active: true},
	}}
	pricing := &stubPricing{
		prices: map[uuid.UUID]clients.QuoteLine{
			variantA: {VariantID: variantA, UnitPricePaise: 49900, MRPPaise: 59900},
			variantB: {VariantID: variantB, UnitPricePaise: 24900, MRPPaise: 24900},
		},
		coupons: map[string]types.AppliedCoupon{
			"WELCOME10": {Code: "WELCOME10", DiscountPaise: 5000, ValueType: "flat", Value: "5000"},
		},
	}
	inventory := &stubInventory{unavailable: map[uuid.UUID]bool{}}

	svc, err := NewService(NewRepository(db), gormTxRunner{db: db}, catalog, pricing, inventory, nil, config.CartConfig{
		MaxItems:        3,
		RecalcAttempts:  3,
		RecalcBaseDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{db: db, svc: svc, catalog: catalog, pricing: pricing, inventory: inventory, variantA: variantA, variantB: variantB}
}

func userOwner() Owner {
	id := uuid.New()
	return Owner{UserID: &id}
}

func TestOwnerValidate(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	session := "sess-1"
	if err := (Owner{UserID: &id}).Validate(); err != nil {
		t.Fatalf("user owner: %v", err)
	}
	if err := (Owner{SessionID: &session}).Validate(); err != nil {
		t.Fatalf("session owner: %v", err)
	}
	if err := (Owner{}).Validate(); err == nil {
		t.Fatal("expected error for empty owner")
	}
	if err := (Owner{UserID: &id, SessionID: &session}).Validate(); err == nil {
		t.Fatal("expected error for both identities")
	}
}

func TestAddItemCreatesCartWithTotals(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	cart, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantA, Qty: 2})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(cart.Items))
	}
	if cart.SubtotalPaise != 99800 {
		t.Fatalf("subtotal = %d, want 99800", cart.SubtotalPaise)
	}
	if cart.TotalPaise != cart.SubtotalPaise-cart.DiscountPaise+cart.TaxPaise+cart.ShippingPaise {
		t.Fatalf("totals identity broken: %+v", cart)
	}
	if cart.Version != 2 {
		t.Fatalf("version = %d, want 2 after first recalc", cart.Version)
	}
	if cart.Status != enums.CartStatusActive {
		t.Fatalf("status = %s", cart.Status)
	}
}

func TestAddItemMergesExistingLine(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	if _, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantA, Qty: 1}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	cart, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantA, Qty: 2})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected merged line, got %d items", len(cart.Items))
	}
	if cart.Items[0].Qty != 3 {
		t.Fatalf("qty = %d, want 3", cart.Items[0].Qty)
	}
	if cart.SubtotalPaise != 3*49900 {
		t.Fatalf("subtotal = %d", cart.SubtotalPaise)
	}
}

func TestAddItemRejectsBadInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	if _, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantA, Qty: 0}); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("zero qty: expected validation error, got %v", err)
	}
	if _, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: uuid.New(), Qty: 1}); pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
		t.Fatalf("unknown variant: expected not found, got %v", err)
	}
	if _, err := f.svc.AddItem(ctx, Owner{}, AddItemInput{VariantID: f.variantA, Qty: 1}); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("empty owner: expected validation error, got %v", err)
	}
}

func TestAddItemEnforcesLineLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	extra := uuid.New()
	f.catalog.variants[extra] = clients.Variant{VariantID: extra, ProductID: uuid.New(), SKU: "CAP-1", Title: "Cap", Active: true}
	f.pricing.prices[extra] = clients.QuoteLine{VariantID: extra, UnitPricePaise: 9900}

	fourth := uuid.New()
	f.catalog.variants[fourth] = clients.Variant{VariantID: fourth, ProductID: uuid.New(), SKU: "SOCK-1", Title: "Socks", Active: true}
	f.pricing.prices[fourth] = clients.QuoteLine{VariantID: fourth, UnitPricePaise: 4900}

	for _, id := range []uuid.UUID{f.variantA, f.variantB, extra} {
		if _, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: id, Qty: 1}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	_, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: fourth, Qty: 1})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error at line limit, got %v", err)
	}
}

func TestUpdateItemQtyZeroRemovesLine(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	if _, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantA, Qty: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantB, Qty: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}

	cart, err := f.svc.UpdateItemQty(ctx, owner, f.variantA, 0)
	if err != nil {
		t.Fatalf("update to zero: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].VariantID != f.variantB {
		t.Fatalf("expected only variant B left, got %+v", cart.Items)
	}
	if cart.SubtotalPaise != 24900 {
		t.Fatalf("subtotal = %d, want 24900", cart.SubtotalPaise)
	}
}

func TestUpdateItemQtyUnknownLine(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	if _, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantA, Qty: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := f.svc.UpdateItemQty(ctx, owner, f.variantB, 2)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApplyAndRemoveCoupon(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	if _, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantA, Qty: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}

	cart, err := f.svc.ApplyCoupon(ctx, owner, "welcome10")
	if err != nil {
		t.Fatalf("apply coupon: %v", err)
	}
	if !cart.AppliedCoupons.Has("WELCOME10") {
		t.Fatalf("coupon not applied: %+v", cart.AppliedCoupons)
	}
	if cart.DiscountPaise != 5000 {
		t.Fatalf("discount = %d, want 5000", cart.DiscountPaise)
	}
	if cart.TotalPaise != cart.SubtotalPaise-cart.DiscountPaise+cart.TaxPaise+cart.ShippingPaise {
		t.Fatalf("totals identity broken: %+v", cart)
	}

	if _, err := f.svc.ApplyCoupon(ctx, owner, "WELCOME10"); pkgerrors.CodeOf(err) != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict on duplicate apply, got %v", err)
	}
	if _, err := f.svc.ApplyCoupon(ctx, owner, "NOPE"); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for unknown coupon, got %v", err)
	}

	cart, err = f.svc.RemoveCoupon(ctx, owner, "WELCOME10")
	if err != nil {
		t.Fatalf("remove coupon: %v", err)
	}
	if len(cart.AppliedCoupons) != 0 {
		t.Fatalf("coupons not cleared: %+v", cart.AppliedCoupons)
	}
	if cart.DiscountPaise != 0 {
		t.Fatalf("discount = %d after removal", cart.DiscountPaise)
	}
}

func TestValidateStampsPriceDrift(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	if _, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantA, Qty: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Price moves between add and validate.
	line := f.pricing.prices[f.variantA]
	line.UnitPricePaise = 44900
	f.pricing.prices[f.variantA] = line

	report, err := f.svc.Validate(ctx, owner)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(report.Changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(report.Changes))
	}
	change := report.Changes[0]
	if !change.PriceChanged || change.PrevUnitPricePaise != 49900 || change.UnitPricePaise != 44900 {
		t.Fatalf("unexpected change: %+v", change)
	}
	if report.Blocking {
		t.Fatal("price drift alone should not block checkout")
	}
	item := report.Cart.Items[0]
	if !item.PriceChanged || item.PrevUnitPricePaise == nil || *item.PrevUnitPricePaise != 49900 {
		t.Fatalf("line not stamped: %+v", item)
	}
	if report.Cart.SubtotalPaise != 44900 {
		t.Fatalf("subtotal not recomputed: %d", report.Cart.SubtotalPaise)
	}

	// A second validate with a stable price clears the flag.
	report, err = f.svc.Validate(ctx, owner)
	if err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	if report.Changes[0].PriceChanged {
		t.Fatalf("flag should clear once acknowledged: %+v", report.Changes[0])
	}
	if report.Cart.Items[0].PrevUnitPricePaise != nil {
		t.Fatal("prev price should clear on stable revalidate")
	}
}

func TestValidateFlagsStockAndCatalogIssues(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	if _, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantA, Qty: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantB, Qty: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}

	f.inventory.unavailable[f.variantA] = true
	delete(f.catalog.variants, f.variantB)

	report, err := f.svc.Validate(ctx, owner)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !report.Blocking {
		t.Fatal("expected blocking report")
	}
	statuses := map[uuid.UUID]enums.ProductStatus{}
	for _, change := range report.Changes {
		statuses[change.VariantID] = change.ProductStatus
	}
	if statuses[f.variantA] != enums.ProductStatusOutOfStock {
		t.Fatalf("variant A status = %s", statuses[f.variantA])
	}
	if statuses[f.variantB] != enums.ProductStatusUnavailable {
		t.Fatalf("variant B status = %s", statuses[f.variantB])
	}
}

func TestAddItemRejectsWhenOutOfStock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	f.inventory.unavailable[f.variantA] = true

	_, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantA, Qty: 1})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	// An in-stock add still lands with a clean availability stamp.
	cartModel, err := f.svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantB, Qty: 1})
	if err != nil {
		t.Fatalf("add in-stock variant: %v", err)
	}
	if len(cartModel.Items) != 1 {
		t.Fatalf("item count = %d, want 1", len(cartModel.Items))
	}
	if cartModel.Items[0].ProductStatus != enums.ProductStatusAvailable {
		t.Fatalf("product status = %s, want available", cartModel.Items[0].ProductStatus)
	}
}

// flakyRepo reports a lost version race on the first guarded save, then
// delegates.
type flakyRepo struct {
	CartRepository
	failures *int32
}

func (f *flakyRepo) WithTx(tx *gorm.DB) CartRepository {
	return &flakyRepo{CartRepository: f.CartRepository.WithTx(tx), failures: f.failures}
}

func (f *flakyRepo) SaveGuarded(ctx context.Context, cart *models.Cart) (bool, error) {
	if atomic.AddInt32(f.failures, -1) >= 0 {
		return false, nil
	}
	return f.CartRepository.SaveGuarded(ctx, cart)
}

func TestMutationRetriesOnVersionConflict(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	failures := int32(1)
	repo := &flakyRepo{CartRepository: NewRepository(f.db), failures: &failures}
	svc, err := NewService(repo, gormTxRunner{db: f.db}, f.catalog, f.pricing, f.inventory, nil, config.CartConfig{
		MaxItems:        3,
		RecalcAttempts:  3,
		RecalcBaseDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cart, err := svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantA, Qty: 1})
	if err != nil {
		t.Fatalf("add with one conflict: %v", err)
	}
	if cart.SubtotalPaise != 49900 {
		t.Fatalf("subtotal = %d", cart.SubtotalPaise)
	}
}

func TestMutationGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	failures := int32(100)
	repo := &flakyRepo{CartRepository: NewRepository(f.db), failures: &failures}
	svc, err := NewService(repo, gormTxRunner{db: f.db}, f.catalog, f.pricing, f.inventory, nil, config.CartConfig{
		MaxItems:        3,
		RecalcAttempts:  2,
		RecalcBaseDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.AddItem(ctx, owner, AddItemInput{VariantID: f.variantA, Qty: 1})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict after exhausting retries, got %v", err)
	}
}

func TestGetOrCreateIsIdempotentPerOwner(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := userOwner()

	first, err := f.svc.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := f.svc.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same cart, got %s and %s", first.ID, second.ID)
	}

	session := "guest-" + uuid.NewString()
	guest, err := f.svc.GetOrCreate(ctx, Owner{SessionID: &session})
	if err != nil {
		t.Fatalf("guest create: %v", err)
	}
	if guest.ID == first.ID {
		t.Fatal("guest cart must be distinct from user cart")
	}
}
