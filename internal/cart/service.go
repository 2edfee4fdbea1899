package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/anshulkhatri/cartful-backend/internal/clients"
	"github.com/anshulkhatri/cartful-backend/pkg/config"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/metrics"
	"github.com/anshulkhatri/cartful-backend/pkg/optimistic"
	"github.com/anshulkhatri/cartful-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type variantLoader interface {
	GetVariants(ctx context.Context, variantIDs []uuid.UUID) ([]clients.Variant, error)
}

type priceQuoter interface {
	GetQuote(ctx context.Context, req clients.QuoteRequest) (*clients.Quote, error)
}

type stockChecker interface {
	CheckAvailability(ctx context.Context, queries []clients.AvailabilityQuery) ([]clients.Availability, error)
}

// Owner identifies who the cart belongs to: a signed-in user or a guest
// session, never both.
type Owner struct {
	UserID    *uuid.UUID
	SessionID *string
}

// Validate checks exactly one identity is present.
func (o Owner) Validate() error {
	hasUser := o.UserID != nil && *o.UserID != uuid.Nil
	hasSession := o.SessionID != nil && strings.TrimSpace(*o.SessionID) != ""
	if hasUser == hasSession {
		return pkgerrors.New(pkgerrors.CodeValidation, "exactly one of user id or session id is required")
	}
	return nil
}

// AddItemInput is the payload for adding a variant to the cart.
type AddItemInput struct {
	VariantID uuid.UUID
	Qty       int
}

// LineChange describes one line adjusted by a validation pass.
type LineChange struct {
	VariantID          uuid.UUID           `json:"variantId"`
	PriceChanged       bool                `json:"priceChanged"`
	PrevUnitPricePaise int64               `json:"prevUnitPricePaise,omitempty"`
	UnitPricePaise     int64               `json:"unitPricePaise"`
	ProductStatus      enums.ProductStatus `json:"productStatus"`
}

// ValidationReport summarizes a validation pass over the cart.
type ValidationReport struct {
	Cart     *models.Cart `json:"cart"`
	Changes  []LineChange `json:"changes"`
	Blocking bool         `json:"blocking"`
}

// Service exposes cart operations. Every mutation re-derives totals from the
// item lines and persists them behind the cart's version guard.
type Service interface {
	GetOrCreate(ctx context.Context, owner Owner) (*models.Cart, error)
	AddItem(ctx context.Context, owner Owner, input AddItemInput) (*models.Cart, error)
	UpdateItemQty(ctx context.Context, owner Owner, variantID uuid.UUID, qty int) (*models.Cart, error)
	RemoveItem(ctx context.Context, owner Owner, variantID uuid.UUID) (*models.Cart, error)
	ApplyCoupon(ctx context.Context, owner Owner, code string) (*models.Cart, error)
	RemoveCoupon(ctx context.Context, owner Owner, code string) (*models.Cart, error)
	Validate(ctx context.Context, owner Owner) (*ValidationReport, error)
}

type service struct {
	repo      CartRepository
	tx        txRunner
	catalog   variantLoader
	pricing   priceQuoter
	inventory stockChecker
	metrics   *metrics.PipelineMetrics
	cfg       config.CartConfig
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo CartRepository, tx txRunner, catalog variantLoader, pricing priceQuoter, inventory stockChecker, m *metrics.PipelineMetrics, cfg config.CartConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog client required")
	}
	if pricing == nil {
		return nil, fmt.Errorf("pricing client required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory client required")
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 50
	}
	return &service{
		repo:      repo,
		tx:        tx,
		catalog:   catalog,
		pricing:   pricing,
		inventory: inventory,
		metrics:   m,
		cfg:       cfg,
	}, nil
}

// GetOrCreate returns the owner's active cart, creating an empty one if none
// exists.
func (s *service) GetOrCreate(ctx context.Context, owner Owner) (*models.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	cart, err := s.repo.FindActiveByOwner(ctx, owner)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return s.repo.Create(ctx, &models.Cart{
		UserID:    owner.UserID,
		SessionID: owner.SessionID,
	})
}

// AddItem adds qty of the variant, merging with an existing line. Prices are
// snapshotted from the pricing service at add time. An add that inventory
// cannot cover is rejected; availability flags on lines are stamped by
// Validate, not here.
func (s *service) AddItem(ctx context.Context, owner Owner, input AddItemInput) (*models.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if input.VariantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	if input.Qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	variants, err := s.catalog.GetVariants(ctx, []uuid.UUID{input.VariantID})
	if err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
	}
	variant := variants[0]
	if !variant.Active {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant is not purchasable")
	}

	return s.mutate(ctx, owner, true, func(ctx context.Context, cart *models.Cart, txRepo CartRepository) error {
		newQty := input.Qty
		distinct := len(cart.Items)
		var existing *models.CartItem
		for i := range cart.Items {
			if cart.Items[i].VariantID == input.VariantID {
				existing = &cart.Items[i]
				newQty += existing.Qty
				break
			}
		}
		if existing == nil && distinct >= s.cfg.MaxItems {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart item limit reached")
		}

		quote, err := s.pricing.GetQuote(ctx, clients.QuoteRequest{
			Items:  []clients.AvailabilityQuery{{VariantID: input.VariantID, Qty: newQty}},
			UserID: owner.UserID,
		})
		if err != nil {
			return err
		}
		if len(quote.Lines) == 0 {
			return pkgerrors.New(pkgerrors.CodeDependency, "pricing returned no quote for variant")
		}
		line := quote.Lines[0]

		availability, err := s.inventory.CheckAvailability(ctx, []clients.AvailabilityQuery{{VariantID: input.VariantID, Qty: newQty}})
		if err != nil {
			return err
		}
		for _, a := range availability {
			if a.VariantID == input.VariantID && !a.Available {
				return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock for requested quantity").
					WithDetails(map[string]any{"variantId": input.VariantID, "requestedQty": newQty})
			}
		}

		item := models.CartItem{
			CartID:         cart.ID,
			ProductID:      variant.ProductID,
			VariantID:      variant.VariantID,
			SKU:            variant.SKU,
			Title:          variant.Title,
			ImageURL:       variant.ImageURL,
			Qty:            newQty,
			UnitPricePaise: line.UnitPricePaise,
			MRPPaise:       line.MRPPaise,
			DiscountPaise:  line.DiscountPaise,
			ProductStatus:  enums.ProductStatusAvailable,
		}
		fillLineTotals(&item)
		if existing != nil {
			item.ID = existing.ID
		}
		return txRepo.UpsertItem(ctx, &item)
	})
}

// UpdateItemQty sets the line to the given quantity. Zero removes the line.
func (s *service) UpdateItemQty(ctx context.Context, owner Owner, variantID uuid.UUID, qty int) (*models.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if variantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	if qty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity cannot be negative")
	}
	if qty == 0 {
		return s.RemoveItem(ctx, owner, variantID)
	}

	return s.mutate(ctx, owner, false, func(ctx context.Context, cart *models.Cart, txRepo CartRepository) error {
		var existing *models.CartItem
		for i := range cart.Items {
			if cart.Items[i].VariantID == variantID {
				existing = &cart.Items[i]
				break
			}
		}
		if existing == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}

		quote, err := s.pricing.GetQuote(ctx, clients.QuoteRequest{
			Items:  []clients.AvailabilityQuery{{VariantID: variantID, Qty: qty}},
			UserID: owner.UserID,
		})
		if err != nil {
			return err
		}
		if len(quote.Lines) == 0 {
			return pkgerrors.New(pkgerrors.CodeDependency, "pricing returned no quote for variant")
		}
		line := quote.Lines[0]

		existing.Qty = qty
		existing.UnitPricePaise = line.UnitPricePaise
		existing.MRPPaise = line.MRPPaise
		existing.DiscountPaise = line.DiscountPaise
		fillLineTotals(existing)
		return txRepo.UpdateItem(ctx, existing)
	})
}

// RemoveItem drops the variant line from the cart.
func (s *service) RemoveItem(ctx context.Context, owner Owner, variantID uuid.UUID) (*models.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if variantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}

	return s.mutate(ctx, owner, false, func(ctx context.Context, cart *models.Cart, txRepo CartRepository) error {
		found := false
		for i := range cart.Items {
			if cart.Items[i].VariantID == variantID {
				found = true
				break
			}
		}
		if !found {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		return txRepo.DeleteItem(ctx, cart.ID, variantID)
	})
}

// ApplyCoupon validates the code with pricing against the whole cart and
// stores the resulting discount snapshot.
func (s *service) ApplyCoupon(ctx context.Context, owner Owner, code string) (*models.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	code = strings.TrimSpace(strings.ToUpper(code))
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}

	return s.mutate(ctx, owner, false, func(ctx context.Context, cart *models.Cart, txRepo CartRepository) error {
		if len(cart.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cannot apply coupon to an empty cart")
		}
		if cart.AppliedCoupons.Has(code) {
			return pkgerrors.New(pkgerrors.CodeConflict, "coupon already applied")
		}

		codes := make([]string, 0, len(cart.AppliedCoupons)+1)
		for _, coupon := range cart.AppliedCoupons {
			codes = append(codes, coupon.Code)
		}
		codes = append(codes, code)

		quote, err := s.pricing.GetQuote(ctx, clients.QuoteRequest{
			Items:       itemQueries(cart.Items),
			CouponCodes: codes,
			UserID:      owner.UserID,
		})
		if err != nil {
			return err
		}

		accepted := false
		for _, coupon := range quote.Coupons {
			if coupon.Code == code {
				accepted = true
				break
			}
		}
		if !accepted {
			return pkgerrors.New(pkgerrors.CodeValidation, "coupon is not applicable")
		}
		cart.AppliedCoupons = quote.Coupons
		return nil
	})
}

// RemoveCoupon drops the code and reprices the remaining coupons.
func (s *service) RemoveCoupon(ctx context.Context, owner Owner, code string) (*models.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	code = strings.TrimSpace(strings.ToUpper(code))
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}

	return s.mutate(ctx, owner, false, func(ctx context.Context, cart *models.Cart, txRepo CartRepository) error {
		if !cart.AppliedCoupons.Has(code) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "coupon is not applied")
		}
		remaining := cart.AppliedCoupons.Without(code)
		if len(remaining) == 0 {
			cart.AppliedCoupons = remaining
			return nil
		}

		codes := make([]string, 0, len(remaining))
		for _, coupon := range remaining {
			codes = append(codes, coupon.Code)
		}
		quote, err := s.pricing.GetQuote(ctx, clients.QuoteRequest{
			Items:       itemQueries(cart.Items),
			CouponCodes: codes,
			UserID:      owner.UserID,
		})
		if err != nil {
			return err
		}
		cart.AppliedCoupons = quote.Coupons
		return nil
	})
}

// Validate reconciles every line against catalog, pricing and inventory,
// stamping availability and price drift onto the lines and recomputing
// totals. Checkout refuses to start until a cart validates clean.
func (s *service) Validate(ctx context.Context, owner Owner) (*ValidationReport, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var report *ValidationReport
	cart, err := s.mutate(ctx, owner, false, func(ctx context.Context, cart *models.Cart, txRepo CartRepository) error {
		if len(cart.Items) == 0 {
			report = &ValidationReport{Changes: nil}
			return nil
		}

		variantIDs := make([]uuid.UUID, 0, len(cart.Items))
		for _, item := range cart.Items {
			variantIDs = append(variantIDs, item.VariantID)
		}

		variants, err := s.catalog.GetVariants(ctx, variantIDs)
		if err != nil {
			return err
		}
		variantByID := make(map[uuid.UUID]clients.Variant, len(variants))
		for _, v := range variants {
			variantByID[v.VariantID] = v
		}

		quote, err := s.pricing.GetQuote(ctx, clients.QuoteRequest{
			Items:       itemQueries(cart.Items),
			CouponCodes: couponCodes(cart.AppliedCoupons),
			UserID:      owner.UserID,
		})
		if err != nil {
			return err
		}
		lineByVariant := make(map[uuid.UUID]clients.QuoteLine, len(quote.Lines))
		for _, line := range quote.Lines {
			lineByVariant[line.VariantID] = line
		}

		availability := map[uuid.UUID]bool{}
		if avail, err := s.inventory.CheckAvailability(ctx, itemQueries(cart.Items)); err == nil {
			for _, a := range avail {
				availability[a.VariantID] = a.Available
			}
		}

		changes := make([]LineChange, 0, len(cart.Items))
		blocking := false
		for i := range cart.Items {
			item := &cart.Items[i]
			change := LineChange{VariantID: item.VariantID}

			variant, known := variantByID[item.VariantID]
			switch {
			case !known || !variant.Active:
				item.ProductStatus = enums.ProductStatusUnavailable
				blocking = true
			case !availabilityOrDefault(availability, item.VariantID):
				item.ProductStatus = enums.ProductStatusOutOfStock
				blocking = true
			default:
				item.ProductStatus = enums.ProductStatusAvailable
			}

			if line, ok := lineByVariant[item.VariantID]; ok {
				if line.UnitPricePaise != item.UnitPricePaise {
					change.PriceChanged = true
					change.PrevUnitPricePaise = item.UnitPricePaise
					prev := item.UnitPricePaise
					item.PriceChanged = true
					item.PrevUnitPricePaise = &prev
					item.UnitPricePaise = line.UnitPricePaise
				} else {
					item.PriceChanged = false
					item.PrevUnitPricePaise = nil
				}
				item.MRPPaise = line.MRPPaise
				item.DiscountPaise = line.DiscountPaise
			}
			fillLineTotals(item)

			change.UnitPricePaise = item.UnitPricePaise
			change.ProductStatus = item.ProductStatus
			changes = append(changes, change)

			if err := txRepo.UpdateItem(ctx, item); err != nil {
				return err
			}
		}

		cart.AppliedCoupons = quote.Coupons
		report = &ValidationReport{Changes: changes, Blocking: blocking}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if report == nil {
		report = &ValidationReport{}
	}
	report.Cart = cart
	return report, nil
}

// mutate runs one cart mutation under the optimistic retry loop: load, apply,
// recompute totals from the persisted lines, save behind the version guard.
func (s *service) mutate(ctx context.Context, owner Owner, createIfMissing bool, apply func(ctx context.Context, cart *models.Cart, txRepo CartRepository) error) (*models.Cart, error) {
	var result *models.Cart
	err := optimistic.Do(ctx, s.cfg.RecalcAttempts, s.cfg.RecalcBaseDelay, func(ctx context.Context) error {
		cart, err := s.repo.FindActiveByOwner(ctx, owner)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if !createIfMissing {
				return pkgerrors.New(pkgerrors.CodeNotFound, "active cart not found")
			}
			cart, err = s.repo.Create(ctx, &models.Cart{
				UserID:    owner.UserID,
				SessionID: owner.SessionID,
			})
			if err != nil {
				return err
			}
		}

		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			txRepo := s.repo.WithTx(tx)
			if err := apply(ctx, cart, txRepo); err != nil {
				return err
			}

			items, err := txRepo.ListItems(ctx, cart.ID)
			if err != nil {
				return err
			}
			totals := ComputeTotals(items, cart.AppliedCoupons, cart.ShippingPaise, 0)
			ApplyTotals(cart, totals)

			ok, err := txRepo.SaveGuarded(ctx, cart)
			if err != nil {
				return err
			}
			if !ok {
				s.metrics.IncRecalcConflict()
				return optimistic.ErrConflict
			}

			cart.Items = items
			result = cart
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, optimistic.ErrConflict) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "cart was modified concurrently")
		}
		return nil, err
	}
	return result, nil
}

func fillLineTotals(item *models.CartItem) {
	item.LineSubtotalPaise = item.UnitPricePaise * int64(item.Qty)
	lineTotal := item.LineSubtotalPaise - item.DiscountPaise
	if lineTotal < 0 {
		lineTotal = 0
	}
	item.LineTotalPaise = lineTotal
}

func itemQueries(items []models.CartItem) []clients.AvailabilityQuery {
	queries := make([]clients.AvailabilityQuery, 0, len(items))
	for _, item := range items {
		queries = append(queries, clients.AvailabilityQuery{VariantID: item.VariantID, Qty: item.Qty})
	}
	return queries
}

func couponCodes(coupons types.AppliedCoupons) []string {
	if len(coupons) == 0 {
		return nil
	}
	codes := make([]string, 0, len(coupons))
	for _, coupon := range coupons {
		codes = append(codes, coupon.Code)
	}
	return codes
}

func availabilityOrDefault(availability map[uuid.UUID]bool, variantID uuid.UUID) bool {
	if available, ok := availability[variantID]; ok {
		return available
	}
	return true
}
