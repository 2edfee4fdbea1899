package orders

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/anshulkhatri/cartful-backend/api/middleware"
	"github.com/anshulkhatri/cartful-backend/api/responses"
	"github.com/anshulkhatri/cartful-backend/api/validators"
	internalcart "github.com/anshulkhatri/cartful-backend/internal/cart"
	internalorders "github.com/anshulkhatri/cartful-backend/internal/orders"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
	"github.com/anshulkhatri/cartful-backend/pkg/pagination"
)

// List returns the shopper's orders newest first.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		owner, err := ownerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filter := internalorders.ListFilter{
			UserID:    owner.UserID,
			SessionID: owner.SessionID,
			Page: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, parseErr := enums.ParseOrderStatus(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid status"))
				return
			}
			filter.Status = &status
		}

		page, err := svc.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Detail returns a single order after confirming the shopper owns it.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		order, err := ownedOrder(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// History returns the order's status ledger.
func History(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		order, err := ownedOrder(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.History(r.Context(), order.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// Cancel lets the shopper cancel an order that has not shipped.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		order, err := ownedOrder(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := internalorders.Actor{Type: enums.ActorTypeCustomer}
		if id := middleware.UserIDFromContext(r.Context()); id != "" {
			actor.ID = &id
		}

		updated, err := svc.Cancel(r.Context(), order.ID, actor, payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, updated)
	}
}

// AdminUpdateStatus moves an order along the status machine on behalf of an
// operator.
func AdminUpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		updated, err := svc.UpdateStatus(r.Context(), orderID, internalorders.TransitionInput{
			Target:         target,
			Actor:          adminActor(r),
			Note:           payload.Note,
			TrackingNumber: payload.TrackingNumber,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, updated)
	}
}

// AdminBulkUpdateStatus applies one status transition across many orders.
// Partial success is the contract: each id gets its own outcome.
func AdminBulkUpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var payload bulkStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		ids := make([]uuid.UUID, 0, len(payload.OrderIDs))
		for _, raw := range payload.OrderIDs {
			id, parseErr := uuid.Parse(strings.TrimSpace(raw))
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid order id"))
				return
			}
			ids = append(ids, id)
		}

		results := svc.BulkUpdateStatus(r.Context(), ids, internalorders.TransitionInput{
			Target: target,
			Actor:  adminActor(r),
			Note:   payload.Note,
		})
		out := make([]bulkStatusOutcome, 0, len(results))
		for _, result := range results {
			outcome := bulkStatusOutcome{OrderID: result.OrderID.String()}
			if result.Err != nil {
				msg := result.Err.Error()
				outcome.Error = &msg
			} else {
				outcome.Success = true
			}
			out = append(out, outcome)
		}
		responses.WriteSuccess(w, out)
	}
}

// AdminFulfill records shipped quantities per line.
func AdminFulfill(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload fulfillRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]internalorders.FulfillmentLine, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			itemID, parseErr := uuid.Parse(strings.TrimSpace(line.OrderItemID))
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid order item id"))
				return
			}
			lines = append(lines, internalorders.FulfillmentLine{OrderItemID: itemID, Qty: line.Qty})
		}

		updated, err := svc.Fulfill(r.Context(), orderID, lines, adminActor(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, updated)
	}
}

// AdminDetail returns any order without an ownership check.
func AdminDetail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type updateStatusRequest struct {
	Status         string  `json:"status" validate:"required"`
	Note           *string `json:"note,omitempty"`
	TrackingNumber *string `json:"tracking_number,omitempty"`
}

type bulkStatusRequest struct {
	OrderIDs []string `json:"order_ids" validate:"required,min=1,dive,uuid4"`
	Status   string   `json:"status" validate:"required"`
	Note     *string  `json:"note,omitempty"`
}

type bulkStatusOutcome struct {
	OrderID string  `json:"order_id"`
	Success bool    `json:"success"`
	Error   *string `json:"error,omitempty"`
}

type fulfillRequest struct {
	Lines []fulfillLine `json:"lines" validate:"required,min=1,dive"`
}

type fulfillLine struct {
	OrderItemID string `json:"order_item_id" validate:"required,uuid4"`
	Qty         int    `json:"qty" validate:"required,gt=0"`
}

func ownerFromRequest(r *http.Request) (internalcart.Owner, error) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		return internalcart.Owner{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "identity required")
	}
	return owner, nil
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return parsed, nil
}

// ownedOrder loads the order and verifies the shopper owns it. A foreign
// order reads as not found so order ids cannot be probed.
func ownedOrder(r *http.Request, svc internalorders.Service) (*models.Order, error) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		return nil, err
	}
	orderID, err := parseOrderID(r)
	if err != nil {
		return nil, err
	}

	order, err := svc.Get(r.Context(), orderID)
	if err != nil {
		return nil, err
	}
	if !ownsOrder(owner, order) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func ownsOrder(owner internalcart.Owner, order *models.Order) bool {
	if order == nil {
		return false
	}
	if owner.UserID != nil {
		return order.UserID != nil && *order.UserID == *owner.UserID
	}
	if owner.SessionID != nil {
		return order.SessionID != nil && *order.SessionID == *owner.SessionID
	}
	return false
}

func adminActor(r *http.Request) internalorders.Actor {
	actor := internalorders.Actor{Type: enums.ActorTypeAdmin}
	if id := middleware.AdminIDFromContext(r.Context()); id != "" {
		actor.ID = &id
	}
	return actor
}
