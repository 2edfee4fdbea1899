package returns

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/anshulkhatri/cartful-backend/api/middleware"
	"github.com/anshulkhatri/cartful-backend/api/responses"
	"github.com/anshulkhatri/cartful-backend/api/validators"
	internalcart "github.com/anshulkhatri/cartful-backend/internal/cart"
	internalorders "github.com/anshulkhatri/cartful-backend/internal/orders"
	internalreturns "github.com/anshulkhatri/cartful-backend/internal/returns"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
)

// Request opens a return against a delivered order.
func Request(svc internalreturns.Service, orderSvc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orderSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "returns service unavailable"))
			return
		}

		order, err := ownedOrder(r, orderSvc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload requestReturnBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]internalreturns.RequestLine, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			itemID, parseErr := uuid.Parse(strings.TrimSpace(line.OrderItemID))
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid order item id"))
				return
			}
			lines = append(lines, internalreturns.RequestLine{
				OrderItemID: itemID,
				Qty:         line.Qty,
				Reason:      line.Reason,
			})
		}

		ret, err := svc.Request(r.Context(), internalreturns.RequestInput{
			OrderID: order.ID,
			Lines:   lines,
			Reason:  payload.Reason,
			Note:    payload.Note,
			Actor:   enums.ActorTypeCustomer,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, ret)
	}
}

// ListForOrder returns the shopper's returns for one order.
func ListForOrder(svc internalreturns.Service, orderSvc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orderSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "returns service unavailable"))
			return
		}

		order, err := ownedOrder(r, orderSvc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		returns, err := svc.ListForOrder(r.Context(), order.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, returns)
	}
}

// Cancel lets the shopper withdraw a return before pickup.
func Cancel(svc internalreturns.Service, orderSvc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orderSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "returns service unavailable"))
			return
		}

		returnID, err := parseUUIDParam(r, "returnId", "return id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		owner, ok := middleware.OwnerFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "identity required"))
			return
		}

		ret, err := svc.Get(r.Context(), returnID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := orderSvc.Get(r.Context(), ret.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !ownsOrder(owner, order) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "return not found"))
			return
		}

		updated, err := svc.Cancel(r.Context(), returnID, enums.ActorTypeCustomer)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, updated)
	}
}

func AdminApprove(svc internalreturns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "returns service unavailable"))
			return
		}

		returnID, err := parseUUIDParam(r, "returnId", "return id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ret, err := svc.Approve(r.Context(), returnID, enums.ActorTypeAdmin)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ret)
	}
}

func AdminReject(svc internalreturns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "returns service unavailable"))
			return
		}

		returnID, err := parseUUIDParam(r, "returnId", "return id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload noteBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ret, err := svc.Reject(r.Context(), returnID, enums.ActorTypeAdmin, payload.Note)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ret)
	}
}

// AdminSchedulePickup books the courier slot for an approved return.
func AdminSchedulePickup(svc internalreturns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "returns service unavailable"))
			return
		}

		returnID, err := parseUUIDParam(r, "returnId", "return id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload schedulePickupBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pickupAt, err := time.Parse(time.RFC3339, payload.PickupAt)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid pickup_at"))
			return
		}

		ret, err := svc.SchedulePickup(r.Context(), returnID, pickupAt)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ret)
	}
}

func AdminMarkPickedUp(svc internalreturns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "returns service unavailable"))
			return
		}

		returnID, err := parseUUIDParam(r, "returnId", "return id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ret, err := svc.MarkPickedUp(r.Context(), returnID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ret)
	}
}

// AdminCompleteInspection records the warehouse verdict. Acceptance settles
// the refund and restock downstream.
func AdminCompleteInspection(svc internalreturns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "returns service unavailable"))
			return
		}

		returnID, err := parseUUIDParam(r, "returnId", "return id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload inspectionBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.Accepted == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "accepted is required"))
			return
		}

		ret, err := svc.CompleteInspection(r.Context(), returnID, internalreturns.InspectionInput{
			Accepted: *payload.Accepted,
			Note:     payload.Note,
			Actor:    enums.ActorTypeAdmin,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ret)
	}
}

type requestReturnBody struct {
	Lines  []returnLine `json:"lines" validate:"required,min=1,dive"`
	Reason string       `json:"reason" validate:"required"`
	Note   *string      `json:"note,omitempty"`
}

type returnLine struct {
	OrderItemID string  `json:"order_item_id" validate:"required,uuid4"`
	Qty         int     `json:"qty" validate:"required,gt=0"`
	Reason      *string `json:"reason,omitempty"`
}

type noteBody struct {
	Note string `json:"note" validate:"required"`
}

type schedulePickupBody struct {
	PickupAt string `json:"pickup_at" validate:"required"`
}

type inspectionBody struct {
	Accepted *bool   `json:"accepted" validate:"required"`
	Note     *string `json:"note,omitempty"`
}

func parseUUIDParam(r *http.Request, name, label string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, label+" is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+label)
	}
	return parsed, nil
}

func ownedOrder(r *http.Request, svc internalorders.Service) (*models.Order, error) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "identity required")
	}

	orderID, err := parseUUIDParam(r, "orderId", "order id")
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
