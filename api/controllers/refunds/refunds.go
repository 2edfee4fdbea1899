package refunds

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
	internalrefunds "github.com/anshulkhatri/cartful-backend/internal/refunds"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	"github.com/anshulkhatri/cartful-backend/pkg/enums"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
)

// ListForOrder returns the refunds raised against one of the shopper's orders.
func ListForOrder(svc internalrefunds.Service, orderSvc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orderSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		order, err := ownedOrder(r, orderSvc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refunds, err := svc.ListForOrder(r.Context(), order.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refunds)
	}
}

// AdminListForOrder returns every refund on an order without ownership checks.
func AdminListForOrder(svc internalrefunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		orderID, err := parseUUIDParam(r, "orderId", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refunds, err := svc.ListForOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refunds)
	}
}

// AdminRequest opens a refund against an order. Omitting lines refunds
// everything still refundable, shipping included.
func AdminRequest(svc internalrefunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		orderID, err := parseUUIDParam(r, "orderId", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload requestRefundBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]internalrefunds.RequestLine, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			itemID, parseErr := uuid.Parse(strings.TrimSpace(line.OrderItemID))
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid order item id"))
				return
			}
			lines = append(lines, internalrefunds.RequestLine{OrderItemID: itemID, Qty: line.Qty})
		}

		refund, err := svc.Request(r.Context(), internalrefunds.RequestInput{
			OrderID: orderID,
			Lines:   lines,
			Reason:  payload.Reason,
			Actor:   enums.ActorTypeAdmin,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, refund)
	}
}

// AdminApprove approves a pending refund and immediately hands it to the
// gateway.
func AdminApprove(svc internalrefunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		refundID, err := parseUUIDParam(r, "refundId", "refund id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refund, err := svc.Approve(r.Context(), refundID, enums.ActorTypeAdmin)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refund)
	}
}

func AdminReject(svc internalrefunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		refundID, err := parseUUIDParam(r, "refundId", "refund id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload rejectBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refund, err := svc.Reject(r.Context(), refundID, enums.ActorTypeAdmin, payload.Note)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refund)
	}
}

func AdminCancel(svc internalrefunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		refundID, err := parseUUIDParam(r, "refundId", "refund id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refund, err := svc.Cancel(r.Context(), refundID, enums.ActorTypeAdmin)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refund)
	}
}

// AdminProcess re-drives a refund the gateway failed. Parked refunds are the
// only ones this can move.
func AdminProcess(svc internalrefunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		refundID, err := parseUUIDParam(r, "refundId", "refund id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refund, err := svc.Process(r.Context(), refundID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refund)
	}
}

type requestRefundBody struct {
	Lines  []refundLine `json:"lines,omitempty" validate:"omitempty,dive"`
	Reason *string      `json:"reason,omitempty"`
}

type refundLine struct {
	OrderItemID string `json:"order_item_id" validate:"required,uuid4"`
	Qty         int    `json:"qty" validate:"required,gt=0"`
}

type rejectBody struct {
	Note string `json:"note" validate:"required"`
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
