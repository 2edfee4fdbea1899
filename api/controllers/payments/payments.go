package payments

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
	internalpayments "github.com/anshulkhatri/cartful-backend/internal/payments"
	"github.com/anshulkhatri/cartful-backend/pkg/db/models"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
)

// ListForOrder returns the payment attempts for one of the shopper's orders.
func ListForOrder(svc internalpayments.Service, orderSvc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orderSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		order, err := ownedOrder(r, orderSvc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payments, err := svc.GetForOrder(r.Context(), order.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payments)
	}
}

// Retry opens a fresh gateway attempt for an order whose payment failed. The
// Idempotency-Key header doubles as the payment's idempotency key so the
// gateway sees one order per retry token.
func Retry(svc internalpayments.Service, orderSvc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orderSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		order, err := ownedOrder(r, orderSvc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if idempotencyKey == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
			return
		}

		payment, err := svc.InitiateRetry(r.Context(), order.ID, idempotencyKey)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payment)
	}
}

// Verify confirms the signature the gateway handed to the client after
// checkout and captures the payment.
func Verify(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		var payload verifyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := uuid.Parse(strings.TrimSpace(payload.OrderID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		payment, err := svc.VerifyClientCallback(r.Context(), internalpayments.VerifyInput{
			OrderID:          orderID,
			GatewayOrderID:   payload.GatewayOrderID,
			GatewayPaymentID: payload.GatewayPaymentID,
			Signature:        payload.Signature,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// AdminReconcile pulls the authoritative payment state from the gateway for
// deliveries that were lost or never arrived.
func AdminReconcile(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		var payload reconcileRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Reconcile(r.Context(), internalpayments.ReconcileInput{
			GatewayOrderID:   payload.GatewayOrderID,
			GatewayPaymentID: payload.GatewayPaymentID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

type reconcileRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" validate:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" validate:"required"`
}

type verifyRequest struct {
	OrderID          string `json:"order_id" validate:"required,uuid4"`
	GatewayOrderID   string `json:"gateway_order_id" validate:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" validate:"required"`
	Signature        string `json:"signature" validate:"required"`
}

func ownedOrder(r *http.Request, svc internalorders.Service) (*models.Order, error) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "identity required")
	}

	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
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
