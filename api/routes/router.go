package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/anshulkhatri/cartful-backend/api/controllers"
	cartcontrollers "github.com/anshulkhatri/cartful-backend/api/controllers/cart"
	checkoutcontrollers "github.com/anshulkhatri/cartful-backend/api/controllers/checkout"
	ordercontrollers "github.com/anshulkhatri/cartful-backend/api/controllers/orders"
	paymentcontrollers "github.com/anshulkhatri/cartful-backend/api/controllers/payments"
	refundcontrollers "github.com/anshulkhatri/cartful-backend/api/controllers/refunds"
	returncontrollers "github.com/anshulkhatri/cartful-backend/api/controllers/returns"
	webhookcontrollers "github.com/anshulkhatri/cartful-backend/api/controllers/webhooks"
	"github.com/anshulkhatri/cartful-backend/api/middleware"
	"github.com/anshulkhatri/cartful-backend/internal/cart"
	checkoutsvc "github.com/anshulkhatri/cartful-backend/internal/checkout"
	"github.com/anshulkhatri/cartful-backend/internal/orders"
	"github.com/anshulkhatri/cartful-backend/internal/payments"
	"github.com/anshulkhatri/cartful-backend/internal/refunds"
	"github.com/anshulkhatri/cartful-backend/internal/returns"
	"github.com/anshulkhatri/cartful-backend/pkg/config"
	"github.com/anshulkhatri/cartful-backend/pkg/gateway"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
	"github.com/anshulkhatri/cartful-backend/pkg/metrics"
	pkgredis "github.com/anshulkhatri/cartful-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs wired in.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	Redis    *pkgredis.Client
	Gateway  *gateway.Client
	Metrics  *metrics.PipelineMetrics
	Ready    map[string]controllers.Pinger

	Cart     cart.Service
	Checkout checkoutsvc.Service
	Orders   orders.Service
	Payments payments.Service
	Refunds  refunds.Service
	Returns  returns.Service

	MetricsHandler http.Handler
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, d.Ready))
	})

	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	// Gateway deliveries authenticate by signature, not by shopper identity.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/gateway", webhookcontrollers.Gateway(d.Payments, d.Gateway, d.Metrics, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(logg))
		r.Use(middleware.RateLimit(d.Redis, logg))
		r.Use(middleware.Idempotency(d.Redis, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartcontrollers.Get(d.Cart, logg))
			r.Post("/items", cartcontrollers.AddItem(d.Cart, logg))
			r.Patch("/items/{variantId}", cartcontrollers.UpdateItemQty(d.Cart, logg))
			r.Delete("/items/{variantId}", cartcontrollers.RemoveItem(d.Cart, logg))
			r.Post("/coupons", cartcontrollers.ApplyCoupon(d.Cart, logg))
			r.Delete("/coupons/{code}", cartcontrollers.RemoveCoupon(d.Cart, logg))
			r.Post("/validate", cartcontrollers.Validate(d.Cart, logg))
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/", checkoutcontrollers.Start(d.Checkout, logg))
			r.Get("/{sessionId}", checkoutcontrollers.Get(d.Checkout, logg))
			r.Put("/{sessionId}/address", checkoutcontrollers.SetAddress(d.Checkout, logg))
			r.Put("/{sessionId}/shipping", checkoutcontrollers.SetShipping(d.Checkout, logg))
			r.Put("/{sessionId}/payment-method", checkoutcontrollers.SetPaymentMethod(d.Checkout, logg))
			r.Post("/{sessionId}/complete", checkoutcontrollers.Complete(d.Checkout, logg))
			r.Post("/{sessionId}/cancel", checkoutcontrollers.Cancel(d.Checkout, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(d.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(d.Orders, logg))
			r.Get("/{orderId}/history", ordercontrollers.History(d.Orders, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(d.Orders, logg))

			r.Get("/{orderId}/payments", paymentcontrollers.ListForOrder(d.Payments, d.Orders, logg))
			r.Post("/{orderId}/payments/retry", paymentcontrollers.Retry(d.Payments, d.Orders, logg))

			r.Get("/{orderId}/refunds", refundcontrollers.ListForOrder(d.Refunds, d.Orders, logg))

			r.Get("/{orderId}/returns", returncontrollers.ListForOrder(d.Returns, d.Orders, logg))
			r.Post("/{orderId}/returns", returncontrollers.Request(d.Returns, d.Orders, logg))
		})

		r.Post("/payments/verify", paymentcontrollers.Verify(d.Payments, logg))

		r.Post("/returns/{returnId}/cancel", returncontrollers.Cancel(d.Returns, d.Orders, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Admin(logg))
		r.Use(middleware.Idempotency(d.Redis, logg))

		r.Post("/payments/reconcile", paymentcontrollers.AdminReconcile(d.Payments, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/bulk-status", ordercontrollers.AdminBulkUpdateStatus(d.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.AdminDetail(d.Orders, logg))
			r.Post("/{orderId}/status", ordercontrollers.AdminUpdateStatus(d.Orders, logg))
			r.Post("/{orderId}/fulfill", ordercontrollers.AdminFulfill(d.Orders, logg))

			r.Get("/{orderId}/refunds", refundcontrollers.AdminListForOrder(d.Refunds, logg))
			r.Post("/{orderId}/refunds", refundcontrollers.AdminRequest(d.Refunds, logg))
		})

		r.Route("/refunds/{refundId}", func(r chi.Router) {
			r.Post("/approve", refundcontrollers.AdminApprove(d.Refunds, logg))
			r.Post("/reject", refundcontrollers.AdminReject(d.Refunds, logg))
			r.Post("/cancel", refundcontrollers.AdminCancel(d.Refunds, logg))
			r.Post("/process", refundcontrollers.AdminProcess(d.Refunds, logg))
		})

		r.Route("/returns/{returnId}", func(r chi.Router) {
			r.Post("/approve", returncontrollers.AdminApprove(d.Returns, logg))
			r.Post("/reject", returncontrollers.AdminReject(d.Returns, logg))
			r.Post("/schedule-pickup", returncontrollers.AdminSchedulePickup(d.Returns, logg))
			r.Post("/picked-up", returncontrollers.AdminMarkPickedUp(d.Returns, logg))
			r.Post("/inspection", returncontrollers.AdminCompleteInspection(d.Returns, logg))
		})
	})

	return r
}
