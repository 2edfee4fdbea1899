package webhooks

import (
	"io"
	"net/http"
	"strings"

	"github.com/anshulkhatri/cartful-backend/api/responses"
	internalpayments "github.com/anshulkhatri/cartful-backend/internal/payments"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/gateway"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
	"github.com/anshulkhatri/cartful-backend/pkg/metrics"
)

const signatureHeader = "X-Gateway-Signature"

type signatureVerifier interface {
	VerifyWebhookSignature(body []byte, signature string) error
}

// Gateway ingests payment gateway webhooks. Deliveries are acked with 200
// unless the signature fails; processing errors are logged and acked so the
// gateway does not retry forever against a bug on our side.
func Gateway(svc internalpayments.Service, verifier signatureVerifier, m *metrics.PipelineMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || verifier == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook handler unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(signatureHeader))
		if err := verifier.VerifyWebhookSignature(body, signature); err != nil {
			m.IncWebhookEvent("unknown", "bad_signature")
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "webhook signature"))
			return
		}

		event, err := gateway.ParseEvent(body)
		if err != nil {
			m.IncWebhookEvent("unknown", "malformed")
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse webhook"))
			return
		}

		if !event.Known {
			m.IncWebhookEvent(string(event.Kind), "ignored")
			responses.WriteSuccess(w, map[string]string{"status": "ignored"})
			return
		}

		if err := svc.HandleWebhookEvent(r.Context(), event); err != nil {
			m.IncWebhookEvent(string(event.Kind), "failed")
			if logg != nil {
				ctx := logg.WithFields(r.Context(), map[string]any{"event": event.Kind})
				logg.Error(ctx, "webhook.process", err)
			}
			// Ack anyway: the handlers are idempotent and a redelivery
			// storm will not fix a processing bug.
			responses.WriteSuccess(w, map[string]string{"status": "accepted"})
			return
		}

		m.IncWebhookEvent(string(event.Kind), "processed")
		responses.WriteSuccess(w, map[string]string{"status": "processed"})
	}
}
