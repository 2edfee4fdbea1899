package gateway

import (
	"encoding/json"

	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
)

// EventKind names a webhook event type on the wire.
type EventKind string

const (
	EventPaymentCaptured EventKind = "payment.captured"
	EventPaymentFailed   EventKind = "payment.failed"
	EventOrderPaid       EventKind = "order.paid"
	EventRefundCreated   EventKind = "refund.created"
)

// PaymentEntity is the payment payload carried by payment.* and order.paid
// events.
type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	AmountPaise      int64  `json:"amount"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// RefundEntity is the refund payload carried by refund.* events.
type RefundEntity struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	AmountPaise int64  `json:"amount"`
	Status      string `json:"status"`
}

// Event is a decoded webhook delivery. Unknown kinds decode with Known=false
// so handlers can ack them without processing.
type Event struct {
	Kind    EventKind
	Known   bool
	Payment *PaymentEntity
	Refund  *RefundEntity
	Raw     json.RawMessage
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity *PaymentEntity `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity *RefundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// ParseEvent decodes a webhook body into a typed event.
func ParseEvent(body []byte) (*Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decoding webhook body")
	}
	if env.Event == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event type is missing")
	}

	event := &Event{
		Kind:    EventKind(env.Event),
		Payment: env.Payload.Payment.Entity,
		Refund:  env.Payload.Refund.Entity,
		Raw:     json.RawMessage(body),
	}

	switch event.Kind {
	case EventPaymentCaptured, EventPaymentFailed, EventOrderPaid:
		if event.Payment == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook payment payload is missing")
		}
		event.Known = true
	case EventRefundCreated:
		if event.Refund == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook refund payload is missing")
		}
		event.Known = true
	}

	return event, nil
}
