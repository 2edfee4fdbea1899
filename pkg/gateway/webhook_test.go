package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEventPaymentCaptured(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"event": "payment.captured",
		"payload": {
			"payment": {
				"entity": {
					"id": "pay_123",
					"order_id": "order_456",
					"amount": 29500,
					"status": "captured",
					"method": "upi"
				}
			}
		}
	}`)

	event, err := ParseEvent(body)
	require.NoError(t, err)
	require.True(t, event.Known)
	require.Equal(t, EventPaymentCaptured, event.Kind)
	require.Equal(t, "pay_123", event.Payment.ID)
	require.Equal(t, "order_456", event.Payment.OrderID)
	require.Equal(t, int64(29500), event.Payment.AmountPaise)
}

func TestParseEventPaymentFailedCarriesError(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"event": "payment.failed",
		"payload": {
			"payment": {
				"entity": {
					"id": "pay_123",
					"order_id": "order_456",
					"amount": 29500,
					"status": "failed",
					"error_code": "BAD_REQUEST_ERROR",
					"error_description": "Payment declined by issuer"
				}
			}
		}
	}`)

	event, err := ParseEvent(body)
	require.NoError(t, err)
	require.Equal(t, EventPaymentFailed, event.Kind)
	require.Equal(t, "BAD_REQUEST_ERROR", event.Payment.ErrorCode)
}

func TestParseEventRefundCreated(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"event": "refund.created",
		"payload": {
			"refund": {
				"entity": {
					"id": "rfnd_1",
					"payment_id": "pay_123",
					"amount": 5000,
					"status": "processed"
				}
			}
		}
	}`)

	event, err := ParseEvent(body)
	require.NoError(t, err)
	require.True(t, event.Known)
	require.Equal(t, "rfnd_1", event.Refund.ID)
	require.Equal(t, int64(5000), event.Refund.AmountPaise)
}

func TestParseEventUnknownKindIsAckable(t *testing.T) {
	t.Parallel()

	event, err := ParseEvent([]byte(`{"event":"settlement.processed","payload":{}}`))
	require.NoError(t, err)
	require.False(t, event.Known)
	require.Equal(t, EventKind("settlement.processed"), event.Kind)
}

func TestParseEventRejectsMalformedBodies(t *testing.T) {
	t.Parallel()

	_, err := ParseEvent([]byte(`not json`))
	require.Error(t, err)

	_, err = ParseEvent([]byte(`{"payload":{}}`))
	require.Error(t, err)

	_, err = ParseEvent([]byte(`{"event":"payment.captured","payload":{}}`))
	require.Error(t, err)
}
