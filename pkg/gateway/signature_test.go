package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anshulkhatri/cartful-backend/pkg/config"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
)

func newTestClient(t *testing.T, bypass bool) *Client {
	t.Helper()
	logg := logger.NewNop()
	client, err := NewClient(context.Background(), config.GatewayConfig{
		BaseURL:         "https://gateway.test",
		KeyID:           "key_test",
		KeySecret:       "secret",
		WebhookSecret:   "whsecret",
		BypassSignature: bypass,
	}, logg)
	require.NoError(t, err)
	return client
}

func TestVerifyPaymentSignature(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, false)
	sig := SignPayload("secret", []byte("order_123|pay_456"))

	require.NoError(t, client.VerifyPaymentSignature("order_123", "pay_456", sig))

	err := client.VerifyPaymentSignature("order_123", "pay_456", "deadbeef")
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))

	err = client.VerifyPaymentSignature("order_123", "pay_999", sig)
	require.Error(t, err)
}

func TestVerifyPaymentSignatureBypass(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, true)
	require.NoError(t, client.VerifyPaymentSignature("order_123", "pay_456", "garbage"))
}

func TestVerifyWebhookSignature(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, false)
	body := []byte(`{"event":"payment.captured"}`)

	require.NoError(t, client.VerifyWebhookSignature(body, SignPayload("whsecret", body)))
	require.Error(t, client.VerifyWebhookSignature(body, SignPayload("wrong", body)))
	require.Error(t, client.VerifyWebhookSignature(body, ""))
}

func TestVerifyWebhookSignatureNeverBypassed(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, true)
	require.Error(t, client.VerifyWebhookSignature([]byte("{}"), "garbage"))
}
