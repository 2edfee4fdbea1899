package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
)

// VerifyPaymentSignature checks the client-supplied callback signature, which
// covers "<gateway order id>|<gateway payment id>" with the key secret.
// Bypass mode skips verification and is intended for local development only.
func (c *Client) VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) error {
	if c.bypassSignature {
		return nil
	}
	payload := gatewayOrderID + "|" + gatewayPaymentID
	if !verifyHMAC(c.keySecret, []byte(payload), signature) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid payment signature")
	}
	return nil
}

// VerifyWebhookSignature checks the webhook signature, which covers the raw
// request body with the webhook secret. Never bypassed.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) error {
	if !verifyHMAC(c.webhookSecret, body, signature) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}
	return nil
}

// SignPayload computes the hex HMAC-SHA256 of payload under secret. Exposed
// for tests and local tooling that need to fabricate valid signatures.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(secret string, payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := SignPayload(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
