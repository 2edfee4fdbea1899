// Package gateway wraps the payment gateway REST API with centralized auth,
// signature verification and error mapping.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anshulkhatri/cartful-backend/pkg/config"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
)

var (
	errBaseURLRequired       = errors.New("gateway base URL is required")
	errKeyRequired           = errors.New("gateway key id and secret are required")
	errWebhookSecretRequired = errors.New("gateway webhook secret is required")
	errLoggerRequired        = errors.New("gateway logger is required")
)

// Client exposes gateway primitives over its REST API.
type Client struct {
	baseURL         string
	keyID           string
	keySecret       string
	webhookSecret   string
	bypassSignature bool
	httpClient      *http.Client
	logger          *logger.Logger
}

// NewClient initializes the gateway wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || keySecret == "" {
		return nil, errKeyRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:         baseURL,
		keyID:           keyID,
		keySecret:       keySecret,
		webhookSecret:   webhookSecret,
		bypassSignature: cfg.BypassSignature,
		httpClient:      &http.Client{Timeout: timeout},
		logger:          logg,
	}

	if cfg.BypassSignature {
		logg.Warn(ctx, "gateway signature verification bypass is enabled")
	}
	logg.Info(ctx, "gateway client initialized")
	return c, nil
}

// Intent is a gateway-side order awaiting payment.
type Intent struct {
	GatewayOrderID string `json:"id"`
	AmountPaise    int64  `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
}

// CreateIntentRequest describes the payment intent to open.
type CreateIntentRequest struct {
	AmountPaise int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// CreateIntent opens a payment intent for the given amount. The receipt ties
// the intent back to the local payment record.
func (c *Client) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	if req.AmountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent amount must be positive")
	}
	if req.Currency == "" {
		req.Currency = "INR"
	}

	body := map[string]any{
		"amount":   req.AmountPaise,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var intent Intent
	if err := c.post(ctx, "/v1/orders", body, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// RefundResult is the gateway's view of a refund.
type RefundResult struct {
	GatewayRefundID string `json:"id"`
	AmountPaise     int64  `json:"amount"`
	Status          string `json:"status"`
}

// CreateRefund asks the gateway to refund part or all of a captured payment.
func (c *Client) CreateRefund(ctx context.Context, gatewayPaymentID string, amountPaise int64, notes map[string]string) (*RefundResult, error) {
	if gatewayPaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway payment id is required")
	}
	if amountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	body := map[string]any{"amount": amountPaise}
	if len(notes) > 0 {
		body["notes"] = notes
	}

	var result RefundResult
	path := fmt.Sprintf("/v1/payments/%s/refund", gatewayPaymentID)
	if err := c.post(ctx, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PaymentState is the gateway's authoritative view of one payment, fetched
// directly instead of waiting on webhook delivery.
type PaymentState struct {
	GatewayPaymentID string `json:"id"`
	GatewayOrderID   string `json:"order_id"`
	AmountPaise      int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// Captured reports whether the gateway considers the payment settled.
func (p *PaymentState) Captured() bool {
	return p.Status == "captured" || p.Status == "refunded"
}

// Failed reports whether the gateway considers the payment dead.
func (p *PaymentState) Failed() bool {
	return p.Status == "failed"
}

// FetchPayment reads a payment's current state from the gateway. This is the
// recovery path for lost or late webhooks.
func (c *Client) FetchPayment(ctx context.Context, gatewayPaymentID string) (*PaymentState, error) {
	if gatewayPaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway payment id is required")
	}
	var state PaymentState
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+gatewayPaymentID, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

type gatewayErrorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding gateway request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building gateway request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "calling payment gateway")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading gateway response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var gwErr gatewayErrorBody
		_ = json.Unmarshal(raw, &gwErr)
		msg := gwErr.Error.Description
		if msg == "" {
			msg = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
		}
		return pkgerrors.New(pkgerrors.CodeDependency, msg).WithDetails(map[string]any{
			"gateway_code": gwErr.Error.Code,
			"status":       resp.StatusCode,
		})
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding gateway response")
		}
	}
	return nil
}
