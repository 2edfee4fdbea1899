// Package clients holds the REST clients for the collaborator services the
// pipeline depends on: inventory, pricing, catalog and engagement.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anshulkhatri/cartful-backend/pkg/auth"
	"github.com/anshulkhatri/cartful-backend/pkg/config"
	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
	"github.com/anshulkhatri/cartful-backend/pkg/logger"
)

type baseClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	authCfg    config.ServiceAuthConfig
	breaker    *breaker
	logger     *logger.Logger
}

func newBaseClient(name, baseURL string, cfg config.CollaboratorConfig, authCfg config.ServiceAuthConfig, logg *logger.Logger) (*baseClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%s base URL is required", name)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &baseClient{
		name:       name,
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: timeout},
		authCfg:    authCfg,
		breaker:    newBreaker(cfg.BreakerFailureThreshold, cfg.BreakerCooldown),
		logger:     logg,
	}, nil
}

type collaboratorErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// doJSON executes one authenticated JSON round trip through the breaker.
func (c *baseClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	if !c.breaker.allow() {
		return ErrBreakerOpen.WithDetails(map[string]any{"collaborator": c.name})
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding collaborator request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building collaborator request")
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := auth.MintServiceToken(c.authCfg, time.Now(), auth.ServiceTokenPayload{Audience: c.name})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "minting service token")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.failure()
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("calling %s service", c.name))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.breaker.failure()
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("reading %s response", c.name))
	}

	if resp.StatusCode >= 500 {
		c.breaker.failure()
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("%s service returned status %d", c.name, resp.StatusCode))
	}
	c.breaker.success()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody collaboratorErrorBody
		_ = json.Unmarshal(raw, &errBody)
		msg := errBody.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("%s service returned status %d", c.name, resp.StatusCode)
		}
		code := pkgerrors.CodeDependency
		switch resp.StatusCode {
		case http.StatusNotFound:
			code = pkgerrors.CodeNotFound
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			code = pkgerrors.CodeValidation
		case http.StatusConflict:
			code = pkgerrors.CodeConflict
		}
		return pkgerrors.New(code, msg).WithDetails(map[string]any{
			"collaborator": c.name,
			"status":       resp.StatusCode,
		})
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decoding %s response", c.name))
		}
	}
	return nil
}
