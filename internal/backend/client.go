// Package backend is the REST client for the platform API that owns events,
// applications and notifications. Reads are retried with backoff; writes
// are sent once. Every call passes through a circuit breaker when one is
// configured.
package backend

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

	"github.com/sony/gobreaker"

	"eventdesk/internal/config"
	"eventdesk/internal/constants"
	"eventdesk/internal/logger"
	"eventdesk/pkg/circuitbreaker"
	apperrors "eventdesk/pkg/errors"
	"eventdesk/pkg/logging"
	"eventdesk/pkg/metrics"
	"eventdesk/pkg/middleware"
	"eventdesk/pkg/retry"
	"eventdesk/pkg/tracing"
)

const maxErrorBody = 4 << 10

// TokenSource supplies the bearer token for outgoing calls. An empty
// token sends the request unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	breaker *circuitbreaker.Wrapper
	retry   retry.Policy
	logger  logger.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithBreaker routes every call through w. A nil w disables the breaker.
func WithBreaker(w *circuitbreaker.Wrapper) Option {
	return func(cl *Client) {
		cl.breaker = w
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(cl *Client) {
		cl.retry = p
	}
}

func WithLogger(l logger.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   constants.DefaultHTTPTimeout,
			Transport: tracing.HTTPTransport(nil),
		},
		tokens: tokens,
		retry:  retry.DefaultPolicy(),
		logger: logger.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds a client with an instrumented transport, the
// configured retry policy and, when enabled, a circuit breaker.
func NewFromConfig(cfg config.BackendConfig, cbCfg config.CircuitBreakerConfig, tokens TokenSource, log logger.Logger) *Client {
	opts := []Option{
		WithLogger(log.Named("backend")),
		WithHTTPClient(&http.Client{
			Timeout:   cfg.Timeout(),
			Transport: tracing.HTTPTransport(nil),
		}),
		WithRetryPolicy(retry.Policy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			Multiplier:      cfg.Retry.Multiplier,
			MaxElapsedTime:  cfg.Retry.MaxElapsedTime,
		}),
	}

	if cbCfg.Enabled {
		breakerCfg := circuitbreaker.FromConfig("platform-backend", cbCfg)
		breakerLog := log.Named("backend")
		breakerCfg.OnStateChange = func(name string, from, to gobreaker.State) {
			breakerLog.Warnw("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		}
		opts = append(opts, WithBreaker(circuitbreaker.NewWrapper(breakerCfg)))
	}

	return New(cfg.BaseURL, tokens, opts...)
}

// request describes one call. body, when set, is re-read on every attempt.
type request struct {
	operation   string
	method      string
	path        string
	body        []byte
	contentType string
	idempotent  bool
}

func jsonRequest(operation, method, path string, payload interface{}) (request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return request{}, fmt.Errorf("failed to marshal %s request: %w", operation, err)
	}
	return request{
		operation:   operation,
		method:      method,
		path:        path,
		body:        body,
		contentType: "application/json",
	}, nil
}

// do sends req and decodes a 2xx JSON response into out, which may be nil.
func (c *Client) do(ctx context.Context, req request, out interface{}) error {
	call := func() error {
		if c.breaker == nil {
			return c.roundTrip(ctx, req, out)
		}
		_, err := circuitbreaker.Execute(ctx, c.breaker, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.roundTrip(ctx, req, out)
		})
		return err
	}

	if !req.idempotent {
		return call()
	}

	policy := c.retry
	policy.OnRetry = func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("backend", req.operation).Inc()
		c.logger.WarnwCtx(ctx, "Retrying backend request",
			"operation", req.operation,
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	}
	return retry.Retry(ctx, policy, call)
}

func (c *Client) roundTrip(ctx context.Context, req request, out interface{}) error {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return apperrors.ErrInternal.WithCause(err).AsFatal()
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if requestID := logging.GetRequestID(ctx); requestID != "" {
		httpReq.Header.Set(middleware.RequestIDHeader, requestID)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return apperrors.ErrInternal.WithCause(err).WithDetail("message", "failed to read access token")
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.ObserveBackendRequest(req.operation, "transport_error", time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return apperrors.ErrServiceUnavailable.WithCause(err).WithDetail("operation", req.operation)
	}
	defer resp.Body.Close()
	metrics.ObserveBackendRequest(req.operation, fmt.Sprintf("%d", resp.StatusCode), time.Since(start))

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		return statusError(req.operation, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.ErrUpstream.
			WithCause(err).
			WithDetail("operation", req.operation).
			WithDetail("message", "failed to decode backend response").
			AsFatal()
	}
	return nil
}

// statusError maps a non-2xx response onto the error taxonomy, keeping the
// backend's own message when it sent one.
func statusError(operation string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	message := ""
	if json.Unmarshal(raw, &payload) == nil {
		for _, m := range []string{payload.Message, payload.Error, payload.Detail} {
			if m != "" {
				message = m
				break
			}
		}
	} else {
		message = strings.TrimSpace(string(raw))
	}

	return apperrors.FromHTTPStatus(resp.StatusCode, message).WithDetail("operation", operation)
}

// decodeList accepts either a bare JSON array or an object wrapping the
// array under "items" or "data".
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []T{}, nil
	}

	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var wrapped struct {
		Items []T `json:"items"`
		Data  []T `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	switch {
	case wrapped.Items != nil:
		return wrapped.Items, nil
	case wrapped.Data != nil:
		return wrapped.Data, nil
	default:
		return nil, errors.New("list response has neither items nor data")
	}
}

func (c *Client) list(ctx context.Context, operation, path string, decode func(json.RawMessage) error) error {
	var raw json.RawMessage
	if err := c.do(ctx, request{operation: operation, method: http.MethodGet, path: path, idempotent: true}, &raw); err != nil {
		return err
	}
	if err := decode(raw); err != nil {
		return apperrors.ErrUpstream.
			WithCause(err).
			WithDetail("operation", operation).
			WithDetail("message", "failed to decode backend list").
			AsFatal()
	}
	return nil
}

// Ping checks that the backend answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, request{operation: "ping", method: http.MethodGet, path: "/health"}, nil)
}
