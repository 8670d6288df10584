// Package gateway is the HTTP client for the billing REST API. It classifies every
// failure so callers can tell "server unreachable" from "server said no".
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/apperr"
	"github.com/septivank/aqueduct-sync/internal/config"
	"github.com/septivank/aqueduct-sync/internal/session"
)

const maxResponseBytes = 8 << 20

// ErrNotFound is returned when the API has no such resource
var ErrNotFound = errors.New("resource not found on server")

// response is what a single round trip yields once the transport succeeded
type response struct {
	status int
	body   []byte
}

// Gateway talks to the billing API
type Gateway struct {
	baseURL string
	client  *http.Client
	session *session.Session
	cb      *gobreaker.CircuitBreaker[*response]
	logger  *zap.Logger
}

// New creates a gateway for the API at cfg.BaseURL
func New(cfg config.APIConfig, breaker config.BreakerConfig, sess *session.Session, logger *zap.Logger) *Gateway {
	logger = logger.Named("gateway")

	cb := gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "billing-api",
		MaxRequests: breaker.MaxRequests,
		Interval:    breaker.Interval,
		Timeout:     breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breaker.ConsecutiveFailures
		},
		// only unreachable-server failures count against the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || !apperr.IsConnectivity(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CIRCUIT BREAKER] state transition",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Gateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		session: sess,
		cb:      cb,
		logger:  logger,
	}
}

// Ping reports whether the API answers at all. Any HTTP status counts as reachable.
// It bypasses the breaker so an open breaker cannot hide a recovered server.
func (g *Gateway) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/", nil)
	if err != nil {
		return &apperr.NetworkError{Op: "ping", Err: err}
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return &apperr.NetworkError{Op: "ping", Connectivity: true, Err: err}
	}
	resp.Body.Close()
	return nil
}

// do performs one request through the breaker and decodes a 2xx body into out.
// out may be nil.
func (g *Gateway) do(ctx context.Context, op, method, path string, query url.Values, body any, headers map[string]string, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &apperr.NetworkError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		payload = b
	}

	target := g.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	start := time.Now()
	resp, err := g.cb.Execute(func() (*response, error) {
		return g.roundTrip(ctx, op, method, target, payload, headers)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.logger.Warn("[CIRCUIT BREAKER] request rejected", zap.String("op", op), zap.Error(err))
			return &apperr.NetworkError{Op: op, Connectivity: true, Err: err}
		}
		return err
	}

	g.logger.Debug("api call completed",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.status),
		zap.Duration("elapsed", time.Since(start)),
	)

	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return &apperr.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (g *Gateway) roundTrip(ctx context.Context, op, method, target string, payload []byte, headers map[string]string) (*response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &apperr.NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := g.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &apperr.NetworkError{Op: op, Connectivity: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &apperr.NetworkError{Op: op, Connectivity: true, Err: fmt.Errorf("read response: %w", err)}
	}

	if err := classify(op, resp.StatusCode, body); err != nil {
		return nil, err
	}
	return &response{status: resp.StatusCode, body: body}, nil
}

// errorBody covers the error envelopes the API returns, including on 2xx
type errorBody struct {
	Error      json.RawMessage `json:"error"`
	Message    json.RawMessage `json:"message"`
	StatusCode int             `json:"statusCode"`
}

func classify(op string, status int, body []byte) error {
	switch {
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return &apperr.NetworkError{Op: op, Connectivity: true, Err: fmt.Errorf("upstream unavailable: status %d", status)}
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case status < 200 || status > 299:
		return &apperr.ApplicationError{StatusCode: status, Message: errorMessage(body, http.StatusText(status))}
	}

	// only object bodies can carry an error envelope
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var envelope errorBody
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil
	}
	if envelope.StatusCode >= 400 {
		return &apperr.ApplicationError{StatusCode: envelope.StatusCode, Message: errorMessage(trimmed, "request rejected")}
	}
	if len(envelope.Error) > 0 && string(envelope.Error) != "null" && string(envelope.Error) != "false" {
		return &apperr.ApplicationError{StatusCode: status, Message: errorMessage(trimmed, "request rejected")}
	}
	return nil
}

// errorMessage extracts a human readable message from an error envelope
func errorMessage(body []byte, fallback string) string {
	var envelope errorBody
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fallback
	}
	for _, raw := range []json.RawMessage{envelope.Message, envelope.Error} {
		if msg := rawText(raw); msg != "" {
			return msg
		}
	}
	return fallback
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return ""
}
