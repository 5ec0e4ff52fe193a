// Package api is the typed HTTP client for the MISHURA backend: user, balance,
// history, payment and analysis endpoints. Every failure is returned as *Error.
package api

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	apiUserInit       = "/user/init"
	apiUserBalance    = "/user/%s/balance"
	apiUserHistory    = "/user/%s/history"
	apiPackages       = "/payments/packages"
	apiPaymentCreate  = "/payments/create"
	apiPaymentStatus  = "/payments/status/%s"
	apiAnalyze        = "/analyze"
	maxErrorBodyBytes = 64 << 10
)

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	baseURL        string
	http           *http.Client
	limiter        *rate.Limiter
	requestTimeout time.Duration
	log            *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit caps outgoing requests per second; rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRequestTimeout bounds account and payment calls. Analysis calls are not bounded here.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for baseURL, e.g. "https://host/api/v1".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		requestTimeout: 15 * time.Second,
		log:            zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// errorBody is the backend error envelope.
type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Detail  string `json:"detail"`
}

// call performs one request. failKind is used for non-2xx responses without a more
// specific backend code.
func (c *Client) call(ctx context.Context, op string, req *http.Request, failKind Kind, out any) error {
	endpoint := req.URL.Path
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return transportError(op, endpoint, ctx.Err())
			}
			// The next token would arrive after the deadline.
			return &Error{Kind: KindTimeout, Op: op, Endpoint: endpoint, Err: err}
		}
	}

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return transportError(op, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		apiErr := c.statusError(op, endpoint, resp.StatusCode, data, failKind)
		c.log.Warn("backend request failed",
			zap.String("op", op),
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.log.Warn("malformed backend response",
			zap.String("op", op),
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.Error(err),
		)
		return &Error{Kind: KindServer, Op: op, Endpoint: endpoint, Status: resp.StatusCode,
			Err: fmt.Errorf("invalid response: %w", err)}
	}
	return nil
}

func (c *Client) statusError(op, endpoint string, status int, data []byte, failKind Kind) *Error {
	var body errorBody
	_ = json.Unmarshal(data, &body)
	msg := body.Message
	if msg == "" {
		msg = body.Detail
	}
	e := &Error{Kind: failKind, Op: op, Endpoint: endpoint, Status: status, Code: body.Code,
		Err: errors.New(strings.TrimSpace(string(data)))}

	switch body.Code {
	case "INVALID_PACKAGE":
		e.Kind = KindInvalidPackage
		e.Message = msg
	case "INSUFFICIENT_BALANCE", "INVALID_IMAGE", "INVALID_REQUEST":
		e.Kind = KindValidation
		e.Message = msg
	}
	return e
}

func (c *Client) newJSONRequest(method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// bounded applies the request timeout to account and payment calls.
func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}
