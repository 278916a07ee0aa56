package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// RequestIDHeader carries a per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// RetryConfig bounds retries of idempotent requests.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetry is used when no WithRetry option is given.
var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

// Client talks to the confirmation gateway over HTTP and websocket.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	token      func() string
	retry      RetryConfig
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithDialer sets the websocket dialer used by Subscribe.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithToken sets the session token source. The function is called per
// request so a refreshed session is picked up without rebuilding the client.
func WithToken(token func() string) Option {
	return func(c *Client) { c.token = token }
}

// WithRetry overrides the retry policy for idempotent requests.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a gateway client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     websocket.DefaultDialer,
		retry:      DefaultRetry,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = DefaultRetry.BaseDelay
	}
	if c.retry.MaxDelay <= 0 {
		c.retry.MaxDelay = DefaultRetry.MaxDelay
	}
	return c
}

// BaseURL returns the gateway base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// BuildTx asks the gateway for an unsigned transaction.
func (c *Client) BuildTx(ctx context.Context, req BuildRequest) (*UnsignedTx, error) {
	if req.TxType == "" {
		return nil, errors.New("gateway: tx_type is required")
	}
	var out UnsignedTx
	if err := c.do(ctx, http.MethodPost, "/tx/build", req, &out, false); err != nil {
		return nil, err
	}
	if out.TxType == "" {
		out.TxType = req.TxType
	}
	return &out, nil
}

// RegisterTx registers a broadcast transaction for confirmation tracking.
func (c *Client) RegisterTx(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	if req.TxHash == "" {
		return nil, errors.New("gateway: tx_hash is required")
	}
	var out RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/tx/register", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStatus returns the current status of a registered transaction.
func (c *Client) GetStatus(ctx context.Context, txHash string) (*TxStatus, error) {
	var out TxStatus
	if err := c.do(ctx, http.MethodGet, "/tx/status/"+url.PathEscape(txHash), nil, &out, true); err != nil {
		return nil, err
	}
	if out.TxHash == "" {
		out.TxHash = txHash
	}
	return &out, nil
}

// ListPending returns the session user's open transactions. A 404 or empty
// body means there are none.
func (c *Client) ListPending(ctx context.Context) ([]TxStatus, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/tx/pending", nil, &raw, true)
	if IsNotFound(err) {
		return []TxStatus{}, nil
	}
	if err != nil {
		return nil, err
	}
	list, err := decodePending(raw)
	if err != nil {
		return nil, fmt.Errorf("gateway: decode pending list: %w", err)
	}
	if list == nil {
		list = []TxStatus{}
	}
	return list, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, retryable bool) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
	}

	attempts := 1
	if retryable {
		attempts = c.retry.MaxAttempts
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.BaseDelay
	b.MaxInterval = c.retry.MaxDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	var respBody []byte
	op := func() error {
		var err error
		respBody, err = c.roundTrip(ctx, method, path, payload)
		if err == nil {
			return nil
		}
		var gwErr *Error
		if errors.As(err, &gwErr) && !shouldRetryStatus(gwErr.StatusCode) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("gateway request failed, retrying",
			"method", method,
			"path", path,
			"wait", wait,
			"error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], respBody...)
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("gateway: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway: read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseError(resp.StatusCode, requestID, respBody)
	}
	return respBody, nil
}

func (c *Client) authorize(h http.Header) {
	if c.token == nil {
		return
	}
	if tok := strings.TrimSpace(c.token()); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
}
