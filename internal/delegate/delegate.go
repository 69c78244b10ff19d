// Package delegate is the HTTP client for the remote wallet delegate: an
// externally hosted wallet process that prepares, signs, and broadcasts
// transactions on the service's behalf. Every call carries a bearer token
// from the token provider. Delegate failures are returned to the caller
// unclassified; nothing in this package retries.
package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mrz1836/hotvault/internal/config"
	"github.com/mrz1836/hotvault/internal/metrics"
	"github.com/mrz1836/hotvault/internal/token"
	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

// WalletStatus is the delegate's self-report.
type WalletStatus struct {
	// Started reports whether the delegate has an open wallet.
	Started bool `json:"started"`

	// DaemonHost and DaemonPort identify the peer the delegate is using.
	DaemonHost string `json:"daemonHost"`
	DaemonPort int    `json:"daemonPort"`

	// UptimeSeconds is how long the delegate wallet has been running,
	// in seconds on the wire.
	UptimeSeconds int64 `json:"uptime"`
}

// Uptime returns the delegate wallet's uptime as a duration.
func (s WalletStatus) Uptime() time.Duration {
	return time.Duration(s.UptimeSeconds) * time.Second
}

// PrepareRequest describes a transaction for the delegate to construct.
// The field names are the delegate API's; it is an external service with
// a pinned request shape.
type PrepareRequest struct {
	// SubWallet is the sub-account the spend originates from.
	SubWallet string `json:"subWallet"`

	// SenderID identifies the requesting party for the delegate's audit
	// trail.
	SenderID string `json:"senderId"`

	// SendAddress is the destination address.
	SendAddress string `json:"sendAddress"`

	Amount    uint64 `json:"amount"`
	PaymentID string `json:"paymentId,omitempty"`
}

// PrepareResponse is the delegate's handle on a constructed transaction.
type PrepareResponse struct {
	PreparedTxHash string `json:"preparedTxHash"`
	Fee            uint64 `json:"fee"`
}

// SendResponse acknowledges a broadcast.
type SendResponse struct {
	TxHash string `json:"txHash"`
}

// Client talks to the remote wallet delegate.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     token.Provider
	limiter    *RateLimiter
	logger     *config.Logger
	maxUptime  time.Duration
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for delegate calls.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithRateLimiter replaces the default per-endpoint limiter.
func WithRateLimiter(l *RateLimiter) ClientOption {
	return func(cl *Client) { cl.limiter = l }
}

// WithLogger sets the client's logger.
func WithLogger(l *config.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// WithMaxUptime overrides how long a delegate wallet may run before
// Warmup restarts it.
func WithMaxUptime(d time.Duration) ClientOption {
	return func(cl *Client) { cl.maxUptime = d }
}

// NewClient returns a delegate client for baseURL authenticating with
// tokens.
func NewClient(baseURL string, tokens token.Provider, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		tokens:     tokens,
		limiter:    DefaultRateLimiter(),
		logger:     config.NullLogger(),
		maxUptime:  config.DefaultDelegateMaxUptimeHours * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status fetches the delegate's self-report.
func (c *Client) Status(ctx context.Context) (*WalletStatus, error) {
	var status WalletStatus
	if err := c.call(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Start opens the delegate wallet against the given daemon peer.
func (c *Client) Start(ctx context.Context, host string, port int) error {
	body := map[string]any{"daemonHost": host, "daemonPort": port}
	return c.call(ctx, http.MethodPost, "/start", body, nil)
}

// Prepare asks the delegate to construct a transaction.
func (c *Client) Prepare(ctx context.Context, req PrepareRequest) (*PrepareResponse, error) {
	var resp PrepareResponse
	if err := c.call(ctx, http.MethodPost, "/prepare_transaction", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Send broadcasts a previously prepared transaction by hash.
func (c *Client) Send(ctx context.Context, txHash string) (*SendResponse, error) {
	body := map[string]string{"preparedTxHash": txHash}
	var resp SendResponse
	if err := c.call(ctx, http.MethodPost, "/send", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Rewind moves the delegate wallet's scan position back by distance
// blocks.
func (c *Client) Rewind(ctx context.Context, distance uint64) error {
	body := map[string]uint64{"distance": distance}
	return c.call(ctx, http.MethodPost, "/rewind", body, nil)
}

// Warmup ensures the delegate wallet is running against the given peer.
// It restarts the delegate when it is unstarted, connected to a different
// peer, or has been up longer than the uptime bound. Returns true when a
// start was issued.
func (c *Client) Warmup(ctx context.Context, host string, port int) (bool, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return false, err
	}

	switch {
	case !status.Started:
		c.logger.Info("delegate wallet not started, starting against %s:%d", host, port)
	case status.DaemonHost != host || status.DaemonPort != port:
		c.logger.Info("delegate wallet on wrong peer %s:%d, restarting against %s:%d",
			status.DaemonHost, status.DaemonPort, host, port)
	case status.Uptime() > c.maxUptime:
		c.logger.Info("delegate wallet up %s, past the %s bound, restarting",
			status.Uptime(), c.maxUptime)
	default:
		return false, nil
	}

	if err := c.Start(ctx, host, port); err != nil {
		return false, err
	}
	return true, nil
}

// delegateError is the delegate's error envelope.
type delegateError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) (err error) {
	defer func() { metrics.Global.RecordDelegateCall(err) }()

	if err = c.limiter.Wait(ctx, path); err != nil {
		return vaulterr.Wrap(err, "rate limit wait for %s", path)
	}

	bearer, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return vaulterr.Wrap(marshalErr, "encoding %s request", path)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return vaulterr.Wrap(err, "building %s request", path)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return vaulterr.WithDetails(
			vaulterr.Wrap(vaulterr.ErrDelegate, "calling %s: %v", path, err),
			map[string]string{"endpoint": path})
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return vaulterr.Wrap(err, "reading %s response", path)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		details := map[string]string{
			"endpoint":    path,
			"http_status": fmt.Sprintf("%d", resp.StatusCode),
		}
		var remote delegateError
		if jsonErr := json.Unmarshal(payload, &remote); jsonErr == nil && remote.Error.Message != "" {
			details["remote_code"] = remote.Error.Code
			details["remote_message"] = remote.Error.Message
		}
		return vaulterr.WithDetails(vaulterr.ErrDelegate, details)
	}

	if out == nil {
		return nil
	}
	if err = json.Unmarshal(payload, out); err != nil {
		return vaulterr.Wrap(err, "decoding %s response", path)
	}
	return nil
}
