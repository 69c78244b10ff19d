// Package rpc implements the wallet engine against a local wallet RPC
// daemon: a separate process that owns the actual chain wallets and
// exposes them over HTTP on loopback. The lifecycle layer stays ignorant
// of chain internals; this package is the only place that knows the wire
// shapes.
//
// The daemon holds several open wallets at once. /create and /restore
// return a wallet id, and every per-wallet call carries it, so a
// superseded instance can keep answering reads and be closed without
// touching its replacement.
package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mrz1836/hotvault/internal/engine"
	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

// defaultPollInterval is how often an open wallet polls for sync
// progress to feed its subscribers.
const defaultPollInterval = 2 * time.Second

// Client talks to the wallet RPC daemon and implements engine.Factory
// and engine.NodeDropper.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for RPC calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithPollInterval sets how often open wallets poll for sync progress.
func WithPollInterval(d time.Duration) Option {
	return func(cl *Client) { cl.pollInterval = d }
}

// NewClient returns a client for the wallet RPC daemon at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// openResponse is the daemon's answer to /create and /restore.
type openResponse struct {
	WalletID string `json:"wallet_id"`
}

// Create implements engine.Factory.
func (c *Client) Create(ctx context.Context, seed []byte, host string, port int) (engine.Wallet, error) {
	body := map[string]any{
		"seed":        hex.EncodeToString(seed),
		"daemon_host": host,
		"daemon_port": port,
	}
	var resp openResponse
	if err := c.call(ctx, "/create", body, &resp); err != nil {
		return nil, err
	}
	return c.newWallet(resp.WalletID, host, port)
}

// Restore implements engine.Factory.
func (c *Client) Restore(ctx context.Context, blob []byte, host string, port int) (engine.Wallet, error) {
	body := map[string]any{
		"state":       base64.StdEncoding.EncodeToString(blob),
		"daemon_host": host,
		"daemon_port": port,
	}
	var resp openResponse
	if err := c.call(ctx, "/restore", body, &resp); err != nil {
		return nil, err
	}
	return c.newWallet(resp.WalletID, host, port)
}

// DropNode implements engine.NodeDropper.
func (c *Client) DropNode(ctx context.Context, host string, port int) error {
	body := map[string]any{"host": host, "port": port}
	return c.call(ctx, "/drop_node", body, nil)
}

func (c *Client) call(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return vaulterr.Wrap(err, "encoding %s request", path)
		}
		reader = bytes.NewReader(encoded)
	}

	method := http.MethodPost
	if body == nil {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return vaulterr.Wrap(err, "building %s request", path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return vaulterr.Wrap(err, "calling wallet rpc %s", path)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return vaulterr.Wrap(err, "reading %s response", path)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return vaulterr.WithDetails(vaulterr.ErrUnknown, map[string]string{
			"rpc":         path,
			"http_status": fmt.Sprintf("%d", resp.StatusCode),
		})
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return vaulterr.Wrap(err, "decoding %s response", path)
	}
	return nil
}

// Wallet is one open wallet on the RPC daemon, addressed by the id the
// daemon issued when it was opened. A background poller turns height
// changes into sync events for subscribers.
type Wallet struct {
	client *Client
	id     string
	host   string
	port   int

	mu          sync.Mutex
	subscribers []chan struct{}
	stopped     bool
	stopPoll    chan struct{}
}

func (c *Client) newWallet(id, host string, port int) (*Wallet, error) {
	if id == "" {
		return nil, vaulterr.WithDetails(vaulterr.ErrUnknown,
			map[string]string{"rpc": "daemon returned no wallet_id"})
	}
	w := &Wallet{
		client:   c,
		id:       id,
		host:     host,
		port:     port,
		stopPoll: make(chan struct{}),
	}
	go w.poll()
	return w, nil
}

// ID returns the daemon's identifier for this wallet.
func (w *Wallet) ID() string {
	return w.id
}

// Daemon implements engine.Wallet.
func (w *Wallet) Daemon() (string, int) {
	return w.host, w.port
}

type syncStatusResponse struct {
	WalletHeight  uint64 `json:"wallet_height"`
	NetworkHeight uint64 `json:"network_height"`
}

// SyncStatus implements engine.Wallet.
func (w *Wallet) SyncStatus(ctx context.Context) (engine.SyncInfo, error) {
	var resp syncStatusResponse
	if err := w.client.call(ctx, "/sync_status?wallet_id="+url.QueryEscape(w.id), nil, &resp); err != nil {
		return engine.SyncInfo{}, err
	}
	return engine.SyncInfo{
		WalletHeight:  resp.WalletHeight,
		NetworkHeight: resp.NetworkHeight,
	}, nil
}

// Rewind implements engine.Wallet.
func (w *Wallet) Rewind(ctx context.Context, distance uint64) error {
	body := map[string]any{"wallet_id": w.id, "distance": distance}
	return w.client.call(ctx, "/rewind", body, nil)
}

type exportResponse struct {
	State string `json:"state"`
}

// Serialize implements engine.Wallet.
func (w *Wallet) Serialize(ctx context.Context) ([]byte, error) {
	var resp exportResponse
	if err := w.client.call(ctx, "/export?wallet_id="+url.QueryEscape(w.id), nil, &resp); err != nil {
		return nil, err
	}
	state, err := base64.StdEncoding.DecodeString(resp.State)
	if err != nil {
		return nil, vaulterr.Wrap(err, "decoding exported state")
	}
	return state, nil
}

// SubscribeSync implements engine.Wallet.
func (w *Wallet) SubscribeSync() (<-chan struct{}, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan struct{}, 1)
	w.subscribers = append(w.subscribers, ch)
	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, sub := range w.subscribers {
			if sub == ch {
				w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Stop implements engine.Wallet. It closes this wallet on the daemon and
// stops the poller. Other wallets the daemon holds, a replacement
// instance included, are untouched.
func (w *Wallet) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopPoll)
	w.mu.Unlock()

	return w.client.call(ctx, "/close", map[string]any{"wallet_id": w.id}, nil)
}

// poll watches the wallet height and notifies subscribers on progress.
func (w *Wallet) poll() {
	ticker := time.NewTicker(w.client.pollInterval)
	defer ticker.Stop()

	var lastHeight uint64
	for {
		select {
		case <-w.stopPoll:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.client.pollInterval)
			info, err := w.SyncStatus(ctx)
			cancel()
			if err != nil {
				continue
			}
			if info.WalletHeight != lastHeight {
				lastHeight = info.WalletHeight
				w.notify()
			}
		}
	}
}

func (w *Wallet) notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscribers {
		select {
		case sub <- struct{}{}:
		default:
		}
	}
}
