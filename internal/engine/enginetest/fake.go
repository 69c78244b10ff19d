// Package enginetest provides in-memory engine implementations for tests.
package enginetest

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/mrz1836/hotvault/internal/engine"
)

// Wallet is a scriptable in-memory engine.Wallet.
//
// SyncStatus pops entries from Statuses one at a time, sticking on the
// last entry once the queue drains. All fields are safe for concurrent
// use through the embedded mutex.
type Wallet struct {
	mu sync.Mutex

	Host string
	Port int

	// Statuses is consumed front to back by SyncStatus.
	Statuses []engine.SyncInfo

	// StatusErr, when set, is returned by every SyncStatus call.
	StatusErr error

	// State is returned by Serialize.
	State []byte

	// SerializeErr, when set, is returned by Serialize.
	SerializeErr error

	// RewindErr, when set, is returned by Rewind.
	RewindErr error

	// StopErr, when set, is returned by Stop.
	StopErr error

	rewinds     []uint64
	stopCount   int
	subscribers []chan struct{}
}

// NewWallet returns a wallet bound to the given peer that reports itself
// fully synced at the given height.
func NewWallet(host string, port int, height uint64) *Wallet {
	return &Wallet{
		Host:     host,
		Port:     port,
		Statuses: []engine.SyncInfo{{WalletHeight: height, NetworkHeight: height}},
		State:    []byte("wallet-state"),
	}
}

// Daemon implements engine.Wallet.
func (w *Wallet) Daemon() (string, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Host, w.Port
}

// SyncStatus implements engine.Wallet.
func (w *Wallet) SyncStatus(_ context.Context) (engine.SyncInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.StatusErr != nil {
		return engine.SyncInfo{}, w.StatusErr
	}
	if len(w.Statuses) == 0 {
		return engine.SyncInfo{}, nil
	}
	info := w.Statuses[0]
	if len(w.Statuses) > 1 {
		w.Statuses = w.Statuses[1:]
	}
	return info, nil
}

// Rewind implements engine.Wallet, recording each requested distance.
func (w *Wallet) Rewind(_ context.Context, distance uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.RewindErr != nil {
		return w.RewindErr
	}
	w.rewinds = append(w.rewinds, distance)
	return nil
}

// Rewinds returns the distances passed to Rewind, in order.
func (w *Wallet) Rewinds() []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]uint64, len(w.rewinds))
	copy(out, w.rewinds)
	return out
}

// Serialize implements engine.Wallet.
func (w *Wallet) Serialize(_ context.Context) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.SerializeErr != nil {
		return nil, w.SerializeErr
	}
	out := make([]byte, len(w.State))
	copy(out, w.State)
	return out, nil
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

// EmitSync delivers a sync progress event to all current subscribers
// without blocking.
func (w *Wallet) EmitSync() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscribers {
		select {
		case sub <- struct{}{}:
		default:
		}
	}
}

// Stop implements engine.Wallet.
func (w *Wallet) Stop(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopCount++
	return w.StopErr
}

// StopCount returns how many times Stop has been called.
func (w *Wallet) StopCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopCount
}

// Factory is a scriptable engine.Factory that hands out pre-built wallets.
type Factory struct {
	mu sync.Mutex

	// CreateFn, when set, overrides the default Create behavior.
	CreateFn func(ctx context.Context, seed []byte, host string, port int) (engine.Wallet, error)

	// RestoreFn, when set, overrides the default Restore behavior.
	RestoreFn func(ctx context.Context, blob []byte, host string, port int) (engine.Wallet, error)

	// Next is returned by Create/Restore when no override is set.
	Next *Wallet

	// Err, when set, is returned by Create/Restore when no override is set.
	Err error

	creates  int
	restores int
}

// Create implements engine.Factory.
func (f *Factory) Create(ctx context.Context, seed []byte, host string, port int) (engine.Wallet, error) {
	f.mu.Lock()
	f.creates++
	fn := f.CreateFn
	next, err := f.Next, f.Err
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, seed, host, port)
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Restore implements engine.Factory.
func (f *Factory) Restore(ctx context.Context, blob []byte, host string, port int) (engine.Wallet, error) {
	f.mu.Lock()
	f.restores++
	fn := f.RestoreFn
	next, err := f.Next, f.Err
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, blob, host, port)
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Creates returns how many times Create has been called.
func (f *Factory) Creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

// Restores returns how many times Restore has been called.
func (f *Factory) Restores() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restores
}

// NodeDropper records dropped peers.
type NodeDropper struct {
	mu      sync.Mutex
	dropped []string
}

// DropNode implements engine.NodeDropper.
func (d *NodeDropper) DropNode(_ context.Context, host string, port int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropped = append(d.dropped, hostPort(host, port))
	return nil
}

// Dropped returns the recorded host:port strings, in order.
func (d *NodeDropper) Dropped() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.dropped))
	copy(out, d.dropped)
	return out
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
