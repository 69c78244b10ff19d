package registry

import (
	"context"
	"sync"
	"time"

	"github.com/mrz1836/hotvault/internal/config"
	"github.com/mrz1836/hotvault/internal/engine"
	"github.com/mrz1836/hotvault/internal/metrics"
)

// minProgressBlocks is the sync progress under which a timed-out wait
// blames the daemon peer and drops it.
const minProgressBlocks = 2

// SyncWaiter blocks callers until a wallet catches up to the network or
// a deadline passes. Each wait is one-shot: a sync-event subscription
// races a timer, and whichever resolves first decides the outcome.
type SyncWaiter struct {
	dropper engine.NodeDropper
	logger  *config.Logger
}

// NewSyncWaiter returns a waiter that reports stalled peers to dropper.
// Both arguments may be nil.
func NewSyncWaiter(dropper engine.NodeDropper, logger *config.Logger) *SyncWaiter {
	if logger == nil {
		logger = config.NullLogger()
	}
	return &SyncWaiter{dropper: dropper, logger: logger}
}

// Wait returns true once w is synced, or false after timeout. A wallet
// already within the sync threshold returns immediately without
// subscribing. On timeout the status is re-measured before giving up, so
// a sync event racing the timer still wins; and when the wallet processed
// fewer than minProgressBlocks during the wait, the peer is dropped.
func (s *SyncWaiter) Wait(ctx context.Context, w engine.Wallet, timeout time.Duration) bool {
	started := time.Now()

	info, err := w.SyncStatus(ctx)
	if err == nil && info.IsSynced() {
		metrics.Global.RecordSyncWait(time.Since(started), false)
		return true
	}
	baseHeight := info.WalletHeight

	events, unsubscribe := w.SubscribeSync()
	defer unsubscribe()

	waitCtx, stop := context.WithCancel(ctx)
	defer stop()

	// Buffered one-shot result. Both branches below write through the
	// same sync.Once, so the losing branch cannot re-fire.
	done := make(chan bool, 1)
	var once sync.Once
	resolve := func(ok bool) { once.Do(func() { done <- ok }) }

	go func() {
		for {
			select {
			case <-waitCtx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				st, statusErr := w.SyncStatus(waitCtx)
				if statusErr == nil && st.IsSynced() {
					resolve(true)
					return
				}
			}
		}
	}()

	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-waitCtx.Done():
			return
		case <-timer.C:
			st, statusErr := w.SyncStatus(waitCtx)
			if statusErr == nil && st.IsSynced() {
				resolve(true)
				return
			}
			if statusErr == nil && progressSince(baseHeight, st.WalletHeight) < minProgressBlocks {
				s.dropStalledPeer(ctx, w)
			}
			resolve(false)
		}
	}()

	select {
	case ok := <-done:
		metrics.Global.RecordSyncWait(time.Since(started), !ok)
		return ok
	case <-ctx.Done():
		metrics.Global.RecordSyncWait(time.Since(started), true)
		return false
	}
}

func (s *SyncWaiter) dropStalledPeer(ctx context.Context, w engine.Wallet) {
	host, port := w.Daemon()
	s.logger.Info("daemon peer %s:%d fed fewer than %d blocks during sync wait, dropping",
		host, port, minProgressBlocks)
	if s.dropper == nil {
		return
	}
	if err := s.dropper.DropNode(ctx, host, port); err != nil {
		s.logger.Error("dropping peer %s:%d failed: %v", host, port, err)
		return
	}
	metrics.Global.RecordNodeDrop()
}

// progressSince returns how many blocks the wallet processed since base,
// treating a rewind during the wait as no progress.
func progressSince(base, current uint64) uint64 {
	if current <= base {
		return 0
	}
	return current - base
}
