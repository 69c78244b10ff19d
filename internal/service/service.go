// Package service is the request-facing layer: it gates every operation
// on the administrative halt flag, hands out a synced wallet instance,
// and fronts the remote wallet delegate for transaction operations.
package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mrz1836/hotvault/internal/config"
	"github.com/mrz1836/hotvault/internal/delegate"
	"github.com/mrz1836/hotvault/internal/metadata"
	"github.com/mrz1836/hotvault/internal/persist"
	"github.com/mrz1836/hotvault/internal/registry"
	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

// WalletService coordinates the registry, persistence, and delegate for
// request handlers.
type WalletService struct {
	reg      *registry.Registry
	facade   *persist.Facade
	meta     metadata.Store
	remote   *delegate.Client
	logger   *config.Logger
	halted   atomic.Bool
	syncWait time.Duration

	daemonHost string
	daemonPort int
}

// ServiceOptions configures a WalletService.
type ServiceOptions struct {
	// SyncWaitTimeout bounds how long ServiceWallet waits for a wallet
	// to sync before declaring failure.
	SyncWaitTimeout time.Duration

	// DaemonHost and DaemonPort are the peer passed to delegate warmup.
	DaemonHost string
	DaemonPort int

	// Halted starts the service in the halted state.
	Halted bool
}

// NewWalletService wires a service over its collaborators. remote may be
// nil when no delegate is configured; its operations then fail with a
// delegate error.
func NewWalletService(reg *registry.Registry, facade *persist.Facade, meta metadata.Store,
	remote *delegate.Client, opts ServiceOptions, logger *config.Logger) *WalletService {
	if logger == nil {
		logger = config.NullLogger()
	}
	if opts.SyncWaitTimeout <= 0 {
		opts.SyncWaitTimeout = config.DefaultWaitForSyncTimeoutSeconds * time.Second
	}

	s := &WalletService{
		reg:        reg,
		facade:     facade,
		meta:       meta,
		remote:     remote,
		logger:     logger,
		syncWait:   opts.SyncWaitTimeout,
		daemonHost: opts.DaemonHost,
		daemonPort: opts.DaemonPort,
	}
	s.halted.Store(opts.Halted)
	return s
}

// SetHalted flips the administrative halt flag.
func (s *WalletService) SetHalted(halted bool) {
	s.halted.Store(halted)
}

// Halted reports the halt flag.
func (s *WalletService) Halted() bool {
	return s.halted.Load()
}

// checkHalted is the gate every operation passes first.
func (s *WalletService) checkHalted() error {
	if s.halted.Load() {
		return vaulterr.ErrServiceHalted
	}
	return nil
}

// ServiceWallet returns a synced wallet instance ready to serve a
// request. A wallet that cannot sync within the configured window is
// discarded so the next call starts clean, and the caller gets a
// sync-failed error.
func (s *WalletService) ServiceWallet(ctx context.Context) (*registry.Instance, error) {
	if err := s.checkHalted(); err != nil {
		return nil, err
	}

	inst, err := s.reg.Acquire(ctx, registry.AcquireOptions{})
	if err != nil {
		return nil, err
	}

	if !s.reg.Syncer().Wait(ctx, inst.Wallet, s.syncWait) {
		s.logger.Error("wallet failed to sync within %s, discarding instance", s.syncWait)
		s.reg.Discard(ctx)
		return nil, vaulterr.ErrSyncFailed
	}

	return inst, nil
}

// PrepareTransaction warms up the delegate and asks it to construct a
// transaction.
func (s *WalletService) PrepareTransaction(ctx context.Context, req delegate.PrepareRequest) (*delegate.PrepareResponse, error) {
	if err := s.ensureDelegate(ctx); err != nil {
		return nil, err
	}
	return s.remote.Prepare(ctx, req)
}

// SendPrepared broadcasts a previously prepared transaction.
func (s *WalletService) SendPrepared(ctx context.Context, txHash string) (*delegate.SendResponse, error) {
	if err := s.ensureDelegate(ctx); err != nil {
		return nil, err
	}
	return s.remote.Send(ctx, txHash)
}

// RewindRemote rewinds the delegate wallet's scan position.
func (s *WalletService) RewindRemote(ctx context.Context, distance uint64) error {
	if err := s.ensureDelegate(ctx); err != nil {
		return err
	}
	return s.remote.Rewind(ctx, distance)
}

// ensureDelegate gates on the halt flag and warms up the delegate wallet
// against the configured peer.
func (s *WalletService) ensureDelegate(ctx context.Context) error {
	if err := s.checkHalted(); err != nil {
		return err
	}
	if s.remote == nil {
		return vaulterr.WithDetails(vaulterr.ErrDelegate,
			map[string]string{"reason": "no delegate configured"})
	}

	restarted, err := s.remote.Warmup(ctx, s.daemonHost, s.daemonPort)
	if err != nil {
		return err
	}
	if restarted {
		s.logger.Info("delegate wallet restarted against %s:%d", s.daemonHost, s.daemonPort)
	}
	return nil
}

// SubWallets lists the sub-wallet ledger.
func (s *WalletService) SubWallets(ctx context.Context, claimedOnly bool) ([]metadata.SubWalletInfo, error) {
	if err := s.checkHalted(); err != nil {
		return nil, err
	}
	return s.meta.ListSubWallets(ctx, claimedOnly)
}

// Save persists the active wallet, if any. No-op without one.
func (s *WalletService) Save(ctx context.Context) error {
	inst := s.reg.Current()
	if inst == nil {
		s.logger.Debug("no active wallet, skipping save")
		return nil
	}
	_, err := s.facade.Save(ctx, inst.Wallet)
	return err
}

// Backup snapshots the active wallet, if any. Best effort.
func (s *WalletService) Backup(ctx context.Context) error {
	inst := s.reg.Current()
	if inst == nil {
		return s.facade.Backup(ctx, nil)
	}
	return s.facade.Backup(ctx, inst.Wallet)
}
