// Package registry owns the lifecycle of the single managed wallet
// instance: when to keep it, when to replace it, and how replacements are
// made visible to concurrent request handlers.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/mrz1836/hotvault/internal/config"
	"github.com/mrz1836/hotvault/internal/engine"
	"github.com/mrz1836/hotvault/internal/metadata"
	"github.com/mrz1836/hotvault/internal/metrics"
	"github.com/mrz1836/hotvault/internal/mnemonic"
	"github.com/mrz1836/hotvault/internal/persist"
	"github.com/mrz1836/hotvault/internal/vaultcrypto"
	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

// Instance is one managed wallet generation. Handlers may hold an
// Instance across a replacement; its wallet stays readable after Stop.
type Instance struct {
	// Wallet is the running engine instance.
	Wallet engine.Wallet

	// StartedAt is when this instance was installed.
	StartedAt time.Time

	// SaveBaseline is the persisted LastSaveAt observed when this
	// instance was loaded. A later persisted save from another process
	// makes this instance stale.
	SaveBaseline time.Time
}

// Options configures a Registry.
type Options struct {
	// DaemonHost and DaemonPort are the configured daemon peer. An
	// instance connected elsewhere is restarted on the next acquire.
	DaemonHost string
	DaemonPort int

	// MaxInstanceAge bounds how long one instance serves before a
	// restart re-reads persisted state.
	MaxInstanceAge time.Duration

	// RewindDistance is how many blocks a restored wallet rewinds so
	// recent history is re-scanned.
	RewindDistance uint64

	// WalletKey and BackupsPrefix seed the metadata record on create.
	WalletKey     string
	BackupsPrefix string

	// CreationSyncGrace is how long a freshly created wallet may take
	// to settle before its first save.
	CreationSyncGrace time.Duration
}

// defaults fills unset options from the config package defaults.
func (o Options) defaults() Options {
	if o.MaxInstanceAge <= 0 {
		o.MaxInstanceAge = config.DefaultMaxInstanceAgeMinutes * time.Minute
	}
	if o.RewindDistance == 0 {
		o.RewindDistance = config.DefaultRewindDistance
	}
	if o.CreationSyncGrace <= 0 {
		o.CreationSyncGrace = 30 * time.Second
	}
	return o
}

// AcquireOptions modifies a single Acquire call.
type AcquireOptions struct {
	// Force replaces the current instance regardless of policy.
	Force bool

	// RewindDistance overrides the configured rewind for this restart.
	// Zero means use the configured distance.
	RewindDistance uint64
}

// Registry is the mutex-owned singleton managing the active instance.
// Every acquire runs its policy decision and any swap inside one critical
// section, so concurrent acquires serialize and at most one restart
// happens per policy trigger.
type Registry struct {
	mu sync.Mutex

	factory engine.Factory
	facade  *persist.Facade
	meta    metadata.Store
	syncer  *SyncWaiter
	logger  *config.Logger
	opts    Options
	now     func() time.Time

	current *Instance
}

// NewRegistry returns a registry with no active instance.
func NewRegistry(factory engine.Factory, facade *persist.Facade, meta metadata.Store,
	syncer *SyncWaiter, opts Options, logger *config.Logger) *Registry {
	if logger == nil {
		logger = config.NullLogger()
	}
	return &Registry{
		factory: factory,
		facade:  facade,
		meta:    meta,
		syncer:  syncer,
		logger:  logger,
		opts:    opts.defaults(),
		now:     time.Now,
	}
}

// SetClock overrides the registry's time source. Tests only.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Syncer returns the registry's sync waiter.
func (r *Registry) Syncer() *SyncWaiter {
	return r.syncer
}

// Acquire returns the active instance, restarting it first when policy
// demands. Identity is preserved across calls that trigger no restart.
// A restart loads persisted state, rewinds, installs the new instance,
// and only then stops the superseded one.
func (r *Registry) Acquire(ctx context.Context, opts AcquireOptions) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reason, err := r.restartReason(ctx, opts)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		metrics.Global.RecordAcquire(false)
		return r.current, nil
	}
	r.logger.Info("restarting wallet instance: %s", reason)

	rewind := opts.RewindDistance
	if rewind == 0 {
		rewind = r.opts.RewindDistance
	}

	inst, err := r.start(ctx, rewind)
	if err != nil {
		return nil, err
	}

	old := r.current
	r.current = inst
	if old != nil {
		r.stopInstance(ctx, old)
	}

	metrics.Global.RecordAcquire(true)
	return inst, nil
}

// restartReason decides whether the current instance must be replaced.
// Empty means keep it. An unreadable wallet record fails the acquire:
// the staleness check cannot run without it. Called with the registry
// lock held.
func (r *Registry) restartReason(ctx context.Context, opts AcquireOptions) (string, error) {
	if r.current == nil {
		return "no active instance", nil
	}
	if opts.Force {
		return "forced restart", nil
	}

	host, port := r.current.Wallet.Daemon()
	if host != r.opts.DaemonHost || port != r.opts.DaemonPort {
		return "daemon peer changed", nil
	}

	if age := r.now().Sub(r.current.StartedAt); age >= r.opts.MaxInstanceAge {
		return "instance exceeded max age", nil
	}

	info, err := r.meta.Get(ctx)
	if err != nil {
		r.logger.Error("reading wallet record for restart policy: %v", err)
		return "", err
	}
	if !info.LastSaveAt.Equal(r.current.SaveBaseline) {
		return "wallet state saved since this instance loaded", nil
	}

	return "", nil
}

// start loads persisted state and brings up a new instance against the
// configured peer. The caller installs it.
func (r *Registry) start(ctx context.Context, rewind uint64) (*Instance, error) {
	result, err := r.facade.Load(ctx)
	if err != nil {
		return nil, err
	}

	w, err := r.factory.Restore(ctx, result.State, r.opts.DaemonHost, r.opts.DaemonPort)
	vaultcrypto.ZeroBytes(result.State)
	if err != nil {
		return nil, vaulterr.Wrap(err, "restoring wallet")
	}

	if rewind > 0 {
		if err := w.Rewind(ctx, rewind); err != nil {
			_ = w.Stop(ctx)
			return nil, vaulterr.Wrap(err, "rewinding restored wallet by %d blocks", rewind)
		}
	}

	return &Instance{
		Wallet:       w,
		StartedAt:    r.now(),
		SaveBaseline: result.Info.LastSaveAt,
	}, nil
}

// CreateMasterWallet provisions the master wallet: record first (the
// create guard), then a wallet from a fresh mnemonic, a settling sync
// wait, and the initial save. The mnemonic is returned to the caller for
// one-time display and appears nowhere else, logs included.
func (r *Registry) CreateMasterWallet(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	phrase, err := mnemonic.Generate(24)
	if err != nil {
		return "", err
	}
	if err := r.provision(ctx, phrase); err != nil {
		return "", err
	}
	return phrase, nil
}

// RestoreMasterWallet provisions the master wallet from an existing
// recovery phrase. The same record-first guard applies; the engine
// rebuilds the wallet from the seed and rescans the chain.
func (r *Registry) RestoreMasterWallet(ctx context.Context, phrase string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := mnemonic.Validate(phrase); err != nil {
		return err
	}
	return r.provision(ctx, mnemonic.Normalize(phrase))
}

// provision builds the wallet for phrase and installs it as the active
// instance. Called with the registry lock held.
func (r *Registry) provision(ctx context.Context, phrase string) error {
	seed, err := mnemonic.ToSeed(phrase, "")
	if err != nil {
		return err
	}
	defer vaultcrypto.ZeroBytes(seed)

	fingerprint, err := mnemonic.Fingerprint(seed)
	if err != nil {
		return err
	}

	if err := r.meta.Create(ctx, &metadata.WalletInfo{
		Location:    r.opts.WalletKey,
		BackupsDir:  r.opts.BackupsPrefix,
		Fingerprint: fingerprint,
		CreatedAt:   r.now().UTC(),
	}); err != nil {
		return err
	}

	w, err := r.factory.Create(ctx, seed, r.opts.DaemonHost, r.opts.DaemonPort)
	if err != nil {
		return vaulterr.Wrap(err, "creating wallet")
	}

	// A brand-new wallet has little to scan, but give it a short
	// settling window before the first save so the persisted state
	// starts at the tip.
	if r.syncer != nil && !r.syncer.Wait(ctx, w, r.opts.CreationSyncGrace) {
		r.logger.Info("new wallet still settling after %s, saving anyway", r.opts.CreationSyncGrace)
	}

	savedAt, err := r.facade.Save(ctx, w)
	if err != nil {
		_ = w.Stop(ctx)
		return err
	}

	r.current = &Instance{
		Wallet:       w,
		StartedAt:    r.now(),
		SaveBaseline: savedAt,
	}
	return nil
}

// Current returns the active instance without running restart policy.
// Nil when no instance is active.
func (r *Registry) Current() *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Discard stops and clears the active instance. Used when the instance
// has proven unusable, e.g. after a failed sync wait.
func (r *Registry) Discard(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return
	}
	r.stopInstance(ctx, r.current)
	r.current = nil
}

// Close stops the active instance on shutdown.
func (r *Registry) Close(ctx context.Context) {
	r.Discard(ctx)
}

func (r *Registry) stopInstance(ctx context.Context, inst *Instance) {
	if err := inst.Wallet.Stop(ctx); err != nil {
		r.logger.Error("stopping wallet instance: %v", err)
	}
	metrics.Global.RecordStop()
}
