package registry_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/hotvault/internal/blobstore"
	"github.com/mrz1836/hotvault/internal/engine"
	"github.com/mrz1836/hotvault/internal/engine/enginetest"
	"github.com/mrz1836/hotvault/internal/metadata"
	"github.com/mrz1836/hotvault/internal/mnemonic"
	"github.com/mrz1836/hotvault/internal/persist"
	"github.com/mrz1836/hotvault/internal/registry"
	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

const (
	walletKey  = "wallets/master"
	backupsDir = "wallets/backups"
	daemonHost = "node-a"
	daemonPort = 18081
)

var secret = []byte("registry test secret")

type fixture struct {
	reg     *registry.Registry
	factory *enginetest.Factory
	facade  *persist.Facade
	meta    *metadata.FileStore

	mu       sync.Mutex
	restored []*enginetest.Wallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	primary, err := blobstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	meta, err := metadata.NewFileStore(t.TempDir())
	require.NoError(t, err)
	facade, err := persist.NewFacade(primary, meta, secret)
	require.NoError(t, err)

	fx := &fixture{facade: facade, meta: meta}

	fx.factory = &enginetest.Factory{
		RestoreFn: func(_ context.Context, blob []byte, host string, port int) (engine.Wallet, error) {
			w := enginetest.NewWallet(host, port, 100)
			w.State = append([]byte(nil), blob...)
			fx.mu.Lock()
			fx.restored = append(fx.restored, w)
			fx.mu.Unlock()
			return w, nil
		},
	}

	fx.reg = registry.NewRegistry(fx.factory, facade, meta,
		registry.NewSyncWaiter(nil, nil),
		registry.Options{
			DaemonHost:        daemonHost,
			DaemonPort:        daemonPort,
			WalletKey:         walletKey,
			BackupsPrefix:     backupsDir,
			CreationSyncGrace: 50 * time.Millisecond,
		}, nil)
	return fx
}

// seed persists an initial wallet record and blob so acquires have
// something to load.
func (fx *fixture) seed(t *testing.T, state string) time.Time {
	t.Helper()
	ctx := context.Background()

	_ = fx.meta.Create(ctx, &metadata.WalletInfo{
		Location:   walletKey,
		BackupsDir: backupsDir,
	})

	w := enginetest.NewWallet(daemonHost, daemonPort, 100)
	w.State = []byte(state)
	savedAt, err := fx.facade.Save(ctx, w)
	require.NoError(t, err)
	return savedAt
}

func (fx *fixture) lastRestored() *enginetest.Wallet {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.restored) == 0 {
		return nil
	}
	return fx.restored[len(fx.restored)-1]
}

func TestRegistry_AcquireRestoresAndRewinds(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.seed(t, "gen-1")

	inst, err := fx.reg.Acquire(context.Background(), registry.AcquireOptions{})
	require.NoError(t, err)
	require.NotNil(t, inst)

	host, port := inst.Wallet.Daemon()
	assert.Equal(t, daemonHost, host)
	assert.Equal(t, daemonPort, port)

	// Restored state came from the persisted blob, and the default
	// rewind re-scans the last 40 blocks.
	w := fx.lastRestored()
	assert.Equal(t, []byte("gen-1"), w.State)
	assert.Equal(t, []uint64{40}, w.Rewinds())
}

func TestRegistry_AcquirePreservesIdentity(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.seed(t, "gen-1")
	ctx := context.Background()

	first, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)
	second, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, fx.factory.Restores())
	assert.Equal(t, 0, fx.lastRestored().StopCount())
}

func TestRegistry_AcquireRewindOverride(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.seed(t, "gen-1")

	_, err := fx.reg.Acquire(context.Background(), registry.AcquireOptions{RewindDistance: 7})
	require.NoError(t, err)
	assert.Equal(t, []uint64{7}, fx.lastRestored().Rewinds())
}

func TestRegistry_ForceRestart(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.seed(t, "gen-1")
	ctx := context.Background()

	first, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)
	oldWallet := fx.lastRestored()

	second, err := fx.reg.Acquire(ctx, registry.AcquireOptions{Force: true})
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, fx.factory.Restores())
	assert.Equal(t, 1, oldWallet.StopCount())
	assert.Equal(t, 0, fx.lastRestored().StopCount())
}

func TestRegistry_RestartOnPeerChange(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.seed(t, "gen-1")
	ctx := context.Background()

	_, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)

	// Simulate the instance drifting to a different peer.
	oldWallet := fx.lastRestored()
	oldWallet.Host = "node-b"

	inst, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)

	host, _ := inst.Wallet.Daemon()
	assert.Equal(t, daemonHost, host)
	assert.Equal(t, 1, oldWallet.StopCount())
	assert.Equal(t, 2, fx.factory.Restores())
}

func TestRegistry_RestartOnMaxAge(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.seed(t, "gen-1")
	ctx := context.Background()

	base := time.Now()
	fx.reg.SetClock(func() time.Time { return base })

	first, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)

	// Nine minutes in the instance still serves.
	fx.reg.SetClock(func() time.Time { return base.Add(9 * time.Minute) })
	kept, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)
	assert.Same(t, first, kept)

	// Past ten minutes it is replaced.
	fx.reg.SetClock(func() time.Time { return base.Add(10*time.Minute + time.Second) })
	replaced, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)
	assert.NotSame(t, first, replaced)
	assert.Equal(t, 2, fx.factory.Restores())
}

func TestRegistry_RestartOnStaleSave(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.seed(t, "gen-1")
	ctx := context.Background()

	first, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)

	// Another process saves newer state behind our back.
	other := enginetest.NewWallet(daemonHost, daemonPort, 200)
	other.State = []byte("gen-2")
	_, err = fx.facade.Save(ctx, other)
	require.NoError(t, err)

	// The next acquire notices the baseline mismatch and reloads.
	second, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, []byte("gen-2"), fx.lastRestored().State)

	// With the baseline refreshed the new instance is stable.
	third, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)
	assert.Same(t, second, third)
	assert.Equal(t, 2, fx.factory.Restores())
}

func TestRegistry_AcquireNoRecord(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	_, err := fx.reg.Acquire(context.Background(), registry.AcquireOptions{})
	require.ErrorIs(t, err, vaulterr.ErrWalletInfo)
	assert.Nil(t, fx.reg.Current())
}

func TestRegistry_AcquireNoBlob(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.meta.Create(ctx, &metadata.WalletInfo{
		Location: walletKey, BackupsDir: backupsDir,
	}))

	_, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.ErrorIs(t, err, vaulterr.ErrWalletFile)
}

// outageMeta wraps a metadata store with a switchable read failure.
type outageMeta struct {
	metadata.Store
	mu   sync.Mutex
	down bool
}

func (m *outageMeta) setDown(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = v
}

func (m *outageMeta) Get(ctx context.Context) (*metadata.WalletInfo, error) {
	m.mu.Lock()
	down := m.down
	m.mu.Unlock()
	if down {
		return nil, vaulterr.WithDetails(vaulterr.ErrWalletInfo,
			map[string]string{"reason": "record store unavailable"})
	}
	return m.Store.Get(ctx)
}

func TestRegistry_AcquireRecordReadFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	primary, err := blobstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	inner, err := metadata.NewFileStore(t.TempDir())
	require.NoError(t, err)
	meta := &outageMeta{Store: inner}
	facade, err := persist.NewFacade(primary, meta, secret)
	require.NoError(t, err)

	factory := &enginetest.Factory{
		RestoreFn: func(_ context.Context, blob []byte, host string, port int) (engine.Wallet, error) {
			w := enginetest.NewWallet(host, port, 100)
			w.State = append([]byte(nil), blob...)
			return w, nil
		},
	}
	reg := registry.NewRegistry(factory, facade, meta,
		registry.NewSyncWaiter(nil, nil),
		registry.Options{
			DaemonHost:    daemonHost,
			DaemonPort:    daemonPort,
			WalletKey:     walletKey,
			BackupsPrefix: backupsDir,
		}, nil)

	require.NoError(t, inner.Create(ctx, &metadata.WalletInfo{
		Location: walletKey, BackupsDir: backupsDir,
	}))
	seeded := enginetest.NewWallet(daemonHost, daemonPort, 100)
	seeded.State = []byte("gen-1")
	_, err = facade.Save(ctx, seeded)
	require.NoError(t, err)

	first, err := reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)

	// An unreadable record fails the acquire; it does not silently keep
	// serving, and it does not tear down the installed instance either.
	meta.setDown(true)
	_, err = reg.Acquire(ctx, registry.AcquireOptions{})
	require.ErrorIs(t, err, vaulterr.ErrWalletInfo)
	assert.Same(t, first, reg.Current())
	assert.Equal(t, 1, factory.Restores())

	// Once the store recovers, acquires resume on the same instance.
	meta.setDown(false)
	again, err := reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)
	assert.Same(t, first, again)
}

func TestRegistry_RewindFailureKeepsCurrent(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.seed(t, "gen-1")
	ctx := context.Background()

	first, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)
	firstWallet := fx.lastRestored()

	// The replacement wallet fails its rewind.
	fx.factory.RestoreFn = func(_ context.Context, blob []byte, host string, port int) (engine.Wallet, error) {
		w := enginetest.NewWallet(host, port, 100)
		w.RewindErr = vaulterr.ErrUnknown
		return w, nil
	}

	_, err = fx.reg.Acquire(ctx, registry.AcquireOptions{Force: true})
	require.Error(t, err)

	// The old instance survives a failed replacement.
	assert.Same(t, first, fx.reg.Current())
	assert.Equal(t, 0, firstWallet.StopCount())
}

func TestRegistry_ConcurrentAcquireStable(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.seed(t, "gen-1")
	ctx := context.Background()

	first, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)

	const workers = 16
	instances := make(chan *registry.Instance, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, acquireErr := fx.reg.Acquire(ctx, registry.AcquireOptions{})
			require.NoError(t, acquireErr)
			instances <- inst
		}()
	}
	wg.Wait()
	close(instances)

	for inst := range instances {
		assert.Same(t, first, inst)
	}
	assert.Equal(t, 1, fx.factory.Restores())
}

func TestRegistry_ConcurrentAcquireSingleRestart(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.seed(t, "gen-1")
	ctx := context.Background()

	base := time.Now()
	fx.reg.SetClock(func() time.Time { return base })

	_, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)
	oldWallet := fx.lastRestored()

	// Every concurrent acquire sees the instance past its age bound, but
	// only the first one through the lock restarts it.
	fx.reg.SetClock(func() time.Time { return base.Add(11 * time.Minute) })

	const workers = 16
	var wg sync.WaitGroup
	instances := make(chan *registry.Instance, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, acquireErr := fx.reg.Acquire(ctx, registry.AcquireOptions{})
			require.NoError(t, acquireErr)
			require.NotNil(t, inst)
			instances <- inst
		}()
	}
	wg.Wait()
	close(instances)

	// Exactly one restart, exactly one stop of the superseded wallet,
	// and no caller ever saw a nil instance.
	assert.Equal(t, 2, fx.factory.Restores())
	assert.Equal(t, 1, oldWallet.StopCount())

	current := fx.reg.Current()
	for inst := range instances {
		assert.Same(t, current, inst)
	}
}

func TestRegistry_CreateMasterWallet(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	created := enginetest.NewWallet(daemonHost, daemonPort, 0)
	created.State = []byte("fresh wallet state")
	var seenSeed []byte
	fx.factory.CreateFn = func(_ context.Context, seed []byte, host string, port int) (engine.Wallet, error) {
		seenSeed = append([]byte(nil), seed...)
		assert.Equal(t, daemonHost, host)
		assert.Equal(t, daemonPort, port)
		return created, nil
	}

	phrase, err := fx.reg.CreateMasterWallet(ctx)
	require.NoError(t, err)

	// A valid 24-word mnemonic whose seed matches what the factory saw.
	assert.Len(t, strings.Fields(phrase), 24)
	require.NoError(t, mnemonic.Validate(phrase))
	seed, err := mnemonic.ToSeed(phrase, "")
	require.NoError(t, err)
	assert.Equal(t, seed, seenSeed)

	// The record carries the fingerprint and the configured locations.
	info, err := fx.meta.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, walletKey, info.Location)
	assert.Equal(t, backupsDir, info.BackupsDir)
	fp, err := mnemonic.Fingerprint(seed)
	require.NoError(t, err)
	assert.Equal(t, fp, info.Fingerprint)
	assert.False(t, info.LastSaveAt.IsZero())

	// The initial save round-trips through the facade.
	result, err := fx.facade.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh wallet state"), result.State)

	// The new wallet is installed as the active instance.
	current := fx.reg.Current()
	require.NotNil(t, current)
	assert.True(t, current.SaveBaseline.Equal(info.LastSaveAt))
}

func TestRegistry_CreateMasterWalletExisting(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	savedAt := fx.seed(t, "gen-1")

	_, err := fx.reg.CreateMasterWallet(ctx)
	require.ErrorIs(t, err, vaulterr.ErrWalletInfoExists)

	// The existing record is untouched and no wallet was built.
	info, err := fx.meta.Get(ctx)
	require.NoError(t, err)
	assert.True(t, savedAt.Equal(info.LastSaveAt))
	assert.Empty(t, info.Fingerprint)
	assert.Equal(t, 0, fx.factory.Creates())
}

func TestRegistry_RestoreMasterWallet(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	created := enginetest.NewWallet(daemonHost, daemonPort, 0)
	created.State = []byte("rescanned state")
	var seenSeed []byte
	fx.factory.CreateFn = func(_ context.Context, seed []byte, _ string, _ int) (engine.Wallet, error) {
		seenSeed = append([]byte(nil), seed...)
		return created, nil
	}

	phrase := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	require.NoError(t, fx.reg.RestoreMasterWallet(ctx, phrase))

	// The engine got the seed for the entered phrase.
	seed, err := mnemonic.ToSeed(phrase, "")
	require.NoError(t, err)
	assert.Equal(t, seed, seenSeed)

	// Record and state are in place like a fresh create.
	info, err := fx.meta.Get(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, info.Fingerprint)
	require.NotNil(t, fx.reg.Current())
}

func TestRegistry_RestoreMasterWalletInvalidPhrase(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	err := fx.reg.RestoreMasterWallet(context.Background(), "not a recovery phrase")
	require.ErrorIs(t, err, vaulterr.ErrInvalidMnemonic)

	// Nothing was created.
	_, err = fx.meta.Get(context.Background())
	require.ErrorIs(t, err, vaulterr.ErrWalletInfo)
	assert.Equal(t, 0, fx.factory.Creates())
}

func TestRegistry_DiscardAndClose(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.seed(t, "gen-1")
	ctx := context.Background()

	_, err := fx.reg.Acquire(ctx, registry.AcquireOptions{})
	require.NoError(t, err)
	w := fx.lastRestored()

	fx.reg.Discard(ctx)
	assert.Nil(t, fx.reg.Current())
	assert.Equal(t, 1, w.StopCount())

	// Discarding again is a no-op.
	fx.reg.Discard(ctx)
	assert.Equal(t, 1, w.StopCount())

	fx.reg.Close(ctx)
}
