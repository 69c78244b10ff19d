package persist_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/hotvault/internal/blobstore"
	"github.com/mrz1836/hotvault/internal/engine/enginetest"
	"github.com/mrz1836/hotvault/internal/metadata"
	"github.com/mrz1836/hotvault/internal/persist"
	"github.com/mrz1836/hotvault/internal/vaultcrypto"
	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

const (
	walletKey  = "wallets/master"
	backupsDir = "wallets/backups"
	mirrorKey  = "credentials/mirror"
)

var secret = []byte("test deployment secret")

type fixture struct {
	facade  *persist.Facade
	primary *blobstore.FileStore
	meta    *metadata.FileStore
	mirror  *blobstore.FileStore
}

// newFixture builds a facade over temp-dir stores with a working mirror
// credential already planted in the primary store.
func newFixture(t *testing.T, opts ...persist.FacadeOption) *fixture {
	t.Helper()
	ctx := context.Background()

	primary, err := blobstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	meta, err := metadata.NewFileStore(t.TempDir())
	require.NoError(t, err)

	mirrorRoot := t.TempDir()
	mirror, err := blobstore.NewFileStore(mirrorRoot)
	require.NoError(t, err)

	cred, err := json.Marshal(map[string]string{"root": mirrorRoot})
	require.NoError(t, err)
	require.NoError(t, primary.Put(ctx, mirrorKey, cred))

	require.NoError(t, meta.Create(ctx, &metadata.WalletInfo{
		Location:   walletKey,
		BackupsDir: backupsDir,
	}))

	all := append([]persist.FacadeOption{
		persist.WithMirror(blobstore.FileCredentialOpener{}, mirrorKey),
		persist.WithStagingDir(t.TempDir()),
	}, opts...)

	facade, err := persist.NewFacade(primary, meta, secret, all...)
	require.NoError(t, err)

	return &fixture{facade: facade, primary: primary, meta: meta, mirror: mirror}
}

func TestFacade_SaveAndLoad(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	w := enginetest.NewWallet("node-a", 18081, 100)
	w.State = []byte("serialized wallet state")

	savedAt, err := fx.facade.Save(ctx, w)
	require.NoError(t, err)
	assert.False(t, savedAt.IsZero())

	// The record observes the save.
	info, err := fx.meta.Get(ctx)
	require.NoError(t, err)
	assert.True(t, savedAt.Equal(info.LastSaveAt))

	// The primary blob is encrypted, not plaintext.
	blob, err := fx.primary.Get(ctx, walletKey)
	require.NoError(t, err)
	assert.NotEqual(t, []byte("serialized wallet state"), blob)

	// Load round-trips the state and reports the baseline.
	result, err := fx.facade.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("serialized wallet state"), result.State)
	assert.True(t, savedAt.Equal(result.Info.LastSaveAt))
}

func TestFacade_SaveMirrors(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	w := enginetest.NewWallet("node-a", 18081, 100)
	w.State = []byte("state")

	_, err := fx.facade.Save(ctx, w)
	require.NoError(t, err)

	// Mirror holds the same ciphertext as the primary.
	primaryBlob, err := fx.primary.Get(ctx, walletKey)
	require.NoError(t, err)
	mirrorBlob, err := fx.mirror.Get(ctx, walletKey)
	require.NoError(t, err)
	assert.Equal(t, primaryBlob, mirrorBlob)
}

func TestFacade_SaveMirrorFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	primary, err := blobstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	meta, err := metadata.NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, meta.Create(ctx, &metadata.WalletInfo{
		Location: walletKey, BackupsDir: backupsDir,
	}))

	// Mirror configured but its credential blob is absent.
	facade, err := persist.NewFacade(primary, meta, secret,
		persist.WithMirror(blobstore.FileCredentialOpener{}, mirrorKey),
		persist.WithStagingDir(t.TempDir()))
	require.NoError(t, err)

	w := enginetest.NewWallet("node-a", 18081, 100)
	savedAt, err := facade.Save(ctx, w)
	require.NoError(t, err)

	info, err := meta.Get(ctx)
	require.NoError(t, err)
	assert.True(t, savedAt.Equal(info.LastSaveAt))
}

func TestFacade_SaveWithoutRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	primary, err := blobstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	meta, err := metadata.NewFileStore(t.TempDir())
	require.NoError(t, err)

	facade, err := persist.NewFacade(primary, meta, secret)
	require.NoError(t, err)

	_, err = facade.Save(ctx, enginetest.NewWallet("node-a", 18081, 100))
	require.ErrorIs(t, err, vaulterr.ErrWalletInfo)
}

func TestFacade_CredentialStagingIsCleaned(t *testing.T) {
	t.Parallel()
	staging := t.TempDir()
	fx := newFixture(t, persist.WithStagingDir(staging))
	ctx := context.Background()

	_, err := fx.facade.Save(ctx, enginetest.NewWallet("node-a", 18081, 100))
	require.NoError(t, err)

	// No credential file remains after the save.
	leftovers, err := filepath.Glob(filepath.Join(staging, "*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFacade_Backup(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fx := newFixture(t, persist.WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	w := enginetest.NewWallet("node-a", 18081, 100)
	w.State = []byte("backup me")

	require.NoError(t, fx.facade.Backup(ctx, w))

	key := "wallets/backups/1785585600"
	blob, err := fx.primary.Get(ctx, key)
	require.NoError(t, err)

	// Backups use the backup-derived passphrase, not the primary one.
	backupPass, err := vaultcrypto.DerivePassphrase(secret, vaultcrypto.PurposeBackup)
	require.NoError(t, err)
	plaintext, err := vaultcrypto.Decrypt(blob, backupPass)
	require.NoError(t, err)
	assert.Equal(t, []byte("backup me"), plaintext)

	primaryPass, err := vaultcrypto.DerivePassphrase(secret, vaultcrypto.PurposePrimary)
	require.NoError(t, err)
	_, err = vaultcrypto.Decrypt(blob, primaryPass)
	require.Error(t, err)

	info, err := fx.meta.Get(ctx)
	require.NoError(t, err)
	assert.True(t, fixed.Equal(info.LastBackupAt))
}

func TestFacade_BackupNilWallet(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	require.NoError(t, fx.facade.Backup(context.Background(), nil))

	info, err := fx.meta.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, info.LastBackupAt.IsZero())
}

func TestFacade_LoadMissingRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	primary, err := blobstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	meta, err := metadata.NewFileStore(t.TempDir())
	require.NoError(t, err)

	facade, err := persist.NewFacade(primary, meta, secret)
	require.NoError(t, err)

	_, err = facade.Load(ctx)
	require.ErrorIs(t, err, vaulterr.ErrWalletInfo)
	assert.Equal(t, "master-wallet-info", vaulterr.Code(err))
}

func TestFacade_LoadMissingBlob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	primary, err := blobstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	meta, err := metadata.NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, meta.Create(ctx, &metadata.WalletInfo{
		Location: walletKey, BackupsDir: backupsDir,
	}))

	facade, err := persist.NewFacade(primary, meta, secret)
	require.NoError(t, err)

	_, err = facade.Load(ctx)
	require.ErrorIs(t, err, vaulterr.ErrWalletFile)
	assert.Equal(t, "master-wallet-file", vaulterr.Code(err))
}

func TestFacade_LoadUndecryptableBlob(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.primary.Put(ctx, walletKey, []byte("not age ciphertext")))

	_, err := fx.facade.Load(ctx)
	require.ErrorIs(t, err, vaulterr.ErrWalletFile)

	// Decode failures carry a cause; plain absence does not.
	var ve *vaulterr.VaultError
	require.ErrorAs(t, err, &ve)
	assert.NotNil(t, ve.Cause)
}
