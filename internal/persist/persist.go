// Package persist is the durability layer for wallet state: encrypted
// saves to a primary blob store with a best-effort mirror copy,
// timestamped backups, and loads that distinguish a missing record from
// an unreadable blob.
package persist

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mrz1836/hotvault/internal/blobstore"
	"github.com/mrz1836/hotvault/internal/config"
	"github.com/mrz1836/hotvault/internal/engine"
	"github.com/mrz1836/hotvault/internal/fileutil"
	"github.com/mrz1836/hotvault/internal/metadata"
	"github.com/mrz1836/hotvault/internal/metrics"
	"github.com/mrz1836/hotvault/internal/vaultcrypto"
	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

// LoadResult carries a decrypted wallet state together with the record it
// was loaded under.
type LoadResult struct {
	// State is the plaintext serialized wallet.
	State []byte

	// Info is the wallet record at load time. Its LastSaveAt is the
	// baseline the lifecycle layer compares against later.
	Info *metadata.WalletInfo
}

// Facade owns wallet state durability. All blobs are encrypted with keys
// derived from one deployment secret; primary saves and backups use
// separate derivations so a leaked backup passphrase cannot open the
// primary blob.
type Facade struct {
	primary blobstore.Store
	meta    metadata.Store
	opener  blobstore.CredentialOpener
	logger  *config.Logger

	primaryPass string
	backupPass  string

	// mirrorCredKey locates the mirror bucket credential in the primary
	// store. Empty disables mirroring.
	mirrorCredKey string

	stagingDir string
	now        func() time.Time
}

// FacadeOption customizes a Facade.
type FacadeOption func(*Facade)

// WithLogger sets the facade's logger.
func WithLogger(l *config.Logger) FacadeOption {
	return func(f *Facade) { f.logger = l }
}

// WithMirror enables mirror writes using the credential blob at key.
func WithMirror(opener blobstore.CredentialOpener, key string) FacadeOption {
	return func(f *Facade) {
		f.opener = opener
		f.mirrorCredKey = key
	}
}

// WithStagingDir sets the directory used to stage mirror credentials.
func WithStagingDir(dir string) FacadeOption {
	return func(f *Facade) { f.stagingDir = dir }
}

// WithClock overrides the facade's time source.
func WithClock(now func() time.Time) FacadeOption {
	return func(f *Facade) { f.now = now }
}

// NewFacade derives the primary and backup passphrases from secret and
// returns a facade over the given stores.
func NewFacade(primary blobstore.Store, meta metadata.Store, secret []byte, opts ...FacadeOption) (*Facade, error) {
	primaryPass, err := vaultcrypto.DerivePassphrase(secret, vaultcrypto.PurposePrimary)
	if err != nil {
		return nil, err
	}
	backupPass, err := vaultcrypto.DerivePassphrase(secret, vaultcrypto.PurposeBackup)
	if err != nil {
		return nil, err
	}

	f := &Facade{
		primary:     primary,
		meta:        meta,
		logger:      config.NullLogger(),
		primaryPass: primaryPass,
		backupPass:  backupPass,
		stagingDir:  os.TempDir(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Save serializes and encrypts the wallet, writes the primary and mirror
// copies concurrently, and records the save time. Mirror failures are
// logged, never propagated: the primary write alone decides the outcome.
// The returned time is the persisted LastSaveAt.
func (f *Facade) Save(ctx context.Context, w engine.Wallet) (time.Time, error) {
	info, err := f.meta.Get(ctx)
	if err != nil {
		return time.Time{}, err
	}

	state, err := w.Serialize(ctx)
	if err != nil {
		return time.Time{}, vaulterr.Wrap(err, "serializing wallet")
	}

	ciphertext, err := vaultcrypto.Encrypt(state, f.primaryPass)
	if err != nil {
		return time.Time{}, vaulterr.Wrap(err, "encrypting wallet state")
	}
	vaultcrypto.ZeroBytes(state)

	var (
		wg         sync.WaitGroup
		primaryErr error
		mirrorErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		primaryErr = f.primary.Put(ctx, info.Location, ciphertext)
	}()
	go func() {
		defer wg.Done()
		mirrorErr = f.mirrorPut(ctx, info.Location, ciphertext)
	}()
	wg.Wait()

	if mirrorErr != nil {
		f.logger.Error("mirror save failed for %s: %v", info.Location, mirrorErr)
	}

	if primaryErr != nil {
		metrics.Global.RecordSave(mirrorErr != nil)
		return time.Time{}, vaulterr.Wrap(primaryErr, "writing wallet blob")
	}

	savedAt := f.now().UTC()
	if err := f.meta.SetLastSaveAt(ctx, savedAt); err != nil {
		return time.Time{}, err
	}

	metrics.Global.RecordSave(mirrorErr != nil)
	f.logger.Debug("wallet saved to %s at %s", info.Location, savedAt.Format(time.RFC3339))
	return savedAt, nil
}

// mirrorPut writes the blob to the mirror bucket. The bucket credential
// lives encrypted-at-rest in the primary store and only ever touches disk
// as a scoped temp file for the duration of the open.
func (f *Facade) mirrorPut(ctx context.Context, key string, ciphertext []byte) error {
	if f.opener == nil || f.mirrorCredKey == "" {
		return nil
	}

	cred, err := f.primary.Get(ctx, f.mirrorCredKey)
	if err != nil {
		return fmt.Errorf("fetching mirror credential: %w", err)
	}

	return fileutil.WithTempFile(f.stagingDir, "mirror-cred-*.json", cred, func(path string) error {
		mirror, err := f.opener.Open(ctx, path)
		if err != nil {
			return fmt.Errorf("opening mirror bucket: %w", err)
		}
		return mirror.Put(ctx, key, ciphertext)
	})
}

// Backup writes a timestamped snapshot encrypted with the backup-derived
// passphrase. Best effort: the caller is expected to log and move on.
func (f *Facade) Backup(ctx context.Context, w engine.Wallet) (err error) {
	defer func() { metrics.Global.RecordBackup(err) }()

	if w == nil {
		f.logger.Debug("no active wallet, skipping backup")
		return nil
	}

	info, err := f.meta.Get(ctx)
	if err != nil {
		return err
	}

	state, err := w.Serialize(ctx)
	if err != nil {
		return vaulterr.Wrap(err, "serializing wallet for backup")
	}

	ciphertext, err := vaultcrypto.Encrypt(state, f.backupPass)
	if err != nil {
		return vaulterr.Wrap(err, "encrypting backup")
	}
	vaultcrypto.ZeroBytes(state)

	backedAt := f.now().UTC()
	key := fmt.Sprintf("%s/%d", info.BackupsDir, backedAt.Unix())
	if err = f.primary.Put(ctx, key, ciphertext); err != nil {
		return vaulterr.Wrap(err, "writing backup blob")
	}

	if err = f.meta.SetLastBackupAt(ctx, backedAt); err != nil {
		return err
	}

	f.logger.Debug("backup written to %s", key)
	return nil
}

// Load reads and decrypts the persisted wallet state. A missing record
// surfaces as a master-wallet-info error; a missing or undecryptable blob
// as master-wallet-file, with the decrypt cause attached when there is
// one.
func (f *Facade) Load(ctx context.Context) (*LoadResult, error) {
	info, err := f.meta.Get(ctx)
	if err != nil {
		return nil, err
	}

	blob, err := f.primary.Get(ctx, info.Location)
	if err != nil {
		if vaulterr.Is(err, vaulterr.ErrBlobNotFound) {
			return nil, vaulterr.WithDetails(vaulterr.ErrWalletFile,
				map[string]string{"location": info.Location})
		}
		return nil, err
	}

	state, err := vaultcrypto.Decrypt(blob, f.primaryPass)
	if err != nil {
		// Same code as plain absence, but the decrypt cause rides along
		// so operators can tell the two apart.
		return nil, &vaulterr.VaultError{
			Code:    vaulterr.ErrWalletFile.Code,
			Message: "master wallet blob failed to decrypt",
			Details: map[string]string{"location": info.Location},
			Cause:   err,
			Status:  vaulterr.ErrWalletFile.Status,
		}
	}

	return &LoadResult{State: state, Info: info}, nil
}
