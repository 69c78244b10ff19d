// Package metadata manages the master wallet's persistent record and the
// sub-wallet ledger. The record exists independently of the wallet blob:
// lifecycle decisions (restart on stale saves, create idempotency) key off
// this record, never off the blob itself.
package metadata

import (
	"context"
	"time"
)

// WalletInfo is the master wallet's durable record.
type WalletInfo struct {
	// Location is the blob store key of the encrypted wallet state.
	Location string `json:"location"`

	// BackupsDir is the blob store prefix for timestamped backups.
	BackupsDir string `json:"backups_dir"`

	// LastSaveAt is when the wallet state was last persisted.
	LastSaveAt time.Time `json:"last_save_at"`

	// LastBackupAt is when a backup snapshot was last written.
	LastBackupAt time.Time `json:"last_backup_at"`

	// Fingerprint ties the record to its blob without decryption.
	Fingerprint string `json:"fingerprint,omitempty"`

	// CreatedAt is when the master wallet was created.
	CreatedAt time.Time `json:"created_at"`
}

// SubWalletInfo is one derived receive address tracked by the service.
type SubWalletInfo struct {
	Address   string    `json:"address"`
	Claimed   bool      `json:"claimed"`
	CreatedAt time.Time `json:"created_at"`
	PaymentID string    `json:"payment_id,omitempty"`
}

// Store persists the master wallet record and the sub-wallet ledger.
type Store interface {
	// Get returns the master wallet record, or ErrWalletInfo when no
	// record exists.
	Get(ctx context.Context) (*WalletInfo, error)

	// Create writes the initial record. It fails with ErrWalletInfoExists
	// when a record is already present, leaving it untouched.
	Create(ctx context.Context, info *WalletInfo) error

	// SetLastSaveAt records a completed save.
	SetLastSaveAt(ctx context.Context, at time.Time) error

	// SetLastBackupAt records a completed backup.
	SetLastBackupAt(ctx context.Context, at time.Time) error

	// AddSubWallet appends an entry to the sub-wallet ledger.
	AddSubWallet(ctx context.Context, sub SubWalletInfo) error

	// ListSubWallets returns the ledger, optionally filtered to claimed
	// entries.
	ListSubWallets(ctx context.Context, claimedOnly bool) ([]SubWalletInfo, error)
}
