package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mrz1836/hotvault/internal/fileutil"
	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

const (
	walletInfoFile = "wallet-info.json"
	subWalletsFile = "subwallets.json"

	filePerm = 0o600
	dirPerm  = 0o700
)

// FileStore keeps the wallet record and sub-wallet ledger as JSON
// documents under a base directory, written atomically.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, vaulterr.WithDetails(vaulterr.ErrInvalidInput,
			map[string]string{"dir": "must not be empty"})
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating metadata dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) infoPath() string {
	return filepath.Join(s.dir, walletInfoFile)
}

func (s *FileStore) subsPath() string {
	return filepath.Join(s.dir, subWalletsFile)
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context) (*WalletInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readInfo()
}

// Create implements Store. The existence check and the write happen under
// one lock so concurrent creates cannot both succeed.
func (s *FileStore) Create(_ context.Context, info *WalletInfo) error {
	if info == nil {
		return vaulterr.WithDetails(vaulterr.ErrInvalidInput,
			map[string]string{"info": "must not be nil"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.infoPath()); err == nil {
		return vaulterr.ErrWalletInfoExists
	} else if !os.IsNotExist(err) {
		return vaulterr.Wrap(err, "checking wallet record")
	}

	return s.writeInfo(info)
}

// SetLastSaveAt implements Store.
func (s *FileStore) SetLastSaveAt(_ context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.readInfo()
	if err != nil {
		return err
	}
	info.LastSaveAt = at
	return s.writeInfo(info)
}

// SetLastBackupAt implements Store.
func (s *FileStore) SetLastBackupAt(_ context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.readInfo()
	if err != nil {
		return err
	}
	info.LastBackupAt = at
	return s.writeInfo(info)
}

// AddSubWallet implements Store.
func (s *FileStore) AddSubWallet(_ context.Context, sub SubWalletInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.readSubs()
	if err != nil {
		return err
	}
	subs = append(subs, sub)

	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sub-wallet ledger: %w", err)
	}
	return fileutil.WriteAtomic(s.subsPath(), data, filePerm)
}

// ListSubWallets implements Store.
func (s *FileStore) ListSubWallets(_ context.Context, claimedOnly bool) ([]SubWalletInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.readSubs()
	if err != nil {
		return nil, err
	}
	if !claimedOnly {
		return subs, nil
	}

	claimed := make([]SubWalletInfo, 0, len(subs))
	for _, sub := range subs {
		if sub.Claimed {
			claimed = append(claimed, sub)
		}
	}
	return claimed, nil
}

func (s *FileStore) readInfo() (*WalletInfo, error) {
	data, err := os.ReadFile(s.infoPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vaulterr.WithDetails(vaulterr.ErrWalletInfo,
				map[string]string{"path": s.infoPath()})
		}
		return nil, vaulterr.Wrap(err, "reading wallet record")
	}

	var info WalletInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, vaulterr.Wrap(err, "decoding wallet record")
	}
	return &info, nil
}

func (s *FileStore) writeInfo(info *WalletInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding wallet record: %w", err)
	}
	return fileutil.WriteAtomic(s.infoPath(), data, filePerm)
}

func (s *FileStore) readSubs() ([]SubWalletInfo, error) {
	data, err := os.ReadFile(s.subsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, vaulterr.Wrap(err, "reading sub-wallet ledger")
	}

	var subs []SubWalletInfo
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, vaulterr.Wrap(err, "decoding sub-wallet ledger")
	}
	return subs, nil
}
