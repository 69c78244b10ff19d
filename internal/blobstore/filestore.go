package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mrz1836/hotvault/internal/fileutil"
	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

const (
	blobPerm = 0o600
	dirPerm  = 0o700
)

// FileStore is a directory-backed Store. Each key maps to a file under
// the root; writes are atomic.
type FileStore struct {
	root string
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, vaulterr.WithDetails(vaulterr.ErrInvalidInput,
			map[string]string{"dir": "must not be empty"})
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &FileStore{root: dir}, nil
}

// Put implements Store.
func (s *FileStore) Put(_ context.Context, key string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("creating blob dir: %w", err)
	}
	return fileutil.WriteAtomic(path, data, blobPerm)
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is confined to the store root
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vaulterr.WithDetails(vaulterr.ErrBlobNotFound,
				map[string]string{"key": key})
		}
		return nil, vaulterr.Wrap(err, "reading blob %q", key)
	}
	return data, nil
}

// Exists implements Store.
func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, vaulterr.Wrap(err, "checking blob %q", key)
	}
	return true, nil
}

// resolve maps a key to an on-disk path, rejecting keys that would escape
// the store root.
func (s *FileStore) resolve(key string) (string, error) {
	if key == "" {
		return "", vaulterr.WithDetails(vaulterr.ErrInvalidInput,
			map[string]string{"key": "must not be empty"})
	}

	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", vaulterr.WithDetails(vaulterr.ErrInvalidInput,
			map[string]string{"key": "must stay within the store root"})
	}
	return filepath.Join(s.root, clean), nil
}
