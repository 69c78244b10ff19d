package vaultcrypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Passphrase purposes. Primary and backup blobs are encrypted under
// distinct derived passphrases so a leaked backup key cannot open the
// primary blob, and vice versa.
const (
	PurposePrimary = "wallet-primary"
	PurposeBackup  = "wallet-backup"
)

// derivedKeyLen is the length in bytes of a derived passphrase key.
const derivedKeyLen = 32

// ErrEmptySecret indicates an empty shared secret was provided.
var ErrEmptySecret = errors.New("shared secret is empty")

// DerivePassphrase expands the deployment's shared secret into a
// purpose-bound passphrase using HKDF-SHA256. The purpose string is the
// HKDF info parameter; the same secret with a different purpose yields an
// unrelated passphrase.
func DerivePassphrase(secret []byte, purpose string) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}

	r := hkdf.New(sha256.New, secret, nil, []byte("hotvault/v1/"+purpose))
	key := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return "", fmt.Errorf("deriving passphrase: %w", err)
	}

	return hex.EncodeToString(key), nil
}
