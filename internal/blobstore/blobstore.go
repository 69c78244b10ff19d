// Package blobstore abstracts opaque blob storage for encrypted wallet
// state and backups. Keys are slash-separated paths ("wallets/master",
// "wallets/backups/1700000000").
package blobstore

import (
	"context"
)

// Store reads and writes opaque blobs by key.
type Store interface {
	// Put writes data under key, replacing any existing blob.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the blob at key, or ErrBlobNotFound when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether a blob is present at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// CredentialOpener constructs a Store from a service-account credential
// file. The mirror bucket is opened fresh for each save so credentials
// never have to outlive the write.
type CredentialOpener interface {
	Open(ctx context.Context, credentialFile string) (Store, error)
}
