package blobstore

import (
	"context"
	"encoding/json"
	"os"

	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

// fileCredential is the on-disk shape of a mirror bucket credential for
// the file-backed store: it names the bucket root to write into.
type fileCredential struct {
	Root string `json:"root"`
}

// FileCredentialOpener opens file-backed mirror stores from a staged
// credential document.
type FileCredentialOpener struct{}

// Open implements CredentialOpener.
func (FileCredentialOpener) Open(_ context.Context, credentialFile string) (Store, error) {
	data, err := os.ReadFile(credentialFile) //nolint:gosec // G304: path comes from scoped temp staging
	if err != nil {
		return nil, vaulterr.Wrap(err, "reading mirror credential")
	}

	var cred fileCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, vaulterr.Wrap(err, "decoding mirror credential")
	}
	if cred.Root == "" {
		return nil, vaulterr.WithDetails(vaulterr.ErrInvalidInput,
			map[string]string{"credential": "missing bucket root"})
	}

	return NewFileStore(cred.Root)
}
