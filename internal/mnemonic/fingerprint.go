package mnemonic

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/tyler-smith/go-bip32"
)

// fingerprintLen is the length in bytes of a wallet fingerprint.
const fingerprintLen = 4

// Fingerprint derives a short identifier from a wallet seed: the leading
// bytes of the SHA256 of the BIP32 master public key. It is stored in the
// wallet metadata record so a blob can be matched against the record it
// belongs to without decrypting anything sensitive.
func Fingerprint(seed []byte) (string, error) {
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return "", fmt.Errorf("deriving master key: %w", err)
	}

	pub := master.PublicKey()
	sum := sha256.Sum256(pub.Key)
	return hex.EncodeToString(sum[:fingerprintLen]), nil
}
