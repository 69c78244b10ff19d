package cli

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/mrz1836/hotvault/internal/vaultcrypto"
	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

// EnvSecret carries the deployment secret in non-interactive setups.
const EnvSecret = "HOTVAULT_SECRET"

// deploymentSecret returns the secret the storage passphrases are derived
// from: the HOTVAULT_SECRET environment variable when set, otherwise a
// hidden terminal prompt. The caller zeroes the returned bytes.
func deploymentSecret() ([]byte, error) {
	if v := os.Getenv(EnvSecret); v != "" {
		return []byte(v), nil
	}
	return promptSecret("Enter deployment secret: ")
}

// promptSecret prompts for a secret with hidden input.
// The caller is responsible for zeroing the returned bytes after use.
func promptSecret(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)

	secret, err := term.ReadPassword(syscall.Stdin)
	fmt.Fprintln(os.Stderr) // Add newline after hidden input

	if err != nil {
		return nil, fmt.Errorf("reading secret: %w", err)
	}

	if len(secret) == 0 {
		return nil, vaulterr.WithSuggestion(
			vaulterr.ErrInvalidInput,
			"set HOTVAULT_SECRET or enter a non-empty secret",
		)
	}

	return secret, nil
}

// zero wipes a secret buffer.
func zero(b []byte) {
	vaultcrypto.ZeroBytes(b)
}
