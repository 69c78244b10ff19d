// Package errors provides structured error handling for hotvault.
// It defines the service error taxonomy, HTTP status mapping, and helpers
// for adding context, details, and suggestions to errors.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// VaultError is the structured error type for hotvault.
type VaultError struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for the operator
	Cause      error             // Underlying error
	Status     int               // HTTP status a request handler should map this to
}

func (e *VaultError) Error() string {
	msg := e.Message

	// Include details in error message (sorted for deterministic output)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *VaultError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for VaultError.
func (e *VaultError) Is(target error) bool {
	var t *VaultError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Service error taxonomy. Request handlers translate these codes directly
// into service error responses so operators can tell a storage outage from
// a peer desync from an administrative halt.
var (
	// ErrWalletInfo indicates the master wallet metadata record is missing
	// or unreadable.
	ErrWalletInfo = &VaultError{
		Code:    "master-wallet-info",
		Message: "master wallet info record missing or unreadable",
		Status:  http.StatusNotFound,
	}

	// ErrWalletInfoExists indicates a master wallet record already exists.
	ErrWalletInfoExists = &VaultError{
		Code:    "master-wallet-info-exists",
		Message: "master wallet already initialized",
		Status:  http.StatusConflict,
	}

	// ErrWalletFile indicates the wallet blob is missing or undecryptable.
	ErrWalletFile = &VaultError{
		Code:    "master-wallet-file",
		Message: "master wallet file missing or undecryptable",
		Status:  http.StatusNotFound,
	}

	// ErrSyncFailed indicates the sync wait was exhausted without the
	// wallet catching up to the network.
	ErrSyncFailed = &VaultError{
		Code:    "master-wallet-sync-failed",
		Message: "master wallet failed to sync with the network",
		Status:  http.StatusServiceUnavailable,
	}

	// ErrServiceHalted indicates the administrative halt flag is set.
	ErrServiceHalted = &VaultError{
		Code:    "service-halted",
		Message: "service is administratively halted",
		Status:  http.StatusServiceUnavailable,
	}

	// ErrUnknown wraps remote or transport failures with no better
	// classification.
	ErrUnknown = &VaultError{
		Code:    "unknown-error",
		Message: "an unknown error occurred",
		Status:  http.StatusInternalServerError,
	}
)

// Supporting sentinels used by the surrounding stack.
var (
	// ErrInvalidInput indicates invalid caller input.
	ErrInvalidInput = &VaultError{
		Code:    "invalid-input",
		Message: "invalid input",
		Status:  http.StatusBadRequest,
	}

	// ErrInvalidMnemonic indicates a mnemonic phrase failed validation.
	ErrInvalidMnemonic = &VaultError{
		Code:    "invalid-mnemonic",
		Message: "invalid mnemonic phrase",
		Status:  http.StatusBadRequest,
	}

	// ErrConfigInvalid indicates the configuration failed validation.
	ErrConfigInvalid = &VaultError{
		Code:    "config-invalid",
		Message: "configuration is invalid",
		Status:  http.StatusInternalServerError,
	}

	// ErrDecryptionFailed indicates a blob decrypted with the wrong secret
	// or is corrupted.
	ErrDecryptionFailed = &VaultError{
		Code:    "decryption-failed",
		Message: "decryption failed - wrong secret or corrupted blob",
		Status:  http.StatusInternalServerError,
	}

	// ErrBlobNotFound indicates a blob is absent at the requested key.
	ErrBlobNotFound = &VaultError{
		Code:    "blob-not-found",
		Message: "blob not found",
		Status:  http.StatusNotFound,
	}

	// ErrTokenExchange indicates the bearer token exchange failed.
	// Terminal for any dependent delegate call; not retried.
	ErrTokenExchange = &VaultError{
		Code:    "token-exchange-failed",
		Message: "bearer token exchange failed",
		Status:  http.StatusBadGateway,
	}

	// ErrDelegate indicates the remote delegate wallet returned an error.
	ErrDelegate = &VaultError{
		Code:    "delegate-error",
		Message: "remote delegate wallet call failed",
		Status:  http.StatusBadGateway,
	}
)

// New creates a new VaultError with the given code and message.
func New(code, message string) *VaultError {
	return &VaultError{
		Code:    code,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context. A wrapped VaultError keeps
// its code and status; anything else becomes an unknown-error.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var ve *VaultError
	if errors.As(err, &ve) {
		return &VaultError{
			Code:       ve.Code,
			Message:    fmt.Sprintf("%s: %s", msg, ve.Message),
			Details:    ve.Details,
			Suggestion: ve.Suggestion,
			Cause:      err,
			Status:     ve.Status,
		}
	}

	return &VaultError{
		Code:    ErrUnknown.Code,
		Message: msg,
		Cause:   err,
		Status:  ErrUnknown.Status,
	}
}

// WithDetails adds details to an error.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var ve *VaultError
	if errors.As(err, &ve) {
		return &VaultError{
			Code:       ve.Code,
			Message:    ve.Message,
			Details:    details,
			Suggestion: ve.Suggestion,
			Cause:      ve.Cause,
			Status:     ve.Status,
		}
	}

	return &VaultError{
		Code:    ErrUnknown.Code,
		Message: err.Error(),
		Details: details,
		Cause:   err,
		Status:  ErrUnknown.Status,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var ve *VaultError
	if errors.As(err, &ve) {
		return &VaultError{
			Code:       ve.Code,
			Message:    ve.Message,
			Details:    ve.Details,
			Suggestion: suggestion,
			Cause:      ve.Cause,
			Status:     ve.Status,
		}
	}

	return &VaultError{
		Code:       ErrUnknown.Code,
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		Status:     ErrUnknown.Status,
	}
}

// Code returns the machine-readable code for an error, or unknown-error
// for errors outside the taxonomy.
func Code(err error) string {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ErrUnknown.Code
}

// Status returns the HTTP status a handler should respond with for an error.
func Status(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Status
	}
	return http.StatusInternalServerError
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
