package fileutil

import (
	"fmt"
	"os"
)

// tempFilePermissions is the permission mode for staged temp files.
// Staged content is typically credential material.
const tempFilePermissions = 0o600

// WithTempFile stages data in a temporary file and invokes fn with its path.
// The file is removed on every exit path: fn success, fn error, or a write
// failure. The removal error is intentionally dropped; the file lives in an
// os.CreateTemp directory and cannot be reused.
func WithTempFile(dir, pattern string, data []byte, fn func(path string) error) error {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	path := f.Name()
	defer func() {
		_ = os.Remove(path)
	}()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Chmod(tempFilePermissions); err != nil {
		_ = f.Close()
		return fmt.Errorf("setting temp file permissions: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	return fn(path)
}
