package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names.
const (
	EnvHome            = "HOTVAULT_HOME"
	EnvDaemonHost      = "HOTVAULT_DAEMON_HOST"
	EnvDaemonPort      = "HOTVAULT_DAEMON_PORT"
	EnvHalted          = "HOTVAULT_HALTED"
	EnvSyncTimeout     = "HOTVAULT_SYNC_TIMEOUT_SECONDS"
	EnvDelegateURL     = "HOTVAULT_DELEGATE_URL"
	EnvDelegateKeyFile = "HOTVAULT_DELEGATE_KEY_FILE" // #nosec G101 -- false positive, this is a const name not a credential
	EnvLogLevel        = "HOTVAULT_LOG_LEVEL"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvDaemonHost); v != "" {
		cfg.Daemon.Host = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvDaemonPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Daemon.Port = port
		}
	}

	if v := os.Getenv(EnvHalted); v != "" {
		cfg.Service.Halted = parseBool(v)
	}

	if v := os.Getenv(EnvSyncTimeout); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Service.WaitForSyncTimeoutSeconds = secs
		}
	}

	if v := os.Getenv(EnvDelegateURL); v != "" {
		cfg.Delegate.BaseURL = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvDelegateKeyFile); v != "" {
		cfg.Delegate.SigningKeyFile = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}
