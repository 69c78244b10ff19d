// Package config provides configuration management for hotvault.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

// Config represents the daemon configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Home     string         `yaml:"home"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Engine   EngineConfig   `yaml:"engine"`
	Service  ServiceConfig  `yaml:"service"`
	Storage  StorageConfig  `yaml:"storage"`
	Delegate DelegateConfig `yaml:"delegate"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// EngineConfig locates the wallet RPC daemon backing the engine.
type EngineConfig struct {
	// RPCURL is the wallet RPC daemon's base URL, loopback in practice.
	RPCURL string `yaml:"rpc_url"`

	// PollIntervalSeconds is how often open wallets poll for sync
	// progress.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// DaemonConfig identifies the network peer the wallet engine syncs against.
type DaemonConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ServiceConfig defines lifecycle and scheduling settings.
type ServiceConfig struct {
	// Halted is the administrative halt flag; when set, wallet access is
	// refused with a service-halted error.
	Halted bool `yaml:"halted"`

	// WaitForSyncTimeoutSeconds bounds the sync wait during wallet access.
	WaitForSyncTimeoutSeconds int `yaml:"wait_for_sync_timeout_seconds"`

	// MaxInstanceAgeMinutes bounds the lifetime of a wallet instance
	// before a restart is forced.
	MaxInstanceAgeMinutes int `yaml:"max_instance_age_minutes"`

	// RewindDistance is the number of blocks to reprocess when a new
	// instance starts, defending against near-tip forks.
	RewindDistance int `yaml:"rewind_distance"`

	// SaveIntervalMinutes is the period of the scheduled wallet save.
	SaveIntervalMinutes int `yaml:"save_interval_minutes"`

	// BackupIntervalMinutes is the period of the scheduled wallet backup.
	BackupIntervalMinutes int `yaml:"backup_interval_minutes"`
}

// StorageConfig defines the blob storage locations.
type StorageConfig struct {
	// PrimaryDir is the primary blob store root.
	PrimaryDir string `yaml:"primary_dir"`

	// WalletKey is the primary wallet blob address within the store.
	WalletKey string `yaml:"wallet_key"`

	// BackupsPrefix is the address prefix for timestamped backups.
	BackupsPrefix string `yaml:"backups_prefix"`

	// MirrorDir is the root of the delegate project's mirrored store.
	MirrorDir string `yaml:"mirror_dir"`

	// MirrorCredentialKey addresses the service-account credential blob
	// used to open the mirror store.
	MirrorCredentialKey string `yaml:"mirror_credential_key"`
}

// DelegateConfig defines the remote delegate wallet service settings.
type DelegateConfig struct {
	BaseURL        string `yaml:"base_url"`
	Audience       string `yaml:"audience"`
	TokenURL       string `yaml:"token_url"`
	ClientEmail    string `yaml:"client_email"`
	SigningKeyFile string `yaml:"signing_key_file"`

	// MaxUptimeHours forces a remote restart when the delegate wallet has
	// been up longer than this, analogous to the local instance age bound
	// but longer since the remote side is more expensive to restart.
	MaxUptimeHours int `yaml:"max_uptime_hours"`

	// RatePerSecond and Burst shape the token bucket applied to delegate
	// API calls.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// WaitForSyncTimeout returns the sync wait budget as a duration.
func (c *Config) WaitForSyncTimeout() time.Duration {
	return time.Duration(c.Service.WaitForSyncTimeoutSeconds) * time.Second
}

// MaxInstanceAge returns the maximum wallet instance lifetime.
func (c *Config) MaxInstanceAge() time.Duration {
	return time.Duration(c.Service.MaxInstanceAgeMinutes) * time.Minute
}

// SaveInterval returns the scheduled save period.
func (c *Config) SaveInterval() time.Duration {
	return time.Duration(c.Service.SaveIntervalMinutes) * time.Minute
}

// BackupInterval returns the scheduled backup period.
func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.Service.BackupIntervalMinutes) * time.Minute
}

// DelegateMaxUptime returns the remote wallet's maximum uptime.
func (c *Config) DelegateMaxUptime() time.Duration {
	return time.Duration(c.Delegate.MaxUptimeHours) * time.Hour
}

// EnginePollInterval returns the wallet RPC sync poll period.
func (c *Config) EnginePollInterval() time.Duration {
	return time.Duration(c.Engine.PollIntervalSeconds) * time.Second
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Daemon.Host == "" {
		return vaulterr.WithDetails(vaulterr.ErrConfigInvalid,
			map[string]string{"field": "daemon.host"})
	}
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return vaulterr.WithDetails(vaulterr.ErrConfigInvalid,
			map[string]string{"field": "daemon.port"})
	}
	if c.Service.WaitForSyncTimeoutSeconds <= 0 {
		return vaulterr.WithDetails(vaulterr.ErrConfigInvalid,
			map[string]string{"field": "service.wait_for_sync_timeout_seconds"})
	}
	if c.Service.RewindDistance < 0 {
		return vaulterr.WithDetails(vaulterr.ErrConfigInvalid,
			map[string]string{"field": "service.rewind_distance"})
	}
	if c.Storage.WalletKey == "" {
		return vaulterr.WithDetails(vaulterr.ErrConfigInvalid,
			map[string]string{"field": "storage.wallet_key"})
	}
	return nil
}

// Load reads configuration from the specified file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// DefaultHome returns the default hotvault home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hotvault"
	}
	return filepath.Join(home, ".hotvault")
}
