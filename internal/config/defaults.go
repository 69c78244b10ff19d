package config

import "path/filepath"

// Lifecycle defaults. The instance age bound keeps memory and peer-resource
// growth in check and forces a periodic resync; the rewind distance covers
// short chain reorganizations near the tip.
const (
	// DefaultMaxInstanceAgeMinutes is the maximum wallet instance lifetime.
	DefaultMaxInstanceAgeMinutes = 10

	// DefaultRewindDistance is the number of blocks reprocessed on restart.
	DefaultRewindDistance = 40

	// DefaultWaitForSyncTimeoutSeconds bounds the sync wait on access.
	DefaultWaitForSyncTimeoutSeconds = 60

	// DefaultDelegateMaxUptimeHours is the remote wallet's uptime bound.
	DefaultDelegateMaxUptimeHours = 4
)

// Defaults returns the default configuration.
func Defaults() *Config {
	home := DefaultHome()
	return &Config{
		Version: 1,
		Home:    home,
		Daemon: DaemonConfig{
			Host: "127.0.0.1",
			Port: 11898,
		},
		Engine: EngineConfig{
			RPCURL:              "http://127.0.0.1:18090",
			PollIntervalSeconds: 2,
		},
		Service: ServiceConfig{
			Halted:                    false,
			WaitForSyncTimeoutSeconds: DefaultWaitForSyncTimeoutSeconds,
			MaxInstanceAgeMinutes:     DefaultMaxInstanceAgeMinutes,
			RewindDistance:            DefaultRewindDistance,
			SaveIntervalMinutes:       15,
			BackupIntervalMinutes:     60,
		},
		Storage: StorageConfig{
			PrimaryDir:          filepath.Join(home, "store"),
			WalletKey:           "wallets/master",
			BackupsPrefix:       "wallets/backups",
			MirrorDir:           filepath.Join(home, "mirror"),
			MirrorCredentialKey: "credentials/delegate-service-account",
		},
		Delegate: DelegateConfig{
			BaseURL:        "",
			Audience:       "",
			TokenURL:       "https://oauth2.googleapis.com/token",
			ClientEmail:    "",
			SigningKeyFile: filepath.Join(home, "delegate-signing-key.pem"),
			MaxUptimeHours: DefaultDelegateMaxUptimeHours,
			RatePerSecond:  5,
			Burst:          10,
		},
		Logging: LoggingConfig{
			Level: "error",
			File:  filepath.Join(home, "hotvault.log"),
		},
	}
}
