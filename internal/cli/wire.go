package cli

import (
	"path/filepath"

	"github.com/mrz1836/hotvault/internal/blobstore"
	"github.com/mrz1836/hotvault/internal/config"
	"github.com/mrz1836/hotvault/internal/delegate"
	"github.com/mrz1836/hotvault/internal/engine/rpc"
	"github.com/mrz1836/hotvault/internal/metadata"
	"github.com/mrz1836/hotvault/internal/persist"
	"github.com/mrz1836/hotvault/internal/registry"
	"github.com/mrz1836/hotvault/internal/service"
	"github.com/mrz1836/hotvault/internal/token"
)

// components is everything a command needs, wired from config.
type components struct {
	reg    *registry.Registry
	svc    *service.WalletService
	facade *persist.Facade
	meta   metadata.Store
	remote *delegate.Client
}

// buildComponents wires the storage, engine, registry, delegate, and
// service layers from the loaded configuration.
func buildComponents(cfg *config.Config, logger *config.Logger, secret []byte) (*components, error) {
	primary, err := blobstore.NewFileStore(cfg.Storage.PrimaryDir)
	if err != nil {
		return nil, err
	}

	meta, err := metadata.NewFileStore(filepath.Join(cfg.Home, "metadata"))
	if err != nil {
		return nil, err
	}

	facadeOpts := []persist.FacadeOption{persist.WithLogger(logger)}
	if cfg.Storage.MirrorCredentialKey != "" {
		facadeOpts = append(facadeOpts,
			persist.WithMirror(blobstore.FileCredentialOpener{}, cfg.Storage.MirrorCredentialKey))
	}
	facade, err := persist.NewFacade(primary, meta, secret, facadeOpts...)
	if err != nil {
		return nil, err
	}

	engineClient := rpc.NewClient(cfg.Engine.RPCURL,
		rpc.WithPollInterval(cfg.EnginePollInterval()))
	syncer := registry.NewSyncWaiter(engineClient, logger)

	reg := registry.NewRegistry(engineClient, facade, meta, syncer, registry.Options{
		DaemonHost:     cfg.Daemon.Host,
		DaemonPort:     cfg.Daemon.Port,
		MaxInstanceAge: cfg.MaxInstanceAge(),
		RewindDistance: uint64(cfg.Service.RewindDistance),
		WalletKey:      cfg.Storage.WalletKey,
		BackupsPrefix:  cfg.Storage.BackupsPrefix,
	}, logger)

	var remote *delegate.Client
	if cfg.Delegate.BaseURL != "" {
		tokens, tokenErr := token.NewJWTProvider(cfg.Delegate.TokenURL,
			cfg.Delegate.Audience, cfg.Delegate.ClientEmail, cfg.Delegate.SigningKeyFile)
		if tokenErr != nil {
			return nil, tokenErr
		}
		remote = delegate.NewClient(cfg.Delegate.BaseURL, tokens,
			delegate.WithLogger(logger),
			delegate.WithMaxUptime(cfg.DelegateMaxUptime()),
			delegate.WithRateLimiter(delegate.NewRateLimiter(
				cfg.Delegate.RatePerSecond, cfg.Delegate.Burst)))
	}

	svc := service.NewWalletService(reg, facade, meta, remote, service.ServiceOptions{
		SyncWaitTimeout: cfg.WaitForSyncTimeout(),
		DaemonHost:      cfg.Daemon.Host,
		DaemonPort:      cfg.Daemon.Port,
		Halted:          cfg.Service.Halted,
	}, logger)

	return &components{
		reg:    reg,
		svc:    svc,
		facade: facade,
		meta:   meta,
		remote: remote,
	}, nil
}
