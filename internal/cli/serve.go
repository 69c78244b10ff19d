package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/hotvault/internal/metrics"
	"github.com/mrz1836/hotvault/internal/service"
)

// metricsLogInterval is how often the serve loop logs a counters
// snapshot at debug level.
const metricsLogInterval = 5 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the wallet lifecycle daemon",
	Long: `Runs the daemon: brings up the master wallet, keeps it synced and
restarted per policy, saves and backs up on schedule, and serves
transaction operations through the remote wallet delegate until
interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	secret, err := deploymentSecret()
	if err != nil {
		return err
	}
	defer zero(secret)

	comps, err := buildComponents(cfg, logger, secret)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bring the wallet up front so misconfiguration surfaces at startup
	// rather than on the first request.
	if _, err := comps.svc.ServiceWallet(ctx); err != nil {
		return err
	}
	logger.Info("wallet instance up, daemon peer %s:%d", cfg.Daemon.Host, cfg.Daemon.Port)
	fmt.Fprintln(cmd.OutOrStdout(), "hotvault serving; Ctrl-C to stop")

	sched := service.NewScheduler(comps.svc, cfg.SaveInterval(), cfg.BackupInterval(), logger)
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	ticker := time.NewTicker(metricsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := metrics.Global.Snapshot()
			logger.Debug("counters: acquires=%d restarts=%d saves=%d mirror_failures=%d backups=%d sync_timeouts=%d node_drops=%d delegate_calls=%d",
				snap.AcquiresTotal, snap.RestartsTotal, snap.SavesTotal,
				snap.SaveMirrorFailures, snap.BackupsTotal, snap.SyncTimeouts,
				snap.NodeDropsTotal, snap.DelegateCalls)
		case <-ctx.Done():
			<-done
			return shutdown(comps)
		}
	}
}

// shutdown saves the active wallet and stops it. A failed final save is
// reported but does not block the stop.
func shutdown(comps *components) error {
	// The serve context is gone; give the final save its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := comps.svc.Save(ctx); err != nil {
		logger.Error("final save failed: %v", err)
	}
	comps.reg.Close(ctx)
	return nil
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(serveCmd)
}
