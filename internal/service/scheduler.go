package service

import (
	"context"
	"time"

	"github.com/mrz1836/hotvault/internal/config"
)

// Scheduler drives periodic saves and backups of the active wallet.
// Failures are logged and the ticker keeps running; durability work must
// never take the serve loop down.
type Scheduler struct {
	svc            *WalletService
	logger         *config.Logger
	saveInterval   time.Duration
	backupInterval time.Duration
}

// NewScheduler returns a scheduler over svc. Non-positive intervals
// disable the corresponding ticker.
func NewScheduler(svc *WalletService, saveInterval, backupInterval time.Duration, logger *config.Logger) *Scheduler {
	if logger == nil {
		logger = config.NullLogger()
	}
	return &Scheduler{
		svc:            svc,
		logger:         logger,
		saveInterval:   saveInterval,
		backupInterval: backupInterval,
	}
}

// Run blocks until ctx is canceled, firing saves and backups on their
// intervals.
func (s *Scheduler) Run(ctx context.Context) {
	saveC := ticker(ctx, s.saveInterval)
	backupC := ticker(ctx, s.backupInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-saveC:
			if err := s.svc.Save(ctx); err != nil {
				s.logger.Error("scheduled save failed: %v", err)
			}
		case <-backupC:
			if err := s.svc.Backup(ctx); err != nil {
				s.logger.Error("scheduled backup failed: %v", err)
			}
		}
	}
}

// ticker returns a tick channel for interval, or a never-firing channel
// when the interval is disabled.
func ticker(ctx context.Context, interval time.Duration) <-chan time.Time {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	go func() {
		<-ctx.Done()
		t.Stop()
	}()
	return t.C
}
