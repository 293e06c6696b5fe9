// Package retention runs the audit log's retention sweep on a cron
// schedule, the same way the platform already schedules other periodic
// work: wrap robfig/cron, log each tick, keep failures from stopping the
// schedule.
package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/novaos/lensgate/internal/audit"
)

// Sweeper is the subset of audit.Store the scheduler needs.
type Sweeper interface {
	DeleteForRetention(ctx context.Context, olderThan time.Time) (int, error)
}

// Scheduler runs a daily sweep that deletes audit entries older than
// retentionDays, preserving survivors' previous_hash so the gap stays
// detectable by VerifyIntegrity.
type Scheduler struct {
	cron          *cron.Cron
	store         Sweeper
	retentionDays int
	logger        *zap.Logger
}

// NewScheduler builds a Scheduler. retentionDays must be positive; the
// caller is responsible for validating it came from configuration.
func NewScheduler(store audit.Store, retentionDays int, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:          cron.New(),
		store:         store,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Start registers the daily sweep job and starts the underlying cron
// runner. Call Stop to drain any in-flight run before shutdown.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@daily", s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("audit retention scheduler started", zap.Int("retention_days", s.retentionDays))
	return nil
}

// Stop blocks until the currently running job (if any) completes.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("audit retention scheduler stopped")
}

func (s *Scheduler) sweep() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := s.store.DeleteForRetention(ctx, cutoff)
	if err != nil {
		s.logger.Error("audit retention sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("audit retention sweep complete", zap.Int("deleted", deleted), zap.Time("cutoff", cutoff))
}
