// Package scheduler runs the periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"datalab-service/internal/backup"
	"datalab-service/internal/config"
)

// CacheRefresher recomputes stale cache entries.
type CacheRefresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler owns a cron runner with the cache check and backup jobs.
type Scheduler struct {
	cronRunner *cron.Cron
	cache      CacheRefresher
	backup     backup.Backuper
	opts       config.ScheduleOptions
	log        logrus.FieldLogger

	// jobTimeout bounds one job run.
	jobTimeout time.Duration
}

func New(opts config.ScheduleOptions, cache CacheRefresher, bk backup.Backuper, log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cronLog := cron.PrintfLogger(log)
	return &Scheduler{
		cronRunner: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLog),
			cron.Recover(cronLog),
		)),
		cache:      cache,
		backup:     bk,
		opts:       opts,
		log:        log,
		jobTimeout: 30 * time.Minute,
	}
}

// Start adds the configured jobs and starts the runner. It does not block.
func (s *Scheduler) Start() error {
	if s.opts.CacheCheck != "" && s.cache != nil {
		id, err := s.cronRunner.AddFunc(s.opts.CacheCheck, s.refreshCache)
		if err != nil {
			return fmt.Errorf("invalid cache check schedule %q: %w", s.opts.CacheCheck, err)
		}
		s.log.WithFields(logrus.Fields{"entry_id": id, "schedule": s.opts.CacheCheck}).Info("Scheduled cache check")
	}
	if s.opts.Backup != "" && s.backup != nil {
		id, err := s.cronRunner.AddFunc(s.opts.Backup, s.runBackup)
		if err != nil {
			return fmt.Errorf("invalid backup schedule %q: %w", s.opts.Backup, err)
		}
		s.log.WithFields(logrus.Fields{"entry_id": id, "schedule": s.opts.Backup}).Info("Scheduled backup")
	}
	s.cronRunner.Start()
	return nil
}

// Stop shuts the runner down, waiting up to 15 seconds for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cronRunner.Stop()
	select {
	case <-ctx.Done():
		s.log.Info("Scheduler stopped")
	case <-time.After(15 * time.Second):
		s.log.Warn("Scheduler shutdown timed out")
	}
}

// Entries returns the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cronRunner.Entries())
}

func (s *Scheduler) refreshCache() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	if err := s.cache.Refresh(ctx); err != nil {
		s.log.WithError(err).Warn("Scheduled cache check failed")
		return
	}
	s.log.Debug("Scheduled cache check finished")
}

func (s *Scheduler) runBackup() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	a, err := s.backup.Backup(ctx)
	if err != nil {
		s.log.WithError(err).Error("Scheduled backup failed")
		return
	}
	if a != nil {
		s.log.WithField("path", a.Path).Info("Scheduled backup written")
	}
}
