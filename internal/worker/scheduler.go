package worker

import (
	"context"
	"time"

	"enrollment-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Dispatcher drains one batch of the email outbox
type Dispatcher interface {
	DispatchOnce(ctx context.Context) (DispatchStats, error)
}

// StaleReporter reports payments stuck in PENDING
type StaleReporter interface {
	ReportStalePending(ctx context.Context, olderThan time.Duration) (int, error)
}

// SchedulerConfig holds the cron specs, with seconds precision
type SchedulerConfig struct {
	OutboxSpec        string
	StalePendingSpec  string
	StalePendingAfter time.Duration
	JobTimeout        time.Duration
}

// Scheduler runs the periodic jobs
type Scheduler struct {
	cron       *cron.Cron
	dispatcher Dispatcher
	reporter   StaleReporter
	cfg        SchedulerConfig
	logger     *zap.Logger
}

// NewScheduler creates a scheduler. A job still running when its next tick
// arrives makes that tick skip.
func NewScheduler(dispatcher Dispatcher, reporter StaleReporter, cfg SchedulerConfig) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	logger := util.Component("scheduler")
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)
	return &Scheduler{
		cron:       c,
		dispatcher: dispatcher,
		reporter:   reporter,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start registers the jobs and starts the scheduler
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.OutboxSpec, s.job("dispatch_email_outbox", s.dispatchOutbox)); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.StalePendingSpec, s.job("report_stale_pending", s.reportStalePending)); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.String("outbox_spec", s.cfg.OutboxSpec),
		zap.String("stale_pending_spec", s.cfg.StalePendingSpec))
	return nil
}

// Stop stops scheduling and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) job(name string, run func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
		defer cancel()

		start := time.Now()
		if err := run(ctx); err != nil {
			s.logger.Error("Job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.logger.Debug("Job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	}
}

func (s *Scheduler) dispatchOutbox(ctx context.Context) error {
	_, err := s.dispatcher.DispatchOnce(ctx)
	return err
}

func (s *Scheduler) reportStalePending(ctx context.Context) error {
	_, err := s.reporter.ReportStalePending(ctx, s.cfg.StalePendingAfter)
	return err
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
