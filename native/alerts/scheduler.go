package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"perq/core/events"
	"perq/observability"
)

// Scheduler re-runs the scanner on a cron schedule.
type Scheduler struct {
	scanner  *Scanner
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
	emitter  events.Emitter
	metrics  *observability.AlertMetrics

	mu     sync.Mutex
	last   Report
	ran    bool
	notify func(Report)
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger routes scheduler logs to logger.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEmitter publishes an AlertsScanned event after each run.
func WithEmitter(emitter events.Emitter) SchedulerOption {
	return func(s *Scheduler) {
		if emitter != nil {
			s.emitter = emitter
		}
	}
}

// WithMetrics records scan results on metrics.
func WithMetrics(metrics *observability.AlertMetrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = metrics }
}

// WithNotify registers a callback receiving each report.
func WithNotify(fn func(Report)) SchedulerOption {
	return func(s *Scheduler) { s.notify = fn }
}

// NewScheduler validates schedule and prepares the cron runner. The job is
// not started until Start.
func NewScheduler(scanner *Scanner, schedule string, opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		scanner:  scanner,
		schedule: schedule,
		logger:   slog.Default(),
		emitter:  events.NoopEmitter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelInfo))
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce() }); err != nil {
		return nil, fmt.Errorf("alerts: invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running scans in the background.
func (s *Scheduler) Start() {
	s.logger.Info("scheduled expiry scan", "schedule", s.schedule)
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running scan, or ctx, to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a scan immediately and publishes its result.
func (s *Scheduler) RunOnce() Report {
	report := s.scanner.Scan()
	for _, alert := range report.Alerts {
		if alert.Urgent {
			s.logger.Warn("points expiring soon",
				"card_id", alert.CardID,
				"card", alert.CardName,
				"points", alert.PointsExpiring,
				"days_remaining", alert.DaysRemaining)
		}
	}
	for _, stake := range report.Stakes {
		if stake.Matured {
			s.logger.Info("stake matured", "stake_id", stake.StakeID, "plan", stake.Plan, "earnings", stake.Earnings)
		}
	}
	s.metrics.RecordScan(report.Urgent, report.ExpiringSoon, report.Matured)
	s.emitter.Emit(events.AlertsScanned{Urgent: report.Urgent, Expiring: report.ExpiringSoon, Matured: report.Matured})

	s.mu.Lock()
	s.last = report
	s.ran = true
	notify := s.notify
	s.mu.Unlock()
	if notify != nil {
		notify(report)
	}
	return report
}

// Last returns the most recent scheduled report, if any.
func (s *Scheduler) Last() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.ran
}
