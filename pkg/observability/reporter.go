package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/mcpecho/internal/logging"
	"github.com/aretw0/mcpecho/pkg/domain"
	"github.com/robfig/cron/v3"
)

// StatsSource provides registry statistics.
type StatsSource interface {
	Stats(ctx context.Context) (domain.Stats, error)
}

// Reporter logs registry statistics on a cron schedule.
type Reporter struct {
	source   StatsSource
	schedule string
	logger   *slog.Logger
}

// ReporterOption configures the Reporter.
type ReporterOption func(*Reporter)

// WithReporterLogger configures a logger for the Reporter.
func WithReporterLogger(logger *slog.Logger) ReporterOption {
	return func(r *Reporter) {
		r.logger = logger
	}
}

// NewReporter validates schedule (standard cron syntax or descriptors such as
// "@every 1m") and returns a Reporter that is not yet running.
func NewReporter(source StatsSource, schedule string, opts ...ReporterOption) (*Reporter, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", schedule, err)
	}

	r := &Reporter{
		source:   source,
		schedule: schedule,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Report logs the current statistics once.
func (r *Reporter) Report(ctx context.Context) {
	stats, err := r.source.Stats(ctx)
	if err != nil {
		r.logger.Warn("Failed to collect session stats", "err", err)
		return
	}
	r.logger.Info("Session stats",
		"count", stats.Count,
		"initialized", stats.Initialized,
		"total_requests", stats.TotalRequests,
		"oldest_age", stats.OldestAge,
		"newest_age", stats.NewestAge,
	)
}

// Run schedules Report and blocks until ctx is done, then waits for a running
// report to finish.
func (r *Reporter) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.Report(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule stats reporter: %w", err)
	}

	r.logger.Debug("Stats reporter started", "schedule", r.schedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Debug("Stats reporter stopped")
	return nil
}
