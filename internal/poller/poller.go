// Package poller runs the background jobs that re-drive transient funding
// and payout transactions. Jobs must be idempotent: the scheduler will run
// them repeatedly and a slow tick may overlap the next one.
package poller

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/makala-pay/makala_pay/internal/metrics"
)

// Job is one poller tick.
type Job func(ctx context.Context) error

// Poller schedules named jobs on cron expressions.
type Poller struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New builds an empty poller.
func New(logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{cron: cron.New(), logger: logger}
}

// Add registers a job on the given cron schedule (e.g. "@every 30s").
// Errors are logged and counted; a failing job keeps its schedule.
func (p *Poller) Add(schedule, name string, job Job) error {
	_, err := p.cron.AddFunc(schedule, func() {
		metrics.PollerRuns.WithLabelValues(name).Inc()
		if err := job(context.Background()); err != nil {
			metrics.PollerErrors.WithLabelValues(name).Inc()
			p.logger.Error("poller job failed", "job", name, "error", err)
		}
	})
	return err
}

// Start begins running jobs on their schedules.
func (p *Poller) Start() {
	p.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}
