package history

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/oshokin/alarm-monitor/internal/logger"
)

// Retention periodically deletes transitions older than a fixed age.
type Retention struct {
	// scheduler runs the purge job.
	scheduler gocron.Scheduler
	// repo is purged on every run.
	repo Repository
	// maxAge is the age after which events are deleted.
	maxAge time.Duration
	// now returns the current time.
	now func() time.Time
}

// NewRetention schedules a purge of events older than maxAge every interval.
// The scheduler does not run until Start is called.
func NewRetention(ctx context.Context, repo Repository, maxAge, interval time.Duration) (*Retention, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create retention scheduler: %w", err)
	}

	r := &Retention{
		scheduler: scheduler,
		repo:      repo,
		maxAge:    maxAge,
		now:       time.Now,
	}

	ctx = logger.WithName(context.WithoutCancel(ctx), "retention")

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.Run, ctx),
		gocron.WithName("history-retention"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()

		return nil, fmt.Errorf("create retention job: %w", err)
	}

	return r, nil
}

// Start begins periodic purging.
func (r *Retention) Start() {
	r.scheduler.Start()
}

// Stop waits for a running purge and stops the scheduler.
func (r *Retention) Stop() error {
	if err := r.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("stop retention scheduler: %w", err)
	}

	return nil
}

// Run deletes expired events once and reports how many were removed.
func (r *Retention) Run(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.maxAge)

	deleted, err := r.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		logger.ErrorKV(ctx, "Retention purge failed", "cutoff", cutoff, "error", err)

		return 0, err
	}

	if deleted > 0 {
		logger.InfoKV(ctx, "Retention purge removed expired events", "deleted", deleted, "cutoff", cutoff)
	}

	return deleted, nil
}
