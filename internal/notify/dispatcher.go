package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron specs of the dispatcher jobs.
const (
	FlushSpec = "@every 1m"
	PurgeSpec = "@hourly"
)

// SessionPurger removes expired sessions.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// Flusher delivers queued reminders that are due.
type Flusher interface {
	FlushDue(ctx context.Context) (int, error)
}

// Dispatcher runs the periodic notification jobs on a cron schedule.
type Dispatcher struct {
	cron       *cron.Cron
	flusher    Flusher
	purger     SessionPurger
	jobTimeout time.Duration
	logger     *slog.Logger
}

// NewDispatcher registers the flush job and, when purger is non-nil, the
// hourly session purge. Jobs never overlap with themselves.
func NewDispatcher(flusher Flusher, purger SessionPurger, location *time.Location, logger *slog.Logger) (*Dispatcher, error) {
	if flusher == nil {
		return nil, fmt.Errorf("dispatcher requires a flusher")
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		flusher:    flusher,
		purger:     purger,
		jobTimeout: 30 * time.Second,
		logger:     logger.With("component", "dispatcher"),
	}
	if _, err := d.cron.AddFunc(FlushSpec, d.flush); err != nil {
		return nil, fmt.Errorf("schedule flush job: %w", err)
	}
	if purger != nil {
		if _, err := d.cron.AddFunc(PurgeSpec, d.purge); err != nil {
			return nil, fmt.Errorf("schedule purge job: %w", err)
		}
	}
	return d, nil
}

// Jobs returns the number of registered jobs.
func (d *Dispatcher) Jobs() int {
	return len(d.cron.Entries())
}

// Start runs the scheduler in its own goroutine.
func (d *Dispatcher) Start() {
	d.logger.Info("dispatcher started", "jobs", d.Jobs())
	d.cron.Start()
}

// Stop halts the scheduler and waits for running jobs until ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	done := d.cron.Stop()
	select {
	case <-done.Done():
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for dispatcher jobs: %w", ctx.Err())
	}
}

func (d *Dispatcher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
	defer cancel()

	sent, err := d.flusher.FlushDue(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "flush reminders", "sent", sent, "error", err)
		return
	}
	if sent > 0 {
		d.logger.InfoContext(ctx, "reminders flushed", "sent", sent)
	}
}

func (d *Dispatcher) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
	defer cancel()

	removed, err := d.purger.PurgeExpiredSessions(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "purge expired sessions", "error", err)
		return
	}
	d.logger.InfoContext(ctx, "expired sessions purged", "removed", removed)
}
