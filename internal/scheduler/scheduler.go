// Package scheduler fires cron jobs: HTTP triggers for the background
// accrual, airdrop and odds functions, and the all-markets snapshot.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/notify"
)

// lockTTL covers one tick. The lock is left to expire rather than released
// so that a slower instance reaching the same tick still skips it.
const lockTTL = 50 * time.Second

// Notifier receives job failures.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
}

// Scheduler runs Jobs on their schedules.
type Scheduler struct {
	jobs     []Job
	disabled bool
	locks    domain.LockManager
	notifier Notifier
	logger   *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocks makes each tick take a distributed lock first.
func WithLocks(l domain.LockManager) Option { return func(s *Scheduler) { s.locks = l } }

// WithNotifier reports job failures.
func WithNotifier(n Notifier) Option { return func(s *Scheduler) { s.notifier = n } }

// Disabled makes Run idle until its context ends.
func Disabled(v bool) Option { return func(s *Scheduler) { s.disabled = v } }

// New creates a Scheduler for jobs.
func New(jobs []Job, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:   jobs,
		logger: logger.With(slog.String("component", "scheduler")),
		now:    time.Now,
		after:  time.After,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Jobs returns the configured jobs.
func (s *Scheduler) Jobs() []Job { return s.jobs }

// Run drives every job until ctx is done. Job failures are logged and
// reported; they never stop the scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.disabled {
		s.logger.Info("scheduled functions disabled")
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		s.logger.Info("job scheduled", slog.String("job", job.Name), slog.String("cron", job.Schedule.String()))
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	for {
		now := s.now().UTC()
		next := job.Schedule.Next(now)
		if next.IsZero() {
			s.logger.Error("job never fires", slog.String("job", job.Name))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(now)):
			_ = s.Tick(ctx, job, next)
		}
	}
}

// Tick runs job once for tick, guarded by the per-tick lock.
func (s *Scheduler) Tick(ctx context.Context, job Job, tick time.Time) error {
	logger := s.logger.With(slog.String("job", job.Name), slog.Time("tick", tick))

	if s.locks != nil {
		key := "job:" + job.Name + ":" + strconv.FormatInt(tick.Unix(), 10)
		if _, err := s.locks.Acquire(ctx, key, lockTTL); err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				logger.Debug("tick taken by another instance")
				return nil
			}
			logger.Warn("job lock unavailable, running anyway", slog.String("error", err.Error()))
		}
	}

	start := s.now()
	err := job.Run(ctx, tick)
	if err != nil {
		logger.Error("job failed", slog.String("error", err.Error()))
		s.report(ctx, job, err)
		return fmt.Errorf("scheduler: %s: %w", job.Name, err)
	}
	logger.Info("job done", slog.Duration("duration", s.now().Sub(start)))
	return nil
}

// RunNow runs the named job immediately, without a lock.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			if err := job.Run(ctx, s.now().UTC()); err != nil {
				return fmt.Errorf("scheduler: %s: %w", name, err)
			}
			return nil
		}
	}
	return fmt.Errorf("scheduler: job %q: %w", name, domain.ErrNotFound)
}

func (s *Scheduler) report(ctx context.Context, job Job, err error) {
	if s.notifier == nil {
		return
	}
	ev := notify.Event{
		Kind:    notify.KindJobFailed,
		Title:   "Scheduled job failed: " + job.Name,
		Message: err.Error(),
		Fields:  map[string]string{"job": job.Name},
	}
	if nerr := s.notifier.Notify(context.WithoutCancel(ctx), ev); nerr != nil {
		s.logger.Warn("job failure notification failed", slog.String("error", nerr.Error()))
	}
}
