package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/optout-labs/redress/event"
)

// DefaultTickInterval is how often the scheduler checks for due jobs
// while the engine is resident.
const DefaultTickInterval = time.Hour

// JobStore is the slice of persistence the scheduler needs. The engine's
// store satisfies it.
type JobStore interface {
	// GetJob returns the job with the given ID.
	GetJob(ctx context.Context, id string) (Job, error)

	// PutJob creates or replaces a job row.
	PutJob(ctx context.Context, j Job) error

	// ListJobs returns all jobs.
	ListJobs(ctx context.Context) ([]Job, error)

	// ListDueJobs returns enabled jobs with NextRunAt <= now.
	ListDueJobs(ctx context.Context, now time.Time) ([]Job, error)
}

// RunFunc executes one job body. The scheduler owns due-time bookkeeping;
// the body owns the work.
type RunFunc func(ctx context.Context, jobType JobType) error

// Scheduler runs the persisted job table: a tick on Start and one every
// interval thereafter, executing whatever is due.
type Scheduler struct {
	store    JobStore
	run      RunFunc
	bus      *event.Bus
	interval time.Duration
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// SchedulerOption configures the scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval overrides how often due jobs are checked.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a stopped scheduler over the job table.
func NewScheduler(store JobStore, run RunFunc, bus *event.Bus, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:    store,
		run:      run,
		bus:      bus,
		interval: DefaultTickInterval,
		logger:   slog.Default(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "scheduler"))
	return s
}

// Start begins ticking. The first check runs immediately so work overdue
// from downtime is not delayed a full interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.loop(ctx)
	})
}

// Stop halts ticking and waits for an in-progress tick to finish,
// bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick runs every due job. A failing body is logged and still advances
// its due time, so one broken job neither blocks the rest nor hot-loops.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.ListDueJobs(ctx, now)
	if err != nil {
		s.logger.Error("failed to list due jobs", slog.String("error", err.Error()))
		return
	}

	for _, job := range due {
		s.runJob(ctx, job, now)
	}
}

// runJob executes one job body and persists the advanced schedule.
func (s *Scheduler) runJob(ctx context.Context, job Job, now time.Time) {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)))

	if err := s.run(ctx, job.Type); err != nil {
		s.logger.Error("scheduled job failed",
			slog.String("job_id", job.ID),
			slog.String("type", string(job.Type)),
			slog.String("error", err.Error()))
	}

	job.Advance(now)
	if err := s.store.PutJob(ctx, job); err != nil {
		s.logger.Error("failed to persist job schedule",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}

	s.bus.Publish(event.Event{
		Type: event.TypeJobComplete,
		Job:  string(job.Type),
	})
}

// RunNow executes a job immediately, regardless of its due time, and
// advances its schedule.
func (s *Scheduler) RunNow(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	s.runJob(ctx, job, time.Now().UTC())
	return nil
}

// Jobs returns the full job table.
func (s *Scheduler) Jobs(ctx context.Context) ([]Job, error) {
	return s.store.ListJobs(ctx)
}

// Update replaces a job row after validating it.
func (s *Scheduler) Update(ctx context.Context, job Job) error {
	if !job.Type.IsValid() {
		return fmt.Errorf("unknown job type %q", job.Type)
	}
	if job.IntervalDays <= 0 {
		return fmt.Errorf("job interval must be positive, got %d", job.IntervalDays)
	}
	if _, err := s.store.GetJob(ctx, job.ID); err != nil {
		return fmt.Errorf("load job %s: %w", job.ID, err)
	}
	return s.store.PutJob(ctx, job)
}
