package redress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/optout-labs/redress/attempt"
	"github.com/optout-labs/redress/broker"
	"github.com/optout-labs/redress/credential"
	"github.com/optout-labs/redress/dispatch"
	"github.com/optout-labs/redress/event"
	"github.com/optout-labs/redress/executor"
	"github.com/optout-labs/redress/executor/browser"
	"github.com/optout-labs/redress/executor/form"
	"github.com/optout-labs/redress/executor/mail"
	"github.com/optout-labs/redress/finding"
	"github.com/optout-labs/redress/permission"
	"github.com/optout-labs/redress/schedule"
	"github.com/optout-labs/redress/store"
	"github.com/optout-labs/redress/verify"
)

// Scanner triggers a full broker rescan. Discovery lives outside the
// engine; the ScanAll job only delegates to it.
type Scanner interface {
	ScanAll(ctx context.Context) error
}

// Default recurrence intervals seeded into an empty job table.
const (
	defaultScanIntervalDays   = 7
	defaultVerifyIntervalDays = 3
	defaultPollIntervalDays   = 1
)

// Engine is the removal orchestration facade: it wires the store,
// registry, executors, verifier, and scheduler together and exposes the
// command surface the presentation layer calls.
type Engine struct {
	store      store.Store
	registry   broker.Registry
	bus        *event.Bus
	dispatcher *dispatch.Dispatcher
	verifier   *verify.Verifier
	poller     *verify.Poller
	scheduler  *schedule.Scheduler
	browser    *browser.Executor // nil when the browser channel is overridden
	scanner    Scanner
	logger     *slog.Logger
	closed     atomic.Bool
}

// New wires an engine from the given options and starts its scheduler.
// A registry is required; everything else has a usable default.
func New(opts ...Option) (*Engine, error) {
	o := &options{
		store:        store.NewMemory(),
		gate:         permission.AllowAll{},
		creds:        credential.None{},
		profiles:     dispatch.StaticProfiles{},
		poolSize:     dispatch.DefaultPoolSize,
		tickInterval: schedule.DefaultTickInterval,
		executors:    make(map[broker.Channel]executor.Executor),
		seedJobs:     true,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.registry == nil {
		return nil, fmt.Errorf("%w: a broker registry is required", ErrInvalidConfig)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	e := &Engine{
		store:    o.store,
		registry: o.registry,
		bus:      event.NewBus(),
		scanner:  o.scanner,
		logger:   o.logger.With(slog.String("component", "engine")),
	}

	if _, ok := o.executors[broker.ChannelHTTPForm]; !ok {
		o.executors[broker.ChannelHTTPForm] = form.New(form.WithLogger(o.logger))
	}
	if _, ok := o.executors[broker.ChannelBrowserForm]; !ok {
		e.browser = browser.New(browser.WithLogger(o.logger))
		o.executors[broker.ChannelBrowserForm] = e.browser
	}
	if _, ok := o.executors[broker.ChannelEmail]; !ok {
		o.executors[broker.ChannelEmail] = mail.New(o.creds, mail.WithLogger(o.logger))
	}

	dispatchOpts := []dispatch.Option{
		dispatch.WithGate(o.gate),
		dispatch.WithProfiles(o.profiles),
		dispatch.WithPoolSize(o.poolSize),
		dispatch.WithLogger(o.logger),
	}
	for ch, ex := range o.executors {
		dispatchOpts = append(dispatchOpts, dispatch.WithExecutor(ch, ex))
	}
	if o.checker != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithListingChecker(o.checker))
	}
	if o.tracerProv != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithTracerProvider(o.tracerProv))
	}
	if o.meterProv != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithMeterProvider(o.meterProv))
	}

	var err error
	e.dispatcher, err = dispatch.New(o.store, o.registry, e.bus, dispatchOpts...)
	if err != nil {
		return nil, err
	}

	e.verifier = verify.NewVerifier(o.store, e.bus, o.logger)

	pollerOpts := []verify.PollerOption{verify.WithPollerLogger(o.logger)}
	if o.mailboxDialer != nil {
		pollerOpts = append(pollerOpts, verify.WithDialer(o.mailboxDialer))
	}
	if o.linkOpener != nil {
		pollerOpts = append(pollerOpts, verify.WithLinkOpener(o.linkOpener))
	}
	e.poller = verify.NewPoller(o.store, o.registry, o.creds, e.bus, pollerOpts...)

	if o.seedJobs {
		if err := e.seedDefaultJobs(context.Background()); err != nil {
			return nil, err
		}
	}

	e.scheduler = schedule.NewScheduler(o.store, e.runJob, e.bus,
		schedule.WithTickInterval(o.tickInterval),
		schedule.WithLogger(o.logger))
	e.scheduler.Start(context.Background())

	return e, nil
}

// seedDefaultJobs populates an empty job table with the standard
// recurring jobs. An existing table, including one the user has edited,
// is left alone.
func (e *Engine) seedDefaultJobs(ctx context.Context) error {
	jobs, err := e.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list scheduled jobs: %w", err)
	}
	if len(jobs) > 0 {
		return nil
	}

	defaults := []struct {
		jobType      schedule.JobType
		intervalDays int
	}{
		{schedule.JobScanAll, defaultScanIntervalDays},
		{schedule.JobVerifyRemovals, defaultVerifyIntervalDays},
		{schedule.JobPollImap, defaultPollIntervalDays},
	}
	for _, d := range defaults {
		job, err := schedule.NewJob(d.jobType, d.intervalDays)
		if err != nil {
			return err
		}
		if err := e.store.PutJob(ctx, job); err != nil {
			return fmt.Errorf("seed job %s: %w", d.jobType, err)
		}
	}
	return nil
}

// runJob dispatches a scheduled job to its body.
func (e *Engine) runJob(ctx context.Context, jobType schedule.JobType) error {
	switch jobType {
	case schedule.JobScanAll:
		if e.scanner == nil {
			e.logger.Debug("scan job skipped, no scanner wired")
			return nil
		}
		return e.scanner.ScanAll(ctx)
	case schedule.JobVerifyRemovals:
		return e.dispatcher.Reverify(ctx)
	case schedule.JobPollImap:
		return e.poller.Poll(ctx)
	default:
		return fmt.Errorf("unknown job type %q", jobType)
	}
}

// Submit queues a removal attempt for the finding using its broker's
// registered spec.
func (e *Engine) Submit(ctx context.Context, f finding.Finding) (*dispatch.Handle, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	spec, err := e.registry.Get(ctx, f.BrokerID)
	if errors.Is(err, broker.ErrSpecNotFound) {
		return nil, E("Engine.Submit", KindNotFound, fmt.Errorf("%w: %s", ErrBrokerNotFound, f.BrokerID))
	}
	if err != nil {
		return nil, fmt.Errorf("load spec for broker %s: %w", f.BrokerID, err)
	}

	// Resubmitting a known finding is fine; the dispatcher dedupes the
	// attempt.
	if _, err := e.store.GetFinding(ctx, f.ID); errors.Is(err, store.ErrNotFound) {
		if err := e.store.CreateFinding(ctx, f); err != nil {
			return nil, fmt.Errorf("record finding: %w", err)
		}
	} else if err != nil {
		return nil, err
	}
	return e.dispatcher.Submit(ctx, f, spec)
}

// Retry re-runs a failed attempt on explicit user request.
func (e *Engine) Retry(ctx context.Context, attemptID string) (*dispatch.Handle, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	h, err := e.dispatcher.Retry(ctx, attemptID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, E("Engine.Retry", KindNotFound, fmt.Errorf("%w: %s", ErrAttemptNotFound, attemptID))
	}
	return h, err
}

// ResumeAfterCaptcha re-runs an attempt parked on a CAPTCHA after the
// user reports solving it.
func (e *Engine) ResumeAfterCaptcha(ctx context.Context, attemptID string) (*dispatch.Handle, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	h, err := e.dispatcher.Resume(ctx, attemptID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, E("Engine.ResumeAfterCaptcha", KindNotFound, fmt.Errorf("%w: %s", ErrAttemptNotFound, attemptID))
	}
	return h, err
}

// MarkVerified records a user-confirmed removal for an attempt awaiting
// verification. Confirming twice is a no-op.
func (e *Engine) MarkVerified(ctx context.Context, attemptID string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	err := e.verifier.MarkVerified(ctx, attemptID)
	if errors.Is(err, store.ErrNotFound) {
		return E("Engine.MarkVerified", KindNotFound, fmt.Errorf("%w: %s", ErrAttemptNotFound, attemptID))
	}
	return err
}

// GetEvidence returns the evidence captured for an attempt, in capture
// order.
func (e *Engine) GetEvidence(ctx context.Context, attemptID string) ([]attempt.Evidence, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if _, err := e.store.GetAttempt(ctx, attemptID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, E("Engine.GetEvidence", KindNotFound, fmt.Errorf("%w: %s", ErrAttemptNotFound, attemptID))
		}
		return nil, err
	}
	return e.store.ListEvidence(ctx, attemptID)
}

// ListScheduledJobs returns the recurring job table.
func (e *Engine) ListScheduledJobs(ctx context.Context) ([]schedule.Job, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return e.scheduler.Jobs(ctx)
}

// UpdateScheduledJob replaces a job row, adjusting its interval, due
// time, or enablement.
func (e *Engine) UpdateScheduledJob(ctx context.Context, job schedule.Job) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	err := e.scheduler.Update(ctx, job)
	if errors.Is(err, store.ErrNotFound) {
		return E("Engine.UpdateScheduledJob", KindNotFound, fmt.Errorf("%w: %s", ErrJobNotFound, job.ID))
	}
	return err
}

// RunJobNow executes a scheduled job immediately, regardless of its due
// time.
func (e *Engine) RunJobNow(ctx context.Context, jobID string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	err := e.scheduler.RunNow(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return E("Engine.RunJobNow", KindNotFound, fmt.Errorf("%w: %s", ErrJobNotFound, jobID))
	}
	return err
}

// StaleVerifications lists attempts that have been awaiting broker
// confirmation longer than the mailbox search window. They are surfaced
// for the user, never auto-failed.
func (e *Engine) StaleVerifications(ctx context.Context) ([]*attempt.Attempt, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return e.verifier.Stale(ctx, verify.MaxVerificationAge)
}

// Events returns a subscription to the engine's lifecycle events. Each
// call returns an independent subscriber channel, closed on engine
// shutdown.
func (e *Engine) Events() <-chan event.Event {
	return e.bus.Subscribe()
}

// Close shuts the engine down: the scheduler stops, in-flight attempts
// drain, the shared browser gets a bounded grace period, and the event
// bus closes. Commands after Close report ErrEngineClosed.
func (e *Engine) Close(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}

	var errs []error
	if err := e.scheduler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.dispatcher.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.browser != nil {
		if err := e.browser.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.bus.Close()
	return errors.Join(errs...)
}
