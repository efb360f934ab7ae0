// Package dispatch owns the removal attempt lifecycle. The dispatcher is
// the single writer of attempt status: it creates attempts for queued
// findings, runs the channel executor under a bounded pool, maps outcomes
// onto the state machine, persists status and evidence atomically, and
// publishes lifecycle events.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/optout-labs/redress/attempt"
	"github.com/optout-labs/redress/broker"
	"github.com/optout-labs/redress/event"
	"github.com/optout-labs/redress/executor"
	"github.com/optout-labs/redress/finding"
	"github.com/optout-labs/redress/permission"
	"github.com/optout-labs/redress/store"
)

// DefaultPoolSize bounds concurrent executor runs.
const DefaultPoolSize = 3

// permissionDeniedPrefix distinguishes gate denials from broker
// rejections in job history.
const permissionDeniedPrefix = "permission denied: "

// ProfileSource supplies the profile field values rendered into removal
// requests. The profile data itself lives outside the engine.
type ProfileSource interface {
	Fields(ctx context.Context, profileID string) (executor.Fields, error)
}

// StaticProfiles is a ProfileSource backed by a fixed map, for tests and
// single-profile setups.
type StaticProfiles map[string]executor.Fields

// Fields returns the fixed fields for the profile.
func (s StaticProfiles) Fields(_ context.Context, profileID string) (executor.Fields, error) {
	fields, ok := s[profileID]
	if !ok {
		return nil, fmt.Errorf("unknown profile %s", profileID)
	}
	return fields.Clone(), nil
}

// Handle tracks one asynchronous attempt execution.
type Handle struct {
	attemptID string
	done      chan struct{}

	mu     sync.Mutex
	result *attempt.Attempt
}

// AttemptID returns the attempt this handle tracks.
func (h *Handle) AttemptID() string { return h.attemptID }

// Done is closed when the execution has been persisted.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the execution finishes and returns the persisted
// attempt.
func (h *Handle) Wait(ctx context.Context) (*attempt.Attempt, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, nil
}

func (h *Handle) finish(a *attempt.Attempt) {
	h.mu.Lock()
	h.result = a
	h.mu.Unlock()
	close(h.done)
}

// resolvedHandle wraps an attempt that needs no execution.
func resolvedHandle(a *attempt.Attempt) *Handle {
	h := &Handle{attemptID: a.ID, done: make(chan struct{})}
	h.finish(a)
	return h
}

// Dispatcher queues and executes removal attempts.
//
// Thread-safety: all methods are safe for concurrent use.
type Dispatcher struct {
	store     store.Store
	registry  broker.Registry
	bus       *event.Bus
	gate      permission.Gate
	profiles  ProfileSource
	executors map[broker.Channel]executor.Executor
	checker   ListingChecker
	logger    *slog.Logger
	metrics   *otelMetrics
	tracer    traceTracer

	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*Handle // finding ID -> running execution
}

// Option configures the dispatcher.
type Option func(*Dispatcher) error

// New creates a dispatcher over the given store, registry, and bus.
func New(st store.Store, reg broker.Registry, bus *event.Bus, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		store:     st,
		registry:  reg,
		bus:       bus,
		gate:      permission.AllowAll{},
		profiles:  StaticProfiles{},
		executors: make(map[broker.Channel]executor.Executor),
		logger:    slog.Default(),
		sem:       make(chan struct{}, DefaultPoolSize),
		inflight:  make(map[string]*Handle),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	d.logger = d.logger.With(slog.String("component", "dispatcher"))
	return d, nil
}

// WithGate sets the pre-flight permission gate.
func WithGate(g permission.Gate) Option {
	return func(d *Dispatcher) error {
		d.gate = g
		return nil
	}
}

// WithProfiles sets the profile field source.
func WithProfiles(p ProfileSource) Option {
	return func(d *Dispatcher) error {
		d.profiles = p
		return nil
	}
}

// WithExecutor registers the executor for a channel.
func WithExecutor(ch broker.Channel, ex executor.Executor) Option {
	return func(d *Dispatcher) error {
		if !ch.IsValid() {
			return fmt.Errorf("unknown channel %q", ch)
		}
		d.executors[ch] = ex
		return nil
	}
}

// WithListingChecker sets the checker used by the re-verification pass.
func WithListingChecker(c ListingChecker) Option {
	return func(d *Dispatcher) error {
		d.checker = c
		return nil
	}
}

// WithPoolSize bounds the number of concurrent executor runs.
func WithPoolSize(n int) Option {
	return func(d *Dispatcher) error {
		if n < 1 {
			return fmt.Errorf("pool size must be positive, got %d", n)
		}
		d.sem = make(chan struct{}, n)
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// Submit queues a removal attempt for the finding. Submit is idempotent:
// while a non-terminal attempt exists for the finding, resubmission
// returns its handle instead of spawning a duplicate.
func (d *Dispatcher) Submit(ctx context.Context, f finding.Finding, spec *broker.RemovalSpec) (*Handle, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid finding: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid removal spec: %w", err)
	}

	d.mu.Lock()
	if h, ok := d.inflight[f.ID]; ok {
		d.mu.Unlock()
		return h, nil
	}

	// Parked attempts (CAPTCHA, awaiting verification) are non-terminal
	// but not in flight; they satisfy the one-attempt rule too.
	existing, err := d.openAttempt(ctx, f.ID)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if existing != nil {
		// A stored Pending attempt with no running goroutine was
		// interrupted (process restart) or staged by the reappearance
		// pass; execute it rather than handing back a stalled handle.
		if existing.Status == attempt.StatusPending {
			h := d.launch(ctx, existing, f, spec)
			d.mu.Unlock()
			return h, nil
		}
		d.mu.Unlock()
		return resolvedHandle(existing), nil
	}

	a := attempt.New(f.ID, f.BrokerID, f.ProfileID, spec.Channel)
	if err := d.store.CreateAttempt(ctx, a); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	h := d.launch(ctx, a, f, spec)
	d.mu.Unlock()
	return h, nil
}

// Retry re-runs a failed attempt on explicit user request. Failed is a
// terminal status, so the retry is a fresh attempt for the same finding;
// the failed attempt stays in history unchanged and the incremented
// retry count lands on the new attempt.
func (d *Dispatcher) Retry(ctx context.Context, attemptID string) (*Handle, error) {
	prev, err := d.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load attempt %s: %w", attemptID, err)
	}
	if prev.Status != attempt.StatusFailed {
		return nil, fmt.Errorf("attempt %s in status %s is not retryable", prev.ID, prev.Status)
	}

	f, spec, err := d.loadContext(ctx, prev)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.inflight[f.ID]; ok {
		return h, nil
	}

	a := attempt.New(f.ID, f.BrokerID, f.ProfileID, spec.Channel)
	a.RetryCount = prev.RetryCount + 1
	if err := d.store.CreateAttempt(ctx, a); err != nil {
		return nil, fmt.Errorf("create retry attempt: %w", err)
	}

	d.logger.Info("retrying failed attempt",
		slog.String("attempt_id", prev.ID),
		slog.String("retry_attempt_id", a.ID),
		slog.Int("retry_count", a.RetryCount))
	return d.launch(ctx, a, f, spec), nil
}

// Resume re-runs an attempt parked on a CAPTCHA after the user reports
// solving it. The run is a full re-invocation; there is no partial
// resumption.
func (d *Dispatcher) Resume(ctx context.Context, attemptID string) (*Handle, error) {
	a, err := d.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load attempt %s: %w", attemptID, err)
	}
	if a.Status != attempt.StatusRequiresCaptcha {
		return nil, fmt.Errorf("attempt %s in status %s is not parked on a captcha", a.ID, a.Status)
	}

	f, spec, err := d.loadContext(ctx, a)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.inflight[f.ID]; ok {
		return h, nil
	}
	return d.launch(ctx, a, f, spec), nil
}

// Close waits for in-flight executions to finish, bounded by ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher close: %w", ctx.Err())
	}
}

// openAttempt returns the finding's non-terminal attempt, if one exists.
func (d *Dispatcher) openAttempt(ctx context.Context, findingID string) (*attempt.Attempt, error) {
	open, err := d.store.ListAttemptsByStatus(ctx,
		attempt.StatusPending,
		attempt.StatusSubmitted,
		attempt.StatusRequiresCaptcha,
		attempt.StatusAwaitingVerification,
	)
	if err != nil {
		return nil, fmt.Errorf("list open attempts: %w", err)
	}
	for _, a := range open {
		if a.FindingID == findingID {
			return a, nil
		}
	}
	return nil, nil
}

// loadContext resolves the finding and broker spec an existing attempt
// runs against.
func (d *Dispatcher) loadContext(ctx context.Context, a *attempt.Attempt) (finding.Finding, *broker.RemovalSpec, error) {
	f, err := d.store.GetFinding(ctx, a.FindingID)
	if err != nil {
		return finding.Finding{}, nil, fmt.Errorf("load finding %s: %w", a.FindingID, err)
	}
	spec, err := d.registry.Get(ctx, a.BrokerID)
	if err != nil {
		return finding.Finding{}, nil, fmt.Errorf("load spec for broker %s: %w", a.BrokerID, err)
	}
	return f, spec, nil
}

// launch starts the execution goroutine. Caller holds d.mu.
func (d *Dispatcher) launch(ctx context.Context, a *attempt.Attempt, f finding.Finding, spec *broker.RemovalSpec) *Handle {
	h := &Handle{attemptID: a.ID, done: make(chan struct{})}
	d.inflight[f.ID] = h
	d.wg.Add(1)

	// The run outlives the submitting request: cancelling a UI call must
	// not abandon an attempt mid-write.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		d.run(runCtx, a, f, spec)

		d.mu.Lock()
		delete(d.inflight, f.ID)
		d.mu.Unlock()
		h.finish(a)
	}()
	return h
}

// run executes one attempt and applies the outcome.
func (d *Dispatcher) run(ctx context.Context, a *attempt.Attempt, f finding.Finding, spec *broker.RemovalSpec) {
	start := time.Now()
	ctx, span := d.startSpan(ctx, a, spec)

	out := d.execute(ctx, a, f, spec)
	if err := d.apply(ctx, a, out); err != nil {
		d.logger.Error("failed to persist attempt outcome",
			slog.String("attempt_id", a.ID),
			slog.String("error", err.Error()))
	}

	d.record(ctx, span, a, out, time.Since(start))
}

// execute produces the outcome for one attempt, folding permission
// denials and executor errors into Failed outcomes.
func (d *Dispatcher) execute(ctx context.Context, a *attempt.Attempt, f finding.Finding, spec *broker.RemovalSpec) executor.Outcome {
	if out, denied := d.checkGate(ctx, a); denied {
		return out
	}

	ex, ok := d.executors[a.Channel]
	if !ok {
		return executor.Failed(fmt.Sprintf("no executor configured for channel %s", a.Channel), "")
	}

	fields, err := d.profiles.Fields(ctx, a.ProfileID)
	if err != nil {
		return executor.Failed("profile fields unavailable", err.Error())
	}
	if fields == nil {
		fields = executor.Fields{}
	}
	fields["listing_url"] = f.ListingURL

	out, err := ex.Execute(ctx, spec, fields)
	if err != nil {
		return executor.Failed("executor error", err.Error())
	}
	return out
}

// checkGate consults the permission gate for side-effecting channels.
func (d *Dispatcher) checkGate(ctx context.Context, a *attempt.Attempt) (executor.Outcome, bool) {
	var action permission.Action
	switch a.Channel {
	case broker.ChannelBrowserForm:
		action = permission.ActionExecuteBrowser
	case broker.ChannelEmail:
		action = permission.ActionSendMail
	default:
		return executor.Outcome{}, false
	}

	dec, err := d.gate.Allow(ctx, permission.Request{
		ProfileID: a.ProfileID,
		BrokerID:  a.BrokerID,
		Channel:   a.Channel,
		Action:    action,
	})
	if err != nil {
		return executor.Failed(permissionDeniedPrefix+"gate unavailable", err.Error()), true
	}
	if !dec.Allowed {
		d.logger.Warn("attempt blocked by permission gate",
			slog.String("attempt_id", a.ID),
			slog.String("reason", dec.Reason))
		return executor.Failed(permissionDeniedPrefix+dec.Reason, ""), true
	}
	return executor.Outcome{}, false
}

// apply maps the outcome onto the state machine, persists status and
// evidence in one store call, then publishes the lifecycle event.
func (d *Dispatcher) apply(ctx context.Context, a *attempt.Attempt, out executor.Outcome) error {
	var (
		next      attempt.Status
		evidence  []attempt.Evidence
		eventType event.Type
		reason    string
	)

	switch out.Kind {
	case executor.OutcomeSubmitted:
		next = attempt.StatusSubmitted
		eventType = event.TypeAttemptSubmitted
	case executor.OutcomeAwaitingVerification:
		next = attempt.StatusAwaitingVerification
		eventType = event.TypeAttemptSubmitted
	case executor.OutcomeRequiresCaptcha:
		next = attempt.StatusRequiresCaptcha
		eventType = event.TypeAttemptCaptcha
		reason = out.CaptchaURL
	case executor.OutcomeFailed:
		next = attempt.StatusFailed
		eventType = event.TypeAttemptFailed
		reason = out.Reason
	default:
		return fmt.Errorf("unknown outcome kind %q", out.Kind)
	}

	if err := a.Transition(next); err != nil {
		return err
	}

	switch out.Kind {
	case executor.OutcomeSubmitted, executor.OutcomeAwaitingVerification:
		// A successful re-run clears the parked escalation note. Other
		// notes, like the reappearance back-reference, stay.
		if a.CaptchaURL() != "" {
			a.Note = ""
		}
	case executor.OutcomeRequiresCaptcha:
		a.SetCaptchaURL(out.CaptchaURL)
	case executor.OutcomeFailed:
		a.Note = out.Reason
		if out.Details != "" {
			a.Note += ": " + out.Details
		}
	}

	if out.Screenshot != nil {
		evidence = append(evidence, attempt.NewScreenshot(a.ID, out.Screenshot))
	}
	if out.Mail != nil {
		evidence = append(evidence, attempt.NewMailLog(a.ID, out.Mail.Recipient, out.Mail.Subject, out.Mail.Body))
	}

	if err := d.store.UpdateAttempt(ctx, a, evidence...); err != nil {
		return fmt.Errorf("persist attempt %s: %w", a.ID, err)
	}

	d.logger.Info("attempt outcome applied",
		slog.String("attempt_id", a.ID),
		slog.String("broker", a.BrokerID),
		slog.String("channel", string(a.Channel)),
		slog.String("status", string(a.Status)))
	d.bus.Publish(event.Event{
		Type:      eventType,
		AttemptID: a.ID,
		FindingID: a.FindingID,
		BrokerID:  a.BrokerID,
		Channel:   a.Channel,
		Reason:    reason,
	})
	return nil
}
