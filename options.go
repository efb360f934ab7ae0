package redress

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/optout-labs/redress/broker"
	"github.com/optout-labs/redress/credential"
	"github.com/optout-labs/redress/dispatch"
	"github.com/optout-labs/redress/executor"
	"github.com/optout-labs/redress/permission"
	"github.com/optout-labs/redress/store"
	"github.com/optout-labs/redress/verify"
)

// options collects engine configuration before wiring.
type options struct {
	store         store.Store
	registry      broker.Registry
	gate          permission.Gate
	creds         credential.Source
	profiles      dispatch.ProfileSource
	scanner       Scanner
	checker       dispatch.ListingChecker
	logger        *slog.Logger
	tracerProv    trace.TracerProvider
	meterProv     metric.MeterProvider
	poolSize      int
	tickInterval  time.Duration
	executors     map[broker.Channel]executor.Executor
	mailboxDialer verify.DialFunc
	linkOpener    verify.LinkOpener
	seedJobs      bool
}

// Option configures the engine.
type Option func(*options) error

// WithStore sets the attempt store. Defaults to the in-memory store.
func WithStore(s store.Store) Option {
	return func(o *options) error {
		if s == nil {
			return fmt.Errorf("%w: nil store", ErrInvalidConfig)
		}
		o.store = s
		return nil
	}
}

// WithRegistry sets the broker spec registry. Required.
func WithRegistry(r broker.Registry) Option {
	return func(o *options) error {
		if r == nil {
			return fmt.Errorf("%w: nil registry", ErrInvalidConfig)
		}
		o.registry = r
		return nil
	}
}

// WithGate sets the pre-flight permission gate. Defaults to allowing
// everything.
func WithGate(g permission.Gate) Option {
	return func(o *options) error {
		o.gate = g
		return nil
	}
}

// WithCredentials sets the mail credential source. Without one, the mail
// channel falls back to mailto hand-off and the mailbox poller stays
// dormant.
func WithCredentials(c credential.Source) Option {
	return func(o *options) error {
		o.creds = c
		return nil
	}
}

// WithProfiles sets the profile field source rendered into removal
// requests.
func WithProfiles(p dispatch.ProfileSource) Option {
	return func(o *options) error {
		o.profiles = p
		return nil
	}
}

// WithScanner wires the external discovery scanner run by the ScanAll
// job.
func WithScanner(s Scanner) Option {
	return func(o *options) error {
		o.scanner = s
		return nil
	}
}

// WithListingChecker wires the listing probe used by the VerifyRemovals
// job's reappearance pass.
func WithListingChecker(c dispatch.ListingChecker) Option {
	return func(o *options) error {
		o.checker = c
		return nil
	}
}

// WithLogger sets the structured logger used by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) error {
		o.logger = l
		return nil
	}
}

// WithTracerProvider enables OpenTelemetry spans around executor runs.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) error {
		o.tracerProv = tp
		return nil
	}
}

// WithMeterProvider enables OpenTelemetry metrics for attempt executions.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) error {
		o.meterProv = mp
		return nil
	}
}

// WithPoolSize bounds concurrent executor runs. Defaults to
// dispatch.DefaultPoolSize.
func WithPoolSize(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return fmt.Errorf("%w: pool size must be positive, got %d", ErrInvalidConfig, n)
		}
		o.poolSize = n
		return nil
	}
}

// WithTickInterval overrides how often the scheduler checks for due jobs.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("%w: tick interval must be positive", ErrInvalidConfig)
		}
		o.tickInterval = d
		return nil
	}
}

// WithExecutor overrides the executor for one channel. Channels without
// an override get the built-in executor.
func WithExecutor(ch broker.Channel, ex executor.Executor) Option {
	return func(o *options) error {
		if !ch.IsValid() {
			return fmt.Errorf("%w: unknown channel %q", ErrInvalidConfig, ch)
		}
		o.executors[ch] = ex
		return nil
	}
}

// WithMailboxDialer overrides how the verification poller opens mailbox
// sessions.
func WithMailboxDialer(d verify.DialFunc) Option {
	return func(o *options) error {
		o.mailboxDialer = d
		return nil
	}
}

// WithLinkOpener overrides how confirmation links are opened.
func WithLinkOpener(l verify.LinkOpener) Option {
	return func(o *options) error {
		o.linkOpener = l
		return nil
	}
}

// WithoutDefaultJobs skips seeding the scheduled job table on first
// start.
func WithoutDefaultJobs() Option {
	return func(o *options) error {
		o.seedJobs = false
		return nil
	}
}
