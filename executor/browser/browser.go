// Package browser implements the browser-driven form removal channel.
//
// The headless browser is the engine's one shared automation resource: a
// single process, started lazily on first use and held for the executor's
// lifetime, with all browser-channel work serialized through it. One
// browser per concurrent attempt is resource-prohibitive on a consumer
// machine, and parallel hits against brokers from the same user gain
// nothing, so the hard concurrency limit is one.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/optout-labs/redress/broker"
	"github.com/optout-labs/redress/executor"
)

const (
	// successTimeout bounds the wait for the post-submit success
	// selector. After it elapses the attempt fails; it is never left
	// hanging.
	successTimeout = 30 * time.Second

	// captchaProbe is the short wait used to detect a CAPTCHA element
	// before submitting.
	captchaProbe = time.Second

	// errorProbe is the short wait used to detect an inline error
	// message after submitting.
	errorProbe = 500 * time.Millisecond

	// settleDelay is how long a submission without a success selector is
	// given before the page is considered settled.
	settleDelay = 2 * time.Second

	// closeGrace bounds browser shutdown during engine close.
	closeGrace = 10 * time.Second
)

// Executor drives broker opt-out forms through the shared headless
// browser.
type Executor struct {
	mu        sync.Mutex // guards engine: at most one attempt in flight
	engine    Engine
	newEngine func() (Engine, error)
	logger    *slog.Logger
}

// Option configures the browser executor.
type Option func(*Executor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// withEngineFactory overrides how the shared engine is created. Test seam.
func withEngineFactory(factory func() (Engine, error)) Option {
	return func(e *Executor) { e.newEngine = factory }
}

// New creates a browser executor. No browser process is started until the
// first Execute call.
func New(opts ...Option) *Executor {
	e := &Executor{
		newEngine: newChromeEngine,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "browser-executor"))
	return e
}

// Execute runs one browser-form submission. The shared browser lock is
// held for the whole run and released on every exit path, including
// timeouts.
func (e *Executor) Execute(ctx context.Context, spec *broker.RemovalSpec, fields executor.Fields) (executor.Outcome, error) {
	if spec.Channel != broker.ChannelBrowserForm || spec.Browser == nil {
		return executor.Outcome{}, fmt.Errorf("browser executor invoked for channel %q", spec.Channel)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.engine == nil {
		e.logger.Info("starting headless browser for first browser-form removal")
		engine, err := e.newEngine()
		if err != nil {
			return executor.Outcome{}, fmt.Errorf("start browser engine: %w", err)
		}
		e.engine = engine
	}

	return e.submit(ctx, spec, fields)
}

func (e *Executor) submit(ctx context.Context, spec *broker.RemovalSpec, fields executor.Fields) (executor.Outcome, error) {
	cfg := spec.Browser
	log := e.logger.With(slog.String("broker", spec.BrokerID))

	if err := e.engine.Navigate(ctx, cfg.URL); err != nil {
		return executor.Failed("navigation failed", err.Error()), nil
	}

	// A CAPTCHA present before submission means automation cannot
	// proceed; park the attempt for the user.
	if cfg.CaptchaSelector != "" {
		if err := e.engine.WaitVisible(ctx, cfg.CaptchaSelector, captchaProbe); err == nil {
			log.Warn("captcha detected on opt-out form")
			return executor.RequiresCaptcha(cfg.URL), nil
		}
	}

	for selector, fieldName := range cfg.Selectors {
		value, ok := fields[fieldName]
		if !ok {
			log.Error("profile field missing for form selector",
				slog.String("field", fieldName))
			return executor.Failed(
				fmt.Sprintf("missing required field %q", fieldName), ""), nil
		}
		if err := e.engine.Fill(ctx, selector, value); err != nil {
			return executor.Failed(
				fmt.Sprintf("failed to fill field %q", fieldName), err.Error()), nil
		}
	}

	if err := e.engine.Click(ctx, cfg.SubmitSelector); err != nil {
		return executor.Failed("failed to click submit", err.Error()), nil
	}

	// An inline error message is a broker rejection, not a transport
	// failure; surface its text.
	if cfg.ErrorSelector != "" {
		if err := e.engine.WaitVisible(ctx, cfg.ErrorSelector, errorProbe); err == nil {
			text, terr := e.engine.Text(ctx, cfg.ErrorSelector)
			if terr != nil || strings.TrimSpace(text) == "" {
				text = "unknown form error"
			}
			return executor.Failed("form rejected: "+strings.TrimSpace(text), ""), nil
		}
	}

	if cfg.SuccessSelector != "" {
		if err := e.engine.WaitVisible(ctx, cfg.SuccessSelector, successTimeout); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return executor.Failed(
					fmt.Sprintf("success confirmation not detected within %s", successTimeout), ""), nil
			}
			return executor.Failed("waiting for success confirmation failed", err.Error()), nil
		}
	} else {
		// No success selector declared; give the page a moment and
		// treat the submission as accepted, as the source system does.
		select {
		case <-time.After(settleDelay):
		case <-ctx.Done():
			return executor.Failed("submission interrupted", ctx.Err().Error()), nil
		}
	}

	out := executor.Submitted()
	png, err := e.engine.Screenshot(ctx)
	if err != nil {
		// The submission succeeded; a lost screenshot is logged, not
		// fatal.
		log.Warn("screenshot capture failed", slog.String("error", err.Error()))
	} else {
		out.Screenshot = png
	}

	log.Info("browser form submitted")
	return out, nil
}

// Close shuts the shared browser down with a bounded grace period. It is
// safe to call when no browser was ever started.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.engine == nil {
		return nil
	}

	graceCtx, cancel := context.WithTimeout(ctx, closeGrace)
	defer cancel()

	err := e.engine.Close(graceCtx)
	e.engine = nil
	return err
}
