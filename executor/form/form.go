// Package form implements the plain HTTP form removal channel. It has no
// shared resources and runs fully concurrently.
package form

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/optout-labs/redress/broker"
	"github.com/optout-labs/redress/executor"
)

const (
	// defaultTimeout bounds one form submission end to end.
	defaultTimeout = 30 * time.Second

	// maxBodyBytes caps how much of the response body is read when
	// scanning for the success marker.
	maxBodyBytes = 1 << 20

	// snippetLen caps the body excerpt attached to failure reasons.
	snippetLen = 200
)

// Executor submits opt-out requests over plain HTTP.
type Executor struct {
	client *http.Client
	logger *slog.Logger
}

// Option configures the form executor.
type Option func(*Executor)

// WithHTTPClient overrides the HTTP client used for submissions.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates a form executor with a bounded-timeout HTTP client.
func New(opts ...Option) *Executor {
	e := &Executor{
		client: &http.Client{Timeout: defaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "form-executor"))
	return e
}

// Execute renders the spec's field templates, submits the form, and scans
// the response body for the broker-declared success marker. The status
// code alone is never trusted: some brokers return 200 with an error page,
// so only the marker decides success.
func (e *Executor) Execute(ctx context.Context, spec *broker.RemovalSpec, fields executor.Fields) (executor.Outcome, error) {
	if spec.Channel != broker.ChannelHTTPForm || spec.Form == nil {
		return executor.Outcome{}, fmt.Errorf("form executor invoked for channel %q", spec.Channel)
	}

	values := url.Values{}
	for name, tmpl := range spec.Form.Fields {
		rendered := executor.Render(tmpl, fields)
		if strings.Contains(rendered, "{{") {
			// A form field that still carries a placeholder is missing
			// required profile data; submitting it would send literal
			// template text to the broker.
			e.logger.Error("form field missing required profile data",
				slog.String("broker", spec.BrokerID),
				slog.String("field", name))
			return executor.Failed(
				fmt.Sprintf("missing required field for form input %q", name), rendered), nil
		}
		values.Set(name, rendered)
	}

	method := spec.Form.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, spec.Form.URL, strings.NewReader(values.Encode()))
	if err != nil {
		return executor.Outcome{}, fmt.Errorf("build form request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.client.Do(req)
	if err != nil {
		return executor.Failed("form submission failed", err.Error()), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return executor.Failed("reading form response failed", err.Error()), nil
	}

	if strings.Contains(string(body), spec.Form.SuccessMarker) {
		e.logger.Info("form submission accepted",
			slog.String("broker", spec.BrokerID),
			slog.Int("status", resp.StatusCode))
		return executor.Submitted(), nil
	}

	e.logger.Warn("success marker not found in form response",
		slog.String("broker", spec.BrokerID),
		slog.Int("status", resp.StatusCode))
	return executor.Failed(
		fmt.Sprintf("success marker not found (status %d)", resp.StatusCode),
		snippet(body)), nil
}

func snippet(body []byte) string {
	s := string(body)
	if len(s) > snippetLen {
		s = s[:snippetLen]
	}
	return s
}
