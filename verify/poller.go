package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/optout-labs/redress/attempt"
	"github.com/optout-labs/redress/broker"
	"github.com/optout-labs/redress/credential"
	"github.com/optout-labs/redress/event"
	"github.com/optout-labs/redress/store"
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// LinkOpener opens a confirmation link in the user's default browser.
type LinkOpener interface {
	Open(ctx context.Context, url string) error
}

// SystemLinkOpener launches the platform URL handler.
type SystemLinkOpener struct{}

// Open hands the URL to the OS.
func (SystemLinkOpener) Open(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("open confirmation link: %w", err)
	}
	return nil
}

// Poller watches the user's mailbox for broker confirmation mail and
// completes the matching awaiting attempts.
type Poller struct {
	store    store.Store
	registry broker.Registry
	creds    credential.Source
	verifier *Verifier
	dial     DialFunc
	opener   LinkOpener
	logger   *slog.Logger
}

// PollerOption configures the poller.
type PollerOption func(*Poller)

// WithDialer overrides how mailbox sessions are opened.
func WithDialer(dial DialFunc) PollerOption {
	return func(p *Poller) { p.dial = dial }
}

// WithLinkOpener overrides how confirmation links are opened.
func WithLinkOpener(o LinkOpener) PollerOption {
	return func(p *Poller) { p.opener = o }
}

// WithPollerLogger sets the structured logger.
func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// NewPoller creates a mailbox poller. It stays dormant until IMAP
// credentials are configured.
func NewPoller(st store.Store, reg broker.Registry, creds credential.Source, bus *event.Bus, opts ...PollerOption) *Poller {
	p := &Poller{
		store:    st,
		registry: reg,
		creds:    creds,
		dial:     DialIMAP,
		opener:   SystemLinkOpener{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.creds == nil {
		p.creds = credential.None{}
	}
	p.logger = p.logger.With(slog.String("component", "imap-poller"))
	p.verifier = NewVerifier(st, bus, p.logger)
	return p
}

// candidate pairs an awaiting attempt with its broker's mail spec.
type candidate struct {
	attempt *attempt.Attempt
	mail    *broker.MailSpec
}

// Poll runs one mailbox sweep. A fresh session is opened and torn down
// per call. Without configured credentials or awaiting attempts it does
// nothing. Confirmation senders are matched exactly, case-insensitively;
// substring matches would let lookalike domains complete attempts.
func (p *Poller) Poll(ctx context.Context) error {
	creds, err := p.creds.IMAP(ctx)
	if errors.Is(err, credential.ErrNotConfigured) {
		p.logger.Debug("imap polling skipped, no mailbox configured")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load imap credentials: %w", err)
	}

	candidates, err := p.candidates(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	mbox, err := p.dial(ctx, creds)
	if err != nil {
		return fmt.Errorf("open mailbox: %w", err)
	}
	defer mbox.Close()

	msgs, err := mbox.Unread(ctx)
	if err != nil {
		return fmt.Errorf("read mailbox: %w", err)
	}

	for _, msg := range msgs {
		cand, ok := candidates[strings.ToLower(msg.Sender)]
		if !ok {
			continue
		}
		if err := p.confirm(ctx, cand, msg); err != nil {
			p.logger.Error("failed to apply confirmation",
				slog.String("attempt_id", cand.attempt.ID),
				slog.String("error", err.Error()))
			continue
		}
		// One message completes one attempt.
		delete(candidates, strings.ToLower(msg.Sender))
	}
	return nil
}

// candidates maps lowercased confirmation senders to the awaiting
// attempts they would complete.
func (p *Poller) candidates(ctx context.Context) (map[string]candidate, error) {
	awaiting, err := p.store.ListAttemptsByStatus(ctx, attempt.StatusAwaitingVerification)
	if err != nil {
		return nil, fmt.Errorf("list awaiting attempts: %w", err)
	}

	out := make(map[string]candidate, len(awaiting))
	for _, a := range awaiting {
		spec, err := p.registry.Get(ctx, a.BrokerID)
		if err != nil {
			p.logger.Warn("no broker spec for awaiting attempt",
				slog.String("attempt_id", a.ID),
				slog.String("broker", a.BrokerID))
			continue
		}
		if spec.Mail == nil || spec.Mail.ConfirmationSender == "" {
			continue
		}
		out[strings.ToLower(spec.Mail.ConfirmationSender)] = candidate{
			attempt: a,
			mail:    spec.Mail,
		}
	}
	return out, nil
}

// confirm handles one matched confirmation message: extract and open the
// confirmation link if the broker declares one, then complete the
// attempt. A link that fails to open leaves the attempt awaiting so the
// next poll retries it.
func (p *Poller) confirm(ctx context.Context, cand candidate, msg Message) error {
	detail := fmt.Sprintf("confirmation mail received from %s", msg.Sender)

	if cand.mail.LinkPattern != "" {
		link := extractLink(cand.mail.LinkPattern, msg.Body)
		if link == "" {
			return fmt.Errorf("confirmation mail from %s carries no link matching the broker pattern", msg.Sender)
		}
		if err := p.opener.Open(ctx, link); err != nil {
			return fmt.Errorf("open confirmation link: %w", err)
		}
		detail += ", confirmation link opened"
		p.logger.Info("confirmation link opened",
			slog.String("attempt_id", cand.attempt.ID),
			slog.String("broker", cand.attempt.BrokerID))
	}

	return p.verifier.complete(ctx, cand.attempt, detail)
}

// extractLink applies the broker's link pattern to the message body. The
// first capture group wins when the pattern declares one, otherwise the
// whole match.
func extractLink(pattern, body string) string {
	re, err := regexp.Compile(pattern)
	if err != nil {
		// Validate catches this at load time; a registry bypass still
		// must not panic a poll.
		return ""
	}
	m := re.FindStringSubmatch(body)
	switch {
	case len(m) > 1 && m[1] != "":
		return m[1]
	case len(m) > 0:
		return m[0]
	default:
		return ""
	}
}
