// Package mail implements the email opt-out channel. A message is sent
// through the user's configured SMTP account when one exists; otherwise
// the engine composes a mailto URL and hands it to the system mail
// client, so the channel works with zero mail configuration.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	gomail "github.com/wneessen/go-mail"

	"github.com/optout-labs/redress/broker"
	"github.com/optout-labs/redress/credential"
	"github.com/optout-labs/redress/executor"
)

const (
	// MethodSMTP marks a message delivered through the configured SMTP
	// account.
	MethodSMTP = "smtp"

	// MethodMailto marks a message handed off to the system mail client.
	MethodMailto = "mailto"
)

var placeholderPattern = regexp.MustCompile(`\{\{([a-z_]+)\}\}`)

// Sender delivers a rendered message over SMTP.
type Sender interface {
	Send(ctx context.Context, creds credential.SMTP, recipient, subject, body string) error
}

// Opener hands a mailto URL to the system's default mail client.
type Opener interface {
	Open(ctx context.Context, mailtoURL string) error
}

// Executor sends email opt-out requests.
type Executor struct {
	creds  credential.Source
	sender Sender
	opener Opener
	logger *slog.Logger
}

// Option configures the mail executor.
type Option func(*Executor)

// WithSender overrides the SMTP delivery implementation.
func WithSender(s Sender) Option {
	return func(e *Executor) { e.sender = s }
}

// WithOpener overrides how mailto URLs are handed to the system.
func WithOpener(o Opener) Option {
	return func(e *Executor) { e.opener = o }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates a mail executor. Credentials are fetched from creds per
// send and never held between calls.
func New(creds credential.Source, opts ...Option) *Executor {
	e := &Executor{
		creds:  creds,
		sender: goMailSender{},
		opener: systemOpener{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.creds == nil {
		e.creds = credential.None{}
	}
	e.logger = e.logger.With(slog.String("component", "mail-executor"))
	return e
}

// Execute renders the broker's mail templates and delivers the message.
// SMTP is preferred when configured; the mailto hand-off is the fallback,
// not an error. The rendered body travels in the returned receipt so the
// caller can hash it into evidence; it is never logged.
func (e *Executor) Execute(ctx context.Context, spec *broker.RemovalSpec, fields executor.Fields) (executor.Outcome, error) {
	if spec.Channel != broker.ChannelEmail || spec.Mail == nil {
		return executor.Outcome{}, fmt.Errorf("mail executor invoked for channel %q", spec.Channel)
	}

	subject := executor.Render(spec.Mail.SubjectTemplate, fields)
	body := executor.Render(spec.Mail.BodyTemplate, fields)

	// Fields absent from the profile stay as literal placeholders in the
	// outgoing message.
	if leftover := unresolved(subject + "\n" + body); len(leftover) > 0 {
		e.logger.Warn("mail template fields left unresolved",
			slog.String("broker", spec.BrokerID),
			slog.Any("fields", leftover))
	}

	receipt := &executor.MailReceipt{
		Recipient: spec.Mail.Recipient,
		Subject:   subject,
		Body:      body,
	}

	creds, err := e.creds.SMTP(ctx)
	switch {
	case err == nil:
		if err := e.sender.Send(ctx, creds, spec.Mail.Recipient, subject, body); err != nil {
			return executor.Failed("mail send failed", err.Error()), nil
		}
		receipt.Method = MethodSMTP
		e.logger.Info("opt-out mail sent",
			slog.String("broker", spec.BrokerID),
			slog.String("recipient", spec.Mail.Recipient))

	case errors.Is(err, credential.ErrNotConfigured):
		mailto := composeMailto(spec.Mail.Recipient, subject, body)
		if err := e.opener.Open(ctx, mailto); err != nil {
			return executor.Failed("failed to open system mail client", err.Error()), nil
		}
		receipt.Method = MethodMailto
		receipt.MailtoURL = mailto
		e.logger.Info("opt-out mail handed to system client",
			slog.String("broker", spec.BrokerID),
			slog.String("recipient", spec.Mail.Recipient))

	default:
		return executor.Failed("failed to load mail credentials", err.Error()), nil
	}

	out := executor.Submitted()
	if spec.Mail.RequiresVerification {
		out = executor.AwaitingVerification()
	}
	out.Mail = receipt
	return out, nil
}

// unresolved lists placeholder names still present after rendering, in
// order of first appearance.
func unresolved(rendered string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(rendered, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// composeMailto builds a mailto URL with percent-encoded subject and
// body. QueryEscape's plus-for-space convention breaks mail clients, so
// spaces become %20.
func composeMailto(recipient, subject, body string) string {
	return fmt.Sprintf("mailto:%s?subject=%s&body=%s",
		recipient, mailtoEncode(subject), mailtoEncode(body))
}

func mailtoEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// goMailSender delivers messages with go-mail, dialing per send.
type goMailSender struct{}

func (goMailSender) Send(ctx context.Context, creds credential.SMTP, recipient, subject, body string) error {
	client, err := gomail.NewClient(creds.Host,
		gomail.WithPort(creds.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(creds.Username),
		gomail.WithPassword(creds.Password),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	msg := gomail.NewMsg()
	if err := msg.From(creds.From); err != nil {
		return fmt.Errorf("invalid sender address %q: %w", creds.From, err)
	}
	if err := msg.To(recipient); err != nil {
		return fmt.Errorf("invalid recipient address %q: %w", recipient, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
