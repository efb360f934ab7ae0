// Package credential defines the contract for retrieving mail credentials
// from the external encrypted credential store. Secrets are fetched for the
// duration of a single send or poll call and never cached by the engine.
package credential

import (
	"context"
	"errors"
)

// ErrNotConfigured indicates the requested credential has not been set up.
// Callers treat it as "feature disabled", not as a failure.
var ErrNotConfigured = errors.New("credential not configured")

// SMTP holds outbound-mail transport credentials.
type SMTP struct {
	// Host is the SMTP server hostname.
	Host string

	// Port is the SMTP server port.
	Port int

	// Username authenticates the sender.
	Username string

	// Password is the decrypted secret.
	Password string

	// From is the sender address for outbound opt-out mail.
	From string
}

// IMAP holds read-only mailbox credentials for the verification poller.
type IMAP struct {
	// Host is the IMAP server hostname.
	Host string

	// Port is the IMAP server port.
	Port int

	// Username authenticates the mailbox owner.
	Username string

	// Password is the decrypted secret.
	Password string
}

// Source supplies decrypted credentials on demand.
type Source interface {
	// SMTP returns outbound-mail credentials, or ErrNotConfigured.
	SMTP(ctx context.Context) (SMTP, error)

	// IMAP returns mailbox credentials, or ErrNotConfigured.
	IMAP(ctx context.Context) (IMAP, error)
}

// Static is a Source backed by fixed values, for tests and simple setups.
// A zero section reports ErrNotConfigured.
type Static struct {
	// SMTPCreds are the outbound-mail credentials, if any.
	SMTPCreds *SMTP

	// IMAPCreds are the mailbox credentials, if any.
	IMAPCreds *IMAP
}

// SMTP returns the fixed outbound-mail credentials.
func (s Static) SMTP(_ context.Context) (SMTP, error) {
	if s.SMTPCreds == nil {
		return SMTP{}, ErrNotConfigured
	}
	return *s.SMTPCreds, nil
}

// IMAP returns the fixed mailbox credentials.
func (s Static) IMAP(_ context.Context) (IMAP, error) {
	if s.IMAPCreds == nil {
		return IMAP{}, ErrNotConfigured
	}
	return *s.IMAPCreds, nil
}

// None is a Source with nothing configured.
type None struct{}

// SMTP always reports ErrNotConfigured.
func (None) SMTP(_ context.Context) (SMTP, error) { return SMTP{}, ErrNotConfigured }

// IMAP always reports ErrNotConfigured.
func (None) IMAP(_ context.Context) (IMAP, error) { return IMAP{}, ErrNotConfigured }
