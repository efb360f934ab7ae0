// Package verify closes the loop on attempts parked in
// AwaitingVerification: a manual confirmation command and a read-only
// mailbox poller that watches for broker confirmation mail.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/optout-labs/redress/attempt"
	"github.com/optout-labs/redress/event"
	"github.com/optout-labs/redress/store"
)

// MaxVerificationAge bounds how far back the mailbox poller searches for
// confirmation mail.
const MaxVerificationAge = 7 * 24 * time.Hour

// ErrNotAwaitingVerification indicates a verification was requested for
// an attempt that is not parked on broker confirmation.
var ErrNotAwaitingVerification = errors.New("attempt is not awaiting verification")

// Verifier completes attempts parked on broker confirmation. Only
// AwaitingVerification attempts are ever touched.
type Verifier struct {
	store  store.Store
	bus    *event.Bus
	logger *slog.Logger
}

// NewVerifier creates a verifier over the given store and bus.
func NewVerifier(st store.Store, bus *event.Bus, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		store:  st,
		bus:    bus,
		logger: logger.With(slog.String("component", "verifier")),
	}
}

// MarkVerified records a user-confirmed removal. Calling it on an
// already-Completed attempt is a no-op, so double confirmation is safe.
func (v *Verifier) MarkVerified(ctx context.Context, attemptID string) error {
	a, err := v.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("load attempt %s: %w", attemptID, err)
	}

	if a.Status == attempt.StatusCompleted {
		return nil
	}
	if a.Status != attempt.StatusAwaitingVerification {
		return fmt.Errorf("attempt %s in status %s: %w", a.ID, a.Status, ErrNotAwaitingVerification)
	}

	return v.complete(ctx, a, "removal confirmed manually")
}

// complete transitions an awaiting attempt to Completed with a
// verification-log evidence row, then announces it.
func (v *Verifier) complete(ctx context.Context, a *attempt.Attempt, detail string) error {
	if err := a.Transition(attempt.StatusCompleted); err != nil {
		return err
	}

	ev := attempt.NewVerificationLog(a.ID, detail)
	if err := v.store.UpdateAttempt(ctx, a, ev); err != nil {
		return fmt.Errorf("persist verification for attempt %s: %w", a.ID, err)
	}

	v.logger.Info("removal verified",
		slog.String("attempt_id", a.ID),
		slog.String("broker", a.BrokerID))
	v.bus.Publish(event.Event{
		Type:      event.TypeAttemptVerified,
		AttemptID: a.ID,
		FindingID: a.FindingID,
		BrokerID:  a.BrokerID,
		Channel:   a.Channel,
	})
	return nil
}

// Stale lists attempts that have been awaiting verification longer than
// olderThan. They are surfaced for the user, never auto-failed: broker
// confirmation mail can be arbitrarily late.
func (v *Verifier) Stale(ctx context.Context, olderThan time.Duration) ([]*attempt.Attempt, error) {
	awaiting, err := v.store.ListAttemptsByStatus(ctx, attempt.StatusAwaitingVerification)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	var stale []*attempt.Attempt
	for _, a := range awaiting {
		if a.SubmittedAt != nil && a.SubmittedAt.Before(cutoff) {
			stale = append(stale, a)
		}
	}
	return stale, nil
}
