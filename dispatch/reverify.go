package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/optout-labs/redress/attempt"
	"github.com/optout-labs/redress/finding"
)

// ReverifyAfter is how long a submitted or completed attempt rests before
// the re-verification pass checks its listing again.
const ReverifyAfter = 72 * time.Hour

// ListingChecker answers whether a broker listing is still reachable. It
// is consumed from the external discovery subsystem.
type ListingChecker interface {
	StillPresent(ctx context.Context, listingURL string) (bool, error)
}

// Reverify re-checks aged submitted and completed attempts against the
// live broker listing. A listing still present means the removal did not
// stick: the attempt transitions to Reappeared and exactly one new
// finding with a fresh pending attempt is created, keeping the failed
// history intact. The pass lives on the dispatcher so attempt status
// keeps a single writer.
func (d *Dispatcher) Reverify(ctx context.Context) error {
	if d.checker == nil {
		d.logger.Debug("re-verification skipped, no listing checker wired")
		return nil
	}

	candidates, err := d.store.ListAttemptsByStatus(ctx,
		attempt.StatusSubmitted, attempt.StatusCompleted)
	if err != nil {
		return fmt.Errorf("list attempts for re-verification: %w", err)
	}

	cutoff := time.Now().UTC().Add(-ReverifyAfter)
	for _, a := range candidates {
		if !restedLongEnough(a, cutoff) {
			continue
		}
		if err := d.recheck(ctx, a); err != nil {
			d.logger.Error("re-verification failed for attempt",
				slog.String("attempt_id", a.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// restedLongEnough reports whether the attempt's latest progress
// timestamp is older than the cutoff.
func restedLongEnough(a *attempt.Attempt, cutoff time.Time) bool {
	ref := a.SubmittedAt
	if a.CompletedAt != nil {
		ref = a.CompletedAt
	}
	return ref != nil && ref.Before(cutoff)
}

// recheck probes one listing and handles a reappearance.
func (d *Dispatcher) recheck(ctx context.Context, a *attempt.Attempt) error {
	f, err := d.store.GetFinding(ctx, a.FindingID)
	if err != nil {
		return fmt.Errorf("load finding %s: %w", a.FindingID, err)
	}

	present, err := d.checker.StillPresent(ctx, f.ListingURL)
	if err != nil {
		return fmt.Errorf("check listing %s: %w", f.ListingURL, err)
	}
	if !present {
		return nil
	}

	// The listing is back. Close this attempt's history and open a fresh
	// finding+attempt pair rather than rewinding state.
	if err := a.Transition(attempt.StatusReappeared); err != nil {
		return err
	}
	a.Note = "listing reappeared after removal"

	next := finding.New(f.ProfileID, f.BrokerID, f.ListingURL)
	retry := attempt.New(next.ID, f.BrokerID, f.ProfileID, a.Channel)
	retry.Note = fmt.Sprintf("reappearance of attempt %s", a.ID)

	if err := d.store.UpdateAttempt(ctx, a); err != nil {
		return fmt.Errorf("persist reappeared attempt %s: %w", a.ID, err)
	}
	if err := d.store.CreateFinding(ctx, next); err != nil {
		return fmt.Errorf("create reappearance finding: %w", err)
	}
	if err := d.store.CreateAttempt(ctx, retry); err != nil {
		return fmt.Errorf("create reappearance attempt: %w", err)
	}

	d.logger.Warn("listing reappeared",
		slog.String("attempt_id", a.ID),
		slog.String("broker", a.BrokerID),
		slog.String("new_finding_id", next.ID))
	return nil
}
