// Package store defines the interface the engine consumes from the
// external attempt store, plus in-memory and Redis-backed implementations.
// The store persists attempts, their evidence, findings spawned on
// reappearance, and the scheduler's job table.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/optout-labs/redress/attempt"
	"github.com/optout-labs/redress/finding"
	"github.com/optout-labs/redress/schedule"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence contract for removal state.
//
// UpdateAttempt writes the attempt row and any new evidence in one atomic
// operation: an attempt is never left with a status its evidence
// contradicts, so any in-flight attempt is safe to retry after a restart.
type Store interface {
	// CreateFinding persists a finding spawned by a reappearance.
	CreateFinding(ctx context.Context, f finding.Finding) error

	// GetFinding returns the finding with the given ID, or ErrNotFound.
	GetFinding(ctx context.Context, id string) (finding.Finding, error)

	// CreateAttempt persists a new attempt.
	CreateAttempt(ctx context.Context, a *attempt.Attempt) error

	// GetAttempt returns the attempt with the given ID, or ErrNotFound.
	GetAttempt(ctx context.Context, id string) (*attempt.Attempt, error)

	// UpdateAttempt persists the attempt state together with any new
	// evidence, atomically.
	UpdateAttempt(ctx context.Context, a *attempt.Attempt, evidence ...attempt.Evidence) error

	// ListAttemptsByStatus returns attempts whose status is one of the
	// given states, ordered by creation time.
	ListAttemptsByStatus(ctx context.Context, statuses ...attempt.Status) ([]*attempt.Attempt, error)

	// DeleteAttempt removes an attempt and, with it, all of its evidence.
	DeleteAttempt(ctx context.Context, id string) error

	// ListEvidence returns all evidence captured for an attempt, in
	// capture order.
	ListEvidence(ctx context.Context, attemptID string) ([]attempt.Evidence, error)

	// GetJob returns the scheduled job with the given ID, or ErrNotFound.
	GetJob(ctx context.Context, id string) (schedule.Job, error)

	// PutJob creates or replaces a scheduled job row.
	PutJob(ctx context.Context, j schedule.Job) error

	// ListJobs returns all scheduled jobs.
	ListJobs(ctx context.Context) ([]schedule.Job, error)

	// ListDueJobs returns enabled jobs with NextRunAt <= now.
	ListDueJobs(ctx context.Context, now time.Time) ([]schedule.Job, error)
}
