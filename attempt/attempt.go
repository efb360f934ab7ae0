// Package attempt defines the removal attempt entity, its lifecycle state
// machine, and the evidence records attached to an attempt.
package attempt

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/optout-labs/redress/broker"
)

// captchaNotePrefix marks a note carrying the escalation URL for a parked
// CAPTCHA attempt.
const captchaNotePrefix = "CAPTCHA_REQUIRED:"

// Attempt is one tracked effort to remove a finding via a specific channel.
//
// Attempts are created by the dispatcher when a finding is queued and
// mutated only by the dispatcher, the verification subsystem, or the
// scheduler's re-verification pass. They are never deleted: a reappearance
// spawns a new finding and attempt rather than rewriting history.
type Attempt struct {
	// ID is a unique identifier for this attempt.
	ID string `json:"id"`

	// FindingID references the finding being removed.
	FindingID string `json:"finding_id"`

	// BrokerID identifies the broker being contacted.
	BrokerID string `json:"broker_id"`

	// ProfileID identifies the owning user profile.
	ProfileID string `json:"profile_id"`

	// Channel is the removal delivery mechanism used for this attempt.
	Channel broker.Channel `json:"channel"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// CreatedAt is when the attempt was queued.
	CreatedAt time.Time `json:"created_at"`

	// SubmittedAt is when the request reached the broker, if it did.
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`

	// CompletedAt is when the attempt reached a completed state, if it did.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// RetryCount is the number of explicit retries performed.
	RetryCount int `json:"retry_count"`

	// Note carries free-text sub-state data: the escalation URL for a
	// parked CAPTCHA, the failure reason for job-history display, or
	// verification annotations.
	Note string `json:"note,omitempty"`
}

// New creates a pending attempt for the given finding.
func New(findingID, brokerID, profileID string, channel broker.Channel) *Attempt {
	return &Attempt{
		ID:        uuid.NewString(),
		FindingID: findingID,
		BrokerID:  brokerID,
		ProfileID: profileID,
		Channel:   channel,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Transition moves the attempt to next, enforcing the declared graph.
// It stamps SubmittedAt and CompletedAt on first entry into the
// corresponding states.
func (a *Attempt) Transition(next Status) error {
	if !next.IsValid() {
		return fmt.Errorf("invalid status %q", next)
	}
	if !a.Status.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for attempt %s", a.Status, next, a.ID)
	}

	now := time.Now().UTC()
	switch next {
	case StatusSubmitted, StatusAwaitingVerification:
		if a.SubmittedAt == nil {
			a.SubmittedAt = &now
		}
	case StatusCompleted, StatusFailed, StatusReappeared:
		if a.CompletedAt == nil {
			a.CompletedAt = &now
		}
	}

	a.Status = next
	return nil
}

// SetCaptchaURL records the escalation URL for a parked CAPTCHA attempt.
func (a *Attempt) SetCaptchaURL(url string) {
	a.Note = captchaNotePrefix + url
}

// CaptchaURL returns the escalation URL recorded for a parked attempt, or
// empty if the note does not carry one.
func (a *Attempt) CaptchaURL() string {
	if rest, ok := strings.CutPrefix(a.Note, captchaNotePrefix); ok {
		return rest
	}
	return ""
}
