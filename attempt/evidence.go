package attempt

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// EvidenceKind represents the type of evidence captured for an attempt.
type EvidenceKind string

const (
	// EvidenceScreenshot is a screenshot captured by the browser channel.
	EvidenceScreenshot EvidenceKind = "screenshot"

	// EvidenceMailLog is the send log written for every mail-channel
	// submission: recipient, subject, and a content hash, never the raw
	// body.
	EvidenceMailLog EvidenceKind = "mail_log"

	// EvidenceVerificationLog records a confirmation observed by the
	// verification subsystem.
	EvidenceVerificationLog EvidenceKind = "verification_log"
)

// IsValid returns true if the evidence kind is known.
func (k EvidenceKind) IsValid() bool {
	switch k {
	case EvidenceScreenshot, EvidenceMailLog, EvidenceVerificationLog:
		return true
	default:
		return false
	}
}

// Evidence is durable proof of an attempt's outcome. Evidence is owned by,
// and deleted with, its attempt.
type Evidence struct {
	// ID is a unique identifier for this evidence record.
	ID string `json:"id"`

	// AttemptID references the owning attempt.
	AttemptID string `json:"attempt_id"`

	// Kind specifies the type of evidence.
	Kind EvidenceKind `json:"kind"`

	// CapturedAt is when the evidence was collected.
	CapturedAt time.Time `json:"captured_at"`

	// Screenshot holds the PNG bytes for screenshot evidence.
	Screenshot []byte `json:"screenshot,omitempty"`

	// Recipient is the destination address for mail-log evidence.
	Recipient string `json:"recipient,omitempty"`

	// Subject is the message subject for mail-log evidence.
	Subject string `json:"subject,omitempty"`

	// ContentHash is the SHA-256 hex digest of the message body for
	// mail-log evidence.
	ContentHash string `json:"content_hash,omitempty"`

	// Detail carries a human-readable annotation for verification logs.
	Detail string `json:"detail,omitempty"`
}

// NewScreenshot creates screenshot evidence for a browser attempt.
func NewScreenshot(attemptID string, png []byte) Evidence {
	return Evidence{
		ID:         uuid.NewString(),
		AttemptID:  attemptID,
		Kind:       EvidenceScreenshot,
		CapturedAt: time.Now().UTC(),
		Screenshot: png,
	}
}

// NewMailLog creates the mandatory send-log evidence for a mail submission.
// The body is hashed and discarded; the raw text is never stored.
func NewMailLog(attemptID, recipient, subject, body string) Evidence {
	return Evidence{
		ID:          uuid.NewString(),
		AttemptID:   attemptID,
		Kind:        EvidenceMailLog,
		CapturedAt:  time.Now().UTC(),
		Recipient:   recipient,
		Subject:     subject,
		ContentHash: HashContent(body),
	}
}

// NewVerificationLog creates evidence recording an observed confirmation.
func NewVerificationLog(attemptID, detail string) Evidence {
	return Evidence{
		ID:         uuid.NewString(),
		AttemptID:  attemptID,
		Kind:       EvidenceVerificationLog,
		CapturedAt: time.Now().UTC(),
		Detail:     detail,
	}
}

// HashContent returns the SHA-256 hex digest of body.
func HashContent(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
