package attempt

// Status represents the lifecycle state of a removal attempt.
//
// The transition graph is:
//
//	Pending -> Submitted -> Completed
//	Pending -> Failed
//	Pending -> RequiresCaptcha -> (resume) -> Submitted | Failed | AwaitingVerification
//	Pending -> AwaitingVerification -> Completed
//	Submitted | Completed -> Reappeared
//
// Pending is the initial state. Completed and Failed are terminal for the
// attempt; a Reappeared attempt is closed out by spawning a brand-new
// finding and attempt rather than reopening this one.
type Status string

const (
	// StatusPending indicates the attempt has been queued but not executed.
	StatusPending Status = "pending"

	// StatusSubmitted indicates the removal request reached the broker.
	StatusSubmitted Status = "submitted"

	// StatusRequiresCaptcha indicates execution was parked on a CAPTCHA
	// challenge and needs explicit user resumption.
	StatusRequiresCaptcha Status = "requires_captcha"

	// StatusAwaitingVerification indicates the broker requires a
	// confirmation step before the removal is considered final.
	StatusAwaitingVerification Status = "awaiting_verification"

	// StatusCompleted indicates the removal was submitted and, where
	// required, verified.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the attempt failed; retry is always an
	// explicit user or scheduler action.
	StatusFailed Status = "failed"

	// StatusReappeared indicates a previously submitted or completed
	// listing was found present again on re-scan.
	StatusReappeared Status = "reappeared"
)

// IsValid returns true if the status is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending,
		StatusSubmitted,
		StatusRequiresCaptcha,
		StatusAwaitingVerification,
		StatusCompleted,
		StatusFailed,
		StatusReappeared:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transition may leave the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusReappeared:
		return true
	default:
		return false
	}
}

// transitions is the closed set of permitted forward edges.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusSubmitted:            true,
		StatusRequiresCaptcha:      true,
		StatusAwaitingVerification: true,
		StatusFailed:               true,
	},
	StatusRequiresCaptcha: {
		StatusSubmitted:            true,
		StatusRequiresCaptcha:      true,
		StatusAwaitingVerification: true,
		StatusFailed:               true,
	},
	StatusSubmitted: {
		StatusCompleted:  true,
		StatusReappeared: true,
	},
	StatusAwaitingVerification: {
		StatusCompleted: true,
	},
	StatusCompleted: {
		StatusReappeared: true,
	},
}

// CanTransition reports whether moving from s to next follows the declared
// graph. Transitions are monotonic: there is no edge back to an earlier
// state, and terminal states other than Completed have no outgoing edges.
func (s Status) CanTransition(next Status) bool {
	return transitions[s][next]
}
