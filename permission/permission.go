// Package permission defines the pre-flight gate the engine consults
// before driving a browser or sending mail on the user's behalf. The
// policy decisions themselves live in the external permission/privacy
// engine; this package only carries the contract.
package permission

import (
	"context"

	"github.com/optout-labs/redress/broker"
)

// Action identifies the side-effecting operation being gated.
type Action string

const (
	// ActionExecuteBrowser is driving the headless browser against a broker.
	ActionExecuteBrowser Action = "execute_browser"

	// ActionSendMail is sending outbound opt-out mail.
	ActionSendMail Action = "send_mail"
)

// Request describes the operation awaiting clearance.
type Request struct {
	// ProfileID is the profile on whose behalf the engine acts.
	ProfileID string

	// BrokerID is the broker being contacted.
	BrokerID string

	// Channel is the removal channel about to run.
	Channel broker.Channel

	// Action is the gated operation.
	Action Action
}

// Decision is the gate's answer. A denial is treated identically to a
// failed outcome with no side effects; the reason distinguishes "feature
// disabled" from a broker rejection in job history.
type Decision struct {
	// Allowed reports whether the operation may proceed.
	Allowed bool

	// Reason explains a denial.
	Reason string
}

// Gate is the pre-flight check consumed from the external permission
// engine.
type Gate interface {
	// Allow decides whether the requested operation may proceed.
	Allow(ctx context.Context, req Request) (Decision, error)
}

// AllowAll is a Gate that permits every operation. It is the default when
// no permission engine is wired in.
type AllowAll struct{}

// Allow always permits the request.
func (AllowAll) Allow(_ context.Context, _ Request) (Decision, error) {
	return Decision{Allowed: true}, nil
}
