// Package executor defines the common contract for the three removal
// channel executors and the outcome type they report. Executors never
// mutate attempt state; the dispatcher is the single writer.
package executor

import (
	"context"

	"github.com/optout-labs/redress/broker"
)

// Fields are the decrypted profile values available for substitution into
// forms and templates, keyed by field name (e.g. "email", "first_name",
// "listing_url").
type Fields map[string]string

// Executor is one removal channel strategy.
type Executor interface {
	// Execute runs the removal request described by spec using the given
	// profile fields and reports the outcome. A returned error means the
	// executor itself could not run; channel-level failures are reported
	// in the outcome so the dispatcher can record the reason.
	Execute(ctx context.Context, spec *broker.RemovalSpec, fields Fields) (Outcome, error)
}

// Clone returns a copy of the fields safe for the caller to mutate.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
