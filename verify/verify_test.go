package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optout-labs/redress/attempt"
	"github.com/optout-labs/redress/broker"
	"github.com/optout-labs/redress/event"
	"github.com/optout-labs/redress/store"
)

func newAwaitingAttempt(t *testing.T, st store.Store, brokerID string) *attempt.Attempt {
	t.Helper()
	a := attempt.New("finding-1", brokerID, "profile-1", broker.ChannelEmail)
	require.NoError(t, st.CreateAttempt(context.Background(), a))
	require.NoError(t, a.Transition(attempt.StatusAwaitingVerification))
	require.NoError(t, st.UpdateAttempt(context.Background(), a))
	return a
}

func TestMarkVerified(t *testing.T) {
	st := store.NewMemory()
	bus := event.NewBus()
	events := bus.Subscribe()
	v := NewVerifier(st, bus, nil)

	a := newAwaitingAttempt(t, st, "beenverified")

	require.NoError(t, v.MarkVerified(context.Background(), a.ID))

	got, err := st.GetAttempt(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	evidence, err := st.ListEvidence(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, evidence, 1)
	assert.Equal(t, attempt.EvidenceVerificationLog, evidence[0].Kind)

	ev := <-events
	assert.Equal(t, event.TypeAttemptVerified, ev.Type)
	assert.Equal(t, a.ID, ev.AttemptID)
}

func TestMarkVerifiedIdempotent(t *testing.T) {
	st := store.NewMemory()
	v := NewVerifier(st, event.NewBus(), nil)

	a := newAwaitingAttempt(t, st, "beenverified")
	require.NoError(t, v.MarkVerified(context.Background(), a.ID))
	require.NoError(t, v.MarkVerified(context.Background(), a.ID), "second confirmation must be a no-op")

	evidence, err := st.ListEvidence(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Len(t, evidence, 1, "no duplicate evidence on repeat confirmation")
}

func TestMarkVerifiedWrongState(t *testing.T) {
	st := store.NewMemory()
	v := NewVerifier(st, event.NewBus(), nil)

	a := attempt.New("finding-1", "spokeo", "profile-1", broker.ChannelHTTPForm)
	require.NoError(t, st.CreateAttempt(context.Background(), a))

	err := v.MarkVerified(context.Background(), a.ID)
	require.ErrorIs(t, err, ErrNotAwaitingVerification)

	err = v.MarkVerified(context.Background(), "no-such-attempt")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStale(t *testing.T) {
	st := store.NewMemory()
	v := NewVerifier(st, event.NewBus(), nil)

	fresh := newAwaitingAttempt(t, st, "beenverified")

	old := newAwaitingAttempt(t, st, "spokeo")
	past := time.Now().UTC().Add(-10 * 24 * time.Hour)
	old.SubmittedAt = &past
	require.NoError(t, st.UpdateAttempt(context.Background(), old))

	stale, err := v.Stale(context.Background(), MaxVerificationAge)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
	assert.NotEqual(t, fresh.ID, stale[0].ID)

	// Staleness only surfaces attempts; nothing is failed.
	got, err := st.GetAttempt(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusAwaitingVerification, got.Status)
}

func TestExtractLink(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		body    string
		want    string
	}{
		{
			name:    "whole match",
			pattern: `https://broker\.test/confirm/\w+`,
			body:    "Click https://broker.test/confirm/abc123 to finish.",
			want:    "https://broker.test/confirm/abc123",
		},
		{
			name:    "capture group wins",
			pattern: `href="(https://broker\.test/confirm/\w+)"`,
			body:    `<a href="https://broker.test/confirm/xyz">Confirm</a>`,
			want:    "https://broker.test/confirm/xyz",
		},
		{
			name:    "no match",
			pattern: `https://broker\.test/confirm/\w+`,
			body:    "Thanks for your request.",
			want:    "",
		},
		{
			name:    "invalid pattern",
			pattern: `https://(`,
			body:    "anything",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractLink(tt.pattern, tt.body))
		})
	}
}
