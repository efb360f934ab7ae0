package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optout-labs/redress/attempt"
	"github.com/optout-labs/redress/broker"
	"github.com/optout-labs/redress/finding"
	"github.com/optout-labs/redress/schedule"
)

// setupRedis starts a miniredis instance and returns a connected store.
func setupRedis(t *testing.T) *Redis {
	t.Helper()

	mr := miniredis.RunT(t)
	st, err := NewRedis(RedisOptions{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = st.Close()
		mr.Close()
	})

	return st
}

// forEachStore runs the test body against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("redis", func(t *testing.T) {
		fn(t, setupRedis(t))
	})
}

func TestAttemptLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		a := attempt.New("finding-1", "spokeo", "profile-1", broker.ChannelHTTPForm)
		require.NoError(t, st.CreateAttempt(ctx, a))

		// Duplicate creation is rejected.
		require.Error(t, st.CreateAttempt(ctx, a))

		got, err := st.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt.StatusPending, got.Status)

		require.NoError(t, a.Transition(attempt.StatusSubmitted))
		ev := attempt.NewScreenshot(a.ID, []byte("png-bytes"))
		require.NoError(t, st.UpdateAttempt(ctx, a, ev))

		got, err = st.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt.StatusSubmitted, got.Status)
		require.NotNil(t, got.SubmittedAt)

		evs, err := st.ListEvidence(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.Equal(t, attempt.EvidenceScreenshot, evs[0].Kind)
		assert.Equal(t, []byte("png-bytes"), evs[0].Screenshot)
	})
}

func TestGetAttemptNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		_, err := st.GetAttempt(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateAttemptRequiresExisting(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		a := attempt.New("finding-1", "spokeo", "profile-1", broker.ChannelEmail)
		err := st.UpdateAttempt(context.Background(), a)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListAttemptsByStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		pending := attempt.New("f1", "spokeo", "p1", broker.ChannelHTTPForm)
		require.NoError(t, st.CreateAttempt(ctx, pending))

		submitted := attempt.New("f2", "spokeo", "p1", broker.ChannelHTTPForm)
		require.NoError(t, st.CreateAttempt(ctx, submitted))
		require.NoError(t, submitted.Transition(attempt.StatusSubmitted))
		require.NoError(t, st.UpdateAttempt(ctx, submitted))

		waiting := attempt.New("f3", "beenverified", "p1", broker.ChannelEmail)
		require.NoError(t, st.CreateAttempt(ctx, waiting))
		require.NoError(t, waiting.Transition(attempt.StatusAwaitingVerification))
		require.NoError(t, st.UpdateAttempt(ctx, waiting))

		got, err := st.ListAttemptsByStatus(ctx, attempt.StatusSubmitted, attempt.StatusAwaitingVerification)
		require.NoError(t, err)
		require.Len(t, got, 2)

		ids := []string{got[0].ID, got[1].ID}
		assert.Contains(t, ids, submitted.ID)
		assert.Contains(t, ids, waiting.ID)
	})
}

func TestDeleteAttemptCascadesEvidence(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		a := attempt.New("f1", "spokeo", "p1", broker.ChannelBrowserForm)
		require.NoError(t, st.CreateAttempt(ctx, a))
		require.NoError(t, a.Transition(attempt.StatusSubmitted))
		require.NoError(t, st.UpdateAttempt(ctx, a, attempt.NewScreenshot(a.ID, []byte{1})))

		require.NoError(t, st.DeleteAttempt(ctx, a.ID))

		_, err := st.GetAttempt(ctx, a.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		evs, err := st.ListEvidence(ctx, a.ID)
		require.NoError(t, err)
		assert.Empty(t, evs)

		listed, err := st.ListAttemptsByStatus(ctx, attempt.StatusSubmitted)
		require.NoError(t, err)
		assert.Empty(t, listed)
	})
}

func TestFindingRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		f := finding.New("profile-1", "spokeo", "https://spokeo.com/person/123")
		require.NoError(t, st.CreateFinding(ctx, f))
		require.Error(t, st.CreateFinding(ctx, f), "duplicate finding must be rejected")

		got, err := st.GetFinding(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, f.ListingURL, got.ListingURL)

		_, err = st.GetFinding(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestJobTable(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		due, err := schedule.NewJob(schedule.JobVerifyRemovals, 3)
		require.NoError(t, err)
		due.NextRunAt = now.Add(-time.Hour)

		future, err := schedule.NewJob(schedule.JobScanAll, 7)
		require.NoError(t, err)
		future.NextRunAt = now.Add(24 * time.Hour)

		disabled, err := schedule.NewJob(schedule.JobPollImap, 1)
		require.NoError(t, err)
		disabled.NextRunAt = now.Add(-time.Hour)
		disabled.Enabled = false

		for _, j := range []schedule.Job{due, future, disabled} {
			require.NoError(t, st.PutJob(ctx, j))
		}

		all, err := st.ListJobs(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		dueJobs, err := st.ListDueJobs(ctx, now)
		require.NoError(t, err)
		require.Len(t, dueJobs, 1)
		assert.Equal(t, due.ID, dueJobs[0].ID)

		// Advance and persist; the job is no longer due.
		dueJobs[0].Advance(now)
		require.NoError(t, st.PutJob(ctx, dueJobs[0]))

		dueJobs, err = st.ListDueJobs(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, dueJobs)

		got, err := st.GetJob(ctx, due.ID)
		require.NoError(t, err)
		assert.Equal(t, now.AddDate(0, 0, 3).Unix(), got.NextRunAt.Unix())
	})
}
