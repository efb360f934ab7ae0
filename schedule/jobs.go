// Package schedule implements the table-driven recurring-job runner: the
// dispatcher's only source of unattended work. Jobs are persisted rows with
// an interval and a due time; the scheduler ticks while the engine is
// resident and runs whatever is due.
package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the body a scheduled job runs.
type JobType string

const (
	// JobScanAll triggers a full broker rescan via the external discovery
	// subsystem.
	JobScanAll JobType = "ScanAll"

	// JobVerifyRemovals re-examines aged submitted/completed attempts for
	// confirmation or reappearance.
	JobVerifyRemovals JobType = "VerifyRemovals"

	// JobPollImap polls the configured mailbox for confirmation mail.
	JobPollImap JobType = "PollImap"
)

// IsValid returns true if the job type is known.
func (t JobType) IsValid() bool {
	switch t {
	case JobScanAll, JobVerifyRemovals, JobPollImap:
		return true
	default:
		return false
	}
}

// Job is one recurring scheduled job row.
type Job struct {
	// ID is a unique identifier for the job.
	ID string `json:"id"`

	// Type selects the job body.
	Type JobType `json:"type"`

	// IntervalDays is the recurrence interval.
	IntervalDays int `json:"interval_days"`

	// NextRunAt is when the job next becomes due.
	NextRunAt time.Time `json:"next_run_at"`

	// LastRunAt is when the job last ran, zero if never.
	LastRunAt time.Time `json:"last_run_at,omitzero"`

	// Enabled gates execution; disabled jobs are never due.
	Enabled bool `json:"enabled"`
}

// NewJob creates an enabled job due immediately.
func NewJob(jobType JobType, intervalDays int) (Job, error) {
	if !jobType.IsValid() {
		return Job{}, fmt.Errorf("unknown job type %q", jobType)
	}
	if intervalDays <= 0 {
		return Job{}, fmt.Errorf("job interval must be positive, got %d", intervalDays)
	}
	return Job{
		ID:           uuid.NewString(),
		Type:         jobType,
		IntervalDays: intervalDays,
		NextRunAt:    time.Now().UTC(),
		Enabled:      true,
	}, nil
}

// Due reports whether the job should run at now.
func (j Job) Due(now time.Time) bool {
	return j.Enabled && !j.NextRunAt.After(now)
}

// Advance records a run at now and schedules the next one. The next due
// time always moves forward, including after a failed run: a permanently
// failing job retries next interval, not immediately.
func (j *Job) Advance(now time.Time) {
	j.LastRunAt = now
	j.NextRunAt = now.AddDate(0, 0, j.IntervalDays)
}
