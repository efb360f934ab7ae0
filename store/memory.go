package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/optout-labs/redress/attempt"
	"github.com/optout-labs/redress/finding"
	"github.com/optout-labs/redress/schedule"
)

// Memory is an in-process Store for tests and single-session use.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	findings map[string]finding.Finding
	attempts map[string]attempt.Attempt
	evidence map[string][]attempt.Evidence
	jobs     map[string]schedule.Job
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		findings: make(map[string]finding.Finding),
		attempts: make(map[string]attempt.Attempt),
		evidence: make(map[string][]attempt.Evidence),
		jobs:     make(map[string]schedule.Job),
	}
}

// CreateFinding persists a finding.
func (m *Memory) CreateFinding(_ context.Context, f finding.Finding) error {
	if err := f.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.findings[f.ID]; exists {
		return fmt.Errorf("finding %s already exists", f.ID)
	}
	m.findings[f.ID] = f
	return nil
}

// GetFinding returns the finding with the given ID.
func (m *Memory) GetFinding(_ context.Context, id string) (finding.Finding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.findings[id]
	if !ok {
		return finding.Finding{}, fmt.Errorf("finding %s: %w", id, ErrNotFound)
	}
	return f, nil
}

// CreateAttempt persists a new attempt.
func (m *Memory) CreateAttempt(_ context.Context, a *attempt.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.attempts[a.ID]; exists {
		return fmt.Errorf("attempt %s already exists", a.ID)
	}
	m.attempts[a.ID] = *a
	return nil
}

// GetAttempt returns a copy of the attempt with the given ID.
func (m *Memory) GetAttempt(_ context.Context, id string) (*attempt.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.attempts[id]
	if !ok {
		return nil, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	return &a, nil
}

// UpdateAttempt persists the attempt and appends evidence under one lock.
func (m *Memory) UpdateAttempt(_ context.Context, a *attempt.Attempt, evidence ...attempt.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.attempts[a.ID]; !ok {
		return fmt.Errorf("attempt %s: %w", a.ID, ErrNotFound)
	}
	m.attempts[a.ID] = *a
	m.evidence[a.ID] = append(m.evidence[a.ID], evidence...)
	return nil
}

// ListAttemptsByStatus returns attempts in the given states, ordered by
// creation time.
func (m *Memory) ListAttemptsByStatus(_ context.Context, statuses ...attempt.Status) ([]*attempt.Attempt, error) {
	wanted := make(map[attempt.Status]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*attempt.Attempt
	for _, a := range m.attempts {
		if wanted[a.Status] {
			copied := a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteAttempt removes an attempt and all of its evidence.
func (m *Memory) DeleteAttempt(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.attempts[id]; !ok {
		return fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	delete(m.attempts, id)
	delete(m.evidence, id)
	return nil
}

// ListEvidence returns evidence for an attempt in capture order.
func (m *Memory) ListEvidence(_ context.Context, attemptID string) ([]attempt.Evidence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	evs := m.evidence[attemptID]
	out := make([]attempt.Evidence, len(evs))
	copy(out, evs)
	return out, nil
}

// GetJob returns the scheduled job with the given ID.
func (m *Memory) GetJob(_ context.Context, id string) (schedule.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return schedule.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, nil
}

// PutJob creates or replaces a scheduled job.
func (m *Memory) PutJob(_ context.Context, j schedule.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

// ListJobs returns all scheduled jobs ordered by type.
func (m *Memory) ListJobs(_ context.Context) ([]schedule.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]schedule.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

// ListDueJobs returns enabled jobs due at now.
func (m *Memory) ListDueJobs(ctx context.Context, now time.Time) ([]schedule.Job, error) {
	jobs, err := m.ListJobs(ctx)
	if err != nil {
		return nil, err
	}

	due := jobs[:0]
	for _, j := range jobs {
		if j.Due(now) {
			due = append(due, j)
		}
	}
	return due, nil
}
