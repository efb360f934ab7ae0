package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/optout-labs/redress/attempt"
	"github.com/optout-labs/redress/finding"
	"github.com/optout-labs/redress/schedule"
)

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// Namespace prefixes every key, scoping the store to one deployment
	// or profile. Defaults to "redress".
	Namespace string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration
}

// Redis implements Store on a Redis instance. Attempts, findings, and jobs
// are JSON values under namespaced keys; evidence rows live in a per-attempt
// list so the status write and its evidence land in a single transaction.
type Redis struct {
	client *redis.Client
	ns     string
}

// NewRedis creates a Redis store and verifies connectivity.
func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Namespace == "" {
		opts.Namespace = "redress"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client, ns: opts.Namespace}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) findingKey(id string) string   { return r.ns + ":finding:" + id }
func (r *Redis) attemptKey(id string) string   { return r.ns + ":attempt:" + id }
func (r *Redis) evidenceKey(id string) string  { return r.ns + ":evidence:" + id }
func (r *Redis) jobKey(id string) string       { return r.ns + ":job:" + id }
func (r *Redis) attemptIndexKey() string       { return r.ns + ":attempts" }
func (r *Redis) jobIndexKey() string           { return r.ns + ":jobs" }

// CreateFinding persists a finding.
func (r *Redis) CreateFinding(ctx context.Context, f finding.Finding) error {
	if err := f.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal finding: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.findingKey(f.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("store finding: %w", err)
	}
	if !ok {
		return fmt.Errorf("finding %s already exists", f.ID)
	}
	return nil
}

// GetFinding returns the finding with the given ID.
func (r *Redis) GetFinding(ctx context.Context, id string) (finding.Finding, error) {
	data, err := r.client.Get(ctx, r.findingKey(id)).Bytes()
	if err == redis.Nil {
		return finding.Finding{}, fmt.Errorf("finding %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return finding.Finding{}, fmt.Errorf("load finding: %w", err)
	}

	var f finding.Finding
	if err := json.Unmarshal(data, &f); err != nil {
		return finding.Finding{}, fmt.Errorf("unmarshal finding: %w", err)
	}
	return f, nil
}

// CreateAttempt persists a new attempt and adds it to the index.
func (r *Redis) CreateAttempt(ctx context.Context, a *attempt.Attempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.attemptKey(a.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("store attempt: %w", err)
	}
	if !ok {
		return fmt.Errorf("attempt %s already exists", a.ID)
	}
	if err := r.client.SAdd(ctx, r.attemptIndexKey(), a.ID).Err(); err != nil {
		return fmt.Errorf("index attempt: %w", err)
	}
	return nil
}

// GetAttempt returns the attempt with the given ID.
func (r *Redis) GetAttempt(ctx context.Context, id string) (*attempt.Attempt, error) {
	data, err := r.client.Get(ctx, r.attemptKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load attempt: %w", err)
	}

	var a attempt.Attempt
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal attempt: %w", err)
	}
	return &a, nil
}

// UpdateAttempt writes the attempt row and any new evidence in one
// transaction.
func (r *Redis) UpdateAttempt(ctx context.Context, a *attempt.Attempt, evidence ...attempt.Evidence) error {
	exists, err := r.client.Exists(ctx, r.attemptKey(a.ID)).Result()
	if err != nil {
		return fmt.Errorf("check attempt: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("attempt %s: %w", a.ID, ErrNotFound)
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.attemptKey(a.ID), data, 0)
	for _, ev := range evidence {
		evData, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal evidence: %w", err)
		}
		pipe.RPush(ctx, r.evidenceKey(a.ID), evData)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	return nil
}

// ListAttemptsByStatus returns attempts in the given states, ordered by
// creation time.
func (r *Redis) ListAttemptsByStatus(ctx context.Context, statuses ...attempt.Status) ([]*attempt.Attempt, error) {
	wanted := make(map[attempt.Status]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	ids, err := r.client.SMembers(ctx, r.attemptIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	var out []*attempt.Attempt
	for _, id := range ids {
		a, err := r.GetAttempt(ctx, id)
		if err != nil {
			return nil, err
		}
		if wanted[a.Status] {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteAttempt removes an attempt, its index entry, and its evidence in
// one transaction.
func (r *Redis) DeleteAttempt(ctx context.Context, id string) error {
	exists, err := r.client.Exists(ctx, r.attemptKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check attempt: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.attemptKey(id))
	pipe.Del(ctx, r.evidenceKey(id))
	pipe.SRem(ctx, r.attemptIndexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete attempt: %w", err)
	}
	return nil
}

// ListEvidence returns evidence for an attempt in capture order.
func (r *Redis) ListEvidence(ctx context.Context, attemptID string) ([]attempt.Evidence, error) {
	rows, err := r.client.LRange(ctx, r.evidenceKey(attemptID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}

	out := make([]attempt.Evidence, 0, len(rows))
	for _, row := range rows {
		var ev attempt.Evidence
		if err := json.Unmarshal([]byte(row), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal evidence: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// GetJob returns the scheduled job with the given ID.
func (r *Redis) GetJob(ctx context.Context, id string) (schedule.Job, error) {
	data, err := r.client.Get(ctx, r.jobKey(id)).Bytes()
	if err == redis.Nil {
		return schedule.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return schedule.Job{}, fmt.Errorf("load job: %w", err)
	}

	var j schedule.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return schedule.Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return j, nil
}

// PutJob creates or replaces a scheduled job.
func (r *Redis) PutJob(ctx context.Context, j schedule.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.jobKey(j.ID), data, 0)
	pipe.SAdd(ctx, r.jobIndexKey(), j.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

// ListJobs returns all scheduled jobs ordered by type.
func (r *Redis) ListJobs(ctx context.Context) ([]schedule.Job, error) {
	ids, err := r.client.SMembers(ctx, r.jobIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	out := make([]schedule.Job, 0, len(ids))
	for _, id := range ids {
		j, err := r.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

// ListDueJobs returns enabled jobs due at now.
func (r *Redis) ListDueJobs(ctx context.Context, now time.Time) ([]schedule.Job, error) {
	jobs, err := r.ListJobs(ctx)
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
