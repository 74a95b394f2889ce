// Package jobs runs batch email sends in the background. Batch endpoints
// enqueue work and return a job id immediately; job state lives in Redis so
// the dashboard can poll it and survives a server restart within the TTL.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/sender"
)

// Job states.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

const (
	keyPrefix = "emailjob:"
	jobTTL    = 24 * time.Hour
)

// Job is the persisted view of one batch send.
type Job struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	State      string         `json:"state"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	Error      string         `json:"error,omitempty"`
	Report     *sender.Report `json:"report,omitempty"`
}

// Tracker persists job state in Redis.
type Tracker struct {
	client *redis.Client
}

func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

func (t *Tracker) key(id string) string {
	return keyPrefix + id
}

// Create registers a new queued job and returns it.
func (t *Tracker) Create(ctx context.Context, kind string) (*Job, error) {
	job := &Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		State:      StateQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := t.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Get returns one job by id.
func (t *Tracker) Get(ctx context.Context, id string) (*Job, error) {
	raw, err := t.client.Get(ctx, t.key(id)).Result()
	if err == redis.Nil {
		return nil, apperrors.NewNotFoundError("Job")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("corrupt job record %s: %w", id, err)
	}
	return &job, nil
}

// MarkRunning transitions a job to running.
func (t *Tracker) MarkRunning(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	job.State = StateRunning
	job.StartedAt = &now
	return t.save(ctx, job)
}

// MarkCompleted stores the final report.
func (t *Tracker) MarkCompleted(ctx context.Context, job *Job, report *sender.Report) error {
	now := time.Now().UTC()
	job.State = StateCompleted
	job.FinishedAt = &now
	job.Report = report
	return t.save(ctx, job)
}

// MarkFailed stores the terminal error. A partial report is kept when the
// batch got part-way through.
func (t *Tracker) MarkFailed(ctx context.Context, job *Job, report *sender.Report, cause error) error {
	now := time.Now().UTC()
	job.State = StateFailed
	job.FinishedAt = &now
	job.Report = report
	job.Error = cause.Error()
	return t.save(ctx, job)
}

func (t *Tracker) save(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := t.client.Set(ctx, t.key(job.ID), raw, jobTTL).Err(); err != nil {
		return fmt.Errorf("failed to persist job %s: %w", job.ID, err)
	}
	return nil
}
