// Package jobs runs background maintenance for the sighting pipeline on
// asynq: the orphaned-upload sweep and its periodic schedule.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TypeOrphanSweep is the asynq task type for the orphaned-upload sweep.
const TypeOrphanSweep = "upload:sweep_orphans"

// DefaultQueue is the asynq queue maintenance tasks run on.
const DefaultQueue = "maintenance"

// SweepPayload configures one sweep run.
type SweepPayload struct {
	// GraceSeconds is the minimum object age. Zero uses the sweeper default.
	GraceSeconds int64 `json:"grace_seconds,omitempty"`
	DryRun       bool  `json:"dry_run,omitempty"`
}

// Grace returns the payload's grace period.
func (p SweepPayload) Grace() time.Duration {
	return time.Duration(p.GraceSeconds) * time.Second
}

// NewSweepTask builds a sweep task. A sweep is never retried: the next
// scheduled run covers the same objects.
func NewSweepTask(p SweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal sweep payload: %w", err)
	}
	return asynq.NewTask(TypeOrphanSweep, data,
		asynq.Queue(DefaultQueue),
		asynq.MaxRetry(0),
		asynq.Unique(time.Minute),
	), nil
}

// Enqueuer is the part of *asynq.Client used to submit tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueueSweep submits a sweep task.
func EnqueueSweep(ctx context.Context, client Enqueuer, p SweepPayload) (*asynq.TaskInfo, error) {
	task, err := NewSweepTask(p)
	if err != nil {
		return nil, err
	}
	info, err := client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("enqueue sweep task: %w", err)
	}
	return info, nil
}

// Registrar is the part of *asynq.Scheduler used to register periodic tasks.
type Registrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

// ScheduleSweep registers a sweep every interval and returns the entry ID.
func ScheduleSweep(s Registrar, interval time.Duration, p SweepPayload) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	task, err := NewSweepTask(p)
	if err != nil {
		return "", err
	}
	id, err := s.Register("@every "+interval.String(), task)
	if err != nil {
		return "", fmt.Errorf("register sweep schedule: %w", err)
	}
	return id, nil
}
