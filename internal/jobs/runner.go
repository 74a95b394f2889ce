// internal/jobs/runner.go
package jobs

import (
	"context"
	"fmt"

	"vendor-onboarding/internal/broadcast"
	apperrors "vendor-onboarding/internal/common/errors"
	"vendor-onboarding/internal/common/logger"
	"vendor-onboarding/internal/common/metrics"
	"vendor-onboarding/internal/sender"
)

// BatchFunc is one batch send operation.
type BatchFunc func(ctx context.Context) (*sender.Report, error)

// Broadcaster pushes job completion to dashboard clients.
type Broadcaster interface {
	Publish(event string, payload interface{})
}

type task struct {
	job *Job
	run BatchFunc
}

// Runner executes batch sends one at a time. One mailbox and one provider
// rate limit mean concurrent batches would step on each other, so the
// queue is strictly serial.
type Runner struct {
	tracker *Tracker
	hub     Broadcaster
	logger  logger.Logger
	queue   chan task
	done    chan struct{}
}

func NewRunner(tracker *Tracker, hub Broadcaster, log logger.Logger, queueSize int) *Runner {
	if queueSize <= 0 {
		queueSize = 8
	}
	return &Runner{
		tracker: tracker,
		hub:     hub,
		logger:  log.WithFields(map[string]interface{}{"component": "jobs"}),
		queue:   make(chan task, queueSize),
		done:    make(chan struct{}),
	}
}

// Enqueue registers a job and queues it for execution. Returns the job id
// for the caller's 202 response.
func (r *Runner) Enqueue(ctx context.Context, kind string, run BatchFunc) (string, error) {
	job, err := r.tracker.Create(ctx, kind)
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	select {
	case r.queue <- task{job: job, run: run}:
		r.logger.Info("batch job queued", map[string]interface{}{
			"jobId": job.ID,
			"kind":  kind,
		})
		return job.ID, nil
	default:
		if err := r.tracker.MarkFailed(ctx, job, nil, apperrors.NewJobQueueFullError()); err != nil {
			r.logger.WithError(err).Warn("failed to record rejected job", map[string]interface{}{"jobId": job.ID})
		}
		return "", apperrors.NewJobQueueFullError()
	}
}

// Start runs the worker loop until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-r.queue:
			r.execute(ctx, t)
		}
	}
}

// Wait blocks until the worker loop has exited.
func (r *Runner) Wait() {
	<-r.done
}

func (r *Runner) execute(ctx context.Context, t task) {
	metrics.BatchJobsActive.Inc()
	defer metrics.BatchJobsActive.Dec()

	if err := r.tracker.MarkRunning(ctx, t.job); err != nil {
		r.logger.WithError(err).Error("failed to mark job running", map[string]interface{}{"jobId": t.job.ID})
	}

	report, err := t.run(ctx)
	if err != nil {
		if merr := r.tracker.MarkFailed(ctx, t.job, report, err); merr != nil {
			r.logger.WithError(merr).Error("failed to record job failure", map[string]interface{}{"jobId": t.job.ID})
		}
		r.logger.WithError(err).Error("batch job failed", map[string]interface{}{
			"jobId": t.job.ID,
			"kind":  t.job.Kind,
		})
		r.hub.Publish(broadcast.EventEmailJobCompleted, t.job)
		return
	}

	if err := r.tracker.MarkCompleted(ctx, t.job, report); err != nil {
		r.logger.WithError(err).Error("failed to record job completion", map[string]interface{}{"jobId": t.job.ID})
	}
	r.logger.Info("batch job completed", map[string]interface{}{
		"jobId":  t.job.ID,
		"kind":   t.job.Kind,
		"sent":   report.Sent,
		"failed": report.Failed,
	})
	r.hub.Publish(broadcast.EventEmailJobCompleted, t.job)
}
