package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JobHandler executes a job's work given its payload JSON.
type JobHandler func(ctx context.Context, payload string) error

const (
	defaultJobPollInterval = 10 * time.Second
	jobRetryBase           = 30 * time.Second
	unhandledJobDelay      = time.Minute
)

// JobRunner claims due jobs and hands each to the handler registered for its kind.
// PlanPipe registers the daily digest here.
type JobRunner struct {
	repo         JobRepo
	pollInterval time.Duration
	opts         WorkerOpts

	mu       sync.RWMutex
	handlers map[string]JobHandler
}

// NewJobRunner creates a JobRunner polling repo every pollInterval.
func NewJobRunner(repo JobRepo, pollInterval time.Duration, opts ...WorkerOption) *JobRunner {
	if pollInterval <= 0 {
		pollInterval = defaultJobPollInterval
	}
	return &JobRunner{
		repo:         repo,
		pollInterval: pollInterval,
		opts:         newWorkerOpts(opts),
		handlers:     make(map[string]JobHandler),
	}
}

// RegisterHandler registers the handler for kind, replacing any earlier one.
func (r *JobRunner) RegisterHandler(kind string, handler JobHandler) {
	r.mu.Lock()
	r.handlers[kind] = handler
	r.mu.Unlock()
	slog.Debug("JobRunner.RegisterHandler", "kind", kind)
}

func (r *JobRunner) handler(kind string) (JobHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// RecoverStaleJobs requeues jobs left running by a previous process.
// Call once before Run.
func (r *JobRunner) RecoverStaleJobs(ctx context.Context) error {
	n, err := r.repo.RequeueStaleRunningJobs(ctx, r.opts.Now().Add(-r.opts.StaleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("JobRunner.RecoverStaleJobs: requeued stale jobs", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (r *JobRunner) Run(ctx context.Context) error {
	return pollEvery(ctx, "JobRunner.Run", r.pollInterval, r.RunDue)
}

// RunDue claims and executes every job due now and returns how many completed.
func (r *JobRunner) RunDue(ctx context.Context) int {
	now := r.opts.Now()
	jobs, err := r.repo.ClaimDueJobs(ctx, now, r.opts.ClaimLimit)
	if err != nil {
		slog.Error("JobRunner.RunDue: claim failed", "error", err)
		return 0
	}

	completed := 0
	for _, job := range jobs {
		if r.execute(ctx, job, now) {
			completed++
		}
	}
	return completed
}

func (r *JobRunner) execute(ctx context.Context, job Job, now time.Time) bool {
	h, ok := r.handler(job.Kind)
	if !ok {
		slog.Warn("JobRunner.execute: no handler for job kind", "id", job.ID, "kind", job.Kind)
		r.fail(ctx, job, "no handler registered for kind: "+job.Kind, now.Add(unhandledJobDelay))
		return false
	}

	slog.Debug("JobRunner.execute: running job", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt)
	if err := h(ctx, job.PayloadJSON); err != nil {
		slog.Error("JobRunner.execute: job failed", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "error", err)
		r.fail(ctx, job, err.Error(), now.Add(retryDelay(jobRetryBase, job.Attempt)))
		return false
	}
	if err := r.repo.CompleteJob(ctx, job.ID); err != nil {
		slog.Error("JobRunner.execute: complete failed", "id", job.ID, "error", err)
		return false
	}
	return true
}

func (r *JobRunner) fail(ctx context.Context, job Job, reason string, next time.Time) {
	if err := r.repo.FailJob(ctx, job.ID, reason, next); err != nil {
		slog.Error("JobRunner.fail: could not record failure", "id", job.ID, "error", err)
	}
}
