package store

import (
	"context"
	"log/slog"
	"time"
)

// Defaults shared by OutboxSender and JobRunner.
const (
	defaultStaleThreshold = 5 * time.Minute
	defaultClaimLimit     = 10
	defaultMaxAttempts    = 8
	maxRetryDelay         = time.Hour
)

// WorkerOpts tunes the claim loops of OutboxSender and JobRunner.
type WorkerOpts struct {
	StaleThreshold time.Duration
	ClaimLimit     int
	MaxAttempts    int
	Now            func() time.Time
}

// WorkerOption configures a background worker.
type WorkerOption func(*WorkerOpts)

// WithStaleThreshold sets how long a claimed row may stay in flight before
// startup recovery puts it back in the queue.
func WithStaleThreshold(d time.Duration) WorkerOption {
	return func(o *WorkerOpts) {
		o.StaleThreshold = d
	}
}

// WithClaimLimit caps the rows claimed per tick.
func WithClaimLimit(n int) WorkerOption {
	return func(o *WorkerOpts) {
		o.ClaimLimit = n
	}
}

// WithMaxAttempts sets the delivery attempts after which an outbox message is
// marked failed. JobRunner ignores it.
func WithMaxAttempts(n int) WorkerOption {
	return func(o *WorkerOpts) {
		o.MaxAttempts = n
	}
}

// WithWorkerClock overrides the time source used for claims and backoff.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(o *WorkerOpts) {
		o.Now = now
	}
}

func newWorkerOpts(opts []WorkerOption) WorkerOpts {
	cfg := WorkerOpts{
		StaleThreshold: defaultStaleThreshold,
		ClaimLimit:     defaultClaimLimit,
		MaxAttempts:    defaultMaxAttempts,
		Now:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = defaultStaleThreshold
	}
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = defaultClaimLimit
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// retryDelay doubles base for every prior attempt, capped at maxRetryDelay.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

// pollEvery calls tick on every interval until ctx is done.
func pollEvery(ctx context.Context, name string, interval time.Duration, tick func(context.Context) int) error {
	slog.Info(name+": started", "pollInterval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info(name + ": stopped")
			return nil
		case <-ticker.C:
			if n := tick(ctx); n > 0 {
				slog.Debug(name+": tick processed rows", "count", n)
			}
		}
	}
}
