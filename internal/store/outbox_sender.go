package store

import (
	"context"
	"log/slog"
	"time"
)

// OutboxSendFunc delivers one outbox message through the active transport.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

const (
	defaultOutboxPollInterval = 5 * time.Second
	outboxRetryBase           = 10 * time.Second
)

// OutboxSender delivers queued pushes (background task results, digests) and
// retries failed sends with exponential backoff.
type OutboxSender struct {
	repo         OutboxRepo
	send         OutboxSendFunc
	pollInterval time.Duration
	opts         WorkerOpts
}

// NewOutboxSender creates an OutboxSender polling repo every pollInterval.
func NewOutboxSender(repo OutboxRepo, send OutboxSendFunc, pollInterval time.Duration, opts ...WorkerOption) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = defaultOutboxPollInterval
	}
	return &OutboxSender{
		repo:         repo,
		send:         send,
		pollInterval: pollInterval,
		opts:         newWorkerOpts(opts),
	}
}

// RecoverStaleMessages requeues messages left in sending by a previous process.
// Call once before Run.
func (s *OutboxSender) RecoverStaleMessages(ctx context.Context) error {
	n, err := s.repo.RequeueStaleSendingMessages(ctx, s.opts.Now().Add(-s.opts.StaleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (s *OutboxSender) Run(ctx context.Context) error {
	return pollEvery(ctx, "OutboxSender.Run", s.pollInterval, s.SendDue)
}

// SendDue claims every message due now, attempts delivery and returns how many were sent.
func (s *OutboxSender) SendDue(ctx context.Context) int {
	now := s.opts.Now()
	msgs, err := s.repo.ClaimDueOutboxMessages(ctx, now, s.opts.ClaimLimit)
	if err != nil {
		slog.Error("OutboxSender.SendDue: claim failed", "error", err)
		return 0
	}

	sent := 0
	for _, msg := range msgs {
		if err := s.send(ctx, msg); err != nil {
			slog.Error("OutboxSender.SendDue: send failed", "id", msg.ID, "recipient", msg.Recipient, "attempts", msg.Attempts, "error", err)
			next := now.Add(retryDelay(outboxRetryBase, msg.Attempts))
			if err := s.repo.FailOutboxMessage(ctx, msg.ID, err.Error(), next, s.opts.MaxAttempts); err != nil {
				slog.Error("OutboxSender.SendDue: could not record failure", "id", msg.ID, "error", err)
			}
			continue
		}
		if err := s.repo.MarkOutboxMessageSent(ctx, msg.ID); err != nil {
			slog.Error("OutboxSender.SendDue: mark sent failed", "id", msg.ID, "error", err)
			continue
		}
		sent++
	}
	return sent
}
