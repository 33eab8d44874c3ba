package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/PlanPipe/internal/models"
	"github.com/BTreeMap/PlanPipe/internal/store"
)

// OutboxKindText is the outbox kind for plain text pushes.
const OutboxKindText = "text"

// outboxEnqueuer is the outbox write side.
type outboxEnqueuer interface {
	EnqueueOutboxMessage(ctx context.Context, recipient, kind, payloadJSON, dedupeKey string) (string, error)
}

type textPayload struct {
	Body string `json:"body"`
}

// OutboxPusher delivers background results by enqueueing them in the durable
// outbox. Delivery happens later in store.OutboxSender.
type OutboxPusher struct {
	outbox outboxEnqueuer
}

// NewOutboxPusher creates an OutboxPusher.
func NewOutboxPusher(outbox outboxEnqueuer) *OutboxPusher {
	return &OutboxPusher{outbox: outbox}
}

// Push enqueues text for user. The dedupe key makes a retried push a no-op.
func (p *OutboxPusher) Push(ctx context.Context, user models.User, dedupeKey, text string) error {
	payload, err := json.Marshal(textPayload{Body: text})
	if err != nil {
		return fmt.Errorf("failed to encode push payload: %w", err)
	}
	id, err := p.outbox.EnqueueOutboxMessage(ctx, user.ExternalID, OutboxKindText, string(payload), dedupeKey)
	if err != nil {
		slog.Error("OutboxPusher.Push: enqueue failed", "error", err, "userID", user.ID, "dedupeKey", dedupeKey)
		return fmt.Errorf("failed to enqueue push: %w", err)
	}
	slog.Debug("OutboxPusher.Push: enqueued", "outboxID", id, "userID", user.ID, "dedupeKey", dedupeKey)
	return nil
}

// NewOutboxSendFunc returns the store.OutboxSendFunc that delivers outbox
// messages through svc.
func NewOutboxSendFunc(svc Service) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if msg.Kind != OutboxKindText {
			return fmt.Errorf("unsupported outbox kind %q", msg.Kind)
		}
		var payload textPayload
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("failed to decode outbox payload: %w", err)
		}
		return svc.SendMessage(ctx, msg.Recipient, payload.Body)
	}
}
