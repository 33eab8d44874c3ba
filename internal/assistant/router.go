package assistant

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/PlanPipe/internal/metrics"
	"github.com/BTreeMap/PlanPipe/internal/models"
)

// UserResolver maps a channel identity to a user, creating it on first contact.
type UserResolver interface {
	FindOrCreateUser(ctx context.Context, externalID string) (models.User, error)
}

// InboundDedup records message ids so redelivered webhooks are processed once.
type InboundDedup interface {
	RecordInbound(ctx context.Context, messageID, participantID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// Router is the single entry point for inbound messages.
type Router struct {
	assistant  *Assistant
	dispatcher *Dispatcher
	users      UserResolver
	dedup      InboundDedup
	metrics    *metrics.Metrics
}

// NewRouter creates a Router. dedup and m may be nil.
func NewRouter(a *Assistant, d *Dispatcher, users UserResolver, dedup InboundDedup, m *metrics.Metrics) *Router {
	return &Router{assistant: a, dispatcher: d, users: users, dedup: dedup, metrics: m}
}

// Dispatch handles msg and returns the text for its reply slot. A duplicate
// delivery returns an empty string and nothing is sent.
func (r *Router) Dispatch(ctx context.Context, msg models.InboundMessage) string {
	if r.dedup != nil && msg.ID != "" {
		fresh, err := r.dedup.RecordInbound(ctx, msg.ID, msg.From)
		if err != nil {
			slog.Warn("Router.Dispatch: dedup check failed, processing anyway", "messageID", msg.ID, "error", err)
		} else if !fresh {
			slog.Info("Router.Dispatch: duplicate message ignored", "messageID", msg.ID, "from", msg.From)
			return ""
		}
	}
	r.metrics.Inbound(string(msg.Kind))

	user, err := r.users.FindOrCreateUser(ctx, msg.From)
	if err != nil {
		slog.Error("Router.Dispatch: failed to resolve user", "from", msg.From, "error", err)
		return ApologyMessage
	}

	var reply string
	switch msg.Kind {
	case models.MessageKindImage:
		reply = r.dispatcher.SubmitImage(ctx, user, msg.Image, msg.ImageMIME)
	default:
		reply = r.assistant.Handle(ctx, user, msg.Text)
	}

	if r.dedup != nil && msg.ID != "" {
		if err := r.dedup.MarkProcessed(ctx, msg.ID); err != nil {
			slog.Warn("Router.Dispatch: failed to mark message processed", "messageID", msg.ID, "error", err)
		}
	}
	return reply
}
