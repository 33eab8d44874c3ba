package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/PlanPipe/internal/format"
	"github.com/BTreeMap/PlanPipe/internal/models"
)

// DigestJobKind is the job kind for one user's daily digest.
const DigestJobKind = "daily_digest"

const digestFanOut = 4

// JobEnqueuer schedules durable jobs. store.SQLStore implements it.
type JobEnqueuer interface {
	EnqueueJob(ctx context.Context, kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error)
}

type digestPayload struct {
	UserID     int64  `json:"user_id"`
	ExternalID string `json:"external_id"`
	Date       string `json:"date"`
}

// Digests sends each user a morning summary of overdue and upcoming plan steps.
type Digests struct {
	assistant *Assistant
	jobs      JobEnqueuer
	pusher    Pusher
}

// NewDigests creates the digest service.
func NewDigests(a *Assistant, jobs JobEnqueuer, pusher Pusher) *Digests {
	return &Digests{assistant: a, jobs: jobs, pusher: pusher}
}

// EnqueueAll enqueues one digest job per user for today. Jobs are keyed by
// user and date, so a repeated trigger on the same day adds nothing.
func (d *Digests) EnqueueAll(ctx context.Context) error {
	users, err := d.assistant.users.GetAllUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	now := d.assistant.events.Now()
	date := now.In(d.assistant.events.Location()).Format(models.DateLayout)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(digestFanOut)
	for _, u := range users {
		g.Go(func() error {
			payload, err := json.Marshal(digestPayload{UserID: u.ID, ExternalID: u.ExternalID, Date: date})
			if err != nil {
				return err
			}
			key := fmt.Sprintf("digest:%d:%s", u.ID, date)
			if _, err := d.jobs.EnqueueJob(gctx, DigestJobKind, now, string(payload), key); err != nil {
				return fmt.Errorf("enqueue digest for user %d: %w", u.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Digests.EnqueueAll: digests enqueued", "users", len(users), "date", date)
	return nil
}

// HandleJob builds and pushes one user's digest. Users with nothing overdue or
// upcoming get no message.
func (d *Digests) HandleJob(ctx context.Context, payload string) error {
	var p digestPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return fmt.Errorf("decode digest payload: %w", err)
	}
	text, err := d.Render(ctx, p.UserID)
	if err != nil {
		return err
	}
	if text == "" {
		slog.Debug("Digests.HandleJob: nothing to report", "userID", p.UserID)
		return nil
	}
	user := models.User{ID: p.UserID, ExternalID: p.ExternalID}
	return d.pusher.Push(ctx, user, fmt.Sprintf("digest:%d:%s", p.UserID, p.Date), text)
}

// Render returns the digest text for a user, or "" when there is nothing to report.
func (d *Digests) Render(ctx context.Context, userID int64) (string, error) {
	objectives, err := d.assistant.users.GetActiveObjectives(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("active objectives: %w", err)
	}
	items, err := d.assistant.progress(ctx, userID, objectives)
	if err != nil {
		return "", err
	}
	return format.Digest(items, d.assistant.events.Location()), nil
}
