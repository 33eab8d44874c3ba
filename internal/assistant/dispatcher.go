package assistant

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/PlanPipe/internal/metrics"
	"github.com/BTreeMap/PlanPipe/internal/models"
	"github.com/BTreeMap/PlanPipe/internal/util"
)

// HandleImage analyzes an image and runs the resulting intent like a fresh
// request, persisting the next state on success. On failure the returned text
// is an apology and the state is left alone.
func (a *Assistant) HandleImage(ctx context.Context, user models.User, image []byte, mime string) (string, error) {
	intent, err := a.oracle.AnalyzeImageAndPlan(ctx, image, mime)
	if err != nil {
		slog.Error("Assistant.HandleImage: image analysis failed", "userID", user.ID, "error", err)
		return failureReply(err), err
	}

	// Analysis is slow; the user may have moved on meanwhile.
	current, err := a.users.GetState(ctx, user.ID)
	if err != nil {
		slog.Error("Assistant.HandleImage: failed to load state", "userID", user.ID, "error", err)
		return ApologyMessage, err
	}
	user.State = current

	reply, next, err := a.dispatch(ctx, user, current, intent, sourceImage)
	if err != nil {
		slog.Error("Assistant.HandleImage: action failed", "userID", user.ID, "action", intent.Action, "error", err)
		return failureReply(err), err
	}
	if err := a.commitState(ctx, user, next); err != nil {
		return withSaveWarning(reply), nil
	}
	return reply, nil
}

// Dispatcher runs image analysis in the background and pushes the result.
type Dispatcher struct {
	assistant *Assistant
	pusher    Pusher
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. m may be nil.
func NewDispatcher(a *Assistant, pusher Pusher, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{assistant: a, pusher: pusher, metrics: m}
}

// SubmitImage starts a detached task for the image and returns the
// acknowledgement for the synchronous reply. The task outlives ctx's
// cancellation and pushes exactly one message when it ends.
func (d *Dispatcher) SubmitImage(ctx context.Context, user models.User, image []byte, mime string) string {
	taskID := util.GenerateTaskID()
	slog.Info("Dispatcher.SubmitImage: task started", "userID", user.ID, "taskID", taskID, "bytes", len(image))

	d.wg.Add(1)
	go d.run(context.WithoutCancel(ctx), taskID, user, image, mime)
	return ImageAck
}

func (d *Dispatcher) run(ctx context.Context, taskID string, user models.User, image []byte, mime string) {
	defer d.wg.Done()

	reply, outcome := ApologyMessage, "failed"
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher.run: recovered from panic", "taskID", taskID, "panic", r)
			reply, outcome = ApologyMessage, "panic"
		}
		d.metrics.BackgroundTask(outcome)
		if err := d.pusher.Push(ctx, user, taskID, reply); err != nil {
			slog.Error("Dispatcher.run: push failed", "taskID", taskID, "userID", user.ID, "error", err)
			return
		}
		slog.Info("Dispatcher.run: task finished", "taskID", taskID, "userID", user.ID, "outcome", outcome)
	}()

	var err error
	reply, err = d.assistant.HandleImage(ctx, user, image, mime)
	if err == nil {
		outcome = "ok"
	}
}

// Wait blocks until every submitted task has pushed its result.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
