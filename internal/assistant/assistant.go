// Package assistant implements the conversation state machine, the plan
// lifecycle and the background image pipeline.
//
// Every inbound text goes through Assistant.Handle, which reads the user's
// pending state, produces a reply and writes the next state exactly once.
// Concurrent messages from the same user are not serialized: both handlers read
// the same state and the last SetState wins.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/PlanPipe/internal/format"
	"github.com/BTreeMap/PlanPipe/internal/metrics"
	"github.com/BTreeMap/PlanPipe/internal/models"
)

// Assistant is the conversation state machine.
type Assistant struct {
	oracle  Oracle
	events  EventStore
	users   UserStore
	planner *Planner
	metrics *metrics.Metrics
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithMetrics records intents and state transitions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Assistant) {
		a.metrics = m
	}
}

// New creates an Assistant.
func New(oracle Oracle, events EventStore, users UserStore, opts ...Option) *Assistant {
	a := &Assistant{oracle: oracle, events: events, users: users}
	for _, opt := range opts {
		opt(a)
	}
	a.planner = NewPlanner(events, users, a.metrics)
	return a
}

// Handle processes one text message from user and returns the reply.
// It never fails: internal errors become an apology and the pending state is kept.
func (a *Assistant) Handle(ctx context.Context, user models.User, text string) string {
	reply, next := a.respond(ctx, user, strings.TrimSpace(text))
	if reply == "" {
		reply = ClarifyFallback
	}
	if err := a.commitState(ctx, user, next); err != nil {
		return withSaveWarning(reply)
	}
	return reply
}

func (a *Assistant) respond(ctx context.Context, user models.User, text string) (reply string, next models.ConversationState) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Assistant.Handle: recovered from panic", "userID", user.ID, "state", models.KindOf(user.State), "panic", r)
			reply, next = ApologyMessage, user.State
		}
	}()

	switch st := user.State.(type) {
	case nil:
		return a.handleFresh(ctx, user, text)
	case models.WaitingConfirmation:
		return a.handleConfirmation(ctx, user, st, text)
	case models.WaitingDeleteConfirmation:
		return a.handleDeleteConfirmation(ctx, user, st, text)
	case models.WaitingPlanCorrection:
		return a.handlePlanCorrection(ctx, user, st, text)
	case models.WaitingKnowledgeAction:
		return a.handleKnowledgeAction(ctx, user, st, text)
	default:
		slog.Warn("Assistant.Handle: resetting unrecognized state", "userID", user.ID, "state", models.KindOf(st))
		return ResetMessage, nil
	}
}

// commitState writes next as the user's whole state.
func (a *Assistant) commitState(ctx context.Context, user models.User, next models.ConversationState) error {
	if _, unknown := next.(models.UnknownState); unknown {
		next = nil
	}
	if err := a.users.SetState(ctx, user.ID, next); err != nil {
		slog.Error("Assistant.commitState: failed to persist state", "userID", user.ID, "state", models.KindOf(next), "error", err)
		return fmt.Errorf("persist state: %w", err)
	}
	from, to := string(models.KindOf(user.State)), string(models.KindOf(next))
	a.metrics.Transition(from, to)
	slog.Debug("Assistant.commitState: state persisted", "userID", user.ID, "from", from, "to", to)
	return nil
}

func withSaveWarning(reply string) string {
	return reply + "\n\n" + StateSaveWarning
}

// failureReply maps an error from an oracle or store call to user-facing text.
func failureReply(err error) string {
	if errors.Is(err, models.ErrInvalidIntent) || errors.Is(err, models.ErrInvalidEvent) {
		return ClarifyFallback
	}
	return ApologyMessage
}

func (a *Assistant) handleFresh(ctx context.Context, user models.User, text string) (string, models.ConversationState) {
	intent, err := a.oracle.UnderstandAndPlan(ctx, text)
	if err != nil {
		slog.Error("Assistant.handleFresh: oracle failed", "userID", user.ID, "error", err)
		return failureReply(err), user.State
	}
	reply, next, err := a.dispatch(ctx, user, user.State, intent, sourceText)
	if err != nil {
		slog.Error("Assistant.handleFresh: action failed", "userID", user.ID, "action", intent.Action, "error", err)
		return failureReply(err), user.State
	}
	return reply, next
}

// classifyConfirmation reports +1 for an affirmative reply, -1 for a negative
// one and 0 for anything else. Negative tokens win.
func classifyConfirmation(text string) int {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, tok := range negativeTokens {
		if strings.Contains(t, tok) {
			return -1
		}
	}
	if utf8.RuneCountInString(t) >= 5 {
		return 0
	}
	for _, tok := range affirmativeTokens {
		if strings.Contains(t, tok) {
			return 1
		}
	}
	return 0
}

func (a *Assistant) handleConfirmation(ctx context.Context, user models.User, st models.WaitingConfirmation, text string) (string, models.ConversationState) {
	switch classifyConfirmation(text) {
	case -1:
		return CancelledMessage, nil
	case 1:
		res := a.planner.Confirm(ctx, user, st.Plan)
		if res.Total == 0 {
			return EmptyPlanMessage, nil
		}
		return format.CommitResult(res.Created, res.Total, a.events.Location()), nil
	}

	intent, err := a.oracle.ModifyPlan(ctx, st.Plan, text)
	if err != nil {
		slog.Error("Assistant.handleConfirmation: modify plan failed", "userID", user.ID, "error", err)
		return ApologyMessage, st
	}
	if intent.Action == models.ActionPlanComplexTask && len(intent.Params.Steps) > 0 {
		plan := carryObjective(st.Plan, intent.Params.Steps)
		return format.PlanForConfirmation(plan, a.events.Location()), models.WaitingConfirmation{Plan: plan}
	}
	return clarification(intent), nil
}

// carryObjective tags a modified plan with the original objective when every
// original step belonged to the same one.
func carryObjective(old, modified models.Plan) models.Plan {
	if len(old) == 0 {
		return modified
	}
	id := old[0].ObjectiveID
	for _, s := range old[1:] {
		if s.ObjectiveID != id {
			return modified
		}
	}
	if id == 0 {
		return modified
	}
	out := make(models.Plan, len(modified))
	for i, s := range modified {
		if s.ObjectiveID == 0 {
			s.ObjectiveID = id
		}
		out[i] = s
	}
	return out
}

func clarification(intent models.Intent) string {
	if msg := strings.TrimSpace(intent.Params.Message); msg != "" {
		return msg
	}
	return ClarifyFallback
}

func (a *Assistant) handleDeleteConfirmation(ctx context.Context, user models.User, st models.WaitingDeleteConfirmation, text string) (string, models.ConversationState) {
	choice, err := a.oracle.ParseDeletionChoice(ctx, text, len(st.Candidates))
	if err != nil {
		slog.Error("Assistant.handleDeleteConfirmation: parse choice failed", "userID", user.ID, "error", err)
		return ApologyMessage, st
	}

	var deleted []string
	failed := 0
	for _, i := range choice.Resolve(len(st.Candidates)) {
		ev := st.Candidates[i]
		if err := a.events.DeleteByID(ctx, user.ID, ev.ID); err != nil {
			slog.Error("Assistant.handleDeleteConfirmation: delete failed", "userID", user.ID, "eventID", ev.ID, "error", err)
			failed++
			continue
		}
		deleted = append(deleted, ev.Summary)
	}

	reply := format.Deleted(deleted)
	if failed > 0 {
		reply += fmt.Sprintf("\n⚠️ 有 %d 個行程刪除失敗。", failed)
	}
	return reply, nil
}

func (a *Assistant) handlePlanCorrection(ctx context.Context, user models.User, st models.WaitingPlanCorrection, text string) (string, models.ConversationState) {
	intent, err := a.oracle.MergePlanWithCorrection(ctx, st.PartialPlan, text)
	if err != nil {
		slog.Error("Assistant.handlePlanCorrection: merge failed", "userID", user.ID, "error", err)
		return ApologyMessage, st
	}
	if intent.Action != models.ActionPlanComplexTask || len(intent.Params.Steps) == 0 {
		return clarification(intent), nil
	}
	plan := intent.Params.Steps
	return format.PlanForConfirmation(plan, a.events.Location()), models.WaitingConfirmation{Plan: plan}
}

func (a *Assistant) handleKnowledgeAction(ctx context.Context, user models.User, st models.WaitingKnowledgeAction, text string) (string, models.ConversationState) {
	intent, err := a.oracle.UnderstandAndPlan(ctx, text)
	if err == nil && intent.Action == models.ActionLinkNoteToObjective {
		obj, err := a.users.FindObjectiveByTitle(ctx, user.ID, intent.Params.ObjectiveTitle)
		if err != nil {
			slog.Error("Assistant.handleKnowledgeAction: objective lookup failed", "userID", user.ID, "error", err)
			return ApologyMessage, st
		}
		if obj != nil {
			if err := a.users.LinkNoteToObjective(ctx, st.NoteID, obj.ID); err != nil {
				slog.Error("Assistant.handleKnowledgeAction: link failed", "userID", user.ID, "noteID", st.NoteID, "error", err)
				return ApologyMessage, st
			}
			return fmt.Sprintf("📚 已將筆記歸檔到「%s」。", obj.Title), nil
		}
	}

	note, err := a.users.GetNote(ctx, st.NoteID)
	if err != nil {
		slog.Error("Assistant.handleKnowledgeAction: note lookup failed", "userID", user.ID, "noteID", st.NoteID, "error", err)
		return ApologyMessage, st
	}
	if note == nil || note.UserID != user.ID {
		return NoNoteMessage, nil
	}
	out, err := a.oracle.ProcessKnowledge(ctx, *note, text)
	if err != nil {
		slog.Error("Assistant.handleKnowledgeAction: process knowledge failed", "userID", user.ID, "noteID", st.NoteID, "error", err)
		return ApologyMessage, st
	}
	return out, nil
}
