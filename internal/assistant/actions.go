package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PlanPipe/internal/format"
	"github.com/BTreeMap/PlanPipe/internal/models"
)

type intentSource int

const (
	sourceText intentSource = iota
	sourceImage
)

// dispatch runs one classified intent. current is the state to keep when the
// action leaves the conversation where it was.
func (a *Assistant) dispatch(ctx context.Context, user models.User, current models.ConversationState, intent models.Intent, source intentSource) (string, models.ConversationState, error) {
	if err := intent.Validate(); err != nil {
		slog.Warn("Assistant.dispatch: invalid intent, asking to clarify", "userID", user.ID, "action", intent.Action, "error", err)
		intent = models.Clarify("")
	}
	a.metrics.Intent(string(intent.Action))
	slog.Debug("Assistant.dispatch", "userID", user.ID, "action", intent.Action)

	p := intent.Params
	loc := a.events.Location()
	switch intent.Action {
	case models.ActionListEvents:
		r, err := models.ParseRange(p.Range)
		if err != nil {
			return "", nil, err
		}
		events, err := a.events.ListByRange(ctx, user.ID, r)
		if err != nil {
			return "", nil, err
		}
		return format.Events(events, loc), nil, nil

	case models.ActionCreateEvent:
		draft, err := eventDraft(p, loc)
		if err != nil {
			return "", nil, err
		}
		ev, err := a.events.Create(ctx, user.ID, draft)
		if err != nil {
			return "", nil, err
		}
		return format.EventCreated(ev, loc), nil, nil

	case models.ActionDeleteEvent:
		candidates, err := a.events.Search(ctx, user.ID, p.Query)
		if err != nil {
			return "", nil, err
		}
		if len(candidates) == 0 {
			return fmt.Sprintf("🔍 找不到符合「%s」的行程。", p.Query), nil, nil
		}
		return format.DeletionCandidates(candidates, loc), models.WaitingDeleteConfirmation{Candidates: candidates}, nil

	case models.ActionCreateObjective:
		return a.createObjective(ctx, user, p, loc)

	case models.ActionPlanForObjective:
		obj, err := a.users.FindObjectiveByTitle(ctx, user.ID, p.ObjectiveTitle)
		if err != nil {
			return "", nil, err
		}
		if obj == nil {
			return unknownObjective(p.ObjectiveTitle), current, nil
		}
		plan, err := a.oracle.GeneratePlanForObjective(ctx, obj.Title)
		if err != nil {
			return "", nil, err
		}
		for i := range plan {
			plan[i].ObjectiveID = obj.ID
		}
		return format.PlanForConfirmation(plan, loc), models.WaitingConfirmation{Plan: plan}, nil

	case models.ActionPlanComplexTask:
		if source == sourceImage {
			return a.imagePlan(intent, loc)
		}
		return format.PlanForConfirmation(p.Steps, loc), models.WaitingConfirmation{Plan: p.Steps}, nil

	case models.ActionLinkNoteToObjective:
		return a.linkNote(ctx, user, current, p)

	case models.ActionQueryProgress:
		return a.queryProgress(ctx, user, current, p)

	case models.ActionSaveKnowledge:
		sourceType := p.SourceType
		if sourceType == "" {
			sourceType = "image"
		}
		id, err := a.users.SaveNote(ctx, models.KnowledgeNote{UserID: user.ID, SourceType: sourceType, Content: p.Content})
		if err != nil {
			return "", nil, err
		}
		note := models.KnowledgeNote{Content: p.Content}
		h := note.Headline()
		reply := "📚 已儲存筆記"
		if h.Title != "" {
			reply += "：" + h.Title
		}
		if h.Summary != "" {
			reply += "\n" + h.Summary
		}
		reply += "\n\n你可以說「歸檔到 <學習目標>」，或請我根據這份筆記出練習題、做重點整理。"
		return reply, models.WaitingKnowledgeAction{NoteID: id}, nil

	default: // clarify_or_reject
		return clarification(intent), nil, nil
	}
}

func unknownObjective(title string) string {
	return fmt.Sprintf("🤔 找不到名為「%s」的學習目標，請確認名稱，或先說「建立學習目標 %s」。", title, title)
}

func (a *Assistant) createObjective(ctx context.Context, user models.User, p models.IntentParams, loc *time.Location) (string, models.ConversationState, error) {
	var due *time.Time
	if d := strings.TrimSpace(p.DueDate); d != "" {
		t, err := models.ParseDate(d, loc)
		if err != nil {
			return "", nil, fmt.Errorf("%w: due date: %v", models.ErrInvalidIntent, err)
		}
		due = &t
	}
	obj, err := a.users.CreateObjective(ctx, user.ID, strings.TrimSpace(p.Title), due)
	if err != nil {
		return "", nil, err
	}
	reply := fmt.Sprintf("🎯 已建立學習目標：%s", obj.Title)
	if obj.DueDate != nil {
		reply += fmt.Sprintf("（截止 %s）", obj.DueDate.In(loc).Format(models.DateLayout))
	}
	reply += fmt.Sprintf("\n想要我幫你排學習進度的話，可以說「幫我規劃%s」。", obj.Title)
	return reply, nil, nil
}

func (a *Assistant) linkNote(ctx context.Context, user models.User, current models.ConversationState, p models.IntentParams) (string, models.ConversationState, error) {
	obj, err := a.users.FindObjectiveByTitle(ctx, user.ID, p.ObjectiveTitle)
	if err != nil {
		return "", nil, err
	}
	if obj == nil {
		return unknownObjective(p.ObjectiveTitle), current, nil
	}

	var note *models.KnowledgeNote
	if p.NoteID > 0 {
		note, err = a.users.GetNote(ctx, p.NoteID)
	} else {
		note, err = a.users.GetLatestNote(ctx, user.ID)
	}
	if err != nil {
		return "", nil, err
	}
	if note == nil || note.UserID != user.ID {
		return NoNoteMessage, nil, nil
	}
	if err := a.users.LinkNoteToObjective(ctx, note.ID, obj.ID); err != nil {
		return "", nil, err
	}
	title := note.Headline().Title
	if title == "" {
		title = fmt.Sprintf("#%d", note.ID)
	}
	return fmt.Sprintf("📚 已將筆記「%s」歸檔到「%s」。", title, obj.Title), nil, nil
}

func (a *Assistant) queryProgress(ctx context.Context, user models.User, current models.ConversationState, p models.IntentParams) (string, models.ConversationState, error) {
	var objectives []models.LearningObjective
	if title := strings.TrimSpace(p.ObjectiveTitle); title != "" {
		obj, err := a.users.FindObjectiveByTitle(ctx, user.ID, title)
		if err != nil {
			return "", nil, err
		}
		if obj == nil {
			return unknownObjective(title), current, nil
		}
		objectives = append(objectives, *obj)
	} else {
		var err error
		objectives, err = a.users.GetActiveObjectives(ctx, user.ID)
		if err != nil {
			return "", nil, err
		}
	}

	items, err := a.progress(ctx, user.ID, objectives)
	if err != nil {
		return "", nil, err
	}
	return format.Progress(items, a.events.Location()), nil, nil
}

// progress classifies the linked events of each objective.
func (a *Assistant) progress(ctx context.Context, userID int64, objectives []models.LearningObjective) ([]format.ObjectiveProgress, error) {
	items := make([]format.ObjectiveProgress, 0, len(objectives))
	for _, obj := range objectives {
		batch, err := a.events.GetStatusBatch(ctx, userID, obj.LinkedEventIDs)
		if err != nil {
			return nil, fmt.Errorf("status batch for objective %d: %w", obj.ID, err)
		}
		items = append(items, format.ObjectiveProgress{Objective: obj, Batch: batch})
	}
	return items, nil
}

// eventDraft builds a single event from create_event params. A date without a
// time makes an all-day event.
func eventDraft(p models.IntentParams, loc *time.Location) (models.EventDraft, error) {
	draft := models.EventDraft{Summary: strings.TrimSpace(p.Summary), Location: strings.TrimSpace(p.Location)}
	if st := strings.TrimSpace(p.StartTime); st != "" {
		start, err := models.ParseDateTime(st, loc)
		if err != nil {
			return models.EventDraft{}, fmt.Errorf("%w: start_time: %v", models.ErrInvalidIntent, err)
		}
		draft.Start = start
		draft.End = start.Add(stepDuration(p.DurationHours))
		return draft, nil
	}
	day, err := models.ParseDate(strings.TrimSpace(p.Date), loc)
	if err != nil {
		return models.EventDraft{}, fmt.Errorf("%w: date: %v", models.ErrInvalidIntent, err)
	}
	draft.AllDay = true
	draft.Start = day
	draft.End = day.AddDate(0, 0, 1)
	return draft, nil
}
