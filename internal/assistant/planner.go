package assistant

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PlanPipe/internal/format"
	"github.com/BTreeMap/PlanPipe/internal/metrics"
	"github.com/BTreeMap/PlanPipe/internal/models"
)

const (
	defaultStepDuration = time.Hour
	dayStartHour        = 9
)

// objectiveLinker appends committed events to a learning objective.
type objectiveLinker interface {
	LinkEventToObjective(ctx context.Context, objectiveID int64, eventID string) error
}

// StepOutcome is the result of committing one plan step.
type StepOutcome struct {
	Step  models.PlanStep
	Event *models.CalendarEvent
	Err   error
}

// CommitResult summarizes a plan commit.
type CommitResult struct {
	Created  []models.CalendarEvent
	Total    int
	Outcomes []StepOutcome
}

// Planner commits confirmed plans to the calendar.
type Planner struct {
	events  EventStore
	links   objectiveLinker
	metrics *metrics.Metrics
}

// NewPlanner creates a Planner. m may be nil.
func NewPlanner(events EventStore, links objectiveLinker, m *metrics.Metrics) *Planner {
	return &Planner{events: events, links: links, metrics: m}
}

// Confirm creates one event per step. A failing step is recorded and skipped;
// the remaining steps are still attempted.
func (p *Planner) Confirm(ctx context.Context, user models.User, plan models.Plan) CommitResult {
	loc := p.events.Location()
	drafts, errs := schedule(plan, p.events.Now(), loc)

	res := CommitResult{Total: len(plan), Outcomes: make([]StepOutcome, len(plan))}
	for i, step := range plan {
		out := StepOutcome{Step: step, Err: errs[i]}
		if out.Err == nil {
			ev, err := p.events.Create(ctx, user.ID, drafts[i])
			if err != nil {
				out.Err = err
			} else {
				out.Event = &ev
				res.Created = append(res.Created, ev)
			}
		}
		if out.Err != nil {
			slog.Warn("Planner.Confirm: step not created", "userID", user.ID, "step", i, "summary", step.Summary, "error", out.Err)
		}
		res.Outcomes[i] = out
	}

	for _, out := range res.Outcomes {
		if out.Event == nil || out.Step.ObjectiveID == 0 {
			continue
		}
		if err := p.links.LinkEventToObjective(ctx, out.Step.ObjectiveID, out.Event.ID); err != nil {
			slog.Error("Planner.Confirm: failed to link event to objective", "objectiveID", out.Step.ObjectiveID, "eventID", out.Event.ID, "error", err)
		}
	}

	p.metrics.CommittedSteps(len(res.Created), res.Total-len(res.Created))
	slog.Info("Planner.Confirm: plan committed", "userID", user.ID, "created", len(res.Created), "total", res.Total)
	return res
}

// nextWeekday returns the first Monday-to-Friday day at or after cursor and the
// cursor for the following step, one calendar day later.
func nextWeekday(cursor time.Time) (assigned, next time.Time) {
	assigned = cursor
	for assigned.Weekday() == time.Saturday || assigned.Weekday() == time.Sunday {
		assigned = assigned.AddDate(0, 0, 1)
	}
	return assigned, assigned.AddDate(0, 0, 1)
}

// schedule turns plan steps into event drafts. Undated steps take consecutive
// weekdays starting tomorrow at 09:00; dated steps keep their own time and do
// not move the cursor.
func schedule(plan models.Plan, now time.Time, loc *time.Location) ([]models.EventDraft, []error) {
	local := now.In(loc)
	cursor := time.Date(local.Year(), local.Month(), local.Day()+1, dayStartHour, 0, 0, 0, loc)

	drafts := make([]models.EventDraft, len(plan))
	errs := make([]error, len(plan))
	for i, step := range plan {
		var start time.Time
		switch {
		case strings.TrimSpace(step.StartTime) != "":
			start, errs[i] = models.ParseDateTime(step.StartTime, loc)
		case strings.TrimSpace(step.Date) != "":
			var day time.Time
			day, errs[i] = models.ParseDate(step.Date, loc)
			start = time.Date(day.Year(), day.Month(), day.Day(), dayStartHour, 0, 0, 0, loc)
		default:
			start, cursor = nextWeekday(cursor)
		}
		if errs[i] != nil {
			continue
		}
		drafts[i] = models.EventDraft{
			Summary: strings.TrimSpace(step.Summary),
			Start:   start,
			End:     start.Add(stepDuration(step.DurationHours)),
		}
	}
	return drafts, errs
}

func stepDuration(hours float64) time.Duration {
	if hours <= 0 {
		return defaultStepDuration
	}
	return time.Duration(hours * float64(time.Hour))
}

// cleanImagePlan drops steps with neither a summary nor a date and removes
// repeated (summary, date) pairs, keeping the first.
func cleanImagePlan(plan models.Plan) models.Plan {
	type key struct{ summary, date string }
	seen := make(map[key]bool, len(plan))
	var out models.Plan
	for _, s := range plan {
		s.Summary = strings.TrimSpace(s.Summary)
		if s.Summary == "" && !s.HasDate() {
			continue
		}
		k := key{s.Summary, s.DateKey()}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

// imagePlan routes an image-derived plan: fully dated plans go to confirmation,
// the rest ask the user to fill in the missing dates.
func (a *Assistant) imagePlan(intent models.Intent, loc *time.Location) (string, models.ConversationState, error) {
	plan := cleanImagePlan(intent.Params.Steps)
	if len(plan) == 0 {
		return ClarifyFallback, nil, nil
	}
	if plan.IsComplete() {
		return format.PlanForConfirmation(plan, loc), models.WaitingConfirmation{Plan: plan}, nil
	}
	partial := intent
	partial.Params.Steps = plan
	return format.IncompletePlanTemplate(plan), models.WaitingPlanCorrection{PartialPlan: partial}, nil
}
