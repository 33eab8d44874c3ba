// Package calendar implements the per-user event store used by the assistant:
// creation, soft deletion, search, range listing and status classification.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

const (
	// UpcomingWindow is how far ahead an event counts as upcoming.
	UpcomingWindow = 7 * 24 * time.Hour
	// DefaultSearchLimit caps the number of deletion candidates returned by Search.
	DefaultSearchLimit = 10
)

// Repository is the persistence the calendar needs. store.SQLStore implements it.
type Repository interface {
	InsertEvent(ctx context.Context, userID int64, draft models.EventDraft, loc *time.Location) (models.CalendarEvent, error)
	CancelEvent(ctx context.Context, userID int64, eventID string) error
	SearchEvents(ctx context.Context, userID int64, query string, from time.Time, limit int) ([]models.CalendarEvent, error)
	ListEventsBetween(ctx context.Context, userID int64, from, to time.Time) ([]models.CalendarEvent, error)
	GetEventsByIDs(ctx context.Context, userID int64, ids []string) ([]models.CalendarEvent, error)
}

// Calendar is a timezone-aware view over a Repository.
type Calendar struct {
	repo Repository
	loc  *time.Location
	now  func() time.Time
}

// Option configures a Calendar.
type Option func(*Calendar)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Calendar) {
		c.now = now
	}
}

// New creates a Calendar operating in loc. A nil loc means UTC.
func New(repo Repository, loc *time.Location, opts ...Option) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	c := &Calendar{repo: repo, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Location returns the calendar's time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Now returns the current time in the calendar's zone.
func (c *Calendar) Now() time.Time {
	return c.now().In(c.loc)
}

// Create writes a new event for the user.
func (c *Calendar) Create(ctx context.Context, userID int64, draft models.EventDraft) (models.CalendarEvent, error) {
	if err := draft.Validate(); err != nil {
		return models.CalendarEvent{}, err
	}
	ev, err := c.repo.InsertEvent(ctx, userID, draft, c.loc)
	if err != nil {
		return models.CalendarEvent{}, fmt.Errorf("create event: %w", err)
	}
	slog.Info("Calendar.Create: event created", "userID", userID, "eventID", ev.ID, "allDay", draft.AllDay)
	return ev, nil
}

// DeleteByID cancels one of the user's events. Cancelled events stay readable by id
// but disappear from listings and searches.
func (c *Calendar) DeleteByID(ctx context.Context, userID int64, eventID string) error {
	if err := c.repo.CancelEvent(ctx, userID, eventID); err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	slog.Info("Calendar.DeleteByID: event cancelled", "userID", userID, "eventID", eventID)
	return nil
}

// Search finds the user's events matching query that have not ended before today.
func (c *Calendar) Search(ctx context.Context, userID int64, query string) ([]models.CalendarEvent, error) {
	from, _ := models.RangeToday.Bounds(c.now(), c.loc)
	events, err := c.repo.SearchEvents(ctx, userID, query, from, DefaultSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	return events, nil
}

// ListByRange lists the user's events in a named window.
func (c *Calendar) ListByRange(ctx context.Context, userID int64, r models.Range) ([]models.CalendarEvent, error) {
	from, to := r.Bounds(c.now(), c.loc)
	events, err := c.repo.ListEventsBetween(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", r, err)
	}
	return events, nil
}

// GetStatusBatch loads the given events and classifies them against the current time.
func (c *Calendar) GetStatusBatch(ctx context.Context, userID int64, ids []string) (models.StatusBatch, error) {
	if len(ids) == 0 {
		return models.StatusBatch{}, nil
	}
	events, err := c.repo.GetEventsByIDs(ctx, userID, ids)
	if err != nil {
		return models.StatusBatch{}, fmt.Errorf("load events for status: %w", err)
	}
	return ClassifyStatus(events, c.now(), c.loc), nil
}

// ClassifyStatus splits events into overdue (started before now) and upcoming
// (starting within UpcomingWindow of now). Cancelled events are ignored and
// events further out than the window fall in neither bucket.
func ClassifyStatus(events []models.CalendarEvent, now time.Time, loc *time.Location) models.StatusBatch {
	var batch models.StatusBatch
	horizon := now.Add(UpcomingWindow)
	for _, ev := range events {
		if ev.Status == models.EventCancelled {
			continue
		}
		start := ev.Start.In(loc)
		switch {
		case start.Before(now):
			batch.Overdue = append(batch.Overdue, ev)
		case !start.After(horizon):
			batch.Upcoming = append(batch.Upcoming, ev)
		}
	}
	return batch
}
