package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PlanPipe/internal/models"
	"github.com/google/uuid"
)

const eventColumns = `id, summary, location, all_day, start_at, end_at, time_zone, status`

func scanEvent(row rowScanner) (models.CalendarEvent, error) {
	var ev models.CalendarEvent
	var location sql.NullString
	var allDay int
	var start, end time.Time
	var tz string
	if err := row.Scan(&ev.ID, &ev.Summary, &location, &allDay, &start, &end, &tz, &ev.Status); err != nil {
		return ev, err
	}
	ev.Location = location.String

	loc, err := time.LoadLocation(tz)
	if err != nil {
		slog.Warn("scanEvent: unknown time zone, using UTC", "eventID", ev.ID, "timeZone", tz)
		loc = time.UTC
	}
	if allDay != 0 {
		ev.Start = models.EventTime{Date: start.In(loc).Format(models.DateLayout), TimeZone: tz}
		ev.End = models.EventTime{Date: end.In(loc).Format(models.DateLayout), TimeZone: tz}
	} else {
		s, e := start.In(loc), end.In(loc)
		ev.Start = models.EventTime{DateTime: &s, TimeZone: tz}
		ev.End = models.EventTime{DateTime: &e, TimeZone: tz}
	}
	return ev, nil
}

func (s *SQLStore) collectEvents(rows *sql.Rows) ([]models.CalendarEvent, error) {
	defer rows.Close()
	var out []models.CalendarEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return out, nil
}

// InsertEvent stores a confirmed event for the user and returns it with its new id.
// Start and end are kept as instants; loc names the zone the event was created in.
func (s *SQLStore) InsertEvent(ctx context.Context, userID int64, draft models.EventDraft, loc *time.Location) (models.CalendarEvent, error) {
	id := uuid.NewString()
	now := s.timestamp()
	allDay := 0
	if draft.AllDay {
		allDay = 1
	}
	_, err := s.exec(ctx, s.db,
		`INSERT INTO calendar_events (id, user_id, summary, location, all_day, start_at, end_at, time_zone, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, strings.TrimSpace(draft.Summary), nilIfEmpty(draft.Location), allDay,
		draft.Start.UTC(), draft.End.UTC(), loc.String(), models.EventConfirmed, now, now,
	)
	if err != nil {
		slog.Error("SQLStore.InsertEvent: insert failed", "userID", userID, "error", err)
		return models.CalendarEvent{}, fmt.Errorf("failed to insert event: %w", err)
	}
	slog.Debug("SQLStore.InsertEvent", "userID", userID, "eventID", id, "allDay", draft.AllDay)

	ev, err := scanEvent(s.queryRow(ctx, s.db, `SELECT `+eventColumns+` FROM calendar_events WHERE id = ?`, id))
	if err != nil {
		return models.CalendarEvent{}, fmt.Errorf("failed to reload event %s: %w", id, err)
	}
	return ev, nil
}

// CancelEvent marks the user's event cancelled.
func (s *SQLStore) CancelEvent(ctx context.Context, userID int64, eventID string) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE calendar_events SET status = ?, updated_at = ? WHERE id = ? AND user_id = ? AND status <> ?`,
		models.EventCancelled, s.timestamp(), eventID, userID, models.EventCancelled,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel event %s: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	slog.Debug("SQLStore.CancelEvent", "userID", userID, "eventID", eventID)
	return nil
}

// SearchEvents finds confirmed events whose summary contains query, starting at or after from.
func (s *SQLStore) SearchEvents(ctx context.Context, userID int64, query string, from time.Time, limit int) ([]models.CalendarEvent, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	rows, err := s.query(ctx, s.db,
		`SELECT `+eventColumns+` FROM calendar_events
		 WHERE user_id = ? AND status = ? AND LOWER(summary) LIKE ? ESCAPE '\' AND end_at > ?
		 ORDER BY start_at, id LIMIT ?`,
		userID, models.EventConfirmed, pattern, from.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	return s.collectEvents(rows)
}

// ListEventsBetween lists confirmed events overlapping [from, to).
func (s *SQLStore) ListEventsBetween(ctx context.Context, userID int64, from, to time.Time) ([]models.CalendarEvent, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT `+eventColumns+` FROM calendar_events
		 WHERE user_id = ? AND status = ? AND start_at < ? AND end_at > ?
		 ORDER BY start_at, id`,
		userID, models.EventConfirmed, to.UTC(), from.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return s.collectEvents(rows)
}

// GetEventsByIDs loads the user's events with the given ids regardless of status.
// Unknown ids are skipped.
func (s *SQLStore) GetEventsByIDs(ctx context.Context, userID int64, ids []string) ([]models.CalendarEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.query(ctx, s.db,
		`SELECT `+eventColumns+` FROM calendar_events WHERE user_id = ? AND id IN (`+placeholders+`) ORDER BY start_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load events by id: %w", err)
	}
	return s.collectEvents(rows)
}
