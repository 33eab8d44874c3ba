package models

import (
	"fmt"
	"strings"
	"time"
)

// Date and time layouts exchanged with the language model and stored for all-day events.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04:05"
)

// EventStatus is the status of a calendar event.
type EventStatus string

const (
	EventConfirmed EventStatus = "confirmed"
	EventCancelled EventStatus = "cancelled"
)

// EventTime is either an all-day date or an instant.
type EventTime struct {
	Date     string     `json:"date,omitempty"` // YYYY-MM-DD for all-day events
	DateTime *time.Time `json:"date_time,omitempty"`
	TimeZone string     `json:"time_zone,omitempty"`
}

// IsAllDay reports whether the time carries only a date.
func (t EventTime) IsAllDay() bool {
	return t.DateTime == nil && t.Date != ""
}

// IsZero reports whether neither a date nor an instant is set.
func (t EventTime) IsZero() bool {
	return t.DateTime == nil && t.Date == ""
}

// In resolves the event time in loc. All-day dates resolve to local midnight.
func (t EventTime) In(loc *time.Location) time.Time {
	if t.DateTime != nil {
		return t.DateTime.In(loc)
	}
	if d, err := time.ParseInLocation(DateLayout, t.Date, loc); err == nil {
		return d
	}
	return time.Time{}
}

// CalendarEvent is a scheduled item in a user's calendar.
type CalendarEvent struct {
	ID       string      `json:"id"`
	Summary  string      `json:"summary"`
	Start    EventTime   `json:"start"`
	End      EventTime   `json:"end"`
	Location string      `json:"location,omitempty"`
	Status   EventStatus `json:"status"`
}

// EventDraft is the input for creating a calendar event.
type EventDraft struct {
	Summary  string
	Start    time.Time
	End      time.Time
	AllDay   bool
	Location string
}

// Validate checks the draft before it is written.
func (d EventDraft) Validate() error {
	if strings.TrimSpace(d.Summary) == "" {
		return fmt.Errorf("%w: event summary is required", ErrInvalidEvent)
	}
	if d.Start.IsZero() {
		return fmt.Errorf("%w: event start is required", ErrInvalidEvent)
	}
	if !d.End.After(d.Start) {
		return fmt.Errorf("%w: event end must be after start", ErrInvalidEvent)
	}
	return nil
}

// StatusBatch is the result of classifying a set of events against the current time.
type StatusBatch struct {
	Upcoming []CalendarEvent `json:"upcoming"`
	Overdue  []CalendarEvent `json:"overdue"`
}

// Empty reports whether there is nothing to report.
func (b StatusBatch) Empty() bool {
	return len(b.Upcoming) == 0 && len(b.Overdue) == 0
}

// Range is a named listing window.
type Range string

const (
	RangeToday    Range = "today"
	RangeTomorrow Range = "tomorrow"
	RangeWeek     Range = "week"
	RangeMonth    Range = "month"
)

// ParseRange maps a range name to a Range. An empty name means today.
func ParseRange(s string) (Range, error) {
	switch r := Range(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RangeToday, nil
	case RangeToday, RangeTomorrow, RangeWeek, RangeMonth:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown range %q", ErrInvalidIntent, s)
	}
}

// Bounds returns the half-open interval [from, to) the range covers relative to now.
// Week covers today plus the following six days; month runs to the same day next month.
func (r Range) Bounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	switch r {
	case RangeTomorrow:
		return today.AddDate(0, 0, 1), today.AddDate(0, 0, 2)
	case RangeWeek:
		return today, today.AddDate(0, 0, 7)
	case RangeMonth:
		return today, today.AddDate(0, 1, 0)
	default:
		return today, today.AddDate(0, 0, 1)
	}
}

// ParseDateTime parses a local date-time as produced by the language model.
// Values without an offset are interpreted in loc.
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range []string{DateTimeLayout, "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date-time %q", s)
}

// ParseDate parses a YYYY-MM-DD date at local midnight.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}
