// Package format renders calendar events, plans and progress reports as chat text.
// All renderers are pure and deterministic for a given location.
package format

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

const (
	// NothingScheduled is shown when a listing window has no events.
	NothingScheduled = "📭 這段時間沒有任何行程。"
	// AllDaySuffix marks all-day events.
	AllDaySuffix = "(全天)"
)

var weekdayNames = [...]string{"日", "一", "二", "三", "四", "五", "六"}

func dayHeader(t time.Time) string {
	return fmt.Sprintf("%s (週%s)", t.Format(models.DateLayout), weekdayNames[t.Weekday()])
}

func sortEvents(events []models.CalendarEvent, loc *time.Location) []models.CalendarEvent {
	sorted := make([]models.CalendarEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Start.In(loc), sorted[j].Start.In(loc)
		if !a.Equal(b) {
			return a.Before(b)
		}
		return sorted[i].Summary < sorted[j].Summary
	})
	return sorted
}

// timeLabel renders "(全天)" or "(14:00-15:00)".
func timeLabel(ev models.CalendarEvent, loc *time.Location) string {
	if ev.Start.IsAllDay() {
		return AllDaySuffix
	}
	start := ev.Start.In(loc)
	if ev.End.IsZero() {
		return fmt.Sprintf("(%s)", start.Format("15:04"))
	}
	return fmt.Sprintf("(%s-%s)", start.Format("15:04"), ev.End.In(loc).Format("15:04"))
}

// whenLabel renders a date and time, e.g. "2026-10-16 (週五) 14:00-15:00".
func whenLabel(ev models.CalendarEvent, loc *time.Location) string {
	start := ev.Start.In(loc)
	label := timeLabel(ev, loc)
	return dayHeader(start) + " " + strings.Trim(label, "()")
}

// Events renders a listing. Events on a single date become a flat numbered list;
// events spanning several dates are grouped under date headers.
func Events(events []models.CalendarEvent, loc *time.Location) string {
	if len(events) == 0 {
		return NothingScheduled
	}
	sorted := sortEvents(events, loc)

	var dates []string
	byDate := make(map[string][]models.CalendarEvent)
	for _, ev := range sorted {
		key := ev.Start.In(loc).Format(models.DateLayout)
		if _, ok := byDate[key]; !ok {
			dates = append(dates, key)
		}
		byDate[key] = append(byDate[key], ev)
	}

	var b strings.Builder
	if len(dates) == 1 {
		for i, ev := range sorted {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%d. %s %s", i+1, ev.Summary, timeLabel(ev, loc))
		}
		return b.String()
	}

	for i, key := range dates {
		if i > 0 {
			b.WriteString("\n\n")
		}
		group := byDate[key]
		fmt.Fprintf(&b, "📅 %s", dayHeader(group[0].Start.In(loc)))
		for _, ev := range group {
			fmt.Fprintf(&b, "\n- %s %s", ev.Summary, timeLabel(ev, loc))
		}
	}
	return b.String()
}

// EventCreated confirms a newly created event.
func EventCreated(ev models.CalendarEvent, loc *time.Location) string {
	msg := fmt.Sprintf("✅ 已新增行程：%s\n🕑 %s", ev.Summary, whenLabel(ev, loc))
	if ev.Location != "" {
		msg += "\n📍 " + ev.Location
	}
	return msg
}

// DeletionCandidates lists events matched by a delete request and asks which to remove.
func DeletionCandidates(events []models.CalendarEvent, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("🗑️ 找到以下行程，要刪除哪幾個？\n")
	for i, ev := range events {
		fmt.Fprintf(&b, "\n%d. %s：%s", i+1, ev.Summary, whenLabel(ev, loc))
	}
	b.WriteString("\n\n請回覆編號（例如「1, 3」）、「全部」或「都不要」。")
	return b.String()
}

// Deleted reports the events removed after a deletion confirmation.
func Deleted(summaries []string) string {
	if len(summaries) == 0 {
		return "好的，沒有刪除任何行程。"
	}
	var b strings.Builder
	b.WriteString("🗑️ 已刪除：")
	for _, s := range summaries {
		b.WriteString("\n- " + s)
	}
	return b.String()
}
