package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

// ObjectiveProgress pairs an objective with the classification of its linked events.
type ObjectiveProgress struct {
	Objective models.LearningObjective
	Batch     models.StatusBatch
}

func writeBatch(b *strings.Builder, batch models.StatusBatch, loc *time.Location) {
	if len(batch.Overdue) > 0 {
		b.WriteString("\n⏰ 已過期：")
		for _, ev := range sortEvents(batch.Overdue, loc) {
			fmt.Fprintf(b, "\n- %s：%s", ev.Summary, whenLabel(ev, loc))
		}
	}
	if len(batch.Upcoming) > 0 {
		b.WriteString("\n🔜 未來七天：")
		for _, ev := range sortEvents(batch.Upcoming, loc) {
			fmt.Fprintf(b, "\n- %s：%s", ev.Summary, whenLabel(ev, loc))
		}
	}
}

// Progress renders the status of one or more objectives.
func Progress(items []ObjectiveProgress, loc *time.Location) string {
	if len(items) == 0 {
		return "目前沒有進行中的學習目標。"
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "🎯 %s", item.Objective.Title)
		if item.Batch.Empty() {
			b.WriteString("\n目前沒有過期或即將到來的步驟。")
			continue
		}
		writeBatch(&b, item.Batch, loc)
	}
	return b.String()
}

// Digest renders the daily summary. It returns an empty string when no objective
// has anything overdue or upcoming.
func Digest(items []ObjectiveProgress, loc *time.Location) string {
	var b strings.Builder
	for _, item := range items {
		if item.Batch.Empty() {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("☀️ 早安！這是你今天的學習進度：")
		}
		fmt.Fprintf(&b, "\n\n🎯 %s", item.Objective.Title)
		writeBatch(&b, item.Batch, loc)
	}
	return b.String()
}
