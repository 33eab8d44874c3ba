package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

const confirmFooter = "回覆「好」建立行程、「取消」放棄，或直接告訴我要怎麼修改。"

func stepWhen(s models.PlanStep, loc *time.Location) string {
	if st := strings.TrimSpace(s.StartTime); st != "" {
		if t, err := models.ParseDateTime(st, loc); err == nil {
			return t.Format("2006-01-02 15:04")
		}
		return st
	}
	if d := strings.TrimSpace(s.Date); d != "" {
		return d
	}
	return "自動安排"
}

// PlanForConfirmation renders a proposed plan with its confirmation prompt.
func PlanForConfirmation(plan models.Plan, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("📋 我幫你擬好了以下計畫：\n")
	for i, s := range plan {
		fmt.Fprintf(&b, "\n%d. %s（%s", i+1, s.Summary, stepWhen(s, loc))
		if s.DurationHours > 0 {
			fmt.Fprintf(&b, "，%s 小時", trimFloat(s.DurationHours))
		}
		b.WriteString("）")
	}
	b.WriteString("\n\n" + confirmFooter)
	return b.String()
}

// IncompletePlanTemplate renders a fill-in template for a plan whose steps lack dates.
// The user copies it back with the blanks filled.
func IncompletePlanTemplate(plan models.Plan) string {
	var b strings.Builder
	b.WriteString("✏️ 有些步驟還缺日期，請複製以下內容、補上日期後回傳給我：\n")
	for i, s := range plan {
		date := s.DateKey()
		if date == "" {
			date = "____-__-__"
		}
		fmt.Fprintf(&b, "\n%d. %s｜日期：%s", i+1, s.Summary, date)
	}
	return b.String()
}

// CommitResult reports the outcome of committing a plan.
func CommitResult(created []models.CalendarEvent, total int, loc *time.Location) string {
	if len(created) == 0 {
		return fmt.Sprintf("😢 計畫中的 %d 個步驟都沒有成功建立，請稍後再試一次。", total)
	}
	var b strings.Builder
	if len(created) == total {
		fmt.Fprintf(&b, "✅ 已建立全部 %d 個行程：", total)
	} else {
		fmt.Fprintf(&b, "⚠️ 已建立 %d/%d 個行程，其餘步驟建立失敗：", len(created), total)
	}
	for i, ev := range created {
		fmt.Fprintf(&b, "\n%d. %s：%s", i+1, ev.Summary, whenLabel(ev, loc))
	}
	return b.String()
}

func trimFloat(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}
