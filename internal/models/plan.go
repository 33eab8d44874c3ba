package models

import "strings"

// PlanStep is one proposed calendar entry in a plan.
// A step without Date and StartTime is scheduled automatically when the plan is committed.
type PlanStep struct {
	Summary       string  `json:"summary"`
	Date          string  `json:"date,omitempty"`       // YYYY-MM-DD
	StartTime     string  `json:"start_time,omitempty"` // local date-time
	DurationHours float64 `json:"duration_hours,omitempty"`
	ObjectiveID   int64   `json:"objective_id,omitempty"`
}

// HasDate reports whether the step carries a date or start time.
func (s PlanStep) HasDate() bool {
	return strings.TrimSpace(s.Date) != "" || strings.TrimSpace(s.StartTime) != ""
}

// DateKey is the date portion used for de-duplication.
func (s PlanStep) DateKey() string {
	if d := strings.TrimSpace(s.Date); d != "" {
		return d
	}
	st := strings.TrimSpace(s.StartTime)
	if len(st) >= len(DateLayout) {
		return st[:len(DateLayout)]
	}
	return st
}

// Plan is an ordered list of steps awaiting confirmation.
type Plan []PlanStep

// IsComplete reports whether every step has a date or start time.
func (p Plan) IsComplete() bool {
	for _, s := range p {
		if !s.HasDate() {
			return false
		}
	}
	return true
}
