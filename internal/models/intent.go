package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidIntent is returned when an intent is missing required parameters or names an unknown action.
	ErrInvalidIntent = errors.New("invalid intent")
	// ErrInvalidEvent is returned when an event draft cannot be written.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrInvalidDeletionChoice is returned when a deletion selection cannot be decoded.
	ErrInvalidDeletionChoice = errors.New("invalid deletion choice")
)

// Action names a user intent recognised by the language model.
type Action string

const (
	ActionListEvents          Action = "list_events"
	ActionCreateEvent         Action = "create_event"
	ActionDeleteEvent         Action = "delete_event"
	ActionCreateObjective     Action = "create_objective"
	ActionPlanForObjective    Action = "plan_for_objective"
	ActionPlanComplexTask     Action = "plan_complex_task"
	ActionClarifyOrReject     Action = "clarify_or_reject"
	ActionLinkNoteToObjective Action = "link_note_to_objective"
	ActionQueryProgress       Action = "query_progress"
	ActionSaveKnowledge       Action = "save_knowledge"
)

// IsValidAction checks if the given action is supported.
func IsValidAction(a Action) bool {
	switch a {
	case ActionListEvents, ActionCreateEvent, ActionDeleteEvent, ActionCreateObjective,
		ActionPlanForObjective, ActionPlanComplexTask, ActionClarifyOrReject,
		ActionLinkNoteToObjective, ActionQueryProgress, ActionSaveKnowledge:
		return true
	default:
		return false
	}
}

// IntentParams carries the parameters for every action. Only the fields relevant
// to the intent's action are populated.
type IntentParams struct {
	Range          string          `json:"range,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	StartTime      string          `json:"start_time,omitempty"`
	Date           string          `json:"date,omitempty"`
	DurationHours  float64         `json:"duration_hours,omitempty"`
	Location       string          `json:"location,omitempty"`
	Query          string          `json:"query,omitempty"`
	Title          string          `json:"title,omitempty"`
	DueDate        string          `json:"due_date,omitempty"`
	ObjectiveTitle string          `json:"objective_title,omitempty"`
	NoteID         int64           `json:"note_id,omitempty"`
	Steps          Plan            `json:"steps,omitempty"`
	Message        string          `json:"message,omitempty"`
	SourceType     string          `json:"source_type,omitempty"`
	Content        json.RawMessage `json:"content,omitempty"`
}

// Intent is the structured interpretation of a user message.
type Intent struct {
	Action Action       `json:"action"`
	Params IntentParams `json:"params"`
}

// Clarify builds a clarify_or_reject intent carrying message.
func Clarify(message string) Intent {
	return Intent{Action: ActionClarifyOrReject, Params: IntentParams{Message: message}}
}

// Validate performs validation of the required parameters for the intent's action.
func (i Intent) Validate() error {
	p := i.Params
	switch i.Action {
	case ActionListEvents:
		_, err := ParseRange(p.Range)
		return err
	case ActionCreateEvent:
		if strings.TrimSpace(p.Summary) == "" {
			return fmt.Errorf("%w: create_event requires summary", ErrInvalidIntent)
		}
		if strings.TrimSpace(p.StartTime) == "" && strings.TrimSpace(p.Date) == "" {
			return fmt.Errorf("%w: create_event requires start_time or date", ErrInvalidIntent)
		}
		if p.DurationHours < 0 {
			return fmt.Errorf("%w: negative duration", ErrInvalidIntent)
		}
	case ActionDeleteEvent:
		if strings.TrimSpace(p.Query) == "" {
			return fmt.Errorf("%w: delete_event requires query", ErrInvalidIntent)
		}
	case ActionCreateObjective:
		if strings.TrimSpace(p.Title) == "" {
			return fmt.Errorf("%w: create_objective requires title", ErrInvalidIntent)
		}
	case ActionPlanForObjective, ActionLinkNoteToObjective:
		if strings.TrimSpace(p.ObjectiveTitle) == "" {
			return fmt.Errorf("%w: %s requires objective_title", ErrInvalidIntent, i.Action)
		}
	case ActionPlanComplexTask:
		if len(p.Steps) == 0 {
			return fmt.Errorf("%w: plan_complex_task requires at least one step", ErrInvalidIntent)
		}
	case ActionSaveKnowledge:
		c := bytes.TrimSpace(p.Content)
		if len(c) == 0 || bytes.Equal(c, []byte("null")) {
			return fmt.Errorf("%w: save_knowledge requires content", ErrInvalidIntent)
		}
	case ActionClarifyOrReject, ActionQueryProgress:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidIntent, i.Action)
	}
	return nil
}

// DeletionChoice is the user's selection among deletion candidates.
// Exactly one of All, None or Indices is meaningful.
type DeletionChoice struct {
	All     bool
	None    bool
	Indices []int
}

// UnmarshalJSON decodes {"selection": "all" | "none" | [int, ...]}.
func (d *DeletionChoice) UnmarshalJSON(data []byte) error {
	var raw struct {
		Selection json.RawMessage `json:"selection"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDeletionChoice, err)
	}
	var word string
	if err := json.Unmarshal(raw.Selection, &word); err == nil {
		switch strings.ToLower(strings.TrimSpace(word)) {
		case "all":
			*d = DeletionChoice{All: true}
			return nil
		case "none":
			*d = DeletionChoice{None: true}
			return nil
		}
		return fmt.Errorf("%w: unknown selection %q", ErrInvalidDeletionChoice, word)
	}
	var indices []int
	if err := json.Unmarshal(raw.Selection, &indices); err != nil || indices == nil {
		return fmt.Errorf("%w: selection must be \"all\", \"none\" or a list of indices", ErrInvalidDeletionChoice)
	}
	*d = DeletionChoice{Indices: indices}
	return nil
}

// MarshalJSON encodes the choice in the same shape UnmarshalJSON accepts.
func (d DeletionChoice) MarshalJSON() ([]byte, error) {
	var sel interface{}
	switch {
	case d.All:
		sel = "all"
	case d.None:
		sel = "none"
	default:
		idx := d.Indices
		if idx == nil {
			idx = []int{}
		}
		sel = idx
	}
	return json.Marshal(map[string]interface{}{"selection": sel})
}

// Resolve returns the zero-based candidate indices selected out of n candidates.
// Out-of-range and repeated indices are dropped; order of first appearance is kept.
func (d DeletionChoice) Resolve(n int) []int {
	switch {
	case d.None:
		return nil
	case d.All:
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	seen := make(map[int]bool, len(d.Indices))
	var out []int
	for _, i := range d.Indices {
		if i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	return out
}
