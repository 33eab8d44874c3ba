package models

import (
	"encoding/json"
	"time"
)

// User is a person talking to the assistant, created on first contact.
type User struct {
	ID         int64             `json:"id"`
	ExternalID string            `json:"external_id"`
	State      ConversationState `json:"-"` // nil means Idle
	CreatedAt  time.Time         `json:"created_at"`
}

// ObjectiveStatus is the lifecycle status of a learning objective.
type ObjectiveStatus string

const (
	ObjectiveInProgress ObjectiveStatus = "in_progress"
	ObjectiveCompleted  ObjectiveStatus = "completed"
	ObjectiveOnHold     ObjectiveStatus = "on_hold"
)

// IsValidObjectiveStatus reports whether s is a known objective status.
func IsValidObjectiveStatus(s ObjectiveStatus) bool {
	switch s {
	case ObjectiveInProgress, ObjectiveCompleted, ObjectiveOnHold:
		return true
	default:
		return false
	}
}

// LearningObjective is a user goal that calendar events can be linked to.
// LinkedEventIDs only ever grows and never holds duplicates.
type LearningObjective struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	Title          string          `json:"title"`
	Status         ObjectiveStatus `json:"status"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	LinkedEventIDs []string        `json:"linked_event_ids"`
	CreatedAt      time.Time       `json:"created_at"`
}

// KnowledgeNote is structured knowledge extracted from a screenshot or photo.
type KnowledgeNote struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	ObjectiveID *int64          `json:"objective_id,omitempty"`
	SourceType  string          `json:"source_type"`
	Content     json.RawMessage `json:"content"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NoteHeadline is the short description stored in a note's content.
type NoteHeadline struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Headline extracts the title and summary from the note content, if present.
func (n KnowledgeNote) Headline() NoteHeadline {
	var h NoteHeadline
	if len(n.Content) > 0 {
		_ = json.Unmarshal(n.Content, &h)
	}
	return h
}
