package assistant

import (
	"context"
	"time"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

// Oracle interprets messages and images. genai.Client implements it.
type Oracle interface {
	UnderstandAndPlan(ctx context.Context, text string) (models.Intent, error)
	ModifyPlan(ctx context.Context, plan models.Plan, text string) (models.Intent, error)
	ParseDeletionChoice(ctx context.Context, text string, n int) (models.DeletionChoice, error)
	AnalyzeImageAndPlan(ctx context.Context, image []byte, mime string) (models.Intent, error)
	ProcessKnowledge(ctx context.Context, note models.KnowledgeNote, goal string) (string, error)
	GeneratePlanForObjective(ctx context.Context, title string) (models.Plan, error)
	MergePlanWithCorrection(ctx context.Context, partial models.Intent, text string) (models.Intent, error)
}

// EventStore is the per-user calendar. calendar.Calendar implements it.
type EventStore interface {
	Location() *time.Location
	Now() time.Time
	Create(ctx context.Context, userID int64, draft models.EventDraft) (models.CalendarEvent, error)
	DeleteByID(ctx context.Context, userID int64, eventID string) error
	Search(ctx context.Context, userID int64, query string) ([]models.CalendarEvent, error)
	ListByRange(ctx context.Context, userID int64, r models.Range) ([]models.CalendarEvent, error)
	GetStatusBatch(ctx context.Context, userID int64, ids []string) (models.StatusBatch, error)
}

// UserStore holds users, their conversation state, objectives and notes.
// store.SQLStore implements it.
type UserStore interface {
	GetState(ctx context.Context, userID int64) (models.ConversationState, error)
	SetState(ctx context.Context, userID int64, state models.ConversationState) error
	CreateObjective(ctx context.Context, userID int64, title string, due *time.Time) (models.LearningObjective, error)
	FindObjectiveByTitle(ctx context.Context, userID int64, title string) (*models.LearningObjective, error)
	LinkEventToObjective(ctx context.Context, objectiveID int64, eventID string) error
	SaveNote(ctx context.Context, note models.KnowledgeNote) (int64, error)
	GetNote(ctx context.Context, noteID int64) (*models.KnowledgeNote, error)
	GetLatestNote(ctx context.Context, userID int64) (*models.KnowledgeNote, error)
	LinkNoteToObjective(ctx context.Context, noteID, objectiveID int64) error
	GetAllUsers(ctx context.Context) ([]models.User, error)
	GetActiveObjectives(ctx context.Context, userID int64) ([]models.LearningObjective, error)
}

// Pusher delivers a message outside the synchronous reply slot.
// dedupeKey identifies the logical message so retries are not delivered twice.
type Pusher interface {
	Push(ctx context.Context, user models.User, dedupeKey, text string) error
}
