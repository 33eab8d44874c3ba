package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

const noteColumns = `id, user_id, objective_id, source_type, content, created_at`

func scanNote(row rowScanner) (models.KnowledgeNote, error) {
	var n models.KnowledgeNote
	var objectiveID sql.NullInt64
	var content string
	if err := row.Scan(&n.ID, &n.UserID, &objectiveID, &n.SourceType, &content, &n.CreatedAt); err != nil {
		return n, err
	}
	if objectiveID.Valid {
		id := objectiveID.Int64
		n.ObjectiveID = &id
	}
	n.Content = []byte(content)
	return n, nil
}

// SaveNote inserts a knowledge note and returns its id.
func (s *SQLStore) SaveNote(ctx context.Context, note models.KnowledgeNote) (int64, error) {
	if len(note.Content) == 0 {
		return 0, fmt.Errorf("note content is required")
	}
	var objectiveID int64
	if note.ObjectiveID != nil {
		objectiveID = *note.ObjectiveID
	}
	var id int64
	err := s.queryRow(ctx, s.db,
		`INSERT INTO knowledge_notes (user_id, objective_id, source_type, content, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		note.UserID, nilIfZero(objectiveID), note.SourceType, string(note.Content), s.timestamp(),
	).Scan(&id)
	if err != nil {
		slog.Error("SQLStore.SaveNote: insert failed", "userID", note.UserID, "error", err)
		return 0, fmt.Errorf("failed to save note: %w", err)
	}
	slog.Debug("SQLStore.SaveNote", "userID", note.UserID, "noteID", id, "sourceType", note.SourceType)
	return id, nil
}

// GetNote loads a note by id. It returns nil when none exists.
func (s *SQLStore) GetNote(ctx context.Context, noteID int64) (*models.KnowledgeNote, error) {
	n, err := scanNote(s.queryRow(ctx, s.db, `SELECT `+noteColumns+` FROM knowledge_notes WHERE id = ?`, noteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note %d: %w", noteID, err)
	}
	return &n, nil
}

// GetLatestNote returns the user's most recently saved note, or nil.
func (s *SQLStore) GetLatestNote(ctx context.Context, userID int64) (*models.KnowledgeNote, error) {
	n, err := scanNote(s.queryRow(ctx, s.db,
		`SELECT `+noteColumns+` FROM knowledge_notes WHERE user_id = ? ORDER BY id DESC LIMIT 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest note for user %d: %w", userID, err)
	}
	return &n, nil
}

// LinkNoteToObjective files a note under an objective.
func (s *SQLStore) LinkNoteToObjective(ctx context.Context, noteID, objectiveID int64) error {
	res, err := s.exec(ctx, s.db, `UPDATE knowledge_notes SET objective_id = ? WHERE id = ?`, objectiveID, noteID)
	if err != nil {
		return fmt.Errorf("failed to link note %d: %w", noteID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("note %d: %w", noteID, ErrNotFound)
	}
	slog.Debug("SQLStore.LinkNoteToObjective", "noteID", noteID, "objectiveID", objectiveID)
	return nil
}
