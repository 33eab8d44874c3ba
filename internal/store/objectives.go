package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

const objectiveColumns = `id, user_id, title, status, due_date, linked_event_ids, created_at`

func scanObjective(row rowScanner) (models.LearningObjective, error) {
	var o models.LearningObjective
	var due sql.NullTime
	var linked string
	if err := row.Scan(&o.ID, &o.UserID, &o.Title, &o.Status, &due, &linked, &o.CreatedAt); err != nil {
		return o, err
	}
	o.DueDate = timePtr(due)
	if err := json.Unmarshal([]byte(linked), &o.LinkedEventIDs); err != nil {
		slog.Warn("scanObjective: invalid linked_event_ids, treating as empty", "objectiveID", o.ID, "error", err)
		o.LinkedEventIDs = nil
	}
	if o.LinkedEventIDs == nil {
		o.LinkedEventIDs = []string{}
	}
	return o, nil
}

// CreateObjective inserts a new in-progress learning objective.
func (s *SQLStore) CreateObjective(ctx context.Context, userID int64, title string, due *time.Time) (models.LearningObjective, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.LearningObjective{}, fmt.Errorf("objective title is required")
	}
	now := s.timestamp()
	var id int64
	err := s.queryRow(ctx, s.db,
		`INSERT INTO learning_objectives (user_id, title, status, due_date, linked_event_ids, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '[]', ?, ?) RETURNING id`,
		userID, title, models.ObjectiveInProgress, utcOrNil(due), now, now,
	).Scan(&id)
	if err != nil {
		slog.Error("SQLStore.CreateObjective: insert failed", "userID", userID, "title", title, "error", err)
		return models.LearningObjective{}, fmt.Errorf("failed to create objective: %w", err)
	}
	o, err := s.GetObjective(ctx, id)
	if err != nil {
		return models.LearningObjective{}, err
	}
	if o == nil {
		return models.LearningObjective{}, fmt.Errorf("objective %d: %w", id, ErrNotFound)
	}
	slog.Debug("SQLStore.CreateObjective", "userID", userID, "objectiveID", o.ID)
	return *o, nil
}

// GetObjective loads an objective by id. It returns nil when none exists.
func (s *SQLStore) GetObjective(ctx context.Context, objectiveID int64) (*models.LearningObjective, error) {
	o, err := scanObjective(s.queryRow(ctx, s.db,
		`SELECT `+objectiveColumns+` FROM learning_objectives WHERE id = ?`, objectiveID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get objective %d: %w", objectiveID, err)
	}
	return &o, nil
}

// FindObjectiveByTitle matches a title case-insensitively, preferring in-progress
// objectives and then the most recent. It returns nil when nothing matches.
func (s *SQLStore) FindObjectiveByTitle(ctx context.Context, userID int64, title string) (*models.LearningObjective, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, nil
	}
	o, err := scanObjective(s.queryRow(ctx, s.db,
		`SELECT `+objectiveColumns+` FROM learning_objectives
		 WHERE user_id = ? AND LOWER(title) = LOWER(?)
		 ORDER BY CASE status WHEN 'in_progress' THEN 0 ELSE 1 END, id DESC LIMIT 1`,
		userID, title,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find objective %q: %w", title, err)
	}
	return &o, nil
}

// GetActiveObjectives lists the user's in-progress objectives.
func (s *SQLStore) GetActiveObjectives(ctx context.Context, userID int64) ([]models.LearningObjective, error) {
	return s.listObjectives(ctx, `WHERE user_id = ? AND status = 'in_progress'`, userID)
}

// ListObjectives lists every objective of the user.
func (s *SQLStore) ListObjectives(ctx context.Context, userID int64) ([]models.LearningObjective, error) {
	return s.listObjectives(ctx, `WHERE user_id = ?`, userID)
}

func (s *SQLStore) listObjectives(ctx context.Context, where string, args ...interface{}) ([]models.LearningObjective, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+objectiveColumns+` FROM learning_objectives `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query objectives: %w", err)
	}
	defer rows.Close()

	var out []models.LearningObjective
	for rows.Next() {
		o, err := scanObjective(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan objective row: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate objective rows: %w", err)
	}
	return out, nil
}

// SetObjectiveStatus changes an objective's status.
func (s *SQLStore) SetObjectiveStatus(ctx context.Context, objectiveID int64, status models.ObjectiveStatus) error {
	if !models.IsValidObjectiveStatus(status) {
		return fmt.Errorf("invalid objective status %q", status)
	}
	res, err := s.exec(ctx, s.db, `UPDATE learning_objectives SET status = ?, updated_at = ? WHERE id = ?`,
		status, s.timestamp(), objectiveID)
	if err != nil {
		return fmt.Errorf("failed to update objective %d: %w", objectiveID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("objective %d: %w", objectiveID, ErrNotFound)
	}
	return nil
}

// LinkEventToObjective appends eventID to the objective's linked events.
// Linking an already linked event is a no-op.
func (s *SQLStore) LinkEventToObjective(ctx context.Context, objectiveID int64, eventID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT linked_event_ids FROM learning_objectives WHERE id = ?`
		if s.dialect == DialectPostgres {
			query += ` FOR UPDATE`
		}
		var raw string
		err := s.queryRow(ctx, tx, query, objectiveID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("objective %d: %w", objectiveID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read linked events: %w", err)
		}

		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			slog.Warn("SQLStore.LinkEventToObjective: resetting invalid linked_event_ids", "objectiveID", objectiveID, "error", err)
			ids = nil
		}
		for _, id := range ids {
			if id == eventID {
				return nil
			}
		}
		ids = append(ids, eventID)
		encoded, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("failed to encode linked events: %w", err)
		}
		if _, err := s.exec(ctx, tx, `UPDATE learning_objectives SET linked_event_ids = ?, updated_at = ? WHERE id = ?`,
			string(encoded), s.timestamp(), objectiveID); err != nil {
			return fmt.Errorf("failed to update linked events: %w", err)
		}
		slog.Debug("SQLStore.LinkEventToObjective", "objectiveID", objectiveID, "eventID", eventID, "linked", len(ids))
		return nil
	})
}
