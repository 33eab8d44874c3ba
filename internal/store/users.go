package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

const userColumns = `id, external_id, state_json, created_at`

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var state sql.NullString
	if err := row.Scan(&u.ID, &u.ExternalID, &state, &u.CreatedAt); err != nil {
		return u, err
	}
	u.State = models.DecodeState(state.String)
	return u, nil
}

// FindOrCreateUser returns the user with the given external id, creating it on first contact.
func (s *SQLStore) FindOrCreateUser(ctx context.Context, externalID string) (models.User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return models.User{}, fmt.Errorf("external id is required")
	}
	now := s.timestamp()
	res, err := s.exec(ctx, s.db,
		`INSERT INTO users (external_id, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT (external_id) DO NOTHING`,
		externalID, now, now,
	)
	if err != nil {
		slog.Error("SQLStore.FindOrCreateUser: insert failed", "externalID", externalID, "error", err)
		return models.User{}, fmt.Errorf("failed to create user %s: %w", externalID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("SQLStore.FindOrCreateUser: created user", "externalID", externalID)
	}

	u, err := scanUser(s.queryRow(ctx, s.db, `SELECT `+userColumns+` FROM users WHERE external_id = ?`, externalID))
	if err != nil {
		return models.User{}, fmt.Errorf("failed to load user %s: %w", externalID, err)
	}
	return u, nil
}

// GetUser loads a user by id. It returns nil when the user does not exist.
func (s *SQLStore) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	u, err := scanUser(s.queryRow(ctx, s.db, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	return &u, nil
}

// GetAllUsers lists every user ordered by id.
func (s *SQLStore) GetAllUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}
	return users, nil
}

// GetState returns the user's conversation state. Missing, null or unparseable state is Idle (nil).
func (s *SQLStore) GetState(ctx context.Context, userID int64) (models.ConversationState, error) {
	var raw sql.NullString
	err := s.queryRow(ctx, s.db, `SELECT state_json FROM users WHERE id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state for user %d: %w", userID, err)
	}
	return models.DecodeState(raw.String), nil
}

// SetState replaces the user's conversation state. A nil state clears it to Idle.
func (s *SQLStore) SetState(ctx context.Context, userID int64, state models.ConversationState) error {
	raw, err := models.EncodeState(state)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, s.db, `UPDATE users SET state_json = ?, updated_at = ? WHERE id = ?`,
		nilIfEmpty(raw), s.timestamp(), userID)
	if err != nil {
		slog.Error("SQLStore.SetState: update failed", "userID", userID, "error", err)
		return fmt.Errorf("failed to set state for user %d: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	slog.Debug("SQLStore.SetState", "userID", userID, "kind", models.KindOf(state))
	return nil
}
