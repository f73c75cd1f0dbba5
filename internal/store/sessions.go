// ABOUTME: SQLite persistence for wizard and template-instantiation sessions
// ABOUTME: Enforces one live session per user, idle expiry and a global session cap

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GetSession retrieves a user's wizard session.
// Returns ErrNotFound if the user has no session.
func (s *SQLiteStore) GetSession(ctx context.Context, userID string) (*Session, error) {
	var sess Session
	var payload, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, state, payload, updated_at FROM user_sessions WHERE user_id = ?`, userID).
		Scan(&sess.UserID, &sess.State, &payload, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	sess.Payload = []byte(payload)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

// PutSession stores a user's wizard session, replacing any existing one.
// The user_id primary key keeps at most one live session per user.
func (s *SQLiteStore) PutSession(ctx context.Context, sess *Session) error {
	payload := sess.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO user_sessions (user_id, state, payload, updated_at)
		VALUES (?, ?, ?, ?)
	`, sess.UserID, sess.State, string(payload), formatTime(orNow(sess.UpdatedAt)))
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// DeleteSession removes a user's wizard session. Missing sessions are a no-op.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteIdleSessions removes wizard sessions not touched since the cutoff.
func (s *SQLiteStore) DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE updated_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting idle sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Debug("swept idle sessions", "count", n)
	}
	return int(n), nil
}

// EnforceSessionCap prunes the oldest wizard sessions so at most max remain.
// Returns the number of sessions removed.
func (s *SQLiteStore) EnforceSessionCap(ctx context.Context, max int) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_sessions`).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	if total <= max {
		return 0, nil
	}

	excess := total - max
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM user_sessions WHERE user_id IN (
			SELECT user_id FROM user_sessions ORDER BY updated_at ASC LIMIT ?
		)
	`, excess)
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	s.logger.Warn("session cap exceeded, pruned oldest", "pruned", n, "cap", max)
	return int(n), nil
}

// --- Template instantiation sessions ---

// CreateTemplateSession stores a new variable-collection session.
// Any prior session for the same user is discarded first, so starting a new
// instantiation silently replaces an unfinished one.
func (s *SQLiteStore) CreateTemplateSession(ctx context.Context, sess *TemplateSession) error {
	variables, err := json.Marshal(emptyAsList(sess.Variables))
	if err != nil {
		return fmt.Errorf("encoding variables: %w", err)
	}
	values, err := json.Marshal(emptyAsMap(sess.Values))
	if err != nil {
		return fmt.Errorf("encoding values: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM template_sessions WHERE user_id = ?`, sess.UserID); err != nil {
		return fmt.Errorf("discarding prior template session: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO template_sessions (session_id, user_id, template_name, variables, "values", current_index, chat_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, sess.TemplateName, string(variables), string(values),
		sess.CurrentIndex, sess.ChatID, formatTime(orNow(sess.CreatedAt)))
	if err != nil {
		return fmt.Errorf("inserting template session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing template session: %w", err)
	}
	s.logger.Debug("created template session", "id", sess.ID, "template", sess.TemplateName)
	return nil
}

const templateSessionColumns = `session_id, user_id, template_name, variables, "values", current_index, chat_id, created_at`

func scanTemplateSession(scan func(dest ...any) error) (*TemplateSession, error) {
	var sess TemplateSession
	var variables, values, createdAt string
	err := scan(&sess.ID, &sess.UserID, &sess.TemplateName, &variables, &values,
		&sess.CurrentIndex, &sess.ChatID, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(variables), &sess.Variables); err != nil {
		return nil, fmt.Errorf("decoding variables: %w", err)
	}
	if err := json.Unmarshal([]byte(values), &sess.Values); err != nil {
		return nil, fmt.Errorf("decoding values: %w", err)
	}
	sess.CreatedAt = parseTime(createdAt)
	return &sess, nil
}

// GetTemplateSession retrieves a template session by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetTemplateSession(ctx context.Context, id string) (*TemplateSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+templateSessionColumns+` FROM template_sessions WHERE session_id = ?`, id)
	sess, err := scanTemplateSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying template session: %w", err)
	}
	return sess, nil
}

// GetTemplateSessionByUser retrieves a user's live template session.
// Returns ErrNotFound if the user has none.
func (s *SQLiteStore) GetTemplateSessionByUser(ctx context.Context, userID string) (*TemplateSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+templateSessionColumns+` FROM template_sessions WHERE user_id = ? ORDER BY created_at DESC LIMIT 1`, userID)
	sess, err := scanTemplateSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying template session by user: %w", err)
	}
	return sess, nil
}

// UpdateTemplateSession saves collected values and progress.
// Returns ErrNotFound if the session vanished (e.g. raced expiry).
func (s *SQLiteStore) UpdateTemplateSession(ctx context.Context, sess *TemplateSession) error {
	values, err := json.Marshal(emptyAsMap(sess.Values))
	if err != nil {
		return fmt.Errorf("encoding values: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE template_sessions SET "values" = ?, current_index = ? WHERE session_id = ?
	`, string(values), sess.CurrentIndex, sess.ID)
	if err != nil {
		return fmt.Errorf("updating template session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTemplateSession removes a template session. Missing sessions are a no-op.
func (s *SQLiteStore) DeleteTemplateSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM template_sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("deleting template session: %w", err)
	}
	return nil
}

// DeleteIdleTemplateSessions removes template sessions created before the cutoff.
func (s *SQLiteStore) DeleteIdleTemplateSessions(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM template_sessions WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting idle template sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Debug("swept idle template sessions", "count", n)
	}
	return int(n), nil
}

func emptyAsMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
