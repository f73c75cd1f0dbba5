// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/poll/vote/template/session persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			user_id       TEXT PRIMARY KEY,
			username      TEXT NOT NULL DEFAULT '',
			permission    TEXT NOT NULL DEFAULT 'use',
			last_activity TEXT NOT NULL,

			CHECK (permission IN ('none', 'use', 'create', 'admin'))
		);

		CREATE TABLE IF NOT EXISTS templates (
			name          TEXT PRIMARY KEY,
			question      TEXT NOT NULL,
			options       TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			variables     TEXT NOT NULL DEFAULT '[]',
			threshold     INTEGER NOT NULL DEFAULT 50,
			cap           INTEGER NOT NULL DEFAULT 0,
			non_anonymous INTEGER NOT NULL DEFAULT 0,
			owner_id      TEXT NOT NULL DEFAULT '',
			usage_count   INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS polls (
			poll_id         TEXT PRIMARY KEY,
			question        TEXT NOT NULL,
			options         TEXT NOT NULL,
			chat_id         TEXT NOT NULL,
			message_id      TEXT NOT NULL DEFAULT '',
			creator_id      TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'active',
			threshold       INTEGER NOT NULL DEFAULT 50,
			cap             INTEGER NOT NULL DEFAULT 0,
			voting_type     TEXT NOT NULL DEFAULT 'choice',
			non_anonymous   INTEGER NOT NULL DEFAULT 0,
			decision_status TEXT NOT NULL DEFAULT 'pending',
			decision_number INTEGER,
			template_used   TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL,

			CHECK (status IN ('active', 'closed')),
			CHECK (voting_type IN ('binary', 'approval', 'choice')),
			CHECK (decision_status IN ('pending', 'accepted', 'rejected'))
		);

		CREATE INDEX IF NOT EXISTS idx_polls_creator ON polls(creator_id);
		CREATE INDEX IF NOT EXISTS idx_polls_status ON polls(status);
		CREATE INDEX IF NOT EXISTS idx_polls_created ON polls(created_at);

		CREATE TABLE IF NOT EXISTS poll_votes (
			poll_id      TEXT NOT NULL,
			voter_id     TEXT NOT NULL,
			option_index INTEGER NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			voted_at     TEXT NOT NULL,

			PRIMARY KEY (poll_id, voter_id)
		);

		CREATE INDEX IF NOT EXISTS idx_votes_poll ON poll_votes(poll_id);

		CREATE TABLE IF NOT EXISTS user_sessions (
			user_id    TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT '{}',
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON user_sessions(updated_at);

		CREATE TABLE IF NOT EXISTS template_sessions (
			session_id    TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			template_name TEXT NOT NULL,
			variables     TEXT NOT NULL DEFAULT '[]',
			"values"      TEXT NOT NULL DEFAULT '{}',
			current_index INTEGER NOT NULL DEFAULT 0,
			chat_id       TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_template_sessions_user ON template_sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_template_sessions_created ON template_sessions(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// --- Users ---

// UpsertUser creates the user on first contact (with 'use' permission) or
// refreshes username and last-activity on every later event. An existing
// permission is never downgraded by re-registration.
func (s *SQLiteStore) UpsertUser(ctx context.Context, id, username string) (*User, error) {
	now := time.Now()
	query := `
		INSERT INTO users (user_id, username, permission, last_activity)
		VALUES (?, ?, 'use', ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			last_activity = excluded.last_activity
	`
	if _, err := s.db.ExecContext(ctx, query, id, username, formatTime(now)); err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return s.GetUser(ctx, id)
}

// GetUser retrieves a user by ID. Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `SELECT user_id, username, permission, last_activity FROM users WHERE user_id = ?`

	var u User
	var lastActivity string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Username, &u.Permission, &lastActivity)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	u.LastActivity = parseTime(lastActivity)
	return &u, nil
}

// SetPermission updates a user's permission level.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) SetPermission(ctx context.Context, id string, perm Permission) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET permission = ? WHERE user_id = ?`, string(perm), id)
	if err != nil {
		return fmt.Errorf("updating permission: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.logger.Info("permission updated", "user_id", id, "permission", perm)
	return nil
}

// DeleteUserCascade removes a user together with their votes and sessions.
// Polls created by the user are kept; only per-user state is cascaded.
func (s *SQLiteStore) DeleteUserCascade(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM poll_votes WHERE voter_id = ?`,
		`DELETE FROM user_sessions WHERE user_id = ?`,
		`DELETE FROM template_sessions WHERE user_id = ?`,
		`DELETE FROM users WHERE user_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("cascading user delete: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing user delete: %w", err)
	}
	s.logger.Info("user deleted", "user_id", id)
	return nil
}

// --- Templates ---

// CreateTemplate creates a new template.
// Returns ErrDuplicateTemplate if the name is already taken.
func (s *SQLiteStore) CreateTemplate(ctx context.Context, t *Template) error {
	options, err := json.Marshal(t.Options)
	if err != nil {
		return fmt.Errorf("encoding options: %w", err)
	}
	variables, err := json.Marshal(emptyAsList(t.Variables))
	if err != nil {
		return fmt.Errorf("encoding variables: %w", err)
	}

	query := `
		INSERT INTO templates (name, question, options, description, variables, threshold, cap, non_anonymous, owner_id, usage_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		t.Name, t.Question, string(options), t.Description, string(variables),
		t.Threshold, t.Cap, boolToInt(t.NonAnonymous), t.OwnerID, t.UsageCount,
		formatTime(orNow(t.CreatedAt)),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateTemplate
		}
		return fmt.Errorf("inserting template: %w", err)
	}
	s.logger.Debug("created template", "name", t.Name, "owner", t.OwnerID)
	return nil
}

// GetTemplate retrieves a template by name. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetTemplate(ctx context.Context, name string) (*Template, error) {
	query := `
		SELECT name, question, options, description, variables, threshold, cap, non_anonymous, owner_id, usage_count, created_at
		FROM templates WHERE name = ?
	`
	row := s.db.QueryRowContext(ctx, query, name)
	t, err := scanTemplate(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying template: %w", err)
	}
	return t, nil
}

// ListTemplates returns all templates, most used first.
func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]*Template, error) {
	query := `
		SELECT name, question, options, description, variables, threshold, cap, non_anonymous, owner_id, usage_count, created_at
		FROM templates ORDER BY usage_count DESC, name
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		t, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning template row: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating template rows: %w", err)
	}
	return templates, nil
}

func scanTemplate(scan func(dest ...any) error) (*Template, error) {
	var t Template
	var options, variables, createdAt string
	var nonAnon int
	err := scan(&t.Name, &t.Question, &options, &t.Description, &variables,
		&t.Threshold, &t.Cap, &nonAnon, &t.OwnerID, &t.UsageCount, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(options), &t.Options); err != nil {
		return nil, fmt.Errorf("decoding options: %w", err)
	}
	if err := json.Unmarshal([]byte(variables), &t.Variables); err != nil {
		return nil, fmt.Errorf("decoding variables: %w", err)
	}
	t.NonAnonymous = nonAnon != 0
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

// DeleteTemplate removes a template. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) DeleteTemplate(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.logger.Debug("deleted template", "name", name)
	return nil
}

// IncrementTemplateUsage bumps a template's usage counter.
func (s *SQLiteStore) IncrementTemplateUsage(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE templates SET usage_count = usage_count + 1 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("incrementing template usage: %w", err)
	}
	return nil
}

// SetTemplateThreshold updates a template's decision threshold.
// Returns ErrNotFound if the template doesn't exist.
func (s *SQLiteStore) SetTemplateThreshold(ctx context.Context, name string, threshold int) error {
	result, err := s.db.ExecContext(ctx, `UPDATE templates SET threshold = ? WHERE name = ?`, threshold, name)
	if err != nil {
		return fmt.Errorf("updating template threshold: %w", err)
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

// --- Polls ---

// CreatePoll creates a new poll.
func (s *SQLiteStore) CreatePoll(ctx context.Context, p *Poll) error {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("encoding options: %w", err)
	}

	query := `
		INSERT INTO polls (poll_id, question, options, chat_id, message_id, creator_id, status, threshold, cap, voting_type, non_anonymous, decision_status, template_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.Question, string(options), p.ChatID, p.MessageID, p.CreatorID,
		p.Status, p.Threshold, p.Cap, string(p.VotingType), boolToInt(p.NonAnonymous),
		string(p.DecisionStatus), p.TemplateUsed, formatTime(orNow(p.CreatedAt)),
	)
	if err != nil {
		return fmt.Errorf("inserting poll: %w", err)
	}
	s.logger.Debug("created poll", "id", p.ID, "voting_type", p.VotingType)
	return nil
}

const pollColumns = `poll_id, question, options, chat_id, message_id, creator_id, status, threshold, cap, voting_type, non_anonymous, decision_status, decision_number, template_used, created_at`

func scanPoll(scan func(dest ...any) error) (*Poll, error) {
	var p Poll
	var options, createdAt string
	var decisionNumber sql.NullInt64
	err := scan(&p.ID, &p.Question, &options, &p.ChatID, &p.MessageID, &p.CreatorID,
		&p.Status, &p.Threshold, &p.Cap, &p.VotingType, &p.NonAnonymous,
		&p.DecisionStatus, &decisionNumber, &p.TemplateUsed, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(options), &p.Options); err != nil {
		return nil, fmt.Errorf("decoding options: %w", err)
	}
	if decisionNumber.Valid {
		n := int(decisionNumber.Int64)
		p.DecisionNumber = &n
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// GetPoll retrieves a poll by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetPoll(ctx context.Context, id string) (*Poll, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM polls WHERE poll_id = ?`, id)
	p, err := scanPoll(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying poll: %w", err)
	}
	return p, nil
}

// SetPollMessage records the transport message carrying the poll card.
func (s *SQLiteStore) SetPollMessage(ctx context.Context, id, chatID, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE polls SET chat_id = ?, message_id = ? WHERE poll_id = ?`, chatID, messageID, id)
	if err != nil {
		return fmt.Errorf("updating poll message: %w", err)
	}
	return nil
}

// ClosePoll transitions a poll to closed. The returned bool is false when the
// poll was already closed, letting callers report an idempotent conflict.
// Returns ErrNotFound if the poll doesn't exist.
func (s *SQLiteStore) ClosePoll(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE polls SET status = 'closed' WHERE poll_id = ? AND status = 'active'`, id)
	if err != nil {
		return false, fmt.Errorf("closing poll: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows > 0 {
		s.logger.Info("poll closed", "id", id)
		return true, nil
	}

	// Distinguish "already closed" from "missing"
	if _, err := s.GetPoll(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ListActivePolls returns active polls, newest first.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListActivePolls(ctx context.Context, limit int) ([]*Poll, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE status = 'active' ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying active polls: %w", err)
	}
	defer rows.Close()

	var polls []*Poll
	for rows.Next() {
		p, err := scanPoll(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning poll row: %w", err)
		}
		polls = append(polls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating poll rows: %w", err)
	}
	return polls, nil
}

// CountPolls returns the number of active polls and the total number of polls.
func (s *SQLiteStore) CountPolls(ctx context.Context) (int, int, error) {
	var active, total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(CASE WHEN status = 'active' THEN 1 END), COUNT(*) FROM polls`).Scan(&active, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("counting polls: %w", err)
	}
	return active, total, nil
}

func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// CloseExpiredPolls closes all active polls created before the cutoff and
// returns their IDs so callers can finalize their decision status.
func (s *SQLiteStore) CloseExpiredPolls(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT poll_id FROM polls WHERE status = 'active' AND created_at < ?`, formatTime(olderThan))
	if err != nil {
		return nil, fmt.Errorf("querying expired polls: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning poll id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired polls: %w", err)
	}

	if len(ids) > 0 {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE polls SET status = 'closed' WHERE status = 'active' AND created_at < ?`,
			formatTime(olderThan)); err != nil {
			return nil, fmt.Errorf("closing expired polls: %w", err)
		}
		s.logger.Info("auto-closed expired polls", "count", len(ids))
	}
	return ids, nil
}

// FindRecentPoll returns a poll by the same creator with an identical question
// created at or after the given time, or ErrNotFound.
func (s *SQLiteStore) FindRecentPoll(ctx context.Context, creatorID, question string, since time.Time) (*Poll, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pollColumns+` FROM polls WHERE creator_id = ? AND question = ? AND created_at >= ? ORDER BY created_at DESC LIMIT 1`,
		creatorID, question, formatTime(since))
	p, err := scanPoll(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying recent poll: %w", err)
	}
	return p, nil
}

// CacheDecision updates the poll's cached decision status. The first time the
// status leaves pending, the next sequential decision number is assigned in the
// same transaction; a number already assigned is never changed.
// Returns the updated poll.
func (s *SQLiteStore) CacheDecision(ctx context.Context, pollID string, status DecisionStatus) (*Poll, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	var number sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT decision_status, decision_number FROM polls WHERE poll_id = ?`, pollID).
		Scan(&current, &number)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying decision state: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE polls SET decision_status = ? WHERE poll_id = ?`, string(status), pollID); err != nil {
		return nil, fmt.Errorf("caching decision status: %w", err)
	}

	if status != DecisionPending && !number.Valid {
		if _, err := tx.ExecContext(ctx, `
			UPDATE polls
			SET decision_number = (SELECT COALESCE(MAX(decision_number), 0) + 1 FROM polls)
			WHERE poll_id = ? AND decision_number IS NULL
		`, pollID); err != nil {
			return nil, fmt.Errorf("assigning decision number: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing decision: %w", err)
	}
	return s.GetPoll(ctx, pollID)
}

// --- Votes ---

// UpsertVote records a voter's choice, replacing any prior vote by the same
// voter in the same poll (last vote wins). The (poll, voter) primary key makes
// the replace atomic without application-level locking.
func (s *SQLiteStore) UpsertVote(ctx context.Context, v *Vote) error {
	query := `
		INSERT OR REPLACE INTO poll_votes (poll_id, voter_id, option_index, display_name, voted_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		v.PollID, v.VoterID, v.OptionIndex, v.DisplayName, formatTime(orNow(v.VotedAt)))
	if err != nil {
		return fmt.Errorf("upserting vote: %w", err)
	}
	s.logger.Debug("vote recorded", "poll_id", v.PollID, "voter_id", v.VoterID, "option", v.OptionIndex)
	return nil
}

// CountDistinctVoters returns the number of distinct voters in a poll.
func (s *SQLiteStore) CountDistinctVoters(ctx context.Context, pollID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT voter_id) FROM poll_votes WHERE poll_id = ?`, pollID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting voters: %w", err)
	}
	return n, nil
}

// VoteCounts returns the vote count per option index.
// Options with no votes are absent from the map.
func (s *SQLiteStore) VoteCounts(ctx context.Context, pollID string) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT option_index, COUNT(*) FROM poll_votes WHERE poll_id = ? GROUP BY option_index`, pollID)
	if err != nil {
		return nil, fmt.Errorf("querying vote counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var idx, n int
		if err := rows.Scan(&idx, &n); err != nil {
			return nil, fmt.Errorf("scanning vote count: %w", err)
		}
		counts[idx] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vote counts: %w", err)
	}
	return counts, nil
}

// ListVotes returns all votes for a poll in voting order.
func (s *SQLiteStore) ListVotes(ctx context.Context, pollID string) ([]*Vote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT poll_id, voter_id, option_index, display_name, voted_at FROM poll_votes WHERE poll_id = ? ORDER BY voted_at`, pollID)
	if err != nil {
		return nil, fmt.Errorf("querying votes: %w", err)
	}
	defer rows.Close()

	var votes []*Vote
	for rows.Next() {
		var v Vote
		var votedAt string
		if err := rows.Scan(&v.PollID, &v.VoterID, &v.OptionIndex, &v.DisplayName, &votedAt); err != nil {
			return nil, fmt.Errorf("scanning vote row: %w", err)
		}
		v.VotedAt = parseTime(votedAt)
		votes = append(votes, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vote rows: %w", err)
	}
	return votes, nil
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func emptyAsList(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
