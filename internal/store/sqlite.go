package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/answerbook/internal/domain"
	"github.com/ashureev/answerbook/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY,
		text TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '',
		tone TEXT NOT NULL DEFAULT '',
		weight REAL NOT NULL DEFAULT 1 CHECK (weight >= 0),
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS astro_hints (
		id INTEGER PRIMARY KEY,
		zodiac_sign TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 1 CHECK (weight >= 0),
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_astro_hints_sign ON astro_hints(zodiac_sign);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON sessions(last_seen_at);

	CREATE TABLE IF NOT EXISTS session_answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		answer_id INTEGER NOT NULL,
		zodiac_sign TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_answers_session ON session_answers(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_session_answers_created ON session_answers(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SeedCatalog upserts answers and hints in one transaction.
func (s *SQLiteStore) SeedCatalog(ctx context.Context, answers []domain.Answer, hints []domain.AstroHint) (SeedResult, error) {
	var res SeedResult
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin seed: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("seed rollback failed", "error", rbErr)
		}
	}()

	now := time.Now().Unix()
	answerStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO answers (id, text, tags, tone, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			tags = excluded.tags,
			tone = excluded.tone,
			weight = excluded.weight`)
	if err != nil {
		return res, fmt.Errorf("prepare answer seed: %w", err)
	}
	defer answerStmt.Close()

	for _, a := range answers {
		if _, err := answerStmt.ExecContext(ctx, a.ID, a.Text, strings.Join(a.Tags, ","), a.Tone, a.Weight, now); err != nil {
			return res, fmt.Errorf("seed answer %d: %w", a.ID, err)
		}
		res.Answers++
	}

	hintStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO astro_hints (id, zodiac_sign, category, text, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			zodiac_sign = excluded.zodiac_sign,
			category = excluded.category,
			text = excluded.text,
			weight = excluded.weight`)
	if err != nil {
		return res, fmt.Errorf("prepare hint seed: %w", err)
	}
	defer hintStmt.Close()

	for _, h := range hints {
		if _, err := hintStmt.ExecContext(ctx, h.ID, h.ZodiacSign, string(h.Category), h.Text, h.Weight, now); err != nil {
			return res, fmt.Errorf("seed hint %d: %w", h.ID, err)
		}
		res.Hints++
	}

	if err := tx.Commit(); err != nil {
		return SeedResult{}, fmt.Errorf("commit seed: %w", err)
	}
	return res, nil
}

// CountAnswers returns the number of stored answers.
func (s *SQLiteStore) CountAnswers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM answers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}
	return n, nil
}

// ListAnswers returns answers tagged with the category.
func (s *SQLiteStore) ListAnswers(ctx context.Context, category domain.Category) ([]domain.Answer, error) {
	query := `SELECT id, text, tags, tone, weight FROM answers`
	var args []any
	if category.Filters() {
		query += ` WHERE (',' || tags || ',') LIKE ?`
		args = append(args, "%,"+string(category)+",%")
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close answer rows", "error", closeErr)
		}
	}()

	var answers []domain.Answer
	for rows.Next() {
		var a domain.Answer
		var tags string
		if err := rows.Scan(&a.ID, &a.Text, &tags, &a.Tone, &a.Weight); err != nil {
			return nil, fmt.Errorf("scan answer row: %w", err)
		}
		a.Tags = splitTags(tags)
		answers = append(answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return answers, nil
}

// ListAstroHints returns every hint for a zodiac sign.
func (s *SQLiteStore) ListAstroHints(ctx context.Context, sign string) ([]domain.AstroHint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, zodiac_sign, category, text, weight
		FROM astro_hints WHERE zodiac_sign = ? ORDER BY id`, sign)
	if err != nil {
		return nil, fmt.Errorf("query astro hints: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close astro hint rows", "error", closeErr)
		}
	}()

	var hints []domain.AstroHint
	for rows.Next() {
		var h domain.AstroHint
		var category string
		if err := rows.Scan(&h.ID, &h.ZodiacSign, &category, &h.Text, &h.Weight); err != nil {
			return nil, fmt.Errorf("scan astro hint row: %w", err)
		}
		h.Category = domain.Category(category)
		hints = append(hints, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate astro hints: %w", err)
	}
	return hints, nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at, last_seen_at FROM sessions WHERE session_id = ?`, sessionID)

	var sess domain.Session
	var createdAt, lastSeen int64
	err := row.Scan(&sess.ID, &createdAt, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.LastSeenAt = time.Unix(lastSeen, 0)
	return &sess, nil
}

// TouchSession creates the session or bumps its last_seen_at.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `
	INSERT INTO sessions (session_id, created_at, last_seen_at)
	VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at`
	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "touch session", func() error {
		_, err := s.db.ExecContext(ctx, query, sessionID, at.Unix(), at.Unix())
		return err
	})
}

// RecordServed appends to the served-answer log.
// Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) RecordServed(ctx context.Context, served domain.ServedAnswer) error {
	query := `INSERT INTO session_answers (session_id, answer_id, zodiac_sign, created_at) VALUES (?, ?, ?, ?)`
	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "record served answer", func() error {
		_, err := s.db.ExecContext(ctx, query,
			served.SessionID, served.AnswerID, served.ZodiacSign, served.ServedAt.Unix())
		return err
	})
}

// RecentServed returns recently served answer ids, newest first.
func (s *SQLiteStore) RecentServed(ctx context.Context, sessionID string, since time.Time, limit int) ([]int64, error) {
	query := `
		SELECT answer_id FROM session_answers
		WHERE session_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC`
	args := []any{sessionID, since.Unix()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query served answers: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close served answer rows", "error", closeErr)
		}
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan served answer row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate served answers: %w", err)
	}
	return ids, nil
}

// DeleteServedBefore removes served-answer entries older than before.
func (s *SQLiteStore) DeleteServedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM session_answers WHERE created_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete served answers: %w", err)
	}
	return result.RowsAffected()
}

// DeleteSessionsBefore removes idle sessions and their served log.
func (s *SQLiteStore) DeleteSessionsBefore(ctx context.Context, before time.Time) (int64, error) {
	threshold := before.Unix()
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM session_answers WHERE session_id IN (
			SELECT session_id FROM sessions WHERE last_seen_at < ?
		)`, threshold); err != nil {
		return 0, fmt.Errorf("delete idle session answers: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	return result.RowsAffected()
}

func splitTags(tags string) []string {
	if tags == "" {
		return nil
	}
	parts := strings.Split(tags, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
