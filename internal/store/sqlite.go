package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteSchema mirrors PostgresSchema for single-file deployments.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL COLLATE NOCASE UNIQUE,
    password_hash TEXT NOT NULL,
    notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS progress (
    user_id TEXT NOT NULL,
    module TEXT NOT NULL,
    chapter TEXT NOT NULL,
    subtopic TEXT NOT NULL,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (user_id, module, chapter, subtopic)
);

CREATE TABLE IF NOT EXISTS badges (
    user_id TEXT NOT NULL,
    badge_name TEXT NOT NULL,
    earned_at DATETIME NOT NULL,
    PRIMARY KEY (user_id, badge_name)
);

CREATE TABLE IF NOT EXISTS study_sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    date DATETIME NOT NULL,
    hours REAL NOT NULL,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS study_sessions_user_idx ON study_sessions (user_id);

CREATE TABLE IF NOT EXISTS curricula (
    user_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    data BLOB NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    data TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL
);
`

// SQLiteStore is a Store over a database/sql handle opened with the modernc
// "sqlite" driver.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore applies the schema and returns a store over db.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) ListProgress(ctx context.Context, userID string) ([]ProgressRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, module, chapter, subtopic, completed, created_at, updated_at
		FROM progress WHERE user_id = ?
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	var out []ProgressRecord
	for rows.Next() {
		var rec ProgressRecord
		if err := rows.Scan(&rec.UserID, &rec.Module, &rec.Chapter, &rec.Subtopic, &rec.Completed, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SetProgress(ctx context.Context, rec ProgressRecord) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO progress (user_id, module, chapter, subtopic, completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, module, chapter, subtopic)
		DO UPDATE SET completed = excluded.completed, updated_at = excluded.updated_at
	`, rec.UserID, rec.Module, rec.Chapter, rec.Subtopic, rec.Completed, now, now)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteProgress(ctx context.Context, userID string) error {
	return s.deleteByUser(ctx, "progress", userID)
}

func (s *SQLiteStore) ListBadges(ctx context.Context, userID string) ([]BadgeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, badge_name, earned_at
		FROM badges WHERE user_id = ?
		ORDER BY earned_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query badges: %w", err)
	}
	defer rows.Close()

	var out []BadgeRecord
	for rows.Next() {
		var rec BadgeRecord
		if err := rows.Scan(&rec.UserID, &rec.Name, &rec.EarnedAt); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate badges: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SaveBadge(ctx context.Context, rec BadgeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	earnedAt := rec.EarnedAt
	if earnedAt.IsZero() {
		earnedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO badges (user_id, badge_name, earned_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, badge_name) DO NOTHING
	`, rec.UserID, rec.Name, earnedAt)
	if err != nil {
		return fmt.Errorf("insert badge: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteBadges(ctx context.Context, userID string) error {
	return s.deleteByUser(ctx, "badges", userID)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]StudySession, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, date, hours, created_at
		FROM study_sessions WHERE user_id = ?
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []StudySession
	for rows.Next() {
		var sess StudySession
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Date, &sess.Hours, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) AddSession(ctx context.Context, sess StudySession) (StudySession, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	sess.ID = uuid.NewString()
	sess.CreatedAt = s.now()
	if sess.Date.IsZero() {
		sess.Date = sess.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO study_sessions (id, user_id, date, hours, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, sess.Date.UTC(), sess.Hours, sess.CreatedAt)
	if err != nil {
		return StudySession{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) DeleteSessions(ctx context.Context, userID string) error {
	return s.deleteByUser(ctx, "study_sessions", userID)
}

func (s *SQLiteStore) GetCurriculum(ctx context.Context, userID string) (CurriculumBlob, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	blob := CurriculumBlob{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, data, updated_at FROM curricula WHERE user_id = ?`, userID,
	).Scan(&blob.Name, &blob.Data, &blob.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CurriculumBlob{}, ErrNotFound
	}
	if err != nil {
		return CurriculumBlob{}, fmt.Errorf("get curriculum: %w", err)
	}
	return blob, nil
}

func (s *SQLiteStore) SetCurriculum(ctx context.Context, blob CurriculumBlob) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO curricula (user_id, name, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id)
		DO UPDATE SET name = excluded.name, data = excluded.data, updated_at = excluded.updated_at
	`, blob.UserID, blob.Name, blob.Data, s.now())
	if err != nil {
		return fmt.Errorf("upsert curriculum: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteCurriculum(ctx context.Context, userID string) error {
	return s.deleteByUser(ctx, "curricula", userID)
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u User) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	u.ID = uuid.NewString()
	u.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, notifications_enabled, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.PasswordHash, u.NotificationsEnabled, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `WHERE email = ?`, strings.TrimSpace(email))
}

func (s *SQLiteStore) SetNotifications(ctx context.Context, userID string, enabled bool) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE users SET notifications_enabled = ? WHERE id = ?`, enabled, userID)
	if err != nil {
		return fmt.Errorf("set notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set notifications: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, notifications_enabled, created_at FROM users `+where, arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.NotificationsEnabled, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) deleteByUser(ctx context.Context, table, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
