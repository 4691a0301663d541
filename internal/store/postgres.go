package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the tables used by PostgresStore and the event logger.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    email TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_idx ON users (LOWER(email));

CREATE TABLE IF NOT EXISTS progress (
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    module TEXT NOT NULL,
    chapter TEXT NOT NULL,
    subtopic TEXT NOT NULL,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, module, chapter, subtopic)
);

CREATE TABLE IF NOT EXISTS badges (
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    badge_name TEXT NOT NULL,
    earned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, badge_name)
);

CREATE TABLE IF NOT EXISTS study_sessions (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    date TIMESTAMPTZ NOT NULL,
    hours DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS study_sessions_user_idx ON study_sessions (user_id);

CREATE TABLE IF NOT EXISTS curricula (
    user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    data BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS events (
    id BIGSERIAL PRIMARY KEY,
    user_id UUID NOT NULL,
    event_type TEXT NOT NULL,
    data JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStore is a PostgreSQL-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over pool and applies the schema.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	if _, err := pool.Exec(ctx, PostgresSchema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) ListProgress(ctx context.Context, userID string) ([]ProgressRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT user_id::text, module, chapter, subtopic, completed, created_at, updated_at
		 FROM progress
		 WHERE user_id = $1::uuid
		 ORDER BY created_at ASC`,
		userID,
	)
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

func (s *PostgresStore) SetProgress(ctx context.Context, rec ProgressRecord) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO progress (user_id, module, chapter, subtopic, completed, created_at, updated_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (user_id, module, chapter, subtopic)
		 DO UPDATE SET completed = EXCLUDED.completed, updated_at = NOW()`,
		rec.UserID, rec.Module, rec.Chapter, rec.Subtopic, rec.Completed,
	)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteProgress(ctx context.Context, userID string) error {
	return s.deleteByUser(ctx, "progress", userID)
}

func (s *PostgresStore) ListBadges(ctx context.Context, userID string) ([]BadgeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT user_id::text, badge_name, earned_at
		 FROM badges
		 WHERE user_id = $1::uuid
		 ORDER BY earned_at ASC`,
		userID,
	)
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

func (s *PostgresStore) SaveBadge(ctx context.Context, rec BadgeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	earnedAt := rec.EarnedAt
	if earnedAt.IsZero() {
		earnedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO badges (user_id, badge_name, earned_at)
		 VALUES ($1::uuid, $2, $3)
		 ON CONFLICT (user_id, badge_name) DO NOTHING`,
		rec.UserID, rec.Name, earnedAt,
	)
	if err != nil {
		return fmt.Errorf("insert badge: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteBadges(ctx context.Context, userID string) error {
	return s.deleteByUser(ctx, "badges", userID)
}

func (s *PostgresStore) ListSessions(ctx context.Context, userID string) ([]StudySession, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id::text, user_id::text, date, hours, created_at
		 FROM study_sessions
		 WHERE user_id = $1::uuid
		 ORDER BY created_at ASC`,
		userID,
	)
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

func (s *PostgresStore) AddSession(ctx context.Context, sess StudySession) (StudySession, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	sess.ID = uuid.NewString()
	if sess.Date.IsZero() {
		sess.Date = time.Now()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO study_sessions (id, user_id, date, hours)
		 VALUES ($1::uuid, $2::uuid, $3, $4)
		 RETURNING created_at`,
		sess.ID, sess.UserID, sess.Date, sess.Hours,
	).Scan(&sess.CreatedAt)
	if err != nil {
		return StudySession{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) DeleteSessions(ctx context.Context, userID string) error {
	return s.deleteByUser(ctx, "study_sessions", userID)
}

func (s *PostgresStore) GetCurriculum(ctx context.Context, userID string) (CurriculumBlob, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	blob := CurriculumBlob{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT name, data, updated_at FROM curricula WHERE user_id = $1::uuid`,
		userID,
	).Scan(&blob.Name, &blob.Data, &blob.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CurriculumBlob{}, ErrNotFound
	}
	if err != nil {
		return CurriculumBlob{}, fmt.Errorf("get curriculum: %w", err)
	}
	return blob, nil
}

func (s *PostgresStore) SetCurriculum(ctx context.Context, blob CurriculumBlob) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO curricula (user_id, name, data, updated_at)
		 VALUES ($1::uuid, $2, $3, NOW())
		 ON CONFLICT (user_id)
		 DO UPDATE SET name = EXCLUDED.name, data = EXCLUDED.data, updated_at = NOW()`,
		blob.UserID, blob.Name, blob.Data,
	)
	if err != nil {
		return fmt.Errorf("upsert curriculum: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCurriculum(ctx context.Context, userID string) error {
	return s.deleteByUser(ctx, "curricula", userID)
}

func (s *PostgresStore) CreateUser(ctx context.Context, u User) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	u.ID = uuid.NewString()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, password_hash, notifications_enabled)
		 VALUES ($1::uuid, $2, $3, $4)
		 RETURNING created_at`,
		u.ID, u.Email, u.PasswordHash, u.NotificationsEnabled,
	).Scan(&u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrNotFound
	}
	return s.getUser(ctx, `WHERE id = $1::uuid`, id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `WHERE LOWER(email) = $1`, strings.ToLower(email))
}

func (s *PostgresStore) SetNotifications(ctx context.Context, userID string, enabled bool) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := s.pool.Exec(ctx,
		`UPDATE users SET notifications_enabled = $2 WHERE id = $1::uuid`,
		userID, enabled,
	)
	if err != nil {
		return fmt.Errorf("set notifications: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, email, password_hash, notifications_enabled, created_at FROM users `+where,
		arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.NotificationsEnabled, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// deleteByUser removes every row of table owned by userID. table is never user input.
func (s *PostgresStore) deleteByUser(ctx context.Context, table, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE user_id = $1::uuid`, userID); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}
