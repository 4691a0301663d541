package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const eventTimeout = 5 * time.Second

// Event types.
const (
	EventCurriculumUploaded = "curriculum_uploaded"
	EventSubtopicToggled    = "subtopic_toggled"
	EventBadgeAwarded       = "badge_awarded"
	EventSessionLogged      = "session_logged"
	EventScheduleGenerated  = "schedule_generated"
	EventProgressReset      = "progress_reset"
)

// Event is an analytics record of a user action.
type Event struct {
	UserID    string
	EventType string
	Data      map[string]any
	CreatedAt time.Time
}

// EventLogger defines event logging behavior.
type EventLogger interface {
	LogEvent(ctx context.Context, event Event) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(context.Context, Event) error {
	return nil
}

// MemoryEventLogger stores events in memory for tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []Event{},
	}
}

func (l *MemoryEventLogger) LogEvent(_ context.Context, event Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// OfType returns logged events with the given type.
func (l *MemoryEventLogger) OfType(eventType string) []Event {
	var out []Event
	for _, e := range l.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// PostgresEventLogger inserts events into the events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	data, createdAt, err := prepareEvent(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	if _, err := l.pool.Exec(ctx,
		`INSERT INTO events (user_id, event_type, data, created_at)
		 VALUES ($1::uuid, $2, $3::jsonb, $4)`,
		event.UserID,
		event.EventType,
		string(data),
		createdAt,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged", "type", event.EventType, "user_id", event.UserID)
	return nil
}

// SQLEventLogger inserts events into the events table of a database/sql handle.
type SQLEventLogger struct {
	db *sql.DB
}

func NewSQLEventLogger(db *sql.DB) *SQLEventLogger {
	return &SQLEventLogger{db: db}
}

func (l *SQLEventLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("event logger db is nil")
	}
	data, createdAt, err := prepareEvent(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO events (user_id, event_type, data, created_at) VALUES (?, ?, ?, ?)`,
		event.UserID, event.EventType, string(data), createdAt,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged", "type", event.EventType, "user_id", event.UserID)
	return nil
}

func prepareEvent(event Event) ([]byte, time.Time, error) {
	if event.EventType == "" {
		return nil, time.Time{}, fmt.Errorf("event_type is required")
	}
	if event.UserID == "" {
		return nil, time.Time{}, fmt.Errorf("user_id is required")
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return data, createdAt, nil
}
