// Package store persists per-user study state: progress rows, badges, study
// sessions, the uploaded curriculum, and user accounts.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

const dbTimeout = 5 * time.Second

// ProgressRecord is the completion flag of one subtopic for one user.
type ProgressRecord struct {
	UserID    string    `json:"user_id"`
	Module    string    `json:"module"`
	Chapter   string    `json:"chapter"`
	Subtopic  string    `json:"subtopic"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BadgeRecord is an earned badge.
type BadgeRecord struct {
	UserID   string    `json:"user_id"`
	Name     string    `json:"badge_name"`
	EarnedAt time.Time `json:"earned_at"`
}

// StudySession is one logged block of study time.
type StudySession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Date      time.Time `json:"date"`
	Hours     float64   `json:"hours"`
	CreatedAt time.Time `json:"created_at"`
}

// CurriculumBlob is the raw uploaded curriculum file.
type CurriculumBlob struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Data      []byte    `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a local account.
type User struct {
	ID                   string    `json:"id"`
	Email                string    `json:"email"`
	PasswordHash         string    `json:"-"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
	CreatedAt            time.Time `json:"created_at"`
}

// Store is the persistence collaborator used by the tracker.
//
// SetProgress is an upsert: concurrent writers to the same subtopic resolve as
// last write wins. SaveBadge keeps the first EarnedAt.
type Store interface {
	ListProgress(ctx context.Context, userID string) ([]ProgressRecord, error)
	SetProgress(ctx context.Context, rec ProgressRecord) error
	DeleteProgress(ctx context.Context, userID string) error

	ListBadges(ctx context.Context, userID string) ([]BadgeRecord, error)
	SaveBadge(ctx context.Context, rec BadgeRecord) error
	DeleteBadges(ctx context.Context, userID string) error

	ListSessions(ctx context.Context, userID string) ([]StudySession, error)
	AddSession(ctx context.Context, s StudySession) (StudySession, error)
	DeleteSessions(ctx context.Context, userID string) error

	GetCurriculum(ctx context.Context, userID string) (CurriculumBlob, error)
	SetCurriculum(ctx context.Context, blob CurriculumBlob) error
	DeleteCurriculum(ctx context.Context, userID string) error

	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	SetNotifications(ctx context.Context, userID string, enabled bool) error
}

type progressKey struct {
	userID, module, chapter, subtopic string
}

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	progress  map[progressKey]ProgressRecord
	badges    map[string]map[string]BadgeRecord
	sessions  map[string][]StudySession
	curricula map[string]CurriculumBlob
	users     map[string]User
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		progress:  make(map[progressKey]ProgressRecord),
		badges:    make(map[string]map[string]BadgeRecord),
		sessions:  make(map[string][]StudySession),
		curricula: make(map[string]CurriculumBlob),
		users:     make(map[string]User),
		now:       time.Now,
	}
}

func (s *MemoryStore) ListProgress(_ context.Context, userID string) ([]ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ProgressRecord
	for k, rec := range s.progress {
		if k.userID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetProgress(_ context.Context, rec ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := progressKey{rec.UserID, rec.Module, rec.Chapter, rec.Subtopic}
	now := s.now()
	if existing, ok := s.progress[k]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.progress[k] = rec
	return nil
}

func (s *MemoryStore) DeleteProgress(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.progress {
		if k.userID == userID {
			delete(s.progress, k)
		}
	}
	return nil
}

func (s *MemoryStore) ListBadges(_ context.Context, userID string) ([]BadgeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BadgeRecord, 0, len(s.badges[userID]))
	for _, b := range s.badges[userID] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EarnedAt.Before(out[j].EarnedAt) })
	return out, nil
}

func (s *MemoryStore) SaveBadge(_ context.Context, rec BadgeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.badges[rec.UserID]
	if !ok {
		held = make(map[string]BadgeRecord)
		s.badges[rec.UserID] = held
	}
	if _, ok := held[rec.Name]; ok {
		return nil
	}
	if rec.EarnedAt.IsZero() {
		rec.EarnedAt = s.now()
	}
	held[rec.Name] = rec
	return nil
}

func (s *MemoryStore) DeleteBadges(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.badges, userID)
	return nil
}

func (s *MemoryStore) ListSessions(_ context.Context, userID string) ([]StudySession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StudySession{}, s.sessions[userID]...), nil
}

func (s *MemoryStore) AddSession(_ context.Context, sess StudySession) (StudySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.ID = uuid.NewString()
	sess.CreatedAt = s.now()
	if sess.Date.IsZero() {
		sess.Date = sess.CreatedAt
	}
	s.sessions[sess.UserID] = append(s.sessions[sess.UserID], sess)
	return sess, nil
}

func (s *MemoryStore) DeleteSessions(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

func (s *MemoryStore) GetCurriculum(_ context.Context, userID string) (CurriculumBlob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.curricula[userID]
	if !ok {
		return CurriculumBlob{}, ErrNotFound
	}
	blob.Data = append([]byte(nil), blob.Data...)
	return blob, nil
}

func (s *MemoryStore) SetCurriculum(_ context.Context, blob CurriculumBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob.Data = append([]byte(nil), blob.Data...)
	blob.UpdatedAt = s.now()
	s.curricula[blob.UserID] = blob
	return nil
}

func (s *MemoryStore) DeleteCurriculum(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.curricula, userID)
	return nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return User{}, ErrConflict
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = s.now()
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) SetNotifications(_ context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.NotificationsEnabled = enabled
	s.users[userID] = u
	return nil
}
