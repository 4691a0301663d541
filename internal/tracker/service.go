// Package tracker is the application layer of the study dashboard. It loads a
// user's state from the store, applies actions to it, and drives the pure
// curriculum, progress, badge and schedule packages.
package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/p-n-ai/pai-study/internal/badge"
	"github.com/p-n-ai/pai-study/internal/curriculum"
	"github.com/p-n-ai/pai-study/internal/notify"
	"github.com/p-n-ai/pai-study/internal/platform/cache"
	"github.com/p-n-ai/pai-study/internal/progress"
	"github.com/p-n-ai/pai-study/internal/schedule"
	"github.com/p-n-ai/pai-study/internal/store"
)

const (
	// DefaultSessionHours is logged when a session is recorded without hours.
	DefaultSessionHours = 1
	maxSessionHours     = 24
	defaultScheduleTTL  = 30 * 24 * time.Hour
)

var (
	ErrLocked          = errors.New("subtopic is locked")
	ErrUnknownSubtopic = errors.New("subtopic not in curriculum")
	ErrHasDependents   = errors.New("a later subtopic in the chapter is completed")
	ErrInvalidHours    = errors.New("session hours must be at most 24")
	ErrNoSchedule      = errors.New("no schedule generated")
)

// Notifier delivers user notifications. *notify.Gateway satisfies it.
type Notifier interface {
	Send(ctx context.Context, msg notify.Message) error
}

// Config holds the collaborators of a Service.
type Config struct {
	Store store.Store
	// Notifier delivers badge notifications outside the app (email, push). It
	// is used only for users with notifications enabled and an email address.
	Notifier Notifier
	// Live delivers in-app badge events to connected dashboards of every user.
	Live Notifier

	Events      EventLogger
	Cache       cache.JSONCache
	ScheduleTTL time.Duration
	Now         func() time.Time
	// Intn picks quote indexes; defaults to math/rand/v2.
	Intn func(n int) int
}

// Service applies user actions to study state.
type Service struct {
	store    store.Store
	notifier Notifier
	live     Notifier
	events   EventLogger
	cache    cache.JSONCache
	ttl      time.Duration
	now      func() time.Time
	intn     func(n int) int
}

// NewService creates a Service, filling unset collaborators with in-memory defaults.
func NewService(cfg Config) *Service {
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	if cfg.Events == nil {
		cfg.Events = NopEventLogger{}
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory()
	}
	if cfg.ScheduleTTL <= 0 {
		cfg.ScheduleTTL = defaultScheduleTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Intn == nil {
		cfg.Intn = rand.IntN
	}

	return &Service{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		live:     cfg.Live,
		events:   cfg.Events,
		cache:    cfg.Cache,
		ttl:      cfg.ScheduleTTL,
		now:      cfg.Now,
		intn:     cfg.Intn,
	}
}

// Load reads the full state of a user. Read failures are logged and recorded
// in State.Warnings; the affected part of the state stays empty.
func (s *Service) Load(ctx context.Context, userID string) *State {
	st := NewState(userID)

	if u, err := s.store.GetUser(ctx, userID); err != nil {
		st.warn("could not load account settings", err)
	} else {
		st.Email = u.Email
		st.NotificationsEnabled = u.NotificationsEnabled
	}

	blob, err := s.store.GetCurriculum(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		st.warn("could not load curriculum", err)
	default:
		st.CurriculumName = blob.Name
		c, err := curriculum.Parse(blob.Name, bytes.NewReader(blob.Data))
		if err != nil {
			st.warn("stored curriculum is invalid, using empty curriculum", err)
		}
		st.Curriculum = c
	}

	if recs, err := s.store.ListProgress(ctx, userID); err != nil {
		st.warn("could not load progress", err)
	} else {
		for _, r := range recs {
			if r.Completed {
				st.Progress[progress.Key{Module: r.Module, Chapter: r.Chapter, Subtopic: r.Subtopic}] = true
			}
		}
	}

	if recs, err := s.store.ListBadges(ctx, userID); err != nil {
		st.warn("could not load badges", err)
	} else {
		for _, r := range recs {
			b, err := badge.Parse(r.Name)
			if err != nil {
				slog.Warn("ignoring stored badge", "user_id", userID, "error", err)
				continue
			}
			st.Badges.Add(b)
			st.EarnedAt[b] = r.EarnedAt
		}
	}

	if sessions, err := s.store.ListSessions(ctx, userID); err != nil {
		st.warn("could not load study sessions", err)
	} else {
		for _, sess := range sessions {
			st.SessionHours += sess.Hours
		}
		st.Sessions = len(sessions)
	}

	return st
}

func (st *State) warn(msg string, err error) {
	slog.Warn(msg, "user_id", st.UserID, "error", err)
	st.Warnings = append(st.Warnings, fmt.Sprintf("%s: %v", msg, err))
}

// UploadCurriculum parses data and, when valid, stores it as the user's
// curriculum. An invalid file leaves the stored curriculum untouched and
// returns the *curriculum.ParseError.
func (s *Service) UploadCurriculum(ctx context.Context, st *State, name string, data []byte) (curriculum.Curriculum, error) {
	c, err := curriculum.Parse(name, bytes.NewReader(data))
	if err != nil {
		return curriculum.Curriculum{}, err
	}

	if err := s.store.SetCurriculum(ctx, store.CurriculumBlob{UserID: st.UserID, Name: name, Data: data}); err != nil {
		return curriculum.Curriculum{}, fmt.Errorf("saving curriculum: %w", err)
	}
	st.CurriculumName = name
	st.Curriculum = c

	s.invalidateSchedule(ctx, st.UserID)
	s.logEvent(ctx, st.UserID, EventCurriculumUploaded, map[string]any{
		"name":      name,
		"modules":   len(c.Modules),
		"subtopics": c.TotalSubtopics(),
	})
	slog.Info("curriculum uploaded", "user_id", st.UserID, "name", name, "subtopics", c.TotalSubtopics())
	return c, nil
}

// ToggleResult describes the outcome of a Toggle.
type ToggleResult struct {
	Key       progress.Key     `json:"key"`
	Completed bool             `json:"completed"`
	Changed   bool             `json:"changed"`
	Message   string           `json:"message"`
	NewBadges []badge.Badge    `json:"new_badges"`
	Summary   progress.Summary `json:"summary"`
}

// Toggle sets the completion flag of one subtopic. Completing requires the
// subtopic to be unlocked; un-completing requires the next subtopic of the
// chapter to be incomplete, so progress within a chapter stays a prefix.
// The state is only updated after the store accepts the write.
func (s *Service) Toggle(ctx context.Context, st *State, key progress.Key, completed bool) (ToggleResult, error) {
	idx := st.Curriculum.SubtopicIndex(key.Module, key.Chapter, key.Subtopic)
	if idx < 0 {
		return ToggleResult{}, fmt.Errorf("%s: %w", key, ErrUnknownSubtopic)
	}

	res := ToggleResult{Key: key, Completed: completed, NewBadges: []badge.Badge{}}
	if st.Progress.Completed(key) == completed {
		res.Summary = st.Stats()
		res.Message = toggleMessage(key.Subtopic, completed)
		return res, nil
	}

	if completed && !progress.IsUnlocked(st.Curriculum, st.Progress, key.Module, key.Chapter, idx) {
		return ToggleResult{}, fmt.Errorf("%s: %w", key, ErrLocked)
	}
	if !completed {
		ch, _ := st.Curriculum.Chapter(key.Module, key.Chapter)
		if idx+1 < len(ch.Subtopics) && st.Progress.Completed(progress.Key{Module: key.Module, Chapter: key.Chapter, Subtopic: ch.Subtopics[idx+1]}) {
			return ToggleResult{}, fmt.Errorf("%s: %w", key, ErrHasDependents)
		}
	}

	if err := s.store.SetProgress(ctx, store.ProgressRecord{
		UserID:    st.UserID,
		Module:    key.Module,
		Chapter:   key.Chapter,
		Subtopic:  key.Subtopic,
		Completed: completed,
	}); err != nil {
		return ToggleResult{}, fmt.Errorf("saving progress: %w", err)
	}

	if completed {
		st.Progress[key] = true
	} else {
		delete(st.Progress, key)
	}

	res.Changed = true
	res.Message = toggleMessage(key.Subtopic, completed)
	s.logEvent(ctx, st.UserID, EventSubtopicToggled, map[string]any{
		"module":    key.Module,
		"chapter":   key.Chapter,
		"subtopic":  key.Subtopic,
		"completed": completed,
	})

	if completed {
		res.NewBadges = s.awardBadges(ctx, st)
	}
	res.Summary = st.Stats()
	return res, nil
}

func toggleMessage(subtopic string, completed bool) string {
	if completed {
		return fmt.Sprintf("🎉 Subtopic '%s' completed!", subtopic)
	}
	return fmt.Sprintf("Subtopic '%s' marked incomplete.", subtopic)
}

// SessionResult describes a logged study session.
type SessionResult struct {
	Session    store.StudySession `json:"session"`
	Streak     int                `json:"streak"`
	StudyHours float64            `json:"study_hours"`
	Message    string             `json:"message"`
	NewBadges  []badge.Badge      `json:"new_badges"`
}

// LogSession records a study session of the given hours (DefaultSessionHours
// when hours <= 0) and re-evaluates badges.
func (s *Service) LogSession(ctx context.Context, st *State, hours float64) (SessionResult, error) {
	if hours <= 0 {
		hours = DefaultSessionHours
	}
	if hours > maxSessionHours {
		return SessionResult{}, ErrInvalidHours
	}

	sess, err := s.store.AddSession(ctx, store.StudySession{UserID: st.UserID, Date: s.now(), Hours: hours})
	if err != nil {
		return SessionResult{}, fmt.Errorf("saving study session: %w", err)
	}
	st.SessionHours += hours
	st.Sessions++

	s.logEvent(ctx, st.UserID, EventSessionLogged, map[string]any{"hours": hours, "streak": st.Streak()})

	return SessionResult{
		Session:    sess,
		Streak:     st.Streak(),
		StudyHours: st.StudyHours(),
		Message:    fmt.Sprintf("Study session logged! Streak: %d", st.Streak()),
		NewBadges:  s.awardBadges(ctx, st),
	}, nil
}

// awardBadges adds newly met badges to the state, then persists and announces
// each one. Persistence and notification failures are logged only.
func (s *Service) awardBadges(ctx context.Context, st *State) []badge.Badge {
	earned := badge.Evaluate(st.BadgeInput(), st.Badges)
	if len(earned) == 0 {
		return []badge.Badge{}
	}

	now := s.now()
	for _, b := range earned {
		st.Badges.Add(b)
		st.EarnedAt[b] = now

		if err := s.store.SaveBadge(ctx, store.BadgeRecord{UserID: st.UserID, Name: string(b), EarnedAt: now}); err != nil {
			slog.Warn("failed to save badge", "user_id", st.UserID, "badge", b, "error", err)
		}
		s.logEvent(ctx, st.UserID, EventBadgeAwarded, map[string]any{"badge": string(b)})
		slog.Info("badge awarded", "user_id", st.UserID, "badge", b)

		msg := notify.BadgeMessage(st.UserID, st.Email, b)
		if s.live != nil {
			if err := s.live.Send(ctx, msg); err != nil {
				slog.Warn("live badge event failed", "user_id", st.UserID, "badge", b, "error", err)
			}
		}
		if s.notifier == nil || !st.NotificationsEnabled || st.Email == "" {
			continue
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			slog.Warn("badge notification failed", "user_id", st.UserID, "badge", b, "error", err)
		}
	}
	return earned
}

// SavedSchedule is the last generated schedule of a user.
type SavedSchedule struct {
	Request     schedule.Request `json:"request"`
	GeneratedAt time.Time        `json:"generated_at"`
	TotalHours  int              `json:"total_hours"`
	Entries     []schedule.Entry `json:"entries"`
}

func scheduleKey(userID string) string {
	return "schedule:" + userID
}

// GenerateSchedule builds a fresh schedule from the current state and
// replaces the user's saved schedule.
func (s *Service) GenerateSchedule(ctx context.Context, st *State, req schedule.Request) (SavedSchedule, error) {
	now := s.now()
	entries, err := schedule.Generate(st.Curriculum, st.Progress, req, now)
	if err != nil {
		return SavedSchedule{}, err
	}

	saved := SavedSchedule{
		Request:     req,
		GeneratedAt: now,
		TotalHours:  schedule.TotalHours(entries),
		Entries:     entries,
	}
	if err := s.cache.SetJSON(ctx, scheduleKey(st.UserID), saved, s.ttl); err != nil {
		slog.Warn("failed to cache schedule", "user_id", st.UserID, "error", err)
	}

	s.logEvent(ctx, st.UserID, EventScheduleGenerated, map[string]any{
		"sessions":    len(entries),
		"total_hours": saved.TotalHours,
	})
	return saved, nil
}

// Schedule returns the last generated schedule, or ErrNoSchedule.
func (s *Service) Schedule(ctx context.Context, userID string) (SavedSchedule, error) {
	var saved SavedSchedule
	ok, err := s.cache.GetJSON(ctx, scheduleKey(userID), &saved)
	if err != nil {
		return SavedSchedule{}, fmt.Errorf("loading schedule: %w", err)
	}
	if !ok {
		return SavedSchedule{}, ErrNoSchedule
	}
	return saved, nil
}

// ExportCalendar renders the last generated schedule as an iCalendar document.
func (s *Service) ExportCalendar(ctx context.Context, userID string) (string, error) {
	saved, err := s.Schedule(ctx, userID)
	if err != nil {
		return "", err
	}
	return schedule.ExportICS(saved.Entries, s.now()), nil
}

func (s *Service) invalidateSchedule(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, scheduleKey(userID)); err != nil {
		slog.Warn("failed to drop cached schedule", "user_id", userID, "error", err)
	}
}

// Reset deletes all study data of the user. Each part of the state is cleared
// only when its delete succeeded; failures are joined into the returned error.
func (s *Service) Reset(ctx context.Context, st *State) error {
	var errs []error

	if err := s.store.DeleteProgress(ctx, st.UserID); err != nil {
		errs = append(errs, fmt.Errorf("deleting progress: %w", err))
	} else {
		st.Progress = progress.Map{}
	}
	if err := s.store.DeleteBadges(ctx, st.UserID); err != nil {
		errs = append(errs, fmt.Errorf("deleting badges: %w", err))
	} else {
		st.Badges = badge.Set{}
		st.EarnedAt = map[badge.Badge]time.Time{}
	}
	if err := s.store.DeleteSessions(ctx, st.UserID); err != nil {
		errs = append(errs, fmt.Errorf("deleting sessions: %w", err))
	} else {
		st.SessionHours = 0
		st.Sessions = 0
	}
	if err := s.store.DeleteCurriculum(ctx, st.UserID); err != nil {
		errs = append(errs, fmt.Errorf("deleting curriculum: %w", err))
	} else {
		st.CurriculumName = ""
		st.Curriculum = curriculum.Curriculum{}
	}
	if err := s.cache.Delete(ctx, scheduleKey(st.UserID)); err != nil {
		errs = append(errs, fmt.Errorf("deleting schedule: %w", err))
	}

	s.logEvent(ctx, st.UserID, EventProgressReset, map[string]any{"failed": len(errs)})
	slog.Info("study data reset", "user_id", st.UserID, "failed", len(errs))
	return errors.Join(errs...)
}

// SetNotifications enables or disables badge notifications for the user.
func (s *Service) SetNotifications(ctx context.Context, st *State, enabled bool) error {
	if err := s.store.SetNotifications(ctx, st.UserID, enabled); err != nil {
		return fmt.Errorf("saving notification setting: %w", err)
	}
	st.NotificationsEnabled = enabled
	return nil
}

func (s *Service) logEvent(ctx context.Context, userID, eventType string, data map[string]any) {
	if err := s.events.LogEvent(ctx, Event{
		UserID:    userID,
		EventType: eventType,
		Data:      data,
		CreatedAt: s.now(),
	}); err != nil {
		slog.Warn("failed to log event", "type", eventType, "user_id", userID, "error", err)
	}
}
