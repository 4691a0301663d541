package tracker_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/p-n-ai/pai-study/internal/badge"
	"github.com/p-n-ai/pai-study/internal/curriculum"
	"github.com/p-n-ai/pai-study/internal/notify"
	"github.com/p-n-ai/pai-study/internal/platform/cache"
	"github.com/p-n-ai/pai-study/internal/progress"
	"github.com/p-n-ai/pai-study/internal/schedule"
	"github.com/p-n-ai/pai-study/internal/store"
	"github.com/p-n-ai/pai-study/internal/tracker"
)

// wednesday is the fixed clock of these tests.
var wednesday = time.Date(2026, 10, 21, 9, 30, 0, 0, time.UTC)

const abcCSV = "Module,Chapter,Subtopic,Project,Deadline\nM1,C1,A,P1,\nM1,C1,B,P1,\nM1,C1,C,P1,\n"

// chapterCSV returns a single-chapter curriculum with n subtopics S0..Sn-1.
func chapterCSV(n int) []byte {
	var b strings.Builder
	b.WriteString("Module,Chapter,Subtopic,Project\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "M1,C1,S%d,P\n", i)
	}
	return []byte(b.String())
}

type fixture struct {
	store    *store.MemoryStore
	notifier *notify.MockChannel
	live     *notify.MockChannel
	events   *tracker.MemoryEventLogger
	svc      *tracker.Service
	user     store.User
}

func newFixture(t *testing.T, notificationsEnabled bool) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemoryStore(),
		notifier: &notify.MockChannel{},
		live:     &notify.MockChannel{},
		events:   tracker.NewMemoryEventLogger(),
	}
	u, err := f.store.CreateUser(context.Background(), store.User{
		Email:                "learner@example.com",
		NotificationsEnabled: notificationsEnabled,
	})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	f.user = u
	f.svc = tracker.NewService(tracker.Config{
		Store:    f.store,
		Notifier: f.notifier,
		Live:     f.live,
		Events:   f.events,
		Cache:    cache.NewMemory(),
		Now:      func() time.Time { return wednesday },
		Intn:     func(int) int { return 0 },
	})
	return f
}

func (f *fixture) upload(t *testing.T, name string, data []byte) *tracker.State {
	t.Helper()
	ctx := context.Background()
	st := f.svc.Load(ctx, f.user.ID)
	if _, err := f.svc.UploadCurriculum(ctx, st, name, data); err != nil {
		t.Fatalf("UploadCurriculum() error = %v", err)
	}
	return st
}

func key(s string) progress.Key {
	return progress.Key{Module: "M1", Chapter: "C1", Subtopic: s}
}

func TestToggle_UnlockFlow(t *testing.T) {
	f := newFixture(t, true)
	st := f.upload(t, "plan.csv", []byte(abcCSV))
	ctx := context.Background()

	if _, err := f.svc.Toggle(ctx, st, key("B"), true); !errors.Is(err, tracker.ErrLocked) {
		t.Fatalf("Toggle(B) error = %v, want ErrLocked", err)
	}

	res, err := f.svc.Toggle(ctx, st, key("A"), true)
	if err != nil {
		t.Fatalf("Toggle(A) error = %v", err)
	}
	if !res.Changed || res.Message != "🎉 Subtopic 'A' completed!" {
		t.Errorf("Toggle(A) = %+v", res)
	}
	if res.Summary.Completed != 1 || res.Summary.Total != 3 {
		t.Errorf("Summary = %+v, want 1/3", res.Summary)
	}

	if _, err := f.svc.Toggle(ctx, st, key("B"), true); err != nil {
		t.Fatalf("Toggle(B) after A error = %v", err)
	}
	if _, err := f.svc.Toggle(ctx, st, key("C"), true); err != nil {
		t.Fatalf("Toggle(C) after B error = %v", err)
	}

	// Reload from the store to check the writes landed.
	reloaded := f.svc.Load(ctx, f.user.ID)
	if got := reloaded.Stats(); got.Completed != 3 || got.Percent != 100 {
		t.Errorf("reloaded Stats() = %+v, want 3/3", got)
	}
}

func TestToggle_UncompleteRules(t *testing.T) {
	f := newFixture(t, false)
	st := f.upload(t, "plan.csv", []byte(abcCSV))
	ctx := context.Background()

	for _, s := range []string{"A", "B"} {
		if _, err := f.svc.Toggle(ctx, st, key(s), true); err != nil {
			t.Fatalf("Toggle(%s) error = %v", s, err)
		}
	}

	if _, err := f.svc.Toggle(ctx, st, key("A"), false); !errors.Is(err, tracker.ErrHasDependents) {
		t.Fatalf("un-complete A error = %v, want ErrHasDependents", err)
	}

	res, err := f.svc.Toggle(ctx, st, key("B"), false)
	if err != nil {
		t.Fatalf("un-complete B error = %v", err)
	}
	if res.Message != "Subtopic 'B' marked incomplete." {
		t.Errorf("Message = %q", res.Message)
	}
	if st.Progress.Completed(key("B")) {
		t.Error("B should be incomplete in state")
	}

	res, err = f.svc.Toggle(ctx, st, key("B"), false)
	if err != nil || res.Changed {
		t.Errorf("repeat un-complete = %+v, %v; want unchanged no error", res, err)
	}
}

func TestToggle_UnknownSubtopic(t *testing.T) {
	f := newFixture(t, false)
	st := f.upload(t, "plan.csv", []byte(abcCSV))

	_, err := f.svc.Toggle(context.Background(), st, key("Z"), true)
	if !errors.Is(err, tracker.ErrUnknownSubtopic) {
		t.Fatalf("Toggle(Z) error = %v, want ErrUnknownSubtopic", err)
	}
}

type failingStore struct {
	store.Store
	failWrites bool
	failReads  bool
	failBadges bool
}

var errStoreDown = errors.New("store down")

func (s *failingStore) SetProgress(ctx context.Context, rec store.ProgressRecord) error {
	if s.failWrites {
		return errStoreDown
	}
	return s.Store.SetProgress(ctx, rec)
}

func (s *failingStore) AddSession(ctx context.Context, sess store.StudySession) (store.StudySession, error) {
	if s.failWrites {
		return store.StudySession{}, errStoreDown
	}
	return s.Store.AddSession(ctx, sess)
}

func (s *failingStore) SaveBadge(ctx context.Context, rec store.BadgeRecord) error {
	if s.failBadges {
		return errStoreDown
	}
	return s.Store.SaveBadge(ctx, rec)
}

func (s *failingStore) ListProgress(ctx context.Context, userID string) ([]store.ProgressRecord, error) {
	if s.failReads {
		return nil, errStoreDown
	}
	return s.Store.ListProgress(ctx, userID)
}

func (s *failingStore) ListSessions(ctx context.Context, userID string) ([]store.StudySession, error) {
	if s.failReads {
		return nil, errStoreDown
	}
	return s.Store.ListSessions(ctx, userID)
}

func TestToggle_WriteFailureLeavesStateUnchanged(t *testing.T) {
	mem := store.NewMemoryStore()
	fs := &failingStore{Store: mem}
	svc := tracker.NewService(tracker.Config{Store: fs, Now: func() time.Time { return wednesday }})
	ctx := context.Background()

	st := tracker.NewState("u1")
	if _, err := svc.UploadCurriculum(ctx, st, "plan.csv", []byte(abcCSV)); err != nil {
		t.Fatalf("UploadCurriculum() error = %v", err)
	}

	fs.failWrites = true
	if _, err := svc.Toggle(ctx, st, key("A"), true); !errors.Is(err, errStoreDown) {
		t.Fatalf("Toggle() error = %v, want store error", err)
	}
	if st.Progress.Completed(key("A")) {
		t.Error("failed write must not be reflected in state")
	}

	if _, err := svc.LogSession(ctx, st, 2); !errors.Is(err, errStoreDown) {
		t.Fatalf("LogSession() error = %v, want store error", err)
	}
	if st.Sessions != 0 || st.SessionHours != 0 {
		t.Errorf("sessions = %d/%v after failed write, want 0", st.Sessions, st.SessionHours)
	}
}

func TestLoad_DegradesOnReadErrors(t *testing.T) {
	fs := &failingStore{Store: store.NewMemoryStore(), failReads: true}
	svc := tracker.NewService(tracker.Config{Store: fs})

	st := svc.Load(context.Background(), "missing-user")
	if len(st.Progress) != 0 || st.Sessions != 0 {
		t.Errorf("state = %+v, want empty", st)
	}
	// account lookup, progress and sessions
	if len(st.Warnings) != 3 {
		t.Errorf("Warnings = %v, want 3 entries", st.Warnings)
	}
}

func TestLoad_InvalidStoredCurriculum(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if err := f.store.SetCurriculum(ctx, store.CurriculumBlob{
		UserID: f.user.ID, Name: "broken.csv", Data: []byte("Foo,Bar\n1,2\n"),
	}); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	st := f.svc.Load(ctx, f.user.ID)
	if !st.Curriculum.IsEmpty() {
		t.Errorf("Curriculum = %+v, want empty", st.Curriculum)
	}
	if st.CurriculumName != "broken.csv" || len(st.Warnings) != 1 {
		t.Errorf("name = %q warnings = %v", st.CurriculumName, st.Warnings)
	}
	if n := strings.Count(logs.String(), "level=WARN"); n != 1 {
		t.Errorf("logged %d warnings, want 1:\n%s", n, logs.String())
	}
}

func TestUploadCurriculum_InvalidKeepsStored(t *testing.T) {
	f := newFixture(t, false)
	st := f.upload(t, "plan.csv", []byte(abcCSV))

	_, err := f.svc.UploadCurriculum(context.Background(), st, "bad.csv", []byte("Module,Chapter\nM1,C1\n"))
	var pe *curriculum.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("UploadCurriculum() error = %v, want *ParseError", err)
	}
	if st.CurriculumName != "plan.csv" || st.Curriculum.TotalSubtopics() != 3 {
		t.Errorf("state curriculum = %q/%d, want plan.csv/3", st.CurriculumName, st.Curriculum.TotalSubtopics())
	}

	reloaded := f.svc.Load(context.Background(), f.user.ID)
	if reloaded.CurriculumName != "plan.csv" {
		t.Errorf("stored curriculum = %q, want plan.csv", reloaded.CurriculumName)
	}
}

func completeN(t *testing.T, f *fixture, st *tracker.State, n int) []badge.Badge {
	t.Helper()
	var earned []badge.Badge
	for i := 0; i < n; i++ {
		res, err := f.svc.Toggle(context.Background(), st, key(fmt.Sprintf("S%d", i)), true)
		if err != nil {
			t.Fatalf("Toggle(S%d) error = %v", i, err)
		}
		earned = append(earned, res.NewBadges...)
	}
	return earned
}

func TestBadges_AwardedAndNotified(t *testing.T) {
	f := newFixture(t, true)
	st := f.upload(t, "plan.csv", chapterCSV(40))

	earned := completeN(t, f, st, 5)
	if len(earned) != 1 || earned[0] != badge.FirstSteps {
		t.Fatalf("earned = %v, want [First Steps]", earned)
	}

	msgs := f.notifier.Messages()
	if len(msgs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(msgs))
	}
	if msgs[0].Email != "learner@example.com" || msgs[0].Subject != "New Badge Earned: First Steps" {
		t.Errorf("notification = %+v", msgs[0])
	}

	stored, _ := f.store.ListBadges(context.Background(), f.user.ID)
	if len(stored) != 1 || stored[0].Name != "First Steps" {
		t.Errorf("stored badges = %+v", stored)
	}
	if got := len(f.events.OfType(tracker.EventBadgeAwarded)); got != 1 {
		t.Errorf("badge events = %d, want 1", got)
	}
	if got := len(f.events.OfType(tracker.EventSubtopicToggled)); got != 5 {
		t.Errorf("toggle events = %d, want 5", got)
	}

	// Un-completing and re-completing must not award the badge again.
	if _, err := f.svc.Toggle(context.Background(), st, key("S4"), false); err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.Toggle(context.Background(), st, key("S4"), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NewBadges) != 0 || len(f.notifier.Messages()) != 1 {
		t.Errorf("re-award: new=%v notifications=%d", res.NewBadges, len(f.notifier.Messages()))
	}
}

func TestBadges_NotificationsDisabled(t *testing.T) {
	f := newFixture(t, false)
	st := f.upload(t, "plan.csv", chapterCSV(40))

	if earned := completeN(t, f, st, 5); len(earned) != 1 {
		t.Fatalf("earned = %v, want one badge", earned)
	}
	if n := len(f.notifier.Messages()); n != 0 {
		t.Errorf("notifications = %d, want 0 when disabled", n)
	}
	live := f.live.Messages()
	if len(live) != 1 || live[0].UserID != f.user.ID {
		t.Errorf("live events = %+v, want one for user %s", live, f.user.ID)
	}
}

func TestBadges_LiveEventWithoutEmail(t *testing.T) {
	mem := store.NewMemoryStore()
	u, err := mem.CreateUser(context.Background(), store.User{NotificationsEnabled: true})
	if err != nil {
		t.Fatal(err)
	}
	external, live := &notify.MockChannel{}, &notify.MockChannel{}
	svc := tracker.NewService(tracker.Config{
		Store:    mem,
		Notifier: external,
		Live:     live,
		Now:      func() time.Time { return wednesday },
	})
	ctx := context.Background()

	st := svc.Load(ctx, u.ID)
	if _, err := svc.UploadCurriculum(ctx, st, "plan.csv", chapterCSV(40)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := svc.Toggle(ctx, st, key(fmt.Sprintf("S%d", i)), true); err != nil {
			t.Fatalf("Toggle(S%d) error = %v", i, err)
		}
	}

	if n := len(external.Messages()); n != 0 {
		t.Errorf("external notifications = %d, want 0 without an email", n)
	}
	if n := len(live.Messages()); n != 1 {
		t.Errorf("live events = %d, want 1", n)
	}
}

func TestBadges_FailuresDoNotRollBack(t *testing.T) {
	mem := store.NewMemoryStore()
	u, _ := mem.CreateUser(context.Background(), store.User{Email: "x@example.com", NotificationsEnabled: true})
	fs := &failingStore{Store: mem, failBadges: true}
	ch := &notify.MockChannel{Err: errors.New("smtp down")}
	svc := tracker.NewService(tracker.Config{Store: fs, Notifier: ch, Now: func() time.Time { return wednesday }})
	ctx := context.Background()

	st := svc.Load(ctx, u.ID)
	if _, err := svc.UploadCurriculum(ctx, st, "plan.csv", chapterCSV(40)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := svc.Toggle(ctx, st, key(fmt.Sprintf("S%d", i)), true); err != nil {
			t.Fatalf("Toggle(S%d) error = %v", i, err)
		}
	}

	if !st.Badges.Has(badge.FirstSteps) {
		t.Error("badge should be held despite save and notify failures")
	}
	if len(ch.Messages()) != 1 {
		t.Errorf("notification attempts = %d, want exactly 1", len(ch.Messages()))
	}
}

func TestLogSession(t *testing.T) {
	f := newFixture(t, false)
	st := f.svc.Load(context.Background(), f.user.ID)
	ctx := context.Background()

	res, err := f.svc.LogSession(ctx, st, 0)
	if err != nil {
		t.Fatalf("LogSession() error = %v", err)
	}
	if res.Session.Hours != tracker.DefaultSessionHours || res.Streak != 1 {
		t.Errorf("LogSession(0) = %+v, want default hours and streak 1", res)
	}
	if res.Message != "Study session logged! Streak: 1" {
		t.Errorf("Message = %q", res.Message)
	}

	var earned []badge.Badge
	for i := 0; i < 4; i++ {
		res, err := f.svc.LogSession(ctx, st, 2)
		if err != nil {
			t.Fatal(err)
		}
		earned = append(earned, res.NewBadges...)
	}
	if len(earned) != 1 || earned[0] != badge.StreakStar {
		t.Errorf("earned = %v, want [Streak Star]", earned)
	}
	if st.StudyHours() != 9 {
		t.Errorf("StudyHours() = %v, want 9", st.StudyHours())
	}

	if _, err := f.svc.LogSession(ctx, st, 25); !errors.Is(err, tracker.ErrInvalidHours) {
		t.Errorf("LogSession(25) error = %v, want ErrInvalidHours", err)
	}
}

func TestStudyHours_IncludesCompletionCredit(t *testing.T) {
	f := newFixture(t, false)
	st := f.upload(t, "plan.csv", []byte(abcCSV))

	if _, err := f.svc.Toggle(context.Background(), st, key("A"), true); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.LogSession(context.Background(), st, 1.5); err != nil {
		t.Fatal(err)
	}
	if got := st.StudyHours(); got != 3.5 {
		t.Errorf("StudyHours() = %v, want 3.5", got)
	}
}

func TestSchedule_GenerateStoreExport(t *testing.T) {
	f := newFixture(t, false)
	st := f.upload(t, "plan.csv", chapterCSV(10))
	ctx := context.Background()

	if _, err := f.svc.Schedule(ctx, f.user.ID); !errors.Is(err, tracker.ErrNoSchedule) {
		t.Fatalf("Schedule() before generate error = %v, want ErrNoSchedule", err)
	}

	req := schedule.Request{DailyHours: 4, Start: schedule.Clock{Hour: 9}, Days: []time.Weekday{time.Monday}}
	saved, err := f.svc.GenerateSchedule(ctx, st, req)
	if err != nil {
		t.Fatalf("GenerateSchedule() error = %v", err)
	}
	if len(saved.Entries) != 2 || saved.TotalHours != 6 {
		t.Fatalf("GenerateSchedule() = %d entries / %dh, want 2 / 6h", len(saved.Entries), saved.TotalHours)
	}

	got, err := f.svc.Schedule(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if len(got.Entries) != 2 || got.Entries[0].Subtopic != "S0" || got.Entries[0].Weekday != "Monday" {
		t.Errorf("Schedule() entries = %+v", got.Entries)
	}

	ics, err := f.svc.ExportCalendar(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("ExportCalendar() error = %v", err)
	}
	if n := strings.Count(ics, "BEGIN:VEVENT"); n != 2 {
		t.Errorf("VEVENT count = %d, want 2", n)
	}

	if _, err := f.svc.GenerateSchedule(ctx, st, schedule.Request{DailyHours: 1}); !errors.Is(err, schedule.ErrDailyHours) {
		t.Errorf("invalid request error = %v, want ErrDailyHours", err)
	}
}

func TestUploadCurriculum_DropsSchedule(t *testing.T) {
	f := newFixture(t, false)
	st := f.upload(t, "plan.csv", chapterCSV(3))
	ctx := context.Background()

	req := schedule.Request{DailyHours: 2, Start: schedule.Clock{Hour: 8}, Days: []time.Weekday{time.Saturday}}
	if _, err := f.svc.GenerateSchedule(ctx, st, req); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UploadCurriculum(ctx, st, "plan.csv", []byte(abcCSV)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Schedule(ctx, f.user.ID); !errors.Is(err, tracker.ErrNoSchedule) {
		t.Errorf("Schedule() after upload error = %v, want ErrNoSchedule", err)
	}
}

func TestReset(t *testing.T) {
	f := newFixture(t, false)
	st := f.upload(t, "plan.csv", chapterCSV(10))
	ctx := context.Background()

	completeN(t, f, st, 5)
	if _, err := f.svc.LogSession(ctx, st, 1); err != nil {
		t.Fatal(err)
	}
	req := schedule.Request{DailyHours: 2, Start: schedule.Clock{Hour: 8}, Days: []time.Weekday{time.Saturday}}
	if _, err := f.svc.GenerateSchedule(ctx, st, req); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Reset(ctx, st); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if len(st.Progress) != 0 || len(st.Badges) != 0 || st.Sessions != 0 || !st.Curriculum.IsEmpty() {
		t.Errorf("state after reset = %+v", st)
	}

	reloaded := f.svc.Load(ctx, f.user.ID)
	if len(reloaded.Progress) != 0 || len(reloaded.Badges) != 0 || reloaded.Sessions != 0 || reloaded.CurriculumName != "" {
		t.Errorf("stored state after reset = %+v", reloaded)
	}
	if _, err := f.svc.Schedule(ctx, f.user.ID); !errors.Is(err, tracker.ErrNoSchedule) {
		t.Errorf("Schedule() after reset error = %v", err)
	}
	if len(f.events.OfType(tracker.EventProgressReset)) != 1 {
		t.Error("expected a progress_reset event")
	}
}

func TestSetNotifications(t *testing.T) {
	f := newFixture(t, false)
	st := f.svc.Load(context.Background(), f.user.ID)

	if err := f.svc.SetNotifications(context.Background(), st, true); err != nil {
		t.Fatalf("SetNotifications() error = %v", err)
	}
	if !st.NotificationsEnabled {
		t.Error("state should have notifications enabled")
	}
	u, _ := f.store.GetUser(context.Background(), f.user.ID)
	if !u.NotificationsEnabled {
		t.Error("stored user should have notifications enabled")
	}
}

func TestDashboard(t *testing.T) {
	f := newFixture(t, false)
	st := f.upload(t, "plan.csv", chapterCSV(40))
	completeN(t, f, st, 5)

	d := f.svc.Dashboard(st)
	if d.Summary.Completed != 5 || d.Summary.Total != 40 {
		t.Errorf("Summary = %+v", d.Summary)
	}
	if d.StudyHours != 10 || d.Streak != 0 {
		t.Errorf("hours=%v streak=%d, want 10/0", d.StudyHours, d.Streak)
	}
	if len(d.Badges) != len(badge.All) {
		t.Fatalf("Badges = %d entries, want %d", len(d.Badges), len(badge.All))
	}
	if first := d.Badges[0]; first.Name != badge.FirstSteps || !first.Earned || first.EarnedAt == nil {
		t.Errorf("first badge = %+v, want earned First Steps", first)
	}
	if d.Badges[1].Earned {
		t.Errorf("second badge = %+v, want unearned", d.Badges[1])
	}
	if !strings.Contains(d.Quote, "Winston Churchill") {
		t.Errorf("Quote = %q, want the first quote", d.Quote)
	}
}

func TestExportCSV(t *testing.T) {
	f := newFixture(t, false)
	st := f.upload(t, "plan.csv", chapterCSV(40))
	completeN(t, f, st, 5)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := f.svc.ExportProgressCSV(ctx, &buf, f.user.ID); err != nil {
		t.Fatalf("ExportProgressCSV() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 6 || !strings.HasPrefix(lines[0], "user_id,module,chapter,subtopic,completed") {
		t.Errorf("progress csv = %q", buf.String())
	}

	buf.Reset()
	if err := f.svc.ExportBadgesCSV(ctx, &buf, f.user.ID); err != nil {
		t.Fatalf("ExportBadgesCSV() error = %v", err)
	}
	want := f.user.ID + ",First Steps,2026-10-21T09:30:00Z"
	if !strings.Contains(buf.String(), want) {
		t.Errorf("badges csv = %q, want row %q", buf.String(), want)
	}
}
