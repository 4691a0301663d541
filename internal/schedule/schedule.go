// Package schedule plans study sessions over a two-week window.
//
// Generate is a greedy single pass: each eligible day takes the remaining
// subtopic with the earliest deadline. It does not try to balance load or
// meet every deadline.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/p-n-ai/pai-study/internal/curriculum"
	"github.com/p-n-ai/pai-study/internal/progress"
)

const (
	// WindowDays is how far past today the schedule reaches. Today is day 0.
	WindowDays = 14
	// MaxSessionHours caps a single session.
	MaxSessionHours = 3
	// TargetHours is the cumulative total after which planning stops.
	TargetHours = 25
	// UrgentDays marks a session urgent when its deadline is this close.
	UrgentDays = 7

	MinDailyHours = 2
	MaxDailyHours = 8

	summaryLimit = 50
)

var (
	ErrDailyHours = errors.New("daily hours out of range")
	ErrStartTime  = errors.New("invalid start time")
	ErrNoDays     = errors.New("no available days")
)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock reads "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("%w: %q", ErrStartTime, s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c Clock) valid() bool {
	return c.Hour >= 0 && c.Hour < 24 && c.Minute >= 0 && c.Minute < 60
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Request holds the user's scheduling preferences.
type Request struct {
	DailyHours int            `json:"daily_hours"`
	Start      Clock          `json:"start_time"`
	Days       []time.Weekday `json:"days"`
}

// Validate checks the request bounds.
func (r Request) Validate() error {
	if r.DailyHours < MinDailyHours || r.DailyHours > MaxDailyHours {
		return fmt.Errorf("%w: %d, want %d-%d", ErrDailyHours, r.DailyHours, MinDailyHours, MaxDailyHours)
	}
	if !r.Start.valid() {
		return fmt.Errorf("%w: %s", ErrStartTime, r.Start)
	}
	if len(r.Days) == 0 {
		return ErrNoDays
	}
	return nil
}

// SessionHours is the length of each session before the cumulative cap.
func (r Request) SessionHours() int {
	return min(r.DailyHours, MaxSessionHours)
}

func (r Request) available(d time.Weekday) bool {
	for _, day := range r.Days {
		if day == d {
			return true
		}
	}
	return false
}

// blackedOut reports whether a session starting at r.Start is disallowed on d:
// no midday-to-evening sessions Tuesday through Friday.
func (r Request) blackedOut(d time.Weekday) bool {
	if r.Start.Hour < 12 || r.Start.Hour >= 20 {
		return false
	}
	return d >= time.Tuesday && d <= time.Friday
}

// Entry is one planned study session.
type Entry struct {
	Date     time.Time `json:"date"`
	Weekday  string    `json:"weekday"`
	Start    Clock     `json:"start_time"`
	Hours    int       `json:"hours"`
	Module   string    `json:"module"`
	Chapter  string    `json:"chapter"`
	Subtopic string    `json:"subtopic"`
	Deadline time.Time `json:"deadline"`
	Urgent   bool      `json:"urgent"`

	ModuleLabel  string `json:"module_label"`
	ChapterLabel string `json:"chapter_label"`
	Summary      string `json:"summary"`
}

// StartsAt is the session start on its date.
func (e Entry) StartsAt() time.Time {
	return time.Date(e.Date.Year(), e.Date.Month(), e.Date.Day(), e.Start.Hour, e.Start.Minute, 0, 0, e.Date.Location())
}

// EndsAt is StartsAt plus the session length.
func (e Entry) EndsAt() time.Time {
	return e.StartsAt().Add(time.Duration(e.Hours) * time.Hour)
}

type candidate struct {
	key      progress.Key
	deadline time.Time
}

// Generate plans sessions for every uncompleted subtopic of c, starting today
// (midnight in now's location) and ending WindowDays later inclusive.
func Generate(c curriculum.Curriculum, p progress.Map, req Request, now time.Time) ([]Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var pool []candidate
	for _, m := range c.Modules {
		for _, ch := range m.Chapters {
			for _, sub := range ch.Subtopics {
				k := progress.Key{Module: m.Name, Chapter: ch.Name, Subtopic: sub}
				if p[k] {
					continue
				}
				pool = append(pool, candidate{key: k, deadline: ch.DeadlineOrDefault()})
			}
		}
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].deadline.Before(pool[j].deadline)
	})

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	entries := make([]Entry, 0, min(len(pool), WindowDays+1))
	scheduled := 0

	for i := 0; i <= WindowDays; i++ {
		if len(pool) == 0 || scheduled >= TargetHours {
			break
		}
		day := today.AddDate(0, 0, i)
		wd := day.Weekday()
		if !req.available(wd) || req.blackedOut(wd) {
			continue
		}

		next := pool[0]
		pool = pool[1:]
		hours := min(req.SessionHours(), TargetHours-scheduled)
		scheduled += hours

		entries = append(entries, Entry{
			Date:         day,
			Weekday:      wd.String(),
			Start:        req.Start,
			Hours:        hours,
			Module:       next.key.Module,
			Chapter:      next.key.Chapter,
			Subtopic:     next.key.Subtopic,
			Deadline:     next.deadline,
			Urgent:       urgent(next.deadline, day),
			ModuleLabel:  moduleLabel(next.key.Module),
			ChapterLabel: chapterLabel(next.key.Chapter),
			Summary:      truncate(next.key.Subtopic, summaryLimit),
		})
	}
	return entries, nil
}

// TotalHours sums the hours of entries.
func TotalHours(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += e.Hours
	}
	return total
}

// urgent compares calendar dates: the deadline date is read in day's location,
// and is urgent when it falls no more than UrgentDays after day.
func urgent(deadline, day time.Time) bool {
	y, m, d := deadline.Date()
	due := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return !due.After(day.AddDate(0, 0, UrgentDays))
}

func moduleLabel(module string) string {
	before, _, _ := strings.Cut(module, ":")
	return strings.TrimSpace(before)
}

func chapterLabel(chapter string) string {
	if _, after, ok := strings.Cut(chapter, ":"); ok {
		return strings.TrimSpace(after)
	}
	return chapter
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
