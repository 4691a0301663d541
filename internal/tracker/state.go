package tracker

import (
	"time"

	"github.com/p-n-ai/pai-study/internal/badge"
	"github.com/p-n-ai/pai-study/internal/curriculum"
	"github.com/p-n-ai/pai-study/internal/progress"
)

// CompletionCreditHours is the study time credited for each completed subtopic.
const CompletionCreditHours = 2

// State is everything the dashboard computes from, loaded for one user per request.
type State struct {
	UserID               string
	Email                string
	NotificationsEnabled bool

	CurriculumName string
	Curriculum     curriculum.Curriculum
	Progress       progress.Map
	Badges         badge.Set
	EarnedAt       map[badge.Badge]time.Time

	// SessionHours is the sum of logged study sessions; Sessions is their count.
	SessionHours float64
	Sessions     int

	// Warnings collects degraded reads, e.g. an unparseable stored curriculum.
	Warnings []string
}

// NewState returns an empty state for userID.
func NewState(userID string) *State {
	return &State{
		UserID:   userID,
		Progress: progress.Map{},
		Badges:   badge.Set{},
		EarnedAt: map[badge.Badge]time.Time{},
	}
}

// Stats is the overall completion summary.
func (st *State) Stats() progress.Summary {
	return progress.Stats(st.Progress, st.Curriculum)
}

// StudyHours is logged session time plus the completion credit.
func (st *State) StudyHours() float64 {
	return st.SessionHours + float64(CompletionCreditHours*st.Stats().Completed)
}

// Streak is the number of logged study sessions.
func (st *State) Streak() int {
	return st.Sessions
}

// BadgeInput collects the statistics badges are evaluated against.
func (st *State) BadgeInput() badge.Input {
	s := st.Stats()
	in := badge.Input{
		Completed:  s.Completed,
		Percent:    s.Percent,
		Streak:     st.Streak(),
		StudyHours: st.StudyHours(),
	}
	for _, m := range progress.ModuleBreakdown(st.Progress, st.Curriculum) {
		if m.Complete {
			in.ModuleComplete = true
			break
		}
	}
	return in
}
