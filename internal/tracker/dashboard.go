package tracker

import (
	"time"

	"github.com/p-n-ai/pai-study/internal/badge"
	"github.com/p-n-ai/pai-study/internal/progress"
)

// BadgeView is one entry of the trophy case.
type BadgeView struct {
	Name     badge.Badge `json:"name"`
	Icon     string      `json:"icon"`
	Earned   bool        `json:"earned"`
	EarnedAt *time.Time  `json:"earned_at,omitempty"`
}

// Dashboard is the overview shown on the main page.
type Dashboard struct {
	CurriculumName string                   `json:"curriculum_name,omitempty"`
	Summary        progress.Summary         `json:"summary"`
	Modules        []progress.ModuleSummary `json:"modules"`
	StudyHours     float64                  `json:"study_hours"`
	Streak         int                      `json:"streak"`
	Badges         []BadgeView              `json:"badges"`
	Quote          string                   `json:"quote"`
	Warnings       []string                 `json:"warnings,omitempty"`
}

// Dashboard assembles the overview for st.
func (s *Service) Dashboard(st *State) Dashboard {
	modules := progress.ModuleBreakdown(st.Progress, st.Curriculum)
	if modules == nil {
		modules = []progress.ModuleSummary{}
	}
	return Dashboard{
		CurriculumName: st.CurriculumName,
		Summary:        st.Stats(),
		Modules:        modules,
		StudyHours:     st.StudyHours(),
		Streak:         st.Streak(),
		Badges:         Trophies(st),
		Quote:          Quote(s.intn),
		Warnings:       st.Warnings,
	}
}

// Trophies lists every badge, earned ones first.
func Trophies(st *State) []BadgeView {
	out := make([]BadgeView, 0, len(badge.All))
	for _, b := range st.Badges.Sorted() {
		v := BadgeView{Name: b, Icon: badge.Icon(b), Earned: true}
		if at, ok := st.EarnedAt[b]; ok {
			v.EarnedAt = &at
		}
		out = append(out, v)
	}
	for _, b := range badge.All {
		if !st.Badges.Has(b) {
			out = append(out, BadgeView{Name: b, Icon: badge.Icon(b)})
		}
	}
	return out
}
