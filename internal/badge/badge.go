// Package badge evaluates achievement thresholds over study statistics.
package badge

import (
	"fmt"
	"sort"
)

// Badge is a one-time achievement.
type Badge string

// Badges in evaluation order.
const (
	FirstSteps     Badge = "First Steps"
	GettingStarted Badge = "Getting Started"
	QuarterMaster  Badge = "Quarter Master"
	HalfwayHero    Badge = "Halfway Hero"
	StreakStar     Badge = "Streak Star"
	StudyMaster    Badge = "Study Master"
	ModuleMaster   Badge = "Module Master"
)

// All lists every badge in evaluation order.
var All = []Badge{FirstSteps, GettingStarted, QuarterMaster, HalfwayHero, StreakStar, StudyMaster, ModuleMaster}

var icons = map[Badge]string{
	FirstSteps:     "🏅",
	GettingStarted: "🚀",
	QuarterMaster:  "🏆",
	HalfwayHero:    "🦸",
	StreakStar:     "🔥",
	StudyMaster:    "📚",
	ModuleMaster:   "🎓",
}

// Icon returns the display icon for b, or a generic medal for unknown badges.
func Icon(b Badge) string {
	if icon, ok := icons[b]; ok {
		return icon
	}
	return "🎖️"
}

// Parse resolves a stored badge name.
func Parse(name string) (Badge, error) {
	for _, b := range All {
		if string(b) == name {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown badge %q", name)
}

// Input is the statistics a badge evaluation runs against.
type Input struct {
	Completed  int
	Percent    float64
	Streak     int
	StudyHours float64
	// ModuleComplete is true when at least one non-empty module has every subtopic completed.
	ModuleComplete bool
}

// Set is a collection of held badges.
type Set map[Badge]bool

// NewSet builds a Set from a list of badges.
func NewSet(bs ...Badge) Set {
	s := make(Set, len(bs))
	for _, b := range bs {
		s[b] = true
	}
	return s
}

// Has reports whether b is held.
func (s Set) Has(b Badge) bool {
	return s[b]
}

// Add marks every badge in bs as held.
func (s Set) Add(bs ...Badge) {
	for _, b := range bs {
		s[b] = true
	}
}

// Sorted returns the held badges in evaluation order.
func (s Set) Sorted() []Badge {
	out := make([]Badge, 0, len(s))
	for b := range s {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

func rank(b Badge) int {
	for i, a := range All {
		if a == b {
			return i
		}
	}
	return len(All)
}

var rules = []struct {
	badge Badge
	met   func(Input) bool
}{
	{FirstSteps, func(in Input) bool { return in.Completed >= 5 }},
	{GettingStarted, func(in Input) bool { return in.Completed >= 10 }},
	{QuarterMaster, func(in Input) bool { return in.Percent >= 25 }},
	{HalfwayHero, func(in Input) bool { return in.Percent >= 50 }},
	{StreakStar, func(in Input) bool { return in.Streak >= 5 }},
	{StudyMaster, func(in Input) bool { return in.StudyHours >= 50 }},
	{ModuleMaster, func(in Input) bool { return in.ModuleComplete }},
}

// Evaluate returns the badges whose threshold is met by in and that are not in
// held, in evaluation order. held is not modified.
func Evaluate(in Input, held Set) []Badge {
	var earned []Badge
	for _, r := range rules {
		if held.Has(r.badge) {
			continue
		}
		if r.met(in) {
			earned = append(earned, r.badge)
		}
	}
	return earned
}
