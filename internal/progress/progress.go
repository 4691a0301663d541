// Package progress aggregates completion state over a curriculum and decides
// which subtopics are unlocked.
package progress

import (
	"strings"

	"github.com/p-n-ai/pai-study/internal/curriculum"
)

// Key identifies one subtopic.
type Key struct {
	Module   string `json:"module"`
	Chapter  string `json:"chapter"`
	Subtopic string `json:"subtopic"`
}

func (k Key) String() string {
	return k.Module + "_" + k.Chapter + "_" + k.Subtopic
}

// Map holds completion flags. A missing key means not completed.
type Map map[Key]bool

// Completed reports whether the subtopic is marked completed.
func (m Map) Completed(k Key) bool {
	return m[k]
}

// Clone returns an independent copy.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Summary is the aggregate completion over a whole curriculum.
type Summary struct {
	Percent   float64 `json:"percent"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Modules   int     `json:"modules"`
}

// ModuleSummary is the completion of a single module.
type ModuleSummary struct {
	Module    string  `json:"module"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Complete  bool    `json:"complete"`
}

// Stats computes overall completion. Percent is 0 when the curriculum has no subtopics.
// Progress entries for subtopics outside the curriculum are ignored.
func Stats(p Map, c curriculum.Curriculum) Summary {
	s := Summary{Modules: len(c.Modules)}
	for _, m := range c.Modules {
		for _, ch := range m.Chapters {
			s.Total += len(ch.Subtopics)
			for _, sub := range ch.Subtopics {
				if p[Key{m.Name, ch.Name, sub}] {
					s.Completed++
				}
			}
		}
	}
	s.Percent = percent(s.Completed, s.Total)
	return s
}

// ModuleBreakdown computes completion per module, in curriculum order.
func ModuleBreakdown(p Map, c curriculum.Curriculum) []ModuleSummary {
	out := make([]ModuleSummary, 0, len(c.Modules))
	for _, m := range c.Modules {
		ms := ModuleSummary{Module: m.Name}
		for _, ch := range m.Chapters {
			ms.Total += len(ch.Subtopics)
			for _, sub := range ch.Subtopics {
				if p[Key{m.Name, ch.Name, sub}] {
					ms.Completed++
				}
			}
		}
		ms.Percent = percent(ms.Completed, ms.Total)
		ms.Complete = ms.Total > 0 && ms.Completed == ms.Total
		out = append(out, ms)
	}
	return out
}

// IsUnlocked reports whether the subtopic at index in the given chapter can be
// acted on. Index 0 is always unlocked; any other index requires the previous
// subtopic of the same chapter to be completed.
func IsUnlocked(c curriculum.Curriculum, p Map, module, chapter string, index int) bool {
	if index == 0 {
		return true
	}
	if index < 0 {
		return false
	}
	ch, ok := c.Chapter(module, chapter)
	if !ok || index >= len(ch.Subtopics) {
		return false
	}
	return p[Key{module, chapter, ch.Subtopics[index-1]}]
}

// ChecklistItem is one subtopic in the checklist view.
type ChecklistItem struct {
	Index     int    `json:"index"`
	Subtopic  string `json:"subtopic"`
	Completed bool   `json:"completed"`
	Unlocked  bool   `json:"unlocked"`
	Next      bool   `json:"next"`
}

// ChecklistChapter groups checklist items of one chapter.
type ChecklistChapter struct {
	Chapter string          `json:"chapter"`
	Project string          `json:"project,omitempty"`
	Items   []ChecklistItem `json:"items"`
}

// ChecklistModule groups checklist chapters of one module.
type ChecklistModule struct {
	Module   string             `json:"module"`
	Chapters []ChecklistChapter `json:"chapters"`
}

// Checklist lists every subtopic with its completion and unlock state. A non-empty
// query keeps only subtopics whose name contains it, case-insensitively; chapters
// and modules left without items are dropped.
func Checklist(c curriculum.Curriculum, p Map, query string) []ChecklistModule {
	query = strings.ToLower(strings.TrimSpace(query))

	var out []ChecklistModule
	for _, m := range c.Modules {
		cm := ChecklistModule{Module: m.Name}
		for _, ch := range m.Chapters {
			cc := ChecklistChapter{Chapter: ch.Name, Project: ch.Project}
			for i, sub := range ch.Subtopics {
				if query != "" && !strings.Contains(strings.ToLower(sub), query) {
					continue
				}
				done := p[Key{m.Name, ch.Name, sub}]
				unlocked := IsUnlocked(c, p, m.Name, ch.Name, i)
				cc.Items = append(cc.Items, ChecklistItem{
					Index:     i,
					Subtopic:  sub,
					Completed: done,
					Unlocked:  unlocked,
					Next:      unlocked && !done,
				})
			}
			if len(cc.Items) > 0 {
				cm.Chapters = append(cm.Chapters, cc)
			}
		}
		if len(cm.Chapters) > 0 {
			out = append(out, cm)
		}
	}
	return out
}

func percent(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}
