package curriculum

import "time"

// FarFuture is the deadline assumed for chapters that do not declare one.
var FarFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Row is a single line of an uploaded curriculum table.
type Row struct {
	Module   string `yaml:"module"`
	Chapter  string `yaml:"chapter"`
	Subtopic string `yaml:"subtopic"`
	Project  string `yaml:"project"`
	Deadline string `yaml:"deadline"`
	Line     int    `yaml:"-"`
}

// Curriculum is the ordered module -> chapter -> subtopic structure built from rows.
type Curriculum struct {
	Modules []Module `json:"modules"`
}

// Module is a top-level curriculum grouping.
type Module struct {
	Name     string    `json:"name"`
	Chapters []Chapter `json:"chapters"`
}

// Chapter holds an ordered list of subtopics. Subtopic order is the unlock order.
type Chapter struct {
	Name      string    `json:"name"`
	Project   string    `json:"project,omitempty"`
	Deadline  time.Time `json:"deadline,omitzero"`
	Subtopics []string  `json:"subtopics"`
}

// HasDeadline reports whether the chapter declared a deadline.
func (ch Chapter) HasDeadline() bool {
	return !ch.Deadline.IsZero()
}

// DeadlineOrDefault returns the chapter deadline, or FarFuture when none was given.
func (ch Chapter) DeadlineOrDefault() time.Time {
	if ch.HasDeadline() {
		return ch.Deadline
	}
	return FarFuture
}

// IsEmpty reports whether the curriculum has no modules.
func (c Curriculum) IsEmpty() bool {
	return len(c.Modules) == 0
}

// Chapter looks up a chapter by module and chapter name.
func (c Curriculum) Chapter(module, chapter string) (Chapter, bool) {
	for _, m := range c.Modules {
		if m.Name != module {
			continue
		}
		for _, ch := range m.Chapters {
			if ch.Name == chapter {
				return ch, true
			}
		}
	}
	return Chapter{}, false
}

// SubtopicIndex returns the position of a subtopic inside its chapter, or -1.
func (c Curriculum) SubtopicIndex(module, chapter, subtopic string) int {
	ch, ok := c.Chapter(module, chapter)
	if !ok {
		return -1
	}
	for i, s := range ch.Subtopics {
		if s == subtopic {
			return i
		}
	}
	return -1
}

// TotalSubtopics counts subtopics across all chapters of all modules.
func (c Curriculum) TotalSubtopics() int {
	total := 0
	for _, m := range c.Modules {
		for _, ch := range m.Chapters {
			total += len(ch.Subtopics)
		}
	}
	return total
}
