// Package curriculum parses uploaded curriculum tables into an ordered
// module/chapter/subtopic structure.
package curriculum

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Column names of a curriculum table.
const (
	ColModule   = "Module"
	ColChapter  = "Chapter"
	ColSubtopic = "Subtopic"
	ColProject  = "Project"
	ColDeadline = "Deadline"
)

var requiredColumns = []string{ColModule, ColChapter, ColSubtopic, ColProject}

var deadlineLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	time.RFC3339,
	"01-02-06",
}

// ErrMissingColumns is returned when a table lacks one of the required columns.
var ErrMissingColumns = errors.New("missing required columns")

// ParseError describes why a curriculum source could not be turned into a Curriculum.
type ParseError struct {
	Source string
	Line   int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("curriculum %s line %d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("curriculum %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load parses a curriculum source. It never fails the caller: on error it logs a
// warning and returns an empty curriculum together with the *ParseError.
func Load(name string, r io.Reader) (Curriculum, error) {
	c, err := Parse(name, r)
	if err != nil {
		slog.Warn("curriculum could not be parsed, using empty curriculum", "source", name, "error", err)
		return Curriculum{}, err
	}
	slog.Info("curriculum loaded",
		"source", name,
		"modules", len(c.Modules),
		"subtopics", c.TotalSubtopics(),
	)
	return c, nil
}

// Parse reads rows from r, choosing the format from the file extension of name
// (.xlsx, .yaml/.yml, anything else is CSV), and groups them into a Curriculum.
func Parse(name string, r io.Reader) (Curriculum, error) {
	if r == nil {
		return Curriculum{}, &ParseError{Source: name, Err: errors.New("no source")}
	}

	var rows []Row
	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		rows, err = readXLSX(r)
	case ".yaml", ".yml":
		rows, err = readYAML(r)
	default:
		rows, err = readCSV(r)
	}
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Source = name
			return Curriculum{}, pe
		}
		return Curriculum{}, &ParseError{Source: name, Err: err}
	}

	c, err := Group(rows)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Source = name
		}
		return Curriculum{}, err
	}
	return c, nil
}

// Group builds a Curriculum from rows. Modules and chapters keep first-seen order,
// subtopics keep row order, and each chapter takes the first non-empty project and
// deadline seen for it.
func Group(rows []Row) (Curriculum, error) {
	var c Curriculum
	moduleIdx := make(map[string]int)
	chapterIdx := make(map[[2]string]int)
	seen := make(map[[3]string]bool)

	for _, row := range rows {
		module := strings.TrimSpace(row.Module)
		chapter := strings.TrimSpace(row.Chapter)
		subtopic := strings.TrimSpace(row.Subtopic)
		if module == "" || chapter == "" || subtopic == "" {
			slog.Debug("skipping incomplete curriculum row", "line", row.Line)
			continue
		}

		var deadline time.Time
		if d := strings.TrimSpace(row.Deadline); d != "" {
			parsed, err := parseDeadline(d)
			if err != nil {
				return Curriculum{}, &ParseError{Line: row.Line, Err: err}
			}
			deadline = parsed
		}

		mi, ok := moduleIdx[module]
		if !ok {
			mi = len(c.Modules)
			moduleIdx[module] = mi
			c.Modules = append(c.Modules, Module{Name: module})
		}

		key := [2]string{module, chapter}
		ci, ok := chapterIdx[key]
		if !ok {
			ci = len(c.Modules[mi].Chapters)
			chapterIdx[key] = ci
			c.Modules[mi].Chapters = append(c.Modules[mi].Chapters, Chapter{Name: chapter})
		}

		ch := &c.Modules[mi].Chapters[ci]
		if ch.Project == "" {
			ch.Project = strings.TrimSpace(row.Project)
		}
		if !ch.HasDeadline() && !deadline.IsZero() {
			ch.Deadline = deadline
		}

		// Progress is keyed by name, so a repeated subtopic in one chapter is the same item.
		if seen[[3]string{module, chapter, subtopic}] {
			slog.Debug("skipping duplicate subtopic", "module", module, "chapter", chapter, "subtopic", subtopic)
			continue
		}
		seen[[3]string{module, chapter, subtopic}] = true
		ch.Subtopics = append(ch.Subtopics, subtopic)
	}

	return c, nil
}

func parseDeadline(s string) (time.Time, error) {
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid deadline %q, want YYYY-MM-DD", s)
}

func readCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	return fromTable(records)
}

func readXLSX(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	return fromTable(records)
}

func readYAML(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading yaml: %w", err)
	}

	var rows []Row
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}
	for i := range rows {
		rows[i].Line = i + 1
	}
	return rows, nil
}

// fromTable maps a header row plus data rows onto Rows. Header names are matched
// case-insensitively.
func fromTable(records [][]string) ([]Row, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrMissingColumns)
	}

	fold := cases.Fold()
	index := make(map[string]int)
	for i, h := range records[0] {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		index[fold.String(h)] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[fold.String(col)]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &ParseError{Line: 1, Err: fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))}
	}

	cell := func(rec []string, col string) string {
		i, ok := index[fold.String(col)]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	rows := make([]Row, 0, len(records)-1)
	for n, rec := range records[1:] {
		rows = append(rows, Row{
			Module:   cell(rec, ColModule),
			Chapter:  cell(rec, ColChapter),
			Subtopic: cell(rec, ColSubtopic),
			Project:  cell(rec, ColProject),
			Deadline: cell(rec, ColDeadline),
			Line:     n + 2,
		})
	}
	return rows, nil
}
