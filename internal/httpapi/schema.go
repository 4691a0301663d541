package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/p-n-ai/pai-study/internal/schedule"
)

var (
	signUpSchema = mustSchema(`{
		"type": "object",
		"required": ["email", "password"],
		"properties": {
			"email": {"type": "string", "format": "email"},
			"password": {"type": "string", "minLength": 8, "maxLength": 72}
		},
		"additionalProperties": false
	}`)

	toggleSchema = mustSchema(`{
		"type": "object",
		"required": ["module", "chapter", "subtopic", "completed"],
		"properties": {
			"module": {"type": "string", "minLength": 1},
			"chapter": {"type": "string", "minLength": 1},
			"subtopic": {"type": "string", "minLength": 1},
			"completed": {"type": "boolean"}
		},
		"additionalProperties": false
	}`)

	sessionSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"hours": {"type": "number", "minimum": 0, "maximum": 24}
		},
		"additionalProperties": false
	}`)

	scheduleSchema = mustSchema(`{
		"type": "object",
		"required": ["daily_hours", "start_time", "days"],
		"properties": {
			"daily_hours": {"type": "integer", "minimum": 2, "maximum": 8},
			"start_time": {"type": "string", "pattern": "^[0-9]{1,2}:[0-9]{2}$"},
			"days": {
				"type": "array",
				"minItems": 1,
				"maxItems": 7,
				"items": {"type": "string", "minLength": 1}
			}
		},
		"additionalProperties": false
	}`)

	settingsSchema = mustSchema(`{
		"type": "object",
		"required": ["notifications_enabled"],
		"properties": {
			"notifications_enabled": {"type": "boolean"}
		},
		"additionalProperties": false
	}`)
)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid json schema: %v", err))
	}
	return schema
}

// decodeJSON validates the request body against schema and decodes it into
// dst. On failure it writes a 400 response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		writeError(w, http.StatusBadRequest, strings.Join(msgs, "; "))
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

type scheduleRequest struct {
	DailyHours int      `json:"daily_hours"`
	StartTime  string   `json:"start_time"`
	Days       []string `json:"days"`
}

var errUnknownWeekday = errors.New("unknown weekday")

var weekdays = func() map[string]time.Weekday {
	m := make(map[string]time.Weekday, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		m[d.String()] = d
	}
	return m
}()

// parseWeekday accepts weekday names in any letter case.
func parseWeekday(name string) (time.Weekday, error) {
	title := cases.Title(language.English).String(strings.TrimSpace(name))
	d, ok := weekdays[title]
	if !ok {
		return 0, fmt.Errorf("%w: %q", errUnknownWeekday, name)
	}
	return d, nil
}

func (req scheduleRequest) toRequest() (schedule.Request, error) {
	start, err := schedule.ParseClock(req.StartTime)
	if err != nil {
		return schedule.Request{}, err
	}

	out := schedule.Request{DailyHours: req.DailyHours, Start: start}
	seen := make(map[time.Weekday]bool)
	for _, name := range req.Days {
		d, err := parseWeekday(name)
		if err != nil {
			return schedule.Request{}, err
		}
		if !seen[d] {
			seen[d] = true
			out.Days = append(out.Days, d)
		}
	}
	return out, nil
}
