package httpapi

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/p-n-ai/pai-study/internal/curriculum"
	"github.com/p-n-ai/pai-study/internal/progress"
	"github.com/p-n-ai/pai-study/internal/schedule"
	"github.com/p-n-ai/pai-study/internal/store"
	"github.com/p-n-ai/pai-study/internal/tracker"
)

const defaultCurriculumName = "curriculum.csv"

// statusFor maps tracker and domain errors onto HTTP status codes.
func statusFor(err error) int {
	var pe *curriculum.ParseError
	switch {
	case errors.As(err, &pe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tracker.ErrLocked), errors.Is(err, tracker.ErrHasDependents):
		return http.StatusConflict
	case errors.Is(err, tracker.ErrUnknownSubtopic), errors.Is(err, tracker.ErrNoSchedule):
		return http.StatusNotFound
	case errors.Is(err, tracker.ErrInvalidHours),
		errors.Is(err, schedule.ErrDailyHours),
		errors.Is(err, schedule.ErrStartTime),
		errors.Is(err, schedule.ErrNoDays),
		errors.Is(err, errUnknownWeekday):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, u store.User) {
	st := s.svc.Load(r.Context(), u.ID)
	writeJSON(w, http.StatusOK, s.svc.Dashboard(st))
}

type curriculumResponse struct {
	Name      string                `json:"name"`
	Modules   int                   `json:"modules"`
	Subtopics int                   `json:"subtopics"`
	Content   curriculum.Curriculum `json:"curriculum"`
}

func (s *Server) handleUploadCurriculum(w http.ResponseWriter, r *http.Request, u store.User) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = defaultCurriculumName
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "curriculum file too large")
		return
	}

	st := s.svc.Load(r.Context(), u.ID)
	c, err := s.svc.UploadCurriculum(r.Context(), st, name, data)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, curriculumResponse{
		Name:      name,
		Modules:   len(c.Modules),
		Subtopics: c.TotalSubtopics(),
		Content:   c,
	})
}

type checklistResponse struct {
	Summary  progress.Summary           `json:"summary"`
	Modules  []progress.ChecklistModule `json:"modules"`
	Warnings []string                   `json:"warnings,omitempty"`
}

func (s *Server) handleChecklist(w http.ResponseWriter, r *http.Request, u store.User) {
	st := s.svc.Load(r.Context(), u.ID)
	modules := progress.Checklist(st.Curriculum, st.Progress, r.URL.Query().Get("q"))
	if modules == nil {
		modules = []progress.ChecklistModule{}
	}
	writeJSON(w, http.StatusOK, checklistResponse{
		Summary:  st.Stats(),
		Modules:  modules,
		Warnings: st.Warnings,
	})
}

type toggleRequest struct {
	Module    string `json:"module"`
	Chapter   string `json:"chapter"`
	Subtopic  string `json:"subtopic"`
	Completed bool   `json:"completed"`
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, u store.User) {
	var req toggleRequest
	if !decodeJSON(w, r, toggleSchema, &req) {
		return
	}

	st := s.svc.Load(r.Context(), u.ID)
	res, err := s.svc.Toggle(r.Context(), st, progress.Key{
		Module:   req.Module,
		Chapter:  req.Chapter,
		Subtopic: req.Subtopic,
	}, req.Completed)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, u store.User) {
	st := s.svc.Load(r.Context(), u.ID)
	if err := s.svc.Reset(r.Context(), st); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type sessionRequest struct {
	Hours float64 `json:"hours"`
}

func (s *Server) handleLogSession(w http.ResponseWriter, r *http.Request, u store.User) {
	var req sessionRequest
	if !decodeJSON(w, r, sessionSchema, &req) {
		return
	}

	st := s.svc.Load(r.Context(), u.ID)
	res, err := s.svc.LogSession(r.Context(), st, req.Hours)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleBadges(w http.ResponseWriter, r *http.Request, u store.User) {
	st := s.svc.Load(r.Context(), u.ID)
	writeJSON(w, http.StatusOK, tracker.Trophies(st))
}

func (s *Server) handleGenerateSchedule(w http.ResponseWriter, r *http.Request, u store.User) {
	var body scheduleRequest
	if !decodeJSON(w, r, scheduleSchema, &body) {
		return
	}
	req, err := body.toRequest()
	if err != nil {
		respondError(w, r, err)
		return
	}

	st := s.svc.Load(r.Context(), u.ID)
	saved, err := s.svc.GenerateSchedule(r.Context(), st, req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request, u store.User) {
	saved, err := s.svc.Schedule(r.Context(), u.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleScheduleICS(w http.ResponseWriter, r *http.Request, u store.User) {
	ics, err := s.svc.ExportCalendar(r.Context(), u.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="study_schedule.ics"`)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, ics)
}

func (s *Server) handleExportProgress(w http.ResponseWriter, r *http.Request, u store.User) {
	var buf bytes.Buffer
	if err := s.svc.ExportProgressCSV(r.Context(), &buf, u.ID); err != nil {
		respondError(w, r, err)
		return
	}
	writeCSV(w, "progress.csv", buf.Bytes())
}

func (s *Server) handleExportBadges(w http.ResponseWriter, r *http.Request, u store.User) {
	var buf bytes.Buffer
	if err := s.svc.ExportBadgesCSV(r.Context(), &buf, u.ID); err != nil {
		respondError(w, r, err)
		return
	}
	writeCSV(w, "badges.csv", buf.Bytes())
}

func writeCSV(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type settingsRequest struct {
	NotificationsEnabled bool `json:"notifications_enabled"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, u store.User) {
	var req settingsRequest
	if !decodeJSON(w, r, settingsSchema, &req) {
		return
	}

	st := s.svc.Load(r.Context(), u.ID)
	if err := s.svc.SetNotifications(r.Context(), st, req.NotificationsEnabled); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request, u store.User) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "live updates disabled")
		return
	}
	if err := s.hub.Serve(w, r, u.ID); err != nil {
		slog.Debug("websocket closed", "user_id", u.ID, "error", err)
	}
}
