package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/p-n-ai/pai-study/internal/store"
)

const realm = `Basic realm="pai-study"`

type authedHandler func(w http.ResponseWriter, r *http.Request, u store.User)

// auth resolves HTTP Basic credentials to a user before calling next.
func (s *Server) auth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, password, ok := r.BasicAuth()
		if !ok {
			unauthorized(w)
			return
		}

		u, err := s.users.GetUserByEmail(r.Context(), email)
		if errors.Is(err, store.ErrNotFound) {
			unauthorized(w)
			return
		}
		if err != nil {
			slog.Error("user lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "authentication unavailable")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
			unauthorized(w)
			return
		}

		next(w, r, u)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", realm)
	writeError(w, http.StatusUnauthorized, "invalid credentials")
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, signUpSchema, &req) {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		slog.Error("hashing password failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create account")
		return
	}

	u, err := s.users.CreateUser(r.Context(), store.User{
		Email:                strings.TrimSpace(req.Email),
		PasswordHash:         string(hash),
		NotificationsEnabled: s.notifyDefault,
	})
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}
	if err != nil {
		slog.Error("creating user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create account")
		return
	}

	slog.Info("user signed up", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, u)
}
