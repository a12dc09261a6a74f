package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/onyria/onyria/internal/auth"
	"github.com/onyria/onyria/internal/observe"
	"github.com/onyria/onyria/internal/store"
	"github.com/onyria/onyria/internal/user"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        uuid.UUID    `json:"id"`
	Email     string       `json:"email"`
	Username  string       `json:"username"`
	Profile   user.Profile `json:"profile"`
	CreatedAt time.Time    `json:"created_at"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt int64        `json:"expires_at"`
	User      userResponse `json:"user"`
}

func toUserResponse(u *user.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Username: u.Username, Profile: u.Profile, CreatedAt: u.CreatedAt}
}

func toSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{Token: s.Token, ExpiresAt: s.ExpiresAt, User: toUserResponse(s.User)}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req auth.Registration
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.deps.Accounts.Register(r.Context(), req)
	if err != nil {
		s.accountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.deps.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.accountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u, err := s.deps.Accounts.Me(r.Context(), userID(r))
	if err != nil {
		s.accountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (s *Server) updateMe(w http.ResponseWriter, r *http.Request) {
	var p user.Profile
	if !s.decode(w, r, &p) {
		return
	}
	u, err := s.deps.Accounts.UpdateProfile(r.Context(), userID(r), p)
	if err != nil {
		s.accountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (s *Server) deleteMe(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Accounts.DeleteAccount(r.Context(), userID(r)); err != nil {
		s.accountError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) accountError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, user.ErrInvalidProfile):
		writeErrorMessage(w, http.StatusBadRequest, codeBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials)
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, codeEmailTaken)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound)
	default:
		observe.Logger(r.Context()).Error("api: account operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, codeInternal)
	}
}
