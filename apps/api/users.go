package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/auth"
	"github.com/mahaj/devchat/pkg/avatar"
	"github.com/mahaj/devchat/pkg/db"
	"github.com/mahaj/devchat/pkg/model"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

type ProfileRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	PhotoURL    *string `json:"photo_url,omitempty"`
}

func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Fill in all fields")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "The email address is badly formatted")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if errors.Is(err, auth.ErrWeakPassword) {
		writeError(w, http.StatusBadRequest, "Password should be at least 6 characters")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to hash password")
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	rec := db.UserRecord{
		UID:          uuid.NewString(),
		Email:        strings.ToLower(req.Email),
		Name:         req.Username,
		Avatar:       avatar.Gravatar(req.Email),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.Users.CreateUser(r.Context(), rec); err != nil {
		if errors.Is(err, db.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "The email address is already in use by another account")
			return
		}
		log.Error().Err(err).Msg("failed to create user")
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}
	log.Info().Str("uid", rec.UID).Msg("user registered")
	s.issue(w, http.StatusCreated, rec.User())
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Fill in all fields")
		return
	}

	rec, err := s.Users.UserByEmail(r.Context(), req.Email)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "There is no user corresponding to this email")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to look up user")
		writeError(w, http.StatusInternalServerError, "Failed to sign in")
		return
	}
	if err := auth.CheckPassword(rec.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "The password is invalid")
		return
	}
	s.issue(w, http.StatusOK, rec.User())
}

func (s *Server) issue(w http.ResponseWriter, status int, u model.User) {
	token, err := s.Issuer.GenerateToken(u.UID, u.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	writeJSON(w, status, AuthResponse{Token: token, User: u})
}

func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(w, r)
	if !ok {
		return
	}
	rec, err := s.Users.User(r.Context(), c.UserID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, rec.User())
}

// ProfileHandler updates the display name and photo of the caller.
func (s *Server) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(w, r)
	if !ok {
		return
	}
	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ctx := r.Context()
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" {
			writeError(w, http.StatusBadRequest, "display_name cannot be empty")
			return
		}
		if err := s.Users.SetUserName(ctx, c.UserID, name); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to update profile")
			return
		}
	}
	if req.PhotoURL != nil {
		if err := s.Users.SetUserAvatar(ctx, c.UserID, *req.PhotoURL); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to update profile")
			return
		}
	}
	s.MeHandler(w, r)
}
