package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/auth"
	"github.com/mahaj/devchat/pkg/db"
	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/objstore"
)

type UserStore interface {
	CreateUser(ctx context.Context, u db.UserRecord) error
	User(ctx context.Context, uid string) (*db.UserRecord, error)
	UserByEmail(ctx context.Context, email string) (*db.UserRecord, error)
	SetUserName(ctx context.Context, uid, name string) error
	SetUserAvatar(ctx context.Context, uid, avatar string) error
}

type HistoryStore interface {
	Messages(ctx context.Context, private bool, channelID string, limit int) ([]model.Message, error)
}

type ConversationStore interface {
	Conversations(ctx context.Context, uid string) ([]db.Conversation, error)
	ResetUnread(ctx context.Context, uid, other string) error
}

type TypingReader interface {
	List(ctx context.Context, channelID string) ([]model.TypingUser, error)
}

// Server holds the dependencies of the HTTP API.
type Server struct {
	Users         UserStore
	History       HistoryStore
	Conversations ConversationStore
	Typing        TypingReader
	Objects       *objstore.Store
	Issuer        *auth.Issuer

	// PublicURL prefixes the download URLs handed out for uploads.
	PublicURL      string
	MaxUploadBytes int64
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(accessLog)
	r.Use(CORSMiddleware)

	// Public endpoints
	r.Post("/register", s.RegisterHandler)
	r.Post("/login", s.LoginHandler)
	r.Get("/files/*", s.FileHandler)

	// Protected endpoints
	r.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)
		r.Get("/me", s.MeHandler)
		r.Put("/profile", s.ProfileHandler)
		r.Put("/storage/*", s.UploadHandler)
		r.Get("/history", s.HistoryHandler)
		r.Get("/channels/{id}/typing", s.TypingHandler)
		r.Get("/conversations", s.ConversationsHandler)
		r.Post("/conversations/read", s.ReadHandler)
	})
	return r
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // Allow all for dev, or specific origin
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := auth.BearerToken(r)
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		claims, err := s.Issuer.ValidateToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// claims returns the caller; routes behind AuthMiddleware always have one.
func claims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	c, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return c, ok
}
