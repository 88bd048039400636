package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mahaj/devchat/pkg/model"
)

var ErrEmailTaken = errors.New("db: email already registered")

// UserRecord is a row of the users table.
type UserRecord struct {
	UID          string
	Email        string
	Name         string
	Avatar       string
	PasswordHash string
	CreatedAt    time.Time
}

func (u UserRecord) User() model.User {
	return model.User{UID: u.UID, Email: u.Email, DisplayName: u.Name, PhotoURL: u.Avatar}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser claims the email with a lightweight transaction, then writes
// the user row.
func (s *Session) CreateUser(ctx context.Context, u UserRecord) error {
	email := normalizeEmail(u.Email)
	applied, err := s.Query(`INSERT INTO users_by_email (email, uid) VALUES (?, ?) IF NOT EXISTS`, email, u.UID).
		WithContext(ctx).
		MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("claim email: %w", err)
	}
	if !applied {
		return ErrEmailTaken
	}

	query := `INSERT INTO users (uid, email, name, avatar, password_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if err := s.Query(query, u.UID, email, u.Name, u.Avatar, u.PasswordHash, u.CreatedAt).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("insert user %s: %w", u.UID, err)
	}
	return nil
}

func (s *Session) User(ctx context.Context, uid string) (*UserRecord, error) {
	u := UserRecord{UID: uid}
	err := s.Query(`SELECT email, name, avatar, password_hash, created_at FROM users WHERE uid = ?`, uid).
		WithContext(ctx).
		Scan(&u.Email, &u.Name, &u.Avatar, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Session) UserByEmail(ctx context.Context, email string) (*UserRecord, error) {
	var uid string
	err := s.Query(`SELECT uid FROM users_by_email WHERE email = ?`, normalizeEmail(email)).WithContext(ctx).Scan(&uid)
	if err != nil {
		return nil, notFound(err)
	}
	return s.User(ctx, uid)
}

// SetUserName and SetUserAvatar upsert the public profile fields.
func (s *Session) SetUserName(ctx context.Context, uid, name string) error {
	return s.Query(`UPDATE users SET name = ? WHERE uid = ?`, name, uid).WithContext(ctx).Exec()
}

func (s *Session) SetUserAvatar(ctx context.Context, uid, avatar string) error {
	return s.Query(`UPDATE users SET avatar = ? WHERE uid = ?`, avatar, uid).WithContext(ctx).Exec()
}

// Profiles returns the public profile of every user.
func (s *Session) Profiles(ctx context.Context) (map[string]model.Profile, error) {
	iter := s.Query(`SELECT uid, name, avatar FROM users`).WithContext(ctx).Iter()
	out := make(map[string]model.Profile)
	var uid string
	var p model.Profile
	for iter.Scan(&uid, &p.Name, &p.Avatar) {
		out[uid] = p
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	return out, nil
}

