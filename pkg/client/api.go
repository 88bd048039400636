// Package client talks to the DevChat services: the HTTP API for accounts,
// uploads and history, and the gateway websocket for the realtime tree.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/views"
)

var (
	_ views.Auth    = (*API)(nil)
	_ views.Storage = (*API)(nil)
)

// APIError is a non-2xx response. Message is the server's explanation.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

type HistoryEntry struct {
	Key string `json:"key"`
	model.Message
}

type Conversation struct {
	UserID      string    `json:"user_id"`
	OtherUserID string    `json:"other_user_id"`
	LastUpdated time.Time `json:"last_updated"`
	UnreadCount int64     `json:"unread_count"`
}

// API is a client of the HTTP API. It keeps the token of the last sign in.
type API struct {
	baseURL string
	http    *http.Client

	mu    sync.Mutex
	token string
	user  model.User
}

func NewAPI(baseURL string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *API) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *API) User() model.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}

// SetToken restores a session saved earlier.
func (a *API) SetToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

func (a *API) do(ctx context.Context, method, p string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+p, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if r, ok := body.(*progressReader); ok {
		req.ContentLength = r.total
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		if e.Error == "" {
			e.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", p, err)
	}
	return nil
}

func (a *API) doJSON(ctx context.Context, method, p string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	return a.do(ctx, method, p, body, "application/json", out)
}

type authResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

func (a *API) signedIn(r authResponse) model.User {
	a.mu.Lock()
	a.token = r.Token
	a.user = r.User
	a.mu.Unlock()
	return r.User
}

func (a *API) SignUp(ctx context.Context, username, email, password string) (model.User, error) {
	var r authResponse
	err := a.doJSON(ctx, http.MethodPost, "/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, &r)
	if err != nil {
		return model.User{}, err
	}
	return a.signedIn(r), nil
}

func (a *API) SignIn(ctx context.Context, email, password string) (model.User, error) {
	var r authResponse
	err := a.doJSON(ctx, http.MethodPost, "/login", map[string]string{
		"email":    email,
		"password": password,
	}, &r)
	if err != nil {
		return model.User{}, err
	}
	return a.signedIn(r), nil
}

func (a *API) SignOut() {
	a.mu.Lock()
	a.token = ""
	a.user = model.User{}
	a.mu.Unlock()
}

func (a *API) Me(ctx context.Context) (model.User, error) {
	var u model.User
	err := a.doJSON(ctx, http.MethodGet, "/me", nil, &u)
	return u, err
}

func (a *API) UpdateProfile(ctx context.Context, displayName, photoURL *string) (model.User, error) {
	var u model.User
	err := a.doJSON(ctx, http.MethodPut, "/profile", map[string]*string{
		"display_name": displayName,
		"photo_url":    photoURL,
	}, &u)
	if err != nil {
		return model.User{}, err
	}
	a.mu.Lock()
	a.user = u
	a.mu.Unlock()
	return u, nil
}

// progressReader reports how much of the body has been read by the
// transport.
type progressReader struct {
	r        io.Reader
	sent     int64
	total    int64
	progress views.Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.progress != nil {
			p.progress(p.sent, p.total)
		}
	}
	return n, err
}

// Upload stores data at p and returns its download URL.
func (a *API) Upload(ctx context.Context, p, contentType string, data []byte, progress views.Progress) (string, error) {
	body := &progressReader{r: bytes.NewReader(data), total: int64(len(data)), progress: progress}
	var r struct {
		DownloadURL string `json:"download_url"`
	}
	if err := a.do(ctx, http.MethodPut, "/storage/"+strings.TrimLeft(p, "/"), body, contentType, &r); err != nil {
		return "", err
	}
	return r.DownloadURL, nil
}

func (a *API) History(ctx context.Context, channelID string, private bool, limit int) ([]HistoryEntry, error) {
	q := url.Values{}
	q.Set("channel_id", channelID)
	q.Set("private", strconv.FormatBool(private))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []HistoryEntry
	err := a.doJSON(ctx, http.MethodGet, "/history?"+q.Encode(), nil, &out)
	return out, err
}

func (a *API) Typing(ctx context.Context, channelID string) ([]model.TypingUser, error) {
	var out []model.TypingUser
	err := a.doJSON(ctx, http.MethodGet, "/channels/"+url.PathEscape(channelID)+"/typing", nil, &out)
	return out, err
}

func (a *API) Conversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	err := a.doJSON(ctx, http.MethodGet, "/conversations", nil, &out)
	return out, err
}

func (a *API) MarkRead(ctx context.Context, otherUserID string) error {
	return a.doJSON(ctx, http.MethodPost, "/conversations/read", map[string]string{"other_user_id": otherUserID}, nil)
}
