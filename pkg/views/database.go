// Package views holds the client side of DevChat: a small state store and
// the view models that subscribe to the realtime database and derive what
// the screens show.
package views

import (
	"context"

	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/realtime"
)

// ServerTimestamp is replaced by the gateway with the time it applied the
// write, in epoch milliseconds.
var ServerTimestamp = map[string]string{".sv": "timestamp"}

// Listener is the handle returned by Database.On.
type Listener interface {
	Path() string
	Event() realtime.Event
}

// Database is the realtime store as the views see it. Handlers may be
// called from another goroutine and may call back into the Database.
type Database interface {
	On(p string, event realtime.Event, h realtime.Handler) (Listener, error)
	Off(l Listener)
	OffPath(p string)
	Once(ctx context.Context, p string) (realtime.Snapshot, error)
	Set(ctx context.Context, p string, v any) error
	Update(ctx context.Context, p string, fields map[string]any) error
	Push(ctx context.Context, p string, v any) (string, error)
	Remove(ctx context.Context, p string) error
	OnDisconnectRemove(ctx context.Context, p string) error
	// OnConnected reports the connection state now and on every change
	// until cancel is called.
	OnConnected(fn func(connected bool)) (cancel func())
}

// Auth is the email and password account service.
type Auth interface {
	SignIn(ctx context.Context, email, password string) (model.User, error)
	SignUp(ctx context.Context, username, email, password string) (model.User, error)
	UpdateProfile(ctx context.Context, displayName, photoURL *string) (model.User, error)
	SignOut()
}

// Progress is called as upload bytes are written.
type Progress func(sent, total int64)

// Storage uploads objects and returns their download URL.
type Storage interface {
	Upload(ctx context.Context, p, contentType string, data []byte, progress Progress) (string, error)
}

// subscriptions tracks what a view registered so it can remove exactly
// those listeners again.
type subscriptions struct {
	listeners []Listener
	cancels   []func()
}

func (s *subscriptions) add(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *subscriptions) addCancel(fn func()) {
	s.cancels = append(s.cancels, fn)
}

func (s *subscriptions) release(db Database) {
	for _, l := range s.listeners {
		db.Off(l)
	}
	for _, fn := range s.cancels {
		fn()
	}
	s.listeners = nil
	s.cancels = nil
}

func (s *subscriptions) len() int {
	return len(s.listeners) + len(s.cancels)
}
