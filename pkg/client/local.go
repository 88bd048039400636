package client

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/mahaj/devchat/pkg/realtime"
	"github.com/mahaj/devchat/pkg/views"
)

var _ views.Database = (*Local)(nil)

// Local exposes an in-process realtime.Tree as a views.Database. Handlers
// run on the writer's goroutine. There is no authorization.
type Local struct {
	tree    *realtime.Tree
	session string
	now     func() time.Time

	mu        sync.Mutex
	seq       uint64
	watchers  map[uint64]func(bool)
	connected bool
}

func NewLocal(tree *realtime.Tree, session string) *Local {
	return &Local{
		tree:      tree,
		session:   session,
		now:       time.Now,
		watchers:  make(map[uint64]func(bool)),
		connected: true,
	}
}

func (l *Local) Tree() *realtime.Tree {
	return l.tree
}

func (l *Local) encode(v any) (json.RawMessage, error) {
	raw, err := marshal(v)
	if err != nil {
		return nil, err
	}
	return realtime.ResolveServerValues(raw, l.now())
}

func (l *Local) On(p string, event realtime.Event, h realtime.Handler) (views.Listener, error) {
	lis, err := l.tree.On(p, event, h)
	if err != nil {
		return nil, err
	}
	return lis, nil
}

func (l *Local) Off(lis views.Listener) {
	if x, ok := lis.(*realtime.Listener); ok {
		l.tree.Off(x)
	}
}

func (l *Local) OffPath(p string) {
	l.tree.OffPath(p)
}

func (l *Local) Once(_ context.Context, p string) (realtime.Snapshot, error) {
	clean, err := realtime.CleanPath(p)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	raw, _ := l.tree.Get(clean)
	return realtime.Snapshot{Path: clean, Key: path.Base(clean), Value: raw}, nil
}

func (l *Local) Set(_ context.Context, p string, v any) error {
	raw, err := l.encode(v)
	if err != nil {
		return err
	}
	return l.tree.Set(p, raw)
}

func (l *Local) Update(_ context.Context, p string, fields map[string]any) error {
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		raw, err := l.encode(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = raw
	}
	return l.tree.Update(p, out)
}

func (l *Local) Push(_ context.Context, p string, v any) (string, error) {
	raw, err := l.encode(v)
	if err != nil {
		return "", err
	}
	return l.tree.Push(p, raw)
}

func (l *Local) Remove(_ context.Context, p string) error {
	return l.tree.Remove(p)
}

func (l *Local) OnDisconnectRemove(_ context.Context, p string) error {
	return l.tree.OnDisconnectRemove(l.session, p)
}

// OnConnected calls fn at once, on the caller's goroutine.
func (l *Local) OnConnected(fn func(bool)) func() {
	l.mu.Lock()
	l.seq++
	id := l.seq
	l.watchers[id] = fn
	connected := l.connected
	l.mu.Unlock()

	fn(connected)
	return func() {
		l.mu.Lock()
		delete(l.watchers, id)
		l.mu.Unlock()
	}
}

// Disconnect simulates losing the connection: the registered removals run
// and watchers are told.
func (l *Local) Disconnect() error {
	l.mu.Lock()
	l.connected = false
	watchers := make([]func(bool), 0, len(l.watchers))
	for _, fn := range l.watchers {
		watchers = append(watchers, fn)
	}
	l.mu.Unlock()

	var err error
	for _, p := range l.tree.TakeOnDisconnect(l.session) {
		if rerr := l.tree.Remove(p); rerr != nil && err == nil {
			err = rerr
		}
	}
	for _, fn := range watchers {
		fn(false)
	}
	return err
}
