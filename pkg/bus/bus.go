// Package bus carries realtime mutations from the gateway that accepted
// them to every gateway replica and to the persistence consumer.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/mahaj/devchat/pkg/realtime"
)

var ErrClosed = errors.New("bus: closed")

type Publisher interface {
	Publish(ctx context.Context, m realtime.Mutation) error
	Close() error
}

// HandlerFunc processes one delivered mutation.
type HandlerFunc func(ctx context.Context, m realtime.Mutation) error

type Subscriber interface {
	// Consume blocks, handing every mutation to fn until ctx is done or the
	// subscriber is closed.
	Consume(ctx context.Context, fn HandlerFunc) error
	Close() error
}

func Encode(m realtime.Mutation) ([]byte, error) {
	return json.Marshal(m)
}

func Decode(b []byte) (realtime.Mutation, error) {
	var m realtime.Mutation
	err := json.Unmarshal(b, &m)
	return m, err
}

// Local is an in-process bus for single node runs and tests. Publish
// delivers synchronously to every subscriber registered with Subscribe.
type Local struct {
	mu       sync.RWMutex
	handlers []HandlerFunc
	closed   bool
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Subscribe(fn HandlerFunc) {
	l.mu.Lock()
	l.handlers = append(l.handlers, fn)
	l.mu.Unlock()
}

func (l *Local) Publish(ctx context.Context, m realtime.Mutation) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	handlers := append([]HandlerFunc(nil), l.handlers...)
	l.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Consume registers fn and blocks until ctx is done.
func (l *Local) Consume(ctx context.Context, fn HandlerFunc) error {
	l.Subscribe(fn)
	<-ctx.Done()
	return ctx.Err()
}

func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
