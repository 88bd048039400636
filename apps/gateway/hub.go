package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/bus"
	"github.com/mahaj/devchat/pkg/db"
	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/protocol"
	"github.com/mahaj/devchat/pkg/realtime"
	"github.com/mahaj/devchat/pkg/snowflake"
)

// TypingMirror receives every typing marker change written through this
// gateway.
type TypingMirror interface {
	Set(ctx context.Context, channelID, uid, name string) error
	Remove(ctx context.Context, channelID, uid string) error
}

// Hydrator loads persisted subtrees.
type Hydrator interface {
	Hydrate(ctx context.Context, path string) (json.RawMessage, error)
}

// request is a read side operation executed by the hub goroutine.
type request struct {
	client *Client
	id     uint64
	op     protocol.FrameType
	sub    protocol.Subscribe
	unsub  protocol.Unsubscribe
	path   string
}

// hydration is the result of loading one persisted subtree off the hub
// goroutine.
type hydration struct {
	path string
	raw  json.RawMessage
	err  error
}

// Hub owns the realtime tree. Subscriptions, reads and mutations delivered
// by the bus are all executed on the Run goroutine, so a new listener sees
// the existing children before any later change.
type Hub struct {
	tree      *realtime.Tree
	ids       *snowflake.Node
	publisher bus.Publisher
	typing    TypingMirror
	hydrator  Hydrator

	clients  map[*Client]bool
	hydrated map[string]bool
	// requests parked until their path is hydrated, by path
	loading  map[string][]request

	register   chan *Client
	unregister chan *Client
	requests   chan request
	apply      chan realtime.Mutation
	loaded     chan hydration
	done       chan struct{}

	now func() time.Time
}

type HubConfig struct {
	IDs       *snowflake.Node
	Publisher bus.Publisher
	Typing    TypingMirror // optional
	Hydrator  Hydrator     // optional
}

func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		tree:       realtime.NewTree(cfg.IDs),
		ids:        cfg.IDs,
		publisher:  cfg.Publisher,
		typing:     cfg.Typing,
		hydrator:   cfg.Hydrator,
		clients:    make(map[*Client]bool),
		hydrated:   make(map[string]bool),
		loading:    make(map[string][]request),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		requests:   make(chan request, 64),
		apply:      make(chan realtime.Mutation, 256),
		loaded:     make(chan hydration),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			h.drop(client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			log.Info().Str("uid", client.uid).Str("session", client.session).Msg("client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				log.Info().Str("uid", client.uid).Str("session", client.session).Msg("client unregistered")
			}

		case req := <-h.requests:
			if _, ok := h.clients[req.client]; !ok {
				continue
			}
			h.serve(ctx, req)

		case res := <-h.loaded:
			h.finishHydration(ctx, res)

		case m := <-h.apply:
			if err := h.tree.Apply(m); err != nil {
				log.Error().Err(err).Str("path", m.Path).Str("op", string(m.Op)).Msg("failed to apply mutation")
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	for _, l := range client.subs {
		h.tree.Off(l)
	}
	client.subs = nil
	delete(h.clients, client)
	client.close()
}

// Deliver hands a mutation received from the bus to the hub goroutine.
func (h *Hub) Deliver(ctx context.Context, m realtime.Mutation) error {
	select {
	case h.apply <- m:
		return nil
	case <-h.done:
		return bus.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(req request) {
	select {
	case h.requests <- req:
	case <-h.done:
	}
}

func (h *Hub) serve(ctx context.Context, req request) {
	c := req.client
	switch req.op {
	case protocol.TypeSubscribe:
		if h.park(ctx, req, req.sub.Path) {
			return
		}
		if old, ok := c.subs[req.sub.Sub]; ok {
			h.tree.Off(old)
		}
		sub := req.sub
		l, err := h.tree.On(sub.Path, sub.Event, func(s realtime.Snapshot) {
			c.sendEvent(sub.Sub, sub.Event, s)
		})
		if err != nil {
			c.sendError(req.id, err)
			return
		}
		c.subs[sub.Sub] = l
		c.sendAck(req.id, protocol.Ack{})

	case protocol.TypeUnsubscribe:
		h.unpark(c, req.unsub)
		if req.unsub.Sub != 0 {
			if l, ok := c.subs[req.unsub.Sub]; ok {
				h.tree.Off(l)
				delete(c.subs, req.unsub.Sub)
			}
		} else {
			for id, l := range c.subs {
				if l.Path() == req.unsub.Path {
					h.tree.Off(l)
					delete(c.subs, id)
				}
			}
		}
		c.sendAck(req.id, protocol.Ack{})

	case protocol.TypeOnce:
		if h.park(ctx, req, req.path) {
			return
		}
		v, _ := h.tree.Get(req.path)
		c.sendAck(req.id, protocol.Ack{Value: v})
	}
}

// park holds req back while the persisted subtree behind p is loaded. The
// first request for a path starts the load; later ones wait for it.
func (h *Hub) park(ctx context.Context, req request, p string) bool {
	if h.hydrator == nil || db.Classify(p).Kind == db.TargetNone || h.hydrated[p] {
		return false
	}
	waiting, started := h.loading[p]
	h.loading[p] = append(waiting, req)
	if !started {
		go h.load(ctx, p)
	}
	return true
}

// load queries storage outside the hub goroutine.
func (h *Hub) load(ctx context.Context, p string) {
	raw, err := h.hydrator.Hydrate(ctx, p)
	select {
	case h.loaded <- hydration{path: p, raw: raw, err: err}:
	case <-h.done:
	}
}

// finishHydration merges a finished load into the tree and serves the requests
// parked on it. A failed load fails them and is retried by the next read.
func (h *Hub) finishHydration(ctx context.Context, res hydration) {
	waiting := h.loading[res.path]
	delete(h.loading, res.path)

	err := res.err
	if err == nil && len(res.raw) > 0 {
		err = h.tree.Load(res.path, res.raw)
	}
	if err != nil {
		err = fmt.Errorf("load %s: %w", res.path, err)
		log.Error().Err(err).Msg("hydration failed")
	} else {
		h.hydrated[res.path] = true
		log.Debug().Str("path", res.path).Int("bytes", len(res.raw)).Msg("hydrated")
	}

	for _, req := range waiting {
		if _, ok := h.clients[req.client]; !ok {
			continue
		}
		if err != nil {
			req.client.sendError(req.id, err)
			continue
		}
		h.serve(ctx, req)
	}
}

// unpark drops parked subscribes that an unsubscribe from c cancels. They
// are acked, then never registered.
func (h *Hub) unpark(c *Client, u protocol.Unsubscribe) {
	for p, waiting := range h.loading {
		kept := waiting[:0]
		for _, req := range waiting {
			cancelled := req.client == c && req.op == protocol.TypeSubscribe &&
				((u.Sub != 0 && req.sub.Sub == u.Sub) || (u.Sub == 0 && req.sub.Path == u.Path))
			if cancelled {
				c.sendAck(req.id, protocol.Ack{})
				continue
			}
			kept = append(kept, req)
		}
		h.loading[p] = kept
	}
}

// Write validates a client mutation and publishes it. The mutation reaches
// the tree, and the subscribers, through the bus.
func (h *Hub) Write(ctx context.Context, uid string, m realtime.Mutation) (realtime.Mutation, error) {
	p, err := realtime.CleanPath(m.Path)
	if err != nil {
		return m, err
	}
	m.Path = p
	if m.Op == realtime.OpPush {
		m.Key = h.ids.Key()
	}
	for k := range m.Fields {
		if _, err := realtime.CleanPath(k); err != nil {
			return m, err
		}
	}
	if err := authorizeWrite(uid, m); err != nil {
		return m, err
	}

	now := h.now()
	if m.Value, err = realtime.ResolveServerValues(m.Value, now); err != nil {
		return m, fmt.Errorf("invalid value: %w", err)
	}
	for k, v := range m.Fields {
		if m.Fields[k], err = realtime.ResolveServerValues(v, now); err != nil {
			return m, fmt.Errorf("invalid value for %s: %w", k, err)
		}
	}
	if err := sanitize(uid, &m); err != nil {
		return m, err
	}
	m.Origin = uid
	m.Time = now.UTC()

	if err := h.publisher.Publish(ctx, m); err != nil {
		return m, fmt.Errorf("publish: %w", err)
	}
	h.mirrorTyping(ctx, m)
	return m, nil
}

// Disconnect runs the removals registered by a session.
func (h *Hub) Disconnect(ctx context.Context, c *Client) {
	for _, p := range h.tree.TakeOnDisconnect(c.session) {
		m := realtime.Mutation{Op: realtime.OpRemove, Path: p, Origin: c.uid, Time: h.now().UTC()}
		if err := h.publisher.Publish(ctx, m); err != nil {
			log.Error().Err(err).Str("path", p).Msg("failed to publish disconnect removal")
			continue
		}
		h.mirrorTyping(ctx, m)
	}
}

func (h *Hub) mirrorTyping(ctx context.Context, m realtime.Mutation) {
	if h.typing == nil {
		return
	}
	for _, p := range m.Touched() {
		segs := model.SplitPath(p)
		if len(segs) == 0 || segs[0] != model.TypingRoot {
			continue
		}
		var err error
		switch {
		case len(segs) == 3 && m.Op != realtime.OpRemove:
			var name string
			value := m.Value
			if m.Op == realtime.OpUpdate {
				value = m.Fields[strings.TrimPrefix(p, m.Path+"/")]
			}
			if json.Unmarshal(value, &name) != nil || name == "" {
				err = h.typing.Remove(ctx, segs[1], segs[2])
			} else {
				err = h.typing.Set(ctx, segs[1], segs[2], name)
			}
		case len(segs) == 3:
			err = h.typing.Remove(ctx, segs[1], segs[2])
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("path", p).Msg("failed to mirror typing marker")
		}
	}
}
