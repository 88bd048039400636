package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/devchat/pkg/auth"
	"github.com/mahaj/devchat/pkg/bus"
	"github.com/mahaj/devchat/pkg/presence"
	"github.com/mahaj/devchat/pkg/protocol"
	"github.com/mahaj/devchat/pkg/realtime"
	"github.com/mahaj/devchat/pkg/snowflake"
)

type fakeHydrator struct {
	mu    sync.Mutex
	data  map[string]string
	calls map[string]int
	held  map[string]chan struct{}
}

func (f *fakeHydrator) Hydrate(ctx context.Context, p string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls[p]++
	gate := f.held[p]
	v, ok := f.data[p]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if ok {
		return json.RawMessage(v), nil
	}
	return nil, nil
}

// hold makes loads of p wait until the returned func is called.
func (f *fakeHydrator) hold(p string) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held == nil {
		f.held = make(map[string]chan struct{})
	}
	gate := make(chan struct{})
	f.held[p] = gate
	return func() { close(gate) }
}

func (f *fakeHydrator) count(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[p]
}

type testGateway struct {
	srv      *httptest.Server
	issuer   *auth.Issuer
	redis    *miniredis.Miniredis
	hydrator *fakeHydrator
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	typing := presence.NewTyping(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	hydrator := &fakeHydrator{
		data: map[string]string{
			"messages/general": `{"0000000000000000001":{"timestamp":1,"user":{"id":"cy","name":"cy"},"content":"earlier"}}`,
		},
		calls: make(map[string]int),
	}

	local := bus.NewLocal()
	hub := NewHub(HubConfig{IDs: node, Publisher: local, Typing: typing, Hydrator: hydrator})
	local.Subscribe(hub.Deliver)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	issuer := auth.NewIssuer("test-secret", time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWs(ctx, hub, issuer, w, r)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = typing.Close()
	})
	return &testGateway{srv: srv, issuer: issuer, redis: mr, hydrator: hydrator}
}

type wsClient struct {
	t      *testing.T
	conn   *websocket.Conn
	nextID uint64
	events []protocol.Event
}

func (g *testGateway) dial(t *testing.T, uid string) *wsClient {
	t.Helper()
	token, err := g.issuer.GenerateToken(uid, uid+"@example.com")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &wsClient{t: t, conn: conn}
	env := c.read()
	require.Equal(t, protocol.TypeConnected, env.Type)
	var connected protocol.Connected
	require.NoError(t, env.Decode(&connected))
	assert.Equal(t, uid, connected.UID)
	return c
}

func (c *wsClient) send(t protocol.FrameType, data any) uint64 {
	c.nextID++
	frame, err := protocol.Encode(t, c.nextID, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
	return c.nextID
}

func (c *wsClient) read() *protocol.Envelope {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, msg, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	env, err := protocol.ParseEnvelope(msg)
	require.NoError(c.t, err)
	return env
}

// reply reads until the ack or error for id, buffering events on the way.
func (c *wsClient) reply(id uint64) *protocol.Envelope {
	c.t.Helper()
	for {
		env := c.read()
		switch env.Type {
		case protocol.TypeEvent:
			var ev protocol.Event
			require.NoError(c.t, env.Decode(&ev))
			c.events = append(c.events, ev)
		case protocol.TypeAck, protocol.TypeError:
			if env.ID == id {
				return env
			}
		}
	}
}

func (c *wsClient) ack(id uint64) protocol.Ack {
	c.t.Helper()
	env := c.reply(id)
	require.Equal(c.t, protocol.TypeAck, env.Type, string(env.Data))
	var ack protocol.Ack
	if len(env.Data) > 0 {
		require.NoError(c.t, env.Decode(&ack))
	}
	return ack
}

func (c *wsClient) errorCode(id uint64) string {
	c.t.Helper()
	env := c.reply(id)
	require.Equal(c.t, protocol.TypeError, env.Type)
	var e protocol.Error
	require.NoError(c.t, env.Decode(&e))
	return e.Code
}

// event returns the next event for sub.
func (c *wsClient) event(sub uint64) protocol.Event {
	c.t.Helper()
	for {
		for i, ev := range c.events {
			if ev.Sub == sub {
				c.events = append(c.events[:i], c.events[i+1:]...)
				return ev
			}
		}
		env := c.read()
		if env.Type != protocol.TypeEvent {
			continue
		}
		var ev protocol.Event
		require.NoError(c.t, env.Decode(&ev))
		c.events = append(c.events, ev)
	}
}

func TestUnauthenticatedDialRejected(t *testing.T) {
	g := newTestGateway(t)
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubscribeSeesHistoryThenNewMessages(t *testing.T) {
	g := newTestGateway(t)
	ann := g.dial(t, "ann")
	bo := g.dial(t, "bo")

	ann.ack(ann.send(protocol.TypeSubscribe, protocol.Subscribe{Sub: 1, Path: "messages/general", Event: realtime.ChildAdded}))
	first := ann.event(1)
	assert.Equal(t, "0000000000000000001", first.Key)

	msg := `{"user":{"id":"bo","name":"bo","avatar":""},"content":"<b>hello</b>","timestamp":{".sv":"timestamp"}}`
	ack := bo.ack(bo.send(protocol.TypePush, protocol.Write{Path: "messages/general", Value: json.RawMessage(msg)}))
	require.NotEmpty(t, ack.Key)

	ev := ann.event(1)
	assert.Equal(t, ack.Key, ev.Key)
	assert.Equal(t, realtime.ChildAdded, ev.Event)
	var got struct {
		Content   string `json:"content"`
		Timestamp int64  `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(ev.Value, &got))
	assert.Equal(t, "hello", got.Content)
	assert.Greater(t, got.Timestamp, int64(0))

	// a second subscriber does not hydrate again
	bo.ack(bo.send(protocol.TypeSubscribe, protocol.Subscribe{Sub: 9, Path: "messages/general", Event: realtime.ChildAdded}))
	assert.Equal(t, 1, g.hydrator.count("messages/general"))
}

func TestSlowHydrationDoesNotStallOtherPaths(t *testing.T) {
	g := newTestGateway(t)
	release := g.hydrator.hold("messages/general")
	ann := g.dial(t, "ann")
	bo := g.dial(t, "bo")

	annSub := ann.send(protocol.TypeSubscribe, protocol.Subscribe{Sub: 1, Path: "messages/general", Event: realtime.ChildAdded})
	boSub := bo.send(protocol.TypeSubscribe, protocol.Subscribe{Sub: 1, Path: "messages/general", Event: realtime.ChildAdded})

	// served while messages/general is still loading
	ann.ack(ann.send(protocol.TypeSubscribe, protocol.Subscribe{Sub: 2, Path: "channels", Event: realtime.ChildAdded}))
	ack := ann.ack(ann.send(protocol.TypeOnce, protocol.PathOnly{Path: "typing/general"}))
	assert.Empty(t, ack.Value)

	release()
	ann.ack(annSub)
	bo.ack(boSub)
	assert.Equal(t, "0000000000000000001", ann.event(1).Key)
	assert.Equal(t, "0000000000000000001", bo.event(1).Key)
	assert.Equal(t, 1, g.hydrator.count("messages/general"))
}

func TestUnsubscribeWhileLoading(t *testing.T) {
	g := newTestGateway(t)
	release := g.hydrator.hold("messages/general")
	ann := g.dial(t, "ann")

	sub := ann.send(protocol.TypeSubscribe, protocol.Subscribe{Sub: 1, Path: "messages/general", Event: realtime.ChildAdded})
	unsub := ann.send(protocol.TypeUnsubscribe, protocol.Unsubscribe{Sub: 1})
	// the cancelled subscribe is acked ahead of the unsubscribe
	ann.ack(sub)
	ann.ack(unsub)

	once := ann.send(protocol.TypeOnce, protocol.PathOnly{Path: "messages/general"})
	release()
	ack := ann.ack(once)
	assert.Contains(t, string(ack.Value), "earlier")
	for _, ev := range ann.events {
		assert.NotEqual(t, uint64(1), ev.Sub)
	}
}

func TestForbiddenFrames(t *testing.T) {
	g := newTestGateway(t)
	ann := g.dial(t, "ann")

	id := ann.send(protocol.TypeSet, protocol.Write{Path: "users/bo/name", Value: json.RawMessage(`"mallory"`)})
	assert.Equal(t, protocol.ErrCodeForbidden, ann.errorCode(id))

	id = ann.send(protocol.TypeSubscribe, protocol.Subscribe{Sub: 1, Path: "privateMessages/dm:bo:cy", Event: realtime.ChildAdded})
	assert.Equal(t, protocol.ErrCodeForbidden, ann.errorCode(id))

	id = ann.send(protocol.TypePush, protocol.Write{Path: "messages/general", Value: json.RawMessage(`{"user":{"id":"bo"},"content":"x"}`)})
	assert.Equal(t, protocol.ErrCodeForbidden, ann.errorCode(id))

	id = ann.send(protocol.TypeSubscribe, protocol.Subscribe{Sub: 2, Path: "channels", Event: "child_moved"})
	assert.Equal(t, protocol.ErrCodeInvalidFrame, ann.errorCode(id))

	id = ann.send("shout", protocol.PathOnly{Path: "channels"})
	assert.Equal(t, protocol.ErrCodeInvalidFrame, ann.errorCode(id))
}

func TestOnceAndUnsubscribe(t *testing.T) {
	g := newTestGateway(t)
	ann := g.dial(t, "ann")

	ann.ack(ann.send(protocol.TypeSet, protocol.Write{Path: "users/ann", Value: json.RawMessage(`{"name":"ann","avatar":"a.png"}`)}))
	ack := ann.ack(ann.send(protocol.TypeOnce, protocol.PathOnly{Path: "users/ann"}))
	assert.JSONEq(t, `{"name":"ann","avatar":"a.png"}`, string(ack.Value))

	ann.ack(ann.send(protocol.TypeSubscribe, protocol.Subscribe{Sub: 5, Path: "users/ann/colors", Event: realtime.ChildAdded}))
	ann.ack(ann.send(protocol.TypeUnsubscribe, protocol.Unsubscribe{Sub: 5}))
	ann.ack(ann.send(protocol.TypePush, protocol.Write{Path: "users/ann/colors", Value: json.RawMessage(`{"primary":"#000","secondary":"#fff"}`)}))

	ack = ann.ack(ann.send(protocol.TypeOnce, protocol.PathOnly{Path: "users/ann/colors"}))
	assert.Contains(t, string(ack.Value), "#fff")
	for _, ev := range ann.events {
		assert.NotEqual(t, uint64(5), ev.Sub)
	}
}

func TestDisconnectRemovesTypingMarker(t *testing.T) {
	g := newTestGateway(t)
	ann := g.dial(t, "ann")
	bo := g.dial(t, "bo")

	bo.ack(bo.send(protocol.TypeSubscribe, protocol.Subscribe{Sub: 1, Path: "typing/general", Event: realtime.ChildRemoved}))

	ann.ack(ann.send(protocol.TypeSet, protocol.Write{Path: "typing/general/ann", Value: json.RawMessage(`"ann"`)}))
	ann.ack(ann.send(protocol.TypeOnDisconnectRemove, protocol.PathOnly{Path: "typing/general/ann"}))
	assert.Equal(t, "ann", g.redis.HGet("typing:general", "ann"))

	require.NoError(t, ann.conn.Close())

	ev := bo.event(1)
	assert.Equal(t, "ann", ev.Key)
	assert.Equal(t, realtime.ChildRemoved, ev.Event)
	assert.Eventually(t, func() bool {
		return g.redis.HGet("typing:general", "ann") == ""
	}, 2*time.Second, 20*time.Millisecond)
}
