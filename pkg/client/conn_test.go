package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/devchat/pkg/protocol"
	"github.com/mahaj/devchat/pkg/realtime"
	"github.com/mahaj/devchat/pkg/snowflake"
)

// testGateway speaks the gateway protocol over a shared tree, without
// authorization or a bus.
type testGateway struct {
	tree *realtime.Tree
	srv  *httptest.Server
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	g := &testGateway{tree: realtime.NewTree(node)}
	g.srv = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *testGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws"
}

func (g *testGateway) serve(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("token")
	if uid == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	session := uid + "-session"
	var mu sync.Mutex
	send := func(t protocol.FrameType, id uint64, data any) {
		frame, _ := protocol.Encode(t, id, data)
		mu.Lock()
		defer mu.Unlock()
		_ = ws.WriteMessage(websocket.TextMessage, frame)
	}
	listeners := make(map[uint64]*realtime.Listener)
	defer func() {
		for _, l := range listeners {
			g.tree.Off(l)
		}
		for _, p := range g.tree.TakeOnDisconnect(session) {
			_ = g.tree.Remove(p)
		}
	}()

	send(protocol.TypeConnected, 0, protocol.Connected{UID: uid, Session: session})
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.ParseEnvelope(raw)
		if err != nil {
			continue
		}
		var ack protocol.Ack
		switch env.Type {
		case protocol.TypeSubscribe:
			var s protocol.Subscribe
			_ = env.Decode(&s)
			l, err := g.tree.On(s.Path, s.Event, func(snap realtime.Snapshot) {
				send(protocol.TypeEvent, 0, protocol.Event{Sub: s.Sub, Event: s.Event, Path: snap.Path, Key: snap.Key, Value: snap.Value})
			})
			if err != nil {
				err = &protocol.Error{Code: protocol.ErrCodeInvalidFrame, Message: err.Error()}
				send(protocol.TypeError, env.ID, err)
				continue
			}
			listeners[s.Sub] = l
		case protocol.TypeUnsubscribe:
			var u protocol.Unsubscribe
			_ = env.Decode(&u)
			g.tree.Off(listeners[u.Sub])
			delete(listeners, u.Sub)
		case protocol.TypeOnce:
			var p protocol.PathOnly
			_ = env.Decode(&p)
			ack.Value, _ = g.tree.Get(p.Path)
		case protocol.TypeSet:
			var wr protocol.Write
			_ = env.Decode(&wr)
			_ = g.tree.Set(wr.Path, wr.Value)
		case protocol.TypePush:
			var wr protocol.Write
			_ = env.Decode(&wr)
			ack.Key, _ = g.tree.Push(wr.Path, wr.Value)
		case protocol.TypeUpdate:
			var u protocol.Update
			_ = env.Decode(&u)
			_ = g.tree.Update(u.Path, u.Fields)
		case protocol.TypeRemove:
			var p protocol.PathOnly
			_ = env.Decode(&p)
			_ = g.tree.Remove(p.Path)
		case protocol.TypeOnDisconnectRemove:
			var p protocol.PathOnly
			_ = env.Decode(&p)
			_ = g.tree.OnDisconnectRemove(session, p.Path)
		default:
			send(protocol.TypeError, env.ID, &protocol.Error{Code: protocol.ErrCodeInvalidFrame, Message: "unknown frame"})
			continue
		}
		send(protocol.TypeAck, env.ID, ack)
	}
}

func dial(t *testing.T, g *testGateway, uid string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Dial(ctx, g.url(), uid)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDialRejected(t *testing.T) {
	g := newTestGateway(t)
	_, err := Dial(context.Background(), g.url(), "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestConnSubscribeAndWrite(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	ann := dial(t, g, "ann")
	bo := dial(t, g, "bo")
	assert.Equal(t, "ann", ann.UID())
	assert.Equal(t, "ann-session", ann.Session())

	first, err := bo.Push(ctx, "messages/general", map[string]string{"content": "first"})
	require.NoError(t, err)

	got := make(chan realtime.Snapshot, 10)
	l, err := ann.On("messages/general", realtime.ChildAdded, func(s realtime.Snapshot) { got <- s })
	require.NoError(t, err)
	assert.Equal(t, "messages/general", l.Path())

	snap := <-got
	assert.Equal(t, first, snap.Key)

	second, err := bo.Push(ctx, "messages/general", json.RawMessage(`{"content":"second"}`))
	require.NoError(t, err)
	select {
	case snap = <-got:
		assert.Equal(t, second, snap.Key)
		assert.JSONEq(t, `{"content":"second"}`, string(snap.Value))
	case <-time.After(3 * time.Second):
		t.Fatal("no event for second message")
	}

	ann.Off(l)
	_, err = bo.Push(ctx, "messages/general", map[string]string{"content": "third"})
	require.NoError(t, err)
	// a round trip on ann's connection orders after any stray event
	_, err = ann.Once(ctx, "messages")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConnOffDropsQueuedEvents(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	ann := dial(t, g, "ann")
	bo := dial(t, g, "bo")

	var mu sync.Mutex
	var delivered []string
	msgs, err := ann.On("messages/general", realtime.ChildAdded, func(s realtime.Snapshot) {
		mu.Lock()
		delivered = append(delivered, s.Key)
		mu.Unlock()
	})
	require.NoError(t, err)

	// the first typing event holds the dispatch queue until release closes
	typing := make(chan string, 10)
	release := make(chan struct{})
	_, err = ann.On("typing/general", realtime.ChildAdded, func(s realtime.Snapshot) {
		typing <- s.Key
		if s.Key == "bo" {
			<-release
		}
	})
	require.NoError(t, err)

	require.NoError(t, bo.Set(ctx, "typing/general/bo", "bo"))
	require.Equal(t, "bo", <-typing)

	for range 3 {
		_, err := bo.Push(ctx, "messages/general", map[string]string{"content": "queued"})
		require.NoError(t, err)
	}
	// the round trip guarantees the three events are already queued
	_, err = ann.Once(ctx, "messages")
	require.NoError(t, err)

	ann.Off(msgs)
	close(release)

	// the queue is FIFO, so this event runs after the stale ones
	require.NoError(t, bo.Set(ctx, "typing/general/cy", "cy"))
	select {
	case key := <-typing:
		assert.Equal(t, "cy", key)
	case <-time.After(3 * time.Second):
		t.Fatal("dispatch queue never drained")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, delivered)
}

func TestConnOnceSetUpdate(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	c := dial(t, g, "ann")

	require.NoError(t, c.Set(ctx, "users/ann", map[string]string{"name": "ann"}))
	require.NoError(t, c.Update(ctx, "users/ann", map[string]any{"avatar": "a.png"}))

	snap, err := c.Once(ctx, "users/ann")
	require.NoError(t, err)
	assert.Equal(t, "ann", snap.Key)
	assert.JSONEq(t, `{"name":"ann","avatar":"a.png"}`, string(snap.Value))

	require.NoError(t, c.Remove(ctx, "users/ann"))
	snap, err = c.Once(ctx, "users/ann")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestConnErrorFrame(t *testing.T) {
	g := newTestGateway(t)
	c := dial(t, g, "ann")

	_, err := c.On("channels", realtime.Event("child_moved"), func(realtime.Snapshot) {})
	require.Error(t, err)

	_, err = c.request(context.Background(), "shout", protocol.PathOnly{Path: "x"})
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.ErrCodeInvalidFrame, perr.Code)
}

func TestHandlerMayWrite(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	c := dial(t, g, "ann")

	done := make(chan error, 1)
	_, err := c.On("typing/general", realtime.ChildAdded, func(s realtime.Snapshot) {
		done <- c.Set(ctx, "seen/"+s.Key, true)
	})
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "typing/general/bo", "bo"))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("handler write did not complete")
	}
	_, ok := g.tree.Get("seen/bo")
	assert.True(t, ok)
}

func TestConnDisconnect(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	c, err := Dial(ctx, g.url(), "ann")
	require.NoError(t, err)

	states := make(chan bool, 4)
	c.OnConnected(func(connected bool) { states <- connected })
	assert.True(t, <-states)

	require.NoError(t, c.Set(ctx, "typing/general/ann", "ann"))
	require.NoError(t, c.OnDisconnectRemove(ctx, "typing/general/ann"))

	_ = c.Close()
	assert.False(t, <-states)
	assert.ErrorIs(t, c.Set(ctx, "x", 1), ErrClosed)

	assert.Eventually(t, func() bool {
		_, ok := g.tree.Get("typing/general/ann")
		return !ok
	}, 3*time.Second, 10*time.Millisecond)
}
