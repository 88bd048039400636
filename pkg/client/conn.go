package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/protocol"
	"github.com/mahaj/devchat/pkg/realtime"
	"github.com/mahaj/devchat/pkg/views"
)

var _ views.Database = (*Conn)(nil)

var ErrClosed = errors.New("client: connection closed")

const writeWait = 10 * time.Second

// subscription is the Listener handed out by Conn.On.
type subscription struct {
	id      uint64
	path    string
	event   realtime.Event
	handler realtime.Handler
}

func (s *subscription) Path() string          { return s.path }
func (s *subscription) Event() realtime.Event { return s.event }

// Conn is a realtime session with a gateway. Event handlers run one at a
// time on a dispatch goroutine, separate from the read loop, so a handler
// may issue writes and wait for their acks.
type Conn struct {
	ws      *websocket.Conn
	uid     string
	session string

	writeMu sync.Mutex

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]chan *protocol.Envelope
	subs      map[uint64]*subscription
	watchers  map[uint64]func(bool)
	connected bool
	err       error

	queue *dispatchQueue
	done  chan struct{}
}

// Dial connects to the gateway websocket at rawURL, authenticating with
// token.
func Dial(ctx context.Context, rawURL, token string) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, &APIError{Status: resp.StatusCode, Message: "Invalid token"}
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(writeWait))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("read connected frame: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})
	env, err := protocol.ParseEnvelope(raw)
	if err != nil || env.Type != protocol.TypeConnected {
		ws.Close()
		return nil, fmt.Errorf("unexpected first frame: %s", raw)
	}
	var hello protocol.Connected
	if err := env.Decode(&hello); err != nil {
		ws.Close()
		return nil, err
	}

	c := &Conn{
		ws:        ws,
		uid:       hello.UID,
		session:   hello.Session,
		pending:   make(map[uint64]chan *protocol.Envelope),
		subs:      make(map[uint64]*subscription),
		watchers:  make(map[uint64]func(bool)),
		connected: true,
		queue:     newDispatchQueue(),
		done:      make(chan struct{}),
	}
	go c.queue.run()
	go c.readLoop()
	log.Debug().Str("uid", c.uid).Str("session", c.session).Msg("connected to gateway")
	return c, nil
}

func (c *Conn) UID() string     { return c.uid }
func (c *Conn) Session() string { return c.session }

// Close ends the session; the gateway then runs the on-disconnect removals.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}

// Done is closed when the read loop ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) readLoop() {
	var err error
	defer func() { c.shutdown(err) }()
	for {
		var raw []byte
		_, raw, err = c.ws.ReadMessage()
		if err != nil {
			return
		}
		env, perr := protocol.ParseEnvelope(raw)
		if perr != nil {
			log.Warn().Err(perr).Msg("dropping malformed frame")
			continue
		}
		switch env.Type {
		case protocol.TypeAck, protocol.TypeError:
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ok {
				ch <- env
			}
		case protocol.TypeEvent:
			var ev protocol.Event
			if derr := env.Decode(&ev); derr != nil {
				log.Warn().Err(derr).Msg("dropping malformed event")
				continue
			}
			sub, ok := c.live(ev.Sub)
			if !ok {
				continue
			}
			snap := ev.Snapshot()
			c.queue.push(func() {
				// Off may have run while the event sat in the queue
				if _, ok := c.live(sub.id); ok {
					sub.handler(snap)
				}
			})
		}
	}
}

func (c *Conn) live(id uint64) (*subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[id]
	return sub, ok
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = ErrClosed
		if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			c.err = fmt.Errorf("%w: %v", ErrClosed, err)
		}
	}
	c.connected = false
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	watchers := make([]func(bool), 0, len(c.watchers))
	for _, fn := range c.watchers {
		watchers = append(watchers, fn)
	}
	c.mu.Unlock()

	for _, fn := range watchers {
		c.queue.push(func() { fn(false) })
	}
	c.queue.close()
	close(c.done)
}

func (c *Conn) send(id uint64, t protocol.FrameType, data any) error {
	frame, err := protocol.Encode(t, id, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) reserve() (uint64, chan *protocol.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, nil, c.err
	}
	c.nextID++
	ch := make(chan *protocol.Envelope, 1)
	c.pending[c.nextID] = ch
	return c.nextID, ch, nil
}

func (c *Conn) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// request sends a frame and waits for its ack.
func (c *Conn) request(ctx context.Context, t protocol.FrameType, data any) (protocol.Ack, error) {
	id, ch, err := c.reserve()
	if err != nil {
		return protocol.Ack{}, err
	}
	if err := c.send(id, t, data); err != nil {
		c.forget(id)
		return protocol.Ack{}, fmt.Errorf("send %s: %w", t, err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return protocol.Ack{}, ctx.Err()
	case env, ok := <-ch:
		if !ok {
			return protocol.Ack{}, c.Err()
		}
		if env.Type == protocol.TypeError {
			var e protocol.Error
			if err := env.Decode(&e); err != nil {
				return protocol.Ack{}, err
			}
			return protocol.Ack{}, &e
		}
		var ack protocol.Ack
		if len(env.Data) > 0 {
			if err := env.Decode(&ack); err != nil {
				return protocol.Ack{}, err
			}
		}
		return ack, nil
	}
}

func marshal(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// On subscribes handler and waits until the gateway has replayed the
// current state.
func (c *Conn) On(p string, event realtime.Event, h realtime.Handler) (views.Listener, error) {
	clean, err := realtime.CleanPath(p)
	if err != nil {
		return nil, err
	}
	if !event.Valid() {
		return nil, fmt.Errorf("%w: %q", realtime.ErrUnknownEvent, event)
	}

	c.mu.Lock()
	c.nextID++
	sub := &subscription{id: c.nextID, path: clean, event: event, handler: h}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if _, err := c.request(ctx, protocol.TypeSubscribe, protocol.Subscribe{Sub: sub.id, Path: clean, Event: event}); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// Off stops delivery to l at once and tells the gateway in the background.
func (c *Conn) Off(l views.Listener) {
	sub, ok := l.(*subscription)
	if !ok || sub == nil {
		return
	}
	c.mu.Lock()
	_, known := c.subs[sub.id]
	delete(c.subs, sub.id)
	c.mu.Unlock()
	if known {
		c.notify(protocol.TypeUnsubscribe, protocol.Unsubscribe{Sub: sub.id})
	}
}

func (c *Conn) OffPath(p string) {
	clean, err := realtime.CleanPath(p)
	if err != nil {
		return
	}
	c.mu.Lock()
	for id, sub := range c.subs {
		if sub.path == clean {
			delete(c.subs, id)
		}
	}
	c.mu.Unlock()
	c.notify(protocol.TypeUnsubscribe, protocol.Unsubscribe{Path: clean})
}

// notify sends a frame without waiting for the ack.
func (c *Conn) notify(t protocol.FrameType, data any) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.nextID++
	id := c.nextID
	c.mu.Unlock()
	if err := c.send(id, t, data); err != nil {
		log.Debug().Err(err).Str("type", string(t)).Msg("failed to send frame")
	}
}

func (c *Conn) Once(ctx context.Context, p string) (realtime.Snapshot, error) {
	ack, err := c.request(ctx, protocol.TypeOnce, protocol.PathOnly{Path: p})
	if err != nil {
		return realtime.Snapshot{}, err
	}
	return realtime.Snapshot{Path: p, Key: path.Base(p), Value: ack.Value}, nil
}

func (c *Conn) Set(ctx context.Context, p string, v any) error {
	raw, err := marshal(v)
	if err != nil {
		return err
	}
	_, err = c.request(ctx, protocol.TypeSet, protocol.Write{Path: p, Value: raw})
	return err
}

func (c *Conn) Update(ctx context.Context, p string, fields map[string]any) error {
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		raw, err := marshal(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = raw
	}
	_, err := c.request(ctx, protocol.TypeUpdate, protocol.Update{Path: p, Fields: out})
	return err
}

func (c *Conn) Push(ctx context.Context, p string, v any) (string, error) {
	raw, err := marshal(v)
	if err != nil {
		return "", err
	}
	ack, err := c.request(ctx, protocol.TypePush, protocol.Write{Path: p, Value: raw})
	if err != nil {
		return "", err
	}
	return ack.Key, nil
}

func (c *Conn) Remove(ctx context.Context, p string) error {
	_, err := c.request(ctx, protocol.TypeRemove, protocol.PathOnly{Path: p})
	return err
}

func (c *Conn) OnDisconnectRemove(ctx context.Context, p string) error {
	_, err := c.request(ctx, protocol.TypeOnDisconnectRemove, protocol.PathOnly{Path: p})
	return err
}

func (c *Conn) CancelOnDisconnect(ctx context.Context, p string) error {
	_, err := c.request(ctx, protocol.TypeCancelOnDisconnect, protocol.PathOnly{Path: p})
	return err
}

// OnConnected calls fn with the current state on the dispatch goroutine,
// and again with false when the connection drops.
func (c *Conn) OnConnected(fn func(connected bool)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.watchers[id] = fn
	connected := c.connected
	c.mu.Unlock()

	c.queue.push(func() { fn(connected) })
	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

// dispatchQueue runs callbacks in order on one goroutine. It never blocks
// the producer.
type dispatchQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	closed bool
}

func newDispatchQueue() *dispatchQueue {
	q := &dispatchQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *dispatchQueue) push(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, fn)
	q.cond.Signal()
}

// close lets the queue drain what it holds, then stop.
func (q *dispatchQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *dispatchQueue) run() {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		fn()
	}
}
