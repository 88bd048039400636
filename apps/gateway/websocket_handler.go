package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/auth"
	"github.com/mahaj/devchat/pkg/protocol"
	"github.com/mahaj/devchat/pkg/realtime"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer.
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send   chan []byte
	mu     sync.Mutex
	closed bool

	uid     string
	session string

	// Listeners by client chosen subscription id. Owned by the hub goroutine.
	subs map[uint64]*realtime.Listener
}

// enqueue queues a frame without blocking. A client that cannot keep up is
// disconnected.
func (c *Client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		log.Warn().Str("uid", c.uid).Msg("send buffer full, dropping client")
		c.closed = true
		close(c.send)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendFrame(t protocol.FrameType, id uint64, data any) {
	frame, err := protocol.Encode(t, id, data)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to encode frame")
		return
	}
	c.enqueue(frame)
}

func (c *Client) sendAck(id uint64, ack protocol.Ack) {
	c.sendFrame(protocol.TypeAck, id, ack)
}

func (c *Client) sendEvent(sub uint64, event realtime.Event, s realtime.Snapshot) {
	c.sendFrame(protocol.TypeEvent, 0, protocol.Event{Sub: sub, Event: event, Path: s.Path, Key: s.Key, Value: s.Value})
}

func (c *Client) sendError(id uint64, err error) {
	code := protocol.ErrCodeInternal
	switch {
	case errors.Is(err, ErrForbidden):
		code = protocol.ErrCodeForbidden
	case errors.Is(err, realtime.ErrInvalidPath), errors.Is(err, realtime.ErrUnknownEvent), errors.Is(err, errBadFrame):
		code = protocol.ErrCodeInvalidFrame
	}
	c.sendFrame(protocol.TypeError, id, protocol.Error{Code: code, Message: err.Error()})
}

var errBadFrame = errors.New("bad frame")

// readPump pumps frames from the websocket connection to the hub.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Disconnect(ctx, c)
		c.hub.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("uid", c.uid).Msg("websocket closed unexpectedly")
			}
			break
		}

		env, err := protocol.ParseEnvelope(message)
		if err != nil {
			c.sendError(0, errors.Join(errBadFrame, err))
			continue
		}
		if err := c.handle(ctx, env); err != nil {
			c.sendError(env.ID, err)
		}
	}
}

func (c *Client) handle(ctx context.Context, env *protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeSubscribe:
		var sub protocol.Subscribe
		if err := decode(env, &sub); err != nil {
			return err
		}
		p, err := c.readablePath(sub.Path)
		if err != nil {
			return err
		}
		sub.Path = p
		c.hub.submit(request{client: c, id: env.ID, op: env.Type, sub: sub})

	case protocol.TypeUnsubscribe:
		var unsub protocol.Unsubscribe
		if err := decode(env, &unsub); err != nil {
			return err
		}
		if unsub.Sub == 0 {
			p, err := realtime.CleanPath(unsub.Path)
			if err != nil {
				return err
			}
			unsub.Path = p
		}
		c.hub.submit(request{client: c, id: env.ID, op: env.Type, unsub: unsub})

	case protocol.TypeOnce:
		var req protocol.PathOnly
		if err := decode(env, &req); err != nil {
			return err
		}
		p, err := c.readablePath(req.Path)
		if err != nil {
			return err
		}
		c.hub.submit(request{client: c, id: env.ID, op: env.Type, path: p})

	case protocol.TypeSet, protocol.TypePush:
		var w protocol.Write
		if err := decode(env, &w); err != nil {
			return err
		}
		op := realtime.OpSet
		if env.Type == protocol.TypePush {
			op = realtime.OpPush
		}
		return c.write(ctx, env.ID, realtime.Mutation{Op: op, Path: w.Path, Value: w.Value})

	case protocol.TypeUpdate:
		var u protocol.Update
		if err := decode(env, &u); err != nil {
			return err
		}
		return c.write(ctx, env.ID, realtime.Mutation{Op: realtime.OpUpdate, Path: u.Path, Fields: u.Fields})

	case protocol.TypeRemove:
		var req protocol.PathOnly
		if err := decode(env, &req); err != nil {
			return err
		}
		return c.write(ctx, env.ID, realtime.Mutation{Op: realtime.OpRemove, Path: req.Path})

	case protocol.TypeOnDisconnectRemove, protocol.TypeCancelOnDisconnect:
		var req protocol.PathOnly
		if err := decode(env, &req); err != nil {
			return err
		}
		p, err := realtime.CleanPath(req.Path)
		if err != nil {
			return err
		}
		if err := authorizePath(c.uid, p); err != nil {
			return err
		}
		if env.Type == protocol.TypeOnDisconnectRemove {
			if err := c.hub.tree.OnDisconnectRemove(c.session, p); err != nil {
				return err
			}
		} else {
			c.hub.tree.CancelOnDisconnect(c.session, p)
		}
		c.sendAck(env.ID, protocol.Ack{})

	default:
		return errors.Join(errBadFrame, errors.New("unknown frame type "+string(env.Type)))
	}
	return nil
}

func (c *Client) readablePath(p string) (string, error) {
	p, err := realtime.CleanPath(p)
	if err != nil {
		return "", err
	}
	if err := authorizeRead(c.uid, p); err != nil {
		return "", err
	}
	return p, nil
}

func (c *Client) write(ctx context.Context, id uint64, m realtime.Mutation) error {
	m, err := c.hub.Write(ctx, c.uid, m)
	if err != nil {
		return err
	}
	c.sendAck(id, protocol.Ack{Key: m.Key})
	return nil
}

func decode(env *protocol.Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		return errors.Join(errBadFrame, err)
	}
	return nil
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs handles websocket requests from the peer.
func serveWs(ctx context.Context, hub *Hub, issuer *auth.Issuer, w http.ResponseWriter, r *http.Request) {
	tokenString := auth.BearerToken(r)
	if tokenString == "" {
		log.Warn().Msg("unauthorized: no token provided")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := issuer.ValidateToken(tokenString)
	if err != nil {
		log.Warn().Err(err).Msg("unauthorized: invalid token")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		uid:     claims.UserID,
		session: uuid.NewString(),
		subs:    make(map[uint64]*realtime.Listener),
	}
	if !hub.join(client) {
		conn.Close()
		return
	}
	client.sendFrame(protocol.TypeConnected, 0, protocol.Connected{UID: client.uid, Session: client.session})

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump(ctx)
}
