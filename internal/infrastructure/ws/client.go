package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kidsstream/watchparty/internal/domain"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// Client is the Session Gateway side of one participant connection. The read
// pump routes inbound messages to the room session; the write pump drains the
// buffered send queue. Liveness is passive: the read deadline is pushed
// forward by pongs and by any inbound frame, and a connection silent past the
// heartbeat timeout fails its read and goes through the normal leave path.
type Client struct {
	ID     string
	RoomID string

	conn    *connWrapper
	send    chan *WSMessage
	session *Session

	heartbeatTimeout time.Duration
	logger           *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
}

func NewClient(conn *websocket.Conn, session *Session, connectionID string, sendBuffer int, heartbeatTimeout time.Duration, logger *zap.SugaredLogger) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}

	return &Client{
		ID:               connectionID,
		RoomID:           session.RoomID(),
		conn:             newConnWrapper(conn),
		send:             make(chan *WSMessage, sendBuffer),
		session:          session,
		heartbeatTimeout: heartbeatTimeout,
		logger:           logger,
	}
}

// TrySend queues msg without blocking. A full queue means the client cannot
// keep up and the session will disconnect it.
func (c *Client) TrySend(msg *WSMessage) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Shutdown closes the send queue. The write pump drains whatever was queued
// before the close, writes the close frame, then closes the connection, so a
// frame accepted by TrySend is never lost to the teardown. Safe to call more
// than once and from any goroutine.
func (c *Client) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

// ReadPump consumes inbound frames until the connection dies. Its deferred
// leave is the single place disconnect cleanup is guaranteed to happen.
func (c *Client) ReadPump() {
	defer func() {
		c.session.Leave(c.ID, "disconnect")
		c.Shutdown()
	}()

	c.conn.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.conn.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))
	c.conn.conn.SetPongHandler(func(string) error {
		return c.conn.conn.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))
	})

	for {
		_, raw, err := c.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnw("ws read error", "room", c.RoomID, "connection", c.ID, "err", err)
			}
			return
		}
		_ = c.conn.conn.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))

		if leave := c.route(raw); leave {
			return
		}
	}
}

// route dispatches one inbound frame. Returns true when the client asked to
// leave.
func (c *Client) route(raw []byte) bool {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.TrySend(NewError(c.RoomID, "BAD_MESSAGE", "Could not parse message"))
		return false
	}

	switch msg.Type {
	case InboundPlayback:
		c.handlePlayback(msg.Data)
	case InboundChat:
		var chat ChatInbound
		if err := json.Unmarshal(msg.Data, &chat); err != nil || chat.Text == "" {
			return false
		}
		_ = c.session.Chat(c.ID, chat.Text)
	case InboundReaction:
		var reaction ReactionInbound
		if err := json.Unmarshal(msg.Data, &reaction); err != nil || reaction.Tag == "" {
			return false
		}
		_ = c.session.React(c.ID, reaction.Tag)
	case InboundHeartbeat:
		// Liveness already refreshed by the read itself.
	case InboundLeave:
		return true
	default:
		c.logger.Debugw("unknown inbound message type", "room", c.RoomID, "connection", c.ID, "type", msg.Type)
	}
	return false
}

func (c *Client) handlePlayback(data json.RawMessage) {
	var in PlaybackInbound
	if err := json.Unmarshal(data, &in); err != nil {
		c.TrySend(NewError(c.RoomID, "BAD_MESSAGE", "Could not parse playback command"))
		return
	}

	cmd := domain.Command{
		Kind:             domain.CommandKind(in.Kind),
		Position:         in.Position,
		ObservedRevision: in.ObservedRevision,
	}

	switch err := c.session.ApplyCommand(c.ID, cmd); err {
	case nil:
	case domain.ErrStaleCommand:
		// Lost a race against a newer mutation; dropping it is the
		// correct resolution, nobody is told.
	case domain.ErrNotHost:
		c.TrySend(NewError(c.RoomID, "NOT_HOST", "Only the host can control playback"))
	default:
		c.TrySend(NewError(c.RoomID, "BAD_COMMAND", "Could not apply playback command"))
	}
}

// WritePump drains the send queue onto the wire and keeps the connection
// alive with periodic pings. It owns the connection close: write deadlines
// bound how long a stalled peer can hold the teardown open.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.heartbeatTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.Shutdown()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteClose(time.Now().Add(writeWait))
				return
			}
			if err := c.conn.WriteJSON(msg, time.Now().Add(writeWait)); err != nil {
				c.logger.Warnw("ws write error", "room", c.RoomID, "connection", c.ID, "err", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WritePing(time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
