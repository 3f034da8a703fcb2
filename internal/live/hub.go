package live

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Envelope is the outbound message frame: {type, data}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Conn is one live connection attached to a session. The gateway owns the
// underlying socket; the hub only holds the send channel. The send channel is
// never closed, so an in-flight broadcast can never panic on it.
type Conn struct {
	ID        string
	SessionID uuid.UUID
	UserID    uuid.UUID
	send      chan Envelope
	closeOnce sync.Once
	closeHook func()
}

// NewConn creates a connection handle with a buffered send channel.
func NewConn(sessionID, userID uuid.UUID) *Conn {
	return &Conn{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    userID,
		send:      make(chan Envelope, 256),
	}
}

// Out exposes the send channel for the write loop (and tests).
func (c *Conn) Out() <-chan Envelope { return c.send }

// SetCloseHook registers the gateway's socket-close function, invoked at most
// once when the connection is forcibly terminated.
func (c *Conn) SetCloseHook(fn func()) { c.closeHook = fn }

// Close runs the close hook exactly once. The gateway's read loop notices the
// closed socket and runs its normal cleanup path.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		if c.closeHook != nil {
			c.closeHook()
		}
	})
}

// Publisher mirrors events to other instances (Redis pub/sub).
type Publisher interface {
	PublishStreamEvent(sessionID uuid.UUID, event string, payload []byte) error
}

// Subscriber subscribes to a session's remote events and invokes handler for
// each. Returns a cancel function.
type Subscriber interface {
	SubscribeStream(sessionID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub fans events out to every connection of a session in publish order.
// Delivery is best-effort: a connection whose buffer is full is skipped, with
// no retry and no per-client queueing.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[string]*Conn
	subs     map[uuid.UUID]func()
	logger   *zap.Logger
	pub      Publisher
	sub      Subscriber
}

// NewHub creates a connection hub. pub/sub may be nil for single-instance use.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Conn),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		pub:      pub,
		sub:      sub,
	}
}

// Attach registers a connection with its session. The first connection of a
// session starts the remote subscription.
func (h *Hub) Attach(c *Conn) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Conn)
		if h.sub != nil {
			sessionID := c.SessionID
			cancel, err := h.sub.SubscribeStream(sessionID, func(event string, payload []byte) {
				h.Broadcast(sessionID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[sessionID] = cancel
			}
		}
	}
	h.sessions[c.SessionID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("connection attached",
		zap.String("conn_id", c.ID),
		zap.String("session_id", c.SessionID.String()))
}

// Detach removes a connection. The last connection of a session cancels the
// remote subscription.
func (h *Hub) Detach(c *Conn) {
	h.mu.Lock()
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("connection detached",
		zap.String("conn_id", c.ID),
		zap.String("session_id", c.SessionID.String()))
}

// Broadcast delivers an event to every connection of a session, local only.
// Calls made in order are delivered in order; slow clients are dropped.
func (h *Hub) Broadcast(sessionID uuid.UUID, event string, payload interface{}) {
	env := Envelope{Type: event, Data: marshalData(payload)}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.sessions[sessionID] {
		select {
		case c.send <- env:
		default:
			// buffer full, skip
		}
	}
}

// BroadcastAndPublish delivers locally and mirrors to other instances.
func (h *Hub) BroadcastAndPublish(sessionID uuid.UUID, event string, payload interface{}) {
	data := marshalData(payload)
	h.Broadcast(sessionID, event, json.RawMessage(data))
	if h.pub != nil {
		_ = h.pub.PublishStreamEvent(sessionID, event, data)
	}
}

// SendTo delivers an event to a single connection of a session.
func (h *Hub) SendTo(sessionID uuid.UUID, connID, event string, payload interface{}) {
	env := Envelope{Type: event, Data: marshalData(payload)}
	h.mu.RLock()
	c, ok := h.sessions[sessionID][connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case c.send <- env:
	default:
	}
}

// SendToConns delivers one event to a set of connections of a session, used by
// the signaling relay for participant-only delivery.
func (h *Hub) SendToConns(sessionID uuid.UUID, connIDs []string, event string, payload interface{}) {
	env := Envelope{Type: event, Data: marshalData(payload)}
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.sessions[sessionID]
	for _, id := range connIDs {
		c, ok := conns[id]
		if !ok {
			continue
		}
		select {
		case c.send <- env:
		default:
		}
	}
}

// CloseConn detaches a connection and terminates its socket via the close
// hook. Used by forced moderation removal.
func (h *Hub) CloseConn(sessionID uuid.UUID, connID string) {
	h.mu.RLock()
	c, ok := h.sessions[sessionID][connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.Detach(c)
	c.Close()
}

// ConnCount returns the number of connections attached to a session.
func (h *Hub) ConnCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func marshalData(payload interface{}) json.RawMessage {
	switch v := payload.(type) {
	case []byte:
		return v
	case json.RawMessage:
		return v
	default:
		data, _ := json.Marshal(payload)
		return data
	}
}
