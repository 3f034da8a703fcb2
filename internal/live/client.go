package live

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulselive/backend/internal/models"
)

const (
	// PingInterval and PongWait drive the connection heartbeat. A client that
	// vanishes is cleaned up within one heartbeat interval.
	PingInterval = 30
	PongWait     = 60

	writeWait     = 10 * time.Second
	maxMessageLen = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// inbound is the wire frame for client messages: {type, session_id?, data}.
type inbound struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// TokenValidator resolves a bearer token to a user id.
type TokenValidator func(token string) (uuid.UUID, error)

// Client is one websocket connection handled by the gateway. A connection
// starts unauthenticated; `authenticate` must be the first message.
type Client struct {
	ws       *websocket.Conn
	service  *Service
	hub      *Hub
	validate TokenValidator
	logger   *zap.Logger

	userID   uuid.UUID
	authed   bool
	attached *Conn // current session attachment, nil when not joined

	out  chan Envelope
	done chan struct{}
}

// ServeWs upgrades the request and runs the client loop.
func ServeWs(service *Service, hub *Hub, validate TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			ws:       ws,
			service:  service,
			hub:      hub,
			validate: validate,
			logger:   logger,
			out:      make(chan Envelope, 256),
			done:     make(chan struct{}),
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.detach()
		close(c.done)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageLen)
	_ = c.ws.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg inbound
		if err := c.ws.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.dispatch(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case env := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// forward moves hub deliveries for the attached session into the client's
// single outbound channel, preserving publish order.
func (c *Client) forward(conn *Conn) {
	for {
		select {
		case <-c.done:
			return
		case env := <-conn.Out():
			select {
			case c.out <- env:
			case <-c.done:
				return
			}
		}
	}
}

// detach runs the disconnect cleanup for the current attachment, if any.
func (c *Client) detach() {
	if c.attached == nil {
		return
	}
	conn := c.attached
	c.attached = nil
	c.hub.Detach(conn)
	c.service.Disconnect(context.Background(), conn.SessionID, c.userID)
}

func (c *Client) reply(event string, payload interface{}) {
	env := Envelope{Type: event, Data: marshalData(payload)}
	select {
	case c.out <- env:
	default:
	}
}

func (c *Client) replyError(err error) {
	c.reply("error", map[string]string{
		"message": err.Error(),
		"kind":    string(KindOf(err)),
	})
}

func (c *Client) dispatch(msg inbound) {
	if msg.Type == "authenticate" {
		c.handleAuthenticate(msg)
		return
	}
	if !c.authed {
		c.replyError(Errorf(KindAuthorization, "authenticate first"))
		return
	}

	ctx := context.Background()
	switch msg.Type {
	case "create_stream":
		c.handleCreateStream(ctx, msg)
	case "join_stream":
		c.handleJoinStream(ctx, msg)
	case "leave_stream":
		c.handleLeaveStream(ctx, msg)
	case "start_stream":
		c.withSession(msg, func(id uuid.UUID) error {
			return c.service.StartStream(ctx, id, c.userID)
		})
	case "end_stream":
		c.withSession(msg, func(id uuid.UUID) error {
			return c.service.EndStream(ctx, id, c.userID)
		})
	case "invite_costar":
		c.handleInviteCoStar(ctx, msg)
	case "remove_costar":
		c.handleRemoveCoStar(ctx, msg)
	case "send_chat":
		c.handleSendChat(ctx, msg)
	case "send_gift":
		c.handleSendGift(ctx, msg)
	case "send_reaction":
		c.handleSendReaction(ctx, msg)
	case "webrtc_offer", "webrtc_answer", "webrtc_ice_candidate":
		c.withSession(msg, func(id uuid.UUID) error {
			return c.service.RelaySignal(id, c.userID, msg.Type, msg.Data)
		})
	case "request_highlight":
		c.handleRequestHighlight(ctx, msg)
	case "get_stream_analytics":
		c.handleGetAnalytics(msg)
	case "moderate_user":
		c.handleModerateUser(ctx, msg)
	case "pin_message":
		c.handlePinMessage(ctx, msg)
	default:
		c.replyError(Errorf(KindValidation, "unknown message type %q", msg.Type))
	}
}

func (c *Client) handleAuthenticate(msg inbound) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Token == "" {
		c.replyError(Errorf(KindValidation, "token is required"))
		return
	}
	userID, err := c.validate(payload.Token)
	if err != nil {
		c.replyError(Errorf(KindAuthorization, "invalid token"))
		return
	}
	c.userID = userID
	c.authed = true
	c.reply("authenticated", map[string]interface{}{"user_id": userID})
}

func (c *Client) handleCreateStream(ctx context.Context, msg inbound) {
	var payload struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.replyError(Errorf(KindValidation, "invalid create_stream payload"))
		return
	}
	sess, err := c.service.CreateStream(ctx, c.userID, payload.Title, payload.Description)
	if err != nil {
		c.replyError(err)
		return
	}
	c.reply("stream_created", map[string]interface{}{
		"session_id":  sess.ID,
		"stream_id":   sess.StreamID,
		"stream_key":  sess.StreamKey,
		"ice_servers": sess.ICEServers,
	})
}

func (c *Client) handleJoinStream(ctx context.Context, msg inbound) {
	sessionID, err := c.sessionID(msg)
	if err != nil {
		c.replyError(err)
		return
	}
	var payload struct {
		Role string `json:"role"`
	}
	if len(msg.Data) > 0 {
		_ = json.Unmarshal(msg.Data, &payload)
	}
	role := models.ParticipantRole(payload.Role)
	if role == "" {
		role = models.RoleViewer
	}

	if c.attached != nil {
		c.replyError(Errorf(KindValidation, "already joined a stream; leave first"))
		return
	}
	conn := NewConn(sessionID, c.userID)
	conn.SetCloseHook(func() { _ = c.ws.Close() })
	state, err := c.service.JoinStream(ctx, sessionID, c.userID, role, conn)
	if err != nil {
		c.replyError(err)
		return
	}
	c.attached = conn
	go c.forward(conn)
	c.reply("stream_joined", map[string]interface{}{
		"session_id": sessionID,
		"state":      state,
	})
}

func (c *Client) handleLeaveStream(ctx context.Context, msg inbound) {
	sessionID, err := c.sessionID(msg)
	if err != nil {
		c.replyError(err)
		return
	}
	if c.attached != nil && c.attached.SessionID == sessionID {
		c.hub.Detach(c.attached)
		c.attached = nil
	}
	if err := c.service.LeaveStream(ctx, sessionID, c.userID); err != nil {
		c.replyError(err)
	}
}

func (c *Client) handleInviteCoStar(ctx context.Context, msg inbound) {
	sessionID, err := c.sessionID(msg)
	if err != nil {
		c.replyError(err)
		return
	}
	var payload struct {
		UserID              uuid.UUID `json:"user_id"`
		RequireVerification *bool     `json:"require_verification,omitempty"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.UserID == uuid.Nil {
		c.replyError(Errorf(KindValidation, "user_id is required"))
		return
	}
	require := true
	if payload.RequireVerification != nil {
		require = *payload.RequireVerification
	}
	if err := c.service.InviteCoStar(ctx, sessionID, c.userID, payload.UserID, require); err != nil {
		c.replyError(err)
	}
}

func (c *Client) handleRemoveCoStar(ctx context.Context, msg inbound) {
	sessionID, err := c.sessionID(msg)
	if err != nil {
		c.replyError(err)
		return
	}
	var payload struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.UserID == uuid.Nil {
		c.replyError(Errorf(KindValidation, "user_id is required"))
		return
	}
	if err := c.service.RemoveCoStar(ctx, sessionID, c.userID, payload.UserID); err != nil {
		c.replyError(err)
	}
}

func (c *Client) handleSendChat(ctx context.Context, msg inbound) {
	sessionID, err := c.sessionID(msg)
	if err != nil {
		c.replyError(err)
		return
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.replyError(Errorf(KindValidation, "invalid chat payload"))
		return
	}
	if _, err := c.service.SendChat(ctx, sessionID, c.userID, payload.Text); err != nil {
		c.replyError(err)
	}
}

func (c *Client) handleSendGift(ctx context.Context, msg inbound) {
	sessionID, err := c.sessionID(msg)
	if err != nil {
		c.replyError(err)
		return
	}
	var payload struct {
		GiftType   string `json:"gift_type"`
		ValueCents int64  `json:"value_cents"`
		Quantity   int    `json:"quantity"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.replyError(Errorf(KindValidation, "invalid gift payload"))
		return
	}
	if payload.Quantity == 0 {
		payload.Quantity = 1
	}
	if _, err := c.service.SendGift(ctx, sessionID, c.userID, payload.GiftType, payload.ValueCents, payload.Quantity); err != nil {
		c.replyError(err)
	}
}

func (c *Client) handleSendReaction(ctx context.Context, msg inbound) {
	sessionID, err := c.sessionID(msg)
	if err != nil {
		c.replyError(err)
		return
	}
	var payload struct {
		ReactionType string `json:"reaction_type"`
		Intensity    int    `json:"intensity"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.replyError(Errorf(KindValidation, "invalid reaction payload"))
		return
	}
	if _, err := c.service.SendReaction(ctx, sessionID, c.userID, payload.ReactionType, payload.Intensity); err != nil {
		c.replyError(err)
	}
}

func (c *Client) handleRequestHighlight(ctx context.Context, msg inbound) {
	sessionID, err := c.sessionID(msg)
	if err != nil {
		c.replyError(err)
		return
	}
	var payload struct {
		Title string `json:"title"`
	}
	if len(msg.Data) > 0 {
		_ = json.Unmarshal(msg.Data, &payload)
	}
	if _, err := c.service.RequestHighlight(ctx, sessionID, c.userID, payload.Title); err != nil {
		c.replyError(err)
	}
}

func (c *Client) handleGetAnalytics(msg inbound) {
	sessionID, err := c.sessionID(msg)
	if err != nil {
		c.replyError(err)
		return
	}
	a, err := c.service.GetAnalytics(sessionID)
	if err != nil {
		c.replyError(err)
		return
	}
	c.reply("analytics", a)
}

func (c *Client) handleModerateUser(ctx context.Context, msg inbound) {
	sessionID, err := c.sessionID(msg)
	if err != nil {
		c.replyError(err)
		return
	}
	var payload struct {
		UserID    uuid.UUID `json:"user_id"`
		Terminate bool      `json:"terminate"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.UserID == uuid.Nil {
		c.replyError(Errorf(KindValidation, "user_id is required"))
		return
	}
	if err := c.service.ModerateUser(ctx, sessionID, c.userID, payload.UserID, payload.Terminate); err != nil {
		c.replyError(err)
	}
}

func (c *Client) handlePinMessage(ctx context.Context, msg inbound) {
	sessionID, err := c.sessionID(msg)
	if err != nil {
		c.replyError(err)
		return
	}
	var payload struct {
		MessageID uuid.UUID `json:"message_id"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.MessageID == uuid.Nil {
		c.replyError(Errorf(KindValidation, "message_id is required"))
		return
	}
	if err := c.service.PinMessage(ctx, sessionID, c.userID, payload.MessageID); err != nil {
		c.replyError(err)
	}
}

func (c *Client) withSession(msg inbound, fn func(uuid.UUID) error) {
	sessionID, err := c.sessionID(msg)
	if err != nil {
		c.replyError(err)
		return
	}
	if err := fn(sessionID); err != nil {
		c.replyError(err)
	}
}

func (c *Client) sessionID(msg inbound) (uuid.UUID, error) {
	if msg.SessionID == "" {
		return uuid.Nil, Errorf(KindValidation, "session_id is required")
	}
	id, err := uuid.Parse(msg.SessionID)
	if err != nil {
		return uuid.Nil, Errorf(KindValidation, "invalid session_id")
	}
	return id, nil
}
