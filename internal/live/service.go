package live

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pulselive/backend/config"
	"github.com/pulselive/backend/internal/models"
)

// Service orchestrates the live session core: lifecycle, membership, event
// fan-out, signaling relay, gifts, moderation and analytics hooks. All
// collaborator calls happen outside the per-session lock.
type Service struct {
	cfg       config.LiveConfig
	registry  *Registry
	hub       *Hub
	store     Store
	gate      Gate
	payments  Charger
	recorder  Recorder
	pipeline  Pipeline
	moderator *Moderator
	ice       []webrtc.ICEServer
	logger    *zap.Logger
	clock     func() time.Time
}

// NewService wires the session core together.
func NewService(cfg config.LiveConfig, registry *Registry, hub *Hub, store Store, gate Gate,
	payments Charger, recorder Recorder, pipeline Pipeline, ice []webrtc.ICEServer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		registry:  registry,
		hub:       hub,
		store:     store,
		gate:      gate,
		payments:  payments,
		recorder:  recorder,
		pipeline:  pipeline,
		moderator: NewModerator(cfg.BlockedTerms),
		ice:       ice,
		logger:    logger,
		clock:     time.Now,
	}
}

// Registry exposes the session registry (for the analytics engine and tests).
func (s *Service) Registry() *Registry { return s.registry }

// CreateStream creates a scheduled session for the host and returns it with
// its stream key and ICE configuration.
func (s *Service) CreateStream(ctx context.Context, hostID uuid.UUID, title, description string) (*Session, error) {
	if title == "" {
		return nil, Errorf(KindValidation, "title is required")
	}
	if !s.cfg.WaiveVerification {
		ok, err := s.gate.IsVerified(ctx, hostID)
		if err != nil {
			return nil, WrapInternal("verification lookup failed", err)
		}
		if !ok {
			return nil, Errorf(KindVerificationRequired, "account verification is required to go live")
		}
	}

	stream := &models.LiveStream{
		HostID:      hostID,
		Title:       title,
		Description: description,
		StreamKey:   newStreamKey(),
		State:       models.StreamScheduled,
	}
	if err := s.store.CreateLiveStream(ctx, stream); err != nil {
		return nil, WrapInternal("could not create stream", err)
	}

	sess := s.registry.Create(stream.ID, hostID, stream.StreamKey, s.ice)
	if err := s.store.AddStreamParticipant(ctx, models.StreamParticipant{
		StreamID: stream.ID,
		UserID:   hostID,
		Role:     models.RoleHost,
		JoinedAt: s.clock(),
	}); err != nil {
		s.logger.Warn("persist host participant failed", zap.Error(err),
			zap.String("stream_id", stream.ID.String()))
	}
	s.logger.Info("stream created",
		zap.String("session_id", sess.ID.String()),
		zap.String("host_id", hostID.String()))
	return sess, nil
}

// StartStream transitions scheduled -> live. Host only. Starts recording and
// marks the persistent record before the in-memory state flips.
func (s *Service) StartStream(ctx context.Context, sessionID, actor uuid.UUID) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if err := sess.checkTransition(actor, models.StreamLive); err != nil {
		return err
	}

	now := s.clock()
	handle, err := s.recorder.Start(ctx, sessionID)
	if err != nil {
		return WrapInternal("could not start recording", err)
	}
	if err := s.store.UpdateLiveStreamState(ctx, sess.StreamID, models.StreamLive, now); err != nil {
		_ = s.recorder.Stop(ctx, handle)
		return WrapInternal("could not update stream", err)
	}

	if err := sess.applyStart(now, handle); err != nil {
		// A concurrent start won the race; this one's recording is orphaned.
		_ = s.recorder.Stop(ctx, handle)
		return err
	}
	s.hub.BroadcastAndPublish(sessionID, "stream_started", map[string]interface{}{
		"session_id": sessionID,
		"started_at": now,
	})
	s.logger.Info("stream started", zap.String("session_id", sessionID.String()))
	return nil
}

// EndStream transitions live -> ended. Host only. Stops recording, finalizes
// remaining viewers, persists highlights and the analytics snapshot, and hands
// the recording to the media pipeline.
func (s *Service) EndStream(ctx context.Context, sessionID, actor uuid.UUID) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if err := sess.checkTransition(actor, models.StreamEnded); err != nil {
		return err
	}

	now := s.clock()
	if err := s.store.UpdateLiveStreamState(ctx, sess.StreamID, models.StreamEnded, now); err != nil {
		return WrapInternal("could not update stream", err)
	}

	// Flip the state first so no viewer can slip in after the drain, then
	// finalize whoever is left.
	handle, err := sess.applyEnd(now)
	if err != nil {
		return err
	}
	remaining := sess.drainViewers(now)
	if handle != "" {
		if err := s.recorder.Stop(ctx, handle); err != nil {
			s.logger.Error("stop recording failed", zap.Error(err),
				zap.String("session_id", sessionID.String()))
		}
	}

	analytics := sess.Analytics()
	analytics.EngagementScore = engagementScore(analytics)
	highlights := sess.Highlights()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.store.CreateStreamAnalytics(gctx, &analytics)
	})
	for i := range highlights {
		h := highlights[i]
		g.Go(func() error {
			return s.store.CreateStreamHighlight(gctx, &h)
		})
	}
	for i := range remaining {
		v := remaining[i]
		g.Go(func() error {
			return s.store.AddStreamViewer(gctx, v)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("end-of-stream persistence failed", zap.Error(err),
			zap.String("session_id", sessionID.String()))
	}

	if handle != "" {
		if err := s.pipeline.Process(ctx, sess.StreamID, handle, highlights); err != nil {
			s.logger.Error("media pipeline handoff failed", zap.Error(err),
				zap.String("session_id", sessionID.String()))
		}
	}

	s.hub.BroadcastAndPublish(sessionID, "stream_ended", map[string]interface{}{
		"session_id": sessionID,
		"ended_at":   now,
	})
	s.logger.Info("stream ended",
		zap.String("session_id", sessionID.String()),
		zap.Int("highlights", len(highlights)))
	return nil
}

// JoinStream attaches a connection as the host (rebind only), a co-star
// (verification-gated) or a viewer. Viewers may join before the stream is
// live; the current state is returned so the client can react.
func (s *Service) JoinStream(ctx context.Context, sessionID, userID uuid.UUID, role models.ParticipantRole, conn *Conn) (models.StreamState, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return "", err
	}
	now := s.clock()

	if role == models.RoleHost {
		// The host exists from creation; joining only rebinds its connection.
		if userID != sess.HostID {
			return "", Errorf(KindAuthorization, "only the host may join as host")
		}
		sess.BindParticipantConn(userID, conn.ID)
		s.hub.Attach(conn)
		return sess.State(), nil
	}

	if role == models.RoleCoStar || role == models.RoleModerator {
		if sess.HasViewer(userID) {
			return "", Errorf(KindValidation, "user is already watching as a viewer")
		}
		// An invited participant reconnecting just binds its connection.
		if sess.BindParticipantConn(userID, conn.ID) {
			s.hub.Attach(conn)
			return sess.State(), nil
		}
		if err := s.addParticipant(ctx, sess, userID, role, true); err != nil {
			return "", err
		}
		sess.BindParticipantConn(userID, conn.ID)
		s.hub.Attach(conn)
		return sess.State(), nil
	}

	count, err := sess.AddViewer(userID, conn.ID, now)
	if err != nil {
		return "", err
	}
	s.hub.Attach(conn)
	s.broadcastViewerCount(sessionID, count)
	return sess.State(), nil
}

// LeaveStream detaches a user: a viewer's watch time is finalized and
// persisted, a non-host participant is removed. The host stays until
// end_stream.
func (s *Service) LeaveStream(ctx context.Context, sessionID, userID uuid.UUID) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	now := s.clock()

	if record, count, verr := sess.RemoveViewer(userID, now); verr == nil {
		if err := s.store.AddStreamViewer(ctx, *record); err != nil {
			s.logger.Warn("persist viewer stint failed", zap.Error(err),
				zap.String("stream_id", sess.StreamID.String()))
		}
		s.broadcastViewerCount(sessionID, count)
		return nil
	}

	if sess.ParticipantRole(userID) == models.RoleHost {
		// A vanished host keeps the session; only end_stream removes it.
		sess.BindParticipantConn(userID, "")
		return nil
	}
	p, err := sess.RemoveParticipant(userID)
	if err != nil {
		return err
	}
	if err := s.store.MarkParticipantLeft(ctx, sess.StreamID, userID, now); err != nil {
		s.logger.Warn("persist participant leave failed", zap.Error(err))
	}
	s.hub.BroadcastAndPublish(sessionID, "participant_left", map[string]interface{}{
		"user_id": userID,
		"role":    p.Role,
	})
	return nil
}

// Disconnect runs the leave path for a dead connection; absence is not an
// error here because the heartbeat may race an explicit leave.
func (s *Service) Disconnect(ctx context.Context, sessionID, userID uuid.UUID) {
	if err := s.LeaveStream(ctx, sessionID, userID); err != nil && !IsKind(err, KindNotFound) {
		s.logger.Warn("disconnect cleanup failed", zap.Error(err),
			zap.String("session_id", sessionID.String()))
	}
}

// InviteCoStar adds a co-star on the host's behalf, subject to the
// verification gate unless explicitly waived for this invite.
func (s *Service) InviteCoStar(ctx context.Context, sessionID, actor, costarID uuid.UUID, requireVerification bool) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if actor != sess.HostID {
		return Errorf(KindAuthorization, "only the host may invite co-stars")
	}
	return s.addParticipant(ctx, sess, costarID, models.RoleCoStar, requireVerification)
}

// RemoveCoStar removes a co-star on the host's behalf.
func (s *Service) RemoveCoStar(ctx context.Context, sessionID, actor, costarID uuid.UUID) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if actor != sess.HostID {
		return Errorf(KindAuthorization, "only the host may remove co-stars")
	}
	p, err := sess.RemoveParticipant(costarID)
	if err != nil {
		return err
	}
	if err := s.store.MarkParticipantLeft(ctx, sess.StreamID, costarID, s.clock()); err != nil {
		s.logger.Warn("persist co-star removal failed", zap.Error(err))
	}
	s.hub.BroadcastAndPublish(sessionID, "costar_left", map[string]interface{}{
		"user_id": costarID,
		"role":    p.Role,
	})
	return nil
}

func (s *Service) addParticipant(ctx context.Context, sess *Session, userID uuid.UUID, role models.ParticipantRole, requireVerification bool) error {
	verified := true
	if requireVerification {
		ok, err := s.gate.IsVerified(ctx, userID)
		if err != nil {
			return WrapInternal("verification lookup failed", err)
		}
		if !ok {
			return Errorf(KindVerificationRequired, "co-stars must be verified")
		}
		verified = ok
	}
	now := s.clock()
	if err := s.store.AddStreamParticipant(ctx, models.StreamParticipant{
		StreamID: sess.StreamID,
		UserID:   userID,
		Role:     role,
		JoinedAt: now,
	}); err != nil {
		return WrapInternal("could not persist participant", err)
	}
	if err := sess.AddParticipant(&Participant{
		UserID:       userID,
		Role:         role,
		Verified:     verified,
		AudioEnabled: true,
		VideoEnabled: true,
		JoinedAt:     now,
	}); err != nil {
		return err
	}
	s.hub.BroadcastAndPublish(sess.ID, "costar_joined", map[string]interface{}{
		"user_id": userID,
		"role":    role,
	})
	return nil
}

// SendChat runs the moderation predicate, persists and logs the message, then
// fans it out. A rejected message is never stored or broadcast.
func (s *Service) SendChat(ctx context.Context, sessionID, senderID uuid.UUID, text string) (*models.ChatMessage, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, Errorf(KindValidation, "message text is required")
	}
	if s.moderator.Reject(text) {
		return nil, Errorf(KindContentRejected, "message rejected by moderation")
	}

	msg := &models.ChatMessage{
		ID:       uuid.New(),
		StreamID: sess.StreamID,
		SenderID: senderID,
		Text:     text,
		SentAt:   s.clock(),
	}
	if err := s.store.AddStreamChatMessage(ctx, msg); err != nil {
		return nil, WrapInternal("could not persist message", err)
	}
	sess.AppendChat(msg)
	s.hub.BroadcastAndPublish(sessionID, "chat_message", msg)
	return msg, nil
}

// PinMessage pins a logged chat message. Host or moderator only.
func (s *Service) PinMessage(ctx context.Context, sessionID, actor, messageID uuid.UUID) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if role := sess.ParticipantRole(actor); role != models.RoleHost && role != models.RoleModerator {
		return Errorf(KindAuthorization, "only the host or a moderator may pin messages")
	}
	msg, err := sess.PinMessage(messageID)
	if err != nil {
		return err
	}
	s.hub.BroadcastAndPublish(sessionID, "message_pinned", msg)
	return nil
}

// SendGift charges the sender, records the gift, updates analytics and fans
// the event out. A gift at or above the large-gift threshold synthesizes a
// highlight automatically.
func (s *Service) SendGift(ctx context.Context, sessionID, senderID uuid.UUID, giftType string, valueCents int64, quantity int) (*models.Gift, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if valueCents <= 0 || quantity <= 0 {
		return nil, Errorf(KindValidation, "gift value and quantity must be positive")
	}

	gift := &models.Gift{
		ID:         uuid.New(),
		StreamID:   sess.StreamID,
		SenderID:   senderID,
		GiftType:   giftType,
		ValueCents: valueCents,
		Quantity:   quantity,
		SentAt:     s.clock(),
	}
	total := gift.TotalValue()

	txID, err := s.payments.ChargeGift(ctx, senderID, sess.HostID, total)
	if err != nil {
		return nil, WrapInternal("gift payment failed", err)
	}
	gift.TransactionID = txID
	if err := s.store.AddStreamGift(ctx, gift); err != nil {
		return nil, WrapInternal("could not persist gift", err)
	}

	sess.AppendGift(gift)
	s.hub.BroadcastAndPublish(sessionID, "gift_received", gift)

	if total >= s.cfg.LargeGiftThresholdCents {
		h := sess.AddHighlight(models.HighlightLargeGift, "Large gift moment",
			float64(total)/100, s.elapsed(sess), s.cfg.HighlightWindow, s.clock())
		s.hub.BroadcastAndPublish(sessionID, "highlight_created", h)
	}
	return gift, nil
}

// SendReaction records and fans out a reaction.
func (s *Service) SendReaction(ctx context.Context, sessionID, senderID uuid.UUID, reactionType string, intensity int) (*models.Reaction, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if reactionType == "" {
		return nil, Errorf(KindValidation, "reaction type is required")
	}
	if intensity <= 0 {
		intensity = 1
	}
	r := &models.Reaction{
		ID:           uuid.New(),
		StreamID:     sess.StreamID,
		SenderID:     senderID,
		ReactionType: reactionType,
		Intensity:    intensity,
		SentAt:       s.clock(),
	}
	if err := s.store.AddStreamReaction(ctx, r); err != nil {
		return nil, WrapInternal("could not persist reaction", err)
	}
	sess.AppendReaction(r)
	s.hub.BroadcastAndPublish(sessionID, "reaction", r)
	return r, nil
}

// RelaySignal forwards an opaque WebRTC payload, tagged with the sender, to
// every other participant's connection. Viewers may not send signals.
// Fire-and-forget: no acknowledgment, no retry.
func (s *Service) RelaySignal(sessionID, fromUserID uuid.UUID, signalType string, signal []byte) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if !sess.IsParticipant(fromUserID) {
		return Errorf(KindAuthorization, "only participants may send signaling messages")
	}
	conns := sess.ParticipantConns(fromUserID)
	s.hub.SendToConns(sessionID, conns, signalType, map[string]interface{}{
		"from_user_id": fromUserID,
		"signal":       json.RawMessage(signal),
	})
	return nil
}

// RequestHighlight appends a manually requested highlight on a live session.
func (s *Service) RequestHighlight(ctx context.Context, sessionID, actor uuid.UUID, title string) (models.Highlight, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return models.Highlight{}, err
	}
	if sess.State() != models.StreamLive {
		return models.Highlight{}, Errorf(KindInvalidState, "highlights can only be requested on a live stream")
	}
	if title == "" {
		title = "Highlight"
	}
	h := sess.AddHighlight(models.HighlightManual, title, manualHighlightScore, s.elapsed(sess), s.cfg.HighlightWindow, s.clock())
	s.hub.BroadcastAndPublish(sessionID, "highlight_created", h)
	return h, nil
}

// GetAnalytics returns the current aggregate of a session.
func (s *Service) GetAnalytics(sessionID uuid.UUID) (models.StreamAnalytics, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return models.StreamAnalytics{}, err
	}
	return sess.Analytics(), nil
}

// ModerateUser force-removes a viewer. Host or moderator only; optionally
// terminates the target's connection.
func (s *Service) ModerateUser(ctx context.Context, sessionID, actor, targetID uuid.UUID, terminate bool) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if role := sess.ParticipantRole(actor); role != models.RoleHost && role != models.RoleModerator {
		return Errorf(KindAuthorization, "only the host or a moderator may remove users")
	}
	connID := sess.ViewerConnID(targetID)
	record, count, err := sess.RemoveViewer(targetID, s.clock())
	if err != nil {
		return err
	}
	if err := s.store.AddStreamViewer(ctx, *record); err != nil {
		s.logger.Warn("persist moderated viewer failed", zap.Error(err))
	}
	if terminate && connID != "" {
		s.hub.CloseConn(sessionID, connID)
	}
	s.broadcastViewerCount(sessionID, count)
	s.logger.Info("user moderated",
		zap.String("session_id", sessionID.String()),
		zap.String("target_id", targetID.String()))
	return nil
}

func (s *Service) broadcastViewerCount(sessionID uuid.UUID, count int) {
	s.hub.BroadcastAndPublish(sessionID, "viewer_count_updated", map[string]int{
		"count": count,
	})
}

// elapsed returns seconds since stream start, zero for a session not yet live.
func (s *Service) elapsed(sess *Session) float64 {
	started := sess.StartedAt()
	if started.IsZero() {
		return 0
	}
	return s.clock().Sub(started).Seconds()
}

const manualHighlightScore = 50

func newStreamKey() string {
	return "sk_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
