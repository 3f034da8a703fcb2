package live

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/pulselive/backend/internal/models"
)

// Participant is a user with speaking rights in a session. The connection is
// referenced by id only; the connection itself belongs to the gateway.
type Participant struct {
	UserID       uuid.UUID               `json:"user_id"`
	Role         models.ParticipantRole  `json:"role"`
	Verified     bool                    `json:"verified"`
	AudioEnabled bool                    `json:"audio_enabled"`
	VideoEnabled bool                    `json:"video_enabled"`
	JoinedAt     time.Time               `json:"joined_at"`
	ConnID       string                  `json:"-"`
}

// Viewer is a user watching without broadcast rights. Watch time is computed
// on removal, not held live.
type Viewer struct {
	UserID   uuid.UUID `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
	ConnID   string    `json:"-"`
}

// Session is one live broadcast from creation to end. A single mutex serializes
// all mutation of membership, the event log, highlights and the analytics
// aggregate; collaborator calls are never made while it is held.
type Session struct {
	ID         uuid.UUID
	StreamID   uuid.UUID
	HostID     uuid.UUID
	StreamKey  string
	ICEServers []webrtc.ICEServer
	CreatedAt  time.Time

	mu              sync.Mutex
	state           models.StreamState
	startedAt       time.Time
	endedAt         time.Time
	recordingHandle string
	participants    map[uuid.UUID]*Participant
	viewers         map[uuid.UUID]*Viewer
	chatLog         []*models.ChatMessage
	chatTimes       []time.Time // trailing send times for burst detection
	highlights      []models.Highlight
	analytics       models.StreamAnalytics

	// sweep dedup state, owned by the analytics engine
	lastPeakHighlight  int
	lastBurstHighlight time.Time
}

func newSession(streamID, hostID uuid.UUID, streamKey string, ice []webrtc.ICEServer, now time.Time) *Session {
	s := &Session{
		ID:           uuid.New(),
		StreamID:     streamID,
		HostID:       hostID,
		StreamKey:    streamKey,
		ICEServers:   ice,
		CreatedAt:    now,
		state:        models.StreamScheduled,
		participants: make(map[uuid.UUID]*Participant),
		viewers:      make(map[uuid.UUID]*Viewer),
		analytics:    models.StreamAnalytics{StreamID: streamID},
	}
	s.participants[hostID] = &Participant{
		UserID:       hostID,
		Role:         models.RoleHost,
		Verified:     true,
		AudioEnabled: true,
		VideoEnabled: true,
		JoinedAt:     now,
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() models.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns the stream start time (zero until live).
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// EndedAt returns the stream end time (zero until ended).
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// checkTransition validates a lifecycle transition without mutating. Only the
// host may transition; scheduled->live and live->ended are the legal moves.
func (s *Session) checkTransition(actor uuid.UUID, to models.StreamState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if actor != s.HostID {
		return Errorf(KindAuthorization, "only the host may change the stream state")
	}
	switch to {
	case models.StreamLive:
		if s.state != models.StreamScheduled {
			return Errorf(KindInvalidState, "stream is %s, cannot go live", s.state)
		}
	case models.StreamEnded:
		if s.state != models.StreamLive {
			return Errorf(KindInvalidState, "stream is %s, cannot end", s.state)
		}
	default:
		return Errorf(KindValidation, "unknown stream state %q", to)
	}
	return nil
}

// applyStart moves the session to live. Call only after checkTransition and
// after the external calls that can fail have succeeded. The state is
// re-checked under the lock so that two racing starts cannot both win.
func (s *Session) applyStart(now time.Time, recordingHandle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.StreamScheduled {
		return Errorf(KindInvalidState, "stream is %s, cannot go live", s.state)
	}
	s.state = models.StreamLive
	s.startedAt = now
	s.recordingHandle = recordingHandle
	return nil
}

// applyEnd moves the session to ended and returns the recording handle. The
// state is re-checked under the lock; a racing second end loses here, before
// any analytics or highlights are persisted twice.
func (s *Session) applyEnd(now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.StreamLive {
		return "", Errorf(KindInvalidState, "stream is %s, cannot end", s.state)
	}
	s.state = models.StreamEnded
	s.endedAt = now
	return s.recordingHandle, nil
}

// AddParticipant inserts a co-star or moderator. The host exists from session
// creation and cannot be added again.
func (s *Session) AddParticipant(p *Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == models.StreamEnded {
		return Errorf(KindNotFound, "stream has ended")
	}
	if _, ok := s.participants[p.UserID]; ok {
		return Errorf(KindValidation, "user is already a participant")
	}
	s.participants[p.UserID] = p
	return nil
}

// RemoveParticipant removes a non-host participant and clears its connection
// reference. The host can only leave by ending the session.
func (s *Session) RemoveParticipant(userID uuid.UUID) (*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[userID]
	if !ok {
		return nil, Errorf(KindNotFound, "participant not found")
	}
	if p.Role == models.RoleHost {
		return nil, Errorf(KindAuthorization, "the host cannot be removed; end the stream instead")
	}
	p.ConnID = ""
	delete(s.participants, userID)
	return p, nil
}

// BindParticipantConn attaches a live connection id to an existing participant
// (e.g. an invited co-star whose connection arrives later).
func (s *Session) BindParticipantConn(userID uuid.UUID, connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[userID]
	if !ok {
		return false
	}
	p.ConnID = connID
	return true
}

// IsParticipant reports whether the user currently holds a speaking role.
func (s *Session) IsParticipant(userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[userID]
	return ok
}

// ParticipantRole returns the user's role, or "" if not a participant.
func (s *Session) ParticipantRole(userID uuid.UUID) models.ParticipantRole {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[userID]; ok {
		return p.Role
	}
	return ""
}

// ParticipantConns returns the connection ids of all participants except the
// given user. Used by the signaling relay.
func (s *Session) ParticipantConns(except uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]string, 0, len(s.participants))
	for id, p := range s.participants {
		if id != except && p.ConnID != "" {
			conns = append(conns, p.ConnID)
		}
	}
	return conns
}

// AddViewer inserts a viewer and updates the viewer counters atomically with
// the membership change. Returns the updated current viewer count.
func (s *Session) AddViewer(userID uuid.UUID, connID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == models.StreamEnded {
		return 0, Errorf(KindNotFound, "stream has ended")
	}
	if _, ok := s.viewers[userID]; ok {
		return 0, Errorf(KindValidation, "user is already watching")
	}
	s.viewers[userID] = &Viewer{UserID: userID, JoinedAt: now, ConnID: connID}
	s.analytics.CurrentViewers++
	s.analytics.TotalViewers++
	if s.analytics.CurrentViewers > s.analytics.PeakViewers {
		s.analytics.PeakViewers = s.analytics.CurrentViewers
	}
	return s.analytics.CurrentViewers, nil
}

// RemoveViewer removes a viewer, finalizes its watch time and folds it into
// the running average. Returns the watch time and updated current count.
func (s *Session) RemoveViewer(userID uuid.UUID, now time.Time) (*models.StreamViewer, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.viewers[userID]
	if !ok {
		return nil, 0, Errorf(KindNotFound, "viewer not found")
	}
	delete(s.viewers, userID)
	watch := now.Sub(v.JoinedAt).Seconds()
	if watch < 0 {
		watch = 0
	}
	// The divisor counts every viewer that ever joined, not just the
	// stints finalized so far.
	n := float64(s.analytics.TotalViewers)
	s.analytics.AvgWatchTime = (s.analytics.AvgWatchTime*(n-1) + watch) / n
	s.analytics.CurrentViewers--
	return &models.StreamViewer{
		StreamID:         s.StreamID,
		UserID:           userID,
		JoinedAt:         v.JoinedAt,
		LeftAt:           now,
		WatchTimeSeconds: int64(watch),
	}, s.analytics.CurrentViewers, nil
}

// HasViewer reports whether the user is currently in the viewer map.
func (s *Session) HasViewer(userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.viewers[userID]
	return ok
}

// ViewerConnID returns the connection id of a current viewer, or "".
func (s *Session) ViewerConnID(userID uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.viewers[userID]; ok {
		return v.ConnID
	}
	return ""
}

// drainViewers removes every remaining viewer at end-of-stream, folding their
// watch time into the average. Returns the finalized viewer records.
func (s *Session) drainViewers(now time.Time) []models.StreamViewer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.StreamViewer, 0, len(s.viewers))
	for id, v := range s.viewers {
		watch := now.Sub(v.JoinedAt).Seconds()
		if watch < 0 {
			watch = 0
		}
		n := float64(s.analytics.TotalViewers)
		s.analytics.AvgWatchTime = (s.analytics.AvgWatchTime*(n-1) + watch) / n
		s.analytics.CurrentViewers--
		out = append(out, models.StreamViewer{
			StreamID:         s.StreamID,
			UserID:           id,
			JoinedAt:         v.JoinedAt,
			LeftAt:           now,
			WatchTimeSeconds: int64(watch),
		})
		delete(s.viewers, id)
	}
	return out
}

// AppendChat appends an accepted chat message to the session log and counters.
func (s *Session) AppendChat(m *models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatLog = append(s.chatLog, m)
	s.chatTimes = append(s.chatTimes, m.SentAt)
	s.analytics.TotalChatMessages++
}

// PinMessage marks a logged chat message as pinned and returns a copy.
func (s *Session) PinMessage(messageID uuid.UUID) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.chatLog {
		if m.ID == messageID {
			m.Pinned = true
			cp := *m
			return &cp, nil
		}
	}
	return nil, Errorf(KindNotFound, "message not found")
}

// ChatBurstCount returns how many chat messages arrived strictly after
// now-window, pruning older entries as it goes.
func (s *Session) ChatBurstCount(now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-window)
	i := 0
	for i < len(s.chatTimes) && !s.chatTimes[i].After(cutoff) {
		i++
	}
	s.chatTimes = s.chatTimes[i:]
	return len(s.chatTimes)
}

// AppendGift updates gift counters for an accepted gift.
func (s *Session) AppendGift(g *models.Gift) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analytics.TotalGifts++
	s.analytics.TotalGiftValue += g.TotalValue()
}

// AppendReaction updates reaction counters.
func (s *Session) AppendReaction(_ *models.Reaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analytics.TotalReactions++
}

// AddHighlight clamps and appends a highlight anchored at the given elapsed
// second of the stream timeline. The window is fixed-length with the trigger
// roughly at its midpoint, and never starts before zero.
func (s *Session) AddHighlight(typ models.HighlightType, title string, score, triggerElapsed float64, window time.Duration, now time.Time) models.Highlight {
	w := window.Seconds()
	start := triggerElapsed - w/2
	if start < 0 {
		start = 0
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	h := models.Highlight{
		ID:        uuid.New(),
		StreamID:  s.StreamID,
		Type:      typ,
		Title:     title,
		StartTime: start,
		EndTime:   start + w,
		Score:     score,
		CreatedAt: now,
	}
	s.mu.Lock()
	s.highlights = append(s.highlights, h)
	s.mu.Unlock()
	return h
}

// Highlights returns a copy of the accumulated highlights.
func (s *Session) Highlights() []models.Highlight {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Highlight, len(s.highlights))
	copy(out, s.highlights)
	return out
}

// Analytics returns a copy of the aggregate, including the retention curve.
func (s *Session) Analytics() models.StreamAnalytics {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.analytics
	a.RetentionCurve = make([]models.RetentionPoint, len(s.analytics.RetentionCurve))
	copy(a.RetentionCurve, s.analytics.RetentionCurve)
	return a
}

// sampleRetention records the current retention ratio keyed by elapsed minute.
func (s *Session) sampleRetention(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.StreamLive || s.analytics.PeakViewers == 0 {
		return
	}
	minute := int(now.Sub(s.startedAt).Minutes())
	ratio := float64(s.analytics.CurrentViewers) / float64(s.analytics.PeakViewers) * 100
	s.analytics.RetentionCurve = append(s.analytics.RetentionCurve, models.RetentionPoint{
		Minute:    minute,
		Retention: ratio,
	})
}
