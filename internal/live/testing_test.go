package live

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulselive/backend/config"
	"github.com/pulselive/backend/internal/models"
)

// fakeClock is a manually advanced clock shared by service, registry and
// engine in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeStore records every persistence call in memory. Set an err field to
// inject a failure for that call.
type fakeStore struct {
	mu sync.Mutex

	streams      []*models.LiveStream
	stateChanges []models.StreamState
	participants []models.StreamParticipant
	left         []uuid.UUID
	viewers      []models.StreamViewer
	chats        []*models.ChatMessage
	gifts        []*models.Gift
	reactions    []*models.Reaction
	highlights   []*models.Highlight
	analytics    []*models.StreamAnalytics
	playbackURLs map[uuid.UUID]string

	chatErr  error
	giftErr  error
	stateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{playbackURLs: make(map[uuid.UUID]string)}
}

func (f *fakeStore) GetUser(context.Context, uuid.UUID) (*models.User, error) { return nil, nil }

func (f *fakeStore) CreateLiveStream(_ context.Context, s *models.LiveStream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	f.streams = append(f.streams, s)
	return nil
}

func (f *fakeStore) UpdateLiveStreamState(_ context.Context, _ uuid.UUID, state models.StreamState, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return f.stateErr
	}
	f.stateChanges = append(f.stateChanges, state)
	return nil
}

func (f *fakeStore) SetLiveStreamPlaybackURL(_ context.Context, id uuid.UUID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playbackURLs[id] = url
	return nil
}

func (f *fakeStore) AddStreamParticipant(_ context.Context, p models.StreamParticipant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants = append(f.participants, p)
	return nil
}

func (f *fakeStore) MarkParticipantLeft(_ context.Context, _ uuid.UUID, userID uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, userID)
	return nil
}

func (f *fakeStore) AddStreamViewer(_ context.Context, v models.StreamViewer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewers = append(f.viewers, v)
	return nil
}

func (f *fakeStore) AddStreamChatMessage(_ context.Context, m *models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatErr != nil {
		return f.chatErr
	}
	f.chats = append(f.chats, m)
	return nil
}

func (f *fakeStore) AddStreamGift(_ context.Context, g *models.Gift) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.giftErr != nil {
		return f.giftErr
	}
	f.gifts = append(f.gifts, g)
	return nil
}

func (f *fakeStore) AddStreamReaction(_ context.Context, r *models.Reaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, r)
	return nil
}

func (f *fakeStore) CreateStreamHighlight(_ context.Context, h *models.Highlight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.highlights = append(f.highlights, h)
	return nil
}

func (f *fakeStore) CreateStreamAnalytics(_ context.Context, a *models.StreamAnalytics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analytics = append(f.analytics, a)
	return nil
}

func (f *fakeStore) chatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chats)
}

func (f *fakeStore) participantCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.participants)
}

// fakeGate marks listed users as verified.
type fakeGate struct {
	verified map[uuid.UUID]bool
	err      error
}

func (g *fakeGate) IsVerified(_ context.Context, userID uuid.UUID) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	return g.verified[userID], nil
}

// fakeCharger records charges and can inject a payment failure.
type fakeCharger struct {
	mu      sync.Mutex
	charges []int64
	err     error
}

func (c *fakeCharger) ChargeGift(_ context.Context, _, _ uuid.UUID, amountCents int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.charges = append(c.charges, amountCents)
	return uuid.New().String(), nil
}

// fakeRecorder hands out deterministic handles and tracks stop calls.
type fakeRecorder struct {
	mu       sync.Mutex
	started  int
	stopped  []string
	startErr error
}

func (r *fakeRecorder) Start(_ context.Context, sessionID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return "", r.startErr
	}
	r.started++
	return "rec_" + sessionID.String(), nil
}

func (r *fakeRecorder) Stop(_ context.Context, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, handle)
	return nil
}

// fakePipeline records process handoffs.
type fakePipeline struct {
	mu         sync.Mutex
	streams    []uuid.UUID
	refs       []string
	highlights [][]models.Highlight
}

func (p *fakePipeline) Process(_ context.Context, streamID uuid.UUID, ref string, hs []models.Highlight) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams = append(p.streams, streamID)
	p.refs = append(p.refs, ref)
	p.highlights = append(p.highlights, hs)
	return nil
}

func testLiveConfig() config.LiveConfig {
	return config.LiveConfig{
		GiftSplitPercent:        80,
		LargeGiftThresholdCents: 10000,
		PeakViewerFloor:         100,
		ChatBurstThreshold:      50,
		HighlightWindow:         60 * time.Second,
		HighlightSweepInterval:  10 * time.Second,
		RetentionSweepInterval:  60 * time.Second,
		SessionRetention:        time.Hour,
		EvictionSweepInterval:   5 * time.Minute,
		BlockedTerms:            []string{"spam", "scam"},
	}
}

type fixture struct {
	svc      *Service
	hub      *Hub
	store    *fakeStore
	gate     *fakeGate
	charger  *fakeCharger
	recorder *fakeRecorder
	pipeline *fakePipeline
	clock    *fakeClock
}

func newFixture(cfg config.LiveConfig) *fixture {
	clock := newFakeClock()
	store := newFakeStore()
	gate := &fakeGate{verified: make(map[uuid.UUID]bool)}
	charger := &fakeCharger{}
	recorder := &fakeRecorder{}
	pipeline := &fakePipeline{}
	hub := NewHub(nil, nil, nil)
	registry := NewRegistry(cfg.SessionRetention, nil)
	registry.clock = clock.Now
	svc := NewService(cfg, registry, hub, store, gate, charger, recorder, pipeline, nil, nil)
	svc.clock = clock.Now
	return &fixture{
		svc:      svc,
		hub:      hub,
		store:    store,
		gate:     gate,
		charger:  charger,
		recorder: recorder,
		pipeline: pipeline,
		clock:    clock,
	}
}

// host creates a verified host and a scheduled session for it.
func (f *fixture) host() (uuid.UUID, *Session) {
	hostID := uuid.New()
	f.gate.verified[hostID] = true
	sess, err := f.svc.CreateStream(context.Background(), hostID, "Friday show", "")
	if err != nil {
		panic(err)
	}
	return hostID, sess
}

// liveSession creates a host and takes its session live.
func (f *fixture) liveSession() (uuid.UUID, *Session) {
	hostID, sess := f.host()
	if err := f.svc.StartStream(context.Background(), sess.ID, hostID); err != nil {
		panic(err)
	}
	return hostID, sess
}

// joinViewer attaches a new viewer connection and returns the user and conn.
func (f *fixture) joinViewer(sessionID uuid.UUID) (uuid.UUID, *Conn) {
	userID := uuid.New()
	conn := NewConn(sessionID, userID)
	if _, err := f.svc.JoinStream(context.Background(), sessionID, userID, models.RoleViewer, conn); err != nil {
		panic(err)
	}
	return userID, conn
}

// drain empties a connection's outbound buffer and returns the envelope types.
func drain(c *Conn) []string {
	var types []string
	for {
		select {
		case env := <-c.Out():
			types = append(types, env.Type)
		default:
			return types
		}
	}
}
