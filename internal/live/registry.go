package live

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/pulselive/backend/internal/models"
)

// Registry is the in-memory table of active sessions, keyed by session id and
// by stream key. Ended sessions stay queryable until the retention sweep
// evicts them.
type Registry struct {
	mu        sync.RWMutex
	byID      map[uuid.UUID]*Session
	byKey     map[string]*Session
	retention time.Duration
	logger    *zap.Logger
	clock     func() time.Time
}

// NewRegistry creates a session registry with the given ended-session
// retention window.
func NewRegistry(retention time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byID:      make(map[uuid.UUID]*Session),
		byKey:     make(map[string]*Session),
		retention: retention,
		logger:    logger,
		clock:     time.Now,
	}
}

// Create builds a new scheduled session owned by the registry.
func (r *Registry) Create(streamID, hostID uuid.UUID, streamKey string, ice []webrtc.ICEServer) *Session {
	s := newSession(streamID, hostID, streamKey, ice, r.clock())
	r.mu.Lock()
	r.byID[s.ID] = s
	r.byKey[streamKey] = s
	r.mu.Unlock()
	r.logger.Debug("session created",
		zap.String("session_id", s.ID.String()),
		zap.String("stream_id", streamID.String()))
	return s
}

// Get returns a session by id.
func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, Errorf(KindNotFound, "stream session not found")
	}
	return s, nil
}

// GetByStreamKey returns a session by its ingest stream key.
func (r *Registry) GetByStreamKey(key string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byKey[key]
	if !ok {
		return nil, Errorf(KindNotFound, "stream session not found")
	}
	return s, nil
}

// Live returns a snapshot of all sessions currently live.
func (r *Registry) Live() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.byID {
		if s.State() == models.StreamLive {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of sessions currently held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Sweep evicts sessions that ended before now minus the retention window.
// Pure garbage collection; nothing observable beyond memory release.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.retention)
	evicted := 0
	for id, s := range r.byID {
		if s.State() != models.StreamEnded {
			continue
		}
		if s.EndedAt().Before(cutoff) {
			delete(r.byID, id)
			delete(r.byKey, s.StreamKey)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Debug("retention sweep evicted sessions", zap.Int("count", evicted))
	}
	return evicted
}

// Run drives the retention sweep until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}
