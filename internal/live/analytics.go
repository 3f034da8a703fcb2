package live

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/pulselive/backend/config"
	"github.com/pulselive/backend/internal/models"
)

const chatBurstWindow = 60 * time.Second

// Engine runs the periodic sweeps over live sessions: a short-interval scan
// for automatic highlight conditions and a slower retention-curve sampler.
// Each pass takes a registry snapshot and only the per-session lock for the
// duration of its read, never blocking on I/O while holding it.
type Engine struct {
	cfg      config.LiveConfig
	registry *Registry
	hub      *Hub
	logger   *zap.Logger
	clock    func() time.Time
}

// NewEngine creates the analytics and highlight engine.
func NewEngine(cfg config.LiveConfig, registry *Registry, hub *Hub, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		registry: registry,
		hub:      hub,
		logger:   logger,
		clock:    time.Now,
	}
}

// Run drives both sweeps until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	highlightTicker := time.NewTicker(e.cfg.HighlightSweepInterval)
	retentionTicker := time.NewTicker(e.cfg.RetentionSweepInterval)
	defer highlightTicker.Stop()
	defer retentionTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-highlightTicker.C:
			e.SweepHighlights(now)
		case now := <-retentionTicker.C:
			e.SweepRetention(now)
		}
	}
}

// SweepHighlights scans every live session for automatic highlight conditions:
// viewers at peak above the floor, and chat bursts in the trailing minute.
func (e *Engine) SweepHighlights(now time.Time) {
	for _, sess := range e.registry.Live() {
		e.sweepSession(sess, now)
	}
}

func (e *Engine) sweepSession(sess *Session, now time.Time) {
	a := sess.Analytics()
	elapsed := now.Sub(sess.StartedAt()).Seconds()

	if a.PeakViewers > e.cfg.PeakViewerFloor && a.CurrentViewers == a.PeakViewers {
		if e.markPeakEmitted(sess, a.PeakViewers) {
			score := math.Min(100, float64(a.PeakViewers)/10)
			h := sess.AddHighlight(models.HighlightPeakViewership,
				fmt.Sprintf("Peak viewership: %d watching", a.PeakViewers),
				score, elapsed, e.cfg.HighlightWindow, now)
			e.hub.BroadcastAndPublish(sess.ID, "highlight_created", h)
		}
	}

	burst := sess.ChatBurstCount(now, chatBurstWindow)
	if burst > e.cfg.ChatBurstThreshold && e.markBurstEmitted(sess, now) {
		score := math.Min(100, float64(burst))
		h := sess.AddHighlight(models.HighlightHighEngagement,
			fmt.Sprintf("High engagement: %d messages", burst),
			score, elapsed, e.cfg.HighlightWindow, now)
		e.hub.BroadcastAndPublish(sess.ID, "highlight_created", h)
	}
}

// markPeakEmitted records that a peak-viewership highlight fired for this peak
// value, so the 10s sweep does not repeat it while the peak holds.
func (e *Engine) markPeakEmitted(sess *Session, peak int) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.lastPeakHighlight >= peak {
		return false
	}
	sess.lastPeakHighlight = peak
	return true
}

// markBurstEmitted rate-limits burst highlights to one per trailing window.
func (e *Engine) markBurstEmitted(sess *Session, now time.Time) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if now.Sub(sess.lastBurstHighlight) < chatBurstWindow {
		return false
	}
	sess.lastBurstHighlight = now
	return true
}

// SweepRetention samples the retention curve of every live session.
func (e *Engine) SweepRetention(now time.Time) {
	for _, sess := range e.registry.Live() {
		sess.sampleRetention(now)
	}
}

// Per-signal caps for the engagement score: no single signal can push the
// score past its share, and the total stays within [0,100].
const (
	engagementChatCap     = 40.0
	engagementGiftCap     = 30.0
	engagementReactionCap = 15.0
	engagementWatchCap    = 15.0
)

// engagementScore computes the final weighted score from chat volume, gift
// value, reactions and average watch time, each capped before summing.
func engagementScore(a models.StreamAnalytics) float64 {
	chat := math.Min(engagementChatCap, float64(a.TotalChatMessages)*0.2)
	gifts := math.Min(engagementGiftCap, float64(a.TotalGiftValue)/1000)
	reactions := math.Min(engagementReactionCap, float64(a.TotalReactions)*0.1)
	watch := math.Min(engagementWatchCap, a.AvgWatchTime/60)
	return chat + gifts + reactions + watch
}
