package live

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulselive/backend/internal/models"
)

func TestSweepHighlightsPeakViewership(t *testing.T) {
	cfg := testLiveConfig()
	cfg.PeakViewerFloor = 3
	f := newFixture(cfg)
	engine := NewEngine(cfg, f.svc.Registry(), f.hub, nil)
	_, sess := f.liveSession()

	viewers := make([]uuid.UUID, 4)
	for i := range viewers {
		viewers[i], _ = f.joinViewer(sess.ID)
	}

	now := f.clock.Now()
	engine.SweepHighlights(now)
	hs := sess.Highlights()
	require.Len(t, hs, 1)
	assert.Equal(t, models.HighlightPeakViewership, hs[0].Type)
	assert.InDelta(t, 0.4, hs[0].Score, 0.001)

	// The same peak never fires twice.
	engine.SweepHighlights(now.Add(10 * time.Second))
	assert.Len(t, sess.Highlights(), 1)

	// Off-peak sessions are skipped even above the floor.
	require.NoError(t, f.svc.LeaveStream(context.Background(), sess.ID, viewers[0]))
	engine.SweepHighlights(now.Add(20 * time.Second))
	assert.Len(t, sess.Highlights(), 1)

	// A new, higher peak fires again.
	f.joinViewer(sess.ID)
	f.joinViewer(sess.ID)
	engine.SweepHighlights(now.Add(30 * time.Second))
	hs = sess.Highlights()
	require.Len(t, hs, 2)
	assert.Equal(t, models.HighlightPeakViewership, hs[1].Type)
	assert.InDelta(t, 0.5, hs[1].Score, 0.001)
}

func TestSweepHighlightsPeakBelowFloor(t *testing.T) {
	cfg := testLiveConfig()
	cfg.PeakViewerFloor = 100
	f := newFixture(cfg)
	engine := NewEngine(cfg, f.svc.Registry(), f.hub, nil)
	_, sess := f.liveSession()

	for i := 0; i < 10; i++ {
		f.joinViewer(sess.ID)
	}
	engine.SweepHighlights(f.clock.Now())
	assert.Empty(t, sess.Highlights())
}

func TestSweepHighlightsChatBurst(t *testing.T) {
	cfg := testLiveConfig()
	f := newFixture(cfg)
	engine := NewEngine(cfg, f.svc.Registry(), f.hub, nil)
	_, sess := f.liveSession()
	start := f.clock.Now()

	// 51 messages in the trailing minute crosses the >50 threshold.
	for i := 0; i < 51; i++ {
		sess.AppendChat(&models.ChatMessage{ID: uuid.New(), SentAt: start.Add(time.Duration(i) * time.Second)})
	}
	sweepAt := start.Add(55 * time.Second)
	engine.SweepHighlights(sweepAt)
	hs := sess.Highlights()
	require.Len(t, hs, 1)
	assert.Equal(t, models.HighlightHighEngagement, hs[0].Type)
	assert.Equal(t, 51.0, hs[0].Score)

	// Rate-limited to one burst highlight per window.
	engine.SweepHighlights(sweepAt.Add(10 * time.Second))
	assert.Len(t, sess.Highlights(), 1)
}

func TestSweepHighlightsChatBelowThreshold(t *testing.T) {
	cfg := testLiveConfig()
	f := newFixture(cfg)
	engine := NewEngine(cfg, f.svc.Registry(), f.hub, nil)
	_, sess := f.liveSession()
	start := f.clock.Now()

	for i := 0; i < 49; i++ {
		sess.AppendChat(&models.ChatMessage{ID: uuid.New(), SentAt: start.Add(time.Duration(i) * 100 * time.Millisecond)})
	}
	engine.SweepHighlights(start.Add(30 * time.Second))
	assert.Empty(t, sess.Highlights())
}

func TestSweepHighlightsSkipsNonLiveSessions(t *testing.T) {
	cfg := testLiveConfig()
	cfg.PeakViewerFloor = 1
	f := newFixture(cfg)
	engine := NewEngine(cfg, f.svc.Registry(), f.hub, nil)
	_, sess := f.host() // scheduled, never started

	f.joinViewer(sess.ID)
	f.joinViewer(sess.ID)
	engine.SweepHighlights(f.clock.Now())
	assert.Empty(t, sess.Highlights())
}

func TestSweepRetentionSamplesLiveSessions(t *testing.T) {
	cfg := testLiveConfig()
	f := newFixture(cfg)
	engine := NewEngine(cfg, f.svc.Registry(), f.hub, nil)
	_, sess := f.liveSession()

	f.joinViewer(sess.ID)
	f.joinViewer(sess.ID)
	engine.SweepRetention(f.clock.Now().Add(time.Minute))

	a := sess.Analytics()
	require.Len(t, a.RetentionCurve, 1)
	assert.Equal(t, 1, a.RetentionCurve[0].Minute)
	assert.InDelta(t, 100.0, a.RetentionCurve[0].Retention, 0.001)
}

func TestEngagementScoreCaps(t *testing.T) {
	a := models.StreamAnalytics{
		TotalChatMessages: 10000,
		TotalGiftValue:    10_000_000,
		TotalReactions:    100000,
		AvgWatchTime:      100000,
	}
	assert.Equal(t, 100.0, engagementScore(a))

	assert.Equal(t, 0.0, engagementScore(models.StreamAnalytics{}))

	mid := models.StreamAnalytics{
		TotalChatMessages: 100,  // 20 of 40
		TotalGiftValue:    5000, // 5 of 30
		TotalReactions:    50,   // 5 of 15
		AvgWatchTime:      300,  // 5 of 15
	}
	assert.InDelta(t, 35.0, engagementScore(mid), 0.001)
}
