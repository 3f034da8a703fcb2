package models

import (
	"github.com/google/uuid"
)

// RetentionPoint is one sample of the retention curve: percentage of peak
// viewers still watching at a given minute since stream start.
type RetentionPoint struct {
	Minute    int     `json:"minute"`
	Retention float64 `json:"retention"`
}

// StreamAnalytics is the per-session aggregate. CurrentViewers is live state;
// the rest are monotonic counters updated with the events that cause them.
type StreamAnalytics struct {
	StreamID          uuid.UUID        `json:"stream_id"`
	CurrentViewers    int              `json:"current_viewers"`
	PeakViewers       int              `json:"peak_viewers"`
	TotalViewers      int              `json:"total_viewers"`
	TotalChatMessages int              `json:"total_chat_messages"`
	TotalReactions    int              `json:"total_reactions"`
	TotalGifts        int              `json:"total_gifts"`
	TotalGiftValue    int64            `json:"total_gift_value"`
	AvgWatchTime      float64          `json:"avg_watch_time"`
	EngagementScore   float64          `json:"engagement_score"`
	RetentionCurve    []RetentionPoint `json:"retention_curve,omitempty"`
}
