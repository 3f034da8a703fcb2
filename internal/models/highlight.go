package models

import (
	"time"

	"github.com/google/uuid"
)

// HighlightType identifies what triggered a highlight.
type HighlightType string

const (
	HighlightPeakViewership HighlightType = "peak_viewership"
	HighlightHighEngagement HighlightType = "high_engagement"
	HighlightLargeGift      HighlightType = "large_gift"
	HighlightManual         HighlightType = "manual"
)

// Highlight is a scored interval within the session timeline.
// StartTime/EndTime are seconds since stream start; 0 <= StartTime < EndTime,
// Score in [0,100].
type Highlight struct {
	ID        uuid.UUID     `json:"id"`
	StreamID  uuid.UUID     `json:"stream_id"`
	Type      HighlightType `json:"type"`
	Title     string        `json:"title"`
	StartTime float64       `json:"start_time"`
	EndTime   float64       `json:"end_time"`
	Score     float64       `json:"score"`
	CreatedAt time.Time     `json:"created_at"`
}
