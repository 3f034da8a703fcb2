package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamState is the lifecycle state of a live stream.
type StreamState string

const (
	StreamScheduled StreamState = "scheduled"
	StreamLive      StreamState = "live"
	StreamEnded     StreamState = "ended"
)

// ParticipantRole is the speaking role of a user inside a session.
type ParticipantRole string

const (
	RoleHost      ParticipantRole = "host"
	RoleCoStar    ParticipantRole = "co_star"
	RoleModerator ParticipantRole = "moderator"
	// RoleViewer is not a speaking role; viewers are tracked separately and
	// the constant exists only for the join request payload.
	RoleViewer ParticipantRole = "viewer"
)

// LiveStream is the persistent record backing a broadcast session.
type LiveStream struct {
	ID          uuid.UUID   `json:"id"`
	HostID      uuid.UUID   `json:"host_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	StreamKey   string      `json:"stream_key"`
	State       StreamState `json:"state"`
	PlaybackURL string      `json:"playback_url,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	EndedAt     *time.Time  `json:"ended_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// StreamParticipant is the persisted record of a host/co-star/moderator stint.
type StreamParticipant struct {
	StreamID uuid.UUID       `json:"stream_id"`
	UserID   uuid.UUID       `json:"user_id"`
	Role     ParticipantRole `json:"role"`
	JoinedAt time.Time       `json:"joined_at"`
	LeftAt   *time.Time      `json:"left_at,omitempty"`
}

// StreamViewer is the persisted record of one viewer's watch stint.
type StreamViewer struct {
	StreamID         uuid.UUID `json:"stream_id"`
	UserID           uuid.UUID `json:"user_id"`
	JoinedAt         time.Time `json:"joined_at"`
	LeftAt           time.Time `json:"left_at"`
	WatchTimeSeconds int64     `json:"watch_time_seconds"`
}
