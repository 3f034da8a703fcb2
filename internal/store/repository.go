// Package store persists streams, events, highlights and analytics snapshots.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulselive/backend/internal/models"
)

// Repository implements the session core's Store collaborator on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates the stream persistence repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetUser returns a user by id, or nil if absent.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT id, email, password_hash, display_name, is_verified, created_at, updated_at
		FROM users WHERE id = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.Password, &u.DisplayName, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// CreateLiveStream inserts a new stream record.
func (r *Repository) CreateLiveStream(ctx context.Context, s *models.LiveStream) error {
	const q = `INSERT INTO live_streams (id, host_id, title, description, stream_key, state)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, s.HostID, s.Title, s.Description, s.StreamKey, s.State).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// GetLiveStream returns a stream record by id.
func (r *Repository) GetLiveStream(ctx context.Context, id uuid.UUID) (*models.LiveStream, error) {
	const q = `SELECT id, host_id, title, description, stream_key, state, playback_url, started_at, ended_at, created_at, updated_at
		FROM live_streams WHERE id = $1`
	var s models.LiveStream
	var playback *string
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.HostID, &s.Title, &s.Description, &s.StreamKey, &s.State, &playback, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if playback != nil {
		s.PlaybackURL = *playback
	}
	return &s, nil
}

// UpdateLiveStreamState records a lifecycle transition with its timestamp.
func (r *Repository) UpdateLiveStreamState(ctx context.Context, id uuid.UUID, state models.StreamState, at time.Time) error {
	var q string
	switch state {
	case models.StreamLive:
		q = `UPDATE live_streams SET state = $1, started_at = $2, updated_at = NOW() WHERE id = $3`
	case models.StreamEnded:
		q = `UPDATE live_streams SET state = $1, ended_at = $2, updated_at = NOW() WHERE id = $3`
	default:
		_, err := r.pool.Exec(ctx,
			`UPDATE live_streams SET state = $1, updated_at = NOW() WHERE id = $2`, state, id)
		return err
	}
	_, err := r.pool.Exec(ctx, q, state, at, id)
	return err
}

// SetLiveStreamPlaybackURL records the on-demand playback location after the
// media pipeline finishes.
func (r *Repository) SetLiveStreamPlaybackURL(ctx context.Context, id uuid.UUID, url string) error {
	const q = `UPDATE live_streams SET playback_url = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, url, id)
	return err
}

// AddStreamParticipant records a host/co-star/moderator stint.
func (r *Repository) AddStreamParticipant(ctx context.Context, p models.StreamParticipant) error {
	const q = `INSERT INTO stream_participants (stream_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stream_id, user_id) DO UPDATE SET role = $3, joined_at = $4, left_at = NULL`
	_, err := r.pool.Exec(ctx, q, p.StreamID, p.UserID, p.Role, p.JoinedAt)
	return err
}

// MarkParticipantLeft closes a participant stint.
func (r *Repository) MarkParticipantLeft(ctx context.Context, streamID, userID uuid.UUID, leftAt time.Time) error {
	const q = `UPDATE stream_participants SET left_at = $1 WHERE stream_id = $2 AND user_id = $3 AND left_at IS NULL`
	_, err := r.pool.Exec(ctx, q, leftAt, streamID, userID)
	return err
}

// AddStreamViewer records one finalized viewer stint with its watch time.
func (r *Repository) AddStreamViewer(ctx context.Context, v models.StreamViewer) error {
	const q = `INSERT INTO stream_viewers (stream_id, user_id, joined_at, left_at, watch_time_seconds)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, q, v.StreamID, v.UserID, v.JoinedAt, v.LeftAt, v.WatchTimeSeconds)
	return err
}

// AddStreamChatMessage persists a chat message.
func (r *Repository) AddStreamChatMessage(ctx context.Context, m *models.ChatMessage) error {
	const q = `INSERT INTO stream_chat_messages (id, stream_id, sender_id, text, pinned, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, q, m.ID, m.StreamID, m.SenderID, m.Text, m.Pinned, m.SentAt)
	return err
}

// AddStreamGift persists a gift event.
func (r *Repository) AddStreamGift(ctx context.Context, g *models.Gift) error {
	const q = `INSERT INTO stream_gifts (id, stream_id, sender_id, gift_type, value_cents, quantity, transaction_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, q, g.ID, g.StreamID, g.SenderID, g.GiftType, g.ValueCents, g.Quantity, g.TransactionID, g.SentAt)
	return err
}

// AddStreamReaction persists a reaction event.
func (r *Repository) AddStreamReaction(ctx context.Context, re *models.Reaction) error {
	const q = `INSERT INTO stream_reactions (id, stream_id, sender_id, reaction_type, intensity, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, q, re.ID, re.StreamID, re.SenderID, re.ReactionType, re.Intensity, re.SentAt)
	return err
}

// CreateStreamHighlight persists one highlight interval.
func (r *Repository) CreateStreamHighlight(ctx context.Context, h *models.Highlight) error {
	const q = `INSERT INTO stream_highlights (id, stream_id, type, title, start_time, end_time, score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, q, h.ID, h.StreamID, h.Type, h.Title, h.StartTime, h.EndTime, h.Score, h.CreatedAt)
	return err
}

// CreateStreamAnalytics persists the end-of-session analytics snapshot,
// including the retention curve as JSON.
func (r *Repository) CreateStreamAnalytics(ctx context.Context, a *models.StreamAnalytics) error {
	curve, err := json.Marshal(a.RetentionCurve)
	if err != nil {
		return err
	}
	const q = `INSERT INTO stream_analytics
		(stream_id, peak_viewers, total_viewers, total_chat_messages, total_reactions, total_gifts, total_gift_value, avg_watch_time, engagement_score, retention_curve)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.pool.Exec(ctx, q, a.StreamID, a.PeakViewers, a.TotalViewers, a.TotalChatMessages,
		a.TotalReactions, a.TotalGifts, a.TotalGiftValue, a.AvgWatchTime, a.EngagementScore, curve)
	return err
}
