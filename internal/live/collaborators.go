package live

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pulselive/backend/internal/models"
)

// Store is the persistence collaborator. All calls are made outside the
// per-session lock; session state is applied only after the call succeeds.
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateLiveStream(ctx context.Context, s *models.LiveStream) error
	UpdateLiveStreamState(ctx context.Context, id uuid.UUID, state models.StreamState, at time.Time) error
	SetLiveStreamPlaybackURL(ctx context.Context, id uuid.UUID, url string) error
	AddStreamParticipant(ctx context.Context, p models.StreamParticipant) error
	MarkParticipantLeft(ctx context.Context, streamID, userID uuid.UUID, leftAt time.Time) error
	AddStreamViewer(ctx context.Context, v models.StreamViewer) error
	AddStreamChatMessage(ctx context.Context, m *models.ChatMessage) error
	AddStreamGift(ctx context.Context, g *models.Gift) error
	AddStreamReaction(ctx context.Context, r *models.Reaction) error
	CreateStreamHighlight(ctx context.Context, h *models.Highlight) error
	CreateStreamAnalytics(ctx context.Context, a *models.StreamAnalytics) error
}

// Gate answers whether a user may host or co-star. The answer is a
// point-in-time read; every gated action re-checks it.
type Gate interface {
	IsVerified(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Charger captures payment for a gift and reports the transaction id.
// Idempotency and double-charge protection are the charger's concern.
type Charger interface {
	ChargeGift(ctx context.Context, senderID, receiverID uuid.UUID, amountCents int64) (string, error)
}

// Recorder starts and stops the recording of a session, identified by an
// opaque handle.
type Recorder interface {
	Start(ctx context.Context, sessionID uuid.UUID) (string, error)
	Stop(ctx context.Context, handle string) error
}

// Pipeline receives a finished recording plus its highlight intervals for
// on-demand processing.
type Pipeline interface {
	Process(ctx context.Context, streamID uuid.UUID, recordingRef string, highlights []models.Highlight) error
}
