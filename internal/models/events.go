package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one chat line sent into a session.
type ChatMessage struct {
	ID       uuid.UUID `json:"id"`
	StreamID uuid.UUID `json:"stream_id"`
	SenderID uuid.UUID `json:"sender_id"`
	Text     string    `json:"text"`
	Pinned   bool      `json:"pinned"`
	SentAt   time.Time `json:"sent_at"`
}

// Gift is one virtual gift sent to the stream's creator.
type Gift struct {
	ID            uuid.UUID `json:"id"`
	StreamID      uuid.UUID `json:"stream_id"`
	SenderID      uuid.UUID `json:"sender_id"`
	GiftType      string    `json:"gift_type"`
	ValueCents    int64     `json:"value_cents"`
	Quantity      int       `json:"quantity"`
	TransactionID string    `json:"transaction_id,omitempty"`
	SentAt        time.Time `json:"sent_at"`
}

// TotalValue is the gift's unit value multiplied by quantity.
func (g Gift) TotalValue() int64 {
	return g.ValueCents * int64(g.Quantity)
}

// Reaction is one lightweight audience reaction.
type Reaction struct {
	ID           uuid.UUID `json:"id"`
	StreamID     uuid.UUID `json:"stream_id"`
	SenderID     uuid.UUID `json:"sender_id"`
	ReactionType string    `json:"reaction_type"`
	Intensity    int       `json:"intensity"`
	SentAt       time.Time `json:"sent_at"`
}
