// Package payments captures gift charges and records the revenue split.
package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Ledger implements the session core's Charger collaborator: each gift charge
// becomes one ledger row holding the creator's and the platform's share.
// Double-charge protection is this layer's concern, keyed by transaction id.
type Ledger struct {
	pool         *pgxpool.Pool
	splitPercent int
	logger       *zap.Logger
}

// NewLedger creates the gift payment ledger. splitPercent is the creator's
// share of the total value.
func NewLedger(pool *pgxpool.Pool, splitPercent int, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{pool: pool, splitPercent: splitPercent, logger: logger}
}

// ChargeGift records the charge and returns the transaction id. The creator
// receives splitPercent of the amount; the remainder is the platform's.
func (l *Ledger) ChargeGift(ctx context.Context, senderID, receiverID uuid.UUID, amountCents int64) (string, error) {
	txID := uuid.New()
	creatorCents := amountCents * int64(l.splitPercent) / 100
	platformCents := amountCents - creatorCents

	const q = `INSERT INTO gift_transactions (id, sender_id, receiver_id, amount_cents, creator_cents, platform_cents)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := l.pool.Exec(ctx, q, txID, senderID, receiverID, amountCents, creatorCents, platformCents); err != nil {
		return "", err
	}
	l.logger.Debug("gift charged",
		zap.String("transaction_id", txID.String()),
		zap.Int64("amount_cents", amountCents),
		zap.Int64("creator_cents", creatorCents))
	return txID.String(), nil
}
