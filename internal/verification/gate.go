// Package verification answers whether a user may host or co-star.
package verification

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Gate reads verification status from the users table. Every check is a
// point-in-time read; nothing is cached.
type Gate struct {
	pool *pgxpool.Pool
}

// NewGate creates the verification gate.
func NewGate(pool *pgxpool.Pool) *Gate {
	return &Gate{pool: pool}
}

// IsVerified reports whether the user has passed identity verification.
// An unknown user is simply not verified.
func (g *Gate) IsVerified(ctx context.Context, userID uuid.UUID) (bool, error) {
	const q = `SELECT is_verified FROM users WHERE id = $1`
	var verified bool
	err := g.pool.QueryRow(ctx, q, userID).Scan(&verified)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return verified, nil
}
