package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seer-pm/seer/internal/domain"
)

// AccountStore manages email verification tokens.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// GetVerification returns the verification issued under token.
func (s *AccountStore) GetVerification(ctx context.Context, token string) (domain.EmailVerification, error) {
	var v domain.EmailVerification
	err := s.pool.QueryRow(ctx,
		`SELECT token, user_id, email, expires_at, verified_at
		 FROM email_verifications WHERE token = $1`, token,
	).Scan(&v.Token, &v.UserID, &v.Email, &v.ExpiresAt, &v.VerifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EmailVerification{}, fmt.Errorf("postgres: verification: %w", domain.ErrNotFound)
		}
		return domain.EmailVerification{}, fmt.Errorf("postgres: get verification: %w", err)
	}
	return v, nil
}

// MarkVerified redeems token and flags the user's email as verified in one
// transaction. A token that was already redeemed yields ErrNotFound.
func (s *AccountStore) MarkVerified(ctx context.Context, token string, at time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var userID, email string
		err := tx.QueryRow(ctx,
			`UPDATE email_verifications SET verified_at = $2
			 WHERE token = $1 AND verified_at IS NULL
			 RETURNING user_id, email`, token, at,
		).Scan(&userID, &email)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("postgres: verification: %w", domain.ErrNotFound)
			}
			return fmt.Errorf("postgres: redeem verification: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, email, email_verified) VALUES ($1, $2, TRUE)
			 ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, email_verified = TRUE`,
			userID, email); err != nil {
			return fmt.Errorf("postgres: verify user %s: %w", userID, err)
		}
		return nil
	})
}
