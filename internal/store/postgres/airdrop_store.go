package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seer-pm/seer/internal/domain"
)

// AirdropStore reads the allocations written by the airdrop-calculation job.
type AirdropStore struct {
	pool *pgxpool.Pool
}

// NewAirdropStore creates an AirdropStore.
func NewAirdropStore(pool *pgxpool.Pool) *AirdropStore {
	return &AirdropStore{pool: pool}
}

// Get returns the allocation of address on chainID.
func (s *AirdropStore) Get(ctx context.Context, address string, chainID uint64) (domain.AirdropAllocation, error) {
	var (
		a     domain.AirdropAllocation
		chain int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT address, chain_id, total_allocation, outcome_token_holding_allocation,
		       poh_user_allocation, seer_token_holding_allocation,
		       seer_token_holding_allocation_days, is_poh, updated_at
		FROM airdrops
		WHERE address = $1 AND chain_id = $2`,
		strings.ToLower(address), int64(chainID),
	).Scan(
		&a.Address, &chain, &a.TotalAllocation, &a.OutcomeTokenHoldingAllocation,
		&a.PohUserAllocation, &a.SeerTokenHoldingAllocation,
		&a.SeerTokenHoldingAllocationDays, &a.IsPoh, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AirdropAllocation{}, fmt.Errorf("postgres: airdrop %s: %w", address, domain.ErrNotFound)
		}
		return domain.AirdropAllocation{}, fmt.Errorf("postgres: get airdrop %s: %w", address, err)
	}
	a.ChainID = uint64(chain)
	return a, nil
}
