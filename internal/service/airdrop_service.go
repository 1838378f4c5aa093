package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/seer-pm/seer/internal/domain"
)

// AirdropService serves precomputed allocations.
type AirdropService struct {
	store domain.AirdropStore
}

// NewAirdropService creates an AirdropService.
func NewAirdropService(store domain.AirdropStore) *AirdropService {
	return &AirdropService{store: store}
}

// Allocation returns address's allocation on chainID. An address with no row
// gets a zero allocation rather than an error.
func (s *AirdropService) Allocation(ctx context.Context, address string, chainID uint64) (domain.AirdropAllocation, error) {
	if !common.IsHexAddress(address) {
		return domain.AirdropAllocation{}, fmt.Errorf("airdrop_service: address %q: %w", address, domain.ErrInvalidInput)
	}
	if chainID == 0 {
		chainID = domain.ChainGnosis
	}
	address = strings.ToLower(address)

	a, err := s.store.Get(ctx, address, chainID)
	if err != nil {
		if isNotFound(err) {
			return domain.AirdropAllocation{Address: address, ChainID: chainID}, nil
		}
		return domain.AirdropAllocation{}, fmt.Errorf("airdrop_service: get: %w", err)
	}
	return a, nil
}
