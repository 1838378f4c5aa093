package domain

import "time"

// AirdropAllocation is the externally computed airdrop aggregate for one
// address on one chain. The backend only reads it.
type AirdropAllocation struct {
	Address                        string    `json:"address"`
	ChainID                        uint64    `json:"chainId"`
	TotalAllocation                float64   `json:"totalAllocation"`
	OutcomeTokenHoldingAllocation  float64   `json:"outcomeTokenHoldingAllocation"`
	PohUserAllocation              float64   `json:"pohUserAllocation"`
	SeerTokenHoldingAllocation     float64   `json:"seerTokenHoldingAllocation"`
	SeerTokenHoldingAllocationDays int       `json:"seerTokenHoldingAllocationDays"`
	IsPoh                          bool      `json:"isPoh"`
	UpdatedAt                      time.Time `json:"updatedAt"`
}
