package domain

import "time"

// Deployment records a contract deployed under a name on a network.
type Deployment struct {
	Name       string    `json:"name"`
	Contract   string    `json:"contract"`
	Network    string    `json:"network"`
	ChainID    uint64    `json:"chainId"`
	Address    string    `json:"address"`
	TxHash     string    `json:"txHash"`
	Args       []string  `json:"args"`
	DeployedAt time.Time `json:"deployedAt"`
}
