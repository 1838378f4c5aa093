// Package chain wraps the go-ethereum RPC client with the few calls the
// mutation and deploy layers need, and signs transactions with the
// configured key.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of *ethclient.Client used here. Tests substitute an
// in-memory chain.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Clients dials one RPC client per chain lazily.
type Clients struct {
	mu      sync.Mutex
	urls    map[uint64]string
	clients map[uint64]*ethclient.Client
}

// NewClients builds a client set from a chain id -> RPC url map. Keys that
// are not decimal chain ids are rejected.
func NewClients(rpcURLs map[string]string) (*Clients, error) {
	urls := make(map[uint64]string, len(rpcURLs))
	for k, v := range rpcURLs {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chain: rpc url key %q is not a chain id", k)
		}
		urls[id] = v
	}
	return &Clients{urls: urls, clients: make(map[uint64]*ethclient.Client)}, nil
}

// Get returns the client for chainID, dialing it on first use.
func (c *Clients) Get(ctx context.Context, chainID uint64) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[chainID]; ok {
		return cl, nil
	}
	url, ok := c.urls[chainID]
	if !ok {
		return nil, fmt.Errorf("chain: no rpc url for chain %d", chainID)
	}
	cl, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chain: dial chain %d: %w", chainID, err)
	}
	c.clients[chainID] = cl
	return cl, nil
}

// Close closes every dialed client.
func (c *Clients) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cl := range c.clients {
		cl.Close()
		delete(c.clients, id)
	}
}
