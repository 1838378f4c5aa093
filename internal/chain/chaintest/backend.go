// Package chaintest provides an in-memory chain.Backend for tests.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Backend mines every transaction instantly. Contract creations get code at
// the CREATE address; calls to addresses listed in Revert get a failed
// receipt.
type Backend struct {
	mu       sync.Mutex
	chainID  *big.Int
	nonces   map[common.Address]uint64
	code     map[common.Address][]byte
	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction

	// Revert makes transactions to these addresses fail on-chain.
	Revert map[common.Address]bool
	// SendErr, when set, is returned by SendTransaction.
	SendErr error
}

// New returns an empty chain with the given id.
func New(chainID int64) *Backend {
	return &Backend{
		chainID:  big.NewInt(chainID),
		nonces:   make(map[common.Address]uint64),
		code:     make(map[common.Address][]byte),
		receipts: make(map[common.Hash]*types.Receipt),
		Revert:   make(map[common.Address]bool),
	}
}

// Sent returns the transactions accepted so far.
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

// SetCode places code at addr.
func (b *Backend) SetCode(addr common.Address, code []byte) {
	b.mu.Lock()
	b.code[addr] = code
	b.mu.Unlock()
}

// ClearCode removes any code at addr.
func (b *Backend) ClearCode(addr common.Address) {
	b.mu.Lock()
	delete(b.code, addr)
	b.mu.Unlock()
}

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

func (b *Backend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.code[account], nil
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21_000 + uint64(len(msg.Data))*16, nil
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if b.SendErr != nil {
		return b.SendErr
	}
	from, err := types.Sender(types.LatestSignerForChainID(b.chainID), tx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if tx.Nonce() != b.nonces[from] {
		return errors.New("nonce too low")
	}
	b.nonces[from]++
	b.sent = append(b.sent, tx)

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		GasUsed:     tx.Gas(),
		BlockNumber: big.NewInt(int64(len(b.sent))),
	}
	switch {
	case tx.To() == nil:
		addr := ethcrypto.CreateAddress(from, tx.Nonce())
		receipt.ContractAddress = addr
		b.code[addr] = append([]byte{0x60, 0x80}, tx.Data()...)
	case b.Revert[*tx.To()]:
		receipt.Status = types.ReceiptStatusFailed
	}
	b.receipts[tx.Hash()] = receipt
	return nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}
