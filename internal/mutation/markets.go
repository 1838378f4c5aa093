package mutation

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/seer-pm/seer/internal/chain"
	"github.com/seer-pm/seer/internal/queries"
	"github.com/seer-pm/seer/internal/querycache"
)

const (
	realityProxyABI = `[{"type":"function","name":"resolve","stateMutability":"nonpayable","inputs":[{"name":"market","type":"address"}],"outputs":[]}]`
	airdropABI      = `[{"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"}],"outputs":[]}]`
)

var (
	realityProxy = mustABI(realityProxyABI)
	airdrop      = mustABI(airdropABI)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("mutation: invalid abi: %v", err))
	}
	return parsed
}

// Markets sends market and airdrop transactions from the relayer key.
type Markets struct {
	runner       *TxRunner
	tx           *chain.Transactor
	realityProxy common.Address
	airdrop      common.Address
}

// NewMarkets binds the relayer transactor to the contract addresses of one
// chain.
func NewMarkets(runner *TxRunner, tx *chain.Transactor, realityProxy, airdrop common.Address) *Markets {
	return &Markets{runner: runner, tx: tx, realityProxy: realityProxy, airdrop: airdrop}
}

// ResolveMarket reports the oracle answer for market through the Reality
// proxy. The market entry and the market lists are invalidated on success.
func (m *Markets) ResolveMarket(ctx context.Context, market common.Address) (*types.Receipt, error) {
	data, err := realityProxy.Pack("resolve", market)
	if err != nil {
		return nil, fmt.Errorf("mutation: pack resolve: %w", err)
	}
	to := m.realityProxy
	return m.runner.Run(ctx, "Resolve market",
		func(ctx context.Context) (*types.Transaction, error) {
			return m.tx.Send(ctx, &to, data, nil)
		},
		queries.MarketPrefix(market.Hex()),
		querycache.Key{queries.NameMarkets},
	)
}

// ClaimAirdrop claims the allocation of account. Its airdrop data is
// invalidated on success.
func (m *Markets) ClaimAirdrop(ctx context.Context, account common.Address) (*types.Receipt, error) {
	data, err := airdrop.Pack("claim", account)
	if err != nil {
		return nil, fmt.Errorf("mutation: pack claim: %w", err)
	}
	to := m.airdrop
	return m.runner.Run(ctx, "Claim airdrop",
		func(ctx context.Context) (*types.Transaction, error) {
			return m.tx.Send(ctx, &to, data, nil)
		},
		queries.AirdropPrefix(account.Hex()),
	)
}
