package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/seer-pm/seer/internal/chain"
	"github.com/seer-pm/seer/internal/crypto"
	"github.com/seer-pm/seer/internal/deploy"
	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/mutation"
)

// Snapshot optionally imports a JSON array of markets into the index and then
// rebuilds the all-markets blob. It returns the number of markets written.
func (a *App) Snapshot(ctx context.Context, importPath string) (int, error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return 0, err
	}

	if importPath != "" {
		data, err := os.ReadFile(importPath)
		if err != nil {
			return 0, fmt.Errorf("app: read import: %w", err)
		}
		var markets []domain.Market
		if err := json.Unmarshal(data, &markets); err != nil {
			return 0, fmt.Errorf("app: decode import: %w", err)
		}
		if err := deps.Markets.SyncMarkets(ctx, markets); err != nil {
			return 0, err
		}
		a.logger.InfoContext(ctx, "markets imported", slog.Int("count", len(markets)))
	}

	return deps.Snapshot.Build(ctx)
}

// Deploy runs the deployment plan, or the named subset of it, on the
// configured network.
func (a *App) Deploy(ctx context.Context, only []string) ([]domain.Deployment, error) {
	dc := a.cfg.Deploy
	chainID, err := deploy.ChainID(dc.Network)
	if err != nil {
		return nil, err
	}
	plan, err := deploy.LoadPlan(dc.PlanPath)
	if err != nil {
		return nil, err
	}
	if plan, err = plan.Only(only...); err != nil {
		return nil, err
	}
	registry, err := deploy.OpenRegistry(dc.RegistryDir, dc.Network)
	if err != nil {
		return nil, err
	}

	tx, done, err := a.transactor(ctx, chainID)
	if err != nil {
		return nil, err
	}
	defer done()

	a.logger.InfoContext(ctx, "deploying",
		slog.String("network", dc.Network),
		slog.String("deployer", tx.From().Hex()),
		slog.Int("contracts", len(plan.Contracts)),
	)
	d := deploy.NewDeployer(tx, registry, deploy.Artifacts{Dir: dc.ArtifactsDir},
		newNotifier(a.cfg.Notify, nil, a.logger), a.logger)
	return d.Run(ctx, plan)
}

// ResolveMarket reports the oracle answer of market on chainID.
func (a *App) ResolveMarket(ctx context.Context, chainID uint64, market string) (*types.Receipt, error) {
	proxy, err := contractFor(a.cfg.Chain.RealityProxy, chainID, "reality_proxy")
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(market) {
		return nil, fmt.Errorf("app: market %q: %w", market, domain.ErrInvalidInput)
	}
	m, done, err := a.marketsMutation(ctx, chainID, proxy, common.Address{})
	if err != nil {
		return nil, err
	}
	defer done()
	return m.ResolveMarket(ctx, common.HexToAddress(market))
}

// ClaimAirdrop claims the airdrop allocation of account on chainID.
func (a *App) ClaimAirdrop(ctx context.Context, chainID uint64, account string) (*types.Receipt, error) {
	drop, err := contractFor(a.cfg.Chain.AirdropContract, chainID, "airdrop_contract")
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("app: account %q: %w", account, domain.ErrInvalidInput)
	}
	m, done, err := a.marketsMutation(ctx, chainID, common.Address{}, drop)
	if err != nil {
		return nil, err
	}
	defer done()
	return m.ClaimAirdrop(ctx, common.HexToAddress(account))
}

func (a *App) marketsMutation(ctx context.Context, chainID uint64, proxy, drop common.Address) (*mutation.Markets, func(), error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return nil, nil, err
	}
	tx, done, err := a.transactor(ctx, chainID)
	if err != nil {
		return nil, nil, err
	}
	return mutation.NewMarkets(newTxRunner(tx.Backend(), deps, a.logger), tx, proxy, drop), done, nil
}

// newTxRunner sends phase events through the wired notifier, which carries
// them to the websocket hub, and broadcasts confirmed invalidations through
// the market service.
func newTxRunner(backend chain.Backend, deps *Dependencies, logger *slog.Logger) *mutation.TxRunner {
	var opts []mutation.RunnerOption
	if deps.Markets != nil {
		opts = append(opts, mutation.WithBroadcaster(deps.Markets))
	}
	return mutation.NewTxRunner(backend, nil, deps.Notifier, logger, opts...)
}

// transactor loads the configured key and dials chainID.
func (a *App) transactor(ctx context.Context, chainID uint64) (*chain.Transactor, func(), error) {
	key, err := crypto.LoadKey(crypto.KeySource{
		RawPrivateKey:    a.cfg.Chain.PrivateKey,
		EncryptedKeyPath: a.cfg.Chain.EncryptedKeyPath,
		Password:         a.cfg.Chain.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("app: signing key: %w", err)
	}
	clients, err := chain.NewClients(a.cfg.Chain.RPCURLs)
	if err != nil {
		return nil, nil, err
	}
	backend, err := clients.Get(ctx, chainID)
	if err != nil {
		clients.Close()
		return nil, nil, err
	}
	tx, err := chain.NewTransactor(ctx, backend, key)
	if err != nil {
		clients.Close()
		return nil, nil, err
	}
	return tx, clients.Close, nil
}

func contractFor(addrs map[string]string, chainID uint64, setting string) (common.Address, error) {
	addr := addrs[strconv.FormatUint(chainID, 10)]
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("app: chain.%s has no address for chain %d: %w", setting, chainID, domain.ErrInvalidInput)
	}
	return common.HexToAddress(addr), nil
}
