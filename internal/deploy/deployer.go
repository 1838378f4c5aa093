package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/seer-pm/seer/internal/chain"
	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/notify"
)

// DeployOptions describes one deployment. Contract defaults to the deployment
// name; From, when set, must be the transactor's account.
type DeployOptions struct {
	From     common.Address
	Contract string
	Args     []string
}

// Notifier receives a KindDeployed event for every new contract.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
}

// Deployer deploys contracts idempotently.
type Deployer struct {
	tx        *chain.Transactor
	registry  *Registry
	artifacts ArtifactSource
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewDeployer creates a Deployer. notifier may be nil.
func NewDeployer(tx *chain.Transactor, registry *Registry, artifacts ArtifactSource, notifier Notifier, logger *slog.Logger) *Deployer {
	return &Deployer{
		tx:        tx,
		registry:  registry,
		artifacts: artifacts,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "deploy"), slog.String("network", registry.Network())),
		now:       time.Now,
	}
}

// Run deploys every step of plan in order and returns the resulting records.
func (d *Deployer) Run(ctx context.Context, plan *Plan) ([]domain.Deployment, error) {
	out := make([]domain.Deployment, 0, len(plan.Contracts))
	for _, s := range plan.Contracts {
		dep, err := d.Deploy(ctx, s.Name, DeployOptions{Contract: s.Contract, Args: s.Args})
		if err != nil {
			return out, err
		}
		out = append(out, dep)
	}
	return out, nil
}

// Deploy deploys name unless the registry already records it and code exists
// at the recorded address, in which case the record is returned and nothing is
// sent.
func (d *Deployer) Deploy(ctx context.Context, name string, opts DeployOptions) (domain.Deployment, error) {
	contract := opts.Contract
	if contract == "" {
		contract = name
	}
	logger := d.logger.With(slog.String("name", name), slog.String("contract", contract))

	if opts.From != (common.Address{}) && opts.From != d.tx.From() {
		return domain.Deployment{}, fmt.Errorf("deploy: %s: from %s does not match deployer %s: %w",
			name, opts.From.Hex(), d.tx.From().Hex(), domain.ErrInvalidInput)
	}

	if rec, ok := d.registry.Get(name); ok {
		live, err := chain.HasCode(ctx, d.tx.Backend(), common.HexToAddress(rec.Address))
		if err != nil {
			return domain.Deployment{}, fmt.Errorf("deploy: %s: %w", name, err)
		}
		if live {
			logger.Info("reusing deployment", slog.String("address", rec.Address))
			return rec, nil
		}
		logger.Warn("recorded deployment has no code, redeploying", slog.String("address", rec.Address))
	}

	args, err := d.resolveArgs(name, opts.Args)
	if err != nil {
		return domain.Deployment{}, err
	}
	art, err := d.artifacts.Load(contract)
	if err != nil {
		return domain.Deployment{}, err
	}
	packed, err := packConstructor(art.ABI, args)
	if err != nil {
		return domain.Deployment{}, fmt.Errorf("deploy: %s: %w", name, err)
	}
	data := append(append([]byte{}, art.Bytecode...), packed...)

	tx, err := d.tx.Send(ctx, nil, data, nil)
	if err != nil {
		return domain.Deployment{}, fmt.Errorf("deploy: %s: %w", name, err)
	}
	logger.Info("deployment submitted", slog.String("tx", tx.Hash().Hex()))

	receipt, err := d.tx.Wait(ctx, tx)
	if err != nil {
		return domain.Deployment{}, fmt.Errorf("deploy: %s: wait: %w", name, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.Deployment{}, fmt.Errorf("deploy: %s: tx %s: %w", name, tx.Hash().Hex(), domain.ErrTxFailed)
	}

	rec := domain.Deployment{
		Name:       name,
		Contract:   contract,
		Network:    d.registry.Network(),
		ChainID:    d.tx.ChainID().Uint64(),
		Address:    receipt.ContractAddress.Hex(),
		TxHash:     tx.Hash().Hex(),
		Args:       args,
		DeployedAt: d.now().UTC(),
	}
	if err := d.registry.Put(rec); err != nil {
		return rec, err
	}
	logger.Info("contract deployed", slog.String("address", rec.Address))
	d.announce(ctx, rec)
	return rec, nil
}

// resolveArgs replaces "@Name" with recorded addresses and "$deployer" with
// the sending account.
func (d *Deployer) resolveArgs(name string, args []string) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		switch {
		case a == argDeployer:
			out[i] = d.tx.From().Hex()
		case strings.HasPrefix(a, refPrefix):
			dep := strings.TrimPrefix(a, refPrefix)
			rec, ok := d.registry.Get(dep)
			if !ok {
				return nil, fmt.Errorf("deploy: %s: dependency %s: %w", name, dep, domain.ErrMissingDependency)
			}
			out[i] = rec.Address
		default:
			out[i] = a
		}
	}
	return out, nil
}

func (d *Deployer) announce(ctx context.Context, rec domain.Deployment) {
	if d.notifier == nil {
		return
	}
	err := d.notifier.Notify(ctx, notify.Event{
		Kind:    notify.KindDeployed,
		Title:   "Deployed " + rec.Name,
		Message: rec.Address,
		Fields: map[string]string{
			"network":  rec.Network,
			"contract": rec.Contract,
			"tx":       rec.TxHash,
		},
	})
	if err != nil {
		d.logger.Warn("deploy notification failed", slog.String("error", err.Error()))
	}
}

// packConstructor ABI-encodes string args against the constructor inputs.
func packConstructor(parsed abi.ABI, args []string) ([]byte, error) {
	inputs := parsed.Constructor.Inputs
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("constructor takes %d args, plan gives %d: %w", len(inputs), len(args), domain.ErrInvalidInput)
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	values := make([]any, len(args))
	for i, in := range inputs {
		v, err := convertArg(in.Type, args[i])
		if err != nil {
			return nil, fmt.Errorf("arg %d (%s %s): %w", i, in.Type.String(), in.Name, err)
		}
		values[i] = v
	}
	return parsed.Pack("", values...)
}

func convertArg(t abi.Type, s string) (any, error) {
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("%q is not an address: %w", s, domain.ErrInvalidInput)
		}
		return common.HexToAddress(s), nil
	case abi.BoolTy:
		return strconv.ParseBool(s)
	case abi.StringTy:
		return s, nil
	case abi.BytesTy:
		return hexutil.Decode(s)
	case abi.FixedBytesTy:
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("%d bytes do not fit bytes%d: %w", len(b), t.Size, domain.ErrInvalidInput)
		}
		arr := reflect.New(reflect.ArrayOf(t.Size, reflect.TypeOf(byte(0)))).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil
	case abi.UintTy, abi.IntTy:
		n, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return nil, fmt.Errorf("%q is not an integer: %w", s, domain.ErrInvalidInput)
		}
		return sizedInt(t, n)
	}
	return nil, fmt.Errorf("unsupported constructor type %s", t.String())
}

// intRange returns the inclusive bounds of t: [0, 2^n-1] for uintN and
// [-2^(n-1), 2^(n-1)-1] for intN.
func intRange(t abi.Type) (lo, hi *big.Int) {
	if t.T == abi.UintTy {
		hi = new(big.Int).Lsh(big.NewInt(1), uint(t.Size))
		return big.NewInt(0), hi.Sub(hi, big.NewInt(1))
	}
	half := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	return new(big.Int).Neg(half), new(big.Int).Sub(half, big.NewInt(1))
}

// sizedInt returns the Go type the abi packer expects for t: the fixed-width
// integer for 8/16/32/64 bits and *big.Int otherwise.
func sizedInt(t abi.Type, n *big.Int) (any, error) {
	if t.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("negative value for %s: %w", t.String(), domain.ErrInvalidInput)
	}
	if lo, hi := intRange(t); n.Cmp(lo) < 0 || n.Cmp(hi) > 0 {
		return nil, fmt.Errorf("%s overflows %s: %w", n, t.String(), domain.ErrInvalidInput)
	}
	switch {
	case t.T == abi.UintTy && t.Size == 8:
		return uint8(n.Uint64()), nil
	case t.T == abi.UintTy && t.Size == 16:
		return uint16(n.Uint64()), nil
	case t.T == abi.UintTy && t.Size == 32:
		return uint32(n.Uint64()), nil
	case t.T == abi.UintTy && t.Size == 64:
		return n.Uint64(), nil
	case t.T == abi.IntTy && t.Size == 8:
		return int8(n.Int64()), nil
	case t.T == abi.IntTy && t.Size == 16:
		return int16(n.Int64()), nil
	case t.T == abi.IntTy && t.Size == 32:
		return int32(n.Int64()), nil
	case t.T == abi.IntTy && t.Size == 64:
		return n.Int64(), nil
	}
	return n, nil
}
