package deploy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seer-pm/seer/internal/chain"
	"github.com/seer-pm/seer/internal/chain/chaintest"
	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/notify"
)

const testPlan = `
contracts:
  - name: ConditionalTokens
  - name: RealityProxy
    args: ["@ConditionalTokens", "$deployer"]
  - name: Factory
    contract: MarketFactory
    args: ["@RealityProxy", "86400"]
`

var testArtifacts = map[string]string{
	"ConditionalTokens": `[]`,
	"RealityProxy": `[{"type":"constructor","stateMutability":"nonpayable","inputs":[
		{"name":"conditionalTokens","type":"address"},{"name":"owner","type":"address"}]}]`,
	"MarketFactory": `[{"type":"constructor","stateMutability":"nonpayable","inputs":[
		{"name":"realityProxy","type":"address"},{"name":"questionTimeout","type":"uint32"}]}]`,
}

func writeArtifacts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, abiJSON := range testArtifacts {
		sub := filepath.Join(dir, "contracts", name+".sol")
		require.NoError(t, os.MkdirAll(sub, 0o755))
		art, err := json.Marshal(map[string]any{
			"contractName": name,
			"abi":          json.RawMessage(abiJSON),
			"bytecode":     "0x6080604052",
		})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(sub, name+".json"), art, 0o644))
	}
	return dir
}

type env struct {
	backend   *chaintest.Backend
	tx        *chain.Transactor
	artifacts Artifacts
	regDir    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	backend := chaintest.New(100)
	tx, err := chain.NewTransactor(context.Background(), backend, key)
	require.NoError(t, err)
	return &env{backend: backend, tx: tx, artifacts: Artifacts{Dir: writeArtifacts(t)}, regDir: t.TempDir()}
}

func (e *env) deployer(t *testing.T, n Notifier) *Deployer {
	t.Helper()
	reg, err := OpenRegistry(e.regDir, "gnosis")
	require.NoError(t, err)
	return NewDeployer(e.tx, reg, e.artifacts, n, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type recorder struct{ events []notify.Event }

func (r *recorder) Notify(_ context.Context, ev notify.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	plan, err := ParsePlan([]byte(testPlan))
	require.NoError(t, err)

	rec := &recorder{}
	first, err := e.deployer(t, rec).Run(ctx, plan)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Len(t, e.backend.Sent(), 3)
	assert.Len(t, rec.events, 3)
	assert.Equal(t, notify.KindDeployed, rec.events[0].Kind)

	assert.Equal(t, []string{first[0].Address, e.tx.From().Hex()}, first[1].Args)
	assert.Equal(t, []string{first[1].Address, "86400"}, first[2].Args)
	assert.Equal(t, "MarketFactory", first[2].Contract)
	assert.Equal(t, uint64(100), first[2].ChainID)

	second, err := e.deployer(t, nil).Run(ctx, plan)
	require.NoError(t, err)
	assert.Len(t, e.backend.Sent(), 3, "second run must send nothing")
	require.Len(t, second, 3)
	for i := range first {
		assert.Equal(t, first[i].Address, second[i].Address)
		assert.Equal(t, first[i].TxHash, second[i].TxHash)
	}

	data, err := os.ReadFile(filepath.Join(e.regDir, "gnosis.json"))
	require.NoError(t, err)
	var onDisk map[string]domain.Deployment
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Len(t, onDisk, 3)
	assert.Equal(t, first[0].Address, onDisk["ConditionalTokens"].Address)
}

func TestDeployRedeploysWhenCodeIsGone(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	d := e.deployer(t, nil)

	rec, err := d.Deploy(ctx, "ConditionalTokens", DeployOptions{})
	require.NoError(t, err)
	e.backend.ClearCode(common.HexToAddress(rec.Address))

	again, err := d.Deploy(ctx, "ConditionalTokens", DeployOptions{})
	require.NoError(t, err)
	assert.Len(t, e.backend.Sent(), 2)
	assert.NotEqual(t, rec.Address, again.Address)
}

func TestDeployMissingDependency(t *testing.T) {
	e := newEnv(t)
	_, err := e.deployer(t, nil).Deploy(context.Background(), "RealityProxy", DeployOptions{
		Args: []string{"@ConditionalTokens", "$deployer"},
	})
	require.ErrorIs(t, err, domain.ErrMissingDependency)
	assert.Contains(t, err.Error(), "ConditionalTokens")
	assert.Empty(t, e.backend.Sent())
}

func TestDeployRejectsForeignSender(t *testing.T) {
	e := newEnv(t)
	_, err := e.deployer(t, nil).Deploy(context.Background(), "ConditionalTokens", DeployOptions{
		From: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDeployArgCountMismatch(t *testing.T) {
	e := newEnv(t)
	_, err := e.deployer(t, nil).Deploy(context.Background(), "Factory", DeployOptions{
		Contract: "MarketFactory",
		Args:     []string{"0x00000000000000000000000000000000000000aa"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, e.backend.Sent())
}

func TestDefaultPlan(t *testing.T) {
	p, err := DefaultPlan()
	require.NoError(t, err)

	names := make([]string, len(p.Contracts))
	for i, s := range p.Contracts {
		names[i] = s.Name
	}
	assert.Equal(t, []string{
		"ConditionalTokens", "Reality", "RealityProxy", "WrappedERC20", "WrappedERC20Factory",
		"MarketView", "Market", "MarketFactory", "Router", "GnosisRouter",
		"AirdropRecipient", "GovernedRecipient",
	}, names)
	assert.Equal(t, []string{"@ConditionalTokens", "@Reality"}, p.Contracts[2].Args)
	assert.Equal(t, "RealityETH_v3_0", p.Contracts[1].Contract)
	assert.Equal(t, "ConditionalTokens", p.Contracts[0].Contract)

	sub, err := p.Only("Router", "ConditionalTokens")
	require.NoError(t, err)
	require.Len(t, sub.Contracts, 2)
	assert.Equal(t, "ConditionalTokens", sub.Contracts[0].Name)

	_, err = p.Only("Nope")
	assert.Error(t, err)
}

func TestParsePlanRejectsDuplicates(t *testing.T) {
	_, err := ParsePlan([]byte("contracts:\n  - name: A\n  - name: A\n"))
	assert.ErrorContains(t, err, "duplicate")
	_, err = ParsePlan([]byte("contracts:\n  - contract: A\n"))
	assert.ErrorContains(t, err, "name is required")
}

func TestParseArtifact(t *testing.T) {
	_, err := ParseArtifact([]byte(`{"contractName":"I","abi":[],"bytecode":"0x"}`))
	assert.ErrorContains(t, err, "no bytecode")

	art, err := ParseArtifact([]byte(`{"contractName":"C","abi":[],"bytecode":"0x6080"}`))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x80}, art.Bytecode)
}

func TestConvertIntegerBounds(t *testing.T) {
	maxUint256, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	minInt256 := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))

	tests := []struct {
		typ  string
		in   string
		want any
	}{
		{"int8", "-128", int8(-128)},
		{"int8", "127", int8(127)},
		{"uint8", "255", uint8(255)},
		{"uint8", "0", uint8(0)},
		{"int16", "-32768", int16(-32768)},
		{"int64", "-9223372036854775808", int64(-9223372036854775808)},
		{"uint64", "18446744073709551615", uint64(18446744073709551615)},
		{"uint256", maxUint256.String(), maxUint256},
		{"int256", minInt256.String(), minInt256},
		{"uint256", "0x10", big.NewInt(16)},
	}
	for _, tt := range tests {
		t.Run(tt.typ+"/"+tt.in, func(t *testing.T) {
			typ, err := abi.NewType(tt.typ, "", nil)
			require.NoError(t, err)
			got, err := convertArg(typ, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	overflows := []struct {
		typ string
		in  string
	}{
		{"int8", "-129"},
		{"int8", "128"},
		{"uint8", "256"},
		{"uint8", "-1"},
		{"int64", "9223372036854775808"},
		{"uint256", new(big.Int).Add(maxUint256, big.NewInt(1)).String()},
		{"int256", new(big.Int).Sub(minInt256, big.NewInt(1)).String()},
	}
	for _, tt := range overflows {
		t.Run("reject "+tt.typ+"/"+tt.in, func(t *testing.T) {
			typ, err := abi.NewType(tt.typ, "", nil)
			require.NoError(t, err)
			_, err = convertArg(typ, tt.in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}
