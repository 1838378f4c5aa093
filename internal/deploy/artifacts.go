package deploy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is the part of a Hardhat build artifact the runner needs.
type Artifact struct {
	ContractName string
	ABI          abi.ABI
	Bytecode     []byte
}

type hardhatArtifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// ArtifactSource loads compiled contracts by name.
type ArtifactSource interface {
	Load(contract string) (*Artifact, error)
}

// Artifacts reads Hardhat artifacts from a directory, either flat
// (<dir>/<Name>.json) or in Hardhat's own layout
// (<dir>/contracts/**/<Name>.sol/<Name>.json).
type Artifacts struct {
	Dir string
}

// Load implements ArtifactSource.
func (a Artifacts) Load(contract string) (*Artifact, error) {
	path, err := a.find(contract)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("deploy: read artifact %s: %w", contract, err)
	}
	return ParseArtifact(data)
}

func (a Artifacts) find(contract string) (string, error) {
	flat := filepath.Join(a.Dir, contract+".json")
	if _, err := os.Stat(flat); err == nil {
		return flat, nil
	}

	var found string
	want := contract + ".json"
	err := filepath.WalkDir(a.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == want {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("deploy: search artifacts: %w", err)
	}
	if found == "" {
		return "", fmt.Errorf("deploy: artifact %s not found under %s", contract, a.Dir)
	}
	return found, nil
}

// ParseArtifact decodes a Hardhat artifact.
func ParseArtifact(data []byte) (*Artifact, error) {
	var raw hardhatArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("deploy: decode artifact: %w", err)
	}
	if len(raw.ABI) == 0 {
		raw.ABI = json.RawMessage("[]")
	}
	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("deploy: %s abi: %w", raw.ContractName, err)
	}
	if raw.Bytecode == "" || raw.Bytecode == "0x" {
		return nil, fmt.Errorf("deploy: %s has no bytecode (abstract or interface?)", raw.ContractName)
	}
	if strings.Contains(raw.Bytecode, "__$") {
		return nil, fmt.Errorf("deploy: %s needs library linking", raw.ContractName)
	}
	code, err := hexutil.Decode(raw.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("deploy: %s bytecode: %w", raw.ContractName, err)
	}
	return &Artifact{ContractName: raw.ContractName, ABI: parsed, Bytecode: code}, nil
}
