package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/seer-pm/seer/internal/domain"
)

// Registry is the deployments/<network>.json file: every contract deployed on
// one network, keyed by deployment name.
type Registry struct {
	path    string
	network string

	mu      sync.Mutex
	records map[string]domain.Deployment
}

// OpenRegistry loads the registry for network under dir. A missing file is an
// empty registry.
func OpenRegistry(dir, network string) (*Registry, error) {
	if network == "" {
		return nil, fmt.Errorf("deploy: network is required")
	}
	r := &Registry{
		path:    filepath.Join(dir, network+".json"),
		network: network,
		records: make(map[string]domain.Deployment),
	}
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("deploy: read registry: %w", err)
	}
	if len(data) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, &r.records); err != nil {
		return nil, fmt.Errorf("deploy: parse registry %s: %w", r.path, err)
	}
	return r, nil
}

// Network returns the network name.
func (r *Registry) Network() string { return r.network }

// Path returns the registry file location.
func (r *Registry) Path() string { return r.path }

// Get returns the record for name.
func (r *Registry) Get(name string) (domain.Deployment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.records[name]
	return d, ok
}

// All returns every record sorted by deployment time, then name.
func (r *Registry) All() []domain.Deployment {
	r.mu.Lock()
	out := make([]domain.Deployment, 0, len(r.records))
	for _, d := range r.records {
		out = append(out, d)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DeployedAt.Equal(out[j].DeployedAt) {
			return out[i].DeployedAt.Before(out[j].DeployedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Put records d and rewrites the file.
func (r *Registry) Put(d domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[d.Name] = d
	return r.flush()
}

// flush writes to a temp file in the same directory and renames it over the
// registry, so readers never see a partial file.
func (r *Registry) flush() error {
	data, err := json.MarshalIndent(r.records, "", "  ")
	if err != nil {
		return fmt.Errorf("deploy: encode registry: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("deploy: registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+r.network+"-*.json")
	if err != nil {
		return fmt.Errorf("deploy: registry temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("deploy: write registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("deploy: sync registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("deploy: close registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("deploy: replace registry: %w", err)
	}
	return nil
}

// networks maps the network names used for registry files to chain ids.
var networks = map[string]uint64{
	"mainnet":  1,
	"optimism": 10,
	"gnosis":   100,
	"base":     8453,
	"sepolia":  11155111,
	"hardhat":  31337,
}

// ChainID returns the chain id for a network name.
func ChainID(network string) (uint64, error) {
	id, ok := networks[network]
	if !ok {
		return 0, fmt.Errorf("deploy: unknown network %q: %w", network, domain.ErrInvalidInput)
	}
	return id, nil
}
