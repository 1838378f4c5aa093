// Package deploy runs an ordered contract deployment plan against a chain,
// recording every address in a per-network registry so reruns skip work that
// is already on-chain.
package deploy

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed plan.yaml
var defaultPlan []byte

// Placeholders accepted in step arguments.
const (
	refPrefix   = "@"
	argDeployer = "$deployer"
)

// Step deploys one contract under Name. Contract names the artifact and
// defaults to Name.
type Step struct {
	Name     string   `yaml:"name"`
	Contract string   `yaml:"contract"`
	Args     []string `yaml:"args"`
}

// Plan is an ordered list of steps.
type Plan struct {
	Contracts []Step `yaml:"contracts"`
}

// DefaultPlan returns the built-in Seer plan.
func DefaultPlan() (*Plan, error) {
	return ParsePlan(defaultPlan)
}

// LoadPlan reads a plan from path, or the built-in plan when path is empty.
func LoadPlan(path string) (*Plan, error) {
	if path == "" {
		return DefaultPlan()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("deploy: read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes and validates a YAML plan.
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("deploy: parse plan: %w", err)
	}
	seen := make(map[string]bool, len(p.Contracts))
	for i := range p.Contracts {
		s := &p.Contracts[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, fmt.Errorf("deploy: plan step %d: name is required", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("deploy: plan step %d: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.Contract == "" {
			s.Contract = s.Name
		}
	}
	return &p, nil
}

// Only returns a copy of p restricted to names, keeping plan order. Unknown
// names are an error.
func (p *Plan) Only(names ...string) (*Plan, error) {
	if len(names) == 0 {
		return p, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := &Plan{}
	for _, s := range p.Contracts {
		if want[s.Name] {
			out.Contracts = append(out.Contracts, s)
			delete(want, s.Name)
		}
	}
	for n := range want {
		return nil, fmt.Errorf("deploy: %q is not in the plan", n)
	}
	return out, nil
}
