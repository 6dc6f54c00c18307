// Package registry resolves the factory and token contracts deployed on each chain.
package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"crowdfund/core/ledger"
)

const (
	ChainSepolia uint64 = 11155111
	ChainAnvil   uint64 = 31337
)

// Deployment locates the contracts the engine talks to on one chain.
type Deployment struct {
	ChainID uint64         `yaml:"chain_id"`
	Name    string         `yaml:"name"`
	Factory common.Address `yaml:"factory"`
	Token   common.Address `yaml:"token"`
}

// Registry looks up deployments by chain identifier.
type Registry interface {
	Lookup(chainID uint64) (Deployment, bool)
}

// Static is an in-memory registry. Deployments whose factory is the zero
// address are treated as absent.
type Static struct {
	deployments map[uint64]Deployment
}

// NewStatic builds a registry from the supplied deployments.
func NewStatic(deployments ...Deployment) *Static {
	s := &Static{deployments: make(map[uint64]Deployment, len(deployments))}
	for _, d := range deployments {
		s.deployments[d.ChainID] = d
	}
	return s
}

// Defaults returns the built-in chains. Their addresses stay zero until the
// contracts are deployed, so lookups fail until a deployments file overrides them.
func Defaults() *Static {
	return NewStatic(
		Deployment{ChainID: ChainSepolia, Name: "sepolia"},
		Deployment{ChainID: ChainAnvil, Name: "anvil"},
	)
}

// Lookup returns the deployment for chainID when one is configured.
func (s *Static) Lookup(chainID uint64) (Deployment, bool) {
	if s == nil {
		return Deployment{}, false
	}
	d, ok := s.deployments[chainID]
	if !ok || d.Factory == (common.Address{}) {
		return Deployment{}, false
	}
	return d, true
}

// Chains lists the configured chain identifiers in ascending order.
func (s *Static) Chains() []uint64 {
	out := make([]uint64, 0, len(s.deployments))
	for id := range s.deployments {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Require resolves chainID or fails with ErrConfigurationMissing. The error is
// not retryable; only switching chains can clear it.
func Require(r Registry, chainID uint64) (Deployment, error) {
	if r != nil {
		if d, ok := r.Lookup(chainID); ok {
			return d, nil
		}
	}
	return Deployment{}, ledger.NewError(ledger.KindConfigurationMissing,
		fmt.Sprintf("no contracts deployed on chain %d", chainID), nil)
}

type fileEntry struct {
	ChainID uint64 `yaml:"chain_id"`
	Name    string `yaml:"name"`
	Factory string `yaml:"factory"`
	Token   string `yaml:"token"`
}

type fileFormat struct {
	Chains []fileEntry `yaml:"chains"`
}

// Load reads a YAML deployments file layered over the built-in defaults.
func Load(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML deployments layered over the built-in defaults.
func Parse(raw []byte) (*Static, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("registry: decode: %w", err)
	}
	reg := Defaults()
	seen := make(map[uint64]struct{}, len(doc.Chains))
	for i, entry := range doc.Chains {
		if entry.ChainID == 0 {
			return nil, fmt.Errorf("registry: chains[%d]: chain_id required", i)
		}
		if _, dup := seen[entry.ChainID]; dup {
			return nil, fmt.Errorf("registry: duplicate chain %d", entry.ChainID)
		}
		seen[entry.ChainID] = struct{}{}
		factory, err := parseAddress(entry.Factory)
		if err != nil {
			return nil, fmt.Errorf("registry: chain %d factory: %w", entry.ChainID, err)
		}
		token, err := parseAddress(entry.Token)
		if err != nil {
			return nil, fmt.Errorf("registry: chain %d token: %w", entry.ChainID, err)
		}
		reg.deployments[entry.ChainID] = Deployment{
			ChainID: entry.ChainID,
			Name:    strings.TrimSpace(entry.Name),
			Factory: factory,
			Token:   token,
		}
	}
	return reg, nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}
