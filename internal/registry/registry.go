// Package registry holds the immutable (coin, network) → ordered endpoint
// mapping and the per-coin mining configuration.
package registry

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownNetwork is returned when no candidates are configured for a (coin, network).
var ErrUnknownNetwork = errors.New("no endpoints configured for coin/network")

// ProtocolKind 决定适配器使用哪种线协议
type ProtocolKind string

const (
	JSONRPC      ProtocolKind = "jsonrpc"
	RESTExplorer ProtocolKind = "rest"
)

// CoinFamily selects the JSON-RPC method set for a coin.
type CoinFamily string

const (
	FamilyUTXO    CoinFamily = "utxo"
	FamilyAccount CoinFamily = "account"
)

// DefaultDecimals is the base-unit exponent used when a coin does not set
// one: satoshi-style 8 for UTXO coins, wei-style 18 for account coins.
func (f CoinFamily) DefaultDecimals() uint8 {
	switch f {
	case FamilyUTXO:
		return 8
	case FamilyAccount:
		return 18
	default:
		return 0
	}
}

// Credentials are optional HTTP basic auth credentials for a backend.
type Credentials struct {
	Username string
	Password string
}

// EndpointDescriptor is one candidate backend for a (coin, network). The
// family and decimals are copied from the coin at load time so the adapter
// never has to look them up.
type EndpointDescriptor struct {
	Coin        string
	Network     string
	URL         string
	Kind        ProtocolKind
	Family      CoinFamily
	Decimals    uint8
	Credentials *Credentials
}

// Key identifies the descriptor in the health table.
func (d EndpointDescriptor) Key() string {
	return d.Coin + "/" + d.Network + "/" + d.URL
}

// MiningConfig describes how to launch the external miner for one coin.
type MiningConfig struct {
	Coin          string
	Algorithm     string
	PrimaryPool   string
	BackupPools   []string
	WalletAddress string
	PoolPassword  string
	// CommandLineTemplate replaces the default flag set when non-empty.
	// {algo}, {pool}, {wallet} and {pass} are substituted.
	CommandLineTemplate []string
}

// CoinSpec is the loaded configuration of one coin.
type CoinSpec struct {
	Name     string
	Family   CoinFamily
	Decimals uint8
	ChainID  int64
	Networks map[string][]EndpointDescriptor
	Mining   *MiningConfig
}

// Target is a (coin, network) pair known to the registry.
type Target struct {
	Coin    string `json:"coin"`
	Network string `json:"network"`
}

// PoolTarget is one mining-pool address to probe for reachability.
type PoolTarget struct {
	Coin    string `json:"coin"`
	Address string `json:"address"`
	Primary bool   `json:"primary"`
}

// Registry is read-only after New returns.
type Registry struct {
	coins map[string]CoinSpec
}

// New validates the coin specs and freezes them into a Registry.
func New(specs []CoinSpec) (*Registry, error) {
	r := &Registry{coins: make(map[string]CoinSpec, len(specs))}
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, errors.New("coin with empty name")
		}
		if _, dup := r.coins[spec.Name]; dup {
			return nil, fmt.Errorf("coin %s configured twice", spec.Name)
		}
		if err := validateFamily(spec.Family); err != nil {
			return nil, fmt.Errorf("coin %s: %w", spec.Name, err)
		}
		if spec.Decimals > 36 {
			return nil, fmt.Errorf("coin %s: decimals %d out of range", spec.Name, spec.Decimals)
		}

		networks := make(map[string][]EndpointDescriptor, len(spec.Networks))
		for network, eps := range spec.Networks {
			if len(eps) == 0 {
				return nil, fmt.Errorf("coin %s network %s: empty endpoint list", spec.Name, network)
			}
			seen := make(map[string]bool, len(eps))
			list := make([]EndpointDescriptor, 0, len(eps))
			for i, ep := range eps {
				if ep.URL == "" {
					return nil, fmt.Errorf("coin %s network %s endpoint %d: empty url", spec.Name, network, i)
				}
				if seen[ep.URL] {
					return nil, fmt.Errorf("coin %s network %s: duplicate endpoint %s", spec.Name, network, ep.URL)
				}
				seen[ep.URL] = true
				if ep.Kind != JSONRPC && ep.Kind != RESTExplorer {
					return nil, fmt.Errorf("coin %s network %s endpoint %s: unknown protocol kind %q", spec.Name, network, ep.URL, ep.Kind)
				}
				ep.Coin = spec.Name
				ep.Network = network
				ep.Family = spec.Family
				ep.Decimals = spec.Decimals
				if ep.Credentials != nil {
					c := *ep.Credentials
					ep.Credentials = &c
				}
				list = append(list, ep)
			}
			networks[network] = list
		}
		spec.Networks = networks

		if spec.Mining != nil {
			m := *spec.Mining
			m.Coin = spec.Name
			if m.Algorithm == "" || m.PrimaryPool == "" || m.WalletAddress == "" {
				return nil, fmt.Errorf("coin %s: mining config needs algorithm, primary pool and wallet address", spec.Name)
			}
			m.BackupPools = append([]string(nil), m.BackupPools...)
			m.CommandLineTemplate = append([]string(nil), m.CommandLineTemplate...)
			spec.Mining = &m
		}
		r.coins[spec.Name] = spec
	}
	return r, nil
}

func validateFamily(f CoinFamily) error {
	switch f {
	case FamilyUTXO, FamilyAccount:
		return nil
	default:
		return fmt.Errorf("unknown coin family %q", f)
	}
}

// Endpoints returns a copy of the ordered candidate list for (coin, network).
func (r *Registry) Endpoints(coin, network string) ([]EndpointDescriptor, error) {
	spec, ok := r.coins[coin]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownNetwork, coin, network)
	}
	eps, ok := spec.Networks[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownNetwork, coin, network)
	}
	return append([]EndpointDescriptor(nil), eps...), nil
}

// Coin returns the spec for a coin.
func (r *Registry) Coin(name string) (CoinSpec, bool) {
	spec, ok := r.coins[name]
	return spec, ok
}

// Coins returns every coin name, sorted.
func (r *Registry) Coins() []string {
	names := make([]string, 0, len(r.coins))
	for name := range r.coins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Targets returns every (coin, network) pair, sorted.
func (r *Registry) Targets() []Target {
	var out []Target
	for _, coin := range r.Coins() {
		nets := make([]string, 0, len(r.coins[coin].Networks))
		for n := range r.coins[coin].Networks {
			nets = append(nets, n)
		}
		sort.Strings(nets)
		for _, n := range nets {
			out = append(out, Target{Coin: coin, Network: n})
		}
	}
	return out
}

// MiningConfig returns the mining configuration registered for a coin.
func (r *Registry) MiningConfig(coin string) (MiningConfig, bool) {
	spec, ok := r.coins[coin]
	if !ok || spec.Mining == nil {
		return MiningConfig{}, false
	}
	m := *spec.Mining
	m.BackupPools = append([]string(nil), m.BackupPools...)
	m.CommandLineTemplate = append([]string(nil), m.CommandLineTemplate...)
	return m, true
}

// MiningCoins returns the sorted names of coins that have a mining config.
func (r *Registry) MiningCoins() []string {
	var out []string
	for _, coin := range r.Coins() {
		if r.coins[coin].Mining != nil {
			out = append(out, coin)
		}
	}
	return out
}

// PoolTargets lists every primary and backup pool address.
func (r *Registry) PoolTargets() []PoolTarget {
	var out []PoolTarget
	for _, coin := range r.MiningCoins() {
		m := r.coins[coin].Mining
		out = append(out, PoolTarget{Coin: coin, Address: m.PrimaryPool, Primary: true})
		for _, b := range m.BackupPools {
			out = append(out, PoolTarget{Coin: coin, Address: b})
		}
	}
	return out
}
