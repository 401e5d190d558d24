package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Coins map[string]coinYAML `yaml:"coins"`
}

type coinYAML struct {
	Family   string                    `yaml:"family"`
	Decimals *uint8                    `yaml:"decimals"`
	ChainID  int64                     `yaml:"chain_id"`
	Networks map[string][]endpointYAML `yaml:"networks"`
	Mining   *miningYAML               `yaml:"mining"`
}

type endpointYAML struct {
	URL      string `yaml:"url"`
	Kind     string `yaml:"kind"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type miningYAML struct {
	Algorithm           string   `yaml:"algorithm"`
	PrimaryPool         string   `yaml:"primary_pool"`
	BackupPools         []string `yaml:"backup_pools"`
	WalletAddress       string   `yaml:"wallet_address"`
	PoolPassword        string   `yaml:"pool_password"`
	CommandLineTemplate []string `yaml:"command_line_template"`
}

// LoadFile reads a YAML registry file from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML registry document. Protocol kinds and coin families are
// resolved here, once, so nothing downstream inspects coin names.
func Parse(data []byte) (*Registry, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	specs := make([]CoinSpec, 0, len(cfg.Coins))
	for name, c := range cfg.Coins {
		family := CoinFamily(c.Family)
		decimals := family.DefaultDecimals()
		if c.Decimals != nil {
			decimals = *c.Decimals
		}
		spec := CoinSpec{
			Name:     name,
			Family:   family,
			Decimals: decimals,
			ChainID:  c.ChainID,
			Networks: make(map[string][]EndpointDescriptor, len(c.Networks)),
		}
		for network, eps := range c.Networks {
			for _, ep := range eps {
				d := EndpointDescriptor{URL: ep.URL, Kind: ProtocolKind(ep.Kind)}
				if d.Kind == "" {
					d.Kind = JSONRPC
				}
				if ep.Username != "" || ep.Password != "" {
					d.Credentials = &Credentials{Username: ep.Username, Password: ep.Password}
				}
				spec.Networks[network] = append(spec.Networks[network], d)
			}
		}
		if c.Mining != nil {
			spec.Mining = &MiningConfig{
				Algorithm:           c.Mining.Algorithm,
				PrimaryPool:         c.Mining.PrimaryPool,
				BackupPools:         c.Mining.BackupPools,
				WalletAddress:       c.Mining.WalletAddress,
				PoolPassword:        c.Mining.PoolPassword,
				CommandLineTemplate: c.Mining.CommandLineTemplate,
			}
		}
		specs = append(specs, spec)
	}
	return New(specs)
}
