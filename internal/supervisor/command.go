package supervisor

import (
	"strings"

	"web3-gateway-go/internal/registry"
)

// Fixed tuning flags passed to every miner.
const (
	defaultIntensity  = "auto"
	defaultTempLimit  = "85"
	defaultPowerLimit = "80"
	defaultPoolPass   = "x"
)

// BuildArgs derives the miner command line from a coin's mining config.
func BuildArgs(cfg registry.MiningConfig) []string {
	pass := cfg.PoolPassword
	if pass == "" {
		pass = defaultPoolPass
	}

	if len(cfg.CommandLineTemplate) > 0 {
		r := strings.NewReplacer(
			"{algo}", cfg.Algorithm,
			"{pool}", cfg.PrimaryPool,
			"{wallet}", cfg.WalletAddress,
			"{pass}", pass,
		)
		args := make([]string, 0, len(cfg.CommandLineTemplate))
		for _, a := range cfg.CommandLineTemplate {
			args = append(args, r.Replace(a))
		}
		return args
	}

	return []string{
		"--algo", cfg.Algorithm,
		"--server", cfg.PrimaryPool,
		"--user", cfg.WalletAddress,
		"--pass", pass,
		"--intensity", defaultIntensity,
		"--temp-limit", defaultTempLimit,
		"--power-limit", defaultPowerLimit,
	}
}
