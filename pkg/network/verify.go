package network

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"web3-gateway-go/internal/registry"
)

// 预定义的网络 ID（常量）
const (
	MainnetChainID         = 1
	SepoliaChainID         = 11155111
	HoleskyChainID         = 17000
	EthereumClassicChainID = 61
	MordorChainID          = 63
	PolygonChainID         = 137
	BSCChainID             = 56
	AnvilChainID           = 31337
)

// Name 返回 Chain ID 对应的网络名称
func Name(chainID int64) string {
	switch chainID {
	case MainnetChainID:
		return "Ethereum Mainnet"
	case SepoliaChainID:
		return "Sepolia Testnet"
	case HoleskyChainID:
		return "Holesky Testnet"
	case EthereumClassicChainID:
		return "Ethereum Classic"
	case MordorChainID:
		return "Mordor Testnet"
	case PolygonChainID:
		return "Polygon PoS"
	case BSCChainID:
		return "BNB Smart Chain"
	case AnvilChainID:
		return "Anvil Local"
	default:
		return fmt.Sprintf("Unknown Network (Chain ID: %d)", chainID)
	}
}

// ChainIDSource asks one endpoint for its chain id.
type ChainIDSource interface {
	ChainID(ctx context.Context, d registry.EndpointDescriptor) (*big.Int, error)
}

// VerifyChainID 校验单个端点的 Chain ID，不符或获取失败时返回 error
func VerifyChainID(ctx context.Context, source ChainIDSource, d registry.EndpointDescriptor, expected int64) error {
	actual, err := source.ChainID(ctx, d)
	if err != nil {
		return fmt.Errorf("failed to get chain ID from %s: %w", d.URL, err)
	}
	if actual.Cmp(big.NewInt(expected)) != 0 {
		return fmt.Errorf("network mismatch on %s: expected %s (ID: %d), got %s (ID: %s)",
			d.URL, Name(expected), expected, Name(actual.Int64()), actual)
	}
	return nil
}

// VerifyRegistry checks every JSON-RPC endpoint of each account-family coin
// that declares a chain id. Mismatches are logged and returned; the registry
// itself is never modified, so a bad endpoint simply keeps failing over.
func VerifyRegistry(ctx context.Context, reg *registry.Registry, source ChainIDSource, timeout time.Duration, logger *slog.Logger) []error {
	if logger == nil {
		logger = slog.Default()
	}
	var errs []error
	for _, t := range reg.Targets() {
		spec, _ := reg.Coin(t.Coin)
		if spec.Family != registry.FamilyAccount || spec.ChainID == 0 {
			continue
		}
		eps, err := reg.Endpoints(t.Coin, t.Network)
		if err != nil {
			continue
		}
		for _, d := range eps {
			if d.Kind != registry.JSONRPC {
				continue
			}
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			err := VerifyChainID(checkCtx, source, d, spec.ChainID)
			cancel()
			if err != nil {
				logger.Warn("endpoint_chain_id_mismatch",
					slog.String("coin", d.Coin),
					slog.String("network", d.Network),
					slog.String("endpoint", d.URL),
					slog.String("error", err.Error()))
				errs = append(errs, err)
				continue
			}
			logger.Info("endpoint_chain_id_verified",
				slog.String("coin", d.Coin),
				slog.String("endpoint", d.URL),
				slog.String("network", Name(spec.ChainID)))
		}
	}
	return errs
}
