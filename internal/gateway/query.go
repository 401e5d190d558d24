package gateway

import (
	"context"

	"web3-gateway-go/internal/chain"
)

// GetBalance 查询地址余额（经由回退链）
func (r *Resolver) GetBalance(ctx context.Context, coin, network, address string) (chain.Result, error) {
	return r.Resolve(ctx, chain.GetBalance(coin, network, address))
}

func (r *Resolver) GetBlockHeight(ctx context.Context, coin, network string) (chain.Result, error) {
	return r.Resolve(ctx, chain.GetBlockHeight(coin, network))
}

func (r *Resolver) EstimateFee(ctx context.Context, coin, network string, targetBlocks int) (chain.Result, error) {
	return r.Resolve(ctx, chain.EstimateFee(coin, network, targetBlocks))
}

func (r *Resolver) GetHistory(ctx context.Context, coin, network, address string, limit int) (chain.Result, error) {
	return r.Resolve(ctx, chain.GetHistory(coin, network, address, limit))
}
