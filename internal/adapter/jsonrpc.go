package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"web3-gateway-go/internal/chain"
	"web3-gateway-go/internal/registry"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

func (c *Client) invokeJSONRPC(ctx context.Context, d registry.EndpointDescriptor, req chain.Request) (chain.Result, error) {
	switch d.Family {
	case registry.FamilyUTXO:
		return c.invokeUTXO(ctx, d, req)
	case registry.FamilyAccount:
		return c.invokeAccount(ctx, d, req)
	default:
		return chain.Result{}, protocolErr(d.URL, "unknown coin family %q", d.Family)
	}
}

// addressQuery is the argument shape of the addressindex RPCs.
type addressQuery struct {
	Addresses []string `json:"addresses"`
}

// UTXO 系：addressindex 方法族（getaddressbalance / getaddresstxids）
func (c *Client) invokeUTXO(ctx context.Context, d registry.EndpointDescriptor, req chain.Request) (chain.Result, error) {
	switch req.Op {
	case chain.OpGetBalance:
		var reply struct {
			Balance json.Number `json:"balance"`
		}
		if err := c.call(ctx, d, &reply, "getaddressbalance", addressQuery{Addresses: []string{req.Address}}); err != nil {
			return chain.Result{}, err
		}
		if reply.Balance == "" {
			return chain.Result{}, protocolErr(d.URL, "getaddressbalance: missing balance field")
		}
		units, err := uint256.FromDecimal(reply.Balance.String())
		if err != nil {
			return chain.Result{}, protocolErr(d.URL, "getaddressbalance: invalid balance %q: %v", reply.Balance, err)
		}
		bal := chain.NewBalance(units, d.Decimals)
		return chain.Result{Balance: &bal}, nil

	case chain.OpGetBlockHeight:
		var height uint64
		if err := c.call(ctx, d, &height, "getblockcount"); err != nil {
			return chain.Result{}, err
		}
		return chain.Result{Height: &height}, nil

	case chain.OpEstimateFee:
		target := req.TargetBlocks
		if target <= 0 {
			target = defaultFeeTarget
		}
		var reply struct {
			FeeRate *float64 `json:"feerate"`
			Errors  []string `json:"errors"`
		}
		if err := c.call(ctx, d, &reply, "estimatesmartfee", target); err != nil {
			return chain.Result{}, err
		}
		if reply.FeeRate == nil {
			return chain.Result{}, protocolErr(d.URL, "estimatesmartfee: no feerate %v", reply.Errors)
		}
		fee, err := perKBToSmallestPerVByte(*reply.FeeRate, d.Decimals)
		if err != nil {
			return chain.Result{}, protocolErr(d.URL, "estimatesmartfee: %v", err)
		}
		return chain.Result{Fee: &chain.FeeRate{Rate: fee, Unit: chain.FeeUnitSatPerVByte, TargetBlocks: target}}, nil

	case chain.OpGetHistory:
		var txids []string
		if err := c.call(ctx, d, &txids, "getaddresstxids", addressQuery{Addresses: []string{req.Address}}); err != nil {
			return chain.Result{}, err
		}
		// oldest first on the wire; canonical history is newest first
		history := make([]chain.TxSummary, 0, len(txids))
		for i := len(txids) - 1; i >= 0; i-- {
			history = append(history, chain.TxSummary{TxID: txids[i]})
			if req.Limit > 0 && len(history) == req.Limit {
				break
			}
		}
		return chain.Result{History: history}, nil
	}
	return chain.Result{}, &ProtocolError{Endpoint: d.URL, Err: ErrUnsupported}
}

// 账户系：以太坊 JSON-RPC
func (c *Client) invokeAccount(ctx context.Context, d registry.EndpointDescriptor, req chain.Request) (chain.Result, error) {
	switch req.Op {
	case chain.OpGetBalance:
		var wei hexutil.Big
		if err := c.call(ctx, d, &wei, "eth_getBalance", req.Address, "latest"); err != nil {
			return chain.Result{}, err
		}
		units, overflow := uint256.FromBig((*big.Int)(&wei))
		if overflow || (*big.Int)(&wei).Sign() < 0 {
			return chain.Result{}, protocolErr(d.URL, "eth_getBalance: balance out of range")
		}
		bal := chain.NewBalance(units, d.Decimals)
		return chain.Result{Balance: &bal}, nil

	case chain.OpGetBlockHeight:
		var height hexutil.Uint64
		if err := c.call(ctx, d, &height, "eth_blockNumber"); err != nil {
			return chain.Result{}, err
		}
		h := uint64(height)
		return chain.Result{Height: &h}, nil

	case chain.OpEstimateFee:
		var price hexutil.Big
		if err := c.call(ctx, d, &price, "eth_gasPrice"); err != nil {
			return chain.Result{}, err
		}
		gwei, _ := new(big.Float).Quo(new(big.Float).SetInt((*big.Int)(&price)), big.NewFloat(1e9)).Float64()
		return chain.Result{Fee: &chain.FeeRate{Rate: gwei, Unit: chain.FeeUnitGwei, TargetBlocks: req.TargetBlocks}}, nil
	}
	return chain.Result{}, &ProtocolError{Endpoint: d.URL, Err: ErrUnsupported}
}

const defaultFeeTarget = 6

// perKBToSmallestPerVByte converts a whole-coin-per-kilobyte fee rate into
// smallest-unit per virtual byte.
func perKBToSmallestPerVByte(perKB float64, decimals uint8) (float64, error) {
	if perKB < 0 || math.IsNaN(perKB) || math.IsInf(perKB, 0) {
		return 0, fmt.Errorf("fee rate out of range: %v", perKB)
	}
	return perKB * math.Pow10(int(decimals)) / 1000, nil
}

// ChainID asks an account-family JSON-RPC endpoint for its chain id.
func (c *Client) ChainID(ctx context.Context, d registry.EndpointDescriptor) (*big.Int, error) {
	if d.Kind != registry.JSONRPC || d.Family != registry.FamilyAccount {
		return nil, &ProtocolError{Endpoint: d.URL, Err: ErrUnsupported}
	}
	var id hexutil.Big
	if err := c.call(ctx, d, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}
