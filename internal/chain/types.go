// Package chain holds the coin-agnostic request and result types shared by the
// adapter, the gateway and the health monitor.
package chain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// Operation 标识一个规范化查询
type Operation string

const (
	OpGetBalance     Operation = "get_balance"
	OpGetBlockHeight Operation = "get_block_height"
	OpEstimateFee    Operation = "estimate_fee"
	OpGetHistory     Operation = "get_history"
)

// ErrInvalidRequest is wrapped by every Validate failure.
var ErrInvalidRequest = errors.New("invalid request")

// Request is a canonical query tagged with the coin and network it targets.
type Request struct {
	Op           Operation `json:"op"`
	Coin         string    `json:"coin"`
	Network      string    `json:"network"`
	Address      string    `json:"address,omitempty"`
	TargetBlocks int       `json:"target_blocks,omitempty"`
	Limit        int       `json:"limit,omitempty"`
}

func GetBalance(coin, network, address string) Request {
	return Request{Op: OpGetBalance, Coin: coin, Network: network, Address: address}
}

func GetBlockHeight(coin, network string) Request {
	return Request{Op: OpGetBlockHeight, Coin: coin, Network: network}
}

func EstimateFee(coin, network string, targetBlocks int) Request {
	return Request{Op: OpEstimateFee, Coin: coin, Network: network, TargetBlocks: targetBlocks}
}

func GetHistory(coin, network, address string, limit int) Request {
	return Request{Op: OpGetHistory, Coin: coin, Network: network, Address: address, Limit: limit}
}

// Validate rejects requests that are missing the parameters their operation needs.
func (r Request) Validate() error {
	if r.Coin == "" || r.Network == "" {
		return fmt.Errorf("%w: %s needs coin and network", ErrInvalidRequest, r.Op)
	}
	switch r.Op {
	case OpGetBalance, OpGetHistory:
		if r.Address == "" {
			return fmt.Errorf("%w: %s needs an address", ErrInvalidRequest, r.Op)
		}
	case OpGetBlockHeight, OpEstimateFee:
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, r.Op)
	}
	return nil
}

func (r Request) String() string {
	return fmt.Sprintf("%s(%s/%s)", r.Op, r.Coin, r.Network)
}

// Balance is an amount in the coin's smallest unit together with the exponent
// that converts it into whole coins.
type Balance struct {
	Units    *uint256.Int `json:"-"`
	Decimals uint8        `json:"decimals"`
}

// NewBalance wraps a smallest-unit amount.
func NewBalance(units *uint256.Int, decimals uint8) Balance {
	if units == nil {
		units = new(uint256.Int)
	}
	return Balance{Units: units, Decimals: decimals}
}

// Decimal renders the balance in whole coins, e.g. 150000000 with 8 decimals is "1.5".
func (b Balance) Decimal() string {
	if b.Units == nil {
		return "0"
	}
	digits := b.Units.Dec()
	if b.Decimals == 0 {
		return digits
	}
	d := int(b.Decimals)
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}
	whole, frac := digits[:len(digits)-d], strings.TrimRight(digits[len(digits)-d:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

func (b Balance) MarshalJSON() ([]byte, error) {
	units := "0"
	if b.Units != nil {
		units = b.Units.Dec()
	}
	return []byte(fmt.Sprintf(`{"units":%q,"decimals":%d,"value":%q}`, units, b.Decimals, b.Decimal())), nil
}

// FeeRate is a normalized fee estimate. UTXO coins report smallest-unit per
// virtual byte, account coins report gas price in gwei.
type FeeRate struct {
	Rate         float64 `json:"rate"`
	Unit         string  `json:"unit"`
	TargetBlocks int     `json:"target_blocks,omitempty"`
}

const (
	FeeUnitSatPerVByte = "sat/vB"
	FeeUnitGwei        = "gwei"
)

// TxSummary is one entry of an address history.
type TxSummary struct {
	TxID          string    `json:"txid"`
	Time          time.Time `json:"time,omitempty"`
	Confirmations int64     `json:"confirmations,omitempty"`
	Value         string    `json:"value,omitempty"`
	Fee           string    `json:"fee,omitempty"`
}

// Result is the success payload of a canonical request. Exactly one of the
// payload fields is set, matching Op.
type Result struct {
	Op      Operation   `json:"op"`
	Coin    string      `json:"coin"`
	Network string      `json:"network"`
	Source  string      `json:"source,omitempty"`
	Balance *Balance    `json:"balance,omitempty"`
	Height  *uint64     `json:"height,omitempty"`
	Fee     *FeeRate    `json:"fee,omitempty"`
	History []TxSummary `json:"history,omitempty"`
}
