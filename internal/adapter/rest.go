package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"web3-gateway-go/internal/chain"
	"web3-gateway-go/internal/registry"

	"github.com/holiman/uint256"
	"github.com/valyala/fastjson"
)

// maxBodySize bounds explorer replies; history pages are the largest.
const maxBodySize = 4 << 20

// invokeREST 访问 Insight 风格的区块浏览器 API
func (c *Client) invokeREST(ctx context.Context, d registry.EndpointDescriptor, req chain.Request) (chain.Result, error) {
	switch req.Op {
	case chain.OpGetBalance:
		v, err := c.getJSON(ctx, d, "/addr/"+url.PathEscape(req.Address)+"/balance", nil)
		if err != nil {
			return chain.Result{}, err
		}
		if v.Type() != fastjson.TypeNumber {
			return chain.Result{}, protocolErr(d.URL, "balance: expected number, got %s", v.Type())
		}
		units, err := uint256.FromDecimal(string(v.MarshalTo(nil)))
		if err != nil {
			return chain.Result{}, protocolErr(d.URL, "balance: %v", err)
		}
		bal := chain.NewBalance(units, d.Decimals)
		return chain.Result{Balance: &bal}, nil

	case chain.OpGetBlockHeight:
		v, err := c.getJSON(ctx, d, "/status", nil)
		if err != nil {
			return chain.Result{}, err
		}
		blocks := v.Get("info", "blocks")
		if blocks == nil {
			return chain.Result{}, protocolErr(d.URL, "status: missing info.blocks")
		}
		height, err := blocks.Uint64()
		if err != nil {
			return chain.Result{}, protocolErr(d.URL, "status: info.blocks: %v", err)
		}
		return chain.Result{Height: &height}, nil

	case chain.OpEstimateFee:
		target := req.TargetBlocks
		if target <= 0 {
			target = defaultFeeTarget
		}
		key := strconv.Itoa(target)
		v, err := c.getJSON(ctx, d, "/utils/estimatefee", url.Values{"nbBlocks": {key}})
		if err != nil {
			return chain.Result{}, err
		}
		raw := v.Get(key)
		if raw == nil {
			return chain.Result{}, protocolErr(d.URL, "estimatefee: missing key %s", key)
		}
		perKB, err := raw.Float64()
		if err != nil {
			return chain.Result{}, protocolErr(d.URL, "estimatefee: %v", err)
		}
		fee, err := perKBToSmallestPerVByte(perKB, d.Decimals)
		if err != nil {
			return chain.Result{}, protocolErr(d.URL, "estimatefee: %v", err)
		}
		return chain.Result{Fee: &chain.FeeRate{Rate: fee, Unit: chain.FeeUnitSatPerVByte, TargetBlocks: target}}, nil

	case chain.OpGetHistory:
		limit := req.Limit
		if limit <= 0 {
			limit = defaultHistoryLimit
		}
		q := url.Values{"from": {"0"}, "to": {strconv.Itoa(limit)}}
		v, err := c.getJSON(ctx, d, "/addrs/"+url.PathEscape(req.Address)+"/txs", q)
		if err != nil {
			return chain.Result{}, err
		}
		items := v.Get("items")
		if items == nil || items.Type() != fastjson.TypeArray {
			return chain.Result{}, protocolErr(d.URL, "txs: missing items array")
		}
		arr, _ := items.Array()
		history := make([]chain.TxSummary, 0, len(arr))
		for i, item := range arr {
			txid := string(item.GetStringBytes("txid"))
			if txid == "" {
				return chain.Result{}, protocolErr(d.URL, "txs: item %d has no txid", i)
			}
			tx := chain.TxSummary{
				TxID:          txid,
				Confirmations: item.GetInt64("confirmations"),
			}
			if ts := item.GetInt64("time"); ts > 0 {
				tx.Time = time.Unix(ts, 0).UTC()
			}
			if out := item.Get("valueOut"); out != nil {
				tx.Value = numberText(out)
			}
			if fee := item.Get("fees"); fee != nil {
				tx.Fee = numberText(fee)
			}
			history = append(history, tx)
			if len(history) == limit {
				break
			}
		}
		return chain.Result{History: history}, nil
	}
	return chain.Result{}, &ProtocolError{Endpoint: d.URL, Err: ErrUnsupported}
}

const defaultHistoryLimit = 50

func (c *Client) getJSON(ctx context.Context, d registry.EndpointDescriptor, path string, query url.Values) (*fastjson.Value, error) {
	target := strings.TrimRight(d.URL, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, protocolErr(d.URL, "build request: %v", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if d.Credentials != nil {
		httpReq.SetBasicAuth(d.Credentials.Username, d.Credentials.Password)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Endpoint: d.URL, Err: fmt.Errorf("GET %s: %w", path, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{Endpoint: d.URL, Err: fmt.Errorf("GET %s: read body: %w", path, err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, transportErr(d.URL, "GET %s: http status %d", path, resp.StatusCode)
	}

	v, err := fastjson.ParseBytes(body)
	if err != nil {
		return nil, protocolErr(d.URL, "GET %s: malformed json: %v", path, err)
	}
	return v, nil
}

// numberText renders a JSON number or numeric string without float rounding.
func numberText(v *fastjson.Value) string {
	if v.Type() == fastjson.TypeString {
		return string(v.GetStringBytes())
	}
	return string(v.MarshalTo(nil))
}
