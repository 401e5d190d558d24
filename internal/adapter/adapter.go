// Package adapter translates canonical requests into the wire call of one
// backend and normalizes the reply. It performs exactly one attempt and keeps
// no health state.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"web3-gateway-go/internal/chain"
	"web3-gateway-go/internal/registry"

	"github.com/ethereum/go-ethereum/rpc"
)

// Invoker is the single-attempt contract the gateway resolver depends on.
type Invoker interface {
	Invoke(ctx context.Context, d registry.EndpointDescriptor, req chain.Request) (chain.Result, error)
}

// Client implements Invoker over HTTP JSON-RPC and Insight-style REST explorers.
type Client struct {
	httpClient *http.Client

	mu         sync.Mutex
	rpcClients map[string]*rpc.Client
}

var _ Invoker = (*Client)(nil)

// NewClient builds an adapter. Deadlines come from the caller's context; the
// HTTP client only bounds idle connections.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{
		httpClient: httpClient,
		rpcClients: make(map[string]*rpc.Client),
	}
}

// Invoke performs one attempt of req against d.
func (c *Client) Invoke(ctx context.Context, d registry.EndpointDescriptor, req chain.Request) (chain.Result, error) {
	if err := req.Validate(); err != nil {
		return chain.Result{}, &ProtocolError{Endpoint: d.URL, Err: err}
	}

	var (
		res chain.Result
		err error
	)
	switch d.Kind {
	case registry.JSONRPC:
		res, err = c.invokeJSONRPC(ctx, d, req)
	case registry.RESTExplorer:
		res, err = c.invokeREST(ctx, d, req)
	default:
		return chain.Result{}, protocolErr(d.URL, "unknown protocol kind %q", d.Kind)
	}
	if err != nil {
		return chain.Result{}, err
	}

	res.Op = req.Op
	res.Coin = req.Coin
	res.Network = req.Network
	res.Source = d.URL
	return res, nil
}

// Close releases cached JSON-RPC clients.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, client := range c.rpcClients {
		client.Close()
		delete(c.rpcClients, key)
	}
}

func (c *Client) rpcClient(ctx context.Context, d registry.EndpointDescriptor) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.rpcClients[d.Key()]; ok {
		return client, nil
	}

	opts := []rpc.ClientOption{rpc.WithHTTPClient(c.httpClient)}
	if d.Credentials != nil {
		user, pass := d.Credentials.Username, d.Credentials.Password
		opts = append(opts, rpc.WithHTTPAuth(func(h http.Header) error {
			r := http.Request{Header: h}
			r.SetBasicAuth(user, pass)
			return nil
		}))
	}

	client, err := rpc.DialOptions(ctx, d.URL, opts...)
	if err != nil {
		return nil, transportErr(d.URL, "dial: %w", err)
	}
	c.rpcClients[d.Key()] = client
	return client, nil
}

// call issues one JSON-RPC call and decodes its result into out. Failures are
// sorted into the error taxonomy: JSON-RPC error objects and undecodable
// results are protocol errors, everything else is a transport error.
func (c *Client) call(ctx context.Context, d registry.EndpointDescriptor, out interface{}, method string, args ...interface{}) error {
	client, err := c.rpcClient(ctx, d)
	if err != nil {
		return err
	}

	var raw json.RawMessage
	if err := client.CallContext(ctx, &raw, method, args...); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return protocolErr(d.URL, "%s: rpc error %d: %v", method, rpcErr.ErrorCode(), err)
		}
		var httpErr rpc.HTTPError
		if errors.As(err, &httpErr) {
			return transportErr(d.URL, "%s: http status %d", method, httpErr.StatusCode)
		}
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || errors.Is(err, rpc.ErrNoResult) {
			return protocolErr(d.URL, "%s: malformed response: %v", method, err)
		}
		return &TransportError{Endpoint: d.URL, Err: fmt.Errorf("%s: %w", method, err)}
	}

	if len(raw) == 0 || string(raw) == "null" {
		return protocolErr(d.URL, "%s: empty result", method)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return protocolErr(d.URL, "%s: decode result: %v", method, err)
	}
	return nil
}
