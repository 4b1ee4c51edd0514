package evm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bloom-paywall/server/internal/circuitbreaker"
	"github.com/bloom-paywall/server/internal/metrics"
	"github.com/bloom-paywall/server/internal/rpcutil"
)

// ChainReader is the minimal read surface the verifier needs from a node.
// ethereum.NotFound is the sentinel for a missing transaction or receipt.
type ChainReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client wraps an ethclient with per-call timeouts, retry with backoff,
// circuit breaking, and RPC metrics.
type Client struct {
	eth     *ethclient.Client
	timeout time.Duration
	network string
	breaker *circuitbreaker.Manager
	metrics *metrics.Metrics
}

// ClientOption customizes the client.
type ClientOption func(*Client)

// WithBreaker routes RPC calls through the EVM circuit breaker.
func WithBreaker(manager *circuitbreaker.Manager) ClientOption {
	return func(c *Client) {
		c.breaker = manager
	}
}

// WithMetrics enables RPC call metrics.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewClient dials the JSON-RPC endpoint and returns a ChainReader.
func NewClient(rpcURL, network string, opts ...ClientOption) (*Client, error) {
	if rpcURL == "" {
		return nil, errors.New("evm: rpc url required")
	}

	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}

	client := &Client{
		eth:     eth,
		timeout: 10 * time.Second,
		network: network,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() error {
	c.eth.Close()
	return nil
}

// TransactionByHash fetches a transaction and its pending flag.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	type txResult struct {
		tx        *types.Transaction
		isPending bool
	}
	out, err := c.execute(ctx, "eth_getTransactionByHash", func(ctx context.Context) (interface{}, error) {
		tx, isPending, err := c.eth.TransactionByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		return txResult{tx: tx, isPending: isPending}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := out.(txResult)
	return res.tx, res.isPending, nil
}

// TransactionReceipt fetches the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	out, err := c.execute(ctx, "eth_getTransactionReceipt", func(ctx context.Context) (interface{}, error) {
		return c.eth.TransactionReceipt(ctx, hash)
	})
	if err != nil {
		return nil, err
	}
	return out.(*types.Receipt), nil
}

// BlockNumber fetches the current chain head height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	out, err := c.execute(ctx, "eth_blockNumber", func(ctx context.Context) (interface{}, error) {
		return c.eth.BlockNumber(ctx)
	})
	if err != nil {
		return 0, err
	}
	return out.(uint64), nil
}

// notFoundMarker carries ethereum.NotFound across the circuit breaker without
// counting it as a failure. A missing transaction is a definitive answer from
// a healthy node; only infrastructure faults should trip the breaker.
type notFoundMarker struct{}

// execute runs one RPC read with timeout, breaker, retry, and metrics.
func (c *Client) execute(ctx context.Context, method string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := rpcutil.WithRetry(ctx, func() (interface{}, error) {
		return c.throughBreaker(ctx, fn)
	})
	if c.metrics != nil {
		c.metrics.ObserveRPCCall(method, c.network, time.Since(start), err)
	}
	return out, err
}

func (c *Client) throughBreaker(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if c.breaker == nil {
		return fn(ctx)
	}

	out, err := c.breaker.Execute(circuitbreaker.ServiceEVMRPC, func() (interface{}, error) {
		v, err := fn(ctx)
		if errors.Is(err, ethereum.NotFound) {
			return notFoundMarker{}, nil
		}
		return v, err
	})
	if err != nil {
		return nil, err
	}
	if _, ok := out.(notFoundMarker); ok {
		return nil, ethereum.NotFound
	}
	return out, nil
}
