package rpc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/84hero/evm-gamefinder/pkg/chain"
	"github.com/84hero/evm-gamefinder/pkg/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Node wraps the JSON-RPC client of one endpoint. It does not decide
// eligibility; that belongs to the Tracker.
type Node struct {
	endpoint chain.Endpoint
	client   EthClient

	latency     int64  // moving average, ms
	totalErrors uint64 // lifetime error count
}

// NewNode dials the endpoint over HTTP (Production)
func NewNode(ctx context.Context, ep chain.Endpoint) (*Node, error) {
	client, err := ethclient.DialContext(ctx, ep.URL)
	if err != nil {
		return nil, err
	}
	return NewNodeWithClient(ep, client), nil
}

// NewNodeWithClient initializes Node with a pre-created client (Testing/DI)
func NewNodeWithClient(ep chain.Endpoint, client EthClient) *Node {
	return &Node{endpoint: ep, client: client}
}

// Name returns the endpoint's registry name
func (n *Node) Name() string {
	return n.endpoint.Name
}

// Endpoint returns the node's configuration
func (n *Node) Endpoint() chain.Endpoint {
	return n.endpoint
}

// Latency returns the average call latency in ms
func (n *Node) Latency() int64 {
	return atomic.LoadInt64(&n.latency)
}

// TotalErrors returns the lifetime error count
func (n *Node) TotalErrors() uint64 {
	return atomic.LoadUint64(&n.totalErrors)
}

// observe records latency (20% weight for the newest sample) and metrics.
func (n *Node) observe(method string, start time.Time, err error) {
	duration := time.Since(start).Milliseconds()
	old := atomic.LoadInt64(&n.latency)
	if old == 0 {
		atomic.StoreInt64(&n.latency, duration)
	} else {
		atomic.StoreInt64(&n.latency, (old*8+duration*2)/10)
	}

	m := metrics.Get()
	m.RPCRequests.WithLabelValues(n.endpoint.Name, method).Inc()
	if err != nil && err != ethereum.NotFound {
		atomic.AddUint64(&n.totalErrors, 1)
		m.RPCFailures.WithLabelValues(n.endpoint.Name, method).Inc()
	}
}

func (n *Node) BlockNumber(ctx context.Context) (uint64, error) {
	start := time.Now()
	h, err := n.client.BlockNumber(ctx)
	n.observe("eth_blockNumber", start, err)
	return h, err
}

func (n *Node) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	start := time.Now()
	logs, err := n.client.FilterLogs(ctx, q)
	n.observe("eth_getLogs", start, err)
	return logs, err
}

func (n *Node) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	start := time.Now()
	r, err := n.client.TransactionReceipt(ctx, txHash)
	n.observe("eth_getTransactionReceipt", start, err)
	return r, err
}

func (n *Node) Close() {
	n.client.Close()
}
