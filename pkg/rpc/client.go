package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/84hero/evm-gamefinder/pkg/chain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// ErrNoAvailableNodes is returned when every endpoint is rate limited or
// short-circuited at the moment of the call.
var ErrNoAvailableNodes = errors.New("no available rpc nodes")

// Pool holds one Node per registry endpoint and the Tracker that ranks them.
type Pool struct {
	nodes   []*Node
	byName  map[string]*Node
	tracker *Tracker
}

// NewPool dials every endpoint. Unreachable endpoints are logged and
// skipped as long as at least one connects.
func NewPool(ctx context.Context, endpoints []chain.Endpoint, cfg HealthConfig) (*Pool, error) {
	if err := chain.ValidateEndpoints(endpoints); err != nil {
		return nil, err
	}

	nodes := make([]*Node, 0, len(endpoints))
	for _, ep := range endpoints {
		n, err := NewNode(ctx, ep)
		if err != nil {
			log.Warn("Failed to dial endpoint", "endpoint", ep.Name, "err", err)
			continue
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		return nil, errors.New("failed to connect to any rpc endpoint")
	}
	return NewPoolWithNodes(nodes, cfg)
}

// NewPoolWithNodes builds a pool from existing nodes (for testing or advanced usage)
func NewPoolWithNodes(nodes []*Node, cfg HealthConfig) (*Pool, error) {
	eps := make([]chain.Endpoint, 0, len(nodes))
	byName := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		eps = append(eps, n.Endpoint())
		byName[n.Name()] = n
	}
	tracker, err := NewTracker(eps, cfg)
	if err != nil {
		return nil, err
	}
	return &Pool{nodes: nodes, byName: byName, tracker: tracker}, nil
}

// Tracker returns the health tracker shared by everything using this pool.
func (p *Pool) Tracker() *Tracker {
	return p.tracker
}

// Node returns the node registered under name.
func (p *Pool) Node(name string) (*Node, bool) {
	n, ok := p.byName[name]
	return n, ok
}

// execute runs op against ranked endpoints until one succeeds. Requests are
// accounted at send time; ethereum.NotFound is a valid answer, not a failure.
func (p *Pool) execute(ctx context.Context, method string, op func(*Node) error) error {
	ranked := p.tracker.Rank(0)
	if len(ranked) == 0 {
		return ErrNoAvailableNodes
	}

	var lastErr error
	for _, ep := range ranked {
		node := p.byName[ep.Name]
		p.tracker.RecordRequest(ep.Name)

		err := op(node)
		if err == nil || errors.Is(err, ethereum.NotFound) {
			p.tracker.RecordSuccess(ep.Name)
			return err
		}
		// If context is canceled, don't retry and don't blame the endpoint
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		p.tracker.RecordFailure(ep.Name, err.Error())
		log.Debug("RPC call failed, trying next endpoint", "method", method, "endpoint", ep.Name, "err", err)
		lastErr = err
	}

	return fmt.Errorf("%s: all endpoints failed: %w", method, lastErr)
}

// BlockNumber retrieves the chain head from the best available endpoint
func (p *Pool) BlockNumber(ctx context.Context) (uint64, error) {
	var res uint64
	err := p.execute(ctx, "eth_blockNumber", func(n *Node) error {
		var e error
		res, e = n.BlockNumber(ctx)
		return e
	})
	return res, err
}

// TransactionReceipt retrieves a receipt from the best available endpoint.
// A transaction that is not mined yet yields ethereum.NotFound.
func (p *Pool) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var res *types.Receipt
	err := p.execute(ctx, "eth_getTransactionReceipt", func(n *Node) error {
		var e error
		res, e = n.TransactionReceipt(ctx, txHash)
		return e
	})
	return res, err
}

// Close closes all underlying RPC connections
func (p *Pool) Close() {
	for _, n := range p.nodes {
		n.Close()
	}
}
