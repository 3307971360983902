package scanner

import (
	"context"
	"sync"

	"github.com/84hero/evm-gamefinder/pkg/chain"
	"github.com/84hero/evm-gamefinder/pkg/rpc"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
)

// fakeClient answers eth_getLogs through a function and records every query.
type fakeClient struct {
	mu      sync.Mutex
	queries []ethereum.FilterQuery
	filter  func(q ethereum.FilterQuery) ([]types.Log, error)
}

func (c *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	return 0, nil
}

func (c *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	c.queries = append(c.queries, q)
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.filter(q)
}

func (c *fakeClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (c *fakeClient) Close() {}

func (c *fakeClient) Queries() []ethereum.FilterQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ethereum.FilterQuery(nil), c.queries...)
}

func returning(logs []types.Log, err error) *fakeClient {
	return &fakeClient{filter: func(ethereum.FilterQuery) ([]types.Log, error) { return logs, err }}
}

func endpoint(name string, maxRange uint64) chain.Endpoint {
	return chain.Endpoint{Name: name, URL: "http://" + name, MaxBlockRange: maxRange}
}

// newTestFetcher builds an unpaced fetcher over the given endpoint/client pairs.
func newTestFetcher(eps []chain.Endpoint, clients []rpc.EthClient) (*Fetcher, *rpc.Pool) {
	nodes := make([]*rpc.Node, len(eps))
	for i := range eps {
		nodes[i] = rpc.NewNodeWithClient(eps[i], clients[i])
	}
	pool, err := rpc.NewPoolWithNodes(nodes, rpc.HealthConfig{})
	if err != nil {
		panic(err)
	}
	return NewFetcher(pool, FetchConfig{}), pool
}

// statusOf returns the tracker diagnostics for one endpoint.
func statusOf(pool *rpc.Pool, name string) rpc.EndpointStatus {
	for _, st := range pool.Tracker().Snapshot() {
		if st.Name == name {
			return st
		}
	}
	panic("unknown endpoint " + name)
}

// MockStore implements storage.Persistence
type MockStore struct {
	mock.Mock
}

func (m *MockStore) LoadCursor(ctx context.Context, key string) (uint64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockStore) SaveCursor(ctx context.Context, key string, height uint64) error {
	args := m.Called(ctx, key, height)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}

// MockHead implements HeadReader
type MockHead struct {
	mock.Mock
}

func (m *MockHead) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

// MockFetcher implements LogFetcher
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchLogs(ctx context.Context, contract common.Address, r BlockRange, involved *common.Address) ([]types.Log, error) {
	args := m.Called(ctx, contract, r, involved)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Log), args.Error(1)
}
