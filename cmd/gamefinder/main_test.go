package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/84hero/evm-gamefinder/pkg/config"
	"github.com/84hero/evm-gamefinder/pkg/decoder"
	"github.com/84hero/evm-gamefinder/pkg/rpc"
	"github.com/84hero/evm-gamefinder/pkg/scanner"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	contract = common.HexToAddress("0x1111111111111111111111111111111111111111")
	wallet   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	txHash   = common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000def")
)

type fakeChain struct {
	head    uint64
	receipt *types.Receipt
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeChain) TransactionReceipt(ctx context.Context, h common.Hash) (*types.Receipt, error) {
	if f.receipt == nil {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

type fakeFetcher struct {
	mu   sync.Mutex
	logs []types.Log
	err  error
}

func (f *fakeFetcher) FetchLogs(ctx context.Context, c common.Address, r scanner.BlockRange, involved *common.Address) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber < r.From || l.BlockNumber > r.To {
			continue
		}
		if involved != nil && !mentions(l, *involved) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func mentions(l types.Log, addr common.Address) bool {
	want := scanner.AddressTopic(addr)
	for _, t := range l.Topics[1:] {
		if t == want {
			return true
		}
	}
	return false
}

func gameStarted(t *testing.T, tx common.Hash, block uint64, index uint, code string) types.Log {
	t.Helper()
	strType, _ := abi.NewType("string", "", nil)
	addrType, _ := abi.NewType("address", "", nil)
	uintType, _ := abi.NewType("uint256", "", nil)
	data, err := abi.Arguments{{Type: strType}, {Type: addrType}, {Type: uintType}}.
		Pack(code, common.HexToAddress("0x3333"), big.NewInt(10))
	require.NoError(t, err)

	sig, _ := decoder.Topic(decoder.KindGameStarted)
	return types.Log{
		Address:     contract,
		Topics:      []common.Hash{sig, scanner.AddressTopic(wallet)},
		Data:        data,
		BlockNumber: block,
		TxHash:      tx,
		Index:       index,
	}
}

const baseConfig = `
contract: "0x1111111111111111111111111111111111111111"
log:
  level: error
endpoints:
  - name: local
    url: "http://localhost:8545"
    max_block_range: 1000
monitor:
  receipt_timeout: "1s"
  overall_timeout: "2s"
  receipt_poll_interval: "5ms"
  repoll_delays: ["1ms"]
  repoll_radii: [10]
scanner:
  start_rewind: 100
  interval: "10ms"
`

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(baseConfig+extra), 0o644))
	return path
}

func execute(ctx context.Context, t *testing.T, path string, chain *fakeChain, fetcher *fakeFetcher, args ...string) (string, error) {
	t.Helper()
	open := func(ctx context.Context, cfg *config.Config) (*app, error) {
		snapshot := func() []rpc.EndpointStatus {
			return []rpc.EndpointStatus{{Name: "local", URL: cfg.Endpoints[0].URL, MaxBlockRange: 1000, Eligible: true}}
		}
		return newApp(cfg, chain, fetcher, snapshot, func() {}), nil
	}
	root := newRootCmd(open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", path}, args...))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

func TestGamesCommand(t *testing.T) {
	chain := &fakeChain{head: 20_000}
	fetcher := &fakeFetcher{logs: []types.Log{
		gameStarted(t, common.HexToHash("0x1"), 19_000, 0, "OLD001"),
		gameStarted(t, common.HexToHash("0x2"), 19_500, 0, "NEW002"),
	}}

	out, err := execute(context.Background(), t, writeConfig(t, ""), chain, fetcher, "games", wallet.Hex())
	require.NoError(t, err)

	var res struct {
		Games []string `json:"games"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, []string{"NEW002", "OLD001"}, res.Games)
}

func TestGamesCommand_Limit(t *testing.T) {
	chain := &fakeChain{head: 20_000}
	fetcher := &fakeFetcher{logs: []types.Log{
		gameStarted(t, common.HexToHash("0x1"), 19_000, 0, "OLD001"),
		gameStarted(t, common.HexToHash("0x2"), 19_500, 0, "NEW002"),
	}}

	out, err := execute(context.Background(), t, writeConfig(t, ""), chain, fetcher, "games", wallet.Hex(), "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "NEW002")
	assert.NotContains(t, out, "OLD001")
}

func TestGamesCommand_NoGames(t *testing.T) {
	out, err := execute(context.Background(), t, writeConfig(t, ""), &fakeChain{head: 20_000}, &fakeFetcher{}, "games", wallet.Hex())
	require.NoError(t, err)
	assert.Contains(t, out, `"games":[]`)
}

func TestGamesCommand_InvalidWallet(t *testing.T) {
	_, err := execute(context.Background(), t, writeConfig(t, ""), &fakeChain{}, &fakeFetcher{}, "games", "nope")
	assert.ErrorContains(t, err, "invalid address")
}

func TestEventsCommand(t *testing.T) {
	chain := &fakeChain{head: 5_000}
	fetcher := &fakeFetcher{logs: []types.Log{
		gameStarted(t, common.HexToHash("0x1"), 4_000, 0, "ABC123"),
		gameStarted(t, common.HexToHash("0x2"), 4_100, 0, "OTHER1"),
	}}

	out, err := execute(context.Background(), t, writeConfig(t, ""), chain, fetcher, "events", "abc123", "--from", "3000")
	require.NoError(t, err)
	got := lines(out)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], `"kind":"GameStarted"`)
	assert.Contains(t, got[0], "ABC123")
}

func TestEventsCommand_InvalidCode(t *testing.T) {
	_, err := execute(context.Background(), t, writeConfig(t, ""), &fakeChain{head: 10}, &fakeFetcher{}, "events", "a!")
	assert.Error(t, err)
}

func TestLogsCommand(t *testing.T) {
	chain := &fakeChain{head: 5_000}
	fetcher := &fakeFetcher{logs: []types.Log{
		gameStarted(t, common.HexToHash("0x1"), 100, 0, "ABC123"),
		gameStarted(t, common.HexToHash("0x2"), 200, 0, "ABC124"),
	}}

	out, err := execute(context.Background(), t, writeConfig(t, ""), chain, fetcher,
		"logs", "--from", "50", "--to", "150", "--involved", wallet.Hex())
	require.NoError(t, err)
	got := lines(out)
	require.Len(t, got, 1)

	var l types.Log
	require.NoError(t, json.Unmarshal([]byte(got[0]), &l))
	assert.Equal(t, uint64(100), l.BlockNumber)
}

func TestLogsCommand_FetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: &scanner.FetchError{Err: errors.New("all down")}}
	_, err := execute(context.Background(), t, writeConfig(t, ""), &fakeChain{head: 10}, fetcher, "logs", "--from", "1", "--to", "5")
	assert.ErrorIs(t, err, scanner.ErrFetchFailed)
}

func TestLastCommand(t *testing.T) {
	chain := &fakeChain{head: 20_000}
	fetcher := &fakeFetcher{logs: []types.Log{
		gameStarted(t, common.HexToHash("0x1"), 12_000, 0, "ABC123"),
	}}

	out, err := execute(context.Background(), t, writeConfig(t, ""), chain, fetcher, "last", wallet.Hex())
	require.NoError(t, err)

	var res struct {
		Found  bool                `json:"found"`
		Block  uint64              `json:"block"`
		Window *scanner.BlockRange `json:"window"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Found)
	assert.Equal(t, uint64(12_000), res.Block)
	require.NotNil(t, res.Window)
	assert.Equal(t, uint64(10_000), res.Window.From)
}

func TestLastCommand_NotFound(t *testing.T) {
	out, err := execute(context.Background(), t, writeConfig(t, ""), &fakeChain{head: 20_000}, &fakeFetcher{}, "last", wallet.Hex())
	require.NoError(t, err)
	assert.Contains(t, out, `"found":false`)
}

func TestMonitorCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	cfg := writeConfig(t, `
outputs:
  file:
    enabled: true
    path: "`+path+`"
`)
	l := gameStarted(t, txHash, 700, 0, "ABC123")
	chain := &fakeChain{head: 710, receipt: &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(700),
		TxHash:      txHash,
		Logs:        []*types.Log{&l},
	}}

	out, err := execute(context.Background(), t, cfg, chain, &fakeFetcher{}, "monitor", txHash.Hex(), "--submitter", wallet.Hex())
	require.NoError(t, err)
	got := lines(out)
	assert.Contains(t, got[0], `"state":"pending"`)
	assert.Contains(t, got[len(got)-1], `"state":"complete"`)
	assert.Contains(t, got[len(got)-1], "ABC123")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"monitor"`)
	assert.Contains(t, string(data), "ABC123")
}

func TestMonitorCommand_Reverted(t *testing.T) {
	chain := &fakeChain{head: 710, receipt: &types.Receipt{
		Status:      types.ReceiptStatusFailed,
		BlockNumber: big.NewInt(700),
		TxHash:      txHash,
	}}
	_, err := execute(context.Background(), t, writeConfig(t, ""), chain, &fakeFetcher{}, "monitor", txHash.Hex())
	assert.ErrorContains(t, err, "failed")
}

func TestMonitorCommand_InvalidHash(t *testing.T) {
	_, err := execute(context.Background(), t, writeConfig(t, ""), &fakeChain{}, &fakeFetcher{}, "monitor", "0x1234")
	assert.ErrorContains(t, err, "invalid transaction hash")
}

func TestWatchCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	cfg := writeConfig(t, `
outputs:
  file:
    enabled: true
    path: "`+path+`"
`)
	chain := &fakeChain{head: 1_000}
	fetcher := &fakeFetcher{logs: []types.Log{
		gameStarted(t, common.HexToHash("0x1"), 950, 0, "ABC123"),
		gameStarted(t, common.HexToHash("0x2"), 10, 0, "TOOOLD"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	_, err := execute(ctx, t, cfg, chain, fetcher, "watch")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	got := lines(string(data))
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "ABC123")
}

func TestEndpointsCommand(t *testing.T) {
	out, err := execute(context.Background(), t, writeConfig(t, ""), &fakeChain{head: 1}, &fakeFetcher{}, "endpoints")
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"local"`)
	assert.Contains(t, out, `"eligible":true`)
}

func TestConfigError(t *testing.T) {
	_, err := execute(context.Background(), t, filepath.Join(t.TempDir(), "missing.yaml"), &fakeChain{}, &fakeFetcher{}, "endpoints")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warn").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
	assert.Equal(t, "INFO", parseLevel("verbose").String())
}
