package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EthClient abstracts the underlying ethclient.Client implementation for easier mocking/testing.
// Every method is a single JSON-RPC 2.0 call over HTTP POST.
type EthClient interface {
	// BlockNumber issues eth_blockNumber
	BlockNumber(ctx context.Context) (uint64, error)

	// FilterLogs issues eth_getLogs
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	// TransactionReceipt issues eth_getTransactionReceipt. A receipt that
	// does not exist yet is reported as ethereum.NotFound.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	Close()
}
