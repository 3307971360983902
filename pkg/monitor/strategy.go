package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/84hero/evm-gamefinder/pkg/decoder"
	"github.com/84hero/evm-gamefinder/pkg/scanner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// ErrNoGameCode means a strategy ran but found no creation event.
var ErrNoGameCode = errors.New("no game code found")

// Confirmation is the input every extraction strategy works from.
type Confirmation struct {
	TxHash    common.Hash
	Submitter common.Address
	Receipt   *types.Receipt
}

// Strategy is one way of extracting the game code of a confirmed
// transaction. Extract returns ErrNoGameCode or another retryable error
// when it cannot produce a code; the next strategy is then tried.
type Strategy struct {
	Provenance Provenance
	Extract    func(ctx context.Context, c Confirmation) (string, error)
}

// Strategies returns the ordered extraction chain: receipt logs, the
// receipt block's contract events, a patient re-poll, then a code derived
// from the transaction hash.
func (m *Monitor) Strategies() []Strategy {
	return []Strategy{
		{Provenance: ProvenanceReceipt, Extract: m.fromReceipt},
		{Provenance: ProvenanceBlock, Extract: m.fromBlock},
		{Provenance: ProvenanceRepoll, Extract: m.fromRepoll},
		{Provenance: ProvenanceDerived, Extract: fromTxHash},
	}
}

// creationCode returns the code of the first GameStarted event among logs
// emitted by the contract for txHash. A zero txHash matches any transaction.
func (m *Monitor) creationCode(logs []types.Log, txHash common.Hash) (string, bool) {
	for _, lg := range logs {
		if lg.Address != m.contract {
			continue
		}
		if txHash != (common.Hash{}) && lg.TxHash != txHash {
			continue
		}
		d, ok := decoder.DecodeLog(lg)
		if ok && d.Kind == decoder.KindGameStarted {
			return d.Event.Code(), true
		}
	}
	return "", false
}

func (m *Monitor) fromReceipt(_ context.Context, c Confirmation) (string, error) {
	if c.Receipt == nil {
		return "", ErrNoGameCode
	}
	logs := make([]types.Log, 0, len(c.Receipt.Logs))
	for _, lg := range c.Receipt.Logs {
		if lg != nil {
			logs = append(logs, *lg)
		}
	}
	if code, ok := m.creationCode(logs, common.Hash{}); ok {
		return code, nil
	}
	return "", ErrNoGameCode
}

func (m *Monitor) fromBlock(ctx context.Context, c Confirmation) (string, error) {
	block := c.Receipt.BlockNumber.Uint64()
	logs, err := m.fetcher.FetchLogs(ctx, m.contract, scanner.BlockRange{From: block, To: block}, nil)
	if err != nil {
		return "", err
	}
	if code, ok := m.creationCode(logs, c.TxHash); ok {
		return code, nil
	}
	return "", ErrNoGameCode
}

// fromRepoll re-queries an ascending radius around the receipt block on
// the configured delay schedule. Logs of this transaction win; otherwise
// the submitter's creation event nearest the receipt block is accepted.
func (m *Monitor) fromRepoll(ctx context.Context, c Confirmation) (string, error) {
	block := c.Receipt.BlockNumber.Uint64()

	poller := NewPoller(m.cfg.RepollDelays, func(ctx context.Context, attempt int) (string, error) {
		radius := m.cfg.RepollRadii[min(attempt, len(m.cfg.RepollRadii)-1)]
		r := m.repollRange(ctx, block, radius)
		log.Debug("Re-polling for creation event", "tx", c.TxHash, "attempt", attempt+1, "range", r)

		logs, err := m.fetcher.FetchLogs(ctx, m.contract, r, &c.Submitter)
		if err != nil {
			return "", err
		}
		if code, ok := m.creationCode(logs, c.TxHash); ok {
			return code, nil
		}
		if code, ok := m.nearestCreation(logs, c.Submitter, block); ok {
			return code, nil
		}
		return "", ErrNoGameCode
	})
	defer poller.Stop()
	stop := context.AfterFunc(ctx, poller.Stop)
	defer stop()

	code, _, err := poller.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("repoll: %w", err)
	}
	return code, nil
}

// repollRange is [block-radius, block+radius] with the upper bound capped
// at the chain head when it is known.
func (m *Monitor) repollRange(ctx context.Context, block, radius uint64) scanner.BlockRange {
	r := scanner.BlockRange{To: block + radius}
	if block > radius {
		r.From = block - radius
	}
	if head, err := m.chain.BlockNumber(ctx); err == nil && head >= block && head < r.To {
		r.To = head
	}
	return r
}

// nearestCreation picks the submitter's GameStarted event closest to block.
func (m *Monitor) nearestCreation(logs []types.Log, submitter common.Address, block uint64) (string, bool) {
	var (
		best     string
		bestDist uint64
		found    bool
	)
	for _, lg := range logs {
		if lg.Address != m.contract {
			continue
		}
		d, ok := decoder.DecodeLog(lg)
		if !ok || d.Kind != decoder.KindGameStarted {
			continue
		}
		if d.Event.(decoder.GameStarted).Creator != submitter {
			continue
		}
		dist := lg.BlockNumber - block
		if lg.BlockNumber < block {
			dist = block - lg.BlockNumber
		}
		if !found || dist < bestDist {
			best, bestDist, found = d.Event.Code(), dist, true
		}
	}
	return best, found
}

func fromTxHash(_ context.Context, c Confirmation) (string, error) {
	return decoder.FallbackGameCode(c.TxHash), nil
}
