package scanner

import (
	"context"
	"strings"
	"time"

	"github.com/84hero/evm-gamefinder/pkg/decoder"
	"github.com/84hero/evm-gamefinder/pkg/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

type Config struct {
	ChainID string `mapstructure:"chain_id"`
	// Startup strategy
	StartBlock   uint64 `mapstructure:"start_block"`
	ForceStart   bool   `mapstructure:"force_start"`
	Rewind       uint64 `mapstructure:"start_rewind"`
	CursorRewind uint64 `mapstructure:"cursor_rewind"` // Safety rewind from saved cursor

	BatchSize     uint64        `mapstructure:"batch_size"`
	Interval      time.Duration `mapstructure:"interval"`
	Confirmations uint64        `mapstructure:"confirmations"`
}

// HeadReader reports the current chain head.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// LogFetcher is the contract of Fetcher.FetchLogs.
type LogFetcher interface {
	FetchLogs(ctx context.Context, contract common.Address, r BlockRange, involved *common.Address) ([]types.Log, error)
}

// Handler receives the decoded events of one batch, in chain order.
// Returning an error stops the batch from being committed.
type Handler func(ctx context.Context, events []decoder.Decoded) error

// Scanner tails one contract from a persisted cursor.
type Scanner struct {
	head     HeadReader
	fetcher  LogFetcher
	store    storage.Persistence
	config   Config
	contract common.Address
	handler  Handler
}

func New(head HeadReader, fetcher LogFetcher, store storage.Persistence, cfg Config, contract common.Address) *Scanner {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval == 0 {
		cfg.Interval = 3 * time.Second
	}
	return &Scanner{
		head:     head,
		fetcher:  fetcher,
		store:    store,
		config:   cfg,
		contract: contract,
	}
}

// SetHandler sets the callback invoked with each batch of decoded events
func (s *Scanner) SetHandler(h Handler) {
	s.handler = h
}

// CursorKey identifies this scanner's progress in storage.
func (s *Scanner) CursorKey() string {
	return s.config.ChainID + ":" + strings.ToLower(s.contract.Hex())
}

// Start scans until ctx is cancelled. Failed batches are retried on the
// next tick from the same block.
func (s *Scanner) Start(ctx context.Context) error {
	current, err := s.determineStartBlock(ctx)
	if err != nil {
		return err
	}
	log.Info("Scanner started", "start_block", current, "chain_id", s.config.ChainID, "contract", s.contract)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		next, err := s.catchUp(ctx, current)
		current = next
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("Scan failed, retrying next tick", "block", current, "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// catchUp scans from current to the confirmed head, saving the cursor after
// every batch, and returns the next block to scan.
func (s *Scanner) catchUp(ctx context.Context, current uint64) (uint64, error) {
	head, err := s.head.BlockNumber(ctx)
	if err != nil {
		return current, err
	}
	if head < s.config.Confirmations {
		return current, nil
	}
	safeHead := head - s.config.Confirmations

	for current <= safeHead {
		if err := ctx.Err(); err != nil {
			return current, err
		}

		endBlock := safeHead
		if safeHead-current >= s.config.BatchSize {
			endBlock = current + s.config.BatchSize - 1
		}

		if err := s.scanRange(ctx, BlockRange{From: current, To: endBlock}); err != nil {
			return current, err
		}

		next := endBlock + 1
		if err := s.store.SaveCursor(ctx, s.CursorKey(), next); err != nil {
			log.Error("Failed to save cursor", "err", err)
		}
		current = next
	}
	return current, nil
}

func (s *Scanner) determineStartBlock(ctx context.Context) (uint64, error) {
	// Strategy 1: Force Start (highest priority)
	if s.config.ForceStart && s.config.StartBlock > 0 {
		log.Info("Start strategy: Force Start", "block", s.config.StartBlock)
		return s.config.StartBlock, nil
	}

	// Strategy 2: Resume from persistence
	saved, err := s.store.LoadCursor(ctx, s.CursorKey())
	if err != nil {
		return 0, err
	}
	if saved > 0 {
		start := saved
		if s.config.CursorRewind > 0 {
			if start > s.config.CursorRewind {
				start -= s.config.CursorRewind
			} else {
				start = 0
			}
			log.Info("Start strategy: Resume with safety rewind", "saved", saved, "rewind", s.config.CursorRewind, "start", start)
		} else {
			log.Info("Start strategy: Resume from persistence", "block", saved)
		}
		return start, nil
	}

	// Strategy 3: Config StartBlock
	if s.config.StartBlock > 0 {
		log.Info("Start strategy: Config StartBlock", "block", s.config.StartBlock)
		return s.config.StartBlock, nil
	}

	// Strategy 4: Rewind from head
	head, err := s.head.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	start := uint64(0)
	if head > s.config.Rewind {
		start = head - s.config.Rewind
	}
	log.Info("Start strategy: Rewind from Head", "head", head, "rewind", s.config.Rewind, "start", start)
	return start, nil
}

func (s *Scanner) scanRange(ctx context.Context, r BlockRange) error {
	logs, err := s.fetcher.FetchLogs(ctx, s.contract, r, nil)
	if err != nil {
		return err
	}

	events := decoder.DecodeLogs(logs)
	if skipped := len(logs) - len(events); skipped > 0 {
		log.Debug("Skipped undecodable logs", "range", r, "skipped", skipped)
	}
	if len(events) == 0 || s.handler == nil {
		return nil
	}
	return s.handler(ctx, events)
}
