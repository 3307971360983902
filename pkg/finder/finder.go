// Package finder locates a wallet's recent activity on the game contract
// without scanning the whole chain.
package finder

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/84hero/evm-gamefinder/pkg/decoder"
	"github.com/84hero/evm-gamefinder/pkg/metrics"
	"github.com/84hero/evm-gamefinder/pkg/scanner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// ErrInvalidGameCode is returned for codes outside [A-Z0-9-]{3,10}.
var ErrInvalidGameCode = errors.New("invalid game code")

// DefaultWindows is the ascending sequence of look-back sizes.
var DefaultWindows = []uint64{10_000, 50_000, 100_000}

const (
	DefaultFocusRadius  = 5_000
	DefaultDisplayLimit = 20
)

type Config struct {
	Windows      []uint64 `mapstructure:"windows"`
	FocusRadius  uint64   `mapstructure:"focus_radius"`
	DisplayLimit int      `mapstructure:"display_limit"`
}

func (c Config) withDefaults() Config {
	if len(c.Windows) == 0 {
		c.Windows = DefaultWindows
	}
	if c.FocusRadius == 0 {
		c.FocusRadius = DefaultFocusRadius
	}
	if c.DisplayLimit <= 0 {
		c.DisplayLimit = DefaultDisplayLimit
	}
	return c
}

// Interaction is the most recent log involving a wallet.
type Interaction struct {
	Head   uint64             // chain head when the search started
	Block  uint64             // block of Log
	Log    types.Log          // the latest matching log
	Window scanner.BlockRange // window that produced the hit
	Logs   []types.Log        // every log the hit window returned
}

type Finder struct {
	head     scanner.HeadReader
	fetcher  scanner.LogFetcher
	contract common.Address
	cfg      Config
}

func New(head scanner.HeadReader, fetcher scanner.LogFetcher, contract common.Address, cfg Config) *Finder {
	return &Finder{head: head, fetcher: fetcher, contract: contract, cfg: cfg.withDefaults()}
}

// Window returns [head-size, head] with the lower bound clamped to 0.
func Window(head, size uint64) scanner.BlockRange {
	from := uint64(0)
	if head > size {
		from = head - size
	}
	return scanner.BlockRange{From: from, To: head}
}

// LastInteraction searches the configured windows, smallest first, for logs
// carrying wallet in any indexed position and returns the latest one. It
// returns nil when no window yields a log. A window whose fetch is
// exhausted counts as inconclusive and the next window is tried.
func (f *Finder) LastInteraction(ctx context.Context, wallet common.Address) (*Interaction, error) {
	head, err := f.head.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain head: %w", err)
	}
	return f.lastInteractionAt(ctx, wallet, head)
}

func (f *Finder) lastInteractionAt(ctx context.Context, wallet common.Address, head uint64) (*Interaction, error) {
	if head == 0 {
		return nil, nil
	}

	windows := metrics.Get().FinderWindows
	for _, size := range f.cfg.Windows {
		r := Window(head, size)
		logs, err := f.fetcher.FetchLogs(ctx, f.contract, r, &wallet)
		switch {
		case err == nil:
		case errors.Is(err, scanner.ErrFetchFailed):
			windows.WithLabelValues("inconclusive").Inc()
			log.Warn("Search window inconclusive", "wallet", wallet, "window", r, "err", err)
			continue
		default:
			return nil, err
		}

		if len(logs) > 0 {
			windows.WithLabelValues("hit").Inc()
			latest := latestLog(logs)
			log.Debug("Found last interaction", "wallet", wallet, "block", latest.BlockNumber, "window", r)
			return &Interaction{Head: head, Block: latest.BlockNumber, Log: latest, Window: r, Logs: logs}, nil
		}
		windows.WithLabelValues("empty").Inc()

		// Larger windows would repeat the same range.
		if r.From == 0 {
			break
		}
	}
	return nil, nil
}

// latestLog returns the log with the highest (block, txIndex, logIndex).
func latestLog(logs []types.Log) types.Log {
	best := logs[0]
	for _, lg := range logs[1:] {
		if after(lg, best) {
			best = lg
		}
	}
	return best
}

func after(a, b types.Log) bool {
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber > b.BlockNumber
	}
	if a.TxIndex != b.TxIndex {
		return a.TxIndex > b.TxIndex
	}
	return a.Index > b.Index
}

// FindGamesForWallet returns up to limit distinct game codes the wallet
// touched, most recent first. The search is anchored at the wallet's last
// interaction and widened by the focus radius below it. It is best effort:
// an exhausted focus fetch falls back to what the anchor search returned.
// limit <= 0 uses the configured display limit.
func (f *Finder) FindGamesForWallet(ctx context.Context, wallet common.Address, limit int) ([]string, error) {
	if limit <= 0 {
		limit = f.cfg.DisplayLimit
	}

	last, err := f.LastInteraction(ctx, wallet)
	if err != nil || last == nil {
		return nil, err
	}

	logs := last.Logs
	focus := scanner.BlockRange{To: last.Block}
	if last.Block > f.cfg.FocusRadius {
		focus.From = last.Block - f.cfg.FocusRadius
	}
	if focus.From < last.Window.From {
		more, err := f.fetcher.FetchLogs(ctx, f.contract, focus, &wallet)
		switch {
		case err == nil:
			logs = append(append([]types.Log{}, logs...), more...)
		case errors.Is(err, scanner.ErrFetchFailed):
			log.Warn("Focused search inconclusive, using anchor results", "wallet", wallet, "range", focus, "err", err)
		default:
			return nil, err
		}
	}

	return recentCodes(scanner.Dedupe(logs), limit), nil
}

// recentCodes decodes logs in chain order and returns unique codes, newest
// first.
func recentCodes(logs []types.Log, limit int) []string {
	events := decoder.DecodeLogs(logs)
	seen := make(map[string]struct{}, len(events))
	codes := make([]string, 0, limit)
	for i := len(events) - 1; i >= 0 && len(codes) < limit; i-- {
		code := events[i].Event.Code()
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes
}

// FindGameEvents returns every decoded event of the game within r, in chain
// order.
func (f *Finder) FindGameEvents(ctx context.Context, code string, r scanner.BlockRange) ([]decoder.Decoded, error) {
	normalized, ok := decoder.NormalizeGameCode(code)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGameCode, code)
	}

	logs, err := f.fetcher.FetchLogs(ctx, f.contract, r, nil)
	if err != nil {
		return nil, err
	}

	var out []decoder.Decoded
	for _, d := range decoder.DecodeLogs(logs) {
		if d.Event.Code() == normalized {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		if out[i].TxIndex != out[j].TxIndex {
			return out[i].TxIndex < out[j].TxIndex
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out, nil
}
