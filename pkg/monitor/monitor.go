// Package monitor follows a submitted transaction from broadcast to the game
// code it created.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/84hero/evm-gamefinder/pkg/decoder"
	"github.com/84hero/evm-gamefinder/pkg/metrics"
	"github.com/84hero/evm-gamefinder/pkg/scanner"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

var (
	DefaultRepollDelays = []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second, 20 * time.Second, 30 * time.Second}
	DefaultRepollRadii  = []uint64{100, 500, 1_000, 2_500, 5_000}
)

type Config struct {
	// ReceiptTimeout bounds the wait for the receipt. Exceeding it is a
	// Timeout, not a failure: the transaction may still be mined.
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
	// OverallTimeout bounds the whole run, every fallback included.
	OverallTimeout      time.Duration   `mapstructure:"overall_timeout"`
	ReceiptPollInterval time.Duration   `mapstructure:"receipt_poll_interval"`
	RepollDelays        []time.Duration `mapstructure:"repoll_delays"`
	RepollRadii         []uint64        `mapstructure:"repoll_radii"`
}

func (c Config) withDefaults() Config {
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = 180 * time.Second
	}
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = 300 * time.Second
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = 3 * time.Second
	}
	if c.RepollDelays == nil {
		c.RepollDelays = DefaultRepollDelays
	}
	if len(c.RepollRadii) == 0 {
		c.RepollRadii = DefaultRepollRadii
	}
	return c
}

// Chain is the subset of the endpoint pool the monitor reads from.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Monitor drives one state machine per transaction. A Monitor holds no
// per-transaction state and may run many transactions concurrently.
type Monitor struct {
	chain    Chain
	fetcher  scanner.LogFetcher
	contract common.Address
	cfg      Config
}

func New(chain Chain, fetcher scanner.LogFetcher, contract common.Address, cfg Config) *Monitor {
	return &Monitor{chain: chain, fetcher: fetcher, contract: contract, cfg: cfg.withDefaults()}
}

// run carries the mutable status of one transaction.
type run struct {
	status Status
	emit   func(Status)
}

func (r *run) transition(s State) {
	r.status.State = s
	r.status.At = time.Now()
	if r.emit != nil {
		r.emit(r.status)
	}
}

// Run monitors txHash synchronously, calling emit on every transition, and
// returns the terminal status. emit may be nil.
func (m *Monitor) Run(ctx context.Context, txHash common.Hash, submitter common.Address, emit func(Status)) Status {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OverallTimeout)
	defer cancel()

	r := &run{status: Status{TxHash: txHash, Submitter: submitter}, emit: emit}
	r.transition(StatePending)
	m.drive(ctx, r)

	metrics.Get().MonitorOutcomes.WithLabelValues(string(r.status.State), string(r.status.Provenance)).Inc()
	log.Info("Transaction monitor finished", "tx", txHash, "state", r.status.State,
		"code", r.status.GameCode, "provenance", r.status.Provenance, "err", r.status.Error)
	return r.status
}

func (m *Monitor) drive(ctx context.Context, r *run) {
	r.transition(StateConfirming)
	receipt, err := m.awaitReceipt(ctx, r.status.TxHash)
	if err != nil {
		m.fail(r, err)
		return
	}
	r.status.Block = receipt.BlockNumber.Uint64()
	if receipt.Status != types.ReceiptStatusSuccessful {
		r.status.Error = "transaction reverted"
		r.transition(StateFailed)
		return
	}
	r.transition(StateConfirmed)

	r.transition(StateExtracting)
	c := Confirmation{TxHash: r.status.TxHash, Submitter: r.status.Submitter, Receipt: receipt}
	for _, s := range m.Strategies() {
		code, err := s.Extract(ctx, c)
		if err == nil {
			r.status.GameCode = code
			r.status.Provenance = s.Provenance
			r.transition(StateComplete)
			return
		}
		if ctx.Err() != nil {
			m.fail(r, ctx.Err())
			return
		}
		log.Debug("Extraction strategy found nothing", "tx", r.status.TxHash, "strategy", s.Provenance, "err", err)
	}
	m.fail(r, ErrNoGameCode)
}

// fail ends the run as Timeout for deadlines and Failed otherwise. A
// confirmed transaction that times out while extracting still carries the
// code derived from its hash.
func (m *Monitor) fail(r *run, err error) {
	r.status.Error = err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		if r.status.State == StateExtracting {
			r.status.GameCode = decoder.FallbackGameCode(r.status.TxHash)
			r.status.Provenance = ProvenanceDerived
		}
		r.transition(StateTimeout)
		return
	}
	r.transition(StateFailed)
}

// awaitReceipt polls for the receipt until ReceiptTimeout. Lookup errors
// other than NotFound are logged and retried.
func (m *Monitor) awaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(m.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := m.chain.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err == nil, errors.Is(err, ethereum.NotFound):
		case ctx.Err() != nil:
		default:
			log.Debug("Receipt lookup failed, retrying", "tx", txHash, "err", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("await receipt: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Session is an asynchronous Run.
type Session struct {
	updates chan Status
	cancel  context.CancelFunc
	done    chan struct{}
	final   Status
}

// Start runs the monitor in a goroutine. Updates delivers every transition
// and is closed after the terminal one.
func (m *Monitor) Start(ctx context.Context, txHash common.Hash, submitter common.Address) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		// Room for every state so the run never blocks on a slow reader.
		updates: make(chan Status, 8),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.updates)
		defer cancel()
		s.final = m.Run(ctx, txHash, submitter, func(st Status) { s.updates <- st })
	}()
	return s
}

func (s *Session) Updates() <-chan Status {
	return s.updates
}

// Stop cancels the run. The session still ends with a terminal status.
func (s *Session) Stop() {
	s.cancel()
}

// Wait blocks until the run ends and returns its terminal status.
func (s *Session) Wait() Status {
	<-s.done
	return s.final
}
