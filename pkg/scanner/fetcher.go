package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/84hero/evm-gamefinder/pkg/metrics"
	"github.com/84hero/evm-gamefinder/pkg/rpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"
)

// ErrFetchFailed means every ranked endpoint failed for a range. Callers
// treat it as an inconclusive search, not a fatal error.
var ErrFetchFailed = errors.New("fetch failed")

// errEndpointBusy abandons an endpoint that ran out of rate window mid-call.
// The endpoint is not blamed for it.
var errEndpointBusy = errors.New("endpoint rate window exhausted")

// FetchError reports an exhausted fetch with the last failure seen.
type FetchError struct {
	Range    BlockRange
	Endpoint string // last endpoint tried, empty when none was eligible
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("fetch logs %s: no eligible endpoint: %v", e.Range, e.Err)
	}
	return fmt.Sprintf("fetch logs %s: %d endpoint(s) failed, last %s: %v", e.Range, e.Attempts, e.Endpoint, e.Err)
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetchConfig tunes the fetcher.
type FetchConfig struct {
	// Pace is the minimum gap between requests issued by one FetchLogs call.
	// Zero disables pacing.
	Pace time.Duration `mapstructure:"pace"`
}

// Fetcher issues chunked eth_getLogs queries against the pool, failing over
// between endpoints in the order the health tracker ranks them.
type Fetcher struct {
	pool    *rpc.Pool
	tracker *rpc.Tracker
	pace    time.Duration
}

func NewFetcher(pool *rpc.Pool, cfg FetchConfig) *Fetcher {
	pace := cfg.Pace
	if pace < 0 {
		pace = 0
	}
	return &Fetcher{pool: pool, tracker: pool.Tracker(), pace: pace}
}

func (f *Fetcher) limiter() *rate.Limiter {
	if f.pace == 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(f.pace), 1)
}

// FetchLogs returns the deduplicated logs emitted by contract within r.
// When involved is set, only logs carrying that address in indexed topic
// 1, 2 or 3 are returned.
//
// Each ranked endpoint must answer every chunk of r; on the first error its
// partial results are dropped and the next endpoint starts over. When all
// endpoints fail the error satisfies errors.Is(err, ErrFetchFailed). A range
// that splits into more than MaxChunks chunks at every endpoint's capacity
// returns ErrInvalidRange without issuing a request.
func (f *Fetcher) FetchLogs(ctx context.Context, contract common.Address, r BlockRange, involved *common.Address) ([]types.Log, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	m := metrics.Get()
	start := time.Now()
	defer func() { m.FetchLatency.Observe(time.Since(start).Seconds()) }()

	filters := QueryFilters(contract, involved)
	limiter := f.limiter()
	ranked := f.tracker.Rank(r.Size())

	fetchErr := &FetchError{Range: r, Err: rpc.ErrNoAvailableNodes}
	var rangeErr error
	for _, ep := range ranked {
		node, ok := f.pool.Node(ep.Name)
		if !ok {
			continue
		}

		logs, err := f.fetchFrom(ctx, limiter, node, r, filters)
		if err == nil {
			f.tracker.RecordSuccess(ep.Name)
			out := Dedupe(logs)
			m.FetchCalls.WithLabelValues("ok").Inc()
			m.LogsReturned.Add(float64(len(out)))
			log.Debug("Fetched logs", "endpoint", ep.Name, "range", r, "logs", len(out))
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			m.FetchCalls.WithLabelValues("canceled").Inc()
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			m.FetchCalls.WithLabelValues("canceled").Inc()
			return nil, err
		}

		if errors.Is(err, ErrInvalidRange) {
			// Too many chunks at this endpoint's capacity; not its fault.
			log.Debug("Range exceeds chunk budget, trying next", "endpoint", ep.Name, "range", r)
			rangeErr = err
			continue
		}

		fetchErr.Endpoint = ep.Name
		fetchErr.Attempts++
		fetchErr.Err = err
		if errors.Is(err, errEndpointBusy) {
			log.Debug("Endpoint busy, trying next", "endpoint", ep.Name, "range", r)
			continue
		}
		f.tracker.RecordFailure(ep.Name, err.Error())
		log.Warn("Fetch failed on endpoint, trying next", "endpoint", ep.Name, "range", r, "err", err)
	}

	if rangeErr != nil && fetchErr.Attempts == 0 {
		m.FetchCalls.WithLabelValues("invalid").Inc()
		return nil, rangeErr
	}
	m.FetchCalls.WithLabelValues("exhausted").Inc()
	return nil, fetchErr
}

// fetchFrom runs every chunk and filter of r against a single node.
// Issuance order is ascending chunks, then filters in position order.
func (f *Fetcher) fetchFrom(ctx context.Context, limiter *rate.Limiter, node *rpc.Node, r BlockRange, filters []*Filter) ([]types.Log, error) {
	chunks, err := SplitRange(r, node.Endpoint().MaxBlockRange)
	if err != nil {
		return nil, err
	}

	name := node.Name()
	var out []types.Log
	for _, chunk := range chunks {
		for _, flt := range filters {
			if err := limiter.Wait(ctx); err != nil {
				// Wait fails early when the deadline would pass before the
				// next slot; that is a timeout, not an endpoint fault.
				return nil, fmt.Errorf("pacing: %v: %w", err, context.DeadlineExceeded)
			}
			if !f.tracker.IsEligible(name) {
				return nil, errEndpointBusy
			}

			f.tracker.RecordRequest(name)
			metrics.Get().ChunksIssued.Inc()
			logs, err := node.FilterLogs(ctx, flt.ToQuery(chunk.From, chunk.To))
			if err != nil {
				return nil, fmt.Errorf("chunk %s: %w", chunk, err)
			}
			out = append(out, logs...)
		}
	}
	return out, nil
}
