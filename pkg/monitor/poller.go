package monitor

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrPollerStopped is returned once Stop has been called.
	ErrPollerStopped = errors.New("poller stopped")
	// ErrPollExhausted means every scheduled attempt ran without a result.
	ErrPollExhausted = errors.New("poll attempts exhausted")
)

// Attempt is one poll. attempt is the zero-based index into the schedule.
type Attempt func(ctx context.Context, attempt int) (string, error)

// Poller runs an attempt after each delay of an ascending schedule until one
// succeeds. Stop prevents any further attempt from starting; the result of
// an attempt in flight when Stop is called is discarded.
type Poller struct {
	delays  []time.Duration
	attempt Attempt

	stopOnce sync.Once
	stopped  chan struct{}
}

func NewPoller(delays []time.Duration, attempt Attempt) *Poller {
	return &Poller{
		delays:  delays,
		attempt: attempt,
		stopped: make(chan struct{}),
	}
}

// Stop is safe to call more than once and from any goroutine.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopped) })
}

func (p *Poller) isStopped() bool {
	select {
	case <-p.stopped:
		return true
	default:
		return false
	}
}

// Run blocks until an attempt succeeds, the schedule is exhausted, ctx ends
// or Stop is called. It returns the result and the index of the successful
// attempt.
func (p *Poller) Run(ctx context.Context) (string, int, error) {
	var lastErr error
	for i, delay := range p.delays {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", i, ctx.Err()
		case <-p.stopped:
			timer.Stop()
			return "", i, ErrPollerStopped
		case <-timer.C:
		}
		if p.isStopped() {
			return "", i, ErrPollerStopped
		}

		res, err := p.attempt(ctx, i)
		if p.isStopped() {
			return "", i, ErrPollerStopped
		}
		if err == nil {
			return res, i, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", i, ctxErr
		}
		lastErr = err
	}

	if lastErr != nil {
		return "", len(p.delays), errors.Join(ErrPollExhausted, lastErr)
	}
	return "", len(p.delays), ErrPollExhausted
}
