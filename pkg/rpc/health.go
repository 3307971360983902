package rpc

import (
	"sort"
	"sync"
	"time"

	"github.com/84hero/evm-gamefinder/pkg/chain"
	"github.com/84hero/evm-gamefinder/pkg/metrics"
	"github.com/ethereum/go-ethereum/log"
)

// HealthConfig controls the short-circuit applied to failing endpoints.
type HealthConfig struct {
	// FailureThreshold consecutive failures take an endpoint out of rotation...
	FailureThreshold int `mapstructure:"failure_threshold"`
	// ...until Cooldown has passed since the most recent failure.
	Cooldown time.Duration `mapstructure:"cooldown"`
}

func (c HealthConfig) withDefaults() HealthConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// endpointState is the mutable bookkeeping for one endpoint. Every field is
// guarded by mu.
type endpointState struct {
	mu       sync.Mutex
	endpoint chain.Endpoint

	recent              []time.Time // request send times, oldest first
	consecutiveFailures int
	lastFailureReason   string
	lastFailureAt       time.Time
}

// prune drops timestamps that fell out of the trailing window. Caller holds mu.
func (s *endpointState) prune(now time.Time) {
	if s.endpoint.Window <= 0 || len(s.recent) == 0 {
		return
	}
	cutoff := now.Add(-s.endpoint.Window)
	i := 0
	for i < len(s.recent) && !s.recent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.recent = append(s.recent[:0], s.recent[i:]...)
	}
}

// eligible reports whether the endpoint may be used right now. Caller holds mu.
func (s *endpointState) eligible(now time.Time, cfg HealthConfig) bool {
	s.prune(now)
	if s.endpoint.RequestsPerWindow > 0 && len(s.recent) >= s.endpoint.RequestsPerWindow {
		return false
	}
	if s.consecutiveFailures >= cfg.FailureThreshold && now.Sub(s.lastFailureAt) < cfg.Cooldown {
		return false
	}
	return true
}

// EndpointStatus is a point-in-time diagnostic view of one endpoint.
type EndpointStatus struct {
	Name                string `json:"name"`
	URL                 string `json:"url"`
	MaxBlockRange       uint64 `json:"max_block_range"`
	RequestsInWindow    int    `json:"requests_in_window"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastFailureReason   string `json:"last_failure_reason,omitempty"`
	Eligible            bool   `json:"eligible"`
}

// Tracker owns the health state of every configured endpoint for the life of
// the process. It is the only component allowed to mutate that state; all
// methods are safe for concurrent use and never block on I/O.
type Tracker struct {
	cfg    HealthConfig
	order  []string
	states map[string]*endpointState
	now    func() time.Time
}

// NewTracker builds a tracker for the given endpoints in registry order.
func NewTracker(endpoints []chain.Endpoint, cfg HealthConfig) (*Tracker, error) {
	if err := chain.ValidateEndpoints(endpoints); err != nil {
		return nil, err
	}
	t := &Tracker{
		cfg:    cfg.withDefaults(),
		order:  make([]string, 0, len(endpoints)),
		states: make(map[string]*endpointState, len(endpoints)),
		now:    time.Now,
	}
	for _, ep := range endpoints {
		t.order = append(t.order, ep.Name)
		t.states[ep.Name] = &endpointState{endpoint: ep}
	}
	return t, nil
}

// state looks up an endpoint. Unknown names are ignored by every caller.
func (t *Tracker) state(name string) (*endpointState, bool) {
	s, ok := t.states[name]
	if !ok {
		log.Debug("Unknown endpoint", "endpoint", name)
	}
	return s, ok
}

// Endpoints returns the configured endpoints in registry order.
func (t *Tracker) Endpoints() []chain.Endpoint {
	out := make([]chain.Endpoint, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.states[name].endpoint)
	}
	return out
}

// IsEligible reports whether the endpoint is under its rate window and not
// short-circuited by recent consecutive failures. Unknown endpoints are
// never eligible.
func (t *Tracker) IsEligible(name string) bool {
	s, ok := t.state(name)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eligible(t.now(), t.cfg)
}

// Rank returns the eligible endpoints for a query spanning span blocks,
// ordered by fewest consecutive failures, then by largest usable capacity
// (min(span, MaxBlockRange)), then registry order. Every endpoint qualifies
// regardless of capacity; larger ones are preferred to minimise chunk count.
func (t *Tracker) Rank(span uint64) []chain.Endpoint {
	type candidate struct {
		ep       chain.Endpoint
		failures int
		capacity uint64
		pos      int
	}

	now := t.now()
	candidates := make([]candidate, 0, len(t.order))
	for i, name := range t.order {
		s := t.states[name]
		s.mu.Lock()
		ok := s.eligible(now, t.cfg)
		failures := s.consecutiveFailures
		s.mu.Unlock()
		if !ok {
			continue
		}
		capacity := s.endpoint.MaxBlockRange
		if span > 0 && span < capacity {
			capacity = span
		}
		candidates = append(candidates, candidate{ep: s.endpoint, failures: failures, capacity: capacity, pos: i})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.failures != b.failures {
			return a.failures < b.failures
		}
		if a.capacity != b.capacity {
			return a.capacity > b.capacity
		}
		return a.pos < b.pos
	})

	out := make([]chain.Endpoint, len(candidates))
	for i, c := range candidates {
		out[i] = c.ep
	}
	return out
}

// RecordRequest accounts one request at send time. Endpoints without a rate
// window keep no timestamps.
func (t *Tracker) RecordRequest(name string) {
	s, ok := t.state(name)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.endpoint.RequestsPerWindow > 0 {
		now := t.now()
		s.prune(now)
		s.recent = append(s.recent, now)
	}
	s.mu.Unlock()
}

// RecordSuccess clears the consecutive failure count.
func (t *Tracker) RecordSuccess(name string) {
	s, ok := t.state(name)
	if !ok {
		return
	}
	s.mu.Lock()
	s.consecutiveFailures = 0
	s.mu.Unlock()
	metrics.Get().ConsecutiveFailures.WithLabelValues(name).Set(0)
}

// RecordFailure increments the consecutive failure count and keeps reason
// for diagnostics.
func (t *Tracker) RecordFailure(name, reason string) {
	s, ok := t.state(name)
	if !ok {
		return
	}
	s.mu.Lock()
	s.consecutiveFailures++
	s.lastFailureReason = reason
	s.lastFailureAt = t.now()
	n := s.consecutiveFailures
	s.mu.Unlock()

	metrics.Get().ConsecutiveFailures.WithLabelValues(name).Set(float64(n))
	if n == t.cfg.FailureThreshold {
		log.Warn("Endpoint short-circuited", "endpoint", name, "failures", n, "cooldown", t.cfg.Cooldown, "reason", reason)
	}
}

// Snapshot returns diagnostics for every endpoint in registry order.
func (t *Tracker) Snapshot() []EndpointStatus {
	now := t.now()
	out := make([]EndpointStatus, 0, len(t.order))
	for _, name := range t.order {
		s := t.states[name]
		s.mu.Lock()
		eligible := s.eligible(now, t.cfg)
		out = append(out, EndpointStatus{
			Name:                name,
			URL:                 s.endpoint.URL,
			MaxBlockRange:       s.endpoint.MaxBlockRange,
			RequestsInWindow:    len(s.recent),
			ConsecutiveFailures: s.consecutiveFailures,
			LastFailureReason:   s.lastFailureReason,
			Eligible:            eligible,
		})
		s.mu.Unlock()
	}
	return out
}
