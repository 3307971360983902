package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrNoEndpoints     = errors.New("no rpc endpoints configured")
	ErrInvalidEndpoint = errors.New("invalid rpc endpoint")
)

// Endpoint describes one JSON-RPC service able to answer eth_getLogs and
// eth_blockNumber. It is immutable configuration.
type Endpoint struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`

	// MaxBlockRange is the largest fromBlock..toBlock span (inclusive) the
	// endpoint accepts in a single eth_getLogs call.
	MaxBlockRange uint64 `mapstructure:"max_block_range"`

	// RequestsPerWindow requests are allowed within every trailing Window.
	// Zero disables rate accounting for this endpoint.
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
}

// Validate reports configuration errors that must fail fast.
func (e Endpoint) Validate() error {
	if e.URL == "" {
		return fmt.Errorf("%w: %q has no url", ErrInvalidEndpoint, e.Name)
	}
	if e.MaxBlockRange == 0 {
		return fmt.Errorf("%w: %q max_block_range must be > 0", ErrInvalidEndpoint, e.Name)
	}
	if e.RequestsPerWindow > 0 && e.Window <= 0 {
		return fmt.Errorf("%w: %q requests_per_window set without window", ErrInvalidEndpoint, e.Name)
	}
	return nil
}

// ValidateEndpoints checks an ordered endpoint list. Names must be unique
// because health state is keyed by name.
func ValidateEndpoints(eps []Endpoint) error {
	if len(eps) == 0 {
		return ErrNoEndpoints
	}
	seen := make(map[string]struct{}, len(eps))
	for _, ep := range eps {
		if err := ep.Validate(); err != nil {
			return err
		}
		if _, dup := seen[ep.Name]; dup {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalidEndpoint, ep.Name)
		}
		seen[ep.Name] = struct{}{}
	}
	return nil
}

// Preset defines the default behavior parameters for a network
type Preset struct {
	ChainID   string
	BlockTime time.Duration // Average block time (affects polling interval)
	ReorgSafe uint64        // Recommended safety confirmations
	BatchSize uint64        // Recommended scan batch size

	// Endpoints in registry order. Earlier entries win ties when ranking.
	Endpoints []Endpoint
}

var (
	registry = make(map[string]Preset)
	mu       sync.RWMutex
)

// Register adds a new network preset to the global registry.
func Register(name string, p Preset) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = p
}

// Get retrieves a preset by its name. The returned endpoint slice is a copy.
func Get(name string) (Preset, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[name]
	if ok {
		p.Endpoints = append([]Endpoint(nil), p.Endpoints...)
	}
	return p, ok
}

// Built-in presets. Capacities reflect the free tiers of the public providers.
func init() {
	Register("base-sepolia", Preset{
		ChainID:   "84532",
		BlockTime: 2 * time.Second,
		ReorgSafe: 10,
		BatchSize: 500,
		Endpoints: []Endpoint{
			{Name: "base-official", URL: "https://sepolia.base.org", MaxBlockRange: 10000, RequestsPerWindow: 10, Window: time.Second},
			{Name: "publicnode", URL: "https://base-sepolia-rpc.publicnode.com", MaxBlockRange: 50000, RequestsPerWindow: 20, Window: 10 * time.Second},
			{Name: "drpc", URL: "https://base-sepolia.drpc.org", MaxBlockRange: 10000, RequestsPerWindow: 30, Window: time.Minute},
			{Name: "blastapi", URL: "https://base-sepolia.public.blastapi.io", MaxBlockRange: 5000, RequestsPerWindow: 25, Window: 10 * time.Second},
		},
	})

	Register("base-mainnet", Preset{
		ChainID:   "8453",
		BlockTime: 2 * time.Second,
		ReorgSafe: 10,
		BatchSize: 500,
		Endpoints: []Endpoint{
			{Name: "base-official", URL: "https://mainnet.base.org", MaxBlockRange: 10000, RequestsPerWindow: 10, Window: time.Second},
			{Name: "publicnode", URL: "https://base-rpc.publicnode.com", MaxBlockRange: 50000, RequestsPerWindow: 20, Window: 10 * time.Second},
			{Name: "llamarpc", URL: "https://base.llamarpc.com", MaxBlockRange: 2000, RequestsPerWindow: 30, Window: time.Minute},
		},
	})

	Register("eth-sepolia", Preset{
		ChainID:   "11155111",
		BlockTime: 12 * time.Second,
		ReorgSafe: 12,
		BatchSize: 100,
		Endpoints: []Endpoint{
			{Name: "publicnode", URL: "https://ethereum-sepolia-rpc.publicnode.com", MaxBlockRange: 50000, RequestsPerWindow: 20, Window: 10 * time.Second},
			{Name: "drpc", URL: "https://sepolia.drpc.org", MaxBlockRange: 10000, RequestsPerWindow: 30, Window: time.Minute},
		},
	})
}
