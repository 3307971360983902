package storage

import (
	"context"
	"fmt"
	"sync"
)

// Persistence stores the continuous scanner's next block to scan.
type Persistence interface {
	// LoadCursor reads the saved height for key; 0 means no cursor.
	// key: task identifier (e.g., "base-sepolia:0xabc...")
	LoadCursor(ctx context.Context, key string) (uint64, error)

	// SaveCursor saves the next height to scan for key
	SaveCursor(ctx context.Context, key string, height uint64) error

	// Close releases resources
	Close() error
}

// Config selects and configures a cursor backend.
type Config struct {
	Type   string `mapstructure:"type"` // memory, redis, postgres
	URL    string `mapstructure:"url"`  // redis addr or postgres DSN
	Prefix string `mapstructure:"prefix"`

	Password string `mapstructure:"password"` // redis only
	DB       int    `mapstructure:"db"`       // redis only
}

// New opens the backend named by cfg.Type. An empty type means memory.
func New(ctx context.Context, cfg Config) (Persistence, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(cfg.Prefix), nil
	case "redis":
		return NewRedisStore(ctx, cfg.URL, cfg.Password, cfg.DB, cfg.Prefix)
	case "postgres":
		return NewPostgresStore(ctx, cfg.URL, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// MemoryStore keeps cursors in process memory. Data is lost on restart.
type MemoryStore struct {
	data   map[string]uint64
	prefix string
	mu     sync.RWMutex
}

// NewMemoryStore initializes a new in-memory storage.
func NewMemoryStore(prefix string) *MemoryStore {
	return &MemoryStore{
		data:   make(map[string]uint64),
		prefix: prefix,
	}
}

func (m *MemoryStore) LoadCursor(_ context.Context, key string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[m.prefix+key], nil
}

func (m *MemoryStore) SaveCursor(_ context.Context, key string, height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[m.prefix+key] = height
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
