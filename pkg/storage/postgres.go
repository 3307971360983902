package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore keeps cursors in a "<prefix>cursors" table.
type PostgresStore struct {
	db        *sql.DB
	tableName string
}

// NewPostgresStore opens connStr, pings it and creates the cursor table.
// tablePrefix defaults to "gamefinder_".
func NewPostgresStore(ctx context.Context, connStr string, tablePrefix string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := NewPostgresStoreWithDB(db, tablePrefix)
	if err := store.initTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing handle without touching the schema.
func NewPostgresStoreWithDB(db *sql.DB, tablePrefix string) *PostgresStore {
	if tablePrefix == "" {
		tablePrefix = "gamefinder_"
	}
	return &PostgresStore{db: db, tableName: tablePrefix + "cursors"}
}

func (p *PostgresStore) initTable(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		task_key VARCHAR(255) PRIMARY KEY,
		block_height BIGINT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`, p.tableName)
	_, err := p.db.ExecContext(ctx, query)
	return err
}

func (p *PostgresStore) LoadCursor(ctx context.Context, key string) (uint64, error) {
	var height uint64
	query := fmt.Sprintf("SELECT block_height FROM %s WHERE task_key = $1", p.tableName)
	err := p.db.QueryRowContext(ctx, query, key).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor %s: %w", key, err)
	}
	return height, nil
}

func (p *PostgresStore) SaveCursor(ctx context.Context, key string, height uint64) error {
	query := fmt.Sprintf(`
	INSERT INTO %s (task_key, block_height, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (task_key)
	DO UPDATE SET block_height = EXCLUDED.block_height, updated_at = NOW();
	`, p.tableName)
	if _, err := p.db.ExecContext(ctx, query, key, height); err != nil {
		return fmt.Errorf("save cursor %s: %w", key, err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}
