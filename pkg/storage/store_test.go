package storage

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Memory Store Tests ---

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("test_")
	assert.NoError(t, s.SaveCursor(ctx, "task1", 100))

	h, err := s.LoadCursor(ctx, "task1")
	assert.NoError(t, err)
	assert.Equal(t, uint64(100), h)

	h, err = s.LoadCursor(ctx, "unknown")
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), h)

	assert.NoError(t, s.Close())
}

func TestNew_Memory(t *testing.T) {
	s, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = New(context.Background(), Config{Type: "etcd"})
	assert.ErrorContains(t, err, "unknown storage type")
}

// --- Postgres Store Tests ---

func TestPostgresStore_InitTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreWithDB(db, "custom_")

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS custom_cursors")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, store.initTable(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreWithDB(db, "")

	// Save success
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO gamefinder_cursors")).
		WithArgs("task1", 100).
		WillReturnResult(sqlmock.NewResult(1, 1))
	assert.NoError(t, store.SaveCursor(ctx, "task1", 100))

	// Save error
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO gamefinder_cursors")).
		WillReturnError(assert.AnError)
	assert.ErrorIs(t, store.SaveCursor(ctx, "task1", 100), assert.AnError)

	// Load success
	rows := sqlmock.NewRows([]string{"block_height"}).AddRow(200)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT block_height FROM gamefinder_cursors")).
		WithArgs("task1").
		WillReturnRows(rows)
	h, err := store.LoadCursor(ctx, "task1")
	assert.NoError(t, err)
	assert.Equal(t, uint64(200), h)

	// Not found is a zero cursor
	mock.ExpectQuery(regexp.QuoteMeta("SELECT block_height")).
		WithArgs("task2").
		WillReturnError(sql.ErrNoRows)
	h, err = store.LoadCursor(ctx, "task2")
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), h)

	// Load error
	mock.ExpectQuery(regexp.QuoteMeta("SELECT block_height")).
		WillReturnError(assert.AnError)
	_, err = store.LoadCursor(ctx, "task3")
	assert.Error(t, err)

	mock.ExpectClose()
	assert.NoError(t, store.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresStore_InvalidURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewPostgresStore(ctx, "postgres://invalid-url?param=^^", "prefix")
	assert.Error(t, err)
}

// --- Redis Store Tests ---

func TestRedisStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	store := NewRedisStoreWithClient(db, "scan:")

	mock.ExpectSet("scan:task1", uint64(100), time.Duration(0)).SetVal("OK")
	assert.NoError(t, store.SaveCursor(ctx, "task1", 100))

	mock.ExpectSet("scan:task1", uint64(100), time.Duration(0)).SetErr(assert.AnError)
	assert.Error(t, store.SaveCursor(ctx, "task1", 100))

	mock.ExpectGet("scan:task1").SetVal("500")
	h, err := store.LoadCursor(ctx, "task1")
	assert.NoError(t, err)
	assert.Equal(t, uint64(500), h)

	mock.ExpectGet("scan:task2").SetErr(redis.Nil)
	h, err = store.LoadCursor(ctx, "task2")
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), h)

	mock.ExpectGet("scan:task3").SetErr(assert.AnError)
	_, err = store.LoadCursor(ctx, "task3")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.NoError(t, store.Close())
}

func TestRedisStore_DefaultPrefix(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStoreWithClient(db, "")

	mock.ExpectGet("gamefinder:k").SetVal("7")
	h, err := store.LoadCursor(context.Background(), "k")
	assert.NoError(t, err)
	assert.Equal(t, uint64(7), h)
}

func TestNewRedisStore_PingFail(t *testing.T) {
	// localhost:65432 is unreachable in CI
	_, err := NewRedisStore(context.Background(), "localhost:65432", "", 0, "p_")
	assert.Error(t, err)
}
