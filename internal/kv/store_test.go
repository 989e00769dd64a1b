package kv

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zerrors "github.com/p-blackswan/zentab/internal/errors"
	"github.com/p-blackswan/zentab/internal/retry"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// storeContract runs the behaviour every tier must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte("v1")))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, s.Set(ctx, "k", []byte("v2")))
	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Delete(ctx, "never-existed"))
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestSQLiteStore_Contract(t *testing.T) {
	storeContract(t, openTestSQLite(t))
}

func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("ZENTAB_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("ZENTAB_TEST_PG_DSN not set")
	}
	s, err := NewPostgresStore(dsn, "test-"+time.Now().Format("150405.000000"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	storeContract(t, s)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", buf))
	buf[0] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'z'
	again, _ := s.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
	assert.True(t, s.Has("k"))
	assert.Equal(t, 1, s.Len())
}

func TestGetSetValue(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	var flag bool
	found, err := GetValue(ctx, s, "migrationComplete", &flag)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, SetValue(ctx, s, "migrationComplete", true))
	found, err = GetValue(ctx, s, "migrationComplete", &flag)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, flag)
}

func TestGetValue_DecodeError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "bad", []byte{0xff}))

	var v map[string]int64
	_, err := GetValue(ctx, s, "bad", &v)
	assert.Error(t, err)
}

func TestQuotaStore(t *testing.T) {
	ctx := context.Background()
	s := NewQuotaStore(NewMemoryStore(), 10)

	assert.NoError(t, s.Set(ctx, "key", []byte("1234567")))
	err := s.Set(ctx, "key", []byte("12345678"))
	assert.ErrorIs(t, err, zerrors.ErrQuotaExceeded)

	got, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("1234567"), got)

	unlimited := NewQuotaStore(NewMemoryStore(), 0)
	assert.NoError(t, unlimited.Set(ctx, "key", make([]byte, 1<<16)))
}

type flakyStore struct {
	*MemoryStore
	failures int
	err      error
	calls    int
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return f.MemoryStore.Delete(ctx, key)
}

func TestRetryStore_RetriesTransient(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2, err: zerrors.ErrUnavailable}
	s := NewRetryStore(inner, retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	assert.Equal(t, 3, inner.calls)
	assert.True(t, inner.Has("k"))
}

func TestRetryStore_QuotaFailsFast(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryStore: NewMemoryStore(), failures: 5, err: zerrors.ErrQuotaExceeded}
	s := NewRetryStore(inner, retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	assert.ErrorIs(t, s.Delete(ctx, "k"), zerrors.ErrQuotaExceeded)
	assert.Equal(t, 1, inner.calls)
}

func TestNewPostgresStore_EmptyDSN(t *testing.T) {
	_, err := NewPostgresStore("  ", "acct")
	assert.ErrorIs(t, err, zerrors.ErrInvalidInput)
}

func TestPostgresStore_OpenFailureIsUnavailable(t *testing.T) {
	s, err := NewPostgresStore("postgres://nowhere", "")
	require.NoError(t, err)
	assert.Equal(t, "default", s.account)
	s.openDB = func(driverName, dsn string) (*sql.DB, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	err = s.Set(context.Background(), "settings", []byte("x"))
	assert.ErrorIs(t, err, zerrors.ErrUnavailable)
	assert.True(t, zerrors.IsRetryable(err))

	_, err = s.Get(context.Background(), "settings")
	assert.ErrorIs(t, err, zerrors.ErrUnavailable)
	assert.NoError(t, s.Close())
}

func TestPostgresStore_RetriesConnectionAfterFailure(t *testing.T) {
	s, err := NewPostgresStore("postgres://nowhere", "")
	require.NoError(t, err)

	calls := 0
	s.openDB = func(driverName, dsn string) (*sql.DB, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("dial tcp: connection refused")
		}
		return nil, errors.New("password authentication failed")
	}

	_, err = s.Get(context.Background(), "settings")
	assert.ErrorIs(t, err, zerrors.ErrUnavailable)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = s.Get(context.Background(), "settings")
	assert.ErrorIs(t, err, zerrors.ErrUnavailable)
	assert.Contains(t, err.Error(), "password authentication failed")
	assert.Equal(t, 2, calls, "a failed open must not be cached")
}

func TestPostgresStore_RetryStoreReopensEachAttempt(t *testing.T) {
	s, err := NewPostgresStore("postgres://nowhere", "")
	require.NoError(t, err)

	calls := 0
	s.openDB = func(driverName, dsn string) (*sql.DB, error) {
		calls++
		return nil, errors.New("dial tcp: connection refused")
	}

	rs := NewRetryStore(s, retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	err = rs.Set(context.Background(), "settings", []byte("x"))
	assert.ErrorIs(t, err, zerrors.ErrUnavailable)
	assert.Equal(t, 3, calls, "every retry attempts a fresh connection")
}

func TestPostgresStore_ReusesOpenPool(t *testing.T) {
	s, err := NewPostgresStore("postgres://nowhere", "")
	require.NoError(t, err)

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	s.db = db
	s.openDB = func(driverName, dsn string) (*sql.DB, error) {
		t.Fatal("pool already open")
		return nil, nil
	}

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.Nil(t, s.db)
}

func TestClassifyPostgresError(t *testing.T) {
	assert.ErrorIs(t, classifyPostgresError(context.DeadlineExceeded), zerrors.ErrTimeout)
	assert.ErrorIs(t, classifyPostgresError(sql.ErrConnDone), zerrors.ErrUnavailable)

	assert.ErrorIs(t, classifyPostgresError(&pq.Error{Code: "53100"}), zerrors.ErrQuotaExceeded)
	assert.ErrorIs(t, classifyPostgresError(&pq.Error{Code: "08006"}), zerrors.ErrUnavailable)

	other := errors.New("syntax error")
	assert.Equal(t, other, classifyPostgresError(other))
}
