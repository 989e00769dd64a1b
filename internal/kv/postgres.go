package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	zerrors "github.com/p-blackswan/zentab/internal/errors"
)

const (
	postgresTableName        = "zentab_sync"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore is the account-synced tier: one row per (account, key),
// shared by every device signed into the same account.
type PostgresStore struct {
	dsn     string
	account string
	openDB  sqlOpenFunc

	// mu guards db. db stays nil until a connection and the schema are in
	// place, so a failed attempt is retried by the next operation.
	mu sync.Mutex
	db *sql.DB
}

// NewPostgresStore returns a synced tier for account. The connection is
// opened lazily so the daemon starts even when the database is offline.
func NewPostgresStore(dsn, account string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty sync dsn", zerrors.ErrInvalidInput)
	}
	if account == "" {
		account = "default"
	}
	return &PostgresStore{
		dsn:     dsn,
		account: account,
		openDB:  sql.Open,
	}, nil
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	db, err := p.ensureReady()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var value []byte
	query := fmt.Sprintf("SELECT value FROM %s WHERE account = $1 AND key = $2", pq.QuoteIdentifier(postgresTableName))
	err = db.QueryRowContext(ctx, query, p.account, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyPostgresError(err)
	}
	return value, nil
}

func (p *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	db, err := p.ensureReady()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (account, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (account, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, pq.QuoteIdentifier(postgresTableName))
	if _, err := db.ExecContext(ctx, query, p.account, key, value); err != nil {
		return classifyPostgresError(err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	db, err := p.ensureReady()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE account = $1 AND key = $2", pq.QuoteIdentifier(postgresTableName))
	if _, err := db.ExecContext(ctx, query, p.account, key); err != nil {
		return classifyPostgresError(err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (p *PostgresStore) Ping(ctx context.Context) error {
	db, err := p.ensureReady()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return classifyPostgresError(err)
	}
	return nil
}

// Close closes the connection pool if it was opened.
func (p *PostgresStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// ensureReady returns the pool, opening it and creating the table on
// first use. Failures are not cached.
func (p *PostgresStore) ensureReady() (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return p.db, nil
	}

	db, err := p.openDB("postgres", p.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: sync store: %v", zerrors.ErrUnavailable, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			account TEXT NOT NULL,
			key TEXT NOT NULL,
			value BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (account, key)
		)`, pq.QuoteIdentifier(postgresTableName))
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: sync store: %v", zerrors.ErrUnavailable, err)
	}
	p.db = db
	return db, nil
}

// classifyPostgresError maps driver failures onto the storage sentinels.
func classifyPostgresError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", zerrors.ErrTimeout, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "53": // insufficient_resources
			return fmt.Errorf("%w: %v", zerrors.ErrQuotaExceeded, err)
		case "08", "57": // connection_exception, operator_intervention
			return fmt.Errorf("%w: %v", zerrors.ErrUnavailable, err)
		}
		return err
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", zerrors.ErrUnavailable, err)
	}
	return err
}
