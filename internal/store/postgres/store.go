// Package postgres implements the versioned record store on a jsonb table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/snowball-crawler/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and target table.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Store persists records in one row per (namespace, key).
type Store struct {
	pool  pool
	table string
}

// New opens a pool from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("records.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool builds a Store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "versioned_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// EnsureSchema creates the backing table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value JSONB NOT NULL,
	ts BIGINT NOT NULL,
	tag TEXT NOT NULL DEFAULT '',
	hint TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (namespace, key)
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return unavailable("create table", err)
	}
	return nil
}

// Upsert writes all records in one transaction. A conflicting row is only
// rewritten when its jsonb value differs, so "no row returned" means unchanged.
func (s *Store) Upsert(ctx context.Context, namespace string, records ...store.Record) ([]store.Outcome, error) {
	if len(records) == 0 {
		return nil, nil
	}
	normalized := make([]store.Record, 0, len(records))
	for _, rec := range records {
		n, err := store.Normalize(rec)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, n)
	}

	query := fmt.Sprintf(`INSERT INTO %[1]s (namespace, key, value, ts, tag, hint)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (namespace, key) DO UPDATE
SET value = EXCLUDED.value, ts = EXCLUDED.ts, tag = EXCLUDED.tag, hint = EXCLUDED.hint
WHERE %[1]s.value IS DISTINCT FROM EXCLUDED.value
RETURNING (xmax = 0) AS inserted`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	outcomes := make([]store.Outcome, 0, len(normalized))
	for _, rec := range normalized {
		var inserted bool
		err := tx.QueryRow(ctx, query,
			namespace, rec.Key, []byte(rec.Value), rec.Timestamp, rec.Tag, rec.Hint,
		).Scan(&inserted)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			outcomes = append(outcomes, store.Unchanged)
		case err != nil:
			return nil, unavailable(fmt.Sprintf("upsert %s/%s", namespace, rec.Key), err)
		case inserted:
			outcomes = append(outcomes, store.Inserted)
		default:
			outcomes = append(outcomes, store.Updated)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable("commit", err)
	}
	return outcomes, nil
}

// Get projects field from every record value in the namespace.
func (s *Store) Get(ctx context.Context, namespace, field string) (map[string]json.RawMessage, error) {
	query := fmt.Sprintf(`SELECT key, value -> $2 FROM %s WHERE namespace = $1 AND value -> $2 IS NOT NULL`, s.table)
	rows, err := s.pool.Query(ctx, query, namespace, field)
	if err != nil {
		return nil, unavailable("select field", err)
	}
	defer rows.Close()
	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan field row: %w", err)
		}
		out[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate field rows", err)
	}
	return out, nil
}

// GetAll returns every record in the namespace.
func (s *Store) GetAll(ctx context.Context, namespace string) (map[string]store.Record, error) {
	query := fmt.Sprintf(`SELECT key, value, ts, tag, hint FROM %s WHERE namespace = $1`, s.table)
	rows, err := s.pool.Query(ctx, query, namespace)
	if err != nil {
		return nil, unavailable("select namespace", err)
	}
	defer rows.Close()
	out := make(map[string]store.Record)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[rec.Key] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate namespace rows", err)
	}
	return out, nil
}

// Keys lists keys in lexical order.
func (s *Store) Keys(ctx context.Context, namespace string) ([]string, error) {
	query := fmt.Sprintf(`SELECT key FROM %s WHERE namespace = $1 ORDER BY key`, s.table)
	rows, err := s.pool.Query(ctx, query, namespace)
	if err != nil {
		return nil, unavailable("select keys", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate keys", err)
	}
	return keys, nil
}

// Lookup fetches one record.
func (s *Store) Lookup(ctx context.Context, namespace, key string) (store.Record, bool, error) {
	query := fmt.Sprintf(`SELECT key, value, ts, tag, hint FROM %s WHERE namespace = $1 AND key = $2`, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, namespace, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, err
	}
	return rec, true, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func scanRecord(row pgx.Row) (store.Record, error) {
	var (
		rec   store.Record
		value []byte
	)
	if err := row.Scan(&rec.Key, &value, &rec.Timestamp, &rec.Tag, &rec.Hint); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Record{}, err
		}
		return store.Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.Value = json.RawMessage(value)
	return rec, nil
}

func unavailable(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
}
