// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package postgres implements a key/value backend on a PostgreSQL table.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	schema = `CREATE TABLE IF NOT EXISTS kv (
	namespace  TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	value      BYTEA       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
)`
	selectValues = `SELECT key, value FROM kv WHERE namespace = $1 AND key = ANY($2)`
	upsertValue  = `INSERT INTO kv (namespace, key, value, updated_at) VALUES ($1, $2, $3, now())
ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	lockNamespace = `SELECT pg_advisory_xact_lock(hashtext($1))`
)

// DBTX is the part of *pgxpool.Pool used by the backend.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Postgres struct {
	db    DBTX
	close func()
}

// Open connects to the database at dsn and makes sure the kv table exists.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := &Postgres{db: pool, close: pool.Close}
	if err = store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// New returns a backend using db. Close is a no-op.
func New(db DBTX) *Postgres {
	return &Postgres{db: db, close: func() {}}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, namespace string, keys ...string) (map[string][]byte, error) {
	return queryValues(ctx, p.db, namespace, keys)
}

// Set writes all values in one transaction.
func (p *Postgres) Set(ctx context.Context, namespace string, values map[string][]byte) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("failed to roll back transaction: %w", rbErr))
			}
		}
	}()

	if err = upsert(ctx, tx, namespace, values); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Update passes the current values of keys to fn and writes the values it returns in the same
// transaction. Updates of a namespace are serialized with a transaction scoped advisory lock, which
// also covers keys that do not exist yet. An error returned by fn is returned unchanged.
func (p *Postgres) Update(ctx context.Context, namespace string, keys []string,
	fn func(current map[string][]byte) (map[string][]byte, error),
) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("failed to roll back transaction: %w", rbErr))
			}
		}
	}()

	if _, err = tx.Exec(ctx, lockNamespace, namespace); err != nil {
		return fmt.Errorf("failed to lock namespace: %w", err)
	}
	current, err := queryValues(ctx, tx, namespace, keys)
	if err != nil {
		return err
	}
	values, err := fn(current)
	if err != nil {
		return err
	}
	if err = upsert(ctx, tx, namespace, values); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryValues(ctx context.Context, db querier, namespace string, keys []string) (map[string][]byte, error) {
	rows, err := db.Query(ctx, selectValues, namespace, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to query values: %w", err)
	}
	defer rows.Close()

	values := make(map[string][]byte, len(keys))
	for rows.Next() {
		var key string
		var value []byte
		if err = rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		values[key] = value
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read values: %w", err)
	}
	return values, nil
}

func upsert(ctx context.Context, tx pgx.Tx, namespace string, values map[string][]byte) error {
	for key, value := range values {
		if _, err := tx.Exec(ctx, upsertValue, namespace, key, value); err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	p.close()
	return nil
}
