// Package dbpool lends database connections to requests. A request borrows
// at most one connection, lazily, and always hands it back on teardown.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Pool is a bounded set of database connections.
type Pool interface {
	// Conn borrows a connection, waiting at most until ctx ends.
	Conn(ctx context.Context) (*sql.Conn, error)

	// Purge discards every idle connection so later borrows dial fresh ones.
	Purge()

	Close() error
}

// SQLPool is a Pool over a plain *sql.DB.
type SQLPool struct {
	db      *sql.DB
	maxIdle int
}

// NewSQLPool bounds db to maxConns open connections and wraps it.
func NewSQLPool(db *sql.DB, maxConns int) *SQLPool {
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	return &SQLPool{db: db, maxIdle: maxConns}
}

func (p *SQLPool) Conn(ctx context.Context) (*sql.Conn, error) {
	return p.db.Conn(ctx)
}

// Purge closes all idle connections. Connections currently borrowed are
// unaffected and return to the pool as usual.
func (p *SQLPool) Purge() {
	p.db.SetMaxIdleConns(0)
	p.db.SetMaxIdleConns(p.maxIdle)
}

func (p *SQLPool) Close() error {
	return p.db.Close()
}

// DB exposes the underlying handle, for migrations.
func (p *SQLPool) DB() *sql.DB {
	return p.db
}

// PgxPool is a Pool over a pgxpool.Pool, exposed through database/sql so the
// queries are shared with SQLPool.
type PgxPool struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

// OpenPgxPool connects to the PostgreSQL server at dsn with at most maxConns
// connections and verifies the connection.
func OpenPgxPool(ctx context.Context, dsn string, maxConns int) (*PgxPool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PgxPool{pool: pool, db: stdlib.OpenDBFromPool(pool)}, nil
}

func (p *PgxPool) Conn(ctx context.Context) (*sql.Conn, error) {
	return p.db.Conn(ctx)
}

// Purge closes every idle connection and marks borrowed ones to be closed
// when they are returned.
func (p *PgxPool) Purge() {
	p.pool.Reset()
}

func (p *PgxPool) Close() error {
	err := p.db.Close()
	p.pool.Close()
	return err
}

// DB exposes the database/sql view of the pool, for migrations.
func (p *PgxPool) DB() *sql.DB {
	return p.db
}
