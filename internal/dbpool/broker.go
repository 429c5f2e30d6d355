package dbpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrServiceUnavailable is returned when no connection could be borrowed
	// even after purging the pool.
	ErrServiceUnavailable = errors.New("database unavailable")

	// ErrLeaseReleased is returned when a released lease is used again.
	ErrLeaseReleased = errors.New("connection lease already released")
)

// Broker borrows connections from a Pool with a bounded wait. A failed borrow
// purges the whole pool and is retried exactly once.
type Broker struct {
	pool    Pool
	timeout time.Duration
}

// NewBroker creates a Broker waiting at most timeout per borrow attempt. A
// zero timeout waits as long as the caller's context allows.
func NewBroker(pool Pool, timeout time.Duration) *Broker {
	return &Broker{
		pool:    pool,
		timeout: timeout,
	}
}

func (b *Broker) borrow(ctx context.Context) (*sql.Conn, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	return b.pool.Conn(ctx)
}

// Acquire borrows a connection. If the first attempt fails the pool is purged
// and one more attempt is made; if that fails too the error wraps
// ErrServiceUnavailable. A caller whose own context has ended gets the
// context error without a purge.
func (b *Broker) Acquire(ctx context.Context) (*sql.Conn, error) {
	conn, err := b.borrow(ctx)
	if err == nil {
		return conn, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	slog.Warn("Borrowing database connection failed, purging pool", "err", err)
	b.pool.Purge()

	conn, err = b.borrow(ctx)
	if err != nil {
		slog.Error("Borrowing database connection failed after purge", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return conn, nil
}

// Release returns conn to the pool. A nil conn is ignored.
func (b *Broker) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		slog.Debug("Failed to release database connection", "err", err)
	}
}

// Lease returns a fresh per-request lease.
func (b *Broker) Lease() *Lease {
	return &Lease{broker: b}
}

// Lease holds at most one borrowed connection for a single request. The
// connection is acquired on first use and kept until Release.
type Lease struct {
	broker *Broker

	mu       sync.Mutex
	conn     *sql.Conn
	err      error
	tried    bool
	released bool
}

// Conn returns the leased connection, acquiring it on the first call. A
// failed acquisition is remembered and returned by later calls.
func (l *Lease) Conn(ctx context.Context) (*sql.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil, ErrLeaseReleased
	}
	if !l.tried {
		l.tried = true
		l.conn, l.err = l.broker.Acquire(ctx)
	}
	return l.conn, l.err
}

// Acquired reports whether the lease currently holds a connection.
func (l *Lease) Acquired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Release returns the connection, if any. It is safe to call more than once
// and on a lease that never borrowed.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return
	}
	l.released = true
	l.broker.Release(l.conn)
	l.conn = nil
}
