package datasource

import (
	"context"
	"sync"
)

// leasedConn wraps a pooled connection so Close releases it back to the pool
// instead of tearing it down. The factory hands these out for SQL-family
// datasources; callers Close unconditionally and the pool decides whether
// the connection survives. Close stays idempotent: only the first call
// releases the slot.
type leasedConn struct {
	Connection
	pool *Pool
	once sync.Once
}

func (l *leasedConn) Close() error {
	l.once.Do(func() {
		l.pool.Release(context.Background(), l.Connection)
	})
	return nil
}

// Lease acquires a connection and wraps it so Close returns it to the pool.
func (p *Pool) Lease(ctx context.Context) (Connection, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &leasedConn{Connection: conn, pool: p}, nil
}

// sharedRef guards a manager-owned shared client. Callers Close every
// connection they are handed; for a shared client that must not tear down
// the underlying handle, so Close is a no-op and the manager closes the real
// client on eviction or shutdown.
type sharedRef struct {
	Connection
}

func (sharedRef) Close() error { return nil }

// NewSharedRef wraps a shared client so caller Close calls do not close it.
func NewSharedRef(conn Connection) Connection {
	return sharedRef{Connection: conn}
}
