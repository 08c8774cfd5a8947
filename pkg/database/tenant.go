package database

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantScope wraps a store connection with app.current_tenant_id set for RLS
// policy evaluation. One scope serves a whole request, and services fan work
// out across goroutines (batch tests, test-all), so every statement goes
// through the mutex: the underlying wire connection cannot run concurrent
// queries. Repositories must use the Exec/QueryRow/Query/Begin methods, never
// Conn directly.
type TenantScope struct {
	Conn *pgxpool.Conn

	mu sync.Mutex
}

// Exec runs a statement under the scope lock.
func (s *TenantScope) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Conn.Exec(ctx, sql, args...)
}

// QueryRow locks the scope until the returned row is scanned; pgx defers
// query execution to Scan.
func (s *TenantScope) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	s.mu.Lock()
	return &lockedRow{row: s.Conn.QueryRow(ctx, sql, args...), mu: &s.mu}
}

type lockedRow struct {
	row pgx.Row
	mu  *sync.Mutex
}

func (r *lockedRow) Scan(dest ...any) error {
	defer r.mu.Unlock()
	return r.row.Scan(dest...)
}

// Query locks the scope until the returned rows are closed.
func (s *TenantScope) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	s.mu.Lock()
	rows, err := s.Conn.Query(ctx, sql, args...)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return &lockedRows{Rows: rows, unlock: sync.OnceFunc(s.mu.Unlock)}, nil
}

type lockedRows struct {
	pgx.Rows
	unlock func()
}

func (r *lockedRows) Close() {
	r.Rows.Close()
	r.unlock()
}

// Begin starts a transaction, holding the scope lock until Commit or
// Rollback.
func (s *TenantScope) Begin(ctx context.Context) (pgx.Tx, error) {
	s.mu.Lock()
	tx, err := s.Conn.Begin(ctx)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return &lockedTx{Tx: tx, unlock: sync.OnceFunc(s.mu.Unlock)}, nil
}

type lockedTx struct {
	pgx.Tx
	unlock func()
}

func (t *lockedTx) Commit(ctx context.Context) error {
	defer t.unlock()
	return t.Tx.Commit(ctx)
}

func (t *lockedTx) Rollback(ctx context.Context) error {
	defer t.unlock()
	return t.Tx.Rollback(ctx)
}

// Close resets tenant context and releases the connection to the pool.
// This MUST be called so tenant context never leaks to the next request.
func (s *TenantScope) Close() {
	if s.Conn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_tenant_id")
	s.Conn.Release()
}

// WithTenant acquires a connection and sets the tenant context for RLS.
// The returned TenantScope MUST be closed with defer scope.Close().
func (db *DB) WithTenant(ctx context.Context, tenantID uuid.UUID) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_tenant_id', $1, false)", tenantID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &TenantScope{Conn: conn}, nil
}

type contextKey string

const tenantScopeKey contextKey = "tenantScope"

// GetTenantScope retrieves the tenant-scoped store connection from context.
func GetTenantScope(ctx context.Context) (*TenantScope, bool) {
	scope, ok := ctx.Value(tenantScopeKey).(*TenantScope)
	return scope, ok
}

// SetTenantScope stores the tenant-scoped store connection in context.
func SetTenantScope(ctx context.Context, scope *TenantScope) context.Context {
	return context.WithValue(ctx, tenantScopeKey, scope)
}
