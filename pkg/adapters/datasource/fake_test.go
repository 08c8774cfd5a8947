package datasource

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeConn is an in-memory Connection for pool and factory tests.
type fakeConn struct {
	mu       sync.Mutex
	valid    bool
	closed   bool
	queryErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{valid: true}
}

func (f *fakeConn) invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valid = false
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) IsValid(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid && !f.closed
}

func (f *fakeConn) ExecuteQuery(ctx context.Context, text string) *QueryResult {
	if f.queryErr != nil {
		return FailedQuery(f.queryErr, time.Millisecond)
	}
	return &QueryResult{
		Columns:  []string{"value"},
		Rows:     []map[string]any{{"value": text}},
		RowCount: 1,
		Elapsed:  time.Millisecond,
		OK:       true,
	}
}

func (f *fakeConn) ExecuteUpdate(ctx context.Context, text string) *UpdateResult {
	return &UpdateResult{Affected: 1, Elapsed: time.Millisecond, OK: true}
}

func (f *fakeConn) Info() ConnectionInfo {
	return ConnectionInfo{DatasourceType: "fake", Host: "localhost", Port: 1}
}

func (f *fakeConn) ListTables(ctx context.Context) ([]string, error) {
	return []string{"users", "orders"}, nil
}

func (f *fakeConn) TableSchema(ctx context.Context, table string) (*TableSchema, error) {
	return &TableSchema{Name: table, Columns: []ColumnSchema{{Name: "id", DataType: "bigint"}}}, nil
}

func (f *fakeConn) Capabilities() CapabilitySet {
	return NewCapabilitySet()
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// countingDialer counts how many connections were opened.
type countingDialer struct {
	opened atomic.Int32
	fail   atomic.Bool

	mu    sync.Mutex
	conns []*fakeConn
}

func (d *countingDialer) dial(ctx context.Context) (Connection, error) {
	if d.fail.Load() {
		return nil, context.DeadlineExceeded
	}
	d.opened.Add(1)
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}
