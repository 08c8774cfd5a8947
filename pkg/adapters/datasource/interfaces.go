// Package datasource defines the protocol-agnostic connection abstraction and
// the factory that builds, validates and pools connections per datasource type.
package datasource

import (
	"context"
	"time"
)

// MaxQueryRows is the hard cap on rows returned by ExecuteQuery.
// Protects the engine against unbounded result sets.
const MaxQueryRows = 1000

// Connection is the capability-oriented contract every backend connection
// implements. Query and update failures surface inside the result record
// rather than as returned errors; only connection establishment fails fast,
// at factory time. Close is idempotent.
type Connection interface {
	// IsValid reports whether the connection can currently serve requests.
	IsValid(ctx context.Context) bool

	// ExecuteQuery runs fully-rendered query text and returns a uniform
	// tabular result. The result always carries elapsed time, including on
	// failure.
	ExecuteQuery(ctx context.Context, text string) *QueryResult

	// ExecuteUpdate runs fully-rendered command text that mutates the
	// backend and reports the affected count.
	ExecuteUpdate(ctx context.Context, text string) *UpdateResult

	// Info describes the live connection for status reporting.
	Info() ConnectionInfo

	// ListTables returns the backend's table-like containers (tables,
	// collections, key namespaces, subjects).
	ListTables(ctx context.Context) ([]string, error)

	// TableSchema describes one table's columns.
	TableSchema(ctx context.Context, table string) (*TableSchema, error)

	// Capabilities declares which optional capabilities this connection
	// supports. Callers probe this set before asserting the extension
	// interfaces; absence is "not applicable", not an error.
	Capabilities() CapabilitySet

	// Close releases the underlying handle. Safe to call more than once.
	Close() error
}

// QueryResult is the uniform tabular result every backend maps into.
type QueryResult struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Elapsed  time.Duration    `json:"elapsed"`
	OK       bool             `json:"ok"`
	Error    string           `json:"error,omitempty"`
}

// UpdateResult reports a mutating command's outcome.
type UpdateResult struct {
	Affected int64         `json:"affected"`
	Elapsed  time.Duration `json:"elapsed"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
}

// ConnectionInfo describes a live connection.
type ConnectionInfo struct {
	DatasourceType string `json:"datasource_type"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Database       string `json:"database,omitempty"`
	Pooled         bool   `json:"pooled"`
}

// ColumnSchema describes one column of a table.
type ColumnSchema struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
	IsPrimary  bool   `json:"is_primary"`
}

// TableSchema describes one table.
type TableSchema struct {
	Name    string         `json:"name"`
	Columns []ColumnSchema `json:"columns"`
}

// FailedQuery builds a failed QueryResult preserving elapsed time.
func FailedQuery(err error, elapsed time.Duration) *QueryResult {
	return &QueryResult{Elapsed: elapsed, OK: false, Error: err.Error()}
}

// FailedUpdate builds a failed UpdateResult preserving elapsed time.
func FailedUpdate(err error, elapsed time.Duration) *UpdateResult {
	return &UpdateResult{Elapsed: elapsed, OK: false, Error: err.Error()}
}
