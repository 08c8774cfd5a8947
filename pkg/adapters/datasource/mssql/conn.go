// Package mssql provides SQL Server connectivity over go-mssqldb. Each
// Conn wraps a database/sql handle capped at one open connection so the
// generic datasource pool controls concurrency.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

// Conn is one SQL Server session.
type Conn struct {
	db   *sql.DB
	info datasource.ConnectionInfo
}

// buildConnectionString builds a sqlserver:// URL. Credentials are
// URL-escaped so special characters cannot break parsing.
func buildConnectionString(ds *models.Datasource) string {
	query := url.Values{}
	query.Add("database", ds.Database)
	if ds.UseTLS {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(ds.Username),
		url.QueryEscape(ds.Password),
		ds.Host,
		ds.Port,
		query.Encode(),
	)
}

// Dial opens a SQL Server session and verifies it with a ping. The handle is
// capped at a single open connection; concurrency is the pool's job.
func Dial(ctx context.Context, ds *models.Datasource) (datasource.Connection, error) {
	db, err := sql.Open("sqlserver", buildConnectionString(ds))
	if err != nil {
		return nil, fmt.Errorf("open sql server connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sql server: %w", err)
	}

	return &Conn{
		db: db,
		info: datasource.ConnectionInfo{
			DatasourceType: "mssql",
			Host:           ds.Host,
			Port:           ds.Port,
			Database:       ds.Database,
			Pooled:         true,
		},
	}, nil
}

func (c *Conn) IsValid(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.db.PingContext(probeCtx) == nil
}

// capQuery bounds the result set by appending OFFSET/FETCH to the original
// text. Wrapping in a derived table would reject common queries: T-SQL
// forbids both a trailing ORDER BY and a leading CTE inside one. OFFSET
// requires an ORDER BY, so queries without one get a no-op ordering first.
// Text that already pages or caps itself is left alone.
func capQuery(text string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(text), ";")
	upper := strings.ToUpper(trimmed)

	if strings.Contains(upper, " OFFSET ") || strings.Contains(upper, "SELECT TOP ") {
		return trimmed
	}
	if !hasOuterOrderBy(upper) {
		trimmed += " ORDER BY (SELECT NULL)"
	}
	return fmt.Sprintf("%s OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", trimmed, datasource.MaxQueryRows)
}

// hasOuterOrderBy reports whether upper-cased query text contains an ORDER BY
// outside all parentheses, i.e. one that sorts the outermost statement.
func hasOuterOrderBy(upper string) bool {
	depth := 0
	for i := 0; i+8 <= len(upper); i++ {
		switch upper[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && strings.HasPrefix(upper[i:], "ORDER BY") {
			return true
		}
	}
	return false
}

func (c *Conn) ExecuteQuery(ctx context.Context, text string) *datasource.QueryResult {
	start := time.Now()

	rows, err := c.db.QueryContext(ctx, capQuery(text))
	if err != nil {
		return datasource.FailedQuery(err, time.Since(start))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return datasource.FailedQuery(err, time.Since(start))
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return datasource.FailedQuery(err, time.Since(start))
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return datasource.FailedQuery(err, time.Since(start))
	}

	return &datasource.QueryResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
		Elapsed:  time.Since(start),
		OK:       true,
	}
}

// normalizeValue converts driver byte slices to strings so results
// serialize as text rather than base64.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func (c *Conn) ExecuteUpdate(ctx context.Context, text string) *datasource.UpdateResult {
	start := time.Now()

	result, err := c.db.ExecContext(ctx, text)
	if err != nil {
		return datasource.FailedUpdate(err, time.Since(start))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return datasource.FailedUpdate(err, time.Since(start))
	}
	return &datasource.UpdateResult{
		Affected: affected,
		Elapsed:  time.Since(start),
		OK:       true,
	}
}

func (c *Conn) Info() datasource.ConnectionInfo {
	return c.info
}

func (c *Conn) ListTables(ctx context.Context) ([]string, error) {
	const query = `
		SELECT TABLE_SCHEMA, TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_SCHEMA, TABLE_NAME
	`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var schema, name string
		if err := rows.Scan(&schema, &name); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		if strings.EqualFold(schema, "dbo") {
			tables = append(tables, name)
		} else {
			tables = append(tables, schema+"."+name)
		}
	}
	return tables, rows.Err()
}

func splitQualified(table string) (schema, name string) {
	if idx := strings.IndexByte(table, '.'); idx >= 0 {
		return table[:idx], table[idx+1:]
	}
	return "dbo", table
}

func (c *Conn) TableSchema(ctx context.Context, table string) (*datasource.TableSchema, error) {
	schemaName, tableName := splitQualified(table)

	const query = `
		SELECT
			c.COLUMN_NAME,
			c.DATA_TYPE,
			CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
			CASE WHEN kcu.COLUMN_NAME IS NOT NULL THEN 1 ELSE 0 END
		FROM INFORMATION_SCHEMA.COLUMNS c
		LEFT JOIN INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
			ON tc.TABLE_SCHEMA = c.TABLE_SCHEMA
			AND tc.TABLE_NAME = c.TABLE_NAME
			AND tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		LEFT JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON kcu.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
			AND kcu.TABLE_SCHEMA = c.TABLE_SCHEMA
			AND kcu.COLUMN_NAME = c.COLUMN_NAME
		WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
		ORDER BY c.ORDINAL_POSITION
	`
	rows, err := c.db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns for %s: %w", table, err)
	}
	defer rows.Close()

	var columns []datasource.ColumnSchema
	for rows.Next() {
		var col datasource.ColumnSchema
		var nullable, primary int
		if err := rows.Scan(&col.Name, &col.DataType, &nullable, &primary); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		col.IsNullable = nullable == 1
		col.IsPrimary = primary == 1
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	return &datasource.TableSchema{Name: table, Columns: columns}, nil
}

func (c *Conn) Capabilities() datasource.CapabilitySet {
	return datasource.NewCapabilitySet(datasource.CapabilityMultiDatabase)
}

// ListDatabases enumerates user databases on the server.
func (c *Conn) ListDatabases(ctx context.Context) ([]string, error) {
	const query = `
		SELECT name FROM sys.databases
		WHERE name NOT IN ('master', 'tempdb', 'model', 'msdb')
		ORDER BY name
	`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan database row: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UseDatabase switches the session's database context. The name is bracket
// quoted; closing brackets inside the name are doubled per T-SQL rules.
func (c *Conn) UseDatabase(ctx context.Context, name string) error {
	quoted := "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	if _, err := c.db.ExecContext(ctx, "USE "+quoted); err != nil {
		return fmt.Errorf("switch to database %s: %w", name, err)
	}
	c.info.Database = name
	return nil
}

func (c *Conn) Close() error {
	return c.db.Close()
}

var (
	_ datasource.Connection    = (*Conn)(nil)
	_ datasource.MultiDatabase = (*Conn)(nil)
)
