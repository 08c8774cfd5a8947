// Package postgres provides PostgreSQL connectivity over pgx. Connections
// are single pgx sessions; pooling happens in the generic datasource pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

// Conn is one PostgreSQL session. Not safe for concurrent use; the pool
// guarantees exclusive ownership between Acquire and Release.
type Conn struct {
	conn *pgx.Conn
	info datasource.ConnectionInfo
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields are URL-escaped so special characters in
// passwords (@, /, #, ?) cannot break URL parsing.
func buildConnectionString(ds *models.Datasource) string {
	sslMode := "disable"
	if ds.UseTLS {
		sslMode = "require"
	}
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(ds.Username),
		url.QueryEscape(ds.Password),
		ds.Host,
		ds.Port,
		url.QueryEscape(ds.Database),
		sslMode,
	)
}

// Dial opens a single PostgreSQL session and verifies it with a ping.
func Dial(ctx context.Context, ds *models.Datasource) (datasource.Connection, error) {
	conn, err := pgx.Connect(ctx, buildConnectionString(ds))
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Conn{
		conn: conn,
		info: datasource.ConnectionInfo{
			DatasourceType: "postgres",
			Host:           ds.Host,
			Port:           ds.Port,
			Database:       ds.Database,
			Pooled:         true,
		},
	}, nil
}

func (c *Conn) IsValid(ctx context.Context) bool {
	if c.conn == nil || c.conn.IsClosed() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.conn.Ping(probeCtx) == nil
}

// capQuery wraps the query so the backend never returns more than the row
// cap, regardless of what the rendered text asks for.
func capQuery(text string) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS _capped LIMIT %d",
		strings.TrimRight(strings.TrimSpace(text), ";"), datasource.MaxQueryRows)
}

func (c *Conn) ExecuteQuery(ctx context.Context, text string) *datasource.QueryResult {
	start := time.Now()

	rows, err := c.conn.Query(ctx, capQuery(text))
	if err != nil {
		return datasource.FailedQuery(err, time.Since(start))
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return datasource.FailedQuery(err, time.Since(start))
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col] = values[i]
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

func (c *Conn) ExecuteUpdate(ctx context.Context, text string) *datasource.UpdateResult {
	start := time.Now()

	tag, err := c.conn.Exec(ctx, text)
	if err != nil {
		return datasource.FailedUpdate(err, time.Since(start))
	}
	return &datasource.UpdateResult{
		Affected: tag.RowsAffected(),
		Elapsed:  time.Since(start),
		OK:       true,
	}
}

func (c *Conn) Info() datasource.ConnectionInfo {
	return c.info
}

// ListTables returns schema-qualified user tables, excluding system schemas.
func (c *Conn) ListTables(ctx context.Context) ([]string, error) {
	const query = `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY table_schema, table_name
	`
	rows, err := c.conn.Query(ctx, query)
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
		if schema == "public" {
			tables = append(tables, name)
		} else {
			tables = append(tables, schema+"."+name)
		}
	}
	return tables, rows.Err()
}

// splitQualified splits "schema.table" into its parts, defaulting the schema
// to public for bare names.
func splitQualified(table string) (schema, name string) {
	if idx := strings.IndexByte(table, '.'); idx >= 0 {
		return table[:idx], table[idx+1:]
	}
	return "public", table
}

func (c *Conn) TableSchema(ctx context.Context, table string) (*datasource.TableSchema, error) {
	schemaName, tableName := splitQualified(table)

	const query = `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			EXISTS (
				SELECT 1
				FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
				  ON kcu.constraint_name = tc.constraint_name
				 AND kcu.table_schema = tc.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
				  AND tc.table_schema = c.table_schema
				  AND tc.table_name = c.table_name
				  AND kcu.column_name = c.column_name
			)
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`
	rows, err := c.conn.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns for %s: %w", table, err)
	}
	defer rows.Close()

	var columns []datasource.ColumnSchema
	for rows.Next() {
		var col datasource.ColumnSchema
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &col.IsPrimary); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
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
	return datasource.NewCapabilitySet(
		datasource.CapabilityMultiSchema,
		datasource.CapabilityQueryValidation,
	)
}

// ListSchemas returns non-system schemas in the connected database.
func (c *Conn) ListSchemas(ctx context.Context) ([]string, error) {
	const query = `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY schema_name
	`
	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		schemas = append(schemas, name)
	}
	return schemas, rows.Err()
}

func (c *Conn) TablesInSchema(ctx context.Context, schema string) ([]string, error) {
	const query = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE' AND table_schema = $1
		ORDER BY table_name
	`
	rows, err := c.conn.Query(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("query tables in schema %s: %w", schema, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// ValidateQuery syntax-checks the text with EXPLAIN, without executing it.
// Server errors map to a positioned outcome where PostgreSQL reports one.
func (c *Conn) ValidateQuery(ctx context.Context, text string) *datasource.ValidationOutcome {
	_, err := c.conn.Exec(ctx, "EXPLAIN "+text)
	if err == nil {
		return &datasource.ValidationOutcome{Valid: true}
	}

	outcome := &datasource.ValidationOutcome{Valid: false, Error: err.Error()}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Position > 0 {
		// Position counts from the start of the EXPLAIN-prefixed text.
		offset := int(pgErr.Position) - len("EXPLAIN ") - 1
		if offset >= 0 && offset <= len(text) {
			outcome.Line, outcome.Column = lineColAt(text, offset)
		}
	}
	return outcome
}

func lineColAt(text string, offset int) (line, col int) {
	line, col = 1, 1
	for i := 0; i < offset && i < len(text); i++ {
		if text[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

// Close is idempotent: pgx tolerates closing a closed connection.
func (c *Conn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.conn.Close(ctx)
}

var (
	_ datasource.Connection     = (*Conn)(nil)
	_ datasource.MultiSchema    = (*Conn)(nil)
	_ datasource.QueryValidator = (*Conn)(nil)
)
