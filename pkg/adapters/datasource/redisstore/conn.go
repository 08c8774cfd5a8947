// Package redisstore provides Redis connectivity as a document-style
// datasource. One shared client serves all callers of a datasource; go-redis
// pools the underlying TCP connections itself.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

// Conn wraps a shared go-redis client. Query text is a raw command, e.g.
// "HGETALL user:42" or "GET session:abc".
type Conn struct {
	client *redis.Client
	info   datasource.ConnectionInfo
}

// logicalDB parses the datasource's database field as a Redis logical
// database index.
func logicalDB(ds *models.Datasource) (int, error) {
	db, err := strconv.Atoi(strings.TrimSpace(ds.Database))
	if err != nil || db < 0 {
		return 0, fmt.Errorf("redis database must be a non-negative index, got %q", ds.Database)
	}
	return db, nil
}

// Dial opens a Redis client and verifies it with a ping.
func Dial(ctx context.Context, ds *models.Datasource) (datasource.Connection, error) {
	db, err := logicalDB(ds)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", ds.Host, ds.Port),
		Username: ds.Username,
		Password: ds.Password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Conn{
		client: client,
		info: datasource.ConnectionInfo{
			DatasourceType: "redis",
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
	return c.client.Ping(probeCtx).Err() == nil
}

// splitCommand tokenizes command text, honoring double quotes so values with
// spaces stay one argument.
func splitCommand(text string) []any {
	var args []any
	var current strings.Builder
	inQuote := false

	for _, r := range strings.TrimSpace(text) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}

// ExecuteQuery runs the command and maps the reply onto the tabular shape.
// Map replies become one row; slice replies one row per element; scalars a
// single value row.
func (c *Conn) ExecuteQuery(ctx context.Context, text string) *datasource.QueryResult {
	start := time.Now()

	args := splitCommand(text)
	if len(args) == 0 {
		return datasource.FailedQuery(fmt.Errorf("empty command"), time.Since(start))
	}

	reply, err := c.client.Do(ctx, args...).Result()
	if err != nil && err != redis.Nil {
		return datasource.FailedQuery(err, time.Since(start))
	}

	result := &datasource.QueryResult{
		Elapsed: time.Since(start),
		OK:      true,
	}

	switch v := reply.(type) {
	case map[any]any:
		row := make(map[string]any, len(v))
		for key, val := range v {
			name := fmt.Sprint(key)
			row[name] = val
			result.Columns = append(result.Columns, name)
		}
		result.Rows = []map[string]any{row}
	case map[string]any:
		row := make(map[string]any, len(v))
		for key, val := range v {
			row[key] = val
			result.Columns = append(result.Columns, key)
		}
		result.Rows = []map[string]any{row}
	case []any:
		result.Columns = []string{"value"}
		for i, item := range v {
			if i >= datasource.MaxQueryRows {
				break
			}
			result.Rows = append(result.Rows, map[string]any{"value": item})
		}
	case nil:
		result.Columns = []string{"value"}
		result.Rows = []map[string]any{}
	default:
		result.Columns = []string{"value"}
		result.Rows = []map[string]any{{"value": v}}
	}

	result.RowCount = len(result.Rows)
	return result
}

// ExecuteUpdate runs a mutating command. Integer replies report the affected
// count; everything else counts as one.
func (c *Conn) ExecuteUpdate(ctx context.Context, text string) *datasource.UpdateResult {
	start := time.Now()

	args := splitCommand(text)
	if len(args) == 0 {
		return datasource.FailedUpdate(fmt.Errorf("empty command"), time.Since(start))
	}

	reply, err := c.client.Do(ctx, args...).Result()
	if err != nil && err != redis.Nil {
		return datasource.FailedUpdate(err, time.Since(start))
	}

	affected := int64(1)
	if n, ok := reply.(int64); ok {
		affected = n
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

// ListTables returns the distinct key namespaces, where a namespace is the
// text before the first colon. Bare keys group under "(root)".
func (c *Conn) ListTables(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var namespaces []string

	iter := c.client.Scan(ctx, 0, "*", int64(datasource.MaxQueryRows)).Iterator()
	scanned := 0
	for iter.Next(ctx) {
		scanned++
		if scanned > datasource.MaxQueryRows {
			break
		}
		ns := "(root)"
		if idx := strings.IndexByte(iter.Val(), ':'); idx > 0 {
			ns = iter.Val()[:idx]
		}
		if _, ok := seen[ns]; !ok {
			seen[ns] = struct{}{}
			namespaces = append(namespaces, ns)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}
	return namespaces, nil
}

func (c *Conn) TableSchema(ctx context.Context, table string) (*datasource.TableSchema, error) {
	return nil, fmt.Errorf("redis keys are schemaless; schema discovery is not supported")
}

func (c *Conn) Capabilities() datasource.CapabilitySet {
	return datasource.NewCapabilitySet()
}

// Close closes the shared client. The manager calls this when the entry
// expires or the process shuts down.
func (c *Conn) Close() error {
	return c.client.Close()
}

var _ datasource.Connection = (*Conn)(nil)
