// Package httpapi provides connectivity to HTTP-speaking backends: generic
// REST endpoints and Elasticsearch. Connections are stateless; every request
// opens on the shared http.Client and nothing is pooled.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 8 << 20 // 8 MiB
)

// Conn targets one HTTP base URL. Query text is "METHOD /path" with an
// optional JSON body after the path, e.g. "POST /orders/_search {...}".
type Conn struct {
	client   *http.Client
	baseURL  string
	username string
	password string
	info     datasource.ConnectionInfo
	search   bool // elasticsearch gets index discovery
}

// baseURL joins the scheme-carrying host with the port. The host keeps its
// scheme prefix from configuration validation.
func baseURL(ds *models.Datasource) string {
	host := strings.TrimRight(ds.Host, "/")
	if ds.Port > 0 {
		return fmt.Sprintf("%s:%d", host, ds.Port)
	}
	return host
}

// Dial builds a stateless HTTP connection. No request is sent; reachability
// is probed by IsValid.
func Dial(ctx context.Context, ds *models.Datasource, dsType string) (datasource.Connection, error) {
	return &Conn{
		client:   &http.Client{Timeout: defaultTimeout},
		baseURL:  baseURL(ds),
		username: ds.Username,
		password: ds.Password,
		search:   dsType == "elasticsearch",
		info: datasource.ConnectionInfo{
			DatasourceType: dsType,
			Host:           ds.Host,
			Port:           ds.Port,
			Database:       ds.Database,
			Pooled:         false,
		},
	}, nil
}

// IsValid reports whether the base URL answers at all. Any HTTP status
// counts as reachable; only transport failures are invalid.
func (c *Conn) IsValid(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return false
	}
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	_ = resp.Body.Close()
	return true
}

func (c *Conn) setAuth(req *http.Request) {
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

// parseRequest splits query text into method, path and optional body.
func parseRequest(text string) (method, path, body string, err error) {
	trimmed := strings.TrimSpace(text)
	parts := strings.SplitN(trimmed, " ", 3)
	if len(parts) < 2 {
		return "", "", "", fmt.Errorf("request text must be \"METHOD /path [body]\", got %q", trimmed)
	}

	method = strings.ToUpper(parts[0])
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead:
	default:
		return "", "", "", fmt.Errorf("unsupported method %q", parts[0])
	}

	path = parts[1]
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(parts) == 3 {
		body = strings.TrimSpace(parts[2])
	}
	return method, path, body, nil
}

func (c *Conn) do(ctx context.Context, method, path, body string) (int, []byte, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, payload, nil
}

// ExecuteQuery sends the parsed request and maps the response into one row
// with status_code and body columns. A JSON body is decoded; anything else
// is passed through as a string.
func (c *Conn) ExecuteQuery(ctx context.Context, text string) *datasource.QueryResult {
	start := time.Now()

	method, path, body, err := parseRequest(text)
	if err != nil {
		return datasource.FailedQuery(err, time.Since(start))
	}

	status, payload, err := c.do(ctx, method, path, body)
	if err != nil {
		return datasource.FailedQuery(err, time.Since(start))
	}

	var decoded any
	if json.Unmarshal(payload, &decoded) != nil {
		decoded = string(payload)
	}

	return &datasource.QueryResult{
		Columns:  []string{"status_code", "body"},
		Rows:     []map[string]any{{"status_code": status, "body": decoded}},
		RowCount: 1,
		Elapsed:  time.Since(start),
		OK:       status < 400,
		Error:    statusError(status),
	}
}

func statusError(status int) string {
	if status < 400 {
		return ""
	}
	return fmt.Sprintf("endpoint returned HTTP %d", status)
}

func (c *Conn) ExecuteUpdate(ctx context.Context, text string) *datasource.UpdateResult {
	start := time.Now()

	method, path, body, err := parseRequest(text)
	if err != nil {
		return datasource.FailedUpdate(err, time.Since(start))
	}

	status, _, err := c.do(ctx, method, path, body)
	if err != nil {
		return datasource.FailedUpdate(err, time.Since(start))
	}
	if status >= 400 {
		return &datasource.UpdateResult{
			Elapsed: time.Since(start),
			OK:      false,
			Error:   statusError(status),
		}
	}
	return &datasource.UpdateResult{Affected: 1, Elapsed: time.Since(start), OK: true}
}

func (c *Conn) Info() datasource.ConnectionInfo {
	return c.info
}

// ListTables returns Elasticsearch index names; generic HTTP endpoints have
// no table concept and return an empty list.
func (c *Conn) ListTables(ctx context.Context) ([]string, error) {
	if !c.search {
		return []string{}, nil
	}

	status, payload, err := c.do(ctx, http.MethodGet, "/_cat/indices?format=json", "")
	if err != nil {
		return nil, fmt.Errorf("list indices: %w", err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("list indices: %s", statusError(status))
	}

	var entries []struct {
		Index string `json:"index"`
	}
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("decode index listing: %w", err)
	}

	indices := make([]string, 0, len(entries))
	for _, e := range entries {
		if !strings.HasPrefix(e.Index, ".") {
			indices = append(indices, e.Index)
		}
	}
	return indices, nil
}

// TableSchema maps an Elasticsearch mapping onto the column model. Field
// types come from the index mapping; nullability and keys do not apply.
func (c *Conn) TableSchema(ctx context.Context, table string) (*datasource.TableSchema, error) {
	if !c.search {
		return nil, fmt.Errorf("schema discovery is not supported for HTTP endpoints")
	}

	status, payload, err := c.do(ctx, http.MethodGet, "/"+table+"/_mapping", "")
	if err != nil {
		return nil, fmt.Errorf("fetch mapping for %s: %w", table, err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("fetch mapping for %s: %s", table, statusError(status))
	}

	var mapping map[string]struct {
		Mappings struct {
			Properties map[string]struct {
				Type string `json:"type"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(payload, &mapping); err != nil {
		return nil, fmt.Errorf("decode mapping for %s: %w", table, err)
	}

	schema := &datasource.TableSchema{Name: table}
	for _, idx := range mapping {
		for name, prop := range idx.Mappings.Properties {
			dataType := prop.Type
			if dataType == "" {
				dataType = "object"
			}
			schema.Columns = append(schema.Columns, datasource.ColumnSchema{
				Name:       name,
				DataType:   dataType,
				IsNullable: true,
			})
		}
	}
	return schema, nil
}

func (c *Conn) Capabilities() datasource.CapabilitySet {
	return datasource.NewCapabilitySet()
}

// Close is a no-op; the connection holds no server state.
func (c *Conn) Close() error {
	return nil
}

var _ datasource.Connection = (*Conn)(nil)
