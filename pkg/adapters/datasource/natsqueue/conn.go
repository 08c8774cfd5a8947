// Package natsqueue provides NATS connectivity as a message-queue
// datasource. Query text is "subject [payload]": ExecuteQuery performs a
// request-reply round trip, ExecuteUpdate publishes fire-and-forget.
package natsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

const requestTimeout = 10 * time.Second

// Conn wraps a shared NATS connection; the client multiplexes internally.
type Conn struct {
	nc   *nats.Conn
	info datasource.ConnectionInfo
}

func serverURL(ds *models.Datasource) string {
	scheme := "nats"
	if ds.UseTLS {
		scheme = "tls"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, ds.Host, ds.Port)
}

// Dial connects to the NATS server.
func Dial(ctx context.Context, ds *models.Datasource) (datasource.Connection, error) {
	opts := []nats.Option{
		nats.Name("stratum-engine"),
		nats.Timeout(10 * time.Second),
		nats.MaxReconnects(-1),
	}
	if ds.Username != "" {
		opts = append(opts, nats.UserInfo(ds.Username, ds.Password))
	}

	nc, err := nats.Connect(serverURL(ds), opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &Conn{
		nc: nc,
		info: datasource.ConnectionInfo{
			DatasourceType: "nats",
			Host:           ds.Host,
			Port:           ds.Port,
			Pooled:         true,
		},
	}, nil
}

func (c *Conn) IsValid(ctx context.Context) bool {
	return c.nc.Status() == nats.CONNECTED
}

// parseMessage splits query text into subject and optional payload. Subjects
// must not contain spaces, so the first token is always the subject.
func parseMessage(text string) (subject, payload string, err error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", "", fmt.Errorf("message text must be \"subject [payload]\"")
	}
	parts := strings.SplitN(trimmed, " ", 2)
	subject = parts[0]
	if len(parts) == 2 {
		payload = strings.TrimSpace(parts[1])
	}
	return subject, payload, nil
}

// ExecuteQuery sends a request and waits for one reply. The reply becomes a
// single row with subject and body columns; a JSON body is decoded.
func (c *Conn) ExecuteQuery(ctx context.Context, text string) *datasource.QueryResult {
	start := time.Now()

	subject, payload, err := parseMessage(text)
	if err != nil {
		return datasource.FailedQuery(err, time.Since(start))
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	msg, err := c.nc.RequestWithContext(reqCtx, subject, []byte(payload))
	if err != nil {
		return datasource.FailedQuery(fmt.Errorf("request on %s: %w", subject, err), time.Since(start))
	}

	var decoded any
	if json.Unmarshal(msg.Data, &decoded) != nil {
		decoded = string(msg.Data)
	}

	return &datasource.QueryResult{
		Columns:  []string{"subject", "body"},
		Rows:     []map[string]any{{"subject": msg.Subject, "body": decoded}},
		RowCount: 1,
		Elapsed:  time.Since(start),
		OK:       true,
	}
}

// ExecuteUpdate publishes the payload to the subject and flushes so delivery
// to the server is confirmed before reporting success.
func (c *Conn) ExecuteUpdate(ctx context.Context, text string) *datasource.UpdateResult {
	start := time.Now()

	subject, payload, err := parseMessage(text)
	if err != nil {
		return datasource.FailedUpdate(err, time.Since(start))
	}

	if err := c.nc.Publish(subject, []byte(payload)); err != nil {
		return datasource.FailedUpdate(fmt.Errorf("publish to %s: %w", subject, err), time.Since(start))
	}
	if err := c.nc.FlushTimeout(requestTimeout); err != nil {
		return datasource.FailedUpdate(fmt.Errorf("flush publish to %s: %w", subject, err), time.Since(start))
	}

	return &datasource.UpdateResult{
		Affected: 1,
		Elapsed:  time.Since(start),
		OK:       true,
	}
}

func (c *Conn) Info() datasource.ConnectionInfo {
	return c.info
}

// ListTables is empty: core NATS has no subject enumeration.
func (c *Conn) ListTables(ctx context.Context) ([]string, error) {
	return []string{}, nil
}

func (c *Conn) TableSchema(ctx context.Context, table string) (*datasource.TableSchema, error) {
	return nil, fmt.Errorf("nats subjects are schemaless; schema discovery is not supported")
}

func (c *Conn) Capabilities() datasource.CapabilitySet {
	return datasource.NewCapabilitySet()
}

func (c *Conn) Close() error {
	c.nc.Close()
	return nil
}

var _ datasource.Connection = (*Conn)(nil)
