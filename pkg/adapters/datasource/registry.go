package datasource

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/stratumhq/stratum-engine/pkg/models"
)

// ConnectOptions carries pooling and identity context into adapter factories.
// Identity is passed explicitly on every call; it is never read from any
// process-global state.
type ConnectOptions struct {
	Manager  *Manager // nil creates an unmanaged connection
	TenantID uuid.UUID
	UserID   uuid.UUID

	// Unmanaged forces a throwaway connection even when the factory holds a
	// manager. Connection tests use this so closing the probe never tears
	// down a cached client.
	Unmanaged bool
}

// ConnectFunc opens a connection for a datasource configuration.
type ConnectFunc func(ctx context.Context, ds *models.Datasource, opts ConnectOptions) (Connection, error)

// TypeDescriptor describes one datasource type: how to reach it, which client
// library it needs, and how to open it. Behavior lives in the adapter
// packages; the descriptor is plain data populated at init time.
type TypeDescriptor struct {
	Type        string                `json:"type"`
	DisplayName string                `json:"display_name"`
	Family      models.ProtocolFamily `json:"family"`
	Category    models.Category       `json:"category"`
	DefaultPort int                   `json:"default_port"`

	// URLTemplate builds the location part of a connection string from
	// {host}, {port} and {database}. Credentials are attached at connect
	// time, never templated.
	URLTemplate string `json:"url_template"`

	// Coordinate is the Go module providing the client library, reported in
	// dependency-missing errors.
	Coordinate string `json:"coordinate"`

	// Connect is nil for types whose client library is not wired into this
	// build; they fail closed with a DependencyError naming Coordinate.
	Connect ConnectFunc `json:"-"`
}

// Available reports whether the client library for this type is present.
func (d TypeDescriptor) Available() bool {
	return d.Connect != nil
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]TypeDescriptor)
)

// Register is called by each adapter package's init() function.
// Thread-safe for concurrent init() calls.
func Register(desc TypeDescriptor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[desc.Type] = desc
}

// Lookup returns the descriptor for a datasource type.
func Lookup(dsType string) (TypeDescriptor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	desc, ok := registry[dsType]
	return desc, ok
}

// RegisteredTypes returns descriptors for every known type, including ones
// whose client library is absent, so callers can report availability.
func RegisteredTypes() []TypeDescriptor {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]TypeDescriptor, 0, len(registry))
	for _, desc := range registry {
		result = append(result, desc)
	}
	return result
}

func init() {
	// Known types whose client libraries are not part of this build. They
	// fail closed at factory time instead of degrading silently.
	Register(TypeDescriptor{
		Type:        "neo4j",
		DisplayName: "Neo4j",
		Family:      models.FamilyNative,
		Category:    models.CategoryGraph,
		DefaultPort: 7687,
		URLTemplate: "bolt://{host}:{port}",
		Coordinate:  "github.com/neo4j/neo4j-go-driver/v5",
	})
	Register(TypeDescriptor{
		Type:        "influxdb",
		DisplayName: "InfluxDB",
		Family:      models.FamilyNative,
		Category:    models.CategoryTimeSeries,
		DefaultPort: 8086,
		URLTemplate: "http://{host}:{port}",
		Coordinate:  "github.com/influxdata/influxdb-client-go/v2",
	})
}
