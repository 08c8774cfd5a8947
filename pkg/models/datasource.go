package models

// ProtocolFamily groups datasource types by how connections are made.
type ProtocolFamily string

const (
	FamilySQL    ProtocolFamily = "sql"    // driver-based, pooled (postgres, mssql)
	FamilyHTTP   ProtocolFamily = "http"   // stateless REST endpoints
	FamilyNative ProtocolFamily = "native" // per-type client library (redis, nats, neo4j)
)

// Category describes what kind of system a datasource is.
type Category string

const (
	CategoryRelational   Category = "relational"
	CategoryDocument     Category = "document"
	CategorySearch       Category = "search"
	CategoryTimeSeries   Category = "timeseries"
	CategoryGraph        Category = "graph"
	CategoryMessageQueue Category = "messagequeue"
	CategoryHTTPAPI      Category = "httpapi"
)

// Datasource is a configured external system that API services query.
// Password is encrypted at rest by the service layer; the repository only
// ever sees the ciphertext. Disabled datasources are soft-deleted: rows stay
// so published services referencing them keep their history.
type Datasource struct {
	AuditedRecord

	Name           string         `json:"name"`
	DatasourceType string         `json:"datasource_type"` // "postgres", "mssql", "redis", ...
	Host           string         `json:"host"`
	Port           int            `json:"port"`
	Database       string         `json:"database,omitempty"`
	Username       string         `json:"username,omitempty"`
	Password       string         `json:"-"` // decrypted in memory only
	UseTLS         bool           `json:"use_tls"`
	Properties     map[string]any `json:"properties,omitempty"` // protocol-specific extras

	PoolMinSize        int `json:"pool_min_size"`
	PoolMaxSize        int `json:"pool_max_size"`
	IdleTimeoutSeconds int `json:"idle_timeout_seconds"`
	MaxLifetimeSeconds int `json:"max_lifetime_seconds"`

	Enabled bool `json:"enabled"`
}
