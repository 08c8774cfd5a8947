package datasource

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/logging"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

// ValidationResult reports configuration validation with an actionable
// recommendation when invalid.
type ValidationResult struct {
	Valid          bool   `json:"valid"`
	Error          string `json:"error,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// TestResult reports a connection test. Elapsed is always set, success or not.
type TestResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// DependencyInfo reports whether the client library for a type is present,
// without attempting a connection.
type DependencyInfo struct {
	Type       string `json:"type"`
	Coordinate string `json:"coordinate"`
	Available  bool   `json:"available"`
}

// Factory builds, validates and tests connections by dispatching on the
// registered type descriptors.
type Factory interface {
	// CreateConnection opens a connection for the configuration, failing
	// fast on establishment errors.
	CreateConnection(ctx context.Context, ds *models.Datasource, opts ConnectOptions) (Connection, error)

	// ValidateConfiguration checks a configuration without connecting.
	ValidateConfiguration(ds *models.Datasource) ValidationResult

	// BuildConnectionURL substitutes {host}, {port} and {database} into the
	// type's URL template. Pure and deterministic.
	BuildConnectionURL(ds *models.Datasource) (string, error)

	// TestConnection opens a connection, checks validity, and always closes
	// it, success or failure.
	TestConnection(ctx context.Context, ds *models.Datasource) TestResult

	// DependencyInfo reports client library availability for a type.
	DependencyInfo(dsType string) (DependencyInfo, error)

	// Types lists all registered type descriptors.
	Types() []TypeDescriptor
}

type registryFactory struct {
	manager *Manager
	logger  *zap.Logger
}

// NewFactory returns a factory backed by the type registry. The manager may
// be nil, in which case every connection is unmanaged.
func NewFactory(manager *Manager, logger *zap.Logger) Factory {
	return &registryFactory{manager: manager, logger: logger}
}

func (f *registryFactory) CreateConnection(ctx context.Context, ds *models.Datasource, opts ConnectOptions) (Connection, error) {
	desc, ok := Lookup(ds.DatasourceType)
	if !ok {
		return nil, fmt.Errorf("unsupported datasource type %q: %w", ds.DatasourceType, apperrors.ErrNotImplemented)
	}
	if !desc.Available() {
		return nil, &apperrors.DependencyError{DatasourceType: ds.DatasourceType, Coordinate: desc.Coordinate}
	}
	if result := f.ValidateConfiguration(ds); !result.Valid {
		return nil, &apperrors.ConfigurationError{Message: result.Error, Recommendation: result.Recommendation}
	}

	if opts.Unmanaged {
		opts.Manager = nil
	} else if opts.Manager == nil {
		opts.Manager = f.manager
	}

	conn, err := desc.Connect(ctx, ds, opts)
	if err != nil {
		return nil, &apperrors.ConnectionError{DatasourceType: ds.DatasourceType, Err: err}
	}
	return conn, nil
}

func (f *registryFactory) ValidateConfiguration(ds *models.Datasource) ValidationResult {
	if ds == nil {
		// Programming-contract violation, not a user error.
		panic("datasource configuration must not be nil")
	}

	desc, ok := Lookup(ds.DatasourceType)
	if !ok {
		return invalid(fmt.Sprintf("unknown datasource type %q", ds.DatasourceType),
			"choose one of the registered types")
	}

	// Universal checks.
	if strings.TrimSpace(ds.Host) == "" {
		return invalid("host must not be empty", "set the server hostname or IP")
	}
	if ds.Port < 1 || ds.Port > 65535 {
		return invalid(fmt.Sprintf("port %d out of range", ds.Port),
			fmt.Sprintf("use a port in [1,65535]; default for %s is %d", desc.DisplayName, desc.DefaultPort))
	}

	// Family-specific checks.
	switch desc.Family {
	case models.FamilySQL:
		if strings.TrimSpace(ds.Username) == "" {
			return invalid("username is required for SQL datasources",
				"set a username with read access")
		}
		if !desc.Available() {
			return invalid(fmt.Sprintf("driver for %s is not available", desc.DisplayName),
				fmt.Sprintf("this build lacks %s", desc.Coordinate))
		}
	case models.FamilyHTTP:
		if !strings.HasPrefix(ds.Host, "http://") && !strings.HasPrefix(ds.Host, "https://") {
			return invalid("host must carry an http:// or https:// scheme prefix",
				"prepend the scheme to the host")
		}
	case models.FamilyNative:
		if desc.Category == models.CategoryDocument && strings.TrimSpace(ds.Database) == "" {
			return invalid("document stores require a database name",
				"set the database (e.g. \"0\" for the default redis logical database)")
		}
	}

	return ValidationResult{Valid: true}
}

func (f *registryFactory) BuildConnectionURL(ds *models.Datasource) (string, error) {
	desc, ok := Lookup(ds.DatasourceType)
	if !ok {
		return "", fmt.Errorf("unknown datasource type %q", ds.DatasourceType)
	}

	replacer := strings.NewReplacer(
		"{host}", ds.Host,
		"{port}", strconv.Itoa(ds.Port),
		"{database}", ds.Database,
	)
	return replacer.Replace(desc.URLTemplate), nil
}

// TestConnection never leaks a handle: the connection is closed on every
// path, success or failure.
func (f *registryFactory) TestConnection(ctx context.Context, ds *models.Datasource) TestResult {
	start := time.Now()

	conn, err := f.CreateConnection(ctx, ds, ConnectOptions{Unmanaged: true})
	if err != nil {
		f.logger.Warn("connection test failed to open",
			zap.String("type", ds.DatasourceType),
			zap.String("error", logging.SanitizeError(err)),
		)
		return TestResult{Success: false, Error: err.Error(), ElapsedMs: time.Since(start).Milliseconds()}
	}
	defer conn.Close()

	if !conn.IsValid(ctx) {
		return TestResult{
			Success:   false,
			Error:     "connection opened but failed validation probe",
			ElapsedMs: time.Since(start).Milliseconds(),
		}
	}

	return TestResult{Success: true, ElapsedMs: time.Since(start).Milliseconds()}
}

func (f *registryFactory) DependencyInfo(dsType string) (DependencyInfo, error) {
	desc, ok := Lookup(dsType)
	if !ok {
		return DependencyInfo{}, fmt.Errorf("unknown datasource type %q: %w", dsType, apperrors.ErrNotFound)
	}
	return DependencyInfo{Type: desc.Type, Coordinate: desc.Coordinate, Available: desc.Available()}, nil
}

func (f *registryFactory) Types() []TypeDescriptor {
	return RegisteredTypes()
}

func invalid(msg, recommendation string) ValidationResult {
	return ValidationResult{Valid: false, Error: msg, Recommendation: recommendation}
}

var _ Factory = (*registryFactory)(nil)
