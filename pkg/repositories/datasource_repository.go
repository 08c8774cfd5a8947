// Package repositories implements PostgreSQL data access. Every method runs
// on the tenant-scoped connection from context; row-level security policies
// enforce isolation on top of the explicit tenant_id predicates.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

// DatasourceRepository defines datasource data access. The password column
// holds ciphertext; encryption and decryption live in the service layer, so
// Create and Update take the encrypted password alongside the model and
// reads return it separately.
type DatasourceRepository interface {
	// Create inserts a new datasource and fills in the generated ID.
	Create(ctx context.Context, ds *models.Datasource, encryptedPassword string) error

	// GetByID returns an enabled datasource and its encrypted password.
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Datasource, string, error)

	// GetByName returns an enabled datasource by its unique name.
	GetByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.Datasource, string, error)

	// List returns all enabled datasources, newest first.
	List(ctx context.Context, tenantID uuid.UUID) ([]*models.Datasource, error)

	// Update modifies an existing datasource.
	Update(ctx context.Context, ds *models.Datasource, encryptedPassword string) error

	// Disable soft-deletes a datasource. The row stays so published services
	// referencing it keep their history.
	Disable(ctx context.Context, tenantID, id uuid.UUID, updatedBy uuid.UUID) error
}

type datasourceRepository struct{}

// NewDatasourceRepository creates a datasource repository.
func NewDatasourceRepository() DatasourceRepository {
	return &datasourceRepository{}
}

const datasourceColumns = `
	id, tenant_id, name, datasource_type, host, port, database_name, username,
	encrypted_password, use_tls, properties, pool_min_size, pool_max_size,
	idle_timeout_seconds, max_lifetime_seconds, enabled,
	created_at, updated_at, created_by, updated_by`

func scanDatasource(row pgx.Row) (*models.Datasource, string, error) {
	var ds models.Datasource
	var encryptedPassword string
	err := row.Scan(
		&ds.ID, &ds.TenantID, &ds.Name, &ds.DatasourceType, &ds.Host, &ds.Port,
		&ds.Database, &ds.Username, &encryptedPassword, &ds.UseTLS, &ds.Properties,
		&ds.PoolMinSize, &ds.PoolMaxSize, &ds.IdleTimeoutSeconds, &ds.MaxLifetimeSeconds,
		&ds.Enabled, &ds.CreatedAt, &ds.UpdatedAt, &ds.CreatedBy, &ds.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", apperrors.ErrNotFound
		}
		return nil, "", fmt.Errorf("scan datasource: %w", err)
	}
	return &ds, encryptedPassword, nil
}

func (r *datasourceRepository) Create(ctx context.Context, ds *models.Datasource, encryptedPassword string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now
	ds.Enabled = true

	if ds.Properties == nil {
		ds.Properties = map[string]any{}
	}

	const query = `
		INSERT INTO engine_datasources (
			tenant_id, name, datasource_type, host, port, database_name, username,
			encrypted_password, use_tls, properties, pool_min_size, pool_max_size,
			idle_timeout_seconds, max_lifetime_seconds, enabled,
			created_at, updated_at, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, true, $15, $16, $17, $18)
		RETURNING id`

	err := scope.QueryRow(ctx, query,
		ds.TenantID, ds.Name, ds.DatasourceType, ds.Host, ds.Port, ds.Database,
		ds.Username, encryptedPassword, ds.UseTLS, ds.Properties,
		ds.PoolMinSize, ds.PoolMaxSize, ds.IdleTimeoutSeconds, ds.MaxLifetimeSeconds,
		ds.CreatedAt, ds.UpdatedAt, ds.CreatedBy, ds.UpdatedBy,
	).Scan(&ds.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("create datasource: %w", err)
	}
	return nil
}

func (r *datasourceRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Datasource, string, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, "", fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + datasourceColumns + `
		FROM engine_datasources
		WHERE tenant_id = $1 AND id = $2 AND enabled`

	return scanDatasource(scope.QueryRow(ctx, query, tenantID, id))
}

func (r *datasourceRepository) GetByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.Datasource, string, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, "", fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + datasourceColumns + `
		FROM engine_datasources
		WHERE tenant_id = $1 AND name = $2 AND enabled`

	return scanDatasource(scope.QueryRow(ctx, query, tenantID, name))
}

func (r *datasourceRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*models.Datasource, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + datasourceColumns + `
		FROM engine_datasources
		WHERE tenant_id = $1 AND enabled
		ORDER BY created_at DESC`

	rows, err := scope.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list datasources: %w", err)
	}
	defer rows.Close()

	var datasources []*models.Datasource
	for rows.Next() {
		ds, _, err := scanDatasource(rows)
		if err != nil {
			return nil, err
		}
		datasources = append(datasources, ds)
	}
	return datasources, rows.Err()
}

func (r *datasourceRepository) Update(ctx context.Context, ds *models.Datasource, encryptedPassword string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	ds.UpdatedAt = time.Now()
	if ds.Properties == nil {
		ds.Properties = map[string]any{}
	}

	const query = `
		UPDATE engine_datasources
		SET name = $3, datasource_type = $4, host = $5, port = $6,
			database_name = $7, username = $8, encrypted_password = $9,
			use_tls = $10, properties = $11, pool_min_size = $12, pool_max_size = $13,
			idle_timeout_seconds = $14, max_lifetime_seconds = $15,
			updated_at = $16, updated_by = $17
		WHERE tenant_id = $1 AND id = $2 AND enabled`

	result, err := scope.Exec(ctx, query,
		ds.TenantID, ds.ID, ds.Name, ds.DatasourceType, ds.Host, ds.Port,
		ds.Database, ds.Username, encryptedPassword, ds.UseTLS, ds.Properties,
		ds.PoolMinSize, ds.PoolMaxSize, ds.IdleTimeoutSeconds, ds.MaxLifetimeSeconds,
		ds.UpdatedAt, ds.UpdatedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("update datasource: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *datasourceRepository) Disable(ctx context.Context, tenantID, id uuid.UUID, updatedBy uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	const query = `
		UPDATE engine_datasources
		SET enabled = false, updated_at = $3, updated_by = $4
		WHERE tenant_id = $1 AND id = $2 AND enabled`

	result, err := scope.Exec(ctx, query, tenantID, id, time.Now(), updatedBy)
	if err != nil {
		return fmt.Errorf("disable datasource: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
