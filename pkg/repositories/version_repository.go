package repositories

import (
	"context"
	"encoding/json"
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

// VersionRepository defines immutable version snapshot data access. Rows are
// append-only apart from the active flag and unpublish timestamp.
type VersionRepository interface {
	// CreateActive inserts a snapshot and makes it the single active version
	// of its service in one transaction. Any previously active version is
	// deactivated and stamped unpublished atomically; no reader ever sees
	// zero or two active versions.
	CreateActive(ctx context.Context, version *models.APIServiceVersion) error

	GetByLabel(ctx context.Context, tenantID, serviceID uuid.UUID, label string) (*models.APIServiceVersion, error)
	GetActive(ctx context.Context, tenantID, serviceID uuid.UUID) (*models.APIServiceVersion, error)
	List(ctx context.Context, tenantID, serviceID uuid.UUID) ([]*models.APIServiceVersion, error)

	// Deactivate unpublishes the active version, leaving the service with
	// no active version.
	Deactivate(ctx context.Context, tenantID, serviceID uuid.UUID) error

	// Activate makes an existing version label the single active one.
	Activate(ctx context.Context, tenantID, serviceID uuid.UUID, label string) error

	// DeleteByLabel removes one version snapshot. Force-publish uses this to
	// supersede an existing label before inserting its replacement.
	DeleteByLabel(ctx context.Context, tenantID, serviceID uuid.UUID, label string) error
}

type versionRepository struct{}

// NewVersionRepository creates a version repository.
func NewVersionRepository() VersionRepository {
	return &versionRepository{}
}

const versionColumns = `
	id, tenant_id, service_id, label, name, path, method, datasource_id,
	query_template, parameters, cache_seconds, rate_limit, active,
	published_at, published_by, unpublished_at`

func scanVersion(row pgx.Row) (*models.APIServiceVersion, error) {
	var v models.APIServiceVersion
	var parameters []byte
	err := row.Scan(
		&v.ID, &v.TenantID, &v.ServiceID, &v.Label, &v.Name, &v.Path, &v.Method,
		&v.DatasourceID, &v.QueryTemplate, &parameters, &v.CacheSeconds,
		&v.RateLimit, &v.Active, &v.PublishedAt, &v.PublishedBy, &v.UnpublishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrVersionNotFound
		}
		return nil, fmt.Errorf("scan version: %w", err)
	}
	if len(parameters) > 0 {
		if err := json.Unmarshal(parameters, &v.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
	}
	return &v, nil
}

func (r *versionRepository) CreateActive(ctx context.Context, version *models.APIServiceVersion) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	parameters, err := marshalParameters(version.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}

	version.Active = true
	version.PublishedAt = time.Now()

	tx, err := scope.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	// Deactivate the current active version first so the partial unique
	// index never sees two active rows, even transiently.
	if _, err := tx.Exec(ctx, `
		UPDATE engine_api_service_versions
		SET active = false, unpublished_at = $3
		WHERE tenant_id = $1 AND service_id = $2 AND active`,
		version.TenantID, version.ServiceID, version.PublishedAt,
	); err != nil {
		return fmt.Errorf("deactivate previous version: %w", err)
	}

	const insert = `
		INSERT INTO engine_api_service_versions (
			tenant_id, service_id, label, name, path, method, datasource_id,
			query_template, parameters, cache_seconds, rate_limit, active,
			published_at, published_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, true, $12, $13)
		RETURNING id`

	err = tx.QueryRow(ctx, insert,
		version.TenantID, version.ServiceID, version.Label, version.Name,
		version.Path, version.Method, version.DatasourceID, version.QueryTemplate,
		parameters, version.CacheSeconds, version.RateLimit,
		version.PublishedAt, version.PublishedBy,
	).Scan(&version.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrDuplicateVersionLabel
		}
		return fmt.Errorf("insert version: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *versionRepository) GetByLabel(ctx context.Context, tenantID, serviceID uuid.UUID, label string) (*models.APIServiceVersion, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + versionColumns + `
		FROM engine_api_service_versions
		WHERE tenant_id = $1 AND service_id = $2 AND label = $3`

	return scanVersion(scope.QueryRow(ctx, query, tenantID, serviceID, label))
}

func (r *versionRepository) GetActive(ctx context.Context, tenantID, serviceID uuid.UUID) (*models.APIServiceVersion, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + versionColumns + `
		FROM engine_api_service_versions
		WHERE tenant_id = $1 AND service_id = $2 AND active`

	v, err := scanVersion(scope.QueryRow(ctx, query, tenantID, serviceID))
	if errors.Is(err, apperrors.ErrVersionNotFound) {
		return nil, apperrors.ErrNoActiveVersion
	}
	return v, err
}

func (r *versionRepository) List(ctx context.Context, tenantID, serviceID uuid.UUID) ([]*models.APIServiceVersion, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + versionColumns + `
		FROM engine_api_service_versions
		WHERE tenant_id = $1 AND service_id = $2
		ORDER BY published_at DESC`

	rows, err := scope.Query(ctx, query, tenantID, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.APIServiceVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (r *versionRepository) Deactivate(ctx context.Context, tenantID, serviceID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	result, err := scope.Exec(ctx, `
		UPDATE engine_api_service_versions
		SET active = false, unpublished_at = $3
		WHERE tenant_id = $1 AND service_id = $2 AND active`,
		tenantID, serviceID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("deactivate version: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNoActiveVersion
	}
	return nil
}

func (r *versionRepository) Activate(ctx context.Context, tenantID, serviceID uuid.UUID, label string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	now := time.Now()
	if _, err := tx.Exec(ctx, `
		UPDATE engine_api_service_versions
		SET active = false, unpublished_at = $3
		WHERE tenant_id = $1 AND service_id = $2 AND active`,
		tenantID, serviceID, now,
	); err != nil {
		return fmt.Errorf("deactivate previous version: %w", err)
	}

	result, err := tx.Exec(ctx, `
		UPDATE engine_api_service_versions
		SET active = true, unpublished_at = NULL
		WHERE tenant_id = $1 AND service_id = $2 AND label = $3`,
		tenantID, serviceID, label,
	)
	if err != nil {
		return fmt.Errorf("activate version: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrVersionNotFound
	}

	return tx.Commit(ctx)
}

func (r *versionRepository) DeleteByLabel(ctx context.Context, tenantID, serviceID uuid.UUID, label string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	result, err := scope.Exec(ctx, `
		DELETE FROM engine_api_service_versions
		WHERE tenant_id = $1 AND service_id = $2 AND label = $3`,
		tenantID, serviceID, label,
	)
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrVersionNotFound
	}
	return nil
}
