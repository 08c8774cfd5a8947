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

// APIServiceRepository defines draft API service data access.
type APIServiceRepository interface {
	Create(ctx context.Context, svc *models.APIService) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.APIService, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*models.APIService, error)
	ListByDatasource(ctx context.Context, tenantID, datasourceID uuid.UUID) ([]*models.APIService, error)
	Update(ctx context.Context, svc *models.APIService) error
	SetStatus(ctx context.Context, tenantID, id uuid.UUID, status models.ServiceStatus, updatedBy uuid.UUID) error

	// Delete removes the draft and its table selections. Versions survive;
	// they are the published history.
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
}

type apiServiceRepository struct{}

// NewAPIServiceRepository creates an API service repository.
func NewAPIServiceRepository() APIServiceRepository {
	return &apiServiceRepository{}
}

const apiServiceColumns = `
	id, tenant_id, name, path, method, datasource_id, query_template,
	parameters, response_demo, cache_seconds, rate_limit, status,
	created_at, updated_at, created_by, updated_by`

func scanAPIService(row pgx.Row) (*models.APIService, error) {
	var svc models.APIService
	var parameters []byte
	err := row.Scan(
		&svc.ID, &svc.TenantID, &svc.Name, &svc.Path, &svc.Method,
		&svc.DatasourceID, &svc.QueryTemplate, &parameters, &svc.ResponseDemo,
		&svc.CacheSeconds, &svc.RateLimit, &svc.Status,
		&svc.CreatedAt, &svc.UpdatedAt, &svc.CreatedBy, &svc.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan api service: %w", err)
	}
	if len(parameters) > 0 {
		if err := json.Unmarshal(parameters, &svc.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
	}
	return &svc, nil
}

func marshalParameters(params []models.ParameterDef) ([]byte, error) {
	if params == nil {
		params = []models.ParameterDef{}
	}
	return json.Marshal(params)
}

func (r *apiServiceRepository) Create(ctx context.Context, svc *models.APIService) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	parameters, err := marshalParameters(svc.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}

	now := time.Now()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	if svc.Status == "" {
		svc.Status = models.StatusDraft
	}

	const query = `
		INSERT INTO engine_api_services (
			tenant_id, name, path, method, datasource_id, query_template,
			parameters, response_demo, cache_seconds, rate_limit, status,
			created_at, updated_at, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	err = scope.QueryRow(ctx, query,
		svc.TenantID, svc.Name, svc.Path, svc.Method, svc.DatasourceID,
		svc.QueryTemplate, parameters, svc.ResponseDemo, svc.CacheSeconds,
		svc.RateLimit, svc.Status, svc.CreatedAt, svc.UpdatedAt,
		svc.CreatedBy, svc.UpdatedBy,
	).Scan(&svc.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("create api service: %w", err)
	}
	return nil
}

func (r *apiServiceRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.APIService, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + apiServiceColumns + `
		FROM engine_api_services
		WHERE tenant_id = $1 AND id = $2`

	return scanAPIService(scope.QueryRow(ctx, query, tenantID, id))
}

func (r *apiServiceRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*models.APIService, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + apiServiceColumns + `
		FROM engine_api_services
		WHERE tenant_id = $1
		ORDER BY created_at DESC`

	rows, err := scope.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api services: %w", err)
	}
	defer rows.Close()

	return collectAPIServices(rows)
}

func (r *apiServiceRepository) ListByDatasource(ctx context.Context, tenantID, datasourceID uuid.UUID) ([]*models.APIService, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + apiServiceColumns + `
		FROM engine_api_services
		WHERE tenant_id = $1 AND datasource_id = $2
		ORDER BY created_at DESC`

	rows, err := scope.Query(ctx, query, tenantID, datasourceID)
	if err != nil {
		return nil, fmt.Errorf("list api services by datasource: %w", err)
	}
	defer rows.Close()

	return collectAPIServices(rows)
}

func collectAPIServices(rows pgx.Rows) ([]*models.APIService, error) {
	var services []*models.APIService
	for rows.Next() {
		svc, err := scanAPIService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

func (r *apiServiceRepository) Update(ctx context.Context, svc *models.APIService) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	parameters, err := marshalParameters(svc.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}

	svc.UpdatedAt = time.Now()

	const query = `
		UPDATE engine_api_services
		SET name = $3, path = $4, method = $5, datasource_id = $6,
			query_template = $7, parameters = $8, response_demo = $9,
			cache_seconds = $10, rate_limit = $11,
			updated_at = $12, updated_by = $13
		WHERE tenant_id = $1 AND id = $2`

	result, err := scope.Exec(ctx, query,
		svc.TenantID, svc.ID, svc.Name, svc.Path, svc.Method, svc.DatasourceID,
		svc.QueryTemplate, parameters, svc.ResponseDemo, svc.CacheSeconds,
		svc.RateLimit, svc.UpdatedAt, svc.UpdatedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("update api service: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *apiServiceRepository) SetStatus(ctx context.Context, tenantID, id uuid.UUID, status models.ServiceStatus, updatedBy uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	const query = `
		UPDATE engine_api_services
		SET status = $3, updated_at = $4, updated_by = $5
		WHERE tenant_id = $1 AND id = $2`

	result, err := scope.Exec(ctx, query, tenantID, id, status, time.Now(), updatedBy)
	if err != nil {
		return fmt.Errorf("set api service status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *apiServiceRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if _, err := tx.Exec(ctx,
		`DELETE FROM engine_table_selections WHERE tenant_id = $1 AND service_id = $2`,
		tenantID, id,
	); err != nil {
		return fmt.Errorf("delete table selections: %w", err)
	}

	result, err := tx.Exec(ctx,
		`DELETE FROM engine_api_services WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("delete api service: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return tx.Commit(ctx)
}
