package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

// AuditRepository defines audit trail data access. The trail is append-only:
// no update path exists, and the only delete is the retention purge.
type AuditRepository interface {
	Append(ctx context.Context, record *models.AuditRecord) error
	ListByService(ctx context.Context, tenantID, serviceID uuid.UUID, limit int) ([]*models.AuditRecord, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.AuditRecord, error)

	// PurgeOlderThan removes records past the retention age and reports how
	// many were deleted.
	PurgeOlderThan(ctx context.Context, tenantID uuid.UUID, age time.Duration) (int64, error)

	// PurgeExpired removes records past the retention age for every tenant.
	// The retention sweeper calls it outside any request, so it runs on the
	// store pool directly instead of a tenant scope; the store role owns the
	// table, so row security does not filter the delete.
	PurgeExpired(ctx context.Context, db *database.DB, age time.Duration) (int64, error)
}

type auditRepository struct{}

// NewAuditRepository creates an audit repository.
func NewAuditRepository() AuditRepository {
	return &auditRepository{}
}

const defaultAuditLimit = 100

func (r *auditRepository) Append(ctx context.Context, record *models.AuditRecord) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	record.CreatedAt = time.Now()

	const query = `
		INSERT INTO engine_audit_records (
			tenant_id, service_id, operation, outcome, before_state,
			after_state, error_text, actor, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err := scope.QueryRow(ctx, query,
		record.TenantID, record.ServiceID, record.Operation, record.Outcome,
		record.Before, record.After, record.ErrorText, record.Actor,
		record.DurationMs, record.CreatedAt,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

const auditColumns = `
	id, tenant_id, service_id, operation, outcome, before_state,
	after_state, error_text, actor, duration_ms, created_at`

func (r *auditRepository) ListByService(ctx context.Context, tenantID, serviceID uuid.UUID, limit int) ([]*models.AuditRecord, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	query := `SELECT ` + auditColumns + `
		FROM engine_audit_records
		WHERE tenant_id = $1 AND service_id = $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := scope.Query(ctx, query, tenantID, serviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	return collectAuditRecords(rows)
}

func (r *auditRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.AuditRecord, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	query := `SELECT ` + auditColumns + `
		FROM engine_audit_records
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := scope.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	return collectAuditRecords(rows)
}

func collectAuditRecords(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]*models.AuditRecord, error) {
	var records []*models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var errorText *string
		if err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.ServiceID, &rec.Operation, &rec.Outcome,
			&rec.Before, &rec.After, &errorText, &rec.Actor, &rec.DurationMs,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if errorText != nil {
			rec.ErrorText = *errorText
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (r *auditRepository) PurgeOlderThan(ctx context.Context, tenantID uuid.UUID, age time.Duration) (int64, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	cutoff := time.Now().Add(-age)
	result, err := scope.Exec(ctx,
		`DELETE FROM engine_audit_records WHERE tenant_id = $1 AND created_at < $2`,
		tenantID, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge audit records: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *auditRepository) PurgeExpired(ctx context.Context, db *database.DB, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	result, err := db.Pool.Exec(ctx,
		`DELETE FROM engine_audit_records WHERE created_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge expired audit records: %w", err)
	}
	return result.RowsAffected(), nil
}
