package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

// TableSelectionRepository defines table selection data access. Selections
// are replaced wholesale whenever the draft's table set changes.
type TableSelectionRepository interface {
	// Replace swaps all selections for a service in one transaction,
	// keeping the input order as position.
	Replace(ctx context.Context, tenantID, serviceID uuid.UUID, selections []*models.TableSelection) error

	// ListByService returns selections ordered by position.
	ListByService(ctx context.Context, tenantID, serviceID uuid.UUID) ([]*models.TableSelection, error)

	// GetPrimary returns the single primary selection for a service.
	GetPrimary(ctx context.Context, tenantID, serviceID uuid.UUID) (*models.TableSelection, error)
}

type tableSelectionRepository struct{}

// NewTableSelectionRepository creates a table selection repository.
func NewTableSelectionRepository() TableSelectionRepository {
	return &tableSelectionRepository{}
}

func (r *tableSelectionRepository) Replace(ctx context.Context, tenantID, serviceID uuid.UUID, selections []*models.TableSelection) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	primaries := 0
	for _, sel := range selections {
		if sel.IsPrimary {
			primaries++
		}
	}
	if len(selections) > 0 && primaries != 1 {
		return fmt.Errorf("exactly one table selection must be primary, got %d", primaries)
	}

	tx, err := scope.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if _, err := tx.Exec(ctx,
		`DELETE FROM engine_table_selections WHERE tenant_id = $1 AND service_id = $2`,
		tenantID, serviceID,
	); err != nil {
		return fmt.Errorf("clear table selections: %w", err)
	}

	const insert = `
		INSERT INTO engine_table_selections (
			tenant_id, service_id, table_name, columns, is_primary,
			join_type, join_condition, position
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	for i, sel := range selections {
		sel.TenantID = tenantID
		sel.ServiceID = serviceID
		sel.Position = i

		columns := sel.Columns
		if columns == nil {
			columns = []string{}
		}

		if err := tx.QueryRow(ctx, insert,
			tenantID, serviceID, sel.TableName, columns, sel.IsPrimary,
			nullableString(string(sel.JoinType)), nullableString(sel.JoinCondition), i,
		).Scan(&sel.ID); err != nil {
			return fmt.Errorf("insert table selection %q: %w", sel.TableName, err)
		}
	}

	return tx.Commit(ctx)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const tableSelectionColumns = `
	id, tenant_id, service_id, table_name, columns, is_primary,
	join_type, join_condition, position`

func scanTableSelection(row pgx.Row) (*models.TableSelection, error) {
	var sel models.TableSelection
	var joinType, joinCondition *string
	err := row.Scan(
		&sel.ID, &sel.TenantID, &sel.ServiceID, &sel.TableName, &sel.Columns,
		&sel.IsPrimary, &joinType, &joinCondition, &sel.Position,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan table selection: %w", err)
	}
	if joinType != nil {
		sel.JoinType = models.JoinType(*joinType)
	}
	if joinCondition != nil {
		sel.JoinCondition = *joinCondition
	}
	return &sel, nil
}

func (r *tableSelectionRepository) ListByService(ctx context.Context, tenantID, serviceID uuid.UUID) ([]*models.TableSelection, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + tableSelectionColumns + `
		FROM engine_table_selections
		WHERE tenant_id = $1 AND service_id = $2
		ORDER BY position`

	rows, err := scope.Query(ctx, query, tenantID, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list table selections: %w", err)
	}
	defer rows.Close()

	var selections []*models.TableSelection
	for rows.Next() {
		sel, err := scanTableSelection(rows)
		if err != nil {
			return nil, err
		}
		selections = append(selections, sel)
	}
	return selections, rows.Err()
}

func (r *tableSelectionRepository) GetPrimary(ctx context.Context, tenantID, serviceID uuid.UUID) (*models.TableSelection, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + tableSelectionColumns + `
		FROM engine_table_selections
		WHERE tenant_id = $1 AND service_id = $2 AND is_primary`

	return scanTableSelection(scope.QueryRow(ctx, query, tenantID, serviceID))
}
