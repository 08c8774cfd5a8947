//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/models"
	"github.com/stratumhq/stratum-engine/pkg/testhelpers"
)

// scopedContext opens a tenant scope for tests and registers its cleanup.
func scopedContext(t *testing.T, tenantID uuid.UUID) context.Context {
	t.Helper()

	engineDB := testhelpers.GetEngineDB(t)
	scope, err := engineDB.DB.WithTenant(context.Background(), tenantID)
	require.NoError(t, err)
	t.Cleanup(scope.Close)

	return database.SetTenantScope(context.Background(), scope)
}

func testDatasource(tenantID, actor uuid.UUID, name string) *models.Datasource {
	ds := &models.Datasource{
		Name:           name,
		DatasourceType: "postgres",
		Host:           "db.internal",
		Port:           5432,
		Database:       "orders",
		Username:       "reader",
		PoolMaxSize:    5,
	}
	ds.TenantID = tenantID
	ds.CreatedBy = actor
	ds.UpdatedBy = actor
	return ds
}

func testAPIService(tenantID, datasourceID, actor uuid.UUID, path string) *models.APIService {
	svc := &models.APIService{
		Name:          "orders lookup",
		Path:          path,
		Method:        "GET",
		DatasourceID:  datasourceID,
		QueryTemplate: "SELECT * FROM orders WHERE id = ${order_id}",
		Parameters: []models.ParameterDef{
			{Name: "order_id", Type: "integer", Required: true},
		},
		Status: models.StatusDraft,
	}
	svc.TenantID = tenantID
	svc.CreatedBy = actor
	svc.UpdatedBy = actor
	return svc
}
