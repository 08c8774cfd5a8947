//go:build integration

package repositories

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum-engine/pkg/models"
)

func TestTableSelectionRepository_ReplaceAndList(t *testing.T) {
	tenantID, actor := uuid.New(), uuid.New()
	ctx, serviceID := setupService(t, tenantID, actor, "/orders/selections")
	repo := NewTableSelectionRepository()

	selections := []*models.TableSelection{
		{TableName: "orders", Columns: []string{"id", "total"}, IsPrimary: true},
		{TableName: "customers", JoinType: models.JoinLeft, JoinCondition: "orders.customer_id = customers.id"},
	}
	require.NoError(t, repo.Replace(ctx, tenantID, serviceID, selections))

	got, err := repo.ListByService(ctx, tenantID, serviceID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "orders", got[0].TableName)
	assert.Equal(t, 0, got[0].Position)
	assert.Equal(t, models.JoinLeft, got[1].JoinType)

	primary, err := repo.GetPrimary(ctx, tenantID, serviceID)
	require.NoError(t, err)
	assert.Equal(t, "orders", primary.TableName)

	// Replace swaps the whole set.
	require.NoError(t, repo.Replace(ctx, tenantID, serviceID, []*models.TableSelection{
		{TableName: "invoices", IsPrimary: true},
	}))
	got, err = repo.ListByService(ctx, tenantID, serviceID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "invoices", got[0].TableName)
}

func TestTableSelectionRepository_RequiresOnePrimary(t *testing.T) {
	tenantID, actor := uuid.New(), uuid.New()
	ctx, serviceID := setupService(t, tenantID, actor, "/orders/primary-check")
	repo := NewTableSelectionRepository()

	err := repo.Replace(ctx, tenantID, serviceID, []*models.TableSelection{
		{TableName: "orders"},
		{TableName: "customers"},
	})
	require.Error(t, err)

	err = repo.Replace(ctx, tenantID, serviceID, []*models.TableSelection{
		{TableName: "orders", IsPrimary: true},
		{TableName: "customers", IsPrimary: true},
	})
	require.Error(t, err)
}
