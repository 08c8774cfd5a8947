//go:build integration

package repositories

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum-engine/pkg/models"
)

func TestAuditRepository_AppendAndList(t *testing.T) {
	tenantID, actor, serviceID := uuid.New(), uuid.New(), uuid.New()
	ctx := scopedContext(t, tenantID)
	repo := NewAuditRepository()

	after, _ := json.Marshal(map[string]string{"name": "orders lookup"})
	rec := &models.AuditRecord{
		TenantID:   tenantID,
		ServiceID:  serviceID,
		Operation:  models.AuditOpCreate,
		Outcome:    models.AuditOutcomeSuccess,
		After:      after,
		Actor:      actor,
		DurationMs: 12,
	}
	require.NoError(t, repo.Append(ctx, rec))
	require.NotEqual(t, uuid.Nil, rec.ID)

	require.NoError(t, repo.Append(ctx, &models.AuditRecord{
		TenantID:  tenantID,
		ServiceID: serviceID,
		Operation: models.AuditOpPublish,
		Outcome:   models.AuditOutcomeFailure,
		ErrorText: "label already exists",
		Actor:     actor,
	}))

	records, err := repo.ListByService(ctx, tenantID, serviceID, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest first.
	assert.Equal(t, models.AuditOpPublish, records[0].Operation)
	assert.Equal(t, "label already exists", records[0].ErrorText)

	byTenant, err := repo.ListByTenant(ctx, tenantID, 0)
	require.NoError(t, err)
	assert.Len(t, byTenant, 2)
}

// Batch tests append audit records from several goroutines over one tenant
// scope; the scope serializes them onto its single wire connection.
func TestAuditRepository_ConcurrentAppend(t *testing.T) {
	tenantID, actor, serviceID := uuid.New(), uuid.New(), uuid.New()
	ctx := scopedContext(t, tenantID)
	repo := NewAuditRepository()

	const writers = 8
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			errs <- repo.Append(ctx, &models.AuditRecord{
				TenantID:  tenantID,
				ServiceID: serviceID,
				Operation: models.AuditOpTest,
				Outcome:   models.AuditOutcomeSuccess,
				Actor:     actor,
			})
		}()
	}
	for i := 0; i < writers; i++ {
		require.NoError(t, <-errs)
	}

	records, err := repo.ListByService(ctx, tenantID, serviceID, writers+1)
	require.NoError(t, err)
	assert.Len(t, records, writers)
}

func TestAuditRepository_Purge(t *testing.T) {
	tenantID, actor := uuid.New(), uuid.New()
	ctx := scopedContext(t, tenantID)
	repo := NewAuditRepository()

	require.NoError(t, repo.Append(ctx, &models.AuditRecord{
		TenantID:  tenantID,
		ServiceID: uuid.New(),
		Operation: models.AuditOpTest,
		Outcome:   models.AuditOutcomeSuccess,
		Actor:     actor,
	}))

	// A zero-age cutoff is in the future relative to the insert, so
	// everything purges; a long retention purges nothing.
	purged, err := repo.PurgeOlderThan(ctx, tenantID, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, purged)

	purged, err = repo.PurgeOlderThan(ctx, tenantID, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}
