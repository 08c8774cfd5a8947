package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

type draftFixture struct {
	svc        APIServiceService
	repo       *fakeAPIServiceRepo
	selections *fakeSelectionRepo
	dsRepo     *fakeDatasourceRepo
	audit      *fakeAuditRepo
	ident      Identity
	dsID       uuid.UUID
}

func newDraftFixture(t *testing.T) *draftFixture {
	t.Helper()
	f := &draftFixture{
		repo:       newFakeAPIServiceRepo(),
		selections: newFakeSelectionRepo(),
		dsRepo:     newFakeDatasourceRepo(),
		audit:      newFakeAuditRepo(),
		ident:      testIdentity(),
	}

	ds := sampleDatasource()
	ds.TenantID = f.ident.TenantID
	ds.Enabled = true
	require.NoError(t, f.dsRepo.Create(context.Background(), ds, "ciphertext"))
	f.dsID = ds.ID

	trail := NewAuditTrailService(f.audit, zap.NewNop())
	f.svc = NewAPIServiceService(f.repo, f.selections, f.dsRepo, trail, zap.NewNop())
	return f
}

func (f *draftFixture) sampleDraft() *models.APIService {
	return &models.APIService{
		Name:          "recent-orders",
		Path:          "/orders/recent",
		Method:        "get",
		DatasourceID:  f.dsID,
		QueryTemplate: "SELECT * FROM orders WHERE id = ${id}",
	}
}

func TestDraftCreateNormalizesAndAudits(t *testing.T) {
	f := newDraftFixture(t)

	created, err := f.svc.Create(context.Background(), f.ident, f.sampleDraft())
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "GET", created.Method)
	assert.Equal(t, models.StatusDraft, created.Status)
	assert.Equal(t, f.ident.UserID, created.CreatedBy)

	ops := f.audit.operations(created.ID)
	require.Len(t, ops, 1)
	assert.Equal(t, "create:success", ops[0])
}

func TestDraftCreateValidation(t *testing.T) {
	f := newDraftFixture(t)

	tests := []struct {
		name   string
		mutate func(*models.APIService)
		want   string
	}{
		{"missing name", func(d *models.APIService) { d.Name = "" }, "name"},
		{"relative path", func(d *models.APIService) { d.Path = "orders" }, "path"},
		{"bad method", func(d *models.APIService) { d.Method = "FETCH" }, "method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := f.sampleDraft()
			tt.mutate(draft)
			_, err := f.svc.Create(context.Background(), f.ident, draft)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDraftCreateRequiresExistingDatasource(t *testing.T) {
	f := newDraftFixture(t)

	draft := f.sampleDraft()
	draft.DatasourceID = uuid.New()
	_, err := f.svc.Create(context.Background(), f.ident, draft)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDraftUpdateRecordsBeforeAndAfter(t *testing.T) {
	f := newDraftFixture(t)

	created, err := f.svc.Create(context.Background(), f.ident, f.sampleDraft())
	require.NoError(t, err)

	created.QueryTemplate = "SELECT id FROM orders"
	require.NoError(t, f.svc.Update(context.Background(), f.ident, created))

	fetched, err := f.svc.Get(context.Background(), f.ident, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM orders", fetched.QueryTemplate)

	ops := f.audit.operations(created.ID)
	assert.Contains(t, ops, "update:success")
}

func TestDraftDeleteRemovesDraftButKeepsAudit(t *testing.T) {
	f := newDraftFixture(t)

	created, err := f.svc.Create(context.Background(), f.ident, f.sampleDraft())
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), f.ident, created.ID))

	_, err = f.svc.Get(context.Background(), f.ident, created.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Contains(t, f.audit.operations(created.ID), "delete:success")
}

func TestSetTableSelectionsRequiresDraft(t *testing.T) {
	f := newDraftFixture(t)

	err := f.svc.SetTableSelections(context.Background(), f.ident, uuid.New(), nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeriveTemplateSingleTable(t *testing.T) {
	f := newDraftFixture(t)
	created, err := f.svc.Create(context.Background(), f.ident, f.sampleDraft())
	require.NoError(t, err)

	selections := []*models.TableSelection{
		{TableName: "orders", Columns: []string{"id", "total"}, IsPrimary: true},
	}
	require.NoError(t, f.svc.SetTableSelections(context.Background(), f.ident, created.ID, selections))

	text, err := f.svc.DeriveTemplate(context.Background(), f.ident, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, total\nFROM orders", text)
}

func TestDeriveTemplateWithJoins(t *testing.T) {
	f := newDraftFixture(t)
	created, err := f.svc.Create(context.Background(), f.ident, f.sampleDraft())
	require.NoError(t, err)

	selections := []*models.TableSelection{
		{TableName: "orders", Columns: []string{"id", "total"}, IsPrimary: true},
		{TableName: "customers", Columns: []string{"name"}, JoinType: models.JoinLeft, JoinCondition: "orders.customer_id = customers.id"},
		{TableName: "payments"}, // all columns, default join type
	}
	selections[2].JoinCondition = "orders.id = payments.order_id"
	require.NoError(t, f.svc.SetTableSelections(context.Background(), f.ident, created.ID, selections))

	text, err := f.svc.DeriveTemplate(context.Background(), f.ident, created.ID)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT orders.id, orders.total, customers.name, payments.*\n"+
			"FROM orders\n"+
			"LEFT JOIN customers ON orders.customer_id = customers.id\n"+
			"INNER JOIN payments ON orders.id = payments.order_id",
		text)
}

func TestDeriveTemplateErrors(t *testing.T) {
	f := newDraftFixture(t)
	created, err := f.svc.Create(context.Background(), f.ident, f.sampleDraft())
	require.NoError(t, err)

	// No selections at all.
	_, err = f.svc.DeriveTemplate(context.Background(), f.ident, created.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no table selections")

	// Joined table without a condition.
	selections := []*models.TableSelection{
		{TableName: "orders", IsPrimary: true},
		{TableName: "customers", JoinType: models.JoinInner},
	}
	require.NoError(t, f.svc.SetTableSelections(context.Background(), f.ident, created.ID, selections))
	_, err = f.svc.DeriveTemplate(context.Background(), f.ident, created.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join condition")
}
