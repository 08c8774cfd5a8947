package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

// In-memory repository fakes. Each guards its maps with a mutex so the batch
// execution tests can hammer them concurrently.

type fakeDatasourceRepo struct {
	mu         sync.Mutex
	rows       map[uuid.UUID]*models.Datasource
	encrypted  map[uuid.UUID]string
	createErr  error
	getErr     error
	updateErr  error
	disableErr error
}

func newFakeDatasourceRepo() *fakeDatasourceRepo {
	return &fakeDatasourceRepo{
		rows:      make(map[uuid.UUID]*models.Datasource),
		encrypted: make(map[uuid.UUID]string),
	}
}

func (r *fakeDatasourceRepo) Create(ctx context.Context, ds *models.Datasource, encryptedPassword string) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ds.ID = uuid.New()
	ds.CreatedAt = time.Now()
	copied := *ds
	r.rows[ds.ID] = &copied
	r.encrypted[ds.ID] = encryptedPassword
	return nil
}

func (r *fakeDatasourceRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Datasource, string, error) {
	if r.getErr != nil {
		return nil, "", r.getErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.rows[id]
	if !ok || ds.TenantID != tenantID || !ds.Enabled {
		return nil, "", apperrors.ErrNotFound
	}
	copied := *ds
	return &copied, r.encrypted[id], nil
}

func (r *fakeDatasourceRepo) GetByName(ctx context.Context, tenantID uuid.UUID, name string) (*models.Datasource, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ds := range r.rows {
		if ds.TenantID == tenantID && ds.Name == name && ds.Enabled {
			copied := *ds
			return &copied, r.encrypted[id], nil
		}
	}
	return nil, "", apperrors.ErrNotFound
}

func (r *fakeDatasourceRepo) List(ctx context.Context, tenantID uuid.UUID) ([]*models.Datasource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Datasource
	for _, ds := range r.rows {
		if ds.TenantID == tenantID && ds.Enabled {
			copied := *ds
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *fakeDatasourceRepo) Update(ctx context.Context, ds *models.Datasource, encryptedPassword string) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[ds.ID]; !ok {
		return apperrors.ErrNotFound
	}
	copied := *ds
	r.rows[ds.ID] = &copied
	r.encrypted[ds.ID] = encryptedPassword
	return nil
}

func (r *fakeDatasourceRepo) Disable(ctx context.Context, tenantID, id uuid.UUID, updatedBy uuid.UUID) error {
	if r.disableErr != nil {
		return r.disableErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.rows[id]
	if !ok || ds.TenantID != tenantID {
		return apperrors.ErrNotFound
	}
	ds.Enabled = false
	ds.UpdatedBy = updatedBy
	return nil
}

type fakeAPIServiceRepo struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*models.APIService
	statusLog []models.ServiceStatus
}

func newFakeAPIServiceRepo() *fakeAPIServiceRepo {
	return &fakeAPIServiceRepo{rows: make(map[uuid.UUID]*models.APIService)}
}

func (r *fakeAPIServiceRepo) Create(ctx context.Context, svc *models.APIService) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc.ID = uuid.New()
	copied := *svc
	r.rows[svc.ID] = &copied
	return nil
}

func (r *fakeAPIServiceRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.APIService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.rows[id]
	if !ok || svc.TenantID != tenantID {
		return nil, apperrors.ErrNotFound
	}
	copied := *svc
	return &copied, nil
}

func (r *fakeAPIServiceRepo) List(ctx context.Context, tenantID uuid.UUID) ([]*models.APIService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.APIService
	for _, svc := range r.rows {
		if svc.TenantID == tenantID {
			copied := *svc
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeAPIServiceRepo) ListByDatasource(ctx context.Context, tenantID, datasourceID uuid.UUID) ([]*models.APIService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.APIService
	for _, svc := range r.rows {
		if svc.TenantID == tenantID && svc.DatasourceID == datasourceID {
			copied := *svc
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeAPIServiceRepo) Update(ctx context.Context, svc *models.APIService) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[svc.ID]; !ok {
		return apperrors.ErrNotFound
	}
	copied := *svc
	r.rows[svc.ID] = &copied
	return nil
}

func (r *fakeAPIServiceRepo) SetStatus(ctx context.Context, tenantID, id uuid.UUID, status models.ServiceStatus, updatedBy uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.rows[id]
	if !ok || svc.TenantID != tenantID {
		return apperrors.ErrNotFound
	}
	svc.Status = status
	svc.UpdatedBy = updatedBy
	r.statusLog = append(r.statusLog, status)
	return nil
}

func (r *fakeAPIServiceRepo) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.rows[id]
	if !ok || svc.TenantID != tenantID {
		return apperrors.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

type fakeVersionRepo struct {
	mu   sync.Mutex
	rows []*models.APIServiceVersion
}

func newFakeVersionRepo() *fakeVersionRepo {
	return &fakeVersionRepo{}
}

func (r *fakeVersionRepo) CreateActive(ctx context.Context, version *models.APIServiceVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, v := range r.rows {
		if v.ServiceID == version.ServiceID && v.Label == version.Label {
			return apperrors.ErrDuplicateVersionLabel
		}
	}
	for _, v := range r.rows {
		if v.ServiceID == version.ServiceID && v.Active {
			v.Active = false
			unpublished := now
			v.UnpublishedAt = &unpublished
		}
	}
	version.ID = uuid.New()
	version.Active = true
	version.PublishedAt = now
	copied := *version
	r.rows = append(r.rows, &copied)
	return nil
}

func (r *fakeVersionRepo) GetByLabel(ctx context.Context, tenantID, serviceID uuid.UUID, label string) (*models.APIServiceVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.rows {
		if v.TenantID == tenantID && v.ServiceID == serviceID && v.Label == label {
			copied := *v
			return &copied, nil
		}
	}
	return nil, apperrors.ErrVersionNotFound
}

func (r *fakeVersionRepo) GetActive(ctx context.Context, tenantID, serviceID uuid.UUID) (*models.APIServiceVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.rows {
		if v.TenantID == tenantID && v.ServiceID == serviceID && v.Active {
			copied := *v
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNoActiveVersion
}

func (r *fakeVersionRepo) List(ctx context.Context, tenantID, serviceID uuid.UUID) ([]*models.APIServiceVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.APIServiceVersion
	for _, v := range r.rows {
		if v.TenantID == tenantID && v.ServiceID == serviceID {
			copied := *v
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeVersionRepo) Deactivate(ctx context.Context, tenantID, serviceID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.rows {
		if v.TenantID == tenantID && v.ServiceID == serviceID && v.Active {
			v.Active = false
			now := time.Now()
			v.UnpublishedAt = &now
			return nil
		}
	}
	return apperrors.ErrNoActiveVersion
}

func (r *fakeVersionRepo) Activate(ctx context.Context, tenantID, serviceID uuid.UUID, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var target *models.APIServiceVersion
	for _, v := range r.rows {
		if v.TenantID == tenantID && v.ServiceID == serviceID && v.Label == label {
			target = v
			break
		}
	}
	if target == nil {
		return apperrors.ErrVersionNotFound
	}
	for _, v := range r.rows {
		if v.ServiceID == serviceID && v.Active {
			v.Active = false
			now := time.Now()
			v.UnpublishedAt = &now
		}
	}
	target.Active = true
	target.UnpublishedAt = nil
	return nil
}

func (r *fakeVersionRepo) DeleteByLabel(ctx context.Context, tenantID, serviceID uuid.UUID, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.rows {
		if v.TenantID == tenantID && v.ServiceID == serviceID && v.Label == label {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrVersionNotFound
}

type fakeSelectionRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID][]*models.TableSelection
}

func newFakeSelectionRepo() *fakeSelectionRepo {
	return &fakeSelectionRepo{rows: make(map[uuid.UUID][]*models.TableSelection)}
}

func (r *fakeSelectionRepo) Replace(ctx context.Context, tenantID, serviceID uuid.UUID, selections []*models.TableSelection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make([]*models.TableSelection, len(selections))
	for i, sel := range selections {
		c := *sel
		c.TenantID = tenantID
		c.ServiceID = serviceID
		c.Position = i
		copied[i] = &c
	}
	r.rows[serviceID] = copied
	return nil
}

func (r *fakeSelectionRepo) ListByService(ctx context.Context, tenantID, serviceID uuid.UUID) ([]*models.TableSelection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[serviceID], nil
}

func (r *fakeSelectionRepo) GetPrimary(ctx context.Context, tenantID, serviceID uuid.UUID) (*models.TableSelection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sel := range r.rows[serviceID] {
		if sel.IsPrimary {
			return sel, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	records []*models.AuditRecord
}

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{}
}

func (r *fakeAuditRepo) Append(ctx context.Context, record *models.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record.ID = uuid.New()
	record.CreatedAt = time.Now()
	copied := *record
	r.records = append(r.records, &copied)
	return nil
}

func (r *fakeAuditRepo) ListByService(ctx context.Context, tenantID, serviceID uuid.UUID, limit int) ([]*models.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditRecord
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if rec.TenantID == tenantID && rec.ServiceID == serviceID {
			out = append(out, rec)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditRecord
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].TenantID == tenantID {
			out = append(out, r.records[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) PurgeOlderThan(ctx context.Context, tenantID uuid.UUID, age time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-age)
	var kept []*models.AuditRecord
	var purged int64
	for _, rec := range r.records {
		if rec.TenantID == tenantID && rec.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return purged, nil
}

func (r *fakeAuditRepo) PurgeExpired(ctx context.Context, db *database.DB, age time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-age)
	var kept []*models.AuditRecord
	var purged int64
	for _, rec := range r.records {
		if rec.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return purged, nil
}

func (r *fakeAuditRepo) operations(serviceID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ops []string
	for _, rec := range r.records {
		if rec.ServiceID == serviceID {
			ops = append(ops, rec.Operation+":"+rec.Outcome)
		}
	}
	return ops
}

// fakeExecConn is a Connection whose query behavior is scripted per test.
type fakeExecConn struct {
	mu       sync.Mutex
	result   *datasource.QueryResult
	validate *datasource.ValidationOutcome
	closed   bool
	queries  []string
}

func (c *fakeExecConn) IsValid(ctx context.Context) bool { return true }

func (c *fakeExecConn) ExecuteQuery(ctx context.Context, text string) *datasource.QueryResult {
	c.mu.Lock()
	c.queries = append(c.queries, text)
	c.mu.Unlock()
	if c.result != nil {
		return c.result
	}
	return &datasource.QueryResult{
		Columns:  []string{"id"},
		Rows:     []map[string]any{{"id": 1}},
		RowCount: 1,
		OK:       true,
	}
}

func (c *fakeExecConn) ExecuteUpdate(ctx context.Context, text string) *datasource.UpdateResult {
	return &datasource.UpdateResult{OK: true, Affected: 1}
}

func (c *fakeExecConn) Info() datasource.ConnectionInfo { return datasource.ConnectionInfo{} }

func (c *fakeExecConn) ListTables(ctx context.Context) ([]string, error) { return nil, nil }

func (c *fakeExecConn) TableSchema(ctx context.Context, table string) (*datasource.TableSchema, error) {
	return nil, nil
}

func (c *fakeExecConn) Capabilities() datasource.CapabilitySet {
	if c.validate != nil {
		return datasource.NewCapabilitySet(datasource.CapabilityQueryValidation)
	}
	return datasource.NewCapabilitySet()
}

func (c *fakeExecConn) ValidateQuery(ctx context.Context, text string) *datasource.ValidationOutcome {
	return c.validate
}

func (c *fakeExecConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeFactory hands out fakeExecConns and records how it was called.
type fakeFactory struct {
	mu        sync.Mutex
	conn      *fakeExecConn
	createErr error
	testRes   datasource.TestResult
	created   int
}

func (f *fakeFactory) CreateConnection(ctx context.Context, ds *models.Datasource, opts datasource.ConnectOptions) (datasource.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	if f.conn != nil {
		return f.conn, nil
	}
	return &fakeExecConn{}, nil
}

func (f *fakeFactory) ValidateConfiguration(ds *models.Datasource) datasource.ValidationResult {
	if ds.Host == "" {
		return datasource.ValidationResult{Valid: false, Error: "host is required"}
	}
	return datasource.ValidationResult{Valid: true}
}

func (f *fakeFactory) BuildConnectionURL(ds *models.Datasource) (string, error) {
	return "fake://" + ds.Host, nil
}

func (f *fakeFactory) TestConnection(ctx context.Context, ds *models.Datasource) datasource.TestResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.testRes
}

func (f *fakeFactory) DependencyInfo(dsType string) (datasource.DependencyInfo, error) {
	return datasource.DependencyInfo{Type: dsType, Available: true}, nil
}

func (f *fakeFactory) Types() []datasource.TypeDescriptor { return nil }
