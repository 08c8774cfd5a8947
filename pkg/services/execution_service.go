package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/audit"
	"github.com/stratumhq/stratum-engine/pkg/models"
	"github.com/stratumhq/stratum-engine/pkg/query"
	"github.com/stratumhq/stratum-engine/pkg/repositories"
)

// batchWorkers bounds the fan-out for batch test execution.
const batchWorkers = 4

// ExecutionResult is what every test or execute call returns. ElapsedMs is
// always set, success or failure, so latency stays observable.
type ExecutionResult struct {
	Success   bool             `json:"success"`
	Columns   []string         `json:"columns,omitempty"`
	Rows      []map[string]any `json:"rows,omitempty"`
	RowCount  int              `json:"row_count"`
	Error     string           `json:"error,omitempty"`
	ElapsedMs int64            `json:"elapsed_ms"`
	Rendered  string           `json:"rendered_query,omitempty"`
}

// ExecutionService resolves query text from a draft or a frozen version,
// renders parameters into it, and executes it against the service's
// datasource. Driver and backend failures come back as failed results, not
// errors; errors are reserved for resolution and permission problems.
type ExecutionService interface {
	// TestDraft executes the live draft's template. Only the draft's owner
	// may test it.
	TestDraft(ctx context.Context, ident Identity, serviceID uuid.UUID, params map[string]any) (*ExecutionResult, error)

	// TestPublished executes a frozen version: the named label if given,
	// else the currently active version.
	TestPublished(ctx context.Context, ident Identity, serviceID uuid.UUID, label string, params map[string]any) (*ExecutionResult, error)

	// BatchTestDraft runs the draft once per parameter set, fanned out over
	// a bounded worker pool. Results arrive in input order; a failed item
	// never aborts the rest.
	BatchTestDraft(ctx context.Context, ident Identity, serviceID uuid.UUID, paramSets []map[string]any) ([]*ExecutionResult, error)

	// BatchTestPublished is BatchTestDraft against a frozen version.
	BatchTestPublished(ctx context.Context, ident Identity, serviceID uuid.UUID, label string, paramSets []map[string]any) ([]*ExecutionResult, error)
}

type executionService struct {
	services    repositories.APIServiceRepository
	versions    repositories.VersionRepository
	datasources DatasourceService
	factory     datasource.Factory
	security    *audit.SecurityAuditor
	trail       AuditTrailService
	logger      *zap.Logger
}

// NewExecutionService creates the execution service.
func NewExecutionService(
	services repositories.APIServiceRepository,
	versions repositories.VersionRepository,
	datasources DatasourceService,
	factory datasource.Factory,
	security *audit.SecurityAuditor,
	trail AuditTrailService,
	logger *zap.Logger,
) ExecutionService {
	return &executionService{
		services:    services,
		versions:    versions,
		datasources: datasources,
		factory:     factory,
		security:    security,
		trail:       trail,
		logger:      logger,
	}
}

// executionTarget is resolved query text plus everything needed to run it.
type executionTarget struct {
	serviceID uuid.UUID
	template  string
	paramDefs []models.ParameterDef
	ds        *models.Datasource
	category  models.Category
}

func (s *executionService) TestDraft(ctx context.Context, ident Identity, serviceID uuid.UUID, params map[string]any) (*ExecutionResult, error) {
	target, err := s.resolveDraft(ctx, ident, serviceID)
	if err != nil {
		return nil, err
	}
	return s.runOne(ctx, ident, target, params), nil
}

func (s *executionService) TestPublished(ctx context.Context, ident Identity, serviceID uuid.UUID, label string, params map[string]any) (*ExecutionResult, error) {
	target, err := s.resolvePublished(ctx, ident, serviceID, label)
	if err != nil {
		return nil, err
	}
	return s.runOne(ctx, ident, target, params), nil
}

func (s *executionService) BatchTestDraft(ctx context.Context, ident Identity, serviceID uuid.UUID, paramSets []map[string]any) ([]*ExecutionResult, error) {
	target, err := s.resolveDraft(ctx, ident, serviceID)
	if err != nil {
		return nil, err
	}
	return s.runBatch(ctx, ident, target, paramSets), nil
}

func (s *executionService) BatchTestPublished(ctx context.Context, ident Identity, serviceID uuid.UUID, label string, paramSets []map[string]any) ([]*ExecutionResult, error) {
	target, err := s.resolvePublished(ctx, ident, serviceID, label)
	if err != nil {
		return nil, err
	}
	return s.runBatch(ctx, ident, target, paramSets), nil
}

func (s *executionService) resolveDraft(ctx context.Context, ident Identity, serviceID uuid.UUID) (*executionTarget, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	svc, err := s.services.GetByID(ctx, ident.TenantID, serviceID)
	if err != nil {
		return nil, err
	}
	// Drafts are work in progress; only their owner may run them.
	if svc.CreatedBy != ident.UserID {
		return nil, fmt.Errorf("draft %s is owned by another user: %w", serviceID, apperrors.ErrPermissionDenied)
	}
	return s.buildTarget(ctx, ident, serviceID, svc.DatasourceID, svc.QueryTemplate, svc.Parameters)
}

func (s *executionService) resolvePublished(ctx context.Context, ident Identity, serviceID uuid.UUID, label string) (*executionTarget, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	var version *models.APIServiceVersion
	var err error
	if label == "" {
		version, err = s.versions.GetActive(ctx, ident.TenantID, serviceID)
	} else {
		version, err = s.versions.GetByLabel(ctx, ident.TenantID, serviceID, label)
	}
	if err != nil {
		return nil, err
	}
	return s.buildTarget(ctx, ident, serviceID, version.DatasourceID, version.QueryTemplate, version.Parameters)
}

func (s *executionService) buildTarget(ctx context.Context, ident Identity, serviceID, datasourceID uuid.UUID, template string, defs []models.ParameterDef) (*executionTarget, error) {
	ds, err := s.datasources.Get(ctx, ident, datasourceID)
	if err != nil {
		return nil, err
	}
	desc, ok := datasource.Lookup(ds.DatasourceType)
	if !ok {
		return nil, fmt.Errorf("unsupported datasource type %q: %w", ds.DatasourceType, apperrors.ErrNotImplemented)
	}
	return &executionTarget{
		serviceID: serviceID,
		template:  template,
		paramDefs: defs,
		ds:        ds,
		category:  desc.Category,
	}, nil
}

func (s *executionService) runBatch(ctx context.Context, ident Identity, target *executionTarget, paramSets []map[string]any) []*ExecutionResult {
	start := time.Now()
	results := make([]*ExecutionResult, len(paramSets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchWorkers)
	for i, params := range paramSets {
		g.Go(func() error {
			results[i] = s.runOne(gctx, ident, target, params)
			return nil
		})
	}
	// Workers never return errors; each item's outcome lands in its slot.
	_ = g.Wait()

	if len(results) > 0 {
		s.recordBatchOutcome(ctx, ident, target.serviceID, results, time.Since(start))
	}
	return results
}

// recordBatchOutcome appends one summary entry for the whole batch on top of
// the per-item entries: success, failure, or partial when the items split.
func (s *executionService) recordBatchOutcome(ctx context.Context, ident Identity, serviceID uuid.UUID, results []*ExecutionResult, elapsed time.Duration) {
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}

	outcome := models.AuditOutcomeSuccess
	var errText string
	switch {
	case succeeded == len(results):
	case succeeded == 0:
		outcome = models.AuditOutcomeFailure
		errText = fmt.Sprintf("all %d parameter sets failed", len(results))
	default:
		outcome = models.AuditOutcomePartial
		errText = fmt.Sprintf("%d of %d parameter sets failed", len(results)-succeeded, len(results))
	}
	s.trail.Record(ctx, ident, serviceID, models.AuditOpTest, outcome, nil, nil, errText, elapsed)
}

func (s *executionService) runOne(ctx context.Context, ident Identity, target *executionTarget, params map[string]any) *ExecutionResult {
	start := time.Now()
	fail := func(msg string) *ExecutionResult {
		result := &ExecutionResult{Error: msg, ElapsedMs: time.Since(start).Milliseconds()}
		s.trail.Record(ctx, ident, target.serviceID, models.AuditOpTest, models.AuditOutcomeFailure, nil, nil, msg, time.Since(start))
		return result
	}

	merged, err := mergeParameters(target.paramDefs, params)
	if err != nil {
		s.security.LogParameterValidation(ident.TenantID, target.serviceID, ident.UserID, err.Error())
		return fail(err.Error())
	}

	// Screen values before they are substituted into the template.
	if flagged := query.ScreenParameters(merged); len(flagged) > 0 {
		for _, check := range flagged {
			s.security.LogInjectionAttempt(ident.TenantID, target.serviceID, ident.UserID, audit.InjectionDetails{
				ParamName:   check.ParamName,
				ParamValue:  fmt.Sprint(check.ParamValue),
				Fingerprint: check.Fingerprint,
			})
		}
		return fail(fmt.Sprintf("parameter %q was rejected by injection screening", flagged[0].ParamName))
	}

	if err := query.Validate(target.template, target.category); err != nil {
		s.security.LogQueryDenied(ident.TenantID, target.serviceID, ident.UserID, audit.DeniedQueryDetails{
			Reason:    err.Error(),
			QueryText: target.template,
		})
		return fail(err.Error())
	}

	rendered := query.Render(target.template, merged)

	conn, err := s.factory.CreateConnection(ctx, target.ds, datasource.ConnectOptions{
		TenantID: ident.TenantID,
		UserID:   ident.UserID,
	})
	if err != nil {
		return fail(err.Error())
	}
	defer conn.Close() //nolint:errcheck // release failure is not actionable here

	// Pre-flight syntax check when the backend can do one without running
	// the query.
	if conn.Capabilities().Has(datasource.CapabilityQueryValidation) {
		if validator, ok := conn.(datasource.QueryValidator); ok {
			if outcome := validator.ValidateQuery(ctx, rendered); !outcome.Valid {
				msg := outcome.Error
				if outcome.Line > 0 {
					msg = fmt.Sprintf("%s (line %d, column %d)", outcome.Error, outcome.Line, outcome.Column)
				}
				return fail(msg)
			}
		}
	}

	queryResult := conn.ExecuteQuery(ctx, rendered)
	result := &ExecutionResult{
		Success:   queryResult.OK,
		Columns:   queryResult.Columns,
		Rows:      queryResult.Rows,
		RowCount:  queryResult.RowCount,
		Error:     queryResult.Error,
		ElapsedMs: time.Since(start).Milliseconds(),
		Rendered:  rendered,
	}

	outcome := models.AuditOutcomeSuccess
	if !queryResult.OK {
		outcome = models.AuditOutcomeFailure
	}
	s.trail.Record(ctx, ident, target.serviceID, models.AuditOpTest, outcome, nil, nil, queryResult.Error, time.Since(start))

	return result
}

// mergeParameters fills declared defaults into the supplied map and rejects
// missing required parameters. Undeclared parameters pass through untouched;
// rendering maps anything still absent to NULL.
func mergeParameters(defs []models.ParameterDef, params map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(params)+len(defs))
	for k, v := range params {
		merged[k] = v
	}
	for _, def := range defs {
		if _, ok := merged[def.Name]; ok {
			continue
		}
		if def.Default != nil {
			merged[def.Name] = def.Default
			continue
		}
		if def.Required {
			return nil, fmt.Errorf("required parameter %q is missing", def.Name)
		}
	}
	return merged, nil
}
