package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/models"
	"github.com/stratumhq/stratum-engine/pkg/query"
	"github.com/stratumhq/stratum-engine/pkg/repositories"
)

// LifecycleService governs the draft to published transition. Publishing
// snapshots the draft into an immutable version and atomically makes it the
// single active one; unpublishing leaves the service with no active version.
type LifecycleService interface {
	// Publish snapshots the draft under the given label and activates the
	// snapshot. The draft must pass query validation; a label already used
	// by this service fails with ErrDuplicateVersionLabel unless force is
	// set, in which case the existing snapshot is superseded.
	Publish(ctx context.Context, ident Identity, serviceID uuid.UUID, label string, force bool) (*models.APIServiceVersion, error)

	// Unpublish deactivates the active version and returns the draft to
	// editable status.
	Unpublish(ctx context.Context, ident Identity, serviceID uuid.UUID) error

	// Rollback makes a previously published label the active version again
	// without touching the draft.
	Rollback(ctx context.Context, ident Identity, serviceID uuid.UUID, label string) error

	GetVersion(ctx context.Context, ident Identity, serviceID uuid.UUID, label string) (*models.APIServiceVersion, error)
	GetActiveVersion(ctx context.Context, ident Identity, serviceID uuid.UUID) (*models.APIServiceVersion, error)
	ListVersions(ctx context.Context, ident Identity, serviceID uuid.UUID) ([]*models.APIServiceVersion, error)

	// Compare diffs two named versions field by field. Identical snapshots
	// yield only unchanged fields.
	Compare(ctx context.Context, ident Identity, serviceID uuid.UUID, leftLabel, rightLabel string) (*models.VersionDiff, error)
}

type lifecycleService struct {
	services repositories.APIServiceRepository
	versions repositories.VersionRepository
	dsRepo   repositories.DatasourceRepository
	audit    AuditTrailService
	logger   *zap.Logger
}

// NewLifecycleService creates the version lifecycle service.
func NewLifecycleService(
	services repositories.APIServiceRepository,
	versions repositories.VersionRepository,
	dsRepo repositories.DatasourceRepository,
	audit AuditTrailService,
	logger *zap.Logger,
) LifecycleService {
	return &lifecycleService{
		services: services,
		versions: versions,
		dsRepo:   dsRepo,
		audit:    audit,
		logger:   logger,
	}
}

func (s *lifecycleService) Publish(ctx context.Context, ident Identity, serviceID uuid.UUID, label string, force bool) (*models.APIServiceVersion, error) {
	start := time.Now()
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	if label == "" {
		return nil, &apperrors.ConfigurationError{Field: "label", Message: "version label is required"}
	}

	svc, err := s.services.GetByID(ctx, ident.TenantID, serviceID)
	if err != nil {
		return nil, err
	}

	// A draft that fails query validation cannot be published.
	category, err := s.datasourceCategory(ctx, ident, svc.DatasourceID)
	if err != nil {
		return nil, err
	}
	if err := query.Validate(svc.QueryTemplate, category); err != nil {
		s.audit.Record(ctx, ident, serviceID, models.AuditOpPublish, models.AuditOutcomeFailure, nil, nil, err.Error(), time.Since(start))
		return nil, err
	}

	if force {
		// Superseding an existing label removes the old snapshot first.
		// A label that never existed is fine.
		if err := s.versions.DeleteByLabel(ctx, ident.TenantID, serviceID, label); err != nil && !errors.Is(err, apperrors.ErrVersionNotFound) {
			return nil, err
		}
	}

	version := &models.APIServiceVersion{
		TenantID:      ident.TenantID,
		ServiceID:     serviceID,
		Label:         label,
		Name:          svc.Name,
		Path:          svc.Path,
		Method:        svc.Method,
		DatasourceID:  svc.DatasourceID,
		QueryTemplate: svc.QueryTemplate,
		Parameters:    svc.Parameters,
		CacheSeconds:  svc.CacheSeconds,
		RateLimit:     svc.RateLimit,
		PublishedBy:   ident.UserID,
	}

	if err := s.versions.CreateActive(ctx, version); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateVersionLabel) {
			err = fmt.Errorf("label %q: %w", label, err)
		}
		s.audit.Record(ctx, ident, serviceID, models.AuditOpPublish, models.AuditOutcomeFailure, nil, nil, err.Error(), time.Since(start))
		return nil, err
	}

	if err := s.services.SetStatus(ctx, ident.TenantID, serviceID, models.StatusPublished, ident.UserID); err != nil {
		return nil, err
	}

	s.logger.Info("Published API service version",
		zap.String("service_id", serviceID.String()),
		zap.String("label", label),
		zap.Bool("force", force))
	s.audit.Record(ctx, ident, serviceID, models.AuditOpPublish, models.AuditOutcomeSuccess, svc, version, "", time.Since(start))

	return version, nil
}

func (s *lifecycleService) Unpublish(ctx context.Context, ident Identity, serviceID uuid.UUID) error {
	start := time.Now()
	if err := ident.Validate(); err != nil {
		return err
	}

	active, err := s.versions.GetActive(ctx, ident.TenantID, serviceID)
	if err != nil {
		return err
	}
	if err := s.versions.Deactivate(ctx, ident.TenantID, serviceID); err != nil {
		return err
	}
	if err := s.services.SetStatus(ctx, ident.TenantID, serviceID, models.StatusDraft, ident.UserID); err != nil {
		return err
	}

	s.logger.Info("Unpublished API service",
		zap.String("service_id", serviceID.String()),
		zap.String("label", active.Label))
	s.audit.Record(ctx, ident, serviceID, models.AuditOpUnpublish, models.AuditOutcomeSuccess, active, nil, "", time.Since(start))
	return nil
}

func (s *lifecycleService) Rollback(ctx context.Context, ident Identity, serviceID uuid.UUID, label string) error {
	if err := ident.Validate(); err != nil {
		return err
	}
	if err := s.versions.Activate(ctx, ident.TenantID, serviceID, label); err != nil {
		if errors.Is(err, apperrors.ErrVersionNotFound) {
			return fmt.Errorf("label %q: %w", label, err)
		}
		return err
	}
	if err := s.services.SetStatus(ctx, ident.TenantID, serviceID, models.StatusPublished, ident.UserID); err != nil {
		return err
	}
	s.logger.Info("Rolled back API service version",
		zap.String("service_id", serviceID.String()),
		zap.String("label", label))
	return nil
}

func (s *lifecycleService) GetVersion(ctx context.Context, ident Identity, serviceID uuid.UUID, label string) (*models.APIServiceVersion, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	v, err := s.versions.GetByLabel(ctx, ident.TenantID, serviceID, label)
	if err != nil {
		if errors.Is(err, apperrors.ErrVersionNotFound) {
			return nil, fmt.Errorf("label %q: %w", label, err)
		}
		return nil, err
	}
	return v, nil
}

func (s *lifecycleService) GetActiveVersion(ctx context.Context, ident Identity, serviceID uuid.UUID) (*models.APIServiceVersion, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	return s.versions.GetActive(ctx, ident.TenantID, serviceID)
}

func (s *lifecycleService) ListVersions(ctx context.Context, ident Identity, serviceID uuid.UUID) ([]*models.APIServiceVersion, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	return s.versions.List(ctx, ident.TenantID, serviceID)
}

func (s *lifecycleService) Compare(ctx context.Context, ident Identity, serviceID uuid.UUID, leftLabel, rightLabel string) (*models.VersionDiff, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	left, err := s.GetVersion(ctx, ident, serviceID, leftLabel)
	if err != nil {
		return nil, err
	}
	right, err := s.GetVersion(ctx, ident, serviceID, rightLabel)
	if err != nil {
		return nil, err
	}

	diff := compareVersions(left, right)
	s.audit.Record(ctx, ident, serviceID, models.AuditOpVersionCompare, models.AuditOutcomeSuccess, left, right, "", 0)
	return diff, nil
}

func (s *lifecycleService) datasourceCategory(ctx context.Context, ident Identity, datasourceID uuid.UUID) (models.Category, error) {
	ds, _, err := s.dsRepo.GetByID(ctx, ident.TenantID, datasourceID)
	if err != nil {
		return "", err
	}
	desc, ok := datasource.Lookup(ds.DatasourceType)
	if !ok {
		return "", fmt.Errorf("unsupported datasource type %q: %w", ds.DatasourceType, apperrors.ErrNotImplemented)
	}
	return desc.Category, nil
}

// compareVersions diffs the published fields of two snapshots. A field empty
// on one side and set on the other classifies as added or removed (reading
// left to right); differing non-empty values classify as modified.
func compareVersions(left, right *models.APIServiceVersion) *models.VersionDiff {
	diff := &models.VersionDiff{
		ServiceID:  left.ServiceID,
		LeftLabel:  left.Label,
		RightLabel: right.Label,
	}

	diff.Fields = append(diff.Fields,
		diffField("name", left.Name, right.Name),
		diffField("path", left.Path, right.Path),
		diffField("method", left.Method, right.Method),
		diffField("datasource_id", left.DatasourceID.String(), right.DatasourceID.String()),
		diffField("query_template", left.QueryTemplate, right.QueryTemplate),
		diffParameters(left.Parameters, right.Parameters),
		diffField("cache_seconds", left.CacheSeconds, right.CacheSeconds),
		diffField("rate_limit", left.RateLimit, right.RateLimit),
	)
	return diff
}

func diffField(name string, left, right any) models.FieldDiff {
	d := models.FieldDiff{Field: name, Kind: models.DiffUnchanged}
	if reflect.DeepEqual(left, right) {
		return d
	}
	d.Old, d.New = left, right
	switch {
	case isEmptyValue(left):
		d.Kind = models.DiffAdded
	case isEmptyValue(right):
		d.Kind = models.DiffRemoved
	default:
		d.Kind = models.DiffModified
	}
	return d
}

func diffParameters(left, right []models.ParameterDef) models.FieldDiff {
	// Parameter schemas compare by their canonical JSON form.
	leftJSON, _ := json.Marshal(left)
	rightJSON, _ := json.Marshal(right)
	d := models.FieldDiff{Field: "parameters", Kind: models.DiffUnchanged}
	if string(leftJSON) == string(rightJSON) {
		return d
	}
	d.Old, d.New = left, right
	switch {
	case len(left) == 0:
		d.Kind = models.DiffAdded
	case len(right) == 0:
		d.Kind = models.DiffRemoved
	default:
		d.Kind = models.DiffModified
	}
	return d
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case string:
		return val == ""
	case int:
		return val == 0
	default:
		return v == nil
	}
}
