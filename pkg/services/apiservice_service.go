package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/models"
	"github.com/stratumhq/stratum-engine/pkg/repositories"
)

// APIServiceService manages draft definitions. Drafts stay editable after
// publishing; the frozen history lives in version snapshots.
type APIServiceService interface {
	Create(ctx context.Context, ident Identity, svc *models.APIService) (*models.APIService, error)
	Get(ctx context.Context, ident Identity, id uuid.UUID) (*models.APIService, error)
	List(ctx context.Context, ident Identity) ([]*models.APIService, error)
	ListByDatasource(ctx context.Context, ident Identity, datasourceID uuid.UUID) ([]*models.APIService, error)
	Update(ctx context.Context, ident Identity, svc *models.APIService) error

	// Delete removes the draft and its table selections. Version snapshots
	// survive as published history.
	Delete(ctx context.Context, ident Identity, id uuid.UUID) error

	// SetTableSelections replaces the draft's table selections, keeping the
	// input order. Exactly one selection must be primary when any are given.
	SetTableSelections(ctx context.Context, ident Identity, serviceID uuid.UUID, selections []*models.TableSelection) error

	ListTableSelections(ctx context.Context, ident Identity, serviceID uuid.UUID) ([]*models.TableSelection, error)

	// DeriveTemplate builds a starter query template from the draft's table
	// selections: the primary table's columns, joined tables attached with
	// their declared join type and condition. The draft itself is not
	// modified; callers decide whether to adopt the text.
	DeriveTemplate(ctx context.Context, ident Identity, serviceID uuid.UUID) (string, error)
}

type apiServiceService struct {
	repo       repositories.APIServiceRepository
	selections repositories.TableSelectionRepository
	dsRepo     repositories.DatasourceRepository
	audit      AuditTrailService
	logger     *zap.Logger
}

// NewAPIServiceService creates the API service draft service.
func NewAPIServiceService(
	repo repositories.APIServiceRepository,
	selections repositories.TableSelectionRepository,
	dsRepo repositories.DatasourceRepository,
	audit AuditTrailService,
	logger *zap.Logger,
) APIServiceService {
	return &apiServiceService{
		repo:       repo,
		selections: selections,
		dsRepo:     dsRepo,
		audit:      audit,
		logger:     logger,
	}
}

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
}

func (s *apiServiceService) validateDraft(ctx context.Context, ident Identity, svc *models.APIService) error {
	if svc.Name == "" {
		return &apperrors.ConfigurationError{Field: "name", Message: "service name is required"}
	}
	if svc.Path == "" || !strings.HasPrefix(svc.Path, "/") {
		return &apperrors.ConfigurationError{
			Field:          "path",
			Message:        "service path must start with /",
			Recommendation: "use a path like /orders/recent",
		}
	}
	method := strings.ToUpper(svc.Method)
	if !allowedMethods[method] {
		return &apperrors.ConfigurationError{
			Field:   "method",
			Message: fmt.Sprintf("unsupported HTTP method %q", svc.Method),
		}
	}
	svc.Method = method

	if svc.DatasourceID == uuid.Nil {
		return &apperrors.ConfigurationError{Field: "datasource_id", Message: "a datasource is required"}
	}
	// The datasource must exist and be enabled for this tenant.
	if _, _, err := s.dsRepo.GetByID(ctx, ident.TenantID, svc.DatasourceID); err != nil {
		return fmt.Errorf("datasource %s: %w", svc.DatasourceID, err)
	}
	return nil
}

func (s *apiServiceService) Create(ctx context.Context, ident Identity, svc *models.APIService) (*models.APIService, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	if svc == nil {
		panic("draft must not be nil")
	}
	if err := s.validateDraft(ctx, ident, svc); err != nil {
		return nil, err
	}

	svc.TenantID = ident.TenantID
	svc.CreatedBy = ident.UserID
	svc.UpdatedBy = ident.UserID
	svc.Status = models.StatusDraft

	if err := s.repo.Create(ctx, svc); err != nil {
		return nil, err
	}

	s.logger.Info("Created API service draft",
		zap.String("id", svc.ID.String()),
		zap.String("name", svc.Name),
		zap.String("path", svc.Path))
	s.audit.Record(ctx, ident, svc.ID, models.AuditOpCreate, models.AuditOutcomeSuccess, nil, svc, "", 0)

	return svc, nil
}

func (s *apiServiceService) Get(ctx context.Context, ident Identity, id uuid.UUID) (*models.APIService, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, ident.TenantID, id)
}

func (s *apiServiceService) List(ctx context.Context, ident Identity) ([]*models.APIService, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, ident.TenantID)
}

func (s *apiServiceService) ListByDatasource(ctx context.Context, ident Identity, datasourceID uuid.UUID) ([]*models.APIService, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListByDatasource(ctx, ident.TenantID, datasourceID)
}

func (s *apiServiceService) Update(ctx context.Context, ident Identity, svc *models.APIService) error {
	if err := ident.Validate(); err != nil {
		return err
	}
	if svc == nil {
		panic("draft must not be nil")
	}
	if err := s.validateDraft(ctx, ident, svc); err != nil {
		return err
	}

	before, err := s.repo.GetByID(ctx, ident.TenantID, svc.ID)
	if err != nil {
		return err
	}

	svc.TenantID = ident.TenantID
	svc.UpdatedBy = ident.UserID
	if err := s.repo.Update(ctx, svc); err != nil {
		return err
	}

	s.audit.Record(ctx, ident, svc.ID, models.AuditOpUpdate, models.AuditOutcomeSuccess, before, svc, "", 0)
	return nil
}

func (s *apiServiceService) Delete(ctx context.Context, ident Identity, id uuid.UUID) error {
	if err := ident.Validate(); err != nil {
		return err
	}
	before, err := s.repo.GetByID(ctx, ident.TenantID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, ident.TenantID, id); err != nil {
		return err
	}

	s.logger.Info("Deleted API service draft", zap.String("id", id.String()))
	s.audit.Record(ctx, ident, id, models.AuditOpDelete, models.AuditOutcomeSuccess, before, nil, "", 0)
	return nil
}

func (s *apiServiceService) SetTableSelections(ctx context.Context, ident Identity, serviceID uuid.UUID, selections []*models.TableSelection) error {
	if err := ident.Validate(); err != nil {
		return err
	}
	// The draft must exist before selections can hang off it.
	if _, err := s.repo.GetByID(ctx, ident.TenantID, serviceID); err != nil {
		return err
	}
	return s.selections.Replace(ctx, ident.TenantID, serviceID, selections)
}

func (s *apiServiceService) ListTableSelections(ctx context.Context, ident Identity, serviceID uuid.UUID) ([]*models.TableSelection, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	return s.selections.ListByService(ctx, ident.TenantID, serviceID)
}

func (s *apiServiceService) DeriveTemplate(ctx context.Context, ident Identity, serviceID uuid.UUID) (string, error) {
	if err := ident.Validate(); err != nil {
		return "", err
	}
	selections, err := s.selections.ListByService(ctx, ident.TenantID, serviceID)
	if err != nil {
		return "", err
	}
	if len(selections) == 0 {
		return "", fmt.Errorf("service %s has no table selections to derive from", serviceID)
	}
	return deriveStarterTemplate(selections)
}

// deriveStarterTemplate renders the selections into a SELECT skeleton.
// Column references are qualified with their table name whenever more than
// one table is involved; a selection with no columns contributes table.*.
func deriveStarterTemplate(selections []*models.TableSelection) (string, error) {
	var primary *models.TableSelection
	var joined []*models.TableSelection
	for _, sel := range selections {
		if sel.IsPrimary {
			primary = sel
		} else {
			joined = append(joined, sel)
		}
	}
	if primary == nil {
		return "", fmt.Errorf("no primary table selection")
	}

	qualify := len(joined) > 0
	var columns []string
	for _, sel := range selections {
		if len(sel.Columns) == 0 {
			if qualify {
				columns = append(columns, sel.TableName+".*")
			} else {
				columns = append(columns, "*")
			}
			continue
		}
		for _, col := range sel.Columns {
			if qualify {
				columns = append(columns, sel.TableName+"."+col)
			} else {
				columns = append(columns, col)
			}
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString("\nFROM ")
	b.WriteString(primary.TableName)
	for _, sel := range joined {
		joinType := sel.JoinType
		if joinType == "" {
			joinType = models.JoinInner
		}
		if sel.JoinCondition == "" {
			return "", fmt.Errorf("joined table %s has no join condition", sel.TableName)
		}
		fmt.Fprintf(&b, "\n%s %s ON %s", joinType, sel.TableName, sel.JoinCondition)
	}
	return b.String(), nil
}
