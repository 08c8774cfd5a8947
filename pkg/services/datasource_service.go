package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/crypto"
	"github.com/stratumhq/stratum-engine/pkg/models"
	"github.com/stratumhq/stratum-engine/pkg/repositories"
)

// testAllWorkers bounds the fan-out when probing every datasource at once.
const testAllWorkers = 4

// DatasourceTestStatus is one datasource's outcome in a TestAll sweep.
type DatasourceTestStatus struct {
	DatasourceID uuid.UUID             `json:"datasource_id"`
	Name         string                `json:"name"`
	Result       datasource.TestResult `json:"result"`
}

// DatasourceService manages datasource configurations. Passwords are
// encrypted before they reach the repository and decrypted on read; the
// plaintext never touches storage.
type DatasourceService interface {
	Create(ctx context.Context, ident Identity, ds *models.Datasource) (*models.Datasource, error)
	Get(ctx context.Context, ident Identity, id uuid.UUID) (*models.Datasource, error)
	GetByName(ctx context.Context, ident Identity, name string) (*models.Datasource, error)

	// List returns all enabled datasources without decrypting passwords.
	List(ctx context.Context, ident Identity) ([]*models.Datasource, error)

	Update(ctx context.Context, ident Identity, ds *models.Datasource) error

	// Disable soft-deletes a datasource. Published services referencing it
	// keep their history; the row is never removed.
	Disable(ctx context.Context, ident Identity, id uuid.UUID) error

	// Test opens a throwaway connection to a saved datasource, checks it,
	// and closes it. The result always carries elapsed time.
	Test(ctx context.Context, ident Identity, id uuid.UUID) (datasource.TestResult, error)

	// TestConfig tests an unsaved configuration, for pre-create checks.
	TestConfig(ctx context.Context, ds *models.Datasource) datasource.TestResult

	// TestAll probes every enabled datasource concurrently and returns one
	// status per datasource in listing order. Per-item failures do not
	// abort the sweep.
	TestAll(ctx context.Context, ident Identity) ([]DatasourceTestStatus, error)
}

type datasourceService struct {
	repo      repositories.DatasourceRepository
	encryptor *crypto.CredentialEncryptor
	factory   datasource.Factory
	logger    *zap.Logger
}

// NewDatasourceService creates the datasource service.
func NewDatasourceService(
	repo repositories.DatasourceRepository,
	encryptor *crypto.CredentialEncryptor,
	factory datasource.Factory,
	logger *zap.Logger,
) DatasourceService {
	return &datasourceService{
		repo:      repo,
		encryptor: encryptor,
		factory:   factory,
		logger:    logger,
	}
}

func (s *datasourceService) Create(ctx context.Context, ident Identity, ds *models.Datasource) (*models.Datasource, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	if ds == nil {
		panic("datasource must not be nil")
	}
	if ds.Name == "" {
		return nil, &apperrors.ConfigurationError{Field: "name", Message: "datasource name is required"}
	}
	if result := s.factory.ValidateConfiguration(ds); !result.Valid {
		return nil, &apperrors.ConfigurationError{Message: result.Error, Recommendation: result.Recommendation}
	}

	encrypted, err := s.encryptPassword(ds.Password)
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}

	ds.TenantID = ident.TenantID
	ds.CreatedBy = ident.UserID
	ds.UpdatedBy = ident.UserID
	ds.Enabled = true

	if err := s.repo.Create(ctx, ds, encrypted); err != nil {
		return nil, err
	}

	s.logger.Info("Created datasource",
		zap.String("id", ds.ID.String()),
		zap.String("tenant_id", ident.TenantID.String()),
		zap.String("name", ds.Name),
		zap.String("type", ds.DatasourceType))

	return ds, nil
}

func (s *datasourceService) Get(ctx context.Context, ident Identity, id uuid.UUID) (*models.Datasource, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	ds, encrypted, err := s.repo.GetByID(ctx, ident.TenantID, id)
	if err != nil {
		return nil, err
	}
	if ds.Password, err = s.decryptPassword(encrypted); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *datasourceService) GetByName(ctx context.Context, ident Identity, name string) (*models.Datasource, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	ds, encrypted, err := s.repo.GetByName(ctx, ident.TenantID, name)
	if err != nil {
		return nil, err
	}
	if ds.Password, err = s.decryptPassword(encrypted); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *datasourceService) List(ctx context.Context, ident Identity) ([]*models.Datasource, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, ident.TenantID)
}

func (s *datasourceService) Update(ctx context.Context, ident Identity, ds *models.Datasource) error {
	if err := ident.Validate(); err != nil {
		return err
	}
	if ds == nil {
		panic("datasource must not be nil")
	}
	if result := s.factory.ValidateConfiguration(ds); !result.Valid {
		return &apperrors.ConfigurationError{Message: result.Error, Recommendation: result.Recommendation}
	}

	encrypted, err := s.encryptPassword(ds.Password)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	ds.TenantID = ident.TenantID
	ds.UpdatedBy = ident.UserID

	if err := s.repo.Update(ctx, ds, encrypted); err != nil {
		return err
	}

	s.logger.Info("Updated datasource",
		zap.String("id", ds.ID.String()),
		zap.String("name", ds.Name))
	return nil
}

func (s *datasourceService) Disable(ctx context.Context, ident Identity, id uuid.UUID) error {
	if err := ident.Validate(); err != nil {
		return err
	}
	if err := s.repo.Disable(ctx, ident.TenantID, id, ident.UserID); err != nil {
		return err
	}
	s.logger.Info("Disabled datasource", zap.String("id", id.String()))
	return nil
}

func (s *datasourceService) Test(ctx context.Context, ident Identity, id uuid.UUID) (datasource.TestResult, error) {
	ds, err := s.Get(ctx, ident, id)
	if err != nil {
		return datasource.TestResult{}, err
	}
	return s.factory.TestConnection(ctx, ds), nil
}

func (s *datasourceService) TestConfig(ctx context.Context, ds *models.Datasource) datasource.TestResult {
	return s.factory.TestConnection(ctx, ds)
}

func (s *datasourceService) TestAll(ctx context.Context, ident Identity) ([]DatasourceTestStatus, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	list, err := s.repo.List(ctx, ident.TenantID)
	if err != nil {
		return nil, err
	}

	statuses := make([]DatasourceTestStatus, len(list))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(testAllWorkers)
	for i, ds := range list {
		statuses[i] = DatasourceTestStatus{DatasourceID: ds.ID, Name: ds.Name}
		g.Go(func() error {
			// List omits passwords; fetch the decrypted config per probe.
			probe, err := s.Get(gctx, ident, ds.ID)
			if err != nil {
				statuses[i].Result = datasource.TestResult{Error: err.Error()}
				return nil
			}
			statuses[i].Result = s.factory.TestConnection(gctx, probe)
			return nil
		})
	}
	// Workers never return errors; per-item failures land in the result.
	_ = g.Wait()

	return statuses, nil
}

func (s *datasourceService) encryptPassword(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return s.encryptor.Encrypt(plaintext)
}

func (s *datasourceService) decryptPassword(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}
	return s.encryptor.Decrypt(encrypted)
}
