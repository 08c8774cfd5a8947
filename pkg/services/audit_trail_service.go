package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/models"
	"github.com/stratumhq/stratum-engine/pkg/repositories"
)

// AuditTrailService appends and reads the append-only operation trail.
// Records are never updated; retention is enforced by Purge.
type AuditTrailService interface {
	// Record appends one entry. Before and after are marshaled to JSON;
	// either may be nil. A failed append is logged and swallowed so audit
	// storage trouble never fails the audited operation itself.
	Record(ctx context.Context, ident Identity, serviceID uuid.UUID, operation, outcome string, before, after any, errText string, elapsed time.Duration)

	// ListByService returns the newest entries for one service.
	ListByService(ctx context.Context, ident Identity, serviceID uuid.UUID, limit int) ([]*models.AuditRecord, error)

	// ListByTenant returns the newest entries across the tenant.
	ListByTenant(ctx context.Context, ident Identity, limit int) ([]*models.AuditRecord, error)

	// Purge removes entries older than the retention age and reports how
	// many were deleted.
	Purge(ctx context.Context, ident Identity, olderThan time.Duration) (int64, error)

	// RunRetentionSweep purges expired entries for every tenant, once at
	// start and then on each interval, until the context is canceled. The
	// daemon runs this in a background goroutine.
	RunRetentionSweep(ctx context.Context, db *database.DB, retention, interval time.Duration)
}

type auditTrailService struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
}

// NewAuditTrailService creates the audit trail service.
func NewAuditTrailService(repo repositories.AuditRepository, logger *zap.Logger) AuditTrailService {
	return &auditTrailService{repo: repo, logger: logger}
}

func (s *auditTrailService) Record(ctx context.Context, ident Identity, serviceID uuid.UUID, operation, outcome string, before, after any, errText string, elapsed time.Duration) {
	record := &models.AuditRecord{
		TenantID:   ident.TenantID,
		ServiceID:  serviceID,
		Operation:  operation,
		Outcome:    outcome,
		ErrorText:  errText,
		Actor:      ident.UserID,
		DurationMs: elapsed.Milliseconds(),
	}

	var err error
	if record.Before, err = marshalSnapshot(before); err != nil {
		s.logger.Warn("Failed to encode audit before-snapshot",
			zap.String("operation", operation), zap.Error(err))
	}
	if record.After, err = marshalSnapshot(after); err != nil {
		s.logger.Warn("Failed to encode audit after-snapshot",
			zap.String("operation", operation), zap.Error(err))
	}

	if err := s.repo.Append(ctx, record); err != nil {
		s.logger.Error("Failed to append audit record",
			zap.String("service_id", serviceID.String()),
			zap.String("operation", operation),
			zap.String("outcome", outcome),
			zap.Error(err))
	}
}

func (s *auditTrailService) ListByService(ctx context.Context, ident Identity, serviceID uuid.UUID, limit int) ([]*models.AuditRecord, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListByService(ctx, ident.TenantID, serviceID, limit)
}

func (s *auditTrailService) ListByTenant(ctx context.Context, ident Identity, limit int) ([]*models.AuditRecord, error) {
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListByTenant(ctx, ident.TenantID, limit)
}

func (s *auditTrailService) Purge(ctx context.Context, ident Identity, olderThan time.Duration) (int64, error) {
	if err := ident.Validate(); err != nil {
		return 0, err
	}
	purged, err := s.repo.PurgeOlderThan(ctx, ident.TenantID, olderThan)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Info("Purged audit records",
			zap.String("tenant_id", ident.TenantID.String()),
			zap.Int64("purged", purged),
			zap.Duration("older_than", olderThan))
	}
	return purged, nil
}

func (s *auditTrailService) RunRetentionSweep(ctx context.Context, db *database.DB, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		purged, err := s.repo.PurgeExpired(ctx, db, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			s.logger.Error("Audit retention sweep failed", zap.Error(err))
		case purged > 0:
			s.logger.Info("Audit retention sweep",
				zap.Int64("purged", purged),
				zap.Duration("retention", retention))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func marshalSnapshot(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
