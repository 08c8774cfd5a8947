package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit operations.
const (
	AuditOpCreate         = "create"
	AuditOpUpdate         = "update"
	AuditOpDelete         = "delete"
	AuditOpPublish        = "publish"
	AuditOpUnpublish      = "unpublish"
	AuditOpTest           = "test"
	AuditOpVersionCompare = "version_compare"
)

// Audit outcomes.
const (
	AuditOutcomeSuccess = "success"
	AuditOutcomeFailure = "failure"
	AuditOutcomePartial = "partial"
)

// AuditRecord is one append-only entry in the operation audit trail.
// Before/After hold JSON snapshots of the affected entity where applicable.
// Records may be purged by retention age; they are never updated.
type AuditRecord struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	ServiceID  uuid.UUID `json:"service_id"`
	Operation  string    `json:"operation"`
	Outcome    string    `json:"outcome"`
	Before     []byte    `json:"before,omitempty"`
	After      []byte    `json:"after,omitempty"`
	ErrorText  string    `json:"error_text,omitempty"`
	Actor      uuid.UUID `json:"actor"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
