package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditedRecord carries the identity and audit columns shared by all persisted
// entities. Embedded by value; there is no entity base type beyond this.
type AuditedRecord struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy uuid.UUID `json:"created_by"`
	UpdatedBy uuid.UUID `json:"updated_by"`
}
