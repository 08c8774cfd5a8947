// Package services implements the operation layer: datasource management,
// API service drafts, the publish lifecycle, query execution, and the audit
// trail. Caller identity is passed explicitly into every operation; nothing
// in this package reads identity from global or goroutine-local state.
package services

import (
	"fmt"

	"github.com/google/uuid"
)

// Identity is the tenant and user an operation runs as. Zero values are
// rejected before any repository or adapter call.
type Identity struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
}

// Validate rejects identities with a missing tenant or user.
func (id Identity) Validate() error {
	if id.TenantID == uuid.Nil {
		return fmt.Errorf("identity is missing a tenant")
	}
	if id.UserID == uuid.Nil {
		return fmt.Errorf("identity is missing a user")
	}
	return nil
}
