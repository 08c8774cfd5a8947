package models

import (
	"time"

	"github.com/google/uuid"
)

// APIServiceVersion is an immutable snapshot of a draft taken at publish time.
// Labels are unique within a service; at most one version per service is
// active at any time (enforced atomically by the version repository).
type APIServiceVersion struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	ServiceID uuid.UUID `json:"service_id"`
	Label     string    `json:"label"`

	// Frozen copy of the draft at publish time.
	Name          string         `json:"name"`
	Path          string         `json:"path"`
	Method        string         `json:"method"`
	DatasourceID  uuid.UUID      `json:"datasource_id"`
	QueryTemplate string         `json:"query_template"`
	Parameters    []ParameterDef `json:"parameters,omitempty"`
	CacheSeconds  int            `json:"cache_seconds"`
	RateLimit     int            `json:"rate_limit"`

	Active        bool       `json:"active"`
	PublishedAt   time.Time  `json:"published_at"`
	PublishedBy   uuid.UUID  `json:"published_by"`
	UnpublishedAt *time.Time `json:"unpublished_at,omitempty"`
}

// DiffKind classifies one field in a version comparison.
type DiffKind string

const (
	DiffAdded     DiffKind = "added"
	DiffRemoved   DiffKind = "removed"
	DiffModified  DiffKind = "modified"
	DiffUnchanged DiffKind = "unchanged"
)

// FieldDiff is one field's contribution to a version comparison.
type FieldDiff struct {
	Field string   `json:"field"`
	Kind  DiffKind `json:"kind"`
	Old   any      `json:"old,omitempty"`
	New   any      `json:"new,omitempty"`
}

// VersionDiff is the field-by-field comparison of two versions of a service.
type VersionDiff struct {
	ServiceID  uuid.UUID   `json:"service_id"`
	LeftLabel  string      `json:"left_label"`
	RightLabel string      `json:"right_label"`
	Fields     []FieldDiff `json:"fields"`
}

// Changed reports how many fields are not unchanged.
func (d *VersionDiff) Changed() int {
	n := 0
	for _, f := range d.Fields {
		if f.Kind != DiffUnchanged {
			n++
		}
	}
	return n
}
