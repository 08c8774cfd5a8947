package models

import "github.com/google/uuid"

// ServiceStatus is the lifecycle state of an API service draft.
type ServiceStatus string

const (
	StatusDraft     ServiceStatus = "draft"
	StatusPublished ServiceStatus = "published"
)

// ParameterDef declares one parameter an API service accepts.
type ParameterDef struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, integer, decimal, boolean, date, timestamp
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// APIService is the mutable working definition of an HTTP-exposed API whose
// body is a query template against a datasource. Publishing snapshots it into
// an immutable APIServiceVersion; the draft stays editable.
type APIService struct {
	AuditedRecord

	Name          string         `json:"name"`
	Path          string         `json:"path"`
	Method        string         `json:"method"` // HTTP verb the enclosing layer exposes
	DatasourceID  uuid.UUID      `json:"datasource_id"`
	QueryTemplate string         `json:"query_template"` // text with ${name} placeholders
	Parameters    []ParameterDef `json:"parameters,omitempty"`
	ResponseDemo  string         `json:"response_demo,omitempty"`
	CacheSeconds  int            `json:"cache_seconds"` // 0 disables caching
	RateLimit     int            `json:"rate_limit"`    // requests/minute, 0 unlimited
	Status        ServiceStatus  `json:"status"`
}
