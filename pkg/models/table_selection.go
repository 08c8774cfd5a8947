package models

import "github.com/google/uuid"

// JoinType is the SQL join used to attach a secondary table selection.
type JoinType string

const (
	JoinInner JoinType = "INNER JOIN"
	JoinLeft  JoinType = "LEFT JOIN"
	JoinRight JoinType = "RIGHT JOIN"
)

// TableSelection is one table an API service draft references when deriving
// its starter query template. Exactly one selection per service is primary;
// the rest carry a join type and condition. Selections are deleted with their
// owning draft.
type TableSelection struct {
	ID            uuid.UUID `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	ServiceID     uuid.UUID `json:"service_id"`
	TableName     string    `json:"table_name"`
	Columns       []string  `json:"columns,omitempty"` // empty means all columns
	IsPrimary     bool      `json:"is_primary"`
	JoinType      JoinType  `json:"join_type,omitempty"`
	JoinCondition string    `json:"join_condition,omitempty"`
	Position      int       `json:"position"` // display/derivation order
}
