package datasource

import "context"

// Capability tags an optional behavior a connection may support beyond the
// base contract. Connections declare their set; callers check it at runtime
// instead of relying on type hierarchies.
type Capability string

const (
	CapabilityMultiDatabase   Capability = "multi_database"
	CapabilityMultiSchema     Capability = "multi_schema"
	CapabilityQueryValidation Capability = "query_validation"
)

// CapabilitySet is the set of capabilities a connection declares.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether the set contains c.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// MultiDatabase is supported by connections that can enumerate and switch
// between databases on one server. Probe Capabilities() for
// CapabilityMultiDatabase before asserting.
type MultiDatabase interface {
	ListDatabases(ctx context.Context) ([]string, error)
	UseDatabase(ctx context.Context, name string) error
}

// MultiSchema is supported by connections whose databases contain named
// schemas. Probe Capabilities() for CapabilityMultiSchema before asserting.
type MultiSchema interface {
	ListSchemas(ctx context.Context) ([]string, error)
	TablesInSchema(ctx context.Context, schema string) ([]string, error)
}

// ValidationOutcome is the result of a pre-flight syntax check.
type ValidationOutcome struct {
	Valid  bool   `json:"valid"`
	Error  string `json:"error,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// QueryValidator is supported by connections that can syntax-check query text
// without executing it. Probe Capabilities() for CapabilityQueryValidation
// before asserting.
type QueryValidator interface {
	ValidateQuery(ctx context.Context, text string) *ValidationOutcome
}
