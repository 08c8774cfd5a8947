package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrVersionNotFound        = errors.New("version not found")
	ErrDuplicateVersionLabel  = errors.New("version label already exists")
	ErrNoActiveVersion        = errors.New("no active version")
	ErrPoolExhausted          = errors.New("connection pool exhausted")
	ErrNotImplemented         = errors.New("not implemented")
	ErrCredentialsKeyMismatch = errors.New("datasource credentials were encrypted with a different key")
)

// ConfigurationError reports an invalid datasource configuration.
// These are surfaced to the caller immediately and never retried.
type ConfigurationError struct {
	Field          string
	Message        string
	Recommendation string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid configuration: %s", e.Message)
}

// DependencyError reports that the client library for a datasource type is not
// available in this build. Coordinate names the missing module so the caller
// gets an actionable message instead of an opaque failure.
type DependencyError struct {
	DatasourceType string
	Coordinate     string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("datasource type %q requires %s, which is not available in this build",
		e.DatasourceType, e.Coordinate)
}

// QueryRejectedError reports a query that failed denylist or shape validation
// before any network call was made. Fatal for the request.
type QueryRejectedError struct {
	Reason string
}

func (e *QueryRejectedError) Error() string {
	return fmt.Sprintf("query rejected: %s", e.Reason)
}

// ConnectionError reports a network or authentication failure while opening
// or using a connection. Callers may retry.
type ConnectionError struct {
	DatasourceType string
	Err            error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.DatasourceType, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
