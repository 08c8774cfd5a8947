package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
)

// writeError maps the error taxonomy onto HTTP status codes and writes a
// JSON error body. Anything unmapped is a 500 and gets logged.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var cfgErr *apperrors.ConfigurationError
	var depErr *apperrors.DependencyError
	var rejected *apperrors.QueryRejectedError
	var connErr *apperrors.ConnectionError

	switch {
	case errors.As(err, &cfgErr):
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_configuration", cfgErr.Error())
	case errors.As(err, &rejected):
		_ = ErrorResponse(w, http.StatusBadRequest, "query_rejected", rejected.Error())
	case errors.As(err, &depErr):
		_ = ErrorResponse(w, http.StatusFailedDependency, "dependency_unavailable", depErr.Error())
	case errors.As(err, &connErr):
		_ = ErrorResponse(w, http.StatusBadGateway, "connection_failed", connErr.Error())
	case errors.Is(err, apperrors.ErrPermissionDenied):
		_ = ErrorResponse(w, http.StatusForbidden, "permission_denied", err.Error())
	case errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrVersionNotFound),
		errors.Is(err, apperrors.ErrNoActiveVersion):
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrConflict),
		errors.Is(err, apperrors.ErrDuplicateVersionLabel):
		_ = ErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperrors.ErrNotImplemented):
		_ = ErrorResponse(w, http.StatusNotImplemented, "not_implemented", err.Error())
	case errors.Is(err, apperrors.ErrPoolExhausted):
		_ = ErrorResponse(w, http.StatusTooManyRequests, "pool_exhausted", err.Error())
	default:
		if logger != nil {
			logger.Error("Unhandled error in HTTP handler", zap.Error(err))
		}
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
