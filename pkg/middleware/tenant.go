package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/services"
)

// Identity headers set by the gateway in front of this service. The gateway
// authenticates the caller; this layer only translates its headers into an
// explicit identity value.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

type identityKey struct{}

// WithIdentity stores the caller identity in the context.
func WithIdentity(ctx context.Context, ident services.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, ident)
}

// IdentityFrom retrieves the caller identity placed by TenantContext.
func IdentityFrom(ctx context.Context) (services.Identity, bool) {
	ident, ok := ctx.Value(identityKey{}).(services.Identity)
	return ident, ok
}

// TenantContext extracts tenant and user IDs from request headers, opens a
// tenant-scoped store connection for the request, and threads both through
// the request context. The scope is released when the request finishes.
func TenantContext(db *database.DB, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := uuid.Parse(r.Header.Get(HeaderTenantID))
			if err != nil {
				http.Error(w, "missing or invalid "+HeaderTenantID+" header", http.StatusUnauthorized)
				return
			}
			userID, err := uuid.Parse(r.Header.Get(HeaderUserID))
			if err != nil {
				http.Error(w, "missing or invalid "+HeaderUserID+" header", http.StatusUnauthorized)
				return
			}

			scope, err := db.WithTenant(r.Context(), tenantID)
			if err != nil {
				logger.Error("Failed to open tenant scope",
					zap.String("tenant_id", tenantID.String()),
					zap.Error(err))
				http.Error(w, "store unavailable", http.StatusServiceUnavailable)
				return
			}
			defer scope.Close()

			ctx := database.SetTenantScope(r.Context(), scope)
			ctx = WithIdentity(ctx, services.Identity{TenantID: tenantID, UserID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
