package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum-engine/pkg/services"
)

func TestIdentityRoundTrip(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := IdentityFrom(req.Context())
	assert.False(t, ok)

	tenantID := uuid.New()
	userID := uuid.New()
	ctx := WithIdentity(req.Context(), services.Identity{TenantID: tenantID, UserID: userID})

	ident, ok := IdentityFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, tenantID, ident.TenantID)
	assert.Equal(t, userID, ident.UserID)
}

func TestTenantContextRejectsBadHeaders(t *testing.T) {
	handler := TenantContext(nil, nil)

	called := false
	wrapped := handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"no headers", nil},
		{"bad tenant", map[string]string{HeaderTenantID: "not-a-uuid", HeaderUserID: uuid.NewString()}},
		{"missing user", map[string]string{HeaderTenantID: uuid.NewString()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, called)
		})
	}
}
