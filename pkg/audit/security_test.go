package audit

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// setupTestLogger creates a test logger with an observer to capture entries.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, recorded := observer.New(zapcore.DebugLevel)
	return zap.New(core), recorded
}

func TestNewSecurityAuditor(t *testing.T) {
	logger, _ := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	assert.NotNil(t, auditor)
	assert.NotNil(t, auditor.logger)
}

func TestLogInjectionAttempt(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	tenantID, serviceID, userID := uuid.New(), uuid.New(), uuid.New()
	details := InjectionDetails{
		ParamName:   "search",
		ParamValue:  "'; DROP TABLE users--",
		Fingerprint: "s&1c",
		ServiceName: "Search customers",
	}

	auditor.LogInjectionAttempt(tenantID, serviceID, userID, details)

	logs := recorded.All()
	require.Len(t, logs, 1)
	entry := logs[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)

	fields := entry.ContextMap()
	assert.Equal(t, tenantID.String(), fields["tenant_id"])
	assert.Equal(t, "search", fields["param_name"])
	assert.Equal(t, "s&1c", fields["fingerprint"])
	assert.Equal(t, "critical", fields["severity"])

	var event SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(fields["event_json"].(string)), &event))
	assert.Equal(t, EventInjectionAttempt, event.EventType)
	assert.Equal(t, tenantID, event.TenantID)
	assert.Equal(t, userID, event.UserID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestLogQueryDenied(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	tenantID, serviceID, userID := uuid.New(), uuid.New(), uuid.New()

	auditor.LogQueryDenied(tenantID, serviceID, userID, DeniedQueryDetails{
		Reason:      "query contains forbidden keyword DROP TABLE",
		QueryText:   "DROP TABLE users",
		ServiceName: "orders-search",
	})

	logs := recorded.All()
	require.Len(t, logs, 1)
	entry := logs[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)

	fields := entry.ContextMap()
	assert.Contains(t, fields["reason"], "DROP TABLE")

	var event SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(fields["event_json"].(string)), &event))
	assert.Equal(t, EventQueryDenied, event.EventType)
	assert.Equal(t, "warning", event.Severity)
}

func TestLogParameterValidation(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	auditor.LogParameterValidation(uuid.New(), uuid.New(), uuid.New(),
		"customer_id is required but not provided")

	logs := recorded.All()
	require.Len(t, logs, 1)
	assert.Equal(t, zapcore.WarnLevel, logs[0].Level)
	assert.Contains(t, logs[0].ContextMap()["error"], "customer_id")
}
