// Package audit provides security audit logging for SIEM consumption.
// Security-relevant events are logged as structured JSON so they can be
// filtered and alerted on independently of application logs.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventInjectionAttempt is logged when libinjection detects SQL injection
	// patterns in a parameter value.
	EventInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventQueryDenied is logged when a rendered query fails the denylist or
	// category shape checks.
	EventQueryDenied SecurityEventType = "query_denied"
	// EventParameterValidation is logged when parameter validation fails.
	EventParameterValidation SecurityEventType = "parameter_validation_failure"
)

// SecurityEvent is one auditable security event with the context a SIEM
// needs for analysis. Identity fields are passed explicitly by the caller;
// nothing is read from ambient state.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	TenantID  uuid.UUID         `json:"tenant_id"`
	ServiceID uuid.UUID         `json:"service_id,omitempty"`
	UserID    uuid.UUID         `json:"user_id,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// InjectionDetails carries the specifics of a detected injection attempt.
type InjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
	ServiceName string `json:"service_name"`
}

// DeniedQueryDetails carries the reason a query was rejected pre-dispatch.
type DeniedQueryDetails struct {
	Reason      string `json:"reason"`
	QueryText   string `json:"query_text"` // truncated, credentials redacted
	ServiceName string `json:"service_name"`
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor namespaces the logger under "security_audit" so SIEM
// pipelines can route these events separately.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a detected injection attempt at ERROR level
// with critical severity for immediate alerting.
func (a *SecurityAuditor) LogInjectionAttempt(tenantID, serviceID, userID uuid.UUID, details InjectionDetails) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventInjectionAttempt,
		TenantID:  tenantID,
		ServiceID: serviceID,
		UserID:    userID,
		Details:   details,
		Severity:  "critical",
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("tenant_id", tenantID.String()),
		zap.String("service_id", serviceID.String()),
		zap.String("user_id", userID.String()),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", "critical"),
	)
}

// LogQueryDenied records a query rejected by the denylist or shape checks.
// WARN level: usually misconfiguration, occasionally probing.
func (a *SecurityAuditor) LogQueryDenied(tenantID, serviceID, userID uuid.UUID, details DeniedQueryDetails) {
	details.QueryText = logging.SanitizeQuery(details.QueryText)

	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventQueryDenied,
		TenantID:  tenantID,
		ServiceID: serviceID,
		UserID:    userID,
		Details:   details,
		Severity:  "warning",
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("query denied",
		zap.String("event_json", string(eventJSON)),
		zap.String("tenant_id", tenantID.String()),
		zap.String("service_id", serviceID.String()),
		zap.String("reason", details.Reason),
	)
}

// LogParameterValidation records a parameter validation failure at WARN
// level; these are typically user errors, not attacks.
func (a *SecurityAuditor) LogParameterValidation(tenantID, serviceID, userID uuid.UUID, errorMessage string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventParameterValidation,
		TenantID:  tenantID,
		ServiceID: serviceID,
		UserID:    userID,
		Details:   map[string]string{"error": errorMessage},
		Severity:  "warning",
	}
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("parameter validation failed",
		zap.String("event_json", string(eventJSON)),
		zap.String("tenant_id", tenantID.String()),
		zap.String("service_id", serviceID.String()),
		zap.String("error", errorMessage),
	)
}
