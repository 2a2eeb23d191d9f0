package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess      AuditEvent = "login_success"
	AuditLoginFailure      AuditEvent = "login_failure"
	AuditLoginMFARequired  AuditEvent = "login_mfa_required"
	AuditLoginRateLimited  AuditEvent = "login_rate_limited"
	AuditLogout            AuditEvent = "logout"
	AuditMFASetup          AuditEvent = "mfa_setup"
	AuditMFAEnabled        AuditEvent = "mfa_enabled"
	AuditMFADisabled       AuditEvent = "mfa_disabled"
	AuditMFAFailure        AuditEvent = "mfa_failure"
	AuditRecoveryCodeUsed  AuditEvent = "recovery_code_used"
	AuditSecretStored      AuditEvent = "secret_stored"
	AuditSecretDeleted     AuditEvent = "secret_deleted"
	AuditSessionTerminated AuditEvent = "session_terminated"
	AuditSessionsCleared   AuditEvent = "sessions_cleared"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
}

// logEvent is a convenience for events with an owner ID.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, ownerID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("owner_id", ownerID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a failed authentication attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
