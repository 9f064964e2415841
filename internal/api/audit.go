package api

import (
	"log/slog"
	"net/http"

	"github.com/alecgard/costscope/internal/auth"
	"github.com/alecgard/costscope/internal/logging"
)

// auditLog emits a structured audit log entry for a served report.
func auditLog(r *http.Request, report string, detail ...any) {
	attrs := []any{
		"report", report,
		"ip", clientIP(r),
		"request_id", logging.RequestID(r.Context()),
	}

	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		attrs = append(attrs, "principal_id", p.ID(), "tenant_id", p.TenantID)
		if p.UniqueName != "" {
			attrs = append(attrs, "principal_name", p.UniqueName)
		}
	}

	attrs = append(attrs, detail...)
	slog.Info("audit", attrs...)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
