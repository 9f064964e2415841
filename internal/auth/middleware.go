package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alecgard/costscope/internal/logging"
)

type contextKey int

const principalContextKey contextKey = iota

// ContextWithPrincipal returns a new context carrying p.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext extracts the principal from the context, or nil if not present.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}

// Authenticator validates a raw bearer token.
type Authenticator interface {
	Validate(ctx context.Context, raw string) (*Principal, error)
}

// Recorder counts authentication results.
type Recorder interface {
	IncAuthSuccess()
	IncAuthFailure(reason string)
}

// Middleware rejects requests without a valid bearer token. The precise
// failure is logged; the caller only sees a generic 401. On success the
// principal (including the raw token) is stored in the request context.
func Middleware(a Authenticator, rec Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				fail(w, r, rec, ErrMissingToken)
				return
			}

			p, err := a.Validate(r.Context(), token)
			if err != nil {
				fail(w, r, rec, err)
				return
			}
			if rec != nil {
				rec.IncAuthSuccess()
			}

			ctx := ContextWithPrincipal(r.Context(), p)
			ctx = logging.WithSubject(ctx, p.ID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func fail(w http.ResponseWriter, r *http.Request, rec Recorder, err error) {
	reason := Reason(err)
	slog.WarnContext(r.Context(), "authentication failed",
		"reason", reason,
		"error", err,
		"path", r.URL.Path,
	)
	if rec != nil {
		rec.IncAuthFailure(reason)
	}

	msg := "Unauthorized: Invalid token"
	if errors.Is(err, ErrMissingToken) {
		msg = "Access token is required"
	}
	writeUnauthorized(w, msg)
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
