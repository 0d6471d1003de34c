// Package internaltoken guards routes called by collaborator services with a
// shared secret.
package internaltoken

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	audit "veriledger/pkg/platform/audit"
	"veriledger/pkg/requestcontext"
)

// Header carries the shared secret.
const Header = "X-Internal-Token"

// SecurityAuditor records rejected calls.
type SecurityAuditor interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

func Require(expectedToken string, auditor SecurityAuditor, logger *slog.Logger) func(http.Handler) http.Handler {
	expected := []byte(expectedToken)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(Header)
			// Use constant-time comparison to prevent timing attacks
			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "internal token mismatch",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				if auditor != nil {
					auditor.Emit(ctx, audit.SecurityEvent{
						Timestamp: requestcontext.Now(ctx),
						Action:    string(audit.EventInternalAuthFailed),
						Subject:   r.URL.Path,
						IP:        requestcontext.ClientIP(ctx),
						RequestID: requestcontext.RequestID(ctx),
						Severity:  audit.SeverityWarning,
					})
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"internal token required"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
