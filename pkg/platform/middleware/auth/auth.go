package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "veriledger/pkg/domain"
	"veriledger/pkg/requestcontext"
)

// Staff roles carried in access tokens.
const (
	RoleClerk    = "clerk"
	RoleApprover = "approver"
	RoleAuditor  = "auditor"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID string
	Roles  []string
	JTI    string
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth validates the bearer token and stores the actor and roles in
// the request context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}
			userID, err := id.ParseUserID(claims.UserID)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid subject",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithUserID(ctx, userID)
			ctx = requestcontext.WithRoles(ctx, claims.Roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects actors holding none of roles. It must run after
// RequireAuth.
func RequireRole(logger *slog.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if !requestcontext.HasRole(ctx, roles...) {
				logger.WarnContext(ctx, "forbidden - missing role",
					"required", roles,
					"user_id", requestcontext.UserID(ctx).String(),
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusForbidden, "forbidden", "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
