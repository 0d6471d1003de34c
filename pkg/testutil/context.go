package testutil

import (
	"net/http"

	id "veriledger/pkg/domain"
	"veriledger/pkg/requestcontext"
)

// WithUserID adds a user ID to the request context, as the auth middleware
// does for authenticated requests. Invalid UUIDs are ignored.
func WithUserID(req *http.Request, userID string) *http.Request {
	if parsed, err := id.ParseUserID(userID); err == nil {
		return req.WithContext(requestcontext.WithUserID(req.Context(), parsed))
	}
	return req
}

// WithAuth adds a user ID and roles to the request context.
func WithAuth(req *http.Request, userID string, roles ...string) *http.Request {
	req = WithUserID(req, userID)
	return req.WithContext(requestcontext.WithRoles(req.Context(), roles))
}
