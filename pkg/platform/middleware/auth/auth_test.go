package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"veriledger/pkg/requestcontext"
	"veriledger/pkg/testutil"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (v stubValidator) ValidateToken(string) (*JWTClaims, error) {
	return v.claims, v.err
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// echoActor writes the actor and roles the middleware stored.
var echoActor = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("X-Actor", requestcontext.UserID(ctx).String())
	w.Header().Set("X-Roles", strings.Join(requestcontext.Roles(ctx), ","))
	w.WriteHeader(http.StatusNoContent)
})

func TestRequireAuth(t *testing.T) {
	userID := uuid.New()

	testutil.Given(t, "a valid bearer token", func(t *testing.T) {
		h := RequireAuth(stubValidator{claims: &JWTClaims{UserID: userID.String(), Roles: []string{RoleApprover}}}, discard)(echoActor)
		req := testutil.NewRequest(t, http.MethodGet, "/v1/corrections")
		req.Header.Set("Authorization", "Bearer good")

		rr := testutil.DoRequest(h, req)

		testutil.Then(t, "the actor and roles reach the handler", func(t *testing.T) {
			testutil.AssertStatus(t, rr, http.StatusNoContent)
			assert.Equal(t, userID.String(), rr.Header().Get("X-Actor"))
			assert.Equal(t, RoleApprover, rr.Header().Get("X-Roles"))
		})
	})

	tests := []struct {
		name      string
		header    string
		validator stubValidator
	}{
		{name: "missing header", header: "", validator: stubValidator{}},
		{name: "not a bearer token", header: "Basic abc", validator: stubValidator{}},
		{name: "rejected token", header: "Bearer bad", validator: stubValidator{err: errors.New("expired")}},
		{name: "subject is not a uuid", header: "Bearer odd", validator: stubValidator{claims: &JWTClaims{UserID: "clerk-7"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.NewRequest(t, http.MethodGet, "/v1/corrections")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := testutil.DoRequest(RequireAuth(tt.validator, discard)(echoActor), req)
			testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func TestRequireRole(t *testing.T) {
	userID := uuid.NewString()
	h := RequireRole(discard, RoleAuditor, RoleApprover)(echoActor)

	tests := []struct {
		name   string
		roles  []string
		status int
	}{
		{name: "auditor", roles: []string{RoleAuditor}, status: http.StatusNoContent},
		{name: "approver among others", roles: []string{RoleClerk, RoleApprover}, status: http.StatusNoContent},
		{name: "clerk only", roles: []string{RoleClerk}, status: http.StatusForbidden},
		{name: "no roles", roles: nil, status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.WithAuth(testutil.NewRequest(t, http.MethodGet, "/v1/audit/export"), userID, tt.roles...)
			rr := testutil.DoRequest(h, req)
			testutil.AssertStatus(t, rr, tt.status)
			if tt.status == http.StatusForbidden {
				assert.Equal(t, "forbidden", testutil.UnmarshalErrorResponse(t, rr)["error"])
			}
		})
	}
}
