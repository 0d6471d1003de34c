package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"veriledger/internal/ledger/correction"
	"veriledger/internal/ledger/export"
	"veriledger/internal/ledger/handler/mocks"
	"veriledger/internal/ledger/intake"
	"veriledger/internal/ledger/models"
	"veriledger/internal/ledger/ratelimit"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
	authmw "veriledger/pkg/platform/middleware/auth"
	"veriledger/pkg/platform/middleware/internaltoken"
)

const internalSecret = "internal-secret"

// staticValidator accepts "<role>-token" bearer tokens.
type staticValidator struct {
	userID string
}

func (v staticValidator) ValidateToken(token string) (*authmw.JWTClaims, error) {
	role, ok := strings.CutSuffix(token, "-token")
	if !ok {
		return nil, errors.New("invalid token")
	}
	return &authmw.JWTClaims{UserID: v.userID, Roles: []string{role}}, nil
}

type HandlerSuite struct {
	suite.Suite
	router      chi.Router
	recorder    *mocks.MockRecorder
	corrections *mocks.MockCorrections
	verifier    *mocks.MockVerifier
	resolver    *mocks.MockResolver
	exporter    *mocks.MockExporter
	userID      id.UserID
	companyID   id.CompanyID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	s.recorder = mocks.NewMockRecorder(ctrl)
	s.corrections = mocks.NewMockCorrections(ctrl)
	s.verifier = mocks.NewMockVerifier(ctrl)
	s.resolver = mocks.NewMockResolver(ctrl)
	s.exporter = mocks.NewMockExporter(ctrl)
	s.userID = id.UserID(uuid.New())
	s.companyID = id.CompanyID(uuid.New())

	h := New(Deps{
		Recorder:      s.recorder,
		Corrections:   s.corrections,
		Verifier:      s.verifier,
		Resolver:      s.resolver,
		Exporter:      s.exporter,
		JWTValidator:  staticValidator{userID: s.userID.String()},
		InternalToken: internalSecret,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) do(method, target, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerSuite) doInternal(method, target, secret string, body any) *httptest.ResponseRecorder {
	raw, err := json.Marshal(body)
	s.Require().NoError(err)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set(internaltoken.Header, secret)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](s *HandlerSuite, w *httptest.ResponseRecorder) T {
	var out T
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *HandlerSuite) TestVerifyByCode() {
	s.resolver.EXPECT().Resolve(gomock.Any(), "7K3M-9QXR-2B4T-HW8N").Return(&models.Resolution{
		Valid:      true,
		EntityType: "factura",
		Status:     models.StatusActive,
		Summary:    map[string]string{"invoice_number": "A-17"},
	})

	w := s.do(http.MethodGet, "/v1/verify/7K3M-9QXR-2B4T-HW8N", "", nil)

	s.Equal(http.StatusOK, w.Code)
	s.Equal("no-store", w.Header().Get("Cache-Control"))
	res := decode[models.Resolution](s, w)
	s.True(res.Valid)
	s.Equal("A-17", res.Summary["invoice_number"])
}

func (s *HandlerSuite) TestPublicLookupsAreThrottled() {
	h := New(Deps{
		Resolver:      s.resolver,
		PublicLimiter: ratelimit.New(ratelimit.NewInMemoryStore(), 2, time.Minute),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	router := chi.NewRouter()
	h.Register(router)
	s.resolver.EXPECT().Resolve(gomock.Any(), "NOPE").Return(models.Miss()).Times(2)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/v1/verify/NOPE", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	s.Equal([]int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func (s *HandlerSuite) TestVerifyMissIsStill200() {
	s.resolver.EXPECT().Resolve(gomock.Any(), "NOPE").Return(models.Miss())

	w := s.do(http.MethodGet, "/v1/verify/NOPE", "", nil)

	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"valid":false}`, w.Body.String())
}

func (s *HandlerSuite) TestVerifyQRPassesQueryString() {
	query := "c=" + s.companyID.String() + "&t=facturas&n=3&h=abcd&csv=7K3M9QXR2B4THW8N"
	s.resolver.EXPECT().Resolve(gomock.Any(), query).Return(models.Miss())

	w := s.do(http.MethodGet, "/v1/verify?"+query, "", nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *HandlerSuite) TestVerifyQRBareCode() {
	s.resolver.EXPECT().Resolve(gomock.Any(), "7K3M9QXR2B4THW8N").Return(models.Miss())

	w := s.do(http.MethodGet, "/v1/verify?code=7K3M9QXR2B4THW8N", "", nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *HandlerSuite) TestVerifyEmptyInputIs400() {
	w := s.do(http.MethodGet, "/v1/verify", "", nil)
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/v1/verify?code=%20", "", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlerSuite) TestCorrectionRoutesRequireAuth() {
	w := s.do(http.MethodGet, "/v1/corrections/"+uuid.NewString(), "", nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/v1/corrections/"+uuid.NewString(), "garbage", nil)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *HandlerSuite) TestRoleChecks() {
	tests := []struct {
		name   string
		method string
		path   string
		token  string
	}{
		{"clerk cannot approve", http.MethodPut, "/v1/corrections/" + uuid.NewString() + "/approve", "clerk-token"},
		{"auditor cannot request", http.MethodPost, "/v1/corrections", "auditor-token"},
		{"clerk cannot export", http.MethodGet, "/v1/audit/export", "clerk-token"},
		{"clerk cannot verify chains", http.MethodGet, "/v1/ledger/entries/" + uuid.NewString() + "/verify", "clerk-token"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			w := s.do(tt.method, tt.path, tt.token, map[string]string{})
			s.Equal(http.StatusForbidden, w.Code)
		})
	}
}

func (s *HandlerSuite) TestRequestCorrection() {
	originalID := id.EntryID(uuid.New())
	created := &models.CorrectionRequest{
		ID:         id.CorrectionID(uuid.New()),
		OriginalID: originalID,
		Kind:       models.CorrectionAmend,
		Reason:     "wrong total",
	}
	s.corrections.EXPECT().RequestCorrection(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in correction.RequestInput) (*models.CorrectionRequest, error) {
			s.Equal(originalID, in.OriginalID)
			s.Equal(s.userID, in.RequestedBy)
			s.Equal(models.CorrectionAmend, in.Kind)
			s.JSONEq(`{"number":"17"}`, string(in.ProposedPayload))
			s.Nil(in.RectifyingEntryID)
			return created, nil
		})

	w := s.do(http.MethodPost, "/v1/corrections", "clerk-token", map[string]any{
		"original_id":      originalID.String(),
		"kind":             "amend",
		"reason":           "wrong total",
		"proposed_payload": map[string]string{"number": "17"},
	})

	s.Equal(http.StatusCreated, w.Code)
	body := decode[map[string]any](s, w)
	s.Equal(created.ID.String(), body["id"])
	s.Equal(originalID.String(), body["original_id"])
}

func (s *HandlerSuite) TestRequestCorrectionRejectsBadBodies() {
	tests := []struct {
		name string
		body any
	}{
		{"unknown field", map[string]any{"original_id": uuid.NewString(), "colour": "red"}},
		{"bad original id", map[string]any{"original_id": "seq-3"}},
		{"bad rectifying id", map[string]any{"original_id": uuid.NewString(), "rectifying_entry_id": "x"}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			w := s.do(http.MethodPost, "/v1/corrections", "clerk-token", tt.body)
			s.Equal(http.StatusBadRequest, w.Code)
		})
	}
}

func (s *HandlerSuite) TestApproveReturnsSealedEntry() {
	requestID := id.CorrectionID(uuid.New())
	entry := &models.Entry{
		ID:         id.EntryID(uuid.New()),
		Scope:      models.Scope{CompanyID: s.companyID, ChainType: id.ChainFacturas},
		Seq:        5,
		Kind:       models.KindCorrection,
		Payload:    []byte(`{"secret":"not for clients"}`),
		Hash:       strings.Repeat("ab", 32),
		Code:       "7K3M9QXR2B4THW8N",
		Supersedes: 2,
	}
	s.corrections.EXPECT().Approve(gomock.Any(), requestID, s.userID).Return(entry, nil)

	w := s.do(http.MethodPut, "/v1/corrections/"+requestID.String()+"/approve", "approver-token", nil)

	s.Equal(http.StatusOK, w.Code)
	body := decode[map[string]any](s, w)
	s.Equal(entry.ID.String(), body["id"])
	s.EqualValues(5, body["seq"])
	s.EqualValues(2, body["supersedes"])
	s.NotContains(body, "payload")
}

func (s *HandlerSuite) TestApproveMapsDomainErrors() {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"already decided", dErrors.New(dErrors.CodeInvalidState, "request already decided"), http.StatusConflict},
		{"self approval", dErrors.New(dErrors.CodeForbidden, "requester cannot approve"), http.StatusForbidden},
		{"incomplete void", dErrors.New(dErrors.CodeIncompleteVoid, "rectification missing"), http.StatusUnprocessableEntity},
		{"suspect chain", dErrors.New(dErrors.CodeChainSuspect, "chain under investigation"), http.StatusLocked},
		{"store down", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			requestID := id.CorrectionID(uuid.New())
			s.corrections.EXPECT().Approve(gomock.Any(), requestID, s.userID).Return(nil, tt.err)

			w := s.do(http.MethodPut, "/v1/corrections/"+requestID.String()+"/approve", "approver-token", nil)
			s.Equal(tt.status, w.Code)
			s.NotContains(w.Body.String(), "connection refused")
		})
	}
}

func (s *HandlerSuite) TestRejectPassesReason() {
	requestID := id.CorrectionID(uuid.New())
	s.corrections.EXPECT().Reject(gomock.Any(), requestID, s.userID, "duplicate").
		Return(&models.CorrectionRequest{ID: requestID}, nil)

	w := s.do(http.MethodPut, "/v1/corrections/"+requestID.String()+"/reject", "approver-token",
		map[string]string{"reason": "duplicate"})
	s.Equal(http.StatusOK, w.Code)
}

func (s *HandlerSuite) TestListPending() {
	scope := models.Scope{CompanyID: s.companyID, ChainType: id.ChainFichajes}
	s.corrections.EXPECT().ListPending(gomock.Any(), scope).Return(nil, nil)

	w := s.do(http.MethodGet, "/v1/corrections?company_id="+s.companyID.String()+"&chain_type=fichajes", "auditor-token", nil)

	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"requests":[]}`, w.Body.String())

	w = s.do(http.MethodGet, "/v1/corrections?company_id="+s.companyID.String()+"&chain_type=nominas", "auditor-token", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlerSuite) TestVerifyChain() {
	scope := models.Scope{CompanyID: s.companyID, ChainType: id.ChainFacturas}
	s.verifier.EXPECT().VerifyChain(gomock.Any(), scope, int64(10), int64(20)).Return(&models.VerificationResult{
		Scope: scope, From: 10, To: 20, OK: false, FirstBreakAt: 14, Reason: models.BreakHashMismatch, Checked: 5,
	}, nil)

	w := s.do(http.MethodGet, "/v1/ledger/"+s.companyID.String()+"/facturas/verify?from=10&to=20", "auditor-token", nil)

	s.Equal(http.StatusOK, w.Code)
	res := decode[models.VerificationResult](s, w)
	s.False(res.OK)
	s.Equal(int64(14), res.FirstBreakAt)
	s.Equal(models.BreakHashMismatch, res.Reason)
}

func (s *HandlerSuite) TestVerifyChainRejectsBadRange() {
	w := s.do(http.MethodGet, "/v1/ledger/"+s.companyID.String()+"/facturas/verify?from=-1", "auditor-token", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlerSuite) TestVerifyEntryNotFound() {
	entryID := id.EntryID(uuid.New())
	s.verifier.EXPECT().VerifySingle(gomock.Any(), entryID).Return(nil, dErrors.New(dErrors.CodeNotFound, "entry not found"))

	w := s.do(http.MethodGet, "/v1/ledger/entries/"+entryID.String()+"/verify", "approver-token", nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlerSuite) TestExportStreamsAttachment() {
	s.exporter.EXPECT().Export(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, w io.Writer, req export.Request) error {
			s.Equal(s.companyID, req.Scope.CompanyID)
			s.Equal(id.ChainFacturas, req.Scope.ChainType)
			s.Equal(export.FormatXML, req.Format)
			s.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), req.From)
			s.Equal([]string{"correction_approved", "audit_exported"}, req.EventTypes)
			s.Equal(s.userID.String(), req.ActorID)
			_, err := io.WriteString(w, "<RegistroAuditoria/>")
			return err
		})

	w := s.do(http.MethodGet, "/v1/audit/export?company_id="+s.companyID.String()+
		"&chain_type=facturas&format=xml&from=2025-01-01&event_type=correction_approved,audit_exported", "auditor-token", nil)

	s.Equal(http.StatusOK, w.Code)
	s.Equal("application/xml", w.Header().Get("Content-Type"))
	s.Contains(w.Header().Get("Content-Disposition"), `attachment; filename="auditoria_fiscal_`)
	s.Contains(w.Header().Get("Content-Disposition"), `.xml"`)
	s.Equal("<RegistroAuditoria/>", w.Body.String())
}

func (s *HandlerSuite) TestExportFailureBeforeWriteIsJSONError() {
	s.exporter.EXPECT().Export(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(dErrors.Wrap(errors.New("audit store down"), dErrors.CodeInternal, "export could not be audited"))

	w := s.do(http.MethodGet, "/v1/audit/export?company_id="+s.companyID.String()+"&chain_type=facturas", "auditor-token", nil)

	s.Equal(http.StatusInternalServerError, w.Code)
	s.Empty(w.Header().Get("Content-Disposition"))
	s.JSONEq(`{"error":"internal_error"}`, w.Body.String())
}

func (s *HandlerSuite) TestExportRejectsBadDate() {
	w := s.do(http.MethodGet, "/v1/audit/export?company_id="+s.companyID.String()+"&from=yesterday", "auditor-token", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlerSuite) TestInternalRoutesRequireToken() {
	w := s.doInternal(http.MethodPost, "/internal/audit-events", "wrong", map[string]string{})
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/internal/ledger/"+s.companyID.String()+"/fichajes/entries", "approver-token", map[string]string{})
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *HandlerSuite) TestRecordEntry() {
	scope := models.Scope{CompanyID: s.companyID, ChainType: id.ChainFichajes}
	receipt := &intake.Receipt{ID: uuid.NewString(), Seq: 1, Hash: strings.Repeat("0f", 32), Code: "7K3M9QXR2B4THW8N", QR: "https://v.example/v1/verify?csv=7K3M9QXR2B4THW8N"}
	s.recorder.EXPECT().Record(gomock.Any(), scope, gomock.Any(), "timeclock").
		DoAndReturn(func(_ context.Context, _ models.Scope, raw json.RawMessage, _ string) (*intake.Receipt, error) {
			s.JSONEq(`{"employee_id":"E-1","punch_type":"entrada","punched_at":"2025-03-01T08:00:00Z"}`, string(raw))
			return receipt, nil
		})

	w := s.doInternal(http.MethodPost, "/internal/ledger/"+s.companyID.String()+"/fichajes/entries", internalSecret, map[string]any{
		"issuer_id": "timeclock",
		"payload": map[string]string{
			"employee_id": "E-1",
			"punch_type":  "entrada",
			"punched_at":  "2025-03-01T08:00:00Z",
		},
	})

	s.Equal(http.StatusCreated, w.Code)
	got := decode[intake.Receipt](s, w)
	s.Equal(*receipt, got)
}

func (s *HandlerSuite) TestRecordEncodingErrorIs400() {
	s.recorder.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeEncoding, "total: must equal base_amount + tax_amount"))

	w := s.doInternal(http.MethodPost, "/internal/ledger/"+s.companyID.String()+"/facturas/entries", internalSecret,
		map[string]any{"issuer_id": "billing", "payload": map[string]string{}})

	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Body.String(), "encoding_error")
}

func (s *HandlerSuite) TestReportAuditEvent() {
	s.recorder.EXPECT().ReportEvent(gomock.Any(), intake.Event{
		Action:    "backup_completed",
		CompanyID: s.companyID.String(),
		ActorID:   "backup-job",
	}).Return(nil)

	w := s.doInternal(http.MethodPost, "/internal/audit-events", internalSecret, map[string]string{
		"action":     "backup_completed",
		"company_id": s.companyID.String(),
		"actor_id":   "backup-job",
	})
	s.Equal(http.StatusAccepted, w.Code)
}
