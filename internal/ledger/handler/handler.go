package handler

//go:generate mockgen -source=handler.go -destination=mocks/handler_mocks.go -package=mocks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"veriledger/internal/ledger/correction"
	"veriledger/internal/ledger/export"
	"veriledger/internal/ledger/intake"
	"veriledger/internal/ledger/models"
	"veriledger/internal/ledger/ratelimit"
	"veriledger/internal/platform/metrics"
	"veriledger/internal/platform/middleware"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
	"veriledger/pkg/platform/httputil"
	authmw "veriledger/pkg/platform/middleware/auth"
	"veriledger/pkg/platform/middleware/internaltoken"
	"veriledger/pkg/platform/middleware/metadata"
	"veriledger/pkg/platform/middleware/requesttime"
	platformstrings "veriledger/pkg/platform/strings"
	"veriledger/pkg/requestcontext"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Recorder seals records and accepts audit events from collaborators.
type Recorder interface {
	Record(ctx context.Context, scope models.Scope, raw json.RawMessage, issuerID string) (*intake.Receipt, error)
	ReportEvent(ctx context.Context, event intake.Event) error
}

// Corrections drives the four-eyes correction workflow.
type Corrections interface {
	RequestCorrection(ctx context.Context, in correction.RequestInput) (*models.CorrectionRequest, error)
	Approve(ctx context.Context, requestID id.CorrectionID, approver id.UserID) (*models.Entry, error)
	Reject(ctx context.Context, requestID id.CorrectionID, rejecter id.UserID, reason string) (*models.CorrectionRequest, error)
	Get(ctx context.Context, requestID id.CorrectionID) (*models.CorrectionRequest, error)
	ListPending(ctx context.Context, scope models.Scope) ([]*models.CorrectionRequest, error)
}

// Verifier runs on-demand integrity checks.
type Verifier interface {
	VerifyChain(ctx context.Context, scope models.Scope, from, to int64) (*models.VerificationResult, error)
	VerifySingle(ctx context.Context, entryID id.EntryID) (*models.VerificationResult, error)
}

// Resolver answers public verification lookups. It never fails: unknown or
// broken codes resolve to a miss.
type Resolver interface {
	Resolve(ctx context.Context, input string) *models.Resolution
}

type Exporter interface {
	Export(ctx context.Context, w io.Writer, req export.Request) error
}

// Deps are the collaborators a Handler needs.
type Deps struct {
	Recorder      Recorder
	Corrections   Corrections
	Verifier      Verifier
	Resolver      Resolver
	Exporter      Exporter
	JWTValidator  authmw.JWTValidator
	InternalToken string
	// SecurityAuditor receives rejected internal-token calls.
	SecurityAuditor internaltoken.SecurityAuditor
	// PublicLimiter throttles anonymous lookups; nil disables it.
	PublicLimiter *ratelimit.Limiter
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Handler serves the public, workflow, admin and internal ledger routes.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{deps: deps, logger: logger}
}

// Register mounts every ledger route on r.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(metadata.ClientMetadata)
	router.Use(requesttime.Middleware)
	router.Use(middleware.Logger(h.logger, h.deps.Metrics))

	router.Group(func(r chi.Router) {
		r.Use(h.deps.PublicLimiter.Middleware)
		r.Get("/v1/verify/{code}", h.handleVerifyCode)
		r.Get("/v1/verify", h.handleVerifyQR)
	})

	router.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(h.deps.JWTValidator, h.logger))

		r.With(authmw.RequireRole(h.logger, authmw.RoleClerk, authmw.RoleApprover)).
			Post("/v1/corrections", h.handleRequestCorrection)
		r.With(authmw.RequireRole(h.logger, authmw.RoleClerk, authmw.RoleApprover, authmw.RoleAuditor)).
			Get("/v1/corrections", h.handleListCorrections)
		r.With(authmw.RequireRole(h.logger, authmw.RoleClerk, authmw.RoleApprover, authmw.RoleAuditor)).
			Get("/v1/corrections/{id}", h.handleGetCorrection)
		r.With(authmw.RequireRole(h.logger, authmw.RoleApprover)).
			Put("/v1/corrections/{id}/approve", h.handleApproveCorrection)
		r.With(authmw.RequireRole(h.logger, authmw.RoleApprover)).
			Put("/v1/corrections/{id}/reject", h.handleRejectCorrection)

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireRole(h.logger, authmw.RoleAuditor, authmw.RoleApprover))
			r.Get("/v1/ledger/{company}/{chain}/verify", h.handleVerifyChain)
			r.Get("/v1/ledger/entries/{id}/verify", h.handleVerifyEntry)
			r.Get("/v1/audit/export", h.handleExport)
		})
	})

	router.Group(func(r chi.Router) {
		r.Use(internaltoken.Require(h.deps.InternalToken, h.deps.SecurityAuditor, h.logger))
		r.Post("/internal/ledger/{company}/{chain}/entries", h.handleRecord)
		r.Post("/internal/audit-events", h.handleAuditEvent)
	})

	r.Mount("/", router)
}

// Public verification

func (h *Handler) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, chi.URLParam(r, "code"))
}

// handleVerifyQR accepts the query string printed in a QR code, or a bare
// ?code= lookup.
func (h *Handler) handleVerifyQR(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	input := r.URL.RawQuery
	if query.Get("csv") == "" {
		input = query.Get("code")
	}
	h.resolve(w, r, input)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, input string) {
	if strings.TrimSpace(input) == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "verification code is required"))
		return
	}
	res := h.deps.Resolver.Resolve(r.Context(), input)
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, res)
}

// Correction workflow

type requestCorrectionBody struct {
	OriginalID        string          `json:"original_id"`
	Kind              string          `json:"kind"`
	Reason            string          `json:"reason"`
	ProposedPayload   json.RawMessage `json:"proposed_payload,omitempty"`
	RectifyingEntryID string          `json:"rectifying_entry_id,omitempty"`
}

type rejectBody struct {
	Reason string `json:"reason"`
}

type listCorrectionsResponse struct {
	Requests []*models.CorrectionRequest `json:"requests"`
}

func (h *Handler) handleRequestCorrection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var body requestCorrectionBody
	if err := decodeJSON(r, &body); err != nil {
		h.logger.WarnContext(ctx, "invalid correction request body",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	originalID, err := id.ParseEntryID(body.OriginalID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	in := correction.RequestInput{
		OriginalID:      originalID,
		Kind:            models.CorrectionKind(body.Kind),
		Reason:          body.Reason,
		RequestedBy:     requestcontext.UserID(ctx),
		ProposedPayload: body.ProposedPayload,
	}
	if body.RectifyingEntryID != "" {
		rectifying, err := id.ParseEntryID(body.RectifyingEntryID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		in.RectifyingEntryID = &rectifying
	}

	req, err := h.deps.Corrections.RequestCorrection(ctx, in)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to request correction", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, req)
}

func (h *Handler) handleListCorrections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, err := models.NewScope(r.URL.Query().Get("company_id"), r.URL.Query().Get("chain_type"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pending, err := h.deps.Corrections.ListPending(ctx, scope)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list corrections", err)
		return
	}
	if pending == nil {
		pending = []*models.CorrectionRequest{}
	}
	httputil.WriteJSON(w, http.StatusOK, listCorrectionsResponse{Requests: pending})
}

func (h *Handler) handleGetCorrection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseCorrectionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.deps.Corrections.Get(ctx, requestID)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to load correction", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) handleApproveCorrection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseCorrectionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entry, err := h.deps.Corrections.Approve(ctx, requestID, requestcontext.UserID(ctx))
	if err != nil {
		h.writeServiceError(ctx, w, "failed to approve correction", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) handleRejectCorrection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseCorrectionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var body rejectBody
	if err := decodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.deps.Corrections.Reject(ctx, requestID, requestcontext.UserID(ctx), body.Reason)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to reject correction", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

// Admin

func (h *Handler) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, err := models.NewScope(chi.URLParam(r, "company"), chi.URLParam(r, "chain"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	from, err := parseSeq(r.URL.Query().Get("from"), "from")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseSeq(r.URL.Query().Get("to"), "to")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.deps.Verifier.VerifyChain(ctx, scope, from, to)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to verify chain", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleVerifyEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entryID, err := id.ParseEntryID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.deps.Verifier.VerifySingle(ctx, entryID)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to verify entry", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := exportRequest(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req.ActorID = requestcontext.UserID(ctx).String()

	now := requestcontext.Now(ctx)
	w.Header().Set("Content-Type", export.ContentType(req.Format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(req.Format, now)+`"`)
	cw := &countingWriter{w: w}
	if err := h.deps.Exporter.Export(ctx, cw, req); err != nil {
		if cw.n == 0 {
			w.Header().Del("Content-Disposition")
			h.writeServiceError(ctx, w, "failed to export", err)
			return
		}
		// Headers are gone; the truncated body is all the client gets.
		h.logger.ErrorContext(ctx, "export aborted mid-stream",
			"request_id", requestcontext.RequestID(ctx),
			"bytes", cw.n,
			"error", err,
		)
	}
}

func exportRequest(r *http.Request) (export.Request, error) {
	q := r.URL.Query()
	req := export.Request{
		Source: export.Source(q.Get("source")),
		Format: export.Format(q.Get("format")),
	}
	if raw := q.Get("company_id"); raw != "" {
		companyID, err := id.ParseCompanyID(raw)
		if err != nil {
			return req, err
		}
		req.Scope.CompanyID = companyID
	}
	if raw := q.Get("chain_type"); raw != "" {
		ct, err := id.ParseChainType(raw)
		if err != nil {
			return req, err
		}
		req.Scope.ChainType = ct
	}
	var err error
	if req.From, err = parseDate(q.Get("from"), "from"); err != nil {
		return req, err
	}
	if req.To, err = parseDate(q.Get("to"), "to"); err != nil {
		return req, err
	}
	if req.FromSeq, err = parseSeq(q.Get("from_seq"), "from_seq"); err != nil {
		return req, err
	}
	if req.ToSeq, err = parseSeq(q.Get("to_seq"), "to_seq"); err != nil {
		return req, err
	}
	req.EventTypes = platformstrings.SplitList(q["event_type"])
	return req, nil
}

// Internal

type recordBody struct {
	IssuerID string          `json:"issuer_id"`
	Payload  json.RawMessage `json:"payload"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, err := models.NewScope(chi.URLParam(r, "company"), chi.URLParam(r, "chain"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var body recordBody
	if err := decodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	receipt, err := h.deps.Recorder.Record(ctx, scope, body.Payload, body.IssuerID)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to seal record", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) handleAuditEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var event intake.Event
	if err := decodeJSON(r, &event); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.deps.Recorder.ReportEvent(ctx, event); err != nil {
		h.writeServiceError(ctx, w, "failed to record audit event", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// writeServiceError logs server-side failures at ERROR and client mistakes
// at WARN, then renders the coded error.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	status := httputil.StatusFor(dErrors.CodeOf(err))
	attrs := []any{"request_id", requestcontext.RequestID(ctx), "error", err.Error()}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

type entryResponse struct {
	ID         string           `json:"id"`
	Scope      models.Scope     `json:"scope"`
	Seq        int64            `json:"seq"`
	Kind       models.EntryKind `json:"kind"`
	PrevHash   string           `json:"prev_hash"`
	Hash       string           `json:"hash"`
	Code       string           `json:"code"`
	Supersedes int64            `json:"supersedes,omitempty"`
	Voids      int64            `json:"voids,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

func toEntryResponse(e *models.Entry) entryResponse {
	return entryResponse{
		ID:         e.ID.String(),
		Scope:      e.Scope,
		Seq:        e.Seq,
		Kind:       e.Kind,
		PrevHash:   e.PrevHash,
		Hash:       e.Hash,
		Code:       e.Code,
		Supersedes: e.Supersedes,
		Voids:      e.Voids,
		CreatedAt:  e.CreatedAt,
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return dErrors.New(dErrors.CodeBadRequest, "request body is required")
		}
		return dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}

func parseSeq(raw, name string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, dErrors.Newf(dErrors.CodeBadRequest, "%s must be a non-negative integer", name)
	}
	return n, nil
}

// parseDate accepts a calendar day or an RFC 3339 timestamp.
func parseDate(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.Newf(dErrors.CodeBadRequest, "%s must be YYYY-MM-DD or RFC 3339", name)
	}
	return t, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
