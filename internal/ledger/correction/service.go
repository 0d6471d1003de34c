// Package correction manages requests to supersede or void sealed entries.
// An approved request seals exactly one new entry that references the
// original; the original entry is never touched.
package correction

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"veriledger/internal/ledger/canonical"
	"veriledger/internal/ledger/metrics"
	"veriledger/internal/ledger/models"
	"veriledger/internal/ledger/seal"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
	audit "veriledger/pkg/platform/audit"
	"veriledger/pkg/platform/sentinel"
	txcontext "veriledger/pkg/platform/tx"
	"veriledger/pkg/requestcontext"
)

const maxReasonLength = 1000

// Ledger is the read side of the chain store the manager needs.
type Ledger interface {
	ByID(ctx context.Context, entryID id.EntryID) (*models.Entry, error)
	StatusOf(ctx context.Context, scope models.Scope, seq int64) (models.Status, error)
}

type Sealer interface {
	SealWithRetry(ctx context.Context, scope models.Scope, kind models.EntryKind, payload canonical.Object, meta models.SealMeta) (*models.Entry, error)
}

// AuditPublisher records compliance events. Emit failures abort the operation.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// CacheInvalidator drops cached public verification results for codes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, codes ...string)
}

// RequestInput is a correction or void request as submitted by a clerk.
type RequestInput struct {
	OriginalID        id.EntryID
	Kind              models.CorrectionKind
	Reason            string
	RequestedBy       id.UserID
	ProposedPayload   json.RawMessage
	RectifyingEntryID *id.EntryID
}

type Service struct {
	requests Store
	ledger   Ledger
	sealer   Sealer
	tx       txcontext.Runner
	auditor  AuditPublisher
	cache    CacheInvalidator
	metrics  *metrics.Metrics
	logger   *slog.Logger
	locks    *seal.ScopeLocker
	newID    func() id.CorrectionID
}

type Option func(*Service)

func WithTxRunner(tx txcontext.Runner) Option {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithCacheInvalidator(c CacheInvalidator) Option {
	return func(s *Service) { s.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithIDGenerator(gen func() id.CorrectionID) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

func New(requests Store, ledger Ledger, sealer Sealer, opts ...Option) *Service {
	s := &Service{
		requests: requests,
		ledger:   ledger,
		sealer:   sealer,
		tx:       txcontext.NopRunner{},
		logger:   slog.Default(),
		locks:    seal.NewScopeLocker(),
		newID:    func() id.CorrectionID { return id.CorrectionID(uuid.New()) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RequestCorrection records a pending request against an active entry.
func (s *Service) RequestCorrection(ctx context.Context, in RequestInput) (*models.CorrectionRequest, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	original, err := s.loadEntry(ctx, in.OriginalID)
	if err != nil {
		return nil, err
	}
	if err := s.requireActive(ctx, original); err != nil {
		return nil, err
	}
	if err := s.checkCorrection(ctx, original, in.Kind, in.ProposedPayload, in.RectifyingEntryID); err != nil {
		return nil, err
	}

	req := &models.CorrectionRequest{
		ID:                s.newID(),
		Scope:             original.Scope,
		OriginalID:        original.ID,
		OriginalSeq:       original.Seq,
		Kind:              in.Kind,
		Reason:            strings.TrimSpace(in.Reason),
		RequestedBy:       in.RequestedBy,
		ProposedPayload:   in.ProposedPayload,
		RectifyingEntryID: in.RectifyingEntryID,
		CreatedAt:         requestcontext.Now(ctx).UTC(),
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.requests.Create(ctx, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store correction request")
		}
		return s.emit(ctx, audit.EventCorrectionRequested, req, in.RequestedBy, "pending", req.Reason, "")
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementCorrection(string(req.Kind), string(models.CorrectionPending))
	s.logger.InfoContext(ctx, "correction requested",
		"request_id", req.ID.String(),
		"scope", req.Scope.Key(),
		"original_seq", req.OriginalSeq,
		"kind", string(req.Kind),
	)
	return req, nil
}

// Approve seals the correction or void entry for a pending request and
// records the decision in the same transaction.
func (s *Service) Approve(ctx context.Context, requestID id.CorrectionID, approver id.UserID) (*models.Entry, error) {
	if approver.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "approver is required")
	}
	req, unlock, err := s.lockPending(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if req.RequestedBy == approver {
		return nil, dErrors.New(dErrors.CodeForbidden, "a correction must be approved by someone other than its requester")
	}

	var (
		entry    *models.Entry
		original *models.Entry
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		original, err = s.loadEntry(ctx, req.OriginalID)
		if err != nil {
			return err
		}
		if err := s.requireActive(ctx, original); err != nil {
			return err
		}
		payload, meta, err := s.buildEntry(ctx, req, original, approver)
		if err != nil {
			return err
		}
		entry, err = s.sealer.SealWithRetry(ctx, original.Scope, req.Kind.EntryKind(), payload, meta)
		if err != nil {
			return err
		}
		decision := models.CorrectionDecision{
			RequestID:        req.ID,
			State:            models.CorrectionApproved,
			DecidedBy:        approver,
			ResultingEntryID: &entry.ID,
			DecidedAt:        requestcontext.Now(ctx).UTC(),
		}
		if err := s.decide(ctx, decision); err != nil {
			return err
		}
		return s.emit(ctx, audit.EventCorrectionApproved, req, approver, string(models.CorrectionApproved), req.Reason, entry.ID.String())
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeIncompleteVoid) {
			s.metrics.IncrementCorrection(string(req.Kind), "incomplete_void")
		}
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, original.Code)
	}
	s.metrics.IncrementCorrection(string(req.Kind), string(models.CorrectionApproved))
	s.logger.InfoContext(ctx, "correction approved",
		"request_id", req.ID.String(),
		"scope", req.Scope.Key(),
		"original_seq", original.Seq,
		"entry_seq", entry.Seq,
		"kind", string(entry.Kind),
	)
	return entry, nil
}

// Reject records a rejection. The original entry stays active.
func (s *Service) Reject(ctx context.Context, requestID id.CorrectionID, rejecter id.UserID, reason string) (*models.CorrectionRequest, error) {
	if rejecter.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "rejecter is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a rejection reason is required")
	}
	if len(reason) > maxReasonLength {
		return nil, dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	req, unlock, err := s.lockPending(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	decision := models.CorrectionDecision{
		RequestID: req.ID,
		State:     models.CorrectionRejected,
		DecidedBy: rejecter,
		Reason:    reason,
		DecidedAt: requestcontext.Now(ctx).UTC(),
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.decide(ctx, decision); err != nil {
			return err
		}
		return s.emit(ctx, audit.EventCorrectionRejected, req, rejecter, string(models.CorrectionRejected), reason, "")
	})
	if err != nil {
		return nil, err
	}
	req.Decision = &decision
	s.metrics.IncrementCorrection(string(req.Kind), string(models.CorrectionRejected))
	s.logger.InfoContext(ctx, "correction rejected",
		"request_id", req.ID.String(),
		"scope", req.Scope.Key(),
		"original_seq", req.OriginalSeq,
	)
	return req, nil
}

// lockPending takes the lock of the request's original entry and rereads the
// request under it. Decisions on one original never interleave, and a request
// decided while the caller waited is reported as such.
func (s *Service) lockPending(ctx context.Context, requestID id.CorrectionID) (*models.CorrectionRequest, func(), error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := s.locks.Lock(ctx, req.OriginalID.String())
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeTimeout, "waiting for correction lock")
	}
	req, err = s.Get(ctx, requestID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	if !req.IsPending() {
		unlock()
		return nil, nil, dErrors.Newf(dErrors.CodeInvalidState, "correction request already %s", req.State())
	}
	return req, unlock, nil
}

func (s *Service) Get(ctx context.Context, requestID id.CorrectionID) (*models.CorrectionRequest, error) {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "correction request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load correction request")
	}
	return req, nil
}

// ListPending returns undecided requests of a scope, oldest first.
func (s *Service) ListPending(ctx context.Context, scope models.Scope) ([]*models.CorrectionRequest, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	reqs, err := s.requests.ListPending(ctx, scope)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list correction requests")
	}
	return reqs, nil
}

func validateInput(in RequestInput) error {
	if !in.Kind.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "kind must be amend or void")
	}
	if in.OriginalID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "original entry id is required")
	}
	if in.RequestedBy.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "requester is required")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return dErrors.New(dErrors.CodeValidation, "a reason is required")
	}
	if len(reason) > maxReasonLength {
		return dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	if in.Kind == models.CorrectionAmend && in.RectifyingEntryID != nil {
		return dErrors.New(dErrors.CodeValidation, "only voids reference a rectifying entry")
	}
	return nil
}

// checkCorrection verifies the request could be sealed as it stands.
func (s *Service) checkCorrection(ctx context.Context, original *models.Entry, kind models.CorrectionKind, proposed json.RawMessage, rectifyingID *id.EntryID) error {
	var business models.Business
	if len(proposed) > 0 {
		b, err := models.DecodeBusiness(original.Scope.ChainType, proposed)
		if err != nil {
			return err
		}
		obj, err := b.Canonical()
		if err != nil {
			return err
		}
		if _, err := canonical.Encode(obj); err != nil {
			return err
		}
		business = b
	}
	switch kind {
	case models.CorrectionAmend:
		if business == nil {
			return dErrors.New(dErrors.CodeValidation, "an amendment requires a proposed payload")
		}
	case models.CorrectionVoid:
		if business == nil && rectifyingID == nil {
			return dErrors.New(dErrors.CodeIncompleteVoid, "a void requires a rectifying payload or entry")
		}
		if _, err := s.rectifyingEntry(ctx, original, rectifyingID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) buildEntry(ctx context.Context, req *models.CorrectionRequest, original *models.Entry, approver id.UserID) (canonical.Object, models.SealMeta, error) {
	meta := models.CorrectionMeta{
		RequestID:   req.ID,
		Reason:      req.Reason,
		RequestedBy: req.RequestedBy,
		Approver:    approver,
	}
	var business models.Business
	if len(req.ProposedPayload) > 0 {
		b, err := models.DecodeBusiness(original.Scope.ChainType, req.ProposedPayload)
		if err != nil {
			return nil, models.SealMeta{}, err
		}
		business = b
	}

	switch req.Kind {
	case models.CorrectionAmend:
		payload, err := models.CorrectionPayload(original, business, meta)
		if err != nil {
			return nil, models.SealMeta{}, err
		}
		return payload, models.SealMeta{IssuerID: approver.String(), Supersedes: original.Seq}, nil
	case models.CorrectionVoid:
		rectifiedBy, err := s.rectifyingEntry(ctx, original, req.RectifyingEntryID)
		if err != nil {
			return nil, models.SealMeta{}, err
		}
		payload, err := models.VoidPayload(original, business, rectifiedBy, meta)
		if err != nil {
			return nil, models.SealMeta{}, err
		}
		return payload, models.SealMeta{IssuerID: approver.String(), Voids: original.Seq}, nil
	default:
		return nil, models.SealMeta{}, dErrors.New(dErrors.CodeValidation, "kind must be amend or void")
	}
}

// rectifyingEntry loads the entry a void points to. It must be an active
// record or correction of the same chain sealed after the original.
func (s *Service) rectifyingEntry(ctx context.Context, original *models.Entry, entryID *id.EntryID) (*models.Entry, error) {
	if entryID == nil {
		return nil, nil
	}
	e, err := s.ledger.ByID(ctx, *entryID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeIncompleteVoid, "rectifying entry not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load rectifying entry")
	}
	switch {
	case e.Scope != original.Scope:
		return nil, dErrors.New(dErrors.CodeIncompleteVoid, "rectifying entry must belong to the same chain")
	case e.Seq <= original.Seq:
		return nil, dErrors.New(dErrors.CodeIncompleteVoid, "rectifying entry must be sealed after the voided entry")
	case e.Kind == models.KindVoid:
		return nil, dErrors.New(dErrors.CodeIncompleteVoid, "a void entry cannot rectify another entry")
	}
	if err := s.requireActive(ctx, e); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeIncompleteVoid, "rectifying entry is no longer active")
	}
	return e, nil
}

func (s *Service) loadEntry(ctx context.Context, entryID id.EntryID) (*models.Entry, error) {
	e, err := s.ledger.ByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "entry not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entry")
	}
	return e, nil
}

func (s *Service) requireActive(ctx context.Context, e *models.Entry) error {
	status, err := s.ledger.StatusOf(ctx, e.Scope, e.Seq)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive entry status")
	}
	if status != models.StatusActive {
		return dErrors.Newf(dErrors.CodeInvalidState, "entry %d is %s", e.Seq, status)
	}
	return nil
}

func (s *Service) decide(ctx context.Context, decision models.CorrectionDecision) error {
	if err := s.requests.Decide(ctx, decision); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return dErrors.New(dErrors.CodeInvalidState, "correction request already decided")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record decision")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, req *models.CorrectionRequest, actor id.UserID, decision, reason, subject string) error {
	if s.auditor == nil {
		return nil
	}
	if subject == "" {
		subject = req.ID.String()
	}
	err := s.auditor.Emit(ctx, audit.ComplianceEvent{
		Timestamp: requestcontext.Now(ctx).UTC(),
		Action:    string(action),
		CompanyID: req.Scope.CompanyID,
		ChainType: req.Scope.ChainType,
		Subject:   subject,
		ActorID:   actor.String(),
		Decision:  decision,
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}
