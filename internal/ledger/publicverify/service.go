// Package publicverify answers third-party lookups of verification codes.
// A lookup never fails to the caller: anything other than an intact, known
// entry is reported as not valid, and the reason is kept internal.
package publicverify

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"veriledger/internal/ledger/metrics"
	"veriledger/internal/ledger/models"
	"veriledger/internal/ledger/seal"
	audit "veriledger/pkg/platform/audit"
	"veriledger/pkg/platform/sentinel"
	"veriledger/pkg/requestcontext"
)

// TriggerPublicLookup labels breaks found while serving a lookup.
const TriggerPublicLookup = "public_lookup"

// Cache outcomes used as metric labels.
const (
	cacheHit    = "hit"
	cacheMiss   = "miss"
	cacheBypass = "bypass"
)

// Ledger is the read side needed for a lookup: one indexed fetch by code,
// one by seq for the predecessor, the later correction and void entries the
// status is derived from, and the scope's suspect flag.
type Ledger interface {
	ByCode(ctx context.Context, code string) (*models.Entry, error)
	BySeq(ctx context.Context, scope models.Scope, seq int64) (*models.Entry, error)
	Markers(ctx context.Context, scope models.Scope, after int64) ([]*models.Entry, error)
	SuspectFlag(ctx context.Context, scope models.Scope) (*models.SuspectFlag, error)
}

// BreakHandler is told when a looked-up entry fails its integrity checks.
type BreakHandler interface {
	ChainBreak(ctx context.Context, result *models.VerificationResult, trigger string) error
}

type OpsTracker interface {
	Track(event audit.OpsEvent)
}

type Service struct {
	ledger  Ledger
	cache   Cache
	breaks  BreakHandler
	ops     OpsTracker
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	group   singleflight.Group
}

type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithBreakHandler(h BreakHandler) Option {
	return func(s *Service) { s.breaks = h }
}

func WithOpsTracker(t OpsTracker) Option {
	return func(s *Service) { s.ops = t }
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

func New(ledger Ledger, opts ...Option) *Service {
	s := &Service{
		ledger: ledger,
		logger: slog.Default(),
		tracer: otel.Tracer("veriledger/publicverify"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lookup is the shared result of one singleflight load.
type lookup struct {
	record *CacheRecord
	reason string
}

// Resolve answers a bare code (any case, with or without separators) or a
// full QR URL.
func (s *Service) Resolve(ctx context.Context, input string) *models.Resolution {
	ctx, span := s.tracer.Start(ctx, "ledger.resolve")
	defer span.End()

	code, ref, ok := parseInput(input)
	if !ok {
		return s.miss(ctx, "", "malformed", cacheBypass)
	}

	record, cacheOutcome := s.fromCache(ctx, code)
	if record != nil {
		// A cached answer outlives nothing but the scope's flag: once a break
		// is found anywhere in the chain, no entry of it resolves as valid.
		scope := models.Scope{CompanyID: record.CompanyID, ChainType: record.ChainType}
		if reason, ok := s.scopeClean(ctx, scope); !ok {
			return s.miss(ctx, code, reason, cacheOutcome)
		}
	} else {
		// Waiters share this load, so it must not die with the first caller.
		loadCtx := context.WithoutCancel(ctx)
		v, err, _ := s.group.Do(code, func() (any, error) {
			return s.load(loadCtx, code)
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "public lookup failed", "error", err)
			return s.miss(ctx, code, "lookup_error", cacheOutcome)
		}
		res := v.(*lookup)
		if res.record == nil {
			return s.miss(ctx, code, res.reason, cacheOutcome)
		}
		record = res.record
	}

	if ref != nil && !ref.Matches(record.entry(code)) {
		return s.miss(ctx, code, "qr_mismatch", cacheOutcome)
	}

	span.SetAttributes(attribute.Bool("ledger.valid", true), attribute.String("ledger.cache", cacheOutcome))
	s.metrics.IncrementPublicLookup(true, cacheOutcome)
	s.track(ctx, record, code, "valid")
	return record.Resolution
}

// Invalidate drops cached answers for codes whose status changed.
func (s *Service) Invalidate(ctx context.Context, codes ...string) {
	if s.cache == nil || len(codes) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, codes...); err != nil {
		// Stale status is bounded by the cache TTL.
		s.logger.WarnContext(ctx, "verification cache invalidation failed",
			"codes", codes,
			"error", err,
		)
	}
}

func parseInput(input string) (string, *seal.QRRef, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil, false
	}
	if strings.Contains(input, "csv=") {
		ref, ok := seal.ParseQR(input)
		if !ok {
			return "", nil, false
		}
		return ref.Code, ref, true
	}
	code, ok := seal.NormalizeCode(input)
	return code, nil, ok
}

func (s *Service) fromCache(ctx context.Context, code string) (*CacheRecord, string) {
	if s.cache == nil {
		return nil, cacheBypass
	}
	record, ok, err := s.cache.Get(ctx, code)
	if err != nil {
		s.logger.WarnContext(ctx, "verification cache read failed", "error", err)
		return nil, cacheBypass
	}
	if !ok {
		return nil, cacheMiss
	}
	return record, cacheHit
}

// load reads the entry and checks it before anything is shown or cached: the
// hash is recomputed, the code rederived and the link to the predecessor
// compared.
func (s *Service) load(ctx context.Context, code string) (*lookup, error) {
	e, err := s.ledger.ByCode(ctx, code)
	if errors.Is(err, sentinel.ErrNotFound) {
		return &lookup{reason: "unknown_code"}, nil
	}
	if err != nil {
		return nil, err
	}

	if reason, ok := s.scopeClean(ctx, e.Scope); !ok {
		return &lookup{reason: reason}, nil
	}
	if reason, at, ok, err := s.check(ctx, e); err != nil {
		return nil, err
	} else if !ok {
		s.reportBreak(ctx, e, reason, at)
		return &lookup{reason: string(reason)}, nil
	}

	status, reason, at, err := s.status(ctx, e)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		s.reportBreak(ctx, e, reason, at)
		return &lookup{reason: string(reason)}, nil
	}
	env, err := models.ParseEnvelope(e.Payload)
	if err != nil {
		// The hash matched, so these bytes are what was sealed; show the
		// entry without business fields.
		s.logger.WarnContext(ctx, "sealed payload is not an envelope", "seq", e.Seq, "scope", e.Scope.Key())
		env = nil
	}

	record := &CacheRecord{
		Resolution: &models.Resolution{
			Valid:      true,
			EntityType: e.Scope.ChainType.EntityType(),
			Status:     status,
			Summary:    summary(e, env, status),
		},
		CompanyID: e.Scope.CompanyID,
		ChainType: e.Scope.ChainType,
		Seq:       e.Seq,
		Hash:      e.Hash,
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, code, record); err != nil {
			s.logger.WarnContext(ctx, "verification cache write failed", "error", err)
		}
	}
	return &lookup{record: record}, nil
}

func (s *Service) check(ctx context.Context, e *models.Entry) (models.BreakReason, int64, bool, error) {
	hash, err := seal.Fingerprint(e.Payload, e.PrevHash, e.Seq)
	if err != nil || hash != e.Hash {
		return models.BreakHashMismatch, e.Seq, false, nil
	}
	if seal.VerificationCode(e.Scope, e.Seq, e.Hash) != e.Code {
		return models.BreakCodeMismatch, e.Seq, false, nil
	}
	if _, ok := models.SealedTarget(e); !ok {
		return models.BreakMarkerMismatch, e.Seq, false, nil
	}
	if e.Seq == 1 {
		if e.PrevHash != models.GenesisHash {
			return models.BreakPrevLinkMismatch, e.Seq, false, nil
		}
		return "", 0, true, nil
	}
	pred, err := s.ledger.BySeq(ctx, e.Scope, e.Seq-1)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.BreakMissingPredecessor, e.Seq - 1, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	if pred.Hash != e.PrevHash {
		return models.BreakPrevLinkMismatch, e.Seq, false, nil
	}
	return "", 0, true, nil
}

// status derives the entry's status from the correction and void entries
// sealed after it. Each of them is rechecked first, since the kind and target
// columns the status comes from are not covered by their hash. A non-empty
// reason reports the first one that fails, at its seq.
func (s *Service) status(ctx context.Context, e *models.Entry) (models.Status, models.BreakReason, int64, error) {
	markers, err := s.ledger.Markers(ctx, e.Scope, e.Seq)
	if err != nil {
		return "", "", 0, err
	}
	for _, m := range markers {
		hash, err := seal.Fingerprint(m.Payload, m.PrevHash, m.Seq)
		if err != nil || hash != m.Hash {
			return "", models.BreakHashMismatch, m.Seq, nil
		}
		ref, ok := models.SealedTarget(m)
		if !ok || ref == nil || (ref.Seq == e.Seq && ref.Hash != e.Hash) {
			return "", models.BreakMarkerMismatch, m.Seq, nil
		}
	}
	return models.DeriveStatus(e.Seq, markers), "", 0, nil
}

// scopeClean reports whether the scope has not been flagged suspect. A flag
// that cannot be read counts as flagged.
func (s *Service) scopeClean(ctx context.Context, scope models.Scope) (string, bool) {
	flag, err := s.ledger.SuspectFlag(ctx, scope)
	if err != nil {
		s.logger.ErrorContext(ctx, "suspect flag read failed", "scope", scope.Key(), "error", err)
		return "lookup_error", false
	}
	if flag != nil {
		return "chain_suspect", false
	}
	return "", true
}

func (s *Service) reportBreak(ctx context.Context, e *models.Entry, reason models.BreakReason, at int64) {
	if s.breaks == nil {
		s.logger.ErrorContext(ctx, "CRITICAL: integrity failure on public lookup",
			"scope", e.Scope.Key(),
			"seq", at,
			"reason", reason,
		)
		return
	}
	result := &models.VerificationResult{
		Scope:        e.Scope,
		From:         e.Seq,
		To:           e.Seq,
		FirstBreakAt: at,
		Reason:       reason,
	}
	if err := s.breaks.ChainBreak(ctx, result, TriggerPublicLookup); err != nil {
		s.logger.ErrorContext(ctx, "chain break escalation failed", "scope", e.Scope.Key(), "error", err)
	}
}

func (s *Service) miss(ctx context.Context, code, reason, cacheOutcome string) *models.Resolution {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Bool("ledger.valid", false),
		attribute.String("ledger.miss_reason", reason),
	)
	s.metrics.IncrementPublicLookup(false, cacheOutcome)
	s.logger.DebugContext(ctx, "verification miss", "reason", reason)
	s.track(ctx, nil, code, "miss:"+reason)
	return models.Miss()
}

func (s *Service) track(ctx context.Context, record *CacheRecord, code, decision string) {
	if s.ops == nil {
		return
	}
	event := audit.OpsEvent{
		Timestamp: requestcontext.Now(ctx),
		Action:    string(audit.EventVerificationLookup),
		Subject:   code,
		Decision:  decision,
		IP:        requestcontext.ClientIP(ctx),
		UserAgent: classifyAgent(requestcontext.UserAgent(ctx)),
		RequestID: requestcontext.RequestID(ctx),
	}
	if record != nil {
		event.CompanyID = record.CompanyID
		event.ChainType = record.ChainType
	}
	s.ops.Track(event)
}
