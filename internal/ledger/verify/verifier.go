// Package verify recomputes ledger chains and escalates any break it finds.
// It never repairs or rewrites entries.
package verify

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"veriledger/internal/ledger/metrics"
	"veriledger/internal/ledger/models"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
	audit "veriledger/pkg/platform/audit"
	"veriledger/pkg/platform/sentinel"
	"veriledger/pkg/requestcontext"
)

// Verification triggers, used as metric and audit labels.
const (
	TriggerOnDemand = "on_demand"
	TriggerSingle   = "single"
	TriggerSweep    = "sweep"
)

const defaultBatchSize = 500

// Ledger is the read side of the chain store.
type Ledger interface {
	Tip(ctx context.Context, scope models.Scope) (*models.Entry, error)
	Range(ctx context.Context, scope models.Scope, from, to int64) ([]*models.Entry, error)
	BySeq(ctx context.Context, scope models.Scope, seq int64) (*models.Entry, error)
	ByID(ctx context.Context, entryID id.EntryID) (*models.Entry, error)
	Scopes(ctx context.Context) ([]models.Scope, error)
}

// BreakHandler is told about every failed verification.
type BreakHandler interface {
	ChainBreak(ctx context.Context, result *models.VerificationResult, trigger string) error
}

// OpsTracker records routine verification runs.
type OpsTracker interface {
	Track(event audit.OpsEvent)
}

type Verifier struct {
	ledger    Ledger
	breaks    BreakHandler
	ops       OpsTracker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	batchSize int64
}

type Option func(*Verifier)

func WithBreakHandler(h BreakHandler) Option {
	return func(v *Verifier) { v.breaks = h }
}

func WithOpsTracker(t OpsTracker) Option {
	return func(v *Verifier) { v.ops = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithBatchSize bounds how many entries are loaded per read.
func WithBatchSize(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.batchSize = int64(n)
		}
	}
}

func New(ledger Ledger, opts ...Option) *Verifier {
	v := &Verifier{
		ledger:    ledger,
		logger:    slog.Default(),
		tracer:    otel.Tracer("veriledger/ledger/verify"),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// VerifyChain recomputes entries from..to of scope. to <= 0 means the tip.
// When from > 1 the entry at from-1 anchors the first prev link.
func (v *Verifier) VerifyChain(ctx context.Context, scope models.Scope, from, to int64) (*models.VerificationResult, error) {
	return v.verifyChain(ctx, scope, from, to, TriggerOnDemand)
}

func (v *Verifier) verifyChain(ctx context.Context, scope models.Scope, from, to int64, trigger string) (*models.VerificationResult, error) {
	ctx, span := v.tracer.Start(ctx, "ledger.verify_chain", trace.WithAttributes(
		attribute.String("ledger.scope", scope.Key()),
		attribute.String("ledger.trigger", trigger),
	))
	defer span.End()

	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if from < 1 {
		from = 1
	}
	if to > 0 && to < from {
		return nil, dErrors.New(dErrors.CodeValidation, "to must not be before from")
	}

	tip, err := v.ledger.Tip(ctx, scope)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chain tip")
	}
	result := &models.VerificationResult{Scope: scope, From: from, To: to, OK: true}
	if tip == nil {
		result.To = 0
		return v.finish(ctx, result, trigger)
	}
	if to <= 0 || to > tip.Seq {
		to = tip.Seq
		result.To = to
	}
	if from > to {
		return nil, dErrors.Newf(dErrors.CodeValidation, "from %d is beyond the chain tip %d", from, tip.Seq)
	}

	prevHash := models.GenesisHash
	if from > 1 {
		pred, err := v.ledger.BySeq(ctx, scope, from-1)
		if errors.Is(err, sentinel.ErrNotFound) {
			result.OK = false
			result.FirstBreakAt = from - 1
			result.Reason = models.BreakMissingPredecessor
			return v.finish(ctx, result, trigger)
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load predecessor")
		}
		prevHash = pred.Hash
	}

	targets := &targetLookup{ctx: ctx, ledger: v.ledger, scope: scope}
	for cursor := from; cursor <= to; {
		end := min(cursor+v.batchSize-1, to)
		batch, err := v.ledger.Range(ctx, scope, cursor, end)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chain")
		}
		f := CheckWith(scope, batch, cursor, prevHash, targets.hash)
		if err := targets.err; err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load correction target")
		}
		result.Checked += f.Checked
		if f.TipHash != "" {
			result.TipHash = f.TipHash
		}
		if !f.OK {
			result.OK = false
			result.FirstBreakAt = f.BreakAt
			result.Reason = f.Reason
			return v.finish(ctx, result, trigger)
		}
		// A short batch means entries are missing at its end.
		if int64(len(batch)) < end-cursor+1 {
			result.OK = false
			result.FirstBreakAt = cursor + int64(len(batch))
			result.Reason = models.BreakSeqGap
			return v.finish(ctx, result, trigger)
		}
		prevHash = f.TipHash
		cursor = end + 1
	}
	return v.finish(ctx, result, trigger)
}

// VerifySingle checks one entry: its hash, its code and its link to the
// entry before it.
func (v *Verifier) VerifySingle(ctx context.Context, entryID id.EntryID) (*models.VerificationResult, error) {
	ctx, span := v.tracer.Start(ctx, "ledger.verify_single")
	defer span.End()

	e, err := v.ledger.ByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "entry not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entry")
	}
	result := &models.VerificationResult{Scope: e.Scope, From: e.Seq, To: e.Seq, OK: true}

	prevHash := models.GenesisHash
	if e.Seq > 1 {
		pred, err := v.ledger.BySeq(ctx, e.Scope, e.Seq-1)
		if errors.Is(err, sentinel.ErrNotFound) {
			result.OK = false
			result.FirstBreakAt = e.Seq - 1
			result.Reason = models.BreakMissingPredecessor
			return v.finish(ctx, result, TriggerSingle)
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load predecessor")
		}
		prevHash = pred.Hash
	}
	targets := &targetLookup{ctx: ctx, ledger: v.ledger, scope: e.Scope}
	f := CheckWith(e.Scope, []*models.Entry{e}, e.Seq, prevHash, targets.hash)
	if err := targets.err; err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load correction target")
	}
	result.Checked = f.Checked
	result.TipHash = f.TipHash
	if !f.OK {
		result.OK = false
		result.FirstBreakAt = f.BreakAt
		result.Reason = f.Reason
	}
	return v.finish(ctx, result, TriggerSingle)
}

// targetLookup reads the hash of a correction or void target that lies before
// the batch being checked. The first read error is kept in err.
type targetLookup struct {
	ctx    context.Context
	ledger Ledger
	scope  models.Scope
	err    error
}

func (l *targetLookup) hash(seq int64) (string, bool) {
	t, err := l.ledger.BySeq(l.ctx, l.scope, seq)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) && l.err == nil {
			l.err = err
		}
		return "", false
	}
	return t.Hash, true
}

func (v *Verifier) finish(ctx context.Context, result *models.VerificationResult, trigger string) (*models.VerificationResult, error) {
	v.metrics.IncrementVerification(trigger, result.OK)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Bool("ledger.ok", result.OK),
		attribute.Int64("ledger.checked", result.Checked),
	)

	if v.ops != nil {
		decision := "ok"
		if !result.OK {
			decision = string(result.Reason)
		}
		v.ops.Track(audit.OpsEvent{
			Timestamp: requestcontext.Now(ctx),
			Action:    string(audit.EventChainVerified),
			CompanyID: result.Scope.CompanyID,
			ChainType: result.Scope.ChainType,
			Subject:   trigger,
			Decision:  decision,
			RequestID: requestcontext.RequestID(ctx),
		})
	}

	if result.OK {
		return result, nil
	}
	if v.breaks != nil {
		if err := v.breaks.ChainBreak(ctx, result, trigger); err != nil {
			// The verdict stands even if escalation partly failed.
			v.logger.ErrorContext(ctx, "chain break escalation failed",
				"scope", result.Scope.Key(),
				"seq", result.FirstBreakAt,
				"error", err,
			)
		}
	}
	return result, nil
}

