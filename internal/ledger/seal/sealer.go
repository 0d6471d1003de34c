// Package seal turns canonical payloads into chained, hashed ledger entries.
package seal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"veriledger/internal/ledger/canonical"
	"veriledger/internal/ledger/metrics"
	"veriledger/internal/ledger/models"
	"veriledger/internal/ledger/store"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
	"veriledger/pkg/platform/sentinel"
)

// ErrConcurrentAppend is returned by Seal when another writer took the seq.
var ErrConcurrentAppend = store.ErrConcurrentAppend

// Store is the subset of the ledger store the sealer writes through.
type Store interface {
	Tip(ctx context.Context, scope models.Scope) (*models.Entry, error)
	Append(ctx context.Context, e *models.Entry) error
	SuspectFlag(ctx context.Context, scope models.Scope) (*models.SuspectFlag, error)
}

// RetryPolicy bounds SealWithRetry.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

// DefaultRetryPolicy suits a handful of writers per scope.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 5 * time.Millisecond,
	MaxInterval:     200 * time.Millisecond,
	MaxElapsedTime:  3 * time.Second,
	MaxRetries:      10,
}

// Sealer appends entries to scope chains. Same-scope seals are serialized in
// process by a ScopeLocker and across processes by the store's unique seq.
type Sealer struct {
	store   Store
	locks   *ScopeLocker
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	clock   func() time.Time
	newID   func() id.EntryID
	retry   RetryPolicy
}

// Option configures a Sealer.
type Option func(*Sealer)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sealer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sealer) {
		s.metrics = m
	}
}

// WithClock sets the time source used for CreatedAt.
func WithClock(clock func() time.Time) Option {
	return func(s *Sealer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides entry id generation.
func WithIDGenerator(gen func() id.EntryID) Option {
	return func(s *Sealer) {
		if gen != nil {
			s.newID = gen
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Sealer) {
		s.retry = p
	}
}

// WithLocker shares a ScopeLocker between sealers.
func WithLocker(l *ScopeLocker) Option {
	return func(s *Sealer) {
		if l != nil {
			s.locks = l
		}
	}
}

func New(st Store, opts ...Option) *Sealer {
	s := &Sealer{
		store:  st,
		locks:  NewScopeLocker(),
		logger: slog.Default(),
		tracer: otel.Tracer("veriledger/ledger/seal"),
		clock:  time.Now,
		newID:  func() id.EntryID { return id.EntryID(uuid.New()) },
		retry:  DefaultRetryPolicy,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Seal makes one attempt to append payload as the next entry of scope.
// Encoding happens before the scope lock is taken; a payload that cannot be
// encoded never touches the chain.
func (s *Sealer) Seal(ctx context.Context, scope models.Scope, kind models.EntryKind, payload canonical.Object, meta models.SealMeta) (*models.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.seal", trace.WithAttributes(
		attribute.String("ledger.scope", scope.Key()),
		attribute.String("ledger.kind", string(kind)),
	))
	defer span.End()

	start := s.clock()
	entry, err := s.seal(ctx, scope, kind, payload, meta)
	s.metrics.ObserveSealDuration(string(scope.ChainType), s.clock().Sub(start))
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrConcurrentAppend) {
			outcome = "conflict"
			s.metrics.IncrementSealConflict(string(scope.ChainType))
		}
		s.metrics.IncrementSeal(string(scope.ChainType), string(kind), outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	s.metrics.IncrementSeal(string(scope.ChainType), string(kind), "sealed")
	span.SetAttributes(attribute.Int64("ledger.seq", entry.Seq))
	return entry, nil
}

func (s *Sealer) seal(ctx context.Context, scope models.Scope, kind models.EntryKind, payload canonical.Object, meta models.SealMeta) (*models.Entry, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := validateKind(kind, meta); err != nil {
		return nil, err
	}
	body, err := canonical.Encode(payload)
	if err != nil {
		return nil, err
	}
	declared := &models.Entry{Kind: kind, Payload: body, Supersedes: meta.Supersedes, Voids: meta.Voids}
	if _, ok := models.SealedTarget(declared); !ok {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "payload does not declare the entry's kind and target")
	}

	unlock, err := s.locks.Lock(ctx, scope.Key())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "waiting for scope lock")
	}
	defer unlock()

	flag, err := s.store.SuspectFlag(ctx, scope)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read suspect flag")
	}
	if flag != nil {
		return nil, dErrors.Newf(dErrors.CodeChainSuspect,
			"chain %s is flagged suspect since seq %d; sealing is suspended", scope.Key(), flag.Seq)
	}

	tip, err := s.store.Tip(ctx, scope)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chain tip")
	}
	seq, prevHash := int64(1), models.GenesisHash
	if tip != nil {
		seq, prevHash = tip.Seq+1, tip.Hash
	}
	if target := max(meta.Supersedes, meta.Voids); target >= seq {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "target seq %d is not in the chain", target)
	}

	hash, err := Fingerprint(body, prevHash, seq)
	if err != nil {
		return nil, err
	}
	entry := &models.Entry{
		ID:         s.newID(),
		Scope:      scope,
		Seq:        seq,
		Kind:       kind,
		Payload:    body,
		PrevHash:   prevHash,
		Hash:       hash,
		Code:       VerificationCode(scope, seq, hash),
		Supersedes: meta.Supersedes,
		Voids:      meta.Voids,
		CreatedAt:  s.clock().UTC(),
		IssuerID:   meta.IssuerID,
	}
	if err := s.store.Append(ctx, entry); err != nil {
		if errors.Is(err, ErrConcurrentAppend) {
			return nil, ErrConcurrentAppend
		}
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidState, "target entry already has a correction or void")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append entry")
	}

	s.logger.InfoContext(ctx, "entry sealed",
		"scope", scope.Key(),
		"seq", entry.Seq,
		"kind", string(kind),
		"entry_id", entry.ID.String(),
	)
	return entry, nil
}

// SealWithRetry repeats Seal while it loses the race for a seq, backing off
// exponentially. Any other error is returned immediately.
func (s *Sealer) SealWithRetry(ctx context.Context, scope models.Scope, kind models.EntryKind, payload canonical.Object, meta models.SealMeta) (*models.Entry, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.retry.InitialInterval
	exp.MaxInterval = s.retry.MaxInterval
	exp.MaxElapsedTime = s.retry.MaxElapsedTime

	var b backoff.BackOff = exp
	if s.retry.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, s.retry.MaxRetries)
	}

	attempts := 0
	entry, err := backoff.RetryWithData(func() (*models.Entry, error) {
		attempts++
		e, err := s.Seal(ctx, scope, kind, payload, meta)
		if err == nil {
			return e, nil
		}
		if errors.Is(err, ErrConcurrentAppend) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if errors.Is(err, ErrConcurrentAppend) {
			s.logger.WarnContext(ctx, "seal retries exhausted",
				"scope", scope.Key(),
				"attempts", attempts,
			)
		}
		return nil, err
	}
	return entry, nil
}

func validateKind(kind models.EntryKind, meta models.SealMeta) error {
	switch kind {
	case models.KindRecord:
		if meta.Supersedes != 0 || meta.Voids != 0 {
			return dErrors.New(dErrors.CodeInvariantViolation, "records cannot supersede or void")
		}
	case models.KindCorrection:
		if meta.Supersedes < 1 || meta.Voids != 0 {
			return dErrors.New(dErrors.CodeInvariantViolation, "a correction must supersede exactly one entry")
		}
	case models.KindVoid:
		if meta.Voids < 1 || meta.Supersedes != 0 {
			return dErrors.New(dErrors.CodeInvariantViolation, "a void must void exactly one entry")
		}
	default:
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown entry kind")
	}
	return nil
}
