package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"veriledger/internal/ledger/alerts"
	"veriledger/internal/ledger/metrics"
	"veriledger/internal/ledger/models"
	audit "veriledger/pkg/platform/audit"
)

// SystemActor is the actor recorded on audit events raised by verification.
const SystemActor = "system:verifier"

// FlagStore records suspect scopes.
type FlagStore interface {
	FlagSuspect(ctx context.Context, flag models.SuspectFlag) error
	SuspectFlag(ctx context.Context, scope models.Scope) (*models.SuspectFlag, error)
}

type ComplianceAuditor interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

type SecurityAuditor interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

// Escalator handles a detected chain break: it flags the scope suspect so no
// further entries are sealed on it, writes compliance and security audit
// events, and publishes an alert. A scope that is already flagged is only
// logged again.
type Escalator struct {
	flags      FlagStore
	compliance ComplianceAuditor
	security   SecurityAuditor
	alerts     alerts.Sink
	metrics    *metrics.Metrics
	logger     *slog.Logger
	clock      func() time.Time
}

type EscalatorOption func(*Escalator)

func WithComplianceAuditor(a ComplianceAuditor) EscalatorOption {
	return func(e *Escalator) { e.compliance = a }
}

func WithSecurityAuditor(a SecurityAuditor) EscalatorOption {
	return func(e *Escalator) { e.security = a }
}

func WithAlertSink(s alerts.Sink) EscalatorOption {
	return func(e *Escalator) { e.alerts = s }
}

func WithEscalationMetrics(m *metrics.Metrics) EscalatorOption {
	return func(e *Escalator) { e.metrics = m }
}

func WithEscalationLogger(logger *slog.Logger) EscalatorOption {
	return func(e *Escalator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithEscalationClock(clock func() time.Time) EscalatorOption {
	return func(e *Escalator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func NewEscalator(flags FlagStore, opts ...EscalatorOption) *Escalator {
	e := &Escalator{
		flags:  flags,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.alerts == nil {
		e.alerts = alerts.NewLogSink(e.logger)
	}
	return e
}

func (e *Escalator) ChainBreak(ctx context.Context, result *models.VerificationResult, trigger string) error {
	now := e.clock().UTC()
	scope := result.Scope
	e.metrics.IncrementChainBreak(string(scope.ChainType))
	e.logger.ErrorContext(ctx, "CRITICAL: chain break detected",
		"scope", scope.Key(),
		"seq", result.FirstBreakAt,
		"reason", string(result.Reason),
		"trigger", trigger,
	)

	existing, err := e.flags.SuspectFlag(ctx, scope)
	if err != nil {
		return fmt.Errorf("read suspect flag: %w", err)
	}
	if existing != nil {
		return nil
	}
	flag := models.SuspectFlag{
		Scope:     scope,
		Seq:       result.FirstBreakAt,
		Reason:    string(result.Reason),
		FlaggedAt: now,
	}
	if err := e.flags.FlagSuspect(ctx, flag); err != nil {
		return fmt.Errorf("flag scope suspect: %w", err)
	}

	var errs []error
	subject := fmt.Sprintf("seq %d", result.FirstBreakAt)
	if e.security != nil {
		e.security.Emit(ctx, audit.SecurityEvent{
			Timestamp: now,
			Action:    string(audit.EventChainBreakDetected),
			CompanyID: scope.CompanyID,
			ChainType: scope.ChainType,
			Subject:   subject,
			Reason:    string(result.Reason),
			ActorID:   SystemActor,
			Severity:  audit.SeverityCritical,
		})
	}
	if e.compliance != nil {
		err := e.compliance.Emit(ctx, audit.ComplianceEvent{
			Timestamp: now,
			Action:    string(audit.EventChainBreakDetected),
			CompanyID: scope.CompanyID,
			ChainType: scope.ChainType,
			Subject:   subject,
			ActorID:   SystemActor,
			Decision:  "suspect",
			Reason:    string(result.Reason),
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.alerts.Publish(ctx, alerts.NewChainBreak(result, trigger, now)); err != nil {
		errs = append(errs, fmt.Errorf("publish alert: %w", err))
	}
	return errors.Join(errs...)
}
