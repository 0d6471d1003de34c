// Package ledger assembles the ledger components into one module: sealing,
// corrections, verification, public lookups, exports and the audit
// publishers they share.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"veriledger/internal/ledger/alerts"
	"veriledger/internal/ledger/correction"
	"veriledger/internal/ledger/export"
	"veriledger/internal/ledger/handler"
	"veriledger/internal/ledger/intake"
	"veriledger/internal/ledger/metrics"
	"veriledger/internal/ledger/publicverify"
	"veriledger/internal/ledger/ratelimit"
	"veriledger/internal/ledger/seal"
	"veriledger/internal/ledger/verify"
	platformmetrics "veriledger/internal/platform/metrics"
	audit "veriledger/pkg/platform/audit"
	"veriledger/pkg/platform/audit/publishers/compliance"
	"veriledger/pkg/platform/audit/publishers/ops"
	"veriledger/pkg/platform/audit/publishers/security"
	authmw "veriledger/pkg/platform/middleware/auth"
	txcontext "veriledger/pkg/platform/tx"
)

// Handler serves the ledger HTTP routes.
type Handler = handler.Handler

// Store is everything the components need from the chain store. Both
// store.InMemory and store.PostgresStore satisfy it.
type Store interface {
	seal.Store
	verify.Ledger
	verify.FlagStore
	publicverify.Ledger
	export.Ledger
	correction.Ledger
}

// Stores groups the persistence the module is built on.
type Stores struct {
	Ledger      Store
	Corrections correction.Store
	Audit       audit.Store
	Tx          txcontext.Runner
}

// Options tunes the module. A nil Cache or Registerer falls back to an
// in-process one.
type Options struct {
	PublicBaseURL string
	Cache         publicverify.Cache
	// AlertSink receives chain-break alerts in addition to the error log.
	AlertSink     alerts.Sink
	// OpsSampleRate is the share of routine events kept; 0 keeps none.
	OpsSampleRate float64
	// PublicRateLimit caps anonymous lookups per client IP within
	// PublicRateWindow; 0 disables the limit. A nil RateLimitStore counts
	// in process.
	PublicRateLimit  int
	PublicRateWindow time.Duration
	RateLimitStore   ratelimit.Store
	Registerer       prometheus.Registerer
	Logger           *slog.Logger
}

// Module is the assembled ledger.
type Module struct {
	Sealer      *seal.Sealer
	Intake      *intake.Service
	Corrections *correction.Service
	Verifier    *verify.Verifier
	Public      *publicverify.Service
	Exporter    *export.Exporter
	Compliance  *compliance.Publisher
	Security    *security.Publisher
	Ops         *ops.Tracker
	Limiter     *ratelimit.Limiter
	Metrics     *metrics.Metrics
	HTTPMetrics *platformmetrics.Metrics

	logger *slog.Logger
}

// New wires every component against stores.
func New(stores Stores, opts Options) *Module {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	tx := stores.Tx
	if tx == nil {
		tx = txcontext.NopRunner{}
	}
	cache := opts.Cache
	if cache == nil {
		cache = publicverify.NewMemoryCache(10 * time.Minute)
	}

	m := &Module{
		Metrics:     metrics.NewWith(reg),
		HTTPMetrics: platformmetrics.NewWith(reg),
		logger:      logger,
	}
	m.Compliance = compliance.New(stores.Audit,
		compliance.WithLogger(logger),
		compliance.WithMetrics(compliance.NewMetrics(reg)),
	)
	m.Security = security.NewPublisher(stores.Audit,
		security.WithLogger(logger),
		security.WithMetrics(security.NewMetrics(reg)),
	)
	m.Ops = ops.NewTracker(stores.Audit,
		ops.WithSampler(ops.NewSampler(opts.OpsSampleRate)),
		ops.WithCircuitBreaker(ops.NewCircuitBreaker(5, 30*time.Second)),
		ops.WithMetrics(ops.NewMetrics(reg)),
		ops.WithLogger(logger),
	)

	sink := alerts.Sink(alerts.NewLogSink(logger))
	if opts.AlertSink != nil {
		sink = alerts.Fanout{sink, opts.AlertSink}
	}
	escalator := verify.NewEscalator(stores.Ledger,
		verify.WithComplianceAuditor(m.Compliance),
		verify.WithSecurityAuditor(m.Security),
		verify.WithAlertSink(sink),
		verify.WithEscalationMetrics(m.Metrics),
		verify.WithEscalationLogger(logger),
	)

	m.Sealer = seal.New(stores.Ledger,
		seal.WithMetrics(m.Metrics),
		seal.WithLogger(logger),
	)
	m.Intake = intake.New(m.Sealer, opts.PublicBaseURL,
		intake.WithComplianceAuditor(m.Compliance),
		intake.WithSecurityAuditor(m.Security),
		intake.WithOpsTracker(m.Ops),
		intake.WithLogger(logger),
	)
	m.Verifier = verify.New(stores.Ledger,
		verify.WithBreakHandler(escalator),
		verify.WithOpsTracker(m.Ops),
		verify.WithMetrics(m.Metrics),
		verify.WithLogger(logger),
	)
	m.Public = publicverify.New(stores.Ledger,
		publicverify.WithCache(cache),
		publicverify.WithBreakHandler(escalator),
		publicverify.WithOpsTracker(m.Ops),
		publicverify.WithMetrics(m.Metrics),
		publicverify.WithLogger(logger),
	)
	m.Corrections = correction.New(stores.Corrections, stores.Ledger, m.Sealer,
		correction.WithTxRunner(tx),
		correction.WithAuditPublisher(m.Compliance),
		correction.WithCacheInvalidator(m.Public),
		correction.WithMetrics(m.Metrics),
		correction.WithLogger(logger),
	)
	limits := opts.RateLimitStore
	if limits == nil {
		limits = ratelimit.NewInMemoryStore()
	}
	m.Limiter = ratelimit.New(limits, opts.PublicRateLimit, opts.PublicRateWindow,
		ratelimit.WithSecurityAuditor(m.Security),
		ratelimit.WithLogger(logger),
	)
	m.Exporter = export.New(stores.Ledger, stores.Audit,
		export.WithAuditPublisher(m.Compliance),
		export.WithMetrics(m.Metrics),
		export.WithLogger(logger),
	)
	return m
}

// NewHandler exposes the module over HTTP.
func (m *Module) NewHandler(jwt authmw.JWTValidator, internalToken string) *Handler {
	return handler.New(handler.Deps{
		Recorder:        m.Intake,
		Corrections:     m.Corrections,
		Verifier:        m.Verifier,
		Resolver:        m.Public,
		Exporter:        m.Exporter,
		JWTValidator:    jwt,
		InternalToken:   internalToken,
		SecurityAuditor: m.Security,
		PublicLimiter:   m.Limiter,
		Metrics:         m.HTTPMetrics,
		Logger:          m.logger,
	})
}

// NewSweepWorker schedules the full-chain integrity sweep.
func (m *Module) NewSweepWorker(interval time.Duration, concurrency int) *verify.SweepWorker {
	return verify.NewSweepWorker(m.Verifier, interval, concurrency, m.logger)
}

// Close drains the asynchronous audit publishers.
func (m *Module) Close(ctx context.Context) error {
	return errors.Join(
		m.Security.Close(ctx),
		m.Ops.Close(),
		m.Compliance.Close(),
	)
}
