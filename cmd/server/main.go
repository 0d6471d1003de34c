package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	jwttoken "veriledger/internal/jwt_token"
	"veriledger/internal/ledger"
	"veriledger/internal/ledger/alerts"
	"veriledger/internal/ledger/correction"
	"veriledger/internal/ledger/publicverify"
	"veriledger/internal/ledger/ratelimit"
	"veriledger/internal/ledger/store"
	"veriledger/internal/platform/config"
	"veriledger/internal/platform/httpserver"
	"veriledger/internal/platform/kafka"
	"veriledger/internal/platform/logger"
	"veriledger/internal/platform/metrics"
	"veriledger/internal/platform/postgres"
	"veriledger/internal/platform/redis"
	"veriledger/pkg/platform/audit/store/memory"
	auditpostgres "veriledger/pkg/platform/audit/store/postgres"
	"veriledger/pkg/platform/audit/worker"
	"veriledger/pkg/platform/httputil"
	txcontext "veriledger/pkg/platform/tx"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal/ledger.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("veriledger stopped", "error", err)
		os.Exit(1)
	}
}

type infra struct {
	db       *sql.DB
	redis    *redis.Client
	producer *kafka.Producer
}

func (in *infra) close() {
	if in.producer != nil {
		in.producer.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	in := &infra{}
	defer in.close()

	var (
		stores ledger.Stores
		outbox *auditpostgres.Store
	)
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		in.db = db
		outbox = auditpostgres.New(db)
		stores = ledger.Stores{
			Ledger:      store.NewPostgres(db),
			Corrections: correction.NewPostgresStore(db),
			Audit:       outbox,
			Tx:          txcontext.NewPostgresRunner(db),
		}
	} else {
		log.Warn("LEDGER_DATABASE_URL not set; using in-memory stores")
		stores = ledger.Stores{
			Ledger:      store.NewInMemory(),
			Corrections: correction.NewInMemoryStore(),
			Audit:       memory.NewInMemoryStore(),
			Tx:          txcontext.NopRunner{},
		}
	}

	opts := ledger.Options{
		PublicBaseURL:    cfg.Server.PublicBaseURL,
		OpsSampleRate:    cfg.Ledger.OpsSampleRate,
		PublicRateLimit:  cfg.Ledger.PublicRateLimit,
		PublicRateWindow: cfg.Ledger.PublicRateWindow,
		Registerer:       prometheus.DefaultRegisterer,
		Logger:           log,
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rc != nil {
		in.redis = rc
		opts.Cache = publicverify.NewRedisCache(rc.Client, cfg.Redis.CacheTTL)
		opts.RateLimitStore = ratelimit.NewRedisStore(rc.Client)
	} else {
		opts.Cache = publicverify.NewMemoryCache(cfg.Redis.CacheTTL)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers, ClientID: cfg.Kafka.ClientID})
		if err != nil {
			return err
		}
		in.producer = producer
		if err := producer.EnsureTopics(ctx, cfg.Kafka.AlertsTopic, cfg.Kafka.AuditTopic); err != nil {
			return err
		}
		opts.AlertSink = alerts.NewKafkaSink(producer, cfg.Kafka.AlertsTopic)
	}

	module := ledger.New(stores, opts)

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, "")
	router := chi.NewRouter()
	router.Get("/healthz", healthHandler(in))
	router.Handle("/metrics", metrics.Handler())
	module.NewHandler(jwttoken.NewJWTServiceAdapter(jwtService), cfg.Auth.InternalToken).Register(router)

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting veriledger", "addr", cfg.Server.Addr, "postgres", in.db != nil,
			"redis", in.redis != nil, "kafka", in.producer != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(module.NewSweepWorker(cfg.Ledger.SweepInterval, cfg.Ledger.SweepConcurrency).Run(gctx))
	})
	if outbox != nil && in.producer != nil {
		relay := worker.NewRelay(outbox, in.producer, stores.Tx, worker.Config{
			Topic:     cfg.Kafka.AuditTopic,
			BatchSize: cfg.Kafka.RelayBatch,
			Interval:  cfg.Kafka.RelayInterval,
		}, log)
		g.Go(func() error { return ignoreCanceled(relay.Run(gctx)) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		return errors.Join(err, module.Close(shutdownCtx))
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type healthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	CheckedAt time.Time         `json:"checked_at"`
}

// healthHandler pings every configured backend.
func healthHandler(in *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: map[string]string{}, CheckedAt: time.Now().UTC()}
		check := func(name string, err error) {
			if err != nil {
				resp.Status = "degraded"
				resp.Checks[name] = err.Error()
				return
			}
			resp.Checks[name] = "ok"
		}
		if in.db != nil {
			check("postgres", in.db.PingContext(ctx))
		}
		if in.redis != nil {
			check("redis", in.redis.Health(ctx))
		}
		if in.producer != nil {
			check("kafka", in.producer.Ping(ctx))
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, resp)
	}
}
