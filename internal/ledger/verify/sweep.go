package verify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"veriledger/internal/ledger/models"
)

// SweepReport summarizes one integrity sweep.
type SweepReport struct {
	Scopes   int
	Checked  int64
	Broken   []*models.VerificationResult
	Failed   int
	Duration time.Duration
}

// Sweep verifies every scope in full, at most concurrency scopes at a time.
// A scope that cannot be read is counted as failed and does not stop the
// others; the joined read errors are returned with the report.
func (v *Verifier) Sweep(ctx context.Context, concurrency int) (*SweepReport, error) {
	start := time.Now()
	scopes, err := v.ledger.Scopes(ctx)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	var (
		mu     sync.Mutex
		report = &SweepReport{Scopes: len(scopes)}
		errs   []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, scope := range scopes {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			result, err := v.verifyChain(gctx, scope, 1, 0, TriggerSweep)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				errs = append(errs, err)
				return nil
			}
			report.Checked += result.Checked
			if !result.OK {
				report.Broken = append(report.Broken, result)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Duration = time.Since(start)
	v.metrics.ObserveSweepDuration(report.Duration)
	return report, errors.Join(errs...)
}

// SweepWorker runs Sweep on a fixed interval.
type SweepWorker struct {
	verifier    *Verifier
	interval    time.Duration
	concurrency int
	logger      *slog.Logger
}

func NewSweepWorker(v *Verifier, interval time.Duration, concurrency int, logger *slog.Logger) *SweepWorker {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepWorker{verifier: v, interval: interval, concurrency: concurrency, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (w *SweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs a single sweep and logs its outcome.
func (w *SweepWorker) RunOnce(ctx context.Context) *SweepReport {
	report, err := w.verifier.Sweep(ctx, w.concurrency)
	if report == nil {
		w.logger.ErrorContext(ctx, "integrity sweep failed", "error", err)
		return nil
	}
	if err != nil {
		w.logger.WarnContext(ctx, "integrity sweep could not read every scope",
			"failed", report.Failed,
			"error", err,
		)
	}
	level := slog.LevelInfo
	if len(report.Broken) > 0 {
		level = slog.LevelError
	}
	w.logger.Log(ctx, level, "integrity sweep finished",
		"scopes", report.Scopes,
		"checked", report.Checked,
		"broken", len(report.Broken),
		"duration", report.Duration,
	)
	return report
}
