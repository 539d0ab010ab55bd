package alerting

import (
	"context"
	"time"

	"github.com/mr1hm/rental-alerts/internal/metrics"
)

type EngineConfig struct {
	Store     Store
	Sources   Sources
	Publisher Publisher
	Metrics   *metrics.Collector
	Workers   int
	Locker    Locker
	LockTTL   time.Duration
}

// Engine bundles the two scheduled units of work: detection passes and
// retention sweeps.
type Engine struct {
	Checks    *Orchestrator
	Retention *Sweeper
}

func NewEngine(cfg EngineConfig) *Engine {
	writer := NewWriter(cfg.Store, cfg.Publisher)
	detector := NewDetector(cfg.Sources, NewDeduplicator(cfg.Store), writer, cfg.Metrics)

	return &Engine{
		Checks: NewOrchestrator(detector.Rules(), OrchestratorConfig{
			Workers: cfg.Workers,
			Locker:  cfg.Locker,
			LockTTL: cfg.LockTTL,
			Metrics: cfg.Metrics,
		}),
		Retention: NewSweeper(cfg.Store, cfg.Metrics),
	}
}

func (e *Engine) RunAllChecks(ctx context.Context) Report {
	return e.Checks.RunAllChecks(ctx)
}

func (e *Engine) Cleanup(ctx context.Context) CleanupReport {
	return e.Retention.Cleanup(ctx)
}

func (e *Engine) RunRule(ctx context.Context, name string) (int, error) {
	return e.Checks.RunRule(ctx, name)
}
