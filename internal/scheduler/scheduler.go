package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/rental-alerts/internal/alerting"
	"github.com/mr1hm/rental-alerts/internal/logging"
)

// Engine is the work the scheduler drives.
type Engine interface {
	RunAllChecks(ctx context.Context) alerting.Report
	Cleanup(ctx context.Context) alerting.CleanupReport
}

// Observer is notified after every scheduled check pass.
type Observer func(alerting.Report)

type Config struct {
	CheckInterval   time.Duration
	CleanupInterval time.Duration
	RunOnStart      bool
}

type Scheduler struct {
	engine    Engine
	cfg       Config
	observers []Observer
	wg        sync.WaitGroup
	log       *slog.Logger
}

func New(engine Engine, cfg Config, observers ...Observer) *Scheduler {
	return &Scheduler{
		engine:    engine,
		cfg:       cfg,
		observers: observers,
		log:       logging.Component("scheduler"),
	}
}

// Start launches the check and cleanup loops. They run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.runLoop(ctx, "checks", s.cfg.CheckInterval, s.check)
	go s.runLoop(ctx, "cleanup", s.cfg.CleanupInterval, s.cleanup)
}

func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	defer s.wg.Done()
	s.log.Info("starting loop", "loop", name, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if s.cfg.RunOnStart {
		fn(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info("loop shutting down", "loop", name)
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Scheduler) check(ctx context.Context) {
	report := s.engine.RunAllChecks(ctx)
	if report.Skipped {
		return
	}
	for _, observe := range s.observers {
		observe(report)
	}
}

func (s *Scheduler) cleanup(ctx context.Context) {
	s.engine.Cleanup(ctx)
}

// Stop waits for both loops to exit. Cancel the Start context first.
func (s *Scheduler) Stop() {
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}
