package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mr1hm/rental-alerts/internal/logging"
	"github.com/mr1hm/rental-alerts/internal/metrics"
	"github.com/mr1hm/rental-alerts/internal/worker"
)

const runLockKey = "run-all-checks"

var ErrUnknownRule = errors.New("unknown rule")

// Locker guards a pass across processes. TryLock returns ok=false when
// another holder owns key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Report summarises one orchestration pass. Counts only holds rules that
// completed; failed rules are listed in Errors.
type Report struct {
	Counts    map[string]int    `json:"counts"`
	Errors    map[string]string `json:"errors,omitempty"`
	Total     int               `json:"total"`
	Skipped   bool              `json:"skipped,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}

func (r Report) Failed() int {
	return len(r.Errors)
}

type OrchestratorConfig struct {
	Workers int
	Locker  Locker
	LockTTL time.Duration
	Metrics *metrics.Collector
}

type Orchestrator struct {
	rules   []Rule
	workers int
	locker  Locker
	lockTTL time.Duration
	metrics *metrics.Collector
	group   singleflight.Group
	now     func() time.Time
	log     *slog.Logger
}

func NewOrchestrator(rules []Rule, cfg OrchestratorConfig) *Orchestrator {
	workers := cfg.Workers
	if workers <= 0 || workers > len(rules) {
		workers = len(rules)
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Orchestrator{
		rules:   rules,
		workers: workers,
		locker:  cfg.Locker,
		lockTTL: ttl,
		metrics: cfg.Metrics,
		now:     time.Now,
		log:     logging.Component("orchestrator"),
	}
}

func (o *Orchestrator) RuleNames() []string {
	names := make([]string, len(o.rules))
	for i, r := range o.rules {
		names[i] = r.Name
	}
	return names
}

// RunAllChecks runs every rule concurrently and aggregates their counts.
// Calls that overlap an in-flight pass in this process share its report.
// The shared pass ignores cancellation of whichever caller started it, so one
// caller going away cannot fail the rules for the others; values on ctx are
// kept. It never returns an error: failures are reported per rule.
func (o *Orchestrator) RunAllChecks(ctx context.Context) Report {
	v, _, shared := o.group.Do(runLockKey, func() (any, error) {
		return o.run(context.WithoutCancel(ctx)), nil
	})
	if shared {
		o.log.Debug("joined in-flight check pass")
	}
	return v.(Report)
}

// RunRule runs a single rule outside of a full pass.
func (o *Orchestrator) RunRule(ctx context.Context, name string) (int, error) {
	for _, r := range o.rules {
		if r.Name != name {
			continue
		}
		start := time.Now()
		n, err := o.check(ctx, r)
		if err != nil {
			o.metrics.RuleFailed(r.Name, time.Since(start))
			return 0, err
		}
		o.metrics.RuleSucceeded(r.Name, n, time.Since(start))
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownRule, name)
}

type ruleResult struct {
	created int
	err     error
	took    time.Duration
}

func (o *Orchestrator) run(ctx context.Context) Report {
	start := time.Now()
	report := Report{
		Counts:    make(map[string]int, len(o.rules)),
		Errors:    make(map[string]string),
		StartedAt: o.now().UTC(),
	}

	if o.locker != nil {
		release, ok, err := o.locker.TryLock(ctx, runLockKey, o.lockTTL)
		switch {
		case err != nil:
			// the dedup window still prevents duplicate alerts without the lock
			o.log.Warn("run lock unavailable, continuing without it", "error", err)
		case !ok:
			o.log.Info("check pass skipped, another instance holds the run lock")
			o.metrics.PassSkipped()
			report.Skipped = true
			return report
		default:
			defer release()
		}
	}

	results := make([]ruleResult, len(o.rules))

	pool := worker.NewWorkerPool(o.workers, len(o.rules), func(ctx context.Context, job worker.Job) error {
		i := job.(int)
		began := time.Now()
		n, err := o.check(ctx, o.rules[i])
		results[i] = ruleResult{created: n, err: err, took: time.Since(began)}
		return err
	}).OnError(func(job worker.Job, err error) {
		results[job.(int)].err = err
	})

	pool.Start(ctx)
	for i := range o.rules {
		pool.Submit(i)
	}
	pool.Stop()

	for i, res := range results {
		name := o.rules[i].Name
		if res.err != nil {
			report.Errors[name] = res.err.Error()
			o.metrics.RuleFailed(name, res.took)
			o.log.Error("detection rule failed", "rule", name, "error", res.err)
			continue
		}
		report.Counts[name] = res.created
		report.Total += res.created
		o.metrics.RuleSucceeded(name, res.created, res.took)
	}

	report.Duration = time.Since(start)
	o.metrics.PassCompleted(report.Duration)
	o.log.Info("check pass complete",
		"total", report.Total,
		"failed_rules", report.Failed(),
		"duration", report.Duration,
	)
	return report
}

// check captures now once for the invocation so every window in the rule
// compares against the same instant.
func (o *Orchestrator) check(ctx context.Context, r Rule) (int, error) {
	return r.Check(ctx, o.now())
}
