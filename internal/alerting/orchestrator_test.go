package alerting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mr1hm/rental-alerts/internal/metrics"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	acquired int
	released int
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	l.acquired++
	return func() {
		l.mu.Lock()
		l.held = false
		l.released++
		l.mu.Unlock()
	}, true, nil
}

func staticRule(name string, n int, err error) Rule {
	return Rule{Name: name, Check: func(ctx context.Context, now time.Time) (int, error) {
		return n, err
	}}
}

func TestRunAllChecks_FullPassIsIdempotent(t *testing.T) {
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	store := newFakeStore()

	o := NewOrchestrator(newTestDetector(store, sampleFleet(now), now).Rules(), OrchestratorConfig{})
	o.now = fixedClock(now)

	first := o.RunAllChecks(context.Background())
	if first.Failed() != 0 {
		t.Fatalf("unexpected failures: %v", first.Errors)
	}
	want := map[string]int{
		RuleRentalExpiring:    1,
		RuleRentalOverdue:     2,
		RulePaymentPending:    1,
		RuleMaintenanceDue:    2,
		RuleInsuranceExpiring: 2,
		RuleLowInventory:      2,
		RuleQuoteExpiring:     2,
		RuleStaleLead:         2,
	}
	for rule, n := range want {
		if first.Counts[rule] != n {
			t.Errorf("%s: got %d alerts, want %d", rule, first.Counts[rule], n)
		}
	}
	if first.Total != 14 {
		t.Errorf("expected total 14, got %d", first.Total)
	}
	if !first.StartedAt.Equal(now) {
		t.Errorf("unexpected start %v", first.StartedAt)
	}

	o.now = fixedClock(now.Add(time.Hour))
	second := o.RunAllChecks(context.Background())
	if second.Total != 0 || second.Failed() != 0 {
		t.Errorf("second pass: total %d, errors %v", second.Total, second.Errors)
	}
	if len(second.Counts) != len(want) {
		t.Errorf("expected every rule in counts, got %v", second.Counts)
	}
}

func TestEngine_Wiring(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	pub := &recordingPublisher{}

	e := NewEngine(EngineConfig{Store: store, Sources: sampleFleet(now).sources(), Publisher: pub})
	if len(e.Checks.RuleNames()) != 8 {
		t.Fatalf("expected 8 rules, got %v", e.Checks.RuleNames())
	}

	report := e.RunAllChecks(context.Background())
	if report.Total == 0 || pub.count() != report.Total {
		t.Errorf("expected every created alert published: total %d, published %d", report.Total, pub.count())
	}
	if cleanup := e.Cleanup(context.Background()); len(cleanup.Errors) != 0 || cleanup.Total != 0 {
		t.Errorf("fresh alerts must survive cleanup: %+v", cleanup)
	}
}

func TestRunAllChecks_FailuresAreIsolated(t *testing.T) {
	m := metrics.New()
	rules := []Rule{
		staticRule("ok", 3, nil),
		staticRule("broken", 0, errStoreDown),
		{Name: "panics", Check: func(ctx context.Context, now time.Time) (int, error) {
			panic("boom")
		}},
		staticRule("empty", 0, nil),
	}

	report := NewOrchestrator(rules, OrchestratorConfig{Metrics: m}).RunAllChecks(context.Background())

	if report.Total != 3 || report.Counts["ok"] != 3 {
		t.Errorf("unexpected counts %v (total %d)", report.Counts, report.Total)
	}
	if _, ok := report.Counts["empty"]; !ok {
		t.Error("rules with zero alerts should still be reported")
	}
	if report.Failed() != 2 {
		t.Fatalf("expected 2 failed rules, got %v", report.Errors)
	}
	if _, ok := report.Counts["broken"]; ok {
		t.Error("failed rules must not appear in counts")
	}
	if got := testutil.ToFloat64(m.RuleFailures.WithLabelValues("panics")); got != 1 {
		t.Errorf("expected panic recorded as failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.AlertsCreated.WithLabelValues("ok")); got != 3 {
		t.Errorf("expected 3 alerts recorded, got %v", got)
	}
}

func TestRunAllChecks_RulesRunConcurrently(t *testing.T) {
	const n = 8
	var arrived sync.WaitGroup
	arrived.Add(n)
	all := make(chan struct{})
	go func() {
		arrived.Wait()
		close(all)
	}()

	rules := make([]Rule, n)
	for i := range rules {
		rules[i] = Rule{Name: string(rune('a' + i)), Check: func(ctx context.Context, now time.Time) (int, error) {
			arrived.Done()
			select {
			case <-all:
				return 1, nil
			case <-time.After(2 * time.Second):
				return 0, errors.New("rules did not overlap")
			}
		}}
	}

	report := NewOrchestrator(rules, OrchestratorConfig{}).RunAllChecks(context.Background())
	if report.Failed() != 0 || report.Total != n {
		t.Errorf("expected all rules to overlap, got errors %v", report.Errors)
	}
}

func TestRunAllChecks_OverlappingCallsShareOnePass(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})

	o := NewOrchestrator([]Rule{{Name: "slow", Check: func(ctx context.Context, now time.Time) (int, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return 1, nil
	}}}, OrchestratorConfig{})

	var wg sync.WaitGroup
	reports := make([]Report, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0] = o.RunAllChecks(context.Background())
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[1] = o.RunAllChecks(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected one execution, got %d", calls.Load())
	}
	if reports[0].Total != 1 || reports[1].Total != 1 {
		t.Errorf("both callers should see the shared report: %+v %+v", reports[0], reports[1])
	}
}

func TestRunAllChecks_CancelledCallerDoesNotFailSharedPass(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})

	o := NewOrchestrator([]Rule{{Name: "slow", Check: func(ctx context.Context, now time.Time) (int, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		select {
		case <-release:
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}}}, OrchestratorConfig{})

	first, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	var wg sync.WaitGroup
	reports := make([]Report, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0] = o.RunAllChecks(first)
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[1] = o.RunAllChecks(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected one execution, got %d", calls.Load())
	}
	for i, r := range reports {
		if r.Failed() != 0 || r.Counts["slow"] != 1 {
			t.Errorf("caller %d: counts %v errors %v", i, r.Counts, r.Errors)
		}
	}
}

func TestRunAllChecks_LockHeldSkipsPass(t *testing.T) {
	m := metrics.New()
	locker := &fakeLocker{held: true}
	var ran atomic.Bool

	o := NewOrchestrator([]Rule{{Name: "r", Check: func(ctx context.Context, now time.Time) (int, error) {
		ran.Store(true)
		return 1, nil
	}}}, OrchestratorConfig{Locker: locker, Metrics: m})

	report := o.RunAllChecks(context.Background())
	if !report.Skipped || report.Total != 0 {
		t.Errorf("expected skipped pass, got %+v", report)
	}
	if ran.Load() {
		t.Error("rules must not run while another instance holds the lock")
	}
	if got := testutil.ToFloat64(m.PassesSkipped); got != 1 {
		t.Errorf("expected skipped pass recorded, got %v", got)
	}
}

func TestRunAllChecks_LockAcquiredAndReleased(t *testing.T) {
	locker := &fakeLocker{}
	o := NewOrchestrator([]Rule{staticRule("r", 2, nil)}, OrchestratorConfig{Locker: locker})

	if report := o.RunAllChecks(context.Background()); report.Total != 2 {
		t.Errorf("expected 2 alerts, got %d", report.Total)
	}
	if locker.acquired != 1 || locker.released != 1 || locker.held {
		t.Errorf("lock not released: acquired=%d released=%d", locker.acquired, locker.released)
	}
}

func TestRunAllChecks_LockErrorStillRuns(t *testing.T) {
	locker := &fakeLocker{err: errors.New("redis down")}
	o := NewOrchestrator([]Rule{staticRule("r", 2, nil)}, OrchestratorConfig{Locker: locker})

	report := o.RunAllChecks(context.Background())
	if report.Skipped || report.Total != 2 {
		t.Errorf("expected pass to run without the lock, got %+v", report)
	}
}

func TestRunRule(t *testing.T) {
	o := NewOrchestrator([]Rule{staticRule("a", 4, nil), staticRule("b", 0, errStoreDown)}, OrchestratorConfig{})

	if n, err := o.RunRule(context.Background(), "a"); err != nil || n != 4 {
		t.Errorf("RunRule(a) = %d, %v", n, err)
	}
	if _, err := o.RunRule(context.Background(), "b"); !errors.Is(err, errStoreDown) {
		t.Errorf("RunRule(b) error = %v", err)
	}
	if _, err := o.RunRule(context.Background(), "missing"); !errors.Is(err, ErrUnknownRule) {
		t.Errorf("expected ErrUnknownRule, got %v", err)
	}
}

func TestRunAllChecks_CapturesNowPerRule(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var seen sync.Map

	rules := []Rule{
		{Name: "a", Check: func(ctx context.Context, now time.Time) (int, error) { seen.Store("a", now); return 0, nil }},
		{Name: "b", Check: func(ctx context.Context, now time.Time) (int, error) { seen.Store("b", now); return 0, nil }},
	}
	o := NewOrchestrator(rules, OrchestratorConfig{})
	o.now = fixedClock(start)
	o.RunAllChecks(context.Background())

	for _, name := range []string{"a", "b"} {
		v, ok := seen.Load(name)
		if !ok || !v.(time.Time).Equal(start) {
			t.Errorf("rule %s saw %v, want %v", name, v, start)
		}
	}
}

func TestNewOrchestrator_RuleNames(t *testing.T) {
	d := newTestDetector(newFakeStore(), &fakeFleet{}, time.Now())
	o := NewOrchestrator(d.Rules(), OrchestratorConfig{Workers: 100})

	names := o.RuleNames()
	if len(names) != 8 || names[0] != RuleRentalExpiring || names[7] != RuleStaleLead {
		t.Errorf("unexpected rule names %v", names)
	}
	if o.workers != 8 {
		t.Errorf("expected workers capped at rule count, got %d", o.workers)
	}
}
