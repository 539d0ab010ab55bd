package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rental_alerts"

// Collector owns its own registry so tests and multiple instances never
// collide on the default one. All methods are safe on a nil Collector.
type Collector struct {
	registry *prometheus.Registry

	AlertsCreated *prometheus.CounterVec
	RuleFailures  *prometheus.CounterVec
	WriteFailures *prometheus.CounterVec
	RuleDuration  *prometheus.HistogramVec
	PassDuration  prometheus.Histogram
	PassesSkipped prometheus.Counter
	AlertsPurged  *prometheus.CounterVec
	SweepFailures *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts created by detection rule",
		}, []string{"rule"}),
		RuleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_failures_total",
			Help:      "Detection rule passes that aborted with an error",
		}, []string{"rule"}),
		WriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_write_failures_total",
			Help:      "Alert candidates lost because the insert failed",
		}, []string{"alert_type"}),
		RuleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rule_duration_seconds",
			Help:      "Duration of a single detection rule pass",
			Buckets:   prometheus.DefBuckets,
		}, []string{"rule"}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_pass_duration_seconds",
			Help:      "Duration of a full orchestration pass",
			Buckets:   prometheus.DefBuckets,
		}),
		PassesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_passes_skipped_total",
			Help:      "Orchestration passes skipped because another instance held the run lock",
		}),
		AlertsPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_purged_total",
			Help:      "Alerts deleted by the retention sweeper",
		}, []string{"reason"}),
		SweepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Retention sweep deletes that failed",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		c.AlertsCreated,
		c.RuleFailures,
		c.WriteFailures,
		c.RuleDuration,
		c.PassDuration,
		c.PassesSkipped,
		c.AlertsPurged,
		c.SweepFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RuleSucceeded(rule string, created int, d time.Duration) {
	if c == nil {
		return
	}
	c.AlertsCreated.WithLabelValues(rule).Add(float64(created))
	c.RuleDuration.WithLabelValues(rule).Observe(d.Seconds())
}

func (c *Collector) RuleFailed(rule string, d time.Duration) {
	if c == nil {
		return
	}
	c.RuleFailures.WithLabelValues(rule).Inc()
	c.RuleDuration.WithLabelValues(rule).Observe(d.Seconds())
}

func (c *Collector) WriteFailed(alertType string) {
	if c == nil {
		return
	}
	c.WriteFailures.WithLabelValues(alertType).Inc()
}

func (c *Collector) PassCompleted(d time.Duration) {
	if c == nil {
		return
	}
	c.PassDuration.Observe(d.Seconds())
}

func (c *Collector) PassSkipped() {
	if c == nil {
		return
	}
	c.PassesSkipped.Inc()
}

func (c *Collector) Purged(reason string, n int64) {
	if c == nil {
		return
	}
	c.AlertsPurged.WithLabelValues(reason).Add(float64(n))
}

func (c *Collector) SweepFailed(reason string) {
	if c == nil {
		return
	}
	c.SweepFailures.WithLabelValues(reason).Inc()
}
