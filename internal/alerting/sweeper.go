package alerting

import (
	"context"
	"log/slog"
	"time"

	"github.com/mr1hm/rental-alerts/internal/logging"
	"github.com/mr1hm/rental-alerts/internal/metrics"
)

type CleanupReport struct {
	ExpiredDeleted     int64    `json:"expired_deleted"`
	OldResolvedDeleted int64    `json:"old_resolved_deleted"`
	Total              int64    `json:"total"`
	Errors             []string `json:"errors,omitempty"`
}

// Sweeper purges alerts past their explicit expiry and alerts resolved for
// longer than ResolvedRetention. Unresolved alerts without an expiry are
// never touched.
type Sweeper struct {
	store   Store
	metrics *metrics.Collector
	now     func() time.Time
	log     *slog.Logger
}

func NewSweeper(store Store, m *metrics.Collector) *Sweeper {
	return &Sweeper{
		store:   store,
		metrics: m,
		now:     time.Now,
		log:     logging.Component("sweeper"),
	}
}

// Cleanup runs both deletes independently. Failures are logged and reported;
// the next sweep retries them.
func (s *Sweeper) Cleanup(ctx context.Context) CleanupReport {
	now := s.now()
	var report CleanupReport

	n, err := s.store.DeleteExpired(ctx, now)
	if err != nil {
		s.log.Error("failed to delete expired alerts", "error", err)
		s.metrics.SweepFailed("expired")
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.ExpiredDeleted = n
		s.metrics.Purged("expired", n)
	}

	n, err = s.store.DeleteResolvedBefore(ctx, now.Add(-ResolvedRetention))
	if err != nil {
		s.log.Error("failed to delete old resolved alerts", "error", err)
		s.metrics.SweepFailed("resolved")
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.OldResolvedDeleted = n
		s.metrics.Purged("resolved", n)
	}

	report.Total = report.ExpiredDeleted + report.OldResolvedDeleted
	s.log.Info("alert cleanup complete",
		"expired_deleted", report.ExpiredDeleted,
		"old_resolved_deleted", report.OldResolvedDeleted,
		"errors", len(report.Errors),
	)
	return report
}
