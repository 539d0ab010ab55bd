package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/mr1hm/rental-alerts/internal/models"
)

const (
	// DedupWindow is how long after its creation an alert keeps suppressing new
	// alerts for the same key, even once resolved.
	DedupWindow = 24 * time.Hour

	// ResolvedRetention is how long resolved alerts are kept before the sweeper
	// purges them.
	ResolvedRetention = 30 * 24 * time.Hour
)

// Store is the slice of the alert repository the engine writes through.
type Store interface {
	AddAlert(ctx context.Context, a *models.Alert) error
	ActiveEntityIDs(ctx context.Context, alertType models.AlertType, entityType string, entityIDs []string, since time.Time) (map[string]struct{}, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Deduplicator struct {
	store Store
}

func NewDeduplicator(store Store) *Deduplicator {
	return &Deduplicator{store: store}
}

// Suppressed returns the entity ids that already have an unresolved alert, or
// one created within DedupWindow, for the given type. All ids are checked with
// a single store query; an empty list issues none.
func (d *Deduplicator) Suppressed(ctx context.Context, alertType models.AlertType, entityType string, entityIDs []string, now time.Time) (map[string]struct{}, error) {
	if len(entityIDs) == 0 {
		return map[string]struct{}{}, nil
	}

	found, err := d.store.ActiveEntityIDs(ctx, alertType, entityType, entityIDs, now.Add(-DedupWindow))
	if err != nil {
		return nil, fmt.Errorf("dedup lookup for %s/%s: %w", alertType, entityType, err)
	}
	return found, nil
}
