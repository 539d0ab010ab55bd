package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/rental-alerts/internal/models"
)

var ErrNotFound = errors.New("not found")

type Filter struct {
	Limit      int
	Offset     int
	Since      *time.Time
	Type       *models.AlertType
	Severity   *models.Severity
	IsResolved *bool
	IsRead     *bool
}

type AlertRepository interface {
	AddAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, opts Filter) ([]models.Alert, error)
	CountAlerts(ctx context.Context, opts Filter) (int, error)
	// ActiveEntityIDs returns the subset of entityIDs that already have an alert of
	// the given type which is unresolved or was created at or after since.
	ActiveEntityIDs(ctx context.Context, alertType models.AlertType, entityType string, entityIDs []string, since time.Time) (map[string]struct{}, error)
	MarkRead(ctx context.Context, id string) error
	Resolve(ctx context.Context, id string, at time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RentalReader only returns reserved or active rentals.
type RentalReader interface {
	RentalsEndingBetween(ctx context.Context, from, to time.Time) ([]models.Rental, error)
	RentalsEndedBefore(ctx context.Context, t time.Time) ([]models.Rental, error)
}

type PaymentReader interface {
	PendingPaymentsBefore(ctx context.Context, t time.Time) ([]models.Payment, error)
}

// VehicleReader only returns active vehicles and vehicle types.
type VehicleReader interface {
	MaintenanceDueBy(ctx context.Context, t time.Time) ([]models.Vehicle, error)
	InsuranceExpiringBetween(ctx context.Context, from, to time.Time) ([]models.Vehicle, error)
	VehicleTypes(ctx context.Context) ([]models.VehicleType, error)
	// AvailableCountsByType returns available vehicle counts keyed by type id.
	// Types without any available vehicle are absent.
	AvailableCountsByType(ctx context.Context) (map[int64]int, error)
}

type QuoteRepository interface {
	// OpenQuotesValidUntil returns draft or sent quotes with valid_until <= t.
	OpenQuotesValidUntil(ctx context.Context, t time.Time) ([]models.Quote, error)
	// ExpireQuotes moves draft or sent quotes with valid_until < now to expired.
	ExpireQuotes(ctx context.Context, now time.Time) (int64, error)
}

type LeadReader interface {
	// LeadsFollowUpBefore returns leads not won or lost with a follow-up before t.
	LeadsFollowUpBefore(ctx context.Context, t time.Time) ([]models.Lead, error)
}
