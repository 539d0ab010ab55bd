package alerting

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mr1hm/rental-alerts/internal/models"
)

var errStoreDown = errors.New("store unavailable")

// fakeStore implements Store in memory.
type fakeStore struct {
	mu      sync.Mutex
	alerts  []models.Alert
	lookups map[models.AlertType]int

	lookupErr   error
	failAddFor  map[string]bool // entity ids whose insert fails
	expiredErr  error
	resolvedErr error
	events      *eventLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lookups:    make(map[models.AlertType]int),
		failAddFor: make(map[string]bool),
	}
}

func (f *fakeStore) AddAlert(ctx context.Context, a *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAddFor[a.EntityID] {
		return errStoreDown
	}
	f.events.add("add:" + string(a.Type) + ":" + a.EntityType)
	f.alerts = append(f.alerts, *a)
	return nil
}

func (f *fakeStore) ActiveEntityIDs(ctx context.Context, alertType models.AlertType, entityType string, entityIDs []string, since time.Time) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups[alertType]++
	f.events.add("lookup:" + string(alertType) + ":" + entityType)
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}

	wanted := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		wanted[id] = true
	}
	found := make(map[string]struct{})
	for _, a := range f.alerts {
		if a.Type != alertType || a.EntityType != entityType || !wanted[a.EntityID] {
			continue
		}
		if !a.IsResolved || !a.CreatedAt.Before(since) {
			found[a.EntityID] = struct{}{}
		}
	}
	return found, nil
}

func (f *fakeStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expiredErr != nil {
		return 0, f.expiredErr
	}
	return f.deleteWhere(func(a models.Alert) bool {
		return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
	}), nil
}

func (f *fakeStore) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolvedErr != nil {
		return 0, f.resolvedErr
	}
	return f.deleteWhere(func(a models.Alert) bool {
		return a.IsResolved && a.ResolvedAt != nil && a.ResolvedAt.Before(cutoff)
	}), nil
}

func (f *fakeStore) deleteWhere(match func(models.Alert) bool) int64 {
	kept := f.alerts[:0]
	var n int64
	for _, a := range f.alerts {
		if match(a) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	f.alerts = kept
	return n
}

func (f *fakeStore) seed(a models.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
}

func (f *fakeStore) byType(t models.AlertType, entityType string) []models.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Alert
	for _, a := range f.alerts {
		if a.Type == t && a.EntityType == entityType {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

func (f *fakeStore) lookupCount(t models.AlertType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups[t]
}

// eventLog records the order of store calls across fakes.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(ev string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *eventLog) index(ev string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, got := range e.events {
		if got == ev {
			return i
		}
	}
	return -1
}

// fakeFleet implements every read collaborator with the same predicates the
// SQL store uses.
type fakeFleet struct {
	mu       sync.Mutex
	rentals  []models.Rental
	payments []models.Payment
	vehicles []models.Vehicle
	types    []models.VehicleType
	quotes   []models.Quote
	leads    []models.Lead

	err          error
	expireErr    error
	windowFrom   time.Time
	windowTo     time.Time
	typeQueries  int
	countQueries int
	events       *eventLog
}

func (f *fakeFleet) sources() Sources {
	return Sources{Rentals: f, Payments: f, Vehicles: f, Quotes: f, Leads: f}
}

func openRental(r models.Rental) bool {
	return r.Status == models.RentalActive || r.Status == models.RentalReserved
}

func (f *fakeFleet) RentalsEndingBetween(ctx context.Context, from, to time.Time) ([]models.Rental, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windowFrom, f.windowTo = from, to
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Rental
	for _, r := range f.rentals {
		if openRental(r) && !r.EndAt.Before(from) && r.EndAt.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeFleet) RentalsEndedBefore(ctx context.Context, t time.Time) ([]models.Rental, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Rental
	for _, r := range f.rentals {
		if openRental(r) && r.EndAt.Before(t) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeFleet) PendingPaymentsBefore(ctx context.Context, t time.Time) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Payment
	for _, p := range f.payments {
		if p.Status == models.PaymentPending && !p.TransactionAt.After(t) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeFleet) MaintenanceDueBy(ctx context.Context, t time.Time) ([]models.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Vehicle
	for _, v := range f.vehicles {
		if v.IsActive && v.NextMaintenanceAt != nil && !v.NextMaintenanceAt.After(t) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeFleet) InsuranceExpiringBetween(ctx context.Context, from, to time.Time) ([]models.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Vehicle
	for _, v := range f.vehicles {
		if v.IsActive && v.InsuranceExpiresAt != nil &&
			!v.InsuranceExpiresAt.Before(from) && !v.InsuranceExpiresAt.After(to) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeFleet) VehicleTypes(ctx context.Context) ([]models.VehicleType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typeQueries++
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.VehicleType(nil), f.types...), nil
}

func (f *fakeFleet) AvailableCountsByType(ctx context.Context) (map[int64]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countQueries++
	if f.err != nil {
		return nil, f.err
	}
	counts := make(map[int64]int)
	for _, v := range f.vehicles {
		if v.IsActive && v.Status == models.VehicleAvailable {
			counts[v.TypeID]++
		}
	}
	return counts, nil
}

func (f *fakeFleet) OpenQuotesValidUntil(ctx context.Context, t time.Time) ([]models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Quote
	for _, q := range f.quotes {
		if (q.Status == models.QuoteDraft || q.Status == models.QuoteSent) && !q.ValidUntil.After(t) {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeFleet) ExpireQuotes(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events.add("expire-quotes")
	if f.expireErr != nil {
		return 0, f.expireErr
	}
	var n int64
	for i, q := range f.quotes {
		if (q.Status == models.QuoteDraft || q.Status == models.QuoteSent) && q.ValidUntil.Before(now) {
			f.quotes[i].Status = models.QuoteExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeFleet) LeadsFollowUpBefore(ctx context.Context, t time.Time) ([]models.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Lead
	for _, l := range f.leads {
		if l.Status != models.LeadWon && l.Status != models.LeadLost && l.NextFollowUpAt.Before(t) {
			out = append(out, l)
		}
	}
	return out, nil
}

// recordingPublisher collects published alerts.
type recordingPublisher struct {
	mu     sync.Mutex
	alerts []*models.Alert
}

func (p *recordingPublisher) Publish(a *models.Alert) {
	p.mu.Lock()
	p.alerts = append(p.alerts, a)
	p.mu.Unlock()
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.alerts)
}

// fixedClock returns a clock frozen at t.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func tp(t time.Time) *time.Time { return &t }
