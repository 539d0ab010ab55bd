package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mr1hm/rental-alerts/internal/logging"
	"github.com/mr1hm/rental-alerts/internal/metrics"
	"github.com/mr1hm/rental-alerts/internal/models"
	"github.com/mr1hm/rental-alerts/internal/repository"
)

const (
	RuleRentalExpiring    = "rental_expiring"
	RuleRentalOverdue     = "rental_overdue"
	RulePaymentPending    = "payment_pending"
	RuleMaintenanceDue    = "maintenance_due"
	RuleInsuranceExpiring = "insurance_expiring"
	RuleLowInventory      = "low_inventory"
	RuleQuoteExpiring     = "quote_expiring"
	RuleStaleLead         = "stale_lead"
)

const (
	day = 24 * time.Hour

	rentalExpiryLead      = 7 * day
	paymentPendingAfter   = 3 * day
	maintenanceHorizon    = 30 * day
	insuranceHorizon      = 30 * day
	insuranceCriticalAt   = 7 * day
	lowInventoryThreshold = 2
	quoteExpiryHorizon    = 2 * day
	leadCriticalAfter     = 3 * day

	dateLayout = "2006-01-02"
)

// Rule is one detection unit. Check receives the instant the invocation
// started and returns how many alerts it created.
type Rule struct {
	Name  string
	Check func(ctx context.Context, now time.Time) (int, error)
}

// Sources are the read-only collaborators the rules observe. Quotes also
// carries the one write the engine performs on business state.
type Sources struct {
	Rentals  repository.RentalReader
	Payments repository.PaymentReader
	Vehicles repository.VehicleReader
	Quotes   repository.QuoteRepository
	Leads    repository.LeadReader
}

type Detector struct {
	src     Sources
	dedup   *Deduplicator
	writer  *Writer
	metrics *metrics.Collector
	log     *slog.Logger
}

func NewDetector(src Sources, dedup *Deduplicator, writer *Writer, m *metrics.Collector) *Detector {
	return &Detector{
		src:     src,
		dedup:   dedup,
		writer:  writer,
		metrics: m,
		log:     logging.Component("detector"),
	}
}

func (d *Detector) Rules() []Rule {
	return []Rule{
		{Name: RuleRentalExpiring, Check: d.rentalExpiring},
		{Name: RuleRentalOverdue, Check: d.rentalOverdue},
		{Name: RulePaymentPending, Check: d.paymentPending},
		{Name: RuleMaintenanceDue, Check: d.maintenanceDue},
		{Name: RuleInsuranceExpiring, Check: d.insuranceExpiring},
		{Name: RuleLowInventory, Check: d.lowInventory},
		{Name: RuleQuoteExpiring, Check: d.quoteExpiring},
		{Name: RuleStaleLead, Check: d.staleLead},
	}
}

type candidate struct {
	entityID string
	build    func() Draft
	// final marks candidates whose entity no longer matches any rule query,
	// so a failed write is not retried by a later pass.
	final bool
}

// emit runs the shared tail of every rule: one batched dedup lookup, then a
// write per surviving candidate. A failed write drops that candidate only.
func (d *Detector) emit(ctx context.Context, now time.Time, alertType models.AlertType, entityType string, cands []candidate) (int, error) {
	seen := make(map[string]struct{}, len(cands))
	unique := make([]candidate, 0, len(cands))
	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		if _, ok := seen[c.entityID]; ok {
			continue
		}
		seen[c.entityID] = struct{}{}
		unique = append(unique, c)
		ids = append(ids, c.entityID)
	}

	suppressed, err := d.dedup.Suppressed(ctx, alertType, entityType, ids, now)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, c := range unique {
		if _, ok := suppressed[c.entityID]; ok {
			continue
		}

		draft := c.build()
		draft.Type = alertType
		draft.EntityType = entityType
		draft.EntityID = c.entityID

		if _, err := d.writer.Create(ctx, draft); err != nil {
			d.metrics.WriteFailed(string(alertType))
			if c.final {
				d.log.Error("alert lost, entity will not be detected again",
					"type", alertType,
					"entity_type", entityType,
					"entity_id", c.entityID,
					"error", err,
				)
				continue
			}
			d.log.Warn("failed to write alert",
				"type", alertType,
				"entity_type", entityType,
				"entity_id", c.entityID,
				"error", err,
			)
			continue
		}
		created++
	}
	return created, nil
}

func (d *Detector) rentalExpiring(ctx context.Context, now time.Time) (int, error) {
	from := now.Add(rentalExpiryLead)
	rentals, err := d.src.Rentals.RentalsEndingBetween(ctx, from, from.Add(day))
	if err != nil {
		return 0, fmt.Errorf("querying expiring rentals: %w", err)
	}

	cands := make([]candidate, 0, len(rentals))
	for _, r := range rentals {
		cands = append(cands, candidate{
			entityID: id(r.ID),
			build: func() Draft {
				return Draft{
					Severity: models.SeverityWarning,
					Title:    "Rental ending in 7 days",
					Message:  fmt.Sprintf("Rental %s ends on %s.", describeRental(r), r.EndAt.Format(dateLayout)),
					Metadata: models.Metadata{
						"contractNumber": r.ContractNumber,
						"customer":       r.CustomerName,
						"vehicle":        r.VehiclePlate,
						"endDate":        r.EndAt.Format(time.RFC3339),
					},
				}
			},
		})
	}
	return d.emit(ctx, now, models.AlertTypeRentalExpiring, models.EntityRental, cands)
}

func (d *Detector) rentalOverdue(ctx context.Context, now time.Time) (int, error) {
	rentals, err := d.src.Rentals.RentalsEndedBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("querying overdue rentals: %w", err)
	}

	cands := make([]candidate, 0, len(rentals))
	for _, r := range rentals {
		days := max(wholeDays(now.Sub(r.EndAt)), 1)
		cands = append(cands, candidate{
			entityID: id(r.ID),
			build: func() Draft {
				return Draft{
					Severity: models.SeverityCritical,
					Title:    "Rental overdue",
					Message: fmt.Sprintf("Rental %s is %s overdue (due %s).",
						describeRental(r), pluralDays(days), r.EndAt.Format(dateLayout)),
					Metadata: models.Metadata{
						"contractNumber": r.ContractNumber,
						"endDate":        r.EndAt.Format(time.RFC3339),
						"daysOverdue":    days,
					},
				}
			},
		})
	}
	return d.emit(ctx, now, models.AlertTypeRentalOverdue, models.EntityRental, cands)
}

func (d *Detector) paymentPending(ctx context.Context, now time.Time) (int, error) {
	payments, err := d.src.Payments.PendingPaymentsBefore(ctx, now.Add(-paymentPendingAfter))
	if err != nil {
		return 0, fmt.Errorf("querying pending payments: %w", err)
	}

	cands := make([]candidate, 0, len(payments))
	for _, p := range payments {
		days := wholeDays(now.Sub(p.TransactionAt))
		cands = append(cands, candidate{
			entityID: id(p.ID),
			build: func() Draft {
				msg := fmt.Sprintf("Payment #%d of %.2f has been pending for %s.", p.ID, p.Amount, pluralDays(days))
				if p.ContractNumber != "" {
					msg = fmt.Sprintf("Payment #%d of %.2f for rental %s has been pending for %s.",
						p.ID, p.Amount, p.ContractNumber, pluralDays(days))
				}
				return Draft{
					Severity: models.SeverityWarning,
					Title:    "Payment pending",
					Message:  msg,
					Metadata: models.Metadata{
						"amount":         p.Amount,
						"method":         p.Method,
						"rentalId":       p.RentalID,
						"contractNumber": p.ContractNumber,
						"daysPending":    days,
					},
				}
			},
		})
	}
	return d.emit(ctx, now, models.AlertTypePaymentPending, models.EntityPayment, cands)
}

func (d *Detector) maintenanceDue(ctx context.Context, now time.Time) (int, error) {
	vehicles, err := d.src.Vehicles.MaintenanceDueBy(ctx, now.Add(maintenanceHorizon))
	if err != nil {
		return 0, fmt.Errorf("querying maintenance schedule: %w", err)
	}

	cands := make([]candidate, 0, len(vehicles))
	for _, v := range vehicles {
		if v.NextMaintenanceAt == nil {
			continue
		}
		due := *v.NextMaintenanceAt
		cands = append(cands, candidate{
			entityID: id(v.ID),
			build: func() Draft {
				draft := Draft{
					Severity: models.SeverityWarning,
					Title:    "Maintenance due",
					Message: fmt.Sprintf("Maintenance for %s is due in %s (%s).",
						v.Label(), pluralDays(wholeDays(due.Sub(now))), due.Format(dateLayout)),
					Metadata: models.Metadata{
						"plate":   v.Plate,
						"dueDate": due.Format(time.RFC3339),
						"overdue": false,
					},
				}
				if due.Before(now) {
					draft.Severity = models.SeverityCritical
					draft.Title = "Maintenance overdue"
					draft.Message = fmt.Sprintf("Maintenance for %s is %s overdue (was due %s).",
						v.Label(), pluralDays(max(wholeDays(now.Sub(due)), 1)), due.Format(dateLayout))
					draft.Metadata["overdue"] = true
				}
				return draft
			},
		})
	}
	return d.emit(ctx, now, models.AlertTypeMaintenanceDue, models.EntityVehicle, cands)
}

func (d *Detector) insuranceExpiring(ctx context.Context, now time.Time) (int, error) {
	vehicles, err := d.src.Vehicles.InsuranceExpiringBetween(ctx, now, now.Add(insuranceHorizon))
	if err != nil {
		return 0, fmt.Errorf("querying insurance expiry: %w", err)
	}

	cands := make([]candidate, 0, len(vehicles))
	for _, v := range vehicles {
		if v.InsuranceExpiresAt == nil {
			continue
		}
		expires := *v.InsuranceExpiresAt
		remaining := expires.Sub(now)
		cands = append(cands, candidate{
			entityID: id(v.ID),
			build: func() Draft {
				severity := models.SeverityWarning
				if remaining <= insuranceCriticalAt {
					severity = models.SeverityCritical
				}
				return Draft{
					Severity: severity,
					Title:    "Insurance expiring",
					Message: fmt.Sprintf("Insurance for %s expires in %s (%s).",
						v.Label(), pluralDays(wholeDays(remaining)), expires.Format(dateLayout)),
					Metadata: models.Metadata{
						"plate":         v.Plate,
						"expiryDate":    expires.Format(time.RFC3339),
						"daysRemaining": wholeDays(remaining),
					},
				}
			},
		})
	}
	return d.emit(ctx, now, models.AlertTypeInsuranceExpiring, models.EntityVehicle, cands)
}

// lowInventory compares every active vehicle type against one grouped count.
func (d *Detector) lowInventory(ctx context.Context, now time.Time) (int, error) {
	types, err := d.src.Vehicles.VehicleTypes(ctx)
	if err != nil {
		return 0, fmt.Errorf("querying vehicle types: %w", err)
	}
	counts, err := d.src.Vehicles.AvailableCountsByType(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting available vehicles: %w", err)
	}

	cands := make([]candidate, 0)
	for _, vt := range types {
		available := counts[vt.ID]
		if available >= lowInventoryThreshold {
			continue
		}
		cands = append(cands, candidate{
			entityID: id(vt.ID),
			build: func() Draft {
				severity := models.SeverityWarning
				if available == 0 {
					severity = models.SeverityCritical
				}
				return Draft{
					Severity: severity,
					Title:    "Low inventory",
					Message: fmt.Sprintf("Only %d %s vehicle(s) available (minimum %d).",
						available, vt.Name, lowInventoryThreshold),
					Metadata: models.Metadata{
						"vehicleType": vt.Name,
						"available":   available,
						"threshold":   lowInventoryThreshold,
					},
				}
			},
		})
	}
	return d.emit(ctx, now, models.AlertTypeLowInventory, models.EntityVehicleType, cands)
}

// quoteExpiring alerts on quotes close to or past their validity. Quotes
// already past it are moved to expired before any alert is checked or written.
func (d *Detector) quoteExpiring(ctx context.Context, now time.Time) (int, error) {
	quotes, err := d.src.Quotes.OpenQuotesValidUntil(ctx, now.Add(quoteExpiryHorizon))
	if err != nil {
		return 0, fmt.Errorf("querying expiring quotes: %w", err)
	}

	if err := d.expireQuotes(ctx, now, quotes); err != nil {
		return 0, err
	}

	cands := make([]candidate, 0, len(quotes))
	for _, q := range quotes {
		expired := q.ValidUntil.Before(now)
		cands = append(cands, candidate{
			entityID: id(q.ID),
			final:    expired,
			build: func() Draft {
				draft := Draft{
					Severity: models.SeverityWarning,
					Title:    "Quote expiring",
					Message: fmt.Sprintf("Quote %s for %s expires on %s.",
						q.QuoteNumber, orUnknown(q.CustomerName), q.ValidUntil.Format(dateLayout)),
					Metadata: models.Metadata{
						"quoteNumber": q.QuoteNumber,
						"total":       q.Total,
						"validUntil":  q.ValidUntil.Format(time.RFC3339),
						"isExpired":   expired,
					},
				}
				if expired {
					draft.Severity = models.SeverityCritical
					draft.Title = "Quote expired"
					draft.Message = fmt.Sprintf("Quote %s for %s expired on %s and was marked expired.",
						q.QuoteNumber, orUnknown(q.CustomerName), q.ValidUntil.Format(dateLayout))
				}
				return draft
			},
		})
	}
	return d.emit(ctx, now, models.AlertTypeCustom, models.EntityQuote, cands)
}

// expireQuotes is the compensating business action of the quote rule. A
// failure aborts the rule so that no alert claims a transition that did not happen.
func (d *Detector) expireQuotes(ctx context.Context, now time.Time, quotes []models.Quote) error {
	pastDue := false
	for _, q := range quotes {
		if q.ValidUntil.Before(now) {
			pastDue = true
			break
		}
	}
	if !pastDue {
		return nil
	}

	n, err := d.src.Quotes.ExpireQuotes(ctx, now)
	if err != nil {
		return fmt.Errorf("expiring quotes: %w", err)
	}
	d.log.Info("quotes marked expired", "count", n)
	return nil
}

func (d *Detector) staleLead(ctx context.Context, now time.Time) (int, error) {
	leads, err := d.src.Leads.LeadsFollowUpBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("querying stale leads: %w", err)
	}

	cands := make([]candidate, 0, len(leads))
	for _, l := range leads {
		late := now.Sub(l.NextFollowUpAt)
		cands = append(cands, candidate{
			entityID: id(l.ID),
			build: func() Draft {
				severity := models.SeverityWarning
				if late > leadCriticalAfter {
					severity = models.SeverityCritical
				}
				return Draft{
					Severity: severity,
					Title:    "Lead follow-up overdue",
					Message: fmt.Sprintf("Follow-up with lead %s was due %s (%s ago).",
						orUnknown(l.Name), l.NextFollowUpAt.Format(dateLayout), pluralDays(wholeDays(late))),
					Metadata: models.Metadata{
						"leadName":    l.Name,
						"email":       l.Email,
						"phone":       l.Phone,
						"status":      l.Status,
						"followUpAt":  l.NextFollowUpAt.Format(time.RFC3339),
						"daysOverdue": wholeDays(late),
					},
				}
			},
		})
	}
	return d.emit(ctx, now, models.AlertTypeCustom, models.EntityLead, cands)
}

func id(n int64) string {
	return strconv.FormatInt(n, 10)
}

func wholeDays(d time.Duration) int {
	return int(d / day)
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func describeRental(r models.Rental) string {
	s := r.ContractNumber
	if s == "" {
		s = "#" + id(r.ID)
	}
	if r.CustomerName != "" {
		s += " for " + r.CustomerName
	}
	if r.VehiclePlate != "" {
		s += " (" + r.VehiclePlate + ")"
	}
	return s
}
