package models

import "time"

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

type AlertType string

const (
	AlertTypeRentalExpiring    AlertType = "rental_expiring"
	AlertTypeRentalOverdue     AlertType = "rental_overdue"
	AlertTypePaymentPending    AlertType = "payment_pending"
	AlertTypeMaintenanceDue    AlertType = "maintenance_due"
	AlertTypeInsuranceExpiring AlertType = "insurance_expiring"
	AlertTypeLowInventory      AlertType = "low_inventory"
	AlertTypeCustom            AlertType = "custom" // quote expiry and lead follow-up
)

// Entity types referenced by alerts.
const (
	EntityRental      = "rental"
	EntityPayment     = "payment"
	EntityVehicle     = "vehicle"
	EntityVehicleType = "vehicle_type"
	EntityQuote       = "quote"
	EntityLead        = "lead"
)

// Metadata is the rule-specific payload. It is serialized once when the alert
// is written and never read back by the engine.
type Metadata map[string]any

type Alert struct {
	ID         string     `json:"id"`
	Type       AlertType  `json:"alert_type"`
	Severity   Severity   `json:"severity"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	EntityType string     `json:"entity_type,omitempty"`
	EntityID   string     `json:"entity_id,omitempty"`
	IsRead     bool       `json:"is_read"`
	IsResolved bool       `json:"is_resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Metadata   string     `json:"metadata,omitempty"` // serialized JSON
	CreatedAt  time.Time  `json:"created_at"`
}
