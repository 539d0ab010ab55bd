package models

import "time"

// Read-only snapshots of the business entities observed by the detection rules.
// They are owned and mutated by the host application.

const (
	RentalReserved  = "reserved"
	RentalActive    = "active"
	RentalCompleted = "completed"
	RentalCancelled = "cancelled"

	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"

	VehicleAvailable   = "available"
	VehicleRented      = "rented"
	VehicleMaintenance = "maintenance"

	QuoteDraft    = "draft"
	QuoteSent     = "sent"
	QuoteAccepted = "accepted"
	QuoteRejected = "rejected"
	QuoteExpired  = "expired"

	LeadNew       = "new"
	LeadContacted = "contacted"
	LeadWon       = "won"
	LeadLost      = "lost"
)

type Rental struct {
	ID             int64
	ContractNumber string
	CustomerName   string
	VehiclePlate   string
	Status         string
	StartAt        time.Time
	EndAt          time.Time
}

type Payment struct {
	ID             int64
	RentalID       int64
	ContractNumber string
	Amount         float64
	Method         string
	Status         string
	TransactionAt  time.Time
}

type Vehicle struct {
	ID                 int64
	TypeID             int64
	Plate              string
	Make               string
	Model              string
	Status             string
	IsActive           bool
	NextMaintenanceAt  *time.Time
	InsuranceExpiresAt *time.Time
}

// Label is a short human-readable vehicle description.
func (v *Vehicle) Label() string {
	switch {
	case v.Make == "" && v.Model == "":
		return v.Plate
	case v.Plate == "":
		return v.Make + " " + v.Model
	}
	return v.Make + " " + v.Model + " (" + v.Plate + ")"
}

type VehicleType struct {
	ID   int64
	Name string
}

type Quote struct {
	ID           int64
	QuoteNumber  string
	CustomerName string
	Status       string
	Total        float64
	ValidUntil   time.Time
}

type Lead struct {
	ID             int64
	Name           string
	Email          string
	Phone          string
	Source         string
	Status         string
	NextFollowUpAt time.Time
}
