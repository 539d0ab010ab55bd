package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mr1hm/rental-alerts/internal/models"
)

const rentalSelect = `SELECT r.id, r.contract_number, COALESCE(c.name, ''), COALESCE(v.plate, ''),
		r.status, r.start_at, r.end_at
	FROM rentals r
	LEFT JOIN customers c ON c.id = r.customer_id
	LEFT JOIN vehicles v ON v.id = r.vehicle_id
	WHERE r.status IN (?, ?)`

func (s *Store) RentalsEndingBetween(ctx context.Context, from, to time.Time) ([]models.Rental, error) {
	query := rentalSelect + ` AND r.end_at >= ? AND r.end_at < ? ORDER BY r.end_at`
	return s.queryRentals(ctx, query, models.RentalActive, models.RentalReserved, millis(from), millis(to))
}

func (s *Store) RentalsEndedBefore(ctx context.Context, t time.Time) ([]models.Rental, error) {
	query := rentalSelect + ` AND r.end_at < ? ORDER BY r.end_at`
	return s.queryRentals(ctx, query, models.RentalActive, models.RentalReserved, millis(t))
}

func (s *Store) queryRentals(ctx context.Context, query string, args ...any) ([]models.Rental, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rentals: %w", err)
	}
	defer rows.Close()

	var rentals []models.Rental
	for rows.Next() {
		var (
			r          models.Rental
			start, end int64
		)
		if err := rows.Scan(&r.ID, &r.ContractNumber, &r.CustomerName, &r.VehiclePlate, &r.Status, &start, &end); err != nil {
			return nil, fmt.Errorf("failed to scan rental: %w", err)
		}
		r.StartAt = fromMillis(start)
		r.EndAt = fromMillis(end)
		rentals = append(rentals, r)
	}
	return rentals, rows.Err()
}

func (s *Store) PendingPaymentsBefore(ctx context.Context, t time.Time) ([]models.Payment, error) {
	query := `SELECT p.id, COALESCE(p.rental_id, 0), COALESCE(r.contract_number, ''), p.amount,
			COALESCE(p.method, ''), p.status, p.transaction_at
		FROM payments p
		LEFT JOIN rentals r ON r.id = p.rental_id
		WHERE p.status = ? AND p.transaction_at <= ?
		ORDER BY p.transaction_at`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), models.PaymentPending, millis(t))
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var (
			p  models.Payment
			tx int64
		)
		if err := rows.Scan(&p.ID, &p.RentalID, &p.ContractNumber, &p.Amount, &p.Method, &p.Status, &tx); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.TransactionAt = fromMillis(tx)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

const vehicleSelect = `SELECT id, vehicle_type_id, plate, COALESCE(make, ''), COALESCE(model, ''),
		status, is_active, next_maintenance_at, insurance_expires_at
	FROM vehicles
	WHERE is_active = TRUE`

func (s *Store) MaintenanceDueBy(ctx context.Context, t time.Time) ([]models.Vehicle, error) {
	query := vehicleSelect + ` AND next_maintenance_at IS NOT NULL AND next_maintenance_at <= ?
		ORDER BY next_maintenance_at`
	return s.queryVehicles(ctx, query, millis(t))
}

func (s *Store) InsuranceExpiringBetween(ctx context.Context, from, to time.Time) ([]models.Vehicle, error) {
	query := vehicleSelect + ` AND insurance_expires_at IS NOT NULL
		AND insurance_expires_at >= ? AND insurance_expires_at <= ?
		ORDER BY insurance_expires_at`
	return s.queryVehicles(ctx, query, millis(from), millis(to))
}

func (s *Store) queryVehicles(ctx context.Context, query string, args ...any) ([]models.Vehicle, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		var (
			v                    models.Vehicle
			maintenance, insured sql.NullInt64
		)
		if err := rows.Scan(&v.ID, &v.TypeID, &v.Plate, &v.Make, &v.Model, &v.Status, &v.IsActive, &maintenance, &insured); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		v.NextMaintenanceAt = timePtr(maintenance)
		v.InsuranceExpiresAt = timePtr(insured)
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

func (s *Store) VehicleTypes(ctx context.Context) ([]models.VehicleType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM vehicle_types WHERE is_active = TRUE ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicle types: %w", err)
	}
	defer rows.Close()

	var types []models.VehicleType
	for rows.Next() {
		var vt models.VehicleType
		if err := rows.Scan(&vt.ID, &vt.Name); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle type: %w", err)
		}
		types = append(types, vt)
	}
	return types, rows.Err()
}

func (s *Store) AvailableCountsByType(ctx context.Context) (map[int64]int, error) {
	query := `SELECT vehicle_type_id, COUNT(*) FROM vehicles
		WHERE is_active = TRUE AND status = ?
		GROUP BY vehicle_type_id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), models.VehicleAvailable)
	if err != nil {
		return nil, fmt.Errorf("failed to count available vehicles: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var (
			typeID int64
			n      int
		)
		if err := rows.Scan(&typeID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle count: %w", err)
		}
		counts[typeID] = n
	}
	return counts, rows.Err()
}

func (s *Store) OpenQuotesValidUntil(ctx context.Context, t time.Time) ([]models.Quote, error) {
	query := `SELECT q.id, q.quote_number, COALESCE(c.name, ''), q.status, q.total, q.valid_until
		FROM quotes q
		LEFT JOIN customers c ON c.id = q.customer_id
		WHERE q.status IN (?, ?) AND q.valid_until <= ?
		ORDER BY q.valid_until`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), models.QuoteDraft, models.QuoteSent, millis(t))
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes: %w", err)
	}
	defer rows.Close()

	var quotes []models.Quote
	for rows.Next() {
		var (
			q          models.Quote
			validUntil int64
		)
		if err := rows.Scan(&q.ID, &q.QuoteNumber, &q.CustomerName, &q.Status, &q.Total, &validUntil); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		q.ValidUntil = fromMillis(validUntil)
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func (s *Store) ExpireQuotes(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE quotes SET status = ?, updated_at = ?
		WHERE status IN (?, ?) AND valid_until < ?`

	res, err := s.db.ExecContext(ctx, s.rebind(query),
		models.QuoteExpired, millis(now), models.QuoteDraft, models.QuoteSent, millis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to expire quotes: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) LeadsFollowUpBefore(ctx context.Context, t time.Time) ([]models.Lead, error) {
	query := `SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(source, ''),
			status, next_follow_up_at
		FROM leads
		WHERE status NOT IN (?, ?) AND next_follow_up_at IS NOT NULL AND next_follow_up_at < ?
		ORDER BY next_follow_up_at`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), models.LeadWon, models.LeadLost, millis(t))
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		var (
			l        models.Lead
			followUp int64
		)
		if err := rows.Scan(&l.ID, &l.Name, &l.Email, &l.Phone, &l.Source, &l.Status, &followUp); err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		l.NextFollowUpAt = fromMillis(followUp)
		leads = append(leads, l)
	}
	return leads, rows.Err()
}
