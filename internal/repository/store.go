package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Store implements the alert store and the fleet read collaborators on top of
// database/sql. Queries are written with ? placeholders and rebound for postgres.
type Store struct {
	db      *sql.DB
	dialect string
}

var (
	_ AlertRepository = (*Store)(nil)
	_ RentalReader    = (*Store)(nil)
	_ PaymentReader   = (*Store)(nil)
	_ VehicleReader   = (*Store)(nil)
	_ QuoteRepository = (*Store)(nil)
	_ LeadReader      = (*Store)(nil)
)

func NewSQLiteDB(path string) (*Store, error) {
	return Open(DialectSQLite, path)
}

func Open(dialect, dsn string) (*Store, error) {
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported database driver: %s", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if dialect == DialectSQLite {
		// A single connection keeps :memory: databases shared and avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &Store{
		db:      db,
		dialect: dialect,
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating database: %w", err)
	}

	return s, nil
}

// migrate creates the alerts table owned by this service. The fleet tables
// belong to the host application and are only created when missing so the
// service can run standalone.
func (s *Store) migrate(ctx context.Context) error {
	pk := "INTEGER PRIMARY KEY"
	if s.dialect == DialectPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			entity_type TEXT,
			entity_id TEXT,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			is_resolved BOOLEAN NOT NULL DEFAULT FALSE,
			resolved_at BIGINT,
			expires_at BIGINT,
			metadata TEXT,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts(alert_type, entity_type, entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_is_resolved ON alerts(is_resolved)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_expires_at ON alerts(expires_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS customers (
			id %s,
			name TEXT NOT NULL,
			email TEXT
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vehicle_types (
			id %s,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vehicles (
			id %s,
			vehicle_type_id BIGINT NOT NULL,
			plate TEXT NOT NULL,
			make TEXT,
			model TEXT,
			status TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			next_maintenance_at BIGINT,
			insurance_expires_at BIGINT
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rentals (
			id %s,
			contract_number TEXT NOT NULL,
			customer_id BIGINT,
			vehicle_id BIGINT,
			status TEXT NOT NULL,
			start_at BIGINT NOT NULL,
			end_at BIGINT NOT NULL
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS payments (
			id %s,
			rental_id BIGINT,
			amount DOUBLE PRECISION NOT NULL DEFAULT 0,
			method TEXT,
			status TEXT NOT NULL,
			transaction_at BIGINT NOT NULL
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS quotes (
			id %s,
			quote_number TEXT NOT NULL,
			customer_id BIGINT,
			status TEXT NOT NULL,
			total DOUBLE PRECISION NOT NULL DEFAULT 0,
			valid_until BIGINT NOT NULL,
			updated_at BIGINT
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS leads (
			id %s,
			name TEXT NOT NULL,
			email TEXT,
			phone TEXT,
			source TEXT,
			status TEXT NOT NULL,
			next_follow_up_at BIGINT
		)`, pk),
		`CREATE INDEX IF NOT EXISTS idx_rentals_status_end ON rentals(status, end_at)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status, transaction_at)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_type ON vehicles(vehicle_type_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_status ON quotes(status, valid_until)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status, next_follow_up_at)`,
	}

	for i, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Timestamps are persisted as Unix milliseconds so that range predicates
// compare numerically on every dialect.
func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
