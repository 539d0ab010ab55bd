package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/rental-alerts/internal/models"
)

const alertColumns = `id, alert_type, severity, title, message, entity_type, entity_id,
	is_read, is_resolved, resolved_at, expires_at, metadata, created_at`

func (s *Store) AddAlert(ctx context.Context, a *models.Alert) error {
	query := s.rebind(`INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		string(a.Type),
		string(a.Severity),
		a.Title,
		a.Message,
		nullString(a.EntityType),
		nullString(a.EntityID),
		a.IsRead,
		a.IsResolved,
		nullMillis(a.ResolvedAt),
		nullMillis(a.ExpiresAt),
		nullString(a.Metadata),
		millis(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (s *Store) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	query := s.rebind(`SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`)

	a, err := scanAlert(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

func (s *Store) ListAlerts(ctx context.Context, opts Filter) ([]models.Alert, error) {
	where, args := alertWhere(opts)
	query := `SELECT ` + alertColumns + ` FROM alerts` + where + ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (s *Store) CountAlerts(ctx context.Context, opts Filter) (int, error) {
	where, args := alertWhere(opts)

	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM alerts`+where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

func (s *Store) ActiveEntityIDs(ctx context.Context, alertType models.AlertType, entityType string, entityIDs []string, since time.Time) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(entityIDs) == 0 {
		return found, nil
	}

	query := `SELECT DISTINCT entity_id FROM alerts
		WHERE alert_type = ? AND entity_type = ?
		AND entity_id IN (` + placeholders(len(entityIDs)) + `)
		AND (is_resolved = FALSE OR created_at >= ?)`

	args := make([]any, 0, len(entityIDs)+3)
	args = append(args, string(alertType), entityType)
	for _, id := range entityIDs {
		args = append(args, id)
	}
	args = append(args, millis(since))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		found[id] = struct{}{}
	}
	return found, rows.Err()
}

func (s *Store) MarkRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE alerts SET is_read = TRUE WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to mark alert read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Resolve is a no-op for alerts that are already resolved; resolved_at keeps
// its first value.
func (s *Store) Resolve(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE alerts SET is_resolved = TRUE, resolved_at = ? WHERE id = ? AND is_resolved = FALSE`),
		millis(at), id)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	if _, err := s.GetAlert(ctx, id); err != nil {
		return err
	}
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM alerts WHERE expires_at IS NOT NULL AND expires_at < ?`),
		millis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired alerts: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM alerts WHERE is_resolved = TRUE AND resolved_at IS NOT NULL AND resolved_at < ?`),
		millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved alerts: %w", err)
	}
	return res.RowsAffected()
}

func alertWhere(opts Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if opts.Type != nil {
		conds = append(conds, "alert_type = ?")
		args = append(args, string(*opts.Type))
	}
	if opts.Severity != nil {
		conds = append(conds, "severity = ?")
		args = append(args, string(*opts.Severity))
	}
	if opts.IsResolved != nil {
		conds = append(conds, "is_resolved = ?")
		args = append(args, *opts.IsResolved)
	}
	if opts.IsRead != nil {
		conds = append(conds, "is_read = ?")
		args = append(args, *opts.IsRead)
	}
	if opts.Since != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, millis(*opts.Since))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a                    models.Alert
		alertType, severity  string
		entityType, entityID sql.NullString
		metadata             sql.NullString
		resolvedAt           sql.NullInt64
		expiresAt            sql.NullInt64
		createdAt            int64
	)
	err := row.Scan(
		&a.ID,
		&alertType,
		&severity,
		&a.Title,
		&a.Message,
		&entityType,
		&entityID,
		&a.IsRead,
		&a.IsResolved,
		&resolvedAt,
		&expiresAt,
		&metadata,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	a.Type = models.AlertType(alertType)
	a.Severity = models.Severity(severity)
	a.EntityType = entityType.String
	a.EntityID = entityID.String
	a.Metadata = metadata.String
	a.ResolvedAt = timePtr(resolvedAt)
	a.ExpiresAt = timePtr(expiresAt)
	a.CreatedAt = fromMillis(createdAt)
	return &a, nil
}
