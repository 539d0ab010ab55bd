package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/rental-alerts/internal/logging"
	"github.com/mr1hm/rental-alerts/internal/models"
)

// Draft is an alert before it has an id and creation time.
type Draft struct {
	Type       models.AlertType
	Severity   models.Severity
	Title      string
	Message    string
	EntityType string
	EntityID   string
	Metadata   models.Metadata
	ExpiresAt  *time.Time
}

// Publisher receives every alert after it has been persisted.
type Publisher interface {
	Publish(a *models.Alert)
}

// Writer persists alerts. It has no uniqueness contract of its own: callers
// are expected to run candidates through the Deduplicator first.
type Writer struct {
	store     Store
	publisher Publisher
	now       func() time.Time
	newID     func() string
	log       *slog.Logger
}

func NewWriter(store Store, publisher Publisher) *Writer {
	return &Writer{
		store:     store,
		publisher: publisher,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       logging.Component("alert-writer"),
	}
}

func (w *Writer) Create(ctx context.Context, d Draft) (*models.Alert, error) {
	if d.Type == "" {
		return nil, errors.New("alert type is required")
	}
	if !d.Severity.Valid() {
		return nil, fmt.Errorf("invalid severity %q", d.Severity)
	}
	if d.Title == "" {
		return nil, errors.New("alert title is required")
	}

	var metadata string
	if len(d.Metadata) > 0 {
		raw, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		metadata = string(raw)
	}

	a := &models.Alert{
		ID:         w.newID(),
		Type:       d.Type,
		Severity:   d.Severity,
		Title:      d.Title,
		Message:    d.Message,
		EntityType: d.EntityType,
		EntityID:   d.EntityID,
		IsRead:     false,
		IsResolved: false,
		ExpiresAt:  d.ExpiresAt,
		Metadata:   metadata,
		CreatedAt:  w.now().UTC(),
	}

	if err := w.store.AddAlert(ctx, a); err != nil {
		return nil, err
	}

	w.log.Debug("alert created",
		"id", a.ID,
		"type", a.Type,
		"severity", a.Severity,
		"entity_type", a.EntityType,
		"entity_id", a.EntityID,
	)

	if w.publisher != nil {
		w.publisher.Publish(a)
	}
	return a, nil
}
