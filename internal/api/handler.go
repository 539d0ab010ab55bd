package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/rental-alerts/internal/alerting"
	"github.com/mr1hm/rental-alerts/internal/models"
	"github.com/mr1hm/rental-alerts/internal/notify"
	"github.com/mr1hm/rental-alerts/internal/repository"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// AlertStore is the read and consumer-action side of the alert repository.
type AlertStore interface {
	ListAlerts(ctx context.Context, opts repository.Filter) ([]models.Alert, error)
	CountAlerts(ctx context.Context, opts repository.Filter) (int, error)
	MarkRead(ctx context.Context, id string) error
	Resolve(ctx context.Context, id string, at time.Time) error
	Ping(ctx context.Context) error
}

type Engine interface {
	RunAllChecks(ctx context.Context) alerting.Report
	RunRule(ctx context.Context, name string) (int, error)
	Cleanup(ctx context.Context) alerting.CleanupReport
}

type Handler struct {
	repo        AlertStore
	engine      Engine
	broadcaster *notify.Broadcaster
	metrics     http.Handler
	now         func() time.Time
}

func NewHandler(repo AlertStore, engine Engine, broadcaster *notify.Broadcaster, metrics http.Handler) *Handler {
	return &Handler{
		repo:        repo,
		engine:      engine,
		broadcaster: broadcaster,
		metrics:     metrics,
		now:         time.Now,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/alerts", h.listAlerts)
	r.GET("/api/alerts/count", h.countAlerts)
	r.GET("/api/alerts/stream", h.streamAlerts)
	r.POST("/api/alerts/:id/read", h.markRead)
	r.POST("/api/alerts/:id/resolve", h.resolve)
	r.POST("/api/alerts/cleanup", h.cleanup)
	r.POST("/api/checks/run", h.runChecks)
	r.GET("/health", h.health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}
}

func (h *Handler) listAlerts(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter.Limit = defaultLimit
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= maxLimit {
			filter.Limit = lim
		}
	}
	if o := c.Query("offset"); o != "" {
		if off, err := strconv.Atoi(o); err == nil && off > 0 {
			filter.Offset = off
		}
	}

	alerts, err := h.repo.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alerts"})
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}

	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (h *Handler) countAlerts(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := h.repo.CountAlerts(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// streamAlerts pushes every alert created after the client connects as a
// server-sent "alert" event.
func (h *Handler) streamAlerts(c *gin.Context) {
	if h.broadcaster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "streaming disabled"})
		return
	}

	id, ch := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(id)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case a, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("alert", a)
			return true
		}
	})
}

func (h *Handler) markRead(c *gin.Context) {
	h.consumerAction(c, h.repo.MarkRead(c.Request.Context(), c.Param("id")))
}

func (h *Handler) resolve(c *gin.Context) {
	h.consumerAction(c, h.repo.Resolve(c.Request.Context(), c.Param("id"), h.now().UTC()))
}

func (h *Handler) consumerAction(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update alert"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "id": c.Param("id")})
	}
}

func (h *Handler) runChecks(c *gin.Context) {
	if rule := c.Query("rule"); rule != "" {
		n, err := h.engine.RunRule(c.Request.Context(), rule)
		switch {
		case errors.Is(err, alerting.ErrUnknownRule):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"rule": rule, "error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"rule": rule, "created": n})
		}
		return
	}

	c.JSON(http.StatusOK, h.engine.RunAllChecks(c.Request.Context()))
}

func (h *Handler) cleanup(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Cleanup(c.Request.Context()))
}

func (h *Handler) health(c *gin.Context) {
	if err := h.repo.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseFilter(c *gin.Context) (repository.Filter, error) {
	var filter repository.Filter

	if t := c.Query("type"); t != "" {
		at := models.AlertType(t)
		filter.Type = &at
	}
	if s := c.Query("severity"); s != "" {
		sev := models.Severity(s)
		if !sev.Valid() {
			return filter, errors.New("invalid severity")
		}
		filter.Severity = &sev
	}
	if r := c.Query("resolved"); r != "" {
		b, err := strconv.ParseBool(r)
		if err != nil {
			return filter, errors.New("invalid resolved flag")
		}
		filter.IsResolved = &b
	}
	if r := c.Query("read"); r != "" {
		b, err := strconv.ParseBool(r)
		if err != nil {
			return filter, errors.New("invalid read flag")
		}
		filter.IsRead = &b
	}
	if s := c.Query("since"); s != "" {
		t, err := parseSince(s)
		if err != nil {
			return filter, errors.New("invalid since, use YYYY-MM-DD or RFC3339")
		}
		filter.Since = &t
	}
	return filter, nil
}

func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
