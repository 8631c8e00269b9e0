package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/alertline/geodispatch/internal/dispatch"
	"github.com/alertline/geodispatch/internal/geo"
	"github.com/alertline/geodispatch/internal/ingestion"
	"github.com/alertline/geodispatch/internal/match"
	"github.com/alertline/geodispatch/internal/models"
	"github.com/alertline/geodispatch/internal/repository"
	"github.com/alertline/geodispatch/internal/sweep"
)

const (
	defaultNearbyLimit = 20
	maxNearbyLimit     = 500
)

// Dispatcher triggers notification delivery for a stored alert.
type Dispatcher interface {
	DispatchForAlert(ctx context.Context, alertID string) (dispatch.Result, error)
}

// Ingestor runs one feed fetch on demand.
type Ingestor interface {
	RunOnce(ctx context.Context) (ingestion.Summary, error)
}

// SweepRunner runs one expiry sweep on demand.
type SweepRunner interface {
	Run(ctx context.Context, now time.Time) (sweep.Result, error)
}

type Handler struct {
	engine     *match.Engine
	alerts     repository.AlertRepository
	ledger     repository.NotificationRepository
	dispatcher Dispatcher
	ingestor   Ingestor
	sweeper    SweepRunner
}

func NewHandler(engine *match.Engine, alerts repository.AlertRepository, ledger repository.NotificationRepository, dispatcher Dispatcher, ingestor Ingestor, sweeper SweepRunner) *Handler {
	return &Handler{
		engine:     engine,
		alerts:     alerts,
		ledger:     ledger,
		dispatcher: dispatcher,
		ingestor:   ingestor,
		sweeper:    sweeper,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/api/alerts/nearby", h.getAlertsNearby)
	r.POST("/api/alerts", h.createAlert)
	r.POST("/api/alerts/:id/dispatch", h.dispatchAlert)
	r.GET("/api/notifications/stats", h.notificationStats)
	r.POST("/api/ingest/run", h.runIngestion)
	r.POST("/api/sweep", h.runSweep)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getAlertsNearby serves active public alerts around a point. Bad
// coordinates are a 400; a quiet area is an empty collection.
func (h *Handler) getAlertsNearby(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat must be a number in [-90, 90]"})
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lon must be a number in [-180, 180]"})
		return
	}

	radius := models.DefaultAlertRadiusKm
	if r := c.Query("radius"); r != "" {
		radius, err = strconv.ParseFloat(r, 64)
		if err != nil || radius < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "radius must be a non-negative number"})
			return
		}
	}

	filter := repository.AlertFilter{Limit: defaultNearbyLimit}
	if t := c.Query("type"); t != "" {
		at, ok := models.ParseAlertType(t)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown alert type"})
			return
		}
		filter.Type = &at
	}
	if s := c.Query("min_severity"); s != "" {
		sev, ok := models.ParseSeverity(s)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity"})
			return
		}
		filter.MinSeverity = &sev
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= maxNearbyLimit {
			filter.Limit = lim
		}
	}

	alerts, err := h.engine.FindAlertsNear(c.Request.Context(), geo.Point{Lat: lat, Lon: lon}, radius, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alerts"})
		return
	}

	fc := toGeoJSON(alerts)
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

type createAlertRequest struct {
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	Type        string     `json:"type" binding:"required"`
	Severity    string     `json:"severity" binding:"required"`
	Lat         float64    `json:"lat" binding:"min=-90,max=90"`
	Lon         float64    `json:"lon" binding:"min=-180,max=180"`
	RadiusKm    float64    `json:"radius_km"`
	Address     string     `json:"address"`
	City        string     `json:"city"`
	Country     string     `json:"country"`
	ValidFrom   *time.Time `json:"valid_from"`
	ValidUntil  time.Time  `json:"valid_until" binding:"required"`
	IsPublic    *bool      `json:"is_public"`
	Tags        []string   `json:"tags"`
}

func (h *Handler) createAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	validFrom := now
	if req.ValidFrom != nil {
		validFrom = *req.ValidFrom
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	alert := &models.Alert{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Type:        models.AlertType(req.Type),
		Severity:    models.Severity(req.Severity),
		Status:      models.AlertStatusActive,
		Geometry:    models.PointGeometry(geo.Point{Lat: req.Lat, Lon: req.Lon}, req.RadiusKm),
		Address:     req.Address,
		City:        req.City,
		Country:     req.Country,
		ValidFrom:   validFrom,
		ValidUntil:  req.ValidUntil,
		IsPublic:    isPublic,
		Tags:        req.Tags,
		Source:      "manual",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := alert.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.alerts.Create(c.Request.Context(), alert); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store alert"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": alert.ID})
}

func (h *Handler) dispatchAlert(c *gin.Context) {
	res, err := h.dispatcher.DispatchForAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		case errors.Is(err, models.ErrUnsupportedGeography):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "alert geometry cannot be matched"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed"})
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) notificationStats(c *gin.Context) {
	counts, err := h.ledger.CountByStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (h *Handler) runIngestion(c *gin.Context) {
	s, err := h.ingestor.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion run failed"})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) runSweep(c *gin.Context) {
	res, err := h.sweeper.Run(c.Request.Context(), time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}
