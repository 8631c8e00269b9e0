// Package match computes the affected-user set for an alert and the
// matching-alert set for a location. The two directions are intentionally
// asymmetric: affected-users uses the alert's own radius, nearby-alerts uses
// the caller's query radius.
package match

import (
	"context"
	"fmt"
	"time"

	"github.com/alertline/geodispatch/internal/geo"
	"github.com/alertline/geodispatch/internal/models"
	"github.com/alertline/geodispatch/internal/repository"
)

type Engine struct {
	alerts repository.AlertRepository
	users  repository.UserRepository
}

func NewEngine(alerts repository.AlertRepository, users repository.UserRepository) *Engine {
	return &Engine{
		alerts: alerts,
		users:  users,
	}
}

// FindAffectedUsers returns the active users inside the alert's danger zone.
// The alert's radius decides membership; the user's preference radius gates
// notification sending, not affectedness.
func (e *Engine) FindAffectedUsers(ctx context.Context, alert *models.Alert) ([]models.User, error) {
	if alert.Geometry.Type != models.GeometryPoint {
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedGeography, alert.Geometry.Type)
	}
	users, err := e.users.FindActiveNear(ctx, alert.Geometry.Center, alert.Geometry.RadiusKm)
	if err != nil {
		return nil, fmt.Errorf("finding affected users for alert %s: %w", alert.ID, err)
	}
	return users, nil
}

// FindAlertsNear returns active public alerts whose center lies within
// radiusKm of point, ranked by severity then recency.
func (e *Engine) FindAlertsNear(ctx context.Context, point geo.Point, radiusKm float64, f repository.AlertFilter) ([]models.Alert, error) {
	if radiusKm < 0 {
		return nil, geo.ErrNegativeRadius
	}
	alerts, err := e.alerts.FindActiveNear(ctx, point, radiusKm, time.Now(), f)
	if err != nil {
		return nil, fmt.Errorf("finding alerts near (%v, %v): %w", point.Lat, point.Lon, err)
	}
	return alerts, nil
}
