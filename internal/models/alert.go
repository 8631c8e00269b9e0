package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/alertline/geodispatch/internal/geo"
)

type AlertType string

const (
	AlertTypeLandslide     AlertType = "landslide"
	AlertTypeFlood         AlertType = "flood"
	AlertTypeSevereWeather AlertType = "severe_weather"
	AlertTypeEvacuation    AlertType = "evacuation"
	AlertTypeOther         AlertType = "other"
)

func ParseAlertType(s string) (AlertType, bool) {
	switch AlertType(s) {
	case AlertTypeLandslide, AlertTypeFlood, AlertTypeSevereWeather, AlertTypeEvacuation, AlertTypeOther:
		return AlertType(s), true
	}
	return "", false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities, critical highest. Unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), true
	}
	return "", false
}

type AlertStatus string

const (
	AlertStatusActive   AlertStatus = "active"
	AlertStatusInactive AlertStatus = "inactive"
	AlertStatusExpired  AlertStatus = "expired"
)

type GeometryType string

const (
	GeometryPoint   GeometryType = "point"
	GeometryPolygon GeometryType = "polygon"
)

const DefaultAlertRadiusKm = 25.0

var (
	ErrInvalidWindow = errors.New("models: validUntil must be after validFrom")
	// ErrUnsupportedGeography is returned for the polygon arm, which is
	// modeled but has no matching logic yet.
	ErrUnsupportedGeography = errors.New("models: unsupported geography type")
	ErrMissingCoordinates   = errors.New("models: geometry requires coordinates")
)

// Geometry is a tagged union. Only the point arm is usable for matching;
// polygon data is carried but any geometric operation on it fails loudly.
type Geometry struct {
	Type     GeometryType
	Center   geo.Point // point arm
	RadiusKm float64   // point arm, affected-area disc
	Ring     []geo.Point
}

// PointGeometry builds a point-arm geometry, applying the default radius
// when none is given.
func PointGeometry(center geo.Point, radiusKm float64) Geometry {
	if radiusKm <= 0 {
		radiusKm = DefaultAlertRadiusKm
	}
	return Geometry{Type: GeometryPoint, Center: center, RadiusKm: radiusKm}
}

func (g Geometry) Validate() error {
	switch g.Type {
	case GeometryPoint:
		if g.RadiusKm < 0 {
			return geo.ErrNegativeRadius
		}
		return nil
	case GeometryPolygon:
		if len(g.Ring) < 3 {
			return ErrMissingCoordinates
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedGeography, g.Type)
}

// Contains reports whether p falls inside the alert's affected area.
func (g Geometry) Contains(p geo.Point) (bool, error) {
	if g.Type != GeometryPoint {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedGeography, g.Type)
	}
	return geo.WithinRadius(g.Center, p, g.RadiusKm)
}

type AlertStats struct {
	Views           int64
	Shares          int64
	Acknowledgments int64
}

type Alert struct {
	ID          string
	ExternalID  string // dedup key for ingested alerts, unique when present
	Title       string
	Description string
	Type        AlertType
	Severity    Severity
	Status      AlertStatus // denormalized cache, advisory only; see ActiveAt
	Geometry    Geometry
	Address     string
	City        string
	Country     string
	ValidFrom   time.Time
	ValidUntil  time.Time
	IsPublic    bool
	CreatedBy   string
	UpdatedBy   string
	Tags        []string
	Source      string  // "manual", "api", "system"
	Confidence  float64 // 0-1, ingestion sources only
	Stats       AlertStats
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActiveAt is the authoritative activeness check: the instant lies inside
// the validity window. The stored Status field is never consulted here.
func (a *Alert) ActiveAt(t time.Time) bool {
	return !t.Before(a.ValidFrom) && !t.After(a.ValidUntil)
}

func (a *Alert) ExpiredAt(t time.Time) bool {
	return t.After(a.ValidUntil)
}

func (a *Alert) Validate() error {
	if a.Title == "" {
		return errors.New("models: alert title is required")
	}
	if _, ok := ParseAlertType(string(a.Type)); !ok {
		return fmt.Errorf("models: invalid alert type %q", a.Type)
	}
	if _, ok := ParseSeverity(string(a.Severity)); !ok {
		return fmt.Errorf("models: invalid severity %q", a.Severity)
	}
	if !a.ValidUntil.After(a.ValidFrom) {
		return ErrInvalidWindow
	}
	return a.Geometry.Validate()
}
