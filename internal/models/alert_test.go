package models

import (
	"errors"
	"testing"
	"time"

	"github.com/alertline/geodispatch/internal/geo"
)

func validAlert() *Alert {
	now := time.Now()
	return &Alert{
		ID:         "a1",
		Title:      "Flood Warning - Mumbai",
		Type:       AlertTypeFlood,
		Severity:   SeverityHigh,
		Status:     AlertStatusActive,
		Geometry:   PointGeometry(geo.Point{Lat: 19.0760, Lon: 72.8777}, 25),
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(time.Hour),
		IsPublic:   true,
	}
}

func TestAlert_ActiveAt_IgnoresStatus(t *testing.T) {
	a := validAlert()
	now := time.Now()

	// Status says expired but the window is open: still active.
	a.Status = AlertStatusExpired
	if !a.ActiveAt(now) {
		t.Error("alert inside window should be active regardless of status")
	}

	// Status says active but the window is closed: not active.
	a.Status = AlertStatusActive
	if a.ActiveAt(a.ValidUntil.Add(time.Minute)) {
		t.Error("alert past validUntil should not be active")
	}
	if a.ActiveAt(a.ValidFrom.Add(-time.Minute)) {
		t.Error("alert before validFrom should not be active")
	}

	// Window bounds are inclusive.
	if !a.ActiveAt(a.ValidFrom) || !a.ActiveAt(a.ValidUntil) {
		t.Error("window bounds should be inclusive")
	}
}

func TestAlert_ExpiredAt(t *testing.T) {
	a := validAlert()
	if a.ExpiredAt(a.ValidUntil) {
		t.Error("alert should not be expired exactly at validUntil")
	}
	if !a.ExpiredAt(a.ValidUntil.Add(time.Second)) {
		t.Error("alert should be expired after validUntil")
	}
}

func TestAlert_Validate_InvertedWindow(t *testing.T) {
	a := validAlert()
	a.ValidFrom, a.ValidUntil = a.ValidUntil, a.ValidFrom
	if err := a.Validate(); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestAlert_Validate_BadEnums(t *testing.T) {
	a := validAlert()
	a.Type = "earthquake"
	if err := a.Validate(); err == nil {
		t.Error("expected error for unknown alert type")
	}

	a = validAlert()
	a.Severity = "catastrophic"
	if err := a.Validate(); err == nil {
		t.Error("expected error for unknown severity")
	}
}

func TestGeometry_PolygonFailsLoudly(t *testing.T) {
	g := Geometry{
		Type: GeometryPolygon,
		Ring: []geo.Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 0}},
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("polygon geometry should validate: %v", err)
	}
	_, err := g.Contains(geo.Point{Lat: 0.1, Lon: 0.1})
	if !errors.Is(err, ErrUnsupportedGeography) {
		t.Errorf("expected ErrUnsupportedGeography, got %v", err)
	}
}

func TestPointGeometry_DefaultRadius(t *testing.T) {
	g := PointGeometry(geo.Point{Lat: 1, Lon: 2}, 0)
	if g.RadiusKm != DefaultAlertRadiusKm {
		t.Errorf("expected default radius %v, got %v", DefaultAlertRadiusKm, g.RadiusKm)
	}
}

func TestSeverity_Rank(t *testing.T) {
	ordered := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("%s should rank above %s", ordered[i], ordered[i-1])
		}
	}
}
