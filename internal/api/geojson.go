package api

import (
	"github.com/alertline/geodispatch/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func toGeoJSON(alerts []models.Alert) FeatureCollection {
	features := make([]Feature, 0, len(alerts))

	for _, a := range alerts {
		f := Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{a.Geometry.Center.Lon, a.Geometry.Center.Lat},
			},
			Properties: map[string]any{
				"id":          a.ID,
				"type":        string(a.Type),
				"severity":    string(a.Severity),
				"title":       a.Title,
				"description": a.Description,
				"radius_km":   a.Geometry.RadiusKm,
				"city":        a.City,
				"country":     a.Country,
				"valid_from":  a.ValidFrom,
				"valid_until": a.ValidUntil,
				"source":      a.Source,
				"tags":        a.Tags,
			},
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
