package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alertline/geodispatch/internal/geo"
	"github.com/alertline/geodispatch/internal/models"
)

// City is a monitored location for weather-driven alerts.
type City struct {
	Name string
	Lat  float64
	Lon  float64
}

// DefaultCities is the built-in monitoring list.
var DefaultCities = []City{
	{Name: "Mumbai", Lat: 19.0760, Lon: 72.8777},
	{Name: "Delhi", Lat: 28.7041, Lon: 77.1025},
	{Name: "Bangalore", Lat: 12.9716, Lon: 77.5946},
	{Name: "Chennai", Lat: 13.0827, Lon: 80.2707},
	{Name: "Kolkata", Lat: 22.5726, Lon: 88.3639},
	{Name: "Hyderabad", Lat: 17.3850, Lon: 78.4867},
	{Name: "Pune", Lat: 18.5204, Lon: 73.8567},
	{Name: "Ahmedabad", Lat: 23.0225, Lon: 72.5714},
}

const (
	floodRainThreshold     = 20.0 // mm/h
	floodHighRainThreshold = 50.0
	severeWindThreshold    = 15.0 // m/s
	highWindThreshold      = 25.0
	heatThreshold          = 35.0 // celsius
	extremeHeatThreshold   = 40.0
	coldThreshold          = 5.0
	extremeColdThreshold   = 0.0

	floodRadiusKm  = 25.0
	severeRadiusKm = 30.0

	alertValidity = 24 * time.Hour
)

// observation is the subset of the OpenWeather current-weather response the
// analyzer reads.
type observation struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
		Pressure float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	Rain struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
}

// WeatherClient fetches current conditions from an OpenWeather-compatible
// endpoint.
type WeatherClient struct {
	client *resty.Client
	apiKey string
}

func NewWeatherClient(baseURL, apiKey string, timeout time.Duration) *WeatherClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Accept", "application/json")

	return &WeatherClient{client: client, apiKey: apiKey}
}

func (w *WeatherClient) Current(ctx context.Context, city City) (*observation, error) {
	var obs observation
	resp, err := w.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":   fmt.Sprintf("%f", city.Lat),
			"lon":   fmt.Sprintf("%f", city.Lon),
			"appid": w.apiKey,
			"units": "metric",
		}).
		SetResult(&obs).
		Get("/weather")
	if err != nil {
		return nil, fmt.Errorf("error fetching weather for %s: %w", city.Name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status fetching weather for %s: %s", city.Name, resp.Status())
	}
	return &obs, nil
}

// analyzeObservation derives candidate alerts from one city's current
// conditions. External ids are bucketed by hour so repeated polls within the
// hour converge on one stored alert per condition.
func analyzeObservation(obs *observation, city City, now time.Time) []*models.Alert {
	var alerts []*models.Alert
	bucket := now.Truncate(time.Hour).Unix()

	if obs.Rain.OneHour > floodRainThreshold {
		severity := models.SeverityMedium
		if obs.Rain.OneHour > floodHighRainThreshold {
			severity = models.SeverityHigh
		}
		alerts = append(alerts, weatherAlert(city, now, &models.Alert{
			ExternalID: fmt.Sprintf("weather_flood_%s_%d", strings.ToLower(city.Name), bucket),
			Title:      fmt.Sprintf("Flood Warning - %s", city.Name),
			Description: fmt.Sprintf(
				"Heavy rainfall (%.0fmm/h) detected in %s. Risk of urban flooding in low-lying areas. Avoid flooded roads and move to higher ground if necessary.",
				obs.Rain.OneHour, city.Name),
			Type:       models.AlertTypeFlood,
			Severity:   severity,
			Geometry:   models.PointGeometry(geo.Point{Lat: city.Lat, Lon: city.Lon}, floodRadiusKm),
			Tags:       []string{"flood", "rain", strings.ToLower(city.Name)},
			Confidence: 0.8,
		}))
	}

	if obs.Wind.Speed > severeWindThreshold || obs.Main.Temp > heatThreshold || obs.Main.Temp < coldThreshold {
		severity := models.SeverityMedium
		var description string
		switch {
		case obs.Wind.Speed > highWindThreshold:
			severity = models.SeverityHigh
			description = fmt.Sprintf("Severe wind conditions (%.0f m/s) in %s. Secure loose objects and avoid outdoor activities.", obs.Wind.Speed, city.Name)
		case obs.Main.Temp > extremeHeatThreshold:
			severity = models.SeverityHigh
			description = fmt.Sprintf("Extreme heat (%.0f°C) in %s. Risk of heat-related illnesses. Stay hydrated and avoid outdoor activities.", obs.Main.Temp, city.Name)
		case obs.Main.Temp < extremeColdThreshold:
			severity = models.SeverityHigh
			description = fmt.Sprintf("Extreme cold (%.0f°C) in %s. Risk of hypothermia. Dress warmly and limit outdoor exposure.", obs.Main.Temp, city.Name)
		default:
			description = fmt.Sprintf("Severe weather conditions in %s. Monitor weather updates and take necessary precautions.", city.Name)
		}
		alerts = append(alerts, weatherAlert(city, now, &models.Alert{
			ExternalID:  fmt.Sprintf("weather_severe_%s_%d", strings.ToLower(city.Name), bucket),
			Title:       fmt.Sprintf("Severe Weather Alert - %s", city.Name),
			Description: description,
			Type:        models.AlertTypeSevereWeather,
			Severity:    severity,
			Geometry:    models.PointGeometry(geo.Point{Lat: city.Lat, Lon: city.Lon}, severeRadiusKm),
			Tags:        []string{"severe-weather", strings.ToLower(city.Name)},
			Confidence:  0.7,
		}))
	}

	return alerts
}

// weatherAlert fills the fields common to every derived alert.
func weatherAlert(city City, now time.Time, a *models.Alert) *models.Alert {
	a.Status = models.AlertStatusActive
	a.Address = city.Name
	a.City = city.Name
	a.Country = "India"
	a.ValidFrom = now
	a.ValidUntil = now.Add(alertValidity)
	a.IsPublic = true
	a.Source = "weather"
	a.CreatedAt = now
	a.UpdatedAt = now
	return a
}

// sampleFeed is served when no weather API key is configured, so the full
// pipeline stays exercisable in development.
func sampleFeed(now time.Time) []*models.Alert {
	bucket := now.Truncate(time.Hour).Unix()
	validUntil := now.Add(6 * time.Hour)

	mumbai := &models.Alert{
		ExternalID: fmt.Sprintf("sample_flood_mumbai_%d", bucket),
		Title:      "Heavy Rainfall Alert - Mumbai",
		Description: "Heavy rainfall (45mm/h) detected in Mumbai. Risk of urban flooding in low-lying areas. " +
			"Avoid flooded roads and move to higher ground if necessary.",
		Type:       models.AlertTypeFlood,
		Severity:   models.SeverityHigh,
		Status:     models.AlertStatusActive,
		Geometry:   models.PointGeometry(geo.Point{Lat: 19.0760, Lon: 72.8777}, 25),
		Address:    "Mumbai",
		City:       "Mumbai",
		Country:    "India",
		ValidFrom:  now,
		ValidUntil: validUntil,
		IsPublic:   true,
		Tags:       []string{"flood", "rain", "mumbai"},
		Source:     "sample",
		Confidence: 0.9,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	chennai := &models.Alert{
		ExternalID: fmt.Sprintf("sample_severe_chennai_%d", bucket),
		Title:      "Cyclone Warning - Chennai",
		Description: "Cyclonic winds (35 m/s) approaching Chennai. Secure loose objects and avoid coastal areas. " +
			"Follow evacuation orders if issued.",
		Type:       models.AlertTypeSevereWeather,
		Severity:   models.SeverityCritical,
		Status:     models.AlertStatusActive,
		Geometry:   models.PointGeometry(geo.Point{Lat: 13.0827, Lon: 80.2707}, 40),
		Address:    "Chennai",
		City:       "Chennai",
		Country:    "India",
		ValidFrom:  now,
		ValidUntil: validUntil,
		IsPublic:   true,
		Tags:       []string{"severe-weather", "cyclone", "chennai"},
		Source:     "sample",
		Confidence: 0.95,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	return []*models.Alert{mumbai, chennai}
}
