// Package ingestion polls external feeds, derives alerts and hands newly
// stored alerts to the dispatcher.
package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alertline/geodispatch/internal/config"
	"github.com/alertline/geodispatch/internal/dispatch"
	"github.com/alertline/geodispatch/internal/models"
	"github.com/alertline/geodispatch/internal/repository"
	"github.com/alertline/geodispatch/internal/worker"
)

// Dispatcher sends notifications for a newly stored alert.
type Dispatcher interface {
	DispatchAlert(ctx context.Context, alert *models.Alert) (dispatch.Result, error)
}

// Summary reports one ingestion run.
type Summary struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

type Manager struct {
	cfg        *config.Config
	alerts     repository.AlertRepository
	dispatcher Dispatcher
	weather    *WeatherClient // nil means the sample feed is used
	cities     []City
	pool       *worker.Pool[*models.Alert]
	wg         sync.WaitGroup
}

func NewManager(cfg *config.Config, alerts repository.AlertRepository, dispatcher Dispatcher) *Manager {
	m := &Manager{
		cfg:        cfg,
		alerts:     alerts,
		dispatcher: dispatcher,
		cities:     DefaultCities,
	}
	if cfg.Sources.WeatherAPIKey != "" {
		m.weather = NewWeatherClient(cfg.Sources.WeatherURL, cfg.Sources.WeatherAPIKey, cfg.Sources.WeatherTimeout)
	} else {
		slog.Info("weather API key not configured, using sample feed")
	}
	return m
}

func (m *Manager) Start(ctx context.Context) {
	processor := func(ctx context.Context, a *models.Alert) error {
		if _, err := m.process(ctx, a); err != nil {
			slog.Error("error processing alert", "external_id", a.ExternalID, "error", err)
			return err
		}
		return nil
	}

	m.pool = worker.NewPool(m.cfg.Dispatch.Workers, m.cfg.Dispatch.BufferSize, processor)
	m.pool.Start(ctx)

	if m.cfg.Sources.WeatherEnabled {
		m.wg.Add(1)
		go m.runPoller(ctx, m.cfg.Sources.WeatherPollInterval)
	}
}

func (m *Manager) runPoller(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	slog.Info("starting weather poller", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("weather poller shutting down")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Manager) poll(ctx context.Context) {
	slog.Debug("polling weather feed")

	candidates := m.fetch(ctx)
	for _, a := range candidates {
		m.pool.Submit(a)
	}

	slog.Debug("poll complete", "count", len(candidates))
}

// RunOnce fetches and processes the feed synchronously. Used by the manual
// trigger endpoint; per-alert failures are counted, not propagated.
func (m *Manager) RunOnce(ctx context.Context) (Summary, error) {
	candidates := m.fetch(ctx)

	s := Summary{Fetched: len(candidates)}
	for _, a := range candidates {
		inserted, err := m.process(ctx, a)
		if err != nil {
			slog.Error("error processing alert", "external_id", a.ExternalID, "error", err)
			s.Failed++
			continue
		}
		if inserted {
			s.Inserted++
		} else {
			s.Updated++
		}
	}
	slog.Info("ingestion run complete",
		"fetched", s.Fetched, "inserted", s.Inserted, "updated", s.Updated, "failed", s.Failed)
	return s, ctx.Err()
}

// fetch returns the current candidate alerts, falling back to the sample
// feed when no client is configured. A failed city never aborts the run.
func (m *Manager) fetch(ctx context.Context) []*models.Alert {
	now := time.Now()
	if m.weather == nil {
		return sampleFeed(now)
	}

	var candidates []*models.Alert
	for _, city := range m.cities {
		obs, err := m.weather.Current(ctx, city)
		if err != nil {
			slog.Error("weather fetch failed", "city", city.Name, "error", err)
			continue
		}
		candidates = append(candidates, analyzeObservation(obs, city, now)...)
	}
	return candidates
}

// process validates and stores one candidate, dispatching notifications when
// a new row was inserted. Re-polled alerts update in place without renotifying.
func (m *Manager) process(ctx context.Context, a *models.Alert) (inserted bool, err error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := a.Validate(); err != nil {
		return false, err
	}

	stored, inserted, err := m.alerts.UpsertByExternalID(ctx, a)
	if err != nil {
		return false, err
	}
	if !inserted {
		slog.Debug("alert refreshed", "id", stored.ID, "external_id", stored.ExternalID)
		return false, nil
	}

	slog.Info("added alert", "id", stored.ID, "type", stored.Type, "severity", stored.Severity, "source", stored.Source)

	if m.dispatcher != nil {
		if _, err := m.dispatcher.DispatchAlert(ctx, stored); err != nil {
			slog.Error("dispatch failed for new alert", "id", stored.ID, "error", err)
		}
	}
	return true, nil
}

func (m *Manager) Stop() {
	m.wg.Wait()
	if m.pool != nil {
		m.pool.Stop()
	}
	slog.Info("ingestion manager stopped")
}
