// Package sweep retires alerts whose validity window has closed and prunes
// terminal notification records past the retention window.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alertline/geodispatch/internal/repository"
)

// Result reports one sweep run.
type Result struct {
	Expired int64 `json:"expired"`
	Purged  int64 `json:"purged"`
}

type Sweeper struct {
	alerts    repository.AlertRepository
	ledger    repository.NotificationRepository
	interval  time.Duration
	retention time.Duration
	wg        sync.WaitGroup
}

func New(alerts repository.AlertRepository, ledger repository.NotificationRepository, interval, retention time.Duration) *Sweeper {
	return &Sweeper{
		alerts:    alerts,
		ledger:    ledger,
		interval:  interval,
		retention: retention,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	slog.Info("starting sweeper", "interval", s.interval, "retention", s.retention)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if _, err := s.Run(ctx, time.Now()); err != nil {
		slog.Error("sweep failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper shutting down")
			return
		case <-ticker.C:
			if _, err := s.Run(ctx, time.Now()); err != nil {
				slog.Error("sweep failed", "error", err)
			}
		}
	}
}

// Run performs one sweep as of now. Idempotent: a second run over the same
// state changes nothing.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Result, error) {
	var res Result

	stale, err := s.alerts.FindExpiredActive(ctx, now)
	if err != nil {
		return res, fmt.Errorf("finding expired alerts: %w", err)
	}
	if len(stale) > 0 {
		ids := make([]string, 0, len(stale))
		for _, a := range stale {
			ids = append(ids, a.ID)
		}
		res.Expired, err = s.alerts.MarkExpired(ctx, ids)
		if err != nil {
			return res, fmt.Errorf("marking alerts expired: %w", err)
		}
	}

	res.Purged, err = s.ledger.PurgeTerminalBefore(ctx, now.Add(-s.retention))
	if err != nil {
		return res, fmt.Errorf("purging notifications: %w", err)
	}

	if res.Expired > 0 || res.Purged > 0 {
		slog.Info("sweep complete", "expired", res.Expired, "purged", res.Purged)
	}
	return res, nil
}

func (s *Sweeper) Stop() {
	s.wg.Wait()
	slog.Info("sweeper stopped")
}
