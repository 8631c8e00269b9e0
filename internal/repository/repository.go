package repository

import (
	"context"
	"errors"
	"time"

	"github.com/alertline/geodispatch/internal/geo"
	"github.com/alertline/geodispatch/internal/models"
)

var (
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicatePending means a non-terminal notification already exists
	// for the (user, alert) pair. Expected and benign: callers skip, they
	// do not fail.
	ErrDuplicatePending = errors.New("repository: non-terminal notification already exists for user and alert")
	// ErrStaleTransition means a status CAS update matched no row: either
	// the record is gone or another writer already moved it on.
	ErrStaleTransition = errors.New("repository: notification state changed concurrently")
)

// AlertFilter narrows active-near queries.
type AlertFilter struct {
	Type        *models.AlertType
	MinSeverity *models.Severity
	Limit       int
}

type AlertRepository interface {
	Create(ctx context.Context, a *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	// UpsertByExternalID inserts the alert or, when a row with the same
	// non-empty external id exists, replaces its mutable fields while
	// keeping identity, created_by and created_at. Race-safe: concurrent
	// ingestion of the same external id converges to one row. The bool
	// reports whether a new row was inserted.
	UpsertByExternalID(ctx context.Context, a *models.Alert) (*models.Alert, bool, error)
	// FindActiveNear returns public alerts whose center lies within
	// radiusKm of center and whose validity window contains now, ordered
	// by severity desc then created_at desc. The stored status column is
	// not consulted; activeness is computed from the window.
	FindActiveNear(ctx context.Context, center geo.Point, radiusKm float64, now time.Time, f AlertFilter) ([]models.Alert, error)
	// FindExpiredActive returns alerts still marked active whose window
	// closed before asOf. Input to the expiry sweep.
	FindExpiredActive(ctx context.Context, asOf time.Time) ([]models.Alert, error)
	// MarkExpired sets status=expired for the given ids. Idempotent.
	MarkExpired(ctx context.Context, ids []string) (int64, error)
	Delete(ctx context.Context, id string) error
}

type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	// FindActiveNear returns active users with a location inside radiusKm
	// of center. A non-positive radius means "each user's own preference
	// radius".
	FindActiveNear(ctx context.Context, center geo.Point, radiusKm float64) ([]models.User, error)
	UpdatePreferences(ctx context.Context, id string, p models.Preferences) error
	UpdateSubscription(ctx context.Context, id string, sub *models.PushSubscription) error
}

// NotificationRepository is the delivery ledger. Status transitions are
// compare-and-swap updates so that two concurrent dispatch runs cannot
// interleave attempts for the same record.
type NotificationRepository interface {
	// Create inserts a pending record, failing with ErrDuplicatePending
	// when a non-terminal record for the pair already exists.
	Create(ctx context.Context, n *models.Notification) error
	GetByID(ctx context.Context, id string) (*models.Notification, error)
	// GetInFlight returns the non-terminal record for the pair, or
	// ErrNotFound.
	GetInFlight(ctx context.Context, userID, alertID string) (*models.Notification, error)
	// GetRetryable returns the most recent failed record still below its
	// attempt limit for the pair, or ErrNotFound.
	GetRetryable(ctx context.Context, userID, alertID string) (*models.Notification, error)
	// ClaimPending stamps a pending record not touched since cutoff so the
	// caller takes ownership of its next delivery attempt. Exactly one of
	// several concurrent claimers wins; the rest get ErrStaleTransition.
	ClaimPending(ctx context.Context, id string, at, cutoff time.Time) error
	// MarkSent: pending -> sent, increments attempts.
	MarkSent(ctx context.Context, id string, at time.Time) error
	// MarkDelivered: sent -> delivered.
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	// MarkFailed: pending|sent -> failed, increments attempts, records the
	// reason.
	MarkFailed(ctx context.Context, id string, at time.Time, reason string) error
	// MarkRead: sent|delivered -> read.
	MarkRead(ctx context.Context, id string, at time.Time) error
	// Requeue: failed (below the attempt limit) -> pending.
	Requeue(ctx context.Context, id string, at time.Time) error
	// PurgeTerminalBefore deletes terminal records not updated since
	// cutoff: read, or failed with attempts exhausted.
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[models.NotificationStatus]int64, error)
}
