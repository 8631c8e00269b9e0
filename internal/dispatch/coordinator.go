// Package dispatch creates ledger records for affected users and drives the
// delivery attempts. One dispatch covers one alert; per-user work runs on a
// bounded pool so the notifier transports are never flooded.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/alertline/geodispatch/internal/match"
	"github.com/alertline/geodispatch/internal/models"
	"github.com/alertline/geodispatch/internal/notify"
	"github.com/alertline/geodispatch/internal/repository"
	"github.com/alertline/geodispatch/internal/worker"
)

const (
	maxTitleLen   = 200
	maxMessageLen = 500

	// A pending record untouched for this long is treated as abandoned by
	// a previous run and picked up again.
	defaultStaleAfter = 15 * time.Minute
)

// Result summarizes one dispatch run.
type Result struct {
	Matched int `json:"matched"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type Coordinator struct {
	engine     *match.Engine
	alerts     repository.AlertRepository
	ledger     repository.NotificationRepository
	push       notify.PushSender  // nil when push is not configured
	email      notify.EmailSender // nil when no transport is configured
	workers    int
	staleAfter time.Duration
}

func NewCoordinator(engine *match.Engine, alerts repository.AlertRepository, ledger repository.NotificationRepository, push notify.PushSender, email notify.EmailSender, workers int) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		engine:     engine,
		alerts:     alerts,
		ledger:     ledger,
		push:       push,
		email:      email,
		workers:    workers,
		staleAfter: defaultStaleAfter,
	}
}

// DispatchForAlert loads the alert and dispatches notifications for it.
func (c *Coordinator) DispatchForAlert(ctx context.Context, alertID string) (Result, error) {
	alert, err := c.alerts.GetByID(ctx, alertID)
	if err != nil {
		return Result{}, fmt.Errorf("loading alert %s: %w", alertID, err)
	}
	return c.DispatchAlert(ctx, alert)
}

// DispatchAlert notifies every affected user of the alert, exactly once per
// (user, alert) pair. Individual delivery failures are recorded on the
// ledger and never abort the batch; only a run-level store failure is
// returned to the caller, who owns run retry.
func (c *Coordinator) DispatchAlert(ctx context.Context, alert *models.Alert) (Result, error) {
	users, err := c.engine.FindAffectedUsers(ctx, alert)
	if err != nil {
		return Result{}, fmt.Errorf("matching users: %w", err)
	}

	var sent, failed, skipped atomic.Int64

	pool := worker.NewPool(c.workers, len(users), func(ctx context.Context, u models.User) error {
		switch c.dispatchUser(ctx, alert, &u) {
		case outcomeSent:
			sent.Add(1)
		case outcomeFailed:
			failed.Add(1)
		default:
			skipped.Add(1)
		}
		return nil
	})
	pool.Start(ctx)
	for _, u := range users {
		pool.Submit(u)
	}
	pool.Stop()

	res := Result{
		Matched: len(users),
		Sent:    int(sent.Load()),
		Failed:  int(failed.Load()),
		Skipped: int(skipped.Load()),
	}
	slog.Info("dispatch complete",
		"alert", alert.ID, "matched", res.Matched,
		"sent", res.Sent, "failed", res.Failed, "skipped", res.Skipped)

	// Cancelled runs leave pending records; once stale they are claimed
	// and resumed by a later run.
	return res, ctx.Err()
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
)

func (c *Coordinator) dispatchUser(ctx context.Context, alert *models.Alert, u *models.User) outcome {
	rec, ok := c.claimRecord(ctx, alert, u)
	if !ok {
		return outcomeSkipped
	}

	now := time.Now()
	attempted := false
	sent := true

	if c.push != nil && u.PushEligible() {
		attempted = true
		res := c.push.SendPush(ctx, u.Subscription.Endpoint, u.Subscription.P256dh, u.Subscription.Auth, notify.PushPayload{
			Title: rec.Title,
			Body:  rec.Message,
			Data:  notify.PushAlertData{AlertID: alert.ID},
		})
		if res.OK {
			if err := c.ledger.MarkSent(ctx, rec.ID, now); err != nil {
				slog.Warn("sent push but lost ledger race", "notification", rec.ID, "error", err)
				return outcomeSkipped
			}
		} else {
			sent = false
			if err := c.ledger.MarkFailed(ctx, rec.ID, now, res.Err); err != nil {
				slog.Warn("push failed and lost ledger race", "notification", rec.ID, "error", err)
				return outcomeSkipped
			}
			slog.Warn("push delivery failed", "user", u.ID, "alert", alert.ID, "error", res.Err)
		}
	}

	if c.email != nil && u.Preferences.EmailNotifications && u.Email != "" {
		res := c.email.SendEmail(ctx, u.Email, rec.Title, rec.Message)
		if !attempted {
			// Email is the deciding channel only when no push was tried.
			attempted = true
			if res.OK {
				if err := c.ledger.MarkSent(ctx, rec.ID, now); err != nil {
					slog.Warn("sent email but lost ledger race", "notification", rec.ID, "error", err)
					return outcomeSkipped
				}
			} else {
				sent = false
				if err := c.ledger.MarkFailed(ctx, rec.ID, now, res.Err); err != nil {
					slog.Warn("email failed and lost ledger race", "notification", rec.ID, "error", err)
					return outcomeSkipped
				}
			}
		}
		if !res.OK {
			// Captured but never allowed to affect the push outcome.
			slog.Warn("email delivery failed", "user", u.ID, "alert", alert.ID, "error", res.Err)
		}
	}

	if !attempted {
		// No channel available: the record stays pending and is picked up
		// once the user gains a subscription or a transport is configured.
		return outcomeSkipped
	}
	if sent {
		return outcomeSent
	}
	return outcomeFailed
}

// claimRecord obtains the ledger record this run is allowed to deliver:
// a fresh insert, a claimed stale pending record from an abandoned run, or
// a requeued retryable failure. Any in-flight record owned by another run
// means skip.
func (c *Coordinator) claimRecord(ctx context.Context, alert *models.Alert, u *models.User) (*models.Notification, bool) {
	if existing, err := c.ledger.GetInFlight(ctx, u.ID, alert.ID); err == nil {
		return c.claimResumable(ctx, existing)
	} else if !errors.Is(err, repository.ErrNotFound) {
		slog.Error("ledger lookup failed", "user", u.ID, "alert", alert.ID, "error", err)
		return nil, false
	}

	if retry, err := c.ledger.GetRetryable(ctx, u.ID, alert.ID); err == nil {
		if err := c.ledger.Requeue(ctx, retry.ID, time.Now()); err != nil {
			// Lost the requeue race to a concurrent run.
			return nil, false
		}
		retry.Status = models.NotificationPending
		return retry, true
	} else if !errors.Is(err, repository.ErrNotFound) {
		slog.Error("ledger lookup failed", "user", u.ID, "alert", alert.ID, "error", err)
		return nil, false
	}

	now := time.Now()
	rec := &models.Notification{
		ID:          uuid.NewString(),
		UserID:      u.ID,
		AlertID:     alert.ID,
		Type:        models.NotificationTypeAlert,
		Title:       truncate(alert.Title, maxTitleLen),
		Message:     truncate(alert.Description, maxMessageLen),
		Status:      models.NotificationPending,
		Priority:    models.PriorityFor(alert.Severity),
		MaxAttempts: models.DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := c.ledger.Create(ctx, rec)
	if err == nil {
		return rec, true
	}
	if errors.Is(err, repository.ErrDuplicatePending) {
		// Raced another run; defer to whatever it created.
		if existing, lookupErr := c.ledger.GetInFlight(ctx, u.ID, alert.ID); lookupErr == nil {
			return c.claimResumable(ctx, existing)
		}
		return nil, false
	}
	slog.Error("ledger create failed", "user", u.ID, "alert", alert.ID, "error", err)
	return nil, false
}

// claimResumable decides whether an in-flight record can be taken over.
// A pending record touched within the stale threshold belongs to the run
// that created it; sending to it here would duplicate that run's transport
// attempt. Older pending records were abandoned, and the conditional stamp
// ensures only one resuming run wins them.
func (c *Coordinator) claimResumable(ctx context.Context, n *models.Notification) (*models.Notification, bool) {
	if n.Status != models.NotificationPending {
		return nil, false
	}
	now := time.Now()
	cutoff := now.Add(-c.staleAfter)
	if !n.UpdatedAt.Before(cutoff) {
		return nil, false
	}
	if err := c.ledger.ClaimPending(ctx, n.ID, now, cutoff); err != nil {
		// Lost the claim race to a concurrent run.
		return nil, false
	}
	n.UpdatedAt = now
	return n, true
}

// truncate cuts on a rune boundary so the stored text stays valid UTF-8.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
