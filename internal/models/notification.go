package models

import (
	"errors"
	"fmt"
	"time"
)

type NotificationType string

const (
	NotificationTypePush  NotificationType = "push"
	NotificationTypeEmail NotificationType = "email"
	NotificationTypeSMS   NotificationType = "sms"
	NotificationTypeAlert NotificationType = "alert"
)

type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSent      NotificationStatus = "sent"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
	NotificationRead      NotificationStatus = "read"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PriorityFor maps alert severity to notification priority.
func PriorityFor(s Severity) Priority {
	switch s {
	case SeverityCritical:
		return PriorityUrgent
	case SeverityHigh:
		return PriorityHigh
	}
	return PriorityMedium
}

const DefaultMaxAttempts = 3

var ErrInvalidTransition = errors.New("models: invalid notification transition")

// Notification is the ledger record joining one user to one alert. At most
// one non-terminal record may exist per (user, alert) pair; the store
// enforces that with a partial unique index.
type Notification struct {
	ID               string
	UserID           string
	AlertID          string
	Type             NotificationType
	Title            string
	Message          string
	Status           NotificationStatus
	Priority         Priority
	DeliveryAttempts int
	MaxAttempts      int
	SentAt           *time.Time
	DeliveredAt      *time.Time
	ReadAt           *time.Time
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MarkSent transitions pending -> sent. Attempts increment on sent and
// failed transitions only, never on creation or read.
func (n *Notification) MarkSent(now time.Time) error {
	if n.Status != NotificationPending {
		return fmt.Errorf("%w: %s -> sent", ErrInvalidTransition, n.Status)
	}
	n.Status = NotificationSent
	n.SentAt = &now
	n.DeliveryAttempts++
	n.UpdatedAt = now
	return nil
}

// MarkDelivered transitions sent -> delivered. Optional: not every channel
// reports delivery.
func (n *Notification) MarkDelivered(now time.Time) error {
	if n.Status != NotificationSent {
		return fmt.Errorf("%w: %s -> delivered", ErrInvalidTransition, n.Status)
	}
	n.Status = NotificationDelivered
	n.DeliveredAt = &now
	n.UpdatedAt = now
	return nil
}

// MarkFailed transitions pending|sent -> failed and records the reason.
func (n *Notification) MarkFailed(now time.Time, reason string) error {
	if n.Status != NotificationPending && n.Status != NotificationSent {
		return fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, n.Status)
	}
	n.Status = NotificationFailed
	n.ErrorMessage = reason
	// Attempts never exceed the limit, even failing out of sent.
	if n.DeliveryAttempts < n.maxAttempts() {
		n.DeliveryAttempts++
	}
	n.UpdatedAt = now
	return nil
}

// MarkRead transitions sent|delivered -> read (terminal).
func (n *Notification) MarkRead(now time.Time) error {
	if n.Status != NotificationSent && n.Status != NotificationDelivered {
		return fmt.Errorf("%w: %s -> read", ErrInvalidTransition, n.Status)
	}
	n.Status = NotificationRead
	n.ReadAt = &now
	n.UpdatedAt = now
	return nil
}

func (n *Notification) maxAttempts() int {
	if n.MaxAttempts > 0 {
		return n.MaxAttempts
	}
	return DefaultMaxAttempts
}

// CanRetry reports retry eligibility for a failed record. Advisory: the
// dispatch coordinator decides whether and when to actually retry.
func (n *Notification) CanRetry() bool {
	return n.Status == NotificationFailed && n.DeliveryAttempts < n.maxAttempts()
}

// IsTerminal reports whether no further transition will occur: read, or
// failed with attempts exhausted.
func (n *Notification) IsTerminal() bool {
	if n.Status == NotificationRead {
		return true
	}
	return n.Status == NotificationFailed && n.DeliveryAttempts >= n.maxAttempts()
}
