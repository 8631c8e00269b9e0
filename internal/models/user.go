package models

import (
	"time"

	"github.com/alertline/geodispatch/internal/geo"
)

const DefaultUserRadiusKm = 50.0

// Preferences gate whether a notification is sent, not whether the user is
// inside an alert's danger zone.
type Preferences struct {
	EmailNotifications bool
	PushNotifications  bool
	AlertRadiusKm      float64 // the user's own receive-radius
}

// PushSubscription is the opaque handle registered by the browser push
// service. Presence determines push eligibility.
type PushSubscription struct {
	Endpoint string
	P256dh   string
	Auth     string
}

type User struct {
	ID           string
	Email        string
	Name         string
	IsActive     bool
	Location     *geo.Point // optional
	Preferences  Preferences
	Subscription *PushSubscription // optional
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ReceiveRadiusKm returns the user's preferred radius, falling back to the
// system default when unset.
func (u *User) ReceiveRadiusKm() float64 {
	if u.Preferences.AlertRadiusKm > 0 {
		return u.Preferences.AlertRadiusKm
	}
	return DefaultUserRadiusKm
}

// PushEligible reports whether a push attempt makes sense for this user.
func (u *User) PushEligible() bool {
	return u.Subscription != nil && u.Subscription.Endpoint != "" && u.Preferences.PushNotifications
}
