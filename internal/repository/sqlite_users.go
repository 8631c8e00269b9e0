package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alertline/geodispatch/internal/geo"
	"github.com/alertline/geodispatch/internal/models"
)

type sqliteUsers struct {
	db *sql.DB
}

const userColumns = `id, email, name, is_active, latitude, longitude,
	email_notifications, push_notifications, alert_radius_km,
	push_endpoint, push_p256dh, push_auth, created_at, updated_at`

func (r *sqliteUsers) Create(ctx context.Context, u *models.User) error {
	var lat, lon sql.NullFloat64
	if u.Location != nil {
		lat = sql.NullFloat64{Float64: u.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: u.Location.Lon, Valid: true}
	}
	var endpoint, p256dh, auth string
	if u.Subscription != nil {
		endpoint, p256dh, auth = u.Subscription.Endpoint, u.Subscription.P256dh, u.Subscription.Auth
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, u.Name, u.IsActive, lat, lon,
		u.Preferences.EmailNotifications, u.Preferences.PushNotifications,
		u.ReceiveRadiusKm(), endpoint, p256dh, auth, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "users.email") {
			return fmt.Errorf("user email %q already registered: %w", u.Email, err)
		}
		return fmt.Errorf("error inserting user: %w", err)
	}
	return nil
}

func (r *sqliteUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying user: %w", err)
	}
	return u, nil
}

// FindActiveNear returns active, located users inside radiusKm of
// center. A non-positive radius falls back to each user's own receive
// radius, the behavior of preference-scoped queries.
func (r *sqliteUsers) FindActiveNear(ctx context.Context, center geo.Point, radiusKm float64) ([]models.User, error) {
	if radiusKm < 0 {
		return nil, geo.ErrNegativeRadius
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE is_active = 1 AND latitude IS NOT NULL AND longitude IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("error querying users: %w", err)
	}
	defer rows.Close()

	var results []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning user: %w", err)
		}
		if u.Location == nil {
			continue
		}
		radius := radiusKm
		if radius <= 0 {
			radius = u.ReceiveRadiusKm()
		}
		within, err := geo.WithinRadius(center, *u.Location, radius)
		if err != nil {
			return nil, err
		}
		if within {
			results = append(results, *u)
		}
	}
	return results, rows.Err()
}

func (r *sqliteUsers) UpdatePreferences(ctx context.Context, id string, p models.Preferences) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET email_notifications = ?, push_notifications = ?,
			alert_radius_km = ?, updated_at = ?
		WHERE id = ?`,
		p.EmailNotifications, p.PushNotifications, p.AlertRadiusKm, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error updating preferences: %w", err)
	}
	return requireRow(res)
}

func (r *sqliteUsers) UpdateSubscription(ctx context.Context, id string, sub *models.PushSubscription) error {
	var endpoint, p256dh, auth string
	if sub != nil {
		endpoint, p256dh, auth = sub.Endpoint, sub.P256dh, sub.Auth
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET push_endpoint = ?, push_p256dh = ?, push_auth = ?, updated_at = ?
		WHERE id = ?`,
		endpoint, p256dh, auth, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error updating subscription: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                      models.User
		lat, lon               sql.NullFloat64
		endpoint, p256dh, auth string
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.IsActive, &lat, &lon,
		&u.Preferences.EmailNotifications, &u.Preferences.PushNotifications,
		&u.Preferences.AlertRadiusKm, &endpoint, &p256dh, &auth,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		u.Location = &geo.Point{Lat: lat.Float64, Lon: lon.Float64}
	}
	if endpoint != "" {
		u.Subscription = &models.PushSubscription{Endpoint: endpoint, P256dh: p256dh, Auth: auth}
	}
	return &u, nil
}
