package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alertline/geodispatch/internal/geo"
	"github.com/alertline/geodispatch/internal/models"
)

type sqliteAlerts struct {
	db *sql.DB
}

const alertColumns = `id, external_id, title, description, type, severity, status,
	geometry_type, latitude, longitude, radius_km, address, city, country,
	valid_from, valid_until, is_public, created_by, updated_by, tags, source,
	confidence, views, shares, acknowledgments, created_at, updated_at`

func (r *sqliteAlerts) Create(ctx context.Context, a *models.Alert) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.Geometry.Type != models.GeometryPoint {
		return fmt.Errorf("%w: only point alerts can be stored", models.ErrUnsupportedGeography)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		alertArgs(a)...)
	if err != nil {
		return fmt.Errorf("error inserting alert: %w", err)
	}
	return nil
}

func (r *sqliteAlerts) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying alert: %w", err)
	}
	return a, nil
}

func (r *sqliteAlerts) UpsertByExternalID(ctx context.Context, a *models.Alert) (*models.Alert, bool, error) {
	if a.ExternalID == "" {
		if err := r.Create(ctx, a); err != nil {
			return nil, false, err
		}
		return a, true, nil
	}
	if err := a.Validate(); err != nil {
		return nil, false, err
	}
	if a.Geometry.Type != models.GeometryPoint {
		return nil, false, fmt.Errorf("%w: only point alerts can be stored", models.ErrUnsupportedGeography)
	}

	// Insert racing a concurrent ingestion of the same external id loses
	// to the unique index and is resolved by retrying as an update.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := r.getByExternalID(ctx, a.ExternalID)
		if err != nil && err != ErrNotFound {
			return nil, false, err
		}

		if existing != nil {
			if err := r.updateByExternalID(ctx, existing, a); err != nil {
				return nil, false, err
			}
			return a, false, nil
		}

		_, err = r.db.ExecContext(ctx, `
			INSERT INTO alerts (`+alertColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			alertArgs(a)...)
		if err == nil {
			return a, true, nil
		}
		if !isUniqueViolation(err, "alerts.external_id") {
			return nil, false, fmt.Errorf("error inserting alert: %w", err)
		}
	}
	return nil, false, fmt.Errorf("upsert did not converge for external id %q", a.ExternalID)
}

func (r *sqliteAlerts) getByExternalID(ctx context.Context, externalID string) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE external_id = ?`, externalID)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying alert by external id: %w", err)
	}
	return a, nil
}

// updateByExternalID replaces the mutable fields of the stored row while
// keeping identity, created_by and created_at, and reflects the merge back
// into a.
func (r *sqliteAlerts) updateByExternalID(ctx context.Context, existing, a *models.Alert) error {
	a.ID = existing.ID
	a.CreatedBy = existing.CreatedBy
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET
			title = ?, description = ?, type = ?, severity = ?, status = ?,
			geometry_type = ?, latitude = ?, longitude = ?, radius_km = ?,
			address = ?, city = ?, country = ?, valid_from = ?, valid_until = ?,
			is_public = ?, updated_by = ?, tags = ?, source = ?, confidence = ?,
			updated_at = ?
		WHERE id = ?`,
		a.Title, a.Description, string(a.Type), string(a.Severity), string(a.Status),
		string(a.Geometry.Type), a.Geometry.Center.Lat, a.Geometry.Center.Lon, a.Geometry.RadiusKm,
		a.Address, a.City, a.Country, a.ValidFrom, a.ValidUntil,
		a.IsPublic, a.UpdatedBy, strings.Join(a.Tags, ","), a.Source, a.Confidence,
		a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("error updating alert: %w", err)
	}
	return nil
}

func (r *sqliteAlerts) FindActiveNear(ctx context.Context, center geo.Point, radiusKm float64, now time.Time, f AlertFilter) ([]models.Alert, error) {
	if radiusKm < 0 {
		return nil, geo.ErrNegativeRadius
	}

	// Temporal and visibility filters run in SQL; the radius membership
	// test runs in Go over the candidates. Fine for modest volumes, the
	// documented scalability limit of a non-geo store.
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE is_public = 1 AND geometry_type = 'point'
		AND valid_from <= ? AND valid_until >= ?`
	args := []any{now, now}

	if f.Type != nil {
		query += ` AND type = ?`
		args = append(args, string(*f.Type))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying active alerts: %w", err)
	}
	defer rows.Close()

	var results []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning alert: %w", err)
		}
		if f.MinSeverity != nil && a.Severity.Rank() < f.MinSeverity.Rank() {
			continue
		}
		within, err := geo.WithinRadius(center, a.Geometry.Center, radiusKm)
		if err != nil {
			return nil, err
		}
		if within {
			results = append(results, *a)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		ri, rj := results[i].Severity.Rank(), results[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if f.Limit > 0 && len(results) > f.Limit {
		results = results[:f.Limit]
	}
	return results, nil
}

func (r *sqliteAlerts) FindExpiredActive(ctx context.Context, asOf time.Time) ([]models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE status = 'active' AND valid_until < ?`, asOf)
	if err != nil {
		return nil, fmt.Errorf("error querying expired alerts: %w", err)
	}
	defer rows.Close()

	var results []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning alert: %w", err)
		}
		results = append(results, *a)
	}
	return results, rows.Err()
}

func (r *sqliteAlerts) MarkExpired(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now())
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET status = 'expired', updated_at = ?
		WHERE id IN (`+placeholders(len(ids))+`) AND status != 'expired'`, args...)
	if err != nil {
		return 0, fmt.Errorf("error marking alerts expired: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteAlerts) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("error deleting alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func alertArgs(a *models.Alert) []any {
	return []any{
		a.ID, a.ExternalID, a.Title, a.Description, string(a.Type), string(a.Severity),
		string(a.Status), string(a.Geometry.Type), a.Geometry.Center.Lat,
		a.Geometry.Center.Lon, a.Geometry.RadiusKm, a.Address, a.City, a.Country,
		a.ValidFrom, a.ValidUntil, a.IsPublic, a.CreatedBy, a.UpdatedBy,
		strings.Join(a.Tags, ","), a.Source, a.Confidence,
		a.Stats.Views, a.Stats.Shares, a.Stats.Acknowledgments,
		a.CreatedAt, a.UpdatedAt,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a        models.Alert
		geomType string
		tags     string
	)
	err := row.Scan(
		&a.ID, &a.ExternalID, &a.Title, &a.Description, &a.Type, &a.Severity,
		&a.Status, &geomType, &a.Geometry.Center.Lat, &a.Geometry.Center.Lon,
		&a.Geometry.RadiusKm, &a.Address, &a.City, &a.Country,
		&a.ValidFrom, &a.ValidUntil, &a.IsPublic, &a.CreatedBy, &a.UpdatedBy,
		&tags, &a.Source, &a.Confidence,
		&a.Stats.Views, &a.Stats.Shares, &a.Stats.Acknowledgments,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Geometry.Type = models.GeometryType(geomType)
	if tags != "" {
		a.Tags = strings.Split(tags, ",")
	}
	return &a, nil
}
