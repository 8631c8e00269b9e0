package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alertline/geodispatch/internal/models"
)

type sqliteNotifications struct {
	db *sql.DB
}

const notificationColumns = `id, user_id, alert_id, type, title, message, status,
	priority, delivery_attempts, max_attempts, sent_at, delivered_at, read_at,
	error_message, created_at, updated_at`

func (r *sqliteNotifications) Create(ctx context.Context, n *models.Notification) error {
	if n.Status == "" {
		n.Status = models.NotificationPending
	}
	if n.MaxAttempts == 0 {
		n.MaxAttempts = models.DefaultMaxAttempts
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.AlertID, string(n.Type), n.Title, n.Message,
		string(n.Status), string(n.Priority), n.DeliveryAttempts, n.MaxAttempts,
		nullTime(n.SentAt), nullTime(n.DeliveredAt), nullTime(n.ReadAt),
		n.ErrorMessage, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "notifications.user_id") {
			return ErrDuplicatePending
		}
		return fmt.Errorf("error inserting notification: %w", err)
	}
	return nil
}

func (r *sqliteNotifications) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying notification: %w", err)
	}
	return n, nil
}

func (r *sqliteNotifications) GetInFlight(ctx context.Context, userID, alertID string) (*models.Notification, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE user_id = ? AND alert_id = ?
		AND status IN ('pending', 'sent', 'delivered')`,
		userID, alertID)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying in-flight notification: %w", err)
	}
	return n, nil
}

func (r *sqliteNotifications) GetRetryable(ctx context.Context, userID, alertID string) (*models.Notification, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE user_id = ? AND alert_id = ?
		AND status = 'failed' AND delivery_attempts < max_attempts
		ORDER BY updated_at DESC LIMIT 1`,
		userID, alertID)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying retryable notification: %w", err)
	}
	return n, nil
}

func (r *sqliteNotifications) ClaimPending(ctx context.Context, id string, at, cutoff time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET updated_at = ?
		WHERE id = ? AND status = 'pending' AND updated_at < ?`,
		at, id, cutoff)
	if err != nil {
		return fmt.Errorf("error claiming notification: %w", err)
	}
	return requireTransition(res)
}

// Transitions are single UPDATE statements guarded by the expected current
// status, so a lost race surfaces as ErrStaleTransition instead of a double
// attempt.

func (r *sqliteNotifications) MarkSent(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'sent', sent_at = ?, delivery_attempts = delivery_attempts + 1, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		at, at, id)
	if err != nil {
		return fmt.Errorf("error marking notification sent: %w", err)
	}
	return requireTransition(res)
}

func (r *sqliteNotifications) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET status = 'delivered', delivered_at = ?, updated_at = ?
		WHERE id = ? AND status = 'sent'`,
		at, at, id)
	if err != nil {
		return fmt.Errorf("error marking notification delivered: %w", err)
	}
	return requireTransition(res)
}

func (r *sqliteNotifications) MarkFailed(ctx context.Context, id string, at time.Time, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'failed', error_message = ?,
			delivery_attempts = MIN(delivery_attempts + 1, max_attempts), updated_at = ?
		WHERE id = ? AND status IN ('pending', 'sent')`,
		reason, at, id)
	if err != nil {
		return fmt.Errorf("error marking notification failed: %w", err)
	}
	return requireTransition(res)
}

func (r *sqliteNotifications) MarkRead(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET status = 'read', read_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('sent', 'delivered')`,
		at, at, id)
	if err != nil {
		return fmt.Errorf("error marking notification read: %w", err)
	}
	return requireTransition(res)
}

func (r *sqliteNotifications) Requeue(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET status = 'pending', error_message = '', updated_at = ?
		WHERE id = ? AND status = 'failed' AND delivery_attempts < max_attempts`,
		at, id)
	if err != nil {
		return fmt.Errorf("error requeueing notification: %w", err)
	}
	return requireTransition(res)
}

func (r *sqliteNotifications) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE updated_at < ?
		AND (status = 'read' OR (status = 'failed' AND delivery_attempts >= max_attempts))`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("error purging notifications: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteNotifications) CountByStatus(ctx context.Context) (map[models.NotificationStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM notifications GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("error counting notifications: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.NotificationStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("error scanning count: %w", err)
		}
		counts[models.NotificationStatus(status)] = count
	}
	return counts, rows.Err()
}

func requireTransition(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleTransition
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n                         models.Notification
		sentAt, deliveredAt, read sql.NullTime
	)
	err := row.Scan(
		&n.ID, &n.UserID, &n.AlertID, &n.Type, &n.Title, &n.Message, &n.Status,
		&n.Priority, &n.DeliveryAttempts, &n.MaxAttempts,
		&sentAt, &deliveredAt, &read, &n.ErrorMessage, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		n.DeliveredAt = &deliveredAt.Time
	}
	if read.Valid {
		n.ReadAt = &read.Time
	}
	return &n, nil
}
