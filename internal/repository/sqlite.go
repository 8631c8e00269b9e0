package repository

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteDB owns the sqlite handle and hands out the per-entity stores.
// Opened once at process start and closed on shutdown; never referenced
// globally.
type SQLiteDB struct {
	db            *sql.DB
	alerts        *sqliteAlerts
	users         *sqliteUsers
	notifications *sqliteNotifications
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// sqlite has a single writer, and an in-memory database is private to
	// the connection that opened it. One pooled connection serves both.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db:            db,
		alerts:        &sqliteAlerts{db: db},
		users:         &sqliteUsers{db: db},
		notifications: &sqliteNotifications{db: db},
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) Alerts() AlertRepository                { return s.alerts }
func (s *SQLiteDB) Users() UserRepository                  { return s.users }
func (s *SQLiteDB) Notifications() NotificationRepository { return s.notifications }

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			description TEXT,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			geometry_type TEXT NOT NULL DEFAULT 'point',
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			radius_km REAL NOT NULL,
			address TEXT,
			city TEXT,
			country TEXT,
			valid_from DATETIME NOT NULL,
			valid_until DATETIME NOT NULL,
			is_public INTEGER NOT NULL DEFAULT 1,
			created_by TEXT,
			updated_by TEXT,
			tags TEXT,
			source TEXT,
			confidence REAL NOT NULL DEFAULT 0,
			views INTEGER NOT NULL DEFAULT 0,
			shares INTEGER NOT NULL DEFAULT 0,
			acknowledgments INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_external_id
			ON alerts(external_id) WHERE external_id <> '';
		CREATE INDEX IF NOT EXISTS idx_alerts_window ON alerts(valid_from, valid_until);
		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);

		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			latitude REAL,
			longitude REAL,
			email_notifications INTEGER NOT NULL DEFAULT 1,
			push_notifications INTEGER NOT NULL DEFAULT 1,
			alert_radius_km REAL NOT NULL DEFAULT 50,
			push_endpoint TEXT,
			push_p256dh TEXT,
			push_auth TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			alert_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			priority TEXT NOT NULL DEFAULT 'medium',
			delivery_attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			sent_at DATETIME,
			delivered_at DATETIME,
			read_at DATETIME,
			error_message TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (alert_id) REFERENCES alerts(id)
		);

		-- At most one in-flight record per (user, alert). Failed records do
		-- not block: retries re-enter the same record via Requeue.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_inflight
			ON notifications(user_id, alert_id)
			WHERE status IN ('pending', 'sent', 'delivered');
		CREATE INDEX IF NOT EXISTS idx_notifications_user_status ON notifications(user_id, status);
		CREATE INDEX IF NOT EXISTS idx_notifications_updated ON notifications(updated_at);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a sqlite unique-constraint
// failure, optionally on the named index or column set.
func isUniqueViolation(err error, target string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") && !strings.Contains(msg, "2067") {
		return false
	}
	return target == "" || strings.Contains(msg, target)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
