package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alertline/geodispatch/internal/geo"
	"github.com/alertline/geodispatch/internal/models"
)

var (
	mumbai = geo.Point{Lat: 19.0760, Lon: 72.8777}
	delhi  = geo.Point{Lat: 28.7041, Lon: 77.1025}
)

func setupTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testAlert(id string, center geo.Point) *models.Alert {
	now := time.Now()
	return &models.Alert{
		ID:         id,
		Title:      "Flood Warning",
		Type:       models.AlertTypeFlood,
		Severity:   models.SeverityHigh,
		Status:     models.AlertStatusActive,
		Geometry:   models.PointGeometry(center, 25),
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(time.Hour),
		IsPublic:   true,
		CreatedBy:  "admin",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestSQLiteDB_AddAndGetAlert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := testAlert("a1", mumbai)
	a.Tags = []string{"flood", "mumbai"}
	if err := db.Alerts().Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := db.Alerts().GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Title != "Flood Warning" {
		t.Errorf("expected title 'Flood Warning', got '%s'", got.Title)
	}
	if got.Geometry.RadiusKm != 25 {
		t.Errorf("expected radius 25, got %v", got.Geometry.RadiusKm)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "flood" {
		t.Errorf("unexpected tags %v", got.Tags)
	}
}

func TestSQLiteDB_CreateAlert_Invalid(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := testAlert("bad", mumbai)
	a.ValidUntil = a.ValidFrom.Add(-time.Minute)
	if err := db.Alerts().Create(ctx, a); !errors.Is(err, models.ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestSQLiteDB_UpsertByExternalID_Dedup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := testAlert("a1", mumbai)
	first.ExternalID = "weather_Mumbai_1700000000"
	first.Description = "first description"

	stored, created, err := db.Alerts().UpsertByExternalID(ctx, first)
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if !created {
		t.Error("first upsert should insert")
	}

	second := testAlert("a2", mumbai)
	second.ExternalID = "weather_Mumbai_1700000000"
	second.Description = "second description"

	stored, created, err = db.Alerts().UpsertByExternalID(ctx, second)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if created {
		t.Error("second upsert should update, not insert")
	}
	if stored.ID != "a1" {
		t.Errorf("identity should be preserved, got id %s", stored.ID)
	}
	if stored.CreatedBy != "admin" {
		t.Errorf("created_by should be preserved, got %q", stored.CreatedBy)
	}

	got, err := db.Alerts().GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Description != "second description" {
		t.Errorf("expected merged description, got %q", got.Description)
	}

	// Still exactly one row for the external id.
	nearby, err := db.Alerts().FindActiveNear(ctx, mumbai, 10, time.Now(), AlertFilter{})
	if err != nil {
		t.Fatalf("FindActiveNear failed: %v", err)
	}
	if len(nearby) != 1 {
		t.Errorf("expected exactly 1 alert after dedup, got %d", len(nearby))
	}
}

func TestSQLiteDB_FindActiveNear_RadiusAndWindow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	near := testAlert("near", mumbai)
	far := testAlert("far", delhi)
	closed := testAlert("closed", mumbai)
	closed.ValidFrom = now.Add(-3 * time.Hour)
	closed.ValidUntil = now.Add(-2 * time.Hour)
	private := testAlert("private", mumbai)
	private.IsPublic = false

	// Stale status cache must not hide a window-active alert.
	staleStatus := testAlert("stale", mumbai)
	staleStatus.Status = models.AlertStatusExpired

	for _, a := range []*models.Alert{near, far, closed, private, staleStatus} {
		if err := db.Alerts().Create(ctx, a); err != nil {
			t.Fatalf("Create(%s) failed: %v", a.ID, err)
		}
	}

	results, err := db.Alerts().FindActiveNear(ctx, mumbai, 50, now, AlertFilter{})
	if err != nil {
		t.Fatalf("FindActiveNear failed: %v", err)
	}
	ids := make(map[string]bool)
	for _, a := range results {
		ids[a.ID] = true
	}
	if !ids["near"] || !ids["stale"] {
		t.Errorf("expected near and stale in results, got %v", ids)
	}
	if ids["far"] || ids["closed"] || ids["private"] {
		t.Errorf("far/closed/private should be excluded, got %v", ids)
	}
}

func TestSQLiteDB_FindActiveNear_OrderAndFilters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	low := testAlert("low", mumbai)
	low.Severity = models.SeverityLow
	critical := testAlert("critical", mumbai)
	critical.Severity = models.SeverityCritical
	landslide := testAlert("landslide", mumbai)
	landslide.Type = models.AlertTypeLandslide
	landslide.Severity = models.SeverityMedium

	for _, a := range []*models.Alert{low, critical, landslide} {
		if err := db.Alerts().Create(ctx, a); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	results, err := db.Alerts().FindActiveNear(ctx, mumbai, 50, now, AlertFilter{})
	if err != nil {
		t.Fatalf("FindActiveNear failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(results))
	}
	if results[0].ID != "critical" {
		t.Errorf("expected critical first, got %s", results[0].ID)
	}

	flood := models.AlertTypeFlood
	results, err = db.Alerts().FindActiveNear(ctx, mumbai, 50, now, AlertFilter{Type: &flood})
	if err != nil {
		t.Fatalf("FindActiveNear with type failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 flood alerts, got %d", len(results))
	}

	minSev := models.SeverityMedium
	results, err = db.Alerts().FindActiveNear(ctx, mumbai, 50, now, AlertFilter{MinSeverity: &minSev})
	if err != nil {
		t.Fatalf("FindActiveNear with severity failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 alerts at medium or above, got %d", len(results))
	}

	results, err = db.Alerts().FindActiveNear(ctx, mumbai, 50, now, AlertFilter{Limit: 1})
	if err != nil {
		t.Fatalf("FindActiveNear with limit failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 alert with limit, got %d", len(results))
	}
}

func TestSQLiteDB_ExpirySweepQueries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	expired := testAlert("expired", mumbai)
	expired.ValidFrom = now.Add(-3 * time.Hour)
	expired.ValidUntil = now.Add(-time.Hour)
	current := testAlert("current", mumbai)

	for _, a := range []*models.Alert{expired, current} {
		if err := db.Alerts().Create(ctx, a); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	found, err := db.Alerts().FindExpiredActive(ctx, now)
	if err != nil {
		t.Fatalf("FindExpiredActive failed: %v", err)
	}
	if len(found) != 1 || found[0].ID != "expired" {
		t.Fatalf("expected only the expired alert, got %v", found)
	}

	n, err := db.Alerts().MarkExpired(ctx, []string{"expired"})
	if err != nil {
		t.Fatalf("MarkExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row marked, got %d", n)
	}

	got, _ := db.Alerts().GetByID(ctx, "expired")
	if got.Status != models.AlertStatusExpired {
		t.Errorf("expected status expired, got %s", got.Status)
	}

	// Idempotent: a second sweep changes nothing.
	found, err = db.Alerts().FindExpiredActive(ctx, now)
	if err != nil {
		t.Fatalf("FindExpiredActive failed: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected no expired-active alerts after sweep, got %d", len(found))
	}
	n, err = db.Alerts().MarkExpired(ctx, []string{"expired"})
	if err != nil {
		t.Fatalf("MarkExpired failed: %v", err)
	}
	if n != 0 {
		t.Errorf("second MarkExpired should affect 0 rows, got %d", n)
	}
}

func testUser(id string, loc *geo.Point) *models.User {
	now := time.Now()
	return &models.User{
		ID:       id,
		Email:    id + "@example.com",
		Name:     "User " + id,
		IsActive: true,
		Location: loc,
		Preferences: models.Preferences{
			EmailNotifications: true,
			PushNotifications:  true,
			AlertRadiusKm:      50,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteDB_FindActiveUsersNear(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	nearby := testUser("u1", &geo.Point{Lat: 19.0800, Lon: 72.8800})
	faraway := testUser("u2", &delhi)
	inactive := testUser("u3", &geo.Point{Lat: 19.0800, Lon: 72.8800})
	inactive.IsActive = false
	unlocated := testUser("u4", nil)

	for _, u := range []*models.User{nearby, faraway, inactive, unlocated} {
		if err := db.Users().Create(ctx, u); err != nil {
			t.Fatalf("Create(%s) failed: %v", u.ID, err)
		}
	}

	users, err := db.Users().FindActiveNear(ctx, mumbai, 25)
	if err != nil {
		t.Fatalf("FindActiveNear failed: %v", err)
	}
	if len(users) != 1 || users[0].ID != "u1" {
		t.Errorf("expected only u1, got %v", users)
	}
}

func TestSQLiteDB_FindActiveUsersNear_PreferenceRadius(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// ~150km from Mumbai (Pune-ish); inside a 200km preference, outside 50.
	pune := &geo.Point{Lat: 18.5204, Lon: 73.8567}
	wide := testUser("wide", pune)
	wide.Preferences.AlertRadiusKm = 200
	narrow := testUser("narrow", pune)
	narrow.Preferences.AlertRadiusKm = 50

	for _, u := range []*models.User{wide, narrow} {
		if err := db.Users().Create(ctx, u); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	// Radius 0 means each user's own preference radius decides.
	users, err := db.Users().FindActiveNear(ctx, mumbai, 0)
	if err != nil {
		t.Fatalf("FindActiveNear failed: %v", err)
	}
	if len(users) != 1 || users[0].ID != "wide" {
		t.Errorf("expected only the wide-radius user, got %v", users)
	}
}

func TestSQLiteDB_UpdateUser(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	u := testUser("u1", &mumbai)
	if err := db.Users().Create(ctx, u); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := db.Users().UpdatePreferences(ctx, "u1", models.Preferences{
		EmailNotifications: false,
		PushNotifications:  true,
		AlertRadiusKm:      10,
	})
	if err != nil {
		t.Fatalf("UpdatePreferences failed: %v", err)
	}

	err = db.Users().UpdateSubscription(ctx, "u1", &models.PushSubscription{
		Endpoint: "https://push.example.com/sub/abc",
		P256dh:   "key",
		Auth:     "auth",
	})
	if err != nil {
		t.Fatalf("UpdateSubscription failed: %v", err)
	}

	got, err := db.Users().GetByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Preferences.EmailNotifications || got.Preferences.AlertRadiusKm != 10 {
		t.Errorf("preferences not updated: %+v", got.Preferences)
	}
	if got.Subscription == nil || got.Subscription.Endpoint != "https://push.example.com/sub/abc" {
		t.Errorf("subscription not updated: %+v", got.Subscription)
	}

	if err := db.Users().UpdatePreferences(ctx, "ghost", models.Preferences{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestSQLiteDB_ConcurrentAccessSharesMemoryDatabase(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// An in-memory database lives on a single connection; writes from many
	// goroutines must all land in the same schema.
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := testAlert(fmt.Sprintf("a%d", i), mumbai)
			a.ExternalID = fmt.Sprintf("ext-%d", i)
			if err := db.Alerts().Create(ctx, a); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent create failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		if _, err := db.Alerts().GetByID(ctx, fmt.Sprintf("a%d", i)); err != nil {
			t.Errorf("alert a%d not visible: %v", i, err)
		}
	}
}

func testNotification(id, userID, alertID string) *models.Notification {
	now := time.Now()
	return &models.Notification{
		ID:          id,
		UserID:      userID,
		AlertID:     alertID,
		Type:        models.NotificationTypeAlert,
		Title:       "Flood Warning",
		Message:     "Heavy rainfall detected",
		Status:      models.NotificationPending,
		Priority:    models.PriorityHigh,
		MaxAttempts: models.DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestSQLiteDB_NotificationDuplicatePending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.Notifications().Create(ctx, testNotification("n1", "u1", "a1")); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}

	err := db.Notifications().Create(ctx, testNotification("n2", "u1", "a1"))
	if !errors.Is(err, ErrDuplicatePending) {
		t.Errorf("expected ErrDuplicatePending, got %v", err)
	}

	// Other pairs are unaffected.
	if err := db.Notifications().Create(ctx, testNotification("n3", "u2", "a1")); err != nil {
		t.Errorf("different user should not collide: %v", err)
	}
	if err := db.Notifications().Create(ctx, testNotification("n4", "u1", "a2")); err != nil {
		t.Errorf("different alert should not collide: %v", err)
	}
}

func TestSQLiteDB_NotificationTransitions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	if err := db.Notifications().Create(ctx, testNotification("n1", "u1", "a1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := db.Notifications().MarkSent(ctx, "n1", now); err != nil {
		t.Fatalf("MarkSent failed: %v", err)
	}
	// Second send on the same record loses the CAS.
	if err := db.Notifications().MarkSent(ctx, "n1", now); !errors.Is(err, ErrStaleTransition) {
		t.Errorf("expected ErrStaleTransition on double send, got %v", err)
	}

	if err := db.Notifications().MarkDelivered(ctx, "n1", now); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}
	if err := db.Notifications().MarkRead(ctx, "n1", now); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	got, err := db.Notifications().GetByID(ctx, "n1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != models.NotificationRead {
		t.Errorf("expected read, got %s", got.Status)
	}
	if got.DeliveryAttempts != 1 {
		t.Errorf("expected 1 attempt, got %d", got.DeliveryAttempts)
	}

	// Terminal record no longer blocks a new dispatch for the pair.
	if err := db.Notifications().Create(ctx, testNotification("n2", "u1", "a1")); err != nil {
		t.Errorf("new record after terminal should be allowed: %v", err)
	}
}

func TestSQLiteDB_NotificationClaimPending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	old := time.Now().Add(-30 * time.Minute)
	n := testNotification("n1", "u1", "a1")
	n.CreatedAt = old
	n.UpdatedAt = old
	if err := db.Notifications().Create(ctx, n); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	now := time.Now()
	cutoff := now.Add(-15 * time.Minute)
	if err := db.Notifications().ClaimPending(ctx, "n1", now, cutoff); err != nil {
		t.Fatalf("first claim on a stale record should win: %v", err)
	}
	// The stamp moved updated_at forward, so a second claimer loses.
	if err := db.Notifications().ClaimPending(ctx, "n1", now, cutoff); !errors.Is(err, ErrStaleTransition) {
		t.Errorf("expected ErrStaleTransition on second claim, got %v", err)
	}

	// Records already past pending are never claimable.
	sent := testNotification("n2", "u2", "a1")
	sent.CreatedAt = old
	sent.UpdatedAt = old
	if err := db.Notifications().Create(ctx, sent); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := db.Notifications().MarkSent(ctx, "n2", old); err != nil {
		t.Fatalf("MarkSent failed: %v", err)
	}
	if err := db.Notifications().ClaimPending(ctx, "n2", now, now); !errors.Is(err, ErrStaleTransition) {
		t.Errorf("expected ErrStaleTransition for a sent record, got %v", err)
	}
}

func TestSQLiteDB_NotificationFailureAndRequeue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	if err := db.Notifications().Create(ctx, testNotification("n1", "u1", "a1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := db.Notifications().MarkFailed(ctx, "n1", now, "endpoint unreachable"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	got, _ := db.Notifications().GetByID(ctx, "n1")
	if got.DeliveryAttempts != 1 || got.ErrorMessage != "endpoint unreachable" {
		t.Errorf("failure bookkeeping wrong: %+v", got)
	}
	if !got.CanRetry() {
		t.Error("failed record below limit should be retryable")
	}

	if err := db.Notifications().Requeue(ctx, "n1", now); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	// Exhaust the attempts; Requeue must then refuse.
	db.Notifications().MarkFailed(ctx, "n1", now, "still unreachable")
	db.Notifications().Requeue(ctx, "n1", now)
	db.Notifications().MarkFailed(ctx, "n1", now, "gave up")

	got, _ = db.Notifications().GetByID(ctx, "n1")
	if got.DeliveryAttempts != models.DefaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", models.DefaultMaxAttempts, got.DeliveryAttempts)
	}
	if err := db.Notifications().Requeue(ctx, "n1", now); !errors.Is(err, ErrStaleTransition) {
		t.Errorf("expected ErrStaleTransition for exhausted record, got %v", err)
	}
}

func TestSQLiteDB_PurgeTerminalBefore(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	old := time.Now().Add(-40 * 24 * time.Hour)

	// Terminal and old: purged.
	done := testNotification("done", "u1", "a1")
	done.Status = models.NotificationRead
	done.CreatedAt = old
	done.UpdatedAt = old
	// Non-terminal but old: kept.
	stuck := testNotification("stuck", "u2", "a1")
	stuck.CreatedAt = old
	stuck.UpdatedAt = old
	// Terminal but recent: kept.
	recent := testNotification("recent", "u3", "a1")
	recent.Status = models.NotificationRead

	for _, n := range []*models.Notification{done, stuck, recent} {
		if err := db.Notifications().Create(ctx, n); err != nil {
			t.Fatalf("Create(%s) failed: %v", n.ID, err)
		}
	}

	purged, err := db.Notifications().PurgeTerminalBefore(ctx, time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeTerminalBefore failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged, got %d", purged)
	}

	if _, err := db.Notifications().GetByID(ctx, "done"); !errors.Is(err, ErrNotFound) {
		t.Errorf("done should be purged, got %v", err)
	}
	if _, err := db.Notifications().GetByID(ctx, "stuck"); err != nil {
		t.Errorf("stuck should remain: %v", err)
	}
	if _, err := db.Notifications().GetByID(ctx, "recent"); err != nil {
		t.Errorf("recent should remain: %v", err)
	}
}

func TestSQLiteDB_CountByStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	db.Notifications().Create(ctx, testNotification("n1", "u1", "a1"))
	db.Notifications().Create(ctx, testNotification("n2", "u2", "a1"))
	db.Notifications().MarkSent(ctx, "n2", now)

	counts, err := db.Notifications().CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[models.NotificationPending] != 1 || counts[models.NotificationSent] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}
