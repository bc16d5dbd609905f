package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sentryhq/ueba/internal/models"
	"github.com/sentryhq/ueba/internal/threat"
)

func getTestDSN() string {
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	return "host=localhost port=5432 user=ueba password=ueba dbname=ueba_test sslmode=disable"
}

// skipIfNoTestDB connects to the test database or skips the test. The
// schema is created on first use and every table truncated for isolation.
func skipIfNoTestDB(t *testing.T) *Store {
	t.Helper()

	s, err := New(Config{DSN: getTestDSN(), MaxOpenConns: 5, MaxIdleConns: 2})
	if err != nil {
		t.Skipf("test database not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		t.Skipf("test database not reachable: %v", err)
	}

	for _, stmt := range testSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("creating test schema: %v", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `
		TRUNCATE users, activity_logs, threat_alerts, incidents,
			anomaly_fingerprints, historical_its_scores`); err != nil {
		t.Fatalf("truncating test tables: %v", err)
	}

	return s
}

var testSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id    TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		role       TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		email      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS activity_logs (
		id            BIGSERIAL PRIMARY KEY,
		event_id      UUID NOT NULL,
		user_id       TEXT NOT NULL,
		timestamp     TIMESTAMPTZ NOT NULL,
		activity_type TEXT NOT NULL,
		details       JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS threat_alerts (
		id          BIGSERIAL PRIMARY KEY,
		event_id    UUID NOT NULL UNIQUE,
		user_id     TEXT NOT NULL,
		timestamp   TIMESTAMPTZ NOT NULL,
		its_score   DOUBLE PRECISION NOT NULL,
		risk_level  TEXT NOT NULL,
		anomalies   JSONB,
		explanation TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		is_viewed   BOOLEAN NOT NULL DEFAULT false,
		viewed_at   TIMESTAMPTZ,
		fingerprint TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id               UUID PRIMARY KEY,
		alert_id         BIGINT,
		user_id          TEXT NOT NULL,
		severity         TEXT NOT NULL,
		status           TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		explanation      TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL,
		resolution_notes TEXT,
		resolved_at      TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS anomaly_fingerprints (
		fingerprint_hash TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		anomaly_category TEXT NOT NULL,
		first_seen       TIMESTAMPTZ NOT NULL,
		last_seen        TIMESTAMPTZ NOT NULL,
		count            INT NOT NULL DEFAULT 1,
		escalated        BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE TABLE IF NOT EXISTS historical_its_scores (
		user_id        TEXT NOT NULL,
		date           DATE NOT NULL,
		its_score      DOUBLE PRECISION NOT NULL,
		risk_level     TEXT NOT NULL,
		alert_count    INT NOT NULL DEFAULT 0,
		activity_count INT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, date)
	)`,
}

func seedUser(t *testing.T, s *Store, userID, role string) {
	t.Helper()
	err := s.CreateUser(context.Background(), &models.User{
		UserID: userID,
		Name:   "Test User",
		Role:   role,
		Email:  userID + "@corp.example",
	})
	if err != nil {
		t.Fatalf("seeding user: %v", err)
	}
}

func TestUserRoundTrip(t *testing.T) {
	s := skipIfNoTestDB(t)
	ctx := context.Background()

	seedUser(t, s, "jsmith", "Developer")

	user, err := s.GetUser(ctx, "jsmith")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user == nil || user.Role != "Developer" {
		t.Fatalf("user = %+v, want role Developer", user)
	}

	// Re-registering updates the profile in place.
	seedUser(t, s, "jsmith", "Manager")
	user, err = s.GetUser(ctx, "jsmith")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.Role != "Manager" {
		t.Errorf("role after upsert = %q, want Manager", user.Role)
	}

	missing, err := s.GetUser(ctx, "ghost")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if missing != nil {
		t.Errorf("missing user = %+v, want nil", missing)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("users = %d, want 1", len(users))
	}
}

func TestActivityRoundTrip(t *testing.T) {
	s := skipIfNoTestDB(t)
	ctx := context.Background()
	seedUser(t, s, "jsmith", "Developer")

	now := time.Now().UTC().Truncate(time.Second)
	ev := &models.ActivityEvent{
		EventID:      uuid.New(),
		UserID:       "jsmith",
		Timestamp:    now,
		ActivityType: models.ActivityFileAccess,
		Details:      models.FileDetails{Path: "/finance/a.xlsx", Sensitive: true, SizeMB: 120},
	}
	if err := s.InsertActivity(ctx, ev); err != nil {
		t.Fatalf("InsertActivity failed: %v", err)
	}
	if ev.ID == 0 {
		t.Error("activity ID not assigned")
	}

	events, err := s.ListActivities(ctx, "jsmith", now.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("ListActivities failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}

	details, ok := events[0].Details.(models.FileDetails)
	if !ok {
		t.Fatalf("details type = %T, want FileDetails", events[0].Details)
	}
	if !details.Sensitive || details.SizeMB != 120 {
		t.Errorf("details = %+v, round trip lost fields", details)
	}

	count, err := s.CountActivities(ctx, "jsmith", now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CountActivities failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestAlertIdempotency(t *testing.T) {
	s := skipIfNoTestDB(t)
	ctx := context.Background()
	seedUser(t, s, "jsmith", "Developer")

	alert := &models.Alert{
		EventID:     uuid.New(),
		UserID:      "jsmith",
		Timestamp:   time.Now().UTC(),
		ITSScore:    72.5,
		RiskLevel:   models.RiskHigh,
		Anomalies:   []string{"Off-hours activity detected"},
		Explanation: "ITS Score: 72.5/100.",
		Status:      models.AlertOpen,
		Fingerprint: "abc123",
	}

	created, err := s.CreateAlert(ctx, alert)
	if err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}
	if !created || alert.ID == 0 {
		t.Fatalf("created = %v, ID = %d, want fresh insert", created, alert.ID)
	}

	dup := *alert
	dup.ID = 0
	created, err = s.CreateAlert(ctx, &dup)
	if err != nil {
		t.Fatalf("duplicate CreateAlert failed: %v", err)
	}
	if created {
		t.Error("duplicate event insert reported created")
	}

	got, err := s.GetAlert(ctx, alert.ID)
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if got == nil || len(got.Anomalies) != 1 {
		t.Fatalf("alert = %+v, want one anomaly", got)
	}

	marked, err := s.MarkAlertsViewed(ctx, []int64{alert.ID})
	if err != nil {
		t.Fatalf("MarkAlertsViewed failed: %v", err)
	}
	if marked != 1 {
		t.Errorf("marked = %d, want 1", marked)
	}
	marked, err = s.MarkAlertsViewed(ctx, []int64{alert.ID})
	if err != nil {
		t.Fatalf("MarkAlertsViewed failed: %v", err)
	}
	if marked != 0 {
		t.Errorf("re-mark = %d, want 0", marked)
	}

	unread, err := s.ListAlerts(ctx, threat.AlertFilter{UnreadOnly: true, Limit: 10})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(unread) != 0 {
		t.Errorf("unread = %d, want 0", len(unread))
	}

	if err := s.UpdateAlertStatus(ctx, alert.ID, models.AlertEscalated); err != nil {
		t.Fatalf("UpdateAlertStatus failed: %v", err)
	}
	got, _ = s.GetAlert(ctx, alert.ID)
	if got.Status != models.AlertEscalated {
		t.Errorf("status = %v, want escalated", got.Status)
	}
}

func TestIncidentFlow(t *testing.T) {
	s := skipIfNoTestDB(t)
	ctx := context.Background()
	seedUser(t, s, "jsmith", "Developer")

	inc := &models.Incident{
		ID:          uuid.New(),
		UserID:      "jsmith",
		Severity:    models.RiskHigh,
		Status:      models.IncidentOpen,
		Description: "manual review",
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreateIncident(ctx, inc); err != nil {
		t.Fatalf("CreateIncident failed: %v", err)
	}

	active, err := s.LatestActiveIncident(ctx, "jsmith", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("LatestActiveIncident failed: %v", err)
	}
	if active == nil || active.ID != inc.ID {
		t.Fatalf("active = %+v, want the open incident", active)
	}

	notes := "false positive"
	now := time.Now().UTC()
	inc.Status = models.IncidentResolved
	inc.ResolutionNotes = &notes
	inc.ResolvedAt = &now
	if err := s.UpdateIncident(ctx, inc); err != nil {
		t.Fatalf("UpdateIncident failed: %v", err)
	}

	got, err := s.GetIncident(ctx, inc.ID)
	if err != nil {
		t.Fatalf("GetIncident failed: %v", err)
	}
	if got.Status != models.IncidentResolved || got.ResolutionNotes == nil || got.ResolvedAt == nil {
		t.Errorf("incident = %+v, resolution fields lost", got)
	}

	// A resolved incident no longer blocks auto-escalation.
	active, err = s.LatestActiveIncident(ctx, "jsmith", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("LatestActiveIncident failed: %v", err)
	}
	if active != nil {
		t.Errorf("active = %+v, want nil after resolution", active)
	}

	resolved, err := s.ListIncidents(ctx, threat.IncidentFilter{Status: models.IncidentResolved, Limit: 10})
	if err != nil {
		t.Fatalf("ListIncidents failed: %v", err)
	}
	if len(resolved) != 1 {
		t.Errorf("resolved incidents = %d, want 1", len(resolved))
	}
}

func TestFingerprintTouch(t *testing.T) {
	s := skipIfNoTestDB(t)
	ctx := context.Background()

	first := time.Now().UTC().Truncate(time.Second)
	fp := &models.AnomalyFingerprint{
		Hash:     "deadbeef",
		UserID:   "jsmith",
		Category: "file_access",
		LastSeen: first,
	}

	prev, escalated, err := s.Touch(ctx, fp)
	if err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if prev != nil || escalated {
		t.Errorf("first touch = (%v, %v), want (nil, false)", prev, escalated)
	}

	fp.LastSeen = first.Add(10 * time.Minute)
	prev, escalated, err = s.Touch(ctx, fp)
	if err != nil {
		t.Fatalf("second Touch failed: %v", err)
	}
	if prev == nil || !prev.Equal(first) {
		t.Errorf("second touch prev = %v, want %v", prev, first)
	}
	if escalated {
		t.Error("second touch reported escalated before MarkEscalated")
	}

	if err := s.MarkEscalated(ctx, "deadbeef"); err != nil {
		t.Fatalf("MarkEscalated failed: %v", err)
	}

	fp.LastSeen = first.Add(20 * time.Minute)
	_, escalated, err = s.Touch(ctx, fp)
	if err != nil {
		t.Fatalf("third Touch failed: %v", err)
	}
	if !escalated {
		t.Error("touch after MarkEscalated did not report escalated")
	}

	got, err := s.GetFingerprint(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("GetFingerprint failed: %v", err)
	}
	if got == nil || !got.Escalated || got.Count != 3 {
		t.Errorf("fingerprint = %+v, want escalated with count 3", got)
	}
}

func TestSnapshotsAndSummary(t *testing.T) {
	s := skipIfNoTestDB(t)
	ctx := context.Background()
	seedUser(t, s, "jsmith", "Developer")

	day := time.Now().UTC().Truncate(24 * time.Hour)
	snap := &models.HistoricalScoreSnapshot{
		UserID:    "jsmith",
		Date:      day,
		ITSScore:  30,
		RiskLevel: models.RiskMedium,
	}
	if err := s.UpsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("UpsertSnapshot failed: %v", err)
	}

	// Last write for the same day wins.
	snap.ITSScore = 82
	snap.RiskLevel = models.RiskCritical
	snap.ActivityCount = 4
	if err := s.UpsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("second UpsertSnapshot failed: %v", err)
	}

	snaps, err := s.ListSnapshots(ctx, "jsmith", 7)
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
	if snaps[0].ITSScore != 82 || snaps[0].ActivityCount != 4 {
		t.Errorf("snapshot = %+v, want the second write", snaps[0])
	}

	summary, err := s.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.TotalUsers != 1 {
		t.Errorf("TotalUsers = %d, want 1", summary.TotalUsers)
	}
	if summary.HighRiskUsers != 1 {
		t.Errorf("HighRiskUsers = %d, want 1", summary.HighRiskUsers)
	}
	if summary.AvgITSScore != 82 {
		t.Errorf("AvgITSScore = %v, want 82", summary.AvgITSScore)
	}
}
