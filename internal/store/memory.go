package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentryhq/ueba/internal/models"
	"github.com/sentryhq/ueba/internal/threat"
)

// Memory is an in-process backend with the same semantics as the Postgres
// store. Used by tests and by demo mode, where the server runs without
// external services.
type Memory struct {
	mu sync.Mutex

	users      map[string]models.User
	activities []models.ActivityEvent
	alerts     []models.Alert
	alertsByEv map[uuid.UUID]int64
	incidents  map[uuid.UUID]*models.Incident
	snapshots  map[snapshotKey]models.HistoricalScoreSnapshot

	fingerprints map[string]*models.AnomalyFingerprint

	nextActivityID int64
	nextAlertID    int64
}

type snapshotKey struct {
	userID string
	date   string
}

func NewMemory() *Memory {
	return &Memory{
		users:        make(map[string]models.User),
		alertsByEv:   make(map[uuid.UUID]int64),
		incidents:    make(map[uuid.UUID]*models.Incident),
		snapshots:    make(map[snapshotKey]models.HistoricalScoreSnapshot),
		fingerprints: make(map[string]*models.AnomalyFingerprint),
	}
}

func (m *Memory) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	m.users[user.UserID] = *user
	return nil
}

func (m *Memory) GetUser(ctx context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (m *Memory) ListUsers(ctx context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

func (m *Memory) InsertActivity(ctx context.Context, ev *models.ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextActivityID++
	ev.ID = m.nextActivityID
	m.activities = append(m.activities, *ev)
	return nil
}

func (m *Memory) ListActivities(ctx context.Context, userID string, since time.Time, limit int) ([]models.ActivityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []models.ActivityEvent
	for _, ev := range m.activities {
		if ev.UserID == userID && !ev.Timestamp.Before(since) {
			events = append(events, ev)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (m *Memory) CountActivities(ctx context.Context, userID string, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int
	for _, ev := range m.activities {
		if ev.UserID == userID && !ev.Timestamp.Before(from) && ev.Timestamp.Before(to) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) CreateAlert(ctx context.Context, alert *models.Alert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.alertsByEv[alert.EventID]; exists {
		return false, nil
	}

	m.nextAlertID++
	alert.ID = m.nextAlertID
	m.alerts = append(m.alerts, *alert)
	m.alertsByEv[alert.EventID] = alert.ID
	return true, nil
}

func (m *Memory) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID == id {
			a := m.alerts[i]
			return &a, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListAlerts(ctx context.Context, filter threat.AlertFilter) ([]models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var alerts []models.Alert
	for _, a := range m.alerts {
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if filter.UnreadOnly && a.IsViewed {
			continue
		}
		alerts = append(alerts, a)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Timestamp.After(alerts[j].Timestamp) })
	if filter.Limit > 0 && len(alerts) > filter.Limit {
		alerts = alerts[:filter.Limit]
	}
	return alerts, nil
}

func (m *Memory) MarkAlertsViewed(ctx context.Context, ids []int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[int64]bool)
	for _, id := range ids {
		wanted[id] = true
	}

	now := time.Now()
	var marked int
	for i := range m.alerts {
		if ids != nil && !wanted[m.alerts[i].ID] {
			continue
		}
		if m.alerts[i].IsViewed {
			continue
		}
		m.alerts[i].IsViewed = true
		m.alerts[i].ViewedAt = &now
		marked++
	}
	return marked, nil
}

func (m *Memory) UpdateAlertStatus(ctx context.Context, id int64, status models.AlertStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Status = status
			return nil
		}
	}
	return nil
}

func (m *Memory) CountAlerts(ctx context.Context, userID string, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int
	for _, a := range m.alerts {
		if a.UserID == userID && !a.Timestamp.Before(from) && a.Timestamp.Before(to) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) CreateIncident(ctx context.Context, inc *models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *inc
	m.incidents[inc.ID] = &cp
	return nil
}

func (m *Memory) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[id]
	if !ok {
		return nil, nil
	}
	cp := *inc
	return &cp, nil
}

func (m *Memory) ListIncidents(ctx context.Context, filter threat.IncidentFilter) ([]models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var incidents []models.Incident
	for _, inc := range m.incidents {
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		incidents = append(incidents, *inc)
	}
	sort.Slice(incidents, func(i, j int) bool { return incidents[i].CreatedAt.After(incidents[j].CreatedAt) })
	if filter.Limit > 0 && len(incidents) > filter.Limit {
		incidents = incidents[:filter.Limit]
	}
	return incidents, nil
}

func (m *Memory) UpdateIncident(ctx context.Context, inc *models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *inc
	m.incidents[inc.ID] = &cp
	return nil
}

func (m *Memory) LatestActiveIncident(ctx context.Context, userID string, since time.Time) (*models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *models.Incident
	for _, inc := range m.incidents {
		if inc.UserID != userID || inc.CreatedAt.Before(since) {
			continue
		}
		if inc.Status != models.IncidentOpen && inc.Status != models.IncidentInProgress {
			continue
		}
		if latest == nil || inc.CreatedAt.After(latest.CreatedAt) {
			latest = inc
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *Memory) UpsertSnapshot(ctx context.Context, snap *models.HistoricalScoreSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := snapshotKey{userID: snap.UserID, date: snap.Date.Format("2006-01-02")}
	m.snapshots[key] = *snap
	return nil
}

func (m *Memory) ListSnapshots(ctx context.Context, userID string, days int) ([]models.HistoricalScoreSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -days)
	var snaps []models.HistoricalScoreSnapshot
	for _, snap := range m.snapshots {
		if snap.UserID == userID && !snap.Date.Before(cutoff) {
			snaps = append(snaps, snap)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Date.Before(snaps[j].Date) })
	return snaps, nil
}

func (m *Memory) Summary(ctx context.Context) (*models.DashboardSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := &models.DashboardSummary{
		TotalUsers:   len(m.users),
		AlertsByRisk: make(map[models.RiskLevel]int),
	}

	latest := make(map[string]models.HistoricalScoreSnapshot)
	for _, snap := range m.snapshots {
		if cur, ok := latest[snap.UserID]; !ok || snap.Date.After(cur.Date) {
			latest[snap.UserID] = snap
		}
	}
	var scoreSum float64
	for _, snap := range latest {
		scoreSum += snap.ITSScore
		if snap.RiskLevel.AtLeast(models.RiskHigh) {
			summary.HighRiskUsers++
		}
	}
	if len(latest) > 0 {
		summary.AvgITSScore = scoreSum / float64(len(latest))
	}

	sorted := make([]models.Alert, len(m.alerts))
	copy(sorted, m.alerts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })

	for _, a := range sorted {
		summary.AlertsByRisk[a.RiskLevel]++
		if a.Status == models.AlertOpen {
			summary.OpenAlerts++
		}
		if !a.IsViewed {
			summary.UnreadAlerts++
		}
	}
	if len(sorted) > 10 {
		sorted = sorted[:10]
	}
	summary.RecentAlerts = sorted

	for _, inc := range m.incidents {
		if inc.Status == models.IncidentOpen || inc.Status == models.IncidentInProgress {
			summary.OpenIncidents++
		}
	}

	return summary, nil
}

// Touch implements the fingerprint store with the same atomicity contract
// as the Postgres version.
func (m *Memory) Touch(ctx context.Context, fp *models.AnomalyFingerprint) (*time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.fingerprints[fp.Hash]
	if !ok {
		cp := *fp
		m.fingerprints[fp.Hash] = &cp
		return nil, false, nil
	}

	prev := existing.LastSeen
	existing.LastSeen = fp.LastSeen
	existing.Count++
	return &prev, existing.Escalated, nil
}

func (m *Memory) MarkEscalated(ctx context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fp, ok := m.fingerprints[hash]; ok {
		fp.Escalated = true
	}
	return nil
}
