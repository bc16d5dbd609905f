package store

import (
	"context"
	"fmt"

	"github.com/sentryhq/ueba/internal/models"
)

func (s *Store) UpsertSnapshot(ctx context.Context, snap *models.HistoricalScoreSnapshot) error {
	query := `
		INSERT INTO historical_its_scores (
			user_id, date, its_score, risk_level, alert_count, activity_count
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, date) DO UPDATE SET
			its_score = EXCLUDED.its_score,
			risk_level = EXCLUDED.risk_level,
			alert_count = EXCLUDED.alert_count,
			activity_count = EXCLUDED.activity_count
	`

	_, err := s.db.ExecContext(ctx, query,
		snap.UserID,
		snap.Date,
		snap.ITSScore,
		snap.RiskLevel,
		snap.AlertCount,
		snap.ActivityCount,
	)
	if err != nil {
		return fmt.Errorf("upserting snapshot: %w", err)
	}
	return nil
}

func (s *Store) ListSnapshots(ctx context.Context, userID string, days int) ([]models.HistoricalScoreSnapshot, error) {
	query := `
		SELECT user_id, date, its_score, risk_level, alert_count, activity_count
		FROM historical_its_scores
		WHERE user_id = $1 AND date >= CURRENT_DATE - $2::int
		ORDER BY date ASC
	`

	var snaps []models.HistoricalScoreSnapshot
	err := s.db.SelectContext(ctx, &snaps, query, userID, days)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	return snaps, nil
}

// Summary aggregates fleet-wide state for the dashboard endpoint.
func (s *Store) Summary(ctx context.Context) (*models.DashboardSummary, error) {
	summary := &models.DashboardSummary{
		AlertsByRisk: make(map[models.RiskLevel]int),
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&summary.TotalUsers); err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}

	scoreQuery := `
		SELECT COALESCE(AVG(its_score), 0),
			   COUNT(*) FILTER (WHERE risk_level IN ('high', 'critical'))
		FROM (
			SELECT DISTINCT ON (user_id) its_score, risk_level
			FROM historical_its_scores
			ORDER BY user_id, date DESC
		) latest
	`
	if err := s.db.QueryRowContext(ctx, scoreQuery).Scan(&summary.AvgITSScore, &summary.HighRiskUsers); err != nil {
		return nil, fmt.Errorf("aggregating scores: %w", err)
	}

	alertQuery := `
		SELECT COUNT(*) FILTER (WHERE status = 'open'),
			   COUNT(*) FILTER (WHERE is_viewed = false)
		FROM threat_alerts
	`
	if err := s.db.QueryRowContext(ctx, alertQuery).Scan(&summary.OpenAlerts, &summary.UnreadAlerts); err != nil {
		return nil, fmt.Errorf("counting alerts: %w", err)
	}

	riskQuery := `SELECT risk_level, COUNT(*) FROM threat_alerts GROUP BY risk_level`
	rows, err := s.db.QueryContext(ctx, riskQuery)
	if err != nil {
		return nil, fmt.Errorf("counting alerts by risk: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var level models.RiskLevel
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("scanning risk count: %w", err)
		}
		summary.AlertsByRisk[level] = count
	}

	incidentQuery := `SELECT COUNT(*) FROM incidents WHERE status IN ('open', 'in_progress')`
	if err := s.db.QueryRowContext(ctx, incidentQuery).Scan(&summary.OpenIncidents); err != nil {
		return nil, fmt.Errorf("counting incidents: %w", err)
	}

	recentQuery := `
		SELECT id, event_id, user_id, timestamp, its_score, risk_level,
			   anomalies, explanation, status, is_viewed, viewed_at, fingerprint
		FROM threat_alerts
		ORDER BY timestamp DESC
		LIMIT 10
	`
	alertRows, err := s.db.QueryContext(ctx, recentQuery)
	if err != nil {
		return nil, fmt.Errorf("querying recent alerts: %w", err)
	}
	defer alertRows.Close()

	for alertRows.Next() {
		alert, err := scanAlert(alertRows)
		if err != nil {
			return nil, fmt.Errorf("scanning recent alert: %w", err)
		}
		summary.RecentAlerts = append(summary.RecentAlerts, *alert)
	}

	return summary, nil
}
