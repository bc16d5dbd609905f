package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sentryhq/ueba/internal/models"
	"github.com/sentryhq/ueba/internal/threat"
)

// CreateAlert inserts the alert, keyed on the triggering event so a
// concurrent retry never produces a duplicate.
func (s *Store) CreateAlert(ctx context.Context, alert *models.Alert) (bool, error) {
	anomaliesJSON, err := json.Marshal(alert.Anomalies)
	if err != nil {
		return false, fmt.Errorf("marshaling anomalies: %w", err)
	}

	query := `
		INSERT INTO threat_alerts (
			event_id, user_id, timestamp, its_score, risk_level,
			anomalies, explanation, status, is_viewed, fingerprint
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id
	`

	err = s.db.QueryRowContext(ctx, query,
		alert.EventID,
		alert.UserID,
		alert.Timestamp,
		alert.ITSScore,
		alert.RiskLevel,
		anomaliesJSON,
		alert.Explanation,
		alert.Status,
		alert.IsViewed,
		alert.Fingerprint,
	).Scan(&alert.ID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inserting alert: %w", err)
	}

	return true, nil
}

func (s *Store) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	query := `
		SELECT id, event_id, user_id, timestamp, its_score, risk_level,
			   anomalies, explanation, status, is_viewed, viewed_at, fingerprint
		FROM threat_alerts
		WHERE id = $1
	`

	alert, err := scanAlert(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying alert: %w", err)
	}
	return alert, nil
}

func (s *Store) ListAlerts(ctx context.Context, filter threat.AlertFilter) ([]models.Alert, error) {
	query := `
		SELECT id, event_id, user_id, timestamp, its_score, risk_level,
			   anomalies, explanation, status, is_viewed, viewed_at, fingerprint
		FROM threat_alerts
		WHERE 1=1
	`
	args := make([]interface{}, 0)
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.UnreadOnly {
		query += " AND is_viewed = false"
	}

	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", argIdx)
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}

	return alerts, rows.Err()
}

func (s *Store) MarkAlertsViewed(ctx context.Context, ids []int64) (int, error) {
	now := time.Now()

	var res sql.Result
	var err error
	if ids == nil {
		res, err = s.db.ExecContext(ctx,
			`UPDATE threat_alerts SET is_viewed = true, viewed_at = $1 WHERE is_viewed = false`, now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE threat_alerts SET is_viewed = true, viewed_at = $1 WHERE id = ANY($2) AND is_viewed = false`,
			now, pq.Array(ids))
	}
	if err != nil {
		return 0, fmt.Errorf("marking alerts viewed: %w", err)
	}

	marked, _ := res.RowsAffected()
	return int(marked), nil
}

func (s *Store) UpdateAlertStatus(ctx context.Context, id int64, status models.AlertStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE threat_alerts SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("updating alert status: %w", err)
	}
	return nil
}

func (s *Store) CountAlerts(ctx context.Context, userID string, from, to time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM threat_alerts WHERE user_id = $1 AND timestamp >= $2 AND timestamp < $3`
	if err := s.db.QueryRowContext(ctx, query, userID, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting alerts: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var a models.Alert
	var anomaliesJSON []byte
	var viewedAt sql.NullTime

	err := row.Scan(
		&a.ID,
		&a.EventID,
		&a.UserID,
		&a.Timestamp,
		&a.ITSScore,
		&a.RiskLevel,
		&anomaliesJSON,
		&a.Explanation,
		&a.Status,
		&a.IsViewed,
		&viewedAt,
		&a.Fingerprint,
	)
	if err != nil {
		return nil, err
	}

	if len(anomaliesJSON) > 0 {
		json.Unmarshal(anomaliesJSON, &a.Anomalies)
	}
	if viewedAt.Valid {
		a.ViewedAt = &viewedAt.Time
	}

	return &a, nil
}
