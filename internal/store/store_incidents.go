package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentryhq/ueba/internal/models"
	"github.com/sentryhq/ueba/internal/threat"
)

func (s *Store) CreateIncident(ctx context.Context, inc *models.Incident) error {
	query := `
		INSERT INTO incidents (
			id, alert_id, user_id, severity, status, description,
			explanation, created_at, resolution_notes, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.ExecContext(ctx, query,
		inc.ID,
		inc.AlertID,
		inc.UserID,
		inc.Severity,
		inc.Status,
		inc.Description,
		inc.Explanation,
		inc.CreatedAt,
		inc.ResolutionNotes,
		inc.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting incident: %w", err)
	}
	return nil
}

func (s *Store) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	query := `
		SELECT id, alert_id, user_id, severity, status, description,
			   explanation, created_at, resolution_notes, resolved_at
		FROM incidents
		WHERE id = $1
	`

	inc, err := scanIncident(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying incident: %w", err)
	}
	return inc, nil
}

func (s *Store) ListIncidents(ctx context.Context, filter threat.IncidentFilter) ([]models.Incident, error) {
	query := `
		SELECT id, alert_id, user_id, severity, status, description,
			   explanation, created_at, resolution_notes, resolved_at
		FROM incidents
		WHERE 1=1
	`
	args := make([]interface{}, 0)
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIdx)
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying incidents: %w", err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}

	return incidents, rows.Err()
}

func (s *Store) UpdateIncident(ctx context.Context, inc *models.Incident) error {
	query := `
		UPDATE incidents SET
			status = $2,
			resolution_notes = $3,
			resolved_at = $4
		WHERE id = $1
	`

	_, err := s.db.ExecContext(ctx, query,
		inc.ID,
		inc.Status,
		inc.ResolutionNotes,
		inc.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("updating incident: %w", err)
	}
	return nil
}

func (s *Store) LatestActiveIncident(ctx context.Context, userID string, since time.Time) (*models.Incident, error) {
	query := `
		SELECT id, alert_id, user_id, severity, status, description,
			   explanation, created_at, resolution_notes, resolved_at
		FROM incidents
		WHERE user_id = $1 AND status IN ('open', 'in_progress') AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	inc, err := scanIncident(s.db.QueryRowContext(ctx, query, userID, since))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active incident: %w", err)
	}
	return inc, nil
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var inc models.Incident
	var alertID sql.NullInt64
	var notes sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&inc.ID,
		&alertID,
		&inc.UserID,
		&inc.Severity,
		&inc.Status,
		&inc.Description,
		&inc.Explanation,
		&inc.CreatedAt,
		&notes,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if alertID.Valid {
		inc.AlertID = &alertID.Int64
	}
	if notes.Valid {
		inc.ResolutionNotes = &notes.String
	}
	if resolvedAt.Valid {
		inc.ResolvedAt = &resolvedAt.Time
	}

	return &inc, nil
}
