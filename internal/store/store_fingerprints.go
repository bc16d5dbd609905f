package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sentryhq/ueba/internal/models"
)

// Touch upserts the fingerprint and returns the previous last-seen time
// plus the escalated flag. A single INSERT ... ON CONFLICT keeps the
// check-and-touch atomic per hash: xmax = 0 distinguishes a fresh insert
// from an update, and the subselect reads the pre-statement row version
// for the prior last-seen.
func (s *Store) Touch(ctx context.Context, fp *models.AnomalyFingerprint) (*time.Time, bool, error) {
	query := `
		INSERT INTO anomaly_fingerprints AS f (
			fingerprint_hash, user_id, anomaly_category,
			first_seen, last_seen, count, escalated
		) VALUES ($1, $2, $3, $4, $4, 1, false)
		ON CONFLICT (fingerprint_hash) DO UPDATE SET
			last_seen = EXCLUDED.last_seen,
			count = f.count + 1
		RETURNING (xmax = 0),
			f.escalated,
			(SELECT p.last_seen FROM anomaly_fingerprints p
			 WHERE p.fingerprint_hash = f.fingerprint_hash)
	`

	var inserted, escalated bool
	var prev sql.NullTime
	err := s.db.QueryRowContext(ctx, query,
		fp.Hash,
		fp.UserID,
		fp.Category,
		fp.LastSeen,
	).Scan(&inserted, &escalated, &prev)
	if err != nil {
		return nil, false, fmt.Errorf("touching fingerprint: %w", err)
	}

	if inserted {
		return nil, false, nil
	}
	if !prev.Valid {
		// Lost a concurrent insert race: the winner's row is invisible
		// to this statement's snapshot. The fingerprint was just seen.
		return &fp.LastSeen, escalated, nil
	}
	return &prev.Time, escalated, nil
}

func (s *Store) MarkEscalated(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE anomaly_fingerprints SET escalated = true WHERE fingerprint_hash = $1`, hash)
	if err != nil {
		return fmt.Errorf("marking fingerprint escalated: %w", err)
	}
	return nil
}

func (s *Store) GetFingerprint(ctx context.Context, hash string) (*models.AnomalyFingerprint, error) {
	var fp models.AnomalyFingerprint
	query := `SELECT * FROM anomaly_fingerprints WHERE fingerprint_hash = $1`
	err := s.db.GetContext(ctx, &fp, query, hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &fp, err
}
