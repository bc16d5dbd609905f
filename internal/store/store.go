// Package store provides the Postgres persistence layer plus an in-memory
// backend used by tests and demo mode.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sentryhq/ueba/internal/models"
)

type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (user_id, name, role, department, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			department = EXCLUDED.department,
			email = EXCLUDED.email
	`
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		user.UserID,
		user.Name,
		user.Role,
		user.Department,
		user.Email,
		user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	query := `SELECT * FROM users WHERE user_id = $1`
	err := s.db.GetContext(ctx, &user, query, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &user, err
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	query := `SELECT * FROM users ORDER BY user_id`
	err := s.db.SelectContext(ctx, &users, query)
	return users, err
}

func (s *Store) InsertActivity(ctx context.Context, ev *models.ActivityEvent) error {
	detailsJSON, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("marshaling details: %w", err)
	}

	query := `
		INSERT INTO activity_logs (event_id, user_id, timestamp, activity_type, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query,
		ev.EventID,
		ev.UserID,
		ev.Timestamp,
		ev.ActivityType,
		detailsJSON,
	).Scan(&ev.ID); err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}

	return nil
}

func (s *Store) ListActivities(ctx context.Context, userID string, since time.Time, limit int) ([]models.ActivityEvent, error) {
	query := `
		SELECT id, event_id, user_id, timestamp, activity_type, details
		FROM activity_logs
		WHERE user_id = $1 AND timestamp >= $2
		ORDER BY timestamp DESC
	`
	args := []interface{}{userID, since}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activities: %w", err)
	}
	defer rows.Close()

	var events []models.ActivityEvent
	for rows.Next() {
		var ev models.ActivityEvent
		var detailsJSON []byte

		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.UserID, &ev.Timestamp, &ev.ActivityType, &detailsJSON); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}

		if len(detailsJSON) > 0 {
			details, err := models.DecodeDetails(ev.ActivityType, detailsJSON)
			if err != nil {
				return nil, fmt.Errorf("decoding activity %d details: %w", ev.ID, err)
			}
			ev.Details = details
		}

		events = append(events, ev)
	}

	return events, rows.Err()
}

func (s *Store) CountActivities(ctx context.Context, userID string, from, to time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM activity_logs WHERE user_id = $1 AND timestamp >= $2 AND timestamp < $3`
	if err := s.db.QueryRowContext(ctx, query, userID, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting activities: %w", err)
	}
	return count, nil
}
