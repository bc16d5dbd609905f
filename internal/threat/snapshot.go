package threat

import (
	"context"
	"fmt"
	"time"

	"github.com/sentryhq/ueba/internal/models"
)

// saveSnapshot upserts today's score snapshot for the user. Snapshot
// failures never fail the ingest path.
func (s *Service) saveSnapshot(ctx context.Context, userID string, result models.ScoreResult) {
	now := s.now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	alertCount, err := s.store.CountAlerts(ctx, userID, day, day.AddDate(0, 0, 1))
	if err != nil {
		s.logger.Error("counting alerts for snapshot failed", "user_id", userID, "error", err)
		return
	}
	todayActivity, err := s.store.CountActivities(ctx, userID, day, day.AddDate(0, 0, 1))
	if err != nil {
		s.logger.Error("counting activities for snapshot failed", "user_id", userID, "error", err)
		return
	}

	snap := &models.HistoricalScoreSnapshot{
		UserID:        userID,
		Date:          day,
		ITSScore:      result.ITSScore,
		RiskLevel:     result.RiskLevel,
		AlertCount:    alertCount,
		ActivityCount: todayActivity,
	}

	if err := s.store.UpsertSnapshot(ctx, snap); err != nil {
		s.logger.Error("saving score snapshot failed", "user_id", userID, "error", err)
	}
}

// GetHistoricalScores returns the per-day snapshots for a user, oldest
// first.
func (s *Service) GetHistoricalScores(ctx context.Context, userID string, days int) ([]models.HistoricalScoreSnapshot, error) {
	if days <= 0 {
		days = 7
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if user == nil {
		return nil, &models.NotFoundError{Kind: "user", ID: userID}
	}

	return s.store.ListSnapshots(ctx, userID, days)
}

// SnapshotAll recomputes and upserts today's snapshot for every user. Run
// daily by the scheduler; re-running for the same day overwrites, so the
// job is restartable.
func (s *Service) SnapshotAll(ctx context.Context) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	var failed int
	for _, user := range users {
		result, err := s.scoreUser(ctx, &user)
		if err != nil {
			s.logger.Error("snapshot scoring failed", "user_id", user.UserID, "error", err)
			failed++
			continue
		}
		s.saveSnapshot(ctx, user.UserID, result)
	}

	s.logger.Info("daily snapshots saved", "users", len(users), "failed", failed)
	return nil
}
