package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentryhq/ueba/internal/models"
)

// DefaultWindow is the suppression cool-down applied when none is
// configured.
const DefaultWindow = 24 * time.Hour

// Store persists fingerprints. Touch must be atomic per hash key: two
// near-simultaneous calls for the same hash must not both observe "not
// seen".
type Store interface {
	// Touch records an occurrence of the fingerprint and returns the
	// previous last-seen time, if any, plus whether the fingerprint has
	// been escalated.
	Touch(ctx context.Context, fp *models.AnomalyFingerprint) (lastSeen *time.Time, escalated bool, err error)
	// MarkEscalated flags the fingerprint so repeat occurrences never
	// spawn a second incident.
	MarkEscalated(ctx context.Context, hash string) error
}

// Engine gates alert creation on fingerprint recency.
type Engine struct {
	store  Store
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, window time.Duration, logger *slog.Logger) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Check fingerprints the event, records the occurrence, and reports whether
// alerting for it should be suppressed. Callers invoke it only once firing
// conditions hold, so suppression state is armed by alerting behavior.
// Entries older than the window are logically expired: the occurrence is
// recorded but not suppressed. An escalated fingerprint outlasts the
// window; the behavior already has an incident and never re-alerts.
func (e *Engine) Check(ctx context.Context, ev models.ActivityEvent) (hash string, suppressed bool, err error) {
	sig := SignatureFor(ev)
	hash = sig.Hash()
	now := e.now()

	fp := &models.AnomalyFingerprint{
		Hash:      hash,
		UserID:    ev.UserID,
		Category:  sig.Category,
		FirstSeen: now,
		LastSeen:  now,
		Count:     1,
	}

	lastSeen, escalated, err := e.store.Touch(ctx, fp)
	if err != nil {
		return "", false, fmt.Errorf("touching fingerprint: %w", err)
	}

	if escalated {
		e.logger.Debug("escalated anomaly suppressed",
			"fingerprint", hash[:8],
			"user_id", ev.UserID)
		return hash, true, nil
	}

	if lastSeen != nil && now.Sub(*lastSeen) < e.window {
		e.logger.Debug("anomaly suppressed",
			"fingerprint", hash[:8],
			"user_id", ev.UserID,
			"last_seen", *lastSeen)
		return hash, true, nil
	}

	return hash, false, nil
}

// MarkEscalated records that the fingerprint's alert was promoted to an
// incident.
func (e *Engine) MarkEscalated(ctx context.Context, hash string) error {
	return e.store.MarkEscalated(ctx, hash)
}
