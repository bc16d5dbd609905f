// Package threat runs the scoring pipeline and manages the alert/incident
// lifecycle.
package threat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentryhq/ueba/internal/dedup"
	"github.com/sentryhq/ueba/internal/features"
	"github.com/sentryhq/ueba/internal/models"
	"github.com/sentryhq/ueba/internal/scoring"
)

// AlertFilter narrows ListAlerts. Zero values mean no constraint.
type AlertFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
}

// IncidentFilter narrows ListIncidents.
type IncidentFilter struct {
	Status models.IncidentStatus
	Limit  int
}

// Store defines the persistence interface for the pipeline and lifecycle
// manager.
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	InsertActivity(ctx context.Context, ev *models.ActivityEvent) error
	ListActivities(ctx context.Context, userID string, since time.Time, limit int) ([]models.ActivityEvent, error)
	CountActivities(ctx context.Context, userID string, from, to time.Time) (int, error)

	// CreateAlert must be idempotent on the triggering event: a second
	// insert for the same event id reports created=false.
	CreateAlert(ctx context.Context, alert *models.Alert) (created bool, err error)
	GetAlert(ctx context.Context, id int64) (*models.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error)
	MarkAlertsViewed(ctx context.Context, ids []int64) (int, error)
	UpdateAlertStatus(ctx context.Context, id int64, status models.AlertStatus) error
	CountAlerts(ctx context.Context, userID string, from, to time.Time) (int, error)

	CreateIncident(ctx context.Context, inc *models.Incident) error
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]models.Incident, error)
	UpdateIncident(ctx context.Context, inc *models.Incident) error
	// LatestActiveIncident returns the newest open or in_progress
	// incident for the user created at or after the cutoff.
	LatestActiveIncident(ctx context.Context, userID string, since time.Time) (*models.Incident, error)

	UpsertSnapshot(ctx context.Context, snap *models.HistoricalScoreSnapshot) error
	ListSnapshots(ctx context.Context, userID string, days int) ([]models.HistoricalScoreSnapshot, error)

	Summary(ctx context.Context) (*models.DashboardSummary, error)
}

// Notifier receives new alerts and incidents. Delivery failures are logged,
// never propagated into the pipeline.
type Notifier interface {
	AlertCreated(ctx context.Context, alert *models.Alert) error
	IncidentCreated(ctx context.Context, inc *models.Incident, origin *models.Alert) error
}

// Config carries the pipeline thresholds. Zero values take the design
// defaults.
type Config struct {
	// ScoringWindow is the trailing window scored on each ingest.
	ScoringWindow time.Duration
	// AlertMinConfidence is the ensemble confidence floor for the
	// anomaly-driven entry condition.
	AlertMinConfidence float64
	// AlertMinITS fires an alert on score alone.
	AlertMinITS float64
	// EscalateMinITS is the score floor for auto-escalation of
	// high/critical alerts.
	EscalateMinITS float64
	// IncidentDedupWindow suppresses a second auto-incident for a user
	// with one already active.
	IncidentDedupWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.ScoringWindow <= 0 {
		c.ScoringWindow = 7 * 24 * time.Hour
	}
	if c.AlertMinConfidence <= 0 {
		c.AlertMinConfidence = 0.30
	}
	if c.AlertMinITS <= 0 {
		c.AlertMinITS = 40
	}
	if c.EscalateMinITS <= 0 {
		c.EscalateMinITS = 60
	}
	if c.IncidentDedupWindow <= 0 {
		c.IncidentDedupWindow = time.Hour
	}
}

// Service is the threat-scoring and alerting engine.
type Service struct {
	store    Store
	dedup    *dedup.Engine
	scorer   *scoring.Scorer
	notifier Notifier
	cfg      Config
	logger   *slog.Logger

	locks userLocks
	now   func() time.Time
}

type ServiceOption func(*Service)

func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(store Store, dedupEngine *dedup.Engine, scorer *scoring.Scorer, cfg Config, opts ...ServiceOption) *Service {
	cfg.applyDefaults()

	s := &Service{
		store:  store,
		dedup:  dedupEngine,
		scorer: scorer,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// userLocks serializes scoring passes per user so events arriving in order
// are scored in order. Different users proceed in parallel.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *userLocks) acquire(userID string) *sync.Mutex {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := l.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[userID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock
}

// SubmitActivity ingests one event and runs the scoring pipeline for its
// user synchronously: store, extract, score, classify, alert. The dedup
// gate runs only once firing conditions hold, so suppression state is
// armed by alerting behavior, never by benign events.
func (s *Service) SubmitActivity(ctx context.Context, ev *models.ActivityEvent) (*models.IngestResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, ev.UserID)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if user == nil {
		return nil, &models.NotFoundError{Kind: "user", ID: ev.UserID}
	}

	if ev.EventID == uuid.Nil {
		ev.EventID = uuid.New()
	}

	lock := s.locks.acquire(ev.UserID)
	defer lock.Unlock()

	if err := s.store.InsertActivity(ctx, ev); err != nil {
		return nil, fmt.Errorf("storing activity: %w", err)
	}

	result, err := s.scoreUser(ctx, user)
	if err != nil {
		return nil, err
	}

	s.saveSnapshot(ctx, user.UserID, result)

	if !s.shouldAlert(result) {
		return &models.IngestResult{Status: models.IngestLogged, ITSScore: result.ITSScore}, nil
	}

	hash, suppressed, err := s.dedup.Check(ctx, *ev)
	if err != nil {
		return nil, fmt.Errorf("checking fingerprint: %w", err)
	}
	if suppressed {
		s.logger.Info("duplicate anomaly suppressed",
			"user_id", ev.UserID,
			"fingerprint", hash[:8])
		return &models.IngestResult{Status: models.IngestSuppressed, ITSScore: result.ITSScore}, nil
	}

	alert := &models.Alert{
		EventID:     ev.EventID,
		UserID:      ev.UserID,
		Timestamp:   s.now(),
		ITSScore:    result.ITSScore,
		RiskLevel:   result.RiskLevel,
		Anomalies:   result.Anomalies,
		Explanation: result.Explanation,
		Status:      models.AlertOpen,
		Fingerprint: hash,
	}

	created, err := s.store.CreateAlert(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("creating alert: %w", err)
	}
	if !created {
		// A concurrent retry for the same event already fired.
		return &models.IngestResult{Status: models.IngestSuppressed, ITSScore: result.ITSScore}, nil
	}

	s.logger.Info("alert generated",
		"alert_id", alert.ID,
		"user_id", ev.UserID,
		"its_score", result.ITSScore,
		"risk_level", result.RiskLevel)

	if s.notifier != nil {
		if err := s.notifier.AlertCreated(ctx, alert); err != nil {
			s.logger.Error("alert notification failed", "alert_id", alert.ID, "error", err)
		}
	}

	if err := s.maybeAutoEscalate(ctx, alert, hash); err != nil {
		s.logger.Error("auto-escalation failed", "alert_id", alert.ID, "error", err)
	}

	return &models.IngestResult{
		Status:   models.IngestAlertGenerated,
		ITSScore: result.ITSScore,
		Alert:    alert,
	}, nil
}

// shouldAlert applies the alert entry condition. Any one clause suffices;
// the wide trigger surface favors recall, with precision recovered by dedup
// suppression and human review.
func (s *Service) shouldAlert(result models.ScoreResult) bool {
	isAnomaly := len(result.Anomalies) > 0
	confidence := scoring.Confidence(result.ITSScore)

	if isAnomaly && confidence >= s.cfg.AlertMinConfidence {
		return true
	}
	if result.ITSScore >= s.cfg.AlertMinITS {
		return true
	}
	return result.RiskLevel.AtLeast(models.RiskHigh)
}

// maybeAutoEscalate promotes a high-scoring alert into an incident unless
// the user already has an active incident within the dedup window.
func (s *Service) maybeAutoEscalate(ctx context.Context, alert *models.Alert, hash string) error {
	if !alert.RiskLevel.AtLeast(models.RiskHigh) || alert.ITSScore < s.cfg.EscalateMinITS {
		return nil
	}

	cutoff := s.now().Add(-s.cfg.IncidentDedupWindow)
	active, err := s.store.LatestActiveIncident(ctx, alert.UserID, cutoff)
	if err != nil {
		return fmt.Errorf("checking active incidents: %w", err)
	}
	if active != nil {
		s.logger.Info("auto-escalation skipped, incident already active",
			"alert_id", alert.ID,
			"incident_id", active.ID)
		return nil
	}

	inc := &models.Incident{
		ID:          uuid.New(),
		AlertID:     &alert.ID,
		UserID:      alert.UserID,
		Severity:    alert.RiskLevel,
		Status:      models.IncidentOpen,
		Description: fmt.Sprintf("Auto-escalated from alert %d", alert.ID),
		Explanation: alert.Explanation,
		CreatedAt:   s.now(),
	}

	if err := s.store.CreateIncident(ctx, inc); err != nil {
		return fmt.Errorf("creating incident: %w", err)
	}
	if err := s.store.UpdateAlertStatus(ctx, alert.ID, models.AlertEscalated); err != nil {
		return fmt.Errorf("marking alert escalated: %w", err)
	}
	alert.Status = models.AlertEscalated

	if err := s.dedup.MarkEscalated(ctx, hash); err != nil {
		s.logger.Error("marking fingerprint escalated failed", "fingerprint", hash[:8], "error", err)
	}

	s.logger.Info("alert auto-escalated",
		"alert_id", alert.ID,
		"incident_id", inc.ID,
		"severity", inc.Severity)

	if s.notifier != nil {
		if err := s.notifier.IncidentCreated(ctx, inc, alert); err != nil {
			s.logger.Error("incident notification failed", "incident_id", inc.ID, "error", err)
		}
	}

	return nil
}

// GetScore recomputes the user's score over the trailing window.
func (s *Service) GetScore(ctx context.Context, userID string) (*models.ScoreResult, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if user == nil {
		return nil, &models.NotFoundError{Kind: "user", ID: userID}
	}

	result, err := s.scoreUser(ctx, user)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) scoreUser(ctx context.Context, user *models.User) (models.ScoreResult, error) {
	since := s.now().Add(-s.cfg.ScoringWindow)
	window, err := s.store.ListActivities(ctx, user.UserID, since, 0)
	if err != nil {
		return models.ScoreResult{}, fmt.Errorf("loading activity window: %w", err)
	}

	vec := features.Extract(user.Role, window)
	result, err := s.scorer.Score(vec, len(window))
	if err != nil {
		return models.ScoreResult{}, err
	}
	return result, nil
}

// RegisterUser adds a user to the monitored population. Registering an
// existing user id updates the profile.
func (s *Service) RegisterUser(ctx context.Context, user *models.User) error {
	if user.UserID == "" {
		return &models.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if user.Role == "" {
		return &models.ValidationError{Field: "role", Reason: "must not be empty"}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// ListUsers returns all monitored users.
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.store.ListUsers(ctx)
}

// Summary returns the fleet-wide dashboard aggregates.
func (s *Service) Summary(ctx context.Context) (*models.DashboardSummary, error) {
	return s.store.Summary(ctx)
}
