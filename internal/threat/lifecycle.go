package threat

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sentryhq/ueba/internal/models"
)

// ListAlerts returns alerts newest first.
func (s *Service) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return s.store.ListAlerts(ctx, filter)
}

// MarkAlertsViewed marks the given alerts viewed. A nil id set means all
// currently unread. Re-marking an already-viewed alert is a no-op.
func (s *Service) MarkAlertsViewed(ctx context.Context, ids []int64) (int, error) {
	marked, err := s.store.MarkAlertsViewed(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("marking alerts viewed: %w", err)
	}

	s.logger.Info("alerts marked viewed", "marked", marked)
	return marked, nil
}

// EscalateAlert manually promotes an alert into an incident. Escalation is
// terminal for the alert; a second escalation fails.
func (s *Service) EscalateAlert(ctx context.Context, alertID int64, severity models.RiskLevel) (*models.Incident, error) {
	alert, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("getting alert: %w", err)
	}
	if alert == nil {
		return nil, &models.NotFoundError{Kind: "alert", ID: strconv.FormatInt(alertID, 10)}
	}
	if alert.Status == models.AlertEscalated {
		return nil, &models.ValidationError{Field: "status", Reason: "alert already escalated"}
	}

	if severity == "" {
		severity = alert.RiskLevel
	}
	if !severity.Valid() {
		return nil, &models.ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", severity)}
	}

	inc := &models.Incident{
		ID:          uuid.New(),
		AlertID:     &alert.ID,
		UserID:      alert.UserID,
		Severity:    severity,
		Status:      models.IncidentOpen,
		Description: fmt.Sprintf("Escalated from alert %d", alert.ID),
		Explanation: alert.Explanation,
		CreatedAt:   s.now(),
	}

	if err := s.store.CreateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("creating incident: %w", err)
	}
	if err := s.store.UpdateAlertStatus(ctx, alert.ID, models.AlertEscalated); err != nil {
		return nil, fmt.Errorf("marking alert escalated: %w", err)
	}

	if alert.Fingerprint != "" {
		if err := s.dedup.MarkEscalated(ctx, alert.Fingerprint); err != nil {
			s.logger.Error("marking fingerprint escalated failed", "error", err)
		}
	}

	s.logger.Info("alert escalated",
		"alert_id", alert.ID,
		"incident_id", inc.ID,
		"severity", severity)

	return inc, nil
}

// CreateIncident is the manual path. It bypasses the auto-escalation dedup
// rule; an analyst opening a case on purpose always succeeds.
func (s *Service) CreateIncident(ctx context.Context, userID string, severity models.RiskLevel, description, explanation string) (*models.Incident, error) {
	if strings.TrimSpace(description) == "" {
		return nil, &models.ValidationError{Field: "description", Reason: "required"}
	}
	if !severity.Valid() {
		return nil, &models.ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", severity)}
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if user == nil {
		return nil, &models.NotFoundError{Kind: "user", ID: userID}
	}

	inc := &models.Incident{
		ID:          uuid.New(),
		UserID:      userID,
		Severity:    severity,
		Status:      models.IncidentOpen,
		Description: description,
		Explanation: explanation,
		CreatedAt:   s.now(),
	}

	if err := s.store.CreateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("creating incident: %w", err)
	}

	s.logger.Info("incident created", "incident_id", inc.ID, "user_id", userID, "severity", severity)
	return inc, nil
}

// ListIncidents returns incidents newest first.
func (s *Service) ListIncidents(ctx context.Context, filter IncidentFilter) ([]models.Incident, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", filter.Status)}
	}
	return s.store.ListIncidents(ctx, filter)
}

// StartIncident moves an incident from open to in_progress. Transitions are
// forward only.
func (s *Service) StartIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	inc, err := s.getIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	if inc.Status != models.IncidentOpen {
		return nil, &models.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("cannot start incident in state %q", inc.Status),
		}
	}

	inc.Status = models.IncidentInProgress
	if err := s.store.UpdateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("updating incident: %w", err)
	}

	s.logger.Info("incident started", "incident_id", id)
	return inc, nil
}

// ResolveIncident closes an incident. Resolution requires non-empty notes
// and is terminal.
func (s *Service) ResolveIncident(ctx context.Context, id uuid.UUID, notes string) (*models.Incident, error) {
	if strings.TrimSpace(notes) == "" {
		return nil, &models.ValidationError{Field: "resolution_notes", Reason: "required to resolve an incident"}
	}

	inc, err := s.getIncident(ctx, id)
	if err != nil {
		return nil, err
	}

	if inc.Status == models.IncidentResolved {
		return nil, &models.ValidationError{Field: "status", Reason: "incident already resolved"}
	}

	now := s.now()
	inc.Status = models.IncidentResolved
	inc.ResolutionNotes = &notes
	inc.ResolvedAt = &now

	if err := s.store.UpdateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("updating incident: %w", err)
	}

	s.logger.Info("incident resolved", "incident_id", id)
	return inc, nil
}

// UpdateIncidentStatus applies a requested transition, enforcing the
// monotonic state machine. Resolution must go through ResolveIncident so
// notes are supplied.
func (s *Service) UpdateIncidentStatus(ctx context.Context, id uuid.UUID, status models.IncidentStatus) (*models.Incident, error) {
	switch status {
	case models.IncidentInProgress:
		return s.StartIncident(ctx, id)
	case models.IncidentResolved:
		return nil, &models.ValidationError{Field: "status", Reason: "resolving requires resolution notes; use the resolve operation"}
	case models.IncidentOpen:
		return nil, &models.ValidationError{Field: "status", Reason: "backward transition to open is not supported"}
	default:
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
}

func (s *Service) getIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	inc, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting incident: %w", err)
	}
	if inc == nil {
		return nil, &models.NotFoundError{Kind: "incident", ID: id.String()}
	}
	return inc, nil
}
