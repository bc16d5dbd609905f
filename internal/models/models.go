package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ActivityType string

const (
	ActivityLogon      ActivityType = "logon"
	ActivityLogoff     ActivityType = "logoff"
	ActivityFileAccess ActivityType = "file_access"
	ActivityEmail      ActivityType = "email"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = map[RiskLevel]int{
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// AtLeast reports whether l is equal to or above min in severity.
func (l RiskLevel) AtLeast(min RiskLevel) bool {
	return riskOrder[l] >= riskOrder[min]
}

func (l RiskLevel) Valid() bool {
	_, ok := riskOrder[l]
	return ok
}

// roleCodes is the fixed role encoding consumed by the feature schema.
// Unknown roles encode as 0.
var roleCodes = map[string]int{
	"Developer": 0,
	"HR":        1,
	"Finance":   2,
	"Manager":   3,
	"Sales":     4,
}

func EncodeRole(role string) int {
	return roleCodes[role]
}

type User struct {
	UserID     string    `json:"user_id" db:"user_id"`
	Name       string    `json:"name" db:"name"`
	Role       string    `json:"role" db:"role"`
	Department string    `json:"department" db:"department"`
	Email      string    `json:"email" db:"email"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// EventDetails is the per-type payload of an ActivityEvent. Exactly one
// concrete type is valid for each ActivityType.
type EventDetails interface {
	isEventDetails()
}

type LogonDetails struct {
	GeoAnomaly int    `json:"geo_anomaly"`
	IPAddress  string `json:"ip_address,omitempty"`
	Location   string `json:"location,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
}

type LogoffDetails struct {
	DeviceID string `json:"device_id,omitempty"`
}

type FileDetails struct {
	Path        string  `json:"file_path"`
	Sensitive   bool    `json:"sensitive"`
	SizeMB      float64 `json:"size_mb"`
	ProcessName string  `json:"process_name,omitempty"`
}

type EmailDetails struct {
	Recipient          string  `json:"recipient,omitempty"`
	External           bool    `json:"external"`
	AttachmentSizeMB   float64 `json:"attachment_size_mb"`
	SuspiciousKeywords int     `json:"suspicious_keywords"`
}

func (LogonDetails) isEventDetails()  {}
func (LogoffDetails) isEventDetails() {}
func (FileDetails) isEventDetails()   {}
func (EmailDetails) isEventDetails()  {}

// ActivityEvent is one raw telemetry record. Immutable once stored.
type ActivityEvent struct {
	ID           int64        `json:"id"`
	EventID      uuid.UUID    `json:"event_id"`
	UserID       string       `json:"user_id"`
	Timestamp    time.Time    `json:"timestamp"`
	ActivityType ActivityType `json:"activity_type"`
	Details      EventDetails `json:"details"`
}

// activityEventJSON is the wire form; Details is decoded according to
// activity_type.
type activityEventJSON struct {
	ID           int64           `json:"id,omitempty"`
	EventID      uuid.UUID       `json:"event_id,omitempty"`
	UserID       string          `json:"user_id"`
	Timestamp    time.Time       `json:"timestamp"`
	ActivityType ActivityType    `json:"activity_type"`
	Details      json.RawMessage `json:"details"`
}

func (e ActivityEvent) MarshalJSON() ([]byte, error) {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return nil, err
	}
	return json.Marshal(activityEventJSON{
		ID:           e.ID,
		EventID:      e.EventID,
		UserID:       e.UserID,
		Timestamp:    e.Timestamp,
		ActivityType: e.ActivityType,
		Details:      details,
	})
}

func (e *ActivityEvent) UnmarshalJSON(data []byte) error {
	var raw activityEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.ID = raw.ID
	e.EventID = raw.EventID
	e.UserID = raw.UserID
	e.Timestamp = raw.Timestamp
	e.ActivityType = raw.ActivityType
	e.Details = nil

	if len(raw.Details) == 0 || string(raw.Details) == "null" {
		return nil
	}

	details, err := DecodeDetails(raw.ActivityType, raw.Details)
	if err != nil {
		return err
	}
	e.Details = details
	return nil
}

// DecodeDetails decodes a raw details payload into the concrete type for
// the given activity type.
func DecodeDetails(t ActivityType, raw json.RawMessage) (EventDetails, error) {
	switch t {
	case ActivityLogon:
		var d LogonDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decoding logon details: %w", err)
		}
		return d, nil
	case ActivityLogoff:
		var d LogoffDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decoding logoff details: %w", err)
		}
		return d, nil
	case ActivityFileAccess:
		var d FileDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decoding file details: %w", err)
		}
		return d, nil
	case ActivityEmail:
		var d EmailDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decoding email details: %w", err)
		}
		return d, nil
	default:
		return nil, &ValidationError{Field: "activity_type", Reason: fmt.Sprintf("unknown activity type %q", t)}
	}
}

// Validate checks that the event is well formed and that its details match
// its activity type.
func (e *ActivityEvent) Validate() error {
	if e.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "required"}
	}

	switch e.ActivityType {
	case ActivityLogon:
		if _, ok := e.Details.(LogonDetails); !ok {
			return &ValidationError{Field: "details", Reason: "logon event requires logon details"}
		}
	case ActivityLogoff:
		if e.Details != nil {
			if _, ok := e.Details.(LogoffDetails); !ok {
				return &ValidationError{Field: "details", Reason: "logoff event requires logoff details"}
			}
		}
	case ActivityFileAccess:
		if _, ok := e.Details.(FileDetails); !ok {
			return &ValidationError{Field: "details", Reason: "file_access event requires file details"}
		}
	case ActivityEmail:
		if _, ok := e.Details.(EmailDetails); !ok {
			return &ValidationError{Field: "details", Reason: "email event requires email details"}
		}
	default:
		return &ValidationError{Field: "activity_type", Reason: fmt.Sprintf("unknown activity type %q", e.ActivityType)}
	}
	return nil
}

// ScoreResult is the outcome of one scoring pass. Computed fresh per call,
// never cached implicitly.
type ScoreResult struct {
	ITSScore    float64   `json:"its_score"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Anomalies   []string  `json:"anomalies"`
	Explanation string    `json:"explanation"`
}

type AlertStatus string

const (
	AlertOpen       AlertStatus = "open"
	AlertSuppressed AlertStatus = "suppressed"
	AlertEscalated  AlertStatus = "escalated"
)

// Alert is an append-only record created when firing conditions hold.
// Mutated only via mark-viewed and escalate; never deleted.
type Alert struct {
	ID          int64       `json:"id" db:"id"`
	EventID     uuid.UUID   `json:"event_id" db:"event_id"`
	UserID      string      `json:"user_id" db:"user_id"`
	Timestamp   time.Time   `json:"timestamp" db:"timestamp"`
	ITSScore    float64     `json:"its_score" db:"its_score"`
	RiskLevel   RiskLevel   `json:"risk_level" db:"risk_level"`
	Anomalies   []string    `json:"anomalies" db:"-"`
	Explanation string      `json:"explanation" db:"explanation"`
	Status      AlertStatus `json:"status" db:"status"`
	IsViewed    bool        `json:"is_viewed" db:"is_viewed"`
	ViewedAt    *time.Time  `json:"viewed_at,omitempty" db:"viewed_at"`
	Fingerprint string      `json:"fingerprint" db:"fingerprint"`
}

type IncidentStatus string

const (
	IncidentOpen       IncidentStatus = "open"
	IncidentInProgress IncidentStatus = "in_progress"
	IncidentResolved   IncidentStatus = "resolved"
)

func (s IncidentStatus) Valid() bool {
	switch s {
	case IncidentOpen, IncidentInProgress, IncidentResolved:
		return true
	}
	return false
}

// Incident tracks a case requiring human resolution. Severity is inherited
// from the originating alert at creation time and never recomputed.
type Incident struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	AlertID         *int64         `json:"alert_id,omitempty" db:"alert_id"`
	UserID          string         `json:"user_id" db:"user_id"`
	Severity        RiskLevel      `json:"severity" db:"severity"`
	Status          IncidentStatus `json:"status" db:"status"`
	Description     string         `json:"description" db:"description"`
	Explanation     string         `json:"explanation" db:"explanation"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	ResolutionNotes *string        `json:"resolution_notes,omitempty" db:"resolution_notes"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
}

// AnomalyFingerprint gates re-alerting for repeated behavior.
type AnomalyFingerprint struct {
	Hash      string    `json:"fingerprint_hash" db:"fingerprint_hash"`
	UserID    string    `json:"user_id" db:"user_id"`
	Category  string    `json:"anomaly_category" db:"anomaly_category"`
	FirstSeen time.Time `json:"first_seen" db:"first_seen"`
	LastSeen  time.Time `json:"last_seen" db:"last_seen"`
	Count     int       `json:"count" db:"count"`
	Escalated bool      `json:"escalated" db:"escalated"`
}

// HistoricalScoreSnapshot is one per (user, calendar day); last write for a
// day wins.
type HistoricalScoreSnapshot struct {
	UserID        string    `json:"user_id" db:"user_id"`
	Date          time.Time `json:"date" db:"date"`
	ITSScore      float64   `json:"its_score" db:"its_score"`
	RiskLevel     RiskLevel `json:"risk_level" db:"risk_level"`
	AlertCount    int       `json:"alert_count" db:"alert_count"`
	ActivityCount int       `json:"activity_count" db:"activity_count"`
}

type IngestStatus string

const (
	IngestLogged         IngestStatus = "logged"
	IngestSuppressed     IngestStatus = "suppressed"
	IngestAlertGenerated IngestStatus = "alert_generated"
)

// IngestResult is returned to the transport layer after a scoring pass.
type IngestResult struct {
	Status   IngestStatus `json:"status"`
	ITSScore float64      `json:"its_score,omitempty"`
	Alert    *Alert       `json:"alert,omitempty"`
}

// DashboardSummary aggregates fleet-wide state for the overview endpoint.
type DashboardSummary struct {
	TotalUsers    int               `json:"total_users"`
	AvgITSScore   float64           `json:"avg_its_score"`
	HighRiskUsers int               `json:"high_risk_users"`
	OpenAlerts    int               `json:"open_alerts"`
	UnreadAlerts  int               `json:"unread_alerts"`
	OpenIncidents int               `json:"open_incidents"`
	RecentAlerts  []Alert           `json:"recent_alerts"`
	AlertsByRisk  map[RiskLevel]int `json:"alerts_by_risk"`
}
