package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestActivityEventValidate(t *testing.T) {
	ts := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		ev      ActivityEvent
		wantErr bool
	}{
		{"valid logon", ActivityEvent{UserID: "u1", Timestamp: ts, ActivityType: ActivityLogon, Details: LogonDetails{}}, false},
		{"valid file access", ActivityEvent{UserID: "u1", Timestamp: ts, ActivityType: ActivityFileAccess, Details: FileDetails{Path: "/a"}}, false},
		{"logoff without details", ActivityEvent{UserID: "u1", Timestamp: ts, ActivityType: ActivityLogoff}, false},
		{"missing user", ActivityEvent{Timestamp: ts, ActivityType: ActivityLogon, Details: LogonDetails{}}, true},
		{"missing timestamp", ActivityEvent{UserID: "u1", ActivityType: ActivityLogon, Details: LogonDetails{}}, true},
		{"wrong details type", ActivityEvent{UserID: "u1", Timestamp: ts, ActivityType: ActivityEmail, Details: LogonDetails{}}, true},
		{"missing details", ActivityEvent{UserID: "u1", Timestamp: ts, ActivityType: ActivityFileAccess}, true},
		{"unknown type", ActivityEvent{UserID: "u1", Timestamp: ts, ActivityType: "keylogging", Details: LogonDetails{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.wantErr && !IsValidation(err) {
				t.Errorf("err = %v, want validation error", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestActivityEventJSONRoundTrip(t *testing.T) {
	ev := ActivityEvent{
		EventID:      uuid.New(),
		UserID:       "u1",
		Timestamp:    time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		ActivityType: ActivityEmail,
		Details:      EmailDetails{Recipient: "x@example.org", External: true, AttachmentSizeMB: 15, SuspiciousKeywords: 2},
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got ActivityEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	details, ok := got.Details.(EmailDetails)
	if !ok {
		t.Fatalf("details type = %T, want EmailDetails value", got.Details)
	}
	if !details.External || details.SuspiciousKeywords != 2 {
		t.Errorf("details = %+v, round trip lost fields", details)
	}
	if got.EventID != ev.EventID || got.ActivityType != ev.ActivityType {
		t.Errorf("envelope fields lost: %+v", got)
	}
}

func TestRiskLevelAtLeast(t *testing.T) {
	if !RiskCritical.AtLeast(RiskHigh) {
		t.Error("critical should be at least high")
	}
	if !RiskHigh.AtLeast(RiskHigh) {
		t.Error("high should be at least high")
	}
	if RiskMedium.AtLeast(RiskHigh) {
		t.Error("medium should not be at least high")
	}
	if RiskLevel("bogus").AtLeast(RiskLow) {
		t.Error("unknown level should never rank")
	}
}

func TestEncodeRole(t *testing.T) {
	if got := EncodeRole("Finance"); got != 2 {
		t.Errorf("EncodeRole(Finance) = %d, want 2", got)
	}
	if got := EncodeRole("Contractor"); got != 0 {
		t.Errorf("EncodeRole(Contractor) = %d, want 0", got)
	}
}
