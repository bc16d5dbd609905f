package features

import (
	"math"
	"testing"
	"time"

	"github.com/sentryhq/ueba/internal/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestOffHours(t *testing.T) {
	tests := []struct {
		hour float64
		want bool
	}{
		{0, true},
		{5, true},
		{7, false},
		{9, false},
		{12, false},
		{18.9, false},
		{19, true},
		{22, true},
		{23, true},
	}

	for _, tt := range tests {
		if got := OffHours(tt.hour); got != tt.want {
			t.Errorf("OffHours(%v) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestExtract_EmptyWindow(t *testing.T) {
	v := Extract("Finance", nil)

	if v.RoleEncoded != 2 {
		t.Errorf("RoleEncoded = %v, want 2", v.RoleEncoded)
	}
	if v.OffHours != 0 {
		t.Errorf("OffHours = %v, want 0 for empty window", v.OffHours)
	}

	// Everything except the role must be zero.
	for i, val := range v.Slice()[1:] {
		if val != 0 {
			t.Errorf("feature %s = %v, want 0", Names[i+1], val)
		}
	}
}

func TestExtract_RoleEncoding(t *testing.T) {
	tests := []struct {
		role string
		want float64
	}{
		{"Developer", 0},
		{"HR", 1},
		{"Finance", 2},
		{"Manager", 3},
		{"Sales", 4},
		{"Contractor", 0},
		{"", 0},
	}

	for _, tt := range tests {
		v := Extract(tt.role, nil)
		if v.RoleEncoded != tt.want {
			t.Errorf("Extract(%q).RoleEncoded = %v, want %v", tt.role, v.RoleEncoded, tt.want)
		}
	}
}

func TestExtract_DefaultLogonHour(t *testing.T) {
	window := []models.ActivityEvent{
		{
			UserID:       "u1",
			Timestamp:    time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC),
			ActivityType: models.ActivityFileAccess,
			Details:      models.FileDetails{Path: "/tmp/a"},
		},
	}

	v := Extract("Developer", window)
	if v.LogonHour != 9.0 {
		t.Errorf("LogonHour = %v, want 9.0 when window has no logons", v.LogonHour)
	}
	if v.OffHours != 0 {
		t.Errorf("OffHours = %v, want 0 for default logon hour", v.OffHours)
	}
}

func TestExtract_Aggregates(t *testing.T) {
	day := func(hour int) time.Time {
		return time.Date(2026, 3, 4, hour, 0, 0, 0, time.UTC)
	}

	window := []models.ActivityEvent{
		{ActivityType: models.ActivityLogon, Timestamp: day(22),
			Details: models.LogonDetails{GeoAnomaly: 1, IPAddress: "203.0.113.9"}},
		{ActivityType: models.ActivityLogon, Timestamp: day(23),
			Details: models.LogonDetails{}},
		{ActivityType: models.ActivityLogoff, Timestamp: day(23),
			Details: models.LogoffDetails{}},
		{ActivityType: models.ActivityFileAccess, Timestamp: day(22),
			Details: models.FileDetails{Path: "/finance/a.xlsx", Sensitive: true, SizeMB: 100}},
		{ActivityType: models.ActivityFileAccess, Timestamp: day(22),
			Details: models.FileDetails{Path: "/finance/b.xlsx", Sensitive: true, SizeMB: 300}},
		{ActivityType: models.ActivityFileAccess, Timestamp: day(22),
			Details: models.FileDetails{Path: "/shared/c.docx", SizeMB: 200}},
		{ActivityType: models.ActivityEmail, Timestamp: day(22),
			Details: models.EmailDetails{Recipient: "x@example.org", External: true, AttachmentSizeMB: 15, SuspiciousKeywords: 2}},
		{ActivityType: models.ActivityEmail, Timestamp: day(22),
			Details: models.EmailDetails{Recipient: "team@corp", AttachmentSizeMB: 1}},
	}

	v := Extract("Sales", window)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"role_encoded", v.RoleEncoded, 4},
		{"logon_hour", v.LogonHour, 22.5},
		{"logon_count", v.LogonCount, 2},
		{"geo_anomaly", v.GeoAnomaly, 1},
		{"file_accesses", v.FileAccesses, 3},
		{"sensitive_file_access", v.SensitiveAccess, 2},
		{"file_download_size_mb", v.DownloadSizeMB, 600},
		{"emails_sent", v.EmailsSent, 2},
		{"external_emails", v.ExternalEmails, 1},
		{"large_attachments", v.LargeAttachments, 1},
		{"suspicious_keywords", v.SuspiciousKeywords, 2},
		{"off_hours", v.OffHours, 1},
		{"file_to_email_ratio", v.FileToEmailRatio, 1},
		{"external_email_ratio", v.ExternalEmailRatio, 1.0 / 3.0},
		{"sensitive_access_rate", v.SensitiveRate, 0.5},
		{"logon_count_ma7", v.LogonCountMA7, 2},
		{"file_accesses_ma7", v.FileAccessesMA7, 3},
		{"emails_ma7", v.EmailsMA7, 2},
	}

	for _, c := range checks {
		if !almostEqual(c.got, c.want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestVector_SliceOrder(t *testing.T) {
	v := Vector{RoleEncoded: 1, LogonHour: 2, EmailsMA7: 18}
	s := v.Slice()

	if len(s) != len(Names) {
		t.Fatalf("Slice length = %d, want %d", len(s), len(Names))
	}
	if s[0] != 1 || s[1] != 2 || s[len(s)-1] != 18 {
		t.Errorf("Slice order mismatch: got %v", s)
	}
}
