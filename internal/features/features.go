// Package features converts a user's recent activity window into the
// fixed-schema numeric vector consumed by the scoring ensemble.
package features

import (
	"github.com/sentryhq/ueba/internal/models"
)

// SchemaVersion identifies the feature layout. Any change to feature count
// or order invalidates the frozen models, so the extractor and scorer must
// agree on this version.
const SchemaVersion = 1

// Names lists every feature in schema order.
var Names = []string{
	"role_encoded", "logon_hour", "logon_count", "geo_anomaly",
	"file_accesses", "sensitive_file_access", "file_download_size_mb",
	"emails_sent", "external_emails", "large_attachments", "suspicious_keywords",
	"off_hours", "file_to_email_ratio", "external_email_ratio", "sensitive_access_rate",
	"logon_count_ma7", "file_accesses_ma7", "emails_ma7",
}

const (
	// Working hours are 7:00-18:59. Hour >= 19 or < 7 is off-hours,
	// applied uniformly everywhere hour-of-day is checked.
	workStartHour = 7
	workEndHour   = 19

	// defaultLogonHour stands in for the mean when the window contains
	// activity but no logons.
	defaultLogonHour = 9.0

	largeAttachmentMB = 10.0
)

// Vector holds one value per schema feature. Every field is always set;
// missing data defaults to zero, never null.
type Vector struct {
	RoleEncoded        float64
	LogonHour          float64
	LogonCount         float64
	GeoAnomaly         float64
	FileAccesses       float64
	SensitiveAccess    float64
	DownloadSizeMB     float64
	EmailsSent         float64
	ExternalEmails     float64
	LargeAttachments   float64
	SuspiciousKeywords float64
	OffHours           float64
	FileToEmailRatio   float64
	ExternalEmailRatio float64
	SensitiveRate      float64
	LogonCountMA7      float64
	FileAccessesMA7    float64
	EmailsMA7          float64
}

// Slice returns the vector values in schema order.
func (v Vector) Slice() []float64 {
	return []float64{
		v.RoleEncoded, v.LogonHour, v.LogonCount, v.GeoAnomaly,
		v.FileAccesses, v.SensitiveAccess, v.DownloadSizeMB,
		v.EmailsSent, v.ExternalEmails, v.LargeAttachments, v.SuspiciousKeywords,
		v.OffHours, v.FileToEmailRatio, v.ExternalEmailRatio, v.SensitiveRate,
		v.LogonCountMA7, v.FileAccessesMA7, v.EmailsMA7,
	}
}

// OffHours reports whether an hour of day falls outside working hours.
func OffHours(hour float64) bool {
	return hour < workStartHour || hour >= workEndHour
}

// Extract aggregates a user's activity window into a Vector. An empty
// window yields all-zero base features with off_hours unset, a designed
// default so the absence of data never itself reads as an anomaly.
func Extract(userRole string, window []models.ActivityEvent) Vector {
	var v Vector
	v.RoleEncoded = float64(models.EncodeRole(userRole))

	if len(window) == 0 {
		return v
	}

	var (
		logonHourSum float64
		logonCount   int
	)

	for _, ev := range window {
		switch ev.ActivityType {
		case models.ActivityLogon:
			logonCount++
			logonHourSum += float64(ev.Timestamp.Hour())
			if d, ok := ev.Details.(models.LogonDetails); ok {
				v.GeoAnomaly += float64(d.GeoAnomaly)
			}
		case models.ActivityFileAccess:
			v.FileAccesses++
			if d, ok := ev.Details.(models.FileDetails); ok {
				if d.Sensitive {
					v.SensitiveAccess++
				}
				v.DownloadSizeMB += d.SizeMB
			}
		case models.ActivityEmail:
			v.EmailsSent++
			if d, ok := ev.Details.(models.EmailDetails); ok {
				if d.External {
					v.ExternalEmails++
				}
				if d.AttachmentSizeMB > largeAttachmentMB {
					v.LargeAttachments++
				}
				v.SuspiciousKeywords += float64(d.SuspiciousKeywords)
			}
		}
	}

	v.LogonCount = float64(logonCount)
	if logonCount > 0 {
		v.LogonHour = logonHourSum / float64(logonCount)
	} else {
		v.LogonHour = defaultLogonHour
	}

	if OffHours(v.LogonHour) {
		v.OffHours = 1
	}

	// Denominators carry +1 so the ratios are defined for empty partitions.
	v.FileToEmailRatio = v.FileAccesses / (v.EmailsSent + 1)
	v.ExternalEmailRatio = v.ExternalEmails / (v.EmailsSent + 1)
	v.SensitiveRate = v.SensitiveAccess / (v.FileAccesses + 1)

	// Trailing averages collapse to the window counts; the window itself
	// already spans the trailing days.
	v.LogonCountMA7 = v.LogonCount
	v.FileAccessesMA7 = v.FileAccesses
	v.EmailsMA7 = v.EmailsSent

	return v
}
