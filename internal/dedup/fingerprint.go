// Package dedup fingerprints anomaly occurrences and suppresses repeat
// alerting within a cool-down window.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/sentryhq/ueba/internal/features"
	"github.com/sentryhq/ueba/internal/models"
)

const (
	maxPathLen  = 100
	largeFileMB = 50.0
)

// Signature holds the semantically identifying fields of an anomaly
// occurrence. Field values are coarse buckets, never raw timestamps, so the
// same underlying behavior repeated minutes apart hashes identically.
type Signature struct {
	UserID   string  `json:"user_id"`
	Category string  `json:"category"`
	Key      keyPart `json:"key_features"`
	Shape    anomSig `json:"anomaly_signature"`
}

type keyPart struct {
	FilePath    string `json:"file_path,omitempty"`
	ProcessName string `json:"process_name,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
}

type anomSig struct {
	LargeFile       bool `json:"large_file"`
	Sensitive       bool `json:"sensitive"`
	External        bool `json:"external"`
	LargeAttachment bool `json:"large_attachment"`
	Suspicious      bool `json:"suspicious"`
	OffHours        bool `json:"off_hours"`
	GeoAnomaly      bool `json:"geo_anomaly"`
}

// SignatureFor builds the dedup signature for an activity event.
func SignatureFor(ev models.ActivityEvent) Signature {
	sig := Signature{
		UserID:   ev.UserID,
		Category: string(ev.ActivityType),
	}
	sig.Shape.OffHours = features.OffHours(float64(ev.Timestamp.Hour()))

	switch d := ev.Details.(type) {
	case models.LogonDetails:
		sig.Key.IPAddress = d.IPAddress
		sig.Key.DeviceID = d.DeviceID
		sig.Shape.GeoAnomaly = d.GeoAnomaly > 0
	case models.LogoffDetails:
		sig.Key.DeviceID = d.DeviceID
	case models.FileDetails:
		sig.Key.FilePath = truncate(d.Path, maxPathLen)
		sig.Key.ProcessName = d.ProcessName
		sig.Shape.Sensitive = d.Sensitive
		sig.Shape.LargeFile = d.SizeMB > largeFileMB
	case models.EmailDetails:
		sig.Key.Recipient = d.Recipient
		sig.Shape.External = d.External
		sig.Shape.LargeAttachment = d.AttachmentSizeMB > 10
		sig.Shape.Suspicious = d.SuspiciousKeywords > 0
	}

	return sig
}

// Hash returns the stable SHA-256 fingerprint of the signature. Struct
// field order fixes the canonical JSON layout.
func (s Signature) Hash() string {
	data, _ := json.Marshal(s)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
