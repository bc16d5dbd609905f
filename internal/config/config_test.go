package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentryhq/ueba/internal/models"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("no-such-file.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Scoring.Window != 7*24*time.Hour {
		t.Errorf("Scoring.Window = %v, want 168h", cfg.Scoring.Window)
	}
	if cfg.Scoring.AlertMinConfidence != 0.30 {
		t.Errorf("AlertMinConfidence = %v, want 0.30", cfg.Scoring.AlertMinConfidence)
	}
	if cfg.Dedup.Backend != "memory" {
		t.Errorf("Dedup.Backend = %q, want memory", cfg.Dedup.Backend)
	}
	if cfg.Dedup.Window != 24*time.Hour {
		t.Errorf("Dedup.Window = %v, want 24h", cfg.Dedup.Window)
	}
	if cfg.Notifications.MinSeverity != models.RiskHigh {
		t.Errorf("MinSeverity = %v, want high", cfg.Notifications.MinSeverity)
	}
}

func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("UEBA_TEST_DB_PASSWORD", "s3cret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: 9090
database:
  host: db.internal
  password: ${UEBA_TEST_DB_PASSWORD}
  database: ueba
dedup:
  backend: redis
scoring:
  alert_min_its: 55
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Password != "s3cret" {
		t.Errorf("Password = %q, env expansion failed", cfg.Database.Password)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want defaulted 5432", cfg.Database.Port)
	}
	if cfg.Dedup.Backend != "redis" {
		t.Errorf("Dedup.Backend = %q, want redis", cfg.Dedup.Backend)
	}
	if cfg.Scoring.AlertMinITS != 55 {
		t.Errorf("AlertMinITS = %v, want 55", cfg.Scoring.AlertMinITS)
	}
	// Untouched sections still pick up defaults.
	if cfg.Scoring.EscalateMinITS != 60 {
		t.Errorf("EscalateMinITS = %v, want 60", cfg.Scoring.EscalateMinITS)
	}

	want := "host=db.internal port=5432 user= password=s3cret dbname=ueba sslmode=disable"
	if got := cfg.Database.DSN(); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
