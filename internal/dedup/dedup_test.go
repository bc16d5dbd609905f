package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sentryhq/ueba/internal/models"
)

func fileEvent(userID, path string, ts time.Time) models.ActivityEvent {
	return models.ActivityEvent{
		UserID:       userID,
		Timestamp:    ts,
		ActivityType: models.ActivityFileAccess,
		Details:      models.FileDetails{Path: path, Sensitive: true, SizeMB: 120},
	}
}

func TestSignature_StableAcrossTime(t *testing.T) {
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	a := SignatureFor(fileEvent("u1", "/finance/a.xlsx", base))
	b := SignatureFor(fileEvent("u1", "/finance/a.xlsx", base.Add(45*time.Minute)))

	if a.Hash() != b.Hash() {
		t.Error("same behavior minutes apart produced different fingerprints")
	}
}

func TestSignature_Distinguishes(t *testing.T) {
	ts := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	base := SignatureFor(fileEvent("u1", "/finance/a.xlsx", ts)).Hash()

	tests := []struct {
		name string
		ev   models.ActivityEvent
	}{
		{"different user", fileEvent("u2", "/finance/a.xlsx", ts)},
		{"different path", fileEvent("u1", "/finance/b.xlsx", ts)},
		{"off-hours shift", fileEvent("u1", "/finance/a.xlsx", time.Date(2026, 3, 4, 22, 0, 0, 0, time.UTC))},
		{"different type", models.ActivityEvent{
			UserID:       "u1",
			Timestamp:    ts,
			ActivityType: models.ActivityLogon,
			Details:      models.LogonDetails{IPAddress: "10.0.0.1"},
		}},
	}

	for _, tt := range tests {
		if SignatureFor(tt.ev).Hash() == base {
			t.Errorf("%s: fingerprint collision", tt.name)
		}
	}
}

func TestSignature_PathTruncated(t *testing.T) {
	ts := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	prefix := string(long[:maxPathLen])

	a := SignatureFor(fileEvent("u1", string(long), ts))
	b := SignatureFor(fileEvent("u1", prefix+"different-tail", ts))

	if a.Hash() != b.Hash() {
		t.Error("paths sharing the first 100 bytes should fingerprint identically")
	}
}

func TestEngine_SuppressionWindow(t *testing.T) {
	store := NewMemoryStore()
	engine := New(store, time.Hour, nil)

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	ev := fileEvent("u1", "/finance/a.xlsx", now)
	ctx := context.Background()

	hash, suppressed, err := engine.Check(ctx, ev)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if suppressed {
		t.Error("first occurrence suppressed")
	}
	if hash == "" {
		t.Error("empty hash")
	}

	now = now.Add(30 * time.Minute)
	_, suppressed, err = engine.Check(ctx, ev)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !suppressed {
		t.Error("repeat within window not suppressed")
	}

	now = now.Add(2 * time.Hour)
	_, suppressed, err = engine.Check(ctx, ev)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if suppressed {
		t.Error("occurrence after window expiry suppressed")
	}

	fp, ok := store.Get(hash)
	if !ok {
		t.Fatal("fingerprint not recorded")
	}
	if fp.Count != 3 {
		t.Errorf("Count = %d, want 3", fp.Count)
	}
}

func TestEngine_ConcurrentSameEvent(t *testing.T) {
	engine := New(NewMemoryStore(), time.Hour, nil)
	ev := fileEvent("u1", "/finance/a.xlsx", time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC))

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, suppressed, err := engine.Check(context.Background(), ev)
			if err != nil {
				t.Errorf("Check failed: %v", err)
				return
			}
			results <- suppressed
		}()
	}
	wg.Wait()
	close(results)

	var passed int
	for suppressed := range results {
		if !suppressed {
			passed++
		}
	}
	if passed != 1 {
		t.Errorf("%d concurrent checks passed the gate, want exactly 1", passed)
	}
}

func TestEngine_MarkEscalated(t *testing.T) {
	store := NewMemoryStore()
	engine := New(store, time.Hour, nil)
	ev := fileEvent("u1", "/finance/a.xlsx", time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC))

	hash, _, err := engine.Check(context.Background(), ev)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	if err := engine.MarkEscalated(context.Background(), hash); err != nil {
		t.Fatalf("MarkEscalated failed: %v", err)
	}

	fp, ok := store.Get(hash)
	if !ok || !fp.Escalated {
		t.Error("fingerprint not marked escalated")
	}
}

func TestEngine_EscalatedOutlastsWindow(t *testing.T) {
	store := NewMemoryStore()
	engine := New(store, time.Hour, nil)

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	ev := fileEvent("u1", "/finance/a.xlsx", now)
	ctx := context.Background()

	hash, _, err := engine.Check(ctx, ev)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if err := engine.MarkEscalated(ctx, hash); err != nil {
		t.Fatalf("MarkEscalated failed: %v", err)
	}

	// An escalated behavior already has an incident; repeats stay
	// suppressed even after the suppression window has long expired.
	now = now.Add(48 * time.Hour)
	_, suppressed, err := engine.Check(ctx, ev)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !suppressed {
		t.Error("escalated fingerprint re-alerted after window expiry")
	}
}
