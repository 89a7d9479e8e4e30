package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != defaultListen || cfg.MinGranularityMinutes != 15 || cfg.MaxOccurrencesPerEvent != 5000 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %o", perm)
	}
}

func TestLoad_NormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("timezone: Asia/Seoul\nweek_start: Sunday\nfeeds:\n  - id: team\n    url: https://example.com/team.ics\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WeekStart != "sunday" || cfg.FirstWeekday() != time.Sunday {
		t.Fatalf("week start not normalized: %q", cfg.WeekStart)
	}
	if len(cfg.Feeds) != 1 || cfg.Feeds[0].ID != "team" {
		t.Fatalf("feeds not loaded: %+v", cfg.Feeds)
	}
	if cfg.FeedRefresh != defaultFeedRefresh || cfg.OrgID != defaultOrgID {
		t.Fatalf("defaults not filled: %+v", cfg)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Asia/Seoul" {
		t.Fatalf("Location: %v %v", loc, err)
	}
}

func TestLoad_EnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: 0.0.0.0:9000\norg_id: file-org\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CALMERGE_ORG_ID", "env-org")
	t.Setenv("CALMERGE_DATABASE", ":memory:")
	t.Setenv("CALMERGE_MIN_GRANULARITY_MINUTES", "30")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OrgID != "env-org" || cfg.Database != ":memory:" {
		t.Fatalf("env overlay not applied: %+v", cfg)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Fatalf("file value lost: %q", cfg.Listen)
	}
	if cfg.MinGranularity() != 30*time.Minute {
		t.Fatalf("unexpected granularity %v", cfg.MinGranularity())
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(onDisk) != "listen: 0.0.0.0:9000\norg_id: file-org\n" {
		t.Fatalf("env values must not be written back: %s", onDisk)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("listen: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}

	cfg := DefaultConfig()
	cfg.Timezone = "Nowhere/Invalid"
	if _, err := cfg.Location(); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Feeds = append(cfg.Feeds, FeedConfig{ID: "hol", Name: "Holidays", URL: "https://example.com/h.ics"})
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Save(path, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %v", entries)
	}
}
