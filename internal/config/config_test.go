package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"SERIES", "SERIES_FILE", "PORT", "UNKNOWN_TOPIC_POLICY", "RECORD_LAYOUT", "LATEST_TTL", "RETENTION_MAX_AGE"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "3000" {
		t.Fatalf("expected default port 3000, got %q", cfg.Port)
	}
	if cfg.UnknownTopicPolicy != "drop" {
		t.Fatalf("expected drop policy, got %q", cfg.UnknownTopicPolicy)
	}
	if cfg.RecordLayout != "tagged" {
		t.Fatalf("expected tagged layout, got %q", cfg.RecordLayout)
	}
	if len(cfg.Series) != 2 || cfg.Series[0].Topic != "Garbage" {
		t.Fatalf("expected default series, got %+v", cfg.Series)
	}
	if cfg.Redis.LatestTTL != 24*time.Hour {
		t.Fatalf("expected 24h latest ttl, got %v", cfg.Redis.LatestTTL)
	}
	if cfg.RetentionMaxAge != 0 {
		t.Fatalf("expected retention disabled, got %v", cfg.RetentionMaxAge)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SERIES_FILE", "")
	t.Setenv("SERIES", "Rain=rainfall:R")
	t.Setenv("MQTT_EXTRA_TOPICS", "sensors/#, ,other")
	t.Setenv("FILTER_STRICT", "yes")
	t.Setenv("RETENTION_MAX_AGE", "720h")
	t.Setenv("UNKNOWN_TOPIC_POLICY", "STORE")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9000" {
		t.Fatalf("expected port 9000, got %q", cfg.Port)
	}
	if len(cfg.Series) != 1 || cfg.Series[0].Code != "R" {
		t.Fatalf("unexpected series: %+v", cfg.Series)
	}
	if len(cfg.MQTT.ExtraTopics) != 2 || cfg.MQTT.ExtraTopics[1] != "other" {
		t.Fatalf("unexpected extra topics: %v", cfg.MQTT.ExtraTopics)
	}
	if !cfg.FilterStrict {
		t.Fatalf("expected strict filters")
	}
	if cfg.RetentionMaxAge != 720*time.Hour {
		t.Fatalf("unexpected retention: %v", cfg.RetentionMaxAge)
	}
	if cfg.UnknownTopicPolicy != "store" {
		t.Fatalf("expected lowercased policy, got %q", cfg.UnknownTopicPolicy)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("LATEST_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected duration error")
	}
}

func TestLoadSeriesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "series.yaml")
	doc := "series:\n  - topic: Garbage\n    name: rainfall\n    code: G\n  - topic: Methane\n    name: ammonia\n    code: M\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SERIES_FILE", path)
	t.Setenv("SERIES", "Ignored")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Series) != 2 || cfg.Series[1].Name != "ammonia" {
		t.Fatalf("unexpected series: %+v", cfg.Series)
	}
}

func TestLoadSeriesFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "series.yaml")
	if err := os.WriteFile(path, []byte("series: []\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSeriesFile(path); err == nil {
		t.Fatalf("expected error for empty series file")
	}
}
