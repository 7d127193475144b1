package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigHasJanitorCronRule(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Worker.CronRules["run_janitor"] == "" {
		t.Fatal("expected a default cron rule for run_janitor")
	}
}

func TestLoadFromFileJSONOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"worker":{"batch_size":99}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Worker.BatchSize != 99 {
		t.Fatalf("got batch size %d, want 99", cfg.Worker.BatchSize)
	}
	if cfg.Worker.MaxTries != DefaultConfig().Worker.MaxTries {
		t.Fatal("expected an omitted field to keep its default")
	}
}

func TestLoadFromFileYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "worker:\n  batch_size: 42\n  cdn_listing_flush: false\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Worker.BatchSize != 42 {
		t.Fatalf("got batch size %d, want 42", cfg.Worker.BatchSize)
	}
	if cfg.Worker.CDNListingFlush {
		t.Fatal("expected cdn_listing_flush to be overridden to false")
	}
}

func TestLoadFromEnvOverridesBatchSize(t *testing.T) {
	t.Setenv("EXODUS_GW_BATCH_SIZE", "7")
	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	if cfg.Worker.BatchSize != 7 {
		t.Fatalf("got batch size %d, want 7", cfg.Worker.BatchSize)
	}
}

func TestEnvironmentLookup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Environments = []EnvironmentConfig{{Name: "prod"}, {Name: "stage"}}

	if _, ok := cfg.Environment("dev"); ok {
		t.Fatal("expected no match for unknown environment")
	}
	got, ok := cfg.Environment("stage")
	if !ok || got.Name != "stage" {
		t.Fatalf("got %+v, ok=%v", got, ok)
	}
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "1", "yes", "TRUE", "Yes"} {
		if !parseBool(v) {
			t.Fatalf("expected %q to parse as true", v)
		}
	}
	for _, v := range []string{"false", "0", "no", ""} {
		if parseBool(v) {
			t.Fatalf("expected %q to parse as false", v)
		}
	}
}
