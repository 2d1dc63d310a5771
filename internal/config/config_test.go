package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/juju/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.EventLog.Backend != "pebble" {
		t.Fatalf("default backend %q", cfg.EventLog.Backend)
	}
	if cfg.Relay.BlockMs != 1000 || cfg.Relay.PollIntervalMs != 100 {
		t.Fatalf("relay cadence defaults: %+v", cfg.Relay)
	}
	if cfg.Engine.QueryName != "getAnalysisStatus" {
		t.Fatalf("query name %q", cfg.Engine.QueryName)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "relay.json")
	data := []byte(`{"eventLog":{"backend":"redis","redis":{"addr":"cache:6379"}},"relay":{"maxPolls":42}}`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EventLog.Backend != "redis" || cfg.EventLog.Redis.Addr != "cache:6379" {
		t.Fatalf("event log not loaded: %+v", cfg.EventLog)
	}
	if cfg.Relay.MaxPolls != 42 {
		t.Fatalf("maxPolls %d", cfg.Relay.MaxPolls)
	}
	// untouched keys keep defaults
	if cfg.Relay.BlockMs != 1000 {
		t.Fatalf("blockMs default lost: %d", cfg.Relay.BlockMs)
	}
}

func TestLoadYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "relay.yaml")
	data := []byte("engine:\n  backend: temporal\n  hostPort: temporal:7233\nfanInTopics:\n  - a\n  - b\n")
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.Backend != "temporal" || cfg.Engine.HostPort != "temporal:7233" {
		t.Fatalf("engine not loaded: %+v", cfg.Engine)
	}
	if diff := cmp.Diff([]string{"a", "b"}, cfg.FanInTopics); diff != "" {
		t.Fatalf("fan-in topics (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("RELAY_EVENT_LOG", "redis")
	t.Setenv("RELAY_MAX_POLLS", "7")
	t.Setenv("RELAY_TEMPORAL_TLS", "true")
	t.Setenv("RELAY_FAN_IN_TOPICS", " x , ,y")
	t.Setenv("RELAY_MAX_FILE_BYTES", "1024")
	FromEnv(&cfg)
	if cfg.EventLog.Backend != "redis" {
		t.Fatalf("env override backend")
	}
	if cfg.Relay.MaxPolls != 7 {
		t.Fatalf("env override maxPolls")
	}
	if !cfg.Engine.TLS {
		t.Fatalf("env override tls")
	}
	if diff := cmp.Diff([]string{"x", "y"}, cfg.FanInTopics); diff != "" {
		t.Fatalf("fan-in topics (-want +got):\n%s", diff)
	}
	if cfg.Upload.MaxFileBytes != 1024 {
		t.Fatalf("env override max file bytes")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.EventLog.Backend = "kafka"
	if err := cfg.Validate(); !errors.Is(err, errors.NotValid) {
		t.Fatalf("want NotValid, got %v", err)
	}
	cfg = Default()
	cfg.Relay.MaxPolls = 0
	if err := cfg.Validate(); !errors.Is(err, errors.NotValid) {
		t.Fatalf("want NotValid, got %v", err)
	}
}
