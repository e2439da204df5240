package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("explicit missing file should be an error")
	}

	// Search mode tolerates a missing file and yields pure defaults.
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.CloudTimeout != 15*time.Second {
		t.Errorf("cloud_timeout = %v, want 15s", cfg.CloudTimeout)
	}
	if cfg.BatchSize != 50 {
		t.Errorf("batch_size = %d, want 50", cfg.BatchSize)
	}
	if cfg.BaseInterval != 30*time.Second {
		t.Errorf("base_interval = %v, want 30s", cfg.BaseInterval)
	}
	if cfg.CycleTimeout != 30*time.Second {
		t.Errorf("cycle_timeout = %v, want 30s", cfg.CycleTimeout)
	}
	if cfg.Policy != "highest_version" {
		t.Errorf("policy = %q, want highest_version", cfg.Policy)
	}
	if cfg.DashboardPort != 8710 {
		t.Errorf("dashboard_port = %d, want 8710", cfg.DashboardPort)
	}
	if cfg.ProbeInterval != 10*time.Second {
		t.Errorf("probe_interval = %v, want 10s", cfg.ProbeInterval)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgesync.yaml")
	content := `cloud_url: http://sync.example:9200
store_path: /var/lib/edgesync/records.db
policy: last_write
batch_size: 10
base_interval: 5m
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.CloudURL != "http://sync.example:9200" {
		t.Errorf("cloud_url = %q", cfg.CloudURL)
	}
	if cfg.StorePath != "/var/lib/edgesync/records.db" {
		t.Errorf("store_path = %q", cfg.StorePath)
	}
	if cfg.Policy != "last_write" {
		t.Errorf("policy = %q", cfg.Policy)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("batch_size = %d", cfg.BatchSize)
	}
	if cfg.BaseInterval != 5*time.Minute {
		t.Errorf("base_interval = %v", cfg.BaseInterval)
	}
	// Unset keys keep their defaults.
	if cfg.DashboardPort != 8710 {
		t.Errorf("dashboard_port = %d, want default 8710", cfg.DashboardPort)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgesync.yaml")
	if err := os.WriteFile(path, []byte("cloud_url: http://from-file:9200\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	t.Setenv("EDGESYNC_CLOUD_URL", "http://from-env:9200")
	t.Setenv("EDGESYNC_BATCH_SIZE", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.CloudURL != "http://from-env:9200" {
		t.Errorf("cloud_url = %q, want env value", cfg.CloudURL)
	}
	if cfg.BatchSize != 7 {
		t.Errorf("batch_size = %d, want env value 7", cfg.BatchSize)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgesync.yaml")
	if err := os.WriteFile(path, []byte(":\tnot yaml"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing cloud url", func(c *Config) { c.CloudURL = "" }, true},
		{"negative batch size", func(c *Config) { c.BatchSize = -1 }, true},
		{"unknown policy", func(c *Config) { c.Policy = "coin_flip" }, true},
		{"last write policy", func(c *Config) { c.Policy = "last_write" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				CloudURL:  "http://localhost:9200",
				BatchSize: 50,
				Policy:    "highest_version",
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteStarter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgesync.yaml")

	if err := WriteStarter(path); err != nil {
		t.Fatalf("WriteStarter failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read starter: %v", err)
	}
	if !strings.HasPrefix(string(data), "# edgesync configuration.") {
		t.Error("starter config missing header comment")
	}

	// The starter must load cleanly and validate.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("starter config failed to load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("starter config failed validation: %v", err)
	}

	// Never clobber an existing file.
	if err := WriteStarter(path); err == nil {
		t.Error("WriteStarter overwrote an existing file")
	}
}
