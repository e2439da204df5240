// Package config loads edgesync daemon configuration.
//
// Configuration comes from an edgesync.yaml file, overridden by environment
// variables with the EDGESYNC_ prefix (EDGESYNC_CLOUD_URL and so on), with
// CLI flags layered on top by the commands themselves.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds the daemon's settings.
type Config struct {
	// CloudURL is the sync authority's base URL. Required for syncing.
	CloudURL string `mapstructure:"cloud_url"`

	// CloudTimeout bounds a single upload or download request.
	CloudTimeout time.Duration `mapstructure:"cloud_timeout"`

	// StorePath is the SQLite database path. Empty selects the in-memory
	// store (records are lost on restart, the pending set with them).
	StorePath string `mapstructure:"store_path"`

	// SpoolDir, when set, is watched for record JSON files to ingest.
	SpoolDir string `mapstructure:"spool_dir"`

	// ProbeAddr is the "host:port" dialed to judge reachability. Empty
	// derives it from CloudURL.
	ProbeAddr string `mapstructure:"probe_addr"`

	// ProbeInterval is the reachability probe cadence.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// PowerInterval is the power/thermal sampling cadence.
	PowerInterval time.Duration `mapstructure:"power_interval"`

	// BatchSize is the initial per-cycle upload batch size.
	BatchSize int `mapstructure:"batch_size"`

	// BaseInterval is the initial periodic sync interval.
	BaseInterval time.Duration `mapstructure:"base_interval"`

	// CycleTimeout bounds one sync cycle's network calls.
	CycleTimeout time.Duration `mapstructure:"cycle_timeout"`

	// Policy is the conflict resolution policy: "highest_version" or
	// "last_write".
	Policy string `mapstructure:"policy"`

	// DashboardPort is the dashboard HTTP port. 0 disables the dashboard.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile, when set, receives rotated daemon logs instead of stderr.
	LogFile string `mapstructure:"log_file"`
}

// Load reads configuration from path (or the default search locations when
// path is empty) and the environment. In search mode a missing config file
// is not an error; defaults and environment still apply. An explicitly named
// file must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("cloud_timeout", 15*time.Second)
	v.SetDefault("probe_interval", 10*time.Second)
	v.SetDefault("power_interval", 15*time.Second)
	v.SetDefault("batch_size", 50)
	v.SetDefault("base_interval", 30*time.Second)
	v.SetDefault("cycle_timeout", 30*time.Second)
	v.SetDefault("policy", "highest_version")
	v.SetDefault("dashboard_port", 8710)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("edgesync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.edgesync")
		}
	}

	v.SetEnvPrefix("EDGESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// An explicitly named file must exist and parse; in search mode
		// only "not found" is tolerated.
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if path != "" || !notFound {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks settings a running daemon needs.
func (c *Config) Validate() error {
	if c.CloudURL == "" {
		return fmt.Errorf("cloud_url is required")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size cannot be negative")
	}
	if c.Policy != "highest_version" && c.Policy != "last_write" {
		return fmt.Errorf("policy must be \"highest_version\" or \"last_write\" (got %q)", c.Policy)
	}
	return nil
}

// starterConfig is the commented template `edgesync init` writes.
type starterConfig struct {
	CloudURL      string `yaml:"cloud_url"`
	StorePath     string `yaml:"store_path"`
	SpoolDir      string `yaml:"spool_dir"`
	Policy        string `yaml:"policy"`
	BatchSize     int    `yaml:"batch_size"`
	BaseInterval  string `yaml:"base_interval"`
	DashboardPort int    `yaml:"dashboard_port"`
}

// WriteStarter writes a starter edgesync.yaml to path. Refuses to overwrite
// an existing file.
func WriteStarter(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	starter := starterConfig{
		CloudURL:      "http://localhost:9200",
		StorePath:     ".edgesync/records.db",
		SpoolDir:      ".edgesync/spool",
		Policy:        "highest_version",
		BatchSize:     50,
		BaseInterval:  "30s",
		DashboardPort: 8710,
	}

	data, err := yaml.Marshal(&starter)
	if err != nil {
		return fmt.Errorf("failed to marshal starter config: %w", err)
	}

	header := "# edgesync configuration.\n# Environment variables with the EDGESYNC_ prefix override these values.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
