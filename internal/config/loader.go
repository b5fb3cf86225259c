package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"assetd/internal/common/fsutil"
	"assetd/internal/recovery"
)

// Duration is a time.Duration that reads and writes Go duration strings
// ("30s", "1m30s") in every supported format.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// CORS controls the cross-origin middleware.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
}

// Recovery mirrors recovery.Config in file form.
type Recovery struct {
	MaxAttempts    int      `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
	InitialBackoff Duration `json:"initial_backoff" yaml:"initial_backoff" toml:"initial_backoff"`
	MaxBackoff     Duration `json:"max_backoff" yaml:"max_backoff" toml:"max_backoff"`
	Multiplier     float64  `json:"multiplier" yaml:"multiplier" toml:"multiplier"`
	Jitter         float64  `json:"jitter" yaml:"jitter" toml:"jitter"`
	RiskMediumAt   int      `json:"risk_medium_at" yaml:"risk_medium_at" toml:"risk_medium_at"`
	RiskHighAt     int      `json:"risk_high_at" yaml:"risk_high_at" toml:"risk_high_at"`
	AttemptTimeout Duration `json:"attempt_timeout" yaml:"attempt_timeout" toml:"attempt_timeout"`
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// ManifestPath is a .json/.yaml/.toml manifest. When empty the manifest
	// is built by scanning AssetDir.
	ManifestPath string `json:"manifest_path" yaml:"manifest_path" toml:"manifest_path"`
	// Assets are fetched from AssetBaseURL when set, else read from AssetDir.
	AssetBaseURL      string   `json:"asset_base_url" yaml:"asset_base_url" toml:"asset_base_url"`
	AssetDir          string   `json:"asset_dir" yaml:"asset_dir" toml:"asset_dir"`
	BudgetMB          int      `json:"budget_mb" yaml:"budget_mb" toml:"budget_mb"`
	FetchTimeout      Duration `json:"fetch_timeout" yaml:"fetch_timeout" toml:"fetch_timeout"`
	MaxConcurrentWarm int      `json:"max_concurrent_warm" yaml:"max_concurrent_warm" toml:"max_concurrent_warm"`
	// Warm lists model ids preloaded at startup.
	Warm     []string `json:"warm" yaml:"warm" toml:"warm"`
	LogLevel string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	CORS     CORS     `json:"cors" yaml:"cors" toml:"cors"`
	Recovery Recovery `json:"recovery" yaml:"recovery" toml:"recovery"`
}

// Defaults returns the configuration used when nothing is specified.
func Defaults() Config {
	rc := recovery.DefaultConfig()
	return Config{
		Addr:              ":8080",
		BudgetMB:          512,
		FetchTimeout:      Duration(30 * time.Second),
		MaxConcurrentWarm: 4,
		LogLevel:          "info",
		Recovery: Recovery{
			MaxAttempts:    rc.MaxAttempts,
			InitialBackoff: Duration(rc.InitialBackoff),
			MaxBackoff:     Duration(rc.MaxBackoff),
			Multiplier:     rc.Multiplier,
			RiskMediumAt:   rc.RiskMediumAt,
			RiskHighAt:     rc.RiskHighAt,
			AttemptTimeout: Duration(rc.AttemptTimeout),
		},
	}
}

// ApplyDefaults fills every zero field from Defaults. Jitter stays as given.
func (c *Config) ApplyDefaults() {
	d := Defaults()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.BudgetMB == 0 {
		c.BudgetMB = d.BudgetMB
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.MaxConcurrentWarm <= 0 {
		c.MaxConcurrentWarm = d.MaxConcurrentWarm
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	r := &c.Recovery
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = d.Recovery.MaxAttempts
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = d.Recovery.InitialBackoff
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = d.Recovery.MaxBackoff
	}
	if r.Multiplier <= 0 {
		r.Multiplier = d.Recovery.Multiplier
	}
	if r.RiskMediumAt <= 0 {
		r.RiskMediumAt = d.Recovery.RiskMediumAt
	}
	if r.RiskHighAt <= 0 {
		r.RiskHighAt = d.Recovery.RiskHighAt
	}
	if r.AttemptTimeout <= 0 {
		r.AttemptTimeout = d.Recovery.AttemptTimeout
	}
}

// Validate reports settings the daemon cannot start with.
func (c Config) Validate() error {
	if c.AssetBaseURL == "" && c.AssetDir == "" {
		return fmt.Errorf("one of asset_base_url or asset_dir is required")
	}
	if c.ManifestPath == "" && c.AssetDir == "" {
		return fmt.Errorf("manifest_path is required when asset_dir is not set")
	}
	if c.BudgetMB < 0 {
		return fmt.Errorf("budget_mb must not be negative")
	}
	if c.Recovery.RiskHighAt <= c.Recovery.RiskMediumAt {
		return fmt.Errorf("recovery.risk_high_at (%d) must exceed risk_medium_at (%d)", c.Recovery.RiskHighAt, c.Recovery.RiskMediumAt)
	}
	if c.Recovery.Jitter < 0 || c.Recovery.Jitter >= 1 {
		return fmt.Errorf("recovery.jitter must be in [0,1)")
	}
	return nil
}

// RecoveryConfig converts the file form into recovery.Config.
func (c Config) RecoveryConfig() recovery.Config {
	r := c.Recovery
	rc := recovery.DefaultConfig()
	rc.MaxAttempts = r.MaxAttempts
	rc.InitialBackoff = r.InitialBackoff.Std()
	rc.MaxBackoff = r.MaxBackoff.Std()
	rc.Multiplier = r.Multiplier
	rc.Jitter = r.Jitter
	rc.RiskMediumAt = r.RiskMediumAt
	rc.RiskHighAt = r.RiskHighAt
	rc.AttemptTimeout = r.AttemptTimeout.Std()
	return rc
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}
