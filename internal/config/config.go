// Package config loads harvest configuration from YAML files and CRAGS_* env vars.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crag-crawler/internal/canon"
	"github.com/JakeFAU/crag-crawler/internal/fetch"
	"github.com/JakeFAU/crag-crawler/internal/filter"
	"github.com/JakeFAU/crag-crawler/internal/harvest"
	"github.com/JakeFAU/crag-crawler/internal/reconcile"
)

// Artifact and notification providers.
const (
	ProviderNone   = "none"
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
	ProviderMemory = "memory"
	ProviderPubSub = "pubsub"
)

// DefaultPort is the API listen port when server.port is unset.
const DefaultPort = 8080

// Config is the root configuration for a harvest run and the API server.
type Config struct {
	Sources   []SourceConfig    `mapstructure:"sources"`
	Scope     harvest.Scope     `mapstructure:"scope"`
	Filters   filter.Rules      `mapstructure:"filters"`
	Output    OutputConfig      `mapstructure:"output"`
	Fetch     fetch.Policy      `mapstructure:"fetch"`
	Run       RunConfig         `mapstructure:"run"`
	Canonical canon.Options     `mapstructure:"canonical"`
	Merge     reconcile.Options `mapstructure:"merge"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Server    ServerConfig      `mapstructure:"server"`
	Artifacts ArtifactsConfig   `mapstructure:"artifacts"`
	Notify    NotifyConfig      `mapstructure:"notify"`
}

// SourceConfig selects one registered scraper.
type SourceConfig struct {
	Name    string            `mapstructure:"name"`
	BaseURL string            `mapstructure:"base_url"`
	Enabled *bool             `mapstructure:"enabled"`
	Options map[string]string `mapstructure:"options"`
	Fetch   fetch.Policy      `mapstructure:"fetch"`
}

// IsEnabled reports whether the source takes part in runs. Unset means yes.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// OutputConfig lists output destinations. Empty optional paths are skipped.
type OutputConfig struct {
	NDJSONPath  string `mapstructure:"ndjson_path"`
	GeoJSONPath string `mapstructure:"geojson_path"`
	RegionsPath string `mapstructure:"regions_path"`
}

// RunConfig bounds a single run.
type RunConfig struct {
	Workers  int           `mapstructure:"workers"`
	Deadline time.Duration `mapstructure:"deadline"`
	FailFast bool          `mapstructure:"fail_fast"`
}

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ArtifactsConfig selects where finished outputs are mirrored.
type ArtifactsConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// NotifyConfig selects where run summaries are published.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, &harvest.ConfigError{Field: "path", Reason: "cannot open config file", Err: err}
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &harvest.ConfigError{Field: "path", Reason: "read config", Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &harvest.ConfigError{Reason: "unmarshal config", Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := fetch.DefaultPolicy()
	v.SetDefault("fetch.concurrency", d.Concurrency)
	v.SetDefault("fetch.min_delay", d.MinDelay)
	v.SetDefault("fetch.max_attempts", d.MaxAttempts)
	v.SetDefault("fetch.backoff_base", d.BackoffBase)
	v.SetDefault("fetch.backoff_max", d.BackoffMax)
	v.SetDefault("fetch.timeout", d.Timeout)
	v.SetDefault("fetch.user_agent", d.UserAgent)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("filters.include_restricted", true)
	v.SetDefault("output.ndjson_path", "out/crags.ndjson")
	v.SetDefault("run.workers", 4)
	v.SetDefault("run.deadline", 10*time.Minute)
	v.SetDefault("run.fail_fast", false)
	v.SetDefault("canonical.precision", canon.DefaultPrecision)
	v.SetDefault("logging.development", false)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("artifacts.provider", ProviderNone)
	v.SetDefault("notify.provider", ProviderNone)
}

// Validate checks the configuration and returns a *harvest.ConfigError on the first problem.
func (c Config) Validate() error {
	if len(c.EnabledSources()) == 0 {
		return invalid("sources", "at least one enabled source is required")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if strings.TrimSpace(src.Name) == "" {
			return invalid(fmt.Sprintf("sources[%d].name", i), "must be set")
		}
		if _, dup := seen[src.Name]; dup {
			return invalid(fmt.Sprintf("sources[%d].name", i), fmt.Sprintf("duplicate source %q", src.Name))
		}
		seen[src.Name] = struct{}{}
		if err := validatePolicy("sources."+src.Name+".fetch", src.Fetch, false); err != nil {
			return err
		}
	}
	if err := validatePolicy("fetch", c.Fetch, true); err != nil {
		return err
	}
	if strings.TrimSpace(c.Output.NDJSONPath) == "" {
		return invalid("output.ndjson_path", "must be set")
	}
	if c.Run.Workers <= 0 {
		return invalid("run.workers", "must be > 0")
	}
	if c.Run.Deadline < 0 {
		return invalid("run.deadline", "must be >= 0")
	}
	if c.Canonical.Precision < 1 || c.Canonical.Precision > canon.MaxPrecision {
		return invalid("canonical.precision", fmt.Sprintf("must be between 1 and %d", canon.MaxPrecision))
	}
	if c.Scope.BBox != nil && !c.Scope.BBox.Valid() {
		return invalid("scope.bbox", "out of range")
	}
	if c.Filters.BBox != nil && !c.Filters.BBox.Valid() {
		return invalid("filters.bbox", "out of range")
	}
	if c.Filters.MinRoutes != nil && *c.Filters.MinRoutes < 0 {
		return invalid("filters.min_routes", "must be >= 0")
	}
	if c.Server.Port <= 0 {
		return invalid("server.port", "must be > 0")
	}
	switch c.Artifacts.Provider {
	case "", ProviderNone:
	case ProviderLocal:
		if c.Artifacts.BaseDir == "" {
			return invalid("artifacts.base_dir", "required for local artifacts")
		}
	case ProviderGCS:
		if c.Artifacts.Bucket == "" {
			return invalid("artifacts.bucket", "required for gcs artifacts")
		}
	default:
		return invalid("artifacts.provider", fmt.Sprintf("unknown provider %q", c.Artifacts.Provider))
	}
	switch c.Notify.Provider {
	case "", ProviderNone:
	case ProviderMemory:
		if c.Notify.Topic == "" {
			return invalid("notify.topic", "required when notifications are enabled")
		}
	case ProviderPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return invalid("notify", "project_id and topic are required for pubsub")
		}
	default:
		return invalid("notify.provider", fmt.Sprintf("unknown provider %q", c.Notify.Provider))
	}
	return nil
}

// EnabledSources returns the sources that take part in runs, in configured order.
func (c Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, src := range c.Sources {
		if src.IsEnabled() {
			out = append(out, src)
		}
	}
	return out
}

// FetchConfig builds the fetch client configuration from the global and per-source policies.
func (c Config) FetchConfig() fetch.Config {
	perSource := make(map[string]fetch.Policy, len(c.Sources))
	for _, src := range c.Sources {
		perSource[src.Name] = src.Fetch
	}
	return fetch.Config{Defaults: c.Fetch, Sources: perSource}
}

func validatePolicy(field string, p fetch.Policy, required bool) error {
	if required {
		if p.Concurrency <= 0 {
			return invalid(field+".concurrency", "must be > 0")
		}
		if p.MaxAttempts <= 0 {
			return invalid(field+".max_attempts", "must be > 0")
		}
		if p.Timeout <= 0 {
			return invalid(field+".timeout", "must be > 0")
		}
	}
	if p.Concurrency < 0 || p.MaxAttempts < 0 || p.Timeout < 0 {
		return invalid(field, "counts and timeouts must not be negative")
	}
	if p.MinDelay < 0 || p.BackoffBase < 0 || p.BackoffMax < 0 {
		return invalid(field, "delays must not be negative")
	}
	if p.BackoffBase > 0 && p.BackoffMax > 0 && p.BackoffMax < p.BackoffBase {
		return invalid(field+".backoff_max", "must be >= backoff_base")
	}
	return nil
}

func invalid(field, reason string) error {
	return &harvest.ConfigError{Field: field, Reason: reason}
}
