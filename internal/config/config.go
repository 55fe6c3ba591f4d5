// Package config provides configuration loading and management for the sync engine.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/farmsight/sync-engine/internal/store"
)

// EnvPrefix is the prefix for all environment variables read by the engine.
const EnvPrefix = "FSIGHT"

const (
	// DefaultWorkerScript is the default path to the background worker artifact
	DefaultWorkerScript = "/sw.js"

	// DefaultWorkerScope is the default scope claimed by the background worker
	DefaultWorkerScope = "/"

	// DefaultBatchSize is the number of pending mutations drained per batch
	DefaultBatchSize = 10

	// DefaultMaxRetries is the retry budget per pending mutation
	DefaultMaxRetries = 3
)

const (
	// DefaultBackoffBase is the base delay for mutation retry scheduling
	DefaultBackoffBase = 2 * time.Second

	// DefaultUpdateInterval is how often the worker artifact is re-checked
	DefaultUpdateInterval = time.Hour

	// DefaultProbeInterval is how often connectivity is probed
	DefaultProbeInterval = 30 * time.Second
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Database holds the local durable store settings
	Database DatabaseConfig `yaml:"database"`

	// Sync holds mutation queue and drain settings
	Sync SyncConfig `yaml:"sync"`

	// Worker holds background worker lifecycle settings
	Worker WorkerConfig `yaml:"worker,omitempty"`

	// Connectivity holds online/offline probing settings
	Connectivity ConnectivityConfig `yaml:"connectivity"`
}

// DatabaseConfig defines the local durable store settings
type DatabaseConfig struct {
	// Path is the filesystem path of the sqlite database file
	Path string `yaml:"path"`

	// Version is the target schema version. A bump triggers the additive
	// migration path on open; it never drops existing stores.
	Version int `yaml:"version,omitempty"`
}

// SyncConfig defines mutation queue and drain settings
type SyncConfig struct {
	// Endpoints maps each mutation type to its remote HTTP endpoint
	Endpoints map[string]string `yaml:"endpoints"`

	// BatchSize is the number of mutations dispatched per drain batch
	BatchSize int `yaml:"batchSize,omitempty"`

	// MaxRetries is the per-mutation retry budget before dead-lettering
	MaxRetries int `yaml:"maxRetries,omitempty"`

	// BackoffBase is the base retry delay; the effective delay is
	// backoffBase multiplied by the attempt count (e.g. "2s", "500ms")
	BackoffBase string `yaml:"backoffBase,omitempty"`

	// RequestTimeout bounds a single delivery attempt (e.g. "10s")
	RequestTimeout string `yaml:"requestTimeout,omitempty"`
}

// WorkerConfig defines background worker lifecycle settings
type WorkerConfig struct {
	// Script is the path to the worker artifact
	Script string `yaml:"script,omitempty"`

	// Scope is the scope the worker claims
	Scope string `yaml:"scope,omitempty"`

	// UpdateInterval is the artifact re-check period (e.g. "1h")
	UpdateInterval string `yaml:"updateInterval,omitempty"`
}

// ConnectivityConfig defines online/offline probing settings
type ConnectivityConfig struct {
	// ProbeURL is the health endpoint polled to detect connectivity.
	// An empty value disables active probing; the observer then relies
	// solely on injected signals.
	ProbeURL string `yaml:"probeURL,omitempty"`

	// ProbeInterval is the polling period (e.g. "30s")
	ProbeInterval string `yaml:"probeInterval,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills in defaults for optional settings
func (c *Config) applyDefaults() {
	if c.Database.Version == 0 {
		c.Database.Version = store.SchemaVersion
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = DefaultBatchSize
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = DefaultMaxRetries
	}
	if c.Sync.BackoffBase == "" {
		c.Sync.BackoffBase = DefaultBackoffBase.String()
	}
	if c.Worker.Script == "" {
		c.Worker.Script = DefaultWorkerScript
	}
	if c.Worker.Scope == "" {
		c.Worker.Scope = DefaultWorkerScope
	}
	if c.Worker.UpdateInterval == "" {
		c.Worker.UpdateInterval = DefaultUpdateInterval.String()
	}
	if c.Connectivity.ProbeInterval == "" {
		c.Connectivity.ProbeInterval = DefaultProbeInterval.String()
	}
}

// Validate checks the configuration for correctness
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Version < 1 || c.Database.Version > store.SchemaVersion {
		return fmt.Errorf("database.version must be between 1 and %d, got %d",
			store.SchemaVersion, c.Database.Version)
	}

	if len(c.Sync.Endpoints) == 0 {
		return fmt.Errorf("sync.endpoints is required")
	}
	for _, typ := range store.MutationTypes() {
		endpoint, ok := c.Sync.Endpoints[string(typ)]
		if !ok {
			return fmt.Errorf("sync.endpoints is missing mutation type %q", typ)
		}
		if err := validateEndpoint(string(typ), endpoint); err != nil {
			return err
		}
	}
	for name := range c.Sync.Endpoints {
		if !store.MutationType(name).Valid() {
			return fmt.Errorf("sync.endpoints contains unknown mutation type %q", name)
		}
	}

	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batchSize must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.maxRetries must not be negative, got %d", c.Sync.MaxRetries)
	}
	if _, err := c.BackoffBase(); err != nil {
		return fmt.Errorf("sync.backoffBase is invalid: %w", err)
	}
	if c.Sync.RequestTimeout != "" {
		if _, err := time.ParseDuration(c.Sync.RequestTimeout); err != nil {
			return fmt.Errorf("sync.requestTimeout is invalid: %w", err)
		}
	}

	if _, err := c.UpdateInterval(); err != nil {
		return fmt.Errorf("worker.updateInterval is invalid: %w", err)
	}
	if _, err := c.ProbeInterval(); err != nil {
		return fmt.Errorf("connectivity.probeInterval is invalid: %w", err)
	}
	if c.Connectivity.ProbeURL != "" {
		if err := validateEndpoint("probeURL", c.Connectivity.ProbeURL); err != nil {
			return err
		}
	}

	return nil
}

// BackoffBase returns the parsed base retry delay
func (c *Config) BackoffBase() (time.Duration, error) {
	return time.ParseDuration(c.Sync.BackoffBase)
}

// RequestTimeout returns the parsed delivery timeout, or zero when unset
func (c *Config) RequestTimeout() (time.Duration, error) {
	if c.Sync.RequestTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Sync.RequestTimeout)
}

// UpdateInterval returns the parsed worker artifact re-check period
func (c *Config) UpdateInterval() (time.Duration, error) {
	return time.ParseDuration(c.Worker.UpdateInterval)
}

// ProbeInterval returns the parsed connectivity polling period
func (c *Config) ProbeInterval() (time.Duration, error) {
	return time.ParseDuration(c.Connectivity.ProbeInterval)
}

func validateEndpoint(name, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("endpoint %q is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint %q must use http or https, got %q", name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %q is missing a host", name)
	}
	return nil
}
