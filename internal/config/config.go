// Package config defines node configuration and its loading.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional file and SPYRO_* environment variables.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"time"

	"github.com/DexterZero/Spyro-API/internal/adapters/source"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFile, when set, receives JSON records alongside the console.
	LogFile string `koanf:"log_file"`

	// Addr configures the HTTP listen address for metrics, health and stats.
	Addr string `koanf:"addr"`

	// RedocFile, when set, is a local ReDoc bundle served with the API docs.
	RedocFile string `koanf:"redoc_file"`

	// QueueSize bounds each provider's buffer between stream and mapper.
	QueueSize int `koanf:"queue_size"`

	// DedupeSize sets the replay window per provider; 0 disables it.
	DedupeSize int `koanf:"dedupe_size"`

	// CheckpointPath names the cursor file; empty keeps cursors in memory.
	CheckpointPath string `koanf:"checkpoint_path"`

	// CheckpointInterval bounds how often the cursor file is rewritten.
	CheckpointInterval time.Duration `koanf:"checkpoint_interval"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Backoff is the reconnect policy shared by all providers.
	Backoff Backoff `koanf:"backoff"`

	// Providers lists the upstream networks to ingest.
	Providers []Provider `koanf:"providers"`

	// Sink selects where modifications go.
	Sink Sink `koanf:"sink"`
}

// Backoff configures the reconnect delay.
type Backoff struct {
	Floor   time.Duration `koanf:"floor"`
	Ceiling time.Duration `koanf:"ceiling"`
	Factor  float64       `koanf:"factor"`
}

// Provider configures one upstream network.
type Provider struct {
	Name         string        `koanf:"name"`
	Kind         string        `koanf:"kind"`
	Format       string        `koanf:"format"`
	Endpoint     string        `koanf:"endpoint"`
	APIKey       string        `koanf:"api_key"`
	Cursor       string        `koanf:"cursor"`
	PollInterval time.Duration `koanf:"poll_interval"`
	Limit        int           `koanf:"limit"`
	// Backoff overrides the shared policy field by field.
	Backoff Backoff `koanf:"backoff"`
}

// Sink configures the downstream store.
type Sink struct {
	Kind        string   `koanf:"kind"`
	Path        string   `koanf:"path"`
	Format      string   `koanf:"format"`
	Compression string   `koanf:"compression"`
	URL         string   `koanf:"url"`
	Namespace   string   `koanf:"namespace"`
	Database    string   `koanf:"database"`
	Username    string   `koanf:"username"`
	Password    string   `koanf:"password"`
	AuthLevel   string   `koanf:"auth_level"`
	Fanout      []string `koanf:"fanout"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		Addr:               ":8040",
		QueueSize:          1024,
		DedupeSize:         10_000,
		CheckpointInterval: time.Second,
		ShutdownTimeout:    30 * time.Second,
		Backoff: Backoff{
			Floor:   time.Second,
			Ceiling: 30 * time.Second,
			Factor:  2,
		},
		Sink: Sink{
			Kind:        "memory",
			Format:      "json",
			Compression: "none",
			Namespace:   "spyro",
			Database:    "spyro",
			AuthLevel:   "root",
		},
	}
}

// EffectiveBackoff returns the provider's policy with unset fields taken
// from shared.
func (p Provider) EffectiveBackoff(shared Backoff) Backoff {
	b := shared
	if p.Backoff.Floor > 0 {
		b.Floor = p.Backoff.Floor
	}
	if p.Backoff.Ceiling > 0 {
		b.Ceiling = p.Backoff.Ceiling
	}
	if p.Backoff.Factor > 0 {
		b.Factor = p.Backoff.Factor
	}
	return b
}

// SourceConfig returns the settings the source adapter needs.
func (p Provider) SourceConfig() source.Config {
	return source.Config{
		Name:     p.Name,
		Kind:     p.Kind,
		Format:   p.Format,
		Endpoint: p.Endpoint,
		APIKey:   p.APIKey,
		Cursor:   p.Cursor,
		Interval: p.PollInterval,
		Limit:    p.Limit,
	}
}

// Provider returns the configured provider called name.
func (c *Config) Provider(name string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}

var (
	sinkKinds   = map[string]bool{"memory": true, "file": true, "surreal": true, "postgres": true, "multi": true}
	sourceKinds = map[string]bool{"websocket": true, "poll": true, "synthetic": true}
	logLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if !logLevels[c.LogLevel] {
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	}
	if err := c.Backoff.validate("backoff"); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		where := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			return fmt.Errorf("%w: %s: name is required", ErrInvalidConfig, where)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: %s: duplicate provider %q", ErrInvalidConfig, where, p.Name)
		}
		seen[p.Name] = true
		if !sourceKinds[p.Kind] {
			return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidConfig, where, p.Kind)
		}
		if p.Kind != "synthetic" && p.Endpoint == "" {
			return fmt.Errorf("%w: %s: endpoint is required", ErrInvalidConfig, where)
		}
		if err := p.EffectiveBackoff(c.Backoff).validate(where + ".backoff"); err != nil {
			return err
		}
	}

	if !sinkKinds[c.Sink.Kind] {
		return fmt.Errorf("%w: unknown sink kind %q", ErrInvalidConfig, c.Sink.Kind)
	}
	switch c.Sink.Kind {
	case "file":
		if c.Sink.Path == "" {
			return fmt.Errorf("%w: file sink needs sink.path", ErrInvalidConfig)
		}
	case "surreal", "postgres":
		if c.Sink.URL == "" {
			return fmt.Errorf("%w: %s sink needs sink.url", ErrInvalidConfig, c.Sink.Kind)
		}
	case "multi":
		if len(c.Sink.Fanout) == 0 {
			return fmt.Errorf("%w: multi sink needs sink.fanout", ErrInvalidConfig)
		}
		for _, k := range c.Sink.Fanout {
			if !sinkKinds[k] || k == "multi" {
				return fmt.Errorf("%w: bad fanout kind %q", ErrInvalidConfig, k)
			}
		}
	}
	return nil
}

func (b Backoff) validate(where string) error {
	switch {
	case b.Floor <= 0:
		return fmt.Errorf("%w: %s.floor must be positive", ErrInvalidConfig, where)
	case b.Ceiling < b.Floor:
		return fmt.Errorf("%w: %s.ceiling must not be below floor", ErrInvalidConfig, where)
	case b.Factor < 1:
		return fmt.Errorf("%w: %s.factor must be at least 1", ErrInvalidConfig, where)
	}
	return nil
}
