package config

import (
	"fmt"
	"log"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/lakeward/ferry/helpers"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // "stdout", "stderr", "syslog", or a file path
	Format string `toml:"format"` // "json" or "console"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// EndpointConfig describes one upstream endpoint the pool may lease sessions on.
type EndpointConfig struct {
	ID                 string  `toml:"id"`                   // Unique identifier, required
	URL                string  `toml:"url"`                  // Address the caller dials after acquiring a lease
	Weight             float64 `toml:"weight"`               // Selection preference among equals (default: 1)
	MaxSessions        int     `toml:"max_sessions"`         // Concurrent lease cap, required > 0
	WarmupRequests     int     `toml:"warmup_requests"`      // Observations before full trust (default: 10)
	SuccessThreshold   float64 `toml:"success_threshold"`    // Success EWMA floor for healthy state (default: 0.9)
	LatencyThresholdMS float64 `toml:"latency_threshold_ms"` // Latency EWMA ceiling in ms for healthy state (default: 1000)
}

// PoolConfig holds the tunables of the lease pool.
type PoolConfig struct {
	DefaultLeaseTTL   string  `toml:"default_lease_ttl"`   // TTL applied when Acquire passes none (default: "1m")
	SmoothingAlpha    float64 `toml:"smoothing_alpha"`     // EWMA smoothing constant in (0,1] (default: 0.2)
	WarmupScaleFactor float64 `toml:"warmup_scale_factor"` // Weight divisor while warming up (default: 4)
	EjectionCooldown  string  `toml:"ejection_cooldown"`   // Sustained hard-floor window before ejection, also the re-admission timer (default: "30s")
	StickinessTTL     string  `toml:"stickiness_ttl"`      // How long a client sticks to its endpoint (default: "5m")
	ReclaimInterval   string  `toml:"reclaim_interval"`    // Expired-lease sweep period (default: lease TTL / 4, min 1s)

	Endpoints []EndpointConfig `toml:"endpoint"`
}

// HTTPAPIConfig holds the optional diagnostics HTTP server configuration.
type HTTPAPIConfig struct {
	Start        bool     `toml:"start"`
	Addr         string   `toml:"addr"`
	APIKey       string   `toml:"api_key"`
	AllowedHosts []string `toml:"allowed_hosts"` // IPs or CIDR blocks; empty allows all
	TLS          bool     `toml:"tls"`
	TLSCertFile  string   `toml:"tls_cert_file"`
	TLSKeyFile   string   `toml:"tls_key_file"`
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	Pool    PoolConfig    `toml:"pool"`
	HTTPAPI HTTPAPIConfig `toml:"http_api"`
}

// NewDefaultConfig returns a configuration with sane defaults. The endpoint
// list always comes from the operator; everything else has a usable default.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Pool: PoolConfig{
			DefaultLeaseTTL:   "1m",
			SmoothingAlpha:    0.2,
			WarmupScaleFactor: 4,
			EjectionCooldown:  "30s",
			StickinessTTL:     "5m",
		},
		HTTPAPI: HTTPAPIConfig{
			Addr: ":8080",
		},
	}
}

// GetDefaultLeaseTTL parses the default lease TTL
func (p *PoolConfig) GetDefaultLeaseTTL() (time.Duration, error) {
	if p.DefaultLeaseTTL == "" {
		return time.Minute, nil
	}
	return helpers.ParseDuration(p.DefaultLeaseTTL)
}

// GetEjectionCooldown parses the ejection cooldown window
func (p *PoolConfig) GetEjectionCooldown() (time.Duration, error) {
	if p.EjectionCooldown == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(p.EjectionCooldown)
}

// GetStickinessTTL parses the stickiness TTL
func (p *PoolConfig) GetStickinessTTL() (time.Duration, error) {
	if p.StickinessTTL == "" {
		return 5 * time.Minute, nil
	}
	return helpers.ParseDuration(p.StickinessTTL)
}

// GetReclaimInterval parses the reclaimer sweep interval. Zero means derive
// from the lease TTL at pool construction.
func (p *PoolConfig) GetReclaimInterval() (time.Duration, error) {
	if p.ReclaimInterval == "" {
		return 0, nil
	}
	return helpers.ParseDuration(p.ReclaimInterval)
}

// Validate checks the configuration for errors that would make the pool
// unusable. It returns the first problem found.
func (c *Config) Validate() error {
	if len(c.Pool.Endpoints) == 0 {
		return fmt.Errorf("pool: at least one endpoint is required")
	}

	seen := make(map[string]bool, len(c.Pool.Endpoints))
	for i, ep := range c.Pool.Endpoints {
		if ep.ID == "" {
			return fmt.Errorf("pool.endpoint[%d]: id is required", i)
		}
		if seen[ep.ID] {
			return fmt.Errorf("pool.endpoint[%d]: duplicate id %q", i, ep.ID)
		}
		seen[ep.ID] = true
		if ep.URL == "" {
			return fmt.Errorf("pool.endpoint[%d] (%s): url is required", i, ep.ID)
		}
		if ep.MaxSessions <= 0 {
			return fmt.Errorf("pool.endpoint[%d] (%s): max_sessions must be positive, got %d", i, ep.ID, ep.MaxSessions)
		}
		if ep.Weight < 0 {
			return fmt.Errorf("pool.endpoint[%d] (%s): weight must not be negative, got %g", i, ep.ID, ep.Weight)
		}
	}

	if a := c.Pool.SmoothingAlpha; a != 0 && (a <= 0 || a > 1) {
		return fmt.Errorf("pool: smoothing_alpha must be in (0,1], got %g", a)
	}
	if f := c.Pool.WarmupScaleFactor; f != 0 && f < 1 {
		return fmt.Errorf("pool: warmup_scale_factor must be >= 1, got %g", f)
	}

	for _, field := range []struct {
		name  string
		parse func() (time.Duration, error)
	}{
		{"default_lease_ttl", c.Pool.GetDefaultLeaseTTL},
		{"ejection_cooldown", c.Pool.GetEjectionCooldown},
		{"stickiness_ttl", c.Pool.GetStickinessTTL},
		{"reclaim_interval", c.Pool.GetReclaimInterval},
	} {
		if _, err := field.parse(); err != nil {
			return fmt.Errorf("pool: %s: %w", field.name, err)
		}
	}

	if c.HTTPAPI.Start {
		if c.HTTPAPI.Addr == "" {
			return fmt.Errorf("http_api: addr is required when start is true")
		}
		if c.HTTPAPI.APIKey == "" {
			return fmt.Errorf("http_api: api_key is required when start is true")
		}
		if c.HTTPAPI.TLS && (c.HTTPAPI.TLSCertFile == "" || c.HTTPAPI.TLSKeyFile == "") {
			return fmt.Errorf("http_api: tls_cert_file and tls_key_file are required when tls is true")
		}
	}

	return nil
}

// LoadConfigFromFile loads configuration from a TOML file into cfg,
// preserving any defaults already set on it.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	metadata, err := toml.DecodeFile(configPath, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	// Warn about unknown keys so typos do not silently disable settings.
	if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
		for _, key := range undecoded {
			log.Printf("WARNING: unknown configuration option '%s' in %s", key.String(), configPath)
		}
	}

	return nil
}
