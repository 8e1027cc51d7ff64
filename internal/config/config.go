package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort     = 8080
	DefaultTickInterval = 5 * time.Second
	DefaultPollInterval = 30 * time.Second
	DefaultDatabasePath = "opshub.db"
	DefaultStaleWindow  = 5 * time.Minute
)

// Config holds the hub configuration parsed from config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all hub settings.
type ServerConfig struct {
	// HTTPPort is the port the websocket endpoint, REST API, and metrics
	// listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures the shared-secret gate for privileged pushes.
	Auth AuthConfig `yaml:"auth"`

	// Simulator controls the flight kinematics tick.
	Simulator SimulatorConfig `yaml:"simulator"`

	// Poller controls the backing-store change feed.
	Poller PollerConfig `yaml:"poller"`

	// Database configures the SQLite backing store.
	Database DatabaseConfig `yaml:"database"`

	// Routing maps an update family (flight, aircraft, cargo, crew,
	// dispatch) to the departments that receive its broadcasts. The file is
	// watched, so the table can be changed without a restart.
	Routing map[string][]string `yaml:"routing"`

	// Webhooks are escalation targets for system-wide alert envelopes.
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AuthConfig controls the authentication gate.
type AuthConfig struct {
	// SecretEnv is the name of the environment variable that holds the
	// shared bearer secret. An unset or empty secret puts the gate in open
	// mode, which disables all access control.
	SecretEnv string `yaml:"secret_env"`

	// StaleWindow is how long an unauthenticated connection may stay open
	// before the periodic sweep closes it. Default: 5m.
	StaleWindow time.Duration `yaml:"stale_window"`
}

// Secret returns the shared secret resolved from the environment.
func (a AuthConfig) Secret() string {
	if a.SecretEnv == "" {
		return ""
	}
	return os.Getenv(a.SecretEnv)
}

// SimulatorConfig controls the kinematics tick loop.
type SimulatorConfig struct {
	// Tick is the simulation advance period. Default: 5s.
	Tick time.Duration `yaml:"tick"`
}

// PollerConfig controls the change-feed poller.
type PollerConfig struct {
	// Interval is how often the backing store is asked for changed rows.
	// Default: 30s. Zero disables the poller.
	Interval time.Duration `yaml:"interval"`
}

// DatabaseConfig configures the SQLite backing store.
type DatabaseConfig struct {
	// Path is the SQLite database file. Default: opshub.db.
	Path string `yaml:"path"`
}

// WebhookConfig defines one webhook escalation target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// DefaultRouting is the department fan-out table used when the config file
// does not override it. Update kinds not present in the table fan out to no
// department.
func DefaultRouting() map[string][]string {
	return map[string][]string{
		"flight":   {"flightops", "dispatch"},
		"aircraft": {"flightops", "maintenance"},
		"cargo":    {"cargo", "flightops"},
		"crew":     {"crew", "flightops"},
		"dispatch": {"dispatch", "flightops"},
	}
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Auth: AuthConfig{
				StaleWindow: DefaultStaleWindow,
			},
			Simulator: SimulatorConfig{
				Tick: DefaultTickInterval,
			},
			Poller: PollerConfig{
				Interval: DefaultPollInterval,
			},
			Database: DatabaseConfig{
				Path: DefaultDatabasePath,
			},
			Routing: DefaultRouting(),
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.Simulator.Tick <= 0 {
		return fmt.Errorf("server.simulator.tick must be positive")
	}
	if cfg.Server.Poller.Interval < 0 {
		return fmt.Errorf("server.poller.interval must not be negative")
	}
	if cfg.Server.Database.Path == "" {
		return fmt.Errorf("server.database.path must not be empty")
	}
	if cfg.Server.Auth.StaleWindow < 0 {
		return fmt.Errorf("server.auth.stale_window must not be negative")
	}
	for kind := range cfg.Server.Routing {
		switch kind {
		case "flight", "aircraft", "cargo", "crew", "dispatch":
		default:
			return fmt.Errorf("server.routing: unknown update kind %q", kind)
		}
	}
	for i, wh := range cfg.Server.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.webhooks[%d].type %q unknown: want slack|teams|http", i, wh.Type)
		}
	}
	return nil
}
