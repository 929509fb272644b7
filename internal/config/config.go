package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models gigline.yml.
type Config struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Server struct {
		Addr          string `yaml:"addr"`
		BasePath      string `yaml:"base_path"`
		JWTSecret     string `yaml:"jwt_secret"`
		WebhookSecret string `yaml:"webhook_secret"`
		DevLogin      bool   `yaml:"dev_login"`
	} `yaml:"server"`
	Missions struct {
		ReservationWindow time.Duration `yaml:"reservation_window"`
		SweepInterval     time.Duration `yaml:"sweep_interval"`
	} `yaml:"missions"`
	Payments struct {
		Currency              string         `yaml:"currency"`
		RequireSignedContract bool           `yaml:"require_signed_contract"`
		RetryAfter            time.Duration  `yaml:"retry_after"`
		Provider              ProviderConfig `yaml:"provider"`
	} `yaml:"payments"`
	Consent struct {
		Enforce bool   `yaml:"enforce"`
		Version string `yaml:"version"`
	} `yaml:"consent"`
	RateLimit struct {
		Enabled         bool    `yaml:"enabled"`
		RedisAddr       string  `yaml:"redis_addr"`
		RedisPassword   string  `yaml:"redis_password"`
		RedisDB         int     `yaml:"redis_db"`
		Capacity        int     `yaml:"capacity"`
		RefillPerSecond float64 `yaml:"refill_per_second"`
	} `yaml:"rate_limit"`
	Notifications struct {
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notifications"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type ProviderConfig struct {
	Kind    string        `yaml:"kind"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with gl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("config.database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Missions.ReservationWindow <= 0 {
		return fmt.Errorf("config.missions.reservation_window must be positive")
	}
	if c.Missions.SweepInterval <= 0 {
		return fmt.Errorf("config.missions.sweep_interval must be positive")
	}
	if len(c.Payments.Currency) != 3 || strings.ToUpper(c.Payments.Currency) != c.Payments.Currency {
		return fmt.Errorf("config.payments.currency must be an upper-case ISO 4217 code")
	}
	if c.Payments.RetryAfter <= 0 {
		return fmt.Errorf("config.payments.retry_after must be positive")
	}
	switch c.Payments.Provider.Kind {
	case "fake":
	case "http":
		if strings.TrimSpace(c.Payments.Provider.BaseURL) == "" {
			return fmt.Errorf("config.payments.provider.base_url is required for http provider")
		}
	default:
		return fmt.Errorf("config.payments.provider.kind must be fake or http")
	}
	if c.Consent.Enforce && strings.TrimSpace(c.Consent.Version) == "" {
		return fmt.Errorf("config.consent.version is required when consent is enforced")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Capacity <= 0 {
			return fmt.Errorf("config.rate_limit.capacity must be positive")
		}
		if c.RateLimit.RefillPerSecond <= 0 {
			return fmt.Errorf("config.rate_limit.refill_per_second must be positive")
		}
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notifications.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gigline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from data keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `database:
  driver: sqlite
  dsn: ""

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  jwt_secret: ""
  webhook_secret: ""
  dev_login: false

missions:
  reservation_window: 15m
  sweep_interval: 30s

payments:
  currency: EUR
  require_signed_contract: true
  retry_after: 30s
  provider:
    kind: fake
    base_url: ""
    api_key: ""
    timeout: 10s

consent:
  enforce: true
  version: "2024-01"

rate_limit:
  enabled: false
  redis_addr: ""
  capacity: 50
  refill_per_second: 20

notifications:
  webhooks: []

log:
  level: info
  format: text
`
