// Package config loads Motor/Cortex process configuration from an optional
// YAML file plus environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment names the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// ParseEnvironment validates and normalizes a MOTORCORTEX_ENV value.
func ParseEnvironment(s string) (Environment, bool) {
	switch Environment(strings.ToLower(s)) {
	case Development:
		return Development, true
	case Staging:
		return Staging, true
	case Production:
		return Production, true
	default:
		return "", false
	}
}

// BusConfig points at the persistent signed bus.
type BusConfig struct {
	URL       string `json:"url" env:"MOTORCORTEX_BUS_URL"`
	Namespace string `json:"namespace" env:"MOTORCORTEX_BUS_NAMESPACE"`
}

// DatabaseConfig controls the postgres-backed ledger and shadow-state stores.
type DatabaseConfig struct {
	DSN            string `json:"dsn" env:"MOTORCORTEX_DB_URL"`
	MaxOpenConns   int    `json:"max_open_conns" env:"MOTORCORTEX_DB_MAX_OPEN_CONNS"`
	MaxIdleConns   int    `json:"max_idle_conns" env:"MOTORCORTEX_DB_MAX_IDLE_CONNS"`
	MigrateOnStart bool   `json:"migrate_on_start" env:"MOTORCORTEX_DB_MIGRATE_ON_START"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `json:"level" env:"MOTORCORTEX_LOG_LEVEL"`
	Format string `json:"format" env:"MOTORCORTEX_LOG_FORMAT"`
}

// SecurityConfig controls the credential vault and envelope signing.
type SecurityConfig struct {
	MasterSecret string `json:"-" env:"MOTORCORTEX_MASTER_SECRET"`
	PolicyFile   string `json:"policy_file" env:"MOTORCORTEX_POLICY_FILE"`
}

// HealthConfig controls the admin/health HTTP surface.
type HealthConfig struct {
	Port int `json:"port" env:"MOTORCORTEX_HEALTH_PORT"`
}

// ReconcileConfig tunes the shadow-state reconciler.
type ReconcileConfig struct {
	CronSpec     string        `json:"cron_spec" env:"MOTORCORTEX_RECONCILE_CRON"`
	DriftWindow  time.Duration `json:"-" env:"MOTORCORTEX_DRIFT_WINDOW"`
	DriftBars    int           `json:"drift_bars" env:"MOTORCORTEX_DRIFT_PERSISTENT_BARS"`
}

// Config is the top-level process configuration for both cmd/motor and
// cmd/cortex; each binary reads only the sections it needs.
type Config struct {
	Env       Environment     `json:"env"`
	Identity  string          `json:"identity" env:"MOTORCORTEX_IDENTITY"`
	Bus       BusConfig       `json:"bus"`
	Database  DatabaseConfig  `json:"database"`
	Logging   LoggingConfig   `json:"logging"`
	Security  SecurityConfig  `json:"security"`
	Health    HealthConfig    `json:"health"`
	Reconcile ReconcileConfig `json:"reconcile"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Env: Development,
		Bus: BusConfig{
			Namespace: "motorcortex",
		},
		Database: DatabaseConfig{
			MaxOpenConns:   10,
			MaxIdleConns:   5,
			MigrateOnStart: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Health: HealthConfig{
			Port: 9090,
		},
		Reconcile: ReconcileConfig{
			CronSpec:    "@every 60s",
			DriftWindow: 5 * time.Minute,
			DriftBars:   3,
		},
	}
}

// Load reads MOTORCORTEX_ENV, loads config/<env>.yaml if present, then applies
// environment variable overrides and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	envStr := os.Getenv("MOTORCORTEX_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env, ok := ParseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid MOTORCORTEX_ENV: %s", envStr)
	}

	cfg := New()
	cfg.Env = env

	yamlPath := fmt.Sprintf("config/%s.yaml", env)
	if path := strings.TrimSpace(os.Getenv("MOTORCORTEX_CONFIG_FILE")); path != "" {
		yamlPath = path
	}
	if err := loadFromFile(yamlPath, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations that would be unsafe to boot a live
// trading process with.
func (c *Config) Validate() error {
	if c.Identity == "" {
		return fmt.Errorf("MOTORCORTEX_IDENTITY is required")
	}
	if c.Bus.URL == "" {
		return fmt.Errorf("MOTORCORTEX_BUS_URL is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("MOTORCORTEX_DB_URL is required")
	}
	if c.Security.MasterSecret == "" {
		return fmt.Errorf("MOTORCORTEX_MASTER_SECRET is required")
	}
	if c.Env == Production {
		if c.Security.PolicyFile == "" {
			return fmt.Errorf("MOTORCORTEX_POLICY_FILE must be set in production")
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == Production
}
