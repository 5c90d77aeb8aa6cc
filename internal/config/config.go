package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the companion configuration
type Config struct {
	Backend struct {
		URL     string        `yaml:"url"`     // Exam backend base URL (e.g., http://localhost:5000)
		Timeout time.Duration `yaml:"timeout"` // Per-request timeout (default: 60s)
	} `yaml:"backend"`

	Gateway struct {
		Address     string   `yaml:"address"`      // Listen address (default: :8090)
		CORSOrigins []string `yaml:"cors_origins"` // Allowed origins; empty allows any
	} `yaml:"gateway"`

	Poll struct {
		Interval time.Duration `yaml:"interval"` // Task poll interval (default: 5s)
		Timeout  time.Duration `yaml:"timeout"`  // Total polling budget (default: 10m)
	} `yaml:"poll"`

	Redis struct {
		Addr     string `yaml:"addr"` // default: localhost:6379
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	History struct {
		Driver string `yaml:"driver"` // sqlite or postgres (default: sqlite)
		DSN    string `yaml:"dsn"`    // File path for sqlite, connection string for postgres
	} `yaml:"history"`

	Session struct {
		BrowsingID string        `yaml:"browsing_id"` // Fixed browsing session id; empty starts a fresh one
		AccessTTL  time.Duration `yaml:"access_ttl"`  // Access token lifetime before refresh (default: 10m)
		ExamTTL    time.Duration `yaml:"exam_ttl"`    // Cached unsaved exam lifetime (default: 1h)
		TaskTTL    time.Duration `yaml:"task_ttl"`    // Remembered task id lifetime (default: 24h)
		ToastTTL   time.Duration `yaml:"toast_ttl"`   // Error/success message lifetime (default: 3s)
	} `yaml:"session"`
}

// Load reads the YAML file at path, overlays .env and PEAR_* environment
// variables, fills defaults and validates. A missing file is fine as long as
// the environment supplies the required fields.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			log.Printf("[config] %s not found, using environment only", path)
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// .env never overrides variables already set in the process.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Backend.URL = envOr("PEAR_BACKEND_URL", c.Backend.URL)
	c.Backend.Timeout = envDurationOr("PEAR_BACKEND_TIMEOUT", c.Backend.Timeout)
	c.Gateway.Address = envOr("PEAR_GATEWAY_ADDR", c.Gateway.Address)
	c.Poll.Interval = envDurationOr("PEAR_POLL_INTERVAL", c.Poll.Interval)
	c.Poll.Timeout = envDurationOr("PEAR_POLL_TIMEOUT", c.Poll.Timeout)
	c.Redis.Addr = envOr("PEAR_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envOr("PEAR_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = envIntOr("PEAR_REDIS_DB", c.Redis.DB)
	c.History.Driver = envOr("PEAR_HISTORY_DRIVER", c.History.Driver)
	c.History.DSN = envOr("PEAR_HISTORY_DSN", c.History.DSN)
	c.Session.BrowsingID = envOr("PEAR_BROWSING_ID", c.Session.BrowsingID)
	c.Session.AccessTTL = envDurationOr("PEAR_ACCESS_TTL", c.Session.AccessTTL)
}

func (c *Config) applyDefaults() {
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 60 * time.Second
	}
	if c.Gateway.Address == "" {
		c.Gateway.Address = ":8090"
	}
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = 5 * time.Second
	}
	if c.Poll.Timeout <= 0 {
		c.Poll.Timeout = 10 * time.Minute
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.History.Driver == "" {
		c.History.Driver = "sqlite"
	}
	if c.History.DSN == "" && c.History.Driver == "sqlite" {
		c.History.DSN = "./data/history.db"
	}
	if c.Session.AccessTTL <= 0 {
		c.Session.AccessTTL = 10 * time.Minute
	}
	if c.Session.ExamTTL <= 0 {
		c.Session.ExamTTL = time.Hour
	}
	if c.Session.TaskTTL <= 0 {
		c.Session.TaskTTL = 24 * time.Hour
	}
	if c.Session.ToastTTL <= 0 {
		c.Session.ToastTTL = 3 * time.Second
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	switch c.History.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("history.driver must be sqlite or postgres, got %q", c.History.Driver)
	}
	if c.History.DSN == "" {
		return fmt.Errorf("history.dsn is required")
	}
	if c.Poll.Interval > c.Poll.Timeout {
		return fmt.Errorf("poll.interval (%s) exceeds poll.timeout (%s)", c.Poll.Interval, c.Poll.Timeout)
	}
	return nil
}

// ─── helpers ───

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
