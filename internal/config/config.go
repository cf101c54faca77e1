// Package config loads process configuration for the notification pipeline
// from a YAML file, with environment variables layered on top for secrets
// and per-environment overrides.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the notification pipeline.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Redis         RedisConfig         `yaml:"redis"`
	Database      DatabaseConfig      `yaml:"database"`
	Schedules     SchedulesConfig     `yaml:"schedules"`
	Notifications NotificationsConfig `yaml:"notifications"`
	HomeURL       string              `yaml:"home_url"`
}

// ServerConfig holds HTTP server settings for cmd/notify-server.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// RedisConfig holds connection settings for the batch store, delay queue,
// and bootstrap distributed lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds the Postgres DSN backing the preference model.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// CategoryScheduleConfig is the YAML shape for one job category's timing.
type CategoryScheduleConfig struct {
	FirstDelayMS int `yaml:"first_delay_ms"`
	ThrottleMS   int `yaml:"throttle_ms"`
}

// SchedulesConfig holds per-category first-delay/throttle overrides.
// Zero values fall back to the schedule registry's built-in defaults
// (see internal/notify/schedule).
type SchedulesConfig struct {
	DocChange CategoryScheduleConfig `yaml:"doc_change"`
	Comment   CategoryScheduleConfig `yaml:"comment"`
}

// SenderConfig describes the From/Reply-To identity used on rendered mail.
type SenderConfig struct {
	Name                    string `yaml:"name"`
	Email                   string `yaml:"email"`
	DocNotificationsFrom    string `yaml:"doc_notifications_from"`
	DocNotificationsReplyTo string `yaml:"doc_notifications_reply_to"`
}

// NotificationsConfig wraps sender identity configuration.
type NotificationsConfig struct {
	Sender SenderConfig `yaml:"sender"`
}

// Load reads and parses the YAML config file at path, applying defaults
// for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Notifications.Sender.Email == "" {
		cfg.Notifications.Sender.Email = "notifications@example.com"
	}
	if cfg.Notifications.Sender.Name == "" {
		cfg.Notifications.Sender.Name = "Notifications"
	}
	// The latter two sender fields default to the sender's own email,
	// per the "From"/"Reply-To" fallback rule in the spec.
	if cfg.Notifications.Sender.DocNotificationsFrom == "" {
		cfg.Notifications.Sender.DocNotificationsFrom = cfg.Notifications.Sender.Email
	}
	if cfg.Notifications.Sender.DocNotificationsReplyTo == "" {
		cfg.Notifications.Sender.DocNotificationsReplyTo = cfg.Notifications.Sender.Email
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NOTIFY_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("HOME_URL"); v != "" {
		cfg.HomeURL = v
	}
	if v := os.Getenv("NOTIFY_SENDER_NAME"); v != "" {
		cfg.Notifications.Sender.Name = v
	}
	if v := os.Getenv("NOTIFY_SENDER_EMAIL"); v != "" {
		prev := cfg.Notifications.Sender.Email
		cfg.Notifications.Sender.Email = v
		// Re-apply the from/reply-to fallback in case the env override
		// arrived after the file-level default was already computed.
		if cfg.Notifications.Sender.DocNotificationsFrom == prev {
			cfg.Notifications.Sender.DocNotificationsFrom = v
		}
		if cfg.Notifications.Sender.DocNotificationsReplyTo == prev {
			cfg.Notifications.Sender.DocNotificationsReplyTo = v
		}
	}

	return cfg, nil
}

// FirstDelay returns the configured first-delay, or zero if unset.
func (c CategoryScheduleConfig) FirstDelay() time.Duration {
	return time.Duration(c.FirstDelayMS) * time.Millisecond
}

// Throttle returns the configured throttle, or zero if unset.
func (c CategoryScheduleConfig) Throttle() time.Duration {
	return time.Duration(c.ThrottleMS) * time.Millisecond
}
