package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Dispatch DispatchConfig
	Sources  SourcesConfig
	Sweep    SweepConfig
	Notify   NotifyConfig
	DB       DatabaseConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DispatchConfig struct {
	Workers    int
	BufferSize int
}

type SourcesConfig struct {
	WeatherEnabled      bool
	WeatherURL          string
	WeatherAPIKey       string
	WeatherPollInterval time.Duration
	WeatherTimeout      time.Duration
}

type SweepConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

type NotifyConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Dispatch: DispatchConfig{
			Workers:    getEnvInt("DISPATCH_WORKERS", 4),
			BufferSize: getEnvInt("DISPATCH_BUFFER_SIZE", 64),
		},
		Sources: SourcesConfig{
			WeatherEnabled:      getEnvBool("WEATHER_ENABLED", true),
			WeatherURL:          getEnv("WEATHER_URL", "https://api.openweathermap.org/data/2.5"),
			WeatherAPIKey:       getEnv("WEATHER_API_KEY", ""),
			WeatherPollInterval: getEnvDuration("WEATHER_POLL_INTERVAL", 10*time.Minute),
			WeatherTimeout:      getEnvDuration("WEATHER_TIMEOUT", 15*time.Second),
		},
		Sweep: SweepConfig{
			Interval:  getEnvDuration("SWEEP_INTERVAL", time.Hour),
			Retention: getEnvDuration("NOTIFICATION_RETENTION", 30*24*time.Hour),
		},
		Notify: NotifyConfig{
			VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
			VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
			VAPIDSubscriber: getEnv("VAPID_SUBSCRIBER", "mailto:alerts@example.com"),
			SMTPHost:        getEnv("SMTP_HOST", ""),
			SMTPPort:        getEnvInt("SMTP_PORT", 587),
			SMTPUsername:    getEnv("SMTP_USERNAME", ""),
			SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
			SMTPFrom:        getEnv("SMTP_FROM", ""),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/geodispatch.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Sources.WeatherPollInterval < time.Minute {
		return fmt.Errorf("weather poll interval must be at least 1 minute")
	}
	if c.Sweep.Interval < time.Minute {
		return fmt.Errorf("sweep interval must be at least 1 minute")
	}
	if c.Sweep.Retention <= 0 {
		return fmt.Errorf("notification retention must be positive")
	}

	// VAPID keys come in pairs.
	if (c.Notify.VAPIDPublicKey == "") != (c.Notify.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID keys must be set together or not at all")
	}
	if c.Notify.SMTPHost != "" && c.Notify.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}

	return nil
}

// PushConfigured reports whether web push can be enabled.
func (c *Config) PushConfigured() bool {
	return c.Notify.VAPIDPublicKey != "" && c.Notify.VAPIDPrivateKey != ""
}

// EmailConfigured reports whether the SMTP transport can be enabled.
func (c *Config) EmailConfigured() bool {
	return c.Notify.SMTPHost != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
