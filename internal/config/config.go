package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	LogLevel  string
	LogFormat string

	HTTPTimeout       time.Duration
	PollAttempts      int
	PollInterval      time.Duration
	DestinationExpiry string
}

// Load reads the service configuration. DB_SOURCE is required.
func Load() (*Config, error) {
	cfg, err := LoadSender()
	if err != nil {
		return nil, err
	}
	if cfg.DBSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}
	return cfg, nil
}

// LoadSender reads the configuration of a one-shot sender, which runs
// without a database.
func LoadSender() (*Config, error) {
	cfg := &Config{
		DBSource:          os.Getenv("DB_SOURCE"),
		Port:              getenv("SERVER_PORT", "8080"),
		Env:               getenv("ENVIRONMENT", "development"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogFormat:         getenv("LOG_FORMAT", "console"),
		DestinationExpiry: getenv("QUOTE_EXPIRY_DURATION", "2"),
	}

	var err error
	if cfg.HTTPTimeout, err = duration("HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = duration("STATE_POLL_INTERVAL", time.Second); err != nil {
		return nil, err
	}

	attempts := getenv("STATE_POLL_ATTEMPTS", "5")
	cfg.PollAttempts, err = strconv.Atoi(attempts)
	if err != nil || cfg.PollAttempts < 1 {
		return nil, fmt.Errorf("STATE_POLL_ATTEMPTS must be a positive integer, got %q", attempts)
	}

	expiry, err := decimal.NewFromString(cfg.DestinationExpiry)
	if err != nil || !expiry.IsPositive() {
		return nil, fmt.Errorf("QUOTE_EXPIRY_DURATION must be a positive number of seconds, got %q", cfg.DestinationExpiry)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a non-negative duration, got %q", key, v)
	}
	return d, nil
}
