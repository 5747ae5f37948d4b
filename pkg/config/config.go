// Package config loads the exporter's environment-sourced settings.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SPEEDTEST"

// Config is read once at startup and immutable afterwards.
type Config struct {
	// Port the HTTP server listens on.
	Port int
	// CacheDuration is how long a successful measurement is reused.
	// Zero disables reuse: every scrape measures.
	CacheDuration time.Duration
	// Timeout is the hard wall-clock limit for one speedtest run.
	Timeout time.Duration
	// FailureDebounce suppresses re-invocation for this long after a
	// failed run. Zero disables the suppression.
	FailureDebounce time.Duration
	// ServerID pins measurements to a specific speedtest server.
	// Empty lets the tool auto-select.
	ServerID string
	// Binary is the speedtest executable to invoke.
	Binary string
}

// Load reads SPEEDTEST_* environment variables into a Config.
func Load() (*Config, error) {
	return FromViper(viper.New())
}

// FromViper is Load with an injectable viper instance for tests.
func FromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("port", 9798)
	v.SetDefault("cache_duration", 0)
	v.SetDefault("timeout", 90)
	v.SetDefault("failure_debounce", 30)
	v.SetDefault("server_id", "")
	v.SetDefault("binary", "speedtest")

	cfg := &Config{
		Port:            v.GetInt("port"),
		CacheDuration:   time.Duration(v.GetInt("cache_duration")) * time.Second,
		Timeout:         time.Duration(v.GetInt("timeout")) * time.Second,
		FailureDebounce: time.Duration(v.GetInt("failure_debounce")) * time.Second,
		ServerID:        v.GetString("server_id"),
		Binary:          v.GetString("binary"),
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SPEEDTEST_PORT must be in 1..65535, got %q", v.GetString("port"))
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("SPEEDTEST_TIMEOUT must be a positive number of seconds, got %q", v.GetString("timeout"))
	}
	if cfg.CacheDuration < 0 {
		return nil, fmt.Errorf("SPEEDTEST_CACHE_DURATION must not be negative, got %q", v.GetString("cache_duration"))
	}
	if cfg.FailureDebounce < 0 {
		return nil, fmt.Errorf("SPEEDTEST_FAILURE_DEBOUNCE must not be negative, got %q", v.GetString("failure_debounce"))
	}
	if cfg.Binary == "" {
		return nil, fmt.Errorf("SPEEDTEST_BINARY must not be empty")
	}

	return cfg, nil
}
