// Package config loads the scraper's runtime configuration from the
// environment, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the sync job needs to run.
type Config struct {
	APIBaseURL string
	Email      string
	Password   string
	MapsKey    string
	LogFile    string
	Timeout    time.Duration
}

// Load reads the environment (after merging a .env file, when present)
// into a Config. Credentials are mandatory.
func Load() (*Config, error) {
	// A missing .env is fine: CI and production set real env vars.
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL: getEnv("PISSPRICER_URL", "https://api.pisspricer.co.nz/v1"),
		Email:      os.Getenv("PISSPRICER_EMAIL"),
		Password:   os.Getenv("PISSPRICER_PASSWORD"),
		MapsKey:    os.Getenv("MAPS_API_KEY"),
		LogFile:    getEnv("SCRAPER_LOG_FILE", "log.txt"),
		Timeout:    time.Duration(getEnvInt("SCRAPER_TIMEOUT_SECONDS", 30)) * time.Second,
	}
	if cfg.Email == "" || cfg.Password == "" {
		return nil, fmt.Errorf("config: PISSPRICER_EMAIL and PISSPRICER_PASSWORD must be set")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
