package config

import (
	"log"
	"os"
	"time"
)

// Config holds the server's runtime settings, loaded from environment
// variables with sensible defaults.
type Config struct {
	HTTPPort string

	// Housekeeping knobs. The interval bounds how long an abandoned
	// session can outlive its idle threshold; the threshold is
	// generous so slow but legitimate sessions survive.
	SweepInterval time.Duration
	IdleThreshold time.Duration
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		SweepInterval: getDurationEnv("SWEEP_INTERVAL", 30*time.Minute),
		IdleThreshold: getDurationEnv("SESSION_IDLE_THRESHOLD", 4*time.Hour),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Printf("Warning: invalid %s %q, using default %s", key, val, defaultVal)
		return defaultVal
	}
	return d
}
