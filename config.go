package transithub

import (
	"fmt"
	"os"
)

// Config is everything the process reads from its environment.
type Config struct {
	// DatabaseURL is a Postgres connection string. Required.
	DatabaseURL string
	// RedisURL is a redis:// connection string. Required.
	RedisURL string
	// BusAPIKey authenticates against the OneBusAway-style bus APIs.
	// Required for the bus adapters.
	BusAPIKey string
	// DebugDir, when non-empty, receives a prototext dump of every
	// decoded feed.
	DebugDir string
	// Address is the HTTP listen address.
	Address string
}

// ConfigFromEnv reads configuration from the environment. Only the
// connection strings are hard requirements; a missing bus API key
// surfaces later, when a bus adapter is constructed.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		BusAPIKey:   os.Getenv("MTA_BUS_API_KEY"),
		Address:     os.Getenv("ADDRESS"),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL is required")
	}
	if os.Getenv("DEBUG_GTFS") != "" {
		cfg.DebugDir = "./gtfs"
	}
	if cfg.Address == "" {
		cfg.Address = "0.0.0.0:3055"
	}
	return cfg, nil
}
