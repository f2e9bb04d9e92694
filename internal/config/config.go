// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config covers both the sync server and the client-side supervisor
// defaults. Every knob has the shipped default and an env override.
type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	PromptsPath string `env:"PROMPTS_PATH" envDefault:"data/prompts.json"`
	HistoryDB   string `env:"HISTORY_DB" envDefault:"royalishq.db"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"10s"`
	DisconnectDebounce time.Duration `env:"DISCONNECT_DEBOUNCE" envDefault:"2s"`
	ReconnectBase      time.Duration `env:"RECONNECT_BASE" envDefault:"1s"`
	ReconnectCap       time.Duration `env:"RECONNECT_CAP" envDefault:"16s"`
	ReconnectAttempts  int           `env:"RECONNECT_ATTEMPTS" envDefault:"5"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
