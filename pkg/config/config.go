package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Parse populates cfg from environment variables using `env` struct tags.
//
// Example:
//
//	type Config struct {
//	    HTTPPort int    `env:"HTTP_PORT" envDefault:"8007"`
//	    LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
//	}
func Parse(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}
