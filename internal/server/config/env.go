package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// parseEnv overlays HOMESYNC_* variables; unset variables leave fields as
// they are.
func parseEnv(config *Config) error {
	if err := env.Parse(config); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
