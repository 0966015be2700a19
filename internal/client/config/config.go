// Package config holds the settings of the homesync CLI: defaults, an
// optional JSON file and HOMESYNC_* environment variables. Command-line
// flags are applied last by the CLI itself.
package config

import (
	"time"
)

// Config holds runtime settings for the homesync CLI.
//
// Fields:
//   - ServerEndpointAddr: host:port of the sync gRPC endpoint.
//   - DatabasePath: the local SQLite replica.
//   - AccessToken: bearer token presented to the server; it also names the
//     session the replica writes under.
//   - RequestTimeout: bound on each remote call.
//   - PullLimit: records requested per pull page.
//   - LogLevel: debug, info, warn or error.
type Config struct {
	ServerEndpointAddr string        `env:"HOMESYNC_SERVER_ADDR"`
	DatabasePath       string        `env:"HOMESYNC_DB"`
	AccessToken        string        `env:"HOMESYNC_TOKEN"`
	RequestTimeout     time.Duration `env:"HOMESYNC_REQUEST_TIMEOUT"`
	PullLimit          int           `env:"HOMESYNC_PULL_LIMIT"`
	LogLevel           string        `env:"HOMESYNC_LOG_LEVEL"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.DatabasePath = "homesync.db"
	c.RequestTimeout = 10 * time.Second
	c.PullLimit = 200
	c.LogLevel = "warn"
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and the environment. Later sources take
// precedence over earlier ones.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
