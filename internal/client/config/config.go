package config

import (
	"time"

	"github.com/urfave/cli/v2"
)

// Config holds runtime settings for the sharekeeper CLI.
//
// Fields:
//   - ServerURL: base URL of the sharekeeper HTTP API.
//   - CacheDSN: SQLite file holding the local session cache.
//   - RequestTimeout: deadline for a single API request.
//   - OnlineCheckInterval: how often the shell probes server reachability.
//   - LogLevel: debug, info, warn or error.
type Config struct {
	ServerURL           string
	CacheDSN            string
	RequestTimeout      time.Duration
	OnlineCheckInterval time.Duration
	LogLevel            string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.CacheDSN = "sharekeeper.db"
	c.RequestTimeout = 10 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
	c.LogLevel = "warn"
}

// Load constructs a Config, applies defaults, then overlays values from the
// JSON file named by --config (if any) and the global flags set on cCtx.
// Later sources take precedence over earlier ones.
func Load(cCtx *cli.Context) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path := cCtx.String(FlagConfig); path != "" {
		if err := parseJson(cfg, path); err != nil {
			return nil, err
		}
	}
	applyFlags(cfg, cCtx)
	return cfg, nil
}
