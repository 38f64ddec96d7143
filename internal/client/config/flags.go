package config

import "github.com/urfave/cli/v2"

// Global flag names.
const (
	FlagConfig        = "config"
	FlagServer        = "server"
	FlagCache         = "cache"
	FlagTimeout       = "timeout"
	FlagCheckInterval = "check-interval"
	FlagVerbose       = "verbose"
)

// Flags returns the global flags Load reads. urfave flags keep state once
// applied, so every call builds new ones.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    FlagConfig,
			Aliases: []string{"c"},
			EnvVars: []string{"SHAREKEEPER_CONFIG"},
			Usage:   "path to a JSON config file",
		},
		&cli.StringFlag{
			Name:    FlagServer,
			Aliases: []string{"s"},
			EnvVars: []string{"SHAREKEEPER_SERVER"},
			Usage:   "base URL of the sharekeeper server",
		},
		&cli.StringFlag{
			Name:    FlagCache,
			EnvVars: []string{"SHAREKEEPER_CACHE"},
			Usage:   "path to the local session cache",
		},
		&cli.DurationFlag{
			Name:  FlagTimeout,
			Usage: "deadline for a single API request",
		},
		&cli.DurationFlag{
			Name:  FlagCheckInterval,
			Usage: "how often the shell checks that the server is reachable",
		},
		&cli.BoolFlag{
			Name:    FlagVerbose,
			Aliases: []string{"v"},
			Usage:   "log debug messages",
		},
	}
}

// applyFlags copies the flags explicitly set on cCtx into cfg.
func applyFlags(cfg *Config, cCtx *cli.Context) {
	if cCtx.IsSet(FlagServer) {
		cfg.ServerURL = cCtx.String(FlagServer)
	}
	if cCtx.IsSet(FlagCache) {
		cfg.CacheDSN = cCtx.String(FlagCache)
	}
	if cCtx.IsSet(FlagTimeout) {
		cfg.RequestTimeout = cCtx.Duration(FlagTimeout)
	}
	if cCtx.IsSet(FlagCheckInterval) {
		cfg.OnlineCheckInterval = cCtx.Duration(FlagCheckInterval)
	}
	if cCtx.Bool(FlagVerbose) {
		cfg.LogLevel = "debug"
	}
}
