package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/sessionkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string          address and port of the auth server
//	-r string          cross-tab relay websocket URL
//	-d string          path of the local sqlite database
//	-e string          timing preset: production, development or test
//	-l string          log level: debug, info, warn or error
//	-i duration        refresh interval
//	-diag              diagnostic refresh interval (30s)
//	-idle duration     inactivity before the session goes idle
//	-prompt duration   idle time before the warning is shown
//	-timeout duration  warning countdown before logout
//	-cross-tab         share activity and logout with other sessions
//
// Other arguments are ignored (see flagx.ParseFiltered). Parse errors panic.
func parseFlags(cfg *Config) {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.RelayURL, "r", cfg.RelayURL, "cross-tab relay websocket URL")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "local database path")
	fs.StringVar(&cfg.Environment, "e", cfg.Environment, "timing preset (production|development|test)")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.DurationVar(&cfg.RefreshInterval, "i", cfg.RefreshInterval, "token refresh interval")
	fs.BoolVar(&cfg.RefreshDiagnostic, "diag", cfg.RefreshDiagnostic, "refresh every 30s")
	fs.DurationVar(&cfg.IdleAfter, "idle", cfg.IdleAfter, "inactivity before idle")
	fs.DurationVar(&cfg.PromptAfter, "prompt", cfg.PromptAfter, "idle time before the warning")
	fs.DurationVar(&cfg.PromptTimeout, "timeout", cfg.PromptTimeout, "warning countdown before logout")
	fs.BoolVar(&cfg.CrossTab, "cross-tab", cfg.CrossTab, "share activity with other sessions")

	if err := flagx.ParseFiltered(fs, os.Args[1:]); err != nil {
		panic(err)
	}
}
