package config

import (
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/activity"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/refresh"
)

// Config holds runtime settings for the sessionkeeper CLI.
//
// Zero durations fall back to the environment preset (idle timings) or to
// the coordinator defaults (refresh timings).
type Config struct {
	ServerEndpointAddr string
	RelayURL           string
	DatabasePath       string
	DeviceSecret       string
	Environment        string
	LogLevel           string

	RefreshInterval   time.Duration
	RefreshDiagnostic bool

	IdleAfter        time.Duration
	PromptAfter      time.Duration
	PromptTimeout    time.Duration
	ActivityThrottle time.Duration
	CrossTab         bool
	PauseOnHidden    bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.RelayURL = ""
	c.DatabasePath = "sessionkeeper.db"
	c.DeviceSecret = ""
	c.Environment = "production"
	c.LogLevel = "warn"
	c.CrossTab = true
	c.PauseOnHidden = true
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// Activity builds the monitor configuration: the environment preset with
// the explicitly configured values on top.
func (c *Config) Activity() (activity.Config, error) {
	a, err := activity.ConfigFor(c.Environment)
	if err != nil {
		return a, err
	}
	if c.IdleAfter > 0 {
		a.IdleAfter = c.IdleAfter
	}
	if c.PromptAfter > 0 {
		a.PromptAfter = c.PromptAfter
	}
	if c.PromptTimeout > 0 {
		a.PromptTimeout = c.PromptTimeout
	}
	if c.ActivityThrottle > 0 {
		a.Throttle = c.ActivityThrottle
	}
	a.CrossTab = c.CrossTab && c.RelayURL != ""
	a.PauseOnHidden = c.PauseOnHidden
	a.TokenResetInterval = c.Refresh().EffectiveInterval()
	return a, a.Validate()
}

func (c *Config) Refresh() refresh.Config {
	return refresh.Config{
		Interval:   c.RefreshInterval,
		Diagnostic: c.RefreshDiagnostic,
	}
}
