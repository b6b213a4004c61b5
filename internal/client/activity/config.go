package activity

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("invalid activity config")

// Config controls idle detection.
//
// A session goes idle after IdleAfter without activity, is prompted after
// a further PromptAfter, and is logged out when PromptTimeout elapses
// without acknowledgement.
type Config struct {
	IdleAfter     time.Duration
	PromptAfter   time.Duration
	PromptTimeout time.Duration
	// Throttle is the minimum spacing between accepted activity events.
	Throttle     time.Duration
	TickInterval time.Duration

	CrossTab      bool
	PauseOnHidden bool
	// ResetTokenOnActivity refreshes the token on activity, at most once
	// per TokenResetInterval.
	ResetTokenOnActivity bool
	TokenResetInterval   time.Duration
}

// Total is the time from the last activity to logout.
func (c Config) Total() time.Duration {
	return c.IdleAfter + c.PromptAfter + c.PromptTimeout
}

// DefaultConfig is the production preset: three minutes to logout, the
// last thirty seconds of them prompted.
func DefaultConfig() Config {
	return Config{
		IdleAfter:            90 * time.Second,
		PromptAfter:          60 * time.Second,
		PromptTimeout:        30 * time.Second,
		Throttle:             500 * time.Millisecond,
		TickInterval:         time.Second,
		CrossTab:             true,
		PauseOnHidden:        true,
		ResetTokenOnActivity: true,
		TokenResetInterval:   3 * time.Minute,
	}
}

func DevelopmentConfig() Config {
	c := DefaultConfig()
	c.IdleAfter = 10 * time.Second
	c.PromptAfter = 10 * time.Second
	c.PromptTimeout = 10 * time.Second
	return c
}

func TestConfig() Config {
	c := DefaultConfig()
	c.IdleAfter = 2 * time.Second
	c.PromptAfter = time.Second
	c.PromptTimeout = 2 * time.Second
	return c
}

// ConfigFor returns the preset for an environment name. An empty name is
// production.
func ConfigFor(env string) (Config, error) {
	switch env {
	case "", "production":
		return DefaultConfig(), nil
	case "development":
		return DevelopmentConfig(), nil
	case "test":
		return TestConfig(), nil
	}
	return Config{}, fmt.Errorf("%w: unknown environment %q", ErrInvalidConfig, env)
}

// Validate checks the timing constraints.
func (c Config) Validate() error {
	switch {
	case c.IdleAfter <= 0:
		return fmt.Errorf("%w: idle_after must be positive", ErrInvalidConfig)
	case c.PromptAfter < 0:
		return fmt.Errorf("%w: prompt_after must not be negative", ErrInvalidConfig)
	case c.PromptTimeout < time.Second:
		return fmt.Errorf("%w: prompt timeout must be at least 1s", ErrInvalidConfig)
	case c.Total() < 5*time.Second:
		return fmt.Errorf("%w: total timeout must be at least 5s", ErrInvalidConfig)
	case c.Total() <= c.PromptTimeout:
		return fmt.Errorf("%w: total timeout must exceed prompt timeout", ErrInvalidConfig)
	case c.Throttle < 0:
		return fmt.Errorf("%w: throttle must not be negative", ErrInvalidConfig)
	}
	return nil
}
