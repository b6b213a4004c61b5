package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresets(t *testing.T) {
	for name, cfg := range map[string]Config{
		"default":     DefaultConfig(),
		"development": DevelopmentConfig(),
		"test":        TestConfig(),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, cfg.Validate())
		})
	}

	assert.Equal(t, 3*time.Minute, DefaultConfig().Total())
	assert.Equal(t, 30*time.Second, DevelopmentConfig().Total())
	assert.Equal(t, 10*time.Second, DevelopmentConfig().PromptTimeout)
	assert.Equal(t, 5*time.Second, TestConfig().Total())
	assert.Equal(t, 2*time.Second, TestConfig().PromptTimeout)
}

func TestConfigFor(t *testing.T) {
	cfg, err := ConfigFor("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = ConfigFor("development")
	require.NoError(t, err)
	assert.Equal(t, DevelopmentConfig(), cfg)

	_, err = ConfigFor("staging")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate_Rejects(t *testing.T) {
	tests := map[string]func(*Config){
		"prompt under a second": func(c *Config) { c.PromptTimeout = 500 * time.Millisecond },
		"total under five seconds": func(c *Config) {
			c.IdleAfter, c.PromptAfter, c.PromptTimeout = time.Second, time.Second, time.Second
		},
		"no idle period":    func(c *Config) { c.IdleAfter = 0 },
		"negative throttle": func(c *Config) { c.Throttle = -time.Second },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
