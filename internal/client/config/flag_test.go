package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "addresses and timings",
			args: []string{"cmd", "-a", "127.0.0.1:9090", "-i", "1m", "-idle", "10s", "-timeout", "5s", "-unknown", "x"},
			expected: &Config{
				ServerEndpointAddr: "127.0.0.1:9090",
				RefreshInterval:    time.Minute,
				IdleAfter:          10 * time.Second,
				PromptTimeout:      5 * time.Second,
			},
		},
		{
			name:     "bool flags",
			args:     []string{"cmd", "-diag", "-cross-tab=true", "-e", "test"},
			expected: &Config{RefreshDiagnostic: true, CrossTab: true, Environment: "test"},
		},
		{name: "incorrect interval", args: []string{"cmd", "-i", "abc"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(tt.expected, config))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
