// Package config loads runtime configuration for the sessionkeeper CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via -c/-config or
//     $SESSIONKEEPER_CONFIG.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # JSON schema
//
// Durations are strings like "90s" or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "relay_url": "ws://127.0.0.1:8080/relay",
//	  "database_path": "sessionkeeper.db",
//	  "device_secret": "change-me",
//	  "environment": "production",
//	  "log_level": "warn",
//	  "refresh_interval": "3m",
//	  "refresh_diagnostic": false,
//	  "idle_after": "90s",
//	  "prompt_after": "60s",
//	  "prompt_timeout": "30s",
//	  "activity_throttle": "500ms",
//	  "cross_tab": true,
//	  "pause_on_hidden": true
//	}
//
// Activity and Refresh turn the loaded values into component configs.
package config
