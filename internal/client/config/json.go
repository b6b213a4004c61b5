package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/sessionkeeper/internal/flagx"
	"github.com/dmitrijs2005/sessionkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3m" or as integer nanoseconds. Booleans are pointers so an
// absent key keeps the default.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	RelayURL           string         `json:"relay_url"`
	DatabasePath       string         `json:"database_path"`
	DeviceSecret       string         `json:"device_secret"`
	Environment        string         `json:"environment"`
	LogLevel           string         `json:"log_level"`
	RefreshInterval    timex.Duration `json:"refresh_interval"`
	RefreshDiagnostic  *bool          `json:"refresh_diagnostic"`
	IdleAfter          timex.Duration `json:"idle_after"`
	PromptAfter        timex.Duration `json:"prompt_after"`
	PromptTimeout      timex.Duration `json:"prompt_timeout"`
	ActivityThrottle   timex.Duration `json:"activity_throttle"`
	CrossTab           *bool          `json:"cross_tab"`
	PauseOnHidden      *bool          `json:"pause_on_hidden"`
}

// parseJson overlays Config with values loaded from a JSON file named by
// -c/-config (or $SESSIONKEEPER_CONFIG). Only keys present in the file
// change the Config. Read or unmarshal errors panic.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&cfg.RelayURL, jc.RelayURL)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.DeviceSecret, jc.DeviceSecret)
	setString(&cfg.Environment, jc.Environment)
	setString(&cfg.LogLevel, jc.LogLevel)

	if jc.RefreshInterval.Duration > 0 {
		cfg.RefreshInterval = jc.RefreshInterval.Duration
	}
	if jc.IdleAfter.Duration > 0 {
		cfg.IdleAfter = jc.IdleAfter.Duration
	}
	if jc.PromptAfter.Duration > 0 {
		cfg.PromptAfter = jc.PromptAfter.Duration
	}
	if jc.PromptTimeout.Duration > 0 {
		cfg.PromptTimeout = jc.PromptTimeout.Duration
	}
	if jc.ActivityThrottle.Duration > 0 {
		cfg.ActivityThrottle = jc.ActivityThrottle.Duration
	}

	setBool(&cfg.RefreshDiagnostic, jc.RefreshDiagnostic)
	setBool(&cfg.CrossTab, jc.CrossTab)
	setBool(&cfg.PauseOnHidden, jc.PauseOnHidden)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
