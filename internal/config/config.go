package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Config is the root configuration for the relay.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	State    StateConfig    `json:"state"`
	Routing  RoutingConfig  `json:"routing"`
}

// TelegramConfig configures the bot transport.
type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	Proxy string `json:"proxy,omitempty"`
}

// StateConfig configures snapshot persistence.
type StateConfig struct {
	Path string `json:"path,omitempty"`
}

// RoutingConfig configures dispatcher behaviour.
type RoutingConfig struct {
	// AutoEndButton toggles the "End session" inline button on messages
	// relayed to the primary agent. nil means enabled.
	AutoEndButton *bool `json:"autoEndButton,omitempty"`
}

// AutoEnd resolves the AutoEndButton default.
func (r RoutingConfig) AutoEnd() bool {
	return r.AutoEndButton == nil || *r.AutoEndButton
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		State: StateConfig{Path: "state.json"},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; env vars alone can configure the relay.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if cfg.State.Path == "" {
		cfg.State.Path = "state.json"
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values. BOT_TOKEN is honored for compatibility
// with older deployments.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("BOT_TOKEN", &c.Telegram.Token)
	envStr("RELAYDESK_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("RELAYDESK_TELEGRAM_PROXY", &c.Telegram.Proxy)
	envStr("RELAYDESK_STATE_PATH", &c.State.Path)

	if v := os.Getenv("RELAYDESK_AUTO_END_BUTTON"); v != "" {
		enabled := v == "true" || v == "1"
		c.Routing.AutoEndButton = &enabled
	}
}

// Validate checks startup requirements. The bot token doubles as the
// bootstrap credential, so its absence is fatal.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram bot token is not set (config telegram.token or RELAYDESK_TELEGRAM_TOKEN)")
	}
	return nil
}
