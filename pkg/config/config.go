package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	AppEnv   string         `env:"TIPDROP_ENV"  json:"app_env,omitempty"`
	Chain    ChainConfig    `json:"chain"`
	Identity IdentityConfig `json:"identity"`
	Channels ChannelsConfig `json:"channels"`
	Relay    RelayConfig    `json:"relay"`
	Gateway  GatewayConfig  `json:"gateway"`
}

// ChainConfig describes the contract whose donation events are relayed.
// The RPC URL must be a websocket endpoint; log subscriptions do not work
// over plain HTTP transports.
type ChainConfig struct {
	RPCURL          string `env:"TIPDROP_CHAIN_RPC_URL"          json:"rpc_url"`
	ContractAddress string `env:"TIPDROP_CHAIN_CONTRACT_ADDRESS" json:"contract_address"`
	EventName       string `env:"TIPDROP_CHAIN_EVENT_NAME"       json:"event_name"`
	Decimals        int    `env:"TIPDROP_CHAIN_DECIMALS"         json:"decimals"`
}

// IdentityConfig points at the store holding account -> chat mappings.
// An empty RedisURL selects the in-memory store (mappings lost on restart).
type IdentityConfig struct {
	RedisURL  string `env:"TIPDROP_IDENTITY_REDIS_URL"  json:"redis_url"`
	KeyPrefix string `env:"TIPDROP_IDENTITY_KEY_PREFIX" json:"key_prefix"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
}

type TelegramConfig struct {
	Enabled   bool                `env:"TIPDROP_CHANNELS_TELEGRAM_ENABLED"    json:"enabled"`
	Token     string              `env:"TIPDROP_CHANNELS_TELEGRAM_TOKEN"      json:"token"`
	AllowFrom FlexibleStringSlice `env:"TIPDROP_CHANNELS_TELEGRAM_ALLOW_FROM" json:"allow_from"`
}

type DiscordConfig struct {
	Enabled   bool                `env:"TIPDROP_CHANNELS_DISCORD_ENABLED"    json:"enabled"`
	Token     string              `env:"TIPDROP_CHANNELS_DISCORD_TOKEN"      json:"token"`
	AllowFrom FlexibleStringSlice `env:"TIPDROP_CHANNELS_DISCORD_ALLOW_FROM" json:"allow_from"`
}

type SlackConfig struct {
	Enabled   bool                `env:"TIPDROP_CHANNELS_SLACK_ENABLED"    json:"enabled"`
	BotToken  string              `env:"TIPDROP_CHANNELS_SLACK_BOT_TOKEN"  json:"bot_token"`
	AppToken  string              `env:"TIPDROP_CHANNELS_SLACK_APP_TOKEN"  json:"app_token"`
	AllowFrom FlexibleStringSlice `env:"TIPDROP_CHANNELS_SLACK_ALLOW_FROM" json:"allow_from"`
}

// RelayConfig tunes the delivery pipeline.
type RelayConfig struct {
	MaxAttempts          int    `env:"TIPDROP_RELAY_MAX_ATTEMPTS"           json:"max_attempts"`
	RetryBackoffSeconds  int    `env:"TIPDROP_RELAY_RETRY_BACKOFF_SECONDS"  json:"retry_backoff_seconds"`
	ShutdownGraceSeconds int    `env:"TIPDROP_RELAY_SHUTDOWN_GRACE_SECONDS" json:"shutdown_grace_seconds"`
	TokenSymbol          string `env:"TIPDROP_RELAY_TOKEN_SYMBOL"           json:"token_symbol"`
	DashboardURL         string `env:"TIPDROP_RELAY_DASHBOARD_URL"          json:"dashboard_url"`
	DefaultChannel       string `env:"TIPDROP_RELAY_DEFAULT_CHANNEL"        json:"default_channel"`
}

// GatewayConfig is where the health endpoints listen.
type GatewayConfig struct {
	Host string `env:"TIPDROP_GATEWAY_HOST" json:"host"`
	Port int    `env:"TIPDROP_GATEWAY_PORT" json:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			EventName: "Donation",
			Decimals:  18,
		},
		Identity: IdentityConfig{
			KeyPrefix: "tipdrop:identity:",
		},
		Relay: RelayConfig{
			MaxAttempts:          3,
			RetryBackoffSeconds:  2,
			ShutdownGraceSeconds: 10,
			TokenSymbol:          "ETH",
			DashboardURL:         "https://tipdrop.app/dashboard",
			DefaultChannel:       "telegram",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
	}
}

// LoadConfig reads the JSON config at path (missing file means defaults) and
// overlays TIPDROP_* environment variables on top.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate rejects option combinations the relay cannot run with. It does not
// require chain or channel credentials; those are checked at wiring time so
// partial configs still load for tooling.
func (c *Config) Validate() error {
	if c.Chain.Decimals < 0 {
		return errors.New("chain.decimals must not be negative")
	}
	if c.Relay.MaxAttempts < 1 {
		return errors.New("relay.max_attempts must be at least 1")
	}
	if c.Relay.RetryBackoffSeconds < 0 {
		return errors.New("relay.retry_backoff_seconds must not be negative")
	}
	if c.Chain.EventName == "" {
		return errors.New("chain.event_name is required")
	}
	return nil
}

// EnabledChannels lists the channel names switched on in this config.
func (c *Config) EnabledChannels() []string {
	var names []string
	if c.Channels.Telegram.Enabled {
		names = append(names, "telegram")
	}
	if c.Channels.Discord.Enabled {
		names = append(names, "discord")
	}
	if c.Channels.Slack.Enabled {
		names = append(names, "slack")
	}
	return names
}
