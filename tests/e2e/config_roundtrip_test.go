package e2e

import (
	"path/filepath"
	"testing"

	"github.com/tipdrop/tipdrop/pkg/config"
)

// TestConfigRoundtrip verifies that a config saved to disk loads back with
// the same values, and that env overrides still apply on top of the file.
func TestConfigRoundtrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := config.DefaultConfig()
	cfg.Chain.RPCURL = "wss://rpc.example.org"
	cfg.Chain.ContractAddress = "0x1111111111111111111111111111111111111111"
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "tg-token"
	cfg.Channels.Telegram.AllowFrom = config.FlexibleStringSlice{"12345", "@someone"}

	if err := config.SaveConfig(path, cfg); err != nil {
		t.Fatalf("saving config: %v", err)
	}

	loaded, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if loaded.Chain.RPCURL != cfg.Chain.RPCURL {
		t.Errorf("chain.rpc_url: got %s, want %s", loaded.Chain.RPCURL, cfg.Chain.RPCURL)
	}
	if loaded.Chain.ContractAddress != cfg.Chain.ContractAddress {
		t.Errorf("chain.contract_address: got %s, want %s", loaded.Chain.ContractAddress, cfg.Chain.ContractAddress)
	}
	if !loaded.Channels.Telegram.Enabled {
		t.Error("channels.telegram.enabled should survive the roundtrip")
	}
	if len(loaded.Channels.Telegram.AllowFrom) != 2 {
		t.Errorf("allow_from: got %v, want 2 entries", loaded.Channels.Telegram.AllowFrom)
	}
	if loaded.Relay.MaxAttempts != cfg.Relay.MaxAttempts {
		t.Errorf("relay.max_attempts: got %d, want %d", loaded.Relay.MaxAttempts, cfg.Relay.MaxAttempts)
	}

	t.Setenv("TIPDROP_RELAY_TOKEN_SYMBOL", "USDC")
	t.Setenv("TIPDROP_CHAIN_DECIMALS", "6")

	overridden, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("loading config with env overrides: %v", err)
	}
	if overridden.Relay.TokenSymbol != "USDC" {
		t.Errorf("env override token_symbol: got %s, want USDC", overridden.Relay.TokenSymbol)
	}
	if overridden.Chain.Decimals != 6 {
		t.Errorf("env override decimals: got %d, want 6", overridden.Chain.Decimals)
	}
}
