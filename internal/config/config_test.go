package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
)

func TestLoadAppliesTestnetDefaults(t *testing.T) {
	cfgPath := writeTempConfig(t, "config.yaml", `
signer:
  private_key: "0xabc"
  account_index: 42
  api_key_index: 3
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Network != NetworkTestnet {
		t.Fatalf("network = %q, want %q", cfg.Network, NetworkTestnet)
	}
	if cfg.Venue.RestBaseURL != "https://testnet.zklighter.elliot.ai" {
		t.Fatalf("venue.rest_base_url = %q", cfg.Venue.RestBaseURL)
	}
	if cfg.Venue.HTTPTimeoutSec != 15 || cfg.Venue.WSKeepaliveSec != 30 {
		t.Fatalf("venue timeouts = %d/%d, want 15/30", cfg.Venue.HTTPTimeoutSec, cfg.Venue.WSKeepaliveSec)
	}
	if !cfg.Orders.CloseSlippage.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("orders.close_slippage = %s, want 0.05", cfg.Orders.CloseSlippage)
	}
	if cfg.State.LockTakeover == nil || !*cfg.State.LockTakeover {
		t.Fatalf("state.lock_takeover = %v, want true", cfg.State.LockTakeover)
	}
	if cfg.State.LockStaleSec != 600 {
		t.Fatalf("state.lock_stale_sec = %d, want 600", cfg.State.LockStaleSec)
	}
	opts := cfg.NonceCacheOptions()
	if opts.BatchSize != 20 || opts.StaleAfter != 30*time.Second {
		t.Fatalf("NonceCacheOptions() = %+v", opts)
	}
}

func TestLoadMapsSignerConfig(t *testing.T) {
	cfgPath := writeTempConfig(t, "config.yaml", `
network: MAINNET
venue:
  rest_base_url: "https://example.test/"
signer:
  private_key: " 0xabc "
  account_index: 7
  api_key_index: 2
  remote_url: "http://127.0.0.1:8790"
  remote_token: "secret"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	sc := cfg.SignerConfig()
	if sc.URL != "https://example.test" {
		t.Fatalf("SignerConfig().URL = %q, want trailing slash trimmed", sc.URL)
	}
	if sc.PrivateKey != "0xabc" || sc.AccountIndex != 7 || sc.APIKeyIndex != 2 {
		t.Fatalf("SignerConfig() = %+v", sc)
	}
	if sc.RemoteSignerURL != "http://127.0.0.1:8790" || sc.RemoteSignerToken != "secret" {
		t.Fatalf("SignerConfig() remote = %q/%q", sc.RemoteSignerURL, sc.RemoteSignerToken)
	}
	if err := sc.CheckClient(); err != nil {
		t.Fatalf("CheckClient() error = %v", err)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("LIGHTER_PRIVATE_KEY", "0xenv")
	t.Setenv("LIGHTER_ACCOUNT_INDEX", "99")
	t.Setenv("LIGHTER_API_KEY_INDEX", "5")
	t.Setenv("LIGHTER_REMOTE_SIGNER_TOKEN", "envtoken")
	t.Setenv("LIGHTER_TELEGRAM_BOT_TOKEN", "bot")
	cfgPath := writeTempConfig(t, "config.yaml", `
signer:
  private_key: "0xfile"
  account_index: 1
observability:
  telegram:
    enabled: true
    chat_id: "123"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Signer.PrivateKey != "0xenv" {
		t.Fatalf("signer.private_key = %q, want env value", cfg.Signer.PrivateKey)
	}
	if cfg.Signer.AccountIndex != 99 || cfg.Signer.APIKeyIndex != 5 {
		t.Fatalf("signer indexes = %d/%d, want 99/5", cfg.Signer.AccountIndex, cfg.Signer.APIKeyIndex)
	}
	if cfg.Signer.RemoteToken != "envtoken" {
		t.Fatalf("signer.remote_token = %q", cfg.Signer.RemoteToken)
	}
	if cfg.Observability.Telegram.BotToken != "bot" {
		t.Fatalf("telegram.bot_token = %q", cfg.Observability.Telegram.BotToken)
	}
}

func TestLoadRejectsBadEnvironmentIndex(t *testing.T) {
	t.Setenv("LIGHTER_ACCOUNT_INDEX", "seven")
	cfgPath := writeTempConfig(t, "config.yaml", `network: testnet`)

	_, err := Load(cfgPath)
	if !errors.Is(err, core.ErrConfig) {
		t.Fatalf("Load() error = %v, want config error", err)
	}
}

func TestLoadParsesTOML(t *testing.T) {
	cfgPath := writeTempConfig(t, "config.toml", `
network = "testnet"

[signer]
private_key = "0xabc"
account_index = 4

[orders]
close_slippage = "0.02"

[circuit_breaker]
enabled = true
max_failures = 3
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Signer.AccountIndex != 4 {
		t.Fatalf("signer.account_index = %d, want 4", cfg.Signer.AccountIndex)
	}
	if !cfg.Orders.CloseSlippage.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("orders.close_slippage = %s, want 0.02", cfg.Orders.CloseSlippage)
	}
	if !cfg.CircuitBreaker.Enabled || cfg.CircuitBreaker.MaxFailures != 3 || cfg.CircuitBreaker.CooldownSec != 30 {
		t.Fatalf("circuit_breaker = %+v", cfg.CircuitBreaker)
	}
}

func TestLoadRejectsUnknownTOMLField(t *testing.T) {
	cfgPath := writeTempConfig(t, "config.toml", `
[signer]
private_key = "0xabc"
seed_phrase = "nope"
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "seed_phrase") {
		t.Fatalf("Load() error = %v, want unknown field seed_phrase", err)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	cfgPath := writeTempConfig(t, "config.yaml", `
signer:
  private_key: "0xabc"
  seed_phrase: "nope"
`)

	_, err := Load(cfgPath)
	if !errors.Is(err, core.ErrConfig) {
		t.Fatalf("Load() error = %v, want config error", err)
	}
	if !strings.Contains(err.Error(), "seed_phrase") {
		t.Fatalf("Load() error = %v, want mention of seed_phrase", err)
	}
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	cfgPath := writeTempConfig(t, "config.yaml", `
network: testnet
---
network: mainnet
`)

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("Load() error = nil, want single document error")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"network", "network: devnet", "network"},
		{"ws scheme", "venue:\n  use_websocket: true\n  ws_base_url: \"https://x.test\"", "venue.ws_base_url"},
		{"slippage", "orders:\n  close_slippage: \"1\"", "orders.close_slippage"},
		{"low water", "nonce:\n  batch_size: 5\n  low_water: 5", "nonce.low_water"},
		{"lock stale", "state:\n  lock_stale_sec: 90000", "state.lock_stale_sec"},
		{"breaker cooldown", "circuit_breaker:\n  enabled: true\n  cooldown_sec: 7200", "circuit_breaker.cooldown_sec"},
		{"telegram", "observability:\n  telegram:\n    enabled: true", "observability.telegram"},
		{"log level", "logging:\n  level: trace", "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeTempConfig(t, "config.yaml", tt.yaml)
			_, err := Load(cfgPath)
			var cfgErr *core.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Load() error = %v, want *core.ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Fatalf("ConfigError.Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestLoadTelegramDisabledIgnoresInvalidAPIBaseURL(t *testing.T) {
	cfgPath := writeTempConfig(t, "config.yaml", `
observability:
  telegram:
    enabled: false
    api_base_url: "not a url"
`)

	if _, err := Load(cfgPath); err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
}

func TestLoadStateLockTakeoverCanDisableExplicitly(t *testing.T) {
	cfgPath := writeTempConfig(t, "config.yaml", `
state:
  lock_takeover: false
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.State.LockTakeover == nil || *cfg.State.LockTakeover {
		t.Fatalf("state.lock_takeover = %v, want false", cfg.State.LockTakeover)
	}
}

func TestLoadReadsPrivateKeyFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "api.key")
	const keyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	if err := os.WriteFile(keyPath, []byte(keyHex+"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfgPath := writeTempConfig(t, "config.yaml", `
signer:
  private_key_path: "`+keyPath+`"
  account_index: 42
  api_key_index: 3
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SignerConfig().PrivateKey != keyHex {
		t.Fatalf("signer private key = %q, want key from file", cfg.SignerConfig().PrivateKey)
	}

	badPath := writeTempConfig(t, "bad.yaml", `
signer:
  private_key_path: "`+filepath.Join(t.TempDir(), "missing.key")+`"
`)
	_, err = Load(badPath)
	var cfgErr *core.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "signer.private_key_path" {
		t.Fatalf("Load(missing key file) error = %v, want signer.private_key_path config error", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, core.ErrConfig) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load() error = %v, want config error wrapping ErrNotExist", err)
	}
}

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o644); err != nil {
		t.Fatalf("write temp config failed: %v", err)
	}
	return path
}
