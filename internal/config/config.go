// Package config loads the operator config for the cmd/ binaries. The SDK
// packages never read files or the environment themselves; they take the
// values built here.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/specialjp/lighter-ts-sub000/internal/client"
	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/nonce"
	"github.com/specialjp/lighter-ts-sub000/internal/signer"
)

type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
	NetworkCustom  Network = "custom"
)

// EnvPrefix prefixes every environment override, e.g. LIGHTER_PRIVATE_KEY.
const EnvPrefix = "LIGHTER"

var defaultURLs = map[Network][2]string{
	NetworkMainnet: {"https://mainnet.zklighter.elliot.ai", "wss://mainnet.zklighter.elliot.ai/stream"},
	NetworkTestnet: {"https://testnet.zklighter.elliot.ai", "wss://testnet.zklighter.elliot.ai/stream"},
}

type Config struct {
	Network        Network              `yaml:"network" toml:"network"`
	Venue          VenueConfig          `yaml:"venue" toml:"venue"`
	Signer         SignerConfig         `yaml:"signer" toml:"signer"`
	Nonce          NonceConfig          `yaml:"nonce" toml:"nonce"`
	Orders         OrdersConfig         `yaml:"orders" toml:"orders"`
	State          StateConfig          `yaml:"state" toml:"state"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" toml:"circuit_breaker"`
	Observability  ObservabilityConfig  `yaml:"observability" toml:"observability"`
	Logging        LoggingConfig        `yaml:"logging" toml:"logging"`
	Signerd        SignerdConfig        `yaml:"signerd" toml:"signerd"`
}

type VenueConfig struct {
	RestBaseURL    string `yaml:"rest_base_url" toml:"rest_base_url"`
	WSBaseURL      string `yaml:"ws_base_url" toml:"ws_base_url"`
	UseWebsocket   bool   `yaml:"use_websocket" toml:"use_websocket"`
	HTTPTimeoutSec int64  `yaml:"http_timeout_sec" toml:"http_timeout_sec"`
	WSKeepaliveSec int64  `yaml:"ws_keepalive_sec" toml:"ws_keepalive_sec"`
}

type SignerConfig struct {
	PrivateKey       string `yaml:"private_key" toml:"private_key"`
	// PrivateKeyPath names a file holding the key; used when PrivateKey is
	// empty.
	PrivateKeyPath   string `yaml:"private_key_path" toml:"private_key_path"`
	AccountIndex     int64  `yaml:"account_index" toml:"account_index"`
	APIKeyIndex      int    `yaml:"api_key_index" toml:"api_key_index"`
	RemoteURL        string `yaml:"remote_url" toml:"remote_url"`
	RemoteToken      string `yaml:"remote_token" toml:"remote_token"`
	LocalBundlePath  string `yaml:"local_bundle_path" toml:"local_bundle_path"`
	RemoteTimeoutSec int64  `yaml:"remote_timeout_sec" toml:"remote_timeout_sec"`
}

type NonceConfig struct {
	Cache        bool  `yaml:"cache" toml:"cache"`
	BatchSize    int   `yaml:"batch_size" toml:"batch_size"`
	LowWater     int   `yaml:"low_water" toml:"low_water"`
	StaleSec     int64 `yaml:"stale_sec" toml:"stale_sec"`
	FetchTimeout int64 `yaml:"fetch_timeout_sec" toml:"fetch_timeout_sec"`
}

type OrdersConfig struct {
	DefaultSlippage Decimal `yaml:"default_slippage" toml:"default_slippage"`
	CloseSlippage   Decimal `yaml:"close_slippage" toml:"close_slippage"`
	MaxWaitSec      int64   `yaml:"max_wait_sec" toml:"max_wait_sec"`
	PollIntervalMs  int64   `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
}

type StateConfig struct {
	Dir          string `yaml:"dir" toml:"dir"`
	Journal      bool   `yaml:"journal" toml:"journal"`
	LockTakeover *bool  `yaml:"lock_takeover" toml:"lock_takeover"`
	LockStaleSec int64  `yaml:"lock_stale_sec" toml:"lock_stale_sec"`
}

type CircuitBreakerConfig struct {
	Enabled     bool  `yaml:"enabled" toml:"enabled"`
	MaxFailures int   `yaml:"max_failures" toml:"max_failures"`
	CooldownSec int64 `yaml:"cooldown_sec" toml:"cooldown_sec"`
	ProbePasses int   `yaml:"probe_passes" toml:"probe_passes"`
}

type ObservabilityConfig struct {
	Telegram           TelegramConfig `yaml:"telegram" toml:"telegram"`
	AlertDropReportSec int64          `yaml:"alert_drop_report_sec" toml:"alert_drop_report_sec"`
}

type TelegramConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	BotToken   string `yaml:"bot_token" toml:"bot_token"`
	ChatID     string `yaml:"chat_id" toml:"chat_id"`
	APIBaseURL string `yaml:"api_base_url" toml:"api_base_url"`
	TimeoutSec int64  `yaml:"timeout_sec" toml:"timeout_sec"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
}

type SignerdConfig struct {
	Listen    string `yaml:"listen" toml:"listen"`
	AuthToken string `yaml:"auth_token" toml:"auth_token"`
}

// envOverrides are read from LIGHTER_* variables and win over the file.
// Secrets normally come in this way.
type envOverrides struct {
	PrivateKey        string `split_words:"true"`
	PrivateKeyPath    string `split_words:"true"`
	AccountIndex      string `split_words:"true"`
	APIKeyIndex       string `envconfig:"API_KEY_INDEX"`
	RemoteSignerURL   string `envconfig:"REMOTE_SIGNER_URL"`
	RemoteSignerToken string `envconfig:"REMOTE_SIGNER_TOKEN"`
	TelegramBotToken  string `split_words:"true"`
	SignerdAuthToken  string `split_words:"true"`
}

// Load reads a YAML file, or TOML when path ends in .toml, applies
// LIGHTER_* environment overrides and defaults, and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &core.ConfigError{Field: "path", Err: err}
	}
	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = decodeTOML(data, &cfg)
	} else {
		err = decodeYAML(data, &cfg)
	}
	if err != nil {
		return Config{}, &core.ConfigError{Field: "file", Err: err}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, &core.ConfigError{Field: "env", Err: err}
	}
	cfg.normalize()
	if err := cfg.loadKeyFile(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("config must contain a single YAML document")
		}
		return err
	}
	return nil
}

func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown field %q", undecoded[0].String())
	}
	return nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	if env.PrivateKey != "" {
		c.Signer.PrivateKey = env.PrivateKey
	}
	if env.PrivateKeyPath != "" {
		c.Signer.PrivateKeyPath = env.PrivateKeyPath
	}
	if env.AccountIndex != "" {
		v, err := strconv.ParseInt(env.AccountIndex, 10, 64)
		if err != nil {
			return fmt.Errorf("%s_ACCOUNT_INDEX: %w", EnvPrefix, err)
		}
		c.Signer.AccountIndex = v
	}
	if env.APIKeyIndex != "" {
		v, err := strconv.Atoi(env.APIKeyIndex)
		if err != nil {
			return fmt.Errorf("%s_API_KEY_INDEX: %w", EnvPrefix, err)
		}
		c.Signer.APIKeyIndex = v
	}
	if env.RemoteSignerURL != "" {
		c.Signer.RemoteURL = env.RemoteSignerURL
	}
	if env.RemoteSignerToken != "" {
		c.Signer.RemoteToken = env.RemoteSignerToken
	}
	if env.TelegramBotToken != "" {
		c.Observability.Telegram.BotToken = env.TelegramBotToken
	}
	if env.SignerdAuthToken != "" {
		c.Signerd.AuthToken = env.SignerdAuthToken
	}
	return nil
}

func (c *Config) normalize() {
	c.Network = Network(strings.ToLower(strings.TrimSpace(string(c.Network))))
	c.Venue.RestBaseURL = strings.TrimRight(strings.TrimSpace(c.Venue.RestBaseURL), "/")
	c.Venue.WSBaseURL = strings.TrimRight(strings.TrimSpace(c.Venue.WSBaseURL), "/")
	c.Signer.PrivateKey = strings.TrimSpace(c.Signer.PrivateKey)
	c.Signer.PrivateKeyPath = strings.TrimSpace(c.Signer.PrivateKeyPath)
	c.Signer.RemoteURL = strings.TrimSpace(c.Signer.RemoteURL)
	c.Signer.RemoteToken = strings.TrimSpace(c.Signer.RemoteToken)
	c.Signer.LocalBundlePath = strings.TrimSpace(c.Signer.LocalBundlePath)
	c.State.Dir = strings.TrimSpace(c.State.Dir)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.File = strings.TrimSpace(c.Logging.File)
	c.Observability.Telegram.BotToken = strings.TrimSpace(c.Observability.Telegram.BotToken)
	c.Observability.Telegram.ChatID = strings.TrimSpace(c.Observability.Telegram.ChatID)
}

// loadKeyFile fills PrivateKey from PrivateKeyPath. An inline key wins.
func (c *Config) loadKeyFile() error {
	if c.Signer.PrivateKey != "" || c.Signer.PrivateKeyPath == "" {
		return nil
	}
	key, err := signer.LoadPrivateKey(c.Signer.PrivateKeyPath)
	if err != nil {
		return &core.ConfigError{Field: "signer.private_key_path", Err: err}
	}
	c.Signer.PrivateKey, _ = signer.EncodeAPIKey(key)
	return nil
}

func (c *Config) applyDefaults() {
	if c.Network == "" {
		c.Network = NetworkTestnet
	}
	if urls, ok := defaultURLs[c.Network]; ok {
		if c.Venue.RestBaseURL == "" {
			c.Venue.RestBaseURL = urls[0]
		}
		if c.Venue.WSBaseURL == "" {
			c.Venue.WSBaseURL = urls[1]
		}
	}
	if c.Venue.HTTPTimeoutSec == 0 {
		c.Venue.HTTPTimeoutSec = 15
	}
	if c.Venue.WSKeepaliveSec == 0 {
		c.Venue.WSKeepaliveSec = 30
	}
	if c.Signer.RemoteTimeoutSec == 0 {
		c.Signer.RemoteTimeoutSec = 15
	}
	if c.Nonce.BatchSize == 0 {
		c.Nonce.BatchSize = nonce.DefaultBatchSize
	}
	if c.Nonce.LowWater == 0 {
		c.Nonce.LowWater = nonce.DefaultLowWater
	}
	if c.Nonce.StaleSec == 0 {
		c.Nonce.StaleSec = int64(nonce.DefaultStaleAfter / time.Second)
	}
	if c.Nonce.FetchTimeout == 0 {
		c.Nonce.FetchTimeout = int64(nonce.DefaultFetchTimeout / time.Second)
	}
	if c.Orders.DefaultSlippage.IsZero() {
		c.Orders.DefaultSlippage = Decimal{decimal.RequireFromString("0.01")}
	}
	if c.Orders.CloseSlippage.IsZero() {
		c.Orders.CloseSlippage = Decimal{decimal.RequireFromString("0.05")}
	}
	if c.Orders.MaxWaitSec == 0 {
		c.Orders.MaxWaitSec = 60
	}
	if c.Orders.PollIntervalMs == 0 {
		c.Orders.PollIntervalMs = 1000
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.State.LockTakeover == nil {
		enabled := true
		c.State.LockTakeover = &enabled
	}
	if c.State.LockStaleSec == 0 {
		c.State.LockStaleSec = 600
	}
	if c.CircuitBreaker.MaxFailures == 0 {
		c.CircuitBreaker.MaxFailures = 5
	}
	if c.CircuitBreaker.CooldownSec == 0 {
		c.CircuitBreaker.CooldownSec = 30
	}
	if c.CircuitBreaker.ProbePasses == 0 {
		c.CircuitBreaker.ProbePasses = 1
	}
	if c.Observability.Telegram.APIBaseURL == "" {
		c.Observability.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Observability.Telegram.TimeoutSec == 0 {
		c.Observability.Telegram.TimeoutSec = 10
	}
	if c.Observability.AlertDropReportSec == 0 {
		c.Observability.AlertDropReportSec = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Signerd.Listen == "" {
		c.Signerd.Listen = "127.0.0.1:8790"
	}
}

func invalid(field, format string, args ...any) error {
	return &core.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

func (c Config) Validate() error {
	switch c.Network {
	case NetworkMainnet, NetworkTestnet, NetworkCustom:
	default:
		return invalid("network", "must be mainnet, testnet or custom")
	}
	if err := validateURL(c.Venue.RestBaseURL, "http", "https"); err != nil {
		return invalid("venue.rest_base_url", "%v", err)
	}
	if c.Venue.UseWebsocket {
		if err := validateURL(c.Venue.WSBaseURL, "ws", "wss"); err != nil {
			return invalid("venue.ws_base_url", "%v", err)
		}
	}
	if c.Venue.HTTPTimeoutSec < 1 || c.Venue.HTTPTimeoutSec > 120 {
		return invalid("venue.http_timeout_sec", "must be between 1 and 120")
	}
	if c.Venue.WSKeepaliveSec < 1 || c.Venue.WSKeepaliveSec > 300 {
		return invalid("venue.ws_keepalive_sec", "must be between 1 and 300")
	}
	if c.Signer.RemoteURL != "" {
		if err := validateURL(c.Signer.RemoteURL, "http", "https"); err != nil {
			return invalid("signer.remote_url", "%v", err)
		}
	}
	if c.Nonce.BatchSize < 1 || c.Nonce.BatchSize > 1000 {
		return invalid("nonce.batch_size", "must be between 1 and 1000")
	}
	if c.Nonce.LowWater < 0 || c.Nonce.LowWater >= c.Nonce.BatchSize {
		return invalid("nonce.low_water", "must be between 0 and batch_size-1")
	}
	if c.Nonce.StaleSec < 1 || c.Nonce.FetchTimeout < 1 {
		return invalid("nonce", "stale_sec and fetch_timeout_sec must be >= 1")
	}
	one := decimal.NewFromInt(1)
	if c.Orders.DefaultSlippage.IsNegative() || c.Orders.DefaultSlippage.GreaterThanOrEqual(one) {
		return invalid("orders.default_slippage", "must be in [0, 1)")
	}
	if c.Orders.CloseSlippage.IsNegative() || c.Orders.CloseSlippage.GreaterThanOrEqual(one) {
		return invalid("orders.close_slippage", "must be in [0, 1)")
	}
	if c.Orders.MaxWaitSec < 1 || c.Orders.PollIntervalMs < 10 {
		return invalid("orders", "max_wait_sec must be >= 1 and poll_interval_ms >= 10")
	}
	if c.State.LockStaleSec < 0 || c.State.LockStaleSec > 86400 {
		return invalid("state.lock_stale_sec", "must be between 0 and 86400")
	}
	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.MaxFailures < 1 {
			return invalid("circuit_breaker.max_failures", "must be >= 1")
		}
		if c.CircuitBreaker.CooldownSec < 1 || c.CircuitBreaker.CooldownSec > 3600 {
			return invalid("circuit_breaker.cooldown_sec", "must be between 1 and 3600")
		}
		if c.CircuitBreaker.ProbePasses < 1 || c.CircuitBreaker.ProbePasses > 20 {
			return invalid("circuit_breaker.probe_passes", "must be between 1 and 20")
		}
	}
	if c.Observability.Telegram.Enabled {
		if c.Observability.Telegram.BotToken == "" || c.Observability.Telegram.ChatID == "" {
			return invalid("observability.telegram", "bot_token and chat_id are required when enabled")
		}
		if err := validateURL(c.Observability.Telegram.APIBaseURL, "http", "https"); err != nil {
			return invalid("observability.telegram.api_base_url", "%v", err)
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", "must be debug, info, warn or error")
	}
	return nil
}

// SignerConfig is the immutable client config derived from c.
func (c Config) SignerConfig() client.SignerConfig {
	return client.SignerConfig{
		URL:               c.Venue.RestBaseURL,
		PrivateKey:        c.Signer.PrivateKey,
		AccountIndex:      c.Signer.AccountIndex,
		APIKeyIndex:       c.Signer.APIKeyIndex,
		RemoteSignerURL:   c.Signer.RemoteURL,
		RemoteSignerToken: c.Signer.RemoteToken,
		LocalBundlePath:   c.Signer.LocalBundlePath,
		HTTPTimeoutSec:    c.Signer.RemoteTimeoutSec,
	}
}

func (c Config) NonceCacheOptions() nonce.CacheOptions {
	return nonce.CacheOptions{
		BatchSize:    c.Nonce.BatchSize,
		LowWater:     c.Nonce.LowWater,
		StaleAfter:   time.Duration(c.Nonce.StaleSec) * time.Second,
		FetchTimeout: time.Duration(c.Nonce.FetchTimeout) * time.Second,
	}
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
