// ABOUTME: Configuration loading and parsing for ledgerbot
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the corresponding field is empty.
const (
	DefaultHTTPAddr          = "0.0.0.0:1337"
	DefaultGraphAPIURL       = "https://graph.facebook.com/v2.6"
	DefaultLedgerURL         = "https://ocap.arcblock.io/api/btc"
	DefaultLedgerTimeout     = 15 * time.Second
	DefaultSendTimeout       = 10 * time.Second
	DefaultSendRate          = 20.0
	DefaultSendBurst         = 20
	DefaultStreamURL         = "wss://ws.blockchain.info/inv"
	DefaultSubscribeMessage  = `{"op":"blocks_sub"}`
	DefaultHashPath          = "x.hash"
	DefaultHeightPath        = "x.height"
	DefaultReconnectDelay    = 5 * time.Second
	DefaultNotifyConcurrency = 8
	DefaultDedupeTTL         = 5 * time.Minute
	DefaultDedupeMaxSize     = 100_000
)

// Config represents the complete ledgerbot configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Messenger MessengerConfig `yaml:"messenger" toml:"messenger"`
	Ledger    LedgerConfig    `yaml:"ledger" toml:"ledger"`
	Stream    StreamConfig    `yaml:"stream" toml:"stream"`
	Notify    NotifyConfig    `yaml:"notify" toml:"notify"`
	Dedupe    DedupeConfig    `yaml:"dedupe" toml:"dedupe"`
	Frontends FrontendsConfig `yaml:"frontends" toml:"frontends"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the webhook listener address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // tailnet-only HTTPS with Tailscale certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public HTTPS, required for Messenger webhooks
}

// MessengerConfig holds Messenger Platform credentials and endpoints
type MessengerConfig struct {
	PageAccessToken string        `yaml:"page_access_token" toml:"page_access_token"`
	VerifyToken     string        `yaml:"verify_token" toml:"verify_token"`
	AppSecret       string        `yaml:"app_secret" toml:"app_secret"` // optional, enables X-Hub-Signature-256 checks
	GraphAPIURL     string        `yaml:"graph_api_url" toml:"graph_api_url"`
	SendTimeout     time.Duration `yaml:"-" toml:"-"`
	SendRate        float64       `yaml:"send_rate" toml:"send_rate"` // messages per second
	SendBurst       int           `yaml:"send_burst" toml:"send_burst"`

	SendTimeoutRaw string `yaml:"send_timeout" toml:"send_timeout"`
}

// LedgerConfig holds the GraphQL ledger service endpoint
type LedgerConfig struct {
	URL     string        `yaml:"url" toml:"url"`
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// StreamConfig holds the block event websocket configuration
type StreamConfig struct {
	Enabled          bool          `yaml:"enabled" toml:"enabled"`
	URL              string        `yaml:"url" toml:"url"`
	SubscribeMessage string        `yaml:"subscribe_message" toml:"subscribe_message"`
	HashPath         string        `yaml:"hash_path" toml:"hash_path"`
	HeightPath       string        `yaml:"height_path" toml:"height_path"`
	ReconnectDelay   time.Duration `yaml:"-" toml:"-"`

	ReconnectDelayRaw string `yaml:"reconnect_delay" toml:"reconnect_delay"`
}

// NotifyConfig bounds the block notification fan-out
type NotifyConfig struct {
	Concurrency int `yaml:"concurrency" toml:"concurrency"`
}

// DedupeConfig sizes the webhook redelivery cache
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// FrontendsConfig holds configuration for optional additional chat frontends
type FrontendsConfig struct {
	Matrix MatrixConfig `yaml:"matrix" toml:"matrix"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled      bool     `yaml:"enabled" toml:"enabled"`
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	AllowedRooms []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Messenger.GraphAPIURL == "" {
		c.Messenger.GraphAPIURL = DefaultGraphAPIURL
	}
	c.Messenger.GraphAPIURL = strings.TrimSuffix(c.Messenger.GraphAPIURL, "/")
	if c.Messenger.SendTimeout == 0 {
		c.Messenger.SendTimeout = DefaultSendTimeout
	}
	if c.Messenger.SendRate <= 0 {
		c.Messenger.SendRate = DefaultSendRate
	}
	if c.Messenger.SendBurst <= 0 {
		c.Messenger.SendBurst = DefaultSendBurst
	}
	if c.Ledger.URL == "" {
		c.Ledger.URL = DefaultLedgerURL
	}
	if c.Ledger.Timeout == 0 {
		c.Ledger.Timeout = DefaultLedgerTimeout
	}
	if c.Stream.URL == "" {
		c.Stream.URL = DefaultStreamURL
	}
	if c.Stream.SubscribeMessage == "" {
		c.Stream.SubscribeMessage = DefaultSubscribeMessage
	}
	if c.Stream.HashPath == "" {
		c.Stream.HashPath = DefaultHashPath
	}
	if c.Stream.HeightPath == "" {
		c.Stream.HeightPath = DefaultHeightPath
	}
	if c.Stream.ReconnectDelay == 0 {
		c.Stream.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Notify.Concurrency <= 0 {
		c.Notify.Concurrency = DefaultNotifyConcurrency
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = DefaultDedupeTTL
	}
	if c.Dedupe.MaxSize <= 0 {
		c.Dedupe.MaxSize = DefaultDedupeMaxSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// applyEnvOverrides lets PORT replace the port of server.http_addr, the way
// hosting platforms hand the listen port to the process.
func (c *Config) applyEnvOverrides() {
	port := os.Getenv("PORT")
	if port == "" {
		return
	}
	host, _, err := net.SplitHostPort(c.Server.HTTPAddr)
	if err != nil {
		host = ""
	}
	c.Server.HTTPAddr = net.JoinHostPort(host, port)
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Messenger.PageAccessToken == "" {
		return fmt.Errorf("messenger.page_access_token is required")
	}
	if c.Messenger.VerifyToken == "" {
		return fmt.Errorf("messenger.verify_token is required")
	}

	if c.Stream.Enabled && !strings.HasPrefix(c.Stream.URL, "ws://") && !strings.HasPrefix(c.Stream.URL, "wss://") {
		return fmt.Errorf("stream.url must be a ws:// or wss:// URL, got %q", c.Stream.URL)
	}

	if c.Frontends.Matrix.Enabled {
		if c.Frontends.Matrix.Homeserver == "" {
			return fmt.Errorf("frontends.matrix.homeserver is required when matrix is enabled")
		}
		if c.Frontends.Matrix.UserID == "" {
			return fmt.Errorf("frontends.matrix.user_id is required when matrix is enabled")
		}
		if c.Frontends.Matrix.AccessToken == "" {
			return fmt.Errorf("frontends.matrix.access_token is required when matrix is enabled")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"messenger.send_timeout", cfg.Messenger.SendTimeoutRaw, &cfg.Messenger.SendTimeout},
		{"ledger.timeout", cfg.Ledger.TimeoutRaw, &cfg.Ledger.Timeout},
		{"stream.reconnect_delay", cfg.Stream.ReconnectDelayRaw, &cfg.Stream.ReconnectDelay},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
