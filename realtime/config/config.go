package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrConfigNotFound = errors.New("configuration not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

const (
	DefaultBaseURL      = "ws://localhost:8000/ws"
	DefaultHost         = "localhost"
	DefaultPort         = 8000
	DefaultRelayChannel = "ws_messages"
	DefaultEchoPrefix   = "Echo: "
	DefaultSessionTTL   = 24 * time.Hour
)

// Config holds client and server settings.
type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
}

// ClientConfig configures a store and its dialer.
type ClientConfig struct {
	BaseURL string `yaml:"base_url"`
	Session string `yaml:"session"`
}

// ServerConfig configures the development relay server.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	NATSURL          string        `yaml:"nats_url"`
	RelayChannel     string        `yaml:"relay_channel"`
	EchoPrefix       string        `yaml:"echo_prefix"`
	StrictSessionIDs bool          `yaml:"strict_session_ids"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	NgrokDomain      string        `yaml:"ngrok_domain"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			BaseURL: DefaultBaseURL,
		},
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			RelayChannel: DefaultRelayChannel,
			EchoPrefix:   DefaultEchoPrefix,
			SessionTTL:   DefaultSessionTTL,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found by lookup,
// normally os.LookupEnv. Unparseable numbers and booleans are reported as
// ErrInvalidConfig.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("NEXT_PUBLIC_WS_URL"); ok && v != "" {
		c.Client.BaseURL = v
	}
	if v, ok := lookup("WS_URL"); ok && v != "" {
		c.Client.BaseURL = v
	}
	if v, ok := lookup("HOST"); ok && v != "" {
		c.Server.Host = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PORT %q", ErrInvalidConfig, v)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("NATS_URL"); ok {
		c.Server.NATSURL = v
	}
	if v, ok := lookup("RELAY_CHANNEL"); ok && v != "" {
		c.Server.RelayChannel = v
	}
	if v, ok := lookup("ECHO_PREFIX"); ok {
		c.Server.EchoPrefix = v
	}
	if v, ok := lookup("STRICT_SESSION_IDS"); ok && v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: STRICT_SESSION_IDS %q", ErrInvalidConfig, v)
		}
		c.Server.StrictSessionIDs = strict
	}
	return nil
}

// Validate checks the configuration for values the store or server cannot
// use.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Client.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: base url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: base url must use ws or wss, got %q", ErrInvalidConfig, c.Client.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: base url has no host", ErrInvalidConfig)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if strings.TrimSpace(c.Server.RelayChannel) == "" {
		return fmt.Errorf("%w: relay channel is empty", ErrInvalidConfig)
	}
	if c.Server.SessionTTL < 0 {
		return fmt.Errorf("%w: negative session ttl", ErrInvalidConfig)
	}
	return nil
}
