package pinws

import (
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default values for optional configuration fields.
const (
	DefaultReconnectDelay   = time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = time.Second
)

// Config holds everything needed to build a Client. Zero durations fall back
// to defaults, except ReplyTimeout and KeepAliveInterval where zero disables
// the feature.
type Config struct {
	// Endpoint is the ws:// or wss:// address of the server.
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers"`
	// ReconnectDelay is waited after a failed dial. Dropped connections are
	// reopened right away.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// ReplyTimeout bounds how long Send waits for its reply. Zero waits forever.
	ReplyTimeout      time.Duration `yaml:"reply_timeout"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	// SendRate caps outbound events per second. Zero is unlimited.
	SendRate  float64 `yaml:"send_rate"`
	SendBurst int     `yaml:"send_burst"`
}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:   DefaultReconnectDelay,
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.SendRate > 0 && c.SendBurst == 0 {
		c.SendBurst = 1
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.Wrap(ErrInvalidConfig, "endpoint is required")
	}

	if _, err := c.URL(); err != nil {
		return err
	}

	durations := map[string]time.Duration{
		"reconnect_delay":     c.ReconnectDelay,
		"reply_timeout":       c.ReplyTimeout,
		"keep_alive_interval": c.KeepAliveInterval,
		"handshake_timeout":   c.HandshakeTimeout,
		"write_timeout":       c.WriteTimeout,
	}
	for name, d := range durations {
		if d < 0 {
			return errors.Wrapf(ErrInvalidConfig, "%s must not be negative, got %s", name, d)
		}
	}

	if c.SendRate < 0 || c.SendBurst < 0 {
		return errors.Wrapf(ErrInvalidConfig, "send_rate and send_burst must not be negative, got %v and %d", c.SendRate, c.SendBurst)
	}

	return nil
}

// URL parses the endpoint.
func (c Config) URL() (url.URL, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return url.URL{}, errors.Wrapf(ErrInvalidConfig, "endpoint %q: %s", c.Endpoint, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return url.URL{}, errors.Wrapf(ErrInvalidConfig, "endpoint %q: scheme must be ws or wss", c.Endpoint)
	}

	if u.Host == "" {
		return url.URL{}, errors.Wrapf(ErrInvalidConfig, "endpoint %q: missing host", c.Endpoint)
	}

	return *u, nil
}

// Header returns the configured headers as an http.Header.
func (c Config) Header() http.Header {
	header := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		header.Set(k, v)
	}
	return header
}

// LoadConfig reads a YAML config file, expanding ${VAR} environment variables,
// applies defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "validate config")
	}

	return cfg, nil
}

// ReadConfig is LoadConfig without validation, for callers which complete the
// config before using it. NewFromConfig validates it anyway.
func ReadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config yaml")
	}

	cfg.applyDefaults()

	return cfg, nil
}
