package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv
const EnvPrefix = "LESSONSYNC_"

// Config holds every runtime setting of the server
type Config struct {
	HTTP      *HTTPConfig
	WebSocket *WebSocketConfig
	Auth      *AuthConfig
	Router    *RouterConfig
	Log       *LogConfig
	Metrics   *MetricsConfig
	Tracing   *TracingConfig
}

type HTTPConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// WebSocketConfig tunes every connection. ReadTimeout is the pong deadline
// and must exceed PingInterval.
type WebSocketConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
}

// AuthConfig configures bearer token verification
type AuthConfig struct {
	Secret  string
	Issuer  string
	Leeway  time.Duration
	Timeout time.Duration
}

// RouterConfig controls inbound event handling. A RateLimit of 0 disables limiting.
type RouterConfig struct {
	RateLimit  int
	RateWindow time.Duration
	QueueSize  int
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// TracingConfig controls span export. Spans are written as JSON lines to
// stderr; SampleRatio is the fraction of root spans kept.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	SampleRatio float64
}

// DefaultConfig returns settings suited to a single classroom server.
// Auth.Secret has no default and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 64 * 1024,
		},
		Auth: &AuthConfig{
			Leeway:  30 * time.Second,
			Timeout: 5 * time.Second,
		},
		Router: &RouterConfig{
			RateLimit:  120,
			RateWindow: time.Minute,
			QueueSize:  1000,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: &MetricsConfig{
			Enabled:   true,
			Namespace: "lessonsync",
		},
		Tracing: &TracingConfig{
			Enabled:     false,
			ServiceName: "lessonsync",
			SampleRatio: 1.0,
		},
	}
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must be longer than the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}

	if c.Auth == nil {
		return errors.New("auth configuration is required")
	}
	if c.Auth.Secret == "" {
		return errors.New("auth secret cannot be empty")
	}
	if c.Auth.Leeway < 0 || c.Auth.Timeout < 0 {
		return errors.New("auth leeway and timeout cannot be negative")
	}

	if c.Router == nil {
		return errors.New("router configuration is required")
	}
	if c.Router.RateLimit < 0 {
		return errors.New("router rate limit cannot be negative")
	}
	if c.Router.RateLimit > 0 && c.Router.RateWindow <= 0 {
		return errors.New("router rate window must be positive when rate limiting is enabled")
	}
	if c.Router.QueueSize <= 0 {
		return errors.New("router queue size must be positive")
	}

	if c.Log == nil {
		return errors.New("log configuration is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	if c.Metrics == nil {
		return errors.New("metrics configuration is required")
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return errors.New("metrics namespace cannot be empty")
	}

	if c.Tracing == nil {
		return errors.New("tracing configuration is required")
	}
	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		return errors.New("tracing service name cannot be empty")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing sample ratio must be between 0 and 1")
	}

	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv overlays LESSONSYNC_* environment variables on the defaults.
// Unparseable values are reported rather than ignored.
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(c *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("HTTP_HOST", &c.HTTP.Host)
	num("HTTP_PORT", &c.HTTP.Port)
	dur("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	dur("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	dur("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)

	dur("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	dur("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	dur("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	num("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)
	if v, ok := os.LookupEnv(EnvPrefix + "WEBSOCKET_MAX_MESSAGE_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sWEBSOCKET_MAX_MESSAGE_SIZE: %w", EnvPrefix, err))
		} else {
			c.WebSocket.MaxMessageSize = n
		}
	}

	str("AUTH_SECRET", &c.Auth.Secret)
	str("AUTH_ISSUER", &c.Auth.Issuer)
	dur("AUTH_LEEWAY", &c.Auth.Leeway)
	dur("AUTH_TIMEOUT", &c.Auth.Timeout)

	num("ROUTER_RATE_LIMIT", &c.Router.RateLimit)
	dur("ROUTER_RATE_WINDOW", &c.Router.RateWindow)
	num("ROUTER_QUEUE_SIZE", &c.Router.QueueSize)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := os.LookupEnv(EnvPrefix + "METRICS_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMETRICS_ENABLED: %w", EnvPrefix, err))
		} else {
			c.Metrics.Enabled = b
		}
	}
	str("METRICS_NAMESPACE", &c.Metrics.Namespace)

	if v, ok := os.LookupEnv(EnvPrefix + "TRACING_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTRACING_ENABLED: %w", EnvPrefix, err))
		} else {
			c.Tracing.Enabled = b
		}
	}
	str("TRACING_SERVICE_NAME", &c.Tracing.ServiceName)
	if v, ok := os.LookupEnv(EnvPrefix + "TRACING_SAMPLE_RATIO"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTRACING_SAMPLE_RATIO: %w", EnvPrefix, err))
		} else {
			c.Tracing.SampleRatio = f
		}
	}

	return errors.Join(errs...)
}

// ConfigFile is the YAML layout; durations are written as strings like "30s"
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `yaml:"http"`
	WebSocket *WebSocketConfigFile `yaml:"websocket"`
	Auth      *AuthConfigFile      `yaml:"auth"`
	Router    *RouterConfigFile    `yaml:"router"`
	Log       *LogConfig           `yaml:"log"`
	Metrics   *MetricsConfigFile   `yaml:"metrics"`
	Tracing   *TracingConfigFile   `yaml:"tracing"`
}

type HTTPConfigFile struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

type WebSocketConfigFile struct {
	PingInterval   string `yaml:"ping_interval"`
	ReadTimeout    string `yaml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout"`
	BufferSize     int    `yaml:"buffer_size"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

type AuthConfigFile struct {
	Secret  string `yaml:"secret"`
	Issuer  string `yaml:"issuer"`
	Leeway  string `yaml:"leeway"`
	Timeout string `yaml:"timeout"`
}

type RouterConfigFile struct {
	RateLimit  *int   `yaml:"rate_limit"`
	RateWindow string `yaml:"rate_window"`
	QueueSize  int    `yaml:"queue_size"`
}

type MetricsConfigFile struct {
	Enabled   *bool  `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

type TracingConfigFile struct {
	Enabled     *bool    `yaml:"enabled"`
	ServiceName string   `yaml:"service_name"`
	SampleRatio *float64 `yaml:"sample_ratio"`
}

// LoadFromFile reads a YAML file over the defaults and validates the result
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []error
	dur := func(key, value string, dst *time.Duration) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}

	if f := file.HTTP; f != nil {
		if f.Host != "" {
			c.HTTP.Host = f.Host
		}
		if f.Port > 0 {
			c.HTTP.Port = f.Port
		}
		dur("http.read_timeout", f.ReadTimeout, &c.HTTP.ReadTimeout)
		dur("http.write_timeout", f.WriteTimeout, &c.HTTP.WriteTimeout)
		dur("http.shutdown_timeout", f.ShutdownTimeout, &c.HTTP.ShutdownTimeout)
	}

	if f := file.WebSocket; f != nil {
		dur("websocket.ping_interval", f.PingInterval, &c.WebSocket.PingInterval)
		dur("websocket.read_timeout", f.ReadTimeout, &c.WebSocket.ReadTimeout)
		dur("websocket.write_timeout", f.WriteTimeout, &c.WebSocket.WriteTimeout)
		if f.BufferSize > 0 {
			c.WebSocket.BufferSize = f.BufferSize
		}
		if f.MaxMessageSize > 0 {
			c.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
	}

	if f := file.Auth; f != nil {
		if f.Secret != "" {
			c.Auth.Secret = f.Secret
		}
		if f.Issuer != "" {
			c.Auth.Issuer = f.Issuer
		}
		dur("auth.leeway", f.Leeway, &c.Auth.Leeway)
		dur("auth.timeout", f.Timeout, &c.Auth.Timeout)
	}

	if f := file.Router; f != nil {
		if f.RateLimit != nil {
			c.Router.RateLimit = *f.RateLimit
		}
		dur("router.rate_window", f.RateWindow, &c.Router.RateWindow)
		if f.QueueSize > 0 {
			c.Router.QueueSize = f.QueueSize
		}
	}

	if f := file.Log; f != nil {
		if f.Level != "" {
			c.Log.Level = f.Level
		}
		if f.Format != "" {
			c.Log.Format = f.Format
		}
	}

	if f := file.Metrics; f != nil {
		if f.Enabled != nil {
			c.Metrics.Enabled = *f.Enabled
		}
		if f.Namespace != "" {
			c.Metrics.Namespace = f.Namespace
		}
	}

	if f := file.Tracing; f != nil {
		if f.Enabled != nil {
			c.Tracing.Enabled = *f.Enabled
		}
		if f.ServiceName != "" {
			c.Tracing.ServiceName = f.ServiceName
		}
		if f.SampleRatio != nil {
			c.Tracing.SampleRatio = *f.SampleRatio
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid durations in %s: %w", path, errors.Join(errs...))
	}
	return nil
}

// LoadConfigWithPrecedence builds the configuration from defaults, then
// environment variables, then the file if one is given. Later sources win.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
