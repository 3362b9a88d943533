// Package config loads the gateway configuration.
//
// Values are resolved with the following priority, highest first:
//  1. command-line flags (passed via Options)
//  2. environment variables
//  3. a .env file in the working directory (never overrides the environment)
//  4. an optional YAML file (--config or MEDCALL_CONFIG)
//  5. built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultAddr            = ":8000"
	DefaultLogLevel        = "info"
	DefaultShutdownTimeout = 10 * time.Second

	DefaultDeepgramURL         = "wss://api.deepgram.com/v1/listen"
	DefaultDeepgramModel       = "nova-2-medical"
	DefaultDeepgramEndpointing = 800

	DefaultBufferFrames      = 120
	DefaultConnectTimeout    = 20 * time.Second
	DefaultAttemptTimeout    = 15 * time.Second
	DefaultKeepaliveInterval = 5 * time.Second
	DefaultReconnectDelay    = 1 * time.Second
	DefaultRetryDelay        = 3 * time.Second
)

// Config holds the gateway configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`

	LogLevel string `yaml:"log_level"`

	// AllowedOrigins restricts websocket upgrades by Origin header.
	// Empty allows every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Deepgram DeepgramConfig `yaml:"deepgram"`
	STT      STTConfig      `yaml:"stt"`
}

// DeepgramConfig describes the upstream transcription provider.
type DeepgramConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`

	// EndpointingMS is how long the provider waits in silence before
	// flagging a result as final.
	EndpointingMS int `yaml:"endpointing_ms"`
}

// STTConfig holds the per-slot buffering and timing knobs.
type STTConfig struct {
	BufferFrames      int           `yaml:"buffer_frames"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
}

// Options carries CLI flag overrides. Zero values mean "not set".
type Options struct {
	ConfigFile     string
	EnvFile        string
	Addr           string
	LogLevel       string
	AllowedOrigins []string
	DeepgramURL    string
	DeepgramAPIKey string
	DeepgramModel  string
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Addr:            DefaultAddr,
		LogLevel:        DefaultLogLevel,
		ShutdownTimeout: DefaultShutdownTimeout,
		Deepgram: DeepgramConfig{
			URL:           DefaultDeepgramURL,
			Model:         DefaultDeepgramModel,
			EndpointingMS: DefaultDeepgramEndpointing,
		},
		STT: STTConfig{
			BufferFrames:      DefaultBufferFrames,
			ConnectTimeout:    DefaultConnectTimeout,
			AttemptTimeout:    DefaultAttemptTimeout,
			KeepaliveInterval: DefaultKeepaliveInterval,
			ReconnectDelay:    DefaultReconnectDelay,
			RetryDelay:        DefaultRetryDelay,
		},
	}
}

// Load resolves the configuration from all sources and validates it.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = os.Getenv("MEDCALL_CONFIG")
	}
	if configFile != "" {
		if err := cfg.loadFile(configFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyOptions(opts)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Addr = getEnv("MEDCALL_ADDR", c.Addr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	if origins := os.Getenv("MEDCALL_ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}

	c.Deepgram.URL = getEnv("DEEPGRAM_URL", c.Deepgram.URL)
	c.Deepgram.APIKey = getEnv("DEEPGRAM_API_KEY", c.Deepgram.APIKey)
	c.Deepgram.Model = getEnv("DEEPGRAM_MODEL", c.Deepgram.Model)

	var err error
	if c.Deepgram.EndpointingMS, err = getEnvInt("DEEPGRAM_ENDPOINTING_MS", c.Deepgram.EndpointingMS); err != nil {
		return err
	}
	if c.STT.BufferFrames, err = getEnvInt("STT_BUFFER_FRAMES", c.STT.BufferFrames); err != nil {
		return err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"MEDCALL_SHUTDOWN_TIMEOUT", &c.ShutdownTimeout},
		{"STT_CONNECT_TIMEOUT", &c.STT.ConnectTimeout},
		{"STT_ATTEMPT_TIMEOUT", &c.STT.AttemptTimeout},
		{"STT_KEEPALIVE_INTERVAL", &c.STT.KeepaliveInterval},
		{"STT_RECONNECT_DELAY", &c.STT.ReconnectDelay},
		{"STT_RETRY_DELAY", &c.STT.RetryDelay},
	}
	for _, d := range durations {
		v, ok := os.LookupEnv(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) applyOptions(opts Options) {
	if opts.Addr != "" {
		c.Addr = opts.Addr
	}
	if opts.LogLevel != "" {
		c.LogLevel = opts.LogLevel
	}
	if len(opts.AllowedOrigins) > 0 {
		c.AllowedOrigins = opts.AllowedOrigins
	}
	if opts.DeepgramURL != "" {
		c.Deepgram.URL = opts.DeepgramURL
	}
	if opts.DeepgramAPIKey != "" {
		c.Deepgram.APIKey = opts.DeepgramAPIKey
	}
	if opts.DeepgramModel != "" {
		c.Deepgram.Model = opts.DeepgramModel
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("listen address is required")
	}
	if c.Deepgram.APIKey == "" {
		return errors.New("DEEPGRAM_API_KEY is required")
	}
	if c.Deepgram.URL == "" {
		return errors.New("deepgram url is required")
	}
	if c.STT.BufferFrames <= 0 {
		return fmt.Errorf("stt buffer_frames must be positive, got %d", c.STT.BufferFrames)
	}
	for name, d := range map[string]time.Duration{
		"connect_timeout":    c.STT.ConnectTimeout,
		"attempt_timeout":    c.STT.AttemptTimeout,
		"keepalive_interval": c.STT.KeepaliveInterval,
		"reconnect_delay":    c.STT.ReconnectDelay,
		"retry_delay":        c.STT.RetryDelay,
	} {
		if d <= 0 {
			return fmt.Errorf("stt %s must be positive, got %s", name, d)
		}
	}
	if c.STT.AttemptTimeout > c.STT.ConnectTimeout {
		return fmt.Errorf("stt attempt_timeout (%s) must not exceed connect_timeout (%s)",
			c.STT.AttemptTimeout, c.STT.ConnectTimeout)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
