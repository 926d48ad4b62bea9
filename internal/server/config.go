// Package server provides configuration helpers that define runtime defaults,
// validation, and file/environment loading for the relay service.
package server

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when a setting is absent or invalid.
const (
	defaultPort            = ":8080"
	defaultStaticFile      = "public/client.html"
	defaultWelcomeMessage  = "Welcome to the chat!"
	defaultSendBufferSize  = 256
	defaultWriteWait       = 10 * time.Second
	defaultPongWait        = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMetricsInterval = 60 * time.Second
)

// LogConfig selects the log level and output format.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: text | json.
	Format string `yaml:"format"`
}

// Config holds the server configuration settings.
type Config struct {
	// Port is the listen address, e.g. ":8080".
	Port string `yaml:"port"`

	// StaticFile is the HTML document served at GET /.
	StaticFile string `yaml:"static_file"`

	// WelcomeMessage is sent to each new connection alone. Empty disables it.
	WelcomeMessage string `yaml:"welcome_message"`

	// SendBufferSize is the per-connection outbound queue depth.
	SendBufferSize int `yaml:"send_buffer_size"`

	// WriteWait bounds every network write to a client.
	WriteWait time.Duration `yaml:"write_wait"`

	// PongWait is how long a connection may stay silent before it is dropped.
	// Pings are sent every 9/10 of it.
	PongWait time.Duration `yaml:"pong_wait"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server and hub.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MetricsInterval is the period between metrics reports. Zero disables them.
	MetricsInterval time.Duration `yaml:"metrics_interval"`

	Log LogConfig `yaml:"log"`
}

func (c Config) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

func defaultConfig() Config {
	return Config{
		Port:            defaultPort,
		StaticFile:      defaultStaticFile,
		WelcomeMessage:  defaultWelcomeMessage,
		SendBufferSize:  defaultSendBufferSize,
		WriteWait:       defaultWriteWait,
		PongWait:        defaultPongWait,
		ShutdownTimeout: defaultShutdownTimeout,
		MetricsInterval: defaultMetricsInterval,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	cfg.Port = normalizePort(cfg.Port)

	if cfg.StaticFile == "" {
		cfg.StaticFile = defaultStaticFile
	}

	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}

	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}

	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	if cfg.MetricsInterval < 0 {
		cfg.MetricsInterval = 0
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	return cfg
}

// normalizePort turns "8080" into ":8080" and fills in the default when empty.
func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return defaultPort
	}
	if !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

// Validate checks structural constraints that sanitizing cannot repair.
func (c *Config) Validate() error {
	if c.Log.Level != "" {
		if _, err := ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q unknown: want text|json", c.Log.Format)
	}
	if c.SendBufferSize < 0 {
		return fmt.Errorf("send_buffer_size must not be negative")
	}
	if c.WriteWait < 0 || c.PongWait < 0 || c.ShutdownTimeout < 0 || c.MetricsInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	sanitized := sanitizeConfig(cfg)
	return &sanitized
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// at path and environment overrides, in that order. An empty path skips the
// file.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("server config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("server config: parse yaml: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	sanitized := sanitizeConfig(cfg)
	return &sanitized, nil
}

func applyEnv(cfg *Config) {
	// Load SERVER_PORT
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	// Load STATIC_FILE
	if file := os.Getenv("STATIC_FILE"); file != "" {
		cfg.StaticFile = file
	}

	// Load WELCOME_MESSAGE
	if welcome, ok := os.LookupEnv("WELCOME_MESSAGE"); ok {
		cfg.WelcomeMessage = welcome
	}

	// Load SEND_BUFFER_SIZE
	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}

	if wait := os.Getenv("WRITE_WAIT"); wait != "" {
		cfg.WriteWait = parseDuration(wait, cfg.WriteWait)
	}

	if wait := os.Getenv("PONG_WAIT"); wait != "" {
		cfg.PongWait = parseDuration(wait, cfg.PongWait)
	}

	if interval := os.Getenv("METRICS_INTERVAL"); interval != "" {
		cfg.MetricsInterval = parseDuration(interval, cfg.MetricsInterval)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax ("15s") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// ParseLevel converts a level name such as "debug" or "WARN" to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
