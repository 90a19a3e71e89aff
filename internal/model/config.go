package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Default endpoint paths on the publishing platform.
const (
	DefaultStreamPath   = "/interactions/sse/stream/"
	DefaultPingPath     = "/interactions/sse/ping/"
	DefaultLoadMorePath = "/interactions/ajax/notifications/load_more/"
	DefaultMarkReadPath = "/interactions/ajax/notifications/%d/mark_read/"
)

// ServerConfig describes the platform the client talks to.
type ServerConfig struct {
	// BaseURL is the root URL of the platform (e.g. https://novels.example.com).
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`

	StreamPath   string `mapstructure:"stream_path" yaml:"stream_path" validate:"required,startswith=/"`
	PingPath     string `mapstructure:"ping_path" yaml:"ping_path" validate:"required,startswith=/"`
	LoadMorePath string `mapstructure:"load_more_path" yaml:"load_more_path" validate:"required,startswith=/"`

	// MarkReadPath is a format string taking the notification id.
	MarkReadPath string `mapstructure:"mark_read_path" yaml:"mark_read_path" validate:"required,startswith=/,contains=%d"`

	// PageSize is the limit sent with every history request.
	PageSize int `mapstructure:"page_size" yaml:"page_size" validate:"min=1,max=100"`

	// Timeout bounds every non-streaming request.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

// StreamConfig holds the push connection's reconnect and keep-alive settings.
type StreamConfig struct {
	BaseDelay            time.Duration `mapstructure:"base_delay" yaml:"base_delay" validate:"gt=0"`
	Multiplier           float64       `mapstructure:"multiplier" yaml:"multiplier" validate:"gte=1"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts" validate:"min=1"`
	KeepAliveInterval    time.Duration `mapstructure:"keep_alive_interval" yaml:"keep_alive_interval" validate:"gt=0"`
	StuckTimeout         time.Duration `mapstructure:"stuck_timeout" yaml:"stuck_timeout" validate:"gt=0"`
}

// FeedConfig controls the in-memory notification list.
type FeedConfig struct {
	// Capacity is the maximum number of rendered notifications.
	Capacity int `mapstructure:"capacity" yaml:"capacity" validate:"min=1"`

	// LoadThreshold is how many rows from the bottom the cursor must be
	// before older history is requested.
	LoadThreshold int `mapstructure:"load_threshold" yaml:"load_threshold" validate:"min=0"`

	// Disabled turns the list into an inert component; toasts still show.
	Disabled bool `mapstructure:"disabled" yaml:"disabled"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	// ToastSeconds is how long the popup for a pushed notification stays
	// up. Zero disables the popup.
	ToastSeconds int `mapstructure:"toast_seconds" yaml:"toast_seconds" validate:"min=0"`
}

// LogConfig controls the file logger. The terminal is owned by the UI, so
// logs never go to stdout.
type LogConfig struct {
	File  string `mapstructure:"file" yaml:"file"`
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Stream  StreamConfig  `mapstructure:"stream" yaml:"stream"`
	Feed    FeedConfig    `mapstructure:"feed" yaml:"feed"`
	Display DisplayConfig `mapstructure:"display" yaml:"display"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// configValidator is initialised once; custom registrations must happen
// before the first Validate call.
var configValidator = validator.New()

// Validate checks the configuration against its struct tags and returns a
// single readable error listing every failing field.
func (c *AppConfig) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ConfigDir returns ~/.config/novelnotify, falling back to the working
// directory when the home directory is unknown.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "novelnotify")
}

// DefaultConfigPath returns the default path for the configuration file.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultAppConfig returns the configuration used when no file exists.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			BaseURL:      "http://localhost:8000",
			StreamPath:   DefaultStreamPath,
			PingPath:     DefaultPingPath,
			LoadMorePath: DefaultLoadMorePath,
			MarkReadPath: DefaultMarkReadPath,
			PageSize:     10,
			Timeout:      30 * time.Second,
		},
		Stream: StreamConfig{
			BaseDelay:            5 * time.Second,
			Multiplier:           1.5,
			MaxReconnectAttempts: 5,
			KeepAliveInterval:    30 * time.Second,
			StuckTimeout:         5 * time.Second,
		},
		Feed: FeedConfig{
			Capacity:      50,
			LoadThreshold: 1,
		},
		Display: DisplayConfig{
			ToastSeconds: 8,
		},
		Log: LogConfig{
			File:  filepath.Join(ConfigDir(), "novelnotify.log"),
			Level: "info",
		},
	}
}

// setDefaults registers every key so that environment overrides
// (NOVELNOTIFY_SERVER_BASE_URL, ...) resolve during Unmarshal.
func setDefaults(v *viper.Viper, cfg *AppConfig) {
	v.SetDefault("server.base_url", cfg.Server.BaseURL)
	v.SetDefault("server.stream_path", cfg.Server.StreamPath)
	v.SetDefault("server.ping_path", cfg.Server.PingPath)
	v.SetDefault("server.load_more_path", cfg.Server.LoadMorePath)
	v.SetDefault("server.mark_read_path", cfg.Server.MarkReadPath)
	v.SetDefault("server.page_size", cfg.Server.PageSize)
	v.SetDefault("server.timeout", cfg.Server.Timeout)
	v.SetDefault("stream.base_delay", cfg.Stream.BaseDelay)
	v.SetDefault("stream.multiplier", cfg.Stream.Multiplier)
	v.SetDefault("stream.max_reconnect_attempts", cfg.Stream.MaxReconnectAttempts)
	v.SetDefault("stream.keep_alive_interval", cfg.Stream.KeepAliveInterval)
	v.SetDefault("stream.stuck_timeout", cfg.Stream.StuckTimeout)
	v.SetDefault("feed.capacity", cfg.Feed.Capacity)
	v.SetDefault("feed.load_threshold", cfg.Feed.LoadThreshold)
	v.SetDefault("feed.disabled", cfg.Feed.Disabled)
	v.SetDefault("display.toast_seconds", cfg.Display.ToastSeconds)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.level", cfg.Log.Level)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file yields the defaults. Environment variables prefixed with
// NOVELNOTIFY_ override file values.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NOVELNOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultAppConfig())

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("stream", cfg.Stream)
	v.Set("feed", cfg.Feed)
	v.Set("display", cfg.Display)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
