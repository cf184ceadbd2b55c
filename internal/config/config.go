package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/opencore/internal/engine"
	"github.com/Iron-Ham/opencore/internal/settings"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete opencore configuration
type Config struct {
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Hooks   HooksConfig   `mapstructure:"hooks" yaml:"hooks"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CaptureConfig holds the settings forwarded to the capture engine.
// Bitmask settings are written as names joined by '|', e.g. "core|pid".
type CaptureConfig struct {
	// Directory receives default-named and relative dumps. Empty leaves it unset.
	Directory string `mapstructure:"directory" yaml:"directory"`
	// ContentFlags selects the parts of the default dump name.
	ContentFlags string `mapstructure:"content_flags" yaml:"content_flags"`
	// VMAFilters selects the mapping classes included in a dump.
	VMAFilters string `mapstructure:"vma_filters" yaml:"vma_filters"`
	// TimeoutSeconds bounds a single dump.
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	// SizeLimitBytes discards dumps larger than this. Zero means no limit.
	SizeLimitBytes int64 `mapstructure:"size_limit_bytes" yaml:"size_limit_bytes"`
	// Mode is "ptrace", "copy" or "copy2".
	Mode string `mapstructure:"mode" yaml:"mode"`
	// Compress writes dumps through zstd as <path>.zst.
	Compress bool `mapstructure:"compress" yaml:"compress"`
	// Command is the dump tool run against the process.
	Command string `mapstructure:"command" yaml:"command"`
}

// HooksConfig selects the crash hooks installed by `opencore serve`.
type HooksConfig struct {
	Managed bool `mapstructure:"managed" yaml:"managed"`
	Native  bool `mapstructure:"native" yaml:"native"`
}

// LoggingConfig controls the opencore.log file
type LoggingConfig struct {
	// Enabled writes logs to a file instead of stderr
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the minimum log level (debug, info, warn, error)
	Level string `mapstructure:"level" yaml:"level"`
	// Directory holds opencore.log. Empty uses the capture directory, then
	// the config directory.
	Directory string `mapstructure:"directory" yaml:"directory"`
	// MaxSizeMB is the size at which the log file is rotated
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is how many rotated files to keep
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			ContentFlags:   engine.DefaultContentFlags.String(),
			VMAFilters:     engine.VMAFilter(0).String(),
			TimeoutSeconds: engine.DefaultTimeoutSeconds,
			SizeLimitBytes: engine.DefaultSizeLimitBytes,
			Mode:           engine.DefaultMode.String(),
			Command:        "gcore",
		},
		Hooks: HooksConfig{
			Managed: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("capture.directory", defaults.Capture.Directory)
	viper.SetDefault("capture.content_flags", defaults.Capture.ContentFlags)
	viper.SetDefault("capture.vma_filters", defaults.Capture.VMAFilters)
	viper.SetDefault("capture.timeout_seconds", defaults.Capture.TimeoutSeconds)
	viper.SetDefault("capture.size_limit_bytes", defaults.Capture.SizeLimitBytes)
	viper.SetDefault("capture.mode", defaults.Capture.Mode)
	viper.SetDefault("capture.compress", defaults.Capture.Compress)
	viper.SetDefault("capture.command", defaults.Capture.Command)

	viper.SetDefault("hooks.managed", defaults.Hooks.Managed)
	viper.SetDefault("hooks.native", defaults.Hooks.Native)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.directory", defaults.Logging.Directory)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Watch re-loads the configuration whenever the file viper read changes and
// passes the result to onChange. An invalid file yields a nil Config and
// the load error. It has no effect when no config file is in use.
func Watch(onChange func(*Config, error)) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load()
		onChange(cfg, err)
	})
	viper.WatchConfig()
}

// CaptureValues converts the capture section to store values.
func (c *Config) CaptureValues() (settings.Values, error) {
	flags, err := engine.ParseContentFlags(c.Capture.ContentFlags)
	if err != nil {
		return settings.Values{}, fmt.Errorf("capture.content_flags: %w", err)
	}
	filter, err := engine.ParseVMAFilter(c.Capture.VMAFilters)
	if err != nil {
		return settings.Values{}, fmt.Errorf("capture.vma_filters: %w", err)
	}
	mode, err := engine.ParseMode(c.Capture.Mode)
	if err != nil {
		return settings.Values{}, fmt.Errorf("capture.mode: %w", err)
	}
	return settings.Values{
		Directory:      c.Capture.Directory,
		ContentFlags:   flags,
		VMAFilter:      filter,
		TimeoutSeconds: c.Capture.TimeoutSeconds,
		SizeLimitBytes: c.Capture.SizeLimitBytes,
		Mode:           mode,
	}, nil
}

// LogDir returns the directory opencore.log is written to.
func (c *Config) LogDir() string {
	if c.Logging.Directory != "" {
		return c.Logging.Directory
	}
	if c.Capture.Directory != "" {
		return c.Capture.Directory
	}
	return ConfigDir()
}

// YAML renders the configuration as a config file.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "opencore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opencore"
	}
	return filepath.Join(home, ".config", "opencore")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
