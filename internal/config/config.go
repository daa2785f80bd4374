package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/viper"
)

// Config represents the complete hostbind configuration
type Config struct {
	Cell    CellConfig    `mapstructure:"cell"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Logging LoggingConfig `mapstructure:"logging"`
	Debug   DebugConfig   `mapstructure:"debug"`
	Stress  StressConfig  `mapstructure:"stress"`
	Output  OutputConfig  `mapstructure:"output"`
}

// CellConfig controls the borrow cell used for payload storage
type CellConfig struct {
	// Policy selects the concurrency policy for payload cells.
	// Options: "single_threaded", "blocking" (default: "single_threaded")
	Policy string `mapstructure:"policy"`
}

// RuntimeConfig controls object lifecycle behavior
type RuntimeConfig struct {
	// LeakOnBoundDestroy leaks the payload with an error log instead of aborting
	// when an object is destroyed while one of its guards is alive (default: false)
	LeakOnBoundDestroy bool `mapstructure:"leak_on_bound_destroy"`
	// DestroyWaitMs bounds how long destruction waits for guards held by other
	// threads under the blocking policy, 0 = wait indefinitely (default: 0)
	DestroyWaitMs int `mapstructure:"destroy_wait_ms"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the directory holding hostbind.log. Empty writes to stderr.
	// Supports ~ for home directory expansion. (default: "")
	Dir string `mapstructure:"dir"`
}

// DebugConfig controls diagnostic tracing
type DebugConfig struct {
	// TraceClasses lists glob patterns of class names whose borrow and lifecycle
	// operations are logged at info level. Examples: ["Player", "Net*"] (default: [])
	TraceClasses []string `mapstructure:"trace_classes"`
}

// StressConfig controls the concurrent stress harness
type StressConfig struct {
	// Workers is the number of concurrent goroutines, each acting as a thread (default: 8)
	Workers int `mapstructure:"workers"`
	// Iterations is the number of borrow operations per worker (default: 1000)
	Iterations int `mapstructure:"iterations"`
	// ReadersPercent is the share of operations that take shared borrows, 0-100 (default: 80)
	ReadersPercent int `mapstructure:"readers_percent"`
	// HoldMicros is how long each guard is held in microseconds (default: 10)
	HoldMicros int `mapstructure:"hold_micros"`
}

// OutputConfig controls CLI rendering
type OutputConfig struct {
	// Color enables styled terminal output (default: true)
	Color bool `mapstructure:"color"`
	// Width overrides the detected terminal width, 0 = detect (default: 0)
	Width int `mapstructure:"width"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Cell: CellConfig{
			Policy: PolicySingleThreaded,
		},
		Runtime: RuntimeConfig{
			LeakOnBoundDestroy: false,
			DestroyWaitMs:      0,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
			Dir:     "",
		},
		Debug: DebugConfig{
			TraceClasses: []string{},
		},
		Stress: StressConfig{
			Workers:        8,
			Iterations:     1000,
			ReadersPercent: 80,
			HoldMicros:     10,
		},
		Output: OutputConfig{
			Color: true,
			Width: 0,
		},
	}
}

// DestroyWait returns the destroy wait bound as a time.Duration (0 means unbounded)
func (c *RuntimeConfig) DestroyWait() time.Duration {
	return time.Duration(c.DestroyWaitMs) * time.Millisecond
}

// Hold returns the guard hold time as a time.Duration
func (c *StressConfig) Hold() time.Duration {
	return time.Duration(c.HoldMicros) * time.Microsecond
}

// ResolveDir returns the log directory with ~ expanded and relative paths
// resolved against baseDir. Empty stays empty (stderr).
func (l *LoggingConfig) ResolveDir(baseDir string) string {
	if l.Dir == "" {
		return ""
	}

	path := l.Dir
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// TraceMatcher compiles TraceClasses into a predicate over class names.
// Invalid patterns are rejected by Validate; here they are skipped.
func (d *DebugConfig) TraceMatcher() func(class string) bool {
	var globs []glob.Glob
	for _, p := range d.TraceClasses {
		g, err := glob.Compile(p)
		if err != nil {
			continue
		}
		globs = append(globs, g)
	}
	if len(globs) == 0 {
		return func(string) bool { return false }
	}
	return func(class string) bool {
		for _, g := range globs {
			if g.Match(class) {
				return true
			}
		}
		return false
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("cell.policy", defaults.Cell.Policy)

	viper.SetDefault("runtime.leak_on_bound_destroy", defaults.Runtime.LeakOnBoundDestroy)
	viper.SetDefault("runtime.destroy_wait_ms", defaults.Runtime.DestroyWaitMs)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	viper.SetDefault("debug.trace_classes", defaults.Debug.TraceClasses)

	viper.SetDefault("stress.workers", defaults.Stress.Workers)
	viper.SetDefault("stress.iterations", defaults.Stress.Iterations)
	viper.SetDefault("stress.readers_percent", defaults.Stress.ReadersPercent)
	viper.SetDefault("stress.hold_micros", defaults.Stress.HoldMicros)

	viper.SetDefault("output.color", defaults.Output.Color)
	viper.SetDefault("output.width", defaults.Output.Width)
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

// Get returns the current configuration, falling back to defaults when the
// loaded configuration is invalid.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hostbind")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hostbind"
	}
	return filepath.Join(home, ".config", "hostbind")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
