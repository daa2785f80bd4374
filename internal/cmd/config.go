package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/Iron-Ham/hostbind/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify hostbind configuration",
	Long: `View or modify hostbind configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  hostbind config set cell.policy blocking
  hostbind config set runtime.leak_on_bound_destroy true
  hostbind config set stress.workers 16

Valid keys:
  cell.policy                    - Borrow policy: single_threaded, blocking
  runtime.leak_on_bound_destroy  - Leak the payload instead of aborting (true/false)
  runtime.destroy_wait_ms        - Max wait for other threads' guards, 0 = forever
  logging.enabled                - Enable logging (true/false)
  logging.level                  - debug, info, warn, error
  logging.dir                    - Log directory, empty = stderr
  stress.workers                 - Worker threads for 'hostbind stress'
  stress.iterations              - Operations per worker
  stress.readers_percent         - Share of shared borrows, 0-100
  stress.hold_micros             - Guard hold time in microseconds
  output.color                   - Styled terminal output (true/false)
  output.width                   - Output width, 0 = detect`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/hostbind/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintln(out)

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "cell:")
	fmt.Fprintf(out, "  policy: %s\n", cfg.Cell.Policy)

	fmt.Fprintln(out, "runtime:")
	fmt.Fprintf(out, "  leak_on_bound_destroy: %v\n", cfg.Runtime.LeakOnBoundDestroy)
	fmt.Fprintf(out, "  destroy_wait_ms: %d\n", cfg.Runtime.DestroyWaitMs)

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  dir: %q\n", cfg.Logging.Dir)

	fmt.Fprintln(out, "debug:")
	fmt.Fprintf(out, "  trace_classes: [%s]\n", strings.Join(cfg.Debug.TraceClasses, ", "))

	fmt.Fprintln(out, "stress:")
	fmt.Fprintf(out, "  workers: %d\n", cfg.Stress.Workers)
	fmt.Fprintf(out, "  iterations: %d\n", cfg.Stress.Iterations)
	fmt.Fprintf(out, "  readers_percent: %d\n", cfg.Stress.ReadersPercent)
	fmt.Fprintf(out, "  hold_micros: %d\n", cfg.Stress.HoldMicros)

	fmt.Fprintln(out, "output:")
	fmt.Fprintf(out, "  color: %v\n", cfg.Output.Color)
	fmt.Fprintf(out, "  width: %d\n", cfg.Output.Width)

	return nil
}

// configKeys maps settable keys to their value type.
var configKeys = map[string]string{
	"cell.policy":                   "policy",
	"runtime.leak_on_bound_destroy": "bool",
	"runtime.destroy_wait_ms":       "int",
	"logging.enabled":               "bool",
	"logging.level":                 "level",
	"logging.dir":                   "string",
	"stress.workers":                "int",
	"stress.iterations":             "int",
	"stress.readers_percent":        "int",
	"stress.hold_micros":            "int",
	"output.color":                  "bool",
	"output.width":                  "int",
}

// parseConfigValue checks value against the type of key.
func parseConfigValue(key, value string) (any, error) {
	keyType, ok := configKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'hostbind config set --help' to see valid keys", key)
	}

	switch keyType {
	case "policy":
		if !slices.Contains(config.ValidPolicies(), strings.ToLower(value)) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidPolicies(), ", "))
		}
		return strings.ToLower(value), nil
	case "level":
		if !slices.Contains(config.ValidLogLevels(), strings.ToLower(value)) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidLogLevels(), ", "))
		}
		return strings.ToLower(value), nil
	case "bool":
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return intVal, nil
	default:
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseConfigValue(key, args[1])
	if err != nil {
		return err
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set(key, typedValue)

	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)

	return nil
}

// defaultConfigContent is the commented file written by 'config init'.
const defaultConfigContent = `# hostbind configuration

# Borrow cell settings
cell:
  # Concurrency policy for payload cells
  # single_threaded: only the constructing thread may bind, conflicts fail fast
  # blocking: other threads wait for conflicting guards to be released
  policy: single_threaded

# Object lifecycle settings
runtime:
  # Leak the payload (with an error log) instead of aborting when an object
  # is destroyed while the destroying thread still holds one of its guards
  leak_on_bound_destroy: false
  # Max time destruction waits for guards held by other threads, 0 = forever
  destroy_wait_ms: 0

# Logging settings
logging:
  enabled: true
  # debug, info, warn, error
  level: info
  # Directory for hostbind.log, empty writes to stderr
  dir: ""

# Diagnostics
debug:
  # Glob patterns of class names whose lifecycle is logged at info level
  trace_classes: []

# 'hostbind stress' defaults
stress:
  workers: 8
  iterations: 1000
  readers_percent: 80
  hold_micros: 10

# CLI output
output:
  color: true
  # 0 = detect from the terminal
  width: 0
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'hostbind config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Edit this file to customize hostbind's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/hostbind/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: HOSTBIND_* (e.g., HOSTBIND_CELL_POLICY)")

	return nil
}
