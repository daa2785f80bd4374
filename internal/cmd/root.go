package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/Iron-Ham/hostbind/internal/config"
	"github.com/Iron-Ham/hostbind/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "hostbind",
	Short: "Object binding runtime for a host engine",
	Long: `hostbind binds Go payloads to objects owned by a host engine.

It tracks object identity, reference counts and payload borrows, and
turns misuse such as touching a destroyed object into a clean error.
The CLI drives the runtime against an in-memory engine: run declarative
scenarios or a multi-threaded stress test.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which scenario and stress
// runs stop on when it is canceled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/hostbind/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level (debug, info, warn, error)")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/hostbind")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HOSTBIND")
	// Replace dots with underscores for nested keys in env vars
	// e.g., HOSTBIND_CELL_POLICY for cell.policy
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// loadEnv loads the configuration and builds the logger it asks for. Unlike
// config.Get it reports an invalid configuration instead of falling back.
func loadEnv() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Logging.Enabled {
		return cfg, logging.NopLogger(), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	logger, err := logging.NewLogger(cfg.Logging.ResolveDir(cwd), cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
