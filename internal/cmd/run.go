package cmd

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/hostbind/internal/event"
	"github.com/Iron-Ham/hostbind/internal/obj"
	"github.com/Iron-Ham/hostbind/internal/scenario"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>...",
	Short: "Run scenario files against the in-memory engine",
	Long: `Run one or more scenario files. Each scenario gets a fresh engine and
runtime configured from the config file, so objects never leak between
scenarios.

A scenario lists steps such as new, clone, drop, free, bind, hold, cast
and call. Each step may expect an error kind; fatal errors are caught and
judged like ordinary ones.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	runPolicy      string        // Overrides cell.policy for every scenario
	runStepTimeout time.Duration // Bound on a single step
	runVerbose     bool          // Show errors of expected failures too
)

func init() {
	runCmd.Flags().StringVar(&runPolicy, "policy", "", "borrow policy override (single_threaded, blocking)")
	runCmd.Flags().DurationVar(&runStepTimeout, "step-timeout", scenario.DefaultStepTimeout, "abort a scenario when one step takes longer")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "show the error of every step that returned one")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnv()
	if err != nil {
		return err
	}
	defer logger.Close()

	opts, err := obj.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	runner := scenario.NewRunner(logger, event.NewBus(logger),
		scenario.WithRuntimeOptions(opts...),
		scenario.WithStepTimeout(runStepTimeout))

	p := newPrinter(cmd.OutOrStdout(), cfg)
	failed := 0
	for _, path := range args {
		sc, err := scenario.Load(path)
		if err != nil {
			return err
		}
		if runPolicy != "" {
			sc.Policy = runPolicy
		}
		report, err := runner.Run(cmd.Context(), sc)
		if err != nil {
			return fmt.Errorf("running %s: %w", path, err)
		}
		p.printReport(report, runVerbose)
		if !report.Passed {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(args))
	}
	return nil
}
