package cmd

import (
	"fmt"

	"github.com/Iron-Ham/hostbind/internal/stress"
	"github.com/spf13/cobra"
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Hammer one object from many threads under the blocking policy",
	Long: `Run workers that each act as a separate engine thread and repeatedly
bind one shared reference-counted object, shared or exclusive. Some writes
go through the engine's method dispatch instead of a direct bind.

The run passes when every exclusive increment is reflected in the final
value and the object is destroyed once the last handle is dropped.

Defaults come from the stress section of the config file.`,
	RunE: runStress,
}

var (
	stressWorkers    int
	stressIterations int
	stressReaders    int
	stressSeed       uint64
)

func init() {
	stressCmd.Flags().IntVarP(&stressWorkers, "workers", "w", 0, "number of worker threads (default from stress.workers)")
	stressCmd.Flags().IntVarP(&stressIterations, "iterations", "n", 0, "operations per worker (default from stress.iterations)")
	stressCmd.Flags().IntVar(&stressReaders, "readers", -1, "percentage of shared borrows (default from stress.readers_percent)")
	stressCmd.Flags().Uint64Var(&stressSeed, "seed", 0, "random seed, 0 picks one")
	rootCmd.AddCommand(stressCmd)
}

func runStress(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnv()
	if err != nil {
		return err
	}
	defer logger.Close()

	opts := stress.OptionsFromConfig(cfg)
	if stressWorkers > 0 {
		opts.Workers = stressWorkers
	}
	if stressIterations > 0 {
		opts.Iterations = stressIterations
	}
	if stressReaders >= 0 {
		opts.ReadersPercent = stressReaders
	}
	if stressSeed != 0 {
		opts.Seed = stressSeed
	}

	res, err := stress.Run(cmd.Context(), logger, opts)
	if err != nil {
		return err
	}
	newPrinter(cmd.OutOrStdout(), cfg).printStress(res)
	if !res.OK() {
		return fmt.Errorf("stress run lost writes: final %d, writes %d", res.Final, res.Writes)
	}
	return nil
}
