package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Time the encoder's forward pass on each matrix backend",
	Long: `Encode synthetic batches at several sequence lengths on the naive and gonum
backends and print the median time per batch and the speedup over naive.`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	f := benchCmd.Flags()
	f.IntSlice("seq-lens", []int{64, 256, 1000}, "sequence lengths to benchmark")
	f.Int("batch-size", 4, "sequences per batch")
	f.Int("iterations", 5, "timed iterations per measurement")
	f.String("json", "", "optional path for the results as JSON")
	f.Bool("quick", false, "two short lengths and three iterations")

	mustBindPFlag("bench.seq_lens", f.Lookup("seq-lens"))
	mustBindPFlag("bench.batch_size", f.Lookup("batch-size"))
	mustBindPFlag("bench.iterations", f.Lookup("iterations"))
	mustBindPFlag("bench.json", f.Lookup("json"))
	mustBindPFlag("bench.quick", f.Lookup("quick"))
}

func runBench(cmd *cobra.Command, args []string) error {
	env, err := newCLIEnv()
	if err != nil {
		return err
	}
	defer func() {
		_ = env.logger.Sync()
	}()

	opts := BenchmarkOptions{
		Backends:   []string{BackendNaive, BackendGonum},
		SeqLens:    viper.GetIntSlice("bench.seq_lens"),
		BatchSize:  viper.GetInt("bench.batch_size"),
		Iterations: viper.GetInt("bench.iterations"),
		Seed:       env.seeds.Base,
	}
	if viper.GetBool("bench.quick") {
		opts.SeqLens = []int{64, 256}
		opts.Iterations = 3
	}

	suite, err := RunBenchmarkSuite(env.encoder, opts, env.logger)
	if err != nil {
		return err
	}
	if err := suite.PrintSummary(os.Stdout); err != nil {
		return err
	}

	if path := viper.GetString("bench.json"); path != "" {
		if err := writeFile(env.fs, path, suite.WriteJSON); err != nil {
			return err
		}
		env.logger.Info("benchmark results saved", zap.String("path", path))
	}
	return nil
}
