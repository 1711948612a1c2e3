package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "spiralenc",
	Short: "Encode spiral drawing traces into fixed-length embeddings",
	Long: `spiralenc turns variable-length multivariate spiral drawing traces into
fixed-length embeddings with a mask-aware Transformer encoder, optionally
after training it through a classifier head.

Examples:
  # Train the encoder and save it
  spiralenc train --original-dir data/train --augmented-dir data/augmented --model spiralenc.bin

  # Extract embeddings with an untrained encoder
  spiralenc extract --original-dir data/train --augmented-dir data/augmented \
    --features features.csv --labels labels.csv

  # Extract with a trained encoder and plot the embeddings
  spiralenc extract --model spiralenc.bin --plot embeddings.png`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called once by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	enc := DefaultEncoderConfig()
	pf := rootCmd.PersistentFlags()

	pf.StringVar(&cfgFile, "config", "", "config file path (e.g. spiralenc.yaml)")
	pf.String("log-level", "info", "set the logging level (debug, info, warn, error)")
	pf.String("log-style", LogStyleTerminal, "set the logging output style (terminal, json, noop)")
	pf.Int64("seed", 42, "seed for initialization, splitting and shuffling")
	pf.String("backend", BackendAuto, "matrix backend (auto, gonum, naive)")

	pf.String("original-dir", "", "directory of original *.txt traces")
	pf.String("augmented-dir", "", "directory of augmented mix_* traces and their mask_* files")
	pf.String("healthy-marker", DefaultHealthyMarker, "path fragment that marks class-0 traces")
	pf.Int("max-seq-len", enc.MaxSeqLen, "truncate traces to this many timesteps")

	mustBindPFlag("log.level", pf.Lookup("log-level"))
	mustBindPFlag("log.style", pf.Lookup("log-style"))
	mustBindPFlag("seed", pf.Lookup("seed"))
	mustBindPFlag("backend", pf.Lookup("backend"))
	mustBindPFlag("data.original_dir", pf.Lookup("original-dir"))
	mustBindPFlag("data.augmented_dir", pf.Lookup("augmented-dir"))
	mustBindPFlag("data.healthy_marker", pf.Lookup("healthy-marker"))
	mustBindPFlag("encoder.max_seq_len", pf.Lookup("max-seq-len"))

	setConfigDefaults()
}

// setConfigDefaults registers every model and training key so that config
// files and SPIRALENC_* variables can override any of them.
func setConfigDefaults() {
	enc := DefaultEncoderConfig()
	viper.SetDefault("encoder.input_width", enc.InputWidth)
	viper.SetDefault("encoder.model_width", enc.ModelWidth)
	viper.SetDefault("encoder.num_heads", enc.NumHeads)
	viper.SetDefault("encoder.num_layers", enc.NumLayers)
	viper.SetDefault("encoder.ff_hidden", enc.FFHidden)
	viper.SetDefault("encoder.dropout", enc.Dropout)
	viper.SetDefault("encoder.max_seq_len", enc.MaxSeqLen)

	tr := DefaultTrainingConfig()
	viper.SetDefault("training.learning_rate", tr.LearningRate)
	viper.SetDefault("training.weight_decay", tr.WeightDecay)
	viper.SetDefault("training.gradient_clip", tr.GradientClip)
	viper.SetDefault("training.epochs", tr.Epochs)
	viper.SetDefault("training.batch_size", tr.BatchSize)
	viper.SetDefault("training.val_batch_size", tr.ValBatchSize)
	viper.SetDefault("training.val_fraction", tr.ValFraction)
	viper.SetDefault("training.warmup_steps", tr.WarmupSteps)
	viper.SetDefault("training.decay_steps", tr.DecaySteps)
	viper.SetDefault("training.min_lr", tr.MinLR)
	viper.SetDefault("training.optimizer", tr.Optimizer)
	viper.SetDefault("training.adam_beta1", tr.AdamBeta1)
	viper.SetDefault("training.adam_beta2", tr.AdamBeta2)
	viper.SetDefault("training.adam_epsilon", tr.AdamEpsilon)
	viper.SetDefault("training.num_classes", tr.NumClasses)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.style", LogStyleTerminal)
	viper.SetDefault("seed", 42)
	viper.SetDefault("backend", BackendAuto)
	viper.SetDefault("data.healthy_marker", DefaultHealthyMarker)
}

func encoderConfigFromViper() EncoderConfig {
	return EncoderConfig{
		InputWidth: viper.GetInt("encoder.input_width"),
		ModelWidth: viper.GetInt("encoder.model_width"),
		NumHeads:   viper.GetInt("encoder.num_heads"),
		NumLayers:  viper.GetInt("encoder.num_layers"),
		FFHidden:   viper.GetInt("encoder.ff_hidden"),
		Dropout:    viper.GetFloat64("encoder.dropout"),
		MaxSeqLen:  viper.GetInt("encoder.max_seq_len"),
	}
}

func trainingConfigFromViper() TrainingConfig {
	return TrainingConfig{
		LearningRate: viper.GetFloat64("training.learning_rate"),
		WeightDecay:  viper.GetFloat64("training.weight_decay"),
		GradientClip: viper.GetFloat64("training.gradient_clip"),
		Epochs:       viper.GetInt("training.epochs"),
		BatchSize:    viper.GetInt("training.batch_size"),
		ValBatchSize: viper.GetInt("training.val_batch_size"),
		ValFraction:  viper.GetFloat64("training.val_fraction"),
		WarmupSteps:  viper.GetInt("training.warmup_steps"),
		DecaySteps:   viper.GetInt("training.decay_steps"),
		MinLR:        viper.GetFloat64("training.min_lr"),
		Optimizer:    viper.GetString("training.optimizer"),
		AdamBeta1:    viper.GetFloat64("training.adam_beta1"),
		AdamBeta2:    viper.GetFloat64("training.adam_beta2"),
		AdamEpsilon:  viper.GetFloat64("training.adam_epsilon"),
		NumClasses:   viper.GetInt("training.num_classes"),
	}
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// initConfig reads in .env, the config file and ENV variables if set.
func initConfig() {
	// A missing .env is the common case.
	_ = godotenv.Load()

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			fmt.Fprintf(os.Stderr, "Config file not found: %s\n", cfgFile)
			os.Exit(1)
		}
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("spiralenc")
	}

	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("SPIRALENC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file [%s]: %v\n", viper.ConfigFileUsed(), err)
		os.Exit(1)
	}
}

// cliEnv bundles what every subcommand needs.
type cliEnv struct {
	logger  *zap.Logger
	fs      afero.Fs
	compute *Compute
	seeds   Seeds
	runID   uuid.UUID
	encoder EncoderConfig
	labelFn LabelFunc
}

// newCLIEnv builds the logger, compute backend and configuration from
// viper.
func newCLIEnv() (*cliEnv, error) {
	logger, err := newLogger(viper.GetString("log.level"), viper.GetString("log.style"))
	if err != nil {
		return nil, err
	}

	enc := encoderConfigFromViper()
	if err := enc.Validate(); err != nil {
		return nil, err
	}

	compute, err := NewCompute(ComputeConfig{Backend: viper.GetString("backend")}, logger)
	if err != nil {
		return nil, err
	}

	rt := &cliEnv{
		logger:  logger,
		fs:      afero.NewOsFs(),
		compute: compute,
		seeds:   Seeds{Base: viper.GetInt64("seed")},
		runID:   uuid.New(),
		encoder: enc,
		labelFn: MarkerLabeler(viper.GetString("data.healthy_marker")),
	}
	rt.logger = rt.logger.With(zap.String("run_id", rt.runID.String()))
	return rt, nil
}

// loadSamples discovers and loads the configured traces.
func (rt *cliEnv) loadSamples() ([]Sample, error) {
	originalDir := viper.GetString("data.original_dir")
	augmentedDir := viper.GetString("data.augmented_dir")
	if originalDir == "" && augmentedDir == "" {
		return nil, errors.Wrap(ErrInvalidConfig, "set --original-dir and/or --augmented-dir")
	}

	pairs, err := DiscoverPairs(rt.fs, originalDir, augmentedDir, rt.logger)
	if err != nil {
		return nil, err
	}
	return LoadSamples(rt.fs, pairs, rt.encoder.MaxSeqLen, rt.labelFn, rt.logger)
}
