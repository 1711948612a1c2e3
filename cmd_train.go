package main

import (
	"context"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ===========================================================================
// TRAINING CLI
// ===========================================================================
//
// discover traces → load + truncate → split (train/val) → train through a
// classifier head → save encoder and head → optional loss plot.
//
// Everything random (initialization, dropout, split, batch order) derives
// from --seed, so two runs with the same data and seed train the same model.
//
// ===========================================================================

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the encoder through a classifier head",
	Long: `Train the sequence encoder with a linear classifier head on labelled traces
and save both to a model file that "extract --model" can reuse.`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	tr := DefaultTrainingConfig()
	f := trainCmd.Flags()
	f.String("model", "spiralenc.bin", "output model path")
	f.String("plot", "", "optional PNG path for the loss curves")
	f.Int("epochs", tr.Epochs, "number of training epochs")
	f.Int("batch-size", tr.BatchSize, "training batch size")
	f.Int("val-batch-size", tr.ValBatchSize, "validation batch size")
	f.Float64("lr", tr.LearningRate, "learning rate")
	f.Float64("weight-decay", tr.WeightDecay, "L2 weight decay")
	f.Float64("val-fraction", tr.ValFraction, "fraction of traces held out for validation")
	f.Float64("grad-clip", tr.GradientClip, "global gradient norm limit (0 disables)")

	mustBindPFlag("train.model", f.Lookup("model"))
	mustBindPFlag("train.plot", f.Lookup("plot"))
	mustBindPFlag("training.epochs", f.Lookup("epochs"))
	mustBindPFlag("training.batch_size", f.Lookup("batch-size"))
	mustBindPFlag("training.val_batch_size", f.Lookup("val-batch-size"))
	mustBindPFlag("training.learning_rate", f.Lookup("lr"))
	mustBindPFlag("training.weight_decay", f.Lookup("weight-decay"))
	mustBindPFlag("training.val_fraction", f.Lookup("val-fraction"))
	mustBindPFlag("training.gradient_clip", f.Lookup("grad-clip"))
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env, err := newCLIEnv()
	if err != nil {
		return err
	}
	defer func() {
		_ = env.logger.Sync()
	}()

	cfg := trainingConfigFromViper()
	if err := cfg.Validate(); err != nil {
		return err
	}

	samples, err := env.loadSamples()
	if err != nil {
		return err
	}
	trainSet, valSet, err := SplitSamples(samples, cfg.ValFraction, env.seeds.Split())
	if err != nil {
		return err
	}

	trainLoader, err := NewLoader(trainSet, cfg.BatchSize, true, env.seeds.Shuffle())
	if err != nil {
		return err
	}
	var valLoader *Loader
	if len(valSet) > 0 {
		if valLoader, err = NewLoader(valSet, cfg.ValBatchSize, false, nil); err != nil {
			return err
		}
	}

	initRand := env.seeds.Init()
	enc, err := NewEncoder(env.encoder, initRand, env.compute)
	if err != nil {
		return err
	}

	env.logger.Info("training",
		zap.Int("train", len(trainSet)),
		zap.Int("val", len(valSet)),
		zap.Int("params", enc.NumParameters()),
		zap.String("backend", env.compute.BackendName()),
		zap.Int("epochs", cfg.Epochs))

	model, history, err := Train(ctx, enc, trainLoader, valLoader, cfg, TrainDeps{
		Rand:    initRand,
		Compute: env.compute,
		Logger:  env.logger,
	})
	if err != nil {
		return err
	}

	modelPath := viper.GetString("train.model")
	if err := SaveClassifierFile(env.fs, modelPath, model, SaveOptions{RunID: env.runID, History: history}); err != nil {
		return err
	}
	env.logger.Info("model saved", zap.String("path", modelPath))

	if plotPath := viper.GetString("train.plot"); plotPath != "" {
		if err := writeFile(env.fs, plotPath, func(w io.Writer) error {
			return SaveLossPlot(w, history)
		}); err != nil {
			return err
		}
		env.logger.Info("loss plot saved", zap.String("path", plotPath))
	}
	return nil
}
