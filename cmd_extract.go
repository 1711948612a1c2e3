package main

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ===========================================================================
// EXTRACTION CLI
// ===========================================================================
//
// discover traces → load + truncate → batch → encode (eval mode) → write
// features and labels tables.
//
// Without --model the encoder is freshly initialized from --seed; with it the
// trained encoder (and head, for --predictions) is loaded from disk.
//
// ===========================================================================

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Encode traces and write features and labels tables",
	Long: `Encode every discovered trace into a fixed-length embedding and write the
embeddings (one row per trace, columns 0..D-1) and labels (column 0) as CSV.`,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	f := extractCmd.Flags()
	f.String("model", "", "trained model file (default: untrained encoder)")
	f.String("features", "features.csv", "output features CSV")
	f.String("labels", "labels.csv", "output labels CSV")
	f.String("predictions", "", "optional predictions CSV (requires --model)")
	f.String("plot", "", "optional PNG path for a PCA scatter of the embeddings")
	f.Int("batch-size", DefaultTrainingConfig().BatchSize, "extraction batch size")
	f.Bool("shuffle", false, "visit traces in a seeded random order")

	mustBindPFlag("extract.model", f.Lookup("model"))
	mustBindPFlag("extract.features", f.Lookup("features"))
	mustBindPFlag("extract.labels", f.Lookup("labels"))
	mustBindPFlag("extract.predictions", f.Lookup("predictions"))
	mustBindPFlag("extract.plot", f.Lookup("plot"))
	mustBindPFlag("extract.batch_size", f.Lookup("batch-size"))
	mustBindPFlag("extract.shuffle", f.Lookup("shuffle"))
}

func runExtract(cmd *cobra.Command, args []string) error {
	env, err := newCLIEnv()
	if err != nil {
		return err
	}
	defer func() {
		_ = env.logger.Sync()
	}()

	predPath := viper.GetString("extract.predictions")
	modelPath := viper.GetString("extract.model")
	if predPath != "" && modelPath == "" {
		return errors.Wrap(ErrInvalidConfig, "--predictions needs --model")
	}

	var (
		enc   *Encoder
		model *Classifier
	)
	if modelPath != "" {
		var header *ModelHeader
		model, header, err = LoadClassifierFile(env.fs, modelPath, env.seeds.Dropout(), env.compute)
		if err != nil {
			return err
		}
		enc = model.Encoder
		env.logger.Info("loaded model",
			zap.String("path", modelPath),
			zap.String("trained_run", header.RunID),
			zap.Int("epochs", len(header.History)))
		// Traces are truncated to what the loaded encoder accepts.
		env.encoder = enc.Config()
	} else {
		if enc, err = NewEncoder(env.encoder, env.seeds.Init(), env.compute); err != nil {
			return err
		}
	}
	enc.SetTraining(false)

	samples, err := env.loadSamples()
	if err != nil {
		return err
	}
	shuffle := viper.GetBool("extract.shuffle")
	loader, err := NewLoader(samples, viper.GetInt("extract.batch_size"), shuffle, env.seeds.Shuffle())
	if err != nil {
		return err
	}
	batches, err := loader.Batches()
	if err != nil {
		return err
	}

	features := NewTensor(len(samples), env.encoder.ModelWidth)
	labels := make([]int, 0, len(samples))
	paths := make([]string, 0, len(samples))
	var preds []int

	var encodeErr error
	row := 0
	err = tqdm.With(iterators.Interval(0, len(batches)), "Extracting features", func(v interface{}) (brk bool) {
		b := batches[v.(int)]
		emb, err := enc.Encode(b)
		if err != nil {
			encodeErr = err
			return true
		}
		for i := 0; i < b.Size(); i++ {
			copy(features.Row(row), emb.Row(i))
			row++
		}
		labels = append(labels, b.Labels...)
		paths = append(paths, b.Paths...)

		if predPath != "" {
			preds = append(preds, model.Classify(emb)...)
		}
		return false
	})
	if err != nil {
		return errors.Wrap(err, "extraction progress")
	}
	if encodeErr != nil {
		return encodeErr
	}

	featuresPath := viper.GetString("extract.features")
	if err := writeFile(env.fs, featuresPath, func(w io.Writer) error {
		return WriteFeatures(w, features)
	}); err != nil {
		return err
	}
	labelsPath := viper.GetString("extract.labels")
	if err := writeFile(env.fs, labelsPath, func(w io.Writer) error {
		return WriteLabels(w, labels)
	}); err != nil {
		return err
	}
	env.logger.Info("features saved",
		zap.String("features", featuresPath),
		zap.String("labels", labelsPath),
		zap.Int("rows", len(labels)))

	if predPath != "" {
		if err := writeFile(env.fs, predPath, func(w io.Writer) error {
			return WritePredictions(w, paths, labels, preds)
		}); err != nil {
			return err
		}
		env.logger.Info("predictions saved", zap.String("path", predPath))
	}

	if plotPath := viper.GetString("extract.plot"); plotPath != "" {
		points, err := ProjectPCA(features)
		if err != nil {
			return err
		}
		if err := writeFile(env.fs, plotPath, func(w io.Writer) error {
			return SaveEmbeddingPlot(w, points, labels)
		}); err != nil {
			return err
		}
		env.logger.Info("embedding plot saved", zap.String("path", plotPath))
	}
	return nil
}
