package main

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// separableSamples returns n traces per class: class 0 hovers around -1,
// class 1 around +1.
func separableSamples(rng *rand.Rand, n int) []Sample {
	var samples []Sample
	for class := 0; class < 2; class++ {
		center := -1.0
		if class == 1 {
			center = 1
		}
		for i := 0; i < n; i++ {
			length := 4 + rng.Intn(4)
			seq := make([][]float64, length)
			for t := range seq {
				seq[t] = []float64{center + 0.1*rng.NormFloat64(), center + 0.1*rng.NormFloat64()}
			}
			samples = append(samples, Sample{Sequence: seq, Label: class})
		}
	}
	return samples
}

func toyTrainingSetup(t *testing.T) (*Encoder, *Loader, *Loader, TrainingConfig) {
	rng := rand.New(rand.NewSource(42))
	enc, err := NewEncoder(EncoderConfig{
		InputWidth: 2,
		ModelWidth: 8,
		NumHeads:   2,
		NumLayers:  1,
		FFHidden:   16,
		Dropout:    0,
		MaxSeqLen:  16,
	}, rng, nil)
	require.NoError(t, err)

	samples := separableSamples(rng, 8)
	train, val, err := SplitSamples(samples, 0.25, rng)
	require.NoError(t, err)
	trainLoader, err := NewLoader(train, 4, true, rng)
	require.NoError(t, err)
	valLoader, err := NewLoader(val, 4, false, nil)
	require.NoError(t, err)

	cfg := DefaultTrainingConfig()
	cfg.Epochs = 6
	cfg.BatchSize = 4
	cfg.LearningRate = 1e-2
	cfg.WeightDecay = 0
	return enc, trainLoader, valLoader, cfg
}

// TestTrainReducesLoss tests that training on a separable toy problem lowers
// the loss and reports every epoch.
func TestTrainReducesLoss(t *testing.T) {
	enc, trainLoader, valLoader, cfg := toyTrainingSetup(t)
	core, logs := observer.New(zapcore.InfoLevel)

	model, history, err := Train(context.Background(), enc, trainLoader, valLoader, cfg, TrainDeps{
		Rand:   rand.New(rand.NewSource(1)),
		Logger: zap.New(core),
	})
	require.NoError(t, err)
	require.Len(t, history, cfg.Epochs)

	first, last := history[0], history[len(history)-1]
	assert.Less(t, last.Train.Loss, first.Train.Loss)
	require.NotNil(t, last.Val)
	assert.Less(t, last.Val.Loss, first.Val.Loss)
	for i, r := range history {
		assert.Equal(t, i+1, r.Epoch)
	}

	assert.False(t, model.Encoder.Training(), "Fit leaves the model in eval mode")
	assert.Equal(t, cfg.Epochs, logs.FilterMessage("epoch complete").Len())
}

// TestTrainWithoutValidation tests a nil validation loader.
func TestTrainWithoutValidation(t *testing.T) {
	enc, trainLoader, _, cfg := toyTrainingSetup(t)
	cfg.Epochs = 1

	_, history, err := Train(context.Background(), enc, trainLoader, nil, cfg, TrainDeps{
		Rand: rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].Val)
}

// TestTrainCancelled tests that a cancelled context stops training.
func TestTrainCancelled(t *testing.T) {
	enc, trainLoader, valLoader, cfg := toyTrainingSetup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, history, err := Train(ctx, enc, trainLoader, valLoader, cfg, TrainDeps{
		Rand: rand.New(rand.NewSource(1)),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, history)
}

// TestTrainerRejectsBadLabels tests label range validation.
func TestTrainerRejectsBadLabels(t *testing.T) {
	enc, _, _, cfg := toyTrainingSetup(t)
	model, err := NewClassifier(enc, 2, rand.New(rand.NewSource(1)), nil)
	require.NoError(t, err)
	trainer, err := NewTrainer(model, cfg, nil)
	require.NoError(t, err)

	bad := []Sample{{Sequence: [][]float64{{1, 1}}, Label: 2}}
	loader, err := NewLoader(bad, 1, false, nil)
	require.NoError(t, err)

	_, err = trainer.Fit(context.Background(), loader, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = trainer.Evaluate(context.Background(), loader)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestNewTrainerErrors tests configuration validation.
func TestNewTrainerErrors(t *testing.T) {
	enc, _, _, cfg := toyTrainingSetup(t)
	model, err := NewClassifier(enc, 2, rand.New(rand.NewSource(1)), nil)
	require.NoError(t, err)

	cfg.NumClasses = 3
	_, err = NewTrainer(model, cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultTrainingConfig()
	cfg.LearningRate = 0
	_, err = NewTrainer(model, cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestTrainingConfigValidate tests the rejected settings.
func TestTrainingConfigValidate(t *testing.T) {
	require.NoError(t, DefaultTrainingConfig().Validate())

	mutations := map[string]func(*TrainingConfig){
		"zero epochs":         func(c *TrainingConfig) { c.Epochs = 0 },
		"zero batch":          func(c *TrainingConfig) { c.BatchSize = 0 },
		"negative decay":      func(c *TrainingConfig) { c.WeightDecay = -1 },
		"full validation":     func(c *TrainingConfig) { c.ValFraction = 1 },
		"single class":        func(c *TrainingConfig) { c.NumClasses = 1 },
		"negative clip":       func(c *TrainingConfig) { c.GradientClip = -1 },
		"zero val batch size": func(c *TrainingConfig) { c.ValBatchSize = 0 },
		"negative learn rate": func(c *TrainingConfig) { c.LearningRate = -1 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultTrainingConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
