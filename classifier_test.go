package main

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyClassifier(t *testing.T, seed int64) *Classifier {
	cfg := EncoderConfig{
		InputWidth: 2,
		ModelWidth: 4,
		NumHeads:   2,
		NumLayers:  1,
		FFHidden:   6,
		Dropout:    0,
		MaxSeqLen:  8,
	}
	rng := rand.New(rand.NewSource(seed))
	enc, err := NewEncoder(cfg, rng, nil)
	require.NoError(t, err)
	model, err := NewClassifier(enc, 2, rng, nil)
	require.NoError(t, err)
	return model
}

// TestClassifierGradients checks every analytic parameter gradient against
// central finite differences on a tiny model with a partially masked input.
func TestClassifierGradients(t *testing.T) {
	model := tinyClassifier(t, 3)
	x := NewTensorFrom([]float64{
		0.5, -1.0,
		1.5, 0.3,
		-0.7, 0.9,
		2.0, -2.0,
	}, 4, 2)
	mask := []bool{true, true, true, false}
	target := []int{1}

	loss := func() float64 {
		logits, _, _ := model.forwardExample(x, mask)
		return CrossEntropyLoss(logits, target)
	}

	params := model.Parameters()
	for _, p := range params {
		p.ZeroGrad()
	}
	logits, pooled, cache := model.forwardExample(x, mask)
	model.backwardExample(CrossEntropyBackward(logits, target), pooled, cache)

	const h = 1e-6
	for pi, p := range params {
		for i := range p.data {
			orig := p.data[i]
			p.data[i] = orig + h
			plus := loss()
			p.data[i] = orig - h
			minus := loss()
			p.data[i] = orig

			numeric := (plus - minus) / (2 * h)
			tol := 1e-6 + 1e-4*math.Abs(numeric)
			require.InDelta(t, numeric, p.grad[i], tol, "parameter %d element %d", pi, i)
		}
	}
}

// TestClassifierPredict tests logits shape and argmax predictions.
func TestClassifierPredict(t *testing.T) {
	model := tinyClassifier(t, 1)
	batch := randomBatch(t, rand.New(rand.NewSource(2)), 3, 5, 2)

	logits, err := model.Logits(batch)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, logits.Shape())

	preds, err := model.Predict(batch)
	require.NoError(t, err)
	require.Len(t, preds, 3)
	for i, p := range preds {
		assert.Equal(t, argmax(logits.Row(i)), p)
	}

	emb, err := model.Encoder.Encode(batch)
	require.NoError(t, err)
	assert.Equal(t, preds, model.Classify(emb))
}

// TestNewClassifierErrors tests constructor validation.
func TestNewClassifierErrors(t *testing.T) {
	model := tinyClassifier(t, 1)
	rng := rand.New(rand.NewSource(1))

	_, err := NewClassifier(nil, 2, rng, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewClassifier(model.Encoder, 1, rng, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewClassifier(model.Encoder, 2, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	assert.Len(t, model.Parameters(), len(model.Encoder.Parameters())+2)
}
