package main

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Classifier is an Encoder followed by a linear head over the pooled
// embedding. It exists for supervised training; extraction uses the encoder
// alone.
type Classifier struct {
	Encoder    *Encoder
	head       *Linear
	numClasses int
}

// NewClassifier attaches a numClasses-way head to enc.
func NewClassifier(enc *Encoder, numClasses int, rng *rand.Rand, compute *Compute) (*Classifier, error) {
	if enc == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "classifier needs an encoder")
	}
	if rng == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "classifier needs a random source")
	}
	if numClasses < 2 {
		return nil, errors.Wrapf(ErrInvalidConfig, "need at least 2 classes, got %d", numClasses)
	}
	return &Classifier{
		Encoder:    enc,
		head:       NewLinear(enc.cfg.ModelWidth, numClasses, rng, compute),
		numClasses: numClasses,
	}, nil
}

// NumClasses returns the width of the logits.
func (c *Classifier) NumClasses() int {
	return c.numClasses
}

// Logits returns (batch, numClasses) logits for b.
func (c *Classifier) Logits(b *Batch) (*Tensor, error) {
	emb, err := c.Encoder.Encode(b)
	if err != nil {
		return nil, err
	}
	return c.head.Forward(emb), nil
}

// Predict returns the argmax class per example.
func (c *Classifier) Predict(b *Batch) ([]int, error) {
	emb, err := c.Encoder.Encode(b)
	if err != nil {
		return nil, err
	}
	return c.Classify(emb), nil
}

// Classify returns the argmax class for each row of precomputed embeddings
// (batch, ModelWidth).
func (c *Classifier) Classify(emb *Tensor) []int {
	logits := c.head.Forward(emb)
	preds := make([]int, logits.shape[0])
	for i := range preds {
		preds[i] = argmax(logits.Row(i))
	}
	return preds
}

// forwardExample returns the (1, numClasses) logits for one example along
// with the caches needed by backwardExample.
func (c *Classifier) forwardExample(x *Tensor, mask []bool) (logits, pooled *Tensor, cache *encoderCache) {
	emb, cache := c.Encoder.forwardExample(x, mask)
	pooled = NewTensorFrom(emb, 1, len(emb))
	return c.head.Forward(pooled), pooled, cache
}

// backwardExample propagates ∂L/∂logits through the head and encoder.
func (c *Classifier) backwardExample(gradLogits, pooled *Tensor, cache *encoderCache) {
	gradPooled := c.head.Backward(pooled, gradLogits)
	c.Encoder.backwardExample(gradPooled.data, cache)
}

// Parameters returns the encoder's parameters followed by the head's.
func (c *Classifier) Parameters() []*Tensor {
	return append(c.Encoder.Parameters(), c.head.Parameters()...)
}
