package main

import (
	"math/rand"

	"github.com/pkg/errors"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The Encoder turns a padded batch of ragged multivariate sequences into one
// fixed-width embedding per sequence:
//
//	inputs (B, T, C) ──► Linear(C, D) ──► + positional table
//	                 ──► SoftMaskedBlock × N   (mask threaded unchanged)
//	                 ──► AttentionPooling      (hard mask, non-finite scrub)
//	                 ──► embeddings (B, D)
//
// The validity mask reaches the blocks as a soft per-position weight (1 for
// real data, 0 for padding) and the pooling layer as a hard mask. Attention
// itself never sees it.
//
// Examples are processed one at a time. Attention activations grow with T²
// per head, and spiral traces run to thousands of timesteps, so holding a
// whole batch of caches at once is the memory ceiling we avoid. The trainer
// does the same: forward, loss and backward per example, gradients summed.
//
// ===========================================================================

// ErrInvalidConfig is returned for inconsistent model or training settings.
var ErrInvalidConfig = errors.New("invalid configuration")

// EncoderConfig holds the encoder's architecture.
type EncoderConfig struct {
	InputWidth int     `json:"input_width"`
	ModelWidth int     `json:"model_width"`
	NumHeads   int     `json:"num_heads"`
	NumLayers  int     `json:"num_layers"`
	FFHidden   int     `json:"ff_hidden"`
	Dropout    float64 `json:"dropout"`
	MaxSeqLen  int     `json:"max_seq_len"`
}

// DefaultEncoderConfig returns the configuration used for 5-channel spiral
// traces.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		InputWidth: 5,
		ModelWidth: 192,
		NumHeads:   4,
		NumLayers:  2,
		FFHidden:   4 * 192,
		Dropout:    0.1,
		MaxSeqLen:  5000,
	}
}

// Validate reports the first inconsistency in cfg.
func (cfg EncoderConfig) Validate() error {
	switch {
	case cfg.InputWidth <= 0:
		return errors.Wrapf(ErrInvalidConfig, "input width must be positive, got %d", cfg.InputWidth)
	case cfg.ModelWidth <= 0:
		return errors.Wrapf(ErrInvalidConfig, "model width must be positive, got %d", cfg.ModelWidth)
	case cfg.NumHeads <= 0:
		return errors.Wrapf(ErrInvalidConfig, "head count must be positive, got %d", cfg.NumHeads)
	case cfg.ModelWidth%cfg.NumHeads != 0:
		return errors.Wrapf(ErrInvalidConfig, "model width %d is not divisible by %d heads", cfg.ModelWidth, cfg.NumHeads)
	case cfg.NumLayers < 0:
		return errors.Wrapf(ErrInvalidConfig, "layer count must not be negative, got %d", cfg.NumLayers)
	case cfg.FFHidden <= 0:
		return errors.Wrapf(ErrInvalidConfig, "feed-forward width must be positive, got %d", cfg.FFHidden)
	case cfg.Dropout < 0 || cfg.Dropout >= 1:
		return errors.Wrapf(ErrInvalidConfig, "dropout must be in [0, 1), got %g", cfg.Dropout)
	case cfg.MaxSeqLen <= 0:
		return errors.Wrapf(ErrInvalidConfig, "max sequence length must be positive, got %d", cfg.MaxSeqLen)
	}
	return nil
}

// Encoder is the mask-aware sequence encoder. It owns all of its parameters.
//
// Encoder is not safe for concurrent use: dropout draws from the injected
// random source and the training flag is shared state.
type Encoder struct {
	cfg        EncoderConfig
	input      *Linear
	positional *PositionalEncoder
	blocks     []*SoftMaskedBlock
	pool       *AttentionPooling
	training   bool
}

// encoderCache holds one example's activations for Backward.
type encoderCache struct {
	input  *Tensor
	blocks []*blockCache
	pool   *poolCache
}

// NewEncoder builds an encoder. rng seeds parameter initialization and all
// later dropout draws; compute may be nil for the pure-Go kernels.
func NewEncoder(cfg EncoderConfig, rng *rand.Rand, compute *Compute) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "encoder needs a random source")
	}

	e := &Encoder{
		cfg:        cfg,
		input:      NewLinear(cfg.InputWidth, cfg.ModelWidth, rng, compute),
		positional: NewPositionalEncoder(cfg.ModelWidth, cfg.MaxSeqLen),
		blocks:     make([]*SoftMaskedBlock, cfg.NumLayers),
	}
	for i := range e.blocks {
		e.blocks[i] = NewSoftMaskedBlock(cfg.ModelWidth, cfg.NumHeads, cfg.FFHidden, cfg.Dropout, rng, compute)
	}
	e.pool = NewAttentionPooling(cfg.ModelWidth, rng, compute)
	return e, nil
}

// Config returns the encoder's configuration.
func (e *Encoder) Config() EncoderConfig {
	return e.cfg
}

// SetTraining switches dropout on (true) or off (false).
func (e *Encoder) SetTraining(training bool) {
	e.training = training
}

// Training reports whether dropout is active.
func (e *Encoder) Training() bool {
	return e.training
}

// Encode returns the (batch, ModelWidth) embeddings for b.
func (e *Encoder) Encode(b *Batch) (*Tensor, error) {
	if err := e.checkBatch(b); err != nil {
		return nil, err
	}
	out := NewTensor(b.Size(), e.cfg.ModelWidth)
	for i := 0; i < b.Size(); i++ {
		pooled, _ := e.forwardExample(b.Inputs.Slice2D(i), b.Mask[i])
		copy(out.Row(i), pooled)
	}
	return out, nil
}

// checkBatch validates the caller-supplied shapes.
func (e *Encoder) checkBatch(b *Batch) error {
	if b == nil || b.Inputs == nil || b.Size() == 0 {
		return ErrEmptyDataset
	}
	shape := b.Inputs.shape
	if len(shape) != 3 {
		return errors.Wrapf(ErrShapeMismatch, "inputs must be (batch, seq, width), got %v", shape)
	}
	if shape[0] != b.Size() {
		return errors.Wrapf(ErrShapeMismatch, "%d input rows for %d labels", shape[0], b.Size())
	}
	if shape[2] != e.cfg.InputWidth {
		return errors.Wrapf(ErrShapeMismatch, "input width %d, encoder expects %d", shape[2], e.cfg.InputWidth)
	}
	if shape[1] > e.cfg.MaxSeqLen {
		return errors.Wrapf(ErrShapeMismatch, "sequence length %d exceeds maximum %d", shape[1], e.cfg.MaxSeqLen)
	}
	if len(b.Mask) != shape[0] {
		return errors.Wrapf(ErrShapeMismatch, "mask has %d rows, inputs have %d", len(b.Mask), shape[0])
	}
	for i, m := range b.Mask {
		if len(m) != shape[1] {
			return errors.Wrapf(ErrShapeMismatch, "mask row %d has length %d, sequence length is %d", i, len(m), shape[1])
		}
	}
	return nil
}

// forwardExample encodes one (seqLen, InputWidth) example.
func (e *Encoder) forwardExample(x *Tensor, mask []bool) ([]float64, *encoderCache) {
	cache := &encoderCache{input: x, blocks: make([]*blockCache, len(e.blocks))}

	soft := softMask(mask)
	h := e.positional.Forward(e.input.Forward(x))
	for i, block := range e.blocks {
		h, cache.blocks[i] = block.ForwardWithCache(h, soft, e.training)
	}

	pooled, pc := e.pool.ForwardWithCache(h, mask)
	cache.pool = pc
	return pooled, cache
}

// backwardExample accumulates parameter gradients for one example given
// ∂L/∂pooled.
func (e *Encoder) backwardExample(gradPooled []float64, cache *encoderCache) {
	grad := e.pool.Backward(gradPooled, cache.pool)
	for i := len(e.blocks) - 1; i >= 0; i-- {
		grad = e.blocks[i].Backward(grad, cache.blocks[i])
	}
	// The positional table is a constant addend.
	e.input.Backward(cache.input, grad)
}

// Parameters returns every learned tensor: input projection, blocks in
// order, then pooling.
func (e *Encoder) Parameters() []*Tensor {
	params := e.input.Parameters()
	for _, block := range e.blocks {
		params = append(params, block.Parameters()...)
	}
	return append(params, e.pool.Parameters()...)
}

// NumParameters counts learned scalars.
func (e *Encoder) NumParameters() int {
	n := 0
	for _, p := range e.Parameters() {
		n += p.Size()
	}
	return n
}

// softMask converts a validity mask into per-position damping weights.
func softMask(mask []bool) []float64 {
	if mask == nil {
		return nil
	}
	w := make([]float64, len(mask))
	for t, ok := range mask {
		if ok {
			w[t] = 1
		}
	}
	return w
}
