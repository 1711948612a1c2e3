package main

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	// maskedLogit is the additive score given to invalid positions before
	// the pooling softmax. exp(maskedLogit - max) underflows to exactly 0
	// whenever at least one position is valid.
	maskedLogit = -1e9

	// Replacement values for non-finite pooled components.
	scrubPosInf = 1e4
	scrubNegInf = -1e4
)

// AttentionPooling reduces a (seqLen, dim) sequence to a single dim-vector
// with learned per-position weights:
//
//	score_t  = x_t · w + b            (masked positions: -1e9)
//	weight_t = softmax_t(score - max(score))
//	pooled   = Σ_t weight_t · x_t
//
// and replaces non-finite components of the result (NaN → 0, +Inf → 1e4,
// -Inf → -1e4). If every position is masked all scores are equal and the
// weights become uniform.
type AttentionPooling struct {
	score *Linear // (dim, 1)
}

// poolCache holds what AttentionPooling.Backward needs for one example.
type poolCache struct {
	input    *Tensor
	mask     []bool
	weights  []float64
	scrubbed []bool
}

// NewAttentionPooling creates a pooling layer over dim-wide rows.
func NewAttentionPooling(dim int, rng *rand.Rand, compute *Compute) *AttentionPooling {
	return &AttentionPooling{score: NewLinear(dim, 1, rng, compute)}
}

// Forward pools x. mask may be nil (all valid); otherwise it must have one
// entry per row of x.
func (p *AttentionPooling) Forward(x *Tensor, mask []bool) []float64 {
	pooled, _ := p.ForwardWithCache(x, mask)
	return pooled
}

// Weights returns the pooling weights over the rows of x.
func (p *AttentionPooling) Weights(x *Tensor, mask []bool) []float64 {
	_, cache := p.ForwardWithCache(x, mask)
	return cache.weights
}

// ForwardWithCache pools x and keeps the weights for the backward pass.
func (p *AttentionPooling) ForwardWithCache(x *Tensor, mask []bool) ([]float64, *poolCache) {
	seqLen, dim := x.shape[0], x.shape[1]
	if mask != nil && len(mask) != seqLen {
		panic(fmt.Sprintf("pooling: mask length %d != sequence length %d", len(mask), seqLen))
	}

	scores := p.score.Forward(x).data
	for t := range scores {
		if mask != nil && !mask[t] {
			scores[t] = maskedLogit
		}
	}
	weights := make([]float64, seqLen)
	softmaxInto(weights, scores)

	pooled := make([]float64, dim)
	for t, w := range weights {
		row := x.Row(t)
		for j, v := range row {
			pooled[j] += w * v
		}
	}
	scrubbed := scrubNonFinite(pooled)

	return pooled, &poolCache{input: x, mask: mask, weights: weights, scrubbed: scrubbed}
}

// Backward returns ∂L/∂x for gradPooled (dim) and accumulates the score
// layer's gradients. Scrubbed components carry no gradient; masked positions
// receive no score gradient because their score is a constant.
func (p *AttentionPooling) Backward(gradPooled []float64, cache *poolCache) *Tensor {
	x := cache.input
	seqLen, dim := x.shape[0], x.shape[1]

	g := make([]float64, dim)
	for j, v := range gradPooled {
		if !cache.scrubbed[j] {
			g[j] = v
		}
	}

	// pooled = Σ_t w_t x_t
	gradX := NewTensor(seqLen, dim)
	gradWeights := make([]float64, seqLen)
	for t, w := range cache.weights {
		row, gRow := x.Row(t), gradX.Row(t)
		dot := 0.0
		for j := range row {
			gRow[j] = w * g[j]
			dot += g[j] * row[j]
		}
		gradWeights[t] = dot
	}

	gradScores := make([]float64, seqLen)
	softmaxBackwardInto(gradScores, cache.weights, gradWeights)
	for t := range gradScores {
		if cache.mask != nil && !cache.mask[t] {
			gradScores[t] = 0
		}
	}

	gradFromScore := p.score.Backward(x, NewTensorFrom(gradScores, seqLen, 1))
	return Add(gradX, gradFromScore)
}

// Parameters returns the score layer's weight and bias.
func (p *AttentionPooling) Parameters() []*Tensor {
	return p.score.Parameters()
}

// scrubNonFinite replaces NaN with 0 and ±Inf with ±1e4 in place and reports
// which components were replaced.
func scrubNonFinite(v []float64) []bool {
	scrubbed := make([]bool, len(v))
	for i, x := range v {
		switch {
		case math.IsNaN(x):
			v[i] = 0
		case math.IsInf(x, 1):
			v[i] = scrubPosInf
		case math.IsInf(x, -1):
			v[i] = scrubNegInf
		default:
			continue
		}
		scrubbed[i] = true
	}
	return scrubbed
}
