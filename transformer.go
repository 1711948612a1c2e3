package main

import (
	"math/rand"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the encoder layer used by the spiral encoder: a
// post-norm Transformer block whose attention output is damped per position
// by a soft validity weight.
//
// INTENTION:
// Padded and augmented positions should contribute less to the residual
// stream without being hidden from attention. A hard key-padding mask would
// remove them from every softmax; here they still attend and are attended to,
// but their own attention output is scaled by mask[t] ∈ [0, 1] before it is
// added back to the input. Pooling (pooling.go) is where the hard mask lives.
//
//	a      = MHA(x)                    // no attention mask
//	damped = a ⊙ mask[:, None]         // skipped when mask == nil
//	h      = LayerNorm(x + damped)
//	out    = LayerNorm(h + FFN(h))     // same LayerNorm instance
//
// Both residual normalizations share one LayerNorm: the block owns a single
// set of gamma/beta, and both applications accumulate into them.
//
// BACKWARD:
// Post-norm residuals route the gradient through the norm first, then split
// it between the skip path and the sublayer:
//
//	gR2 = LN'(r2)·gOut
//	gH  = gR2 + FFN'(gR2)
//	gR1 = LN'(r1)·gH
//	gX  = gR1 + MHA'(gR1 ⊙ mask)
//
// ===========================================================================

// SoftMaskedBlock is one encoder layer.
type SoftMaskedBlock struct {
	attn *MultiHeadAttention
	norm *LayerNorm
	ff   *FeedForward
}

// blockCache holds what SoftMaskedBlock.Backward needs for one example.
type blockCache struct {
	mask   []float64
	attn   *attentionCache
	resid1 *Tensor // x + damped
	hidden *Tensor // norm(resid1)
	ff     *ffCache
	resid2 *Tensor // hidden + ff(hidden)
}

// NewSoftMaskedBlock creates a block of width dim with numHeads heads and a
// feed-forward hidden width of ffHidden.
func NewSoftMaskedBlock(dim, numHeads, ffHidden int, dropout float64, rng *rand.Rand, compute *Compute) *SoftMaskedBlock {
	return &SoftMaskedBlock{
		attn: NewMultiHeadAttention(dim, numHeads, rng, compute),
		norm: NewLayerNorm(dim),
		ff:   NewFeedForward(dim, ffHidden, dropout, rng, compute),
	}
}

// Forward runs the block on x (seqLen, dim). mask may be nil, in which case
// the attention output is not damped.
func (b *SoftMaskedBlock) Forward(x *Tensor, mask []float64, training bool) *Tensor {
	out, _ := b.ForwardWithCache(x, mask, training)
	return out
}

// ForwardWithCache runs the block and keeps the intermediate activations.
func (b *SoftMaskedBlock) ForwardWithCache(x *Tensor, mask []float64, training bool) (*Tensor, *blockCache) {
	attnOut, attnCache := b.attn.Forward(x)
	damped := attnOut
	if mask != nil {
		damped = ScaleRows(attnOut, mask)
	}

	resid1 := Add(x, damped)
	hidden := b.norm.Forward(resid1)

	ffOut, ffc := b.ff.Forward(hidden, training)
	resid2 := Add(hidden, ffOut)
	out := b.norm.Forward(resid2)

	return out, &blockCache{
		mask:   mask,
		attn:   attnCache,
		resid1: resid1,
		hidden: hidden,
		ff:     ffc,
		resid2: resid2,
	}
}

// Backward returns ∂L/∂x and accumulates gradients for every parameter of
// the block.
func (b *SoftMaskedBlock) Backward(gradOut *Tensor, cache *blockCache) *Tensor {
	gradResid2 := b.norm.Backward(cache.resid2, gradOut)
	gradHidden := Add(gradResid2, b.ff.Backward(gradResid2, cache.ff))

	gradResid1 := b.norm.Backward(cache.resid1, gradHidden)
	gradAttn := gradResid1
	if cache.mask != nil {
		gradAttn = ScaleRows(gradResid1, cache.mask)
	}
	return Add(gradResid1, b.attn.Backward(gradAttn, cache.attn))
}

// Parameters returns attention, norm and feed-forward parameters in that order.
func (b *SoftMaskedBlock) Parameters() []*Tensor {
	params := b.attn.Parameters()
	params = append(params, b.norm.Parameters()...)
	return append(params, b.ff.Parameters()...)
}
