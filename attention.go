package main

import (
	"fmt"
	"math"
	"math/rand"
)

// MultiHeadAttention implements unmasked multi-head self-attention.
//
// Every position attends to every other position of the (padded) sequence:
// there is no key-padding bias here. Validity is applied afterwards by the
// soft-masked block (transformer.go), which damps each position's output.
//
// Mechanism, per head h with headDim = dim / numHeads:
//
//	Q, K, V = x·Wq + bq, x·Wk + bk, x·Wv + bv
//	weights_h = softmax(Q_h · K_hᵀ / √headDim)
//	context_h = weights_h · V_h
//	out = concat_h(context_h) · Wo + bo
type MultiHeadAttention struct {
	dim      int
	numHeads int
	headDim  int

	q, k, v, o *Linear
	compute    *Compute
}

// attentionCache keeps the activations Backward needs.
type attentionCache struct {
	input   *Tensor
	q, k, v *Tensor   // (seqLen, dim)
	weights []*Tensor // per head (seqLen, seqLen)
	context *Tensor   // concatenated heads before the output projection
}

// NewMultiHeadAttention creates an attention layer. Panics if numHeads does
// not divide dim; EncoderConfig.Validate reports that as an error before any
// layer is built.
func NewMultiHeadAttention(dim, numHeads int, rng *rand.Rand, compute *Compute) *MultiHeadAttention {
	if numHeads <= 0 || dim%numHeads != 0 {
		panic(fmt.Sprintf("attention: dim (%d) must be divisible by numHeads (%d)", dim, numHeads))
	}

	// Input projections: Xavier-uniform over the stacked (3·dim, dim) matrix,
	// zero bias. Output projection: default linear init, zero bias.
	bound := math.Sqrt(6.0 / float64(dim+3*dim))
	proj := func() *Linear {
		return &Linear{
			in:      dim,
			out:     dim,
			weight:  NewTensorUniform(rng, bound, dim, dim),
			bias:    NewTensor(dim),
			compute: compute,
		}
	}
	q, k, v := proj(), proj(), proj()
	o := NewLinear(dim, dim, rng, compute)
	for i := range o.bias.data {
		o.bias.data[i] = 0
	}

	return &MultiHeadAttention{
		dim:      dim,
		numHeads: numHeads,
		headDim:  dim / numHeads,
		q:        q,
		k:        k,
		v:        v,
		o:        o,
		compute:  compute,
	}
}

// Forward computes self-attention for x (seqLen, dim).
func (a *MultiHeadAttention) Forward(x *Tensor) (*Tensor, *attentionCache) {
	if len(x.shape) != 2 || x.shape[1] != a.dim {
		panic(fmt.Sprintf("attention: input must be (seqLen, %d), got %v", a.dim, x.shape))
	}

	cache := &attentionCache{
		input:   x,
		q:       a.q.Forward(x),
		k:       a.k.Forward(x),
		v:       a.v.Forward(x),
		weights: make([]*Tensor, a.numHeads),
		context: NewTensor(x.shape...),
	}

	scale := 1.0 / math.Sqrt(float64(a.headDim))
	for h := 0; h < a.numHeads; h++ {
		start := h * a.headDim
		qh := columns(cache.q, start, a.headDim)
		kh := columns(cache.k, start, a.headDim)
		vh := columns(cache.v, start, a.headDim)

		scores := Scale(a.compute.MatMulTransB(qh, kh), scale)
		weights := Softmax(scores)
		cache.weights[h] = weights

		setColumns(cache.context, a.compute.MatMul(weights, vh), start)
	}

	return a.o.Forward(cache.context), cache
}

// Backward returns ∂L/∂x for the cached forward pass and accumulates
// gradients for all four projections.
func (a *MultiHeadAttention) Backward(gradOut *Tensor, cache *attentionCache) *Tensor {
	gradContext := a.o.Backward(cache.context, gradOut)

	seqLen := cache.input.shape[0]
	gradQ := NewTensor(seqLen, a.dim)
	gradK := NewTensor(seqLen, a.dim)
	gradV := NewTensor(seqLen, a.dim)

	scale := 1.0 / math.Sqrt(float64(a.headDim))
	for h := 0; h < a.numHeads; h++ {
		start := h * a.headDim
		qh := columns(cache.q, start, a.headDim)
		kh := columns(cache.k, start, a.headDim)
		vh := columns(cache.v, start, a.headDim)
		gCtx := columns(gradContext, start, a.headDim)
		weights := cache.weights[h]

		// context = weights · V
		gradWeights := a.compute.MatMulTransB(gCtx, vh)
		setColumns(gradV, a.compute.MatMulTransA(weights, gCtx), start)

		// weights = softmax(scores), scores = scale · Q·Kᵀ
		gradScores := Scale(SoftmaxBackward(weights, gradWeights), scale)
		setColumns(gradQ, a.compute.MatMul(gradScores, kh), start)
		setColumns(gradK, a.compute.MatMulTransA(gradScores, qh), start)
	}

	gradX := a.q.Backward(cache.input, gradQ)
	gradX = Add(gradX, a.k.Backward(cache.input, gradK))
	gradX = Add(gradX, a.v.Backward(cache.input, gradV))
	return gradX
}

// Parameters returns Q, K, V and output projection weights in a fixed order.
func (a *MultiHeadAttention) Parameters() []*Tensor {
	var params []*Tensor
	for _, l := range []*Linear{a.q, a.k, a.v, a.o} {
		params = append(params, l.Parameters()...)
	}
	return params
}
