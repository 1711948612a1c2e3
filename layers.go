package main

import (
	"math"
	"math/rand"
)

// Linear is a fully connected layer y = x @ W + b applied to every row of x.
type Linear struct {
	in, out int
	weight  *Tensor // (in, out)
	bias    *Tensor // (out)
	compute *Compute
}

// NewLinear creates a linear layer initialized from U(-1/√in, 1/√in) for
// both weight and bias.
func NewLinear(in, out int, rng *rand.Rand, compute *Compute) *Linear {
	bound := 1.0 / math.Sqrt(float64(in))
	return &Linear{
		in:      in,
		out:     out,
		weight:  NewTensorUniform(rng, bound, in, out),
		bias:    NewTensorUniform(rng, bound, out),
		compute: compute,
	}
}

// Forward computes x @ W + b for x of shape (rows, in).
func (l *Linear) Forward(x *Tensor) *Tensor {
	y := l.compute.MatMul(x, l.weight)
	addBias(y, l.bias)
	return y
}

// Backward accumulates ∂L/∂W = xᵀ·g and ∂L/∂b = Σ_rows g, and returns
// ∂L/∂x = g·Wᵀ. x is the input seen by Forward.
func (l *Linear) Backward(x, gradY *Tensor) *Tensor {
	l.weight.AccumulateGrad(l.compute.MatMulTransA(x, gradY))
	for i, g := range gradY.data {
		l.bias.grad[i%l.out] += g
	}
	return l.compute.MatMulTransB(gradY, l.weight)
}

// Parameters returns the weight and bias.
func (l *Linear) Parameters() []*Tensor {
	return []*Tensor{l.weight, l.bias}
}

// LayerNorm normalizes each row to zero mean and unit variance, then applies
// a learned scale (gamma) and shift (beta).
//
// PAPER: "Layer Normalization" by Ba, Kiros, Hinton (2016)
// https://arxiv.org/abs/1607.06450
type LayerNorm struct {
	dim   int
	eps   float64
	gamma *Tensor
	beta  *Tensor
}

// NewLayerNorm creates a layer norm with gamma=1 and beta=0.
func NewLayerNorm(dim int) *LayerNorm {
	gamma := NewTensor(dim)
	for i := range gamma.data {
		gamma.data[i] = 1
	}
	return &LayerNorm{
		dim:   dim,
		eps:   1e-5,
		gamma: gamma,
		beta:  NewTensor(dim),
	}
}

// Forward normalizes every row of x.
func (ln *LayerNorm) Forward(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)
	for r := 0; r < x.shape[0]; r++ {
		xr, or := x.Row(r), out.Row(r)
		mean, std := rowStats(xr, ln.eps)
		for j, v := range xr {
			or[j] = (v-mean)/std*ln.gamma.data[j] + ln.beta.data[j]
		}
	}
	return out
}

// Backward accumulates gamma/beta gradients and returns ∂L/∂x.
func (ln *LayerNorm) Backward(x, gradY *Tensor) *Tensor {
	gradX, gradGamma, gradBeta := LayerNormBackward(x, ln.gamma, gradY, ln.eps)
	ln.gamma.AccumulateGrad(gradGamma)
	ln.beta.AccumulateGrad(gradBeta)
	return gradX
}

// Parameters returns gamma and beta.
func (ln *LayerNorm) Parameters() []*Tensor {
	return []*Tensor{ln.gamma, ln.beta}
}

// Dropout zeroes elements with probability p during training and scales the
// survivors by 1/(1-p). Every call draws fresh randomness from rng; nothing
// about the draw is kept on the layer.
type Dropout struct {
	p   float64
	rng *rand.Rand
}

// NewDropout creates a dropout layer drawing from rng.
func NewDropout(p float64, rng *rand.Rand) *Dropout {
	return &Dropout{p: p, rng: rng}
}

// Forward returns the dropped-out tensor and the per-element keep scale
// needed by Backward. When not training (or p == 0) x is returned unchanged
// with a nil keep tensor.
func (d *Dropout) Forward(x *Tensor, training bool) (out, keep *Tensor) {
	if !training || d.p <= 0 {
		return x, nil
	}
	keep = NewTensor(x.shape...)
	out = NewTensor(x.shape...)
	scale := 1.0 / (1.0 - d.p)
	for i, v := range x.data {
		if d.rng.Float64() >= d.p {
			keep.data[i] = scale
			out.data[i] = v * scale
		}
	}
	return out, keep
}

// Backward routes gradY through the kept elements.
func (d *Dropout) Backward(keep, gradY *Tensor) *Tensor {
	if keep == nil {
		return gradY
	}
	return Mul(gradY, keep)
}

// FeedForward is the position-wise sublayer:
//
//	FFN(x) = Dropout(ReLU(x @ W1 + b1)) @ W2 + b2
//
// with a hidden width of 4× the model width by default.
type FeedForward struct {
	expand  *Linear
	project *Linear
	dropout *Dropout
}

// ffCache keeps what FeedForward.Backward needs.
type ffCache struct {
	input  *Tensor
	pre    *Tensor // before ReLU
	hidden *Tensor // after ReLU and dropout
	keep   *Tensor
}

// NewFeedForward creates a feed-forward sublayer.
func NewFeedForward(dim, hidden int, dropout float64, rng *rand.Rand, compute *Compute) *FeedForward {
	return &FeedForward{
		expand:  NewLinear(dim, hidden, rng, compute),
		project: NewLinear(hidden, dim, rng, compute),
		dropout: NewDropout(dropout, rng),
	}
}

// Forward applies the sublayer to x (seqLen, dim).
func (ff *FeedForward) Forward(x *Tensor, training bool) (*Tensor, *ffCache) {
	pre := ff.expand.Forward(x)
	hidden, keep := ff.dropout.Forward(ReLU(pre), training)
	return ff.project.Forward(hidden), &ffCache{input: x, pre: pre, hidden: hidden, keep: keep}
}

// Backward returns ∂L/∂x and accumulates parameter gradients.
func (ff *FeedForward) Backward(gradY *Tensor, cache *ffCache) *Tensor {
	gradHidden := ff.project.Backward(cache.hidden, gradY)
	gradHidden = ff.dropout.Backward(cache.keep, gradHidden)
	gradPre := ReLUBackward(cache.pre, gradHidden)
	return ff.expand.Backward(cache.input, gradPre)
}

// Parameters returns the sublayer's weights in a fixed order.
func (ff *FeedForward) Parameters() []*Tensor {
	return append(ff.expand.Parameters(), ff.project.Parameters()...)
}
