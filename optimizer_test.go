package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAdamFirstStep tests that the first bias-corrected step moves every
// element by lr in the direction opposite its own gradient.
func TestAdamFirstStep(t *testing.T) {
	a := NewTensorFrom([]float64{1, 2, 3}, 3)
	b := NewTensorFrom([]float64{-1, 0}, 2)
	copy(a.grad, []float64{0.5, -2, 0})
	copy(b.grad, []float64{4, -0.1})

	opt := NewAdamOptimizer([]*Tensor{a, b}, 0.9, 0.999, 1e-8, 0)
	opt.Step([]*Tensor{a, b}, 0.1)

	assert.InDelta(t, 0.9, a.data[0], 1e-6)
	assert.InDelta(t, 2.1, a.data[1], 1e-6)
	assert.Equal(t, 3.0, a.data[2], "zero gradient leaves the element alone")
	assert.InDelta(t, -1.1, b.data[0], 1e-6)
	assert.InDelta(t, 0.1, b.data[1], 1e-6)
}

// TestAdamWeightDecay tests that decay is folded into the gradient.
func TestAdamWeightDecay(t *testing.T) {
	p := NewTensorFrom([]float64{2}, 1)
	opt := NewAdamOptimizer([]*Tensor{p}, 0.9, 0.999, 1e-8, 0.5)
	opt.Step([]*Tensor{p}, 0.1)
	// grad = 0 + 0.5·2 > 0, so the parameter shrinks by lr.
	assert.InDelta(t, 1.9, p.data[0], 1e-6)
}

// TestAdamParameterListChanged tests the misuse guard.
func TestAdamParameterListChanged(t *testing.T) {
	p := NewTensor(1)
	opt := NewAdamOptimizer([]*Tensor{p}, 0.9, 0.999, 1e-8, 0)
	assert.Panics(t, func() { opt.Step([]*Tensor{p, NewTensor(1)}, 0.1) })
}

// TestSGDStep tests plain gradient descent with decay.
func TestSGDStep(t *testing.T) {
	p := NewTensorFrom([]float64{1, -1}, 2)
	copy(p.grad, []float64{1, 1})

	opt := NewSGDOptimizer(0.1)
	opt.Step([]*Tensor{p}, 0.5)
	assert.InDeltaSlice(t, []float64{1 - 0.5*1.1, -1 - 0.5*0.9}, p.data, 1e-12)

	opt.ZeroGrad([]*Tensor{p})
	assert.Equal(t, []float64{0, 0}, p.grad)
}

// TestNewOptimizer tests optimizer selection by name.
func TestNewOptimizer(t *testing.T) {
	cfg := DefaultTrainingConfig()
	opt, err := NewOptimizer(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &AdamOptimizer{}, opt)

	cfg.Optimizer = OptimizerSGD
	opt, err = NewOptimizer(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &SGDOptimizer{}, opt)

	cfg.Optimizer = "lion"
	_, err = NewOptimizer(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestClipGradients tests global-norm clipping.
func TestClipGradients(t *testing.T) {
	a := NewTensor(2)
	b := NewTensor(1)
	copy(a.grad, []float64{3, 0})
	copy(b.grad, []float64{4})

	norm := clipGradients([]*Tensor{a, b}, 0)
	assert.Equal(t, 5.0, norm)
	assert.Equal(t, []float64{3, 0}, a.grad, "maxNorm 0 only measures")

	norm = clipGradients([]*Tensor{a, b}, 1)
	assert.Equal(t, 5.0, norm)
	assert.InDeltaSlice(t, []float64{0.6, 0}, a.grad, 1e-12)
	assert.InDeltaSlice(t, []float64{0.8}, b.grad, 1e-12)
}

// TestLRScheduler tests warmup, cosine decay and the constant default.
func TestLRScheduler(t *testing.T) {
	constant := NewLRScheduler(0.1, 0, 0, 0)
	for i := 0; i < 3; i++ {
		assert.Equal(t, 0.1, constant.Next())
	}

	sched := NewLRScheduler(1, 0.1, 4, 8)
	var rates []float64
	for i := 0; i < 10; i++ {
		rates = append(rates, sched.Next())
	}
	assert.InDeltaSlice(t, []float64{0.25, 0.5, 0.75}, rates[:3], 1e-12)
	assert.InDelta(t, 1.0, rates[3], 1e-12)
	midpoint := 0.1 + 0.9*0.5*(1+math.Cos(math.Pi*0.5))
	assert.InDelta(t, midpoint, rates[5], 1e-12)
	assert.Equal(t, 0.1, rates[9])
	for i := 4; i < len(rates); i++ {
		assert.LessOrEqual(t, rates[i], rates[i-1])
	}
}
