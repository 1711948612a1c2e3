package main

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTensorBasics tests basic tensor creation and access.
func TestTensorBasics(t *testing.T) {
	tensor := NewTensor(2, 3)

	assert.Equal(t, []int{2, 3}, tensor.Shape())
	assert.Equal(t, 6, tensor.Size())
	assert.Equal(t, 2, tensor.Dims())

	tensor.Set(1.5, 0, 0)
	tensor.Set(2.5, 1, 2)
	assert.Equal(t, 1.5, tensor.At(0, 0))
	assert.Equal(t, 2.5, tensor.At(1, 2))
	assert.Equal(t, []float64{0, 0, 2.5}, tensor.Row(1))
}

// TestTensorInvalidShape tests that bad shapes are rejected at construction.
func TestTensorInvalidShape(t *testing.T) {
	assert.Panics(t, func() { NewTensor() })
	assert.Panics(t, func() { NewTensor(2, 0) })
	assert.Panics(t, func() { NewTensorFrom([]float64{1, 2, 3}, 2, 2) })
	assert.Panics(t, func() { NewTensor(2, 2).At(2, 0) })
}

// TestShapeIsCopied tests that Shape cannot be used to mutate the tensor.
func TestShapeIsCopied(t *testing.T) {
	tensor := NewTensor(2, 3)
	shape := tensor.Shape()
	shape[0] = 99
	assert.Equal(t, []int{2, 3}, tensor.Shape())
}

// TestSlice2D tests extracting one example of a 3D tensor.
func TestSlice2D(t *testing.T) {
	data := make([]float64, 2*3*2)
	for i := range data {
		data[i] = float64(i)
	}
	batch := NewTensorFrom(data, 2, 3, 2)

	second := batch.Slice2D(1)
	assert.Equal(t, []int{3, 2}, second.Shape())
	assert.Equal(t, []float64{6, 7, 8, 9, 10, 11}, second.Data())

	// The slice is a copy.
	second.Set(-1, 0, 0)
	assert.Equal(t, 6.0, batch.At(1, 0, 0))
}

// TestReshapeSharesStorage tests that reshaped views alias data and grad.
func TestReshapeSharesStorage(t *testing.T) {
	a := NewTensorFrom([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	b := a.Reshape(3, 2)
	b.Set(10, 2, 1)
	assert.Equal(t, 10.0, a.At(1, 2))
	assert.Panics(t, func() { a.Reshape(4, 2) })
}

// TestElementwise tests Add, Mul and Scale.
func TestElementwise(t *testing.T) {
	a := NewTensorFrom([]float64{1, 2, 3, 4}, 2, 2)
	b := NewTensorFrom([]float64{5, 6, 7, 8}, 2, 2)

	assert.Equal(t, []float64{6, 8, 10, 12}, Add(a, b).Data())
	assert.Equal(t, []float64{5, 12, 21, 32}, Mul(a, b).Data())
	assert.Equal(t, []float64{0.5, 1, 1.5, 2}, Scale(a, 0.5).Data())

	assert.Panics(t, func() { Add(a, NewTensor(4)) })
}

// TestScaleRows tests per-row damping.
func TestScaleRows(t *testing.T) {
	a := NewTensorFrom([]float64{1, 2, 3, 4, 5, 6}, 3, 2)
	out := ScaleRows(a, []float64{1, 0, 0.5})
	assert.Equal(t, []float64{1, 2, 0, 0, 2.5, 3}, out.Data())

	// Input untouched.
	assert.Equal(t, 3.0, a.At(1, 0))

	assert.Panics(t, func() { ScaleRows(a, []float64{1, 1}) })
}

// TestTranspose tests matrix transpose.
func TestTranspose(t *testing.T) {
	a := NewTensorFrom([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	at := Transpose(a)
	assert.Equal(t, []int{3, 2}, at.Shape())
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, at.Data())
}

// TestSoftmax tests that rows sum to one and large inputs stay finite.
func TestSoftmax(t *testing.T) {
	x := NewTensorFrom([]float64{1, 2, 3, 1000, 1000, -1000}, 2, 3)
	y := Softmax(x)

	for r := 0; r < 2; r++ {
		sum := 0.0
		for _, v := range y.Row(r) {
			assert.False(t, math.IsNaN(v))
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
	assert.Greater(t, y.At(0, 2), y.At(0, 1))
	assert.InDelta(t, 0.5, y.At(1, 0), 1e-12)
	assert.InDelta(t, 0.0, y.At(1, 2), 1e-12)
}

// TestReLU tests the rectifier.
func TestReLU(t *testing.T) {
	x := NewTensorFrom([]float64{-1, 0, 2}, 3)
	assert.Equal(t, []float64{0, 0, 2}, ReLU(x).Data())
}

// TestAccumulateGrad tests gradient accumulation and reset.
func TestAccumulateGrad(t *testing.T) {
	p := NewTensor(2)
	p.AccumulateGrad(NewTensorFrom([]float64{1, 2}, 2))
	p.AccumulateGrad(NewTensorFrom([]float64{3, 4}, 2))
	assert.Equal(t, []float64{4, 6}, p.Grad())

	p.ZeroGrad()
	assert.Equal(t, []float64{0, 0}, p.Grad())

	assert.Panics(t, func() { p.AccumulateGrad(NewTensor(3)) })
}

// TestColumns tests head slicing helpers.
func TestColumns(t *testing.T) {
	x := NewTensorFrom([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 2, 4)
	mid := columns(x, 1, 2)
	assert.Equal(t, []float64{2, 3, 6, 7}, mid.Data())

	dst := NewTensor(2, 4)
	setColumns(dst, mid, 2)
	assert.Equal(t, []float64{0, 0, 2, 3, 0, 0, 6, 7}, dst.Data())
}

// TestNewTensorUniform tests the bound of uniform initialization.
func TestNewTensorUniform(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := NewTensorUniform(rng, 0.25, 50, 50)
	for _, v := range x.Data() {
		require.LessOrEqual(t, math.Abs(v), 0.25)
	}
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 2, argmax([]float64{0.1, 0.2, 0.7}))
	assert.Equal(t, 0, argmax([]float64{1, 1}))
	assert.Equal(t, -1, argmax(nil))
}
