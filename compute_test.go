package main

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// failingBackend always errors, standing in for an unavailable accelerator.
type failingBackend struct{}

func (failingBackend) Name() string { return "failing" }

func (failingBackend) Gemm(a, b *Tensor, transA, transB bool) (*Tensor, error) {
	return nil, errors.New("device lost")
}

func randomTensor(rng *rand.Rand, rows, cols int) *Tensor {
	return NewTensorUniform(rng, 1, rows, cols)
}

// TestBackendsAgree tests that gonum and the naive kernel compute the same
// products for every transpose combination.
func TestBackendsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cases := []struct {
		transA, transB bool
		aShape, bShape [2]int
	}{
		{false, false, [2]int{5, 7}, [2]int{7, 3}},
		{true, false, [2]int{7, 5}, [2]int{7, 3}},
		{false, true, [2]int{5, 7}, [2]int{3, 7}},
		{true, true, [2]int{7, 5}, [2]int{3, 7}},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("transA=%v,transB=%v", tc.transA, tc.transB), func(t *testing.T) {
			a := randomTensor(rng, tc.aShape[0], tc.aShape[1])
			b := randomTensor(rng, tc.bShape[0], tc.bShape[1])

			naive, err := naiveBackend{}.Gemm(a, b, tc.transA, tc.transB)
			require.NoError(t, err)
			blas, err := gonumBackend{}.Gemm(a, b, tc.transA, tc.transB)
			require.NoError(t, err)

			assert.Equal(t, []int{5, 3}, naive.Shape())
			assert.InDeltaSlice(t, naive.Data(), blas.Data(), 1e-12)
		})
	}
}

// TestMatMulKnownValues tests a hand-computed product.
func TestMatMulKnownValues(t *testing.T) {
	a := NewTensorFrom([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	b := NewTensorFrom([]float64{1, 2, 3, 4, 5, 6}, 3, 2)

	for _, backend := range []string{BackendNaive, BackendGonum} {
		c, err := NewCompute(ComputeConfig{Backend: backend}, nil)
		require.NoError(t, err)
		assert.Equal(t, []float64{22, 28, 49, 64}, c.MatMul(a, b).Data(), backend)
		assert.Equal(t, []float64{14, 32, 32, 77}, c.MatMulTransB(a, a).Data(), backend)
	}
}

// TestGemmShapeErrors tests operand validation.
func TestGemmShapeErrors(t *testing.T) {
	a := NewTensor(2, 3)
	_, err := naiveBackend{}.Gemm(a, NewTensor(2, 3), false, false)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = gonumBackend{}.Gemm(a, NewTensor(3), false, false)
	assert.ErrorIs(t, err, ErrInvalidShape)

	// Shapes produced by our own layers are trusted: Compute panics.
	assert.Panics(t, func() { (*Compute)(nil).MatMul(a, a) })
}

// TestUnknownBackend tests that configuration errors surface at construction.
func TestUnknownBackend(t *testing.T) {
	_, err := NewCompute(ComputeConfig{Backend: "tpu"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestNilCompute tests that a nil Compute runs the naive kernel.
func TestNilCompute(t *testing.T) {
	var c *Compute
	assert.Equal(t, BackendNaive, c.BackendName())
	out := c.MatMul(NewTensorFrom([]float64{2}, 1, 1), NewTensorFrom([]float64{3}, 1, 1))
	assert.Equal(t, []float64{6}, out.Data())
}

// TestComputeFallback tests that a failing backend degrades to the naive
// kernel once, with a warning, and keeps producing correct results.
func TestComputeFallback(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := &Compute{primary: failingBackend{}, fallback: naiveBackend{}, logger: zap.New(core)}

	a := NewTensorFrom([]float64{1, 2, 3, 4}, 2, 2)
	for i := 0; i < 3; i++ {
		assert.Equal(t, []float64{7, 10, 15, 22}, c.MatMul(a, a).Data())
	}
	assert.Equal(t, BackendNaive, c.BackendName())
	assert.Equal(t, 1, logs.FilterMessage("compute backend failed, falling back to pure Go kernels").Len())
}

// TestDefaultComputeConfig tests that the default selects gonum.
func TestDefaultComputeConfig(t *testing.T) {
	c, err := NewCompute(DefaultComputeConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, BackendGonum, c.BackendName())
}

func BenchmarkMatMulNaive(b *testing.B) {
	benchmarkMatMul(b, BackendNaive)
}

func BenchmarkMatMulGonum(b *testing.B) {
	benchmarkMatMul(b, BackendGonum)
}

func benchmarkMatMul(b *testing.B, backend string) {
	c, err := NewCompute(ComputeConfig{Backend: backend}, nil)
	require.NoError(b, err)
	rng := rand.New(rand.NewSource(1))
	x := randomTensor(rng, 256, 192)
	w := randomTensor(rng, 192, 192)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.MatMul(x, w)
	}
}
