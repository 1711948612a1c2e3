package main

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Every projection in the encoder (input projection, Q/K/V, attention
// products, feed-forward, pooling scores, classifier head) reduces to a dense
// matrix product. A Backend computes those products.
//
// Two backends exist:
//   - gonum: BLAS-backed products through gonum's mat package
//   - naive: the triple loop, always available
//
// The gonum backend plays the role of the "accelerator" here: if it is
// unavailable or fails, Compute (compute.go) falls back to the naive kernel
// instead of failing the forward pass.
//
// ===========================================================================

// Backend computes op(a) @ op(b) for 2D tensors, where op transposes its
// argument when the corresponding flag is set.
type Backend interface {
	Name() string
	Gemm(a, b *Tensor, transA, transB bool) (*Tensor, error)
}

// gemmDims validates operands and returns (m, k, n) for op(a) (m×k) @ op(b) (k×n).
func gemmDims(a, b *Tensor, transA, transB bool) (m, k, n int, err error) {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		return 0, 0, 0, errors.Wrapf(ErrInvalidShape, "gemm requires 2D operands, got %v and %v", a.shape, b.shape)
	}
	m, k = a.shape[0], a.shape[1]
	if transA {
		m, k = k, m
	}
	k2, n := b.shape[0], b.shape[1]
	if transB {
		k2, n = n, k2
	}
	if k != k2 {
		return 0, 0, 0, errors.Wrapf(ErrShapeMismatch, "gemm inner dimensions %d and %d", k, k2)
	}
	return m, k, n, nil
}

// naiveBackend is the pure-Go reference kernel.
type naiveBackend struct{}

func (naiveBackend) Name() string { return BackendNaive }

func (naiveBackend) Gemm(a, b *Tensor, transA, transB bool) (*Tensor, error) {
	m, k, n, err := gemmDims(a, b, transA, transB)
	if err != nil {
		return nil, err
	}

	aCols, bCols := a.shape[1], b.shape[1]
	aAt := func(i, kk int) float64 {
		if transA {
			return a.data[kk*aCols+i]
		}
		return a.data[i*aCols+kk]
	}
	bAt := func(kk, j int) float64 {
		if transB {
			return b.data[j*bCols+kk]
		}
		return b.data[kk*bCols+j]
	}

	out := NewTensor(m, n)
	for i := 0; i < m; i++ {
		for kk := 0; kk < k; kk++ {
			av := aAt(i, kk)
			if av == 0 {
				continue
			}
			row := out.data[i*n : (i+1)*n]
			for j := range row {
				row[j] += av * bAt(kk, j)
			}
		}
	}
	return out, nil
}

// gonumBackend delegates to gonum's BLAS-backed matrix product. Operands are
// wrapped without copying; the result is written straight into the output
// tensor's storage.
type gonumBackend struct{}

func (gonumBackend) Name() string { return BackendGonum }

func (gonumBackend) Gemm(a, b *Tensor, transA, transB bool) (out *Tensor, err error) {
	m, _, n, err := gemmDims(a, b, transA, transB)
	if err != nil {
		return nil, err
	}

	// gonum reports shape problems by panicking with mat.Error values.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, errors.Errorf("gonum gemm: %v", r)
		}
	}()

	var am, bm mat.Matrix = mat.NewDense(a.shape[0], a.shape[1], a.data), mat.NewDense(b.shape[0], b.shape[1], b.data)
	if transA {
		am = am.T()
	}
	if transB {
		bm = bm.T()
	}

	out = NewTensor(m, n)
	dst := mat.NewDense(m, n, out.data)
	dst.Mul(am, bm)
	return out, nil
}

// Backend names accepted by ComputeConfig.
const (
	BackendAuto  = "auto"
	BackendGonum = "gonum"
	BackendNaive = "naive"
)

func newBackend(name string) (Backend, error) {
	switch name {
	case BackendAuto, BackendGonum, "":
		return gonumBackend{}, nil
	case BackendNaive:
		return naiveBackend{}, nil
	default:
		return nil, errors.Wrap(ErrInvalidConfig, fmt.Sprintf("unknown compute backend %q", name))
	}
}
