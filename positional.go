package main

import (
	"fmt"
	"math"
)

// PositionalEncoder adds fixed sinusoidal position information to projected
// embeddings.
//
// PAPER: "Attention Is All You Need" by Vaswani et al. (2017), section 3.5
//
//	pe[p][2i]   = sin(p · exp(-ln(10000) · 2i / D))
//	pe[p][2i+1] = cos(p · exp(-ln(10000) · 2i / D))
//
// The table is computed once for maxLen positions and reused by every call.
// It has no learned parameters.
type PositionalEncoder struct {
	dim    int
	maxLen int
	table  *Tensor // (maxLen, dim)
}

// NewPositionalEncoder precomputes the position table.
func NewPositionalEncoder(dim, maxLen int) *PositionalEncoder {
	table := NewTensor(maxLen, dim)
	for i := 0; 2*i < dim; i++ {
		freq := math.Exp(-math.Log(10000.0) * float64(2*i) / float64(dim))
		for p := 0; p < maxLen; p++ {
			angle := float64(p) * freq
			row := table.Row(p)
			row[2*i] = math.Sin(angle)
			if 2*i+1 < dim {
				row[2*i+1] = math.Cos(angle)
			}
		}
	}
	return &PositionalEncoder{dim: dim, maxLen: maxLen, table: table}
}

// Forward returns x + table[:seqLen] for x (seqLen, dim). The gradient of the
// addition w.r.t. x is the identity, so the encoder's backward pass skips
// this step.
func (pe *PositionalEncoder) Forward(x *Tensor) *Tensor {
	seqLen := x.shape[0]
	if seqLen > pe.maxLen {
		panic(fmt.Sprintf("positional: sequence length %d exceeds maximum %d", seqLen, pe.maxLen))
	}
	out := x.Clone()
	copyLen := seqLen * pe.dim
	for i, v := range pe.table.data[:copyLen] {
		out.data[i] += v
	}
	return out
}

// Table returns the first n rows of the position table.
func (pe *PositionalEncoder) Table(n int) *Tensor {
	out := NewTensor(n, pe.dim)
	copy(out.data, pe.table.data[:n*pe.dim])
	return out
}
