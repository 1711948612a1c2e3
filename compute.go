package main

import (
	"go.uber.org/zap"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Compute is the single entry point the layers use for matrix products. It
// owns the selected Backend plus the naive fallback, and it is deliberately
// single-threaded: every product runs on the caller's goroutine, so a forward
// pass is one synchronous computation and evaluation-mode outputs are
// bit-identical from call to call.
//
// A nil *Compute is valid and uses the naive kernel; tests lean on that.
//
// ===========================================================================

// ComputeConfig selects the backend used for matrix products.
type ComputeConfig struct {
	// Backend is one of "auto", "gonum" or "naive".
	Backend string
}

// DefaultComputeConfig returns the auto-selected backend.
func DefaultComputeConfig() ComputeConfig {
	return ComputeConfig{Backend: BackendAuto}
}

// Compute dispatches matrix products to a backend, falling back to the naive
// kernel when the preferred backend fails.
type Compute struct {
	primary  Backend
	fallback Backend
	logger   *zap.Logger
	degraded bool
}

// NewCompute creates a Compute for cfg. The preferred backend is probed with
// a small product; if the probe fails the naive kernel is used from the start.
func NewCompute(cfg ComputeConfig, logger *zap.Logger) (*Compute, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	primary, err := newBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	c := &Compute{
		primary:  primary,
		fallback: naiveBackend{},
		logger:   logger,
	}

	probe := NewTensorFrom([]float64{1, 2, 3, 4}, 2, 2)
	if _, err := primary.Gemm(probe, probe, false, true); err != nil {
		logger.Warn("compute backend unavailable, using pure Go kernels",
			zap.String("backend", primary.Name()),
			zap.Error(err))
		c.degraded = true
	}

	logger.Debug("compute backend selected", zap.String("backend", c.BackendName()))
	return c, nil
}

// BackendName reports the backend currently serving products.
func (c *Compute) BackendName() string {
	if c == nil {
		return BackendNaive
	}
	if c.degraded {
		return c.fallback.Name()
	}
	return c.primary.Name()
}

func (c *Compute) gemm(a, b *Tensor, transA, transB bool) *Tensor {
	if c == nil {
		return mustGemm(naiveBackend{}, a, b, transA, transB)
	}
	if !c.degraded {
		out, err := c.primary.Gemm(a, b, transA, transB)
		if err == nil {
			return out
		}
		c.logger.Warn("compute backend failed, falling back to pure Go kernels",
			zap.String("backend", c.primary.Name()),
			zap.Error(err))
		c.degraded = true
	}
	return mustGemm(c.fallback, a, b, transA, transB)
}

// mustGemm panics on shape errors: by the time a product reaches the naive
// kernel the shapes were produced by our own layers.
func mustGemm(be Backend, a, b *Tensor, transA, transB bool) *Tensor {
	out, err := be.Gemm(a, b, transA, transB)
	if err != nil {
		panic(err)
	}
	return out
}

// MatMul computes a @ b.
func (c *Compute) MatMul(a, b *Tensor) *Tensor {
	return c.gemm(a, b, false, false)
}

// MatMulTransA computes aᵀ @ b.
func (c *Compute) MatMulTransA(a, b *Tensor) *Tensor {
	return c.gemm(a, b, true, false)
}

// MatMulTransB computes a @ bᵀ.
func (c *Compute) MatMulTransB(a, b *Tensor) *Tensor {
	return c.gemm(a, b, false, true)
}
