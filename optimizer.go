package main

import (
	"math"

	"github.com/pkg/errors"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	// Step applies one update to params using their gradients.
	Step(params []*Tensor, lr float64)

	// ZeroGrad clears all gradients.
	ZeroGrad(params []*Tensor)
}

// Optimizer names accepted by NewOptimizer.
const (
	OptimizerAdam = "adam"
	OptimizerSGD  = "sgd"
)

// NewOptimizer builds the optimizer named in cfg for params.
func NewOptimizer(cfg TrainingConfig, params []*Tensor) (Optimizer, error) {
	switch cfg.Optimizer {
	case OptimizerAdam, "":
		return NewAdamOptimizer(params, cfg.AdamBeta1, cfg.AdamBeta2, cfg.AdamEpsilon, cfg.WeightDecay), nil
	case OptimizerSGD:
		return NewSGDOptimizer(cfg.WeightDecay), nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown optimizer %q", cfg.Optimizer)
	}
}

// SGDOptimizer implements stochastic gradient descent with L2 weight decay.
type SGDOptimizer struct {
	weightDecay float64
}

// NewSGDOptimizer creates an SGD optimizer.
func NewSGDOptimizer(weightDecay float64) *SGDOptimizer {
	return &SGDOptimizer{weightDecay: weightDecay}
}

// Step updates parameters: param -= lr * (grad + weightDecay * param).
func (opt *SGDOptimizer) Step(params []*Tensor, lr float64) {
	for _, p := range params {
		for i := range p.data {
			grad := p.grad[i] + opt.weightDecay*p.data[i]
			p.data[i] -= lr * grad
		}
	}
}

// ZeroGrad clears gradients.
func (opt *SGDOptimizer) ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// AdamOptimizer implements Adam with coupled (L2) weight decay: the decay
// term is added to the gradient before the moment updates.
//
// Update rule:
//
//	g     = grad + weightDecay * param
//	m_t   = beta1 * m_{t-1} + (1 - beta1) * g
//	v_t   = beta2 * v_{t-1} + (1 - beta2) * g²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param -= lr * m_hat / (sqrt(v_hat) + epsilon)
//
// PAPER: "Adam: A Method for Stochastic Optimization" by Kingma, Ba (2014)
// https://arxiv.org/abs/1412.6980
type AdamOptimizer struct {
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64

	// One moment pair per parameter, in the order given to the constructor.
	m []*Tensor
	v []*Tensor
	t int
}

// NewAdamOptimizer creates an Adam optimizer for params. Step must be called
// with the same parameters in the same order.
func NewAdamOptimizer(params []*Tensor, beta1, beta2, epsilon, weightDecay float64) *AdamOptimizer {
	m := make([]*Tensor, len(params))
	v := make([]*Tensor, len(params))
	for i, p := range params {
		m[i] = NewTensor(p.shape...)
		v[i] = NewTensor(p.shape...)
	}
	return &AdamOptimizer{
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		m:           m,
		v:           v,
	}
}

// Step performs one Adam update.
func (opt *AdamOptimizer) Step(params []*Tensor, lr float64) {
	if len(params) != len(opt.m) {
		panic("adam: parameter list changed since construction")
	}
	opt.t++

	bias1 := 1.0 - math.Pow(opt.beta1, float64(opt.t))
	bias2 := 1.0 - math.Pow(opt.beta2, float64(opt.t))

	for i, p := range params {
		m, v := opt.m[i].data, opt.v[i].data
		for j := range p.data {
			grad := p.grad[j] + opt.weightDecay*p.data[j]

			m[j] = opt.beta1*m[j] + (1.0-opt.beta1)*grad
			v[j] = opt.beta2*v[j] + (1.0-opt.beta2)*grad*grad

			mHat := m[j] / bias1
			vHat := v[j] / bias2
			p.data[j] -= lr * mHat / (math.Sqrt(vHat) + opt.epsilon)
		}
	}
}

// ZeroGrad clears gradients.
func (opt *AdamOptimizer) ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// LRScheduler implements linear warmup followed by cosine decay. With zero
// warmup and decay steps it returns the base rate unchanged.
type LRScheduler struct {
	baseLR      float64
	minLR       float64
	warmupSteps int
	decaySteps  int
	step        int
}

// NewLRScheduler creates a learning rate scheduler.
func NewLRScheduler(baseLR, minLR float64, warmupSteps, decaySteps int) *LRScheduler {
	return &LRScheduler{
		baseLR:      baseLR,
		minLR:       minLR,
		warmupSteps: warmupSteps,
		decaySteps:  decaySteps,
	}
}

// Next advances one step and returns its learning rate.
func (sched *LRScheduler) Next() float64 {
	sched.step++

	if sched.step < sched.warmupSteps {
		return sched.baseLR * float64(sched.step) / float64(sched.warmupSteps)
	}
	if sched.decaySteps <= sched.warmupSteps {
		return sched.baseLR
	}
	if sched.step < sched.decaySteps {
		progress := float64(sched.step-sched.warmupSteps) / float64(sched.decaySteps-sched.warmupSteps)
		cosine := 0.5 * (1.0 + math.Cos(math.Pi*progress))
		return sched.minLR + (sched.baseLR-sched.minLR)*cosine
	}
	return sched.minLR
}

// clipGradients rescales all gradients so their global L2 norm is at most
// maxNorm, and returns the norm before clipping. maxNorm <= 0 only measures.
func clipGradients(params []*Tensor, maxNorm float64) float64 {
	globalNorm := 0.0
	for _, p := range params {
		for _, g := range p.grad {
			globalNorm += g * g
		}
	}
	globalNorm = math.Sqrt(globalNorm)

	if maxNorm > 0 && globalNorm > maxNorm {
		scale := maxNorm / globalNorm
		for _, p := range params {
			for i := range p.grad {
				p.grad[i] *= scale
			}
		}
	}
	return globalNorm
}
