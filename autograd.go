package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Backward operations for the layers in this package. Every forward operation
// that sits between the loss and a learned parameter needs a matching
// gradient here; the layers (layers.go, attention.go, pooling.go) combine
// them with the chain rule.
//
// Chain rule reminder:
//   y = f(x), L = g(y)  =>  ∂L/∂x = ∂L/∂y · ∂y/∂x
//
// Residual connections add gradients: y = x + F(x) => gradX = gradY + F'(gradY).
//
// ===========================================================================

import (
	"fmt"
	"math"
)

// ReLUBackward passes gradY through where x > 0.
func ReLUBackward(x, gradY *Tensor) *Tensor {
	gradX := NewTensor(x.shape...)
	for i, v := range x.data {
		if v > 0 {
			gradX.data[i] = gradY.data[i]
		}
	}
	return gradX
}

// softmaxBackwardInto computes the input gradient of a softmax row:
//
//	gradX[i] = y[i] * (gradY[i] - Σ_j gradY[j] * y[j])
func softmaxBackwardInto(gradX, y, gradY []float64) {
	dot := 0.0
	for j := range y {
		dot += gradY[j] * y[j]
	}
	for i := range y {
		gradX[i] = y[i] * (gradY[i] - dot)
	}
}

// SoftmaxBackward applies softmaxBackwardInto to every row of a 2D tensor.
func SoftmaxBackward(y, gradY *Tensor) *Tensor {
	if len(y.shape) != 2 {
		panic("SoftmaxBackward: requires 2D tensor")
	}
	gradX := NewTensor(y.shape...)
	for r := 0; r < y.shape[0]; r++ {
		softmaxBackwardInto(gradX.Row(r), y.Row(r), gradY.Row(r))
	}
	return gradX
}

// LayerNormBackward computes gradients for y = gamma * (x - mean) / std + beta
// applied to every row of x.
//
//	∂L/∂gamma = Σ_rows ∂L/∂y * xNorm
//	∂L/∂beta  = Σ_rows ∂L/∂y
//	∂L/∂x     = (n*g - Σg - xNorm*Σ(g*xNorm)) / (n*std), with g = ∂L/∂y * gamma
func LayerNormBackward(x, gamma, gradY *Tensor, epsilon float64) (gradX, gradGamma, gradBeta *Tensor) {
	if len(x.shape) != 2 {
		panic("LayerNormBackward: requires 2D tensor")
	}

	rows, features := x.shape[0], x.shape[1]
	gradX = NewTensor(x.shape...)
	gradGamma = NewTensor(gamma.shape...)
	gradBeta = NewTensor(gamma.shape...)
	n := float64(features)
	xNorm := make([]float64, features)

	for r := 0; r < rows; r++ {
		xr, gr := x.Row(r), gradY.Row(r)
		mean, std := rowStats(xr, epsilon)

		sumG, sumGX := 0.0, 0.0
		for f := 0; f < features; f++ {
			xNorm[f] = (xr[f] - mean) / std
			gradGamma.data[f] += gr[f] * xNorm[f]
			gradBeta.data[f] += gr[f]

			g := gr[f] * gamma.data[f]
			sumG += g
			sumGX += g * xNorm[f]
		}

		out := gradX.Row(r)
		for f := 0; f < features; f++ {
			g := gr[f] * gamma.data[f]
			out[f] = (n*g - sumG - xNorm[f]*sumGX) / (n * std)
		}
	}

	return gradX, gradGamma, gradBeta
}

// rowStats returns the mean and sqrt(variance + eps) of a row.
func rowStats(row []float64, eps float64) (mean, std float64) {
	for _, v := range row {
		mean += v
	}
	mean /= float64(len(row))
	variance := 0.0
	for _, v := range row {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(row))
	return mean, math.Sqrt(variance + eps)
}

// CrossEntropyLoss computes the mean categorical cross-entropy of logits
// (batch, classes) against integer targets.
func CrossEntropyLoss(logits *Tensor, targets []int) float64 {
	if len(logits.shape) != 2 {
		panic("CrossEntropyLoss expects 2D logits")
	}
	batch := logits.shape[0]
	if len(targets) != batch {
		panic(fmt.Sprintf("target length %d != batch size %d", len(targets), batch))
	}

	total := 0.0
	for b := 0; b < batch; b++ {
		row := logits.Row(b)
		maxLogit := row[0]
		for _, v := range row[1:] {
			if v > maxLogit {
				maxLogit = v
			}
		}
		sumExp := 0.0
		for _, v := range row {
			sumExp += math.Exp(v - maxLogit)
		}
		total += maxLogit + math.Log(sumExp) - row[targets[b]]
	}
	return total / float64(batch)
}

// CrossEntropyBackward returns ∂loss/∂logits = (softmax(logits) - onehot) / batch.
func CrossEntropyBackward(logits *Tensor, targets []int) *Tensor {
	if len(logits.shape) != 2 {
		panic("CrossEntropyBackward: requires 2D logits")
	}
	batch := logits.shape[0]
	grad := Softmax(logits)
	for b := 0; b < batch; b++ {
		row := grad.Row(b)
		row[targets[b]] -= 1
		for i := range row {
			row[i] /= float64(batch)
		}
	}
	return grad
}
