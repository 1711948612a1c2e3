package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccuracy(t *testing.T) {
	assert.Equal(t, 0.75, accuracy([]int{0, 1, 1, 0}, []int{0, 1, 0, 0}))
	assert.Equal(t, 0.0, accuracy(nil, nil))
}

// TestWeightedPRF tests support-weighted averaging against hand-computed
// values.
func TestWeightedPRF(t *testing.T) {
	labels := []int{0, 0, 0, 1, 1}
	preds := []int{0, 1, 0, 1, 0}

	// class 0: tp=2, predicted=3, support=3 → p=2/3, r=2/3, f=2/3
	// class 1: tp=1, predicted=2, support=2 → p=1/2, r=1/2, f=1/2
	p, r, f := weightedPRF(labels, preds)
	want := 0.6*(2.0/3) + 0.4*0.5
	assert.InDelta(t, want, p, 1e-12)
	assert.InDelta(t, want, r, 1e-12)
	assert.InDelta(t, want, f, 1e-12)
}

// TestWeightedPRFZeroDivision tests classes that are never predicted.
func TestWeightedPRFZeroDivision(t *testing.T) {
	labels := []int{0, 0, 1, 1}
	preds := []int{0, 0, 0, 0}

	// class 0: p=2/4, r=1, f=2/3; class 1: never predicted → p=r=f=0
	p, r, f := weightedPRF(labels, preds)
	assert.InDelta(t, 0.5*0.5, p, 1e-12)
	assert.InDelta(t, 0.5*1.0, r, 1e-12)
	assert.InDelta(t, 0.5*(2.0/3), f, 1e-12)

	p, r, f = weightedPRF(nil, nil)
	assert.Zero(t, p+r+f)
}

// TestMetricAccumulator tests that losses average per batch and
// classification metrics cover every example.
func TestMetricAccumulator(t *testing.T) {
	var acc metricAccumulator
	acc.addBatch(1.0, []int{0, 1}, []int{0, 1})
	acc.addBatch(3.0, []int{1}, []int{0})

	m := acc.summarize()
	assert.Equal(t, 2.0, m.Loss)
	assert.InDelta(t, 2.0/3, m.Accuracy, 1e-12)
	assert.Contains(t, m.String(), "loss: 2.0000")

	var empty metricAccumulator
	assert.Equal(t, Metrics{}, empty.summarize())
}
