package main

import (
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"
)

// Metrics summarizes one pass over a split.
//
// Precision, recall and F1 are support-weighted averages over the classes
// that occur in either the labels or the predictions. A class with no
// predictions has precision 0, one with no labels has recall 0, and F1 is 0
// when precision and recall are both 0.
type Metrics struct {
	Loss      float64 `json:"loss"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// String formats the metrics on one line.
func (m Metrics) String() string {
	return fmt.Sprintf("loss: %.4f | acc: %.4f | prec: %.4f | rec: %.4f | f1: %.4f",
		m.Loss, m.Accuracy, m.Precision, m.Recall, m.F1)
}

// metricAccumulator collects per-batch losses and per-example predictions
// for one pass.
type metricAccumulator struct {
	losses []float64
	preds  []int
	labels []int
}

func (a *metricAccumulator) addBatch(loss float64, preds, labels []int) {
	a.losses = append(a.losses, loss)
	a.preds = append(a.preds, preds...)
	a.labels = append(a.labels, labels...)
}

// summarize computes the pass metrics. Loss is the mean of batch losses.
func (a *metricAccumulator) summarize() Metrics {
	var m Metrics
	if len(a.losses) > 0 {
		m.Loss, _ = stats.Mean(a.losses)
	}
	m.Accuracy = accuracy(a.labels, a.preds)
	m.Precision, m.Recall, m.F1 = weightedPRF(a.labels, a.preds)
	return m
}

func accuracy(labels, preds []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	correct := 0
	for i, y := range labels {
		if preds[i] == y {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}

// weightedPRF returns support-weighted precision, recall and F1.
func weightedPRF(labels, preds []int) (precision, recall, f1 float64) {
	if len(labels) == 0 {
		return 0, 0, 0
	}

	support := map[int]int{}
	predicted := map[int]int{}
	truePos := map[int]int{}
	for i, y := range labels {
		support[y]++
		predicted[preds[i]]++
		if preds[i] == y {
			truePos[y]++
		}
	}

	classes := make([]int, 0, len(support)+len(predicted))
	seen := map[int]bool{}
	for _, set := range []map[int]int{support, predicted} {
		for c := range set {
			if !seen[c] {
				seen[c] = true
				classes = append(classes, c)
			}
		}
	}
	sort.Ints(classes)

	total := float64(len(labels))
	for _, c := range classes {
		if support[c] == 0 {
			continue
		}
		var p, r, f float64
		if predicted[c] > 0 {
			p = float64(truePos[c]) / float64(predicted[c])
		}
		r = float64(truePos[c]) / float64(support[c])
		if p+r > 0 {
			f = 2 * p * r / (p + r)
		}
		w := float64(support[c]) / total
		precision += w * p
		recall += w * r
		f1 += w * f
	}
	return precision, recall, f1
}
