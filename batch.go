package main

import (
	"math/rand"

	"github.com/pkg/errors"
)

// ErrEmptyDataset is returned when there is nothing to collate, split or
// train on.
var ErrEmptyDataset = errors.New("dataset: no samples")

// Sample is one ragged multivariate sequence with its validity mask.
type Sample struct {
	// Path is the file the sequence was read from; empty for in-memory data.
	Path string

	// Sequence holds one fixed-width row per timestep.
	Sequence [][]float64

	// Mask marks real timesteps. A nil mask means every timestep is valid.
	// Its length may differ from the sequence's; Collate reconciles the two.
	Mask []bool

	Label int
}

// Truncate keeps at most maxLen timesteps of both the sequence and the mask.
// The two are cut independently; shorter inputs are left untouched.
func (s Sample) Truncate(maxLen int) Sample {
	if len(s.Sequence) > maxLen {
		s.Sequence = s.Sequence[:maxLen]
	}
	if len(s.Mask) > maxLen {
		s.Mask = s.Mask[:maxLen]
	}
	return s
}

// valid reports whether timestep t of the sample is real data.
func (s Sample) valid(t int) bool {
	if t >= len(s.Sequence) {
		return false
	}
	if s.Mask == nil {
		return true
	}
	return t < len(s.Mask) && s.Mask[t]
}

// Batch is a right-padded group of samples.
type Batch struct {
	// Inputs is (batch, maxLen, width), zero-filled past each sample's end.
	Inputs *Tensor

	// Mask is (batch, maxLen); padded positions are false.
	Mask [][]bool

	Labels  []int
	Lengths []int
	Paths   []string
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	return len(b.Labels)
}

// SeqLen returns the padded length of the batch.
func (b *Batch) SeqLen() int {
	return b.Inputs.shape[1]
}

// Collate pads samples to the longest sequence in the group. Sequence fill is
// 0.0 and mask fill is false; a sample's mask is cropped or padded to its own
// sequence length first.
func Collate(samples []Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyDataset
	}

	maxLen, width := 0, -1
	for _, s := range samples {
		if len(s.Sequence) > maxLen {
			maxLen = len(s.Sequence)
		}
		for t, row := range s.Sequence {
			if width == -1 {
				width = len(row)
			}
			if len(row) != width {
				return nil, errors.Wrapf(ErrShapeMismatch,
					"collate: %q row %d has %d columns, expected %d", s.Path, t, len(row), width)
			}
		}
	}
	if maxLen == 0 || width <= 0 {
		return nil, errors.Wrap(ErrEmptyDataset, "collate: every sequence is empty")
	}

	b := &Batch{
		Inputs:  NewTensor(len(samples), maxLen, width),
		Mask:    make([][]bool, len(samples)),
		Labels:  make([]int, len(samples)),
		Lengths: make([]int, len(samples)),
		Paths:   make([]string, len(samples)),
	}
	for i, s := range samples {
		base := i * maxLen * width
		for t, row := range s.Sequence {
			copy(b.Inputs.data[base+t*width:base+(t+1)*width], row)
		}
		mask := make([]bool, maxLen)
		for t := range mask {
			mask[t] = s.valid(t)
		}
		b.Mask[i] = mask
		b.Labels[i] = s.Label
		b.Lengths[i] = len(s.Sequence)
		b.Paths[i] = s.Path
	}
	return b, nil
}

// Loader yields collated batches from a fixed set of samples. When Shuffle is
// set every pass visits the samples in a fresh order drawn from rng.
//
// Loader is not safe for concurrent use.
type Loader struct {
	samples   []Sample
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

// NewLoader creates a loader. rng is only used when shuffle is true.
func NewLoader(samples []Sample, batchSize int, shuffle bool, rng *rand.Rand) (*Loader, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyDataset
	}
	if batchSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "batch size must be positive, got %d", batchSize)
	}
	if shuffle && rng == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "shuffling loader needs a random source")
	}
	return &Loader{samples: samples, batchSize: batchSize, shuffle: shuffle, rng: rng}, nil
}

// Len returns the number of samples.
func (l *Loader) Len() int {
	return len(l.samples)
}

// NumBatches returns the number of batches in one pass.
func (l *Loader) NumBatches() int {
	return (len(l.samples) + l.batchSize - 1) / l.batchSize
}

// Each collates and visits every batch of one pass, stopping at the first
// error from collation or fn.
func (l *Loader) Each(fn func(*Batch) error) error {
	order := make([]int, len(l.samples))
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	group := make([]Sample, 0, l.batchSize)
	for start := 0; start < len(order); start += l.batchSize {
		end := min(start+l.batchSize, len(order))
		group = group[:0]
		for _, idx := range order[start:end] {
			group = append(group, l.samples[idx])
		}
		batch, err := Collate(group)
		if err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

// Batches collates one full pass.
func (l *Loader) Batches() ([]*Batch, error) {
	batches := make([]*Batch, 0, l.NumBatches())
	err := l.Each(func(b *Batch) error {
		batches = append(batches, b)
		return nil
	})
	return batches, err
}
