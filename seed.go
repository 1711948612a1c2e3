package main

import "math/rand"

// Seeds hands out independent random sources derived from one process seed.
// Each consumer gets its own stream so adding draws in one place does not
// shift another's sequence.
type Seeds struct {
	Base int64
}

// Stream offsets from the base seed.
const (
	streamInit int64 = iota + 1
	streamSplit
	streamShuffle
	streamDropout
)

func (s Seeds) stream(offset int64) *rand.Rand {
	return rand.New(rand.NewSource(s.Base + offset*7919))
}

// Init seeds parameter initialization and dropout inside the encoder.
func (s Seeds) Init() *rand.Rand { return s.stream(streamInit) }

// Split seeds the train/validation split.
func (s Seeds) Split() *rand.Rand { return s.stream(streamSplit) }

// Shuffle seeds per-epoch batch order.
func (s Seeds) Shuffle() *rand.Rand { return s.stream(streamShuffle) }

// Dropout seeds dropout for models restored from disk.
func (s Seeds) Dropout() *rand.Rand { return s.stream(streamDropout) }
