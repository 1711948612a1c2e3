package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// A small benchmarking harness for the encoder's forward pass. It encodes
// synthetic batches at several sequence lengths on each matrix backend and
// reports wall time per batch, sequences per second and the speedup over the
// naive kernel.
//
// Attention cost grows with T² per head, so the interesting axis is the
// sequence length, not the batch size: a backend that wins at T=64 may lose
// its edge once the attention products dominate at T=1000.
//
// Timings use the median over iterations so a single GC pause does not skew
// a row.
//
// ===========================================================================

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BenchmarkResult is one (backend, sequence length) measurement.
type BenchmarkResult struct {
	Backend        string        `json:"backend"`
	SeqLen         int           `json:"seq_len"`
	BatchSize      int           `json:"batch_size"`
	Iterations     int           `json:"iterations"`
	MedianTime     time.Duration `json:"median_time_ns"`
	SeqPerSecond   float64       `json:"seq_per_second"`
	SpeedupVsNaive float64       `json:"speedup_vs_naive"`
}

// BenchmarkSuite is every measurement from one run.
type BenchmarkSuite struct {
	Timestamp time.Time         `json:"timestamp"`
	Hardware  HardwareInfo      `json:"hardware"`
	Encoder   EncoderConfig     `json:"encoder"`
	Results   []BenchmarkResult `json:"results"`
}

// HardwareInfo describes the machine the suite ran on.
type HardwareInfo struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	NumCPU    int    `json:"num_cpu"`
	GoVersion string `json:"go_version"`
}

// DetectHardware gathers information about the current system.
func DetectHardware() HardwareInfo {
	return HardwareInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
		GoVersion: runtime.Version(),
	}
}

// BenchmarkOptions controls RunBenchmarkSuite.
type BenchmarkOptions struct {
	Backends   []string
	SeqLens    []int
	BatchSize  int
	Iterations int
	Seed       int64
}

// RunBenchmarkSuite times Encode for every backend and sequence length in
// opts. The naive backend is always measured first so speedups have a
// baseline.
func RunBenchmarkSuite(cfg EncoderConfig, opts BenchmarkOptions, logger *zap.Logger) (*BenchmarkSuite, error) {
	if opts.BatchSize <= 0 || opts.Iterations <= 0 || len(opts.SeqLens) == 0 {
		return nil, errors.Wrap(ErrInvalidConfig, "benchmark needs a batch size, iterations and at least one sequence length")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	backends := []string{BackendNaive}
	for _, name := range opts.Backends {
		if name != BackendNaive {
			backends = append(backends, name)
		}
	}

	suite := &BenchmarkSuite{
		Timestamp: time.Now(),
		Hardware:  DetectHardware(),
		Encoder:   cfg,
	}

	baseline := make(map[int]float64)
	for _, name := range backends {
		compute, err := NewCompute(ComputeConfig{Backend: name}, logger)
		if err != nil {
			return nil, err
		}
		// The same seed per backend keeps weights and inputs identical.
		enc, err := NewEncoder(cfg, rand.New(rand.NewSource(opts.Seed)), compute)
		if err != nil {
			return nil, err
		}
		enc.SetTraining(false)

		for _, seqLen := range opts.SeqLens {
			if seqLen > cfg.MaxSeqLen {
				return nil, errors.Wrapf(ErrInvalidConfig, "benchmark length %d exceeds maximum %d", seqLen, cfg.MaxSeqLen)
			}
			batch, err := syntheticBatch(rand.New(rand.NewSource(opts.Seed+int64(seqLen))), opts.BatchSize, seqLen, cfg.InputWidth)
			if err != nil {
				return nil, err
			}

			times := make(stats.Float64Data, 0, opts.Iterations)
			for i := 0; i < opts.Iterations; i++ {
				start := time.Now()
				if _, err := enc.Encode(batch); err != nil {
					return nil, err
				}
				times = append(times, float64(time.Since(start)))
			}
			median, err := times.Median()
			if err != nil {
				return nil, errors.Wrap(err, "median benchmark time")
			}

			result := BenchmarkResult{
				Backend:      compute.BackendName(),
				SeqLen:       seqLen,
				BatchSize:    opts.BatchSize,
				Iterations:   opts.Iterations,
				MedianTime:   time.Duration(median),
				SeqPerSecond: float64(opts.BatchSize) / time.Duration(median).Seconds(),
			}
			if name == BackendNaive {
				baseline[seqLen] = result.SeqPerSecond
			}
			if base := baseline[seqLen]; base > 0 {
				result.SpeedupVsNaive = result.SeqPerSecond / base
			}
			suite.Results = append(suite.Results, result)

			logger.Info("benchmark",
				zap.String("backend", result.Backend),
				zap.Int("seq_len", seqLen),
				zap.Duration("median", result.MedianTime),
				zap.Float64("seq_per_second", result.SeqPerSecond))
		}
	}
	return suite, nil
}

// syntheticBatch builds a fully valid batch of uniform noise.
func syntheticBatch(rng *rand.Rand, size, seqLen, width int) (*Batch, error) {
	samples := make([]Sample, size)
	for i := range samples {
		seq := make([][]float64, seqLen)
		for t := range seq {
			seq[t] = make([]float64, width)
			for c := range seq[t] {
				seq[t][c] = rng.Float64()*2 - 1
			}
		}
		samples[i] = Sample{Sequence: seq}
	}
	return Collate(samples)
}

// WriteJSON writes the suite as indented JSON.
func (suite *BenchmarkSuite) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(suite), "encode benchmark results")
}

// PrintSummary writes a human-readable table of the results.
func (suite *BenchmarkSuite) PrintSummary(w io.Writer) error {
	fmt.Fprintf(w, "Hardware: %s/%s (%d cores, %s)\n",
		suite.Hardware.OS, suite.Hardware.Arch, suite.Hardware.NumCPU, suite.Hardware.GoVersion)
	fmt.Fprintf(w, "Encoder: D=%d heads=%d layers=%d\n\n",
		suite.Encoder.ModelWidth, suite.Encoder.NumHeads, suite.Encoder.NumLayers)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Backend\tSeqLen\tMedian\tSeq/s\tSpeedup\t")
	for _, r := range suite.Results {
		fmt.Fprintf(tw, "%s\t%d\t%v\t%.1f\t%.2fx\t\n",
			r.Backend, r.SeqLen, r.MedianTime.Round(time.Microsecond), r.SeqPerSecond, r.SpeedupVsNaive)
	}
	return tw.Flush()
}
