package main

import (
	"bytes"
	"encoding/csv"
	"io"
	"math"
	"math/rand"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrMalformedTrace is returned when a trace or mask file cannot be parsed.
var ErrMalformedTrace = errors.New("dataset: malformed trace")

const (
	originalExt     = ".txt"
	augmentedPrefix = "mix_"
	augmentedTag    = "mix"
	maskTag         = "mask"

	// DefaultHealthyMarker is the path fragment that marks class-0 traces.
	DefaultHealthyMarker = "Healthy"
)

// FilePair names a trace file and its optional companion mask.
type FilePair struct {
	DataPath string
	MaskPath string // empty: every timestep is valid
}

// LabelFunc assigns a class to a trace by its path.
type LabelFunc func(path string) int

// MarkerLabeler labels paths containing marker as class 0 and everything
// else as class 1.
func MarkerLabeler(marker string) LabelFunc {
	return func(path string) int {
		if strings.Contains(path, marker) {
			return 0
		}
		return 1
	}
}

// DiscoverPairs lists the traces to load:
//
//   - every *.txt file directly under originalDir, without a mask;
//   - every file under augmentedDir whose name starts with "mix_", paired
//     with the file of the same name where "mix" is replaced by "mask".
//
// Augmented traces without a mask are logged and skipped. Either directory
// may be empty (""), which skips it. The result is sorted by path within each
// group, originals first.
func DiscoverPairs(fs afero.Fs, originalDir, augmentedDir string, logger *zap.Logger) ([]FilePair, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var pairs []FilePair
	if originalDir != "" {
		entries, err := afero.ReadDir(fs, originalDir)
		if err != nil {
			return nil, errors.Wrapf(err, "read original dir %s", originalDir)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), originalExt) {
				continue
			}
			pairs = append(pairs, FilePair{DataPath: filepath.Join(originalDir, e.Name())})
		}
	}

	if augmentedDir != "" {
		entries, err := afero.ReadDir(fs, augmentedDir)
		if err != nil {
			return nil, errors.Wrapf(err, "read augmented dir %s", augmentedDir)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasPrefix(e.Name(), augmentedPrefix) {
				continue
			}
			dataPath := filepath.Join(augmentedDir, e.Name())
			maskPath := filepath.Join(augmentedDir, strings.ReplaceAll(e.Name(), augmentedTag, maskTag))

			ok, err := afero.Exists(fs, maskPath)
			if err != nil {
				return nil, errors.Wrapf(err, "stat mask %s", maskPath)
			}
			if !ok {
				logger.Warn("mask not found, skipping trace",
					zap.String("trace", dataPath),
					zap.String("mask", maskPath))
				continue
			}
			pairs = append(pairs, FilePair{DataPath: dataPath, MaskPath: maskPath})
		}
	}

	logger.Debug("discovered traces", zap.Int("count", len(pairs)))
	return pairs, nil
}

// LoadSample reads one trace (and its mask), truncates both to maxLen and
// labels it with labelFn.
func LoadSample(fs afero.Fs, pair FilePair, maxLen int, labelFn LabelFunc) (Sample, error) {
	raw, err := afero.ReadFile(fs, pair.DataPath)
	if err != nil {
		return Sample{}, errors.Wrapf(err, "read trace %s", pair.DataPath)
	}
	seq, err := parseTrace(bytes.NewReader(raw))
	if err != nil {
		return Sample{}, errors.Wrapf(err, "parse trace %s", pair.DataPath)
	}

	var mask []bool
	if pair.MaskPath == "" {
		mask = make([]bool, len(seq))
		for i := range mask {
			mask[i] = true
		}
	} else {
		raw, err := afero.ReadFile(fs, pair.MaskPath)
		if err != nil {
			return Sample{}, errors.Wrapf(err, "read mask %s", pair.MaskPath)
		}
		if mask, err = parseMask(raw); err != nil {
			return Sample{}, errors.Wrapf(err, "parse mask %s", pair.MaskPath)
		}
	}

	s := Sample{Path: pair.DataPath, Sequence: seq, Mask: mask}
	if labelFn != nil {
		s.Label = labelFn(pair.DataPath)
	}
	return s.Truncate(maxLen), nil
}

// LoadSamples loads every pair and logs a length summary.
func LoadSamples(fs afero.Fs, pairs []FilePair, maxLen int, labelFn LabelFunc, logger *zap.Logger) ([]Sample, error) {
	if len(pairs) == 0 {
		return nil, ErrEmptyDataset
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	samples := make([]Sample, 0, len(pairs))
	lengths := make(stats.Float64Data, 0, len(pairs))
	for _, p := range pairs {
		s, err := LoadSample(fs, p, maxLen, labelFn)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
		lengths = append(lengths, float64(len(s.Sequence)))
	}

	median, _ := lengths.Median()
	longest, _ := lengths.Max()
	logger.Info("loaded traces",
		zap.Int("count", len(samples)),
		zap.Float64("median_len", median),
		zap.Float64("max_len", longest),
		zap.Int("truncate_at", maxLen))
	return samples, nil
}

// parseTrace reads a ';'-delimited numeric table, one timestep per line.
// Blank lines and lines starting with '#' are ignored, and a trailing ';' on
// a line does not add a column.
func parseTrace(r io.Reader) ([][]float64, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	var rows [][]float64
	width := -1
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(ErrMalformedTrace, err.Error())
		}
		if n := len(rec); n > 1 && strings.TrimSpace(rec[n-1]) == "" {
			rec = rec[:n-1]
		}
		if width == -1 {
			width = len(rec)
		}
		if len(rec) != width {
			return nil, errors.Wrapf(ErrMalformedTrace, "row %d has %d columns, expected %d", line, len(rec), width)
		}

		row := make([]float64, len(rec))
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, errors.Wrapf(ErrMalformedTrace, "row %d column %d: %v", line, j, err)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseMask reads whitespace-separated flags. Numbers are valid when
// non-zero; true/false words are accepted too.
func parseMask(raw []byte) ([]bool, error) {
	fields := strings.Fields(string(raw))
	mask := make([]bool, len(fields))
	for i, f := range fields {
		if b, err := strconv.ParseBool(f); err == nil {
			mask[i] = b
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedTrace, "mask entry %d: %q", i, f)
		}
		mask[i] = v != 0
	}
	return mask, nil
}

// SplitSamples shuffles samples with rng and holds out ceil(n·valFraction)
// of them for validation. valFraction 0 returns every sample for training.
func SplitSamples(samples []Sample, valFraction float64, rng *rand.Rand) (train, val []Sample, err error) {
	n := len(samples)
	if n == 0 {
		return nil, nil, ErrEmptyDataset
	}
	if valFraction < 0 || valFraction >= 1 {
		return nil, nil, errors.Wrapf(ErrInvalidConfig, "validation fraction must be in [0, 1), got %g", valFraction)
	}

	nVal := int(math.Ceil(float64(n) * valFraction))
	if nVal >= n {
		return nil, nil, errors.Wrapf(ErrEmptyDataset, "%d samples leave nothing to train on with validation fraction %g", n, valFraction)
	}

	order := rng.Perm(n)
	val = make([]Sample, 0, nVal)
	train = make([]Sample, 0, n-nVal)
	for i, idx := range order {
		if i < nVal {
			val = append(val, samples[idx])
		} else {
			train = append(train, samples[idx])
		}
	}
	return train, val, nil
}
