package main

import (
	"encoding/csv"
	"io"
	"path/filepath"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// labelRow is one row of the labels table. The header is the single column
// index "0".
type labelRow struct {
	Label int `csv:"0"`
}

// predictionRow is one row of the predictions table.
type predictionRow struct {
	Path      string `csv:"path"`
	Label     int    `csv:"label"`
	Predicted int    `csv:"predicted"`
}

// WriteFeatures writes one row per embedding with the column indices
// 0..D-1 as header and no index column.
func WriteFeatures(w io.Writer, features *Tensor) error {
	if len(features.shape) != 2 {
		return errors.Wrapf(ErrShapeMismatch, "features must be 2D, got %v", features.shape)
	}
	rows, cols := features.shape[0], features.shape[1]

	cw := gocsv.NewSafeCSVWriter(csv.NewWriter(w))
	record := make([]string, cols)
	for j := range record {
		record[j] = strconv.Itoa(j)
	}
	if err := cw.Write(record); err != nil {
		return errors.Wrap(err, "write features header")
	}
	for i := 0; i < rows; i++ {
		for j, v := range features.Row(i) {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrapf(err, "write features row %d", i)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush features")
}

// WriteLabels writes one label per row under the header "0".
func WriteLabels(w io.Writer, labels []int) error {
	rows := make([]labelRow, len(labels))
	for i, y := range labels {
		rows[i] = labelRow{Label: y}
	}
	return errors.Wrap(gocsv.Marshal(&rows, w), "write labels")
}

// ReadLabels parses a table written by WriteLabels.
func ReadLabels(r io.Reader) ([]int, error) {
	var rows []labelRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(err, "read labels")
	}
	labels := make([]int, len(rows))
	for i, row := range rows {
		labels[i] = row.Label
	}
	return labels, nil
}

// WritePredictions writes path, true label and predicted class per example.
func WritePredictions(w io.Writer, paths []string, labels, preds []int) error {
	if len(paths) != len(labels) || len(labels) != len(preds) {
		return errors.Wrapf(ErrShapeMismatch, "%d paths, %d labels, %d predictions", len(paths), len(labels), len(preds))
	}
	rows := make([]predictionRow, len(paths))
	for i := range rows {
		rows[i] = predictionRow{Path: paths[i], Label: labels[i], Predicted: preds[i]}
	}
	return errors.Wrap(gocsv.Marshal(&rows, w), "write predictions")
}

// writeFile creates path (and its parent directory) on fs and hands the file
// to write.
func writeFile(fs afero.Fs, path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	f, err := fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := write(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
