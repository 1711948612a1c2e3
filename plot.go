package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Two diagnostic plots, both written as PNG:
//
//  1. Loss curves: per-epoch training (and validation) loss from the
//     trainer's history.
//  2. Embedding scatter: pooled embeddings projected to their first two
//     principal components, one colour per label.
//
// PCA:
// Center the (n, d) embedding matrix, take its singular vectors, and project
// onto the two with the largest singular values. gonum's stat.PC does the
// decomposition; the projection is one matrix product.
//
// ===========================================================================

const (
	plotWidth  = 6 * vg.Inch
	plotHeight = 4 * vg.Inch
	plotFormat = "png"
)

// ProjectPCA returns the (n, 2) projection of features (n, d) onto their
// first two principal components.
func ProjectPCA(features *Tensor) (*Tensor, error) {
	if len(features.shape) != 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "PCA expects 2D features, got %v", features.shape)
	}
	n, d := features.shape[0], features.shape[1]
	if n < 2 || d < 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "PCA needs at least 2 points in at least 2 dimensions, got %dx%d", n, d)
	}

	x := mat.NewDense(n, d, append([]float64(nil), features.data...))
	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, errors.New("PCA: decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	// Center before projecting so the scatter sits around the origin.
	for j := 0; j < d; j++ {
		col := mat.Col(nil, j, x)
		mean := stat.Mean(col, nil)
		for i := range col {
			x.Set(i, j, col[i]-mean)
		}
	}

	out := NewTensor(n, 2)
	proj := mat.NewDense(n, 2, out.data)
	proj.Mul(x, vecs.Slice(0, d, 0, 2))
	return out, nil
}

// SaveLossPlot draws per-epoch training and validation loss.
func SaveLossPlot(w io.Writer, history []EpochReport) error {
	if len(history) == 0 {
		return errors.Wrap(ErrEmptyDataset, "no epochs to plot")
	}

	p, err := plot.New()
	if err != nil {
		return errors.Wrap(err, "new plot")
	}
	p.Title.Text = "Cross-entropy loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"

	train := make(plotter.XYs, len(history))
	var val plotter.XYs
	for i, r := range history {
		train[i].X = float64(r.Epoch)
		train[i].Y = r.Train.Loss
		if r.Val != nil {
			val = append(val, plotter.XY{X: float64(r.Epoch), Y: r.Val.Loss})
		}
	}

	lines := []interface{}{"train", train}
	if len(val) > 0 {
		lines = append(lines, "validation", val)
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return errors.Wrap(err, "add loss lines")
	}
	return writePlot(w, p)
}

// SaveEmbeddingPlot draws a 2D scatter of points (n, 2) coloured by label.
func SaveEmbeddingPlot(w io.Writer, points *Tensor, labels []int) error {
	if len(points.shape) != 2 || points.shape[1] != 2 || points.shape[0] != len(labels) {
		return errors.Wrapf(ErrShapeMismatch, "scatter expects (%d, 2) points, got %v", len(labels), points.shape)
	}

	p, err := plot.New()
	if err != nil {
		return errors.Wrap(err, "new plot")
	}
	p.Title.Text = "Embeddings (PCA)"
	p.X.Label.Text = "PC1"
	p.Y.Label.Text = "PC2"

	groups := map[int]plotter.XYs{}
	var order []int
	for i, y := range labels {
		if _, ok := groups[y]; !ok {
			order = append(order, y)
		}
		groups[y] = append(groups[y], plotter.XY{X: points.At(i, 0), Y: points.At(i, 1)})
	}
	sort.Ints(order)

	for i, y := range order {
		s, err := plotter.NewScatter(groups[y])
		if err != nil {
			return errors.Wrapf(err, "scatter for label %d", y)
		}
		s.GlyphStyle.Color = plotutil.Color(i)
		s.GlyphStyle.Shape = plotutil.Shape(i)
		s.GlyphStyle.Radius = vg.Points(2)
		p.Add(s)
		p.Legend.Add(fmt.Sprintf("class %d", y), s)
	}
	return writePlot(w, p)
}

func writePlot(w io.Writer, p *plot.Plot) error {
	wt, err := p.WriterTo(plotWidth, plotHeight, plotFormat)
	if err != nil {
		return errors.Wrap(err, "render plot")
	}
	_, err = wt.WriteTo(w)
	return errors.Wrap(err, "write plot")
}
