// Package plot renders a pair of data file columns as a PNG scatter plot
package plot

import (
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/nasa-jpl/cryosweep/datafile"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Size of rendered plots
const (
	Width  = 8 * vg.Inch
	Height = 5 * vg.Inch
)

// ErrNoPoints is returned when no row has both columns set
var ErrNoPoints = errors.New("no points to plot")

// XYs pairs the x and y columns of tbl, skipping rows where either is empty
func XYs(tbl *datafile.Table, x, y string) (plotter.XYs, error) {
	xs, err := tbl.Column(x)
	if err != nil {
		return nil, err
	}
	ys, err := tbl.Column(y)
	if err != nil {
		return nil, err
	}
	pts := make(plotter.XYs, 0, len(xs))
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		pts = append(pts, plotter.XY{X: xs[i], Y: ys[i]})
	}
	if len(pts) == 0 {
		return nil, errors.Wrapf(ErrNoPoints, "%s vs %s", y, x)
	}
	return pts, nil
}

// New builds a plot of column y against column x
func New(tbl *datafile.Table, x, y string) (*plot.Plot, error) {
	pts, err := XYs(tbl, x, y)
	if err != nil {
		return nil, err
	}
	p := plot.New()
	p.Title.Text = tbl.Title
	p.X.Label.Text = x
	p.Y.Label.Text = y

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	scatter.GlyphStyle.Radius = vg.Length(1.5)
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.LineStyle.Width = vg.Length(0.5)
	p.Add(line, scatter, plotter.NewGrid())
	return p, nil
}

// Render writes the plot of y against x as a PNG to w
func Render(w io.Writer, tbl *datafile.Table, x, y string) error {
	p, err := New(tbl, x, y)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(Width, Height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// File reads the data file at in and saves the plot of y against x to out.
// The image format follows the extension of out.
func File(in, x, y, out string) error {
	tbl, err := datafile.ReadFile(in)
	if err != nil {
		return err
	}
	p, err := New(tbl, x, y)
	if err != nil {
		return err
	}
	if filepath.Ext(out) == "" {
		out += ".png"
	}
	return errors.Wrapf(p.Save(Width, Height, out), "saving %s", strings.TrimSpace(out))
}
