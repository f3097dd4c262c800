package partition

import (
	"bytes"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// RenderElbow draws inertia against k as a PNG.
func RenderElbow(e Elbow) ([]byte, error) {
	pts := make(plotter.XYs, len(e.K))
	for i := range e.K {
		pts[i].X = float64(e.K[i])
		pts[i].Y = e.Inertia[i]
	}

	p := plot.New()
	p.Title.Text = "Elbow Method"
	p.X.Label.Text = "Number of clusters"
	p.Y.Label.Text = "WCSS"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("elbow line: %w", err)
	}
	marks, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, fmt.Errorf("elbow points: %w", err)
	}
	p.Add(line, marks, plotter.NewGrid())

	c := vgimg.New(6*vg.Inch, 4*vg.Inch)
	p.Draw(draw.New(c))

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode elbow plot: %w", err)
	}
	return buf.Bytes(), nil
}
