package sim

import (
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// NewMapPlot creates new top down plot of a simulation from three data sources
// whose rows hold [x y z] positions:
// truth:     true robot trajectory
// estimate:  estimated robot trajectory
// landmarks: estimated landmark positions
// The plot shows the x-z plane which is the ground plane of a forward looking camera.
// It returns error if the plot fails to be created. This can be due to either of the following conditions:
// * either of the supplied data matrices is nil
// * either of the supplied data matrices does not have 3 columns
// * gonum plot fails to be created
func NewMapPlot(truth, estimate, landmarks *mat.Dense) (*plot.Plot, error) {
	if truth == nil || estimate == nil || landmarks == nil {
		return nil, fmt.Errorf("invalid data supplied")
	}

	for _, m := range []*mat.Dense{truth, estimate, landmarks} {
		if _, c := m.Dims(); c != 3 {
			return nil, fmt.Errorf("invalid data dimensions: %d columns", c)
		}
	}

	p := plot.New()

	p.Title.Text = "SLAM"
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Z"

	legend := plot.NewLegend()
	legend.Top = true
	p.Legend = legend

	// true trajectory
	truthLine, err := plotter.NewLine(makePoints(truth))
	if err != nil {
		return nil, fmt.Errorf("failed to create line: %v", err)
	}
	truthLine.LineStyle.Color = color.RGBA{R: 255, B: 128, A: 255}
	truthLine.LineStyle.Width = vg.Points(1)

	p.Add(truthLine)
	p.Legend.Add("truth", truthLine)

	// estimated trajectory
	estScatter, err := plotter.NewScatter(makePoints(estimate))
	if err != nil {
		return nil, fmt.Errorf("failed to create scatter: %v", err)
	}
	estScatter.GlyphStyle.Color = color.RGBA{R: 169, G: 169, B: 169, A: 255}
	estScatter.Shape = draw.CrossGlyph{}
	estScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(estScatter)
	p.Legend.Add("estimate", estScatter)

	// landmarks
	lmScatter, err := plotter.NewScatter(makePoints(landmarks))
	if err != nil {
		return nil, fmt.Errorf("failed to create scatter: %v", err)
	}
	lmScatter.GlyphStyle.Color = color.RGBA{G: 255, A: 128}
	lmScatter.Shape = draw.PyramidGlyph{}
	lmScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(lmScatter)
	p.Legend.Add("landmarks", lmScatter)

	return p, nil
}

func makePoints(m *mat.Dense) plotter.XYs {
	r, _ := m.Dims()
	pts := make(plotter.XYs, r)
	for i := 0; i < r; i++ {
		pts[i].X = m.At(i, 0)
		pts[i].Y = m.At(i, 2)
	}

	return pts
}
