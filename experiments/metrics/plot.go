package metrics

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WriteCostPlot draws the cumulative information and total cost over the
// executed time steps of one run.
func (w *Writer) WriteCostPlot(records []EpochMetric) error {
	if len(records) == 0 {
		return nil
	}

	infoPts := make(plotter.XYs, 0, len(records)+1)
	totalPts := make(plotter.XYs, 0, len(records)+1)
	infoPts = append(infoPts, plotter.XY{})
	totalPts = append(totalPts, plotter.XY{})
	info := 0.0
	for _, r := range records {
		info += r.InfoCost
		infoPts = append(infoPts, plotter.XY{X: float64(r.TimeStep), Y: info})
		totalPts = append(totalPts, plotter.XY{X: float64(r.TimeStep), Y: r.TotalCost})
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Cost history (%d epochs)", len(records))
	p.X.Label.Text = "Time step"
	p.Y.Label.Text = "Cost"

	infoLine, err := plotter.NewLine(infoPts)
	if err != nil {
		return fmt.Errorf("failed to create information cost line: %w", err)
	}
	infoLine.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	infoLine.Width = vg.Points(1)

	totalLine, err := plotter.NewLine(totalPts)
	if err != nil {
		return fmt.Errorf("failed to create total cost line: %w", err)
	}
	totalLine.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	totalLine.Width = vg.Points(1)

	p.Add(plotter.NewGrid(), infoLine, totalLine)
	p.Legend.Add("information", infoLine)
	p.Legend.Add("total", totalLine)
	p.Legend.Top = true
	p.Legend.Left = true

	path := filepath.Join(w.baseDir, "cost.png")
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save cost plot: %w", err)
	}
	return nil
}
