package stats

import (
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotSink redraws SVG plots of the loss and kappa history after every epoch.
// Files are written to Dir as <Name>_loss.svg and <Name>_kappa.svg.
type PlotSink struct {
	Dir, Name     string
	Width, Height vg.Length
	history       []EpochRecord
}

// NewPlotSink returns a sink with the default plot size.
func NewPlotSink(dir, name string) *PlotSink {
	return &PlotSink{Dir: dir, Name: name, Width: 8 * vg.Inch, Height: 5 * vg.Inch}
}

// Files returns the paths of the loss and kappa plots.
func (s *PlotSink) Files() (loss, kappa string) {
	return filepath.Join(s.Dir, s.Name+"_loss.svg"), filepath.Join(s.Dir, s.Name+"_kappa.svg")
}

func (s *PlotSink) Record(r EpochRecord) error {
	s.history = append(s.history, r)
	lossFile, kappaFile := s.Files()
	p := newPlot("loss")
	for i, l := range []struct {
		name string
		get  func(EpochRecord) float64
	}{
		{"training loss", func(r EpochRecord) float64 { return r.TrainLoss }},
		{"validation loss", func(r EpochRecord) float64 { return r.ValidLoss }},
	} {
		line := newLinePlot(s.history, l.get, i)
		p.Add(line)
		p.Legend.Add(l.name, line)
	}
	if err := s.writePlot(p, lossFile); err != nil {
		return err
	}
	p = newPlot("kappa")
	line := newLinePlot(s.history, func(r EpochRecord) float64 { return r.Score }, 2)
	p.Add(line)
	p.Legend.Add("validation kappa", line)
	return s.writePlot(p, kappaFile)
}

func (s *PlotSink) Close() error { return nil }

func newPlot(ylabel string) *plot.Plot {
	p := plot.New()
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = ylabel
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Tick.Label.Font.Size = 10
	p.Y.Tick.Label.Font.Size = 10
	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = 12
	p.Add(plotter.NewGrid())
	return p
}

// write to a temp file and rename so a reader never sees a partial plot
func (s *PlotSink) writePlot(p *plot.Plot, path string) error {
	writer, err := p.WriterTo(s.Width, s.Height, "svg")
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path))
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err = writer.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func newLinePlot(history []EpochRecord, get func(EpochRecord) float64, ix int) linePlot {
	var pts plotter.XYs
	xmax, ymin, ymax := 1.0, 0.0, 0.0
	for _, r := range history {
		x, y := float64(r.Epoch), get(r)
		if math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: x, Y: y})
		xmax = math.Max(xmax, x)
		ymin = math.Min(ymin, y)
		ymax = math.Max(ymax, y)
	}
	l, _ := plotter.NewLine(pts)
	l.Width = 2
	l.Color = plotutil.Color(ix)
	return linePlot{Line: l, xmin: 1, xmax: xmax, ymin: ymin, ymax: ymax}
}

// modified plotter.Line with a fixed scale
type linePlot struct {
	*plotter.Line
	xmin, xmax, ymin, ymax float64
}

func (l linePlot) DataRange() (xmin, xmax, ymin, ymax float64) {
	return l.xmin, l.xmax, l.ymin, l.ymax
}
