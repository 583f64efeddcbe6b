package report

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/volstitch/internal/fsutil"
)

const paletteSize = 64

// HeatMapPlot builds a heat map plot of s with a colour bar.
func HeatMapPlot(s *Slice, title string) *plot.Plot {
	pal := palette.Heat(paletteSize, 1)
	hm := plotter.NewHeatMap(s, pal)
	lo, hi := s.Range()
	if lo == hi {
		hi = lo + 1
	}
	hm.Min, hm.Max = lo, hi

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s [%.3g, %.3g]", title, lo, hi)
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"
	p.Add(hm)
	return p
}

// WritePNG renders s as a heat map PNG at path.
func WritePNG(fsys fsutil.FileSystem, path string, s *Slice, title string) error {
	p := HeatMapPlot(s, title)
	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("report: render %s: %w", path, err)
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		fsutil.Discard(f)
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return f.Close()
}
