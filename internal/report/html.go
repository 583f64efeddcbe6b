package report

import (
	"fmt"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/volstitch/internal/fsutil"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// HeatMapChart builds an interactive heat map of s.
func HeatMapChart(s *Slice, title string) *charts.HeatMap {
	xs := make([]string, s.Width)
	for x := range xs {
		xs[x] = strconv.Itoa(x)
	}
	ys := make([]string, s.Height)
	for y := range ys {
		ys[y] = strconv.Itoa(y)
	}
	data := make([]opts.HeatMapData, 0, len(s.Values))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			data = append(data, opts.HeatMapData{Value: [3]interface{}{x, y, s.Z(x, y)}})
		}
	}
	lo, hi := s.Range()

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Stitched predictions", Width: "800px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%dx%d range=[%.3g, %.3g]", s.Width, s.Height, lo, hi)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "X", SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "Y", Data: ys, SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.SetXAxis(xs).AddSeries("value", data)
	return hm
}

// WriteHTML renders one heat map per slice onto a single page at path.
func WriteHTML(fsys fsutil.FileSystem, path string, slices []*Slice, titles []string) error {
	if len(slices) != len(titles) {
		return fmt.Errorf("report: %d slices but %d titles", len(slices), len(titles))
	}
	page := components.NewPage()
	page.PageTitle = "Stitched predictions"
	for i, s := range slices {
		page.AddCharts(HeatMapChart(s, titles[i]))
	}

	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := page.Render(f); err != nil {
		fsutil.Discard(f)
		return fmt.Errorf("report: render %s: %w", path, err)
	}
	return f.Close()
}
