// Package report renders diagnostic images of a stitching run: PNG heat maps
// of visit counts and predictions, and an HTML page of prediction slices.
package report

import (
	"fmt"
	"path/filepath"

	"github.com/banshee-data/volstitch/internal/fsutil"
	"github.com/banshee-data/volstitch/internal/stitch"
	"github.com/banshee-data/volstitch/internal/volume"
)

// Slice is one Z plane of a scalar field, indexed [y*Width+x]. It implements
// plotter.GridXYZ with columns along X and rows along Y.
type Slice struct {
	Z      int
	Width  int
	Height int
	Values []float64
}

// Dims returns the number of columns and rows.
func (s *Slice) Dims() (c, r int) { return s.Width, s.Height }

// Z returns the value at column c, row r.
func (s *Slice) Z(c, r int) float64 { return s.Values[r*s.Width+c] }

// X returns the coordinate of column c.
func (s *Slice) X(c int) float64 { return float64(c) }

// Y returns the coordinate of row r.
func (s *Slice) Y(r int) float64 { return float64(r) }

// Range returns the smallest and largest value.
func (s *Slice) Range() (lo, hi float64) {
	lo, hi = s.Values[0], s.Values[0]
	for _, v := range s.Values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

// CountSlice extracts plane z of head's visit counts.
func CountSlice(acc *stitch.Accumulator, head, z int) (*Slice, error) {
	shape := acc.Shape()
	if head < 0 || head >= acc.Heads() {
		return nil, fmt.Errorf("report: head %d out of range [0, %d)", head, acc.Heads())
	}
	if z < 0 || z >= shape[volume.AxisZ] {
		return nil, fmt.Errorf("report: slice %d outside depth %d", z, shape[volume.AxisZ])
	}
	w, h := shape[volume.AxisX], shape[volume.AxisY]
	counts := acc.Count(head)[z*w*h : (z+1)*w*h]
	s := &Slice{Z: z, Width: w, Height: h, Values: make([]float64, len(counts))}
	for i, n := range counts {
		s.Values[i] = float64(n)
	}
	return s, nil
}

// VolumeSlice extracts plane z of channel c of v.
func VolumeSlice(v *volume.Volume, c, z int) (*Slice, error) {
	if c < 0 || c >= v.Channels {
		return nil, fmt.Errorf("report: channel %d out of range [0, %d)", c, v.Channels)
	}
	if z < 0 || z >= v.Shape[volume.AxisZ] {
		return nil, fmt.Errorf("report: slice %d outside depth %d", z, v.Shape[volume.AxisZ])
	}
	w, h := v.Shape[volume.AxisX], v.Shape[volume.AxisY]
	vals := make([]float64, w*h)
	copy(vals, v.Row(c, z, 0, 0, w*h))
	return &Slice{Z: z, Width: w, Height: h, Values: vals}, nil
}

// Generate writes the standard report for a result into dir: per head, a
// visit-count PNG and a prediction PNG of the middle Z plane, plus one HTML
// page with the prediction planes of all heads. Incomplete results only get
// the count images. It returns the paths written.
func Generate(fsys fsutil.FileSystem, dir string, res *stitch.Result) ([]string, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	acc := res.Buffer
	var written []string

	for h := 0; h < acc.Heads(); h++ {
		z := acc.Shape()[volume.AxisZ] / 2
		counts, err := CountSlice(acc, h, z)
		if err != nil {
			return written, err
		}
		path := filepath.Join(dir, fmt.Sprintf("head%02d_visits_z%03d.png", h, z))
		if err := WritePNG(fsys, path, counts, fmt.Sprintf("Head %d visit counts (z=%d)", h, z)); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	if !res.Complete {
		return written, nil
	}

	var planes []*Slice
	var titles []string
	for h, v := range res.Heads {
		z := v.Shape[volume.AxisZ] / 2
		s, err := VolumeSlice(v, 0, z)
		if err != nil {
			return written, err
		}
		title := fmt.Sprintf("Head %d prediction (z=%d)", h, z)
		path := filepath.Join(dir, fmt.Sprintf("head%02d_pred_z%03d.png", h, z))
		if err := WritePNG(fsys, path, s, title); err != nil {
			return written, err
		}
		written = append(written, path)
		planes = append(planes, s)
		titles = append(titles, title)
	}

	path := filepath.Join(dir, "predictions.html")
	if err := WriteHTML(fsys, path, planes, titles); err != nil {
		return written, err
	}
	return append(written, path), nil
}
