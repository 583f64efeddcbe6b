package infer

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/volstitch/internal/volume"
)

// Gaussian smooths every channel of a patch with a separable Gaussian kernel.
// A zero sigma leaves that axis unsmoothed. Samples near the patch border
// reuse the edge voxel, which is exactly the kind of seam a halo hides.
type Gaussian struct {
	Sigma    [3]float64 // Z, Y, X
	Channels int
}

func (g Gaussian) Heads() int       { return 1 }
func (g Gaussian) OutChannels() int { return g.Channels }

func (g Gaussian) Predict(ctx context.Context, batch []*volume.Volume) ([][]*volume.Volume, error) {
	for axis, s := range g.Sigma {
		if s < 0 || math.IsNaN(s) {
			return nil, fmt.Errorf("gaussian: invalid sigma %v on axis %d", s, axis)
		}
	}
	out := make([]*volume.Volume, len(batch))
	for i, p := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.Channels != g.Channels {
			return nil, fmt.Errorf("gaussian: patch %d has %d channels, want %d", i, p.Channels, g.Channels)
		}
		out[i] = Smooth(p, g.Sigma)
	}
	return [][]*volume.Volume{out}, nil
}

// Smooth returns a Gaussian-smoothed copy of v.
func Smooth(v *volume.Volume, sigma [3]float64) *volume.Volume {
	cur := v.Clone()
	for axis := 0; axis < 3; axis++ {
		if sigma[axis] == 0 || v.Shape[axis] == 1 {
			continue
		}
		cur = convolveAxis(cur, axis, kernel(sigma[axis]))
	}
	return cur
}

// kernel returns a normalised 1D Gaussian with radius ceil(3*sigma).
func kernel(sigma float64) []float64 {
	r := int(math.Ceil(3 * sigma))
	k := make([]float64, 2*r+1)
	for i := range k {
		d := float64(i - r)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(k), k)
	return k
}

func convolveAxis(v *volume.Volume, axis int, k []float64) *volume.Volume {
	out := volume.New(v.Channels, v.Shape)
	r := len(k) / 2
	n := v.Shape[axis]
	var idx [3]int
	for c := 0; c < v.Channels; c++ {
		for idx[0] = 0; idx[0] < v.Shape[0]; idx[0]++ {
			for idx[1] = 0; idx[1] < v.Shape[1]; idx[1]++ {
				for idx[2] = 0; idx[2] < v.Shape[2]; idx[2]++ {
					src := idx
					var acc float64
					for j, w := range k {
						p := idx[axis] + j - r
						if p < 0 {
							p = 0
						} else if p >= n {
							p = n - 1
						}
						src[axis] = p
						acc += w * v.At(c, src[0], src[1], src[2])
					}
					out.Set(c, idx[0], idx[1], idx[2], acc)
				}
			}
		}
	}
	return out
}
