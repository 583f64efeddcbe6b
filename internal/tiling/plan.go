package tiling

import (
	"fmt"

	"github.com/banshee-data/volstitch/internal/volume"
)

// Plan describes a regular tiling: a fixed patch shape moved by a fixed
// stride along each spatial axis.
type Plan struct {
	Patch  volume.Triple
	Stride volume.Triple
}

// Validate checks that patch and stride shapes are positive.
func (p Plan) Validate() error {
	if !p.Patch.AllPositive() {
		return fmt.Errorf("patch shape must be positive, got %s", p.Patch)
	}
	if !p.Stride.AllPositive() {
		return fmt.Errorf("stride shape must be positive, got %s", p.Stride)
	}
	return nil
}

// Overlap returns patch minus stride per axis. Negative values mean the plan
// leaves gaps between consecutive placements.
func (p Plan) Overlap() volume.Triple { return p.Patch.Sub(p.Stride) }

// Placements enumerates every patch placement over a volume with the given
// channel count and spatial shape. Placements always span all channels.
//
// Along each axis, starts run 0, stride, 2*stride, ... while the patch fits;
// if the last patch stops short of the far edge, one more placement flush
// with that edge is added. Order is Z-major, then Y, then X.
func (p Plan) Placements(channels int, shape volume.Triple) ([]volume.Region, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var starts [3][]int
	for axis := 0; axis < 3; axis++ {
		s, err := axisStarts(shape[axis], p.Patch[axis], p.Stride[axis])
		if err != nil {
			return nil, fmt.Errorf("axis %d: %w", axis, err)
		}
		starts[axis] = s
	}

	out := make([]volume.Region, 0, len(starts[0])*len(starts[1])*len(starts[2]))
	for _, z := range starts[volume.AxisZ] {
		for _, y := range starts[volume.AxisY] {
			for _, x := range starts[volume.AxisX] {
				out = append(out, volume.Region{
					C: volume.Range{Start: 0, Stop: channels},
					Z: volume.Range{Start: z, Stop: z + p.Patch[volume.AxisZ]},
					Y: volume.Range{Start: y, Stop: y + p.Patch[volume.AxisY]},
					X: volume.Range{Start: x, Stop: x + p.Patch[volume.AxisX]},
				})
			}
		}
	}
	return out, nil
}

func axisStarts(extent, patch, stride int) ([]int, error) {
	if patch > extent {
		return nil, fmt.Errorf("patch %d larger than volume extent %d", patch, extent)
	}
	var starts []int
	last := 0
	for s := 0; s+patch <= extent; s += stride {
		starts = append(starts, s)
		last = s
	}
	if last+patch < extent {
		starts = append(starts, extent-patch)
	}
	return starts, nil
}
