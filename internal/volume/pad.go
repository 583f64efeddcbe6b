package volume

import "fmt"

// MirrorPad pads every spatial axis of v by pad[axis] voxels on each side
// using reflection about the edge voxel (the edge itself is not repeated).
// The channel axis is never padded. Each pad must be smaller than its axis.
func MirrorPad(v *Volume, pad Triple) (*Volume, error) {
	if pad.AnyNegative() {
		return nil, fmt.Errorf("negative mirror padding %s", pad)
	}
	for axis := 0; axis < 3; axis++ {
		if pad[axis] > 0 && pad[axis] >= v.Shape[axis] {
			return nil, fmt.Errorf("mirror padding %s too large for axis %d (extent %d)", pad, axis, v.Shape[axis])
		}
	}
	shape := Triple{
		v.Shape[AxisZ] + 2*pad[AxisZ],
		v.Shape[AxisY] + 2*pad[AxisY],
		v.Shape[AxisX] + 2*pad[AxisX],
	}
	out := New(v.Channels, shape)
	for c := 0; c < v.Channels; c++ {
		for z := 0; z < shape[AxisZ]; z++ {
			sz := reflect(z-pad[AxisZ], v.Shape[AxisZ])
			for y := 0; y < shape[AxisY]; y++ {
				sy := reflect(y-pad[AxisY], v.Shape[AxisY])
				row := out.Row(c, z, y, 0, shape[AxisX])
				for x := range row {
					row[x] = v.At(c, sz, sy, reflect(x-pad[AxisX], v.Shape[AxisX]))
				}
			}
		}
	}
	return out, nil
}

// reflect maps i into [0, n) by mirroring at both edges. Callers guarantee
// |overhang| < n.
func reflect(i, n int) int {
	if i < 0 {
		return -i
	}
	if i >= n {
		return 2*(n-1) - i
	}
	return i
}
