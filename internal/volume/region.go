package volume

import "fmt"

// Axis indices into a Triple.
const (
	AxisZ = 0
	AxisY = 1
	AxisX = 2
)

// Triple holds one integer per spatial axis in Z, Y, X order.
// It is used for spatial shapes, patch and stride shapes, halos and padding.
type Triple [3]int

// Voxels returns the number of spatial positions a shape of t covers.
func (t Triple) Voxels() int { return t[0] * t[1] * t[2] }

// Sub returns t - o elementwise.
func (t Triple) Sub(o Triple) Triple {
	return Triple{t[0] - o[0], t[1] - o[1], t[2] - o[2]}
}

// AnyNegative reports whether any component is below zero.
func (t Triple) AnyNegative() bool { return t[0] < 0 || t[1] < 0 || t[2] < 0 }

// AllPositive reports whether every component is above zero.
func (t Triple) AllPositive() bool { return t[0] > 0 && t[1] > 0 && t[2] > 0 }

func (t Triple) String() string { return fmt.Sprintf("(%d,%d,%d)", t[0], t[1], t[2]) }

// Range is a half-open interval [Start, Stop) along one axis.
type Range struct {
	Start int
	Stop  int
}

// Len returns the number of positions covered by r.
func (r Range) Len() int { return r.Stop - r.Start }

func (r Range) String() string { return fmt.Sprintf("%d:%d", r.Start, r.Stop) }

// Region is a channel range plus one range per spatial axis. A Region is the
// placement of a patch inside a volume as well as the target of a trimmed
// contribution inside an output buffer.
type Region struct {
	C Range
	Z Range
	Y Range
	X Range
}

// Axis returns the spatial range for axis (AxisZ, AxisY or AxisX).
func (r Region) Axis(axis int) Range {
	switch axis {
	case AxisZ:
		return r.Z
	case AxisY:
		return r.Y
	default:
		return r.X
	}
}

// WithAxis returns a copy of r with the spatial range for axis replaced.
func (r Region) WithAxis(axis int, rg Range) Region {
	switch axis {
	case AxisZ:
		r.Z = rg
	case AxisY:
		r.Y = rg
	default:
		r.X = rg
	}
	return r
}

// Shape returns the spatial extent of r.
func (r Region) Shape() Triple { return Triple{r.Z.Len(), r.Y.Len(), r.X.Len()} }

// Within reports whether the spatial part of r lies inside a volume of shape.
func (r Region) Within(shape Triple) bool {
	for axis := 0; axis < 3; axis++ {
		rg := r.Axis(axis)
		if rg.Start < 0 || rg.Stop > shape[axis] || rg.Start > rg.Stop {
			return false
		}
	}
	return true
}

func (r Region) String() string {
	return fmt.Sprintf("[%s, %s, %s, %s]", r.C, r.Z, r.Y, r.X)
}

// Full returns the region covering every channel and voxel of a volume with
// the given channel count and spatial shape.
func Full(channels int, shape Triple) Region {
	return Region{
		C: Range{0, channels},
		Z: Range{0, shape[AxisZ]},
		Y: Range{0, shape[AxisY]},
		X: Range{0, shape[AxisX]},
	}
}
