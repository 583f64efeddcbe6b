package volume

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Volume is a dense channels × Z × Y × X array of float64 values.
type Volume struct {
	Channels int
	Shape    Triple
	Data     []float64 // len = Channels * Shape.Voxels()
}

// New allocates a zero-filled volume.
func New(channels int, shape Triple) *Volume {
	return &Volume{
		Channels: channels,
		Shape:    shape,
		Data:     make([]float64, channels*shape.Voxels()),
	}
}

// FromData wraps data without copying. The length must match the shape.
func FromData(channels int, shape Triple, data []float64) (*Volume, error) {
	if channels <= 0 || !shape.AllPositive() {
		return nil, fmt.Errorf("invalid volume shape %d×%s", channels, shape)
	}
	if want := channels * shape.Voxels(); len(data) != want {
		return nil, fmt.Errorf("data length %d does not match shape %d×%s (want %d)", len(data), channels, shape, want)
	}
	return &Volume{Channels: channels, Shape: shape, Data: data}, nil
}

// Index returns the offset of (c, z, y, x) in Data.
func (v *Volume) Index(c, z, y, x int) int {
	return ((c*v.Shape[AxisZ]+z)*v.Shape[AxisY]+y)*v.Shape[AxisX] + x
}

// At returns the value at (c, z, y, x).
func (v *Volume) At(c, z, y, x int) float64 { return v.Data[v.Index(c, z, y, x)] }

// Set stores val at (c, z, y, x).
func (v *Volume) Set(c, z, y, x int, val float64) { v.Data[v.Index(c, z, y, x)] = val }

// Row returns the n contiguous values starting at (c, z, y, x). The slice
// aliases Data.
func (v *Volume) Row(c, z, y, x, n int) []float64 {
	off := v.Index(c, z, y, x)
	return v.Data[off : off+n]
}

// Bounds returns the region covering the whole volume.
func (v *Volume) Bounds() Region { return Full(v.Channels, v.Shape) }

// Clone returns a deep copy of v.
func (v *Volume) Clone() *Volume {
	out := &Volume{Channels: v.Channels, Shape: v.Shape, Data: make([]float64, len(v.Data))}
	copy(out.Data, v.Data)
	return out
}

// Extract copies the sub-array at r into a new volume. r must lie inside v.
func (v *Volume) Extract(r Region) *Volume {
	out := New(r.C.Len(), r.Shape())
	n := r.X.Len()
	for c := 0; c < r.C.Len(); c++ {
		for z := 0; z < r.Z.Len(); z++ {
			for y := 0; y < r.Y.Len(); y++ {
				copy(out.Row(c, z, y, 0, n), v.Row(r.C.Start+c, r.Z.Start+z, r.Y.Start+y, r.X.Start, n))
			}
		}
	}
	return out
}

// Channel copies channel c into a single-channel volume.
func (v *Volume) Channel(c int) *Volume {
	r := v.Bounds()
	r.C = Range{c, c + 1}
	return v.Extract(r)
}

// Crop removes pad[axis] voxels from both ends of every spatial axis.
// A zero pad leaves that axis untouched.
func (v *Volume) Crop(pad Triple) (*Volume, error) {
	if pad.AnyNegative() {
		return nil, fmt.Errorf("negative crop %s", pad)
	}
	r := v.Bounds()
	for axis := 0; axis < 3; axis++ {
		if pad[axis] == 0 {
			continue
		}
		if 2*pad[axis] >= v.Shape[axis] {
			return nil, fmt.Errorf("crop %s removes all of axis %d (extent %d)", pad, axis, v.Shape[axis])
		}
		r = r.WithAxis(axis, Range{pad[axis], v.Shape[axis] - pad[axis]})
	}
	return v.Extract(r), nil
}

// SameShape reports whether a and b have identical channel count and shape.
func SameShape(a, b *Volume) bool {
	return a.Channels == b.Channels && a.Shape == b.Shape
}

// Equal reports whether a and b have the same shape and identical values.
func Equal(a, b *Volume) bool {
	return SameShape(a, b) && floats.Equal(a.Data, b.Data)
}

// EqualApprox reports whether a and b have the same shape and values within tol.
func EqualApprox(a, b *Volume, tol float64) bool {
	return SameShape(a, b) && floats.EqualApprox(a.Data, b.Data, tol)
}
