package stitch

import (
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/volstitch/internal/volume"
)

// Accumulator holds, for every head, a running sum of trimmed predictions and
// a per-voxel visit count over the whole output volume. Heads never share
// state. An Accumulator is not safe for concurrent writers; see
// LockedAccumulator.
type Accumulator struct {
	channels int
	shape    volume.Triple
	sums     []*volume.Volume
	counts   [][]uint32 // spatial only, len = shape.Voxels()
}

// NewAccumulator allocates zeroed sum and count buffers for heads outputs of
// channels × shape each.
func NewAccumulator(channels int, shape volume.Triple, heads int) *Accumulator {
	a := &Accumulator{
		channels: channels,
		shape:    shape,
		sums:     make([]*volume.Volume, heads),
		counts:   make([][]uint32, heads),
	}
	for h := 0; h < heads; h++ {
		a.sums[h] = volume.New(channels, shape)
		a.counts[h] = make([]uint32, shape.Voxels())
	}
	return a
}

// Heads returns the number of heads.
func (a *Accumulator) Heads() int { return len(a.sums) }

// Channels returns the channel count of each head.
func (a *Accumulator) Channels() int { return a.channels }

// Shape returns the spatial shape of each head.
func (a *Accumulator) Shape() volume.Triple { return a.shape }

// Sum returns the raw (unnormalised) sum buffer of head. It aliases internal
// state.
func (a *Accumulator) Sum(head int) *volume.Volume { return a.sums[head] }

// Count returns the visit-count buffer of head, indexed (z*Y+y)*X+x. It
// aliases internal state.
func (a *Accumulator) Count(head int) []uint32 { return a.counts[head] }

// CountAt returns the visit count of head at (z, y, x).
func (a *Accumulator) CountAt(head, z, y, x int) uint32 {
	return a.counts[head][a.spatialIndex(z, y, x)]
}

// VisitRange returns the smallest and largest visit counts of head.
func (a *Accumulator) VisitRange(head int) (lo, hi uint32) {
	counts := a.counts[head]
	if len(counts) == 0 {
		return 0, 0
	}
	lo, hi = counts[0], counts[0]
	for _, n := range counts[1:] {
		if n < lo {
			lo = n
		}
		if n > hi {
			hi = n
		}
	}
	return lo, hi
}

// Add adds values into head's sum at target and increments the visit count
// of every spatial position in target by one. values must have target's
// channel count and spatial shape; target must lie inside the buffer.
func (a *Accumulator) Add(head int, target volume.Region, values *volume.Volume) {
	sum := a.sums[head]
	n := target.X.Len()
	for c := 0; c < target.C.Len(); c++ {
		for z := 0; z < target.Z.Len(); z++ {
			for y := 0; y < target.Y.Len(); y++ {
				floats.Add(
					sum.Row(target.C.Start+c, target.Z.Start+z, target.Y.Start+y, target.X.Start, n),
					values.Row(c, z, y, 0, n),
				)
			}
		}
	}
	counts := a.counts[head]
	for z := target.Z.Start; z < target.Z.Stop; z++ {
		for y := target.Y.Start; y < target.Y.Stop; y++ {
			row := counts[a.spatialIndex(z, y, target.X.Start) : a.spatialIndex(z, y, target.X.Start)+n]
			for i := range row {
				row[i]++
			}
		}
	}
}

// Finalize divides every head's sum by its visit count and crops pad voxels
// from both ends of each spatial axis. A position with zero visits is a
// *CoverageError; nothing is masked or defaulted. The accumulator itself is
// left unchanged.
func (a *Accumulator) Finalize(pad volume.Triple) ([]*volume.Volume, error) {
	out := make([]*volume.Volume, len(a.sums))
	voxels := a.shape.Voxels()
	denom := make([]float64, voxels)
	for h := range a.sums {
		if err := a.checkCoverage(h); err != nil {
			return nil, err
		}
		for i, n := range a.counts[h] {
			denom[i] = float64(n)
		}
		norm := a.sums[h].Clone()
		for c := 0; c < a.channels; c++ {
			floats.Div(norm.Data[c*voxels:(c+1)*voxels], denom)
		}
		cropped, err := norm.Crop(pad)
		if err != nil {
			return nil, &ConfigurationError{Field: "mirror_padding", Reason: err.Error()}
		}
		out[h] = cropped
	}
	return out, nil
}

func (a *Accumulator) checkCoverage(head int) error {
	var cerr *CoverageError
	for i, n := range a.counts[head] {
		if n != 0 {
			continue
		}
		if cerr == nil {
			cerr = &CoverageError{Head: head, First: a.spatialCoord(i)}
		}
		cerr.Uncovered++
	}
	if cerr != nil {
		return cerr
	}
	return nil
}

func (a *Accumulator) spatialIndex(z, y, x int) int {
	return (z*a.shape[volume.AxisY]+y)*a.shape[volume.AxisX] + x
}

func (a *Accumulator) spatialCoord(i int) volume.Triple {
	x := i % a.shape[volume.AxisX]
	i /= a.shape[volume.AxisX]
	y := i % a.shape[volume.AxisY]
	return volume.Triple{i / a.shape[volume.AxisY], y, x}
}

// LockedAccumulator serialises Add calls from concurrent writers. Add is not
// atomic across heads or overlapping regions without it.
type LockedAccumulator struct {
	mu  sync.Mutex
	acc *Accumulator
}

// NewLockedAccumulator wraps acc.
func NewLockedAccumulator(acc *Accumulator) *LockedAccumulator {
	return &LockedAccumulator{acc: acc}
}

// Add is Accumulator.Add under the lock.
func (l *LockedAccumulator) Add(head int, target volume.Region, values *volume.Volume) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acc.Add(head, target, values)
}

// Unwrap returns the underlying accumulator. Callers must stop writing first.
func (l *LockedAccumulator) Unwrap() *Accumulator {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acc
}
