// Package infer defines the inference boundary used by the stitching engine
// and a few built-in adapters.
//
// An Adapter maps a batch of fixed-shape patches to one or more heads of
// predictions. Predictions keep the patch's spatial shape and the batch's
// sample order. Any rank adaptation (for example running a 2D model on
// depth-1 patches) happens inside the adapter; callers learn about it only
// through the SpatialRanker capability.
package infer

import (
	"context"
	"fmt"

	"github.com/banshee-data/volstitch/internal/volume"
)

// Adapter runs a transform over a batch of patches.
type Adapter interface {
	// Predict returns predictions indexed [head][sample].
	Predict(ctx context.Context, batch []*volume.Volume) ([][]*volume.Volume, error)
	// Heads is the number of outputs Predict produces per sample.
	Heads() int
	// OutChannels is the channel count of every prediction.
	OutChannels() int
}

// SpatialRanker is implemented by adapters whose underlying model works on
// fewer than three spatial dimensions.
type SpatialRanker interface {
	SpatialRank() int
}

// RankOf returns the spatial rank an adapter expects; 3 unless it implements
// SpatialRanker.
func RankOf(a Adapter) int {
	if r, ok := a.(SpatialRanker); ok {
		return r.SpatialRank()
	}
	return 3
}

// Identity returns every patch unchanged as a single head.
type Identity struct {
	Channels int
}

func (a Identity) Heads() int       { return 1 }
func (a Identity) OutChannels() int { return a.Channels }

func (a Identity) Predict(ctx context.Context, batch []*volume.Volume) ([][]*volume.Volume, error) {
	out := make([]*volume.Volume, len(batch))
	for i, p := range batch {
		if p.Channels != a.Channels {
			return nil, fmt.Errorf("identity: patch %d has %d channels, want %d", i, p.Channels, a.Channels)
		}
		out[i] = p.Clone()
	}
	return [][]*volume.Volume{out}, nil
}

// Func adapts a per-sample function returning one volume per head.
type Func struct {
	NumHeads int
	Channels int
	Fn       func(patch *volume.Volume) ([]*volume.Volume, error)
}

func (a Func) Heads() int       { return a.NumHeads }
func (a Func) OutChannels() int { return a.Channels }

func (a Func) Predict(ctx context.Context, batch []*volume.Volume) ([][]*volume.Volume, error) {
	out := make([][]*volume.Volume, a.NumHeads)
	for h := range out {
		out[h] = make([]*volume.Volume, len(batch))
	}
	for i, p := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		heads, err := a.Fn(p)
		if err != nil {
			return nil, err
		}
		if len(heads) != a.NumHeads {
			return nil, fmt.Errorf("func adapter: sample %d produced %d heads, want %d", i, len(heads), a.NumHeads)
		}
		for h, v := range heads {
			out[h][i] = v
		}
	}
	return out, nil
}

// Multi stacks several adapters into one, concatenating their heads in order.
type Multi struct {
	adapters []Adapter
	heads    int
	channels int
}

// NewMulti combines adapters that share an output channel count.
func NewMulti(adapters ...Adapter) (*Multi, error) {
	if len(adapters) == 0 {
		return nil, fmt.Errorf("multi: no adapters")
	}
	m := &Multi{adapters: adapters, channels: adapters[0].OutChannels()}
	for i, a := range adapters {
		if a.OutChannels() != m.channels {
			return nil, fmt.Errorf("multi: adapter %d has %d output channels, want %d", i, a.OutChannels(), m.channels)
		}
		if RankOf(a) != RankOf(adapters[0]) {
			return nil, fmt.Errorf("multi: adapter %d has spatial rank %d, want %d", i, RankOf(a), RankOf(adapters[0]))
		}
		m.heads += a.Heads()
	}
	return m, nil
}

func (m *Multi) Heads() int       { return m.heads }
func (m *Multi) OutChannels() int { return m.channels }

// SpatialRank reports the shared rank of the stacked adapters.
func (m *Multi) SpatialRank() int { return RankOf(m.adapters[0]) }

func (m *Multi) Predict(ctx context.Context, batch []*volume.Volume) ([][]*volume.Volume, error) {
	out := make([][]*volume.Volume, 0, m.heads)
	for _, a := range m.adapters {
		heads, err := a.Predict(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, heads...)
	}
	return out, nil
}
