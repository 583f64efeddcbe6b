package infer

import (
	"context"
	"fmt"

	"github.com/banshee-data/volstitch/internal/volume"
)

// Plane is a channels × height × width image.
type Plane struct {
	Channels int
	Height   int
	Width    int
	Data     []float64
}

// PlaneModel is a model that natively works on 2D images.
type PlaneModel interface {
	PredictPlanes(ctx context.Context, batch []*Plane) ([][]*Plane, error)
	Heads() int
	OutChannels() int
}

// Planar runs a PlaneModel over depth-1 patches by collapsing the singleton Z
// axis on the way in and restoring it on the way out.
type Planar struct {
	Model PlaneModel
}

func (p Planar) Heads() int       { return p.Model.Heads() }
func (p Planar) OutChannels() int { return p.Model.OutChannels() }

// SpatialRank reports that the wrapped model is two-dimensional.
func (p Planar) SpatialRank() int { return 2 }

func (p Planar) Predict(ctx context.Context, batch []*volume.Volume) ([][]*volume.Volume, error) {
	planes := make([]*Plane, len(batch))
	for i, v := range batch {
		pl, err := squeeze(v)
		if err != nil {
			return nil, fmt.Errorf("planar: sample %d: %w", i, err)
		}
		planes[i] = pl
	}
	preds, err := p.Model.PredictPlanes(ctx, planes)
	if err != nil {
		return nil, err
	}
	out := make([][]*volume.Volume, len(preds))
	for h, head := range preds {
		out[h] = make([]*volume.Volume, len(head))
		for i, pl := range head {
			v, err := unsqueeze(pl)
			if err != nil {
				return nil, fmt.Errorf("planar: head %d sample %d: %w", h, i, err)
			}
			out[h][i] = v
		}
	}
	return out, nil
}

func squeeze(v *volume.Volume) (*Plane, error) {
	if v.Shape[volume.AxisZ] != 1 {
		return nil, fmt.Errorf("patch depth %d, want 1", v.Shape[volume.AxisZ])
	}
	return &Plane{
		Channels: v.Channels,
		Height:   v.Shape[volume.AxisY],
		Width:    v.Shape[volume.AxisX],
		Data:     v.Data,
	}, nil
}

func unsqueeze(p *Plane) (*volume.Volume, error) {
	return volume.FromData(p.Channels, volume.Triple{1, p.Height, p.Width}, p.Data)
}

// PlaneFunc adapts a per-image function returning one plane per head.
type PlaneFunc struct {
	NumHeads int
	Channels int
	Fn       func(*Plane) ([]*Plane, error)
}

func (f PlaneFunc) Heads() int       { return f.NumHeads }
func (f PlaneFunc) OutChannels() int { return f.Channels }

func (f PlaneFunc) PredictPlanes(ctx context.Context, batch []*Plane) ([][]*Plane, error) {
	out := make([][]*Plane, f.NumHeads)
	for h := range out {
		out[h] = make([]*Plane, len(batch))
	}
	for i, p := range batch {
		heads, err := f.Fn(p)
		if err != nil {
			return nil, err
		}
		if len(heads) != f.NumHeads {
			return nil, fmt.Errorf("plane func: sample %d produced %d heads, want %d", i, len(heads), f.NumHeads)
		}
		for h, pl := range heads {
			out[h][i] = pl
		}
	}
	return out, nil
}

// GaussianPlanes returns a planar Gaussian smoother with the given in-plane sigma.
func GaussianPlanes(channels int, sigma float64) Planar {
	return Planar{Model: PlaneFunc{
		NumHeads: 1,
		Channels: channels,
		Fn: func(p *Plane) ([]*Plane, error) {
			v, err := unsqueeze(p)
			if err != nil {
				return nil, err
			}
			s := Smooth(v, [3]float64{0, sigma, sigma})
			return []*Plane{{Channels: s.Channels, Height: p.Height, Width: p.Width, Data: s.Data}}, nil
		},
	}}
}
