package stitch

import "github.com/banshee-data/volstitch/internal/volume"

// TrimHalo removes halo voxels from each spatial side of a predicted patch,
// except sides where the placement touches the volume boundary. It returns
// the trimmed prediction and the region it belongs to in output coordinates.
//
// Boundary contact is decided from the placement's own start and stop against
// the volume extent, once per axis, before any trimming. The channel axis of
// the placement is carried through unchanged.
func TrimHalo(pred *volume.Volume, placement volume.Region, shape volume.Triple, halo volume.Triple) (*volume.Volume, volume.Region) {
	local := pred.Bounds()
	target := placement
	for axis := 0; axis < 3; axis++ {
		p := local.Axis(axis)
		t := placement.Axis(axis)
		atStart := t.Start == 0
		atStop := t.Stop == shape[axis]
		if !atStart {
			p.Start += halo[axis]
			t.Start += halo[axis]
		}
		if !atStop {
			p.Stop -= halo[axis]
			t.Stop -= halo[axis]
		}
		local = local.WithAxis(axis, p)
		target = target.WithAxis(axis, t)
	}
	if local == pred.Bounds() {
		return pred, target
	}
	return pred.Extract(local), target
}
