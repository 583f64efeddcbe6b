package tiling

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/volstitch/internal/volume"
)

func TestAxisStarts(t *testing.T) {
	tests := []struct {
		name                  string
		extent, patch, stride int
		want                  []int
	}{
		{"exact fit", 16, 8, 4, []int{0, 4, 8}},
		{"flush last patch", 10, 4, 4, []int{0, 4, 6}},
		{"single patch", 8, 8, 4, []int{0}},
		{"non-overlapping", 12, 4, 4, []int{0, 4, 8}},
		{"stride larger than remainder", 9, 6, 5, []int{0, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := axisStarts(tt.extent, tt.patch, tt.stride)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("starts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAxisStarts_PatchLargerThanVolume(t *testing.T) {
	if _, err := axisStarts(4, 8, 4); err == nil {
		t.Fatal("expected error for patch larger than extent")
	}
}

func TestPlacements_OrderAndChannels(t *testing.T) {
	plan := Plan{Patch: volume.Triple{1, 4, 4}, Stride: volume.Triple{1, 4, 4}}
	got, err := plan.Placements(3, volume.Triple{1, 8, 4})
	if err != nil {
		t.Fatalf("Placements: %v", err)
	}
	want := []volume.Region{
		{C: volume.Range{Start: 0, Stop: 3}, Z: volume.Range{Start: 0, Stop: 1}, Y: volume.Range{Start: 0, Stop: 4}, X: volume.Range{Start: 0, Stop: 4}},
		{C: volume.Range{Start: 0, Stop: 3}, Z: volume.Range{Start: 0, Stop: 1}, Y: volume.Range{Start: 4, Stop: 8}, X: volume.Range{Start: 0, Stop: 4}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("placements mismatch (-want +got):\n%s", diff)
	}
}

func TestPlacements_CoverVolume(t *testing.T) {
	plan := Plan{Patch: volume.Triple{4, 6, 5}, Stride: volume.Triple{3, 4, 3}}
	shape := volume.Triple{9, 17, 11}
	regions, err := plan.Placements(1, shape)
	if err != nil {
		t.Fatalf("Placements: %v", err)
	}
	seen := make([]int, shape.Voxels())
	for _, r := range regions {
		if !r.Within(shape) {
			t.Fatalf("placement %s outside %s", r, shape)
		}
		if r.Shape() != plan.Patch {
			t.Fatalf("placement %s has shape %s, want %s", r, r.Shape(), plan.Patch)
		}
		for z := r.Z.Start; z < r.Z.Stop; z++ {
			for y := r.Y.Start; y < r.Y.Stop; y++ {
				for x := r.X.Start; x < r.X.Stop; x++ {
					seen[(z*shape[1]+y)*shape[2]+x]++
				}
			}
		}
	}
	for i, n := range seen {
		if n == 0 {
			t.Fatalf("voxel %d not covered", i)
		}
	}
}

func TestPlanValidate(t *testing.T) {
	if err := (Plan{Patch: volume.Triple{0, 4, 4}, Stride: volume.Triple{1, 1, 1}}).Validate(); err == nil {
		t.Error("expected error for zero patch axis")
	}
	if err := (Plan{Patch: volume.Triple{4, 4, 4}, Stride: volume.Triple{1, 0, 1}}).Validate(); err == nil {
		t.Error("expected error for zero stride axis")
	}
	p := Plan{Patch: volume.Triple{8, 8, 8}, Stride: volume.Triple{4, 6, 8}}
	if got := p.Overlap(); got != (volume.Triple{4, 2, 0}) {
		t.Errorf("Overlap = %s", got)
	}
}
