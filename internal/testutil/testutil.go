// Package testutil provides shared test fixtures for volumes.
package testutil

import (
	"testing"

	"github.com/banshee-data/volstitch/internal/volume"
)

// PatternVolume returns a volume whose voxel i holds (i*7) % mod. The values
// are small integers, so sums and averages over them stay exact.
func PatternVolume(channels int, shape volume.Triple, mod int) *volume.Volume {
	v := volume.New(channels, shape)
	for i := range v.Data {
		v.Data[i] = float64((i * 7) % mod)
	}
	return v
}

// AssertVolumesEqual fails the test unless got matches want exactly, and
// reports the first differing voxel.
func AssertVolumesEqual(t testing.TB, want, got *volume.Volume) {
	t.Helper()
	if got == nil {
		t.Fatal("volume is nil")
	}
	if !volume.SameShape(want, got) {
		t.Fatalf("volume shape = %d×%s, want %d×%s", got.Channels, got.Shape, want.Channels, want.Shape)
	}
	for i := range want.Data {
		if want.Data[i] != got.Data[i] {
			t.Fatalf("voxel %d = %v, want %v", i, got.Data[i], want.Data[i])
		}
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
