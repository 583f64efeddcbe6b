package testutil

import (
	"testing"

	"github.com/banshee-data/volstitch/internal/volume"
)

func TestPatternVolume(t *testing.T) {
	v := PatternVolume(2, volume.Triple{1, 2, 3}, 5)
	if v.Channels != 2 || v.Shape != (volume.Triple{1, 2, 3}) {
		t.Fatalf("shape = %d×%s", v.Channels, v.Shape)
	}
	for i, x := range v.Data {
		if want := float64((i * 7) % 5); x != want {
			t.Errorf("voxel %d = %v, want %v", i, x, want)
		}
	}
}

func TestAssertVolumesEqual(t *testing.T) {
	a := PatternVolume(1, volume.Triple{2, 2, 2}, 3)
	AssertVolumesEqual(t, a, a.Clone())

	ft := &fakeT{TB: t}
	b := a.Clone()
	b.Data[5]++
	func() {
		defer func() { recover() }()
		AssertVolumesEqual(ft, a, b)
	}()
	if !ft.failed {
		t.Error("expected mismatch to fail")
	}
}

func TestAssertNoError(t *testing.T) {
	AssertNoError(t, nil)
}

// fakeT records Fatal calls instead of stopping the real test.
type fakeT struct {
	testing.TB
	failed bool
}

func (f *fakeT) Helper() {}

func (f *fakeT) Fatalf(string, ...any) {
	f.failed = true
	panic("fatal")
}

func (f *fakeT) Fatal(...any) {
	f.failed = true
	panic("fatal")
}
