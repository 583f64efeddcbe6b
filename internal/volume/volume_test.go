package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ramp returns a volume whose values equal their flat index.
func ramp(channels int, shape Triple) *Volume {
	v := New(channels, shape)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}
	return v
}

func TestFromData_LengthMismatch(t *testing.T) {
	_, err := FromData(1, Triple{2, 2, 2}, make([]float64, 7))
	assert.Error(t, err)

	_, err = FromData(0, Triple{2, 2, 2}, nil)
	assert.Error(t, err)

	v, err := FromData(2, Triple{1, 2, 3}, make([]float64, 12))
	require.NoError(t, err)
	assert.Equal(t, 2, v.Channels)
}

func TestIndex_RowMajor(t *testing.T) {
	v := ramp(2, Triple{3, 4, 5})
	if got := v.At(0, 0, 0, 1); got != 1 {
		t.Fatalf("x stride: got %v", got)
	}
	if got := v.At(0, 0, 1, 0); got != 5 {
		t.Fatalf("y stride: got %v", got)
	}
	if got := v.At(0, 1, 0, 0); got != 20 {
		t.Fatalf("z stride: got %v", got)
	}
	if got := v.At(1, 0, 0, 0); got != 60 {
		t.Fatalf("channel stride: got %v", got)
	}
}

func TestExtract(t *testing.T) {
	v := ramp(2, Triple{4, 4, 4})
	r := Region{C: Range{1, 2}, Z: Range{1, 3}, Y: Range{2, 4}, X: Range{0, 3}}
	sub := v.Extract(r)

	require.Equal(t, 1, sub.Channels)
	require.Equal(t, Triple{2, 2, 3}, sub.Shape)
	for z := 0; z < 2; z++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 3; x++ {
				assert.Equal(t, v.At(1, 1+z, 2+y, x), sub.At(0, z, y, x))
			}
		}
	}

	// Extract copies.
	sub.Set(0, 0, 0, 0, -1)
	assert.NotEqual(t, -1.0, v.At(1, 1, 2, 0))
}

func TestChannel(t *testing.T) {
	v := ramp(3, Triple{1, 2, 2})
	c := v.Channel(2)
	assert.Equal(t, []float64{8, 9, 10, 11}, c.Data)
}

func TestCrop(t *testing.T) {
	v := ramp(1, Triple{6, 4, 4})

	t.Run("z only", func(t *testing.T) {
		out, err := v.Crop(Triple{2, 0, 0})
		require.NoError(t, err)
		assert.Equal(t, Triple{2, 4, 4}, out.Shape)
		assert.Equal(t, v.At(0, 2, 0, 0), out.At(0, 0, 0, 0))
	})

	t.Run("zero pad is identity", func(t *testing.T) {
		out, err := v.Crop(Triple{})
		require.NoError(t, err)
		assert.True(t, Equal(v, out))
	})

	t.Run("too large", func(t *testing.T) {
		_, err := v.Crop(Triple{0, 2, 0})
		assert.Error(t, err)
	})

	t.Run("negative", func(t *testing.T) {
		_, err := v.Crop(Triple{-1, 0, 0})
		assert.Error(t, err)
	})
}

func TestRegionWithin(t *testing.T) {
	shape := Triple{4, 4, 4}
	assert.True(t, Full(1, shape).Within(shape))
	assert.False(t, Region{Z: Range{0, 5}, Y: Range{0, 1}, X: Range{0, 1}}.Within(shape))
	assert.False(t, Region{Z: Range{-1, 2}, Y: Range{0, 1}, X: Range{0, 1}}.Within(shape))
	assert.Equal(t, Triple{2, 1, 3}, Region{Z: Range{1, 3}, Y: Range{0, 1}, X: Range{1, 4}}.Shape())
}

func TestEqualApprox(t *testing.T) {
	a := ramp(1, Triple{1, 1, 3})
	b := a.Clone()
	b.Data[1] += 1e-12
	assert.False(t, Equal(a, b))
	assert.True(t, EqualApprox(a, b, 1e-9))
	assert.False(t, EqualApprox(a, New(1, Triple{1, 3, 1}), 1))
}
