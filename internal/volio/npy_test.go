package volio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/volstitch/internal/fsutil"
	"github.com/banshee-data/volstitch/internal/volume"
)

// rawNPY builds a version 1.0 file with the given header dict and payload.
func rawNPY(dict string, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Write(magic)
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(dict)))
	buf.WriteString(dict)
	buf.Write(payload)
	return buf.Bytes()
}

func sample() *volume.Volume {
	v := volume.New(2, volume.Triple{2, 3, 4})
	for i := range v.Data {
		v.Data[i] = float64(i)*0.25 - 3
	}
	return v
}

func TestWriteRead_Float64RoundTrip(t *testing.T) {
	v := sample()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, v, Float64))

	// Data starts on a 64-byte boundary.
	headerLen := int(binary.LittleEndian.Uint16(buf.Bytes()[8:10]))
	assert.Zero(t, (10+headerLen)%64)
	assert.Equal(t, 10+headerLen+8*len(v.Data), buf.Len())

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, v.Channels, got.Channels)
	assert.Equal(t, v.Shape, got.Shape)
	assert.True(t, volume.Equal(v, got))
}

func TestWriteRead_Float32(t *testing.T) {
	v := sample()
	v.Data[1] = 0.1
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, v, Float32))

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.True(t, volume.EqualApprox(v, got, 1e-6))
	assert.Equal(t, float64(float32(0.1)), got.Data[1])
}

func TestRead_ThreeDimensionalIsSingleChannel(t *testing.T) {
	payload := new(bytes.Buffer)
	binary.Write(payload, binary.LittleEndian, []float32{1, 2, 3, 4, 5, 6})
	data := rawNPY("{'descr': '<f4', 'fortran_order': False, 'shape': (1, 2, 3), }\n", payload.Bytes())

	v, err := Read(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1, v.Channels)
	assert.Equal(t, volume.Triple{1, 2, 3}, v.Shape)
	if diff := cmp.Diff([]float64{1, 2, 3, 4, 5, 6}, v.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestRead_DTypes(t *testing.T) {
	tests := []struct {
		descr   string
		payload func(*bytes.Buffer)
	}{
		{">f8", func(b *bytes.Buffer) { binary.Write(b, binary.BigEndian, []float64{1, -2}) }},
		{"<i4", func(b *bytes.Buffer) { binary.Write(b, binary.LittleEndian, []int32{1, -2}) }},
		{"<i2", func(b *bytes.Buffer) { binary.Write(b, binary.LittleEndian, []int16{1, -2}) }},
		{">u2", func(b *bytes.Buffer) { binary.Write(b, binary.BigEndian, []uint16{1, 65534}) }},
		{"|u1", func(b *bytes.Buffer) { b.Write([]byte{1, 254}) }},
	}
	for _, tt := range tests {
		t.Run(tt.descr, func(t *testing.T) {
			var payload bytes.Buffer
			tt.payload(&payload)
			data := rawNPY("{'descr': '"+tt.descr+"', 'fortran_order': False, 'shape': (1, 1, 2), }\n", payload.Bytes())

			v, err := Read(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, 1.0, v.Data[0])
			switch tt.descr {
			case ">u2":
				assert.Equal(t, 65534.0, v.Data[1])
			case "|u1":
				assert.Equal(t, 254.0, v.Data[1])
			default:
				assert.Equal(t, -2.0, v.Data[1])
			}
		})
	}
}

func TestRead_Rejects(t *testing.T) {
	eight := make([]byte, 8)
	tests := []struct {
		name string
		data []byte
		fmt  bool // expect ErrFormat
	}{
		{"bad magic", append([]byte("NOTNUMPY\x00\x00"), eight...), true},
		{"fortran order", rawNPY("{'descr': '<f8', 'fortran_order': True, 'shape': (1, 1, 1), }\n", eight), true},
		{"two dimensions", rawNPY("{'descr': '<f8', 'fortran_order': False, 'shape': (1, 1), }\n", eight), true},
		{"complex dtype", rawNPY("{'descr': '<c16', 'fortran_order': False, 'shape': (1, 1, 1), }\n", eight), true},
		{"empty axis", rawNPY("{'descr': '<f8', 'fortran_order': False, 'shape': (0, 1, 1), }\n", nil), true},
		{"missing shape", rawNPY("{'descr': '<f8', 'fortran_order': False, }\n", eight), true},
		{"truncated data", rawNPY("{'descr': '<f8', 'fortran_order': False, 'shape': (1, 1, 2), }\n", eight), true},
		{"shape overflows", rawNPY("{'descr': '<f8', 'fortran_order': False, 'shape': (1099511627776, 1099511627776, 1099511627776), }\n", eight), true},
		{"shape above element cap", rawNPY("{'descr': '<f8', 'fortran_order': False, 'shape': (4000000000, 4000000000, 4), }\n", eight), true},
		{"shape larger than data", rawNPY("{'descr': '<f8', 'fortran_order': False, 'shape': (1000, 1000, 1000), }\n", eight), true},
		{"truncated header", []byte("\x93NUMPY\x01\x00\xff\x00{'descr'"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(bytes.NewReader(tt.data))
			require.Error(t, err)
			assert.Equal(t, tt.fmt, errors.Is(err, ErrFormat), "err = %v", err)
			if !tt.fmt {
				assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			}
		})
	}
}

func TestWrite_RejectsUnknownDType(t *testing.T) {
	err := Write(io.Discard, sample(), DType("<i4"))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestFileRoundTrip(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	v := sample()
	require.NoError(t, WriteFile(fsys, "/vol.npy", v, Float64))

	got, err := ReadFile(fsys, "/vol.npy")
	require.NoError(t, err)
	assert.True(t, volume.Equal(v, got))

	_, err = ReadFile(fsys, "/missing.npy")
	assert.Error(t, err)
}

func TestWriteFile_FailureDoesNotPublish(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	err := WriteFile(fsys, "/bad.npy", sample(), DType("<c8"))
	require.Error(t, err)
	assert.False(t, fsys.Exists("/bad.npy"))
}

// streamOnly hides the length of the underlying reader.
type streamOnly struct{ r io.Reader }

func (s streamOnly) Read(p []byte) (int, error) { return s.r.Read(p) }

func TestRead_UnsizedStreamTruncated(t *testing.T) {
	payload := make([]byte, 8*10)
	data := rawNPY("{'descr': '<f8', 'fortran_order': False, 'shape': (100000, 100000, 4), }\n", payload)

	_, err := Read(streamOnly{bytes.NewReader(data)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormat)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRead_UnsizedStreamComplete(t *testing.T) {
	v := volume.New(1, volume.Triple{3, 100, 300})
	for i := range v.Data {
		v.Data[i] = float64(i % 251)
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, v, Float32))

	got, err := Read(streamOnly{&buf})
	require.NoError(t, err)
	assert.True(t, volume.Equal(v, got))
}

func TestReadFile_ShapeLargerThanFile(t *testing.T) {
	dict := "{'descr': '<f4', 'fortran_order': False, 'shape': (2, 1000, 1000, 4), }\n"

	fsys := fsutil.NewMemoryFileSystem()
	w, err := fsys.Create("/huge.npy")
	require.NoError(t, err)
	_, err = w.Write(rawNPY(dict, make([]byte, 16)))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	_, err = ReadFile(fsys, "/huge.npy")
	assert.ErrorIs(t, err, ErrFormat)

	path := filepath.Join(t.TempDir(), "huge.npy")
	require.NoError(t, os.WriteFile(path, rawNPY(dict, make([]byte, 16)), 0o644))
	_, err = ReadFile(fsutil.OSFileSystem{}, path)
	assert.ErrorIs(t, err, ErrFormat)
}
