// Package volio reads and writes volumes as NumPy .npy files.
//
// Arrays are C-ordered with shape (Z, Y, X) or (C, Z, Y, X). Reading accepts
// float64, float32 and the common integer dtypes in either byte order; writing
// produces little-endian float64 or float32.
package volio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/banshee-data/volstitch/internal/fsutil"
	"github.com/banshee-data/volstitch/internal/volume"
)

// DType is an on-disk element type for writing.
type DType string

const (
	Float64 DType = "<f8"
	Float32 DType = "<f4"
)

var magic = []byte("\x93NUMPY")

// ErrFormat marks input that is not a supported .npy array.
var ErrFormat = errors.New("volio: unsupported npy data")

// Header is the parsed .npy header.
type Header struct {
	Descr        string
	FortranOrder bool
	Shape        []int
}

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

func parseHeader(dict string) (Header, error) {
	var h Header
	m := descrRe.FindStringSubmatch(dict)
	if m == nil {
		return h, fmt.Errorf("%w: header has no descr", ErrFormat)
	}
	h.Descr = m[1]
	if m = fortranRe.FindStringSubmatch(dict); m == nil {
		return h, fmt.Errorf("%w: header has no fortran_order", ErrFormat)
	}
	h.FortranOrder = m[1] == "True"
	if m = shapeRe.FindStringSubmatch(dict); m == nil {
		return h, fmt.Errorf("%w: header has no shape", ErrFormat)
	}
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return h, fmt.Errorf("%w: bad shape entry %q", ErrFormat, part)
		}
		h.Shape = append(h.Shape, n)
	}
	return h, nil
}

func readHeader(r io.Reader) (Header, error) {
	pre := make([]byte, 8)
	if _, err := io.ReadFull(r, pre); err != nil {
		return Header{}, fmt.Errorf("volio: read preamble: %w", err)
	}
	if !bytes.Equal(pre[:6], magic) {
		return Header{}, fmt.Errorf("%w: bad magic", ErrFormat)
	}
	var n int
	switch pre[6] {
	case 1:
		var l uint16
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return Header{}, fmt.Errorf("volio: read header length: %w", err)
		}
		n = int(l)
	case 2, 3:
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return Header{}, fmt.Errorf("volio: read header length: %w", err)
		}
		n = int(l)
	default:
		return Header{}, fmt.Errorf("%w: format version %d.%d", ErrFormat, pre[6], pre[7])
	}
	dict := make([]byte, n)
	if _, err := io.ReadFull(r, dict); err != nil {
		return Header{}, fmt.Errorf("volio: read header: %w", err)
	}
	return parseHeader(string(dict))
}

// maxElements caps the element count of an array so its float64 buffer size
// stays representable.
const maxElements = math.MaxInt / 8

// chunkElements is how many elements are decoded per read.
const chunkElements = 1 << 16

// elementSizes maps the supported dtype codes to their width in bytes.
var elementSizes = map[string]int{"f8": 8, "f4": 4, "i4": 4, "i2": 2, "u2": 2, "u1": 1}

// Read decodes a volume from r. A 3D array becomes a single-channel volume.
//
// When r reports its remaining length (bytes.Reader, *os.File), a header
// promising more data than is left is rejected before anything is allocated.
func Read(r io.Reader) (*volume.Volume, error) {
	br := bufio.NewReader(r)
	h, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	if h.FortranOrder {
		return nil, fmt.Errorf("%w: fortran-ordered arrays", ErrFormat)
	}

	channels := 1
	var shape volume.Triple
	switch len(h.Shape) {
	case 3:
		copy(shape[:], h.Shape)
	case 4:
		channels = h.Shape[0]
		copy(shape[:], h.Shape[1:])
	default:
		return nil, fmt.Errorf("%w: %d-dimensional array, want 3 or 4", ErrFormat, len(h.Shape))
	}
	n, err := elementCount(h.Shape)
	if err != nil {
		return nil, err
	}
	order, size, err := parseDescr(h.Descr)
	if err != nil {
		return nil, err
	}
	if left, ok := remaining(r, br); ok && int64(n) > left/int64(size) {
		return nil, fmt.Errorf("%w: shape %v needs %d bytes of %s, %d left", ErrFormat, h.Shape, int64(n)*int64(size), h.Descr, left)
	}

	data, err := readData(br, order, h.Descr[1:], n)
	if err != nil {
		return nil, err
	}
	return volume.FromData(channels, shape, data)
}

// elementCount multiplies dims, rejecting empty axes and products above
// maxElements.
func elementCount(dims []int) (int, error) {
	n := 1
	for _, d := range dims {
		if d <= 0 {
			return 0, fmt.Errorf("%w: empty array shape %v", ErrFormat, dims)
		}
		if n > maxElements/d {
			return 0, fmt.Errorf("%w: array shape %v too large", ErrFormat, dims)
		}
		n *= d
	}
	return n, nil
}

func parseDescr(descr string) (binary.ByteOrder, int, error) {
	if len(descr) < 3 {
		return nil, 0, fmt.Errorf("%w: dtype %q", ErrFormat, descr)
	}
	var order binary.ByteOrder
	switch descr[0] {
	case '<', '|':
		order = binary.LittleEndian
	case '>':
		order = binary.BigEndian
	default:
		return nil, 0, fmt.Errorf("%w: byte order in dtype %q", ErrFormat, descr)
	}
	size, ok := elementSizes[descr[1:]]
	if !ok {
		return nil, 0, fmt.Errorf("%w: dtype %q", ErrFormat, descr)
	}
	return order, size, nil
}

// remaining reports how many unread bytes are left behind br, if r can tell.
func remaining(r io.Reader, br *bufio.Reader) (int64, bool) {
	buffered := int64(br.Buffered())
	switch src := r.(type) {
	case interface{ Len() int }:
		return int64(src.Len()) + buffered, true
	case interface {
		io.Seeker
		Stat() (fs.FileInfo, error)
	}:
		info, err := src.Stat()
		if err != nil || !info.Mode().IsRegular() {
			return 0, false
		}
		pos, err := src.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, false
		}
		return info.Size() - pos + buffered, true
	}
	return 0, false
}

// readData decodes n elements of kind (a dtype code without its byte order)
// in bounded chunks, so a short stream fails before a large allocation.
func readData(r io.Reader, order binary.ByteOrder, kind string, n int) ([]float64, error) {
	size := elementSizes[kind]
	out := make([]float64, 0, min(n, chunkElements))
	buf := make([]byte, min(n, chunkElements)*size)
	for len(out) < n {
		k := min(n-len(out), chunkElements)
		b := buf[:k*size]
		if _, err := io.ReadFull(r, b); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("%w: read %d elements of %s: %w", ErrFormat, n, kind, err)
		}
		for i := 0; i < k; i++ {
			e := b[i*size : (i+1)*size]
			var v float64
			switch kind {
			case "f8":
				v = math.Float64frombits(order.Uint64(e))
			case "f4":
				v = float64(math.Float32frombits(order.Uint32(e)))
			case "i4":
				v = float64(int32(order.Uint32(e)))
			case "i2":
				v = float64(int16(order.Uint16(e)))
			case "u2":
				v = float64(order.Uint16(e))
			case "u1":
				v = float64(e[0])
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// Write encodes v to w as a 4D (C, Z, Y, X) array of the given dtype.
func Write(w io.Writer, v *volume.Volume, dtype DType) error {
	if dtype != Float64 && dtype != Float32 {
		return fmt.Errorf("%w: cannot write dtype %q", ErrFormat, dtype)
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d, %d, %d, %d), }",
		dtype, v.Channels, v.Shape[0], v.Shape[1], v.Shape[2])
	// Pad so that the data starts on a 64-byte boundary; the header ends in '\n'.
	total := len(magic) + 2 + 2 + len(dict) + 1
	if rem := total % 64; rem != 0 {
		dict += strings.Repeat(" ", 64-rem)
	}
	dict += "\n"
	if len(dict) > math.MaxUint16 {
		return fmt.Errorf("%w: header too long", ErrFormat)
	}

	bw := bufio.NewWriter(w)
	bw.Write(magic)
	bw.Write([]byte{1, 0})
	binary.Write(bw, binary.LittleEndian, uint16(len(dict)))
	bw.WriteString(dict)

	var err error
	if dtype == Float64 {
		err = binary.Write(bw, binary.LittleEndian, v.Data)
	} else {
		buf := make([]float32, len(v.Data))
		for i, x := range v.Data {
			buf[i] = float32(x)
		}
		err = binary.Write(bw, binary.LittleEndian, buf)
	}
	if err != nil {
		return fmt.Errorf("volio: write data: %w", err)
	}
	return bw.Flush()
}

// ReadFile reads the volume stored at path.
func ReadFile(fsys fsutil.FileSystem, path string) (*volume.Volume, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	v, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// WriteFile stores v at path.
func WriteFile(fsys fsutil.FileSystem, path string, v *volume.Volume, dtype DType) error {
	f, err := fsys.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, v, dtype); err != nil {
		fsutil.Discard(f)
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
