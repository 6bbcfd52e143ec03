package zarr

import (
	"math"

	"github.com/chunkgrid/zarr/zarrerr"
)

// Subset selects a rectangular region of an array: a start coordinate and a
// shape, both with one entry per dimension.
type Subset struct {
	Start []uint64
	Shape []uint64
}

// NewSubset returns the subset at start with the given shape.
func NewSubset(start, shape []uint64) Subset {
	return Subset{Start: start, Shape: shape}
}

// WholeArray returns the subset covering an entire array of the given shape.
func WholeArray(shape []uint64) Subset {
	return Subset{Start: make([]uint64, len(shape)), Shape: shape}
}

// NumElements returns the number of elements the subset selects.
func (s Subset) NumElements() uint64 {
	n, ok := numElements(s.Shape)
	if !ok {
		return math.MaxUint64
	}
	return n
}

// end returns s.Start[i] + s.Shape[i].  Callers must have validated the
// subset against an array shape, which rules out overflow.
func (s Subset) end(i int) uint64 {
	return s.Start[i] + s.Shape[i]
}

// grid is the regular chunk grid of one array.  All methods are pure
// coordinate math; nothing here touches storage.
type grid struct {
	arrayShape []uint64
	chunkShape []uint64
	gridShape  []uint64
	elemSize   int
}

func newGrid(arrayShape, chunkShape []uint64, elemSize int) (*grid, error) {
	gridShape := make([]uint64, len(arrayShape))
	for i := range arrayShape {
		if arrayShape[i] > math.MaxUint64-chunkShape[i]+1 {
			return nil, zarrerr.NewOutOfBounds("array extent", []uint64{arrayShape[i]}, []uint64{math.MaxUint64 - chunkShape[i] + 1})
		}
		// ceil(arrayShape / chunkShape); validation guarantees
		// chunkShape > 0.
		gridShape[i] = (arrayShape[i] + chunkShape[i] - 1) / chunkShape[i]
		if _, ok := mulUint64(gridShape[i], chunkShape[i]); !ok {
			return nil, zarrerr.NewOutOfBounds("chunk grid extent", []uint64{gridShape[i]}, []uint64{math.MaxUint64 / chunkShape[i]})
		}
	}
	return &grid{
		arrayShape: arrayShape,
		chunkShape: chunkShape,
		gridShape:  gridShape,
		elemSize:   elemSize,
	}, nil
}

// validateChunk checks a chunk coordinate against the grid.
func (g *grid) validateChunk(idx []uint64) error {
	if len(idx) != len(g.gridShape) {
		return zarrerr.NewOutOfBounds("chunk indices", idx, g.gridShape)
	}
	for i := range idx {
		if idx[i] >= g.gridShape[i] {
			return zarrerr.NewOutOfBounds("chunk indices", idx, g.gridShape)
		}
	}
	return nil
}

// validateSubset checks that s lies entirely within the array.
func (g *grid) validateSubset(s Subset) error {
	if len(s.Start) != len(g.arrayShape) || len(s.Shape) != len(g.arrayShape) {
		return zarrerr.NewOutOfBounds("subset", s.Start, g.arrayShape)
	}
	for i := range g.arrayShape {
		if s.Start[i] > g.arrayShape[i] || s.Shape[i] > g.arrayShape[i]-s.Start[i] {
			return zarrerr.NewOutOfBounds("subset", append(append([]uint64{}, s.Start...), s.Shape...), g.arrayShape)
		}
	}
	return nil
}

// chunkSubset returns the region of the array covered by the chunk at idx,
// clipped to the array bounds for edge chunks.
func (g *grid) chunkSubset(idx []uint64) Subset {
	start := make([]uint64, len(idx))
	shape := make([]uint64, len(idx))
	for i := range idx {
		start[i] = idx[i] * g.chunkShape[i]
		shape[i] = g.chunkShape[i]
		if rem := g.arrayShape[i] - start[i]; rem < shape[i] {
			shape[i] = rem
		}
	}
	return Subset{Start: start, Shape: shape}
}

// chunkBytes returns the byte size of one full (unclipped) chunk.
func (g *grid) chunkBytes() (int, bool) {
	n, ok := numElements(g.chunkShape)
	if !ok {
		return 0, false
	}
	total, ok := mulUint64(n, uint64(g.elemSize))
	if !ok || total > math.MaxInt {
		return 0, false
	}
	return int(total), true
}

// chunksInSubset returns the inclusive range of chunk coordinates whose
// regions intersect s.  empty is true when s selects no elements.
func (g *grid) chunksInSubset(s Subset) (lo, hi []uint64, empty bool) {
	lo = make([]uint64, len(g.gridShape))
	hi = make([]uint64, len(g.gridShape))
	for i := range g.gridShape {
		if s.Shape[i] == 0 {
			return nil, nil, true
		}
		lo[i] = s.Start[i] / g.chunkShape[i]
		hi[i] = (s.end(i) - 1) / g.chunkShape[i]
	}
	return lo, hi, false
}

// forEachChunk calls cb for every chunk coordinate in the inclusive range
// [lo, hi], in row-major order with the last dimension varying fastest.
// A zero-dimensional range yields a single empty coordinate.
func forEachChunk(lo, hi []uint64, cb func(idx []uint64) error) error {
	idx := append([]uint64{}, lo...)
	for {
		if err := cb(append([]uint64{}, idx...)); err != nil {
			return err
		}
		i := len(idx) - 1
		for ; i >= 0; i-- {
			if idx[i] < hi[i] {
				idx[i]++
				break
			}
			idx[i] = lo[i]
		}
		if i < 0 {
			return nil
		}
	}
}

// intersect returns the overlap of a and b.  empty is true when they do not
// overlap.
func intersect(a, b Subset) (Subset, bool) {
	start := make([]uint64, len(a.Start))
	shape := make([]uint64, len(a.Start))
	for i := range a.Start {
		start[i] = max(a.Start[i], b.Start[i])
		end := min(a.end(i), b.end(i))
		if end <= start[i] {
			return Subset{}, true
		}
		shape[i] = end - start[i]
	}
	return Subset{Start: start, Shape: shape}, false
}

// relativeTo rebases s onto origin.  s must lie at or after origin on every
// axis.
func (s Subset) relativeTo(origin []uint64) Subset {
	start := make([]uint64, len(s.Start))
	for i := range s.Start {
		start[i] = s.Start[i] - origin[i]
	}
	return Subset{Start: start, Shape: s.Shape}
}

// copyRegion copies a region-shaped block between two row-major element
// buffers.  The block starts at srcStart within a srcShape-sized buffer and
// lands at dstStart within a dstShape-sized buffer.  The innermost dimension
// is contiguous and copied as one slice per run.
func copyRegion(dst []byte, dstShape, dstStart []uint64, src []byte, srcShape, srcStart []uint64, region []uint64, elemSize int) {
	if len(region) == 0 {
		copy(dst, src[:elemSize])
		return
	}
	dstStrides := byteStrides(dstShape, elemSize)
	srcStrides := byteStrides(srcShape, elemSize)
	var dstOff, srcOff uint64
	for i := range region {
		dstOff += dstStart[i] * dstStrides[i]
		srcOff += srcStart[i] * srcStrides[i]
	}
	copyRegionRecursive(dst, src, dstOff, srcOff, dstStrides, srcStrides, region, elemSize)
}

func copyRegionRecursive(dst, src []byte, dstOff, srcOff uint64, dstStrides, srcStrides, region []uint64, elemSize int) {
	if len(region) == 1 {
		n := region[0] * uint64(elemSize)
		copy(dst[dstOff:dstOff+n], src[srcOff:srcOff+n])
		return
	}
	for i := uint64(0); i < region[0]; i++ {
		copyRegionRecursive(dst, src,
			dstOff+i*dstStrides[0], srcOff+i*srcStrides[0],
			dstStrides[1:], srcStrides[1:], region[1:], elemSize)
	}
}

// fillRegion writes the fill element into every position of a region-shaped
// block starting at dstStart within a dstShape-sized row-major buffer.
func fillRegion(dst []byte, dstShape, dstStart, region []uint64, fill []byte) {
	if len(region) == 0 {
		copy(dst, fill)
		return
	}
	strides := byteStrides(dstShape, len(fill))
	var off uint64
	for i := range region {
		off += dstStart[i] * strides[i]
	}
	fillRegionRecursive(dst, off, strides, region, fill)
}

func fillRegionRecursive(dst []byte, off uint64, strides, region []uint64, fill []byte) {
	if len(region) == 1 {
		n := region[0] * uint64(len(fill))
		fillBuffer(dst[off:off+n], fill)
		return
	}
	for i := uint64(0); i < region[0]; i++ {
		fillRegionRecursive(dst, off+i*strides[0], strides[1:], region[1:], fill)
	}
}

// fillBuffer repeats the fill element across buf.  len(buf) must be a
// multiple of len(fill).
func fillBuffer(buf, fill []byte) {
	if allZero(fill) {
		for i := range buf {
			buf[i] = 0
		}
		return
	}
	n := copy(buf, fill)
	for n < len(buf) {
		n += copy(buf[n:], buf[:n])
	}
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

func equalShape(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// byteStrides returns the row-major byte stride of each dimension.
func byteStrides(shape []uint64, elemSize int) []uint64 {
	strides := make([]uint64, len(shape))
	stride := uint64(elemSize)
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// numElements multiplies a shape's extents, reporting overflow.  The empty
// shape has one element.
func numElements(shape []uint64) (uint64, bool) {
	n := uint64(1)
	for _, dim := range shape {
		var ok bool
		if n, ok = mulUint64(n, dim); !ok {
			return 0, false
		}
	}
	return n, true
}

func mulUint64(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	n := a * b
	if n/b != a {
		return 0, false
	}
	return n, true
}
