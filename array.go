package zarr

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/chunkgrid/zarr/codec"
	"github.com/chunkgrid/zarr/internal/log"
	"github.com/chunkgrid/zarr/storage"
	"github.com/chunkgrid/zarr/zarrerr"
)

// Array is a handle on one stored array.  It binds a node path within a
// Storage to a metadata snapshot and exposes chunk and subset I/O.
//
// The handle is safe for concurrent reads.  Writes to distinct chunks may
// run concurrently; writes that touch the same chunk require the caller's
// own synchronization.
type Array struct {
	storage *Storage
	store   storage.Store
	path    string

	// md is the current metadata snapshot.  SetAttributes swaps it;
	// everything derived from the immutable parts is captured below.
	md atomic.Pointer[ArrayMetadata]

	grid     *grid
	keys     ChunkKeyEncoding
	pipeline *codec.Pipeline // flat arrays
	shard    *shardInfo      // sharded arrays; nil when flat
	fill     []byte          // one element, encoded little-endian

	config Config
	cache  *ShardIndexCache

	mu     sync.Mutex
	closed bool
}

// OpenArray opens the array at path.  The metadata document must already
// exist; opening a nonexistent array fails with a NotExist error.
func OpenArray(ctx context.Context, st *Storage, path string, opts ...ArrayOption) (*Array, error) {
	path, err := normalizeNodePath(path)
	if err != nil {
		return nil, err
	}
	if err := st.acquire(); err != nil {
		return nil, err
	}
	key := metadataKey(path)
	data, err := st.store.Get(ctx, key)
	if err != nil {
		st.release()
		return nil, zarrerr.WrapStorage(err, "get", key)
	}
	md, err := ParseArrayMetadata(data)
	if err != nil {
		st.release()
		if zarrerr.IsUnsupportedDataType(err) {
			return nil, err
		}
		return nil, zarrerr.WrapInvalidMetadata(err, path)
	}
	a, err := newArray(st, path, md, opts)
	if err != nil {
		st.release()
		return nil, err
	}
	log.Debug(ctx, "opened array", zap.String("storage", st.String()), zap.String("path", path))
	return a, nil
}

// CreateArray creates an array at path with the given metadata and returns a
// handle on it.  It fails with an AlreadyExists error if a metadata document
// is already present at path.
func CreateArray(ctx context.Context, st *Storage, path string, md *ArrayMetadata, opts ...ArrayOption) (*Array, error) {
	path, err := normalizeNodePath(path)
	if err != nil {
		return nil, err
	}
	if err := md.Validate(); err != nil {
		return nil, zarrerr.WrapInvalidMetadata(err, path)
	}
	if err := st.acquire(); err != nil {
		return nil, err
	}
	key := metadataKey(path)
	exists, err := st.store.Exists(ctx, key)
	if err != nil {
		st.release()
		return nil, zarrerr.WrapStorage(err, "exists", key)
	}
	if exists {
		st.release()
		return nil, zarrerr.NewAlreadyExists(st.String(), path)
	}
	a, err := newArray(st, path, md.Clone(), opts)
	if err != nil {
		st.release()
		return nil, err
	}
	if err := a.storeMetadata(ctx, a.md.Load()); err != nil {
		st.release()
		return nil, err
	}
	log.Debug(ctx, "created array", zap.String("storage", st.String()), zap.String("path", path))
	return a, nil
}

// newArray derives the handle's immutable state from a validated metadata
// snapshot.  It does not touch storage.
func newArray(st *Storage, path string, md *ArrayMetadata, opts []ArrayOption) (*Array, error) {
	a := &Array{
		storage: st,
		store:   st.store,
		path:    path,
		keys:    md.ChunkKeyEncoding,
		config:  DefaultConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	g, err := newGrid(md.Shape, md.ChunkShape, md.DataType.Size())
	if err != nil {
		return nil, err
	}
	if _, ok := g.chunkBytes(); !ok {
		return nil, zarrerr.NewInvalidMetadata(path, "chunk byte size overflows")
	}
	a.grid = g
	fill, err := md.DataType.FillBytes(md.FillValue)
	if err != nil {
		return nil, zarrerr.WrapInvalidMetadata(err, path)
	}
	a.fill = fill
	bc := codec.BuildContext{
		ElementSize:       md.DataType.Size(),
		ValidateChecksums: a.config.ValidateChecksums,
	}
	shard, err := parseShardInfo(md.Codecs, md.ChunkShape, bc)
	if err != nil {
		return nil, zarrerr.WrapInvalidMetadata(err, path)
	}
	if shard != nil {
		a.shard = shard
	} else {
		pipeline, err := codec.NewPipeline(md.Codecs, bc)
		if err != nil {
			return nil, zarrerr.WrapInvalidMetadata(err, path)
		}
		a.pipeline = pipeline
	}
	a.md.Store(md)
	return a, nil
}

// Close releases the handle and its reference on the Storage.  The Storage
// itself stays open.  A second Close is a no-op.
func (a *Array) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.storage.release()
	return nil
}

func (a *Array) check() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return zarrerr.NewClosed("array")
	}
	return nil
}

// Path returns the node path within the storage.
func (a *Array) Path() string { return a.path }

// Dimensionality returns the number of array dimensions.
func (a *Array) Dimensionality() int { return len(a.grid.arrayShape) }

// Shape returns the array shape in elements.
func (a *Array) Shape() []uint64 { return append([]uint64{}, a.grid.arrayShape...) }

// DataType returns the element type.
func (a *Array) DataType() DataType { return a.md.Load().DataType }

// FillValue returns the encoded bytes of one fill-value element.
func (a *Array) FillValue() []byte { return append([]byte{}, a.fill...) }

// Sharded reports whether chunks are stored as shards of inner chunks.
func (a *Array) Sharded() bool { return a.shard != nil }

// ChunkGridShape returns the number of chunks along each dimension.
func (a *Array) ChunkGridShape() []uint64 { return append([]uint64{}, a.grid.gridShape...) }

// ChunkOrigin returns the array coordinate of the first element of the
// chunk at idx.
func (a *Array) ChunkOrigin(idx []uint64) ([]uint64, error) {
	if err := a.grid.validateChunk(idx); err != nil {
		return nil, err
	}
	return a.grid.chunkSubset(idx).Start, nil
}

// ChunkShape returns the shape of the chunk at idx, clipped to the array
// bounds for edge chunks.
func (a *Array) ChunkShape(idx []uint64) ([]uint64, error) {
	if err := a.grid.validateChunk(idx); err != nil {
		return nil, err
	}
	return a.grid.chunkSubset(idx).Shape, nil
}

// ChunkSize returns the decoded byte size of the chunk at idx.
func (a *Array) ChunkSize(idx []uint64) (uint64, error) {
	shape, err := a.ChunkShape(idx)
	if err != nil {
		return 0, err
	}
	return a.SubsetSize(shape), nil
}

// SubsetSize returns the decoded byte size of a subset with the given
// shape.  The result saturates at the maximum uint64 on overflow.
func (a *Array) SubsetSize(shape []uint64) uint64 {
	n, ok := numElements(shape)
	if !ok {
		return math.MaxUint64
	}
	size, ok := mulUint64(n, uint64(a.grid.elemSize))
	if !ok {
		return math.MaxUint64
	}
	return size
}

// ChunksInSubset returns the rectangle of chunk grid coordinates whose
// chunks intersect s, as a subset in grid coordinates.  An empty s yields
// an empty result.
func (a *Array) ChunksInSubset(s Subset) (Subset, error) {
	if err := a.grid.validateSubset(s); err != nil {
		return Subset{}, err
	}
	lo, hi, empty := a.grid.chunksInSubset(s)
	if empty {
		d := len(a.grid.gridShape)
		return Subset{Start: make([]uint64, d), Shape: make([]uint64, d)}, nil
	}
	shape := make([]uint64, len(lo))
	for i := range lo {
		shape[i] = hi[i] - lo[i] + 1
	}
	return Subset{Start: lo, Shape: shape}, nil
}

// chunksExtent converts a rectangle of chunk grid coordinates into the
// element subset those chunks cover, clipped to the array bounds.
func (a *Array) chunksExtent(chunks Subset) (Subset, error) {
	g := a.grid
	if len(chunks.Start) != len(g.gridShape) || len(chunks.Shape) != len(g.gridShape) {
		return Subset{}, zarrerr.NewOutOfBounds("chunk subset", chunks.Start, g.gridShape)
	}
	start := make([]uint64, len(g.gridShape))
	shape := make([]uint64, len(g.gridShape))
	for i := range g.gridShape {
		if chunks.Start[i] > g.gridShape[i] || chunks.Shape[i] > g.gridShape[i]-chunks.Start[i] {
			return Subset{}, zarrerr.NewOutOfBounds("chunk subset", append(append([]uint64{}, chunks.Start...), chunks.Shape...), g.gridShape)
		}
		start[i] = min(chunks.Start[i]*g.chunkShape[i], g.arrayShape[i])
		end := min((chunks.Start[i]+chunks.Shape[i])*g.chunkShape[i], g.arrayShape[i])
		shape[i] = end - start[i]
	}
	return Subset{Start: start, Shape: shape}, nil
}

// InnerChunkGridShape returns the number of inner chunks along each
// dimension.  For a flat array it equals ChunkGridShape.
func (a *Array) InnerChunkGridShape() []uint64 {
	if a.shard == nil {
		return a.ChunkGridShape()
	}
	shape := make([]uint64, len(a.grid.arrayShape))
	for i := range shape {
		shape[i] = (a.grid.arrayShape[i] + a.shard.innerShape[i] - 1) / a.shard.innerShape[i]
	}
	return shape
}

// InnerChunkShape returns the inner chunk shape and whether the array is
// sharded.  For a flat array it returns the chunk shape.
func (a *Array) InnerChunkShape() ([]uint64, bool) {
	if a.shard == nil {
		return append([]uint64{}, a.grid.chunkShape...), false
	}
	return append([]uint64{}, a.shard.innerShape...), true
}

// Metadata returns a copy of the current metadata snapshot.
func (a *Array) Metadata() *ArrayMetadata {
	return a.md.Load().Clone()
}

// MetadataString returns the metadata document as JSON.
func (a *Array) MetadataString(pretty bool) (string, error) {
	data, err := a.md.Load().JSON(pretty)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Attributes returns a copy of the user attributes.
func (a *Array) Attributes() map[string]interface{} {
	return cloneAttributes(a.md.Load().Attributes)
}

// AttributesString returns the user attributes as JSON.
func (a *Array) AttributesString(pretty bool) (string, error) {
	data, err := marshalAttributes(a.md.Load().Attributes, pretty)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetAttributes replaces the user attributes, persists the updated metadata
// document, and swaps the handle's snapshot.  Concurrent readers see either
// the old or the new snapshot, never a mix.
func (a *Array) SetAttributes(ctx context.Context, attrs map[string]interface{}) error {
	if err := a.check(); err != nil {
		return err
	}
	next := a.md.Load().Clone()
	next.Attributes = cloneAttributes(attrs)
	if err := a.storeMetadata(ctx, next); err != nil {
		return err
	}
	a.md.Store(next)
	return nil
}

// StoreMetadata writes the current metadata snapshot to storage.
func (a *Array) StoreMetadata(ctx context.Context) error {
	if err := a.check(); err != nil {
		return err
	}
	return a.storeMetadata(ctx, a.md.Load())
}

func (a *Array) storeMetadata(ctx context.Context, md *ArrayMetadata) error {
	data, err := md.JSON(false)
	if err != nil {
		return err
	}
	key := metadataKey(a.path)
	if err := a.store.Put(ctx, key, data); err != nil {
		return zarrerr.WrapStorage(err, "put", key)
	}
	log.Debug(ctx, "stored metadata", zap.String("key", key))
	return nil
}

// chunkStorageKey returns the storage key of the chunk at idx.
func (a *Array) chunkStorageKey(idx []uint64) string {
	return chunkKey(a.path, a.keys, idx)
}

// cachePrefix namespaces this array's shard cache keys.  The storage id
// keeps two stores with identical paths apart; NUL separators keep path
// boundaries unambiguous.
func (a *Array) cachePrefix() string {
	return a.storage.id + "\x00" + a.path + "\x00"
}

func (a *Array) cacheKey(idx []uint64) string {
	var sb strings.Builder
	sb.WriteString(a.cachePrefix())
	for i, x := range idx {
		if i > 0 {
			sb.WriteByte('/')
		}
		sb.WriteString(strconv.FormatUint(x, 10))
	}
	return sb.String()
}

// concurrency returns the per-operation chunk parallelism.
func (a *Array) concurrency() int {
	if a.config.ChunkConcurrency < 1 {
		return 1
	}
	return a.config.ChunkConcurrency
}
