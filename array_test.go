package zarr

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	units "github.com/docker/go-units"

	"github.com/chunkgrid/zarr/codec"
	"github.com/chunkgrid/zarr/internal/pctx"
	"github.com/chunkgrid/zarr/internal/randutil"
	"github.com/chunkgrid/zarr/internal/require"
	"github.com/chunkgrid/zarr/storage"
	"github.com/chunkgrid/zarr/zarrerr"
)

func testStorage(t testing.TB) *Storage {
	t.Helper()
	st := OpenMem()
	t.Cleanup(func() { require.NoError(t, st.Close()) })
	return st
}

func countingStorage(t testing.TB) (*Storage, *storage.CountingStore) {
	t.Helper()
	counting := storage.NewCountingStore(storage.NewMemStore())
	st := NewStorage(counting)
	t.Cleanup(func() { require.NoError(t, st.Close()) })
	return st, counting
}

func mustDataType(t testing.TB, name string) DataType {
	t.Helper()
	dt, err := ParseDataType(name)
	require.NoError(t, err)
	return dt
}

func f32le(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func f64le(vals ...float64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func i32le(vals ...int32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}

func u16le(vals ...uint16) []byte {
	out := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

func TestCreateAndOpenArray(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{5, 3}, mustDataType(t, "float32"), []uint64{2, 2})
	md.Attributes = map[string]interface{}{"units": "kelvin"}
	md.DimensionNames = []string{"y", "x"}
	a, err := CreateArray(ctx, st, "climate/temp", md)
	require.NoError(t, err)
	require.Equal(t, "climate/temp", a.Path())

	exists, err := st.Store().Exists(ctx, "climate/temp/zarr.json")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, a.Close())

	_, err = CreateArray(ctx, st, "climate/temp", md)
	require.True(t, zarrerr.IsAlreadyExists(err), "got %v", err)

	// Leading and trailing slashes normalize to the same node.
	b, err := OpenArray(ctx, st, "/climate/temp/")
	require.NoError(t, err)
	require.Equal(t, []uint64{5, 3}, b.Shape())
	require.Equal(t, "float32", b.DataType().Name())
	require.Equal(t, 2, b.Dimensionality())
	require.False(t, b.Sharded())
	require.Equal(t, map[string]interface{}{"units": "kelvin"}, b.Attributes())
	require.Equal(t, []string{"y", "x"}, b.Metadata().DimensionNames)
	require.NoError(t, b.Close())

	_, err = OpenArray(ctx, st, "missing")
	require.True(t, zarrerr.IsNotExist(err), "got %v", err)

	_, err = OpenArray(ctx, st, "a//b")
	require.YesError(t, err)

	require.NoError(t, st.Store().Put(ctx, "broken/zarr.json", []byte("not json")))
	_, err = OpenArray(ctx, st, "broken")
	require.True(t, zarrerr.IsInvalidMetadata(err), "got %v", err)

	bad := NewArrayMetadata([]uint64{5, 3}, mustDataType(t, "float32"), []uint64{2})
	_, err = CreateArray(ctx, st, "badchunks", bad)
	require.YesError(t, err)
}

func TestArrayGeometry(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{5, 3}, mustDataType(t, "float32"), []uint64{2, 2})
	a, err := CreateArray(ctx, st, "geom", md)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, []uint64{3, 2}, a.ChunkGridShape())
	require.Equal(t, []uint64{3, 2}, a.InnerChunkGridShape())

	origin, err := a.ChunkOrigin([]uint64{2, 1})
	require.NoError(t, err)
	require.Equal(t, []uint64{4, 2}, origin)

	shape, err := a.ChunkShape([]uint64{0, 0})
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 2}, shape)

	// The last chunk in each dimension is clipped to the array bounds.
	shape, err = a.ChunkShape([]uint64{2, 1})
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 1}, shape)

	size, err := a.ChunkSize([]uint64{0, 0})
	require.NoError(t, err)
	require.Equal(t, uint64(16), size)
	size, err = a.ChunkSize([]uint64{2, 1})
	require.NoError(t, err)
	require.Equal(t, uint64(4), size)

	_, err = a.ChunkOrigin([]uint64{3, 0})
	require.True(t, zarrerr.IsOutOfBounds(err), "got %v", err)

	require.Equal(t, uint64(60), a.SubsetSize([]uint64{5, 3}))
	require.Equal(t, uint64(math.MaxUint64), a.SubsetSize([]uint64{math.MaxUint64, 2}))

	chunks, err := a.ChunksInSubset(NewSubset([]uint64{2, 0}, []uint64{3, 3}))
	require.NoError(t, err)
	require.Equal(t, NewSubset([]uint64{1, 0}, []uint64{2, 2}), chunks)

	chunks, err = a.ChunksInSubset(NewSubset([]uint64{2, 0}, []uint64{0, 0}))
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 0}, chunks.Shape)

	_, err = a.ChunksInSubset(NewSubset([]uint64{4, 2}, []uint64{2, 1}))
	require.True(t, zarrerr.IsOutOfBounds(err), "got %v", err)

	inner, sharded := a.InnerChunkShape()
	require.Equal(t, []uint64{2, 2}, inner)
	require.False(t, sharded)
}

func TestChunkRoundTrip(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{4, 4}, mustDataType(t, "uint8"), []uint64{2, 2})
	a, err := CreateArray(ctx, st, "bytes", md)
	require.NoError(t, err)
	defer a.Close()

	random := rand.New(rand.NewSource(7))
	want := map[string][]byte{}
	for i := uint64(0); i < 2; i++ {
		for j := uint64(0); j < 2; j++ {
			data := randutil.Bytes(random, 4)
			want[fmt.Sprintf("%d/%d", i, j)] = data
			require.NoError(t, a.StoreChunk(ctx, []uint64{i, j}, data))
		}
	}
	exists, err := st.Store().Exists(ctx, "bytes/c/0/0")
	require.NoError(t, err)
	require.True(t, exists)

	for i := uint64(0); i < 2; i++ {
		for j := uint64(0); j < 2; j++ {
			got, err := a.RetrieveChunk(ctx, []uint64{i, j})
			require.NoError(t, err)
			require.Equal(t, want[fmt.Sprintf("%d/%d", i, j)], got)

			// For a flat array the inner chunk view is the chunk view.
			got, err = a.RetrieveInnerChunk(ctx, []uint64{i, j})
			require.NoError(t, err)
			require.Equal(t, want[fmt.Sprintf("%d/%d", i, j)], got)
		}
	}

	dst := make([]byte, 4)
	require.NoError(t, a.RetrieveChunkInto(ctx, []uint64{1, 0}, dst))
	require.Equal(t, want["1/0"], dst)
	require.YesError(t, a.RetrieveChunkInto(ctx, []uint64{1, 0}, make([]byte, 3)))
}

func TestEdgeChunkClipped(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{5, 3}, mustDataType(t, "int32"), []uint64{2, 2})
	a, err := CreateArray(ctx, st, "edges", md)
	require.NoError(t, err)
	defer a.Close()

	// The corner chunk holds a single element; writes and reads use the
	// clipped size even though storage keeps a full 2x2 chunk.
	require.NoError(t, a.StoreChunk(ctx, []uint64{2, 1}, i32le(42)))
	got, err := a.RetrieveChunk(ctx, []uint64{2, 1})
	require.NoError(t, err)
	require.Equal(t, i32le(42), got)

	err = a.StoreChunk(ctx, []uint64{2, 1}, i32le(1, 2, 3, 4))
	require.YesError(t, err)

	stored, err := st.Store().Get(ctx, "edges/c/2/1")
	require.NoError(t, err)
	require.Equal(t, 16, len(stored))
}

func TestFillValueReads(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{4, 4}, mustDataType(t, "int32"), []uint64{2, 2})
	md.FillValue = json.RawMessage("7")
	a, err := CreateArray(ctx, st, "filled", md)
	require.NoError(t, err)
	defer a.Close()
	require.Equal(t, i32le(7), a.FillValue())

	// Nothing has been written, so every read materializes fill values.
	got, err := a.RetrieveChunk(ctx, []uint64{1, 1})
	require.NoError(t, err)
	require.Equal(t, i32le(7, 7, 7, 7), got)

	got, err = a.RetrieveSubset(ctx, NewSubset([]uint64{1, 1}, []uint64{2, 2}))
	require.NoError(t, err)
	require.Equal(t, i32le(7, 7, 7, 7), got)

	require.NoError(t, a.StoreChunk(ctx, []uint64{0, 0}, i32le(1, 7, 7, 7)))
	got, err = a.RetrieveSubset(ctx, NewSubset([]uint64{0, 0}, []uint64{2, 2}))
	require.NoError(t, err)
	require.Equal(t, i32le(1, 7, 7, 7), got)
}

func TestStoreSubsetAcrossChunks(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{4, 4}, mustDataType(t, "float32"), []uint64{2, 2})
	a, err := CreateArray(ctx, st, "scatter", md)
	require.NoError(t, err)
	defer a.Close()

	// A 2x2 write at (1, 1) touches the corner of all four chunks.
	s := NewSubset([]uint64{1, 1}, []uint64{2, 2})
	require.NoError(t, a.StoreSubset(ctx, s, f32le(-1, -2, -3, -4)))

	got, err := a.RetrieveChunk(ctx, []uint64{0, 0})
	require.NoError(t, err)
	require.Equal(t, f32le(0, 0, 0, -1), got)
	got, err = a.RetrieveChunk(ctx, []uint64{0, 1})
	require.NoError(t, err)
	require.Equal(t, f32le(0, 0, -2, 0), got)
	got, err = a.RetrieveChunk(ctx, []uint64{1, 0})
	require.NoError(t, err)
	require.Equal(t, f32le(0, -3, 0, 0), got)
	got, err = a.RetrieveChunk(ctx, []uint64{1, 1})
	require.NoError(t, err)
	require.Equal(t, f32le(-4, 0, 0, 0), got)

	got, err = a.RetrieveSubset(ctx, s)
	require.NoError(t, err)
	require.Equal(t, f32le(-1, -2, -3, -4), got)

	got, err = a.RetrieveSubset(ctx, WholeArray(a.Shape()))
	require.NoError(t, err)
	require.Equal(t, f32le(
		0, 0, 0, 0,
		0, -1, -2, 0,
		0, -3, -4, 0,
		0, 0, 0, 0,
	), got)

	dst := make([]byte, 16)
	require.NoError(t, a.RetrieveSubsetInto(ctx, s, dst))
	require.Equal(t, f32le(-1, -2, -3, -4), dst)
	require.YesError(t, a.RetrieveSubsetInto(ctx, s, make([]byte, 15)))
}

func TestStoreSubsetReadModifyWrite(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{2, 2}, mustDataType(t, "int32"), []uint64{2, 2})
	a, err := CreateArray(ctx, st, "rmw", md)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.StoreChunk(ctx, []uint64{0, 0}, i32le(1, 2, 3, 4)))
	require.NoError(t, a.StoreSubset(ctx, NewSubset([]uint64{0, 0}, []uint64{1, 2}), i32le(9, 8)))

	got, err := a.RetrieveChunk(ctx, []uint64{0, 0})
	require.NoError(t, err)
	require.Equal(t, i32le(9, 8, 3, 4), got)
}

func TestLargeSubsetRoundTrip(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{256, 256}, mustDataType(t, "uint8"), []uint64{64, 64})
	md.Codecs = append(md.Codecs, codec.Spec{Name: "zstd", Configuration: json.RawMessage(`{"level": 3}`)})
	a, err := CreateArray(ctx, st, "big", md)
	require.NoError(t, err)
	defer a.Close()

	random := rand.New(rand.NewSource(99))
	data := randutil.Bytes(random, 64*units.KiB)
	require.NoError(t, a.StoreSubset(ctx, WholeArray(a.Shape()), data))

	got, err := a.RetrieveSubset(ctx, WholeArray(a.Shape()))
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, got))

	// A window not aligned to any chunk boundary.
	window := NewSubset([]uint64{30, 100}, []uint64{5, 7})
	got, err = a.RetrieveSubset(ctx, window)
	require.NoError(t, err)
	want := make([]byte, 0, 35)
	for r := uint64(30); r < 35; r++ {
		want = append(want, data[r*256+100:r*256+107]...)
	}
	require.Equal(t, want, got)
}

func TestOutOfBoundsDoesNotTouchStorage(t *testing.T) {
	ctx := pctx.TestContext(t)
	st, counting := countingStorage(t)

	md := NewArrayMetadata([]uint64{5, 3}, mustDataType(t, "float32"), []uint64{2, 2})
	a, err := CreateArray(ctx, st, "oob", md)
	require.NoError(t, err)
	defer a.Close()
	counting.Reset()

	_, err = a.RetrieveChunk(ctx, []uint64{3, 0})
	require.True(t, zarrerr.IsOutOfBounds(err), "got %v", err)
	_, err = a.RetrieveChunk(ctx, []uint64{0})
	require.True(t, zarrerr.IsOutOfBounds(err), "got %v", err)
	err = a.StoreChunk(ctx, []uint64{0, 3}, make([]byte, 16))
	require.True(t, zarrerr.IsOutOfBounds(err), "got %v", err)
	_, err = a.RetrieveSubset(ctx, NewSubset([]uint64{4, 2}, []uint64{2, 1}))
	require.True(t, zarrerr.IsOutOfBounds(err), "got %v", err)
	err = a.StoreSubset(ctx, NewSubset([]uint64{0, 0}, []uint64{6, 3}), nil)
	require.True(t, zarrerr.IsOutOfBounds(err), "got %v", err)
	_, err = a.RetrieveChunks(ctx, NewSubset([]uint64{3, 0}, []uint64{1, 1}))
	require.True(t, zarrerr.IsOutOfBounds(err), "got %v", err)

	// A size mismatch is caught before any backend traffic too.
	err = a.StoreChunk(ctx, []uint64{0, 0}, make([]byte, 15))
	require.YesError(t, err)

	require.Equal(t, int64(0), counting.Total())
}

func TestEmptyChunkElision(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{2, 2}, mustDataType(t, "int32"), []uint64{2, 2})
	a, err := CreateArray(ctx, st, "sparse", md)
	require.NoError(t, err)
	defer a.Close()

	chunkExists := func(path string) bool {
		exists, err := st.Store().Exists(ctx, path+"/c/0/0")
		require.NoError(t, err)
		return exists
	}

	require.NoError(t, a.StoreChunk(ctx, []uint64{0, 0}, i32le(0, 0, 0, 0)))
	require.False(t, chunkExists("sparse"))

	require.NoError(t, a.StoreChunk(ctx, []uint64{0, 0}, i32le(1, 2, 3, 4)))
	require.True(t, chunkExists("sparse"))

	// Overwriting with fill deletes the chunk again.
	require.NoError(t, a.StoreChunk(ctx, []uint64{0, 0}, i32le(0, 0, 0, 0)))
	require.False(t, chunkExists("sparse"))
	got, err := a.RetrieveChunk(ctx, []uint64{0, 0})
	require.NoError(t, err)
	require.Equal(t, i32le(0, 0, 0, 0), got)

	cfg := DefaultConfig()
	cfg.StoreEmptyChunks = true
	b, err := CreateArray(ctx, st, "dense", md, WithConfig(cfg))
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.StoreChunk(ctx, []uint64{0, 0}, i32le(0, 0, 0, 0)))
	require.True(t, chunkExists("dense"))
}

func TestStoreChunksRect(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{5, 4}, mustDataType(t, "uint8"), []uint64{2, 2})
	a, err := CreateArray(ctx, st, "rect", md)
	require.NoError(t, err)
	defer a.Close()

	// A 2x2 rectangle of chunks covers the 4x4 element block at the origin.
	chunks := NewSubset([]uint64{0, 0}, []uint64{2, 2})
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i + 1)
	}
	require.NoError(t, a.StoreChunks(ctx, chunks, data))

	got, err := a.RetrieveChunks(ctx, chunks)
	require.NoError(t, err)
	require.Equal(t, data, got)

	got, err = a.RetrieveSubset(ctx, NewSubset([]uint64{0, 0}, []uint64{4, 4}))
	require.NoError(t, err)
	require.Equal(t, data, got)

	// The chunk rectangle at the far corner is clipped to the array: chunk
	// (2, 1) holds a single row of two elements.
	corner := NewSubset([]uint64{2, 1}, []uint64{1, 1})
	require.NoError(t, a.StoreChunks(ctx, corner, []byte{9, 9}))
	got, err = a.RetrieveChunks(ctx, corner)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 9}, got)

	_, err = a.RetrieveChunks(ctx, NewSubset([]uint64{3, 0}, []uint64{1, 1}))
	require.True(t, zarrerr.IsOutOfBounds(err), "got %v", err)
}

func TestShardedRoundTrip(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{8, 8}, mustDataType(t, "uint16"), []uint64{4, 4})
	md.Codecs = shardingSpecs(`{"chunk_shape": [2, 2], ` + innerBytesCodecs + `}`)
	a, err := CreateArray(ctx, st, "sharded", md)
	require.NoError(t, err)
	defer a.Close()

	require.True(t, a.Sharded())
	require.Equal(t, []uint64{2, 2}, a.ChunkGridShape())
	require.Equal(t, []uint64{4, 4}, a.InnerChunkGridShape())
	inner, sharded := a.InnerChunkShape()
	require.Equal(t, []uint64{2, 2}, inner)
	require.True(t, sharded)

	random := rand.New(rand.NewSource(11))
	chunkData := map[string][]byte{}
	for i := uint64(0); i < 2; i++ {
		for j := uint64(0); j < 2; j++ {
			data := randutil.Bytes(random, 32)
			chunkData[fmt.Sprintf("%d/%d", i, j)] = data
			require.NoError(t, a.StoreChunk(ctx, []uint64{i, j}, data))
		}
	}

	// Each shard is a single object; the only other key is the metadata.
	var keys int
	require.NoError(t, st.Store().Walk(ctx, "sharded/", func(string) error {
		keys++
		return nil
	}))
	require.Equal(t, 5, keys)

	for i := uint64(0); i < 2; i++ {
		for j := uint64(0); j < 2; j++ {
			got, err := a.RetrieveChunk(ctx, []uint64{i, j})
			require.NoError(t, err)
			require.Equal(t, chunkData[fmt.Sprintf("%d/%d", i, j)], got)
		}
	}

	// Inner chunk (1, 1) is the 2x2 block of chunk (0, 0) starting at
	// element (2, 2).
	data := chunkData["0/0"]
	var want []byte
	for _, r := range []int{2, 3} {
		for _, c := range []int{2, 3} {
			off := (r*4 + c) * 2
			want = append(want, data[off], data[off+1])
		}
	}
	got, err := a.RetrieveInnerChunk(ctx, []uint64{1, 1})
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = a.RetrieveInnerChunk(ctx, []uint64{4, 0})
	require.True(t, zarrerr.IsOutOfBounds(err), "got %v", err)

	// A subset read straddling all four shards sees each shard's bytes.
	elem := func(r, c int) []byte {
		data := chunkData[fmt.Sprintf("%d/%d", r/4, c/4)]
		off := ((r%4)*4 + c%4) * 2
		return data[off : off+2]
	}
	want = nil
	for r := 3; r <= 4; r++ {
		for c := 3; c <= 4; c++ {
			want = append(want, elem(r, c)...)
		}
	}
	got, err = a.RetrieveSubset(ctx, NewSubset([]uint64{3, 3}, []uint64{2, 2}))
	require.NoError(t, err)
	require.Equal(t, want, got)

	// Writing a subset into sharded chunks reads back what was written.
	update := randutil.Bytes(random, 8)
	require.NoError(t, a.StoreSubset(ctx, NewSubset([]uint64{3, 3}, []uint64{2, 2}), update))
	got, err = a.RetrieveSubset(ctx, NewSubset([]uint64{3, 3}, []uint64{2, 2}))
	require.NoError(t, err)
	require.Equal(t, update, got)
}

func TestShardedCompressedInnerChunks(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{4, 4}, mustDataType(t, "uint8"), []uint64{4, 4})
	md.Codecs = shardingSpecs(`{"chunk_shape": [2, 2], "codecs": [` +
		`{"name": "bytes", "configuration": {"endian": "little"}}, ` +
		`{"name": "gzip", "configuration": {"level": 5}}]}`)
	a, err := CreateArray(ctx, st, "gz", md)
	require.NoError(t, err)
	defer a.Close()

	random := rand.New(rand.NewSource(3))
	data := randutil.Bytes(random, 16)
	require.NoError(t, a.StoreChunk(ctx, []uint64{0, 0}, data))

	got, err := a.RetrieveChunk(ctx, []uint64{0, 0})
	require.NoError(t, err)
	require.Equal(t, data, got)

	// Compressed inner chunks have varying sizes, so reads go through the
	// index offsets rather than fixed strides.
	got, err = a.RetrieveInnerChunk(ctx, []uint64{1, 0})
	require.NoError(t, err)
	require.Equal(t, []byte{data[8], data[9], data[12], data[13]}, got)
}

func TestShardedFillElision(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{8, 8}, mustDataType(t, "uint16"), []uint64{4, 4})
	md.Codecs = shardingSpecs(`{"chunk_shape": [2, 2], ` + innerBytesCodecs + `}`)
	a, err := CreateArray(ctx, st, "sparseshard", md)
	require.NoError(t, err)
	defer a.Close()

	// Writing an all-fill chunk writes no shard at all.
	require.NoError(t, a.StoreChunk(ctx, []uint64{0, 0}, make([]byte, 32)))
	exists, err := st.Store().Exists(ctx, "sparseshard/c/0/0")
	require.NoError(t, err)
	require.False(t, exists)

	// One non-fill inner chunk produces a shard; the other inner chunks
	// stay absent within it and read back as fill.
	vals := make([]uint16, 16)
	vals[0], vals[1], vals[4], vals[5] = 1, 2, 3, 4
	require.NoError(t, a.StoreChunk(ctx, []uint64{0, 0}, u16le(vals...)))
	exists, err = st.Store().Exists(ctx, "sparseshard/c/0/0")
	require.NoError(t, err)
	require.True(t, exists)

	got, err := a.RetrieveInnerChunk(ctx, []uint64{0, 0})
	require.NoError(t, err)
	require.Equal(t, u16le(1, 2, 3, 4), got)
	got, err = a.RetrieveInnerChunk(ctx, []uint64{0, 1})
	require.NoError(t, err)
	require.Equal(t, u16le(0, 0, 0, 0), got)

	got, err = a.RetrieveChunk(ctx, []uint64{0, 0})
	require.NoError(t, err)
	require.Equal(t, u16le(vals...), got)

	// Overwriting every element with fill deletes the shard.
	require.NoError(t, a.StoreChunk(ctx, []uint64{0, 0}, make([]byte, 32)))
	exists, err = st.Store().Exists(ctx, "sparseshard/c/0/0")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestShardIndexCacheReuse(t *testing.T) {
	ctx := pctx.TestContext(t)
	st, counting := countingStorage(t)
	cache := NewShardIndexCache()
	defer cache.Close()

	md := NewArrayMetadata([]uint64{8, 8}, mustDataType(t, "uint16"), []uint64{4, 4})
	md.Codecs = shardingSpecs(`{"chunk_shape": [2, 2], ` + innerBytesCodecs + `}`)
	a, err := CreateArray(ctx, st, "cached", md, WithShardIndexCache(cache))
	require.NoError(t, err)
	defer a.Close()

	vals := make([]uint16, 16)
	vals[0], vals[1], vals[4], vals[5] = 1, 2, 3, 4
	require.NoError(t, a.StoreChunk(ctx, []uint64{0, 0}, u16le(vals...)))
	counting.Reset()

	// Concurrent reads of an absent inner chunk share one index load: one
	// Size and one GetRange against the backend, and no data reads at all.
	const n = 8
	errs := make([]error, n)
	got := make([][]byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = a.RetrieveInnerChunk(ctx, []uint64{0, 1})
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, u16le(0, 0, 0, 0), got[i])
	}
	require.Equal(t, int64(1), counting.Sizes())
	require.Equal(t, int64(1), counting.GetRanges())
	require.Equal(t, int64(0), counting.Gets())
	require.Equal(t, 1, cache.Len())

	// A present inner chunk reuses the cached index and costs exactly one
	// ranged read for its payload.
	data, err := a.RetrieveInnerChunk(ctx, []uint64{0, 0})
	require.NoError(t, err)
	require.Equal(t, u16le(1, 2, 3, 4), data)
	require.Equal(t, int64(1), counting.Sizes())
	require.Equal(t, int64(2), counting.GetRanges())
}

func TestShardWriteRefreshesIndex(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)
	cache := NewShardIndexCache()
	defer cache.Close()

	md := NewArrayMetadata([]uint64{8, 8}, mustDataType(t, "uint16"), []uint64{4, 4})
	md.Codecs = shardingSpecs(`{"chunk_shape": [2, 2], ` + innerBytesCodecs + `}`)
	a, err := CreateArray(ctx, st, "refresh", md, WithShardIndexCache(cache))
	require.NoError(t, err)
	defer a.Close()

	v1 := make([]uint16, 16)
	v1[0], v1[1], v1[4], v1[5] = 1, 2, 3, 4
	require.NoError(t, a.StoreChunk(ctx, []uint64{0, 0}, u16le(v1...)))
	got, err := a.RetrieveInnerChunk(ctx, []uint64{0, 0})
	require.NoError(t, err)
	require.Equal(t, u16le(1, 2, 3, 4), got)

	// The rewrite moves the payload to a different inner chunk.  A stale
	// index would still claim (0, 0) is present at the old offset.
	v2 := make([]uint16, 16)
	v2[2], v2[3], v2[6], v2[7] = 5, 6, 7, 8
	require.NoError(t, a.StoreChunk(ctx, []uint64{0, 0}, u16le(v2...)))

	got, err = a.RetrieveInnerChunk(ctx, []uint64{0, 0})
	require.NoError(t, err)
	require.Equal(t, u16le(0, 0, 0, 0), got)
	got, err = a.RetrieveInnerChunk(ctx, []uint64{0, 1})
	require.NoError(t, err)
	require.Equal(t, u16le(5, 6, 7, 8), got)
}

func TestShardIndexCacheAcrossHandles(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)
	cacheA := NewShardIndexCache()
	defer cacheA.Close()
	cacheB := NewShardIndexCache()
	defer cacheB.Close()

	md := NewArrayMetadata([]uint64{8, 8}, mustDataType(t, "uint16"), []uint64{4, 4})
	md.Codecs = shardingSpecs(`{"chunk_shape": [2, 2], ` + innerBytesCodecs + `}`)
	a, err := CreateArray(ctx, st, "handles", md, WithShardIndexCache(cacheA))
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenArray(ctx, st, "handles", WithShardIndexCache(cacheB))
	require.NoError(t, err)
	defer b.Close()

	v1 := make([]uint16, 16)
	v1[0], v1[1], v1[4], v1[5] = 1, 2, 3, 4
	require.NoError(t, a.StoreChunk(ctx, []uint64{0, 0}, u16le(v1...)))

	got, err := b.RetrieveInnerChunk(ctx, []uint64{0, 0})
	require.NoError(t, err)
	require.Equal(t, u16le(1, 2, 3, 4), got)
	require.Equal(t, 1, cacheB.Len())

	// A writer only invalidates its own cache; other handles drop their
	// stale entries explicitly.
	v2 := make([]uint16, 16)
	v2[2], v2[3], v2[6], v2[7] = 5, 6, 7, 8
	require.NoError(t, a.StoreChunk(ctx, []uint64{0, 0}, u16le(v2...)))
	require.Equal(t, 1, cacheB.Len())

	require.NoError(t, cacheB.Invalidate(b, []uint64{0, 0}))
	require.Equal(t, 0, cacheB.Len())
	got, err = b.RetrieveInnerChunk(ctx, []uint64{0, 0})
	require.NoError(t, err)
	require.Equal(t, u16le(0, 0, 0, 0), got)

	require.Equal(t, 1, cacheB.Len())
	cacheB.InvalidateArray(b)
	require.Equal(t, 0, cacheB.Len())

	err = cacheB.Invalidate(b, []uint64{9, 9})
	require.True(t, zarrerr.IsOutOfBounds(err), "got %v", err)
}

func TestHandleLifetime(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := OpenMem()

	md := NewArrayMetadata([]uint64{4, 4}, mustDataType(t, "uint8"), []uint64{2, 2})
	a, err := CreateArray(ctx, st, "life", md)
	require.NoError(t, err)

	// The storage handle cannot close while the array holds it.
	err = st.Close()
	require.True(t, zarrerr.IsBusy(err), "got %v", err)

	// The failed Close left the handle usable.
	_, err = a.RetrieveChunk(ctx, []uint64{0, 0})
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err = a.RetrieveChunk(ctx, []uint64{0, 0})
	require.True(t, zarrerr.IsClosed(err), "got %v", err)
	err = a.StoreChunk(ctx, []uint64{0, 0}, make([]byte, 4))
	require.True(t, zarrerr.IsClosed(err), "got %v", err)
	err = a.SetAttributes(ctx, map[string]interface{}{"k": "v"})
	require.True(t, zarrerr.IsClosed(err), "got %v", err)

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	_, err = OpenArray(ctx, st, "life")
	require.True(t, zarrerr.IsClosed(err), "got %v", err)
	_, err = CreateArray(ctx, st, "other", md)
	require.True(t, zarrerr.IsClosed(err), "got %v", err)
}

func TestSetAttributes(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{2, 2}, mustDataType(t, "uint8"), []uint64{2, 2})
	a, err := CreateArray(ctx, st, "attrs", md)
	require.NoError(t, err)

	require.NoError(t, a.SetAttributes(ctx, map[string]interface{}{
		"experiment": "run-7",
		"iteration":  3,
	}))
	require.Equal(t, map[string]interface{}{
		"experiment": "run-7",
		"iteration":  float64(3),
	}, a.Attributes())

	// Mutating the returned copy does not touch the handle's snapshot.
	attrs := a.Attributes()
	attrs["experiment"] = "tampered"
	require.Equal(t, "run-7", a.Attributes()["experiment"])
	require.NoError(t, a.Close())

	// The update went through storage, so a fresh handle sees it.
	b, err := OpenArray(ctx, st, "attrs")
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, "run-7", b.Attributes()["experiment"])
	require.Equal(t, float64(3), b.Attributes()["iteration"])

	s, err := b.AttributesString(false)
	require.NoError(t, err)
	require.Equal(t, `{"experiment":"run-7","iteration":3}`, s)
}

func TestZeroDimensionalArray(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	md := NewArrayMetadata([]uint64{}, mustDataType(t, "float64"), []uint64{})
	a, err := CreateArray(ctx, st, "scalar", md)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, 0, a.Dimensionality())
	require.Equal(t, []uint64{}, a.Shape())
	require.Equal(t, []uint64{}, a.ChunkGridShape())
	size, err := a.ChunkSize([]uint64{})
	require.NoError(t, err)
	require.Equal(t, uint64(8), size)

	require.NoError(t, a.StoreChunk(ctx, []uint64{}, f64le(3.5)))
	exists, err := st.Store().Exists(ctx, "scalar/c")
	require.NoError(t, err)
	require.True(t, exists)

	got, err := a.RetrieveChunk(ctx, []uint64{})
	require.NoError(t, err)
	require.Equal(t, f64le(3.5), got)

	got, err = a.RetrieveSubset(ctx, WholeArray(nil))
	require.NoError(t, err)
	require.Equal(t, f64le(3.5), got)

	// Writing the fill value deletes the single chunk.
	require.NoError(t, a.StoreChunk(ctx, []uint64{}, f64le(0)))
	exists, err = st.Store().Exists(ctx, "scalar/c")
	require.NoError(t, err)
	require.False(t, exists)
	got, err = a.RetrieveChunk(ctx, []uint64{})
	require.NoError(t, err)
	require.Equal(t, f64le(0), got)
}
