package zarr

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/chunkgrid/zarr/internal/errors"
	"github.com/chunkgrid/zarr/zarrerr"
)

// RetrieveChunk returns the decoded elements of the chunk at idx, shaped by
// ChunkShape.  A chunk with no stored bytes decodes to fill values; that is
// the normal sparse state, not an error.
func (a *Array) RetrieveChunk(ctx context.Context, idx []uint64) ([]byte, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if err := a.grid.validateChunk(idx); err != nil {
		return nil, err
	}
	full, err := a.retrieveChunkFull(ctx, idx)
	if err != nil {
		return nil, err
	}
	return a.clipChunk(idx, full), nil
}

// RetrieveChunkInto decodes the chunk at idx into dst, which must be sized
// exactly by ChunkSize.
func (a *Array) RetrieveChunkInto(ctx context.Context, idx []uint64, dst []byte) error {
	decoded, err := a.RetrieveChunk(ctx, idx)
	if err != nil {
		return err
	}
	if uint64(len(dst)) != uint64(len(decoded)) {
		return errors.Errorf("destination is %d bytes, chunk is %d", len(dst), len(decoded))
	}
	copy(dst, decoded)
	return nil
}

// retrieveChunkFull returns the chunk at idx decoded to the full chunk
// shape, with edge padding still in place.
func (a *Array) retrieveChunkFull(ctx context.Context, idx []uint64) ([]byte, error) {
	key := a.chunkStorageKey(idx)
	if a.shard != nil {
		return a.retrieveShard(ctx, key)
	}
	size, _ := a.grid.chunkBytes()
	encoded, err := a.store.Get(ctx, key)
	if err != nil {
		if zarrerr.IsNotExist(err) {
			return a.fillBytes(size), nil
		}
		return nil, zarrerr.WrapStorage(err, "get", key)
	}
	decoded, err := a.pipeline.Decode(encoded, size)
	if err != nil {
		return nil, zarrerr.WrapCorrupt(err, key)
	}
	return decoded, nil
}

// retrieveShard reads a whole shard and assembles its inner chunks into one
// full-chunk buffer.
func (a *Array) retrieveShard(ctx context.Context, key string) ([]byte, error) {
	si := a.shard
	size, _ := a.grid.chunkBytes()
	shard, err := a.store.Get(ctx, key)
	if err != nil {
		if zarrerr.IsNotExist(err) {
			return a.fillBytes(size), nil
		}
		return nil, zarrerr.WrapStorage(err, "get", key)
	}
	off, length, err := si.indexRange(int64(len(shard)))
	if err != nil {
		return nil, zarrerr.WrapCorrupt(err, key)
	}
	ix, err := si.parseIndex(shard[off : off+length])
	if err != nil {
		return nil, zarrerr.WrapCorrupt(err, key)
	}
	out := a.fillBytes(size)
	d := len(si.perShard)
	lo := make([]uint64, d)
	hi := make([]uint64, d)
	for i := range hi {
		hi[i] = si.perShard[i] - 1
	}
	zero := make([]uint64, d)
	err = forEachChunk(lo, hi, func(within []uint64) error {
		enc, err := ix.innerSlice(shard, si.innerOffset(within))
		if err != nil {
			return zarrerr.WrapCorrupt(err, key)
		}
		if enc == nil {
			return nil
		}
		decoded, err := si.innerPipeline.Decode(enc, si.innerBytes)
		if err != nil {
			return zarrerr.WrapCorrupt(err, key)
		}
		start := make([]uint64, d)
		for i := range within {
			start[i] = within[i] * si.innerShape[i]
		}
		copyRegion(out, a.grid.chunkShape, start, decoded, si.innerShape, zero, si.innerShape, a.grid.elemSize)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// clipChunk crops a full-shape chunk buffer to the clipped shape of the
// chunk at idx.  Interior chunks come back unchanged.
func (a *Array) clipChunk(idx []uint64, full []byte) []byte {
	cs := a.grid.chunkSubset(idx)
	if equalShape(cs.Shape, a.grid.chunkShape) {
		return full
	}
	out := make([]byte, a.SubsetSize(cs.Shape))
	zero := make([]uint64, len(cs.Shape))
	copyRegion(out, cs.Shape, zero, full, a.grid.chunkShape, zero, cs.Shape, a.grid.elemSize)
	return out
}

// RetrieveSubset returns the decoded elements of an arbitrary rectangular
// subset, gathered across every intersecting chunk.
func (a *Array) RetrieveSubset(ctx context.Context, s Subset) ([]byte, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if err := a.grid.validateSubset(s); err != nil {
		return nil, err
	}
	size := a.SubsetSize(s.Shape)
	if size > math.MaxInt {
		return nil, errors.Errorf("subset of %d bytes does not fit in memory", size)
	}
	dst := make([]byte, size)
	if err := a.retrieveSubsetInto(ctx, s, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// RetrieveSubsetInto decodes a subset into dst, which must be sized exactly
// by SubsetSize of the subset's shape.
func (a *Array) RetrieveSubsetInto(ctx context.Context, s Subset, dst []byte) error {
	if err := a.check(); err != nil {
		return err
	}
	if err := a.grid.validateSubset(s); err != nil {
		return err
	}
	if uint64(len(dst)) != a.SubsetSize(s.Shape) {
		return errors.Errorf("destination is %d bytes, subset is %d", len(dst), a.SubsetSize(s.Shape))
	}
	return a.retrieveSubsetInto(ctx, s, dst)
}

func (a *Array) retrieveSubsetInto(ctx context.Context, s Subset, dst []byte) error {
	lo, hi, empty := a.grid.chunksInSubset(s)
	if empty {
		return nil
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(a.concurrency())
	// Distinct chunks land in disjoint regions of dst, so the goroutines
	// never overlap their writes.
	_ = forEachChunk(lo, hi, func(idx []uint64) error {
		eg.Go(func() error {
			return a.retrieveChunkRegion(ctx, idx, s, dst)
		})
		return nil
	})
	return eg.Wait()
}

// retrieveChunkRegion copies the part of s covered by the chunk at idx into
// dst.
func (a *Array) retrieveChunkRegion(ctx context.Context, idx []uint64, s Subset, dst []byte) error {
	chunkRegion := a.grid.chunkSubset(idx)
	overlap, empty := intersect(s, chunkRegion)
	if empty {
		return nil
	}
	if a.shard != nil {
		return a.retrieveShardRegion(ctx, idx, chunkRegion, overlap, s, dst)
	}
	full, err := a.retrieveChunkFull(ctx, idx)
	if err != nil {
		return err
	}
	local := overlap.relativeTo(chunkRegion.Start)
	dstLocal := overlap.relativeTo(s.Start)
	copyRegion(dst, s.Shape, dstLocal.Start, full, a.grid.chunkShape, local.Start, overlap.Shape, a.grid.elemSize)
	return nil
}

// retrieveShardRegion reads only the inner chunks of one shard that the
// request touches, located through the shard index, with a ranged read per
// present inner chunk.
func (a *Array) retrieveShardRegion(ctx context.Context, idx []uint64, chunkRegion, overlap, s Subset, dst []byte) error {
	si := a.shard
	key := a.chunkStorageKey(idx)
	ix, err := a.shardIndex(ctx, idx, key)
	if err != nil {
		return err
	}
	local := overlap.relativeTo(chunkRegion.Start)
	d := len(si.innerShape)
	lo := make([]uint64, d)
	hi := make([]uint64, d)
	for i := 0; i < d; i++ {
		lo[i] = local.Start[i] / si.innerShape[i]
		hi[i] = (local.end(i) - 1) / si.innerShape[i]
	}
	return forEachChunk(lo, hi, func(within []uint64) error {
		innerOrigin := make([]uint64, d)
		for i := range within {
			innerOrigin[i] = within[i] * si.innerShape[i]
		}
		innerOverlap, empty := intersect(local, Subset{Start: innerOrigin, Shape: si.innerShape})
		if empty {
			return nil
		}
		dstStart := make([]uint64, d)
		for i := range dstStart {
			dstStart[i] = innerOverlap.Start[i] + chunkRegion.Start[i] - s.Start[i]
		}
		offset, n, present := ix.entry(si.innerOffset(within))
		if !present {
			fillRegion(dst, s.Shape, dstStart, innerOverlap.Shape, a.fill)
			return nil
		}
		decoded, err := a.readInnerChunk(ctx, key, offset, n)
		if err != nil {
			return err
		}
		srcLocal := innerOverlap.relativeTo(innerOrigin)
		copyRegion(dst, s.Shape, dstStart, decoded, si.innerShape, srcLocal.Start, innerOverlap.Shape, a.grid.elemSize)
		return nil
	})
}

// RetrieveChunks returns the decoded elements covered by a rectangle of
// chunks, as a single subset read.
func (a *Array) RetrieveChunks(ctx context.Context, chunks Subset) ([]byte, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	s, err := a.chunksExtent(chunks)
	if err != nil {
		return nil, err
	}
	return a.RetrieveSubset(ctx, s)
}

// RetrieveInnerChunk returns the decoded elements of one inner chunk of a
// sharded array, clipped to the array bounds.  For a flat array inner
// chunks are the chunks themselves.
func (a *Array) RetrieveInnerChunk(ctx context.Context, idx []uint64) ([]byte, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if a.shard == nil {
		return a.RetrieveChunk(ctx, idx)
	}
	si := a.shard
	innerGrid := a.InnerChunkGridShape()
	if len(idx) != len(innerGrid) {
		return nil, zarrerr.NewOutOfBounds("inner chunk indices", idx, innerGrid)
	}
	for i := range idx {
		if idx[i] >= innerGrid[i] {
			return nil, zarrerr.NewOutOfBounds("inner chunk indices", idx, innerGrid)
		}
	}
	d := len(idx)
	outer := make([]uint64, d)
	within := make([]uint64, d)
	for i := range idx {
		outer[i] = idx[i] / si.perShard[i]
		within[i] = idx[i] % si.perShard[i]
	}
	key := a.chunkStorageKey(outer)
	ix, err := a.shardIndex(ctx, outer, key)
	if err != nil {
		return nil, err
	}
	offset, n, present := ix.entry(si.innerOffset(within))
	var full []byte
	if present {
		full, err = a.readInnerChunk(ctx, key, offset, n)
		if err != nil {
			return nil, err
		}
	} else {
		full = a.fillBytes(si.innerBytes)
	}
	// Clip inner chunks that hang over the array edge.
	shape := make([]uint64, d)
	for i := range shape {
		origin := idx[i] * si.innerShape[i]
		shape[i] = si.innerShape[i]
		if rem := a.grid.arrayShape[i] - origin; rem < shape[i] {
			shape[i] = rem
		}
	}
	if equalShape(shape, si.innerShape) {
		return full, nil
	}
	out := make([]byte, a.SubsetSize(shape))
	zero := make([]uint64, d)
	copyRegion(out, shape, zero, full, si.innerShape, zero, shape, a.grid.elemSize)
	return out, nil
}

// readInnerChunk issues the ranged read for one present inner chunk and
// decodes it.
func (a *Array) readInnerChunk(ctx context.Context, key string, offset, n uint64) ([]byte, error) {
	if offset > math.MaxInt64 || n > math.MaxInt64 || offset+n < offset {
		return nil, zarrerr.WrapCorrupt(errors.Errorf("inner chunk range [%d, +%d) overflows", offset, n), key)
	}
	enc, err := a.store.GetRange(ctx, key, int64(offset), int64(n))
	if err != nil {
		return nil, zarrerr.WrapStorage(err, "get range", key)
	}
	decoded, err := a.shard.innerPipeline.Decode(enc, a.shard.innerBytes)
	if err != nil {
		return nil, zarrerr.WrapCorrupt(err, key)
	}
	return decoded, nil
}

// shardIndex returns the decoded index of the shard at idx, through the
// attached cache when one is present.
func (a *Array) shardIndex(ctx context.Context, idx []uint64, key string) (*shardIndex, error) {
	if a.cache == nil {
		return a.loadShardIndex(ctx, key)
	}
	return a.cache.getOrLoad(ctx, a.cacheKey(idx), func(ctx context.Context) (*shardIndex, error) {
		return a.loadShardIndex(ctx, key)
	})
}

// loadShardIndex reads and parses the index region of one shard.  An absent
// shard parses as the all-absent index: every inner chunk reads as fill.
func (a *Array) loadShardIndex(ctx context.Context, key string) (*shardIndex, error) {
	si := a.shard
	off, length := int64(0), si.indexBytes
	if si.indexAtEnd {
		size, err := a.store.Size(ctx, key)
		if err != nil {
			if zarrerr.IsNotExist(err) {
				return newEmptyShardIndex(si.numInner), nil
			}
			return nil, zarrerr.WrapStorage(err, "size", key)
		}
		if off, length, err = si.indexRange(size); err != nil {
			return nil, zarrerr.WrapCorrupt(err, key)
		}
	}
	encoded, err := a.store.GetRange(ctx, key, off, length)
	if err != nil {
		if zarrerr.IsNotExist(err) {
			return newEmptyShardIndex(si.numInner), nil
		}
		return nil, zarrerr.WrapStorage(err, "get range", key)
	}
	ix, err := si.parseIndex(encoded)
	if err != nil {
		return nil, zarrerr.WrapCorrupt(err, key)
	}
	return ix, nil
}

// fillBytes returns n bytes of repeated fill element.
func (a *Array) fillBytes(n int) []byte {
	buf := make([]byte, n)
	if !allZero(a.fill) {
		fillBuffer(buf, a.fill)
	}
	return buf
}
