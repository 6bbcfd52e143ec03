package zarr

import (
	"bytes"
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/chunkgrid/zarr/internal/errors"
	"github.com/chunkgrid/zarr/zarrerr"
)

// StoreChunk encodes and writes the chunk at idx.  data must hold the
// chunk's elements shaped by ChunkShape.  When the chunk is entirely fill
// values and StoreEmptyChunks is off, the backing key is deleted instead;
// either way a later read returns the same elements.
func (a *Array) StoreChunk(ctx context.Context, idx []uint64, data []byte) error {
	if err := a.check(); err != nil {
		return err
	}
	if err := a.grid.validateChunk(idx); err != nil {
		return err
	}
	cs := a.grid.chunkSubset(idx)
	if uint64(len(data)) != a.SubsetSize(cs.Shape) {
		return errors.Errorf("data is %d bytes, chunk is %d", len(data), a.SubsetSize(cs.Shape))
	}
	full := data
	if !equalShape(cs.Shape, a.grid.chunkShape) {
		// Edge chunk: pad out to the full chunk shape with fill.
		size, _ := a.grid.chunkBytes()
		full = a.fillBytes(size)
		zero := make([]uint64, len(cs.Shape))
		copyRegion(full, a.grid.chunkShape, zero, data, cs.Shape, zero, cs.Shape, a.grid.elemSize)
	}
	return a.storeChunkFull(ctx, idx, full)
}

// storeChunkFull writes a full-shape chunk buffer.
func (a *Array) storeChunkFull(ctx context.Context, idx []uint64, full []byte) error {
	key := a.chunkStorageKey(idx)
	if a.shard != nil {
		return a.storeShard(ctx, idx, key, full)
	}
	if !a.config.StoreEmptyChunks && isFill(full, a.fill) {
		if err := a.store.Delete(ctx, key); err != nil {
			return zarrerr.WrapStorage(err, "delete", key)
		}
		return nil
	}
	encoded, err := a.pipeline.Encode(full)
	if err != nil {
		return zarrerr.WrapEncode(err, a.pipeline.Name())
	}
	if err := a.store.Put(ctx, key, encoded); err != nil {
		return zarrerr.WrapStorage(err, "put", key)
	}
	return nil
}

// storeShard encodes a full-shape chunk buffer as a shard and replaces the
// stored shard wholesale.
func (a *Array) storeShard(ctx context.Context, idx []uint64, key string, full []byte) error {
	si := a.shard
	payloads := make([][]byte, si.numInner)
	d := len(si.perShard)
	lo := make([]uint64, d)
	hi := make([]uint64, d)
	for i := range hi {
		hi[i] = si.perShard[i] - 1
	}
	zero := make([]uint64, d)
	err := forEachChunk(lo, hi, func(within []uint64) error {
		inner := make([]byte, si.innerBytes)
		start := make([]uint64, d)
		for i := range within {
			start[i] = within[i] * si.innerShape[i]
		}
		copyRegion(inner, si.innerShape, zero, full, a.grid.chunkShape, start, si.innerShape, a.grid.elemSize)
		if !a.config.StoreEmptyChunks && isFill(inner, a.fill) {
			return nil
		}
		enc, err := si.innerPipeline.Encode(inner)
		if err != nil {
			return zarrerr.WrapEncode(err, si.innerPipeline.Name())
		}
		payloads[si.innerOffset(within)] = enc
		return nil
	})
	if err != nil {
		return err
	}
	shard, err := si.buildShard(payloads)
	if err != nil {
		return zarrerr.WrapEncode(err, shardingCodecName)
	}
	// The stored bytes change from here on; any cached index for this
	// shard is stale, including one loaded while the write was in flight.
	defer a.invalidateChunk(idx)
	if shard == nil {
		if err := a.store.Delete(ctx, key); err != nil {
			return zarrerr.WrapStorage(err, "delete", key)
		}
		return nil
	}
	if err := a.store.Put(ctx, key, shard); err != nil {
		return zarrerr.WrapStorage(err, "put", key)
	}
	return nil
}

func (a *Array) invalidateChunk(idx []uint64) {
	if a.cache != nil && a.shard != nil {
		a.cache.invalidateKey(a.cacheKey(idx))
	}
}

// StoreSubset writes an arbitrary rectangular subset, scattering across
// every intersecting chunk.  Partially covered chunks are read, modified
// and written back.  On failure some chunks may already be written and
// others not; the operation is not atomic across chunks.
func (a *Array) StoreSubset(ctx context.Context, s Subset, data []byte) error {
	if err := a.check(); err != nil {
		return err
	}
	if err := a.grid.validateSubset(s); err != nil {
		return err
	}
	if uint64(len(data)) != a.SubsetSize(s.Shape) {
		return errors.Errorf("data is %d bytes, subset is %d", len(data), a.SubsetSize(s.Shape))
	}
	lo, hi, empty := a.grid.chunksInSubset(s)
	if empty {
		return nil
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(a.concurrency())
	_ = forEachChunk(lo, hi, func(idx []uint64) error {
		eg.Go(func() error {
			return a.storeChunkRegion(ctx, idx, s, data)
		})
		return nil
	})
	return eg.Wait()
}

// StoreChunks writes the elements covered by a rectangle of chunks, as a
// single subset write.
func (a *Array) StoreChunks(ctx context.Context, chunks Subset, data []byte) error {
	if err := a.check(); err != nil {
		return err
	}
	s, err := a.chunksExtent(chunks)
	if err != nil {
		return err
	}
	return a.StoreSubset(ctx, s, data)
}

// storeChunkRegion writes the part of s covered by the chunk at idx.
func (a *Array) storeChunkRegion(ctx context.Context, idx []uint64, s Subset, data []byte) error {
	chunkRegion := a.grid.chunkSubset(idx)
	overlap, empty := intersect(s, chunkRegion)
	if empty {
		return nil
	}
	var full []byte
	if equalShape(overlap.Shape, chunkRegion.Shape) {
		// Fully covered: no read back, start from fill padding.
		size, _ := a.grid.chunkBytes()
		full = a.fillBytes(size)
	} else {
		var err error
		full, err = a.retrieveChunkFull(ctx, idx)
		if err != nil {
			return err
		}
	}
	local := overlap.relativeTo(chunkRegion.Start)
	srcLocal := overlap.relativeTo(s.Start)
	copyRegion(full, a.grid.chunkShape, local.Start, data, s.Shape, srcLocal.Start, overlap.Shape, a.grid.elemSize)
	return a.storeChunkFull(ctx, idx, full)
}

// isFill reports whether buf consists entirely of repeated fill elements.
func isFill(buf, fill []byte) bool {
	if allZero(fill) {
		return allZero(buf)
	}
	for i := 0; i < len(buf); i += len(fill) {
		if !bytes.Equal(buf[i:i+len(fill)], fill) {
			return false
		}
	}
	return true
}
