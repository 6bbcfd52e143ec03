package zarr

import (
	"encoding/binary"
	"encoding/json"

	"github.com/chunkgrid/zarr/codec"
	"github.com/chunkgrid/zarr/internal/errors"
)

// shardingCodecName is the array-to-bytes codec that packs a grid of inner
// chunks and an offset index into each stored chunk.
const shardingCodecName = "sharding_indexed"

// absentEntry marks an inner chunk with no data in the shard index; readers
// substitute the fill value.
const absentEntry = ^uint64(0)

// indexEntrySize is the stored size of one index entry: offset and byte
// count, both unsigned 64-bit little-endian.
const indexEntrySize = 16

type shardingConfigWire struct {
	ChunkShape    []uint64     `json:"chunk_shape"`
	Codecs        []codec.Spec `json:"codecs"`
	IndexCodecs   []codec.Spec `json:"index_codecs"`
	IndexLocation string       `json:"index_location,omitempty"`
}

// shardInfo is the parsed sharding layout of an array whose chunks are
// shards.  A nil *shardInfo means the array stores chunks directly.
type shardInfo struct {
	innerShape []uint64
	perShard   []uint64
	numInner   int

	innerPipeline *codec.Pipeline
	indexPipeline *codec.Pipeline
	indexAtEnd    bool

	innerBytes int
	indexBytes int64
}

// parseShardInfo interprets the codec list of an array with the given chunk
// shape.  It returns nil when the array is not sharded.
func parseShardInfo(specs []codec.Spec, chunkShape []uint64, bc codec.BuildContext) (*shardInfo, error) {
	if len(specs) == 0 || specs[0].Name != shardingCodecName {
		return nil, nil
	}
	if len(specs) > 1 {
		return nil, errors.Errorf("codecs after %q are not supported", shardingCodecName)
	}
	var cfg shardingConfigWire
	if err := json.Unmarshal(specs[0].Configuration, &cfg); err != nil {
		return nil, errors.Wrapf(err, "codec %q", shardingCodecName)
	}
	if len(cfg.ChunkShape) != len(chunkShape) {
		return nil, errors.Errorf("inner chunk shape has %d dimensions, chunks have %d", len(cfg.ChunkShape), len(chunkShape))
	}
	si := &shardInfo{
		innerShape: cfg.ChunkShape,
		perShard:   make([]uint64, len(chunkShape)),
		numInner:   1,
	}
	for i := range chunkShape {
		inner := cfg.ChunkShape[i]
		if inner == 0 || chunkShape[i]%inner != 0 {
			return nil, errors.Errorf("inner chunk shape %v does not evenly divide chunk shape %v", cfg.ChunkShape, chunkShape)
		}
		si.perShard[i] = chunkShape[i] / inner
		si.numInner *= int(si.perShard[i])
	}
	innerElems, ok := numElements(si.innerShape)
	if !ok {
		return nil, errors.Errorf("inner chunk shape %v is too large", si.innerShape)
	}
	innerBytes, ok := mulUint64(innerElems, uint64(bc.ElementSize))
	if !ok || innerBytes > 1<<31 {
		return nil, errors.Errorf("inner chunk shape %v is too large", si.innerShape)
	}
	si.innerBytes = int(innerBytes)

	var err error
	si.innerPipeline, err = codec.NewPipeline(cfg.Codecs, bc)
	if err != nil {
		return nil, errors.Wrap(err, "inner codecs")
	}
	indexCodecs := cfg.IndexCodecs
	if indexCodecs == nil {
		indexCodecs = []codec.Spec{
			{Name: "bytes", Configuration: json.RawMessage(`{"endian":"little"}`)},
			{Name: "crc32c"},
		}
	}
	si.indexPipeline, err = codec.NewPipeline(indexCodecs, codec.BuildContext{
		ElementSize:       8,
		ValidateChecksums: bc.ValidateChecksums,
	})
	if err != nil {
		return nil, errors.Wrap(err, "index codecs")
	}
	encodedIndex, known := si.indexPipeline.EncodedSize(si.numInner * indexEntrySize)
	if !known {
		return nil, errors.New("index codecs must have a fixed encoded size")
	}
	si.indexBytes = int64(encodedIndex)

	switch cfg.IndexLocation {
	case "", "end":
		si.indexAtEnd = true
	case "start":
	default:
		return nil, errors.Errorf("unknown index_location %q", cfg.IndexLocation)
	}
	return si, nil
}

// innerOffset flattens an inner chunk coordinate within a shard to its
// row-major index position.
func (si *shardInfo) innerOffset(within []uint64) int {
	off := 0
	for i := range within {
		off = off*int(si.perShard[i]) + int(within[i])
	}
	return off
}

// indexRange returns the offset and length of the encoded index inside a
// shard of the given total size.
func (si *shardInfo) indexRange(shardSize int64) (int64, int64, error) {
	if shardSize < si.indexBytes {
		return 0, 0, errors.Errorf("shard of %d bytes cannot hold a %d-byte index", shardSize, si.indexBytes)
	}
	if si.indexAtEnd {
		return shardSize - si.indexBytes, si.indexBytes, nil
	}
	return 0, si.indexBytes, nil
}

// shardIndex is the decoded offset table of one shard.
type shardIndex struct {
	offsets []uint64
	nbytes  []uint64
}

// entry returns the byte extent of inner chunk i.  present is false for the
// absent sentinel.
func (ix *shardIndex) entry(i int) (offset, n uint64, present bool) {
	offset, n = ix.offsets[i], ix.nbytes[i]
	return offset, n, offset != absentEntry || n != absentEntry
}

func newEmptyShardIndex(numInner int) *shardIndex {
	ix := &shardIndex{
		offsets: make([]uint64, numInner),
		nbytes:  make([]uint64, numInner),
	}
	for i := 0; i < numInner; i++ {
		ix.offsets[i] = absentEntry
		ix.nbytes[i] = absentEntry
	}
	return ix
}

// parseIndex decodes an encoded shard index.
func (si *shardInfo) parseIndex(encoded []byte) (*shardIndex, error) {
	raw, err := si.indexPipeline.Decode(encoded, si.numInner*indexEntrySize)
	if err != nil {
		return nil, err
	}
	ix := &shardIndex{
		offsets: make([]uint64, si.numInner),
		nbytes:  make([]uint64, si.numInner),
	}
	for i := 0; i < si.numInner; i++ {
		ix.offsets[i] = binary.LittleEndian.Uint64(raw[i*indexEntrySize:])
		ix.nbytes[i] = binary.LittleEndian.Uint64(raw[i*indexEntrySize+8:])
	}
	return ix, nil
}

// encodeIndex encodes a shard index.
func (si *shardInfo) encodeIndex(ix *shardIndex) ([]byte, error) {
	raw := make([]byte, si.numInner*indexEntrySize)
	for i := 0; i < si.numInner; i++ {
		binary.LittleEndian.PutUint64(raw[i*indexEntrySize:], ix.offsets[i])
		binary.LittleEndian.PutUint64(raw[i*indexEntrySize+8:], ix.nbytes[i])
	}
	return si.indexPipeline.Encode(raw)
}

// buildShard assembles a shard from encoded inner chunk payloads, in
// row-major order with nil marking absent chunks.  It returns nil when every
// inner chunk is absent.
func (si *shardInfo) buildShard(payloads [][]byte) ([]byte, error) {
	ix := newEmptyShardIndex(si.numInner)
	var dataSize int64
	nonEmpty := false
	for i, p := range payloads {
		if p == nil {
			continue
		}
		nonEmpty = true
		ix.offsets[i] = uint64(dataSize)
		ix.nbytes[i] = uint64(len(p))
		dataSize += int64(len(p))
	}
	if !nonEmpty {
		return nil, nil
	}
	dataStart := int64(0)
	if !si.indexAtEnd {
		dataStart = si.indexBytes
		for i := range ix.offsets {
			if ix.offsets[i] != absentEntry {
				ix.offsets[i] += uint64(dataStart)
			}
		}
	}
	encodedIndex, err := si.encodeIndex(ix)
	if err != nil {
		return nil, err
	}
	shard := make([]byte, 0, dataStart+dataSize+si.indexBytes)
	if !si.indexAtEnd {
		shard = append(shard, encodedIndex...)
	}
	for _, p := range payloads {
		shard = append(shard, p...)
	}
	if si.indexAtEnd {
		shard = append(shard, encodedIndex...)
	}
	return shard, nil
}

// innerSlice returns the encoded bytes of inner chunk i within shard.
func (ix *shardIndex) innerSlice(shard []byte, i int) ([]byte, error) {
	offset, n, present := ix.entry(i)
	if !present {
		return nil, nil
	}
	if offset+n < offset || offset+n > uint64(len(shard)) {
		return nil, errors.Errorf("inner chunk %d extends to byte %d of a %d-byte shard", i, offset+n, len(shard))
	}
	return shard[offset : offset+n], nil
}
