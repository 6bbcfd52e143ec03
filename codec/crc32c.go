package codec

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"

	"github.com/chunkgrid/zarr/internal/errors"
)

func init() {
	register("crc32c", newCRC32CCodec)
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// crc32cCodec appends a little-endian CRC-32C digest to the encoded bytes.
type crc32cCodec struct {
	validate bool
}

func newCRC32CCodec(cfg json.RawMessage, bc BuildContext) (Codec, error) {
	if len(cfg) > 0 {
		var config struct{}
		if err := json.Unmarshal(cfg, &config); err != nil {
			return nil, errors.EnsureStack(err)
		}
	}
	return &crc32cCodec{validate: bc.ValidateChecksums}, nil
}

func (c *crc32cCodec) Name() string { return "crc32c" }

func (c *crc32cCodec) encodedSize(decodedSize int) int { return decodedSize + crc32.Size }

func (c *crc32cCodec) Encode(src []byte) ([]byte, error) {
	out := make([]byte, len(src)+crc32.Size)
	copy(out, src)
	binary.LittleEndian.PutUint32(out[len(src):], crc32.Checksum(src, castagnoli))
	return out, nil
}

func (c *crc32cCodec) Decode(src []byte, decodedSize int) ([]byte, error) {
	if len(src) < crc32.Size {
		return nil, errors.Errorf("%d bytes is too short to carry a crc32c digest", len(src))
	}
	data := src[:len(src)-crc32.Size]
	if c.validate {
		want := binary.LittleEndian.Uint32(src[len(data):])
		if have := crc32.Checksum(data, castagnoli); have != want {
			return nil, errors.Errorf("crc32c mismatch. HAVE: %08x WANT: %08x", have, want)
		}
	}
	if decodedSize >= 0 && len(data) != decodedSize {
		return nil, errors.Errorf("decoded %d bytes, expected %d", len(data), decodedSize)
	}
	return append([]byte{}, data...), nil
}
