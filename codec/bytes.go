package codec

import (
	"encoding/json"

	"github.com/chunkgrid/zarr/internal/errors"
)

func init() {
	register("bytes", newBytesCodec)
}

// bytesCodec converts between the little-endian decoded representation and
// the endianness declared in metadata.  For single-byte elements it is the
// identity.
type bytesCodec struct {
	elementSize int
	bigEndian   bool
}

func newBytesCodec(cfg json.RawMessage, bc BuildContext) (Codec, error) {
	var config struct {
		Endian string `json:"endian"`
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &config); err != nil {
			return nil, errors.EnsureStack(err)
		}
	}
	c := &bytesCodec{elementSize: bc.ElementSize}
	switch config.Endian {
	case "":
		if c.elementSize > 1 {
			return nil, errors.New("endian is required for multi-byte data types")
		}
	case "little":
	case "big":
		c.bigEndian = true
	default:
		return nil, errors.Errorf("unknown endian %q", config.Endian)
	}
	return c, nil
}

func (c *bytesCodec) Name() string { return "bytes" }

func (c *bytesCodec) arrayToBytes() {}

func (c *bytesCodec) encodedSize(decodedSize int) int { return decodedSize }

func (c *bytesCodec) Encode(src []byte) ([]byte, error) {
	return c.transform(src)
}

func (c *bytesCodec) Decode(src []byte, decodedSize int) ([]byte, error) {
	if decodedSize >= 0 && len(src) != decodedSize {
		return nil, errors.Errorf("decoded %d bytes, expected %d", len(src), decodedSize)
	}
	return c.transform(src)
}

func (c *bytesCodec) transform(src []byte) ([]byte, error) {
	if len(src)%c.elementSize != 0 {
		return nil, errors.Errorf("%d bytes is not a whole number of %d-byte elements", len(src), c.elementSize)
	}
	if !c.bigEndian || c.elementSize == 1 {
		return append([]byte{}, src...), nil
	}
	dst := make([]byte, len(src))
	for i := 0; i < len(src); i += c.elementSize {
		for j := 0; j < c.elementSize; j++ {
			dst[i+j] = src[i+c.elementSize-1-j]
		}
	}
	return dst, nil
}
