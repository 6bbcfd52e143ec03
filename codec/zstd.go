package codec

import (
	"encoding/json"

	"github.com/klauspost/compress/zstd"

	"github.com/chunkgrid/zarr/internal/errors"
)

func init() {
	register("zstd", newZstdCodec)
}

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec(cfg json.RawMessage, bc BuildContext) (Codec, error) {
	config := struct {
		Level    int  `json:"level"`
		Checksum bool `json:"checksum"`
	}{Level: 3}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &config); err != nil {
			return nil, errors.EnsureStack(err)
		}
	}
	if config.Level < 1 {
		config.Level = 1
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(config.Level)),
		zstd.WithEncoderCRC(config.Checksum),
	)
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Encode(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, nil), nil
}

func (c *zstdCodec) Decode(src []byte, decodedSize int) ([]byte, error) {
	var dst []byte
	if decodedSize >= 0 {
		dst = make([]byte, 0, decodedSize)
	}
	out, err := c.dec.DecodeAll(src, dst)
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	if decodedSize >= 0 && len(out) != decodedSize {
		return nil, errors.Errorf("decoded %d bytes, expected %d", len(out), decodedSize)
	}
	return out, nil
}
