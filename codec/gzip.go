package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"

	"github.com/chunkgrid/zarr/internal/errors"
)

func init() {
	register("gzip", newGzipCodec)
}

type gzipCodec struct {
	level int
}

func newGzipCodec(cfg json.RawMessage, bc BuildContext) (Codec, error) {
	config := struct {
		Level int `json:"level"`
	}{Level: gzip.DefaultCompression}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &config); err != nil {
			return nil, errors.EnsureStack(err)
		}
	}
	if config.Level != gzip.DefaultCompression && (config.Level < gzip.NoCompression || config.Level > gzip.BestCompression) {
		return nil, errors.Errorf("invalid gzip level %d", config.Level)
	}
	return &gzipCodec{level: config.Level}, nil
}

func (c *gzipCodec) Name() string { return "gzip" }

func (c *gzipCodec) Encode(src []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	gw, err := gzip.NewWriterLevel(buf, c.level)
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	if _, err := gw.Write(src); err != nil {
		return nil, errors.EnsureStack(err)
	}
	if err := gw.Close(); err != nil {
		return nil, errors.EnsureStack(err)
	}
	return buf.Bytes(), nil
}

func (c *gzipCodec) Decode(src []byte, decodedSize int) (_ []byte, retErr error) {
	gr, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	defer errors.Close(&retErr, gr, "close gzip reader")
	if decodedSize < 0 {
		out, err := io.ReadAll(gr)
		return out, errors.EnsureStack(err)
	}
	out := make([]byte, decodedSize)
	if _, err := io.ReadFull(gr, out); err != nil {
		return nil, errors.EnsureStack(err)
	}
	// A trailing read must see EOF, otherwise the stream was bigger than
	// the chunk.
	if n, err := gr.Read(make([]byte, 1)); n != 0 || !errors.Is(err, io.EOF) {
		return nil, errors.Errorf("decoded more than %d bytes", decodedSize)
	}
	return out, nil
}
