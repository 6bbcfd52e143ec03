package codec

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/chunkgrid/zarr/internal/randutil"
	"github.com/chunkgrid/zarr/internal/require"
)

func spec(name, cfg string) Spec {
	s := Spec{Name: name}
	if cfg != "" {
		s.Configuration = json.RawMessage(cfg)
	}
	return s
}

func TestPipelineRoundTrip(t *testing.T) {
	t.Parallel()
	random := rand.New(rand.NewSource(7))
	data := randutil.Bytes(random, 64*1024)
	testCases := []struct {
		name  string
		specs []Spec
	}{
		{"BytesLittle", []Spec{spec("bytes", `{"endian":"little"}`)}},
		{"BytesBig", []Spec{spec("bytes", `{"endian":"big"}`)}},
		{"Gzip", []Spec{spec("bytes", `{"endian":"little"}`), spec("gzip", `{"level":5}`)}},
		{"Zstd", []Spec{spec("bytes", `{"endian":"little"}`), spec("zstd", `{"level":3,"checksum":true}`)}},
		{"GzipCRC", []Spec{spec("bytes", `{"endian":"little"}`), spec("gzip", `{"level":1}`), spec("crc32c", "")}},
		{"ZstdCRC", []Spec{spec("bytes", `{"endian":"big"}`), spec("zstd", `{"level":1}`), spec("crc32c", "")}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewPipeline(tc.specs, BuildContext{ElementSize: 4, ValidateChecksums: true})
			require.NoError(t, err)
			encoded, err := p.Encode(data)
			require.NoError(t, err)
			decoded, err := p.Decode(encoded, len(data))
			require.NoError(t, err)
			require.Equal(t, data, decoded)
		})
	}
}

func TestBytesEndianness(t *testing.T) {
	t.Parallel()
	p, err := NewPipeline([]Spec{spec("bytes", `{"endian":"big"}`)}, BuildContext{ElementSize: 2})
	require.NoError(t, err)
	encoded, err := p.Encode([]byte{0x01, 0x02, 0x03, 0x04})
	require.NoError(t, err)
	require.Equal(t, []byte{0x02, 0x01, 0x04, 0x03}, encoded)
	decoded, err := p.Decode(encoded, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, decoded)
}

func TestCRC32CDetectsCorruption(t *testing.T) {
	t.Parallel()
	specs := []Spec{spec("bytes", `{"endian":"little"}`), spec("crc32c", "")}
	p, err := NewPipeline(specs, BuildContext{ElementSize: 1, ValidateChecksums: true})
	require.NoError(t, err)
	encoded, err := p.Encode([]byte("some chunk data"))
	require.NoError(t, err)
	encoded[3] ^= 0xff
	_, err = p.Decode(encoded, len("some chunk data"))
	require.YesError(t, err)

	// With validation off the corrupted payload decodes.
	lax, err := NewPipeline(specs, BuildContext{ElementSize: 1, ValidateChecksums: false})
	require.NoError(t, err)
	decoded, err := lax.Decode(encoded, len("some chunk data"))
	require.NoError(t, err)
	require.Len(t, decoded, len("some chunk data"))
}

func TestPipelineValidation(t *testing.T) {
	t.Parallel()
	bc := BuildContext{ElementSize: 4}
	_, err := NewPipeline(nil, bc)
	require.YesError(t, err)
	_, err = NewPipeline([]Spec{spec("gzip", "")}, bc)
	require.YesError(t, err, "bytes-to-bytes codec cannot lead the chain")
	_, err = NewPipeline([]Spec{spec("bytes", `{"endian":"little"}`), spec("bytes", `{"endian":"little"}`)}, bc)
	require.YesError(t, err, "second array-to-bytes codec")
	_, err = NewPipeline([]Spec{spec("bytes", "")}, bc)
	require.YesError(t, err, "endian required for 4-byte elements")
	_, err = NewPipeline([]Spec{spec("blosc", `{}`)}, bc)
	require.YesError(t, err, "unknown codec")
	_, err = NewPipeline([]Spec{spec("bytes", `{"endian":"middle"}`)}, bc)
	require.YesError(t, err)
}

func TestDecodeSizeMismatch(t *testing.T) {
	t.Parallel()
	p, err := NewPipeline([]Spec{
		spec("bytes", `{"endian":"little"}`),
		spec("gzip", `{"level":5}`),
	}, BuildContext{ElementSize: 1})
	require.NoError(t, err)
	encoded, err := p.Encode(make([]byte, 100))
	require.NoError(t, err)
	_, err = p.Decode(encoded, 99)
	require.YesError(t, err)
	_, err = p.Decode(encoded, 101)
	require.YesError(t, err)
}
