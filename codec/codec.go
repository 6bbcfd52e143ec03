// Package codec implements the transforms between a chunk's decoded bytes
// and its stored representation.
//
// A pipeline is declared in array metadata as an ordered list of named
// codecs.  Encoding applies the list left to right, decoding right to left.
// The decoded representation is always the chunk's elements as little-endian
// bytes in row-major order; the "bytes" codec converts between that and the
// declared on-disk endianness, and everything after it transforms opaque
// bytes.
package codec

import (
	"encoding/json"
	"strings"

	"github.com/chunkgrid/zarr/internal/errors"
)

// Spec is one element of the "codecs" list in array metadata.
type Spec struct {
	Name          string          `json:"name"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// BuildContext carries the array properties codecs need at construction
// time.
type BuildContext struct {
	// ElementSize is the byte size of one array element.
	ElementSize int
	// ValidateChecksums disables checksum verification on decode when
	// false.  Encoding always produces checksums.
	ValidateChecksums bool
}

// A Codec transforms chunk bytes in one direction or the other.
type Codec interface {
	// Name returns the codec's registered name.
	Name() string
	// Encode transforms decoded bytes into their stored form.  src is not
	// modified.
	Encode(src []byte) ([]byte, error)
	// Decode inverts Encode.  decodedSize is the expected output size, or
	// -1 if the caller cannot know it; codecs that can check it must
	// reject a mismatch.
	Decode(src []byte, decodedSize int) ([]byte, error)
}

// arrayBytesCodec is implemented by the single codec in a pipeline that
// converts between the element representation and opaque bytes.
type arrayBytesCodec interface {
	Codec
	arrayToBytes()
}

type builder func(cfg json.RawMessage, bc BuildContext) (Codec, error)

var registry = map[string]builder{}

func register(name string, b builder) {
	registry[name] = b
}

// Build constructs a single codec from its metadata spec.
func Build(spec Spec, bc BuildContext) (Codec, error) {
	b, ok := registry[spec.Name]
	if !ok {
		return nil, errors.Errorf("unknown codec %q", spec.Name)
	}
	c, err := b(spec.Configuration, bc)
	return c, errors.Wrapf(err, "codec %q", spec.Name)
}

// Pipeline is an ordered codec chain.
type Pipeline struct {
	codecs []Codec
}

// NewPipeline builds a pipeline from the metadata codec list.  The list must
// contain exactly one array-to-bytes codec ("bytes") and it must come first;
// the remaining codecs transform opaque bytes.
func NewPipeline(specs []Spec, bc BuildContext) (*Pipeline, error) {
	if len(specs) == 0 {
		return nil, errors.New("codec list is empty")
	}
	codecs := make([]Codec, 0, len(specs))
	for i, spec := range specs {
		c, err := Build(spec, bc)
		if err != nil {
			return nil, err
		}
		_, isArrayBytes := c.(arrayBytesCodec)
		if isArrayBytes != (i == 0) {
			return nil, errors.Errorf("codec %q is not valid at position %d", spec.Name, i)
		}
		codecs = append(codecs, c)
	}
	return &Pipeline{codecs: codecs}, nil
}

// Name returns the "/"-joined names of the pipeline's codecs.
func (p *Pipeline) Name() string {
	names := make([]string, len(p.codecs))
	for i, c := range p.codecs {
		names[i] = c.Name()
	}
	return strings.Join(names, "/")
}

// Encode transforms decoded chunk bytes into their stored form.
func (p *Pipeline) Encode(decoded []byte) ([]byte, error) {
	out := decoded
	for _, c := range p.codecs {
		var err error
		out, err = c.Encode(out)
		if err != nil {
			return nil, errors.Wrapf(err, "codec %q", c.Name())
		}
	}
	return out, nil
}

// Decode transforms stored bytes back into decoded chunk bytes.
// decodedSize is the byte size of the decoded chunk.
func (p *Pipeline) Decode(encoded []byte, decodedSize int) ([]byte, error) {
	// Expected sizes per stage are only known up to the first
	// size-obscuring codec; beyond it codecs see -1 and size themselves.
	sizes := make([]int, len(p.codecs))
	size := decodedSize
	for i, c := range p.codecs {
		sizes[i] = size
		if size < 0 {
			continue
		}
		if next, known := encodedSize(c, size); known {
			size = next
		} else {
			size = -1
		}
	}
	out := encoded
	for i := len(p.codecs) - 1; i >= 0; i-- {
		var err error
		out, err = p.codecs[i].Decode(out, sizes[i])
		if err != nil {
			return nil, errors.Wrapf(err, "codec %q", p.codecs[i].Name())
		}
	}
	return out, nil
}

// EncodedSize returns the encoded size of a decodedSize-byte input.  It is
// only known when every codec's encoded size is a function of its input
// size; compression codecs make it unknowable.
func (p *Pipeline) EncodedSize(decodedSize int) (int, bool) {
	size := decodedSize
	for _, c := range p.codecs {
		next, known := encodedSize(c, size)
		if !known {
			return 0, false
		}
		size = next
	}
	return size, true
}

// sizedCodec is implemented by codecs whose encoded size is a function of
// the decoded size.
type sizedCodec interface {
	encodedSize(decodedSize int) int
}

func encodedSize(c Codec, decodedSize int) (int, bool) {
	if sc, ok := c.(sizedCodec); ok {
		return sc.encodedSize(decodedSize), true
	}
	return 0, false
}
