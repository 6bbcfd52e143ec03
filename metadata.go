package zarr

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/chunkgrid/zarr/codec"
	"github.com/chunkgrid/zarr/internal/errors"
)

// metadataFile is the name of the metadata document under each node path.
const metadataFile = "zarr.json"

const formatVersion = 3

// ChunkKeyEncoding maps chunk coordinates to storage key suffixes.
type ChunkKeyEncoding struct {
	name      string
	separator string
}

// DefaultChunkKeyEncoding returns the "default" encoding: chunk (1, 2)
// becomes "c/1/2".
func DefaultChunkKeyEncoding() ChunkKeyEncoding {
	return ChunkKeyEncoding{name: "default", separator: "/"}
}

// V2ChunkKeyEncoding returns the "v2" encoding: chunk (1, 2) becomes "1.2".
func V2ChunkKeyEncoding() ChunkKeyEncoding {
	return ChunkKeyEncoding{name: "v2", separator: "."}
}

// ChunkKey returns the key suffix for the chunk at idx.
func (e ChunkKeyEncoding) ChunkKey(idx []uint64) string {
	parts := make([]string, 0, len(idx)+1)
	if e.name == "v2" {
		if len(idx) == 0 {
			return "0"
		}
	} else {
		parts = append(parts, "c")
	}
	for _, i := range idx {
		parts = append(parts, strconv.FormatUint(i, 10))
	}
	return strings.Join(parts, e.separator)
}

// ArrayMetadata describes one array: its shape, element type, chunk layout,
// codecs and user attributes.  A parsed ArrayMetadata is an immutable
// snapshot; updates construct a new value.
type ArrayMetadata struct {
	Shape            []uint64
	DataType         DataType
	ChunkShape       []uint64
	ChunkKeyEncoding ChunkKeyEncoding
	FillValue        json.RawMessage
	Codecs           []codec.Spec
	Attributes       map[string]interface{}
	DimensionNames   []string
}

// NewArrayMetadata returns metadata for an array with the given shape,
// element type and chunk shape, a zero fill value, the default chunk key
// encoding and a little-endian bytes codec.  Adjust fields before creating
// the array.
func NewArrayMetadata(shape []uint64, dt DataType, chunkShape []uint64) *ArrayMetadata {
	return &ArrayMetadata{
		Shape:            shape,
		DataType:         dt,
		ChunkShape:       chunkShape,
		ChunkKeyEncoding: DefaultChunkKeyEncoding(),
		FillValue:        zeroFillValue(dt),
		Codecs: []codec.Spec{{
			Name:          "bytes",
			Configuration: json.RawMessage(`{"endian":"little"}`),
		}},
	}
}

func zeroFillValue(dt DataType) json.RawMessage {
	switch dt.Name() {
	case "bool":
		return json.RawMessage("false")
	case "complex64", "complex128":
		return json.RawMessage("[0, 0]")
	default:
		if strings.HasPrefix(dt.Name(), "r") {
			zeros := make([]string, dt.Size())
			for i := range zeros {
				zeros[i] = "0"
			}
			return json.RawMessage("[" + strings.Join(zeros, ", ") + "]")
		}
		return json.RawMessage("0")
	}
}

// Validate checks the metadata for internal consistency.  It returns plain
// errors; callers wrap them with the node path.
func (md *ArrayMetadata) Validate() error {
	if len(md.ChunkShape) != len(md.Shape) {
		return errors.Errorf("chunk shape has %d dimensions, array has %d", len(md.ChunkShape), len(md.Shape))
	}
	for i, c := range md.ChunkShape {
		if c == 0 {
			return errors.Errorf("chunk shape dimension %d is zero", i)
		}
	}
	if md.DataType.Size() == 0 {
		return errors.New("missing data type")
	}
	switch md.ChunkKeyEncoding.name {
	case "default", "v2":
	default:
		return errors.Errorf("unknown chunk key encoding %q", md.ChunkKeyEncoding.name)
	}
	if md.DimensionNames != nil && len(md.DimensionNames) != len(md.Shape) {
		return errors.Errorf("%d dimension names for %d dimensions", len(md.DimensionNames), len(md.Shape))
	}
	if len(md.Codecs) == 0 {
		return errors.New("codec list is empty")
	}
	if _, err := md.DataType.FillBytes(md.FillValue); err != nil {
		return err
	}
	return nil
}

// Clone returns a deep copy.
func (md *ArrayMetadata) Clone() *ArrayMetadata {
	out := &ArrayMetadata{
		Shape:            append([]uint64{}, md.Shape...),
		DataType:         md.DataType,
		ChunkShape:       append([]uint64{}, md.ChunkShape...),
		ChunkKeyEncoding: md.ChunkKeyEncoding,
		FillValue:        append(json.RawMessage{}, md.FillValue...),
		Codecs:           append([]codec.Spec{}, md.Codecs...),
		Attributes:       cloneAttributes(md.Attributes),
	}
	if md.DimensionNames != nil {
		out.DimensionNames = append([]string{}, md.DimensionNames...)
	}
	return out
}

func cloneAttributes(attrs map[string]interface{}) map[string]interface{} {
	if attrs == nil {
		return nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		// Attributes always originate from JSON, so they marshal.
		panic(err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}

type namedConfig struct {
	Name          string          `json:"name"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

type arrayMetadataWire struct {
	ZarrFormat          int                    `json:"zarr_format"`
	NodeType            string                 `json:"node_type"`
	Shape               []uint64               `json:"shape"`
	DataType            json.RawMessage        `json:"data_type"`
	ChunkGrid           *namedConfig           `json:"chunk_grid"`
	ChunkKeyEncoding    *namedConfig           `json:"chunk_key_encoding,omitempty"`
	FillValue           json.RawMessage        `json:"fill_value"`
	Codecs              []codec.Spec           `json:"codecs"`
	Attributes          map[string]interface{} `json:"attributes,omitempty"`
	DimensionNames      []string               `json:"dimension_names,omitempty"`
	StorageTransformers []*json.RawMessage     `json:"storage_transformers,omitempty"`
}

// MarshalJSON writes the metadata document.
func (md *ArrayMetadata) MarshalJSON() ([]byte, error) {
	chunkGridCfg, err := json.Marshal(struct {
		ChunkShape []uint64 `json:"chunk_shape"`
	}{md.ChunkShape})
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	keyCfg, err := json.Marshal(struct {
		Separator string `json:"separator"`
	}{md.ChunkKeyEncoding.separator})
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	dataType, err := json.Marshal(md.DataType)
	if err != nil {
		return nil, err
	}
	wire := arrayMetadataWire{
		ZarrFormat:       formatVersion,
		NodeType:         "array",
		Shape:            md.Shape,
		DataType:         dataType,
		ChunkGrid:        &namedConfig{Name: "regular", Configuration: chunkGridCfg},
		ChunkKeyEncoding: &namedConfig{Name: md.ChunkKeyEncoding.name, Configuration: keyCfg},
		FillValue:        md.FillValue,
		Codecs:           md.Codecs,
		Attributes:       md.Attributes,
		DimensionNames:   md.DimensionNames,
	}
	if wire.Shape == nil {
		wire.Shape = []uint64{}
	}
	data, err := json.Marshal(wire)
	return data, errors.EnsureStack(err)
}

// UnmarshalJSON reads and validates a metadata document.
func (md *ArrayMetadata) UnmarshalJSON(data []byte) error {
	var wire arrayMetadataWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.EnsureStack(err)
	}
	if wire.ZarrFormat != formatVersion {
		return errors.Errorf("unsupported zarr_format %d", wire.ZarrFormat)
	}
	if wire.NodeType != "array" {
		return errors.Errorf("node_type is %q, not \"array\"", wire.NodeType)
	}
	if wire.Shape == nil {
		return errors.New("missing shape")
	}
	if len(wire.StorageTransformers) > 0 {
		return errors.New("storage transformers are not supported")
	}
	var dt DataType
	if err := json.Unmarshal(wire.DataType, &dt); err != nil {
		return err
	}
	if wire.ChunkGrid == nil {
		return errors.New("missing chunk_grid")
	}
	if wire.ChunkGrid.Name != "regular" {
		return errors.Errorf("unknown chunk grid %q", wire.ChunkGrid.Name)
	}
	var gridCfg struct {
		ChunkShape []uint64 `json:"chunk_shape"`
	}
	if err := json.Unmarshal(wire.ChunkGrid.Configuration, &gridCfg); err != nil {
		return errors.EnsureStack(err)
	}
	encoding, err := parseChunkKeyEncoding(wire.ChunkKeyEncoding)
	if err != nil {
		return err
	}
	*md = ArrayMetadata{
		Shape:            wire.Shape,
		DataType:         dt,
		ChunkShape:       gridCfg.ChunkShape,
		ChunkKeyEncoding: encoding,
		FillValue:        wire.FillValue,
		Codecs:           wire.Codecs,
		Attributes:       wire.Attributes,
		DimensionNames:   wire.DimensionNames,
	}
	return md.Validate()
}

func parseChunkKeyEncoding(nc *namedConfig) (ChunkKeyEncoding, error) {
	if nc == nil {
		return DefaultChunkKeyEncoding(), nil
	}
	var encoding ChunkKeyEncoding
	switch nc.Name {
	case "default":
		encoding = DefaultChunkKeyEncoding()
	case "v2":
		encoding = V2ChunkKeyEncoding()
	default:
		return ChunkKeyEncoding{}, errors.Errorf("unknown chunk key encoding %q", nc.Name)
	}
	if len(nc.Configuration) > 0 {
		var cfg struct {
			Separator string `json:"separator"`
		}
		if err := json.Unmarshal(nc.Configuration, &cfg); err != nil {
			return ChunkKeyEncoding{}, errors.EnsureStack(err)
		}
		switch cfg.Separator {
		case "":
		case "/", ".":
			encoding.separator = cfg.Separator
		default:
			return ChunkKeyEncoding{}, errors.Errorf("unknown chunk key separator %q", cfg.Separator)
		}
	}
	return encoding, nil
}

// ParseArrayMetadata parses and validates a metadata document.
func ParseArrayMetadata(data []byte) (*ArrayMetadata, error) {
	md := &ArrayMetadata{}
	if err := json.Unmarshal(data, md); err != nil {
		return nil, err
	}
	return md, nil
}

// JSON returns the metadata document, pretty-printed if requested.
func (md *ArrayMetadata) JSON(pretty bool) ([]byte, error) {
	data, err := json.Marshal(md)
	if err != nil {
		return nil, err
	}
	if pretty {
		return prettyJSON(data)
	}
	return data, nil
}

// GroupMetadata describes a group node: only user attributes.
type GroupMetadata struct {
	Attributes map[string]interface{}
}

type groupMetadataWire struct {
	ZarrFormat int                    `json:"zarr_format"`
	NodeType   string                 `json:"node_type"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// MarshalJSON writes the group metadata document.
func (md *GroupMetadata) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(groupMetadataWire{
		ZarrFormat: formatVersion,
		NodeType:   "group",
		Attributes: md.Attributes,
	})
	return data, errors.EnsureStack(err)
}

// UnmarshalJSON reads a group metadata document.
func (md *GroupMetadata) UnmarshalJSON(data []byte) error {
	var wire groupMetadataWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.EnsureStack(err)
	}
	if wire.ZarrFormat != formatVersion {
		return errors.Errorf("unsupported zarr_format %d", wire.ZarrFormat)
	}
	if wire.NodeType != "group" {
		return errors.Errorf("node_type is %q, not \"group\"", wire.NodeType)
	}
	md.Attributes = wire.Attributes
	return nil
}

// JSON returns the group metadata document, pretty-printed if requested.
func (md *GroupMetadata) JSON(pretty bool) ([]byte, error) {
	data, err := json.Marshal(md)
	if err != nil {
		return nil, err
	}
	if pretty {
		return prettyJSON(data)
	}
	return data, nil
}

func prettyJSON(data []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := json.Indent(buf, data, "", "    "); err != nil {
		return nil, errors.EnsureStack(err)
	}
	return buf.Bytes(), nil
}

func marshalAttributes(attrs map[string]interface{}, pretty bool) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	if pretty {
		return prettyJSON(data)
	}
	return data, nil
}

// normalizeNodePath canonicalizes a node path: interior slashes separate
// group levels, the root is "".  Leading and trailing slashes are dropped.
func normalizeNodePath(p string) (string, error) {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return "", nil
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == "" || part == "." || part == ".." {
			return "", errors.Errorf("invalid node path %q", p)
		}
	}
	return trimmed, nil
}

// metadataKey returns the storage key of a node's metadata document.
func metadataKey(path string) string {
	if path == "" {
		return metadataFile
	}
	return path + "/" + metadataFile
}

// chunkKey returns the storage key of a chunk of the node at path.
func chunkKey(path string, encoding ChunkKeyEncoding, idx []uint64) string {
	suffix := encoding.ChunkKey(idx)
	if path == "" {
		return suffix
	}
	return path + "/" + suffix
}
