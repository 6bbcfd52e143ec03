package zarr

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/chunkgrid/zarr/internal/errors"
	"github.com/chunkgrid/zarr/zarrerr"
)

// DataType is an array element type.  All supported types have a fixed
// byte size; variable-sized types (strings) are rejected at metadata
// parse time.
type DataType struct {
	name string
	size int
}

var (
	Bool       = DataType{"bool", 1}
	Int8       = DataType{"int8", 1}
	Int16      = DataType{"int16", 2}
	Int32      = DataType{"int32", 4}
	Int64      = DataType{"int64", 8}
	Uint8      = DataType{"uint8", 1}
	Uint16     = DataType{"uint16", 2}
	Uint32     = DataType{"uint32", 4}
	Uint64     = DataType{"uint64", 8}
	Float16    = DataType{"float16", 2}
	Float32    = DataType{"float32", 4}
	Float64    = DataType{"float64", 8}
	BFloat16   = DataType{"bfloat16", 2}
	Complex64  = DataType{"complex64", 8}
	Complex128 = DataType{"complex128", 16}
)

var dataTypes = map[string]DataType{}

func init() {
	for _, dt := range []DataType{
		Bool, Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64,
		Float16, Float32, Float64, BFloat16, Complex64, Complex128,
	} {
		dataTypes[dt.name] = dt
	}
}

// RawBits returns the fixed-size raw data type of n bits.  n must be a
// positive multiple of 8.
func RawBits(n int) (DataType, error) {
	if n <= 0 || n%8 != 0 {
		return DataType{}, zarrerr.NewUnsupportedDataType("r" + strconv.Itoa(n))
	}
	return DataType{name: "r" + strconv.Itoa(n), size: n / 8}, nil
}

// ParseDataType resolves a metadata data type name.  Unknown or
// variable-sized names produce an error matched by
// zarrerr.IsUnsupportedDataType.
func ParseDataType(name string) (DataType, error) {
	if dt, ok := dataTypes[name]; ok {
		return dt, nil
	}
	if rest, ok := strings.CutPrefix(name, "r"); ok {
		if bits, err := strconv.Atoi(rest); err == nil {
			return RawBits(bits)
		}
	}
	return DataType{}, zarrerr.NewUnsupportedDataType(name)
}

// Name returns the metadata name of the data type.
func (dt DataType) Name() string { return dt.name }

func (dt DataType) String() string { return dt.name }

// Size returns the byte size of one element.
func (dt DataType) Size() int { return dt.size }

// MarshalJSON writes the data type as its metadata name.
func (dt DataType) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.name)
}

// UnmarshalJSON reads a metadata data type name.
func (dt *DataType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return errors.EnsureStack(err)
	}
	parsed, err := ParseDataType(name)
	if err != nil {
		return err
	}
	*dt = parsed
	return nil
}

// FillBytes converts a metadata fill value into one little-endian element.
// Numbers, booleans, the strings "NaN", "Infinity" and "-Infinity", hex bit
// patterns like "0x7fc00000", [re, im] pairs for complex types and byte
// arrays for raw types are accepted, following the forms metadata documents
// use for each data type.
func (dt DataType) FillBytes(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.Errorf("%s: missing fill value", dt.name)
	}
	switch dt.name {
	case "bool":
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, errors.Wrapf(err, "%s fill value", dt.name)
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case "int8", "int16", "int32", "int64":
		v, err := parseIntFill(raw, dt.size*8)
		if err != nil {
			return nil, errors.Wrapf(err, "%s fill value", dt.name)
		}
		return putUint(uint64(v), dt.size), nil
	case "uint8", "uint16", "uint32", "uint64":
		v, err := parseUintFill(raw, dt.size*8)
		if err != nil {
			return nil, errors.Wrapf(err, "%s fill value", dt.name)
		}
		return putUint(v, dt.size), nil
	case "float16", "bfloat16", "float32", "float64":
		return dt.floatFillBytes(raw)
	case "complex64", "complex128":
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil || len(parts) != 2 {
			return nil, errors.Errorf("%s: fill value must be a [re, im] pair", dt.name)
		}
		half := DataType{name: "float" + strconv.Itoa(dt.size * 4), size: dt.size / 2}
		re, err := half.floatFillBytes(parts[0])
		if err != nil {
			return nil, err
		}
		im, err := half.floatFillBytes(parts[1])
		if err != nil {
			return nil, err
		}
		return append(re, im...), nil
	default:
		// Raw bit types take an array of byte values.
		var bs []byte
		if err := json.Unmarshal(raw, &bs); err != nil {
			return nil, errors.Wrapf(err, "%s fill value", dt.name)
		}
		if len(bs) != dt.size {
			return nil, errors.Errorf("%s: fill value has %d bytes, want %d", dt.name, len(bs), dt.size)
		}
		return bs, nil
	}
}

func (dt DataType) floatFillBytes(raw json.RawMessage) ([]byte, error) {
	f, bits, isBits, err := parseFloatFill(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "%s fill value", dt.name)
	}
	if isBits {
		if bitLen := len(strings.TrimPrefix(bits, "0x")) * 4; bitLen != dt.size*8 {
			return nil, errors.Errorf("%s: bit pattern %s has %d bits, want %d", dt.name, bits, bitLen, dt.size*8)
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(bits, "0x"), 16, dt.size*8)
		if err != nil {
			return nil, errors.Wrapf(err, "%s fill value", dt.name)
		}
		return putUint(v, dt.size), nil
	}
	switch dt.name {
	case "float16":
		return putUint(uint64(float16Bits(f)), 2), nil
	case "bfloat16":
		return putUint(uint64(bfloat16Bits(f)), 2), nil
	case "float32":
		return putUint(uint64(math.Float32bits(float32(f))), 4), nil
	default:
		return putUint(math.Float64bits(f), 8), nil
	}
}

func parseIntFill(raw json.RawMessage, bits int) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, bits)
	return v, errors.EnsureStack(err)
}

func parseUintFill(raw json.RawMessage, bits int) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, bits)
	return v, errors.EnsureStack(err)
}

func parseFloatFill(raw json.RawMessage) (f float64, bits string, isBits bool, _ error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "NaN":
			return math.NaN(), "", false, nil
		case "Infinity":
			return math.Inf(1), "", false, nil
		case "-Infinity":
			return math.Inf(-1), "", false, nil
		}
		if strings.HasPrefix(s, "0x") {
			return 0, s, true, nil
		}
		return 0, "", false, errors.Errorf("unknown fill value %q", s)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, "", false, errors.EnsureStack(err)
	}
	return v, "", false, nil
}

func putUint(v uint64, size int) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append([]byte{}, buf[:size]...)
}

// float16Bits converts to IEEE 754 binary16, rounding to nearest.
func float16Bits(f float64) uint16 {
	b := math.Float32bits(float32(f))
	sign := uint16(b >> 16 & 0x8000)
	exp := int32(b>>23&0xff) - 127
	mant := b & 0x7fffff
	switch {
	case exp == 128: // inf or nan
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp > 15:
		return sign | 0x7c00
	case exp < -24:
		return sign
	case exp < -14: // subnormal
		mant |= 0x800000
		shift := uint32(-exp - 1)
		round := mant >> (shift - 1) & 1
		return sign | (uint16(mant>>shift) + uint16(round))
	default:
		round := uint16(mant >> 12 & 1)
		return sign | (uint16(uint32(exp+15)<<10|mant>>13) + round)
	}
}

// bfloat16Bits truncates a float32 to bfloat16, rounding to nearest even.
func bfloat16Bits(f float64) uint16 {
	b := math.Float32bits(float32(f))
	if math.IsNaN(f) {
		return uint16(b>>16) | 0x0040
	}
	b += 0x7fff + (b >> 16 & 1)
	return uint16(b >> 16)
}
