// Package zarrerr defines the categorized errors returned by this module.
// Every failure a caller might want to branch on has a concrete type here
// and an Is predicate that sees through wrapping.  Operations return these
// directly; there is no global error state anywhere in the module.
package zarrerr

import (
	"fmt"

	"github.com/chunkgrid/zarr/internal/errors"
)

// ErrNotExist indicates that a key or node does not exist in a store.
type ErrNotExist struct {
	Store string
	Key   string
}

// NewNotExist returns an ErrNotExist for key in store.
func NewNotExist(store, key string) error {
	return &ErrNotExist{Store: store, Key: key}
}

func (e *ErrNotExist) Error() string {
	return fmt.Sprintf("%s: key %q does not exist", e.Store, e.Key)
}

// IsNotExist returns true if err's chain contains an ErrNotExist.
func IsNotExist(err error) bool {
	target := &ErrNotExist{}
	return errors.As(err, &target)
}

// ErrAlreadyExists indicates that a node exists where one would be created.
type ErrAlreadyExists struct {
	Store string
	Path  string
}

// NewAlreadyExists returns an ErrAlreadyExists for path in store.
func NewAlreadyExists(store, path string) error {
	return &ErrAlreadyExists{Store: store, Path: path}
}

func (e *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s: %q already exists", e.Store, e.Path)
}

// IsAlreadyExists returns true if err's chain contains an ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	target := &ErrAlreadyExists{}
	return errors.As(err, &target)
}

// ErrOutOfBounds indicates coordinates outside the array or chunk grid.
// Operations return it before touching storage.
type ErrOutOfBounds struct {
	What   string
	Coords []uint64
	Bounds []uint64
}

// NewOutOfBounds returns an ErrOutOfBounds describing coords against bounds.
func NewOutOfBounds(what string, coords, bounds []uint64) error {
	return &ErrOutOfBounds{What: what, Coords: coords, Bounds: bounds}
}

func (e *ErrOutOfBounds) Error() string {
	return fmt.Sprintf("%s %v out of bounds %v", e.What, e.Coords, e.Bounds)
}

// IsOutOfBounds returns true if err's chain contains an ErrOutOfBounds.
func IsOutOfBounds(err error) bool {
	target := &ErrOutOfBounds{}
	return errors.As(err, &target)
}

// ErrInvalidMetadata indicates a metadata document that could not be parsed
// or describes an array this module cannot represent.
type ErrInvalidMetadata struct {
	Path   string
	Reason string
	Err    error
}

// NewInvalidMetadata returns an ErrInvalidMetadata for the node at path.
func NewInvalidMetadata(path, reason string) error {
	return &ErrInvalidMetadata{Path: path, Reason: reason}
}

// WrapInvalidMetadata wraps a parse error as ErrInvalidMetadata.
// Returns nil if err is nil.
func WrapInvalidMetadata(err error, path string) error {
	if err == nil {
		return nil
	}
	return &ErrInvalidMetadata{Path: path, Reason: err.Error(), Err: err}
}

func (e *ErrInvalidMetadata) Error() string {
	return fmt.Sprintf("invalid metadata at %q: %s", e.Path, e.Reason)
}

func (e *ErrInvalidMetadata) Unwrap() error { return e.Err }

// IsInvalidMetadata returns true if err's chain contains an ErrInvalidMetadata.
func IsInvalidMetadata(err error) bool {
	target := &ErrInvalidMetadata{}
	return errors.As(err, &target)
}

// ErrUnsupportedDataType indicates a data type name this module does not
// implement (for example a variable-sized type).
type ErrUnsupportedDataType struct {
	Name string
}

// NewUnsupportedDataType returns an ErrUnsupportedDataType for name.
func NewUnsupportedDataType(name string) error {
	return &ErrUnsupportedDataType{Name: name}
}

func (e *ErrUnsupportedDataType) Error() string {
	return fmt.Sprintf("unsupported data type %q", e.Name)
}

// IsUnsupportedDataType returns true if err's chain contains an
// ErrUnsupportedDataType.
func IsUnsupportedDataType(err error) bool {
	target := &ErrUnsupportedDataType{}
	return errors.As(err, &target)
}

// ErrCorrupt indicates stored bytes that failed decoding or checksum
// verification.
type ErrCorrupt struct {
	Key    string
	Reason string
	Err    error
}

// NewCorrupt returns an ErrCorrupt for the object at key.
func NewCorrupt(key, reason string) error {
	return &ErrCorrupt{Key: key, Reason: reason}
}

// WrapCorrupt wraps a decode error as ErrCorrupt.  Returns nil if err is nil.
func WrapCorrupt(err error, key string) error {
	if err == nil {
		return nil
	}
	return &ErrCorrupt{Key: key, Reason: err.Error(), Err: err}
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("corrupt data at %q: %s", e.Key, e.Reason)
}

func (e *ErrCorrupt) Unwrap() error { return e.Err }

// IsCorrupt returns true if err's chain contains an ErrCorrupt.
func IsCorrupt(err error) bool {
	target := &ErrCorrupt{}
	return errors.As(err, &target)
}

// ErrEncode indicates a codec failed while encoding chunk bytes.
type ErrEncode struct {
	Codec string
	Err   error
}

// WrapEncode wraps an encoder error with the codec name.  Returns nil if err
// is nil.
func WrapEncode(err error, codec string) error {
	if err == nil {
		return nil
	}
	return &ErrEncode{Codec: codec, Err: err}
}

func (e *ErrEncode) Error() string {
	return fmt.Sprintf("codec %q: encode: %v", e.Codec, e.Err)
}

func (e *ErrEncode) Unwrap() error { return e.Err }

// IsEncode returns true if err's chain contains an ErrEncode.
func IsEncode(err error) bool {
	target := &ErrEncode{}
	return errors.As(err, &target)
}

// ErrStorage wraps an unexpected failure from the underlying store.
type ErrStorage struct {
	Op  string
	Key string
	Err error
}

// WrapStorage wraps a backend error with the operation and key.  Returns nil
// if err is nil; errors already categorized by this package pass through.
func WrapStorage(err error, op, key string) error {
	if err == nil {
		return nil
	}
	if IsNotExist(err) || IsAlreadyExists(err) {
		return err
	}
	return &ErrStorage{Op: op, Key: key, Err: err}
}

func (e *ErrStorage) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ErrStorage) Unwrap() error { return e.Err }

// IsStorage returns true if err's chain contains an ErrStorage.
func IsStorage(err error) bool {
	target := &ErrStorage{}
	return errors.As(err, &target)
}

// ErrClosed indicates use of a handle after Close.
type ErrClosed struct {
	Handle string
}

// NewClosed returns an ErrClosed for the named handle kind.
func NewClosed(handle string) error {
	return &ErrClosed{Handle: handle}
}

func (e *ErrClosed) Error() string {
	return fmt.Sprintf("%s is closed", e.Handle)
}

// IsClosed returns true if err's chain contains an ErrClosed.
func IsClosed(err error) bool {
	target := &ErrClosed{}
	return errors.As(err, &target)
}

// ErrBusy indicates a handle that cannot be closed because derived handles
// are still open.
type ErrBusy struct {
	Handle string
	Open   int
}

// NewBusy returns an ErrBusy for the named handle kind with n derived
// handles still open.
func NewBusy(handle string, n int) error {
	return &ErrBusy{Handle: handle, Open: n}
}

func (e *ErrBusy) Error() string {
	return fmt.Sprintf("%s has %d open handles", e.Handle, e.Open)
}

// IsBusy returns true if err's chain contains an ErrBusy.
func IsBusy(err error) bool {
	target := &ErrBusy{}
	return errors.As(err, &target)
}

// ErrUnsupported indicates an operation the backend cannot perform, such as
// writing to a read-only store.
type ErrUnsupported struct {
	Store string
	Op    string
}

// NewUnsupported returns an ErrUnsupported for op on store.
func NewUnsupported(store, op string) error {
	return &ErrUnsupported{Store: store, Op: op}
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Store, e.Op)
}

// IsUnsupported returns true if err's chain contains an ErrUnsupported.
func IsUnsupported(err error) bool {
	target := &ErrUnsupported{}
	return errors.As(err, &target)
}
