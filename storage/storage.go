// Package storage provides the byte store interface that arrays are read
// from and written to, and a few implementations.
//
// Keys are slash-separated paths ("a/b/zarr.json", "a/b/c/0/0").  A store
// holds whole values; Put replaces the value at a key atomically, and
// readers never observe a partially written value.
package storage

import "context"

type Getter interface {
	// Get returns the value at key.
	// If there is no value at key, Get returns an error matched by
	// zarrerr.IsNotExist.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetRange returns length bytes of the value at key starting at
	// offset.  The requested range must lie within the value.
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)

	// Size returns the byte size of the value at key.
	Size(ctx context.Context, key string) (int64, error)
}

type Putter interface {
	// Put creates an entry mapping key to value, overwriting any previous
	// mapping.  The replacement is atomic.
	Put(ctx context.Context, key string, value []byte) error
}

type Deleter interface {
	// Delete removes the entry at key.
	// If there is no entry Delete returns nil.
	Delete(ctx context.Context, key string) error
}

type Walker interface {
	// Walk calls cb once for every key with the given prefix, in
	// lexicographic order.  Returning an error from cb stops the walk and
	// Walk returns that error.
	Walk(ctx context.Context, prefix string, cb func(key string) error) error
}

// Store is a byte store.
type Store interface {
	Getter
	Putter
	Deleter
	Walker
	Exists(ctx context.Context, key string) (bool, error)

	// String identifies the store in logs and errors.
	String() string
}
