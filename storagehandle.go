package zarr

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/chunkgrid/zarr/storage"
	"github.com/chunkgrid/zarr/zarrerr"
)

// Storage is a handle on a store that tracks the array and group handles
// opened through it.  Close fails while any remain open, so the store is
// never torn down underneath a live handle.
type Storage struct {
	id    string
	store storage.Store

	mu     sync.Mutex
	closed bool
	open   int
}

// NewStorage wraps an existing store in a handle.  The handle owns the
// store: closing the handle closes the store as well.
func NewStorage(store storage.Store) *Storage {
	return &Storage{
		id:    uuid.NewString(),
		store: store,
	}
}

// OpenFilesystem returns a handle on a filesystem store rooted at dir.
func OpenFilesystem(dir string) *Storage {
	return NewStorage(storage.NewFSStore(dir))
}

// OpenMem returns a handle on a fresh in-memory store.
func OpenMem() *Storage {
	return NewStorage(storage.NewMemStore())
}

// OpenZip returns a read-only handle on a zip archive.
func OpenZip(path string) (*Storage, error) {
	store, err := storage.NewZipStore(path)
	if err != nil {
		return nil, err
	}
	return NewStorage(store), nil
}

// OpenBucket returns a handle on the blob bucket named by urlstr, for
// example "s3://my-bucket?region=us-west-2", "file:///data" or "mem://".
func OpenBucket(ctx context.Context, urlstr string) (*Storage, error) {
	store, err := storage.OpenBucket(ctx, urlstr)
	if err != nil {
		return nil, err
	}
	return NewStorage(store), nil
}

// Store returns the underlying store.
func (s *Storage) Store() storage.Store { return s.store }

func (s *Storage) String() string { return s.store.String() }

// acquire registers a dependent array or group handle.
func (s *Storage) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return zarrerr.NewClosed("storage")
	}
	s.open++
	return nil
}

func (s *Storage) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open--
}

// Close releases the handle and closes the underlying store.  It fails
// with a Busy error while arrays or groups opened through it remain open.
// A second Close is a no-op.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.open > 0 {
		return zarrerr.NewBusy("storage", s.open)
	}
	s.closed = true
	if c, ok := s.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
