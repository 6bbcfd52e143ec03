package storage

import (
	"strings"

	"github.com/chunkgrid/zarr/internal/errors"
	"github.com/chunkgrid/zarr/zarrerr"
)

func checkRange(store, key string, offset, length, size int64) error {
	if offset < 0 || length < 0 || offset+length > size {
		return zarrerr.WrapCorrupt(
			errors.Errorf("%s: range [%d, %d) outside value of %d bytes", store, offset, offset+length, size),
			key)
	}
	return nil
}

// checkKey rejects keys that would escape a path-mapped store root.
func checkKey(store, key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return errors.Errorf("%s: invalid key %q", store, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return errors.Errorf("%s: invalid key %q", store, key)
		}
	}
	return nil
}
