package storage

import (
	"archive/zip"
	"context"
	"io"
	"sort"
	"strings"

	"github.com/chunkgrid/zarr/internal/errors"
	"github.com/chunkgrid/zarr/zarrerr"
)

var _ Store = &ZipStore{}

// ZipStore is a read-only Store over a zip archive.  Zip members are not
// seekable, so GetRange decompresses and discards the skipped prefix; whole
// reads are cheap, ranged reads are proportional to offset.
type ZipStore struct {
	path    string
	rc      *zip.ReadCloser
	members map[string]*zip.File
}

func NewZipStore(path string) (*ZipStore, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open zip %s", path)
	}
	members := make(map[string]*zip.File, len(rc.File))
	for _, f := range rc.File {
		if f.FileInfo().IsDir() {
			continue
		}
		members[strings.TrimPrefix(f.Name, "./")] = f
	}
	return &ZipStore{path: path, rc: rc, members: members}, nil
}

func (s *ZipStore) Get(ctx context.Context, key string) ([]byte, error) {
	f, exists := s.members[key]
	if !exists {
		return nil, zarrerr.NewNotExist(s.String(), key)
	}
	r, err := f.Open()
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	return data, errors.EnsureStack(err)
}

func (s *ZipStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	f, exists := s.members[key]
	if !exists {
		return nil, zarrerr.NewNotExist(s.String(), key)
	}
	if err := checkRange(s.String(), key, offset, length, int64(f.UncompressedSize64)); err != nil {
		return nil, err
	}
	r, err := f.Open()
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	defer r.Close()
	if _, err := io.CopyN(io.Discard, r, offset); err != nil {
		return nil, errors.EnsureStack(err)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.EnsureStack(err)
	}
	return buf, nil
}

func (s *ZipStore) Size(ctx context.Context, key string) (int64, error) {
	f, exists := s.members[key]
	if !exists {
		return 0, zarrerr.NewNotExist(s.String(), key)
	}
	return int64(f.UncompressedSize64), nil
}

func (s *ZipStore) Put(ctx context.Context, key string, value []byte) error {
	return zarrerr.NewUnsupported(s.String(), "put")
}

func (s *ZipStore) Delete(ctx context.Context, key string) error {
	return zarrerr.NewUnsupported(s.String(), "delete")
}

func (s *ZipStore) Exists(ctx context.Context, key string) (bool, error) {
	_, exists := s.members[key]
	return exists, nil
}

func (s *ZipStore) Walk(ctx context.Context, prefix string, cb func(key string) error) error {
	keys := make([]string, 0, len(s.members))
	for k := range s.members {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := cb(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *ZipStore) String() string {
	return s.path
}

func (s *ZipStore) Close() error {
	return errors.EnsureStack(s.rc.Close())
}
