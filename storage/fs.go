package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chunkgrid/zarr/internal/errors"
	"github.com/chunkgrid/zarr/internal/log"
	"github.com/chunkgrid/zarr/zarrerr"
)

// stagingDir holds in-flight writes below the store root.  It is skipped by
// Walk and emptied on first use.
const stagingDir = ".staging"

var _ Store = &FSStore{}

// FSStore is a Store backed by a directory tree.  Keys map directly onto
// relative file paths, so the on-disk layout is readable by other Zarr
// implementations.  Writes go to a staging file first and are renamed into
// place, so a value is either fully present or absent.
type FSStore struct {
	dir      string
	initOnce sync.Once
}

func NewFSStore(dir string) *FSStore {
	return &FSStore{dir: dir}
}

func (s *FSStore) Put(ctx context.Context, key string, value []byte) (retErr error) {
	log.Debug(ctx, "put", zap.String("key", key), zap.Int("value_len", len(value)))
	if err := checkKey(s.String(), key); err != nil {
		return err
	}
	if err := s.ensureInit(ctx); err != nil {
		return err
	}
	final := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return errors.EnsureStack(err)
	}
	staging := s.stagingPath()
	defer s.cleanupFile(ctx, &retErr, staging)
	if err := os.WriteFile(staging, value, 0o644); err != nil {
		return s.transformError(err, key)
	}
	return errors.EnsureStack(os.Rename(staging, final))
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(s.String(), key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		return nil, s.transformError(err, key)
	}
	return data, nil
}

func (s *FSStore) GetRange(ctx context.Context, key string, offset, length int64) (_ []byte, retErr error) {
	if err := checkKey(s.String(), key); err != nil {
		return nil, err
	}
	f, err := os.Open(s.pathFor(key))
	if err != nil {
		return nil, s.transformError(err, key)
	}
	defer errors.Close(&retErr, f, "close %s", f.Name())
	fi, err := f.Stat()
	if err != nil {
		return nil, s.transformError(err, key)
	}
	if err := checkRange(s.String(), key, offset, length, fi.Size()); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, s.transformError(err, key)
	}
	return buf, nil
}

func (s *FSStore) Size(ctx context.Context, key string) (int64, error) {
	if err := checkKey(s.String(), key); err != nil {
		return 0, err
	}
	fi, err := os.Stat(s.pathFor(key))
	if err != nil {
		return 0, s.transformError(err, key)
	}
	return fi.Size(), nil
}

func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey(s.String(), key); err != nil {
		return false, err
	}
	_, err := os.Stat(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, s.transformError(err, key)
	}
	return true, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	log.Debug(ctx, "delete", zap.String("key", key))
	if err := checkKey(s.String(), key); err != nil {
		return err
	}
	err := os.Remove(s.pathFor(key))
	if os.IsNotExist(err) {
		err = nil
	}
	return errors.EnsureStack(err)
}

func (s *FSStore) Walk(ctx context.Context, prefix string, cb func(key string) error) error {
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == s.dir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == stagingDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		return cb(key)
	})
	return errors.EnsureStack(err)
}

func (s *FSStore) String() string {
	return s.dir
}

func (s *FSStore) pathFor(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}

func (s *FSStore) stagingPath() string {
	return filepath.Join(s.dir, stagingDir, uuid.NewString())
}

func (s *FSStore) ensureInit(ctx context.Context) (err error) {
	s.initOnce.Do(func() {
		err = s.init(ctx)
	})
	return err
}

func (s *FSStore) init(ctx context.Context) error {
	if err := os.RemoveAll(filepath.Join(s.dir, stagingDir)); err != nil {
		return errors.EnsureStack(err)
	}
	if err := os.MkdirAll(filepath.Join(s.dir, stagingDir), 0o755); err != nil {
		return errors.EnsureStack(err)
	}
	log.Info(ctx, "initialized filesystem store", zap.String("root", s.dir))
	return nil
}

func (s *FSStore) transformError(err error, key string) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) || strings.HasSuffix(err.Error(), ": no such file or directory") {
		return zarrerr.NewNotExist(s.dir, key)
	}
	return errors.EnsureStack(err)
}

// cleanupFile removes leftovers from the staging area.
func (s *FSStore) cleanupFile(ctx context.Context, retErr *error, p string) {
	err := os.Remove(p)
	if os.IsNotExist(err) {
		err = nil
	}
	if err != nil {
		if *retErr == nil {
			*retErr = err
		} else {
			log.Error(ctx, "error deleting staging file", zap.Error(err))
		}
	}
}
