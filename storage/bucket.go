package storage

import (
	"context"
	"io"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/chunkgrid/zarr/internal/errors"
	"github.com/chunkgrid/zarr/zarrerr"
)

// Bucket represents access to a single object storage bucket.
type Bucket = blob.Bucket

var _ Store = &BucketStore{}

// BucketStore is a Store over an object storage bucket.  The blank driver
// imports above register the file, mem and s3 URL schemes with OpenBucket.
type BucketStore struct {
	name   string
	bucket *Bucket
}

// NewBucketStore wraps an already-open bucket.  name identifies the store in
// logs and errors.
func NewBucketStore(bucket *Bucket, name string) *BucketStore {
	return &BucketStore{name: name, bucket: bucket}
}

// OpenBucket opens the bucket at a driver URL such as
// "s3://bucket?region=us-west-2", "file:///data" or "mem://".
func OpenBucket(ctx context.Context, urlstr string) (*BucketStore, error) {
	bucket, err := blob.OpenBucket(ctx, urlstr)
	if err != nil {
		return nil, errors.Wrapf(err, "open bucket %s", urlstr)
	}
	return NewBucketStore(bucket, urlstr), nil
}

func (s *BucketStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, s.transformError(err, key)
	}
	return data, nil
}

func (s *BucketStore) GetRange(ctx context.Context, key string, offset, length int64) (_ []byte, retErr error) {
	if offset < 0 || length < 0 {
		return nil, checkRange(s.String(), key, offset, length, 0)
	}
	r, err := s.bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, s.transformError(err, key)
	}
	defer errors.Close(&retErr, r, "close range reader for %s", key)
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, checkRange(s.String(), key, offset, length, r.Size())
		}
		return nil, s.transformError(err, key)
	}
	return buf, nil
}

func (s *BucketStore) Size(ctx context.Context, key string) (int64, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return 0, s.transformError(err, key)
	}
	return attrs.Size, nil
}

func (s *BucketStore) Put(ctx context.Context, key string, value []byte) error {
	return s.transformError(s.bucket.WriteAll(ctx, key, value, nil), key)
}

func (s *BucketStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		err = nil
	}
	return errors.EnsureStack(err)
}

func (s *BucketStore) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := s.bucket.Exists(ctx, key)
	return exists, errors.EnsureStack(err)
}

func (s *BucketStore) Walk(ctx context.Context, prefix string, cb func(key string) error) error {
	it := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.EnsureStack(err)
		}
		if obj.IsDir {
			continue
		}
		if err := cb(obj.Key); err != nil {
			return err
		}
	}
}

func (s *BucketStore) String() string {
	return s.name
}

func (s *BucketStore) Close() error {
	return errors.EnsureStack(s.bucket.Close())
}

func (s *BucketStore) transformError(err error, key string) error {
	if err == nil {
		return nil
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return zarrerr.NewNotExist(s.name, key)
	}
	return errors.EnsureStack(err)
}
