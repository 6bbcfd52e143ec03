package storage

import (
	"context"
	"sync/atomic"
)

var _ Store = &CountingStore{}

// CountingStore wraps a Store and counts operations.  Tests use it to assert
// how many backend calls an operation performed, in particular that
// concurrent shard index loads collapse to one read and that rejected
// requests touch the backend zero times.
type CountingStore struct {
	inner Store

	gets      atomic.Int64
	getRanges atomic.Int64
	sizes     atomic.Int64
	puts      atomic.Int64
	deletes   atomic.Int64
	exists    atomic.Int64
	walks     atomic.Int64
}

func NewCountingStore(inner Store) *CountingStore {
	return &CountingStore{inner: inner}
}

func (s *CountingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.gets.Add(1)
	return s.inner.Get(ctx, key)
}

func (s *CountingStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	s.getRanges.Add(1)
	return s.inner.GetRange(ctx, key, offset, length)
}

func (s *CountingStore) Size(ctx context.Context, key string) (int64, error) {
	s.sizes.Add(1)
	return s.inner.Size(ctx, key)
}

func (s *CountingStore) Put(ctx context.Context, key string, value []byte) error {
	s.puts.Add(1)
	return s.inner.Put(ctx, key, value)
}

func (s *CountingStore) Delete(ctx context.Context, key string) error {
	s.deletes.Add(1)
	return s.inner.Delete(ctx, key)
}

func (s *CountingStore) Exists(ctx context.Context, key string) (bool, error) {
	s.exists.Add(1)
	return s.inner.Exists(ctx, key)
}

func (s *CountingStore) Walk(ctx context.Context, prefix string, cb func(key string) error) error {
	s.walks.Add(1)
	return s.inner.Walk(ctx, prefix, cb)
}

func (s *CountingStore) String() string {
	return s.inner.String()
}

func (s *CountingStore) Gets() int64        { return s.gets.Load() }
func (s *CountingStore) GetRanges() int64   { return s.getRanges.Load() }
func (s *CountingStore) Sizes() int64       { return s.sizes.Load() }
func (s *CountingStore) Puts() int64        { return s.puts.Load() }
func (s *CountingStore) Deletes() int64     { return s.deletes.Load() }
func (s *CountingStore) ExistsCalls() int64 { return s.exists.Load() }
func (s *CountingStore) Walks() int64       { return s.walks.Load() }

// Reads returns the total count of read operations (Get, GetRange, Size).
func (s *CountingStore) Reads() int64 {
	return s.gets.Load() + s.getRanges.Load() + s.sizes.Load()
}

// Total returns the count of all operations.
func (s *CountingStore) Total() int64 {
	return s.Reads() + s.puts.Load() + s.deletes.Load() + s.exists.Load() + s.walks.Load()
}

// Reset zeroes all counters.
func (s *CountingStore) Reset() {
	s.gets.Store(0)
	s.getRanges.Store(0)
	s.sizes.Store(0)
	s.puts.Store(0)
	s.deletes.Store(0)
	s.exists.Store(0)
	s.walks.Store(0)
}
