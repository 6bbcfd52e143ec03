package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/chunkgrid/zarr/zarrerr"
)

var _ Store = &MemStore{}

// MemStore is an in-memory Store.  The zero value is not usable; call
// NewMemStore.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

func (s *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, exists := s.objects[key]
	if !exists {
		return nil, zarrerr.NewNotExist(s.String(), key)
	}
	return append([]byte{}, v...), nil
}

func (s *MemStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, exists := s.objects[key]
	if !exists {
		return nil, zarrerr.NewNotExist(s.String(), key)
	}
	if err := checkRange(s.String(), key, offset, length, int64(len(v))); err != nil {
		return nil, err
	}
	return append([]byte{}, v[offset:offset+length]...), nil
}

func (s *MemStore) Size(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, exists := s.objects[key]
	if !exists {
		return 0, zarrerr.NewNotExist(s.String(), key)
	}
	return int64(len(v)), nil
}

func (s *MemStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte{}, value...)
	return nil
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.objects[key]
	return exists, nil
}

func (s *MemStore) Walk(ctx context.Context, prefix string, cb func(key string) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	for _, k := range keys {
		if err := cb(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) String() string {
	return "mem"
}
