package zarr

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/chunkgrid/zarr/internal/log"
	"github.com/chunkgrid/zarr/storage"
	"github.com/chunkgrid/zarr/zarrerr"
)

// Group is a handle on a group node: a container for child arrays and
// groups, carrying its own attributes.
type Group struct {
	storage *Storage
	store   storage.Store
	path    string

	md atomic.Pointer[GroupMetadata]

	mu     sync.Mutex
	closed bool
}

// OpenGroup opens the group at path.  The metadata document must already
// exist; opening a nonexistent group fails with a NotExist error.
func OpenGroup(ctx context.Context, st *Storage, path string) (*Group, error) {
	path, err := normalizeNodePath(path)
	if err != nil {
		return nil, err
	}
	if err := st.acquire(); err != nil {
		return nil, err
	}
	key := metadataKey(path)
	data, err := st.store.Get(ctx, key)
	if err != nil {
		st.release()
		return nil, zarrerr.WrapStorage(err, "get", key)
	}
	md := &GroupMetadata{}
	if err := json.Unmarshal(data, md); err != nil {
		st.release()
		return nil, zarrerr.WrapInvalidMetadata(err, path)
	}
	g := &Group{storage: st, store: st.store, path: path}
	g.md.Store(md)
	log.Debug(ctx, "opened group", zap.String("storage", st.String()), zap.String("path", path))
	return g, nil
}

// CreateGroup creates a group at path with the given attributes and returns
// a handle on it.  It fails with an AlreadyExists error if a metadata
// document is already present at path.
func CreateGroup(ctx context.Context, st *Storage, path string, attrs map[string]interface{}) (*Group, error) {
	path, err := normalizeNodePath(path)
	if err != nil {
		return nil, err
	}
	if err := st.acquire(); err != nil {
		return nil, err
	}
	key := metadataKey(path)
	exists, err := st.store.Exists(ctx, key)
	if err != nil {
		st.release()
		return nil, zarrerr.WrapStorage(err, "exists", key)
	}
	if exists {
		st.release()
		return nil, zarrerr.NewAlreadyExists(st.String(), path)
	}
	g := &Group{storage: st, store: st.store, path: path}
	g.md.Store(&GroupMetadata{Attributes: cloneAttributes(attrs)})
	if err := g.storeMetadata(ctx, g.md.Load()); err != nil {
		st.release()
		return nil, err
	}
	log.Debug(ctx, "created group", zap.String("storage", st.String()), zap.String("path", path))
	return g, nil
}

// Close releases the handle and its reference on the Storage.  A second
// Close is a no-op.
func (g *Group) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	g.storage.release()
	return nil
}

func (g *Group) check() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return zarrerr.NewClosed("group")
	}
	return nil
}

// Path returns the node path within the storage.
func (g *Group) Path() string { return g.path }

// Attributes returns a copy of the user attributes.
func (g *Group) Attributes() map[string]interface{} {
	return cloneAttributes(g.md.Load().Attributes)
}

// AttributesString returns the user attributes as JSON.
func (g *Group) AttributesString(pretty bool) (string, error) {
	data, err := marshalAttributes(g.md.Load().Attributes, pretty)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// MetadataString returns the group metadata document as JSON.
func (g *Group) MetadataString(pretty bool) (string, error) {
	data, err := g.md.Load().JSON(pretty)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetAttributes replaces the user attributes, persists the updated metadata
// document, and swaps the handle's snapshot.
func (g *Group) SetAttributes(ctx context.Context, attrs map[string]interface{}) error {
	if err := g.check(); err != nil {
		return err
	}
	next := &GroupMetadata{Attributes: cloneAttributes(attrs)}
	if err := g.storeMetadata(ctx, next); err != nil {
		return err
	}
	g.md.Store(next)
	return nil
}

// StoreMetadata writes the current metadata snapshot to storage.
func (g *Group) StoreMetadata(ctx context.Context) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.storeMetadata(ctx, g.md.Load())
}

func (g *Group) storeMetadata(ctx context.Context, md *GroupMetadata) error {
	data, err := md.JSON(false)
	if err != nil {
		return err
	}
	key := metadataKey(g.path)
	if err := g.store.Put(ctx, key, data); err != nil {
		return zarrerr.WrapStorage(err, "put", key)
	}
	log.Debug(ctx, "stored metadata", zap.String("key", key))
	return nil
}

// Children lists the names of nodes directly below this group, in sorted
// order.  A child is any name one level down with its own metadata
// document.
func (g *Group) Children(ctx context.Context) ([]string, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	prefix := ""
	if g.path != "" {
		prefix = g.path + "/"
	}
	seen := map[string]bool{}
	err := g.store.Walk(ctx, prefix, func(key string) error {
		parts := strings.Split(strings.TrimPrefix(key, prefix), "/")
		if len(parts) == 2 && parts[1] == metadataFile {
			seen[parts[0]] = true
		}
		return nil
	})
	if err != nil {
		return nil, zarrerr.WrapStorage(err, "walk", prefix)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
