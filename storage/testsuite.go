package storage

import (
	"math/rand"
	"testing"

	"github.com/chunkgrid/zarr/internal/pctx"
	"github.com/chunkgrid/zarr/internal/randutil"
	"github.com/chunkgrid/zarr/internal/require"
	"github.com/chunkgrid/zarr/zarrerr"
)

// TestStore runs the Store contract against any implementation.  Backend
// tests call this with a constructor for a fresh, empty store.
func TestStore(t *testing.T, newStore func(t testing.TB) Store) {
	t.Run("PutGet", func(t *testing.T) {
		x := newStore(t)
		requirePut(t, x, "key1", []byte("value1"))
		require.Equal(t, []byte("value1"), requireGet(t, x, "key1"))
	})
	t.Run("Overwrite", func(t *testing.T) {
		x := newStore(t)
		requirePut(t, x, "key1", []byte("first value, long"))
		requirePut(t, x, "key1", []byte("second"))
		require.Equal(t, []byte("second"), requireGet(t, x, "key1"))
	})
	t.Run("NotExist", func(t *testing.T) {
		ctx := pctx.TestContext(t)
		x := newStore(t)
		_, err := x.Get(ctx, "missing")
		require.True(t, zarrerr.IsNotExist(err))
		_, err = x.GetRange(ctx, "missing", 0, 1)
		require.True(t, zarrerr.IsNotExist(err))
		_, err = x.Size(ctx, "missing")
		require.True(t, zarrerr.IsNotExist(err))
		require.False(t, requireExists(t, x, "missing"))
	})
	t.Run("GetRange", func(t *testing.T) {
		ctx := pctx.TestContext(t)
		x := newStore(t)
		random := rand.New(rand.NewSource(11))
		data := randutil.Bytes(random, 1024)
		requirePut(t, x, "ranged", data)

		got, err := x.GetRange(ctx, "ranged", 0, 1)
		require.NoError(t, err)
		require.Equal(t, data[:1], got)

		got, err = x.GetRange(ctx, "ranged", 100, 200)
		require.NoError(t, err)
		require.Equal(t, data[100:300], got)

		got, err = x.GetRange(ctx, "ranged", 1008, 16)
		require.NoError(t, err)
		require.Equal(t, data[1008:], got)

		_, err = x.GetRange(ctx, "ranged", 1020, 16)
		require.YesError(t, err)
	})
	t.Run("Size", func(t *testing.T) {
		ctx := pctx.TestContext(t)
		x := newStore(t)
		requirePut(t, x, "sized", make([]byte, 345))
		size, err := x.Size(ctx, "sized")
		require.NoError(t, err)
		require.Equal(t, int64(345), size)
	})
	t.Run("IdempotentDelete", func(t *testing.T) {
		x := newStore(t)
		requirePut(t, x, "key1", make([]byte, 100))
		require.True(t, requireExists(t, x, "key1"))
		for i := 0; i < 3; i++ {
			requireDelete(t, x, "key1")
			require.False(t, requireExists(t, x, "key1"))
		}
	})
	t.Run("Walk", func(t *testing.T) {
		ctx := pctx.TestContext(t)
		x := newStore(t)
		requirePut(t, x, "a/zarr.json", []byte("{}"))
		requirePut(t, x, "a/c/0/0", []byte("x"))
		requirePut(t, x, "a/c/0/1", []byte("y"))
		requirePut(t, x, "b/zarr.json", []byte("{}"))

		var keys []string
		require.NoError(t, x.Walk(ctx, "a/", func(key string) error {
			keys = append(keys, key)
			return nil
		}))
		require.Equal(t, []string{"a/c/0/0", "a/c/0/1", "a/zarr.json"}, keys)

		var all []string
		require.NoError(t, x.Walk(ctx, "", func(key string) error {
			all = append(all, key)
			return nil
		}))
		require.Len(t, all, 4)
	})
	t.Run("EmptyValue", func(t *testing.T) {
		x := newStore(t)
		requirePut(t, x, "empty", nil)
		require.Equal(t, []byte{}, requireGet(t, x, "empty"))
		require.True(t, requireExists(t, x, "empty"))
	})
}

func requireExists(t testing.TB, s Store, key string) bool {
	ctx := pctx.TestContext(t)
	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	return exists
}

func requirePut(t testing.TB, s Putter, key string, value []byte) {
	ctx := pctx.TestContext(t)
	require.NoError(t, s.Put(ctx, key, value))
}

func requireDelete(t testing.TB, s Deleter, key string) {
	ctx := pctx.TestContext(t)
	require.NoError(t, s.Delete(ctx, key))
}

func requireGet(t testing.TB, s Getter, key string) []byte {
	ctx := pctx.TestContext(t)
	value, err := s.Get(ctx, key)
	require.NoError(t, err)
	if value == nil {
		value = []byte{}
	}
	return value
}
