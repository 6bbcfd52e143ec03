package storage

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/chunkgrid/zarr/internal/pctx"
	"github.com/chunkgrid/zarr/internal/require"
	"github.com/chunkgrid/zarr/zarrerr"
)

func newTestZip(t testing.TB, members map[string][]byte) *ZipStore {
	p := filepath.Join(t.TempDir(), "store.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, data := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	s, err := NewZipStore(p)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestZipStore(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	s := newTestZip(t, map[string][]byte{
		"a/zarr.json": []byte(`{"zarr_format":3}`),
		"a/c/0/0":     []byte("chunk zero zero"),
		"a/c/0/1":     []byte("chunk zero one"),
	})

	data, err := s.Get(ctx, "a/c/0/0")
	require.NoError(t, err)
	require.Equal(t, []byte("chunk zero zero"), data)

	data, err = s.GetRange(ctx, "a/c/0/0", 6, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("zero"), data)

	size, err := s.Size(ctx, "a/c/0/1")
	require.NoError(t, err)
	require.Equal(t, int64(len("chunk zero one")), size)

	_, err = s.Get(ctx, "a/c/1/0")
	require.True(t, zarrerr.IsNotExist(err))

	var keys []string
	require.NoError(t, s.Walk(ctx, "a/c/", func(key string) error {
		keys = append(keys, key)
		return nil
	}))
	require.Equal(t, []string{"a/c/0/0", "a/c/0/1"}, keys)
}

func TestZipStoreReadOnly(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	s := newTestZip(t, map[string][]byte{"k": []byte("v")})
	require.True(t, zarrerr.IsUnsupported(s.Put(ctx, "k2", []byte("x"))))
	require.True(t, zarrerr.IsUnsupported(s.Delete(ctx, "k")))
}
