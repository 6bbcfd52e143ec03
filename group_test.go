package zarr

import (
	"testing"

	"github.com/chunkgrid/zarr/internal/pctx"
	"github.com/chunkgrid/zarr/internal/require"
	"github.com/chunkgrid/zarr/zarrerr"
)

func TestCreateAndOpenGroup(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	g, err := CreateGroup(ctx, st, "proj", map[string]interface{}{"owner": "ops"})
	require.NoError(t, err)
	require.Equal(t, "proj", g.Path())

	exists, err := st.Store().Exists(ctx, "proj/zarr.json")
	require.NoError(t, err)
	require.True(t, exists)

	s, err := g.MetadataString(false)
	require.NoError(t, err)
	require.Equal(t, `{"zarr_format":3,"node_type":"group","attributes":{"owner":"ops"}}`, s)
	require.NoError(t, g.Close())

	_, err = CreateGroup(ctx, st, "proj", nil)
	require.True(t, zarrerr.IsAlreadyExists(err), "got %v", err)

	h, err := OpenGroup(ctx, st, "/proj/")
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"owner": "ops"}, h.Attributes())
	require.NoError(t, h.Close())

	_, err = OpenGroup(ctx, st, "missing")
	require.True(t, zarrerr.IsNotExist(err), "got %v", err)

	// An array document is not a group.
	md := NewArrayMetadata([]uint64{2}, mustDataType(t, "uint8"), []uint64{2})
	a, err := CreateArray(ctx, st, "arr", md)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	_, err = OpenGroup(ctx, st, "arr")
	require.True(t, zarrerr.IsInvalidMetadata(err), "got %v", err)
}

func TestGroupChildren(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	root, err := CreateGroup(ctx, st, "", nil)
	require.NoError(t, err)
	defer root.Close()
	g, err := CreateGroup(ctx, st, "a", nil)
	require.NoError(t, err)
	defer g.Close()

	for _, path := range []string{"a/b", "a/c", "a/b/deep", "ax"} {
		child, err := CreateGroup(ctx, st, path, nil)
		require.NoError(t, err)
		require.NoError(t, child.Close())
	}
	md := NewArrayMetadata([]uint64{2, 2}, mustDataType(t, "uint8"), []uint64{2, 2})
	arr, err := CreateArray(ctx, st, "a/d", md)
	require.NoError(t, err)
	require.NoError(t, arr.StoreChunk(ctx, []uint64{0, 0}, []byte{1, 2, 3, 4}))
	require.NoError(t, arr.Close())

	// Only direct children count: not a/b/deep, and not the sibling "ax"
	// whose name happens to share a prefix.  Chunk objects under a/d are
	// not nodes either.
	names, err := g.Children(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "d"}, names)

	names, err = root.Children(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "ax"}, names)

	empty, err := OpenGroup(ctx, st, "a/c")
	require.NoError(t, err)
	defer empty.Close()
	names, err = empty.Children(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{}, names)
}

func TestGroupSetAttributes(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := testStorage(t)

	g, err := CreateGroup(ctx, st, "mut", nil)
	require.NoError(t, err)
	require.Nil(t, g.Attributes())

	require.NoError(t, g.SetAttributes(ctx, map[string]interface{}{"stage": "raw"}))
	require.Equal(t, "raw", g.Attributes()["stage"])
	require.NoError(t, g.Close())

	h, err := OpenGroup(ctx, st, "mut")
	require.NoError(t, err)
	defer h.Close()
	require.Equal(t, "raw", h.Attributes()["stage"])
}

func TestGroupLifetime(t *testing.T) {
	ctx := pctx.TestContext(t)
	st := OpenMem()

	g, err := CreateGroup(ctx, st, "life", nil)
	require.NoError(t, err)

	err = st.Close()
	require.True(t, zarrerr.IsBusy(err), "got %v", err)

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	_, err = g.Children(ctx)
	require.True(t, zarrerr.IsClosed(err), "got %v", err)
	err = g.SetAttributes(ctx, nil)
	require.True(t, zarrerr.IsClosed(err), "got %v", err)

	require.NoError(t, st.Close())
	_, err = OpenGroup(ctx, st, "life")
	require.True(t, zarrerr.IsClosed(err), "got %v", err)
	_, err = CreateGroup(ctx, st, "other", nil)
	require.True(t, zarrerr.IsClosed(err), "got %v", err)
}
