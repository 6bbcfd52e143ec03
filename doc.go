/*
Package zarr reads and writes chunked n-dimensional arrays in the Zarr v3
storage format.

An array lives at a node path inside a store and consists of one JSON
metadata document plus one stored object per non-empty chunk.  Chunks
decode through a configurable codec pipeline; a chunk with no stored
object reads as the array's fill value, so sparse arrays cost nothing for
the regions never written.  Arrays may use a two-level layout in which
each stored chunk is a shard packing a grid of inner chunks together with
an index locating them, letting small reads fetch single inner chunks by
byte range instead of whole shards.

Access goes through handles.  A [Storage] wraps one store (filesystem,
memory, zip archive or blob bucket, see [OpenBucket]) and tracks the
handles derived from it; [Array] and [Group] bind a node path to a
metadata snapshot.  Reads are safe from any number of goroutines; writes
to the same chunk need the caller's own coordination.

Repeated partial reads of sharded arrays benefit from a
[ShardIndexCache], shared across arrays and handles.  The cache collapses
concurrent loads of the same shard index into a single ranged read and is
invalidated automatically by writes through the attaching handle.

# Layout on storage

A flat array with chunk key encoding "default" and separator "/" is laid
out as:

	myarray/zarr.json
	myarray/c/0/0
	myarray/c/0/1
	...

Shards use the same keys; the shard object carries its inner index at the
end (or start) per the sharding configuration in zarr.json.
*/
package zarr
