package zarr

// ArrayOption configures an array handle at open or create time.
type ArrayOption func(a *Array)

// WithConfig replaces the handle's default runtime configuration.
func WithConfig(config Config) ArrayOption {
	return func(a *Array) {
		a.config = config
	}
}

// WithShardIndexCache attaches c to the handle.  Reads of sharded chunks
// consult the cache before touching storage, and writes through the handle
// invalidate the entries they make stale.
func WithShardIndexCache(c *ShardIndexCache) ArrayOption {
	return func(a *Array) {
		a.cache = c
	}
}
