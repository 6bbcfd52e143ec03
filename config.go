package zarr

import (
	"encoding/json"
	"runtime"

	"github.com/chunkgrid/zarr/internal/errors"
)

// Config controls how a handle reads and writes chunks.  Configuration is
// explicit per handle; there is no process-global state.
type Config struct {
	// ValidateChecksums verifies checksum codecs on decode.
	ValidateChecksums bool `json:"validate_checksums"`
	// StoreEmptyChunks writes chunks even when every element equals the
	// fill value.  When false such chunks are deleted instead, keeping
	// sparse arrays sparse.
	StoreEmptyChunks bool `json:"store_empty_chunks"`
	// ChunkConcurrency bounds how many chunks a subset operation works on
	// concurrently.
	ChunkConcurrency int `json:"chunk_concurrency"`
}

// DefaultConfig returns the default configuration: checksums verified, empty
// chunks elided, one chunk in flight per CPU.
func DefaultConfig() Config {
	return Config{
		ValidateChecksums: true,
		StoreEmptyChunks:  false,
		ChunkConcurrency:  runtime.GOMAXPROCS(0),
	}
}

// ParseConfig reads a JSON configuration.  Missing fields keep their default
// values.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if cfg.ChunkConcurrency < 1 {
		cfg.ChunkConcurrency = 1
	}
	return cfg, nil
}

// String returns the configuration as JSON.
func (c Config) String() string {
	data, err := json.Marshal(c)
	if err != nil {
		// Config has no unmarshalable fields.
		panic(err)
	}
	return string(data)
}
