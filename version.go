package zarr

import "fmt"

// Version components of this library.
const (
	VersionMajor = 0
	VersionMinor = 1
	VersionPatch = 0
)

// Version returns the library version as "major.minor.patch".
func Version() string {
	return fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
}

// PackedVersion returns the version packed into a single integer as
// (major << 22) | (minor << 12) | patch, which orders correctly under
// numeric comparison.
func PackedVersion() uint32 {
	return VersionMajor<<22 | VersionMinor<<12 | VersionPatch
}
