package constants

// Default configuration constants
const (
	// DefaultLogicalBlockSize is the default logical block size in bytes
	DefaultLogicalBlockSize = 512

	// DefaultOptimalIOBoundary is the default optimal-IO boundary in
	// blocks, used as the delta-bitmap region size when a base device
	// doesn't advertise one. 2048 blocks of 512 bytes is a 1MB region.
	DefaultOptimalIOBoundary = 2048

	// DefaultClusterSize is the default fragmap cluster size in bytes (1MB)
	DefaultClusterSize = 1 << 20

	// DefaultMaxIOSize is the default maximum I/O size in bytes (1MB)
	DefaultMaxIOSize = 1 << 20

	// DefaultRingEntries is the default io_uring submission queue depth
	// for file-backed base devices
	DefaultRingEntries = 128

	// MinBaseDevices is the minimum number of base devices a mirror can
	// operate with
	MinBaseDevices = 1
)
