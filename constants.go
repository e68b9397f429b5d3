package raid1mirror

import "github.com/behrlich/go-raid1mirror/internal/constants"

// Re-export constants for public API
const (
	DefaultLogicalBlockSize  = constants.DefaultLogicalBlockSize
	DefaultOptimalIOBoundary = constants.DefaultOptimalIOBoundary
	DefaultClusterSize       = constants.DefaultClusterSize
	DefaultMaxIOSize         = constants.DefaultMaxIOSize
	DefaultRingEntries       = constants.DefaultRingEntries
	MinBaseDevices           = constants.MinBaseDevices
)
