// Package fragmap implements the allocation-bitmap scanner behind the
// mirror's fragmap RPC: a two-state walk over a device's
// SEEK_DATA/SEEK_HOLE oracle producing one bit per cluster.
package fragmap

import (
	"fmt"

	"github.com/behrlich/go-raid1mirror/internal/bitarray"
	"github.com/behrlich/go-raid1mirror/internal/interfaces"
)

// Request is the decoded fragmap RPC request. A zero Size means "from
// Offset to the end of the device" — OffsetBytes and Size must each be
// a multiple of the cluster size.
type Request struct {
	OffsetBytes uint64 `json:"offset"`
	SizeBytes   uint64 `json:"size"`
}

// Response is the fragmap RPC result: one bit per cluster in the
// scanned range, base64-encoded.
type Response struct {
	ClusterSize          uint64 `json:"cluster_size"`
	NumClusters          uint64 `json:"num_clusters"`
	NumAllocatedClusters uint64 `json:"num_allocated_clusters"`
	Fragmap              string `json:"fragmap"`
}

// Handle validates req against dev's size and clusterSizeBytes, scans,
// and encodes the result. clusterSizeBytes is supplied by the caller
// (the mirror's own notion of cluster size, not something a BaseDevice
// exposes) rather than read off dev.
func Handle(dev interfaces.SeekableDevice, clusterSizeBytes uint64, req Request) (*Response, error) {
	fm, allocated, err := Scan(dev, req.OffsetBytes, req.SizeBytes, clusterSizeBytes)
	if err != nil {
		return nil, err
	}
	return &Response{
		ClusterSize:          clusterSizeBytes,
		NumClusters:          fm.Capacity(),
		NumAllocatedClusters: allocated,
		Fragmap:              fm.ToBase64(),
	}, nil
}

// Scan walks [offsetBytes, offsetBytes+segmentSize) alternating
// SeekData/SeekHole calls, marking one bit per cluster-sized region
// that overlaps a data extent. A sizeBytes of zero scans from
// offsetBytes to the end of the device, the only reading of "size
// omitted" that can't exceed the device.
func Scan(dev interfaces.SeekableDevice, offsetBytes, sizeBytes, clusterSizeBytes uint64) (*bitarray.BitArray, uint64, error) {
	total := uint64(dev.Size())
	if offsetBytes > total || offsetBytes+sizeBytes > total {
		return nil, 0, fmt.Errorf("fragmap: offset %d and size %d exceed device size %d", offsetBytes, sizeBytes, total)
	}

	segmentSize := sizeBytes
	if segmentSize == 0 {
		segmentSize = total - offsetBytes
	}

	if clusterSizeBytes == 0 || offsetBytes%clusterSizeBytes != 0 || segmentSize%clusterSizeBytes != 0 {
		return nil, 0, fmt.Errorf("fragmap: offset %d and size %d must be a multiple of cluster size %d", offsetBytes, segmentSize, clusterSizeBytes)
	}

	numClusters := ceilDiv(segmentSize, clusterSizeBytes)
	fm := bitarray.New(numClusters)

	var allocated uint64
	end := offsetBytes + segmentSize
	current := offsetBytes

	for current < end {
		dataOff, err := dev.SeekData(int64(current))
		if err != nil {
			return nil, 0, fmt.Errorf("fragmap: seek data: %w", err)
		}
		if dataOff < 0 || uint64(dataOff) >= end {
			break
		}
		current = uint64(dataOff)

		holeOff, err := dev.SeekHole(int64(current))
		if err != nil {
			return nil, 0, fmt.Errorf("fragmap: seek hole: %w", err)
		}
		next := end
		if holeOff >= 0 && uint64(holeOff) < end {
			next = uint64(holeOff)
		}

		// Both ends round up so adjoining iterations never double-mark
		// the cluster straddling their shared boundary.
		startCluster := ceilDiv(current-offsetBytes, clusterSizeBytes)
		span := ceilDiv(next-current, clusterSizeBytes)
		for i := uint64(0); i < span; i++ {
			fm.Set(startCluster + i)
		}
		allocated += span

		current = next
	}

	return fm, allocated, nil
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
