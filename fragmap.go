package raid1mirror

import (
	"github.com/behrlich/go-raid1mirror/internal/fragmap"
)

// FragmapRequest is the wire shape of the fragmap RPC: a device name
// plus a byte range. Offset and Size must be cluster-aligned; a zero
// Size means "from Offset to the end of the device".
type FragmapRequest struct {
	Name   string `json:"name"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

// FragmapResponse is the fragmap RPC result: a cluster-granularity
// allocation bitmap, base64-encoded.
type FragmapResponse = fragmap.Response

// DeviceOpener resolves a device name to an open seekable device. The
// returned device is held only for the duration of one scan.
type DeviceOpener func(name string) (SeekableDevice, error)

// ScanFragmap resolves req.Name through open, scans the requested range
// at clusterSize granularity, and closes the device on every exit path.
// Errors: NoSuchDevice when open fails, InvalidArg for misaligned or
// out-of-range requests.
func ScanFragmap(open DeviceOpener, clusterSize uint64, req FragmapRequest) (*FragmapResponse, error) {
	if clusterSize == 0 {
		clusterSize = DefaultClusterSize
	}

	dev, err := open(req.Name)
	if err != nil {
		return nil, &Error{
			Op:       "FRAGMAP",
			MirrorID: req.Name,
			Base:     -1,
			Code:     ErrCodeNoSuchDevice,
			Msg:      err.Error(),
			Inner:    err,
		}
	}
	defer dev.Close()

	resp, err := fragmap.Handle(dev, clusterSize, fragmap.Request{
		OffsetBytes: req.Offset,
		SizeBytes:   req.Size,
	})
	if err != nil {
		return nil, &Error{
			Op:       "FRAGMAP",
			MirrorID: req.Name,
			Base:     -1,
			Code:     ErrCodeInvalidArg,
			Msg:      err.Error(),
			Inner:    err,
		}
	}
	return resp, nil
}

// FragmapDevice scans an already-open device directly, without the
// name-resolution and close-on-exit wrapping of ScanFragmap.
func FragmapDevice(dev SeekableDevice, clusterSize, offsetBytes, sizeBytes uint64) (*FragmapResponse, error) {
	if clusterSize == 0 {
		clusterSize = DefaultClusterSize
	}
	resp, err := fragmap.Handle(dev, clusterSize, fragmap.Request{
		OffsetBytes: offsetBytes,
		SizeBytes:   sizeBytes,
	})
	if err != nil {
		return nil, NewError("FRAGMAP", ErrCodeInvalidArg, err.Error())
	}
	return resp, nil
}
