// Package lvreader translates logical-volume byte offsets into physical
// reads against a pkg/pool.Pool, following each logical volume's segment
// map.
package lvreader

import (
	"io"
	"sync"

	"github.com/go-logr/logr"

	"github.com/bgrewell/lvm-kit/pkg/lvmerr"
	"github.com/bgrewell/lvm-kit/pkg/model"
	"github.com/bgrewell/lvm-kit/pkg/pool"
)

// LogicalVolume is a read-only, seekable view over one logical volume's
// data, translating each read through its segment and stripe map onto the
// bound pool.
type LogicalVolume struct {
	mu     sync.Mutex
	vg     *model.VolumeGroup
	values *model.LogicalVolumeValues
	pool   pool.Pool
	log    logr.Logger
	cursor int64
}

// New wraps lv (a member of vg.LogicalVolumes) as a readable, seekable
// LogicalVolume backed by p.
func New(vg *model.VolumeGroup, lv *model.LogicalVolumeValues, p pool.Pool, log logr.Logger) *LogicalVolume {
	return &LogicalVolume{vg: vg, values: lv, pool: p, log: log}
}

// Size returns the logical volume's total addressable length in bytes.
func (lv *LogicalVolume) Size() int64 {
	return int64(lv.values.SizeBytes())
}

// Seek implements io.Seeker. A result that would be negative is rejected
// with lvmerr.OutOfBounds rather than silently clamped; seeking past the end
// of the volume is allowed (the next Read simply returns io.EOF), matching
// os.File's behavior.
func (lv *LogicalVolume) Seek(offset int64, whence int) (int64, error) {
	const op = "lvreader.LogicalVolume.Seek"

	lv.mu.Lock()
	defer lv.mu.Unlock()

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = lv.cursor + offset
	case io.SeekEnd:
		next = lv.Size() + offset
	default:
		return 0, lvmerr.New(lvmerr.InvalidArgument, op, "invalid whence %d", whence)
	}

	if next < 0 {
		return 0, lvmerr.New(lvmerr.OutOfBounds, op, "seek would produce a negative offset: %d", next)
	}

	lv.cursor = next
	return next, nil
}

// Read implements io.Reader, advancing the volume's internal cursor. Unlike
// ReadAt, Read always reports io.EOF once the cursor reaches the end of the
// volume: io.Reader's contract (unlike io.ReaderAt's) requires eventual EOF
// to terminate sequential-read loops, so Read enforces that itself rather
// than forwarding ReadAt's boundary result, the same way io.SectionReader's
// Read wraps an io.ReaderAt.
func (lv *LogicalVolume) Read(p []byte) (int, error) {
	lv.mu.Lock()
	cursor := lv.cursor
	lv.mu.Unlock()

	if cursor >= lv.Size() {
		return 0, io.EOF
	}

	n, err := lv.ReadAt(p, cursor)

	lv.mu.Lock()
	lv.cursor = cursor + int64(n)
	lv.mu.Unlock()

	return n, err
}

// ReadAt implements io.ReaderAt. It clamps the requested range to the
// logical volume's bounds, then walks segments starting at off, translating
// each one to a physical read via the bound pool. Reads are only served
// through Striped segments with exactly one stripe; any other segment type,
// or a stripe naming a physical volume absent from the volume group, fails
// the read (without invalidating introspection of the volume group itself).
// A read starting exactly at the volume's end returns (0, nil), not an
// error: only a read that runs past the end after returning some bytes, or
// one starting beyond the end, reports io.EOF.
func (lv *LogicalVolume) ReadAt(p []byte, off int64) (int, error) {
	const op = "lvreader.LogicalVolume.ReadAt"

	if off < 0 {
		return 0, lvmerr.New(lvmerr.OutOfBounds, op, "negative offset %d", off)
	}

	total := lv.values.SizeBytes()
	if uint64(off) == total {
		return 0, nil
	}
	if uint64(off) > total {
		return 0, io.EOF
	}

	remaining := total - uint64(off)
	want := uint64(len(p))
	if want > remaining {
		want = remaining
	}

	var n uint64
	for n < want {
		logicalOffset := uint64(off) + n
		seg, _, ok := lv.values.SegmentAt(logicalOffset)
		if !ok {
			break
		}

		stripe, ok := seg.SingleStripe()
		if !ok {
			return int(n), lvmerr.New(lvmerr.Unsupported, op,
				"segment %q has type %s with %d stripes, only a single-stripe striped segment is readable",
				seg.Name, seg.Type, len(seg.Stripes))
		}

		pv, pvIndex, found := lv.vg.PhysicalVolumeByName(stripe.PhysicalVolumeName)
		if !found {
			return int(n), lvmerr.New(lvmerr.InvalidData, op,
				"segment %q stripe references unknown physical volume %q", seg.Name, stripe.PhysicalVolumeName)
		}

		physBase, err := pv.StripeOffsetBytes(stripe.StartExtent, lv.vg.ExtentSizeBytes)
		if err != nil {
			return int(n), err
		}

		segRelOffset := logicalOffset - seg.OffsetBytes
		physOffset := physBase + segRelOffset
		contiguous := seg.SizeBytes - segRelOffset

		toRead := want - n
		if toRead > contiguous {
			toRead = contiguous
		}

		lv.log.V(2).Info("trace: segment read", "segment", seg.Name, "physicalVolume", pv.Name,
			"physicalOffset", physOffset, "length", toRead)

		read, err := lv.pool.ReadAt(pvIndex, p[n:n+toRead], int64(physOffset))
		n += uint64(read)
		if err != nil && err != io.EOF {
			return int(n), lvmerr.Wrap(lvmerr.IoError, op, err)
		}
		if uint64(read) < toRead {
			break
		}
	}

	if n < uint64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}
