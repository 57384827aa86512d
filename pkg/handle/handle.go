// Package handle implements the Handle lifecycle: opening a volume group's
// primary metadata, then binding its physical volumes to a storage pool
// before any logical volume can be read.
package handle

import (
	"fmt"
	"io"
	"sync"

	"github.com/go-logr/logr"

	"github.com/bgrewell/lvm-kit/pkg/checksum"
	"github.com/bgrewell/lvm-kit/pkg/label"
	"github.com/bgrewell/lvm-kit/pkg/lvmerr"
	"github.com/bgrewell/lvm-kit/pkg/metadataarea"
	"github.com/bgrewell/lvm-kit/pkg/metadatatext"
	"github.com/bgrewell/lvm-kit/pkg/model"
	"github.com/bgrewell/lvm-kit/pkg/option"
	"github.com/bgrewell/lvm-kit/pkg/pool"
)

// AccessMode is the access a caller requests when opening a primary
// descriptor. Only AccessRead is implemented; a write request fails with
// lvmerr.Unsupported before any I/O happens.
type AccessMode int

const (
	AccessRead AccessMode = iota
	AccessWrite
)

func (a AccessMode) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	default:
		return "unknown"
	}
}

// State is a Handle's position in its one-way lifecycle: Fresh ->
// MetadataLoaded -> PoolBound. Each arrow is a one-shot transition; taking
// it twice fails with lvmerr.AlreadySet.
type State int

const (
	StateFresh State = iota
	StateMetadataLoaded
	StatePoolBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateMetadataLoaded:
		return "metadata-loaded"
	case StatePoolBound:
		return "pool-bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handle is the single entry point for opening an LVM2 volume group: it
// reads a PV label and its metadata area to learn the volume group's
// structure, then binds that structure to a pool.Pool so logical volumes
// become readable.
type Handle struct {
	mu    sync.Mutex
	state State
	log   logr.Logger
	abort *option.AbortFlag

	vg   *model.VolumeGroup
	pool pool.Pool

	primary io.Closer
}

// New constructs a fresh, unopened Handle. Logging and abort-flag wiring
// are provided via option.HandleOption; a Handle with no WithHandleAbortFlag
// option owns a private AbortFlag that nothing outside the Handle can ever
// signal, so SignalAbort is the only way to cancel it.
func New(opts ...option.HandleOption) *Handle {
	o := option.HandleOptions{Logger: logr.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Abort == nil {
		o.Abort = option.NewAbortFlag()
	}
	return &Handle{state: StateFresh, log: o.Logger, abort: o.Abort}
}

// SignalAbort marks the Handle's abort flag, causing any OpenPrimary call
// not yet started (or not yet past its entry check) to fail with
// lvmerr.ErrAborted.
func (h *Handle) SignalAbort() {
	h.abort.Signal()
}

// OpenPrimary scans r (the first physical volume of the group, the
// "primary") for a PV label, decodes its metadata-area header, verifies and
// parses the active metadata text payload, and transitions the Handle from
// Fresh to MetadataLoaded. It is a one-shot operation: calling it again
// returns lvmerr.AlreadySet. access must be AccessRead; a write request
// fails with lvmerr.Unsupported. If the Handle's abort flag is already
// signaled on entry, OpenPrimary fails with lvmerr.ErrAborted instead of
// doing any I/O.
func (h *Handle) OpenPrimary(r io.ReaderAt, access AccessMode) error {
	const op = "handle.Handle.OpenPrimary"

	if access != AccessRead {
		return lvmerr.New(lvmerr.Unsupported, op, "access mode %s requested, only read access is supported", access)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateFresh {
		return lvmerr.New(lvmerr.AlreadySet, op, "handle is %s, expected fresh", h.state)
	}

	if h.abort.Signaled() {
		return fmt.Errorf("%s: %w", op, lvmerr.ErrAborted)
	}

	lbl, err := label.Scan(r)
	if err != nil {
		return err
	}
	h.log.V(2).Info("trace: pv label found", "sector", lbl.SectorIndex, "pvID", lbl.PhysicalVolumeID)

	if len(lbl.MetadataAreas) != 1 {
		return lvmerr.New(lvmerr.Unsupported, op, "expected exactly one metadata area, found %d", len(lbl.MetadataAreas))
	}
	area := lbl.MetadataAreas[0]

	headerBuf := make([]byte, metadataarea.HeaderSize)
	if _, err := r.ReadAt(headerBuf, int64(area.OffsetBytes)); err != nil && err != io.EOF {
		return lvmerr.Wrap(lvmerr.IoError, op, err)
	}

	header, err := metadataarea.DecodeHeader(headerBuf)
	if err != nil {
		return err
	}

	loc, err := header.ActiveLocation()
	if err != nil {
		return err
	}

	absOffset := metadataarea.AbsoluteOffset(area.OffsetBytes, loc)
	textBuf := make([]byte, loc.SizeBytes)
	if _, err := r.ReadAt(textBuf, int64(absOffset)); err != nil && err != io.EOF {
		return lvmerr.Wrap(lvmerr.IoError, op, err)
	}

	if loc.CRC32 != 0 {
		if calculated := checksum.WeakCRC32(textBuf, checksum.MetadataAreaSeed); calculated != loc.CRC32 {
			return lvmerr.New(lvmerr.InvalidData, op, "metadata text CRC mismatch: stored=%#x calculated=%#x", loc.CRC32, calculated)
		}
	}

	vg, err := metadatatext.ParseVolumeGroup(textBuf)
	if err != nil {
		return err
	}

	h.log.V(1).Info("metadata loaded", "volumeGroup", vg.Name, "physicalVolumes", len(vg.PhysicalVolumes), "logicalVolumes", len(vg.LogicalVolumes))

	h.vg = vg
	if c, ok := r.(io.Closer); ok {
		h.primary = c
	}
	h.state = StateMetadataLoaded
	return nil
}

// BindPool attaches p, already populated with one descriptor per physical
// volume in VolumeGroup() order, and transitions the Handle from
// MetadataLoaded to PoolBound. It is a one-shot operation: calling it again
// returns lvmerr.AlreadySet. p.Len() must equal the volume group's physical
// volume count.
func (h *Handle) BindPool(p pool.Pool) error {
	const op = "handle.Handle.BindPool"

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateMetadataLoaded {
		return lvmerr.New(lvmerr.AlreadySet, op, "handle is %s, expected metadata-loaded", h.state)
	}

	if p.Len() != len(h.vg.PhysicalVolumes) {
		return lvmerr.New(lvmerr.Unsupported, op,
			"pool has %d descriptors, volume group has %d physical volumes", p.Len(), len(h.vg.PhysicalVolumes))
	}

	h.pool = p
	h.state = StatePoolBound
	h.log.V(1).Info("pool bound", "descriptors", p.Len())
	return nil
}

// VolumeGroup returns the parsed volume group. Valid once the Handle has at
// least reached MetadataLoaded.
func (h *Handle) VolumeGroup() (*model.VolumeGroup, error) {
	const op = "handle.Handle.VolumeGroup"

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateFresh || h.state == StateClosed {
		return nil, lvmerr.New(lvmerr.InvalidArgument, op, "handle is %s, metadata has not been loaded", h.state)
	}
	return h.vg, nil
}

// Pool returns the bound pool. Valid only once the Handle has reached
// PoolBound.
func (h *Handle) Pool() (pool.Pool, error) {
	const op = "handle.Handle.Pool"

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StatePoolBound {
		return nil, lvmerr.New(lvmerr.InvalidArgument, op, "handle is %s, expected pool-bound", h.state)
	}
	return h.pool, nil
}

// PhysicalVolumeNames returns the physical volume names in the volume
// group's declared order, matching the index convention pool.Pool
// descriptors must follow.
func (h *Handle) PhysicalVolumeNames() ([]string, error) {
	const op = "handle.Handle.PhysicalVolumeNames"

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateFresh || h.state == StateClosed {
		return nil, lvmerr.New(lvmerr.InvalidArgument, op, "handle is %s, metadata has not been loaded", h.state)
	}

	names := make([]string, len(h.vg.PhysicalVolumes))
	for i, pv := range h.vg.PhysicalVolumes {
		names[i] = pv.Name
	}
	return names, nil
}

// State returns the Handle's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Close closes the reader given to a successful OpenPrimary, if it
// implements io.Closer, and marks the Handle Closed. Close is idempotent:
// calling it again on a Closed Handle does nothing and returns nil. A Handle
// that never opened a primary has nothing to close and simply becomes Closed.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateClosed {
		return nil
	}
	h.state = StateClosed

	if h.primary != nil {
		err := h.primary.Close()
		h.primary = nil
		return err
	}
	return nil
}
