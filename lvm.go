// Package lvmkit opens LVM2 volume groups read-only: scanning a primary
// physical volume's label and metadata area, binding the rest of the group's
// physical volumes, and exposing each logical volume as a seekable
// io.ReaderAt.
package lvmkit

import (
	"github.com/go-logr/logr"

	"github.com/bgrewell/lvm-kit/pkg/handle"
	"github.com/bgrewell/lvm-kit/pkg/lvmerr"
	"github.com/bgrewell/lvm-kit/pkg/lvreader"
	"github.com/bgrewell/lvm-kit/pkg/model"
	"github.com/bgrewell/lvm-kit/pkg/option"
	"github.com/bgrewell/lvm-kit/pkg/pool"
)

// Option configures option.OpenOptions. lvmkit re-exports pkg/option's
// functional options directly so callers never need to import pkg/option
// themselves for the common case.
type Option = option.OpenOption

// WithLogger sets the logger threaded through label scanning, metadata
// parsing, and every logical volume read.
func WithLogger(logger logr.Logger) Option {
	return option.WithLogger(logger)
}

// WithMemoryMappedVolumes opens every physical volume with pool.MMapDescriptor
// instead of pool.FileDescriptor, trading file-descriptor read calls for
// page-cache-backed memory access.
func WithMemoryMappedVolumes(enabled bool) Option {
	return option.WithMemoryMappedVolumes(enabled)
}

// WithParseOnOpen controls whether Open eagerly parses primaryPath's
// metadata before returning. Defaults to true. When false, Open returns
// immediately after opening primaryPath and the caller must call Parse
// before anything else will succeed.
func WithParseOnOpen(parseOnOpen bool) Option {
	return option.WithParseOnOpen(parseOnOpen)
}

// WithRequirePoolBinding controls whether Open binds physicalVolumePaths
// into a pool before returning. Defaults to true. Forced false whenever
// parsing itself is deferred (WithParseOnOpen(false)), since binding needs
// the physical volume count learned from parsed metadata.
func WithRequirePoolBinding(require bool) Option {
	return option.WithRequirePoolBinding(require)
}

// WithAbortFlag wires flag into Open's underlying Handle so a caller can
// cancel an open from another goroutine by calling flag.Signal. The flag is
// checked once, when the metadata parse starts; a parse already past that
// check runs to completion.
func WithAbortFlag(flag *option.AbortFlag) Option {
	return option.WithAbortFlag(flag)
}

// VolumeGroup is an opened LVM2 volume group. Depending on the options Open
// was called with, it may still need Parse and/or BindPhysicalVolumes
// called before its accessors and OpenLogicalVolume will succeed.
type VolumeGroup struct {
	h    *handle.Handle
	pool pool.Pool
	log  logr.Logger

	primary pool.Descriptor
	pvPaths []string
	useMmap bool
}

// Open reads primaryPath's PV label and metadata area to learn the volume
// group's structure, then binds physicalVolumePaths (in the same order as
// the volume group's declared physical volumes; primaryPath's own PV must
// be included at its corresponding index) as the group's storage pool. By
// default both steps happen eagerly; WithParseOnOpen(false) and
// WithRequirePoolBinding(false) defer them to explicit Parse and
// BindPhysicalVolumes calls.
func Open(primaryPath string, physicalVolumePaths []string, opts ...Option) (*VolumeGroup, error) {
	o := option.OpenOptions{Logger: logr.Discard(), ParseOnOpen: true, RequirePoolBinding: true}
	for _, opt := range opts {
		opt(&o)
	}

	h := handle.New(option.WithHandleLogger(o.Logger), option.WithHandleAbortFlag(o.Abort))

	primary, err := pool.OpenFileDescriptor(primaryPath)
	if err != nil {
		return nil, err
	}

	vg := &VolumeGroup{h: h, log: o.Logger, primary: primary, pvPaths: physicalVolumePaths, useMmap: o.UseMemoryMappedVolumes}

	if !o.ParseOnOpen {
		return vg, nil
	}

	if err := vg.Parse(); err != nil {
		primary.Close()
		return nil, err
	}

	if !o.RequirePoolBinding {
		return vg, nil
	}

	if err := vg.BindPhysicalVolumes(); err != nil {
		return nil, err
	}

	return vg, nil
}

// Parse performs the primary label scan and metadata-text parse that Open
// skipped when given WithParseOnOpen(false). It is a one-shot operation,
// like handle.Handle.OpenPrimary underneath it.
func (vg *VolumeGroup) Parse() error {
	return vg.h.OpenPrimary(vg.primary, handle.AccessRead)
}

// BindPhysicalVolumes builds a pool from the physical volume paths Open was
// given and binds it to the volume group, as Open does by default unless
// called with WithRequirePoolBinding(false). Metadata must already be
// parsed (directly by Open, or by an explicit call to Parse).
func (vg *VolumeGroup) BindPhysicalVolumes() error {
	const op = "lvmkit.VolumeGroup.BindPhysicalVolumes"

	p := pool.NewPool()
	for i, path := range vg.pvPaths {
		var d pool.Descriptor
		var err error
		if vg.useMmap {
			d, err = pool.OpenMMapDescriptor(path)
		} else {
			d, err = pool.OpenFileDescriptor(path)
		}
		if err != nil {
			return lvmerr.Wrap(lvmerr.IoError, op, err)
		}
		if err := p.SetDescriptor(i, d); err != nil {
			return err
		}
	}

	if err := vg.h.BindPool(p); err != nil {
		return err
	}
	vg.pool = p
	return nil
}

// values returns the underlying parsed model, assuming the handle is already
// at least metadata-loaded. That holds for a VolumeGroup Open returned with
// the default WithParseOnOpen(true); with WithParseOnOpen(false) it holds
// only after Parse, and values returns nil before that.
func (vg *VolumeGroup) values() *model.VolumeGroup {
	v, _ := vg.h.VolumeGroup()
	return v
}

// Name returns the volume group's name.
func (vg *VolumeGroup) Name() string {
	return vg.values().Name
}

// PhysicalVolumeNames returns the volume group's physical volume names, in
// the same order Open expects physicalVolumePaths to be supplied.
func (vg *VolumeGroup) PhysicalVolumeNames() ([]string, error) {
	return vg.h.PhysicalVolumeNames()
}

// LogicalVolumeNames returns the names of every logical volume in the group.
func (vg *VolumeGroup) LogicalVolumeNames() []string {
	values := vg.values()
	names := make([]string, len(values.LogicalVolumes))
	for i, lv := range values.LogicalVolumes {
		names[i] = lv.Name
	}
	return names
}

// OpenLogicalVolume returns a seekable reader for the named logical volume.
func (vg *VolumeGroup) OpenLogicalVolume(name string) (*lvreader.LogicalVolume, error) {
	const op = "lvmkit.VolumeGroup.OpenLogicalVolume"

	p, err := vg.h.Pool()
	if err != nil {
		return nil, err
	}

	values := vg.values()
	lv, ok := values.LogicalVolumeByName(name)
	if !ok {
		return nil, lvmerr.New(lvmerr.NotFound, op, "no logical volume named %q in volume group %q", name, values.Name)
	}

	return lvreader.New(values, lv, p, vg.log), nil
}

// Close releases the primary descriptor and every bound pool descriptor.
func (vg *VolumeGroup) Close() error {
	// If Parse was never called (or never reached), the handle never took
	// ownership of the primary descriptor, so it falls to us to close it.
	primaryOwnedByHandle := vg.h.State() != handle.StateFresh

	err := vg.h.Close()

	if !primaryOwnedByHandle && vg.primary != nil {
		if cerr := vg.primary.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	if vg.pool != nil {
		for i := 0; i < vg.pool.Len(); i++ {
			_ = vg.pool.RemoveDescriptor(i)
		}
	}

	return err
}
