// Package model holds the in-memory representation of an LVM2 volume group:
// physical volumes, logical volumes, segments, and stripes, as reconstructed
// by pkg/metadatatext from the textual metadata area.
package model

import (
	"github.com/bgrewell/lvm-kit/pkg/lvmerr"
)

// SectorSize is the fixed LVM2 sector size in bytes. Every sector-denominated
// metadata field (extent_size, dev_size, ...) is converted to bytes by
// multiplying by SectorSize.
const SectorSize = 512

// IdentifierLength is the fixed length of an LVM2 UUID string as it appears
// in metadata text: the dashed form, 32 UUID characters plus 6 dashes.
const IdentifierLength = 38

// DataAreaDescriptor locates a data area on a physical volume.
type DataAreaDescriptor struct {
	OffsetBytes uint64
	SizeBytes   uint64
}

// MetadataAreaDescriptor locates a metadata area on a physical volume.
type MetadataAreaDescriptor struct {
	OffsetBytes uint64
	SizeBytes   uint64
}

// RawLocationDescriptorFlag is a bit flag carried by a RawLocationDescriptor.
type RawLocationDescriptorFlag uint32

// RawLocationDescriptorFlagIgnore marks a raw location descriptor that must
// be skipped during enumeration.
const RawLocationDescriptorFlagIgnore RawLocationDescriptorFlag = 0x1

// RawLocationDescriptor is a fixed 24-byte entry in a metadata-area header
// locating a metadata text payload.
type RawLocationDescriptor struct {
	OffsetBytes uint64
	SizeBytes   uint64
	CRC32       uint32
	Flags       RawLocationDescriptorFlag
}

// Ignored reports whether this descriptor carries the IGNORE flag.
func (d RawLocationDescriptor) Ignored() bool {
	return d.Flags&RawLocationDescriptorFlagIgnore != 0
}

// SegmentType identifies the allocation scheme of a Segment. The core only
// services reads for Striped segments with a single stripe; the others are
// recognized by the parser so VG/LV introspection stays accurate, but
// pkg/lvreader refuses to read through them (spec.md §4.8, §8 Scenario E).
type SegmentType int

const (
	SegmentTypeUnknown SegmentType = iota
	SegmentTypeStriped
	SegmentTypeMirror
	SegmentTypeRaid1
	SegmentTypeRaid4
	SegmentTypeRaid5
	SegmentTypeRaid6
	SegmentTypeRaid10
)

// ParseSegmentType maps the raw "type" string from metadata text onto a
// SegmentType, preserving the raw string for callers that want it verbatim.
func ParseSegmentType(raw string) SegmentType {
	switch raw {
	case "striped":
		return SegmentTypeStriped
	case "mirror":
		return SegmentTypeMirror
	case "raid1":
		return SegmentTypeRaid1
	case "raid4":
		return SegmentTypeRaid4
	case "raid5":
		return SegmentTypeRaid5
	case "raid6":
		return SegmentTypeRaid6
	case "raid10":
		return SegmentTypeRaid10
	default:
		return SegmentTypeUnknown
	}
}

func (t SegmentType) String() string {
	switch t {
	case SegmentTypeStriped:
		return "striped"
	case SegmentTypeMirror:
		return "mirror"
	case SegmentTypeRaid1:
		return "raid1"
	case SegmentTypeRaid4:
		return "raid4"
	case SegmentTypeRaid5:
		return "raid5"
	case SegmentTypeRaid6:
		return "raid6"
	case SegmentTypeRaid10:
		return "raid10"
	default:
		return "unknown"
	}
}

// Stripe maps a Segment (or a portion of one) onto a specific physical
// volume, named (not by UUID) plus a starting extent within that PV's data
// area. The name is resolved against the owning VolumeGroup's PV array, and
// deliberately not eagerly: a stripe naming a PV absent from the group is
// valid metadata right up until something tries to read through it (spec.md
// §9, §8 Scenario F), so resolution happens at read time in pkg/lvreader.
type Stripe struct {
	PhysicalVolumeName string
	StartExtent        uint64
}

// Segment is a contiguous range within a logical volume, mapped onto one or
// more physical volumes via Stripes.
type Segment struct {
	Name              string
	OffsetBytes       uint64
	SizeBytes         uint64
	Type              SegmentType
	TypeRaw           string
	StripeSizeSectors uint64
	StripeCount       uint32
	Stripes           []Stripe
}

// SingleStripe returns the segment's lone Stripe when it is a Striped
// segment with exactly one stripe, which is the only shape pkg/lvreader
// serves reads for.
func (s *Segment) SingleStripe() (Stripe, bool) {
	if s.Type != SegmentTypeStriped || len(s.Stripes) != 1 {
		return Stripe{}, false
	}
	return s.Stripes[0], true
}

// LogicalVolumeValues holds the declarative data parsed for one logical
// volume: its name, identifier, and ordered segments. It is owned by the
// VolumeGroup and is immutable once parsing completes; a runtime reader
// (pkg/lvreader.LogicalVolume) wraps one of these plus a cursor.
type LogicalVolumeValues struct {
	Name         string
	ID           string
	Status       []string
	Flags        []string
	SegmentCount uint32
	Segments     []Segment
}

// SizeBytes returns the sum of all segment sizes, i.e. the logical volume's
// total addressable length.
func (lv *LogicalVolumeValues) SizeBytes() uint64 {
	var total uint64
	for _, seg := range lv.Segments {
		total += seg.SizeBytes
	}
	return total
}

// SegmentAt returns the segment containing logical byte offset, and that
// segment's index, assuming segments form a contiguous non-overlapping
// partition starting at 0 (spec.md §4.8 step 3).
func (lv *LogicalVolumeValues) SegmentAt(offset uint64) (*Segment, int, bool) {
	for i := range lv.Segments {
		seg := &lv.Segments[i]
		if offset >= seg.OffsetBytes && offset < seg.OffsetBytes+seg.SizeBytes {
			return seg, i, true
		}
	}
	return nil, -1, false
}

// PhysicalVolume is a backing file or block device contributing extents to a
// VolumeGroup.
type PhysicalVolume struct {
	Name        string
	ID          string
	Device      string
	SizeBytes   uint64
	ExtentCount uint64
	Status      []string
	Flags       []string

	// DataAreaStartBytes is the byte offset of extent 0 on this PV (the
	// textual metadata's pe_start, converted from sectors). Stripe.StartExtent
	// is counted from here, not from byte 0 of the device.
	DataAreaStartBytes uint64

	// DataAreas and MetadataAreas hold descriptors of the binary PV label
	// (pkg/label), not of textual metadata. Neither pkg/metadatatext nor
	// pkg/handle fills them in; the primary PV's label descriptors are only
	// available on the label.Label that label.Scan returns.
	DataAreas     []DataAreaDescriptor
	MetadataAreas []MetadataAreaDescriptor
}

// StripeOffsetBytes resolves a Stripe's StartExtent to an absolute byte
// offset on this PV, given the volume group's extent size. It is the single
// place spec.md §4.8's "physical offset = stripe.data_area_offset + ..."
// translation starts from.
func (pv *PhysicalVolume) StripeOffsetBytes(startExtent uint64, extentSizeBytes uint64) (uint64, error) {
	const op = "model.PhysicalVolume.StripeOffsetBytes"

	extentBytes, err := MulExtents(startExtent, extentSizeBytes)
	if err != nil {
		return 0, err
	}
	if pv.DataAreaStartBytes > (^uint64(0))-extentBytes {
		return 0, lvmerr.New(lvmerr.Overflow, op, "stripe offset overflows on physical volume %q", pv.Name)
	}
	return pv.DataAreaStartBytes + extentBytes, nil
}

// VolumeGroup is a named set of PhysicalVolumes pooling their extents, plus
// the set of LogicalVolumes consuming them.
type VolumeGroup struct {
	Name            string
	ID              string
	SequenceNumber  uint32
	Status          []string
	Flags           []string
	ExtentSizeBytes uint64
	PhysicalVolumes []*PhysicalVolume
	LogicalVolumes  []*LogicalVolumeValues

	pvIndexByName map[string]int
}

// Finalize validates the parsed VolumeGroup and precomputes the PV
// name-to-index lookup table used by read-time stripe resolution (spec.md
// §9's cyclic-reference design note: resolve names via the VG's PV array
// instead of back-pointers).
func (vg *VolumeGroup) Finalize() error {
	const op = "model.VolumeGroup.Finalize"

	if vg.Name == "" || vg.ID == "" {
		return lvmerr.New(lvmerr.InvalidData, op, "volume group name and identifier must be non-empty")
	}
	if vg.ExtentSizeBytes == 0 {
		return lvmerr.New(lvmerr.InvalidData, op, "volume group extent size must be non-zero")
	}

	vg.pvIndexByName = make(map[string]int, len(vg.PhysicalVolumes))
	for i, pv := range vg.PhysicalVolumes {
		if pv.Name == "" {
			return lvmerr.New(lvmerr.InvalidData, op, "physical volume at index %d has an empty name", i)
		}
		vg.pvIndexByName[pv.Name] = i
	}

	for _, lv := range vg.LogicalVolumes {
		for si, seg := range lv.Segments {
			if seg.OffsetBytes%vg.ExtentSizeBytes != 0 || seg.SizeBytes%vg.ExtentSizeBytes != 0 {
				return lvmerr.New(lvmerr.InvalidData, op,
					"logical volume %q segment %d offset/size is not a multiple of the extent size", lv.Name, si)
			}
		}
	}

	return nil
}

// PhysicalVolumeByName resolves a PV name (as referenced by a Stripe) to its
// PhysicalVolume and its ordinal index within vg.PhysicalVolumes, which
// doubles as its entry index in any pool bound against this VG.
func (vg *VolumeGroup) PhysicalVolumeByName(name string) (*PhysicalVolume, int, bool) {
	idx, ok := vg.pvIndexByName[name]
	if !ok {
		return nil, -1, false
	}
	return vg.PhysicalVolumes[idx], idx, true
}

// LogicalVolumeByName returns the LogicalVolumeValues with the given name, if any.
func (vg *VolumeGroup) LogicalVolumeByName(name string) (*LogicalVolumeValues, bool) {
	for _, lv := range vg.LogicalVolumes {
		if lv.Name == name {
			return lv, true
		}
	}
	return nil, false
}

// MulSectorsToBytes multiplies a sector count by SectorSize, rejecting
// overflow beyond 64 bits (spec.md §4.6: "reject if extent_size > 2^64/512").
func MulSectorsToBytes(sectors uint64) (uint64, error) {
	const op = "model.MulSectorsToBytes"
	if sectors > (^uint64(0))/SectorSize {
		return 0, lvmerr.New(lvmerr.Overflow, op, "sector count %d overflows when converted to bytes", sectors)
	}
	return sectors * SectorSize, nil
}

// MulExtents multiplies an extent count by the VG's extent size, rejecting
// overflow (spec.md §4.6: "reject if extent_count × extent_size would exceed
// 2^64-1").
func MulExtents(extents uint64, extentSizeBytes uint64) (uint64, error) {
	const op = "model.MulExtents"
	if extentSizeBytes != 0 && extents > (^uint64(0))/extentSizeBytes {
		return 0, lvmerr.New(lvmerr.Overflow, op, "extent count %d overflows against extent size %d", extents, extentSizeBytes)
	}
	return extents * extentSizeBytes, nil
}

// ValidateIdentifier enforces spec.md §3: "identifier is exactly 38 printable
// characters plus terminator".
func ValidateIdentifier(id string) error {
	const op = "model.ValidateIdentifier"
	if len(id) != IdentifierLength {
		return lvmerr.New(lvmerr.InvalidData, op, "identifier must be %d characters, got %d (%q)", IdentifierLength, len(id), id)
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7E {
			return lvmerr.New(lvmerr.InvalidData, op, "identifier contains a non-printable character: %q", id)
		}
	}
	return nil
}
