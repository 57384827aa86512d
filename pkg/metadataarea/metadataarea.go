// Package metadataarea decodes the 512-byte metadata-area header: its
// CRC-32-protected signature, version, and the fixed array of raw location
// descriptors pointing at metadata text payloads.
package metadataarea

import (
	"encoding/binary"

	"github.com/bgrewell/lvm-kit/pkg/checksum"
	"github.com/bgrewell/lvm-kit/pkg/lvmerr"
	"github.com/bgrewell/lvm-kit/pkg/model"
)

// HeaderSize is the fixed on-disk size of a metadata-area header.
const HeaderSize = 512

// signature is the literal 16-byte marker at offset 4: a space, "LVM2", a
// space, and 10 further bytes that are part of the fixed magic rather than
// a version string.
const signature = "\x20LVM2\x20x[5A%r0N*>"

// rawLocationSlotCount is the number of fixed-size raw location descriptor
// slots following the header's fixed fields.
const rawLocationSlotCount = 4

// rawLocationEntrySize is the on-disk size of one raw location descriptor:
// u64 offset, u64 size, u32 crc32, u32 flags.
const rawLocationEntrySize = 24

// Header is the decoded content of a metadata-area header.
type Header struct {
	Version         uint32
	DataOffsetBytes uint64
	DataSizeBytes   uint64
	RawLocations    []model.RawLocationDescriptor
}

// DecodeHeader parses a 512-byte metadata-area header, verifying its CRC-32
// and signature. A stored checksum of zero disables verification, matching
// libvslvm's treatment of an all-zero metadata area as "not yet written."
func DecodeHeader(buf []byte) (*Header, error) {
	const op = "metadataarea.DecodeHeader"

	if len(buf) < HeaderSize {
		return nil, lvmerr.New(lvmerr.InvalidData, op, "metadata area header is %d bytes, need %d", len(buf), HeaderSize)
	}
	buf = buf[:HeaderSize]

	storedCRC := binary.LittleEndian.Uint32(buf[0:4])
	if storedCRC != 0 {
		calculated := checksum.WeakCRC32(buf[4:HeaderSize], checksum.MetadataAreaSeed)
		if calculated != storedCRC {
			return nil, lvmerr.New(lvmerr.InvalidData, op, "metadata area header CRC mismatch: stored=%#x calculated=%#x", storedCRC, calculated)
		}
	}

	if string(buf[4:20]) != signature {
		return nil, lvmerr.New(lvmerr.InvalidData, op, "unrecognized metadata area signature %q", buf[4:20])
	}

	h := &Header{
		Version:         binary.LittleEndian.Uint32(buf[20:24]),
		DataOffsetBytes: binary.LittleEndian.Uint64(buf[24:32]),
		DataSizeBytes:   binary.LittleEndian.Uint64(buf[32:40]),
	}

	offset := 40
	for i := 0; i < rawLocationSlotCount; i++ {
		slot := buf[offset : offset+rawLocationEntrySize]
		offset += rawLocationEntrySize

		locOffset := binary.LittleEndian.Uint64(slot[0:8])
		locSize := binary.LittleEndian.Uint64(slot[8:16])
		locCRC := binary.LittleEndian.Uint32(slot[16:20])
		locFlags := binary.LittleEndian.Uint32(slot[20:24])

		if locOffset == 0 && locSize == 0 && locCRC == 0 && locFlags == 0 {
			break
		}

		h.RawLocations = append(h.RawLocations, model.RawLocationDescriptor{
			OffsetBytes: locOffset,
			SizeBytes:   locSize,
			CRC32:       locCRC,
			Flags:       model.RawLocationDescriptorFlag(locFlags),
		})
	}

	return h, nil
}

// ActiveLocation returns the header's single non-ignored raw location
// descriptor. Exactly one is required; any other count is Unsupported,
// matching the reader's refusal to arbitrate between concurrent metadata
// text generations.
func (h *Header) ActiveLocation() (model.RawLocationDescriptor, error) {
	const op = "metadataarea.Header.ActiveLocation"

	var active []model.RawLocationDescriptor
	for _, loc := range h.RawLocations {
		if !loc.Ignored() {
			active = append(active, loc)
		}
	}

	if len(active) != 1 {
		return model.RawLocationDescriptor{}, lvmerr.New(lvmerr.Unsupported, op,
			"metadata area has %d non-ignored raw location descriptors, expected exactly 1", len(active))
	}
	return active[0], nil
}

// AbsoluteOffset translates a raw location descriptor's area-relative offset
// into an absolute byte offset within the physical volume, given the
// metadata area's own file offset.
func AbsoluteOffset(metadataAreaFileOffset uint64, loc model.RawLocationDescriptor) uint64 {
	return metadataAreaFileOffset + loc.OffsetBytes
}
