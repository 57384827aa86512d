// Package label scans an LVM2 physical volume's first four sectors for a
// PV label, then decodes the PV header that follows it: the physical
// volume's identifier, device size, and its data-area and metadata-area
// descriptor arrays.
package label

import (
	"encoding/binary"
	"io"

	"github.com/bgrewell/lvm-kit/pkg/lvmerr"
	"github.com/bgrewell/lvm-kit/pkg/model"
)

// signature is the fixed 8-byte marker at the start of a label sector.
const signature = "LABELONE"

// typeIdentifier is the fixed 8-byte type string following the signature,
// identifying this as an LVM2-formatted label (as opposed to, say, an LVM1
// one, which this package does not support).
const typeIdentifier = "LVM2 001"

// scanSectors is the number of leading sectors searched for a label. LVM2
// only ever writes the label to one of the first four.
const scanSectors = 4

// labelHeaderSize is the fixed size, in bytes, of everything from the
// signature through the type identifier (8 + 8 + 4 + 4 + 8).
const labelHeaderSize = 32

// descriptorEntrySize is the on-disk size of one data-area or metadata-area
// descriptor: an 8-byte offset followed by an 8-byte size.
const descriptorEntrySize = 16

// PhysicalVolumeIDLength is the raw (undashed) length of a PV UUID as it
// appears inside the binary PV header, distinct from model.IdentifierLength
// which describes the dashed textual-metadata form of an identifier.
const PhysicalVolumeIDLength = 32

// Label is the decoded content of an LVM2 PV label: the PV header found at
// the label's recorded content offset.
type Label struct {
	// SectorIndex is which of the first four 512-byte sectors held the label.
	SectorIndex int
	// PhysicalVolumeID is the raw, undashed 32-character PV UUID.
	PhysicalVolumeID string
	// DeviceSizeBytes is the physical volume's reported size in bytes.
	DeviceSizeBytes uint64
	DataAreas       []model.DataAreaDescriptor
	MetadataAreas   []model.MetadataAreaDescriptor
}

// Scan reads the first four 512-byte sectors of r looking for a label
// signature, decodes the PV header it points to, and returns it. It returns
// a NotFound error if no sector in range carries the signature.
func Scan(r io.ReaderAt) (*Label, error) {
	const op = "label.Scan"

	sector := make([]byte, model.SectorSize)
	for i := 0; i < scanSectors; i++ {
		n, err := r.ReadAt(sector, int64(i)*model.SectorSize)
		if err != nil && err != io.EOF {
			return nil, lvmerr.Wrap(lvmerr.IoError, op, err)
		}
		if n < model.SectorSize {
			continue
		}
		if string(sector[0:8]) != signature {
			continue
		}

		lbl, err := decode(sector, i)
		if err != nil {
			return nil, err
		}
		return lbl, nil
	}

	return nil, lvmerr.New(lvmerr.NotFound, op, "no LVM2 label found in the first %d sectors", scanSectors)
}

// decode parses a single sector already confirmed to carry the "LABELONE"
// signature.
func decode(sector []byte, sectorIndex int) (*Label, error) {
	const op = "label.decode"

	if len(sector) < labelHeaderSize {
		return nil, lvmerr.New(lvmerr.InvalidData, op, "label sector is too short: %d bytes", len(sector))
	}

	sectorNumber := binary.LittleEndian.Uint64(sector[8:16])
	_ = sectorNumber // recorded by the on-disk format; not load-bearing for reads

	contentOffset := binary.LittleEndian.Uint32(sector[20:24])
	if string(sector[24:32]) != typeIdentifier {
		return nil, lvmerr.New(lvmerr.InvalidData, op, "unrecognized label type %q", sector[24:32])
	}
	if int(contentOffset) >= len(sector) {
		return nil, lvmerr.New(lvmerr.InvalidData, op, "label content offset %d is outside the sector", contentOffset)
	}

	body := sector[contentOffset:]
	if len(body) < PhysicalVolumeIDLength+8 {
		return nil, lvmerr.New(lvmerr.InvalidData, op, "truncated PV header")
	}

	pvID := string(body[0:PhysicalVolumeIDLength])
	deviceSize := binary.LittleEndian.Uint64(body[PhysicalVolumeIDLength : PhysicalVolumeIDLength+8])

	cursor := body[PhysicalVolumeIDLength+8:]

	dataAreas, consumed, err := readDescriptorList(cursor, op)
	if err != nil {
		return nil, err
	}
	cursor = cursor[consumed:]

	metadataAreasRaw, _, err := readDescriptorList(cursor, op)
	if err != nil {
		return nil, err
	}
	if len(metadataAreasRaw) > 1 {
		return nil, lvmerr.New(lvmerr.Unsupported, op,
			"physical volume declares %d metadata area descriptors, only one is supported", len(metadataAreasRaw))
	}

	dataAreaDescriptors := make([]model.DataAreaDescriptor, len(dataAreas))
	copy(dataAreaDescriptors, dataAreas)

	metadataAreaDescriptors := make([]model.MetadataAreaDescriptor, len(metadataAreasRaw))
	for i, d := range metadataAreasRaw {
		metadataAreaDescriptors[i] = model.MetadataAreaDescriptor{OffsetBytes: d.OffsetBytes, SizeBytes: d.SizeBytes}
	}

	return &Label{
		SectorIndex:      sectorIndex,
		PhysicalVolumeID: pvID,
		DeviceSizeBytes:  deviceSize,
		DataAreas:        dataAreaDescriptors,
		MetadataAreas:    metadataAreaDescriptors,
	}, nil
}

// readDescriptorList decodes a sequence of 16-byte (offset, size) entries,
// stopping at the first all-zero entry (the list terminator). It returns the
// decoded entries and the number of bytes consumed, including the
// terminator. A list that reaches the end of buf without a terminator is
// rejected as InvalidData.
func readDescriptorList(buf []byte, op string) ([]model.DataAreaDescriptor, int, error) {
	var entries []model.DataAreaDescriptor
	consumed := 0

	for {
		if consumed+descriptorEntrySize > len(buf) {
			return nil, 0, lvmerr.New(lvmerr.InvalidData, op, "descriptor list runs past the end of the PV header")
		}

		entry := buf[consumed : consumed+descriptorEntrySize]
		offset := binary.LittleEndian.Uint64(entry[0:8])
		size := binary.LittleEndian.Uint64(entry[8:16])
		consumed += descriptorEntrySize

		if offset == 0 && size == 0 {
			return entries, consumed, nil
		}

		entries = append(entries, model.DataAreaDescriptor{OffsetBytes: offset, SizeBytes: size})
	}
}
