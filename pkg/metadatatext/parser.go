// Package metadatatext parses the recursive, brace-delimited LVM2 metadata
// text grammar into a pkg/model.VolumeGroup.
package metadatatext

import (
	"strconv"
	"strings"

	"github.com/bgrewell/lvm-kit/pkg/lvmerr"
	"github.com/bgrewell/lvm-kit/pkg/model"
)

// lineScanner walks a tokenized line list with a cursor that only ever
// advances, mirroring the original parser's single forward pass over the
// metadata text.
type lineScanner struct {
	lines []string
	pos   int
}

func (s *lineScanner) next() (string, bool) {
	if s.pos >= len(s.lines) {
		return "", false
	}
	l := s.lines[s.pos]
	s.pos++
	return l, true
}

// readListValue joins continuation lines onto a bracketed list value that
// was left open at end of line, e.g.
//
//	stripes = [
//	  "pv0", 0
//	]
//
// where the assignment line's value is just "[". Values that are already
// balanced (the common single-line case) are returned unchanged.
func (s *lineScanner) readListValue(value string, op string) (string, error) {
	if !strings.HasPrefix(strings.TrimSpace(value), "[") {
		return value, nil
	}
	for !strings.Contains(value, "]") {
		line, ok := s.next()
		if !ok {
			return "", lvmerr.New(lvmerr.InvalidData, op, "unterminated list value")
		}
		value = value + " " + line
	}
	return value, nil
}

// ParseVolumeGroup parses the full textual metadata payload for one volume
// group and returns its in-memory model, finalized (pvIndexByName built,
// structural invariants checked).
func ParseVolumeGroup(raw []byte) (*model.VolumeGroup, error) {
	const op = "metadatatext.ParseVolumeGroup"

	s := &lineScanner{lines: tokenize(string(raw))}

	line, ok := s.next()
	if !ok {
		return nil, lvmerr.New(lvmerr.InvalidData, op, "empty metadata text")
	}
	if !isSectionHeader(line) {
		return nil, lvmerr.New(lvmerr.InvalidData, op, "expected a top-level volume group section, got %q", line)
	}

	vg := &model.VolumeGroup{Name: sectionHeaderName(line)}
	if err := parseVolumeGroupBody(s, vg); err != nil {
		return nil, err
	}
	if err := vg.Finalize(); err != nil {
		return nil, err
	}
	return vg, nil
}

func parseVolumeGroupBody(s *lineScanner, vg *model.VolumeGroup) error {
	const op = "metadatatext.parseVolumeGroupBody"

	for {
		line, ok := s.next()
		if !ok {
			return lvmerr.New(lvmerr.InvalidData, op, "unterminated volume group section %q", vg.Name)
		}
		if line == "}" {
			return nil
		}

		if isSectionHeader(line) {
			name := sectionHeaderName(line)
			switch name {
			case "physical_volumes":
				if err := parsePhysicalVolumesSection(s, vg); err != nil {
					return err
				}
			case "logical_volumes":
				if err := parseLogicalVolumesSection(s, vg); err != nil {
					return err
				}
			default:
				if err := skipSection(s); err != nil {
					return err
				}
			}
			continue
		}

		key, value, ok := splitAssignment(line)
		if !ok {
			continue
		}

		switch key {
		case "id":
			id := unquote(value)
			if err := model.ValidateIdentifier(id); err != nil {
				return err
			}
			vg.ID = id
		case "seqno":
			n, err := parseUint(value, op)
			if err != nil {
				return err
			}
			vg.SequenceNumber = uint32(n)
		case "status":
			value, err := s.readListValue(value, op)
			if err != nil {
				return err
			}
			vg.Status = parseStringList(value)
		case "flags":
			value, err := s.readListValue(value, op)
			if err != nil {
				return err
			}
			vg.Flags = parseStringList(value)
		case "extent_size":
			sectors, err := parseUint(value, op)
			if err != nil {
				return err
			}
			bytes, err := model.MulSectorsToBytes(sectors)
			if err != nil {
				return err
			}
			vg.ExtentSizeBytes = bytes
		default:
			// max_lv, max_pv, and any unrecognized key are tolerated.
		}
	}
}

func parsePhysicalVolumesSection(s *lineScanner, vg *model.VolumeGroup) error {
	const op = "metadatatext.parsePhysicalVolumesSection"

	for {
		line, ok := s.next()
		if !ok {
			return lvmerr.New(lvmerr.InvalidData, op, "unterminated physical_volumes section")
		}
		if line == "}" {
			return nil
		}
		if !isSectionHeader(line) {
			continue
		}

		pv := &model.PhysicalVolume{Name: sectionHeaderName(line)}
		if err := parsePhysicalVolumeBody(s, pv); err != nil {
			return err
		}
		vg.PhysicalVolumes = append(vg.PhysicalVolumes, pv)
	}
}

func parsePhysicalVolumeBody(s *lineScanner, pv *model.PhysicalVolume) error {
	const op = "metadatatext.parsePhysicalVolumeBody"

	for {
		line, ok := s.next()
		if !ok {
			return lvmerr.New(lvmerr.InvalidData, op, "unterminated physical volume section %q", pv.Name)
		}
		if line == "}" {
			return nil
		}
		if isSectionHeader(line) {
			if err := skipSection(s); err != nil {
				return err
			}
			continue
		}

		key, value, ok := splitAssignment(line)
		if !ok {
			continue
		}

		switch key {
		case "id":
			id := unquote(value)
			if err := model.ValidateIdentifier(id); err != nil {
				return err
			}
			pv.ID = id
		case "device":
			pv.Device = unquote(value)
		case "status":
			value, err := s.readListValue(value, op)
			if err != nil {
				return err
			}
			pv.Status = parseStringList(value)
		case "flags":
			value, err := s.readListValue(value, op)
			if err != nil {
				return err
			}
			pv.Flags = parseStringList(value)
		case "dev_size":
			sectors, err := parseUint(value, op)
			if err != nil {
				return err
			}
			b, err := model.MulSectorsToBytes(sectors)
			if err != nil {
				return err
			}
			pv.SizeBytes = b
		case "pe_count":
			n, err := parseUint(value, op)
			if err != nil {
				return err
			}
			pv.ExtentCount = n
		case "pe_start":
			sectors, err := parseUint(value, op)
			if err != nil {
				return err
			}
			b, err := model.MulSectorsToBytes(sectors)
			if err != nil {
				return err
			}
			pv.DataAreaStartBytes = b
		default:
			// pe_align, pe_align_offset, metadata_copies, and other
			// unrecognized keys are tolerated.
		}
	}
}

func parseLogicalVolumesSection(s *lineScanner, vg *model.VolumeGroup) error {
	const op = "metadatatext.parseLogicalVolumesSection"

	for {
		line, ok := s.next()
		if !ok {
			return lvmerr.New(lvmerr.InvalidData, op, "unterminated logical_volumes section")
		}
		if line == "}" {
			return nil
		}
		if !isSectionHeader(line) {
			continue
		}

		lv := &model.LogicalVolumeValues{Name: sectionHeaderName(line)}
		if err := parseLogicalVolumeBody(s, lv, vg); err != nil {
			return err
		}
		vg.LogicalVolumes = append(vg.LogicalVolumes, lv)
	}
}

func parseLogicalVolumeBody(s *lineScanner, lv *model.LogicalVolumeValues, vg *model.VolumeGroup) error {
	const op = "metadatatext.parseLogicalVolumeBody"

	for {
		line, ok := s.next()
		if !ok {
			return lvmerr.New(lvmerr.InvalidData, op, "unterminated logical volume section %q", lv.Name)
		}
		if line == "}" {
			return nil
		}

		if isSectionHeader(line) {
			name := sectionHeaderName(line)
			if strings.HasPrefix(name, "segment") {
				seg := model.Segment{Name: name}
				if err := parseSegmentBody(s, &seg, vg); err != nil {
					return err
				}
				lv.Segments = append(lv.Segments, seg)
			} else if err := skipSection(s); err != nil {
				return err
			}
			continue
		}

		key, value, ok := splitAssignment(line)
		if !ok {
			continue
		}

		switch key {
		case "id":
			id := unquote(value)
			if err := model.ValidateIdentifier(id); err != nil {
				return err
			}
			lv.ID = id
		case "status":
			value, err := s.readListValue(value, op)
			if err != nil {
				return err
			}
			lv.Status = parseStringList(value)
		case "flags":
			value, err := s.readListValue(value, op)
			if err != nil {
				return err
			}
			lv.Flags = parseStringList(value)
		case "segment_count":
			n, err := parseUint(value, op)
			if err != nil {
				return err
			}
			lv.SegmentCount = uint32(n)
		default:
			// creation_time, creation_host, and similar are tolerated.
		}
	}
}

func parseSegmentBody(s *lineScanner, seg *model.Segment, vg *model.VolumeGroup) error {
	const op = "metadatatext.parseSegmentBody"

	var startExtent uint64
	var extentCount uint64
	haveStart, haveCount := false, false

	for {
		line, ok := s.next()
		if !ok {
			return lvmerr.New(lvmerr.InvalidData, op, "unterminated segment section %q", seg.Name)
		}
		if line == "}" {
			break
		}
		if isSectionHeader(line) {
			if err := skipSection(s); err != nil {
				return err
			}
			continue
		}

		key, value, ok := splitAssignment(line)
		if !ok {
			continue
		}

		switch key {
		case "start_extent":
			n, err := parseUint(value, op)
			if err != nil {
				return err
			}
			startExtent, haveStart = n, true
		case "extent_count":
			n, err := parseUint(value, op)
			if err != nil {
				return err
			}
			extentCount, haveCount = n, true
		case "type":
			raw := unquote(value)
			seg.TypeRaw = raw
			seg.Type = model.ParseSegmentType(raw)
		case "stripe_count":
			n, err := parseUint(value, op)
			if err != nil {
				return err
			}
			seg.StripeCount = uint32(n)
		case "stripe_size":
			n, err := parseUint(value, op)
			if err != nil {
				return err
			}
			seg.StripeSizeSectors = n
		case "stripes":
			value, err := s.readListValue(value, op)
			if err != nil {
				return err
			}
			stripes, err := parseStripesList(value, op)
			if err != nil {
				return err
			}
			seg.Stripes = stripes
		default:
			// monitor, chunk_size, and other allocator/snapshot-specific keys
			// are tolerated but not modeled.
		}
	}

	if !haveStart {
		return lvmerr.New(lvmerr.InvalidData, op, "segment %q is missing start_extent", seg.Name)
	}
	if !haveCount {
		return lvmerr.New(lvmerr.InvalidData, op, "segment %q is missing extent_count", seg.Name)
	}

	if vg.ExtentSizeBytes == 0 {
		return lvmerr.New(lvmerr.InvalidData, op, "extent_size must be known before parsing segment %q", seg.Name)
	}

	offset, err := model.MulExtents(startExtent, vg.ExtentSizeBytes)
	if err != nil {
		return err
	}
	size, err := model.MulExtents(extentCount, vg.ExtentSizeBytes)
	if err != nil {
		return err
	}
	seg.OffsetBytes = offset
	seg.SizeBytes = size

	return nil
}

// parseStripesList parses a "stripes" list value, whose grammar is a flat
// sequence of (pv_name, start_extent) pairs: exactly two fields per stripe,
// no embedded length field.
func parseStripesList(raw string, op string) ([]model.Stripe, error) {
	tokens := splitListTokens(raw)
	if len(tokens)%2 != 0 {
		return nil, lvmerr.New(lvmerr.InvalidData, op, "stripes list has an odd number of fields: %d", len(tokens))
	}

	stripes := make([]model.Stripe, 0, len(tokens)/2)
	for i := 0; i < len(tokens); i += 2 {
		name := unquote(tokens[i])
		extent, err := strconv.ParseUint(tokens[i+1], 10, 64)
		if err != nil {
			return nil, lvmerr.New(lvmerr.InvalidData, op, "stripe start_extent %q is not a number", tokens[i+1])
		}
		stripes = append(stripes, model.Stripe{PhysicalVolumeName: name, StartExtent: extent})
	}
	return stripes, nil
}

// parseStringList parses a bracketed list of double-quoted strings, e.g.
// status = ["RESIZEABLE", "READ", "WRITE"].
func parseStringList(raw string) []string {
	tokens := splitListTokens(raw)
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		out = append(out, unquote(t))
	}
	return out
}

// splitListTokens strips the surrounding brackets from a (possibly already
// fully assembled, single-line) list value and splits it on commas.
func splitListTokens(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// skipSection consumes lines up to and including the line that closes the
// section whose header line was just consumed by the caller, tolerating
// arbitrarily nested unknown subsections.
func skipSection(s *lineScanner) error {
	const op = "metadatatext.skipSection"

	depth := 1
	for {
		line, ok := s.next()
		if !ok {
			return lvmerr.New(lvmerr.InvalidData, op, "unterminated section")
		}
		if isSectionHeader(line) {
			depth++
			continue
		}
		if line == "}" {
			depth--
			if depth == 0 {
				return nil
			}
		}
	}
}

func parseUint(value string, op string) (uint64, error) {
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, lvmerr.New(lvmerr.InvalidData, op, "expected an integer, got %q", value)
	}
	return n, nil
}
