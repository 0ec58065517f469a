package dicom

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// itemTag, itemDelimitationTag and sequenceDelimitationTag are the fixed
// DICOM framing tags used to bound undefined-length SQ items (PS3.5
// Section 7.5).
var (
	itemTag                  = Tag{0xFFFE, 0xE000}
	itemDelimitationTag      = Tag{0xFFFE, 0xE00D}
	sequenceDelimitationTag  = Tag{0xFFFE, 0xE0DD}
	undefinedLength     uint32 = 0xFFFFFFFF
)

type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) remaining() int { return len(c.data) - c.pos }

func (c *cursor) readUint16(order binary.ByteOrder) (uint16, error) {
	if c.remaining() < 2 {
		return 0, newCodecError(Tag{}, "", "truncated_input: expected 2 bytes")
	}
	v := order.Uint16(c.data[c.pos : c.pos+2])
	c.pos += 2
	return v, nil
}

func (c *cursor) readUint32(order binary.ByteOrder) (uint32, error) {
	if c.remaining() < 4 {
		return 0, newCodecError(Tag{}, "", "truncated_input: expected 4 bytes")
	}
	v := order.Uint32(c.data[c.pos : c.pos+4])
	c.pos += 4
	return v, nil
}

func (c *cursor) readBytes(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, newCodecError(Tag{}, "", fmt.Sprintf("truncated_input: expected %d bytes", n))
	}
	v := c.data[c.pos : c.pos+n]
	c.pos += n
	return v, nil
}

// ParseDataset decodes an Explicit VR Little Endian byte stream. Kept as
// the zero-configuration entry point the teacher's callers already use.
func ParseDataset(data []byte) (*Dataset, error) {
	return ParseDatasetWithTransferSyntax(data, TransferSyntaxExplicitVRLittleEndian)
}

// ParseDatasetWithTransferSyntax decodes data using the named transfer
// syntax. Unrecognized transfer syntax UIDs fall back to Explicit VR LE.
func ParseDatasetWithTransferSyntax(data []byte, transferSyntaxUID string) (*Dataset, error) {
	if len(data) == 0 {
		return NewDataset(), nil
	}

	switch transferSyntaxUID {
	case TransferSyntaxImplicitVRLittleEndian:
		c := &cursor{data: data}
		return decodeDataset(c, false, binary.LittleEndian, 0)
	case TransferSyntaxExplicitVRBigEndian:
		c := &cursor{data: data}
		return decodeDataset(c, true, binary.BigEndian, 0)
	default: // "" and ExplicitVRLittleEndian
		c := &cursor{data: data}
		return decodeDataset(c, true, binary.LittleEndian, 0)
	}
}

func decodeDataset(c *cursor, explicit bool, order binary.ByteOrder, depth int) (*Dataset, error) {
	if depth > maxSequenceDepth {
		return nil, newCodecError(Tag{}, "", "sequence nesting exceeds depth bound")
	}

	ds := NewDataset()
	for c.remaining() > 0 {
		// Sequence/item delimiters terminate an undefined-length item or
		// sequence one level up; the caller (decodeSequenceItems) consumes
		// them, so seeing one here means we're done with this dataset.
		if c.remaining() >= 4 {
			group := order.Uint16(c.data[c.pos : c.pos+2])
			elem := order.Uint16(c.data[c.pos+2 : c.pos+4])
			if (Tag{group, elem}) == itemDelimitationTag || (Tag{group, elem}) == sequenceDelimitationTag {
				break
			}
		}

		tag, vr, length, err := readElementHeader(c, explicit, order)
		if err != nil {
			return nil, err
		}

		if _, dup := ds.Elements[tag]; dup {
			return nil, newCodecError(tag, vr, "duplicate_tag")
		}

		if vr == VR_SQ || (!explicit && length == undefinedLength) {
			items, err := decodeSequenceItems(c, explicit, order, length, depth+1)
			if err != nil {
				return nil, err
			}
			ds.Elements[tag] = &Element{Tag: tag, VR: vr, Length: length, Value: items}
			continue
		}

		if length == undefinedLength {
			return nil, newCodecError(tag, vr, "invalid_length: undefined length outside SQ")
		}

		raw, err := c.readBytes(int(length))
		if err != nil {
			return nil, err
		}
		// An odd declared length followed by its pad byte leaves an odd
		// number of bytes; skip the pad so the next header stays aligned.
		if length%2 == 1 && c.remaining()%2 == 1 {
			c.pos++
		}

		value, err := decodeValue(tag, vr, raw, order)
		if err != nil {
			return nil, err
		}

		ds.Elements[tag] = &Element{Tag: tag, VR: vr, Length: length, Value: value}
	}

	return ds, nil
}

// readElementHeader reads tag+VR+length. For implicit VR, VR is resolved
// from the dictionary; length is always 4 bytes. For explicit VR, VR is
// read from the wire and determines whether length is 2 or 4 bytes.
func readElementHeader(c *cursor, explicit bool, order binary.ByteOrder) (Tag, string, uint32, error) {
	group, err := c.readUint16(order)
	if err != nil {
		return Tag{}, "", 0, err
	}
	elem, err := c.readUint16(order)
	if err != nil {
		return Tag{}, "", 0, err
	}
	tag := Tag{group, elem}

	if !explicit {
		length, err := c.readUint32(order)
		if err != nil {
			return Tag{}, "", 0, err
		}
		return tag, DetermineVR(tag), length, nil
	}

	vrBytes, err := c.readBytes(2)
	if err != nil {
		return Tag{}, "", 0, err
	}
	vr := string(vrBytes)

	if IsLongForm(vr) {
		if _, err := c.readBytes(2); err != nil { // reserved
			return Tag{}, "", 0, err
		}
		length, err := c.readUint32(order)
		if err != nil {
			return Tag{}, "", 0, err
		}
		return tag, vr, length, nil
	}

	length16, err := c.readUint16(order)
	if err != nil {
		return Tag{}, "", 0, err
	}
	return tag, vr, uint32(length16), nil
}

// decodeSequenceItems reads the items of an SQ (or undefined-length
// implicit-VR UN sequence-like) element. length is either the explicit
// item-block length, or undefinedLength, in which case items run until a
// sequence delimitation item.
func decodeSequenceItems(c *cursor, explicit bool, order binary.ByteOrder, length uint32, depth int) ([]*Dataset, error) {
	var items []*Dataset

	var blockEnd int
	boundedBlock := length != undefinedLength
	if boundedBlock {
		blockEnd = c.pos + int(length)
	}

	for {
		if boundedBlock && c.pos >= blockEnd {
			break
		}
		if !boundedBlock && c.remaining() == 0 {
			return nil, newCodecError(Tag{}, VR_SQ, "truncated_input: missing sequence delimiter")
		}

		group, err := c.readUint16(order)
		if err != nil {
			return nil, err
		}
		elem, err := c.readUint16(order)
		if err != nil {
			return nil, err
		}
		tag := Tag{group, elem}

		itemLength, err := c.readUint32(order)
		if err != nil {
			return nil, err
		}

		if tag == sequenceDelimitationTag {
			break
		}
		if tag != itemTag {
			return nil, newCodecError(tag, VR_SQ, "malformed_pdu: expected item tag in sequence")
		}

		var itemBytes []byte
		if itemLength == undefinedLength {
			start := c.pos
			for {
				if c.remaining() < 4 {
					return nil, newCodecError(Tag{}, VR_SQ, "truncated_input: missing item delimiter")
				}
				g := order.Uint16(c.data[c.pos : c.pos+2])
				e := order.Uint16(c.data[c.pos+2 : c.pos+4])
				if (Tag{g, e}) == itemDelimitationTag {
					itemBytes = c.data[start:c.pos]
					c.pos += 4 // delimiter tag
					if _, err := c.readUint32(order); err != nil {
						return nil, err
					}
					break
				}
				c.pos++
			}
		} else {
			itemBytes, err = c.readBytes(int(itemLength))
			if err != nil {
				return nil, err
			}
		}

		itemCursor := &cursor{data: itemBytes}
		item, err := decodeDataset(itemCursor, explicit, order, depth)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}

func decodeValue(tag Tag, vr string, raw []byte, order binary.ByteOrder) (interface{}, error) {
	switch VRCategoryOf(vr) {
	case CategoryString, CategoryTextLong:
		s := string(raw)
		if idx := strings.IndexByte(s, 0); idx != -1 {
			s = s[:idx]
		}
		return strings.TrimRight(s, " "), nil
	case CategoryAttributeRef:
		if len(raw)%4 != 0 {
			return nil, newCodecError(tag, vr, "invalid_length: AT value not a multiple of 4")
		}
		tags := make([]Tag, 0, len(raw)/4)
		for i := 0; i+4 <= len(raw); i += 4 {
			tags = append(tags, Tag{
				Group:   order.Uint16(raw[i : i+2]),
				Element: order.Uint16(raw[i+2 : i+4]),
			})
		}
		return tags, nil
	case CategoryNumeric:
		return decodeNumeric(tag, vr, raw, order)
	default: // binary opaque, UN
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return cp, nil
	}
}

func decodeNumeric(tag Tag, vr string, raw []byte, order binary.ByteOrder) (interface{}, error) {
	switch vr {
	case VR_US:
		return decodeUint16s(tag, vr, raw, order)
	case VR_SS:
		return decodeInt16s(tag, vr, raw, order)
	case VR_UL:
		return decodeUint32s(tag, vr, raw, order)
	case VR_SL:
		return decodeInt32s(tag, vr, raw, order)
	case VR_FL:
		return decodeFloat32s(tag, vr, raw, order)
	case VR_FD:
		return decodeFloat64s(tag, vr, raw, order)
	case VR_UV:
		return decodeUint64s(tag, vr, raw, order)
	case VR_SV:
		return decodeInt64s(tag, vr, raw, order)
	default:
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return cp, nil
	}
}
