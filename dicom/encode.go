package dicom

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// EncodeDataset encodes the dataset as Explicit VR Little Endian.
func (d *Dataset) EncodeDataset() []byte {
	out, _ := EncodeDatasetWithTransferSyntax(d, TransferSyntaxExplicitVRLittleEndian)
	return out
}

// EncodeDatasetWithTransferSyntax encodes dataset using the named
// transfer syntax. A nil dataset encodes to nil. Unrecognized transfer
// syntax UIDs fall back to Explicit VR LE.
func EncodeDatasetWithTransferSyntax(dataset *Dataset, transferSyntaxUID string) ([]byte, error) {
	if dataset == nil {
		return nil, nil
	}

	switch transferSyntaxUID {
	case TransferSyntaxImplicitVRLittleEndian:
		return encodeDataset(dataset, false, binary.LittleEndian), nil
	case TransferSyntaxExplicitVRBigEndian:
		return encodeDataset(dataset, true, binary.BigEndian), nil
	default:
		return encodeDataset(dataset, true, binary.LittleEndian), nil
	}
}

func encodeDataset(dataset *Dataset, explicit bool, order binary.ByteOrder) []byte {
	var out []byte
	for _, tag := range dataset.SortedTags() {
		out = append(out, encodeElement(dataset.Elements[tag], explicit, order)...)
	}
	return out
}

func encodeElement(e *Element, explicit bool, order binary.ByteOrder) []byte {
	var out []byte

	tagBytes := make([]byte, 4)
	order.PutUint16(tagBytes[0:2], e.Tag.Group)
	order.PutUint16(tagBytes[2:4], e.Tag.Element)
	out = append(out, tagBytes...)

	if e.VR == VR_SQ {
		items, _ := e.Value.([]*Dataset)
		body := encodeSequenceItems(items, explicit, order)
		out = append(out, encodeElementHeader(e.VR, uint32(len(body)), explicit, order)...)
		out = append(out, body...)
		return out
	}

	valueBytes := encodeValue(e, order)
	if len(valueBytes)%2 == 1 {
		valueBytes = append(valueBytes, PadByte(e.VR))
	}

	header := encodeElementHeader(e.VR, uint32(len(valueBytes)), explicit, order)
	out = append(out, header...)
	out = append(out, valueBytes...)
	return out
}

// encodeElementHeader renders the VR/length portion of a non-SQ element.
func encodeElementHeader(vr string, length uint32, explicit bool, order binary.ByteOrder) []byte {
	if !explicit {
		lengthBytes := make([]byte, 4)
		order.PutUint32(lengthBytes, length)
		return lengthBytes
	}

	if IsLongForm(vr) {
		out := make([]byte, 8)
		copy(out[0:2], vr)
		order.PutUint32(out[4:8], length)
		return out
	}

	out := make([]byte, 4)
	copy(out[0:2], vr)
	if length > 0xFFFF {
		length = 0xFFFF
	}
	order.PutUint16(out[2:4], uint16(length))
	return out
}

func encodeSequenceItems(items []*Dataset, explicit bool, order binary.ByteOrder) []byte {
	var out []byte
	for _, item := range items {
		body := encodeDataset(item, explicit, order)

		tagBytes := make([]byte, 4)
		order.PutUint16(tagBytes[0:2], itemTag.Group)
		order.PutUint16(tagBytes[2:4], itemTag.Element)
		out = append(out, tagBytes...)

		lengthBytes := make([]byte, 4)
		order.PutUint32(lengthBytes, uint32(len(body)))
		out = append(out, lengthBytes...)

		out = append(out, body...)
	}
	return out
}

func encodeValue(e *Element, order binary.ByteOrder) []byte {
	switch VRCategoryOf(e.VR) {
	case CategoryString, CategoryTextLong:
		switch v := e.Value.(type) {
		case string:
			return []byte(strings.TrimRight(v, "\x00"))
		case []string:
			return []byte(strings.Join(v, "\\"))
		default:
			return []byte(fmt.Sprint(v))
		}
	case CategoryAttributeRef:
		tags, _ := e.Value.([]Tag)
		out := make([]byte, len(tags)*4)
		for i, t := range tags {
			order.PutUint16(out[i*4:i*4+2], t.Group)
			order.PutUint16(out[i*4+2:i*4+4], t.Element)
		}
		return out
	case CategoryNumeric:
		return encodeNumeric(e.VR, e.Value, order)
	default:
		if b, ok := e.Value.([]byte); ok {
			return b
		}
		if s, ok := e.Value.(string); ok {
			return []byte(s)
		}
		return nil
	}
}
