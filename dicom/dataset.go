// Package dicom implements the VR catalog (C1) and the three-transfer-syntax
// codec trio (C2): Implicit VR Little Endian, Explicit VR Little Endian, and
// Explicit VR Big Endian.
package dicom

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dicomnet/dicomnet/types"
)

// Transfer syntax UIDs the codec trio supports.
const (
	TransferSyntaxImplicitVRLittleEndian = types.ImplicitVRLittleEndian
	TransferSyntaxExplicitVRLittleEndian = types.ExplicitVRLittleEndian
	TransferSyntaxExplicitVRBigEndian    = types.ExplicitVRBigEndian
)

// maxSequenceDepth bounds recursive SQ nesting. A dataset whose sequences
// nest deeper than this is rejected rather than decoded, so a malformed or
// adversarial stream can't exhaust the stack.
const maxSequenceDepth = 16

// Tag is an ordered (group, element) pair. Odd group numbers are private.
type Tag struct {
	Group   uint16
	Element uint16
}

// String renders the tag in the conventional (GGGG,EEEE) form.
func (t Tag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.Group, t.Element)
}

// IsPrivate reports whether the tag's group is odd.
func (t Tag) IsPrivate() bool {
	return t.Group%2 == 1
}

// Less orders tags group-then-element, the wire ordering DICOM requires.
func (t Tag) Less(other Tag) bool {
	if t.Group != other.Group {
		return t.Group < other.Group
	}
	return t.Element < other.Element
}

// Element is a single DICOM data element: a tag, its VR, and its value.
//
// Value holds one of: string (single string VRs), []string (backslash-
// delimited multi-valued string VRs), []byte (binary/opaque VRs), a
// numeric slice (FL:[]float32, FD:[]float64, SL:[]int32, SS:[]int16,
// UL/US:[]uint32/[]uint16, SV:[]int64, UV:[]uint64), []Tag (AT), or
// []*Dataset (SQ — an ordered list of nested item datasets).
type Element struct {
	Tag    Tag
	VR     string
	Length uint32
	Value  interface{}
}

// Dataset is an ordered mapping from tag to element. Tags are unique
// within a dataset; duplicates are a decode error (see codec.go).
type Dataset struct {
	Elements map[Tag]*Element
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{Elements: make(map[Tag]*Element)}
}

// AddElement sets (or replaces) the element at tag.
func (d *Dataset) AddElement(tag Tag, vr string, value interface{}) {
	d.Elements[tag] = &Element{Tag: tag, VR: vr, Value: value}
}

// GetElement returns the element at tag, if present.
func (d *Dataset) GetElement(tag Tag) (*Element, bool) {
	e, ok := d.Elements[tag]
	return e, ok
}

// SortedTags returns the dataset's tags in ascending wire order.
func (d *Dataset) SortedTags() []Tag {
	tags := make([]Tag, 0, len(d.Elements))
	for tag := range d.Elements {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Less(tags[j]) })
	return tags
}

// GetString returns a trimmed single string value, or "" if absent or not
// string-shaped.
func (d *Dataset) GetString(tag Tag) string {
	e, ok := d.Elements[tag]
	if !ok {
		return ""
	}
	switch v := e.Value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []string:
		if len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
	}
	return ""
}

// GetStrings returns the backslash-delimited components of a string-VR
// value, trimmed individually.
func (d *Dataset) GetStrings(tag Tag) []string {
	e, ok := d.Elements[tag]
	if !ok {
		return nil
	}
	switch v := e.Value.(type) {
	case string:
		parts := strings.Split(v, "\\")
		out := make([]string, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out
	case []string:
		return v
	}
	return nil
}

// GetSequence returns the nested item datasets for an SQ element, or nil.
func (d *Dataset) GetSequence(tag Tag) []*Dataset {
	e, ok := d.Elements[tag]
	if !ok {
		return nil
	}
	items, _ := e.Value.([]*Dataset)
	return items
}
