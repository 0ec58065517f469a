package dicom

import "sort"

// dictEntry is one row of the public-tag-to-VR dictionary consulted when
// decoding Implicit VR streams, where the VR is absent from the wire.
type dictEntry struct {
	tag Tag
	vr  string
}

// dictionary covers the tags this engine's services (C-STORE, C-FIND,
// C-MOVE, C-GET, MPPS, worklist) actually read or write. It is not a
// full PS3.6 data dictionary; tags outside it resolve to VR_UN, which is
// DICOM-conformant (an implicit-VR decoder always has a fallback).
var dictionary = []dictEntry{
	{Tag{0x0008, 0x0005}, VR_CS}, // Specific Character Set
	{Tag{0x0008, 0x0016}, VR_UI}, // SOP Class UID
	{Tag{0x0008, 0x0018}, VR_UI}, // SOP Instance UID
	{Tag{0x0008, 0x0020}, VR_DA}, // Study Date
	{Tag{0x0008, 0x0021}, VR_DA}, // Series Date
	{Tag{0x0008, 0x0030}, VR_TM}, // Study Time
	{Tag{0x0008, 0x0031}, VR_TM}, // Series Time
	{Tag{0x0008, 0x0050}, VR_SH}, // Accession Number
	{Tag{0x0008, 0x0052}, VR_CS}, // Query/Retrieve Level
	{Tag{0x0008, 0x0054}, VR_AE}, // Retrieve AE Title
	{Tag{0x0008, 0x0060}, VR_CS}, // Modality
	{Tag{0x0008, 0x0080}, VR_LO}, // Institution Name
	{Tag{0x0008, 0x0090}, VR_PN}, // Referring Physician's Name
	{Tag{0x0008, 0x1030}, VR_LO}, // Study Description
	{Tag{0x0008, 0x103E}, VR_LO}, // Series Description
	{Tag{0x0008, 0x1040}, VR_LO}, // Institutional Department Name
	{Tag{0x0008, 0x1050}, VR_PN}, // Performing Physician's Name
	{Tag{0x0008, 0x1060}, VR_PN}, // Name of Physician(s) Reading Study
	{Tag{0x0008, 0x1070}, VR_PN}, // Operators' Name
	{Tag{0x0010, 0x0010}, VR_PN}, // Patient's Name
	{Tag{0x0010, 0x0020}, VR_LO}, // Patient ID
	{Tag{0x0010, 0x0030}, VR_DA}, // Patient's Birth Date
	{Tag{0x0010, 0x0040}, VR_CS}, // Patient's Sex
	{Tag{0x0010, 0x1010}, VR_AS}, // Patient's Age
	{Tag{0x0018, 0x0015}, VR_CS}, // Body Part Examined
	{Tag{0x0020, 0x000D}, VR_UI}, // Study Instance UID
	{Tag{0x0020, 0x000E}, VR_UI}, // Series Instance UID
	{Tag{0x0020, 0x0010}, VR_SH}, // Study ID
	{Tag{0x0020, 0x0011}, VR_IS}, // Series Number
	{Tag{0x0020, 0x0013}, VR_IS}, // Instance Number
	{Tag{0x0020, 0x0020}, VR_CS}, // Patient Orientation
	{Tag{0x0020, 0x1040}, VR_LO}, // Position Reference Indicator
	{Tag{0x0028, 0x0002}, VR_US}, // Samples per Pixel
	{Tag{0x0028, 0x0010}, VR_US}, // Rows
	{Tag{0x0028, 0x0011}, VR_US}, // Columns
	{Tag{0x0028, 0x0100}, VR_US}, // Bits Allocated
	{Tag{0x0032, 0x1060}, VR_LO}, // Requested Procedure Description
	{Tag{0x0040, 0x0001}, VR_AE}, // Scheduled Station AE Title
	{Tag{0x0040, 0x0002}, VR_DA}, // Scheduled Procedure Step Start Date
	{Tag{0x0040, 0x0003}, VR_TM}, // Scheduled Procedure Step Start Time
	{Tag{0x0040, 0x0009}, VR_SH}, // Scheduled Procedure Step ID
	{Tag{0x0040, 0x0100}, VR_SQ}, // Scheduled Procedure Step Sequence
	{Tag{0x0040, 0x0244}, VR_DA}, // Performed Procedure Step Start Date
	{Tag{0x0040, 0x0245}, VR_TM}, // Performed Procedure Step Start Time
	{Tag{0x0040, 0x0250}, VR_DA}, // Performed Procedure Step End Date
	{Tag{0x0040, 0x0251}, VR_TM}, // Performed Procedure Step End Time
	{Tag{0x0040, 0x0252}, VR_CS}, // Performed Procedure Step Status
	{Tag{0x0040, 0x0253}, VR_SH}, // Performed Procedure Step ID
	{Tag{0x0040, 0x0254}, VR_LO}, // Performed Procedure Step Description
	{Tag{0x0040, 0x0275}, VR_SQ}, // Request Attributes Sequence
	{Tag{0x0040, 0xA730}, VR_SQ}, // Content Sequence
}

func init() {
	sort.Slice(dictionary, func(i, j int) bool {
		if dictionary[i].tag.Group != dictionary[j].tag.Group {
			return dictionary[i].tag.Group < dictionary[j].tag.Group
		}
		return dictionary[i].tag.Element < dictionary[j].tag.Element
	})
}

// DetermineVR resolves the VR for a tag when decoding an Implicit VR
// stream. Unknown tags take VR_UN, per spec.
func DetermineVR(tag Tag) string {
	lo, hi := 0, len(dictionary)
	for lo < hi {
		mid := (lo + hi) / 2
		e := dictionary[mid].tag
		if e.Group == tag.Group && e.Element == tag.Element {
			return dictionary[mid].vr
		}
		if e.Group < tag.Group || (e.Group == tag.Group && e.Element < tag.Element) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return VR_UN
}
