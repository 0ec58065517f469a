package dicom

import "sort"

// VR (Value Representation) constants.
const (
	VR_AE = "AE" // Application Entity
	VR_AS = "AS" // Age String
	VR_AT = "AT" // Attribute Tag
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_DS = "DS" // Decimal String
	VR_DT = "DT" // Date Time
	VR_FL = "FL" // Floating Point Single
	VR_FD = "FD" // Floating Point Double
	VR_IS = "IS" // Integer String
	VR_LO = "LO" // Long String
	VR_LT = "LT" // Long Text
	VR_OB = "OB" // Other Byte
	VR_OD = "OD" // Other Double
	VR_OF = "OF" // Other Float
	VR_OL = "OL" // Other Long
	VR_OV = "OV" // Other Very Long
	VR_OW = "OW" // Other Word
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SL = "SL" // Signed Long
	VR_SQ = "SQ" // Sequence of Items
	VR_SS = "SS" // Signed Short
	VR_ST = "ST" // Short Text
	VR_SV = "SV" // Signed Very Long
	VR_TM = "TM" // Time
	VR_UC = "UC" // Unlimited Characters
	VR_UI = "UI" // Unique Identifier
	VR_UL = "UL" // Unsigned Long
	VR_UN = "UN" // Unknown
	VR_UR = "UR" // Universal Resource
	VR_US = "US" // Unsigned Short
	VR_UT = "UT" // Unlimited Text
	VR_UV = "UV" // Unsigned Very Long
)

// VRCategory classifies a VR by value semantics, per spec's VR catalog (C1).
type VRCategory int

const (
	CategoryString VRCategory = iota
	CategoryNumeric
	CategoryBinary
	CategorySequence
	CategoryAttributeRef
	CategoryTextLong
)

// vrInfo is one row of the static VR catalog: category plus whether the
// explicit-VR length field is 2 bytes (short form) or 4 bytes with a
// 2-byte reserved gap (long form).
type vrInfo struct {
	vr       string
	category VRCategory
	longForm bool
}

// vrCatalog is sorted by vr so lookupVR can binary-search it; no map
// allocation, no per-lookup indirection.
var vrCatalog = []vrInfo{
	{VR_AE, CategoryString, false},
	{VR_AS, CategoryString, false},
	{VR_AT, CategoryAttributeRef, false},
	{VR_CS, CategoryString, false},
	{VR_DA, CategoryString, false},
	{VR_DS, CategoryString, false},
	{VR_DT, CategoryString, false},
	{VR_FD, CategoryNumeric, false},
	{VR_FL, CategoryNumeric, false},
	{VR_IS, CategoryString, false},
	{VR_LO, CategoryString, false},
	{VR_LT, CategoryString, false},
	{VR_OB, CategoryBinary, true},
	{VR_OD, CategoryBinary, true},
	{VR_OF, CategoryBinary, true},
	{VR_OL, CategoryBinary, true},
	{VR_OV, CategoryBinary, true},
	{VR_OW, CategoryBinary, true},
	{VR_PN, CategoryString, false},
	{VR_SH, CategoryString, false},
	{VR_SL, CategoryNumeric, false},
	{VR_SQ, CategorySequence, true},
	{VR_SS, CategoryNumeric, false},
	{VR_ST, CategoryString, false},
	{VR_SV, CategoryNumeric, true},
	{VR_TM, CategoryString, false},
	{VR_UC, CategoryTextLong, true},
	{VR_UI, CategoryString, false},
	{VR_UL, CategoryNumeric, false},
	{VR_UN, CategoryBinary, true},
	{VR_UR, CategoryTextLong, true},
	{VR_US, CategoryNumeric, false},
	{VR_UT, CategoryString, true},
	{VR_UV, CategoryNumeric, true},
}

func init() {
	sort.Slice(vrCatalog, func(i, j int) bool { return vrCatalog[i].vr < vrCatalog[j].vr })
}

func lookupVR(vr string) (vrInfo, bool) {
	i := sort.Search(len(vrCatalog), func(i int) bool { return vrCatalog[i].vr >= vr })
	if i < len(vrCatalog) && vrCatalog[i].vr == vr {
		return vrCatalog[i], true
	}
	return vrInfo{}, false
}

// VRCategoryOf returns the value-semantics category for a VR. Unknown VRs
// are treated as binary, matching UN's wire semantics.
func VRCategoryOf(vr string) VRCategory {
	if info, ok := lookupVR(vr); ok {
		return info.category
	}
	return CategoryBinary
}

// IsLongForm reports whether vr uses the 4-byte length field (with a
// 2-byte reserved gap) in explicit-VR encoding, rather than the 2-byte
// short form.
func IsLongForm(vr string) bool {
	if info, ok := lookupVR(vr); ok {
		return info.longForm
	}
	return true
}

// IsKnownVR reports whether vr appears in the catalog.
func IsKnownVR(vr string) bool {
	_, ok := lookupVR(vr)
	return ok
}

// PadByte returns the byte used to pad a value of this VR to even length.
// UI pads with NUL; every other VR pads with space. Binary/numeric VRs
// are expected to already be even-length by construction, but the rule
// is defined for all VRs for completeness.
func PadByte(vr string) byte {
	if vr == VR_UI {
		return 0x00
	}
	return 0x20
}
