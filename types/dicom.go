// Package types contains wire-level constant catalogs (SOP classes,
// transfer syntaxes, command fields, PDU types) and small DTOs shared
// across the DIMSE engine. The canonical Tag/Element/Dataset/VR types
// live in package dicom (the VR catalog and codec trio); this package
// only held a second, unused copy historically and no longer does.
package types
