package dicom

import dicomerrors "github.com/dicomnet/dicomnet/errors"

// newCodecError adapts this package's Tag into the errors package's
// group/element pair, keeping the codec call sites concise.
func newCodecError(tag Tag, vr, reason string) error {
	return dicomerrors.NewCodecError(tag.Group, tag.Element, vr, reason)
}
