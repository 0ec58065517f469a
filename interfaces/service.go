// Package interfaces contains all service and handler interfaces
package interfaces

import (
	"context"

	"github.com/dicomnet/dicomnet/dicom"
	"github.com/dicomnet/dicomnet/types"
)

// MessageContext carries per-message metadata the dispatcher resolves
// before invoking a handler: the presentation context the message arrived
// on, the transfer syntax negotiated for it, and (when present) the
// already-decoded request dataset.
type MessageContext struct {
	PresentationContextID byte
	TransferSyntaxUID     string
	Dataset               *dicom.Dataset
}

// ServiceHandler handles a single-response DIMSE operation (C-ECHO,
// C-STORE, N-CREATE, N-SET, N-GET, N-ACTION, N-DELETE).
type ServiceHandler interface {
	HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta MessageContext) (*types.Message, *dicom.Dataset, error)
}

// StreamingServiceHandler handles a DIMSE operation that emits a sequence
// of pending responses before its final one (C-FIND, C-MOVE, C-GET).
// A handler registered under ServiceHandler may additionally implement
// this interface; the dispatcher prefers it when present.
type StreamingServiceHandler interface {
	HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta MessageContext, responder ResponseSender) error
}

// ResponseSender lets a streaming handler emit one response (pending or
// final) on the association the request arrived on.
type ResponseSender interface {
	SendResponse(msg *types.Message, dataset *dicom.Dataset, transferSyntaxUID string) error
}

// CGetResponder is the ResponseSender a C-GET handler receives: besides
// sending its own pending/final C-GET-RSP, it can issue C-STORE
// sub-operations over the same association.
type CGetResponder interface {
	ResponseSender
	SendCStore(sopClassUID, sopInstanceUID string, data []byte) error
}
