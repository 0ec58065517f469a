package services

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/dicomnet/dicomnet/dicom"
	dicomerrors "github.com/dicomnet/dicomnet/errors"
	"github.com/dicomnet/dicomnet/index"
	"github.com/dicomnet/dicomnet/interfaces"
	"github.com/dicomnet/dicomnet/types"
)

// Modality Performed Procedure Step tags (PS3.3 C.4.17, PS3.4 F).
var (
	tagStudyInstanceUID = dicom.Tag{Group: 0x0020, Element: 0x000D}
	tagPerformedStation = dicom.Tag{Group: 0x0040, Element: 0x0241}
	tagModality         = dicom.Tag{Group: 0x0008, Element: 0x0060}
	tagPPSStartDate     = dicom.Tag{Group: 0x0040, Element: 0x0244}
	tagPPSStartTime     = dicom.Tag{Group: 0x0040, Element: 0x0245}
	tagPPSStatus        = dicom.Tag{Group: 0x0040, Element: 0x0252}
	tagAccessionNumber  = dicom.Tag{Group: 0x0008, Element: 0x0050}
)

// MPPSService implements N-CREATE (step started) and N-SET (step
// completed/discontinued) for the Modality Performed Procedure Step SOP
// Class, persisting state through the index database's MPPS state
// machine rather than modeling it twice.
type MPPSService struct {
	store index.Store
}

// NewMPPSService returns an MPPSService backed by store.
func NewMPPSService(store index.Store) *MPPSService {
	return &MPPSService{store: store}
}

func (s *MPPSService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	switch msg.CommandField {
	case types.NCreateRQ:
		return s.handleCreate(ctx, msg, meta)
	case types.NSetRQ:
		return s.handleSet(ctx, msg, meta)
	default:
		slog.WarnContext(ctx, "MPPSService received an unsupported command", "command_field", msg.CommandField)
		return CreateErrorResponse(msg, types.StatusFailure), nil, nil
	}
}

func (s *MPPSService) handleCreate(ctx context.Context, msg *types.Message, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	ds := meta.Dataset
	if ds == nil {
		ds = dicom.NewDataset()
	}

	m := index.MPPS{
		MPPSUID:   msg.AffectedSOPInstanceUID,
		Station:   ds.GetString(tagPerformedStation),
		Modality:  ds.GetString(tagModality),
		StudyUID:  ds.GetString(tagStudyInstanceUID),
		Accession: ds.GetString(tagAccessionNumber),
		StartDT:   ds.GetString(tagPPSStartDate) + ds.GetString(tagPPSStartTime),
		State:     index.MPPSInProgress,
	}

	resp := &types.Message{
		CommandField:              types.NCreateRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    msg.AffectedSOPInstanceUID,
		CommandDataSetType:        0x0101,
		Status:                    types.StatusSuccess,
	}

	if err := s.store.CreateMPPS(ctx, m); err != nil {
		slog.ErrorContext(ctx, "N-CREATE MPPS failed", "mpps_uid", m.MPPSUID, "error", err)
		resp.Status = types.StatusFailure
		return resp, nil, nil
	}

	slog.InfoContext(ctx, "MPPS started", "mpps_uid", m.MPPSUID, "study_uid", m.StudyUID)
	return resp, nil, nil
}

func (s *MPPSService) handleSet(ctx context.Context, msg *types.Message, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	ds := meta.Dataset
	if ds == nil {
		ds = dicom.NewDataset()
	}

	newState := index.MPPSState(ds.GetString(tagPPSStatus))
	attributes := map[string]string{}
	for _, tag := range ds.SortedTags() {
		attributes[tag.String()] = ds.GetString(tag)
	}

	resp := &types.Message{
		CommandField:              types.NSetRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.RequestedSOPClassUID,
		AffectedSOPInstanceUID:    msg.RequestedSOPInstanceUID,
		CommandDataSetType:        0x0101,
		Status:                    types.StatusSuccess,
	}

	err := s.store.UpdateMPPS(ctx, msg.RequestedSOPInstanceUID, newState, attributes)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "MPPS updated", "mpps_uid", msg.RequestedSOPInstanceUID, "new_state", newState)
	case stderrors.Is(err, dicomerrors.ErrNotFound):
		resp.Status = types.StatusNoSuchObjectInstance
		resp.ErrorComment = "no performed procedure step with this SOP Instance UID"
	default:
		// An illegal MPPS state transition is a handler-level rejection,
		// not a distinct status code: same 0xC000 StatusFailure any other
		// handler rejection would carry.
		resp.Status = types.StatusFailure
		resp.ErrorComment = err.Error()
		slog.WarnContext(ctx, "N-SET MPPS rejected", "mpps_uid", msg.RequestedSOPInstanceUID, "error", err)
	}

	return resp, nil, nil
}
