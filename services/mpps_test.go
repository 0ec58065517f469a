package services

import (
	"context"
	"testing"

	"github.com/dicomnet/dicomnet/dicom"
	"github.com/dicomnet/dicomnet/index"
	"github.com/dicomnet/dicomnet/interfaces"
	"github.com/dicomnet/dicomnet/types"
)

func TestMPPSService_CreateThenSetHappyPath(t *testing.T) {
	store := index.NewMemoryStore()
	svc := NewMPPSService(store)
	ctx := context.Background()

	createDS := dicom.NewDataset()
	createDS.AddElement(tagStudyInstanceUID, dicom.VR_UI, "1.2.3")
	createDS.AddElement(tagModality, dicom.VR_CS, "CT")

	createReq := &types.Message{
		CommandField:           types.NCreateRQ,
		MessageID:              1,
		AffectedSOPClassUID:    "1.2.840.10008.3.1.2.3.3",
		AffectedSOPInstanceUID: "mpps-1",
	}
	resp, _, err := svc.HandleDIMSE(ctx, createReq, nil, interfaces.MessageContext{Dataset: createDS})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != types.StatusSuccess {
		t.Fatalf("N-CREATE status = 0x%04X, want success", resp.Status)
	}

	setDS := dicom.NewDataset()
	setDS.AddElement(tagPPSStatus, dicom.VR_CS, "COMPLETED")

	setReq := &types.Message{
		CommandField:            types.NSetRQ,
		MessageID:               2,
		RequestedSOPClassUID:    "1.2.840.10008.3.1.2.3.3",
		RequestedSOPInstanceUID: "mpps-1",
	}
	resp, _, err = svc.HandleDIMSE(ctx, setReq, nil, interfaces.MessageContext{Dataset: setDS})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != types.StatusSuccess {
		t.Fatalf("N-SET status = 0x%04X, want success", resp.Status)
	}

	m, ok, _ := store.FindMPPS(ctx, "mpps-1")
	if !ok || m.State != index.MPPSCompleted {
		t.Fatalf("MPPS state = %v, want COMPLETED", m.State)
	}
}

func TestMPPSService_SetUnknownUIDReturnsNoSuchObject(t *testing.T) {
	store := index.NewMemoryStore()
	svc := NewMPPSService(store)

	setReq := &types.Message{
		CommandField:            types.NSetRQ,
		MessageID:               1,
		RequestedSOPInstanceUID: "missing",
	}
	resp, _, err := svc.HandleDIMSE(context.Background(), setReq, nil, interfaces.MessageContext{Dataset: dicom.NewDataset()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != types.StatusNoSuchObjectInstance {
		t.Fatalf("status = 0x%04X, want StatusNoSuchObjectInstance", resp.Status)
	}
}

func TestMPPSService_IllegalTransitionReportsFailure(t *testing.T) {
	store := index.NewMemoryStore()
	svc := NewMPPSService(store)
	ctx := context.Background()

	createReq := &types.Message{
		CommandField:           types.NCreateRQ,
		MessageID:              1,
		AffectedSOPInstanceUID: "mpps-1",
	}
	if _, _, err := svc.HandleDIMSE(ctx, createReq, nil, interfaces.MessageContext{Dataset: dicom.NewDataset()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	badSetDS := dicom.NewDataset()
	badSetDS.AddElement(tagPPSStatus, dicom.VR_CS, "IN_PROGRESS")
	setReq := &types.Message{
		CommandField:            types.NSetRQ,
		MessageID:               2,
		RequestedSOPInstanceUID: "mpps-1",
	}
	resp, _, err := svc.HandleDIMSE(ctx, setReq, nil, interfaces.MessageContext{Dataset: badSetDS})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != types.StatusFailure {
		t.Fatalf("status = 0x%04X, want StatusFailure", resp.Status)
	}
}
