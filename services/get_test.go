package services

import (
	"context"
	"errors"
	"testing"

	"github.com/dicomnet/dicomnet/dicom"
	"github.com/dicomnet/dicomnet/index"
	"github.com/dicomnet/dicomnet/interfaces"
	"github.com/dicomnet/dicomnet/types"
)

type capturingCGetResponder struct {
	capturingResponder
	stored []string
	fail   map[string]bool
}

func (c *capturingCGetResponder) SendCStore(sopClassUID, sopInstanceUID string, data []byte) error {
	if c.fail[sopInstanceUID] {
		return errors.New("sub-operation rejected")
	}
	c.stored = append(c.stored, sopInstanceUID)
	return nil
}

func TestGetService_ResponderWithoutSubOpsFails(t *testing.T) {
	store := index.NewMemoryStore()
	svc := NewGetService(store, newMemBlobStore(), nil)

	req := &types.Message{CommandField: types.CGetRQ, MessageID: 1}
	responder := &capturingResponder{}

	if err := svc.HandleDIMSEStreaming(context.Background(), req, nil, interfaces.MessageContext{Dataset: dicom.NewDataset()}, responder); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(responder.responses) != 1 || responder.responses[0].Status != types.StatusFailure {
		t.Fatalf("responses = %+v, want one StatusFailure response", responder.responses)
	}
}

func TestGetService_AllSubOperationsSucceed(t *testing.T) {
	store := index.NewMemoryStore()
	blobs := newMemBlobStore()
	ctx := context.Background()
	mustSeedStudy(t, store, blobs, []string{"1.2.3.4.5.0", "1.2.3.4.5.1"})

	svc := NewGetService(store, blobs, nil)
	req := &types.Message{CommandField: types.CGetRQ, MessageID: 1}
	responder := &capturingCGetResponder{fail: map[string]bool{}}

	if err := svc.HandleDIMSEStreaming(ctx, req, nil, interfaces.MessageContext{Dataset: moveRequest("STUDY", "1.2.3")}, responder); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(responder.stored) != 2 {
		t.Fatalf("stored %d instances, want 2", len(responder.stored))
	}
	final := responder.responses[len(responder.responses)-1]
	if final.Status != types.StatusSuccess {
		t.Errorf("final status = 0x%04X, want StatusSuccess", final.Status)
	}
}

func TestGetService_PartialFailureReportsWarningStatus(t *testing.T) {
	store := index.NewMemoryStore()
	blobs := newMemBlobStore()
	ctx := context.Background()
	mustSeedStudy(t, store, blobs, []string{"1.2.3.4.5.0", "1.2.3.4.5.1"})

	svc := NewGetService(store, blobs, nil)
	req := &types.Message{CommandField: types.CGetRQ, MessageID: 1}
	responder := &capturingCGetResponder{fail: map[string]bool{"1.2.3.4.5.0": true}}

	if err := svc.HandleDIMSEStreaming(ctx, req, nil, interfaces.MessageContext{Dataset: moveRequest("STUDY", "1.2.3")}, responder); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final := responder.responses[len(responder.responses)-1]
	if final.Status != types.StatusSubOpsOneOrMoreFailures {
		t.Errorf("final status = 0x%04X, want StatusSubOpsOneOrMoreFailures", final.Status)
	}
	if final.NumberOfFailedSuboperations == nil || *final.NumberOfFailedSuboperations != 1 {
		t.Errorf("failed = %v, want 1", final.NumberOfFailedSuboperations)
	}
}

func mustSeedStudy(t *testing.T, store index.Store, blobs *memBlobStore, sopInstanceUIDs []string) {
	ctx := context.Background()
	if err := store.UpsertPatient(ctx, index.Patient{PatientID: "PAT1"}); err != nil {
		t.Fatalf("UpsertPatient: %v", err)
	}
	if err := store.UpsertStudy(ctx, index.Study{StudyUID: "1.2.3", PatientID: "PAT1"}); err != nil {
		t.Fatalf("UpsertStudy: %v", err)
	}
	if err := store.UpsertSeries(ctx, index.Series{SeriesUID: "1.2.3.4", StudyUID: "1.2.3"}); err != nil {
		t.Fatalf("UpsertSeries: %v", err)
	}
	for _, sop := range sopInstanceUIDs {
		if err := store.UpsertInstance(ctx, index.Instance{SOPInstanceUID: sop, SeriesUID: "1.2.3.4"}); err != nil {
			t.Fatalf("UpsertInstance: %v", err)
		}
		if err := blobs.Put(sop, []byte{0x01}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
}
