package services

import (
	"context"
	"sync"
	"testing"

	"github.com/dicomnet/dicomnet/dicom"
	"github.com/dicomnet/dicomnet/index"
	"github.com/dicomnet/dicomnet/interfaces"
	"github.com/dicomnet/dicomnet/types"
)

type memBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{data: make(map[string][]byte)}
}

func (m *memBlobStore) Put(sopInstanceUID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sopInstanceUID] = append([]byte(nil), data...)
	return nil
}

func (m *memBlobStore) Get(sopInstanceUID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[sopInstanceUID], nil
}

func (m *memBlobStore) Delete(sopInstanceUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, sopInstanceUID)
	return nil
}

func TestStoreService_PersistsBlobAndIndex(t *testing.T) {
	store := index.NewMemoryStore()
	blobs := newMemBlobStore()
	svc := NewStoreService(store, blobs, nil)
	ctx := context.Background()

	ds := dicom.NewDataset()
	ds.AddElement(tagPatientID, dicom.VR_LO, "PAT1")
	ds.AddElement(tagPatientName, dicom.VR_PN, "DOE^JOHN")
	ds.AddElement(tagStudyInstanceUID, dicom.VR_UI, "1.2.3")
	ds.AddElement(tagSeriesInstanceUID, dicom.VR_UI, "1.2.3.4")
	ds.AddElement(tagModality, dicom.VR_CS, "CT")

	msg := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              1,
		AffectedSOPClassUID:    "1.2.840.10008.5.1.4.1.1.2",
		AffectedSOPInstanceUID: "1.2.3.4.5",
	}
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	resp, _, err := svc.HandleDIMSE(ctx, msg, payload, interfaces.MessageContext{Dataset: ds})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != types.StatusSuccess {
		t.Fatalf("status = 0x%04X, want success", resp.Status)
	}

	stored, _ := blobs.Get("1.2.3.4.5")
	if string(stored) != string(payload) {
		t.Fatalf("blob = %v, want %v", stored, payload)
	}

	cur, err := store.FindInstances(ctx, types.QueryRequest{Level: types.QueryLevelImage, SOPInstanceUID: "1.2.3.4.5"})
	if err != nil {
		t.Fatalf("FindInstances error: %v", err)
	}
	defer cur.Close()

	if !cur.Next(ctx) {
		t.Fatal("expected one matching instance")
	}
	match := cur.Value()
	if match.Instance.SOPInstanceUID != "1.2.3.4.5" || match.Series.SeriesUID != "1.2.3.4" || match.Study.StudyUID != "1.2.3" {
		t.Fatalf("unexpected match: %+v", match)
	}
}

func TestStoreService_BlobFailureReportsFailureStatus(t *testing.T) {
	store := index.NewMemoryStore()
	svc := NewStoreService(store, failingBlobStore{}, nil)

	msg := &types.Message{
		CommandField:           types.CStoreRQ,
		AffectedSOPInstanceUID: "1.2.3.4.5",
	}
	resp, _, err := svc.HandleDIMSE(context.Background(), msg, []byte{0x01}, interfaces.MessageContext{Dataset: dicom.NewDataset()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != types.StatusFailure {
		t.Fatalf("status = 0x%04X, want StatusFailure", resp.Status)
	}
}

type failingBlobStore struct{}

func (failingBlobStore) Put(string, []byte) error   { return errBlobWrite }
func (failingBlobStore) Get(string) ([]byte, error) { return nil, errBlobWrite }
func (failingBlobStore) Delete(string) error        { return errBlobWrite }

var errBlobWrite = &blobWriteError{}

type blobWriteError struct{}

func (*blobWriteError) Error() string { return "blob store unavailable" }

var _ interfaces.BlobStore = failingBlobStore{}
