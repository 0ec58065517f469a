package index

import (
	"context"
	"errors"
	"testing"

	dicomerrors "github.com/dicomnet/dicomnet/errors"
	"github.com/dicomnet/dicomnet/types"
)

func seedStudy(t *testing.T, s *MemoryStore) {
	t.Helper()
	ctx := context.Background()
	must(t, s.UpsertPatient(ctx, Patient{PatientID: "P1", Name: "DOE^JOHN", Sex: "M"}))
	must(t, s.UpsertStudy(ctx, Study{StudyUID: "1.2.3", PatientID: "P1", Accession: "ACC1", StudyDate: "20240615"}))
	must(t, s.UpsertSeries(ctx, Series{SeriesUID: "1.2.3.1", StudyUID: "1.2.3", Modality: "CT", Number: "1"}))
	must(t, s.UpsertInstance(ctx, Instance{SOPInstanceUID: "1.2.3.1.1", SeriesUID: "1.2.3.1", InstanceNumber: "1"}))
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryStore_UpsertRejectsOrphanRows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.UpsertStudy(ctx, Study{StudyUID: "1.2.3", PatientID: "missing"}); err == nil {
		t.Error("UpsertStudy with unknown patient should fail")
	}
	if err := s.UpsertSeries(ctx, Series{SeriesUID: "1.2.3.1", StudyUID: "missing"}); err == nil {
		t.Error("UpsertSeries with unknown study should fail")
	}
	if err := s.UpsertInstance(ctx, Instance{SOPInstanceUID: "x", SeriesUID: "missing"}); err == nil {
		t.Error("UpsertInstance with unknown series should fail")
	}
}

func TestMemoryStore_FindInstances_ExactMatch(t *testing.T) {
	s := NewMemoryStore()
	seedStudy(t, s)

	cur, err := s.FindInstances(context.Background(), types.QueryRequest{Level: types.QueryLevelStudy, AccessionNumber: "ACC1"})
	must(t, err)
	defer cur.Close()

	var results []InstanceMatch
	ctx := context.Background()
	for cur.Next(ctx) {
		results = append(results, cur.Value())
	}
	must(t, cur.Err())
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Study.StudyUID != "1.2.3" {
		t.Errorf("StudyUID = %q, want 1.2.3", results[0].Study.StudyUID)
	}
}

func TestMemoryStore_FindInstances_NoMatch(t *testing.T) {
	s := NewMemoryStore()
	seedStudy(t, s)

	cur, err := s.FindInstances(context.Background(), types.QueryRequest{Level: types.QueryLevelStudy, AccessionNumber: "NOPE"})
	must(t, err)
	defer cur.Close()

	if cur.Next(context.Background()) {
		t.Error("expected no matches")
	}
}

func TestMemoryStore_FindInstances_DateRange(t *testing.T) {
	s := NewMemoryStore()
	seedStudy(t, s)

	cur, err := s.FindInstances(context.Background(), types.QueryRequest{Level: types.QueryLevelStudy, StudyDate: "20240101-20241231"})
	must(t, err)
	defer cur.Close()
	if !cur.Next(context.Background()) {
		t.Fatal("expected a match within the date range")
	}
}

func TestMemoryStore_DeleteStudyCascades(t *testing.T) {
	s := NewMemoryStore()
	seedStudy(t, s)

	must(t, s.DeleteStudy(context.Background(), "1.2.3"))

	if _, ok := s.series["1.2.3.1"]; ok {
		t.Error("series should be gone after cascading delete")
	}
	if _, ok := s.instances["1.2.3.1.1"]; ok {
		t.Error("instance should be gone after cascading delete")
	}
}

func TestMemoryStore_DeletePatientRefusedWithStudies(t *testing.T) {
	s := NewMemoryStore()
	seedStudy(t, s)

	err := s.DeletePatient(context.Background(), "P1")
	if !errors.Is(err, dicomerrors.ErrPatientHasStudies) {
		t.Errorf("DeletePatient error = %v, want ErrPatientHasStudies", err)
	}
}

func TestMemoryStore_MPPS_LifecycleHappyPath(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	must(t, s.CreateMPPS(ctx, MPPS{MPPSUID: "mpps-1", StudyUID: "1.2.3"}))

	m, ok, err := s.FindMPPS(ctx, "mpps-1")
	must(t, err)
	if !ok || m.State != MPPSInProgress {
		t.Fatalf("new MPPS state = %v, want IN_PROGRESS", m.State)
	}

	must(t, s.UpdateMPPS(ctx, "mpps-1", MPPSCompleted, map[string]string{"outcome": "ok"}))

	m, _, _ = s.FindMPPS(ctx, "mpps-1")
	if m.State != MPPSCompleted {
		t.Errorf("state after N-SET = %v, want COMPLETED", m.State)
	}
	if m.Attributes["outcome"] != "ok" {
		t.Error("attributes should be merged on update")
	}
}

func TestMemoryStore_MPPS_IllegalTransitionRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	must(t, s.CreateMPPS(ctx, MPPS{MPPSUID: "mpps-1", StudyUID: "1.2.3"}))
	must(t, s.UpdateMPPS(ctx, "mpps-1", MPPSCompleted, nil))

	err := s.UpdateMPPS(ctx, "mpps-1", MPPSInProgress, nil)
	var mppsErr *dicomerrors.MPPSError
	if !errors.As(err, &mppsErr) {
		t.Fatalf("expected *errors.MPPSError, got %v", err)
	}

	m, _, _ := s.FindMPPS(ctx, "mpps-1")
	if m.State != MPPSCompleted {
		t.Error("state should remain unchanged after an illegal transition")
	}
}

func TestMemoryStore_MPPS_UnknownUID(t *testing.T) {
	s := NewMemoryStore()
	err := s.UpdateMPPS(context.Background(), "missing", MPPSCompleted, nil)
	if err == nil {
		t.Error("UpdateMPPS on unknown uid should fail")
	}
}

func TestMemoryStore_WorklistSearch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	must(t, s.UpsertWorklistStep(ctx, WorklistStep{StepID: "step-1", PatientID: "P1", Modality: "CT", ScheduledDT: "20240615"}))
	must(t, s.UpsertWorklistStep(ctx, WorklistStep{StepID: "step-2", PatientID: "P2", Modality: "MR", ScheduledDT: "20240101"}))

	cur, err := s.WorklistSearch(ctx, WorklistFilter{Modality: "CT"})
	must(t, err)
	defer cur.Close()

	var got []WorklistStep
	for cur.Next(ctx) {
		got = append(got, cur.Value())
	}
	if len(got) != 1 || got[0].StepID != "step-1" {
		t.Errorf("WorklistSearch(Modality=CT) = %v, want [step-1]", got)
	}
}
