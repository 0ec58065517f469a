package index

import (
	"context"
	"sort"
	"sync"

	"github.com/dicomnet/dicomnet/errors"
	"github.com/dicomnet/dicomnet/types"
)

// MemoryStore is an in-process Store backed by plain maps, guarded by a
// single RWMutex. Reads take the read lock and may run concurrently with
// each other; every write (including multi-table C-STORE ingest) takes
// the write lock so no reader ever observes a half-written row. MPPS
// transitions additionally serialize per study UID through a
// studyLockManager, since two SCUs racing N-SET for the same performed
// procedure step must not both win.
type MemoryStore struct {
	mu sync.RWMutex

	patients  map[string]Patient
	studies   map[string]Study
	series    map[string]Series
	instances map[string]Instance
	mpps      map[string]MPPS
	worklist  map[string]WorklistStep

	locks *studyLockManager
}

// NewMemoryStore creates an empty in-memory index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patients:  make(map[string]Patient),
		studies:   make(map[string]Study),
		series:    make(map[string]Series),
		instances: make(map[string]Instance),
		mpps:      make(map[string]MPPS),
		worklist:  make(map[string]WorklistStep),
		locks:     newStudyLockManager(),
	}
}

func (s *MemoryStore) UpsertPatient(ctx context.Context, p Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.PatientID] = p
	return nil
}

func (s *MemoryStore) UpsertStudy(ctx context.Context, st Study) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[st.PatientID]; !ok {
		return errors.NewIndexError("upsert_study", errors.ErrNotFound)
	}
	s.studies[st.StudyUID] = st
	return nil
}

func (s *MemoryStore) UpsertSeries(ctx context.Context, se Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.studies[se.StudyUID]; !ok {
		return errors.NewIndexError("upsert_series", errors.ErrNotFound)
	}
	s.series[se.SeriesUID] = se
	return nil
}

func (s *MemoryStore) UpsertInstance(ctx context.Context, i Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.series[i.SeriesUID]; !ok {
		return errors.NewIndexError("upsert_instance", errors.ErrNotFound)
	}
	s.instances[i.SOPInstanceUID] = i
	return nil
}

func (s *MemoryStore) DeleteStudy(ctx context.Context, studyUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seriesUIDs []string
	for uid, se := range s.series {
		if se.StudyUID == studyUID {
			seriesUIDs = append(seriesUIDs, uid)
		}
	}
	for _, seUID := range seriesUIDs {
		for uid, inst := range s.instances {
			if inst.SeriesUID == seUID {
				delete(s.instances, uid)
			}
		}
		delete(s.series, seUID)
	}
	delete(s.studies, studyUID)
	return nil
}

func (s *MemoryStore) DeletePatient(ctx context.Context, patientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.studies {
		if st.PatientID == patientID {
			return errors.NewIndexError("delete_patient", errors.ErrPatientHasStudies)
		}
	}
	delete(s.patients, patientID)
	return nil
}

func (s *MemoryStore) CreateMPPS(ctx context.Context, m MPPS) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.mpps[m.MPPSUID]; ok {
		return errors.NewMPPSError(string(existing.State), string(MPPSInProgress))
	}
	if m.State == "" {
		m.State = MPPSInProgress
	}
	if m.Attributes == nil {
		m.Attributes = make(map[string]string)
	}
	s.mpps[m.MPPSUID] = m
	return nil
}

func (s *MemoryStore) UpdateMPPS(ctx context.Context, uid string, newState MPPSState, attributes map[string]string) error {
	var result error
	s.mu.RLock()
	studyUID := s.mpps[uid].StudyUID
	s.mu.RUnlock()
	s.locks.withStudyLock(studyUID, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		m, ok := s.mpps[uid]
		if !ok {
			result = errors.NewIndexError("update_mpps", errors.ErrNotFound)
			return
		}
		if m.State != MPPSInProgress || (newState != MPPSCompleted && newState != MPPSDiscontinued) {
			result = errors.NewMPPSError(string(m.State), string(newState))
			return
		}
		for k, v := range attributes {
			m.Attributes[k] = v
		}
		m.State = newState
		s.mpps[uid] = m
	})
	return result
}

func (s *MemoryStore) FindMPPS(ctx context.Context, uid string) (MPPS, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mpps[uid]
	return m, ok, nil
}

func (s *MemoryStore) UpsertWorklistStep(ctx context.Context, w WorklistStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worklist[w.StepID] = w
	return nil
}

func (s *MemoryStore) FindInstances(ctx context.Context, query types.QueryRequest) (Cursor[InstanceMatch], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []InstanceMatch
	for _, inst := range s.instances {
		se, ok := s.series[inst.SeriesUID]
		if !ok {
			continue
		}
		st, ok := s.studies[se.StudyUID]
		if !ok {
			continue
		}
		pa, ok := s.patients[st.PatientID]
		if !ok {
			continue
		}
		if !matchesQuery(query, pa, st, se, inst) {
			continue
		}
		matches = append(matches, InstanceMatch{Patient: pa, Study: st, Series: se, Instance: inst})
	}

	sort.Slice(matches, func(i, j int) bool {
		return primaryUID(query.Level, matches[i]) < primaryUID(query.Level, matches[j])
	})

	return newSliceCursor(matches), nil
}

func primaryUID(level types.QueryLevel, m InstanceMatch) string {
	switch level {
	case types.QueryLevelPatient:
		return m.Patient.PatientID
	case types.QueryLevelStudy:
		return m.Study.StudyUID
	case types.QueryLevelSeries:
		return m.Series.SeriesUID
	default:
		return m.Instance.SOPInstanceUID
	}
}

func matchesQuery(q types.QueryRequest, pa Patient, st Study, se Series, inst Instance) bool {
	checks := []struct {
		query, stored string
		isRange       bool
	}{
		{q.PatientID, pa.PatientID, false},
		{q.PatientName, pa.Name, false},
		{q.PatientBirthDate, pa.BirthDate, true},
		{q.PatientSex, pa.Sex, false},
		{q.StudyInstanceUID, st.StudyUID, false},
		{q.AccessionNumber, st.Accession, false},
		{q.StudyDate, st.StudyDate, true},
		{q.StudyTime, st.StudyTime, true},
		{q.StudyDescription, st.Description, false},
		{q.ReferringPhysician, st.ReferringPhysician, false},
		{q.Modality, se.Modality, false},
		{q.SeriesInstanceUID, se.SeriesUID, false},
		{q.SeriesNumber, se.Number, false},
		{q.SeriesDescription, se.Description, false},
		{q.SOPInstanceUID, inst.SOPInstanceUID, false},
		{q.InstanceNumber, inst.InstanceNumber, false},
	}
	for _, c := range checks {
		if c.query == "" {
			continue
		}
		if c.isRange && isRangeField(c.query) {
			if !matchRange(c.query, c.stored) {
				return false
			}
			continue
		}
		if !matchField(c.query, c.stored) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) WorklistSearch(ctx context.Context, filter WorklistFilter) (Cursor[WorklistStep], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []WorklistStep
	for _, w := range s.worklist {
		if !matchField(filter.PatientID, w.PatientID) {
			continue
		}
		if !matchField(filter.PatientName, w.PatientName) {
			continue
		}
		if !matchField(filter.Accession, w.Accession) {
			continue
		}
		if filter.ScheduledDate != "" {
			if isRangeField(filter.ScheduledDate) {
				if !matchRange(filter.ScheduledDate, w.ScheduledDT) {
					continue
				}
			} else if !matchField(filter.ScheduledDate, w.ScheduledDT) {
				continue
			}
		}
		if !matchField(filter.StationAE, w.StationAE) {
			continue
		}
		if !matchField(filter.Modality, w.Modality) {
			continue
		}
		if !matchField(filter.ReferringPhysician, w.ReferringPhysician) {
			continue
		}
		matches = append(matches, w)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].StepID < matches[j].StepID })
	return newSliceCursor(matches), nil
}
