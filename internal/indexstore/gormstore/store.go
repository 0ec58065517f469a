package gormstore

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/dicomnet/dicomnet/errors"
	"github.com/dicomnet/dicomnet/index"
	"github.com/dicomnet/dicomnet/types"
)

// Store is an index.Store backed by a *gorm.DB. Every multi-row mutation
// (cascading delete, MPPS transition) runs inside db.Transaction, so a
// reader using a separate connection never observes a half-written
// change, matching the in-memory reference store's snapshot-isolation
// contract.
type Store struct {
	db *gorm.DB
}

// New wraps an already-opened, already-migrated *gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) UpsertPatient(ctx context.Context, p index.Patient) error {
	row := PatientRow{PatientID: p.PatientID, Name: p.Name, BirthDate: p.BirthDate, Sex: p.Sex}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) UpsertStudy(ctx context.Context, st index.Study) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&PatientRow{}).Where("patient_id = ?", st.PatientID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errors.NewIndexError("upsert_study", errors.ErrNotFound)
		}
		row := StudyRow{
			StudyUID: st.StudyUID, PatientID: st.PatientID, Accession: st.Accession,
			StudyDate: st.StudyDate, StudyTime: st.StudyTime,
			ReferringPhysician: st.ReferringPhysician, Description: st.Description,
		}
		return tx.Save(&row).Error
	})
}

func (s *Store) UpsertSeries(ctx context.Context, se index.Series) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&StudyRow{}).Where("study_uid = ?", se.StudyUID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errors.NewIndexError("upsert_series", errors.ErrNotFound)
		}
		row := SeriesRow{
			SeriesUID: se.SeriesUID, StudyUID: se.StudyUID, Modality: se.Modality,
			Number: se.Number, Description: se.Description, BodyPart: se.BodyPart, Station: se.Station,
		}
		return tx.Save(&row).Error
	})
}

func (s *Store) UpsertInstance(ctx context.Context, i index.Instance) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&SeriesRow{}).Where("series_uid = ?", i.SeriesUID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errors.NewIndexError("upsert_instance", errors.ErrNotFound)
		}
		row := InstanceRow{
			SOPInstanceUID: i.SOPInstanceUID, SeriesUID: i.SeriesUID, SOPClassUID: i.SOPClassUID,
			Path: i.Path, Size: i.Size, TransferSyntaxUID: i.TransferSyntaxUID, InstanceNumber: i.InstanceNumber,
		}
		return tx.Save(&row).Error
	})
}

func (s *Store) DeleteStudy(ctx context.Context, studyUID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seriesUIDs []string
		if err := tx.Model(&SeriesRow{}).Where("study_uid = ?", studyUID).Pluck("series_uid", &seriesUIDs).Error; err != nil {
			return err
		}
		if len(seriesUIDs) > 0 {
			if err := tx.Where("series_uid IN ?", seriesUIDs).Delete(&InstanceRow{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("study_uid = ?", studyUID).Delete(&SeriesRow{}).Error; err != nil {
			return err
		}
		return tx.Where("study_uid = ?", studyUID).Delete(&StudyRow{}).Error
	})
}

func (s *Store) DeletePatient(ctx context.Context, patientID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&StudyRow{}).Where("patient_id = ?", patientID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errors.NewIndexError("delete_patient", errors.ErrPatientHasStudies)
		}
		return tx.Where("patient_id = ?", patientID).Delete(&PatientRow{}).Error
	})
}

func (s *Store) CreateMPPS(ctx context.Context, m index.MPPS) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&MPPSRow{}).Where("mppsuid = ?", m.MPPSUID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errors.NewMPPSError("", string(index.MPPSInProgress))
		}
		state := m.State
		if state == "" {
			state = index.MPPSInProgress
		}
		row := MPPSRow{
			MPPSUID: m.MPPSUID, Station: m.Station, Modality: m.Modality, StudyUID: m.StudyUID,
			Accession: m.Accession, StartDT: m.StartDT, State: string(state),
			AttributesJSON: encodeAttributes(m.Attributes),
		}
		return tx.Create(&row).Error
	})
}

func (s *Store) UpdateMPPS(ctx context.Context, uid string, newState index.MPPSState, attributes map[string]string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row MPPSRow
		if err := tx.Where("mppsuid = ?", uid).First(&row).Error; err != nil {
			return errors.NewIndexError("update_mpps", errors.ErrNotFound)
		}
		if row.State != string(index.MPPSInProgress) ||
			(newState != index.MPPSCompleted && newState != index.MPPSDiscontinued) {
			return errors.NewMPPSError(row.State, string(newState))
		}
		merged := row.attributes()
		for k, v := range attributes {
			merged[k] = v
		}
		row.State = string(newState)
		row.AttributesJSON = encodeAttributes(merged)
		return tx.Save(&row).Error
	})
}

func (s *Store) FindMPPS(ctx context.Context, uid string) (index.MPPS, bool, error) {
	var row MPPSRow
	err := s.db.WithContext(ctx).Where("mppsuid = ?", uid).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return index.MPPS{}, false, nil
	}
	if err != nil {
		return index.MPPS{}, false, err
	}
	return index.MPPS{
		MPPSUID: row.MPPSUID, Station: row.Station, Modality: row.Modality, StudyUID: row.StudyUID,
		Accession: row.Accession, StartDT: row.StartDT, State: index.MPPSState(row.State),
		Attributes: row.attributes(), UpdatedAt: row.UpdatedAt,
	}, true, nil
}

func (s *Store) UpsertWorklistStep(ctx context.Context, w index.WorklistStep) error {
	row := WorklistRow{
		StepID: w.StepID, PatientID: w.PatientID, PatientName: w.PatientName, BirthDate: w.BirthDate,
		Sex: w.Sex, Accession: w.Accession, RequestedProcID: w.RequestedProcID, StudyUID: w.StudyUID,
		ScheduledDT: w.ScheduledDT, StationAE: w.StationAE, StationName: w.StationName, Modality: w.Modality,
		ProcedureDescription: w.ProcedureDescription, ReferringPhysician: w.ReferringPhysician,
		ReferringPhysicianID: w.ReferringPhysicianID,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// FindInstances joins patients/studies/series/instances in a single
// query with no filter predicates, then filters every joined row in
// process with index.MatchesQuery (the same exact, wildcard and range
// rules the in-memory store applies) and sorts the matches by level.
func (s *Store) FindInstances(ctx context.Context, query types.QueryRequest) (index.Cursor[index.InstanceMatch], error) {
	db := s.db.WithContext(ctx).
		Table("instance_rows").
		Joins("JOIN series_rows ON series_rows.series_uid = instance_rows.series_uid").
		Joins("JOIN study_rows ON study_rows.study_uid = series_rows.study_uid").
		Joins("JOIN patient_rows ON patient_rows.patient_id = study_rows.patient_id")

	type joined struct {
		PatientID          string
		Name               string
		BirthDate          string
		Sex                string
		StudyUID           string
		Accession          string
		StudyDate          string
		StudyTime          string
		ReferringPhysician string
		StudyDescription   string
		SeriesUID          string
		Modality           string
		SeriesNumber       string
		SeriesDescription  string
		BodyPart           string
		Station            string
		SOPInstanceUID     string
		SOPClassUID        string
		Path               string
		Size               int64
		TransferSyntaxUID  string
		InstanceNumber     string
	}

	var rows []joined
	selectCols := strings.Join([]string{
		"patient_rows.patient_id AS patient_id", "patient_rows.name AS name",
		"patient_rows.birth_date AS birth_date", "patient_rows.sex AS sex",
		"study_rows.study_uid AS study_uid", "study_rows.accession AS accession",
		"study_rows.study_date AS study_date", "study_rows.study_time AS study_time",
		"study_rows.referring_physician AS referring_physician",
		"study_rows.description AS study_description",
		"series_rows.series_uid AS series_uid", "series_rows.modality AS modality",
		"series_rows.number AS series_number", "series_rows.description AS series_description",
		"series_rows.body_part AS body_part", "series_rows.station AS station",
		"instance_rows.sop_instance_uid AS sop_instance_uid", "instance_rows.sop_class_uid AS sop_class_uid",
		"instance_rows.path AS path", "instance_rows.size AS size",
		"instance_rows.transfer_syntax_uid AS transfer_syntax_uid",
		"instance_rows.instance_number AS instance_number",
	}, ", ")
	if err := db.Select(selectCols).Find(&rows).Error; err != nil {
		return nil, err
	}

	var matches []index.InstanceMatch
	for _, r := range rows {
		pa := index.Patient{PatientID: r.PatientID, Name: r.Name, BirthDate: r.BirthDate, Sex: r.Sex}
		st := index.Study{
			StudyUID: r.StudyUID, PatientID: r.PatientID, Accession: r.Accession, StudyDate: r.StudyDate,
			StudyTime: r.StudyTime, ReferringPhysician: r.ReferringPhysician, Description: r.StudyDescription,
		}
		se := index.Series{
			SeriesUID: r.SeriesUID, StudyUID: r.StudyUID, Modality: r.Modality, Number: r.SeriesNumber,
			Description: r.SeriesDescription, BodyPart: r.BodyPart, Station: r.Station,
		}
		inst := index.Instance{
			SOPInstanceUID: r.SOPInstanceUID, SeriesUID: r.SeriesUID, SOPClassUID: r.SOPClassUID,
			Path: r.Path, Size: r.Size, TransferSyntaxUID: r.TransferSyntaxUID, InstanceNumber: r.InstanceNumber,
		}
		if index.MatchesQuery(query, pa, st, se, inst) {
			matches = append(matches, index.InstanceMatch{Patient: pa, Study: st, Series: se, Instance: inst})
		}
	}

	index.SortInstanceMatches(query.Level, matches)
	return index.NewSliceCursor(matches), nil
}

func (s *Store) WorklistSearch(ctx context.Context, filter index.WorklistFilter) (index.Cursor[index.WorklistStep], error) {
	var rows []WorklistRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	var steps []index.WorklistStep
	for _, r := range rows {
		steps = append(steps, index.WorklistStep{
			StepID: r.StepID, PatientID: r.PatientID, PatientName: r.PatientName, BirthDate: r.BirthDate,
			Sex: r.Sex, Accession: r.Accession, RequestedProcID: r.RequestedProcID, StudyUID: r.StudyUID,
			ScheduledDT: r.ScheduledDT, StationAE: r.StationAE, StationName: r.StationName, Modality: r.Modality,
			ProcedureDescription: r.ProcedureDescription, ReferringPhysician: r.ReferringPhysician,
			ReferringPhysicianID: r.ReferringPhysicianID,
		})
	}
	steps = index.FilterWorklist(filter, steps)
	return index.NewSliceCursor(steps), nil
}
