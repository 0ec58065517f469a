// Package gormstore implements index.Store on top of GORM, so the
// relational schema spec.md's index database names (patients, studies,
// series, instances, mpps, worklist) is backed by a real SQL database
// instead of the in-process reference maps in the index package. The
// sqlite and postgres packages each open a *gorm.DB against their own
// driver and hand it to New; the model and query logic here is shared.
package gormstore

import (
	"encoding/json"
	"time"
)

// PatientRow is the patients table.
type PatientRow struct {
	PatientID string `gorm:"primaryKey"`
	Name      string
	BirthDate string
	Sex       string
}

// StudyRow is the studies table, foreign-keyed to PatientRow.
type StudyRow struct {
	StudyUID           string `gorm:"primaryKey"`
	PatientID          string `gorm:"index;not null"`
	Accession          string `gorm:"index"`
	StudyDate          string `gorm:"index"`
	StudyTime          string
	ReferringPhysician string
	Description        string
}

// SeriesRow is the series table, foreign-keyed to StudyRow.
type SeriesRow struct {
	SeriesUID   string `gorm:"primaryKey"`
	StudyUID    string `gorm:"index;not null"`
	Modality    string `gorm:"index"`
	Number      string
	Description string
	BodyPart    string
	Station     string
}

// InstanceRow is the instances table, foreign-keyed to SeriesRow.
type InstanceRow struct {
	SOPInstanceUID    string `gorm:"primaryKey"`
	SeriesUID         string `gorm:"index;not null"`
	SOPClassUID       string
	Path              string
	Size              int64
	TransferSyntaxUID string
	InstanceNumber    string
}

// MPPSRow is the mpps table. Attributes is stored as a JSON blob since
// its key set is open-ended (whatever N-CREATE/N-SET submitted).
type MPPSRow struct {
	MPPSUID        string `gorm:"primaryKey"`
	Station        string
	Modality       string
	StudyUID       string `gorm:"index"`
	Accession      string
	StartDT        string
	State          string
	AttributesJSON string
	UpdatedAt      time.Time
}

func (r MPPSRow) attributes() map[string]string {
	if r.AttributesJSON == "" {
		return map[string]string{}
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(r.AttributesJSON), &m); err != nil {
		return map[string]string{}
	}
	return m
}

func encodeAttributes(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

// WorklistRow is the worklist table (scheduled procedure steps).
type WorklistRow struct {
	StepID               string `gorm:"primaryKey"`
	PatientID            string `gorm:"index"`
	PatientName          string
	BirthDate            string
	Sex                  string
	Accession            string `gorm:"index"`
	RequestedProcID      string
	StudyUID             string
	ScheduledDT          string `gorm:"index"`
	StationAE            string `gorm:"index"`
	StationName          string
	Modality             string `gorm:"index"`
	ProcedureDescription string
	ReferringPhysician   string
	ReferringPhysicianID string
}

// AllModels lists every row type, for AutoMigrate callers that don't use
// golang-migrate (the sqlite embedded tier).
var AllModels = []any{
	&PatientRow{}, &StudyRow{}, &SeriesRow{}, &InstanceRow{}, &MPPSRow{}, &WorklistRow{},
}
